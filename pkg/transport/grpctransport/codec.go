package grpctransport

import "fmt"

// codecName is the gRPC wire codec every connection in this package is
// forced to, on both the dial and listen sides (see EnsurePeer/Serve), bypassing
// protobuf entirely: the only payload this service ever carries is a
// pkg/wire.Frame already encoded to its fixed-size binary form, so there is
// nothing for a protobuf schema to describe.
const codecName = "hyperdmabuf-frame"

// rawFrame is the sole message type exchanged over the Exchange stream: the
// bytes pkg/wire.Marshal produced for one frame. It exists only so
// frameCodec's type assertion has something concrete to assert against —
// passing []byte directly through grpc's codec interface isn't ambiguous,
// but wrapping it keeps this package's intent (a frame, not an arbitrary
// byte slice) visible at the call sites that construct one.
type rawFrame struct {
	data []byte
}

// frameCodec implements google.golang.org/grpc/encoding.Codec over rawFrame,
// registered globally by init() and forced on every client and server
// connection via grpc.ForceCodec so gRPC never attempts to interpret a
// frame as protobuf.
type frameCodec struct{}

func (frameCodec) Name() string { return codecName }

func (frameCodec) Marshal(v any) ([]byte, error) {
	f, ok := v.(*rawFrame)
	if !ok {
		return nil, fmt.Errorf("grpctransport: codec given unexpected type %T", v)
	}
	return f.data, nil
}

func (frameCodec) Unmarshal(data []byte, v any) error {
	f, ok := v.(*rawFrame)
	if !ok {
		return fmt.Errorf("grpctransport: codec given unexpected type %T", v)
	}
	f.data = append([]byte(nil), data...)
	return nil
}
