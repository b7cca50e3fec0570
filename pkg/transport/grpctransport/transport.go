// Package grpctransport is the dev/CI ring backend: two hyperdmabufd
// processes on one host, with no hypervisor and no shared page between
// them, exchange wire.Frame bytes over a bidirectional gRPC stream instead.
// It satisfies the same service.Ring surface as pkg/transport, so a daemon
// wires whichever one pkg/config's transport.backend setting names.
//
// There is no protobuf schema here: a frame is already a fixed-width binary
// blob (pkg/wire.Marshal), so the stream is forced onto a custom
// google.golang.org/grpc/encoding.Codec (frameCodec, in codec.go) that
// passes those bytes straight through rather than re-encoding them as a
// protobuf message.
package grpctransport

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"

	"github.com/hyperbridge/dmabridge/internal/logger"
	"github.com/hyperbridge/dmabridge/pkg/bridgeerr"
	"github.com/hyperbridge/dmabridge/pkg/transport"
	"github.com/hyperbridge/dmabridge/pkg/wire"
)

func init() {
	encoding.RegisterCodec(frameCodec{})
}

const (
	serviceName    = "hyperdmabuf.Ring"
	exchangeMethod = "Exchange"
)

// serviceDesc is the hand-built grpc.ServiceDesc every Transport registers
// on its server: a single bidi-streaming method, Exchange, carrying one
// rawFrame per message in each direction. Nothing here is generated by
// protoc — grpc-go only needs a StreamHandler, not a .pb.go file, to serve
// a streaming RPC.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*any)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    exchangeMethod,
			Handler:       exchangeHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "grpctransport.proto",
}

func exchangeHandler(srv any, stream grpc.ServerStream) error {
	return srv.(*Transport).serve(stream)
}

// AddrResolver looks up the dial address for a peer VM, grounded on
// models.Peer.TransportAddr via the control plane's PeerStore. Returning
// ok=false means no address is known yet (peer not registered, or
// registered with an empty address) and EnsurePeer should not dial.
type AddrResolver func(peerVM uint32) (addr string, ok bool)

// Transport is the gRPC implementation of service.Ring: one gRPC server
// accepting inbound streams from peers that dialed us, and one outbound
// client connection per peer we dial ourselves. Unlike pkg/transport.Transport
// a peer relationship here is directional at the wire level (whoever dials
// owns the net.Conn) but symmetric at the Ring level — Send works the same
// regardless of which side established the stream.
type Transport struct {
	selfVM      uint32
	dispatcher  transport.Dispatcher
	resolveAddr AddrResolver
	syncTimeout time.Duration
	workerPool  int
	metrics     transport.Metrics

	server   *grpc.Server
	listenOn string

	mu    sync.RWMutex
	links map[uint32]*link
}

// New constructs a Transport for selfVM. listenAddr is the address this
// VM's gRPC server binds (pkg/config's transport.grpc_addr); resolveAddr
// looks up a peer's dial address when EnsurePeer needs to establish an
// outbound connection.
func New(selfVM uint32, dispatcher transport.Dispatcher, listenAddr string, resolveAddr AddrResolver, syncTimeout time.Duration, workerPoolSize int, metrics transport.Metrics) *Transport {
	if workerPoolSize <= 0 {
		workerPoolSize = 4
	}
	return &Transport{
		selfVM:      selfVM,
		dispatcher:  dispatcher,
		resolveAddr: resolveAddr,
		syncTimeout: syncTimeout,
		workerPool:  workerPoolSize,
		metrics:     metrics,
		listenOn:    listenAddr,
		links:       make(map[uint32]*link),
	}
}

// Serve starts the gRPC server and blocks until ctx is canceled or the
// listener fails. Run it in its own goroutine; call Close (not cancel
// alone) to also tear down established peer links.
func (t *Transport) Serve(ctx context.Context) error {
	lis, err := net.Listen("tcp", t.listenOn)
	if err != nil {
		return bridgeerr.Wrap(bridgeerr.PeerDown, err, fmt.Sprintf("grpctransport: listen on %s", t.listenOn))
	}

	t.server = grpc.NewServer(grpc.ForceServerCodec(frameCodec{}))
	t.server.RegisterService(&serviceDesc, t)

	errCh := make(chan error, 1)
	go func() { errCh <- t.server.Serve(lis) }()

	select {
	case <-ctx.Done():
		t.server.GracefulStop()
		return nil
	case err := <-errCh:
		return err
	}
}

// serve handles one accepted Exchange stream: read the handshake frame to
// learn the dialing peer's VM id, then hand the stream to a link exactly
// as EnsurePeer's outbound path does, and block until the stream ends.
func (t *Transport) serve(stream grpc.ServerStream) error {
	hs := &rawFrame{}
	if err := stream.RecvMsg(hs); err != nil {
		return err
	}
	peerVM, ok := decodeHandshake(hs.data)
	if !ok {
		return fmt.Errorf("grpctransport: malformed handshake from accepted stream")
	}

	l := newLink(t.selfVM, peerVM, stream, t.dispatcher, t.syncTimeout, t.workerPool, t.metrics, nil)
	t.storeLink(peerVM, l)
	logger.Info("grpctransport: accepted peer stream", logger.PeerVM(peerVM))

	<-stream.Context().Done()
	l.Close()
	t.dropLink(peerVM, l)
	return stream.Context().Err()
}

func (t *Transport) storeLink(peerVM uint32, l *link) {
	t.mu.Lock()
	if old, ok := t.links[peerVM]; ok {
		old.Close()
	}
	t.links[peerVM] = l
	n := len(t.links)
	t.mu.Unlock()
	if t.metrics != nil {
		t.metrics.SetActiveLinks(n)
	}
}

func (t *Transport) dropLink(peerVM uint32, expect *link) {
	t.mu.Lock()
	if cur, ok := t.links[peerVM]; ok && cur == expect {
		delete(t.links, peerVM)
	}
	n := len(t.links)
	t.mu.Unlock()
	if t.metrics != nil {
		t.metrics.SetActiveLinks(n)
	}
}

// EnsurePeer dials peerVM if no link exists yet, using resolveAddr to learn
// its address. A peer this VM's server has already accepted a stream from
// needs no outbound dial, so this is a no-op in that case.
func (t *Transport) EnsurePeer(peerVM uint32) {
	t.mu.RLock()
	_, exists := t.links[peerVM]
	t.mu.RUnlock()
	if exists {
		return
	}

	addr, ok := t.resolveAddr(peerVM)
	if !ok {
		logger.Warn("grpctransport: no address known for peer, cannot dial", logger.PeerVM(peerVM))
		return
	}

	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(frameCodec{})),
	)
	if err != nil {
		logger.Error("grpctransport: dial failed", logger.PeerVM(peerVM), logger.Err(err))
		return
	}

	ctx := context.Background()
	stream, err := conn.NewStream(ctx, &serviceDesc.Streams[0], fmt.Sprintf("/%s/%s", serviceName, exchangeMethod))
	if err != nil {
		conn.Close()
		logger.Error("grpctransport: failed to open exchange stream", logger.PeerVM(peerVM), logger.Err(err))
		return
	}
	if err := stream.SendMsg(&rawFrame{data: encodeHandshake(t.selfVM)}); err != nil {
		conn.Close()
		logger.Error("grpctransport: handshake failed", logger.PeerVM(peerVM), logger.Err(err))
		return
	}

	l := newLink(t.selfVM, peerVM, stream, t.dispatcher, t.syncTimeout, t.workerPool, t.metrics, func() { conn.Close() })
	t.storeLink(peerVM, l)
	logger.Info("grpctransport: dialed peer", logger.PeerVM(peerVM), slog.String("addr", addr))
}

// RemovePeer tears down peerVM's link, whichever side established it.
func (t *Transport) RemovePeer(peerVM uint32) {
	t.mu.Lock()
	l, ok := t.links[peerVM]
	delete(t.links, peerVM)
	n := len(t.links)
	t.mu.Unlock()
	if ok {
		l.Close()
		logger.Info("grpctransport: peer link torn down", logger.PeerVM(peerVM))
		if t.metrics != nil {
			t.metrics.SetActiveLinks(n)
		}
	}
}

// Send implements service.Ring, publishing f to peerVM over its link.
func (t *Transport) Send(ctx context.Context, peerVM uint32, f wire.Frame, wait bool) (wire.Frame, error) {
	t.mu.RLock()
	l, ok := t.links[peerVM]
	t.mu.RUnlock()
	if !ok {
		return wire.Frame{}, bridgeerr.Newf(bridgeerr.PeerDown, "grpctransport: no link established for peer vm %d", peerVM)
	}
	return l.Send(ctx, f, wait)
}

// Peers lists the VMs with an established link, dialed or accepted.
func (t *Transport) Peers() []uint32 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]uint32, 0, len(t.links))
	for vm := range t.links {
		out = append(out, vm)
	}
	return out
}

// Close tears down every peer link and stops the gRPC server, if running.
func (t *Transport) Close() {
	t.mu.Lock()
	links := t.links
	t.links = make(map[uint32]*link)
	t.mu.Unlock()
	for _, l := range links {
		l.Close()
	}
	if t.metrics != nil {
		t.metrics.SetActiveLinks(0)
	}
	if t.server != nil {
		t.server.Stop()
	}
}
