// Package wire implements the fixed-width frame codec and command dispatch:
// a 13 x 32-bit word frame (request_id, status, command, 10 operands),
// marshaled with rasky/go-xdr the same way any fixed-width RPC structure is
// encoded over XDR.
package wire

import (
	"bytes"
	"fmt"

	xdr "github.com/rasky/go-xdr/xdr2"

	"github.com/hyperbridge/dmabridge/pkg/bridgeerr"
	"github.com/hyperbridge/dmabridge/pkg/bufpool"
)

// NumOperands is the operand word count a Frame carries: offsets 3..12 of
// the 13-word frame, i.e. operands[0..9].
const NumOperands = 10

// frameByteSize is the exact marshaled size of a Frame: 3 header words plus
// NumOperands operand words, each 4 bytes.
const frameByteSize = (3 + NumOperands) * 4

// Command identifies a wire message.
type Command uint32

const (
	CommandUnknown Command = iota
	CommandExport
	CommandNotifyUnexport
	CommandExportFd
	CommandExportFdFailed
	CommandOpsToSource
	// CommandOpsToRemote is reserved; confirmed dead in original_source too
	// Recognized on the wire, never dispatched.
	CommandOpsToRemote
)

func (c Command) String() string {
	switch c {
	case CommandExport:
		return "EXPORT"
	case CommandNotifyUnexport:
		return "NOTIFY_UNEXPORT"
	case CommandExportFd:
		return "EXPORT_FD"
	case CommandExportFdFailed:
		return "EXPORT_FD_FAILED"
	case CommandOpsToSource:
		return "OPS_TO_SOURCE"
	case CommandOpsToRemote:
		return "OPS_TO_REMOTE"
	default:
		return "UNKNOWN"
	}
}

// Status is the response status stamped into a Frame's Status word.
type Status uint32

const (
	StatusNotResponded Status = iota
	StatusProcessed
	StatusNeedsFollowUp // reserved
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusProcessed:
		return "PROCESSED"
	case StatusNeedsFollowUp:
		return "NEEDS_FOLLOW_UP"
	case StatusError:
		return "ERROR"
	default:
		return "NOT_RESPONDED"
	}
}

// OpCode is the shadow-op forwarded by OPS_TO_SOURCE.
type OpCode uint32

const (
	OpUnknown OpCode = iota
	OpAttach
	OpDetach
	OpMap
	OpUnmap
	OpRelease
	OpBeginCPUAccess
	OpEndCPUAccess
	OpKmap
	OpKunmap
	OpKmapAtomic
	OpKunmapAtomic
	OpMmap // unsupported, warns
	OpVmap
	OpVunmap
)

func (o OpCode) String() string {
	names := map[OpCode]string{
		OpAttach: "ATTACH", OpDetach: "DETACH", OpMap: "MAP", OpUnmap: "UNMAP",
		OpRelease: "RELEASE", OpBeginCPUAccess: "BEGIN_CPU_ACCESS", OpEndCPUAccess: "END_CPU_ACCESS",
		OpKmap: "KMAP", OpKunmap: "KUNMAP", OpKmapAtomic: "KMAP_ATOMIC",
		OpKunmapAtomic: "KUNMAP_ATOMIC", OpMmap: "MMAP", OpVmap: "VMAP", OpVunmap: "VUNMAP",
	}
	if n, ok := names[o]; ok {
		return n
	}
	return "UNKNOWN_OP"
}

// Frame is the exact wire layout: 13 x 32-bit words, which Marshal encodes
// big-endian as XDR does. RequestID/Status/Command occupy the first three
// words, Operands the remaining ten.
type Frame struct {
	RequestID uint32
	Status    uint32
	Command   uint32
	Operands  [NumOperands]uint32
}

// Marshal encodes f as the fixed 13-word XDR frame. Every frame is the
// same small fixed size, so the scratch buffer xdr writes into comes from
// bufpool's small size class instead of a fresh allocation per call; the
// caller gets back its own copy, so the pooled buffer is safe to return
// before Marshal even returns.
func Marshal(f Frame) ([]byte, error) {
	scratch := bufpool.Get(frameByteSize)
	defer bufpool.Put(scratch)

	w := bytes.NewBuffer(scratch[:0])
	if _, err := xdr.Marshal(w, f); err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.BadArg, err, "marshal wire frame")
	}
	out := make([]byte, w.Len())
	copy(out, w.Bytes())
	return out, nil
}

// Unmarshal decodes a fixed 13-word XDR frame from data.
func Unmarshal(data []byte) (Frame, error) {
	var f Frame
	if _, err := xdr.Unmarshal(bytes.NewReader(data), &f); err != nil {
		return Frame{}, bridgeerr.Wrap(bridgeerr.BadArg, err, "unmarshal wire frame")
	}
	return f, nil
}

// EncodeExport builds the EXPORT frame operand layout:
// op[0..3]=handle, op[4]=nents, op[5]=first_offset, op[6]=last_length,
// op[7]=share_handle. op[8..9] are reserved/zero: the up-to-32-byte priv
// blob does not fit in the two remaining operand words, so it travels
// out-of-band in the directory-published bootstrap entry instead.
func EncodeExport(requestID uint32, handleID uint32, key [3]uint32, nents, firstOffset, lastLength, shareHandle uint32) Frame {
	f := Frame{RequestID: requestID, Status: uint32(StatusNotResponded), Command: uint32(CommandExport)}
	f.Operands[0] = handleID
	f.Operands[1] = key[0]
	f.Operands[2] = key[1]
	f.Operands[3] = key[2]
	f.Operands[4] = nents
	f.Operands[5] = firstOffset
	f.Operands[6] = lastLength
	f.Operands[7] = shareHandle
	return f
}

// DecodeHandle extracts the handle words common to every frame referencing
// a buffer (operands 0..3).
func DecodeHandle(f Frame) (id uint32, key [3]uint32) {
	return f.Operands[0], [3]uint32{f.Operands[1], f.Operands[2], f.Operands[3]}
}

// EncodeOpsToSource builds an OPS_TO_SOURCE frame: op[0..3]=handle, op[4]=op_code.
func EncodeOpsToSource(requestID uint32, handleID uint32, key [3]uint32, op OpCode) Frame {
	f := Frame{RequestID: requestID, Status: uint32(StatusNotResponded), Command: uint32(CommandOpsToSource)}
	f.Operands[0] = handleID
	f.Operands[1] = key[0]
	f.Operands[2] = key[1]
	f.Operands[3] = key[2]
	f.Operands[4] = uint32(op)
	return f
}

// EncodeNotifyUnexport builds a NOTIFY_UNEXPORT frame: op[0..3]=handle.
func EncodeNotifyUnexport(requestID uint32, handleID uint32, key [3]uint32) Frame {
	f := Frame{RequestID: requestID, Status: uint32(StatusNotResponded), Command: uint32(CommandNotifyUnexport)}
	f.Operands[0] = handleID
	f.Operands[1] = key[0]
	f.Operands[2] = key[1]
	f.Operands[3] = key[2]
	return f
}

// EncodeExportFd builds an EXPORT_FD (or EXPORT_FD_FAILED) frame.
func EncodeExportFd(requestID uint32, handleID uint32, key [3]uint32, failed bool) Frame {
	cmd := CommandExportFd
	if failed {
		cmd = CommandExportFdFailed
	}
	f := Frame{RequestID: requestID, Status: uint32(StatusNotResponded), Command: uint32(cmd)}
	f.Operands[0] = handleID
	f.Operands[1] = key[0]
	f.Operands[2] = key[1]
	f.Operands[3] = key[2]
	return f
}

// String renders a Frame for log lines.
func (f Frame) String() string {
	return fmt.Sprintf("frame{req=%d cmd=%s status=%s ops=%v}", f.RequestID, Command(f.Command), Status(f.Status), f.Operands)
}
