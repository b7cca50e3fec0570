// Package service implements the control surface (component J): the
// ioctl-equivalent verbs (TxChSetup/RxChSetup/ExportRemote/ExportFd/Unexport/
// Query/Shutdown), the state machine driving them, and the
// transport.Dispatcher that answers inbound EXPORT/EXPORT_FD/
// EXPORT_FD_FAILED/NOTIFY_UNEXPORT/OPS_TO_SOURCE frames.
package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hyperbridge/dmabridge/internal/logger"
	"github.com/hyperbridge/dmabridge/pkg/bridgeerr"
	"github.com/hyperbridge/dmabridge/pkg/directory"
	"github.com/hyperbridge/dmabridge/pkg/handle"
	"github.com/hyperbridge/dmabridge/pkg/localbuffer"
	"github.com/hyperbridge/dmabridge/pkg/registry"
	"github.com/hyperbridge/dmabridge/pkg/remotesync"
	"github.com/hyperbridge/dmabridge/pkg/session"
	"github.com/hyperbridge/dmabridge/pkg/shadow"
	"github.com/hyperbridge/dmabridge/pkg/shareengine"
	"github.com/hyperbridge/dmabridge/pkg/transport"
	"github.com/hyperbridge/dmabridge/pkg/wire"
)

// MaxPrivBytes bounds the caller-supplied private data blob ExportRemote
// stashes for the importer to read back via Query(PRIV_COPY); it must fit
// the directory's out-of-band bootstrap payload (pkg/directory.Bootstrap).
const MaxPrivBytes = 32

// Deps collects every collaborator Service needs. The daemon constructs
// each one and wires them together via New, then AttachTransport once the
// ring transport itself has been constructed with this Service as its
// Dispatcher.
type Deps struct {
	SelfVM    uint32
	Handles   *handle.Allocator
	Engine    shareengine.Engine
	Exported  *registry.ExportedRegistry
	Imported  *registry.ImportedRegistry
	Provider  localbuffer.Provider
	Directory directory.Directory
	Sessions  *session.Registry
	Metrics   Metrics
	// RemoteSyncMetrics is passed straight through to remotesync.NewHandler;
	// it is a separate interface (pkg/remotesync.Metrics) since remote-sync's
	// op-replay counters are a distinct concern from the control surface's
	// verb counters.
	RemoteSyncMetrics remotesync.Metrics
}

// Service is the control surface: it owns no state a registry, allocator,
// or transport doesn't already own, it just sequences calls across them per
// verb and answers inbound frames.
type Service struct {
	selfVM uint32

	handles   *handle.Allocator
	engine    shareengine.Engine
	exported  *registry.ExportedRegistry
	imported  *registry.ImportedRegistry
	provider  localbuffer.Provider
	directory directory.Directory
	sessions  *session.Registry
	metrics   Metrics

	remoteSync *remotesync.Handler
	transport  Ring

	nextReqID atomic.Uint32

	mu            sync.Mutex
	bufs          map[localbuffer.Ref]localbuffer.Buffer
	shadows       map[handle.Handle]*shadow.Buffer
	shadowFds     *localbuffer.MemProvider
}

var _ remotesync.BufferResolver = (*Service)(nil)
var _ transport.Dispatcher = (*Service)(nil)
var _ Ring = (*transport.Transport)(nil)

// Ring is the peer-connectivity surface Service depends on: establish a
// peer link, send a frame over it, tear it down. pkg/transport.Transport
// (the in-process ring simulation used by tests and by the daemon's default
// "shm" backend) and pkg/transport/grpctransport.Transport (the real
// cross-process backend, two hyperdmabufd processes exchanging frames over
// a bidirectional gRPC stream) both satisfy it, so AttachTransport can wire
// either one in depending on pkg/config's transport.backend setting.
type Ring interface {
	Send(ctx context.Context, peerVM uint32, f wire.Frame, wait bool) (wire.Frame, error)
	EnsurePeer(peerVM uint32)
	RemovePeer(peerVM uint32)
	Close()
}

// New constructs a Service over deps. Call AttachTransport before issuing
// any verb that sends a frame.
func New(deps Deps) *Service {
	s := &Service{
		selfVM:    deps.SelfVM,
		handles:   deps.Handles,
		engine:    deps.Engine,
		exported:  deps.Exported,
		imported:  deps.Imported,
		provider:  deps.Provider,
		directory: deps.Directory,
		sessions:  deps.Sessions,
		metrics:   deps.Metrics,
		bufs:      make(map[localbuffer.Ref]localbuffer.Buffer),
		shadows:   make(map[handle.Handle]*shadow.Buffer),
		shadowFds: localbuffer.NewMemProvider(),
	}
	s.remoteSync = remotesync.NewHandler(deps.Exported, deps.Engine, deps.Handles, s, deps.RemoteSyncMetrics)
	if deps.Sessions != nil {
		deps.Sessions.OnClose(s.onSessionClose)
	}
	return s
}

// AttachTransport wires tp as this Service's ring transport. tp must have
// been constructed with this same Service as its Dispatcher (e.g.
// transport.New(selfVM, svc, ...) or grpctransport.New(selfVM, svc, ...))
// — the two depend on each other, so wiring is a two-step dance rather
// than a single constructor call.
func (s *Service) AttachTransport(tp Ring) {
	s.transport = tp
}

// WatchDirectory runs until ctx is canceled, adding or tearing down peer
// rings as this VM's peer subtree is published to or removed from. A
// republish (peer restarted with a fresh grant_ref/event_port) tears the old
// ring down and rebuilds it rather than reusing a link to a ring that no
// longer exists on the other side.
func (s *Service) WatchDirectory(ctx context.Context) error {
	return s.directory.Watch(ctx, s.selfVM, func(ev directory.Event) {
		s.transport.RemovePeer(ev.PeerVM)
		if !ev.Removed {
			s.transport.EnsurePeer(ev.PeerVM)
		}
	})
}

func (s *Service) nextRequestID() uint32 {
	return s.nextReqID.Add(1)
}

func (s *Service) registerBuf(buf localbuffer.Buffer) {
	s.mu.Lock()
	s.bufs[buf.Ref()] = buf
	s.mu.Unlock()
}

func (s *Service) unregisterBuf(ref localbuffer.Ref) {
	s.mu.Lock()
	delete(s.bufs, ref)
	s.mu.Unlock()
}

// Resolve implements remotesync.BufferResolver, mapping an ExportedEntry's
// LocalBuf reference back to the live buffer the remote-sync handler
// replays ops against.
func (s *Service) Resolve(ref localbuffer.Ref) (localbuffer.Buffer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf, ok := s.bufs[ref]
	if !ok {
		return nil, bridgeerr.New(bridgeerr.NotFound, "unknown local buffer")
	}
	return buf, nil
}

// Dispatch implements transport.Dispatcher for every inbound command except
// EXPORT, which the transport routes to DispatchExport instead.
func (s *Service) Dispatch(peerVM uint32, f wire.Frame) wire.Frame {
	switch wire.Command(f.Command) {
	case wire.CommandExportFd:
		return s.handleExportFd(f)
	case wire.CommandExportFdFailed:
		return s.handleExportFdFailed(f)
	case wire.CommandNotifyUnexport:
		return s.handleNotifyUnexport(f)
	case wire.CommandOpsToSource:
		return s.remoteSync.HandleOpsToSource(f)
	default:
		logger.Warn("service: dispatch received unexpected command",
			logger.Command(wire.Command(f.Command).String()), logger.PeerVM(peerVM))
		return errResp(f)
	}
}

// DispatchExport implements transport.Dispatcher's EXPORT path, queued by
// the transport's worker pool since constructing an ImportedEntry may touch
// the directory.
func (s *Service) DispatchExport(peerVM uint32, f wire.Frame) {
	s.handleExport(peerVM, f)
}

func errResp(f wire.Frame) wire.Frame {
	r := f
	r.Status = uint32(wire.StatusError)
	return r
}

func okResp(f wire.Frame) wire.Frame {
	r := f
	r.Status = uint32(wire.StatusProcessed)
	return r
}

func delayedCall(delayMs int, fn func()) *time.Timer {
	return time.AfterFunc(time.Duration(delayMs)*time.Millisecond, fn)
}
