// Package transport implements the bidirectional ring/notification layer
// component D describes: one producer ring and one consumer ring per peer
// VM, a per-ring mutex serializing sends, and an ISR-style dispatch loop
// that either answers inline or hands EXPORT off to a worker pool. The ring
// itself is simulated as a pair of Go channels standing in for the shared
// page two VMs would otherwise poke with memory-barriered index writes —
// the request_id correlation and single-outstanding-sync-request discipline
// is what actually matters, and that discipline is implemented exactly.
package transport

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hyperbridge/dmabridge/internal/logger"
	"github.com/hyperbridge/dmabridge/pkg/bridgeerr"
	"github.com/hyperbridge/dmabridge/pkg/wire"
)

// Dispatcher binds incoming request frames to the message codec/verb layer
// (components E/J). Dispatch handles a command inline on the ISR goroutine
// (EXPORT_FD, EXPORT_FD_FAILED, NOTIFY_UNEXPORT, OPS_TO_SOURCE) and
// returns its response frame. DispatchExport is handed EXPORT
// frames instead, queued to a worker pool rather than processed inline,
// since constructing an ImportedBuffer may block on page mapping.
type Dispatcher interface {
	Dispatch(peerVM uint32, f wire.Frame) wire.Frame
	DispatchExport(peerVM uint32, f wire.Frame)
}

// ringSlots bounds the simulated ring: a page-size-derived slot count
// doesn't apply to a channel-backed ring, but a bounded channel still gives
// the backpressure a fixed power-of-two slot ring would.
const ringSlots = 256

// Link is one peer VM's ring pair: an outbox this VM publishes to and an
// inbox it consumes from. One Link exists per peer.
type Link struct {
	selfVM, peerVM uint32

	outbox chan wire.Frame
	inbox  chan wire.Frame

	sendMu    sync.Mutex // serializes producers; held across a sync wait so only one synchronous request is ever outstanding on this ring
	nextReqID atomic.Uint32

	pendingMu sync.Mutex
	pending   map[uint32]chan wire.Frame

	dispatcher  Dispatcher
	syncTimeout time.Duration
	workers     chan struct{} // bounds concurrent EXPORT dispatch
	metrics     Metrics

	closeOnce sync.Once
	done      chan struct{}
}

func newLink(selfVM, peerVM uint32, dispatcher Dispatcher, syncTimeout time.Duration, workerPoolSize int, metrics Metrics) *Link {
	l := &Link{
		selfVM:      selfVM,
		peerVM:      peerVM,
		outbox:      make(chan wire.Frame, ringSlots),
		inbox:       make(chan wire.Frame, ringSlots),
		pending:     make(map[uint32]chan wire.Frame),
		dispatcher:  dispatcher,
		syncTimeout: syncTimeout,
		workers:     make(chan struct{}, workerPoolSize),
		metrics:     metrics,
		done:        make(chan struct{}),
	}
	go l.isr()
	return l
}

// Splice wires two Links' channels together so a send on one arrives on the
// other's inbox, simulating the shared ring pair a real peer mapping would
// establish. Only tests call it: a Link made by AddPeer or EnsurePeer is not
// connected to any other Link until it is spliced.
func Splice(a, b *Link) {
	go forward(a.outbox, b.inbox, a.done)
	go forward(b.outbox, a.inbox, b.done)
}

func forward(from <-chan wire.Frame, to chan<- wire.Frame, done <-chan struct{}) {
	for {
		select {
		case f := <-from:
			select {
			case to <- f:
			case <-done:
				return
			}
		case <-done:
			return
		}
	}
}

// Close stops the Link's ISR loop. Idempotent.
func (l *Link) Close() {
	l.closeOnce.Do(func() { close(l.done) })
}

func (l *Link) isr() {
	for {
		select {
		case f := <-l.inbox:
			l.handleInbound(f)
		case <-l.done:
			return
		}
	}
}

func (l *Link) handleInbound(f wire.Frame) {
	if l.metrics != nil {
		l.metrics.RecordFrameReceived(l.peerVM, wire.Command(f.Command).String())
	}
	if wire.Status(f.Status) == wire.StatusNotResponded {
		l.handleRequest(f)
		return
	}
	l.deliverResponse(f)
}

func (l *Link) handleRequest(f wire.Frame) {
	if wire.Command(f.Command) == wire.CommandExport {
		select {
		case l.workers <- struct{}{}:
			go func() {
				defer func() { <-l.workers }()
				l.dispatcher.DispatchExport(l.peerVM, f)
			}()
		default:
			logger.Warn("transport: export worker pool saturated, dispatching inline", logger.PeerVM(l.peerVM))
			if l.metrics != nil {
				l.metrics.RecordWorkerPoolSaturated(l.peerVM)
			}
			l.dispatcher.DispatchExport(l.peerVM, f)
		}
		return
	}

	resp := l.dispatcher.Dispatch(l.peerVM, f)
	l.send(resp)
}

func (l *Link) send(f wire.Frame) {
	select {
	case l.outbox <- f:
		if l.metrics != nil {
			l.metrics.RecordFrameSent(l.peerVM, wire.Command(f.Command).String())
		}
	case <-l.done:
	}
}

func (l *Link) deliverResponse(f wire.Frame) {
	l.pendingMu.Lock()
	waiter, ok := l.pending[f.RequestID]
	if ok {
		delete(l.pending, f.RequestID)
	}
	l.pendingMu.Unlock()

	if !ok {
		logger.Warn("transport: response for unknown request id", logger.RequestID(f.RequestID), logger.PeerVM(l.peerVM))
		return
	}
	waiter <- f
}

// Send publishes f to the peer, assigning a fresh monotonic request id. If
// wait, it blocks for the matching response up to the link's configured
// timeout, defaulting to a ~100ms poll if unset; the per-link
// mutex is held for the whole wait, so only one synchronous request is ever
// outstanding on this ring at a time.
func (l *Link) Send(ctx context.Context, f wire.Frame, wait bool) (wire.Frame, error) {
	l.sendMu.Lock()
	defer l.sendMu.Unlock()

	f.RequestID = l.nextReqID.Add(1)
	f.Status = uint32(wire.StatusNotResponded)

	var waiter chan wire.Frame
	if wait {
		waiter = make(chan wire.Frame, 1)
		l.pendingMu.Lock()
		l.pending[f.RequestID] = waiter
		l.pendingMu.Unlock()
		l.reportPending()
	}

	start := time.Now()
	command := wire.Command(f.Command).String()

	select {
	case l.outbox <- f:
		if l.metrics != nil {
			l.metrics.RecordFrameSent(l.peerVM, command)
		}
	case <-l.done:
		return wire.Frame{}, bridgeerr.New(bridgeerr.PeerDown, "link closed")
	}

	if !wait {
		return wire.Frame{}, nil
	}

	timeout := l.syncTimeout
	if timeout <= 0 {
		timeout = 100 * time.Millisecond
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-waiter:
		l.reportPending()
		if l.metrics != nil {
			l.metrics.ObserveRoundTrip(command, time.Since(start), nil)
		}
		return resp, nil
	case <-timer.C:
		l.pendingMu.Lock()
		delete(l.pending, f.RequestID)
		l.pendingMu.Unlock()
		l.reportPending()
		err := bridgeerr.New(bridgeerr.Timeout, "synchronous send timed out waiting for peer response")
		if l.metrics != nil {
			l.metrics.ObserveRoundTrip(command, time.Since(start), err)
		}
		return wire.Frame{}, err
	case <-ctx.Done():
		l.pendingMu.Lock()
		delete(l.pending, f.RequestID)
		l.pendingMu.Unlock()
		l.reportPending()
		if l.metrics != nil {
			l.metrics.ObserveRoundTrip(command, time.Since(start), ctx.Err())
		}
		return wire.Frame{}, ctx.Err()
	case <-l.done:
		return wire.Frame{}, bridgeerr.New(bridgeerr.PeerDown, "link closed")
	}
}

func (l *Link) reportPending() {
	if l.metrics == nil {
		return
	}
	l.pendingMu.Lock()
	n := len(l.pending)
	l.pendingMu.Unlock()
	l.metrics.SetPendingRequests(l.peerVM, n)
}

// Transport owns one Link per peer VM and is the Sender every higher
// component (shadow, remote-sync, service) depends on.
type Transport struct {
	selfVM      uint32
	dispatcher  Dispatcher
	syncTimeout time.Duration
	workerPool  int
	metrics     Metrics

	mu    sync.RWMutex
	links map[uint32]*Link
}

// New constructs a Transport for selfVM, dispatching inbound requests to
// dispatcher. metrics may be nil to disable observability entirely.
func New(selfVM uint32, dispatcher Dispatcher, syncTimeout time.Duration, workerPoolSize int, metrics Metrics) *Transport {
	if workerPoolSize <= 0 {
		workerPoolSize = 4
	}
	return &Transport{
		selfVM:      selfVM,
		dispatcher:  dispatcher,
		syncTimeout: syncTimeout,
		workerPool:  workerPoolSize,
		metrics:     metrics,
		links:       make(map[uint32]*Link),
	}
}

// EnsurePeer creates a Link for peerVM if one doesn't already exist,
// discarding the result. It exists so *Transport satisfies service.Ring
// (whose EnsurePeer has no return value, unlike AddPeer) alongside
// pkg/transport/grpctransport.Transport.
func (t *Transport) EnsurePeer(peerVM uint32) {
	t.AddPeer(peerVM)
}

// AddPeer creates (or returns the existing) Link for peerVM. Called when
// the Directory watch fires for a newly-published peer.
func (t *Transport) AddPeer(peerVM uint32) *Link {
	t.mu.Lock()
	if l, ok := t.links[peerVM]; ok {
		t.mu.Unlock()
		return l
	}
	l := newLink(t.selfVM, peerVM, t.dispatcher, t.syncTimeout, t.workerPool, t.metrics)
	t.links[peerVM] = l
	n := len(t.links)
	t.mu.Unlock()

	logger.Info("transport: peer ring established", logger.PeerVM(peerVM))
	if t.metrics != nil {
		t.metrics.SetActiveLinks(n)
	}
	return l
}

// RemovePeer tears down peerVM's Link, called when the Directory entry for
// that peer is removed.
func (t *Transport) RemovePeer(peerVM uint32) {
	t.mu.Lock()
	l, ok := t.links[peerVM]
	delete(t.links, peerVM)
	n := len(t.links)
	t.mu.Unlock()
	if ok {
		l.Close()
		logger.Info("transport: peer ring torn down", logger.PeerVM(peerVM))
		if t.metrics != nil {
			t.metrics.SetActiveLinks(n)
		}
	}
}

// Send implements the Sender interface shared by shadow/remotesync/service:
// it publishes f to peerVM over that peer's Link, failing with PeerDown if
// no Link exists for peerVM.
func (t *Transport) Send(ctx context.Context, peerVM uint32, f wire.Frame, wait bool) (wire.Frame, error) {
	t.mu.RLock()
	l, ok := t.links[peerVM]
	t.mu.RUnlock()
	if !ok {
		return wire.Frame{}, bridgeerr.Newf(bridgeerr.PeerDown, "no ring established for peer vm %d", peerVM)
	}
	return l.Send(ctx, f, wait)
}

// Peers lists the VMs with an established ring.
func (t *Transport) Peers() []uint32 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]uint32, 0, len(t.links))
	for vm := range t.links {
		out = append(out, vm)
	}
	return out
}

// Close tears down every peer ring.
func (t *Transport) Close() {
	t.mu.Lock()
	links := t.links
	t.links = make(map[uint32]*Link)
	t.mu.Unlock()
	for _, l := range links {
		l.Close()
	}
	if t.metrics != nil {
		t.metrics.SetActiveLinks(0)
	}
}
