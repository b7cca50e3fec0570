package grpctransport

import (
	"context"
	"encoding/binary"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hyperbridge/dmabridge/internal/logger"
	"github.com/hyperbridge/dmabridge/pkg/bridgeerr"
	"github.com/hyperbridge/dmabridge/pkg/transport"
	"github.com/hyperbridge/dmabridge/pkg/wire"
)

// frameStream is the subset of grpc.ClientStream/grpc.ServerStream a Link
// needs; unifying them lets one Link implementation serve both the dialing
// side (client stream) and the accepting side (server stream) of the same
// logical Exchange call.
type frameStream interface {
	SendMsg(m any) error
	RecvMsg(m any) error
}

// handshakeSize is the byte length of the first message exchanged on every
// stream: the sender's VM id, so whichever side accepted the connection
// learns which peer it belongs to without a separate RPC.
const handshakeSize = 4

func encodeHandshake(vm uint32) []byte {
	b := make([]byte, handshakeSize)
	binary.BigEndian.PutUint32(b, vm)
	return b
}

func decodeHandshake(b []byte) (uint32, bool) {
	if len(b) != handshakeSize {
		return 0, false
	}
	return binary.BigEndian.Uint32(b), true
}

// link is one peer VM's ring, backed by a single bidirectional gRPC stream
// instead of pkg/transport.Link's in-process channel pair. The request/
// response correlation by request id is the same as pkg/transport.Link's.
// Unlike pkg/transport.Link, sendMu is held only around each SendMsg and
// not across a synchronous wait, so several synchronous requests can be
// outstanding on one link at once.
type link struct {
	selfVM, peerVM uint32

	stream frameStream
	sendMu sync.Mutex

	nextReqID atomic.Uint32

	pendingMu sync.Mutex
	pending   map[uint32]chan wire.Frame

	dispatcher  transport.Dispatcher
	syncTimeout time.Duration
	workers     chan struct{}
	metrics     transport.Metrics

	closeOnce sync.Once
	done      chan struct{}
	closeConn func()
}

func newLink(selfVM, peerVM uint32, stream frameStream, dispatcher transport.Dispatcher, syncTimeout time.Duration, workerPoolSize int, metrics transport.Metrics, closeConn func()) *link {
	if workerPoolSize <= 0 {
		workerPoolSize = 4
	}
	l := &link{
		selfVM:      selfVM,
		peerVM:      peerVM,
		stream:      stream,
		dispatcher:  dispatcher,
		syncTimeout: syncTimeout,
		pending:     make(map[uint32]chan wire.Frame),
		workers:     make(chan struct{}, workerPoolSize),
		metrics:     metrics,
		done:        make(chan struct{}),
		closeConn:   closeConn,
	}
	go l.recvLoop()
	return l
}

func (l *link) recvLoop() {
	for {
		msg := &rawFrame{}
		if err := l.stream.RecvMsg(msg); err != nil {
			logger.Warn("grpctransport: stream closed", logger.PeerVM(l.peerVM), logger.Err(err))
			l.Close()
			return
		}
		f, err := wire.Unmarshal(msg.data)
		if err != nil {
			logger.Warn("grpctransport: dropping malformed frame", logger.PeerVM(l.peerVM), logger.Err(err))
			continue
		}
		l.handleInbound(f)
	}
}

func (l *link) handleInbound(f wire.Frame) {
	if l.metrics != nil {
		l.metrics.RecordFrameReceived(l.peerVM, wire.Command(f.Command).String())
	}
	if wire.Status(f.Status) == wire.StatusNotResponded {
		l.handleRequest(f)
		return
	}
	l.deliverResponse(f)
}

func (l *link) handleRequest(f wire.Frame) {
	if wire.Command(f.Command) == wire.CommandExport {
		select {
		case l.workers <- struct{}{}:
			go func() {
				defer func() { <-l.workers }()
				l.dispatcher.DispatchExport(l.peerVM, f)
			}()
		default:
			logger.Warn("grpctransport: export worker pool saturated, dispatching inline", logger.PeerVM(l.peerVM))
			if l.metrics != nil {
				l.metrics.RecordWorkerPoolSaturated(l.peerVM)
			}
			l.dispatcher.DispatchExport(l.peerVM, f)
		}
		return
	}

	resp := l.dispatcher.Dispatch(l.peerVM, f)
	l.write(resp)
}

func (l *link) write(f wire.Frame) {
	data, err := wire.Marshal(f)
	if err != nil {
		logger.Error("grpctransport: failed to marshal outbound frame", logger.Err(err))
		return
	}
	l.sendMu.Lock()
	err = l.stream.SendMsg(&rawFrame{data: data})
	l.sendMu.Unlock()
	if err != nil {
		logger.Warn("grpctransport: failed to send frame", logger.PeerVM(l.peerVM), logger.Err(err))
		return
	}
	if l.metrics != nil {
		l.metrics.RecordFrameSent(l.peerVM, wire.Command(f.Command).String())
	}
}

func (l *link) deliverResponse(f wire.Frame) {
	l.pendingMu.Lock()
	waiter, ok := l.pending[f.RequestID]
	if ok {
		delete(l.pending, f.RequestID)
	}
	l.pendingMu.Unlock()

	if !ok {
		logger.Warn("grpctransport: response for unknown request id", logger.RequestID(f.RequestID), logger.PeerVM(l.peerVM))
		return
	}
	waiter <- f
}

// Send publishes f to the peer over this link's stream, assigning a fresh
// monotonic request id. If wait, it blocks for the matching response up to
// syncTimeout, defaulting to a ~100ms poll if unset.
func (l *link) Send(ctx context.Context, f wire.Frame, wait bool) (wire.Frame, error) {
	f.RequestID = l.nextReqID.Add(1)
	f.Status = uint32(wire.StatusNotResponded)

	var waiter chan wire.Frame
	if wait {
		waiter = make(chan wire.Frame, 1)
		l.pendingMu.Lock()
		l.pending[f.RequestID] = waiter
		l.pendingMu.Unlock()
	}

	start := time.Now()
	command := wire.Command(f.Command).String()

	data, err := wire.Marshal(f)
	if err != nil {
		return wire.Frame{}, bridgeerr.Newf(bridgeerr.BadArg, "marshal frame: %v", err)
	}

	l.sendMu.Lock()
	sendErr := l.stream.SendMsg(&rawFrame{data: data})
	l.sendMu.Unlock()
	if sendErr != nil {
		return wire.Frame{}, bridgeerr.New(bridgeerr.PeerDown, "grpc stream send failed")
	}
	if l.metrics != nil {
		l.metrics.RecordFrameSent(l.peerVM, command)
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
		if l.metrics != nil {
			l.metrics.ObserveRoundTrip(command, time.Since(start), nil)
		}
		return resp, nil
	case <-timer.C:
		l.pendingMu.Lock()
		delete(l.pending, f.RequestID)
		l.pendingMu.Unlock()
		err := bridgeerr.New(bridgeerr.Timeout, "synchronous send timed out waiting for peer response")
		if l.metrics != nil {
			l.metrics.ObserveRoundTrip(command, time.Since(start), err)
		}
		return wire.Frame{}, err
	case <-ctx.Done():
		l.pendingMu.Lock()
		delete(l.pending, f.RequestID)
		l.pendingMu.Unlock()
		if l.metrics != nil {
			l.metrics.ObserveRoundTrip(command, time.Since(start), ctx.Err())
		}
		return wire.Frame{}, ctx.Err()
	case <-l.done:
		return wire.Frame{}, bridgeerr.New(bridgeerr.PeerDown, "link closed")
	}
}

// Close tears down the link, releasing the underlying gRPC connection if
// this side dialed it (closeConn is a no-op for an accepted server stream,
// which closes when its handler goroutine returns instead).
func (l *link) Close() {
	l.closeOnce.Do(func() {
		close(l.done)
		if l.closeConn != nil {
			l.closeConn()
		}
	})
}
