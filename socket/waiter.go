package socket

import "fmt"

// maxBatch is N from the data model: the waiter drains at most this many
// ready results from the OS (or synthesizes at most this many cancellations)
// in a single underlying call.
const maxBatch = 16

// Completion is one delivered result from Waiter.Wait: which socket, which
// logical operation (connect/accept/read/write), and its outcome.
type Completion struct {
	Socket *Socket
	Op     string
	N      int        // bytes transferred, for read
	New    *Socket    // the newly accepted socket, for "accept"
	Remote *Endpoint  // peer address, for accept/read when requested
	Err    error      // nil on success; otherwise *OpError
}

// readyEvent is what a platform waiter reports: a socket became readable
// and/or writable (or hung up).
type readyEvent struct {
	socket   *Socket
	readable bool
	writable bool
	hup      bool
}

// platformWaiter is the OS-specific half: IOCP on Windows, epoll on Linux.
// Everything op-derivation/cancellation/ring-buffer related lives in Waiter
// itself so it is identical across platforms.
type platformWaiter interface {
	register(s *Socket) error
	rearm(s *Socket, wantRead, wantWrite bool) error
	wait(timeoutMs int) ([]readyEvent, error)
	unregister(s *Socket)
	close() error
}

// Waiter is the async I/O waiter described in the design: a registration
// point for sockets, a small ready-result cache, and -- on readiness
// platforms -- the closing list that synthesizes cancellation completions
// for sockets closed while an operation was still pending.
type Waiter struct {
	platform platformWaiter

	cache    []Completion
	cacheIdx int

	// closing is the FIFO of sockets that were Close'd while an operation
	// was still pending on them. Completions for these are synthesized and
	// delivered before any OS-reported completion, so the owner always sees
	// the cancellation before the socket can be reused.
	closing []*Socket
}

// NewWaiter creates a Waiter backed by the platform's native readiness
// primitive.
func NewWaiter() (*Waiter, error) {
	p, err := newPlatformWaiter()
	if err != nil {
		return nil, err
	}
	return &Waiter{platform: p}, nil
}

// Close releases the underlying OS readiness handle. It is the caller's
// responsibility to have already freed every registered socket.
func (w *Waiter) Close() error {
	return w.platform.close()
}

// Register binds s to w for readiness notifications. Idempotent per socket;
// must be called (via Socket.SetAsyncWaiter then Waiter.Register) before the
// first non-blocking operation on s.
func (w *Waiter) Register(s *Socket) error {
	if s.waiter == nil {
		return fmt.Errorf("socket: Register called before SetAsyncWaiter")
	}
	return w.platform.register(s)
}

// unregister drops s from the readiness set, e.g. right before its fd is
// closed.
func (w *Waiter) unregister(s *Socket) {
	w.platform.unregister(s)
}

// enqueueClosing appends s to the closing list exactly once; see Close in
// ops_linux.go.
func (w *Waiter) enqueueClosing(s *Socket) {
	for _, existing := range w.closing {
		if existing == s {
			return
		}
	}
	w.closing = append(w.closing, s)
}

// Wait returns the next completion, blocking up to timeoutMs if nothing is
// immediately available. A nil Completion with a StatusTimeout OpError means
// nothing completed within timeoutMs.
func (w *Waiter) Wait(timeoutMs int) (*Completion, error) {
	if c, ok := w.popCache(); ok {
		return c, nil
	}

	if len(w.closing) > 0 {
		w.drainClosing()
		if c, ok := w.popCache(); ok {
			return c, nil
		}
	}

	events, err := w.platform.wait(timeoutMs)
	if err != nil {
		return nil, failureError("wait", err)
	}
	if len(events) == 0 {
		return nil, timeoutError("wait")
	}

	for _, ev := range events {
		w.cache = append(w.cache, deliver(ev)...)
		if len(w.cache) >= maxBatch {
			break
		}
	}
	if c, ok := w.popCache(); ok {
		return c, nil
	}
	return nil, timeoutError("wait")
}

func (w *Waiter) popCache() (*Completion, bool) {
	if w.cacheIdx < len(w.cache) {
		c := w.cache[w.cacheIdx]
		w.cacheIdx++
		if w.cacheIdx >= len(w.cache) {
			w.cache = w.cache[:0]
			w.cacheIdx = 0
		}
		return &c, true
	}
	return nil, false
}

// drainClosing synthesizes up to maxBatch cancellation completions, one per
// pending operation, popping sockets off the closing list in FIFO order.
func (w *Waiter) drainClosing() {
	n := 0
	for len(w.closing) > 0 && n < maxBatch {
		s := w.closing[0]
		for s.pendingCount() > 0 && n < maxBatch {
			op := nextPendingOp(s)
			var newSocket *Socket
			if op == "accept" && s.pendingAccept != nil {
				newSocket = s.pendingAccept.newSocket
			}
			clearPendingOp(s, op)
			w.cache = append(w.cache, Completion{Socket: s, Op: op, New: newSocket, Err: cancelledError(op)})
			n++
		}
		if s.pendingCount() > 0 {
			// Batch full; s stays at the head for the next Wait.
			break
		}
		w.closing = w.closing[1:]
	}
}

// nextPendingOp picks which outstanding operation on s to resolve next, in a
// fixed, deterministic order. Any order is correct per the spec (batches may
// reorder relative to arrival) as long as it is exhausted before s is
// reused.
func nextPendingOp(s *Socket) string {
	switch {
	case s.connecting:
		return "connect"
	case s.pendingAccept != nil:
		return "accept"
	case s.pendingWrite != nil:
		return "write"
	case s.pendingRead != nil:
		return "read"
	default:
		return ""
	}
}

func clearPendingOp(s *Socket, op string) {
	switch op {
	case "connect":
		s.connecting = false
	case "accept":
		s.pendingAccept = nil
	case "write":
		s.pendingWrite = nil
	case "read":
		s.pendingRead = nil
	}
}
