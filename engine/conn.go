package engine

import (
	"github.com/m-lab/ncps/socket"
)

// conn is the per-socket connection context: doubly linked list membership
// (via the engine's three link arrays, indexed the same as the pool), the
// current state-machine action, last completion bookkeeping, and transfer
// state. One lives per pool slot; pool slots are reused via a free list so
// repeated connect/close cycles don't grow the pool once steady state is
// reached.
type conn struct {
	state connState
	sock  *socket.Socket

	client bool // true on the connect side, false for accepted server conns

	lastStatus      socket.Status
	lastErr         error
	lastN           int
	lastReadPending bool // true while a detection read (see armDetectionRead) is outstanding
	closeIssued     bool

	buf []byte

	establishedMs int64 // monotonic ms when connect/accept completed
	dueTimeMs     int64 // wait-list wake time; meaningful only while parked

	local  socket.Endpoint
	remote socket.Endpoint

	// localPortIdx/remotePortIdx track this connection's position in the
	// client port-walk sequence; see portwalk.go.
	localPortIdx  int
	remotePortIdx int
}

// pool is the arena conn contexts live in, addressed by index so the
// intrusive lists never hold Go pointers.
type pool struct {
	conns     []conn
	readyLink []link
	waitLink  []link
	pendLink  []link
	free      []int
}

func newPool() *pool {
	return &pool{}
}

// alloc returns the index of a zeroed conn, reusing a freed slot if one
// exists.
func (p *pool) alloc() int {
	if n := len(p.free); n > 0 {
		i := p.free[n-1]
		p.free = p.free[:n-1]
		p.conns[i] = conn{}
		return i
	}
	p.conns = append(p.conns, conn{})
	p.readyLink = append(p.readyLink, link{prev: nilIdx, next: nilIdx})
	p.waitLink = append(p.waitLink, link{prev: nilIdx, next: nilIdx})
	p.pendLink = append(p.pendLink, link{prev: nilIdx, next: nilIdx})
	return len(p.conns) - 1
}

// release returns i to the free list. The caller must have already removed
// i from every list it could be a member of.
func (p *pool) release(i int) {
	p.conns[i] = conn{}
	p.free = append(p.free, i)
}

func (p *pool) get(i int) *conn { return &p.conns[i] }
