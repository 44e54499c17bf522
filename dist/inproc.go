package dist

import (
	"errors"
	"fmt"
	"sync"
)

// ErrClosed reports a collective call on a closed group member.
var ErrClosed = errors.New("dist: process group closed")

// hub is the shared state of an in-process world. Collectives are rounds:
// the first caller opens a round, the last arrival completes it, everyone
// copies the result out of the completed round.
type hub struct {
	world int

	mu      sync.Mutex
	reduce  *round
	barrier *round
}

type round struct {
	sum       []float32
	remaining int
	done      chan struct{}
}

// inprocMember is one worker's handle on an in-process world. Intended for
// tests and single-binary multi-goroutine runs; every member must be
// driven by its own goroutine.
type inprocMember struct {
	hub    *hub
	rank   int
	closed bool
}

// NewInProcWorld builds a world of n process-group members sharing one
// in-memory collective hub. Member i has rank i.
func NewInProcWorld(n int) ([]ProcessGroup, error) {
	if n < 1 {
		return nil, fmt.Errorf("dist: world size %d", n)
	}
	h := &hub{world: n}
	members := make([]ProcessGroup, n)
	for i := range members {
		members[i] = &inprocMember{hub: h, rank: i}
	}
	return members, nil
}

func (m *inprocMember) Rank() int      { return m.rank }
func (m *inprocMember) WorldSize() int { return m.hub.world }

// AllReduceSum sums buf across all members in place. Blocks until every
// member of the world has contributed; all callers in one round must pass
// buffers of the same length.
func (m *inprocMember) AllReduceSum(buf []float32) error {
	if m.closed {
		return ErrClosed
	}
	h := m.hub

	h.mu.Lock()
	if h.reduce == nil {
		h.reduce = &round{
			sum:       make([]float32, len(buf)),
			remaining: h.world,
			done:      make(chan struct{}),
		}
	}
	r := h.reduce
	if len(buf) != len(r.sum) {
		h.mu.Unlock()
		return fmt.Errorf("dist: rank %d joined all-reduce with %d elements, round has %d",
			m.rank, len(buf), len(r.sum))
	}
	for i, v := range buf {
		r.sum[i] += v
	}
	r.remaining--
	if r.remaining == 0 {
		h.reduce = nil
		close(r.done)
	}
	h.mu.Unlock()

	<-r.done
	copy(buf, r.sum)
	return nil
}

// Barrier blocks until every member of the world has reached it.
func (m *inprocMember) Barrier() error {
	if m.closed {
		return ErrClosed
	}
	h := m.hub

	h.mu.Lock()
	if h.barrier == nil {
		h.barrier = &round{remaining: h.world, done: make(chan struct{})}
	}
	r := h.barrier
	r.remaining--
	if r.remaining == 0 {
		h.barrier = nil
		close(r.done)
	}
	h.mu.Unlock()

	<-r.done
	return nil
}

func (m *inprocMember) Close() error {
	m.closed = true
	return nil
}
