package mpi

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrHubClosed is returned by exchanges issued after Close.
var ErrHubClosed = errors.New("mpi: hub closed")

type roundKey struct {
	comm string
	seq  uint64
}

type round struct {
	payloads [][]byte
	filled   []bool
	count    int
	done     chan struct{}
}

// Hub is the in-memory rendezvous behind every collective. It implements
// Transport for ranks living in the same process and is served over gRPC
// for ranks living elsewhere.
type Hub struct {
	mu      sync.Mutex
	rounds  map[roundKey]*round
	notice  *AbortNotice
	aborted chan struct{}
	closed  chan struct{}
	onAbort func(AbortNotice)

	closeOnce sync.Once
}

// NewHub creates a hub. onAbort runs exactly once, on the first Abort.
func NewHub(onAbort func(AbortNotice)) *Hub {
	return &Hub{
		rounds:  make(map[roundKey]*round),
		aborted: make(chan struct{}),
		closed:  make(chan struct{}),
		onAbort: onAbort,
	}
}

// Exchange contributes req.Payload to its round and blocks until the round
// is complete, the world is aborted, or ctx is done.
func (h *Hub) Exchange(ctx context.Context, req ExchangeRequest) ([][]byte, error) {
	if req.Size < 1 {
		return nil, fmt.Errorf("mpi: invalid communicator size %d", req.Size)
	}
	if req.Rank < 0 || req.Rank >= req.Size {
		return nil, fmt.Errorf("mpi: rank %d out of range for %s (size %d)", req.Rank, req.Comm, req.Size)
	}

	h.mu.Lock()
	if h.notice != nil {
		h.mu.Unlock()
		return nil, ErrAborted
	}
	select {
	case <-h.closed:
		h.mu.Unlock()
		return nil, ErrHubClosed
	default:
	}

	key := roundKey{comm: req.Comm, seq: req.Seq}
	r, ok := h.rounds[key]
	if !ok {
		r = &round{
			payloads: make([][]byte, req.Size),
			filled:   make([]bool, req.Size),
			done:     make(chan struct{}),
		}
		h.rounds[key] = r
	}
	if len(r.payloads) != req.Size {
		h.mu.Unlock()
		return nil, fmt.Errorf("mpi: %s round %d size mismatch: %d vs %d", req.Comm, req.Seq, req.Size, len(r.payloads))
	}
	if r.filled[req.Rank] {
		h.mu.Unlock()
		return nil, fmt.Errorf("mpi: rank %d contributed twice to %s round %d", req.Rank, req.Comm, req.Seq)
	}
	r.payloads[req.Rank] = req.Payload
	r.filled[req.Rank] = true
	r.count++
	if r.count == req.Size {
		delete(h.rounds, key)
		close(r.done)
	}
	h.mu.Unlock()

	select {
	case <-r.done:
		out := make([][]byte, len(r.payloads))
		copy(out, r.payloads)
		return out, nil
	case <-h.aborted:
		return nil, ErrAborted
	case <-h.closed:
		return nil, ErrHubClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Abort records the first abort notice, wakes every blocked exchange and
// runs the abort hook. Later calls are no-ops.
func (h *Hub) Abort(_ context.Context, notice AbortNotice) error {
	h.mu.Lock()
	if h.notice != nil {
		h.mu.Unlock()
		return nil
	}
	n := notice
	h.notice = &n
	close(h.aborted)
	h.mu.Unlock()

	if h.onAbort != nil {
		h.onAbort(notice)
	}
	return nil
}

// Aborted is closed once the world has been aborted.
func (h *Hub) Aborted() <-chan struct{} {
	return h.aborted
}

// Notice returns the abort notice, if any.
func (h *Hub) Notice() (AbortNotice, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.notice == nil {
		return AbortNotice{}, false
	}
	return *h.notice, true
}

// Pending returns the number of incomplete rounds.
func (h *Hub) Pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rounds)
}

// Close releases every blocked exchange with ErrHubClosed.
func (h *Hub) Close() {
	h.closeOnce.Do(func() {
		close(h.closed)
	})
}
