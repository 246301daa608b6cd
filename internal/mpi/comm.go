package mpi

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrAborted is returned by collectives after the world was aborted.
	ErrAborted = errors.New("mpi: world aborted")
	// ErrInvalidRoot is returned when a rooted collective names a rank
	// outside the communicator.
	ErrInvalidRoot = errors.New("mpi: root rank out of range")
)

// WorldID is the communicator id of every world communicator.
const WorldID = "world"

// Communicator is a handle on an ordered set of ranks.
type Communicator interface {
	ID() string
	Rank() int
	Size() int

	// AllGather returns the payload of every member, indexed by rank.
	AllGather(ctx context.Context, payload []byte) ([][]byte, error)
	// Gather returns every payload on root and nil elsewhere.
	Gather(ctx context.Context, root int, payload []byte) ([][]byte, error)
	// Bcast returns the payload supplied by root on every member.
	Bcast(ctx context.Context, root int, payload []byte) ([]byte, error)
	Barrier(ctx context.Context) error

	// Split partitions the communicator by color. Members with equal color
	// form a new communicator ordered by (key, parent rank). A negative color
	// opts out and yields a nil communicator.
	Split(ctx context.Context, color, key int) (Communicator, error)

	// Abort terminates every rank of the world, not only the members of
	// this communicator.
	Abort(ctx context.Context, code int, reason string) error
}

// ExchangeRequest is one member's contribution to a collective round.
type ExchangeRequest struct {
	Comm    string `json:"comm"`
	Seq     uint64 `json:"seq"`
	Size    int    `json:"size"`
	Rank    int    `json:"rank"`
	Payload []byte `json:"payload,omitempty"`
}

// AbortNotice describes a world abort.
type AbortNotice struct {
	Rank   int    `json:"rank"`
	Code   int    `json:"code"`
	Reason string `json:"reason"`
}

// Transport carries collective rounds and abort requests between ranks.
type Transport interface {
	Exchange(ctx context.Context, req ExchangeRequest) ([][]byte, error)
	Abort(ctx context.Context, notice AbortNotice) error
}

// communicator implements Communicator on top of a Transport.
type communicator struct {
	id        string
	rank      int
	size      int
	worldRank int
	transport Transport

	mu  sync.Mutex
	seq uint64
}

// NewWorld returns the world communicator for rank over the transport.
func NewWorld(rank, size int, transport Transport) (Communicator, error) {
	if size < 1 {
		return nil, fmt.Errorf("mpi: world size must be positive, got %d", size)
	}
	if rank < 0 || rank >= size {
		return nil, fmt.Errorf("mpi: rank %d out of range for world size %d", rank, size)
	}
	return &communicator{
		id:        WorldID,
		rank:      rank,
		size:      size,
		worldRank: rank,
		transport: transport,
	}, nil
}

func (c *communicator) ID() string { return c.id }
func (c *communicator) Rank() int  { return c.rank }
func (c *communicator) Size() int  { return c.size }

func (c *communicator) nextSeq() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return c.seq
}

func (c *communicator) exchange(ctx context.Context, payload []byte) (uint64, [][]byte, error) {
	seq := c.nextSeq()
	out, err := c.transport.Exchange(ctx, ExchangeRequest{
		Comm:    c.id,
		Seq:     seq,
		Size:    c.size,
		Rank:    c.rank,
		Payload: payload,
	})
	if err != nil {
		return seq, nil, err
	}
	if len(out) != c.size {
		return seq, nil, fmt.Errorf("mpi: %s round %d returned %d payloads, want %d", c.id, seq, len(out), c.size)
	}
	return seq, out, nil
}

func (c *communicator) AllGather(ctx context.Context, payload []byte) ([][]byte, error) {
	_, out, err := c.exchange(ctx, payload)
	return out, err
}

func (c *communicator) Gather(ctx context.Context, root int, payload []byte) ([][]byte, error) {
	if root < 0 || root >= c.size {
		return nil, ErrInvalidRoot
	}
	_, out, err := c.exchange(ctx, payload)
	if err != nil {
		return nil, err
	}
	if c.rank != root {
		return nil, nil
	}
	return out, nil
}

func (c *communicator) Bcast(ctx context.Context, root int, payload []byte) ([]byte, error) {
	if root < 0 || root >= c.size {
		return nil, ErrInvalidRoot
	}
	if c.rank != root {
		payload = nil
	}
	_, out, err := c.exchange(ctx, payload)
	if err != nil {
		return nil, err
	}
	return out[root], nil
}

func (c *communicator) Barrier(ctx context.Context) error {
	_, _, err := c.exchange(ctx, nil)
	return err
}

type splitMember struct {
	rank  int
	color int
	key   int
}

func (c *communicator) Split(ctx context.Context, color, key int) (Communicator, error) {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint64(buf[:8], uint64(int64(color)))
	binary.BigEndian.PutUint64(buf[8:], uint64(int64(key)))

	seq, out, err := c.exchange(ctx, buf)
	if err != nil {
		return nil, err
	}
	if color < 0 {
		return nil, nil
	}

	members := make([]splitMember, 0, len(out))
	for rank, raw := range out {
		if len(raw) != 16 {
			return nil, fmt.Errorf("mpi: malformed split payload from rank %d", rank)
		}
		m := splitMember{
			rank:  rank,
			color: int(int64(binary.BigEndian.Uint64(raw[:8]))),
			key:   int(int64(binary.BigEndian.Uint64(raw[8:]))),
		}
		if m.color == color {
			members = append(members, m)
		}
	}
	sort.SliceStable(members, func(i, j int) bool {
		if members[i].key != members[j].key {
			return members[i].key < members[j].key
		}
		return members[i].rank < members[j].rank
	})

	newRank := -1
	for i, m := range members {
		if m.rank == c.rank {
			newRank = i
			break
		}
	}
	if newRank < 0 {
		return nil, fmt.Errorf("mpi: rank %d missing from its own split", c.rank)
	}

	return &communicator{
		id:        fmt.Sprintf("%s/%d:%d", c.id, seq, color),
		rank:      newRank,
		size:      len(members),
		worldRank: c.worldRank,
		transport: c.transport,
	}, nil
}

func (c *communicator) Abort(ctx context.Context, code int, reason string) error {
	return c.transport.Abort(ctx, AbortNotice{
		Rank:   c.worldRank,
		Code:   code,
		Reason: reason,
	})
}

// SameComm reports whether two handles refer to the same communicator.
// Two nil handles are the same (single-process mode).
func SameComm(a, b Communicator) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.ID() == b.ID() && a.Size() == b.Size()
}
