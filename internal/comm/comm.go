package comm

import (
	"context"
	"fmt"

	"github.com/GriffinCanCode/telesim/internal/mpi"
	"github.com/GriffinCanCode/telesim/internal/shared/faults"
)

// GroupSpan describes one process group as a half-open range of world ranks.
type GroupSpan struct {
	Index int
	First int
	Size  int
}

// Partition computes the group layout for a world of worldSize processes.
func Partition(worldSize, groupSize int) ([]GroupSpan, error) {
	if worldSize < 1 {
		return nil, faults.Configf("comm", "world size must be at least 1, got %d", worldSize)
	}
	if groupSize < 1 {
		return nil, faults.Configf("comm", "group size must be at least 1, got %d", groupSize)
	}
	if groupSize > worldSize {
		return nil, faults.Configf("comm", "group size %d exceeds world size %d", groupSize, worldSize)
	}

	ngroups := (worldSize + groupSize - 1) / groupSize
	spans := make([]GroupSpan, ngroups)
	for g := 0; g < ngroups; g++ {
		first := g * groupSize
		size := groupSize
		if first+size > worldSize {
			size = worldSize - first
		}
		spans[g] = GroupSpan{Index: g, First: first, Size: size}
	}
	return spans, nil
}

// Comm holds the world, group and rank communicators of one process.
type Comm struct {
	world     mpi.Communicator
	worldSize int
	worldRank int

	requested int
	groups    []GroupSpan
	group     int

	groupComm mpi.Communicator
	groupRank int
	groupSize int

	rankComm mpi.Communicator
}

// New splits world into process groups of groupSize ranks. The split is a
// collective call over world; the size checks run before it.
func New(ctx context.Context, world mpi.Communicator, groupSize int) (*Comm, error) {
	worldSize, worldRank := 1, 0
	if world != nil {
		worldSize, worldRank = world.Size(), world.Rank()
	}

	groups, err := Partition(worldSize, groupSize)
	if err != nil {
		return nil, err
	}

	c := &Comm{
		world:     world,
		worldSize: worldSize,
		worldRank: worldRank,
		requested: groupSize,
		groups:    groups,
		group:     worldRank / groupSize,
		groupRank: worldRank % groupSize,
	}
	c.groupSize = groups[c.group].Size

	if world == nil {
		return c, nil
	}

	c.groupComm, err = world.Split(ctx, c.group, worldRank)
	if err != nil {
		return nil, fmt.Errorf("failed to create group communicator: %w", err)
	}
	if c.groupComm.Rank() != c.groupRank || c.groupComm.Size() != c.groupSize {
		return nil, fmt.Errorf("group communicator mismatch: rank %d/%d, expected %d/%d",
			c.groupComm.Rank(), c.groupComm.Size(), c.groupRank, c.groupSize)
	}

	c.rankComm, err = world.Split(ctx, c.groupRank, worldRank)
	if err != nil {
		return nil, fmt.Errorf("failed to create rank communicator: %w", err)
	}

	return c, nil
}

// World returns the world communicator, nil in single-process mode.
func (c *Comm) World() mpi.Communicator { return c.world }

// WorldSize returns the number of processes in the world.
func (c *Comm) WorldSize() int { return c.worldSize }

// WorldRank returns this process's rank in the world.
func (c *Comm) WorldRank() int { return c.worldRank }

// RequestedGroupSize returns the group size the layout was built from.
func (c *Comm) RequestedGroupSize() int { return c.requested }

// NGroups returns the number of process groups.
func (c *Comm) NGroups() int { return len(c.groups) }

// Groups returns the full group layout.
func (c *Comm) Groups() []GroupSpan {
	out := make([]GroupSpan, len(c.groups))
	copy(out, c.groups)
	return out
}

// Group returns the index of this process's group.
func (c *Comm) Group() int { return c.group }

// GroupComm returns the intra-group communicator, nil in single-process mode.
func (c *Comm) GroupComm() mpi.Communicator { return c.groupComm }

// GroupRank returns this process's rank within its group.
func (c *Comm) GroupRank() int { return c.groupRank }

// GroupSize returns the number of processes in this process's group. It is
// smaller than the requested size only for a trailing remainder group.
func (c *Comm) GroupSize() int { return c.groupSize }

// RankComm links the processes holding the same group rank across groups.
func (c *Comm) RankComm() mpi.Communicator { return c.rankComm }

// GroupBarrier synchronizes the members of this process's group.
func (c *Comm) GroupBarrier(ctx context.Context) error {
	if c.groupComm == nil {
		return nil
	}
	return c.groupComm.Barrier(ctx)
}

// WorldBarrier synchronizes every process of the world.
func (c *Comm) WorldBarrier(ctx context.Context) error {
	if c.world == nil {
		return nil
	}
	return c.world.Barrier(ctx)
}

func (c *Comm) String() string {
	return fmt.Sprintf("Comm(world %d/%d, group %d/%d, group rank %d/%d)",
		c.worldRank, c.worldSize, c.group, len(c.groups), c.groupRank, c.groupSize)
}
