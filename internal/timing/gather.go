package timing

import (
	"context"
	"fmt"
	"sort"

	"github.com/GriffinCanCode/telesim/internal/mpi"
	"github.com/bytedance/sonic"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Aggregate summarizes one timer name across every rank that recorded it.
type Aggregate struct {
	Name   string  `json:"name"`
	Ranks  int     `json:"ranks"`
	Calls  int     `json:"calls"`
	Min    float64 `json:"min_seconds"`
	Max    float64 `json:"max_seconds"`
	Mean   float64 `json:"mean_seconds"`
	Median float64 `json:"median_seconds"`
}

// Report is the reduced timing state of a run.
type Report struct {
	WorldSize int         `json:"world_size"`
	Timers    []Aggregate `json:"timers"`
}

// Gather reduces the timers of every rank onto world rank 0.
//
// Every rank of world must call Gather. Rank 0 receives the report; the
// other ranks receive nil. A nil world yields the report of this process.
func Gather(ctx context.Context, world mpi.Communicator, gt *GlobalTimers) (*Report, error) {
	if running := gt.Running(); len(running) > 0 {
		return nil, fmt.Errorf("%w: %v", ErrTimersRunning, running)
	}

	local := gt.Snapshot()
	if world == nil {
		return Reduce([][]Stat{local}), nil
	}

	payload, err := sonic.Marshal(local)
	if err != nil {
		return nil, fmt.Errorf("encode timers: %w", err)
	}
	parts, err := world.Gather(ctx, 0, payload)
	if err != nil {
		return nil, fmt.Errorf("gather timers: %w", err)
	}
	if world.Rank() != 0 {
		return nil, nil
	}

	perRank := make([][]Stat, len(parts))
	for rank, p := range parts {
		if err := sonic.Unmarshal(p, &perRank[rank]); err != nil {
			return nil, fmt.Errorf("decode timers of rank %d: %w", rank, err)
		}
	}
	return Reduce(perRank), nil
}

// Reduce aggregates per-rank snapshots by timer name.
func Reduce(perRank [][]Stat) *Report {
	seconds := make(map[string][]float64)
	calls := make(map[string]int)
	for _, stats := range perRank {
		for _, s := range stats {
			seconds[s.Name] = append(seconds[s.Name], s.Seconds)
			calls[s.Name] += s.Calls
		}
	}

	names := make([]string, 0, len(seconds))
	for name := range seconds {
		names = append(names, name)
	}
	sort.Strings(names)

	report := &Report{WorldSize: len(perRank), Timers: make([]Aggregate, 0, len(names))}
	for _, name := range names {
		xs := seconds[name]
		sort.Float64s(xs)
		report.Timers = append(report.Timers, Aggregate{
			Name:   name,
			Ranks:  len(xs),
			Calls:  calls[name],
			Min:    floats.Min(xs),
			Max:    floats.Max(xs),
			Mean:   stat.Mean(xs, nil),
			Median: stat.Quantile(0.5, stat.Empirical, xs, nil),
		})
	}
	return report
}

// Lookup returns the aggregate for name.
func (r *Report) Lookup(name string) (Aggregate, bool) {
	for _, a := range r.Timers {
		if a.Name == name {
			return a, true
		}
	}
	return Aggregate{}, false
}
