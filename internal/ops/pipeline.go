package ops

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/telesim/internal/data"
	"github.com/GriffinCanCode/telesim/internal/infrastructure/logging"
	"github.com/GriffinCanCode/telesim/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/telesim/internal/shared/faults"
	"github.com/GriffinCanCode/telesim/internal/timing"
)

// DetectorSets is the detector pass policy of a pipeline: every detector in
// one pass, or disjoint subsets in sequential passes.
type DetectorSets struct {
	sets []Selection
}

// AllDetectors runs every detector in a single pass.
func AllDetectors() DetectorSets {
	return DetectorSets{}
}

// Subsets runs each set in its own pass. Sets must be non-empty and
// pairwise disjoint.
func Subsets(sets ...[]string) (DetectorSets, error) {
	if len(sets) == 0 {
		return DetectorSets{}, faults.Configf("pipeline", "detector_sets must list at least one subset")
	}
	owner := make(map[string]int)
	out := make([]Selection, len(sets))
	for i, set := range sets {
		if len(set) == 0 {
			return DetectorSets{}, faults.Configf("pipeline", "detector set %d is empty", i)
		}
		for _, det := range set {
			if j, ok := owner[det]; ok {
				return DetectorSets{}, faults.Configf("pipeline", "detector %q is in sets %d and %d", det, j, i)
			}
			owner[det] = i
		}
		out[i] = append(Selection(nil), set...)
	}
	return DetectorSets{sets: out}, nil
}

// IsAll reports whether every detector runs in one pass.
func (s DetectorSets) IsAll() bool { return len(s.sets) == 0 }

// Passes returns the selection of each pass.
func (s DetectorSets) Passes() []Selection {
	if s.IsAll() {
		return []Selection{nil}
	}
	return s.sets
}

func (s DetectorSets) String() string {
	if s.IsAll() {
		return "ALL"
	}
	return fmt.Sprintf("%d subsets", len(s.sets))
}

// PipelineParams configures a Pipeline.
type PipelineParams struct {
	Operators    []Operator
	DetectorSets DetectorSets
}

// Pipeline runs a fixed list of operators over one or more detector passes.
type Pipeline struct {
	Lifecycle

	name   string
	params PipelineParams

	timers  *timing.GlobalTimers
	metrics *monitoring.Metrics
	logger  *logging.Logger
}

// NewPipeline validates params and builds a pipeline.
func NewPipeline(name string, params PipelineParams) (*Pipeline, error) {
	if name == "" {
		return nil, faults.Configf("pipeline", "name must not be empty")
	}
	if len(params.Operators) == 0 {
		return nil, faults.Configf(name, "pipeline has no operators")
	}
	for i, op := range params.Operators {
		if op == nil {
			return nil, faults.Configf(name, "operator %d is nil", i)
		}
	}
	ops := make([]Operator, len(params.Operators))
	copy(ops, params.Operators)
	params.Operators = ops

	return &Pipeline{
		name:   name,
		params: params,
		logger: logging.Nop(),
	}, nil
}

// WithTimers records every child call in gt.
func (p *Pipeline) WithTimers(gt *timing.GlobalTimers) *Pipeline {
	p.timers = gt
	return p
}

// WithMetrics records every child call in m.
func (p *Pipeline) WithMetrics(m *monitoring.Metrics) *Pipeline {
	p.metrics = m
	return p
}

// WithLogger sets the logger.
func (p *Pipeline) WithLogger(l *logging.Logger) *Pipeline {
	if l != nil {
		p.logger = l.Named("pipeline").With(zap.String("pipeline", p.name))
	}
	return p
}

// Name implements Operator.
func (p *Pipeline) Name() string { return p.name }

// Operators returns the children in run order.
func (p *Pipeline) Operators() []Operator {
	out := make([]Operator, len(p.params.Operators))
	copy(out, p.params.Operators)
	return out
}

// DetectorSets returns the pass policy.
func (p *Pipeline) DetectorSets() DetectorSets { return p.params.DetectorSets }

// Exec runs every child once per detector pass. sel further restricts the
// passes when the pipeline is nested in another one.
func (p *Pipeline) Exec(ctx context.Context, d *data.Data, sel Selection) error {
	if err := p.BeginExec(); err != nil {
		return err
	}

	passes := p.params.DetectorSets.Passes()
	for i, pass := range passes {
		passSel := pass.Intersect(sel)
		if passSel != nil && len(passSel) == 0 {
			continue
		}
		p.logger.Debug("Starting detector pass",
			zap.Int("pass", i),
			zap.Int("passes", len(passes)),
			zap.Int("detectors", len(passSel)),
		)
		for _, op := range p.params.Operators {
			if err := p.call(op, "exec", func() error { return op.Exec(ctx, d, passSel) }); err != nil {
				return err
			}
		}
		p.metrics.SetObservations(d.Len())
	}
	return nil
}

// Finalize calls each child's Finalize once, in order.
func (p *Pipeline) Finalize(ctx context.Context, d *data.Data) error {
	if err := p.BeginFinalize(); err != nil {
		return err
	}
	for _, op := range p.params.Operators {
		if err := p.call(op, "finalize", func() error { return op.Finalize(ctx, d) }); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) call(op Operator, phase string, fn func() error) error {
	name := p.name + "." + phase + "." + op.Name()
	if p.timers != nil {
		defer p.timers.Scope(name)()
	}
	timer := monitoring.NewTimer(p.metrics, p.name, op.Name(), phase)

	err := fn()
	elapsed := timer.Stop(err)
	if err != nil {
		p.logger.Error("Operator failed",
			zap.String("operator", op.Name()),
			zap.String("phase", phase),
			zap.Error(err),
		)
		return err
	}
	p.logger.Debug("Operator done",
		zap.String("operator", op.Name()),
		zap.String("phase", phase),
		zap.Duration("elapsed", elapsed),
	)
	return nil
}
