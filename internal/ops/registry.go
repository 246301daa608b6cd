package ops

import (
	"fmt"
	"sort"

	"github.com/GriffinCanCode/telesim/internal/infrastructure/config"
	"github.com/GriffinCanCode/telesim/internal/infrastructure/logging"
	"github.com/GriffinCanCode/telesim/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/telesim/internal/instrument"
	"github.com/GriffinCanCode/telesim/internal/shared/faults"
	"github.com/GriffinCanCode/telesim/internal/shared/id"
)

// DefaultPipelineName names the pipeline built when the document does not.
const DefaultPipelineName = "main"

// Bindings are the late-bound collaborators handed to operator factories.
type Bindings struct {
	Telescope *instrument.Telescope
	RunID     id.RunID
	Metrics   *monitoring.Metrics
	Logger    *logging.Logger
}

// Factory builds a named operator from its configuration section.
type Factory func(name string, sec config.Section, b Bindings) (Operator, error)

type registration struct {
	factory  Factory
	defaults func() any
}

// Registry maps operator classes to factories.
type Registry struct {
	classes map[string]registration
	order   []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{classes: make(map[string]registration)}
}

// DefaultRegistry returns a registry holding the reference operators in
// their default pipeline order.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(SimSatelliteClass, newSimSatellite, func() any { return DefaultSimSatelliteParams() })
	r.Register(NoiseModelClass, newDefaultNoiseModel, func() any { return DefaultNoiseModelParams() })
	r.Register(SimNoiseClass, newSimNoise, func() any { return DefaultSimNoiseParams() })
	return r
}

// Register adds a class. defaults returns the default parameter struct used
// for config dumps. Registering a class twice panics.
func (r *Registry) Register(class string, factory Factory, defaults func() any) {
	if _, ok := r.classes[class]; ok {
		panic(fmt.Sprintf("ops: class %q registered twice", class))
	}
	r.classes[class] = registration{factory: factory, defaults: defaults}
	r.order = append(r.order, class)
}

// Classes returns the registered classes in registration order.
func (r *Registry) Classes() []string {
	return append([]string(nil), r.order...)
}

// Defaults returns a document with one instance of every class, named after
// the class, run in registration order over every detector.
func (r *Registry) Defaults() *config.Document {
	doc := config.NewDocument()
	doc.Pipeline.Name = DefaultPipelineName
	for _, class := range r.order {
		sec, err := config.EncodeParams(class, r.classes[class].defaults())
		if err != nil {
			panic(fmt.Sprintf("ops: encode defaults of %q: %v", class, err))
		}
		doc.Operators[class] = sec
		doc.Pipeline.Operators = append(doc.Pipeline.Operators, class)
	}
	return doc
}

// Create builds every operator in the document.
func (r *Registry) Create(doc *config.Document, b Bindings) (map[string]Operator, error) {
	names := make([]string, 0, len(doc.Operators))
	for name := range doc.Operators {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(map[string]Operator, len(names))
	for _, name := range names {
		sec := doc.Operators[name]
		class, _ := sec[config.ClassKey].(string)
		if class == "" {
			return nil, faults.Configf(name, "missing %q key", config.ClassKey)
		}
		reg, ok := r.classes[class]
		if !ok {
			return nil, faults.Configf(name, "unknown operator class %q", class)
		}
		op, err := reg.factory(name, sec, b)
		if err != nil {
			return nil, err
		}
		out[name] = op
	}
	return out, nil
}

// Build creates the operators of doc and arranges them in the pipeline the
// document describes.
func (r *Registry) Build(doc *config.Document, b Bindings) (*Pipeline, error) {
	ops, err := r.Create(doc, b)
	if err != nil {
		return nil, err
	}
	if len(doc.Pipeline.Operators) == 0 {
		return nil, faults.Configf("pipeline", "no operators listed")
	}

	ordered := make([]Operator, 0, len(doc.Pipeline.Operators))
	for _, name := range doc.Pipeline.Operators {
		op, ok := ops[name]
		if !ok {
			return nil, faults.Configf("pipeline", "operator %q is not configured", name)
		}
		ordered = append(ordered, op)
	}

	sets := AllDetectors()
	if len(doc.Pipeline.DetectorSets) > 0 {
		sets, err = Subsets(doc.Pipeline.DetectorSets...)
		if err != nil {
			return nil, err
		}
	}

	name := doc.Pipeline.Name
	if name == "" {
		name = DefaultPipelineName
	}
	return NewPipeline(name, PipelineParams{Operators: ordered, DetectorSets: sets})
}

// decodeParams overlays sec onto defaults.
func decodeParams[P any](name string, sec config.Section, defaults P) (P, error) {
	params := defaults
	if err := config.DecodeParams(name, sec, &params); err != nil {
		return defaults, err
	}
	return params, nil
}
