package experiment

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Parameters is the opaque input of one experiment invocation.
// It must be JSON-serializable.
type Parameters map[string]interface{}

// Output is the opaque result of one experiment invocation.
type Output map[string]interface{}

// Experiment is one user-defined unit of work.
// Execute receives the parameters and returns a JSON-serializable result.
// A returned error (or a panic) is recorded as the run's error output.
type Experiment interface {
	Name() string
	Execute(ctx context.Context, params Parameters) (Output, error)
}

// Func adapts a plain function to the Experiment interface
type Func struct {
	name string
	fn   func(ctx context.Context, params Parameters) (Output, error)
}

// NewFunc wraps fn under the given name
func NewFunc(name string, fn func(ctx context.Context, params Parameters) (Output, error)) *Func {
	return &Func{name: name, fn: fn}
}

// Name returns the experiment name
func (f *Func) Name() string {
	return f.name
}

// Execute calls the wrapped function
func (f *Func) Execute(ctx context.Context, params Parameters) (Output, error) {
	if f.fn == nil {
		return nil, fmt.Errorf("experiment %q has no function", f.name)
	}
	return f.fn(ctx, params)
}

// Registry maps experiment names to experiments.
// Process isolation resolves experiments by name inside the worker, so
// anything run out of process must be registered before the worker starts.
type Registry struct {
	mu          sync.RWMutex
	experiments map[string]Experiment
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		experiments: make(map[string]Experiment),
	}
}

// DefaultRegistry returns a registry with the built-in experiments
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.MustRegister(ShellCommand())
	return r
}

// Register adds an experiment. Names must be unique and non-empty.
func (r *Registry) Register(exp Experiment) error {
	if exp == nil || exp.Name() == "" {
		return fmt.Errorf("experiment must have a name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.experiments[exp.Name()]; exists {
		return fmt.Errorf("experiment %q already registered", exp.Name())
	}
	r.experiments[exp.Name()] = exp
	return nil
}

// MustRegister is Register for package-level setup; it panics on error
func (r *Registry) MustRegister(exp Experiment) {
	if err := r.Register(exp); err != nil {
		panic(err)
	}
}

// Lookup returns the experiment registered under name
func (r *Registry) Lookup(name string) (Experiment, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exp, ok := r.experiments[name]
	return exp, ok
}

// Names returns registered names in sorted order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.experiments))
	for name := range r.experiments {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
