package jobs

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/cuongbtq/tickqueue/internal/jobqueue"
)

// Resulter is implemented by runners that expose their output
type Resulter interface {
	Result() any
}

// BuildFunc turns validated parameters into a runner
type BuildFunc func(params json.RawMessage) (jobqueue.Runner, error)

// Factory describes how to build one kind of job
type Factory struct {
	Kind   string
	Queue  string
	Schema string
	Build  BuildFunc
}

type entry struct {
	factory Factory
	schema  *jsonschema.Schema
}

// Registry maps job kinds to their factories
type Registry struct {
	mu    sync.RWMutex
	kinds map[string]*entry
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{kinds: make(map[string]*entry)}
}

// DefaultRegistry registers the built-in kinds, routed by kind name.
// Kinds missing from routes get an empty queue name, which the driver maps to its default queue.
func DefaultRegistry(routes map[string]string) (*Registry, error) {
	r := NewRegistry()
	factories := []Factory{
		{Kind: KindPathfind, Queue: routes[KindPathfind], Schema: pathfindSchema, Build: buildPathfind},
		{Kind: KindReachability, Queue: routes[KindReachability], Schema: reachabilitySchema, Build: buildReachability},
		{Kind: KindCountdown, Queue: routes[KindCountdown], Schema: countdownSchema, Build: buildCountdown},
	}
	for _, f := range factories {
		if err := r.Register(f); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register compiles the factory schema and adds the kind
func (r *Registry) Register(f Factory) error {
	if f.Kind == "" || f.Build == nil {
		return fmt.Errorf("factory requires a kind and a build function")
	}

	e := &entry{factory: f}
	if f.Schema != "" {
		schema, err := jsonschema.CompileString(f.Kind+".schema.json", f.Schema)
		if err != nil {
			return fmt.Errorf("failed to compile schema for %s: %w", f.Kind, err)
		}
		e.schema = schema
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.kinds[f.Kind]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateKind, f.Kind)
	}
	r.kinds[f.Kind] = e

	return nil
}

// Kinds lists the registered kinds in name order
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]string, 0, len(r.kinds))
	for k := range r.kinds {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// QueueFor returns the queue a kind is routed to
func (r *Registry) QueueFor(kind string) (string, error) {
	e, err := r.lookup(kind)
	if err != nil {
		return "", err
	}
	return e.factory.Queue, nil
}

// Validate checks params against the kind's schema without building a runner
func (r *Registry) Validate(kind string, params json.RawMessage) error {
	e, err := r.lookup(kind)
	if err != nil {
		return err
	}
	return e.validate(params)
}

// Build validates params and constructs a runner for kind
func (r *Registry) Build(kind string, params json.RawMessage) (jobqueue.Runner, error) {
	e, err := r.lookup(kind)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(params)) == 0 {
		params = json.RawMessage("{}")
	}
	if err := e.validate(params); err != nil {
		return nil, err
	}

	runner, err := e.factory.Build(params)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s job: %w", kind, err)
	}
	return runner, nil
}

func (r *Registry) lookup(kind string) (*entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.kinds[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return e, nil
}

func (e *entry) validate(params json.RawMessage) error {
	if e.schema == nil {
		return nil
	}
	if len(bytes.TrimSpace(params)) == 0 {
		params = json.RawMessage("{}")
	}

	var doc any
	if err := json.Unmarshal(params, &doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	if err := e.schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	return nil
}
