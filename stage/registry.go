package stage

import (
	"fmt"
	"sort"
	"sync"
)

// ExtractorFactory constructs an Extractor for a type tag.
type ExtractorFactory func() Extractor

// TransformerFactory constructs a Transformer for a type tag.
type TransformerFactory func() Transformer

// LoaderFactory constructs a Loader for a type tag.
type LoaderFactory func() Loader

// Registry maps (role, type tag) to stage constructors. Connectors register
// here before a run starts; resolution of an unknown tag fails with
// ErrUnknownStageType before any I/O is attempted, which is what lets
// connectors be added without touching the orchestrator.
//
// Safe for concurrent use.
type Registry struct {
	mu           sync.RWMutex
	extractors   map[string]ExtractorFactory
	transformers map[string]TransformerFactory
	loaders      map[string]LoaderFactory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		extractors:   make(map[string]ExtractorFactory),
		transformers: make(map[string]TransformerFactory),
		loaders:      make(map[string]LoaderFactory),
	}
}

// RegisterExtractor registers an extractor factory under tag.
// A later registration for the same tag replaces the earlier one.
func (r *Registry) RegisterExtractor(tag string, factory ExtractorFactory) {
	r.mu.Lock()
	r.extractors[tag] = factory
	r.mu.Unlock()
}

// RegisterTransformer registers a transformer factory under tag.
func (r *Registry) RegisterTransformer(tag string, factory TransformerFactory) {
	r.mu.Lock()
	r.transformers[tag] = factory
	r.mu.Unlock()
}

// RegisterLoader registers a loader factory under tag.
func (r *Registry) RegisterLoader(tag string, factory LoaderFactory) {
	r.mu.Lock()
	r.loaders[tag] = factory
	r.mu.Unlock()
}

// Extractor resolves the extractor for tag.
func (r *Registry) Extractor(tag string) (Extractor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	factory, ok := r.extractors[tag]
	if !ok {
		return nil, fmt.Errorf("%w: extractor %q (available: %v)", ErrUnknownStageType, tag, keys(r.extractors))
	}
	return factory(), nil
}

// Transformer resolves the transformer for tag.
func (r *Registry) Transformer(tag string) (Transformer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	factory, ok := r.transformers[tag]
	if !ok {
		return nil, fmt.Errorf("%w: transformer %q (available: %v)", ErrUnknownStageType, tag, keys(r.transformers))
	}
	return factory(), nil
}

// Loader resolves the loader for tag.
func (r *Registry) Loader(tag string) (Loader, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	factory, ok := r.loaders[tag]
	if !ok {
		return nil, fmt.Errorf("%w: loader %q (available: %v)", ErrUnknownStageType, tag, keys(r.loaders))
	}
	return factory(), nil
}

// keys returns sorted map keys for deterministic error messages.
// Caller holds the registry lock.
func keys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
