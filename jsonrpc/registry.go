package jsonrpc

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
)

// Handler is the function invoked for a registered method. It receives the
// request-scoped context, the request params and the endpoint's application
// context value, which the engine never inspects.
type Handler[C any] func(ctx context.Context, params Params, app C) (interface{}, error)

// MethodConfig carries the optional metadata attached at registration.
type MethodConfig struct {
	Description string
	// Schema is an opaque description of the params, typically a JSON Schema
	// built with SchemaFor.
	Schema interface{}
	// ExposeSchema lists the method in the describeAll introspection result.
	ExposeSchema bool
}

// Method is a registry entry. Lookups return copies, so an entry observed by
// a caller never changes.
type Method[C any] struct {
	Name         string
	Handler      Handler[C]
	Description  string
	Schema       interface{}
	ExposeSchema bool
}

// Registry maps method names to handlers. It is safe for concurrent use.
type Registry[C any] struct {
	prefix string

	mu      sync.RWMutex
	methods map[string]Method[C]
}

// NewRegistry creates a registry that reserves names starting with
// prefix + ".". An empty prefix reserves nothing.
func NewRegistry[C any](prefix string) *Registry[C] {
	return &Registry[C]{
		prefix:  prefix,
		methods: make(map[string]Method[C]),
	}
}

// Register adds a method. It fails with ErrInvalidName for blank names or a
// nil handler, ErrReservedName for names in the introspection namespace and
// ErrDuplicateMethod if the name is taken.
func (r *Registry[C]) Register(name string, h Handler[C], cfg MethodConfig) error {
	if r.IsReserved(name) {
		return fmt.Errorf("%w: names starting with %q are reserved for introspection", ErrReservedName, r.prefix+".")
	}
	return r.register(name, h, cfg)
}

// registerReserved is the bootstrap path used for introspection methods.
func (r *Registry[C]) registerReserved(name string, h Handler[C], cfg MethodConfig) error {
	return r.register(name, h, cfg)
}

func (r *Registry[C]) register(name string, h Handler[C], cfg MethodConfig) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: method name cannot be empty", ErrInvalidName)
	}
	if h == nil {
		return fmt.Errorf("%w: nil handler for %q", ErrInvalidName, name)
	}

	m := Method[C]{
		Name:         name,
		Handler:      h,
		Description:  cfg.Description,
		Schema:       cfg.Schema,
		ExposeSchema: cfg.ExposeSchema,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.methods[name]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateMethod, name)
	}
	r.methods[name] = m
	return nil
}

// Unregister removes a method. Removing an unknown name is a no-op.
func (r *Registry[C]) Unregister(name string) {
	r.mu.Lock()
	delete(r.methods, name)
	r.mu.Unlock()
}

// Lookup returns the entry registered under name.
func (r *Registry[C]) Lookup(name string) (Method[C], bool) {
	r.mu.RLock()
	m, ok := r.methods[name]
	r.mu.RUnlock()
	return m, ok
}

// Names returns every registered name, reserved ones included, sorted.
func (r *Registry[C]) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.methods))
	for name := range r.methods {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// UserNames returns the sorted names outside the reserved namespace.
func (r *Registry[C]) UserNames() []string {
	all := r.Names()
	names := all[:0]
	for _, name := range all {
		if !r.IsReserved(name) {
			names = append(names, name)
		}
	}
	return names
}

// Methods returns copies of all non-reserved entries, sorted by name.
func (r *Registry[C]) Methods() []Method[C] {
	r.mu.RLock()
	out := make([]Method[C], 0, len(r.methods))
	for name, m := range r.methods {
		if !r.IsReserved(name) {
			out = append(out, m)
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of registered methods, reserved ones included.
func (r *Registry[C]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.methods)
}

// IsReserved reports whether name lies in the introspection namespace.
func (r *Registry[C]) IsReserved(name string) bool {
	return r.prefix != "" && strings.HasPrefix(name, r.prefix+".")
}

// Prefix returns the reserved namespace prefix.
func (r *Registry[C]) Prefix() string {
	return r.prefix
}

// SchemaFor reflects a JSON Schema from the params type P, suitable for
// MethodConfig.Schema.
func SchemaFor[P any]() *jsonschema.Schema {
	r := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	return r.Reflect(new(P))
}
