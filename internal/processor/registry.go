package processor

import (
	"fmt"
	"sort"

	"github.com/H4tholdir/archibaldblackant-sub012/internal/domain"
)

// Registry is the explicit kind-to-handler table. It is populated by the
// composition root and validated once at startup; dispatch never guesses.
type Registry struct {
	handlers map[domain.OperationKind]domain.Handler
}

// NewRegistry returns an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[domain.OperationKind]domain.Handler)}
}

// Register binds a handler to a registered operation kind. Unknown kinds
// and duplicate registrations are configuration mistakes and fail loudly.
func (r *Registry) Register(kind domain.OperationKind, h domain.Handler) error {
	if !domain.Valid(kind) {
		return fmt.Errorf("op=registry.register: unknown kind %q: %w", kind, domain.ErrInvalidArgument)
	}
	if h == nil {
		return fmt.Errorf("op=registry.register: nil handler for %q: %w", kind, domain.ErrInvalidArgument)
	}
	if _, dup := r.handlers[kind]; dup {
		return fmt.Errorf("op=registry.register: duplicate handler for %q: %w", kind, domain.ErrConflict)
	}
	r.handlers[kind] = h
	return nil
}

// MustRegister is Register for composition roots, panicking on error.
func (r *Registry) MustRegister(kind domain.OperationKind, h domain.Handler) {
	if err := r.Register(kind, h); err != nil {
		panic(err)
	}
}

// RegisterFunc binds a HandlerFunc.
func (r *Registry) RegisterFunc(kind domain.OperationKind, fn domain.HandlerFunc) error {
	return r.Register(kind, fn)
}

// Lookup returns the handler for kind.
func (r *Registry) Lookup(kind domain.OperationKind) (domain.Handler, bool) {
	h, ok := r.handlers[kind]
	return h, ok
}

// Validate checks that every kind in the operation registry has a handler.
// The server refuses to start on a partial table.
func (r *Registry) Validate() error {
	var missing []string
	for _, k := range domain.Kinds() {
		if _, ok := r.handlers[k]; !ok {
			missing = append(missing, string(k))
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("op=registry.validate: no handler for kinds %v: %w", missing, domain.ErrInternal)
	}
	return nil
}
