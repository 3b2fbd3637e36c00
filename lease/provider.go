package lease

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Provider is the capability interface a backend kind implements. The
// engine is stateless between calls: everything a provider needs for
// renew or revoke round-trips through the caller as the raw config plus
// the entity identifier returned by Create.
//
// Raw configs arrive as untyped maps; each provider decodes and validates
// its own shape and must not trust any field it has not validated.
type Provider interface {
	// Kind returns the backend kind identifier (e.g. "postgres", "awsiam")
	Kind() string

	// Validate parses and sanity-checks a raw config without touching
	// the backend. It is the single validation gate for the kind.
	Validate(raw map[string]any) error

	// ValidateConnection opens a session and runs a liveness probe. It
	// returns (false, nil) only when the session was acquired but the
	// probe failed; validation and connection errors propagate. It never
	// mutates remote state.
	ValidateConnection(ctx context.Context, raw map[string]any) (bool, error)

	// Create issues a fresh credential that expires at expireAt and
	// returns the lease holding the entity identifier and secret payload
	Create(ctx context.Context, raw map[string]any, expireAt time.Time) (*Lease, error)

	// Renew extends the credential identified by entityID to expireAt.
	// Kinds without renewal capability return a receipt without backend I/O.
	Renew(ctx context.Context, raw map[string]any, entityID string, expireAt time.Time) (*Lease, error)

	// Revoke destroys the credential identified by entityID. The
	// rendered statements (or API calls) are expected to tolerate a
	// principal already removed by an external actor.
	Revoke(ctx context.Context, raw map[string]any, entityID string) (*Lease, error)
}

// Registry holds providers keyed by backend kind
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates an empty provider registry
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
	}
}

// Register adds a provider to the registry
func (r *Registry) Register(p Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	kind := p.Kind()
	if _, exists := r.providers[kind]; exists {
		return fmt.Errorf("%w: %s", ErrKindAlreadyRegistered, kind)
	}

	r.providers[kind] = p
	return nil
}

// Get retrieves a provider by its kind
func (r *Registry) Get(kind string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, exists := r.providers[kind]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrKindNotFound, kind)
	}

	return p, nil
}

// Kinds returns all registered backend kinds, sorted
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]string, 0, len(r.providers))
	for kind := range r.providers {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// HasKind checks if a provider is registered for the given kind
func (r *Registry) HasKind(kind string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.providers[kind]
	return exists
}
