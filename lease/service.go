package lease

import (
	"context"
	"crypto/rand"
	"fmt"
	"time"

	metrics "github.com/hashicorp/go-metrics"
	"github.com/mitchellh/copystructure"
	"github.com/oklog/ulid"

	"github.com/stephnangue/lessor/logger"
)

// Service is the lease orchestrator. It dispatches lifecycle calls to the
// provider registered for the requested backend kind and carries the
// cross-cutting concerns: request correlation, metrics, and isolating
// providers from caller-owned config maps. Each call constructs its own
// session and tunnel inside the provider; the service holds no per-lease
// state and is safe for concurrent use.
type Service struct {
	registry *Registry
	log      logger.Logger
}

// NewService creates a lease service over the given provider registry
func NewService(registry *Registry, log logger.Logger) *Service {
	return &Service{
		registry: registry,
		log:      log.WithSubsystem("lease"),
	}
}

// Validate statically checks a raw config against the rules of the
// requested kind, without touching any backend.
func (s *Service) Validate(kind string, raw map[string]any) error {
	defer metrics.MeasureSince([]string{"lessor", "validate"}, time.Now())

	p, cfg, log, err := s.prepare(kind, raw)
	if err != nil {
		return err
	}

	if err := p.Validate(cfg); err != nil {
		log.Debug("config validation failed", logger.Err(err))
		return err
	}
	return nil
}

// Kinds returns the registered backend kinds, sorted
func (s *Service) Kinds() []string {
	return s.registry.Kinds()
}

// ValidateConnection checks that the configured backend is reachable and
// correctly credentialed. It returns false (not an error) only when the
// liveness probe failed on an otherwise healthy session.
func (s *Service) ValidateConnection(ctx context.Context, kind string, raw map[string]any) (bool, error) {
	defer metrics.MeasureSince([]string{"lessor", "validate_connection"}, time.Now())

	p, cfg, log, err := s.prepare(kind, raw)
	if err != nil {
		return false, err
	}

	ok, err := p.ValidateConnection(ctx, cfg)
	if err != nil {
		log.Error("connection validation failed", logger.Err(err))
		return false, err
	}

	log.Debug("connection validated", logger.Bool("alive", ok))
	return ok, nil
}

// Create issues a new lease expiring at expireAt and returns the entity
// identifier plus the secret payload. On any failure no partial
// credential remains at the backend.
func (s *Service) Create(ctx context.Context, kind string, raw map[string]any, expireAt time.Time) (*Lease, error) {
	defer metrics.MeasureSince([]string{"lessor", "create"}, time.Now())

	p, cfg, log, err := s.prepare(kind, raw)
	if err != nil {
		return nil, err
	}

	if !expireAt.After(time.Now()) {
		return nil, fmt.Errorf("%w: expiration %s is in the past", ErrValidation, expireAt.UTC().Format(time.RFC3339))
	}

	l, err := p.Create(ctx, cfg, expireAt)
	if err != nil {
		metrics.IncrCounter([]string{"lessor", "create", "error"}, 1)
		log.Error("lease creation failed", logger.Err(err))
		return nil, err
	}

	log.Info("lease created",
		logger.String("entity_id", l.EntityID),
		logger.Time("expire_at", expireAt))
	return l, nil
}

// Renew extends the lease identified by entityID to expireAt. Kinds or
// configs without renewal capability return the receipt untouched.
func (s *Service) Renew(ctx context.Context, kind string, raw map[string]any, entityID string, expireAt time.Time) (*Lease, error) {
	defer metrics.MeasureSince([]string{"lessor", "renew"}, time.Now())

	p, cfg, log, err := s.prepare(kind, raw)
	if err != nil {
		return nil, err
	}

	if entityID == "" {
		return nil, fmt.Errorf("%w: entity id is required", ErrValidation)
	}
	if !expireAt.After(time.Now()) {
		return nil, fmt.Errorf("%w: expiration %s is in the past", ErrValidation, expireAt.UTC().Format(time.RFC3339))
	}

	l, err := p.Renew(ctx, cfg, entityID, expireAt)
	if err != nil {
		metrics.IncrCounter([]string{"lessor", "renew", "error"}, 1)
		log.Error("lease renewal failed", logger.String("entity_id", entityID), logger.Err(err))
		return nil, err
	}

	log.Info("lease renewed", logger.String("entity_id", entityID))
	return l, nil
}

// Revoke destroys the lease identified by entityID and returns a receipt
func (s *Service) Revoke(ctx context.Context, kind string, raw map[string]any, entityID string) (*Lease, error) {
	defer metrics.MeasureSince([]string{"lessor", "revoke"}, time.Now())

	p, cfg, log, err := s.prepare(kind, raw)
	if err != nil {
		return nil, err
	}

	if entityID == "" {
		return nil, fmt.Errorf("%w: entity id is required", ErrValidation)
	}

	l, err := p.Revoke(ctx, cfg, entityID)
	if err != nil {
		metrics.IncrCounter([]string{"lessor", "revoke", "error"}, 1)
		log.Error("lease revocation failed", logger.String("entity_id", entityID), logger.Err(err))
		return nil, err
	}

	log.Info("lease revoked", logger.String("entity_id", entityID))
	return l, nil
}

// prepare resolves the provider, deep-copies the raw config so the
// provider can never mutate caller state, and scopes the logger with a
// fresh request id.
func (s *Service) prepare(kind string, raw map[string]any) (Provider, map[string]any, logger.Logger, error) {
	p, err := s.registry.Get(kind)
	if err != nil {
		return nil, nil, nil, err
	}

	cfg := map[string]any{}
	if raw != nil {
		copied, err := copystructure.Copy(raw)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("%w: failed to copy config: %v", ErrValidation, err)
		}
		cfg = copied.(map[string]any)
	}

	log := s.log.WithFields(
		logger.String("request_id", newRequestID()),
		logger.String("kind", kind),
	)

	return p, cfg, log, nil
}

// newRequestID returns a ULID for per-call log correlation
func newRequestID() string {
	return ulid.MustNew(ulid.Now(), rand.Reader).String()
}
