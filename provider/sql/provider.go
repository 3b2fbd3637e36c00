package sql

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/stephnangue/lessor/gateway"
	"github.com/stephnangue/lessor/lease"
	"github.com/stephnangue/lessor/logger"
)

// entityIDPattern matches usernames produced by the credential
// generator. Entity identifiers are rendered into statement text, so
// anything else is rejected before it reaches a template.
var entityIDPattern = regexp.MustCompile(`^[A-Za-z0-9]{1,64}$`)

// Provider implements lease.Provider for one SQL dialect
type Provider struct {
	dialect   Dialect
	directory gateway.Directory
	log       logger.Logger
}

// New creates a provider for the named dialect. directory may be nil
// when no relay-routed targets are expected.
func New(kind string, directory gateway.Directory, log logger.Logger) (*Provider, error) {
	d, ok := dialects[kind]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported dialect %q", lease.ErrValidation, kind)
	}
	return &Provider{
		dialect:   d,
		directory: directory,
		log:       log.WithSubsystem(kind),
	}, nil
}

// Kind returns the dialect name
func (p *Provider) Kind() string {
	return p.dialect.Name
}

// Validate parses and sanity-checks a raw config
func (p *Provider) Validate(raw map[string]any) error {
	_, err := parseConfig(raw)
	return err
}

// ValidateConnection opens a session and runs the dialect's liveness
// statement. A probe failure on a healthy session reports false without
// an error; everything else propagates.
func (p *Provider) ValidateConnection(ctx context.Context, raw map[string]any) (bool, error) {
	cfg, err := parseConfig(raw)
	if err != nil {
		return false, err
	}

	alive := false
	err = p.route(ctx, cfg, func(ctx context.Context, host string, port int) error {
		sess, err := p.dialect.open(ctx, cfg, host, port)
		if err != nil {
			return err
		}
		defer sess.Close()

		if _, err := sess.db.ExecContext(ctx, p.dialect.LivenessStatement); err != nil {
			p.log.Debug("liveness probe failed", logger.Err(err))
			return nil
		}
		alive = true
		return nil
	})
	if err != nil {
		return false, err
	}

	return alive, nil
}

// Create generates a credential pair, renders the creation template and
// executes the statements in one transaction. A failure anywhere rolls
// the whole batch back, so no partial principal survives.
func (p *Provider) Create(ctx context.Context, raw map[string]any, expireAt time.Time) (*lease.Lease, error) {
	cfg, err := parseConfig(raw)
	if err != nil {
		return nil, err
	}

	pair, err := lease.GenerateCredentialPair(p.dialect.CredentialRules)
	if err != nil {
		return nil, err
	}

	statements, err := lease.RenderStatements(cfg.CreationStatement, lease.NewCreateContext(pair, expireAt, cfg.Database))
	if err != nil {
		return nil, err
	}

	if err := p.execute(ctx, cfg, statements); err != nil {
		return nil, err
	}

	return &lease.Lease{
		EntityID: pair.Username,
		Data: map[string]string{
			"username": pair.Username,
			"password": pair.Password,
		},
	}, nil
}

// Renew extends the credential to expireAt. Targets configured without a
// renewal template return the receipt immediately, with no backend I/O.
func (p *Provider) Renew(ctx context.Context, raw map[string]any, entityID string, expireAt time.Time) (*lease.Lease, error) {
	cfg, err := parseConfig(raw)
	if err != nil {
		return nil, err
	}

	if cfg.RenewalStatement == "" {
		return &lease.Lease{EntityID: entityID}, nil
	}

	if err := validateEntityID(entityID); err != nil {
		return nil, err
	}

	statements, err := lease.RenderStatements(cfg.RenewalStatement, lease.NewRenewContext(entityID, expireAt, cfg.Database))
	if err != nil {
		return nil, err
	}

	if err := p.execute(ctx, cfg, statements); err != nil {
		return nil, err
	}

	return &lease.Lease{EntityID: entityID}, nil
}

// Revoke renders and executes the revocation template. Idempotency
// toward an already-removed principal is the template's responsibility
// (e.g. DROP USER IF EXISTS).
func (p *Provider) Revoke(ctx context.Context, raw map[string]any, entityID string) (*lease.Lease, error) {
	cfg, err := parseConfig(raw)
	if err != nil {
		return nil, err
	}

	if err := validateEntityID(entityID); err != nil {
		return nil, err
	}

	statements, err := lease.RenderStatements(cfg.RevocationStatement, lease.NewRevokeContext(entityID, cfg.Database))
	if err != nil {
		return nil, err
	}

	if err := p.execute(ctx, cfg, statements); err != nil {
		return nil, err
	}

	return &lease.Lease{EntityID: entityID}, nil
}

// route runs fn against the resolved endpoint: the configured host and
// port directly, or a gateway tunnel's local endpoint when the config
// names a relay.
func (p *Provider) route(ctx context.Context, cfg *Config, fn func(ctx context.Context, host string, port int) error) error {
	if cfg.RelayID == "" {
		return fn(ctx, cfg.Host, cfg.Port)
	}

	if p.directory == nil {
		return fmt.Errorf("%w: target requires relay %q but no relay directory is configured", lease.ErrGateway, cfg.RelayID)
	}

	details, err := p.directory.ResolveRelay(ctx, cfg.RelayID)
	if err != nil {
		return err
	}

	return gateway.WithTunnel(ctx, details, cfg.Host, cfg.Port, p.log, func(host string, port int) error {
		return fn(ctx, host, port)
	})
}

// execute runs the statements inside a single transaction on a fresh
// session, routed per the config. The session is closed on every path.
func (p *Provider) execute(ctx context.Context, cfg *Config, statements []string) error {
	return p.route(ctx, cfg, func(ctx context.Context, host string, port int) error {
		sess, err := p.dialect.open(ctx, cfg, host, port)
		if err != nil {
			return err
		}
		defer sess.Close()

		tx, err := sess.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("%w: failed to begin transaction: %v", lease.ErrConnection, err)
		}

		for _, statement := range statements {
			if _, err := tx.ExecContext(ctx, statement); err != nil {
				if rbErr := tx.Rollback(); rbErr != nil {
					p.log.Warn("transaction rollback failed", logger.Err(rbErr))
				}
				return fmt.Errorf("%w: %v", lease.ErrExecution, err)
			}
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("%w: commit failed: %v", lease.ErrExecution, err)
		}
		return nil
	})
}

func validateEntityID(entityID string) error {
	if !entityIDPattern.MatchString(entityID) {
		return fmt.Errorf("%w: entity id %q is not a generated username", lease.ErrValidation, entityID)
	}
	return nil
}
