// Package vaultlease implements the lease provider backed by a HashiCorp
// Vault database secrets engine. Vault mints and expires the actual
// database principal; the entity identifier carried through the
// lifecycle is the Vault lease ID.
package vaultlease

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	multierror "github.com/hashicorp/go-multierror"
	"github.com/hashicorp/vault/api"

	"github.com/stephnangue/lessor/lease"
	"github.com/stephnangue/lessor/logger"
)

// Kind is the backend kind identifier for this provider
const Kind = "vaultlease"

// Config describes one Vault database role target
type Config struct {
	// VaultAddress is the Vault server URL
	VaultAddress string `mapstructure:"vault_address"`

	// VaultNamespace scopes every request when set (Vault Enterprise)
	VaultNamespace string `mapstructure:"vault_namespace"`

	// Token authenticates the client
	Token string `mapstructure:"token"`

	// DatabaseMount and RoleName locate the dynamic role, read at
	// {database_mount}/creds/{role_name}.
	DatabaseMount string `mapstructure:"database_mount"`
	RoleName      string `mapstructure:"role_name"`
}

// Provider implements lease.Provider for Vault-managed database leases
type Provider struct {
	log logger.Logger
}

// New creates the Vault lease provider
func New(log logger.Logger) *Provider {
	return &Provider{
		log: log.WithSubsystem(Kind),
	}
}

// Kind returns the backend kind identifier
func (p *Provider) Kind() string {
	return Kind
}

// Validate parses and sanity-checks a raw config
func (p *Provider) Validate(raw map[string]any) error {
	_, err := parseConfig(raw)
	return err
}

func parseConfig(raw map[string]any) (*Config, error) {
	var cfg Config
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", lease.ErrValidation, err)
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("%w: %v", lease.ErrValidation, err)
	}

	var merr *multierror.Error
	if cfg.VaultAddress == "" {
		merr = multierror.Append(merr, fmt.Errorf("field 'vault_address' is required"))
	}
	if cfg.Token == "" {
		merr = multierror.Append(merr, fmt.Errorf("field 'token' is required"))
	}
	if cfg.DatabaseMount == "" {
		merr = multierror.Append(merr, fmt.Errorf("field 'database_mount' is required"))
	}
	if cfg.RoleName == "" {
		merr = multierror.Append(merr, fmt.Errorf("field 'role_name' is required"))
	}

	if err := merr.ErrorOrNil(); err != nil {
		return nil, fmt.Errorf("%w: %v", lease.ErrValidation, err)
	}

	return &cfg, nil
}

func (p *Provider) client(cfg *Config) (*api.Client, error) {
	apiCfg := api.DefaultConfig()
	apiCfg.Address = cfg.VaultAddress

	client, err := api.NewClient(apiCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Vault client: %v", lease.ErrConnection, err)
	}
	if cfg.VaultNamespace != "" {
		client.SetNamespace(cfg.VaultNamespace)
	}
	client.SetToken(cfg.Token)
	return client, nil
}

// ValidateConnection verifies the token with a lookup-self call. A
// rejected or expired token reports false; failures that never got an
// answer from the server propagate as connection errors so callers can
// retry them.
func (p *Provider) ValidateConnection(ctx context.Context, raw map[string]any) (bool, error) {
	cfg, err := parseConfig(raw)
	if err != nil {
		return false, err
	}

	client, err := p.client(cfg)
	if err != nil {
		return false, err
	}

	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if _, err := client.Auth().Token().LookupSelfWithContext(probeCtx); err != nil {
		if isAPIRejection(err) {
			p.log.Debug("token rejected by lookup-self", logger.Err(err))
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", lease.ErrConnection, err)
	}
	return true, nil
}

// isAPIRejection reports whether Vault answered with an error response,
// as opposed to a transport failure that never reached it.
func isAPIRejection(err error) bool {
	var respErr *api.ResponseError
	return errors.As(err, &respErr)
}

// Create reads dynamic credentials from the configured role. Vault
// enforces its own role-level TTL bounds; the requested expiry is
// expressed as the lease increment on later renewals.
func (p *Provider) Create(ctx context.Context, raw map[string]any, expireAt time.Time) (*lease.Lease, error) {
	cfg, err := parseConfig(raw)
	if err != nil {
		return nil, err
	}

	client, err := p.client(cfg)
	if err != nil {
		return nil, err
	}

	path := fmt.Sprintf("%s/creds/%s", cfg.DatabaseMount, cfg.RoleName)
	secret, err := client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to generate credentials: %v", lease.ErrExecution, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("%w: no credentials returned for role '%s' on mount '%s'", lease.ErrExecution, cfg.RoleName, cfg.DatabaseMount)
	}
	if secret.LeaseID == "" {
		return nil, fmt.Errorf("%w: role '%s' returned no lease, not a dynamic role", lease.ErrExecution, cfg.RoleName)
	}

	data := make(map[string]string, len(secret.Data))
	for k, v := range secret.Data {
		if s, ok := v.(string); ok {
			data[k] = s
		}
	}

	p.log.Debug("generated dynamic credentials",
		logger.String("mount", cfg.DatabaseMount),
		logger.String("vault_role", cfg.RoleName),
		logger.String("lease_id", secret.LeaseID),
	)

	return &lease.Lease{
		EntityID: secret.LeaseID,
		Data:     data,
	}, nil
}

// Renew extends the Vault lease to expireAt
func (p *Provider) Renew(ctx context.Context, raw map[string]any, entityID string, expireAt time.Time) (*lease.Lease, error) {
	cfg, err := parseConfig(raw)
	if err != nil {
		return nil, err
	}
	if err := validateLeaseID(entityID); err != nil {
		return nil, err
	}

	client, err := p.client(cfg)
	if err != nil {
		return nil, err
	}

	increment := int(time.Until(expireAt).Seconds())
	if increment < 1 {
		increment = 1
	}

	if _, err := client.Sys().RenewWithContext(ctx, entityID, increment); err != nil {
		return nil, fmt.Errorf("%w: failed to renew lease %s: %v", lease.ErrExecution, entityID, err)
	}

	return &lease.Lease{EntityID: entityID}, nil
}

// Revoke revokes the Vault lease, which destroys the underlying
// database principal.
func (p *Provider) Revoke(ctx context.Context, raw map[string]any, entityID string) (*lease.Lease, error) {
	cfg, err := parseConfig(raw)
	if err != nil {
		return nil, err
	}
	if err := validateLeaseID(entityID); err != nil {
		return nil, err
	}

	client, err := p.client(cfg)
	if err != nil {
		return nil, err
	}

	if err := client.Sys().RevokeWithContext(ctx, entityID); err != nil {
		return nil, fmt.Errorf("%w: failed to revoke lease %s: %v", lease.ErrExecution, entityID, err)
	}

	return &lease.Lease{EntityID: entityID}, nil
}

// validateLeaseID rejects entity identifiers that cannot be Vault lease
// IDs. Lease IDs always carry the mount path, e.g. database/creds/app/xyz.
func validateLeaseID(entityID string) error {
	if entityID == "" || !strings.Contains(entityID, "/") {
		return fmt.Errorf("%w: entity id %q is not a Vault lease id", lease.ErrValidation, entityID)
	}
	return nil
}
