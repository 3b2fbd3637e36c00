package sql

import (
	"encoding/pem"
	"fmt"

	"github.com/go-viper/mapstructure/v2"
	multierror "github.com/hashicorp/go-multierror"

	"github.com/stephnangue/lessor/lease"
)

// Config is the validated description of one database target. It is
// owned by a single lifecycle call and discarded at its end.
type Config struct {
	// Host and Port locate the real target, even when the connection is
	// routed through a relay.
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`

	// Database is the target database or schema name
	Database string `mapstructure:"database"`

	// AdminUsername and AdminPassword authenticate the session that runs
	// the lifecycle statements.
	AdminUsername string `mapstructure:"admin_username"`
	AdminPassword string `mapstructure:"admin_password"`

	// CACertificate enables TLS to the target when present (PEM)
	CACertificate string `mapstructure:"ca_certificate"`

	// Lifecycle statement templates. Renewal is optional; a config
	// without it makes renew a no-op for this target.
	CreationStatement   string `mapstructure:"creation_statement"`
	RevocationStatement string `mapstructure:"revocation_statement"`
	RenewalStatement    string `mapstructure:"renewal_statement"`

	// RelayID routes the connection through a gateway relay when set
	RelayID string `mapstructure:"relay_id"`
}

// parseConfig decodes and validates a raw config map. It is the single
// validation gate: every other method trusts a Config it returned.
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

	if cfg.Database == "" {
		merr = multierror.Append(merr, fmt.Errorf("field 'database' is required"))
	}
	if cfg.AdminUsername == "" {
		merr = multierror.Append(merr, fmt.Errorf("field 'admin_username' is required"))
	}
	if cfg.AdminPassword == "" {
		merr = multierror.Append(merr, fmt.Errorf("field 'admin_password' is required"))
	}
	if cfg.CreationStatement == "" {
		merr = multierror.Append(merr, fmt.Errorf("field 'creation_statement' is required"))
	}
	if cfg.RevocationStatement == "" {
		merr = multierror.Append(merr, fmt.Errorf("field 'revocation_statement' is required"))
	}
	if cfg.CACertificate != "" && !isValidPEM(cfg.CACertificate) {
		merr = multierror.Append(merr, fmt.Errorf("field 'ca_certificate' is not valid PEM"))
	}

	if err := lease.ValidateHostPort(cfg.Host, cfg.Port, cfg.RelayID != ""); err != nil {
		merr = multierror.Append(merr, err)
	}

	if err := merr.ErrorOrNil(); err != nil {
		return nil, fmt.Errorf("%w: %v", lease.ErrValidation, err)
	}

	return &cfg, nil
}

func isValidPEM(data string) bool {
	block, _ := pem.Decode([]byte(data))
	return block != nil
}
