package sql

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresDSN_CleanupUnregisters(t *testing.T) {
	// The stdlib adapter keys registrations globally, one per session;
	// the returned cleanup must release the entry so repeated lifecycle
	// calls do not accumulate config state.
	cfg, err := parseConfig(validRawConfig())
	require.NoError(t, err)

	dsn, cleanup, err := postgresDSN(cfg, cfg.Host, cfg.Port)
	require.NoError(t, err)
	require.NotEmpty(t, dsn)
	require.NotNil(t, cleanup)

	// The DSN is the synthetic registration key, not a connection URL
	assert.False(t, strings.Contains(dsn, cfg.Host))

	cleanup()
}

func TestMySQLDSN_NoTLSNeedsNoCleanup(t *testing.T) {
	cfg, err := parseConfig(validRawConfig())
	require.NoError(t, err)

	dsn, cleanup, err := mysqlDSN(cfg, cfg.Host, cfg.Port)
	require.NoError(t, err)
	assert.Contains(t, dsn, "tcp(db.example.com:5432)")
	assert.Nil(t, cleanup)
}

func TestMySQLDSN_TLSRegistrationCleanup(t *testing.T) {
	raw := validRawConfig()
	raw["ca_certificate"] = testCAPEM
	cfg, err := parseConfig(raw)
	require.NoError(t, err)

	dsn, cleanup, err := mysqlDSN(cfg, cfg.Host, cfg.Port)
	require.NoError(t, err)
	assert.Contains(t, dsn, "tls=")
	require.NotNil(t, cleanup)

	cleanup()
}
