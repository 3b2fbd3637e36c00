package lease

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderStatements_CreateContext(t *testing.T) {
	pair := &CredentialPair{Username: "u1", Password: "p1"}
	expireAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	statements, err := RenderStatements(
		`CREATE USER "{{.username}}" WITH PASSWORD '{{.password}}' VALID UNTIL '{{.expiration}}'; GRANT CONNECT ON DATABASE {{.database}} TO "{{.username}}"`,
		NewCreateContext(pair, expireAt, "app"),
	)
	require.NoError(t, err)
	require.Len(t, statements, 2)
	assert.Equal(t, `CREATE USER "u1" WITH PASSWORD 'p1' VALID UNTIL '2026-03-01T12:00:00Z'`, statements[0])
	assert.Equal(t, `GRANT CONNECT ON DATABASE app TO "u1"`, statements[1])
}

func TestRenderStatements_DiscardsEmptyFragments(t *testing.T) {
	statements, err := RenderStatements(
		"DROP USER {{.username}};\n ;  ;",
		NewRevokeContext("u1", "app"),
	)
	require.NoError(t, err)
	require.Len(t, statements, 1)
	assert.Equal(t, "DROP USER u1", statements[0])
}

func TestRenderStatements_MissingVariable(t *testing.T) {
	// Renewal context carries no password, so referencing it is an error
	// rather than an empty substitution.
	_, err := RenderStatements(
		"ALTER USER {{.username}} PASSWORD '{{.password}}'",
		NewRenewContext("u1", time.Now().Add(time.Hour), "app"),
	)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTemplate)
}

func TestRenderStatements_ParseError(t *testing.T) {
	_, err := RenderStatements("DROP USER {{.username", NewRevokeContext("u1", "app"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTemplate)
}

func TestRenderStatements_EmptyOutput(t *testing.T) {
	_, err := RenderStatements("  ;  ", NewRevokeContext("u1", "app"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTemplate)
}

func TestNewRevokeContext_NoPasswordOrExpiration(t *testing.T) {
	ctx := NewRevokeContext("u1", "app")
	assert.NotContains(t, ctx, "password")
	assert.NotContains(t, ctx, "expiration")
}
