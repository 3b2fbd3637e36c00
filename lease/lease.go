package lease

import "time"

// Lease is the engine's output for a successful lifecycle operation.
// EntityID is the durable handle the caller must round-trip into renew
// and revoke; the engine itself keeps no lease state between calls.
type Lease struct {
	// EntityID identifies the credential at the backend (for the SQL
	// providers this is the generated username).
	EntityID string

	// Data is the secret payload returned to the caller on create.
	// Empty for renew and revoke receipts.
	Data map[string]string
}

// CredentialPair is a generated username/password pair. It exists only
// transiently during create and is never persisted by the engine.
type CredentialPair struct {
	Username string
	Password string
}

// TemplateContext is the binding set handed to the statement renderer.
// Keys are the variable names template authors may reference.
type TemplateContext map[string]string

// NewCreateContext builds the binding set for a creation statement.
// This is the only context that carries a password.
func NewCreateContext(pair *CredentialPair, expireAt time.Time, database string) TemplateContext {
	return TemplateContext{
		"username":   pair.Username,
		"password":   pair.Password,
		"expiration": expireAt.UTC().Format(time.RFC3339),
		"database":   database,
	}
}

// NewRenewContext builds the binding set for a renewal statement
func NewRenewContext(entityID string, expireAt time.Time, database string) TemplateContext {
	return TemplateContext{
		"username":   entityID,
		"expiration": expireAt.UTC().Format(time.RFC3339),
		"database":   database,
	}
}

// NewRevokeContext builds the binding set for a revocation statement
func NewRevokeContext(entityID string, database string) TemplateContext {
	return TemplateContext{
		"username": entityID,
		"database": database,
	}
}
