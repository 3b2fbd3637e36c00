// Package sql implements the lease provider for relational database
// backends. One provider instance is bound to one dialect; lifecycle
// statements are rendered from the configured templates and executed in
// a single transaction per call.
package sql

import (
	"github.com/stephnangue/lessor/lease"
)

// Dialect kinds
const (
	KindPostgres = "postgres"
	KindMySQL    = "mysql"
	KindMSSQL    = "mssql"
	KindOracle   = "oracle"
)

// Dialect captures the per-backend quirks the engine has to honor
type Dialect struct {
	// Name is the backend kind identifier
	Name string

	// DriverName is the registered database/sql driver
	DriverName string

	// LivenessStatement is the trivial probe run by connection validation
	LivenessStatement string

	// CredentialRules carries the generator constraints for this backend
	CredentialRules lease.CredentialRules
}

// dialects enumerates the supported backends. Oracle's client caps
// passwords at 30 characters, and its default identifier folding assumes
// uppercase when the identifier is not quoted.
var dialects = map[string]Dialect{
	KindPostgres: {
		Name:              KindPostgres,
		DriverName:        "pgx",
		LivenessStatement: "SELECT 1",
	},
	KindMySQL: {
		Name:              KindMySQL,
		DriverName:        "mysql",
		LivenessStatement: "SELECT 1",
	},
	KindMSSQL: {
		Name:              KindMSSQL,
		DriverName:        "sqlserver",
		LivenessStatement: "SELECT 1",
	},
	KindOracle: {
		Name:              KindOracle,
		DriverName:        "oracle",
		LivenessStatement: "SELECT 1 FROM DUAL",
		CredentialRules: lease.CredentialRules{
			PasswordLength:    30,
			UppercaseUsername: true,
		},
	},
}

// Kinds returns the supported dialect names
func Kinds() []string {
	return []string{KindPostgres, KindMySQL, KindMSSQL, KindOracle}
}
