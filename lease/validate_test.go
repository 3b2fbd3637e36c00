package lease

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateHostPort_Direct(t *testing.T) {
	tests := []struct {
		name    string
		host    string
		port    int
		wantErr bool
	}{
		{"public hostname", "db.example.com", 5432, false},
		{"public address", "203.0.113.10", 5432, false},
		{"empty host", "", 5432, true},
		{"host with space", "db example.com", 5432, true},
		{"host with slash", "db.example.com/x", 5432, true},
		{"port zero", "db.example.com", 0, true},
		{"port too large", "db.example.com", 70000, true},
		{"localhost", "localhost", 5432, true},
		{"localhost uppercase", "LOCALHOST", 5432, true},
		{"localhost fqdn", "localhost.localdomain", 5432, true},
		{"loopback v4", "127.0.0.1", 5432, true},
		{"loopback v6", "::1", 5432, true},
		{"unspecified", "0.0.0.0", 5432, true},
		{"private 10", "10.0.0.5", 5432, true},
		{"private 172", "172.16.0.5", 5432, true},
		{"private 192", "192.168.1.5", 5432, true},
		{"link local", "169.254.1.1", 5432, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateHostPort(tt.host, tt.port, false)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrValidation)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestValidateHostPort_Relayed(t *testing.T) {
	// A relay originates the connection inside the target network, so
	// internal literals are legitimate there.
	for _, host := range []string{"localhost", "127.0.0.1", "10.0.0.5", "192.168.1.5"} {
		assert.NoError(t, ValidateHostPort(host, 5432, true), "host %s", host)
	}

	// Shape checks still apply when relayed
	assert.Error(t, ValidateHostPort("", 5432, true))
	assert.Error(t, ValidateHostPort("db.example.com", 0, true))
}
