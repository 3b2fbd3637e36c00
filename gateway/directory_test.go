package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stephnangue/lessor/lease"
)

func TestHTTPDirectory_ResolveRelay(t *testing.T) {
	var gotAuth, gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path

		switch r.URL.Path {
		case "/v1/relays/relay-1":
			json.NewEncoder(w).Encode(&RelayDetails{
				RelayAddress:      "relay.example.com:8443",
				IdentityToken:     "tok",
				OrgScope:          "org-1",
				CACertificate:     "ca-pem",
				ClientCertificate: "cert-pem",
				ClientPrivateKey:  "key-pem",
			})
		case "/v1/relays/empty":
			json.NewEncoder(w).Encode(&RelayDetails{})
		case "/v1/relays/garbage":
			w.Write([]byte("not json"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	dir := NewHTTPDirectory(server.URL, "secret-token", testLogger())

	t.Run("known relay", func(t *testing.T) {
		details, err := dir.ResolveRelay(context.Background(), "relay-1")
		require.NoError(t, err)
		assert.Equal(t, "relay.example.com:8443", details.RelayAddress)
		assert.Equal(t, "org-1", details.OrgScope)
		assert.Equal(t, "Bearer secret-token", gotAuth)
		assert.Equal(t, "/v1/relays/relay-1", gotPath)
	})

	t.Run("unknown relay", func(t *testing.T) {
		_, err := dir.ResolveRelay(context.Background(), "relay-9")
		require.Error(t, err)
		assert.ErrorIs(t, err, lease.ErrGateway)
		assert.Contains(t, err.Error(), "not found")
	})

	t.Run("missing relay address", func(t *testing.T) {
		_, err := dir.ResolveRelay(context.Background(), "empty")
		require.Error(t, err)
		assert.ErrorIs(t, err, lease.ErrGateway)
	})

	t.Run("invalid response body", func(t *testing.T) {
		_, err := dir.ResolveRelay(context.Background(), "garbage")
		require.Error(t, err)
		assert.ErrorIs(t, err, lease.ErrGateway)
	})

	t.Run("empty relay id", func(t *testing.T) {
		_, err := dir.ResolveRelay(context.Background(), "")
		require.Error(t, err)
		assert.ErrorIs(t, err, lease.ErrGateway)
	})
}
