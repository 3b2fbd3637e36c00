// Package gateway establishes relay-backed tunnels to targets that are
// not directly reachable from the engine. The relay is a pure byte
// forwarder: the engine authenticates to it with relay-issued TLS
// material, declares the true target, and pipes backend traffic through
// a local loopback listener for the span of a single lifecycle call.
package gateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/stephnangue/lessor/lease"
)

// RelayDetails is the short-lived material needed to authenticate the
// engine to a relay. It is resolved per call from a relay directory and
// never persisted.
type RelayDetails struct {
	// RelayAddress is the relay's network address as "host:port"
	RelayAddress string `json:"relay_address"`

	// IdentityToken is the opaque caller identity presented to the relay
	IdentityToken string `json:"identity_token"`

	// OrgScope is the organization scope the tunnel is opened under
	OrgScope string `json:"org_scope"`

	// CACertificate is the PEM CA bundle the relay's server cert chains to
	CACertificate string `json:"ca_certificate"`

	// ClientCertificate and ClientPrivateKey are the relay-issued PEM
	// client credentials the engine presents during the TLS handshake.
	ClientCertificate string `json:"client_certificate"`
	ClientPrivateKey  string `json:"client_private_key"`
}

// Directory resolves relay identifiers to connection details. The
// directory itself is an external collaborator; only the lookup contract
// lives here.
type Directory interface {
	ResolveRelay(ctx context.Context, relayID string) (*RelayDetails, error)
}

// StaticDirectory is an in-memory Directory, used in tests and by
// embedders that manage relay details themselves.
type StaticDirectory struct {
	mu     sync.RWMutex
	relays map[string]*RelayDetails
}

// NewStaticDirectory creates an empty static directory
func NewStaticDirectory() *StaticDirectory {
	return &StaticDirectory{
		relays: make(map[string]*RelayDetails),
	}
}

// Register adds or replaces the details for a relay identifier
func (d *StaticDirectory) Register(relayID string, details *RelayDetails) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.relays[relayID] = details
}

// ResolveRelay returns the registered details for relayID
func (d *StaticDirectory) ResolveRelay(ctx context.Context, relayID string) (*RelayDetails, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	details, ok := d.relays[relayID]
	if !ok {
		return nil, fmt.Errorf("%w: relay %q not found", lease.ErrGateway, relayID)
	}
	return details, nil
}
