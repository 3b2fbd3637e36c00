// Package provider wires the built-in backend providers into a registry.
package provider

import (
	"github.com/stephnangue/lessor/gateway"
	"github.com/stephnangue/lessor/lease"
	"github.com/stephnangue/lessor/logger"
	"github.com/stephnangue/lessor/provider/awsiam"
	"github.com/stephnangue/lessor/provider/sql"
	"github.com/stephnangue/lessor/provider/vaultlease"
)

// RegisterBuiltins registers all built-in providers. directory may be
// nil when no relay-routed targets are expected.
func RegisterBuiltins(registry *lease.Registry, directory gateway.Directory, log logger.Logger) error {
	for _, kind := range sql.Kinds() {
		p, err := sql.New(kind, directory, log)
		if err != nil {
			return err
		}
		if err := registry.Register(p); err != nil {
			return err
		}
	}

	if err := registry.Register(awsiam.New(log)); err != nil {
		return err
	}

	if err := registry.Register(vaultlease.New(log)); err != nil {
		return err
	}

	return nil
}
