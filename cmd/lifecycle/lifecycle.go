// Package lifecycle holds the lease lifecycle commands: validate,
// create, renew and revoke. Each command is stateless; the backend
// target comes from a JSON config file and the caller keeps the entity
// identifier printed by create.
package lifecycle

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/go-secure-stdlib/parseutil"
	"github.com/spf13/cobra"

	"github.com/stephnangue/lessor/gateway"
	"github.com/stephnangue/lessor/lease"
	"github.com/stephnangue/lessor/logger"
	"github.com/stephnangue/lessor/provider"
)

var (
	// Flags shared by the lifecycle commands
	flagKind       string
	flagConfigFile string
	flagEntityID   string
	flagTTL        string
	flagRedact     bool

	// Relay directory flags. When unset, configs naming a relay_id fail.
	flagRelayDirectory string
	flagRelayToken     string
)

func addCommonFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&flagKind, "kind", "k", "", "Backend kind (e.g. postgres, mysql, awsiam)")
	cmd.Flags().StringVarP(&flagConfigFile, "config", "c", "", "Path to the JSON backend config file")
	cmd.Flags().StringVar(&flagRelayDirectory, "relay-directory", "", "Base URL of the relay directory service")
	cmd.Flags().StringVar(&flagRelayToken, "relay-token", "", "Bearer token for the relay directory service (can also use LESSOR_RELAY_TOKEN env var)")
	cmd.MarkFlagRequired("kind")
	cmd.MarkFlagRequired("config")
}

// newService builds a fully registered lease service and the logger it
// runs on. The caller must Close the logger.
func newService() (*lease.Service, logger.Logger, error) {
	cfg := logger.DefaultConfig()
	if level := os.Getenv("LESSOR_LOG_LEVEL"); level != "" {
		cfg.Level = logger.ParseLogLevel(level)
	}
	if os.Getenv("LESSOR_LOG_FORMAT") == "json" {
		cfg.Format = logger.JSONFormat
	}
	log := logger.NewZerologLogger(cfg)

	var directory gateway.Directory
	if flagRelayDirectory != "" {
		token := flagRelayToken
		if token == "" {
			token = os.Getenv("LESSOR_RELAY_TOKEN")
		}
		directory = gateway.NewHTTPDirectory(flagRelayDirectory, token, log)
	}

	registry := lease.NewRegistry()
	if err := provider.RegisterBuiltins(registry, directory, log); err != nil {
		log.Close()
		return nil, nil, err
	}

	return lease.NewService(registry, log), log, nil
}

// loadConfig reads the backend config map from a JSON file
func loadConfig(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return raw, nil
}

// parseExpiry turns the --ttl flag into an absolute expiration time
func parseExpiry(ttl string) (time.Time, error) {
	d, err := parseutil.ParseDurationSecond(ttl)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid ttl %q: %w", ttl, err)
	}
	if d <= 0 {
		return time.Time{}, fmt.Errorf("ttl must be positive, got %q", ttl)
	}
	return time.Now().Add(d), nil
}
