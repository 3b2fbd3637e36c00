package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/stephnangue/lessor/cmd/lifecycle"
)

var (
	// Global logging flags
	flagLogLevel  string
	flagLogFormat string

	lessorCmd = &cobra.Command{
		Use:   "lessor",
		Short: "Lessor drives the lifecycle of dynamic secret leases",
		Long: `Lessor creates, renews and revokes short-lived credentials on backend
systems such as relational databases, AWS IAM and HashiCorp Vault.
Every invocation is stateless: the backend target is described by a
config file and the caller keeps the returned entity identifier.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if flagLogLevel != "" {
				os.Setenv("LESSOR_LOG_LEVEL", flagLogLevel)
			}
			if flagLogFormat != "" {
				os.Setenv("LESSOR_LOG_FORMAT", flagLogFormat)
			}
		},
	}
)

func Execute() {
	if err := lessorCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	lessorCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level: trace, debug, info, warn, error (can also use LESSOR_LOG_LEVEL env var)")
	lessorCmd.PersistentFlags().StringVar(&flagLogFormat, "log-format", "", "Log format: console or json (can also use LESSOR_LOG_FORMAT env var)")

	lessorCmd.AddCommand(lifecycle.ValidateCmd)
	lessorCmd.AddCommand(lifecycle.CreateCmd)
	lessorCmd.AddCommand(lifecycle.RenewCmd)
	lessorCmd.AddCommand(lifecycle.RevokeCmd)
	lessorCmd.AddCommand(lifecycle.KindsCmd)
}
