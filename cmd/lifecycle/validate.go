package lifecycle

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stephnangue/lessor/cmd/helpers"
)

var (
	flagSkipProbe bool

	ValidateCmd = &cobra.Command{
		Use:           "validate",
		SilenceUsage:  true,
		SilenceErrors: true,
		Short:         "Validate a backend config and probe connectivity",
		Long: `
Validates the backend config file against the rules of the named kind,
then opens a connection to the target and runs a liveness probe.

Usage:
  $ lessor validate --kind postgres --config ./target.json

Pass --skip-probe to stop after static validation, without touching
the target.
`,
		RunE: runValidate,
	}
)

func init() {
	addCommonFlags(ValidateCmd)
	ValidateCmd.Flags().BoolVar(&flagSkipProbe, "skip-probe", false, "Only validate the config statically, do not connect")
}

func runValidate(cmd *cobra.Command, args []string) error {
	raw, err := loadConfig(flagConfigFile)
	if err != nil {
		return err
	}

	svc, log, err := newService()
	if err != nil {
		return err
	}
	defer log.Close()

	if flagSkipProbe {
		if err := svc.Validate(flagKind, raw); err != nil {
			return err
		}
		fmt.Println()
		fmt.Printf("Config is valid for kind %q\n", flagKind)
		fmt.Println()
		return nil
	}

	alive, err := svc.ValidateConnection(cmd.Context(), flagKind, raw)
	if err != nil {
		return err
	}

	fmt.Println()
	helpers.PrintTable([]string{"Key", "Value"}, [][]any{
		{"kind", flagKind},
		{"config_valid", true},
		{"target_reachable", alive},
	})
	fmt.Println()

	if !alive {
		return fmt.Errorf("target did not answer the liveness probe")
	}
	return nil
}
