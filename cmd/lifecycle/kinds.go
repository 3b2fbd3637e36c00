package lifecycle

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stephnangue/lessor/cmd/helpers"
)

var KindsCmd = &cobra.Command{
	Use:           "kinds",
	SilenceUsage:  true,
	SilenceErrors: true,
	Short:         "List the supported backend kinds",
	RunE:          runKinds,
}

func runKinds(cmd *cobra.Command, args []string) error {
	svc, log, err := newService()
	if err != nil {
		return err
	}
	defer log.Close()

	rows := make([][]any, 0)
	for _, kind := range svc.Kinds() {
		rows = append(rows, []any{kind})
	}

	fmt.Println()
	helpers.PrintTable([]string{"Kind"}, rows)
	fmt.Println()

	return nil
}
