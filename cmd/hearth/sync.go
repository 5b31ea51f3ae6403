package main

import (
	"encoding/json"
	"fmt"

	"github.com/MarcoPoloResearchLab/hearth/internal/orchestrator"
	"github.com/spf13/cobra"
)

func newSyncCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Journal pending local edits, run one sync pass and print its status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, closeRuntime, err := openRuntime(ctx)
			if err != nil {
				return err
			}
			defer closeRuntime()

			if _, err := rt.journalizer.Tick(ctx); err != nil {
				return err
			}
			status, err := rt.orchestrator.Run(ctx, orchestrator.TriggerManual)
			if err != nil {
				return err
			}
			encoded, err := json.MarshalIndent(status, "", "  ")
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(encoded))
			return err
		},
	}
}
