package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/hearth/internal/journal"
	"github.com/spf13/cobra"
)

type journalLine struct {
	IdempotencyKey string         `json:"idempotencyKey"`
	Sequence       int64          `json:"sequence"`
	RecordedAt     time.Time      `json:"recordedAt"`
	Action         journal.Action `json:"action"`
	EventID        string         `json:"eventId"`
}

func newJournalCommand() *cobra.Command {
	journalCmd := &cobra.Command{
		Use:   "journal",
		Short: "Inspect or reset the pending mutation journal",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "Print pending journal entries, oldest first, one JSON object per line",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, closeRuntime, err := openRuntime(ctx)
			if err != nil {
				return err
			}
			defer closeRuntime()

			entries, err := rt.journal.List(ctx)
			if err != nil {
				return err
			}
			encoder := json.NewEncoder(cmd.OutOrStdout())
			for _, entry := range entries {
				if err := encoder.Encode(journalLine{
					IdempotencyKey: entry.IdempotencyKey,
					Sequence:       entry.Sequence,
					RecordedAt:     entry.RecordedAt(),
					Action:         entry.Action,
					EventID:        entry.EventID,
				}); err != nil {
					return err
				}
			}
			return nil
		},
	}

	var confirmed bool
	purgeCmd := &cobra.Command{
		Use:   "purge",
		Short: "Discard every pending journal entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirmed {
				return fmt.Errorf("refusing to purge without --yes")
			}
			ctx := cmd.Context()
			rt, closeRuntime, err := openRuntime(ctx)
			if err != nil {
				return err
			}
			defer closeRuntime()
			return rt.journal.Purge(ctx)
		},
	}
	purgeCmd.Flags().BoolVar(&confirmed, "yes", false, "Confirm that unsent local edits are discarded")

	journalCmd.AddCommand(listCmd, purgeCmd)
	return journalCmd
}
