package cmd

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/eventgate/eventgate/internal/ctl/output"
	"github.com/telhawk-systems/eventgate/eventgate/internal/models"
	"github.com/telhawk-systems/eventgate/eventgate/internal/reclaim"
)

var reclaimCmd = &cobra.Command{
	Use:   "reclaim",
	Short: "Move stuck PROCESSING events to FAILED",
	Long: `Run one reclaim sweep. Events that have been PROCESSING for longer than
--after are marked FAILED so the next redelivery retries them. Rows held by
a live transaction are skipped.`,
	Example: `  eventgatectl reclaim --after 30m`,
	RunE: func(cmd *cobra.Command, args []string) error {
		after, _ := cmd.Flags().GetDuration("after")
		batch, _ := cmd.Flags().GetInt("batch-size")

		out, err := printer(cmd)
		if err != nil {
			return err
		}
		store, err := storeFor(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		sweeper := reclaim.NewSweeper(store, reclaim.Config{After: after, BatchSize: batch}, slog.Default())
		events, err := sweeper.SweepOnce(cmd.Context())
		if err != nil {
			return err
		}

		if events == nil {
			events = []*models.Event{}
		}
		if out.Format == output.FormatTable && len(events) == 0 {
			out.Info("No stale PROCESSING events")
			return nil
		}
		return out.Print(events, func() *output.Table {
			t := output.NewTable("MESSAGE ID", "TOPIC", "TYPE", "ATTEMPTS", "STARTED")
			for _, e := range events {
				started := ""
				if e.ProcessingStartedAt != nil {
					started = e.ProcessingStartedAt.Format(time.RFC3339)
				}
				t.AddRow(e.MessageID, e.Topic, e.EventType, strconv.Itoa(e.Attempts), started)
			}
			return t
		})
	},
}

func init() {
	rootCmd.AddCommand(reclaimCmd)

	defaults := reclaim.DefaultConfig()
	reclaimCmd.Flags().Duration("after", defaults.After, "reclaim events PROCESSING for longer than this")
	reclaimCmd.Flags().Int("batch-size", defaults.BatchSize, "rows updated per statement")
}
