package cmd

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/eventgate/eventgate/internal/ctl/output"
	"github.com/telhawk-systems/eventgate/eventgate/internal/ctl/seeder"
	"github.com/telhawk-systems/eventgate/eventgate/internal/producer"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Publish fake DailyDigest events",
	Long: `Generate realistic DailyDigest events and publish them.

A --duplicate-rate above zero republishes that fraction of events with the
same message ID to exercise deduplication.`,
	Example: `  eventgatectl seed --count 100
  eventgatectl seed --count 20 --duplicate-rate 0.25 --interval 200ms`,
	RunE: func(cmd *cobra.Command, args []string) error {
		topic, _ := cmd.Flags().GetString("topic")
		count, _ := cmd.Flags().GetInt("count")
		maxWords, _ := cmd.Flags().GetInt("max-words")
		dupRate, _ := cmd.Flags().GetFloat64("duplicate-rate")
		interval, _ := cmd.Flags().GetDuration("interval")
		seed, _ := cmd.Flags().GetInt64("seed")

		if topic == "" {
			topic = activeProfile(cmd).Topic
		}
		if dupRate < 0 || dupRate > 1 {
			return fmt.Errorf("--duplicate-rate must be between 0 and 1")
		}

		out, err := printer(cmd)
		if err != nil {
			return err
		}
		js, err := brokerFor(cmd)
		if err != nil {
			return err
		}
		defer js.Drain()

		runner := seeder.NewRunner(producer.NewPublisher(js, publisherName), seeder.Config{
			Topic:         topic,
			Count:         count,
			MaxWords:      maxWords,
			DuplicateRate: dupRate,
			Interval:      interval,
			Seed:          seed,
		}, slog.Default())

		res, err := runner.Run(cmd.Context())
		if err != nil {
			return err
		}

		return out.Print(res, func() *output.Table {
			t := output.NewTable("PUBLISHED", "DUPLICATES", "FAILED")
			t.AddRow(strconv.Itoa(res.Published), strconv.Itoa(res.Duplicates), strconv.Itoa(res.Failed))
			return t
		})
	},
}

func init() {
	rootCmd.AddCommand(seedCmd)

	seedCmd.Flags().String("topic", "", "subject to publish on (default: profile topic)")
	seedCmd.Flags().IntP("count", "n", 10, "number of events")
	seedCmd.Flags().Int("max-words", 8, "maximum incorrect words per digest")
	seedCmd.Flags().Float64("duplicate-rate", 0, "fraction of events to republish with the same ID")
	seedCmd.Flags().Duration("interval", 0, "delay between events")
	seedCmd.Flags().Int64("seed", 0, "random seed (default: time based)")
}
