package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/eventgate/eventgate/internal/ctl/output"
	"github.com/telhawk-systems/eventgate/eventgate/internal/dlq"

	natsclient "github.com/telhawk-systems/eventgate/common/messaging/nats"
)

type deadLetterQueue interface {
	List(ctx context.Context, limit int) ([]dlq.Entry, error)
	Stats(ctx context.Context) dlq.Stats
	Purge(ctx context.Context) error
}

var openDeadLetters = func(ctx context.Context, natsURL string) (deadLetterQueue, func(), error) {
	nc := natsclient.DefaultConfig()
	nc.URL = natsURL
	nc.Name = "eventgatectl"
	nc.MaxReconnects = 0

	js, err := natsclient.NewJetStreamClient(nc)
	if err != nil {
		return nil, nil, err
	}
	q, err := dlq.NewJetStreamQueue(ctx, js, slog.Default())
	if err != nil {
		_ = js.Drain()
		return nil, nil, err
	}
	return q, func() { _ = js.Drain() }, nil
}

func deadLettersFor(cmd *cobra.Command) (deadLetterQueue, func(), error) {
	p := activeProfile(cmd)
	if strings.TrimSpace(p.NATSURL) == "" {
		return nil, nil, fmt.Errorf("NATS URL is required (use --nats-url or a profile)")
	}
	q, closeFn, err := openDeadLetters(cmd.Context(), p.NATSURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open dead-letter stream: %w", err)
	}
	return q, closeFn, nil
}

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Dead-letter queue commands",
	Long:  "Inspect and purge messages that could never be processed",
}

var dlqListCmd = &cobra.Command{
	Use:   "list",
	Short: "List dead-lettered messages",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		out, err := printer(cmd)
		if err != nil {
			return err
		}
		q, closeFn, err := deadLettersFor(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		entries, err := q.List(cmd.Context(), limit)
		if err != nil {
			return err
		}
		if entries == nil {
			entries = []dlq.Entry{}
		}

		return out.Print(entries, func() *output.Table {
			t := output.NewTable("TIME", "SUBJECT", "MESSAGE ID", "REASON", "DELIVERED", "ERROR")
			for _, e := range entries {
				t.AddRow(e.Timestamp.Format(time.RFC3339), e.Subject, e.MessageID, e.Reason,
					strconv.FormatUint(e.Delivered, 10), e.Error)
			}
			return t
		})
	},
}

var dlqStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show dead-letter stream statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := printer(cmd)
		if err != nil {
			return err
		}
		q, closeFn, err := deadLettersFor(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		s := q.Stats(cmd.Context())
		if s.Error != "" {
			return fmt.Errorf("failed to read dead-letter stream: %s", s.Error)
		}

		return out.Print(s, func() *output.Table {
			t := output.NewTable("MESSAGES", "BYTES", "FIRST SEQ", "LAST SEQ")
			t.AddRow(strconv.FormatUint(s.TotalMessages, 10), strconv.FormatUint(s.TotalBytes, 10),
				strconv.FormatUint(s.FirstSeq, 10), strconv.FormatUint(s.LastSeq, 10))
			return t
		})
	},
}

var dlqPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Remove every dead-lettered message",
	RunE: func(cmd *cobra.Command, args []string) error {
		if yes, _ := cmd.Flags().GetBool("yes"); !yes {
			return fmt.Errorf("refusing to purge without --yes")
		}

		out, err := printer(cmd)
		if err != nil {
			return err
		}
		q, closeFn, err := deadLettersFor(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		if err := q.Purge(cmd.Context()); err != nil {
			return err
		}
		out.Success("Dead-letter stream purged")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(dlqCmd)
	dlqCmd.AddCommand(dlqListCmd)
	dlqCmd.AddCommand(dlqStatsCmd)
	dlqCmd.AddCommand(dlqPurgeCmd)

	dlqListCmd.Flags().Int("limit", 100, "maximum entries to return")
	dlqPurgeCmd.Flags().Bool("yes", false, "confirm the purge")
}
