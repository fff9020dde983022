package cmd

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/eventgate/eventgate/internal/ctl/output"
	"github.com/telhawk-systems/eventgate/eventgate/internal/models"
	"github.com/telhawk-systems/eventgate/eventgate/internal/repository"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Inspect the event store",
	Long:  "List and inspect processing records in the event store",
}

var eventsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List events",
	Example: `  eventgatectl events list --status FAILED
  eventgatectl events list --topic events.digest.daily --limit 20 -o json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		statusFlag, _ := cmd.Flags().GetString("status")
		topic, _ := cmd.Flags().GetString("topic")
		eventType, _ := cmd.Flags().GetString("event-type")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		filter := repository.ListFilter{Topic: topic, EventType: eventType, Limit: limit, Offset: offset}
		if statusFlag != "" {
			status, err := models.ParseEventStatus(statusFlag)
			if err != nil {
				return err
			}
			filter.Status = status
		}

		out, err := printer(cmd)
		if err != nil {
			return err
		}
		store, err := storeFor(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		events, err := store.List(cmd.Context(), filter)
		if err != nil {
			return fmt.Errorf("failed to list events: %w", err)
		}
		if events == nil {
			events = []*models.Event{}
		}

		return out.Print(events, func() *output.Table {
			t := output.NewTable("MESSAGE ID", "TOPIC", "TYPE", "STATUS", "ATTEMPTS", "UPDATED", "LAST ERROR")
			for _, e := range events {
				t.AddRow(e.MessageID, e.Topic, e.EventType, string(e.Status),
					strconv.Itoa(e.Attempts), e.UpdatedAt.Format(time.RFC3339), deref(e.LastError))
			}
			return t
		})
	},
}

var eventsGetCmd = &cobra.Command{
	Use:     "get MESSAGE_ID",
	Short:   "Show one event",
	Example: `  eventgatectl events get 1 --topic test-topic`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		topic, _ := cmd.Flags().GetString("topic")
		if topic == "" {
			topic = activeProfile(cmd).Topic
		}

		out, err := printer(cmd)
		if err != nil {
			return err
		}
		store, err := storeFor(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		e, err := store.Get(cmd.Context(), args[0], topic)
		if err != nil {
			return fmt.Errorf("failed to get event %s on %s: %w", args[0], topic, err)
		}

		return out.Print(e, func() *output.Table {
			t := output.NewTable("FIELD", "VALUE")
			t.AddRow("id", strconv.FormatInt(e.ID, 10))
			t.AddRow("message_id", e.MessageID)
			t.AddRow("topic", e.Topic)
			t.AddRow("event_type", e.EventType)
			t.AddRow("status", string(e.Status))
			t.AddRow("attempts", strconv.Itoa(e.Attempts))
			if e.ProcessingStartedAt != nil {
				t.AddRow("processing_started_at", e.ProcessingStartedAt.Format(time.RFC3339))
			}
			t.AddRow("last_error", deref(e.LastError))
			t.AddRow("created_at", e.CreatedAt.Format(time.RFC3339))
			t.AddRow("updated_at", e.UpdatedAt.Format(time.RFC3339))
			return t
		})
	},
}

var eventsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Count events by status",
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := printer(cmd)
		if err != nil {
			return err
		}
		store, err := storeFor(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		counts, err := store.CountByStatus(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to count events: %w", err)
		}

		statuses := []models.EventStatus{models.StatusProcessing, models.StatusFailed, models.StatusProcessed}
		byName := make(map[string]int64, len(statuses))
		for _, s := range statuses {
			byName[string(s)] = counts[s]
		}

		return out.Print(byName, func() *output.Table {
			t := output.NewTable("STATUS", "COUNT")
			for _, s := range statuses {
				t.AddRow(string(s), strconv.FormatInt(counts[s], 10))
			}
			return t
		})
	},
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.AddCommand(eventsListCmd)
	eventsCmd.AddCommand(eventsGetCmd)
	eventsCmd.AddCommand(eventsStatsCmd)

	eventsListCmd.Flags().String("status", "", "filter by status (PROCESSING, FAILED, PROCESSED)")
	eventsListCmd.Flags().String("topic", "", "filter by topic")
	eventsListCmd.Flags().String("event-type", "", "filter by event type")
	eventsListCmd.Flags().Int("limit", repository.DefaultListLimit, "maximum events to return")
	eventsListCmd.Flags().Int("offset", 0, "events to skip")

	eventsGetCmd.Flags().String("topic", "", "topic the message was published on (default: profile topic)")
}
