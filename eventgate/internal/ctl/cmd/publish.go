package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/eventgate/eventgate/internal/ctl/output"
	"github.com/telhawk-systems/eventgate/eventgate/internal/digest"
	"github.com/telhawk-systems/eventgate/eventgate/internal/producer"
)

const publisherName = "eventgatectl"

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish an event",
	Long: `Publish a single event to the event stream.

Publishing twice with the same --message-id inside the stream's duplicate
window stores the event once.`,
	Example: `  eventgatectl publish --payload '{"username":"alice","incorrect_words":[{"Spanish":"hola","English":"hello"}]}'
  eventgatectl publish --topic test-topic --message-id 1 --payload-file digest.json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		topic, _ := cmd.Flags().GetString("topic")
		eventType, _ := cmd.Flags().GetString("event-type")
		messageID, _ := cmd.Flags().GetString("message-id")
		payload, _ := cmd.Flags().GetString("payload")
		payloadFile, _ := cmd.Flags().GetString("payload-file")

		if topic == "" {
			topic = activeProfile(cmd).Topic
		}

		switch {
		case payload != "" && payloadFile != "":
			return fmt.Errorf("use either --payload or --payload-file, not both")
		case payloadFile != "":
			data, err := os.ReadFile(payloadFile)
			if err != nil {
				return fmt.Errorf("failed to read payload file: %w", err)
			}
			payload = string(data)
		case payload == "":
			return fmt.Errorf("either --payload or --payload-file is required")
		}

		if !json.Valid([]byte(payload)) {
			return fmt.Errorf("payload is not valid JSON")
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

		id, err := producer.NewPublisher(js, publisherName).
			Publish(cmd.Context(), topic, eventType, messageID, json.RawMessage(payload))
		if err != nil {
			return err
		}

		result := map[string]string{"message_id": id, "topic": topic, "event_type": eventType}
		if out.Format == output.FormatTable {
			out.Success("Published %s %s to %s", eventType, id, topic)
			return nil
		}
		return out.Print(result, nil)
	},
}

func init() {
	rootCmd.AddCommand(publishCmd)

	publishCmd.Flags().String("topic", "", "subject to publish on (default: profile topic)")
	publishCmd.Flags().String("event-type", digest.EventType, "event type header")
	publishCmd.Flags().String("message-id", "", "message ID (default: random UUID)")
	publishCmd.Flags().String("payload", "", "JSON payload")
	publishCmd.Flags().String("payload-file", "", "file containing the JSON payload")
}
