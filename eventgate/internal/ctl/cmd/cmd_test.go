package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/eventgate/common/config"
	"github.com/telhawk-systems/eventgate/common/messaging"
	"github.com/telhawk-systems/eventgate/eventgate/internal/dlq"
	"github.com/telhawk-systems/eventgate/eventgate/internal/models"
	"github.com/telhawk-systems/eventgate/eventgate/internal/repository"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

type publishedMsg struct {
	subject string
	data    []byte
	opts    messaging.PublishOptions
}

type fakeBroker struct {
	mu      sync.Mutex
	msgs    []publishedMsg
	drained bool
}

func (b *fakeBroker) Publish(ctx context.Context, subject string, data []byte, opts ...messaging.PublishOption) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = append(b.msgs, publishedMsg{subject, data, messaging.ApplyPublishOptions(opts...)})
	return nil
}

func (b *fakeBroker) PublishMsg(ctx context.Context, msg *messaging.Message) error {
	return b.Publish(ctx, msg.Subject, msg.Data, messaging.WithMsgID(msg.ID))
}

func (b *fakeBroker) Close() error { return nil }

func (b *fakeBroker) Drain() error {
	b.drained = true
	return nil
}

type fakeDLQ struct {
	entries []dlq.Entry
	purged  bool
}

func (q *fakeDLQ) List(ctx context.Context, limit int) ([]dlq.Entry, error) {
	if limit < len(q.entries) {
		return q.entries[:limit], nil
	}
	return q.entries, nil
}

func (q *fakeDLQ) Stats(ctx context.Context) dlq.Stats {
	return dlq.Stats{Enabled: true, TotalMessages: uint64(len(q.entries))}
}

func (q *fakeDLQ) Purge(ctx context.Context) error {
	q.purged = true
	q.entries = nil
	return nil
}

type harness struct {
	store  *repository.MemoryStore
	broker *fakeBroker
	dlq    *fakeDLQ
}

// setup points every command at in-memory fakes for the duration of t.
func setup(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		store:  repository.NewMemoryStore(),
		broker: &fakeBroker{},
		dlq:    &fakeDLQ{},
	}

	prevStore, prevJS, prevDLQ, prevCfg := openStore, connectJetStream, openDeadLetters, cfg
	t.Cleanup(func() {
		openStore, connectJetStream, openDeadLetters, cfg = prevStore, prevJS, prevDLQ, prevCfg
	})

	openStore = func(ctx context.Context, url string) (repository.Store, error) {
		return h.store, nil
	}
	connectJetStream = func(url string) (jetStreamClient, error) {
		return h.broker, nil
	}
	openDeadLetters = func(ctx context.Context, url string) (deadLetterQueue, func(), error) {
		return h.dlq, func() {}, nil
	}

	t.Setenv("EVENTGATE_CONFIG_DIR", t.TempDir())
	loaded, err := config.LoadCLI()
	require.NoError(t, err)
	cfg = loaded
	return h
}

func (h *harness) insert(t *testing.T, messageID, topic string, status models.EventStatus, startedAt time.Time) {
	t.Helper()
	ctx := context.Background()

	tx, err := h.store.Begin(ctx)
	require.NoError(t, err)
	e := models.NewEvent(messageID, topic, "DailyDigest", startedAt)
	inserted, err := tx.InsertIfAbsent(ctx, e)
	require.NoError(t, err)
	require.True(t, inserted)
	if status != models.StatusProcessing {
		require.NoError(t, e.TransitionTo(status, startedAt.Add(time.Second)))
		require.NoError(t, tx.UpdateStatus(ctx, e))
	}
	require.NoError(t, tx.Commit(ctx))
}

// execute runs the root command with args. Flags are reset first because
// cobra keeps parsed values on the command tree.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)

	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

func TestCommandsRegistered(t *testing.T) {
	expected := map[string][]string{
		"publish": nil,
		"seed":    nil,
		"events":  {"list", "get", "stats"},
		"reclaim": nil,
		"dlq":     {"list", "stats", "purge"},
		"migrate": {"up", "down", "version"},
		"profile": {"set", "show"},
	}

	registered := map[string]*cobra.Command{}
	for _, c := range rootCmd.Commands() {
		registered[c.Name()] = c
	}

	for name, subs := range expected {
		c, ok := registered[name]
		if !assert.True(t, ok, "expected command %q to be registered", name) {
			continue
		}
		var have []string
		for _, sub := range c.Commands() {
			have = append(have, sub.Name())
		}
		for _, sub := range subs {
			assert.Contains(t, have, sub, "expected %s %s", name, sub)
		}
	}
}

func TestEventsList(t *testing.T) {
	h := setup(t)
	now := time.Now().UTC()
	h.insert(t, "1", "test-topic", models.StatusProcessed, now.Add(-time.Minute))
	h.insert(t, "2", "test-topic", models.StatusProcessing, now)

	t.Run("json", func(t *testing.T) {
		out, err := execute(t, "events", "list", "-o", "json")
		require.NoError(t, err)

		var events []models.Event
		require.NoError(t, json.Unmarshal([]byte(out), &events))
		require.Len(t, events, 2)
		assert.Equal(t, "2", events[0].MessageID, "newest first")
	})

	t.Run("status filter", func(t *testing.T) {
		out, err := execute(t, "events", "list", "--status", "PROCESSED", "-o", "json")
		require.NoError(t, err)

		var events []models.Event
		require.NoError(t, json.Unmarshal([]byte(out), &events))
		require.Len(t, events, 1)
		assert.Equal(t, models.StatusProcessed, events[0].Status)
	})

	t.Run("empty result is an empty list", func(t *testing.T) {
		out, err := execute(t, "events", "list", "--topic", "other", "-o", "json")
		require.NoError(t, err)
		assert.JSONEq(t, `[]`, out)
	})

	t.Run("table", func(t *testing.T) {
		out, err := execute(t, "events", "list")
		require.NoError(t, err)
		assert.Contains(t, out, "MESSAGE ID")
		assert.Contains(t, out, "PROCESSED")
		assert.Contains(t, out, "test-topic")
	})

	t.Run("unknown status", func(t *testing.T) {
		_, err := execute(t, "events", "list", "--status", "DONE")
		assert.ErrorContains(t, err, "unknown event status")
	})

	t.Run("unknown output format", func(t *testing.T) {
		_, err := execute(t, "events", "list", "-o", "xml")
		assert.ErrorContains(t, err, "unknown output format")
	})
}

func TestEventsGet(t *testing.T) {
	h := setup(t)
	h.insert(t, "1", "test-topic", models.StatusProcessed, time.Now().UTC())

	t.Run("found", func(t *testing.T) {
		out, err := execute(t, "events", "get", "1", "--topic", "test-topic", "-o", "yaml")
		require.NoError(t, err)
		assert.Contains(t, out, "message_id: \"1\"")
		assert.Contains(t, out, "status: PROCESSED")
	})

	t.Run("not found", func(t *testing.T) {
		_, err := execute(t, "events", "get", "missing", "--topic", "test-topic")
		assert.ErrorIs(t, err, repository.ErrEventNotFound)
	})

	t.Run("requires an argument", func(t *testing.T) {
		_, err := execute(t, "events", "get")
		assert.Error(t, err)
	})
}

func TestEventsStats(t *testing.T) {
	h := setup(t)
	now := time.Now().UTC()
	h.insert(t, "1", "t", models.StatusProcessed, now)
	h.insert(t, "2", "t", models.StatusProcessed, now)
	h.insert(t, "3", "t", models.StatusFailed, now)

	out, err := execute(t, "events", "stats", "-o", "json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"PROCESSING":0,"FAILED":1,"PROCESSED":2}`, out)
}

func TestReclaim(t *testing.T) {
	h := setup(t)
	now := time.Now().UTC()
	h.insert(t, "stale", "t", models.StatusProcessing, now.Add(-2*time.Hour))
	h.insert(t, "fresh", "t", models.StatusProcessing, now)

	out, err := execute(t, "reclaim", "--after", "1h", "-o", "json")
	require.NoError(t, err)

	var reclaimed []models.Event
	require.NoError(t, json.Unmarshal([]byte(out), &reclaimed))
	require.Len(t, reclaimed, 1)
	assert.Equal(t, "stale", reclaimed[0].MessageID)

	stale, err := h.store.Get(context.Background(), "stale", "t")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, stale.Status)

	fresh, err := h.store.Get(context.Background(), "fresh", "t")
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, fresh.Status)

	out, err = execute(t, "reclaim", "--after", "1h")
	require.NoError(t, err)
	assert.Contains(t, out, "No stale PROCESSING events")
}

func TestPublish(t *testing.T) {
	payload := `{"username":"alice","incorrect_words":[{"Spanish":"hola","English":"hello"}]}`

	t.Run("publishes with id and headers", func(t *testing.T) {
		h := setup(t)

		out, err := execute(t, "publish", "--topic", "test-topic", "--message-id", "1", "--payload", payload, "-o", "json")
		require.NoError(t, err)
		assert.JSONEq(t, `{"message_id":"1","topic":"test-topic","event_type":"DailyDigest"}`, out)

		require.Len(t, h.broker.msgs, 1)
		msg := h.broker.msgs[0]
		assert.Equal(t, "test-topic", msg.subject)
		assert.JSONEq(t, payload, string(msg.data))
		assert.Equal(t, "1", msg.opts.MsgID)
		assert.Equal(t, "DailyDigest", msg.opts.Headers[messaging.HeaderEventType])
		assert.Equal(t, publisherName, msg.opts.Headers[messaging.HeaderPublisher])
		assert.True(t, h.broker.drained)
	})

	t.Run("defaults topic from profile", func(t *testing.T) {
		h := setup(t)

		out, err := execute(t, "publish", "--payload", payload)
		require.NoError(t, err)
		assert.Contains(t, out, "✓ Published DailyDigest")

		require.Len(t, h.broker.msgs, 1)
		assert.Equal(t, config.DefaultCLI().Defaults.Topic, h.broker.msgs[0].subject)
		assert.NotEmpty(t, h.broker.msgs[0].opts.MsgID)
	})

	t.Run("payload from file", func(t *testing.T) {
		h := setup(t)
		path := t.TempDir() + "/digest.json"
		require.NoError(t, os.WriteFile(path, []byte(payload), 0o600))

		_, err := execute(t, "publish", "--payload-file", path)
		require.NoError(t, err)
		require.Len(t, h.broker.msgs, 1)
	})

	t.Run("rejects bad input", func(t *testing.T) {
		h := setup(t)

		_, err := execute(t, "publish")
		assert.ErrorContains(t, err, "--payload")

		_, err = execute(t, "publish", "--payload", "{not json")
		assert.ErrorContains(t, err, "not valid JSON")

		assert.Empty(t, h.broker.msgs)
	})
}

func TestSeed(t *testing.T) {
	h := setup(t)

	out, err := execute(t, "seed", "--count", "3", "--seed", "42", "--topic", "events.digest.daily", "-o", "json")
	require.NoError(t, err)

	var res struct {
		Published  int      `json:"published"`
		MessageIDs []string `json:"message_ids"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, 3, res.Published)
	assert.Len(t, res.MessageIDs, 3)
	require.Len(t, h.broker.msgs, 3)

	_, err = execute(t, "seed", "--duplicate-rate", "2")
	assert.ErrorContains(t, err, "duplicate-rate")
}

func TestDLQ(t *testing.T) {
	h := setup(t)
	h.dlq.entries = []dlq.Entry{
		{Timestamp: time.Now().UTC(), Subject: "events.digest.daily", MessageID: "7", Reason: dlq.ReasonInvalidPayload, Error: "invalid payload", Delivered: 1},
	}

	out, err := execute(t, "dlq", "list", "-o", "json")
	require.NoError(t, err)
	var entries []dlq.Entry
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "7", entries[0].MessageID)

	out, err = execute(t, "dlq", "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "MESSAGES")

	_, err = execute(t, "dlq", "purge")
	assert.ErrorContains(t, err, "--yes")
	assert.False(t, h.dlq.purged)

	out, err = execute(t, "dlq", "purge", "--yes")
	require.NoError(t, err)
	assert.True(t, h.dlq.purged)
	assert.Contains(t, out, "purged")
}

func TestDLQ_OpenError(t *testing.T) {
	setup(t)
	openDeadLetters = func(ctx context.Context, url string) (deadLetterQueue, func(), error) {
		return nil, nil, errors.New("nats: no servers available for connection")
	}

	_, err := execute(t, "dlq", "list")
	assert.ErrorContains(t, err, "no servers available")
}

func TestProfile(t *testing.T) {
	setup(t)

	_, err := execute(t, "profile", "set", "staging",
		"--nats-url", "nats://staging:4222", "--topic", "events.staging")
	require.NoError(t, err)
	assert.Equal(t, "staging", cfg.CurrentProfile)

	loaded, err := config.LoadCLI()
	require.NoError(t, err)
	assert.Equal(t, "staging", loaded.CurrentProfile)
	assert.Equal(t, "nats://staging:4222", loaded.Profile("").NATSURL)

	out, err := execute(t, "profile", "show", "-o", "json")
	require.NoError(t, err)

	var shown map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &shown))
	assert.Equal(t, "staging", shown["profile"])
	assert.Equal(t, "nats://staging:4222", shown["nats_url"])
	assert.Equal(t, "events.staging", shown["topic"])
	assert.Equal(t, config.DefaultCLI().Defaults.DatabaseURL, shown["database_url"])
}

func TestMissingConnectionSettings(t *testing.T) {
	setup(t)
	cfg.Defaults.DatabaseURL = ""
	cfg.Defaults.NATSURL = ""

	_, err := execute(t, "events", "list")
	assert.ErrorContains(t, err, "database URL is required")

	_, err = execute(t, "migrate", "up")
	assert.ErrorContains(t, err, "database URL is required")

	_, err = execute(t, "publish", "--payload", "{}")
	assert.ErrorContains(t, err, "NATS URL is required")
}
