// Package seeder generates fake DailyDigest events for development and load tests.
package seeder

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"github.com/telhawk-systems/eventgate/common/logging"
	"github.com/telhawk-systems/eventgate/eventgate/internal/digest"
)

// Languages are the foreign languages generated digests are written in.
var Languages = []string{"Spanish", "French", "German", "Italian", "Portuguese", "Dutch"}

// Publisher sends events to the broker.
type Publisher interface {
	Publish(ctx context.Context, topic, eventType, messageID string, payload any) (string, error)
}

// Config controls a seeding run.
type Config struct {
	Topic string
	Count int
	// MaxWords bounds incorrect words per digest. Some digests are empty.
	MaxWords int
	// DuplicateRate is the fraction of events republished with the same message ID.
	DuplicateRate float64
	// Interval between events. Zero publishes as fast as possible.
	Interval time.Duration
	// Seed makes generation reproducible. Zero seeds from the clock.
	Seed int64
}

// Result summarises a run.
type Result struct {
	Published  int      `json:"published" yaml:"published"`
	Duplicates int      `json:"duplicates" yaml:"duplicates"`
	Failed     int      `json:"failed" yaml:"failed"`
	MessageIDs []string `json:"message_ids" yaml:"message_ids"`
}

// Generator builds digest payloads.
type Generator struct {
	faker    *gofakeit.Faker
	maxWords int
}

func NewGenerator(seed int64, maxWords int) *Generator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if maxWords <= 0 {
		maxWords = 8
	}
	return &Generator{faker: gofakeit.New(seed), maxWords: maxWords}
}

// Digest returns a payload for a fake user. Every word pair in one digest
// shares the same foreign language.
func (g *Generator) Digest() *digest.Payload {
	lang := Languages[g.faker.IntRange(0, len(Languages)-1)]
	n := g.faker.IntRange(0, g.maxWords)

	words := make([]map[string]string, 0, n)
	for i := 0; i < n; i++ {
		words = append(words, map[string]string{
			lang:      g.faker.Word(),
			"English": g.faker.Word(),
		})
	}

	return &digest.Payload{
		Username:       g.faker.Username(),
		IncorrectWords: words,
	}
}

// Runner publishes generated digests.
type Runner struct {
	pub    Publisher
	cfg    Config
	gen    *Generator
	logger *slog.Logger
}

func NewRunner(pub Publisher, cfg Config, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		pub:    pub,
		cfg:    cfg,
		gen:    NewGenerator(cfg.Seed, cfg.MaxWords),
		logger: logger.With(logging.Component("seeder")),
	}
}

// Run publishes cfg.Count digests. It stops early when ctx is cancelled.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	if r.cfg.Count <= 0 {
		return nil, fmt.Errorf("count must be positive, got %d", r.cfg.Count)
	}
	if r.cfg.Topic == "" {
		return nil, fmt.Errorf("topic is required")
	}

	res := &Result{MessageIDs: make([]string, 0, r.cfg.Count)}

	for i := 0; i < r.cfg.Count; i++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		payload := r.gen.Digest()
		id, err := r.pub.Publish(ctx, r.cfg.Topic, digest.EventType, "", payload)
		if err != nil {
			res.Failed++
			r.logger.Warn("failed to publish digest", logging.Error(err))
			continue
		}
		res.Published++
		res.MessageIDs = append(res.MessageIDs, id)

		if r.cfg.DuplicateRate > 0 && r.gen.faker.Float64Range(0, 1) < r.cfg.DuplicateRate {
			if _, err := r.pub.Publish(ctx, r.cfg.Topic, digest.EventType, id, payload); err != nil {
				res.Failed++
				r.logger.Warn("failed to publish duplicate", logging.MessageID(id), logging.Error(err))
			} else {
				res.Duplicates++
			}
		}

		if r.cfg.Interval > 0 && i < r.cfg.Count-1 {
			select {
			case <-ctx.Done():
				return res, ctx.Err()
			case <-time.After(r.cfg.Interval):
			}
		}
	}

	r.logger.Info("seeding complete",
		slog.Int("published", res.Published),
		slog.Int("duplicates", res.Duplicates),
		slog.Int("failed", res.Failed))
	return res, nil
}
