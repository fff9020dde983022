package seeder

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/eventgate/eventgate/internal/digest"
	"github.com/telhawk-systems/eventgate/eventgate/internal/models"
)

type published struct {
	topic, eventType, messageID string
	payload                     *digest.Payload
}

type recordingPublisher struct {
	mu     sync.Mutex
	calls  []published
	failAt int
	n      int
}

func (p *recordingPublisher) Publish(ctx context.Context, topic, eventType, messageID string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.n++
	if p.failAt > 0 && p.n == p.failAt {
		return "", errors.New("nats: no responders")
	}
	if messageID == "" {
		messageID = "id-" + string(rune('a'+len(p.calls)))
	}
	p.calls = append(p.calls, published{topic, eventType, messageID, payload.(*digest.Payload)})
	return messageID, nil
}

func TestGenerator_Digest(t *testing.T) {
	gen := NewGenerator(42, 5)

	for i := 0; i < 50; i++ {
		p := gen.Digest()
		require.NotEmpty(t, p.Username)
		require.NotNil(t, p.IncorrectWords)
		assert.LessOrEqual(t, len(p.IncorrectWords), 5)

		var lang string
		for _, pair := range p.IncorrectWords {
			require.Len(t, pair, 2)
			require.Contains(t, pair, "English")
			for k := range pair {
				if k == "English" {
					continue
				}
				if lang == "" {
					lang = k
				}
				assert.Equal(t, lang, k, "one foreign language per digest")
				assert.Contains(t, Languages, k)
			}
		}

		data, err := json.Marshal(p)
		require.NoError(t, err)
		msg := &models.Message{MessageID: "1", Topic: "t", EventType: digest.EventType, Payload: data}
		var decoded digest.Payload
		require.NoError(t, msg.Decode(&decoded))
		assert.Equal(t, *p, decoded)
	}
}

func TestGenerator_Reproducible(t *testing.T) {
	a := NewGenerator(7, 4)
	b := NewGenerator(7, 4)
	for i := 0; i < 10; i++ {
		assert.Equal(t, a.Digest(), b.Digest())
	}
}

func TestRunner_Run(t *testing.T) {
	pub := &recordingPublisher{}
	r := NewRunner(pub, Config{Topic: "events.digest.daily", Count: 5, Seed: 1}, nil)

	res, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 5, res.Published)
	assert.Zero(t, res.Duplicates)
	assert.Zero(t, res.Failed)
	assert.Len(t, res.MessageIDs, 5)
	for _, c := range pub.calls {
		assert.Equal(t, "events.digest.daily", c.topic)
		assert.Equal(t, digest.EventType, c.eventType)
	}
}

func TestRunner_Duplicates(t *testing.T) {
	pub := &recordingPublisher{}
	r := NewRunner(pub, Config{Topic: "t", Count: 4, DuplicateRate: 1, Seed: 1}, nil)

	res, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, res.Published)
	assert.Equal(t, 4, res.Duplicates)
	require.Len(t, pub.calls, 8)
	for i := 0; i < 8; i += 2 {
		assert.Equal(t, pub.calls[i].messageID, pub.calls[i+1].messageID)
		assert.Same(t, pub.calls[i].payload, pub.calls[i+1].payload)
	}
}

func TestRunner_PartialDuplicateRate(t *testing.T) {
	pub := &recordingPublisher{}
	r := NewRunner(pub, Config{Topic: "t", Count: 200, DuplicateRate: 0.5, Seed: 7}, nil)

	res, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 200, res.Published)
	assert.Greater(t, res.Duplicates, 0)
	assert.Less(t, res.Duplicates, 200)
	assert.Len(t, pub.calls, 200+res.Duplicates)
}

func TestRunner_PublishFailure(t *testing.T) {
	pub := &recordingPublisher{failAt: 2}
	r := NewRunner(pub, Config{Topic: "t", Count: 3, Seed: 1}, nil)

	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Published)
	assert.Equal(t, 1, res.Failed)
}

func TestRunner_Validation(t *testing.T) {
	_, err := NewRunner(&recordingPublisher{}, Config{Topic: "t"}, nil).Run(context.Background())
	assert.Error(t, err)

	_, err = NewRunner(&recordingPublisher{}, Config{Count: 1}, nil).Run(context.Background())
	assert.Error(t, err)
}

func TestRunner_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := NewRunner(&recordingPublisher{}, Config{Topic: "t", Count: 3}, nil).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, res.Published)
}
