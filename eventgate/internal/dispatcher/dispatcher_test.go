package dispatcher_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/eventgate/common/middleware"
	"github.com/telhawk-systems/eventgate/eventgate/internal/dispatcher"
	"github.com/telhawk-systems/eventgate/eventgate/internal/models"
	"github.com/telhawk-systems/eventgate/eventgate/internal/repository"
	"github.com/telhawk-systems/eventgate/eventgate/internal/service"
)

func digestMessage() *models.Message {
	return &models.Message{
		MessageID: "1",
		Topic:     "test-topic",
		EventType: "DailyDigest",
		Payload:   []byte(`{}`),
	}
}

func noop(*dispatcher.Scope) service.Handler {
	return service.HandlerFunc(func(context.Context, *models.Message) error { return nil })
}

func TestRegister(t *testing.T) {
	tests := []struct {
		name      string
		eventType string
		factory   dispatcher.HandlerFactory
		wantErr   bool
	}{
		{name: "valid", eventType: "DailyDigest", factory: noop},
		{name: "empty type", eventType: "", factory: noop, wantErr: true},
		{name: "nil factory", eventType: "DailyDigest", factory: nil, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := dispatcher.New(service.NewProcessor(repository.NewMemoryStore(), service.Config{}))
			err := d.Register(tt.eventType, tt.factory)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Empty(t, d.EventTypes())
			} else {
				assert.NoError(t, err)
				assert.Equal(t, []string{tt.eventType}, d.EventTypes())
			}
		})
	}
}

func TestRegister_Duplicate(t *testing.T) {
	d := dispatcher.New(service.NewProcessor(repository.NewMemoryStore(), service.Config{}))
	require.NoError(t, d.Register("DailyDigest", noop))
	assert.Error(t, d.Register("DailyDigest", noop))
}

func TestDispatch_UnknownEventType(t *testing.T) {
	store := repository.NewMemoryStore()
	d := dispatcher.New(service.NewProcessor(store, service.Config{}))

	msg := digestMessage()
	msg.EventType = "WeeklyDigest"
	err := d.Dispatch(context.Background(), dispatcher.NewScope(msg, nil))

	assert.ErrorIs(t, err, dispatcher.ErrUnknownEventType)
	_, err = store.Get(context.Background(), "1", "test-topic")
	assert.ErrorIs(t, err, repository.ErrEventNotFound, "unknown types never reach the store")
}

func TestDispatch_FreshHandlerPerScope(t *testing.T) {
	d := dispatcher.New(service.NewProcessor(repository.NewMemoryStore(), service.Config{}))

	var scopes []*dispatcher.Scope
	require.NoError(t, d.Register("DailyDigest", func(s *dispatcher.Scope) service.Handler {
		scopes = append(scopes, s)
		return service.HandlerFunc(func(context.Context, *models.Message) error { return nil })
	}))

	first := digestMessage()
	second := digestMessage()
	second.MessageID = "2"

	require.NoError(t, d.Dispatch(context.Background(), dispatcher.NewScope(first, nil)))
	require.NoError(t, d.Dispatch(context.Background(), dispatcher.NewScope(second, nil)))

	require.Len(t, scopes, 2)
	assert.NotEqual(t, scopes[0].DeliveryID, scopes[1].DeliveryID)
	assert.Same(t, first, scopes[0].Message)
	assert.Same(t, second, scopes[1].Message)
}

func TestDispatch_PropagatesDeliveryID(t *testing.T) {
	d := dispatcher.New(service.NewProcessor(repository.NewMemoryStore(), service.Config{}))

	var seen string
	require.NoError(t, d.Register("DailyDigest", func(*dispatcher.Scope) service.Handler {
		return service.HandlerFunc(func(ctx context.Context, _ *models.Message) error {
			seen = middleware.GetRequestID(ctx)
			return nil
		})
	}))

	scope := dispatcher.NewScope(digestMessage(), nil)
	require.NoError(t, d.Dispatch(context.Background(), scope))
	assert.Equal(t, scope.DeliveryID, seen)
}

func TestDispatch_IdempotentThroughProcessor(t *testing.T) {
	store := repository.NewMemoryStore()
	d := dispatcher.New(service.NewProcessor(store, service.Config{}))

	calls := 0
	require.NoError(t, d.Register("DailyDigest", func(*dispatcher.Scope) service.Handler {
		return service.HandlerFunc(func(context.Context, *models.Message) error {
			calls++
			return nil
		})
	}))

	require.NoError(t, d.Dispatch(context.Background(), dispatcher.NewScope(digestMessage(), nil)))
	err := d.Dispatch(context.Background(), dispatcher.NewScope(digestMessage(), nil))

	assert.True(t, models.IsProcessed(err))
	assert.Equal(t, 1, calls)
}
