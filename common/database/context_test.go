package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ctxKey struct{}

func TestTimeoutContexts(t *testing.T) {
	tests := []struct {
		name    string
		fn      func(context.Context) (context.Context, context.CancelFunc)
		timeout time.Duration
	}{
		{"query", QueryContext, DefaultQueryTimeout},
		{"bulk", BulkContext, DefaultBulkTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := tt.fn(context.Background())
			defer cancel()

			deadline, ok := ctx.Deadline()
			require.True(t, ok)
			assert.WithinDuration(t, time.Now().Add(tt.timeout), deadline, time.Second)
		})
	}
}

func TestDetachedContext_SurvivesParentCancel(t *testing.T) {
	parent, cancelParent := context.WithCancel(context.WithValue(context.Background(), ctxKey{}, "v"))
	cancelParent()

	ctx, cancel := DetachedContext(parent, time.Minute)
	defer cancel()

	assert.NoError(t, ctx.Err())
	assert.Equal(t, "v", ctx.Value(ctxKey{}))

	deadline, ok := ctx.Deadline()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(time.Minute), deadline, time.Second)
}

func TestDetachedContext_DefaultTimeout(t *testing.T) {
	ctx, cancel := DetachedContext(context.Background(), 0)
	defer cancel()

	deadline, ok := ctx.Deadline()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(DefaultWriteTimeout), deadline, time.Second)
}
