package ctxkeys

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestID(t *testing.T) {
	assert.Empty(t, RequestID(context.Background()))

	ctx := WithRequestID(context.Background(), "req-1")
	assert.Equal(t, "req-1", RequestID(ctx))

	// A plain string key must not collide.
	ctx = context.WithValue(context.Background(), "request_id", "other") //nolint:staticcheck
	assert.Empty(t, RequestID(ctx))
}
