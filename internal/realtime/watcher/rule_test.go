package watcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syntrixbase/livefeed/internal/events"
)

func TestNewRule(t *testing.T) {
	r, err := NewRule("notifications", "", "userId", "")
	require.NoError(t, err)
	assert.Equal(t, "notifications", r.Collection)
	assert.True(t, r.UserScoped())

	r, err = NewRule("features", "feature_flags", "", "")
	require.NoError(t, err)
	assert.Equal(t, "feature_flags", r.Collection)
	assert.False(t, r.UserScoped())

	_, err = NewRule("", "x", "", "")
	assert.Error(t, err)

	_, err = NewRule("features", "", "", "doc.enabled ==")
	assert.Error(t, err, "syntax error")

	_, err = NewRule("features", "", "", "'not a bool'")
	assert.Error(t, err, "non-boolean output")
}

func TestRule_Normalize(t *testing.T) {
	notifications, err := NewRule("notifications", "", "userId", "")
	require.NoError(t, err)
	features, err := NewRule("features", "", "", "")
	require.NoError(t, err)

	t.Run("user scoped insert", func(t *testing.T) {
		evt, reason := notifications.Normalize(RawChange{
			OperationType: "insert",
			DocumentKey:   map[string]any{"_id": "n1"},
			FullDocument: map[string]any{
				"_id":      "n1",
				"userId":   "u1",
				"title":    "hi",
				"apiToken": "x",
			},
		})
		require.Equal(t, skipNone, reason)
		assert.Equal(t, events.OperationInsert, evt.Operation)
		assert.Equal(t, "notifications", evt.Topic)
		assert.Equal(t, "u1", evt.OwnerUserID)
		assert.Equal(t, "n1", evt.DocumentID)
		assert.True(t, evt.Timestamp.IsZero(), "stamped at dispatch")
		assert.Equal(t, "hi", evt.Payload["title"])
		assert.NotContains(t, evt.Payload, "apiToken")
	})

	t.Run("delete uses pre-image owner", func(t *testing.T) {
		evt, reason := notifications.Normalize(RawChange{
			OperationType:            "delete",
			DocumentKey:              map[string]any{"_id": "n1"},
			FullDocumentBeforeChange: map[string]any{"_id": "n1", "userId": "u1"},
		})
		require.Equal(t, skipNone, reason)
		assert.Equal(t, events.OperationDelete, evt.Operation)
		assert.Equal(t, "u1", evt.OwnerUserID)
	})

	t.Run("user scoped without owner is skipped", func(t *testing.T) {
		_, reason := notifications.Normalize(RawChange{
			OperationType: "delete",
			DocumentKey:   map[string]any{"_id": "n1"},
		})
		assert.Equal(t, skipOwner, reason)
	})

	t.Run("global delete without document", func(t *testing.T) {
		evt, reason := features.Normalize(RawChange{
			OperationType: "delete",
			DocumentKey:   map[string]any{"_id": "f1"},
		})
		require.Equal(t, skipNone, reason)
		assert.True(t, evt.IsGlobal())
		assert.Equal(t, map[string]any{"_id": "f1"}, evt.Payload)
	})

	t.Run("unknown operation", func(t *testing.T) {
		_, reason := features.Normalize(RawChange{OperationType: "drop"})
		assert.Equal(t, skipOperation, reason)
	})

	t.Run("nested owner field", func(t *testing.T) {
		r, err := NewRule("inbox", "", "meta.owner", "")
		require.NoError(t, err)
		evt, reason := r.Normalize(RawChange{
			OperationType: "update",
			FullDocument:  map[string]any{"_id": "i1", "meta": map[string]any{"owner": "u9"}},
		})
		require.Equal(t, skipNone, reason)
		assert.Equal(t, "u9", evt.OwnerUserID)
		assert.Equal(t, "i1", evt.DocumentID)
	})
}

func TestRule_Filter(t *testing.T) {
	r, err := NewRule("features", "", "", `operation != "delete" && has(doc.enabled) && doc.enabled == true`)
	require.NoError(t, err)

	_, reason := r.Normalize(RawChange{
		OperationType: "update",
		FullDocument:  map[string]any{"_id": "f1", "enabled": true},
	})
	assert.Equal(t, skipNone, reason)

	_, reason = r.Normalize(RawChange{
		OperationType: "update",
		FullDocument:  map[string]any{"_id": "f1", "enabled": false},
	})
	assert.Equal(t, skipFiltered, reason)

	_, reason = r.Normalize(RawChange{
		OperationType: "delete",
		DocumentKey:   map[string]any{"_id": "f1"},
	})
	assert.Equal(t, skipFiltered, reason)
}

func TestRule_FilterError(t *testing.T) {
	r, err := NewRule("features", "", "", `doc.enabled == true`)
	require.NoError(t, err)

	_, reason := r.Normalize(RawChange{
		OperationType: "insert",
		FullDocument:  map[string]any{"_id": "f1"},
	})
	assert.Equal(t, skipFilterError, reason)
}
