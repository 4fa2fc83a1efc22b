package watcher

import (
	"context"
	"errors"
)

// ErrFeedClosed is returned by Stream.Next when the feed ended without error.
var ErrFeedClosed = errors.New("change feed closed")

// RawChange is a change document as delivered by a feed, before
// normalization. Field names follow the MongoDB change event.
type RawChange struct {
	OperationType string         `json:"operationType"`
	DocumentKey   map[string]any `json:"documentKey,omitempty"`
	FullDocument  map[string]any `json:"fullDocument,omitempty"`

	// FullDocumentBeforeChange is the pre-image, when the feed supplies one.
	FullDocumentBeforeChange map[string]any `json:"fullDocumentBeforeChange,omitempty"`
}

// Source opens change feeds on a named collection.
type Source interface {
	Open(ctx context.Context, collection string) (Stream, error)
}

// Stream yields raw changes until it fails or is closed.
type Stream interface {
	// Next blocks for the next change. It returns ErrFeedClosed when the
	// feed ended, ctx.Err() when ctx is done, or the feed error.
	Next(ctx context.Context) (RawChange, error)
	Close(ctx context.Context) error
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context, collection string) (Stream, error)

// Open implements Source.
func (f SourceFunc) Open(ctx context.Context, collection string) (Stream, error) {
	return f(ctx, collection)
}
