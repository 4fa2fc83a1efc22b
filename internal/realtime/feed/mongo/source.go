// Package mongo opens MongoDB change streams as watcher feeds.
package mongo

import (
	"context"
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/syntrixbase/livefeed/internal/realtime/watcher"
)

// rawEvent is the subset of a change stream event the watcher needs.
type rawEvent struct {
	OperationType            string `bson:"operationType"`
	DocumentKey              bson.M `bson:"documentKey,omitempty"`
	FullDocument             bson.M `bson:"fullDocument,omitempty"`
	FullDocumentBeforeChange bson.M `bson:"fullDocumentBeforeChange,omitempty"`
}

// changeStream is the part of *mongo.ChangeStream a stream reads from.
type changeStream interface {
	Next(ctx context.Context) bool
	Decode(val any) error
	Err() error
	Close(ctx context.Context) error
}

// Source watches collections of one database.
type Source struct {
	db     *mongo.Database
	logger *slog.Logger
}

// NewSource creates a change stream source on db.
func NewSource(db *mongo.Database, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{db: db, logger: logger.With("component", "feed.mongo")}
}

// Open starts a change stream on collection. Updates carry the current
// document; deletes carry the pre-image when the collection records one.
func (s *Source) Open(ctx context.Context, collection string) (watcher.Stream, error) {
	opts := options.ChangeStream().
		SetFullDocument(options.UpdateLookup).
		SetFullDocumentBeforeChange(options.WhenAvailable)

	cs, err := s.db.Collection(collection).Watch(ctx, mongo.Pipeline{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open change stream on %s: %w", collection, err)
	}
	return newStream(cs, s.logger.With("collection", collection)), nil
}

type stream struct {
	cs     changeStream
	logger *slog.Logger
}

func newStream(cs changeStream, logger *slog.Logger) *stream {
	return &stream{cs: cs, logger: logger}
}

func (s *stream) Next(ctx context.Context) (watcher.RawChange, error) {
	for s.cs.Next(ctx) {
		var raw rawEvent
		if err := s.cs.Decode(&raw); err != nil {
			s.logger.Error("Failed to decode change event", "error", err)
			continue
		}
		return toRawChange(raw), nil
	}

	if err := s.cs.Err(); err != nil {
		return watcher.RawChange{}, fmt.Errorf("change stream error: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return watcher.RawChange{}, err
	}
	return watcher.RawChange{}, watcher.ErrFeedClosed
}

func (s *stream) Close(ctx context.Context) error {
	return s.cs.Close(ctx)
}

func toRawChange(raw rawEvent) watcher.RawChange {
	return watcher.RawChange{
		OperationType:            raw.OperationType,
		DocumentKey:              convertBsonM(raw.DocumentKey),
		FullDocument:             convertBsonM(raw.FullDocument),
		FullDocumentBeforeChange: convertBsonM(raw.FullDocumentBeforeChange),
	}
}

// convertBsonM converts a bson.M to plain Go values. ObjectIDs become hex
// strings so they compare equal to ids taken from URLs and tokens.
func convertBsonM(m bson.M) map[string]any {
	if m == nil {
		return nil
	}
	result := make(map[string]any, len(m))
	for k, v := range m {
		result[k] = convertBsonValue(v)
	}
	return result
}

func convertBsonValue(v any) any {
	switch val := v.(type) {
	case bson.M:
		return convertBsonM(val)
	case bson.D:
		return convertBsonM(val.Map())
	case bson.A:
		result := make([]any, len(val))
		for i, item := range val {
			result[i] = convertBsonValue(item)
		}
		return result
	case primitive.ObjectID:
		return val.Hex()
	case primitive.DateTime:
		return val.Time().UTC()
	case primitive.Timestamp:
		return map[string]any{"T": val.T, "I": val.I}
	default:
		return v
	}
}
