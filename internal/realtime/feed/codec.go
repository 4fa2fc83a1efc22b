// Package feed holds what the change feed sources share: the JSON wire
// format used on message buses and the naming of per-collection channels.
package feed

import (
	"fmt"

	"github.com/goccy/go-json"

	"github.com/syntrixbase/livefeed/internal/realtime/watcher"
)

// Decode parses a JSON change message. The message mirrors the MongoDB
// change event: operationType, documentKey, fullDocument and
// fullDocumentBeforeChange.
func Decode(data []byte) (watcher.RawChange, error) {
	var raw watcher.RawChange
	if err := json.Unmarshal(data, &raw); err != nil {
		return watcher.RawChange{}, fmt.Errorf("decode change message: %w", err)
	}
	if raw.OperationType == "" {
		return watcher.RawChange{}, fmt.Errorf("decode change message: missing operationType")
	}
	return raw, nil
}

// Encode renders a change in the wire format accepted by Decode.
func Encode(raw watcher.RawChange) ([]byte, error) {
	return json.Marshal(raw)
}

// ChannelName returns the bus subject or topic carrying a collection's
// changes.
func ChannelName(prefix, collection string) string {
	if prefix == "" {
		return collection
	}
	return prefix + "." + collection
}
