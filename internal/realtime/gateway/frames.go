package gateway

import (
	"time"

	"github.com/goccy/go-json"

	"github.com/syntrixbase/livefeed/internal/events"
)

// Frame types written to clients.
const (
	FrameConnection = "connection"
	FrameChange     = "change"
	FrameHeartbeat  = "heartbeat"
)

// ConnectionFrame opens every stream.
type ConnectionFrame struct {
	Type        string    `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
	ClientID    string    `json:"clientId"`
	Collections []string  `json:"collections"`
}

// ChangeFrame carries one change event.
type ChangeFrame struct {
	Type       string         `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	Collection string         `json:"collection"`
	Operation  string         `json:"operation"`
	DocumentID string         `json:"documentId,omitempty"`
	Data       map[string]any `json:"data"`
}

// HeartbeatFrame keeps idle streams alive.
type HeartbeatFrame struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

func connectionFrame(now time.Time, clientID string, topics []string) ConnectionFrame {
	return ConnectionFrame{Type: FrameConnection, Timestamp: now, ClientID: clientID, Collections: topics}
}

func heartbeatFrame(now time.Time) HeartbeatFrame {
	return HeartbeatFrame{Type: FrameHeartbeat, Timestamp: now}
}

func changeFrame(evt events.ChangeEvent) ChangeFrame {
	data := evt.Payload
	if data == nil {
		data = map[string]any{}
	}
	return ChangeFrame{
		Type:       FrameChange,
		Timestamp:  evt.Timestamp,
		Collection: evt.Topic,
		Operation:  string(evt.Operation),
		DocumentID: evt.DocumentID,
		Data:       data,
	}
}

func encodeFrame(f any) ([]byte, error) {
	return json.Marshal(f)
}
