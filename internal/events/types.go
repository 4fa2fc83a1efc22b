// Package events defines the normalized change event shared by the change
// feed watchers, the fan-out dispatcher and the streaming gateway.
package events

import "time"

// OperationType is the kind of mutation a change event describes.
type OperationType string

const (
	OperationInsert  OperationType = "insert"
	OperationUpdate  OperationType = "update"
	OperationDelete  OperationType = "delete"
	OperationReplace OperationType = "replace"
)

// IsValid reports whether the operation type is one of the supported values.
func (o OperationType) IsValid() bool {
	switch o {
	case OperationInsert, OperationUpdate, OperationDelete, OperationReplace:
		return true
	default:
		return false
	}
}

// ChangeEvent is a single normalized mutation on a topic.
type ChangeEvent struct {
	Operation OperationType
	Topic     string

	// OwnerUserID is empty for events relevant to every subscriber of Topic.
	OwnerUserID string

	DocumentID string
	Payload    map[string]any

	// Timestamp is assigned in-process, never taken from the origin store.
	Timestamp time.Time
}

// IsGlobal reports whether the event is not scoped to a single user.
func (e ChangeEvent) IsGlobal() bool {
	return e.OwnerUserID == ""
}
