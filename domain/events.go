package domain

import (
	"fmt"

	"github.com/bytedance/sonic"
)

// EventType names one wire event. The set is closed: the transport dispatches
// with an exhaustive switch and rejects anything else.
type EventType string

// Server -> client events.
const (
	EventTaskCreated      EventType = "task:created"
	EventTaskUpdated      EventType = "task:updated"
	EventTaskMoved        EventType = "task:moved"
	EventTaskDeleted      EventType = "task:deleted"
	EventPresenceUpdate   EventType = "presence:update"
	EventUserJoined       EventType = "presence:user-joined"
	EventUserLeft         EventType = "presence:user-left"
	EventConflictDetected EventType = "conflict:detected"
	EventConflictResolved EventType = "conflict:resolved"
	EventActivityNew      EventType = "activity:new"
	EventBoardUpdated     EventType = "board:updated"
)

// Client -> server events.
const (
	EventBoardJoin       EventType = "board:join"
	EventBoardLeave      EventType = "board:leave"
	EventTaskCreate      EventType = "task:create"
	EventTaskUpdate      EventType = "task:update"
	EventTaskMove        EventType = "task:move"
	EventTaskDelete      EventType = "task:delete"
	EventConflictResolve EventType = "conflict:resolve"
)

// Envelope frames every message on the wire. Data holds the payload for the
// variant named by Type and is decoded lazily by the receiver.
type Envelope struct {
	Type EventType              `json:"type"`
	Data sonic.NoCopyRawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals payload into a framed wire message.
func NewEnvelope(t EventType, payload any) (Envelope, error) {
	data, err := sonic.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", t, err)
	}
	return Envelope{Type: t, Data: data}, nil
}

// TaskMovedPayload reports a stage transition for a task.
type TaskMovedPayload struct {
	TaskID             string `json:"taskId"`
	SourceStageID      string `json:"sourceStageId"`
	DestinationStageID string `json:"destinationStageId"`
	BoardID            string `json:"boardId,omitempty"`
	UserID             string `json:"userId,omitempty"`
}

// TaskDeletedPayload identifies a removed task.
type TaskDeletedPayload struct {
	TaskID  string `json:"taskId"`
	BoardID string `json:"boardId,omitempty"`
}

// UserLeftPayload identifies a departed user.
type UserLeftPayload struct {
	UserID  string `json:"userId"`
	BoardID string `json:"boardId,omitempty"`
}

// ConflictResolvedPayload identifies a settled conflict.
type ConflictResolvedPayload struct {
	ConflictID string     `json:"conflictId"`
	Resolution Resolution `json:"resolution,omitempty"`
	BoardID    string     `json:"boardId,omitempty"`
}

// BoardUpdatedPayload carries partial board changes.
type BoardUpdatedPayload struct {
	BoardID string      `json:"boardId"`
	Updates BoardUpdate `json:"updates"`
}

// BoardJoinPayload announces a user entering a board room.
type BoardJoinPayload struct {
	BoardID  string `json:"boardId"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

// BoardLeavePayload announces a user leaving a board room.
type BoardLeavePayload struct {
	BoardID string `json:"boardId"`
	UserID  string `json:"userId"`
}

// TaskCreatePayload asks the server to create a task on a board.
type TaskCreatePayload struct {
	Task    Task   `json:"task"`
	BoardID string `json:"boardId"`
}

// TaskUpdatePayload asks the server to patch a task.
type TaskUpdatePayload struct {
	TaskID  string     `json:"taskId"`
	Updates TaskUpdate `json:"updates"`
	BoardID string     `json:"boardId"`
}
