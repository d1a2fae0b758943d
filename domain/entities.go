package domain

import "time"

// TaskStatus is the workflow position of a task.
type TaskStatus string

const (
	StatusBacklog    TaskStatus = "backlog"
	StatusInProgress TaskStatus = "in-progress"
	StatusReview     TaskStatus = "review"
	StatusDone       TaskStatus = "done"
)

// TaskPriority orders tasks by urgency.
type TaskPriority string

const (
	PriorityCritical TaskPriority = "critical"
	PriorityHigh     TaskPriority = "high"
	PriorityMedium   TaskPriority = "medium"
	PriorityLow      TaskPriority = "low"
)

// PresenceStatus is a user's availability on a board.
type PresenceStatus string

const (
	PresenceOnline PresenceStatus = "online"
	PresenceAway   PresenceStatus = "away"
	PresenceBusy   PresenceStatus = "busy"
)

// ConflictType classifies why two edits collided.
type ConflictType string

const (
	ConflictSimultaneousEdit ConflictType = "simultaneous-edit"
	ConflictStage            ConflictType = "stage-conflict"
	ConflictAssignment       ConflictType = "assignment-conflict"
)

// Resolution is how a conflict was settled. Empty means unresolved.
type Resolution string

const (
	ResolveAuto       Resolution = "auto-resolve"
	ResolveManual     Resolution = "manual-resolve"
	ResolveUserChoice Resolution = "user-choice"
)

// Board is a named collection of stages and tasks representing one workflow.
type Board struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	StageIDs        []string  `json:"stageIds,omitempty"`
	RealTimeUpdates bool      `json:"realTimeUpdates,omitempty"`
	WorkflowType    string    `json:"workflowType,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Stage is a column a task can occupy within a board.
type Stage struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	BoardID   string    `json:"boardId"`
	Color     string    `json:"color,omitempty"`
	Order     int       `json:"order"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Task is a single board item. A task belongs to exactly one stage and one
// board at any instant.
type Task struct {
	ID             string       `json:"id"`
	Title          string       `json:"title"`
	Description    string       `json:"description,omitempty"`
	Priority       TaskPriority `json:"priority,omitempty"`
	Status         TaskStatus   `json:"status"`
	Assignee       string       `json:"assignee,omitempty"`
	DueDate        *time.Time   `json:"dueDate,omitempty"`
	Progress       int          `json:"progress"`
	Tags           []string     `json:"tags,omitempty"`
	StageID        string       `json:"stageId"`
	BoardID        string       `json:"boardId"`
	CreatedAt      time.Time    `json:"createdAt"`
	UpdatedAt      time.Time    `json:"updatedAt"`
	LastModifiedAt time.Time    `json:"lastModifiedAt"`
	LastModifiedBy string       `json:"lastModifiedBy,omitempty"`
}

// TaskUpdate carries partial updates for a task. Nil fields are untouched.
type TaskUpdate struct {
	Title       *string       `json:"title,omitempty"`
	Description *string       `json:"description,omitempty"`
	Priority    *TaskPriority `json:"priority,omitempty"`
	Status      *TaskStatus   `json:"status,omitempty"`
	Assignee    *string       `json:"assignee,omitempty"`
	DueDate     *time.Time    `json:"dueDate,omitempty"`
	Progress    *int          `json:"progress,omitempty"`
	Tags        *[]string     `json:"tags,omitempty"`
}

// StageUpdate carries partial updates for a stage.
type StageUpdate struct {
	Name  *string `json:"name,omitempty"`
	Color *string `json:"color,omitempty"`
	Order *int    `json:"order,omitempty"`
}

// BoardUpdate carries partial updates for a board.
type BoardUpdate struct {
	Name            *string   `json:"name,omitempty"`
	StageIDs        *[]string `json:"stageIds,omitempty"`
	RealTimeUpdates *bool     `json:"realTimeUpdates,omitempty"`
	WorkflowType    *string   `json:"workflowType,omitempty"`
}

// Presence is a user's live availability marker scoped to a board. Entries
// are keyed by (UserID, BoardID); a new entry replaces the old one wholesale.
type Presence struct {
	UserID        string         `json:"userId"`
	UserName      string         `json:"userName"`
	BoardID       string         `json:"boardId"`
	CurrentTaskID string         `json:"currentTaskId,omitempty"`
	Status        PresenceStatus `json:"status"`
	LastSeen      time.Time      `json:"lastSeen"`
}

// Activity is one append-only audit log entry. Activities are never mutated
// or deleted once appended.
type Activity struct {
	ID        string         `json:"id"`
	BoardID   string         `json:"boardId"`
	TaskID    string         `json:"taskId,omitempty"`
	UserID    string         `json:"userId"`
	Action    string         `json:"action"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Activity actions recorded by the store and the transport.
const (
	ActionBoardCreated     = "board-created"
	ActionTaskCreated      = "task-created"
	ActionTaskUpdated      = "task-updated"
	ActionTaskMoved        = "task-moved"
	ActionTaskDeleted      = "task-deleted"
	ActionStageAdded       = "stage-added"
	ActionStageDeleted     = "stage-deleted"
	ActionBoardUpdated     = "board-updated"
	ActionUserJoined       = "user-joined"
	ActionUserLeft         = "user-left"
	ActionPresenceUpdated  = "presence-updated"
	ActionConflictDetected = "conflict-detected"
	ActionConflictResolved = "conflict-resolved"
)

// Conflict records two edits contending for the same task. A conflict is
// unresolved while Resolution is empty; it transitions exactly once and is
// never deleted.
type Conflict struct {
	ID           string       `json:"id"`
	TaskID       string       `json:"taskId"`
	UserID       string       `json:"userId"`
	ConflictType ConflictType `json:"conflictType"`
	Resolution   Resolution   `json:"resolution,omitempty"`
	CreatedAt    time.Time    `json:"createdAt"`
	ResolvedAt   *time.Time   `json:"resolvedAt,omitempty"`
}

// Resolved reports whether the conflict has reached a terminal state.
func (c Conflict) Resolved() bool { return c.Resolution != "" }

// BoardMetrics is a reduction over the tasks of one board. It is always
// recomputed from the task set, never cached.
type BoardMetrics struct {
	TotalTasks      int     `json:"totalTasks"`
	CompletedTasks  int     `json:"completedTasks"`
	InProgressTasks int     `json:"inProgressTasks"`
	BacklogTasks    int     `json:"backlogTasks"`
	AverageProgress float64 `json:"averageProgress"`
}
