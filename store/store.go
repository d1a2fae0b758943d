// Package store holds the canonical client-side snapshot of boards, stages,
// tasks, presence, activity and conflicts. All mutation goes through the
// action methods below; no caller may splice the collections directly.
package store

import (
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"boardsync/domain"
)

// Store is a synchronized snapshot for one user session. Actions are
// serialized by an internal mutex, so no two actions ever run concurrently
// on the same instance.
type Store struct {
	userID   string
	userName string
	logger   *log.Logger

	mu             sync.Mutex
	boards         []domain.Board
	currentBoardID string
	stages         []domain.Stage
	tasks          []domain.Task
	presence       []domain.Presence
	activities     []domain.Activity
	conflicts      []domain.Conflict
	selectedTaskID string
}

// New creates an empty store acting on behalf of the given user. A nil
// logger falls back to the logrus standard logger.
func New(userID, userName string, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Store{userID: userID, userName: userName, logger: logger}
}

// UserID returns the acting user of this store instance.
func (s *Store) UserID() string { return s.userID }

// UserName returns the acting user's display name.
func (s *Store) UserName() string { return s.userName }

func (s *Store) appendActivityLocked(boardID, taskID, userID, action string, details map[string]any) {
	s.activities = append(s.activities, domain.Activity{
		ID:        uuid.NewString(),
		BoardID:   boardID,
		TaskID:    taskID,
		UserID:    userID,
		Action:    action,
		Details:   details,
		Timestamp: time.Now().UTC(),
	})
}

// SetCurrentBoard switches the board subsequent activity entries attach to.
func (s *Store) SetCurrentBoard(boardID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentBoardID = boardID
}

// CurrentBoard returns the active board, if one is set.
func (s *Store) CurrentBoard() (domain.Board, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.boards {
		if b.ID == s.currentBoardID {
			return b, true
		}
	}
	return domain.Board{}, false
}

// AddBoard inserts a board and makes it current.
func (s *Store) AddBoard(b domain.Board) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	if b.UpdatedAt.IsZero() {
		b.UpdatedAt = now
	}
	s.boards = append(s.boards, b)
	s.currentBoardID = b.ID
	s.appendActivityLocked(b.ID, "", s.userID, domain.ActionBoardCreated, map[string]any{"boardName": b.Name})
}

// UpdateBoard merges updates into the identified board.
func (s *Store) UpdateBoard(boardID string, updates domain.BoardUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.boards {
		if s.boards[i].ID != boardID {
			continue
		}
		domain.ApplyBoardUpdate(&s.boards[i], updates)
		s.boards[i].UpdatedAt = time.Now().UTC()
		s.appendActivityLocked(boardID, "", s.userID, domain.ActionBoardUpdated, nil)
		return
	}
	s.logger.WithField("boardId", boardID).Debug("update for unknown board dropped")
}

// AddStage inserts a stage.
func (s *Store) AddStage(stage domain.Stage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if stage.CreatedAt.IsZero() {
		stage.CreatedAt = now
	}
	if stage.UpdatedAt.IsZero() {
		stage.UpdatedAt = now
	}
	s.stages = append(s.stages, stage)
	s.appendActivityLocked(stage.BoardID, "", s.userID, domain.ActionStageAdded, map[string]any{"stageName": stage.Name})
}

// UpdateStage merges updates into the identified stage.
func (s *Store) UpdateStage(stageID string, updates domain.StageUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.stages {
		if s.stages[i].ID != stageID {
			continue
		}
		domain.ApplyStageUpdate(&s.stages[i], updates)
		s.stages[i].UpdatedAt = time.Now().UTC()
		s.appendActivityLocked(s.stages[i].BoardID, "", s.userID, domain.ActionStageAdded, map[string]any{"stageId": stageID, "updated": true})
		return
	}
}

// DeleteStage removes a stage and cascades: every task referencing it is
// removed as well, so no task is left pointing at a missing stage.
func (s *Store) DeleteStage(stageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	boardID := ""
	kept := s.stages[:0]
	for _, st := range s.stages {
		if st.ID == stageID {
			boardID = st.BoardID
			continue
		}
		kept = append(kept, st)
	}
	s.stages = kept

	removed := 0
	keptTasks := s.tasks[:0]
	for _, t := range s.tasks {
		if t.StageID == stageID {
			removed++
			continue
		}
		keptTasks = append(keptTasks, t)
	}
	s.tasks = keptTasks
	s.appendActivityLocked(boardID, "", s.userID, domain.ActionStageDeleted, map[string]any{"stageId": stageID, "tasksRemoved": removed})
}

// AddTask inserts a task, stamping audit fields that are unset.
func (s *Store) AddTask(task domain.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	if task.UpdatedAt.IsZero() {
		task.UpdatedAt = now
	}
	if task.LastModifiedAt.IsZero() {
		task.LastModifiedAt = now
	}
	actor := task.LastModifiedBy
	if actor == "" {
		actor = s.userID
	}
	s.tasks = append(s.tasks, task)
	s.appendActivityLocked(task.BoardID, task.ID, actor, domain.ActionTaskCreated, map[string]any{"taskTitle": task.Title})
}

// UpdateTask merges a partial update into the identified task and stamps
// the audit fields.
func (s *Store) UpdateTask(taskID string, updates domain.TaskUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.tasks {
		if s.tasks[i].ID != taskID {
			continue
		}
		domain.ApplyTaskUpdate(&s.tasks[i], updates)
		s.stampTaskLocked(&s.tasks[i], s.userID)
		s.appendActivityLocked(s.tasks[i].BoardID, taskID, s.userID, domain.ActionTaskUpdated, nil)
		return
	}
	s.logger.WithField("taskId", taskID).Debug("update for unknown task dropped")
}

// ReplaceTask applies a full task received from another client, overwriting
// the local copy wholesale. The remote task's audit fields win.
func (s *Store) ReplaceTask(task domain.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.tasks {
		if s.tasks[i].ID != task.ID {
			continue
		}
		s.tasks[i] = task
		s.appendActivityLocked(task.BoardID, task.ID, task.LastModifiedBy, domain.ActionTaskUpdated, nil)
		return
	}
	// Unknown task: treat as a create we missed.
	s.tasks = append(s.tasks, task)
	s.appendActivityLocked(task.BoardID, task.ID, task.LastModifiedBy, domain.ActionTaskCreated, map[string]any{"taskTitle": task.Title})
}

func (s *Store) stampTaskLocked(t *domain.Task, userID string) {
	now := time.Now().UTC()
	t.UpdatedAt = now
	t.LastModifiedAt = now
	t.LastModifiedBy = userID
}

// MoveTask transfers a task between stages. The move is gated: if an
// unresolved conflict already holds the task, or the caller's source stage
// is stale, the move is rejected and converted into a new conflict record
// instead. The first mutation to arrive wins; it returns true only when the
// task actually changed stage.
func (s *Store) MoveTask(taskID, sourceStageID, destinationStageID string) bool {
	return s.moveTask(taskID, sourceStageID, destinationStageID, s.userID)
}

// MoveTaskBy is the remote-origin form of MoveTask, attributing the move
// (and any conflict it raises) to the given user.
func (s *Store) MoveTaskBy(taskID, sourceStageID, destinationStageID, userID string) bool {
	return s.moveTask(taskID, sourceStageID, destinationStageID, userID)
}

func (s *Store) moveTask(taskID, sourceStageID, destinationStageID, userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	var task *domain.Task
	for i := range s.tasks {
		if s.tasks[i].ID == taskID {
			task = &s.tasks[i]
			break
		}
	}
	if task == nil {
		s.logger.WithField("taskId", taskID).Debug("move for unknown task dropped")
		return false
	}

	if s.unresolvedConflictLocked(taskID) {
		s.addConflictLocked(domain.Conflict{
			TaskID:       taskID,
			UserID:       userID,
			ConflictType: domain.ConflictSimultaneousEdit,
		}, task.BoardID)
		return false
	}

	if task.StageID != sourceStageID {
		// The mover acted on a stale view; the earlier move keeps the task.
		s.addConflictLocked(domain.Conflict{
			TaskID:       taskID,
			UserID:       userID,
			ConflictType: domain.ConflictStage,
		}, task.BoardID)
		return false
	}

	task.StageID = destinationStageID
	s.stampTaskLocked(task, userID)
	s.appendActivityLocked(task.BoardID, taskID, userID, domain.ActionTaskMoved, map[string]any{
		"fromStage": sourceStageID,
		"toStage":   destinationStageID,
	})
	return true
}

// DeleteTask removes a task.
func (s *Store) DeleteTask(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.tasks[:0]
	boardID := ""
	for _, t := range s.tasks {
		if t.ID == taskID {
			boardID = t.BoardID
			continue
		}
		kept = append(kept, t)
	}
	s.tasks = kept
	s.appendActivityLocked(boardID, taskID, s.userID, domain.ActionTaskDeleted, nil)
}

// UpdatePresence upserts a presence entry keyed by (userID, boardID): any
// existing entry for the key is replaced wholesale.
func (s *Store) UpdatePresence(p domain.Presence) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.LastSeen.IsZero() {
		p.LastSeen = time.Now().UTC()
	}
	kept := s.presence[:0]
	for _, e := range s.presence {
		if e.UserID == p.UserID && e.BoardID == p.BoardID {
			continue
		}
		kept = append(kept, e)
	}
	s.presence = append(kept, p)
	s.appendActivityLocked(p.BoardID, "", p.UserID, domain.ActionPresenceUpdated, map[string]any{"status": string(p.Status)})
}

// RemovePresence drops every presence entry for the given user.
func (s *Store) RemovePresence(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.presence[:0]
	boardID := ""
	for _, e := range s.presence {
		if e.UserID == userID {
			boardID = e.BoardID
			continue
		}
		kept = append(kept, e)
	}
	s.presence = kept
	s.appendActivityLocked(boardID, "", userID, domain.ActionUserLeft, nil)
}

// AddActivity appends a remote activity record verbatim, filling the ID and
// timestamp only when the sender left them empty.
func (s *Store) AddActivity(a domain.Activity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now().UTC()
	}
	s.activities = append(s.activities, a)
}

// AddConflict records a conflict observed remotely.
func (s *Store) AddConflict(c domain.Conflict) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addConflictLocked(c, "")
}

func (s *Store) addConflictLocked(c domain.Conflict, boardID string) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	s.conflicts = append(s.conflicts, c)
	s.appendActivityLocked(boardID, c.TaskID, c.UserID, domain.ActionConflictDetected, map[string]any{
		"conflictId":   c.ID,
		"conflictType": string(c.ConflictType),
	})
}

// ResolveConflict marks a conflict settled. Resolution does not merge any
// state; it only releases the gate. Resolving an already-resolved conflict
// is a no-op, so the terminal state is stable.
func (s *Store) ResolveConflict(conflictID string, resolution domain.Resolution) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.conflicts {
		if s.conflicts[i].ID != conflictID {
			continue
		}
		if s.conflicts[i].Resolved() {
			return
		}
		now := time.Now().UTC()
		s.conflicts[i].Resolution = resolution
		s.conflicts[i].ResolvedAt = &now
		s.appendActivityLocked("", s.conflicts[i].TaskID, s.userID, domain.ActionConflictResolved, map[string]any{
			"conflictId": conflictID,
			"resolution": string(resolution),
		})
		return
	}
}

// DetectConflict reports an unresolved conflict held on the task by some
// other user, surfacing it as a simultaneous edit.
func (s *Store) DetectConflict(taskID, userID string) (domain.Conflict, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conflicts {
		if c.TaskID == taskID && !c.Resolved() && c.UserID != userID {
			return c, true
		}
	}
	return domain.Conflict{}, false
}

func (s *Store) unresolvedConflictLocked(taskID string) bool {
	for _, c := range s.conflicts {
		if c.TaskID == taskID && !c.Resolved() {
			return true
		}
	}
	return false
}

// SelectTask remembers the task the UI is focused on. An empty ID clears
// the selection.
func (s *Store) SelectTask(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selectedTaskID = taskID
}

// SelectedTask returns the focused task, if any.
func (s *Store) SelectedTask() (domain.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		if t.ID == s.selectedTaskID {
			return t, true
		}
	}
	return domain.Task{}, false
}
