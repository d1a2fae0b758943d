package store

import "boardsync/domain"

// Boards returns a copy of the board set.
func (s *Store) Boards() []domain.Board {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Board(nil), s.boards...)
}

// Stages returns a copy of the stage set.
func (s *Store) Stages() []domain.Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Stage(nil), s.stages...)
}

// Tasks returns a copy of the task set.
func (s *Store) Tasks() []domain.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Task(nil), s.tasks...)
}

// Task looks up a single task by ID.
func (s *Store) Task(taskID string) (domain.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		if t.ID == taskID {
			return t, true
		}
	}
	return domain.Task{}, false
}

// Presence returns a copy of the live presence entries.
func (s *Store) Presence() []domain.Presence {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Presence(nil), s.presence...)
}

// Activities returns a copy of the activity log in append order.
func (s *Store) Activities() []domain.Activity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Activity(nil), s.activities...)
}

// Conflicts returns a copy of all conflict records, resolved or not.
func (s *Store) Conflicts() []domain.Conflict {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Conflict(nil), s.conflicts...)
}

// TasksByStage filters the task set by stage. The result is computed fresh
// on every call.
func (s *Store) TasksByStage(stageID string) []domain.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Task
	for _, t := range s.tasks {
		if t.StageID == stageID {
			out = append(out, t)
		}
	}
	return out
}

// BoardMetrics reduces the current task set for one board. Metrics are never
// cached, so they cannot drift from the underlying entities.
func (s *Store) BoardMetrics(boardID string) domain.BoardMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()

	var m domain.BoardMetrics
	progressSum := 0
	for _, t := range s.tasks {
		if t.BoardID != boardID {
			continue
		}
		m.TotalTasks++
		progressSum += t.Progress
		switch t.Status {
		case domain.StatusDone:
			m.CompletedTasks++
		case domain.StatusInProgress:
			m.InProgressTasks++
		case domain.StatusBacklog:
			m.BacklogTasks++
		}
	}
	if m.TotalTasks > 0 {
		m.AverageProgress = float64(progressSum) / float64(m.TotalTasks)
	}
	return m
}
