package domain

// ApplyTaskUpdate merges non-nil fields of u into t. Audit fields are the
// caller's responsibility.
func ApplyTaskUpdate(t *Task, u TaskUpdate) {
	if u.Title != nil {
		t.Title = *u.Title
	}
	if u.Description != nil {
		t.Description = *u.Description
	}
	if u.Priority != nil {
		t.Priority = *u.Priority
	}
	if u.Status != nil {
		t.Status = *u.Status
	}
	if u.Assignee != nil {
		t.Assignee = *u.Assignee
	}
	if u.DueDate != nil {
		t.DueDate = u.DueDate
	}
	if u.Progress != nil {
		p := *u.Progress
		if p < 0 {
			p = 0
		}
		if p > 100 {
			p = 100
		}
		t.Progress = p
	}
	if u.Tags != nil {
		t.Tags = append([]string(nil), (*u.Tags)...)
	}
}

// ApplyStageUpdate merges non-nil fields of u into s.
func ApplyStageUpdate(s *Stage, u StageUpdate) {
	if u.Name != nil {
		s.Name = *u.Name
	}
	if u.Color != nil {
		s.Color = *u.Color
	}
	if u.Order != nil {
		s.Order = *u.Order
	}
}

// ApplyBoardUpdate merges non-nil fields of u into b.
func ApplyBoardUpdate(b *Board, u BoardUpdate) {
	if u.Name != nil {
		b.Name = *u.Name
	}
	if u.StageIDs != nil {
		b.StageIDs = append([]string(nil), (*u.StageIDs)...)
	}
	if u.RealTimeUpdates != nil {
		b.RealTimeUpdates = *u.RealTimeUpdates
	}
	if u.WorkflowType != nil {
		b.WorkflowType = *u.WorkflowType
	}
}
