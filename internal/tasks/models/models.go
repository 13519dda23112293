// Package models defines the task board entities and the task state machine.
package models

// Status is a task's position in the workflow state machine.
type Status string

const (
	StatusOpen       Status = "open"
	StatusClaimed    Status = "claimed"
	StatusInProgress Status = "in_progress"
	StatusBlocked    Status = "blocked"
	StatusDone       Status = "done"
	StatusCancelled  Status = "cancelled"
)

// BoardStatuses are the columns of the board view, in display order.
var BoardStatuses = []Status{StatusOpen, StatusClaimed, StatusInProgress, StatusBlocked, StatusDone}

// transitions maps each state to the states reachable from it. Terminal
// states have no successors.
var transitions = map[Status][]Status{
	StatusOpen:       {StatusClaimed, StatusInProgress, StatusDone, StatusCancelled, StatusBlocked},
	StatusClaimed:    {StatusInProgress, StatusBlocked, StatusCancelled},
	StatusInProgress: {StatusDone, StatusBlocked, StatusCancelled},
	StatusBlocked:    {StatusInProgress, StatusCancelled},
	StatusDone:       {},
	StatusCancelled:  {},
}

// ValidStatus reports whether s names a known status.
func ValidStatus(s string) bool {
	_, ok := transitions[Status(s)]
	return ok
}

// CanTransition reports whether the state machine allows moving from s to
// next.
func (s Status) CanTransition(next Status) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Terminal reports whether s admits no further transitions.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// Priority orders tasks on every listing surface.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// ValidPriority reports whether p names a known priority.
func ValidPriority(p string) bool {
	switch Priority(p) {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Task is a unit of work on the shared board.
type Task struct {
	ID             string   `json:"id"`
	Title          string   `json:"title"`
	Description    string   `json:"description,omitempty"`
	Status         Status   `json:"status"`
	Priority       Priority `json:"priority"`
	CreatedBy      string   `json:"created_by"`
	AssignedTo     string   `json:"assigned_to,omitempty"`
	ClaimedBy      string   `json:"claimed_by,omitempty"`
	Tags           []string `json:"tags"`
	CreatedAt      float64  `json:"created_at"`
	UpdatedAt      float64  `json:"updated_at"`
	CompletedAt    *float64 `json:"completed_at,omitempty"`
	DueBy          string   `json:"due_by,omitempty"`
	ParentID       string   `json:"parent_id,omitempty"`
	ProjectID      string   `json:"project_id,omitempty"`
	MilestoneID    string   `json:"milestone_id,omitempty"`
	EffortEstimate string   `json:"effort_estimate,omitempty"`
}

// HasTag reports whether the task carries the given tag.
func (t *Task) HasTag(tag string) bool {
	for _, have := range t.Tags {
		if have == tag {
			return true
		}
	}
	return false
}

// Comment is an immutable note on a task.
type Comment struct {
	ID        string  `json:"id"`
	TaskID    string  `json:"task_id"`
	AgentName string  `json:"agent_name"`
	Content   string  `json:"content"`
	CreatedAt float64 `json:"created_at"`
}

// HistoryEntry is one row of a task's append-only audit log.
type HistoryEntry struct {
	ID        string  `json:"id"`
	TaskID    string  `json:"task_id"`
	AgentName string  `json:"agent_name"`
	Action    string  `json:"action"`
	Details   string  `json:"details,omitempty"`
	CreatedAt float64 `json:"created_at"`
}

// FeedEntry is a history entry joined with its task's title, for the
// personal activity feed.
type FeedEntry struct {
	HistoryEntry
	TaskTitle string `json:"task_title"`
}

// DependencyTask is the summary of a task appearing on either side of a
// dependency edge.
type DependencyTask struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Status   Status   `json:"status"`
	Priority Priority `json:"priority"`
}

// DependencyInfo is the dependency view of one task: direct predecessors,
// how many of them are not yet done, and direct successors.
type DependencyInfo struct {
	DependsOn     []*DependencyTask `json:"depends_on"`
	UnmetBlockers int               `json:"unmet_blockers"`
	Blocks        []*DependencyTask `json:"blocks"`
}
