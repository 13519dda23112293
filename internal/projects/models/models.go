// Package models defines projects, memberships and milestones.
package models

import "math"

// Member roles.
const (
	RoleOwner  = "owner"
	RoleMember = "member"
)

// Project groups tasks, milestones and repos for progress reporting.
type Project struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Status      string   `json:"status"`
	CreatedBy   string   `json:"created_by"`
	Tags        []string `json:"tags"`
	CreatedAt   float64  `json:"created_at"`
	UpdatedAt   float64  `json:"updated_at"`
}

// Member is one project membership row.
type Member struct {
	Agent    string  `json:"agent_id"`
	Role     string  `json:"role"`
	JoinedAt float64 `json:"joined_at"`
}

// Milestone is a named checkpoint within a project.
type Milestone struct {
	ID          string  `json:"id"`
	ProjectID   string  `json:"project_id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	DueBy       string  `json:"due_by,omitempty"`
	Status      string  `json:"status"`
	CreatedAt   float64 `json:"created_at"`
}

// Progress is the done-over-total aggregation shared by project and
// milestone views.
type Progress struct {
	TaskCount   int     `json:"task_count"`
	DoneCount   int     `json:"done_count"`
	ProgressPct float64 `json:"progress_pct"`
}

// Pct computes 100 * done / total, rounded to one decimal, 0 when empty.
func Pct(done, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(done)/float64(total)*1000) / 10
}

// ProjectSummary is the list view of a project with task progress.
type ProjectSummary struct {
	Project
	Progress
}

// MilestoneSummary is a milestone with its task progress.
type MilestoneSummary struct {
	Milestone
	Progress
}
