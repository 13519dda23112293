package models

// Agent represents a registered bridge participant.
type Agent struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	APIKey    string  `json:"-"`
	CreatedAt float64 `json:"created_at"`
}

// RegistrationStatus represents the review state of a join request.
type RegistrationStatus string

const (
	// RegistrationPending indicates the request awaits review
	RegistrationPending RegistrationStatus = "pending"
	// RegistrationApproved indicates an agent row was created for the request
	RegistrationApproved RegistrationStatus = "approved"
	// RegistrationRejected indicates the request was declined
	RegistrationRejected RegistrationStatus = "rejected"
)

// Registration represents a self-service join request awaiting peer approval.
type Registration struct {
	ID          string             `json:"registration_id"`
	AgentName   string             `json:"agent_name"`
	Description string             `json:"description,omitempty"`
	Contact     string             `json:"contact,omitempty"`
	Status      RegistrationStatus `json:"status"`
	CreatedAt   float64            `json:"created_at"`
	ReviewedAt  *float64           `json:"reviewed_at,omitempty"`
	ReviewedBy  string             `json:"reviewed_by,omitempty"`
}

// DirectoryEntry is one row of the public agent directory, with activity
// counts aggregated across the messaging, task and revision stores.
type DirectoryEntry struct {
	Name         string   `json:"name"`
	CreatedAt    float64  `json:"created_at"`
	LastSeen     *float64 `json:"last_seen,omitempty"`
	MessagesSent int      `json:"messages_sent"`
	TasksDone    int      `json:"tasks_done"`
	Commits      int      `json:"commits"`
}

// KeyEntry is the admin view of a registered agent. The key itself is never
// echoed back.
type KeyEntry struct {
	Name      string  `json:"name"`
	CreatedAt float64 `json:"created_at"`
}
