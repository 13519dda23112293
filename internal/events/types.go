// Package events defines the subjects published on the bridge event bus.
package events

// Event types for identity
const (
	AgentJoined   = "agent.joined"
	AgentApproved = "agent.approved"
	AgentRejected = "agent.rejected"
)

// Event types for messaging
const (
	ConversationCreated = "conversation.created"
	MessageSent         = "message.sent"
)

// Event types for files
const (
	FileUploaded = "file.uploaded"
	FileDeleted  = "file.deleted"
)

// Event types for tasks
const (
	TaskCreated      = "task.created"
	TaskUpdated      = "task.updated"
	TaskClaimed      = "task.claimed"
	TaskCompleted    = "task.completed"
	TaskBlocked      = "task.blocked"
	TaskCommentAdded = "task.comment_added"
)

// Event types for projects
const (
	ProjectCreated   = "project.created"
	MilestoneCreated = "project.milestone_created"
)

// Event types for revisions
const (
	RepoCreated       = "revision.repo_created"
	RevisionCommitted = "revision.committed"
)
