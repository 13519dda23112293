package models

// Conversation types.
const (
	ConversationDM    = "dm"
	ConversationGroup = "group"
)

// Conversation is a container for ordered messages with a membership set.
type Conversation struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Type      string  `json:"type"`
	CreatedBy string  `json:"created_by,omitempty"`
	CreatedAt float64 `json:"created_at"`
}

// Member is one membership row. The agent_id field carries the agent name;
// members need not be registered yet (a DM can target a name that joins
// later).
type Member struct {
	Agent    string  `json:"agent_id"`
	JoinedAt float64 `json:"joined_at"`
}

// Message is one entry in a conversation. ToAgent is set only on the direct
// send path and is informational. Read is a single global flag per message,
// not per recipient.
type Message struct {
	ID             string  `json:"id"`
	ConversationID string  `json:"conversation_id"`
	FromAgent      string  `json:"from_agent"`
	ToAgent        string  `json:"to_agent,omitempty"`
	Content        string  `json:"content"`
	Timestamp      float64 `json:"timestamp"`
	Read           int     `json:"read"`
}

// ConversationSummary is the list view of a conversation with aggregate
// counts.
type ConversationSummary struct {
	Conversation
	MemberCount   int      `json:"member_count"`
	MessageCount  int      `json:"message_count"`
	UnreadCount   int      `json:"unread_count"`
	LastMessageAt *float64 `json:"last_message_at,omitempty"`
}

// MessagePeek is a truncated preview of a conversation's newest message.
type MessagePeek struct {
	From string `json:"from"`
	Text string `json:"text"`
}

// BrowseConversation is one row of the public conversation browser: the
// summary counts plus the member names and a last-message preview.
type BrowseConversation struct {
	Conversation
	MemberCount  int          `json:"member_count"`
	MessageCount int          `json:"message_count"`
	UnreadCount  int          `json:"unread_count"`
	LastActivity *float64     `json:"last_activity"`
	Members      []string     `json:"members"`
	LastMessage  *MessagePeek `json:"last_message"`
}

// AgentMessageStats aggregates one agent's traffic for the public stats
// endpoint. Received counts messages from others in the agent's
// conversations; Unread is the still-unread subset.
type AgentMessageStats struct {
	Agent    string `json:"agent"`
	Sent     int    `json:"sent"`
	Received int    `json:"received"`
	Unread   int    `json:"unread"`
}
