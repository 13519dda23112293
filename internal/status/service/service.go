package service

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/dylanneve1/agent-bridge/internal/common/clock"
	"github.com/dylanneve1/agent-bridge/internal/common/logger"
	filemodels "github.com/dylanneve1/agent-bridge/internal/files/models"
	msgmodels "github.com/dylanneve1/agent-bridge/internal/messaging/models"
)

// Messaging supplies message and conversation counts.
type Messaging interface {
	CountMessages(ctx context.Context) (total int, unread int, err error)
	CountConversations(ctx context.Context) (int, error)
	AgentMessageStats(ctx context.Context) ([]*msgmodels.AgentMessageStats, error)
}

// Agents supplies the registered agent count.
type Agents interface {
	CountAgents(ctx context.Context) (int, error)
}

// Files supplies storage stats.
type Files interface {
	Stats(ctx context.Context) (*filemodels.Stats, error)
}

// Tasks supplies per-status task counts.
type Tasks interface {
	CountByStatus(ctx context.Context) (map[string]int, error)
}

// Service aggregates health and usage information across the other
// components.
type Service struct {
	version   string
	driver    string
	started   time.Time
	startedAt float64

	messaging Messaging
	agents    Agents
	files     Files
	tasks     Tasks
	logger    *logger.Logger
}

func NewService(version, driver string, messaging Messaging, agents Agents, files Files, tasks Tasks, log *logger.Logger) *Service {
	return &Service{
		version:   version,
		driver:    driver,
		started:   time.Now(),
		startedAt: clock.Now(),
		messaging: messaging,
		agents:    agents,
		files:     files,
		tasks:     tasks,
		logger:    log.WithFields(zap.String("component", "status-service")),
	}
}

// MessageCounts groups total and unread message counts.
type MessageCounts struct {
	Total  int `json:"total"`
	Unread int `json:"unread"`
}

// Overview is the /status payload.
type Overview struct {
	OK               bool              `json:"ok"`
	Version          string            `json:"version"`
	UptimeSeconds    int64             `json:"uptime_seconds"`
	UptimeHuman      string            `json:"uptime_human"`
	StartedAt        float64           `json:"started_at"`
	Driver           string            `json:"driver"`
	Messages         MessageCounts     `json:"messages"`
	Conversations    int               `json:"conversations"`
	AgentsRegistered int               `json:"agents_registered"`
	Tasks            map[string]int    `json:"tasks"`
	Files            *filemodels.Stats `json:"files"`
}

// Overview reports uptime plus live counts from every store.
func (s *Service) Overview(ctx context.Context) (*Overview, error) {
	total, unread, err := s.messaging.CountMessages(ctx)
	if err != nil {
		return nil, err
	}
	conversations, err := s.messaging.CountConversations(ctx)
	if err != nil {
		return nil, err
	}
	agents, err := s.agents.CountAgents(ctx)
	if err != nil {
		return nil, err
	}
	tasks, err := s.tasks.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	files, err := s.files.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return &Overview{
		OK:               true,
		Version:          s.version,
		UptimeSeconds:    int64(math.Round(time.Since(s.started).Seconds())),
		UptimeHuman:      clock.Uptime(s.started),
		StartedAt:        s.startedAt,
		Driver:           s.driver,
		Messages:         MessageCounts{Total: total, Unread: unread},
		Conversations:    conversations,
		AgentsRegistered: agents,
		Tasks:            tasks,
		Files:            files,
	}, nil
}

// NetworkStats is the /stats payload: global message counts plus a per-agent
// breakdown.
type NetworkStats struct {
	TotalMessages  int                            `json:"total_messages"`
	UnreadMessages int                            `json:"unread_messages"`
	Conversations  int                            `json:"conversations"`
	Agents         []*msgmodels.AgentMessageStats `json:"agents"`
}

// Stats aggregates message traffic per registered agent.
func (s *Service) Stats(ctx context.Context) (*NetworkStats, error) {
	total, unread, err := s.messaging.CountMessages(ctx)
	if err != nil {
		return nil, err
	}
	conversations, err := s.messaging.CountConversations(ctx)
	if err != nil {
		return nil, err
	}
	agents, err := s.messaging.AgentMessageStats(ctx)
	if err != nil {
		return nil, err
	}
	if agents == nil {
		agents = []*msgmodels.AgentMessageStats{}
	}
	return &NetworkStats{
		TotalMessages:  total,
		UnreadMessages: unread,
		Conversations:  conversations,
		Agents:         agents,
	}, nil
}

// Version returns the version string reported by the banner.
func (s *Service) Version() string {
	return s.version
}
