package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/draftwell/refinery/common/redis"
)

// DefaultChannel is the pub/sub channel proposal lifecycle events go out on
const DefaultChannel = "refinery.proposals"

// Event names published over the lifecycle channel
const (
	ProposalCreated   = "proposal.created"
	ProposalCompleted = "proposal.completed"
	ProposalFailed    = "proposal.failed"
	ProposalResolved  = "proposal.resolved"
)

// Logger interface for publisher logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// ProposalEvent is the payload published for each lifecycle transition
type ProposalEvent struct {
	Event      string `json:"event"`
	ProposalID string `json:"proposal_id"`
	ThreadID   string `json:"thread_id"`
	Status     string `json:"status"`
	Resolution string `json:"resolution,omitempty"`
	UserID     string `json:"user_id,omitempty"`
	Timestamp  string `json:"timestamp"`
}

// Publisher emits proposal lifecycle events. Publishing is best-effort:
// implementations log failures instead of returning them, so a broker outage
// never fails the operation that produced the event.
type Publisher interface {
	PublishProposalEvent(ctx context.Context, event ProposalEvent)
}

// RedisPublisher publishes events on a Redis pub/sub channel
type RedisPublisher struct {
	client  *redis.Client
	channel string
	logger  Logger
}

// NewRedisPublisher creates a publisher on the given channel. An empty
// channel falls back to DefaultChannel.
func NewRedisPublisher(client *redis.Client, channel string, logger Logger) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisPublisher{
		client:  client,
		channel: channel,
		logger:  logger,
	}
}

// PublishProposalEvent publishes one lifecycle event
func (p *RedisPublisher) PublishProposalEvent(ctx context.Context, event ProposalEvent) {
	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}

	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("failed to marshal proposal event",
			"event", event.Event,
			"proposal_id", event.ProposalID,
			"error", err)
		return
	}

	if err := p.client.PublishEvent(ctx, p.channel, string(payload)); err != nil {
		p.logger.Warn("failed to publish proposal event",
			"event", event.Event,
			"proposal_id", event.ProposalID,
			"channel", p.channel,
			"error", err)
		return
	}

	p.logger.Debug("published proposal event",
		"event", event.Event,
		"proposal_id", event.ProposalID,
		"channel", p.channel)
}

// NopPublisher drops all events. Used when Redis is not configured.
type NopPublisher struct{}

// NewNopPublisher creates a publisher that discards everything
func NewNopPublisher() *NopPublisher {
	return &NopPublisher{}
}

// PublishProposalEvent discards the event
func (p *NopPublisher) PublishProposalEvent(ctx context.Context, event ProposalEvent) {}
