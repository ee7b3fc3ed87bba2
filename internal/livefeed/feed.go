package livefeed

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"parkpilot/internal/models"
)

// Event kinds on the session feed.
const (
	EventSessionStarted = "session_started"
	EventSessionUpdated = "session_updated"
	EventSessionEnded   = "session_ended"
)

// Event is one session change pushed from store writers to subscribed
// clients. It is the only cross-context signal between the reconciliation
// job and a running client.
type Event struct {
	Kind    string         `json:"kind"`
	Session models.Session `json:"session"`
}

func channel(userID int64) string {
	return fmt.Sprintf("sessions:events:%d", userID)
}

// Publisher emits session events over redis pub/sub. Publishing is
// best-effort: a missed event only delays a client until its next restore.
type Publisher struct {
	client *redis.Client
	logger *zap.Logger
}

// NewPublisher returns feed publisher.
func NewPublisher(client *redis.Client, logger *zap.Logger) *Publisher {
	return &Publisher{client: client, logger: logger}
}

// Publish sends an event to the session owner's channel.
func (p *Publisher) Publish(ctx context.Context, kind string, session models.Session) {
	payload, err := json.Marshal(Event{Kind: kind, Session: session})
	if err != nil {
		p.logger.Warn("failed to encode session event", zap.Error(err))
		return
	}
	if err := p.client.Publish(ctx, channel(session.UserID), payload).Err(); err != nil {
		p.logger.Warn("failed to publish session event",
			zap.Int64("session_id", session.ID),
			zap.Error(err),
		)
	}
}

// Subscriber delivers a user's session events until the context ends.
type Subscriber struct {
	client *redis.Client
	logger *zap.Logger
}

// NewSubscriber returns feed subscriber.
func NewSubscriber(client *redis.Client, logger *zap.Logger) *Subscriber {
	return &Subscriber{client: client, logger: logger}
}

// Subscribe opens the user's channel and streams decoded events into the
// returned channel. The channel closes when ctx is done.
func (s *Subscriber) Subscribe(ctx context.Context, userID int64) (<-chan Event, error) {
	sub := s.client.Subscribe(ctx, channel(userID))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}

	events := make(chan Event, 8)
	go func() {
		defer close(events)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					s.logger.Warn("failed to decode session event", zap.Error(err))
					continue
				}
				select {
				case events <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return events, nil
}
