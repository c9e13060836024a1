package chat

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hypertxt/blogbot/telemetry"
	"github.com/hypertxt/blogbot/zulip"
)

// Mode selects which messages a subscription sees.
type Mode int

const (
	DirectMessage Mode = iota
	Mention
)

// Kind selects message creation or message edit events.
type Kind int

const (
	Message Kind = iota
	MessageUpdate
)

// Subscription is one (Mode, Kind) pair backed by its own event queue.
type Subscription struct {
	Mode Mode
	Kind Kind
}

// Narrow returns the queue narrow for the subscription's mode.
func (s Subscription) Narrow() zulip.Narrow {
	if s.Mode == DirectMessage {
		return zulip.NarrowDirect
	}
	return zulip.NarrowMentioned
}

// EventType returns the queue event type for the subscription's kind.
func (s Subscription) EventType() string {
	if s.Kind == MessageUpdate {
		return zulip.EventUpdateMessage
	}
	return zulip.EventMessage
}

// Name is a short label used in logs and metrics.
func (s Subscription) Name() string {
	mode := "dm"
	if s.Mode == Mention {
		mode = "mention"
	}
	if s.Kind == MessageUpdate {
		return mode + "_edit"
	}
	return mode + "_message"
}

// EventAPI is the part of the Zulip client a Source needs.
type EventAPI interface {
	RegisterQueue(ctx context.Context, narrow zulip.Narrow, eventTypes []string) (zulip.Queue, error)
	GetEvents(ctx context.Context, queueID string, lastEventID int64) ([]zulip.Event, error)
}

// DefaultRetryDelay is the pause after a failed fetch.
const DefaultRetryDelay = 2500 * time.Millisecond

// Source is a cursor-tracked event queue subscription. It is not safe for
// concurrent use; each listener owns one.
type Source struct {
	api        EventAPI
	sub        Subscription
	retryDelay time.Duration
	logger     *slog.Logger

	queueID string
	cursor  int64
}

// NewSource returns an unsubscribed Source.
func NewSource(api EventAPI, sub Subscription, retryDelay time.Duration) *Source {
	if retryDelay <= 0 {
		retryDelay = DefaultRetryDelay
	}
	return &Source{
		api:        api,
		sub:        sub,
		retryDelay: retryDelay,
		logger:     slog.Default().With(slog.String("component", "chat_listener"), slog.String("listener", sub.Name())),
		cursor:     -1,
	}
}

// Subscription returns what this source listens to.
func (s *Source) Subscription() Subscription { return s.sub }

// Cursor returns the highest event id seen on the current queue, or -1.
func (s *Source) Cursor() int64 { return s.cursor }

// Subscribe registers a fresh queue and resets the cursor.
func (s *Source) Subscribe(ctx context.Context) error {
	q, err := s.api.RegisterQueue(ctx, s.sub.Narrow(), []string{s.sub.EventType()})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", s.sub.Name(), err)
	}
	s.queueID = q.ID
	s.cursor = -1
	if q.LastEventID > s.cursor {
		s.cursor = q.LastEventID
	}
	telemetry.IncQueueRegistration(s.sub.Name())
	telemetry.SetCursor(s.sub.Name(), s.cursor)
	s.logger.Info("event queue registered", slog.String("queue_id", q.ID), slog.Int64("cursor", s.cursor))
	return nil
}

// Poll performs one fetch and returns the non-heartbeat events. The cursor
// advances to the highest id in the batch, heartbeats included, and never
// moves backwards. On any error Poll logs, waits the retry delay (or until
// ctx is done) and returns nil; callers just poll again.
func (s *Source) Poll(ctx context.Context) []zulip.Event {
	if s.queueID == "" {
		if err := s.Subscribe(ctx); err != nil {
			s.failed(ctx, err)
			return nil
		}
	}

	events, err := s.api.GetEvents(ctx, s.queueID, s.cursor)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		if zulip.IsBadEventQueue(err) {
			// The server dropped the queue; events are numbered afresh on
			// the replacement.
			s.logger.Warn("event queue expired, re-registering", slog.String("queue_id", s.queueID))
			s.queueID = ""
			if err := s.Subscribe(ctx); err != nil {
				s.failed(ctx, err)
			}
			return nil
		}
		s.failed(ctx, err)
		return nil
	}

	out := make([]zulip.Event, 0, len(events))
	for _, ev := range events {
		if ev.ID > s.cursor {
			s.cursor = ev.ID
		}
		if ev.Type == zulip.EventHeartbeat {
			continue
		}
		out = append(out, ev)
	}
	telemetry.SetCursor(s.sub.Name(), s.cursor)
	telemetry.AddEventsReceived(s.sub.Name(), len(out))
	return out
}

func (s *Source) failed(ctx context.Context, err error) {
	class := zulip.Classify(err)
	telemetry.IncPollError(s.sub.Name(), class.String())
	switch class {
	case zulip.ClassAuth:
		s.logger.Error("event fetch rejected credentials", slog.Any("err", err))
	case zulip.ClassProtocol:
		s.logger.Warn("event fetch protocol error", slog.Any("err", err))
	default:
		s.logger.Info("event fetch failed", slog.Any("err", err))
	}
	select {
	case <-ctx.Done():
	case <-time.After(s.retryDelay):
	}
}
