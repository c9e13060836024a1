package chat

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/hypertxt/blogbot/telemetry"
	"github.com/hypertxt/blogbot/zulip"
)

// Handler performs the work for routed messages and returns the reply text.
// An empty reply sends nothing.
type Handler interface {
	CreateBlog(ctx context.Context, msg zulip.Message) string
	AddPost(ctx context.Context, msg zulip.Message) string
	UpdatePost(ctx context.Context, msg zulip.Message) string
}

// MessageAPI is the part of the Zulip client a Listener needs beyond its
// Source.
type MessageAPI interface {
	GetMessage(ctx context.Context, id int64) (zulip.Message, error)
	SendDirectMessage(ctx context.Context, text string, userID int64) error
	SendChannelMessage(ctx context.Context, text, topic string, streamID int64) error
}

// API is everything the listeners use from the Zulip client.
type API interface {
	EventAPI
	MessageAPI
}

// Listener runs one long-poll loop.
type Listener struct {
	Source    *Source
	API       MessageAPI
	Handler   Handler
	BotMarker string
	Status    *Status // optional
}

// Run subscribes and then polls until ctx is cancelled, which returns nil.
// Only a failed initial subscription is returned as an error; everything
// after that is logged and the loop carries on.
func (l *Listener) Run(ctx context.Context) error {
	if err := l.Source.Subscribe(ctx); err != nil {
		return err
	}
	name := l.Source.Subscription().Name()
	l.Status.set(name, true)
	defer l.Status.set(name, false)
	for ctx.Err() == nil {
		for _, ev := range l.Source.Poll(ctx) {
			if ctx.Err() != nil {
				break
			}
			l.handle(ctx, ev)
		}
	}
	return nil
}

func (l *Listener) handle(ctx context.Context, ev zulip.Event) {
	name := l.Source.Subscription().Name()
	ctx = telemetry.WithCorrelation(ctx, uuid.NewString())
	logger := telemetry.LoggerWithCorr(ctx).With(
		slog.String("component", "chat_listener"),
		slog.String("listener", name),
		slog.Int64("event_id", ev.ID))

	msg, err := l.message(ctx, ev)
	if err != nil {
		logger.Warn("could not load message for event", slog.Any("err", err))
	}

	action, reason := Route(l.Source.Subscription(), ev, msg, l.BotMarker)
	if action == Ignore {
		telemetry.IncIgnored(name, reason)
		logger.Debug("event ignored", slog.String("reason", reason))
		return
	}

	ctx, span := telemetry.StartSpan(ctx, "chat", action.String(), telemetry.EventAttrs(name, ev.ID, msg.ID)...)
	defer span.End()
	logger = logger.With(slog.Int64("message_id", msg.ID), slog.Int64("sender_id", msg.SenderID))
	logger.Info("handling event", slog.String("action", action.String()))

	var reply string
	telemetry.TimeFunc(telemetry.HandleDuration, func() {
		switch action {
		case CreateBlog:
			reply = l.Handler.CreateBlog(ctx, *msg)
		case AddPost:
			reply = l.Handler.AddPost(ctx, *msg)
		case UpdatePost:
			reply = l.Handler.UpdatePost(ctx, *msg)
		}
	})
	if reply == "" {
		telemetry.SetSpanSuccess(span)
		return
	}
	if err := l.reply(ctx, *msg, reply); err != nil {
		telemetry.Inc(telemetry.RepliesFailed)
		telemetry.RecordError(span, err)
		logger.Warn("reply failed", slog.Any("err", err))
		return
	}
	telemetry.SetSpanSuccess(span)
}

// message returns the message an event refers to, fetching it for events
// that only carry its id.
func (l *Listener) message(ctx context.Context, ev zulip.Event) (*zulip.Message, error) {
	if ev.Message != nil {
		return ev.Message, nil
	}
	if ev.MessageID == nil {
		return nil, nil
	}
	m, err := l.API.GetMessage(ctx, *ev.MessageID)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// reply answers in the conversation msg came from: a direct message to the
// sender, or the same channel topic.
func (l *Listener) reply(ctx context.Context, msg zulip.Message, text string) error {
	if msg.IsDirect() {
		return l.API.SendDirectMessage(ctx, text, msg.SenderID)
	}
	return l.API.SendChannelMessage(ctx, text, msg.Subject, *msg.StreamID)
}

// Subscriptions lists the three listeners the bot runs.
var Subscriptions = []Subscription{
	{Mode: DirectMessage, Kind: Message},
	{Mode: Mention, Kind: Message},
	{Mode: Mention, Kind: MessageUpdate},
}

// ListenerConfig carries the settings shared by all listeners.
type ListenerConfig struct {
	BotMarker  string
	RetryDelay time.Duration
	Status     *Status
}

// StartListeners runs one Listener per entry in Subscriptions until ctx is
// cancelled. A listener whose subscription fails stops on its own; the
// others keep running. The first such failure is returned once every
// listener has stopped.
func StartListeners(ctx context.Context, api API, h Handler, cfg ListenerConfig) error {
	var g errgroup.Group
	for _, sub := range Subscriptions {
		l := &Listener{
			Source:    NewSource(api, sub, cfg.RetryDelay),
			API:       api,
			Handler:   h,
			BotMarker: cfg.BotMarker,
			Status:    cfg.Status,
		}
		g.Go(func() error {
			if err := l.Run(ctx); err != nil {
				slog.Error("listener stopped", slog.String("listener", sub.Name()), slog.Any("err", err), slog.String("component", "chat_listener"))
				return fmt.Errorf("%s: %w", sub.Name(), err)
			}
			return nil
		})
	}
	return g.Wait()
}
