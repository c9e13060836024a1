package zulip

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// Narrow restricts which messages an event queue receives.
type Narrow string

const (
	NarrowDirect    Narrow = `[["is","dm"]]`
	NarrowMentioned Narrow = `[["is","mentioned"]]`
)

// Event types used by the bot.
const (
	EventMessage       = "message"
	EventUpdateMessage = "update_message"
	EventHeartbeat     = "heartbeat"
)

// Message is a chat message as returned by events and the messages endpoint.
type Message struct {
	ID             int64  `json:"id"`
	Content        string `json:"content"`
	SenderID       int64  `json:"sender_id"`
	SenderFullName string `json:"sender_full_name"`
	StreamID       *int64 `json:"stream_id,omitempty"`
	Subject        string `json:"subject"`
	Timestamp      int64  `json:"timestamp"`
	Type           string `json:"type"` // "stream" or "private"
}

// IsDirect reports whether the message was sent as a direct message rather
// than to a channel.
func (m Message) IsDirect() bool {
	return m.Type == "private" || m.StreamID == nil
}

// Event is one entry from an event queue. Message events carry the message
// inline; update_message events only carry its id.
type Event struct {
	ID        int64    `json:"id"`
	Type      string   `json:"type"`
	Message   *Message `json:"message,omitempty"`
	MessageID *int64   `json:"message_id,omitempty"`
}

// Queue identifies a registered event queue.
type Queue struct {
	ID          string `json:"queue_id"`
	LastEventID int64  `json:"last_event_id"`
}

// RegisterQueue creates an event queue receiving eventTypes restricted by narrow.
// Message content is delivered as raw Markdown.
func (c *Client) RegisterQueue(ctx context.Context, narrow Narrow, eventTypes []string) (Queue, error) {
	types, err := json.Marshal(eventTypes)
	if err != nil {
		return Queue{}, err
	}
	form := url.Values{}
	form.Set("event_types", string(types))
	form.Set("narrow", string(narrow))
	form.Set("all_public_streams", "true")
	form.Set("include_subscribers", "false")
	form.Set("apply_markdown", "false")
	var body Queue
	if err := c.call(ctx, http.MethodPost, "/register", form, &body); err != nil {
		return Queue{}, fmt.Errorf("register queue: %w", err)
	}
	if body.ID == "" {
		return Queue{}, fmt.Errorf("register queue: %w: no queue_id", ErrMalformedResponse)
	}
	return body, nil
}

// GetEvents long-polls the queue for events newer than lastEventID. The
// request is bounded by the client's poll timeout; a heartbeat-only response
// is returned as-is.
func (c *Client) GetEvents(ctx context.Context, queueID string, lastEventID int64) ([]Event, error) {
	ctx, cancel := context.WithTimeout(ctx, c.pollTimeout())
	defer cancel()
	q := url.Values{}
	q.Set("queue_id", queueID)
	q.Set("last_event_id", strconv.FormatInt(lastEventID, 10))
	var body struct {
		Events *[]Event `json:"events"`
	}
	if err := c.call(ctx, http.MethodGet, "/events", q, &body); err != nil {
		return nil, fmt.Errorf("get events: %w", err)
	}
	if body.Events == nil {
		return nil, fmt.Errorf("get events: %w: no events field", ErrMalformedResponse)
	}
	return *body.Events, nil
}
