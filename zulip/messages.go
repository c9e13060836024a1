package zulip

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// GetMessage fetches a single message with its raw Markdown content.
func (c *Client) GetMessage(ctx context.Context, id int64) (Message, error) {
	q := url.Values{}
	q.Set("apply_markdown", "false")
	var body struct {
		Message *Message `json:"message"`
	}
	if err := c.call(ctx, http.MethodGet, "/messages/"+strconv.FormatInt(id, 10), q, &body); err != nil {
		return Message{}, fmt.Errorf("get message %d: %w", id, err)
	}
	if body.Message == nil {
		return Message{}, fmt.Errorf("get message %d: %w: no message field", id, ErrMalformedResponse)
	}
	return *body.Message, nil
}

// SendDirectMessage sends text to a single user.
func (c *Client) SendDirectMessage(ctx context.Context, text string, userID int64) error {
	form := url.Values{}
	form.Set("type", "direct")
	form.Set("to", "["+strconv.FormatInt(userID, 10)+"]")
	form.Set("content", text)
	if err := c.call(ctx, http.MethodPost, "/messages", form, nil); err != nil {
		return fmt.Errorf("send direct message: %w", err)
	}
	return nil
}

// SendChannelMessage posts text to topic in the channel (stream) streamID.
func (c *Client) SendChannelMessage(ctx context.Context, text, topic string, streamID int64) error {
	form := url.Values{}
	form.Set("type", "stream")
	form.Set("to", strconv.FormatInt(streamID, 10))
	form.Set("topic", topic)
	form.Set("content", text)
	if err := c.call(ctx, http.MethodPost, "/messages", form, nil); err != nil {
		return fmt.Errorf("send channel message: %w", err)
	}
	return nil
}
