package chat

import (
	"strings"

	"github.com/hypertxt/blogbot/zulip"
)

// Action is what the bot does with one event.
type Action int

const (
	Ignore Action = iota
	CreateBlog
	AddPost
	UpdatePost
)

func (a Action) String() string {
	switch a {
	case CreateBlog:
		return "create_blog"
	case AddPost:
		return "add_post"
	case UpdatePost:
		return "update_post"
	default:
		return "ignore"
	}
}

// Reasons reported for ignored events.
const (
	ReasonHeartbeat   = "heartbeat"
	ReasonNoMessage   = "no_message"
	ReasonSelf        = "self"
	ReasonUnsupported = "unsupported"
)

// Route classifies an event received on sub. msg is the message the event
// refers to (inline for message events, fetched for edits) and may be nil.
// Messages whose sender display name contains botMarker come from the bot
// itself and are ignored. For ignored events the second result says why.
func Route(sub Subscription, ev zulip.Event, msg *zulip.Message, botMarker string) (Action, string) {
	if ev.Type == zulip.EventHeartbeat {
		return Ignore, ReasonHeartbeat
	}
	if msg == nil {
		return Ignore, ReasonNoMessage
	}
	if botMarker != "" && strings.Contains(msg.SenderFullName, botMarker) {
		return Ignore, ReasonSelf
	}
	switch {
	case sub.Mode == DirectMessage && sub.Kind == Message && ev.Type == zulip.EventMessage:
		return CreateBlog, ""
	case sub.Mode == Mention && sub.Kind == Message && ev.Type == zulip.EventMessage:
		return AddPost, ""
	case sub.Mode == Mention && sub.Kind == MessageUpdate && ev.Type == zulip.EventUpdateMessage:
		return UpdatePost, ""
	}
	return Ignore, ReasonUnsupported
}
