// Package bot implements the work done for each routed chat message:
// parse, fetch attachments, commit to the store, publish, and phrase the
// reply. Store commits happen before any build, and a failed build never
// rolls a commit back.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hypertxt/blogbot/attachment"
	"github.com/hypertxt/blogbot/message"
	"github.com/hypertxt/blogbot/store"
	"github.com/hypertxt/blogbot/telemetry"
	"github.com/hypertxt/blogbot/zulip"
)

// Registry is the ownership store as seen by the bot.
type Registry interface {
	RegisterBlog(ctx context.Context, owner int64, subdomain string) error
	AppendPost(ctx context.Context, owner, postID int64, content string) (string, error)
	Subdomain(ctx context.Context, owner int64) (string, bool, error)
}

// Publisher scaffolds and builds blogs.
type Publisher interface {
	CreateBlog(ctx context.Context, subdomain string, meta message.Metadata) error
	Publish(ctx context.Context, subdomain string, postID int64, post message.Post) error
	URL(subdomain string) string
}

// Attachments fetches upload references.
type Attachments interface {
	Resolve(ctx context.Context, refs []string) []attachment.Outcome
}

// Bot handles routed messages. Attachments may be nil to skip fetching.
type Bot struct {
	Store       Registry
	Publisher   Publisher
	Attachments Attachments
	Location    *time.Location
	Mention     string
}

// CreateBlog registers the sender as owner of the subdomain named in the
// message and scaffolds the site.
func (b *Bot) CreateBlog(ctx context.Context, msg zulip.Message) string {
	logger := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "bot"), slog.Int64("owner", msg.SenderID))

	meta, err := message.ParseMetadata(msg.Content)
	if err != nil {
		telemetry.IncRejection(rejectionReason(err))
		logger.Info("invalid blog request", slog.Any("err", err))
		return metadataReply(err)
	}
	sub := meta.Subdomain()

	if err := b.Store.RegisterBlog(ctx, msg.SenderID, sub); err != nil {
		if reply, ok := b.registerReply(ctx, err, msg.SenderID, sub); ok {
			telemetry.IncRejection(rejectionReason(err))
			logger.Info("blog registration rejected", slog.String("subdomain", sub), slog.Any("err", err))
			return reply
		}
		logger.Error("blog registration failed", slog.String("subdomain", sub), slog.Any("err", err))
		return "Sorry, something went wrong registering your blog. Please try again later."
	}
	telemetry.Inc(telemetry.BlogsCreated)
	logger.Info("blog registered", slog.String("subdomain", sub))

	if err := b.Publisher.CreateBlog(ctx, sub, meta); err != nil {
		logger.Error("blog scaffold failed", slog.String("subdomain", sub), slog.Any("err", err))
		return fmt.Sprintf("Your blog %q is registered, but building the site failed. Your next post will try again.", sub)
	}
	return "Created your blog at " + b.Publisher.URL(sub)
}

// AddPost stores and publishes a new post.
func (b *Bot) AddPost(ctx context.Context, msg zulip.Message) string {
	return b.post(ctx, msg, "published")
}

// UpdatePost stores and republishes an edited post. The post keeps its
// position in the owner's index.
func (b *Bot) UpdatePost(ctx context.Context, msg zulip.Message) string {
	return b.post(ctx, msg, "updated")
}

func (b *Bot) post(ctx context.Context, msg zulip.Message, verb string) string {
	logger := telemetry.LoggerWithCorr(ctx).With(
		slog.String("component", "bot"),
		slog.Int64("owner", msg.SenderID),
		slog.Int64("post_id", msg.ID))

	post := message.ParsePost(msg.Content, msg.Timestamp, b.Location, b.Mention)

	if b.Attachments != nil && len(post.AttachmentRefs) > 0 && b.hasBlog(ctx, logger, msg.SenderID) {
		outcomes := b.Attachments.Resolve(ctx, post.AttachmentRefs)
		if err := attachment.Failures(outcomes); err != nil {
			logger.Warn("some attachments could not be fetched", slog.Any("err", err))
		}
	}

	sub, err := b.Store.AppendPost(ctx, msg.SenderID, msg.ID, msg.Content)
	if err != nil {
		if errors.Is(err, store.ErrUnregisteredOwner) {
			telemetry.IncRejection("unregistered_owner")
			logger.Info("post from owner without a blog")
			return "You don't have a blog yet. Send me a direct message with `SUBDOMAIN: yourname` to create one."
		}
		logger.Error("store post failed", slog.Any("err", err))
		return "Sorry, something went wrong saving your post. Please try again later."
	}

	if err := b.Publisher.Publish(ctx, sub, msg.ID, post); err != nil {
		logger.Error("publish failed", slog.String("subdomain", sub), slog.Any("err", err))
		return fmt.Sprintf("Saved %q, but the site build failed so it is not live yet.", post.Title)
	}
	telemetry.Inc(telemetry.PostsPublished)
	logger.Info("post "+verb, slog.String("subdomain", sub))
	return fmt.Sprintf("Post %q %s at %s", post.Title, verb, b.Publisher.URL(sub))
}

// hasBlog reports whether owner has a blog. Uploads are only copied into the
// static tree for owners who can publish; lookup errors count as no blog.
func (b *Bot) hasBlog(ctx context.Context, logger *slog.Logger, owner int64) bool {
	_, ok, err := b.Store.Subdomain(ctx, owner)
	if err != nil {
		logger.Warn("owner lookup failed, skipping attachments", slog.Any("err", err))
		return false
	}
	return ok
}

func metadataReply(err error) string {
	switch {
	case errors.Is(err, message.ErrMissingField):
		return "Please include a `SUBDOMAIN: yourname` line to create a blog."
	case errors.Is(err, message.ErrInvalidSubdomain):
		return "Subdomains may only use lowercase letters, digits and hyphens (up to 63 characters)."
	default:
		return "I couldn't read that. Send one `KEY: value` per line, for example:\n```\nSUBDOMAIN: alice\nBLOG_NAME: Alice's Blog\nAUTHOR: Alice\n```"
	}
}

func (b *Bot) registerReply(ctx context.Context, err error, owner int64, sub string) (string, bool) {
	switch {
	case errors.Is(err, store.ErrDuplicateOwner):
		existing, ok, lerr := b.Store.Subdomain(ctx, owner)
		if lerr != nil || !ok {
			return "You already have a blog. Each account can own only one.", true
		}
		return fmt.Sprintf("You already have a blog at %s. Each account can own only one.", b.Publisher.URL(existing)), true
	case errors.Is(err, store.ErrSubdomainTaken):
		return fmt.Sprintf("The subdomain %q is already taken. Please pick another.", sub), true
	case errors.Is(err, store.ErrAlreadyRegistered):
		return fmt.Sprintf("You already registered %q.", sub), true
	}
	return "", false
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, message.ErrInvalidLine):
		return "invalid_line"
	case errors.Is(err, message.ErrMissingField):
		return "missing_field"
	case errors.Is(err, message.ErrInvalidSubdomain):
		return "invalid_subdomain"
	case errors.Is(err, store.ErrDuplicateOwner):
		return "duplicate_owner"
	case errors.Is(err, store.ErrSubdomainTaken):
		return "subdomain_taken"
	case errors.Is(err, store.ErrAlreadyRegistered):
		return "already_registered"
	}
	return "other"
}
