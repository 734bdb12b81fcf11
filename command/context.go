package command

import (
	"context"
	"log/slog"
	"strings"
)

// Transport is the two-method send capability bound into a Context. Platform
// implementations (YouTube chat insert, Discord channel send) are supplied by
// their packages; tests and replay harnesses swap in recorders.
type Transport interface {
	Type() string
	Send(ctx context.Context, text string) error
}

// SendFunc is the default sender used when no transport is bound to a context.
type SendFunc func(ctx context.Context, text string) error

// Context is the per-invocation dispatch context. One is built fresh for every
// command and never reused or cached.
type Context struct {
	Ctx context.Context

	Raw  string
	Args []string

	Author   string
	AuthorID string
	IsAdmin  bool

	// CommandName is the first whitespace-delimited word of the raw text with the
	// prefix stripped. It exists for logging only and may disagree with the
	// module/command the dispatcher actually resolved.
	CommandName string

	Platform  string // "youtube" or "discord"
	AccountID string
	ChannelID string

	// Vars are the live account variables used by template-backed commands.
	Vars map[string]string

	Transport   Transport
	DefaultSend SendFunc

	Logger *slog.Logger
}

// NewContext assembles a context for one inbound message. The transport may be nil;
// Reply then falls back to defaultSend.
func NewContext(ctx context.Context, msg Message, prefix string, defaultSend SendFunc) *Context {
	name := commandToken(msg.Text, prefix)
	logger := slog.Default().With(
		slog.String("command", name),
		slog.String("user", msg.Author),
		slog.String("platform", msg.Platform),
	)
	return &Context{
		Ctx:         ctx,
		Raw:         msg.Text,
		Author:      msg.Author,
		AuthorID:    msg.AuthorID,
		IsAdmin:     msg.IsAdmin,
		CommandName: name,
		Platform:    msg.Platform,
		AccountID:   msg.AccountID,
		ChannelID:   msg.ChannelID,
		Vars:        msg.Vars,
		Transport:   msg.Transport,
		DefaultSend: defaultSend,
		Logger:      logger,
	}
}

// Reply logs the outgoing text and sends it through the bound transport, falling
// back to the default platform sender when none is bound. Send failures are
// logged, never surfaced to chat.
func (c *Context) Reply(text string) {
	c.Logger.Info("reply",
		slog.String("command", c.CommandName),
		slog.String("user", c.Author),
		slog.String("reply", text))
	var err error
	switch {
	case c.Transport != nil:
		err = c.Transport.Send(c.Ctx, text)
	case c.DefaultSend != nil:
		err = c.DefaultSend(c.Ctx, text)
	default:
		c.Logger.Warn("reply dropped: no transport bound and no default sender")
		return
	}
	if err != nil {
		c.Logger.Error("reply send failed", slog.Any("err", err))
	}
}

// commandToken derives the logging-only command token from raw text.
func commandToken(text, prefix string) string {
	rest := strings.TrimPrefix(text, prefix)
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToLower(fields[0])
}
