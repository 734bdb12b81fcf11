package discord

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/onnwee/streambot/backend/command"
	"github.com/onnwee/streambot/backend/telemetry"
)

const sendTimeout = 10 * time.Second

// Gateway owns a single discordgo session and feeds guild messages into
// the dispatcher. One gateway serves every guild the bot token is in; the
// guild ID doubles as the account ID so per-guild custom commands, counts
// and module settings fall out of the existing stores.
type Gateway struct {
	session  *discordgo.Session
	dispatch func(context.Context, command.Message)
}

func NewGateway(token string, dispatch func(context.Context, command.Message)) (*Gateway, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentMessageContent
	return &Gateway{session: session, dispatch: dispatch}, nil
}

func (g *Gateway) Start(ctx context.Context) error {
	g.session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		g.handleMessage(ctx, s, m)
	})
	if err := g.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	user := ""
	if g.session.State.User != nil {
		user = g.session.State.User.Username
	}
	slog.Info("discord gateway connected", "user", user)
	return nil
}

func (g *Gateway) Stop() error {
	if err := g.session.Close(); err != nil {
		return fmt.Errorf("close discord session: %w", err)
	}
	slog.Info("discord gateway stopped")
	return nil
}

func (g *Gateway) handleMessage(ctx context.Context, s *discordgo.Session, m *discordgo.MessageCreate) {
	if m == nil || m.Author == nil {
		return
	}
	if s.State.User != nil && m.Author.ID == s.State.User.ID {
		return
	}
	if m.Author.Bot {
		return
	}
	// DMs have no guild, and without a guild there is no account to
	// scope commands to.
	if m.GuildID == "" {
		return
	}
	telemetry.MessagesReceived.Inc()

	msg := command.Message{
		Text:      m.Content,
		Author:    m.Author.Username,
		AuthorID:  m.Author.ID,
		IsAdmin:   isAdmin(s, m),
		Platform:  "discord",
		AccountID: m.GuildID,
		ChannelID: m.ChannelID,
		Transport: &Transport{Session: s, ChannelID: m.ChannelID},
	}
	g.dispatch(ctx, msg)
}

// isAdmin reports whether the message author can manage the guild. State
// cache first, REST fallback; errors read as not-admin.
func isAdmin(s *discordgo.Session, m *discordgo.MessageCreate) bool {
	perms, err := s.State.UserChannelPermissions(m.Author.ID, m.ChannelID)
	if err != nil {
		perms, err = s.UserChannelPermissions(m.Author.ID, m.ChannelID)
		if err != nil {
			slog.Debug("discord permission lookup failed", "user", m.Author.ID, "err", err)
			return false
		}
	}
	return perms&(discordgo.PermissionAdministrator|discordgo.PermissionManageGuild) != 0
}

// Transport sends replies back to the channel a command arrived on.
type Transport struct {
	Session   *discordgo.Session
	ChannelID string
}

func (t *Transport) Type() string { return "discord" }

func (t *Transport) Send(ctx context.Context, text string) error {
	if t.ChannelID == "" {
		return fmt.Errorf("discord send: empty channel id")
	}
	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	_, err := t.Session.ChannelMessageSendComplex(t.ChannelID, &discordgo.MessageSend{
		Content: text,
	}, discordgo.WithContext(sendCtx))
	if err != nil {
		return fmt.Errorf("discord send: %w", err)
	}
	return nil
}
