package youtubeapi

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/api/googleapi"
	yt "google.golang.org/api/youtube/v3"

	"github.com/onnwee/streambot/backend/chat"
)

// liveChatParts is what a poll asks for; prime only needs ids.
var liveChatParts = []string{"snippet", "authorDetails"}

// LiveChat implements chat.API over the YouTube Data API liveChatMessages
// endpoints.
type LiveChat struct {
	svc *yt.Service
}

func NewLiveChat(svc *yt.Service) *LiveChat {
	return &LiveChat{svc: svc}
}

// ResolveLiveChatID finds the active broadcast's live chat id. It fails fast
// with a descriptive error when the channel has no active broadcast; callers
// must not silently default.
func (c *LiveChat) ResolveLiveChatID(ctx context.Context, channelID string) (string, error) {
	resp, err := c.svc.LiveBroadcasts.List([]string{"snippet"}).
		BroadcastStatus("active").
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("list active broadcasts: %w", err)
	}
	for _, b := range resp.Items {
		if b.Snippet == nil || b.Snippet.LiveChatId == "" {
			continue
		}
		if channelID != "" && b.Snippet.ChannelId != channelID {
			continue
		}
		return b.Snippet.LiveChatId, nil
	}
	return "", fmt.Errorf("no active live broadcast with chat for channel %q", channelID)
}

// Prime fetches one page without a cursor, discards the items, and returns only
// the forward cursor.
func (c *LiveChat) Prime(ctx context.Context, chatID string) (string, error) {
	resp, err := c.svc.LiveChatMessages.List(chatID, []string{"id"}).
		MaxResults(200).
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("prime live chat %s: %w", chatID, err)
	}
	return resp.NextPageToken, nil
}

// Poll fetches one page from cursor and maps it into the engine's Page shape,
// carrying the server's PollingIntervalMillis as the delay hint.
func (c *LiveChat) Poll(ctx context.Context, chatID, cursor string) (*chat.Page, error) {
	call := c.svc.LiveChatMessages.List(chatID, liveChatParts).Context(ctx)
	if cursor != "" {
		call = call.PageToken(cursor)
	}
	resp, err := call.Do()
	if err != nil {
		return nil, fmt.Errorf("poll live chat %s: %w", chatID, err)
	}
	page := &chat.Page{
		NextCursor:     resp.NextPageToken,
		SuggestedDelay: time.Duration(resp.PollingIntervalMillis) * time.Millisecond,
	}
	for _, m := range resp.Items {
		if m.Snippet == nil {
			continue
		}
		it := chat.Item{
			Kind: m.Snippet.Type,
			Text: m.Snippet.DisplayMessage,
		}
		if it.Text == "" && m.Snippet.TextMessageDetails != nil {
			it.Text = m.Snippet.TextMessageDetails.MessageText
		}
		if t, perr := time.Parse(time.RFC3339, m.Snippet.PublishedAt); perr == nil {
			it.PublishedAt = t.UTC()
		}
		if m.AuthorDetails != nil {
			it.AuthorDisplayName = m.AuthorDetails.DisplayName
			it.AuthorID = m.AuthorDetails.ChannelId
			it.IsOwner = m.AuthorDetails.IsChatOwner
		}
		page.Items = append(page.Items, it)
	}
	return page, nil
}

// Send inserts a text message into the live chat.
func (c *LiveChat) Send(ctx context.Context, chatID, text string) error {
	msg := &yt.LiveChatMessage{
		Snippet: &yt.LiveChatMessageSnippet{
			LiveChatId: chatID,
			Type:       chat.KindTextMessage,
			TextMessageDetails: &yt.LiveChatTextMessageDetails{
				MessageText: text,
			},
		},
	}
	if _, err := c.svc.LiveChatMessages.Insert([]string{"snippet"}, msg).Context(ctx).Do(); err != nil {
		return fmt.Errorf("send live chat message: %w", err)
	}
	return nil
}

// IsInvalidCursor reports whether err is the API telling us the stored page
// token is no longer usable, which the ingestion engine recovers from by
// re-priming.
func IsInvalidCursor(err error) bool {
	var ge *googleapi.Error
	if !errors.As(err, &ge) {
		return false
	}
	for _, e := range ge.Errors {
		switch e.Reason {
		case "pageTokenInvalid", "invalidPageToken":
			return true
		}
	}
	return false
}

// Transport adapts a LiveChat bound to one chat into the dispatcher's send
// capability.
type Transport struct {
	ChatID string
	Chat   *LiveChat
}

func (t *Transport) Type() string { return "youtube" }

func (t *Transport) Send(ctx context.Context, text string) error {
	return t.Chat.Send(ctx, t.ChatID, text)
}
