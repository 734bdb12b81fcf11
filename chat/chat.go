// Package chat owns the live-chat ingestion state machine: prime, single polls,
// and the unattended poll loop that feeds inbound items into the command
// dispatcher. The platform API is an interface so the engine runs against the
// YouTube client in production and fakes in tests.
package chat

import (
	"context"
	"time"
)

// KindTextMessage is the only item kind the engine processes; everything else
// (membership events, deletions, superchats) is counted but dropped.
const KindTextMessage = "textMessageEvent"

// Item is one raw chat item as delivered by the platform.
type Item struct {
	Kind              string
	Text              string
	AuthorDisplayName string
	AuthorID          string
	IsOwner           bool
	PublishedAt       time.Time
}

// Page is one fetch result. SuggestedDelay carries the server's polling hint;
// zero means the server gave none.
type Page struct {
	Items          []Item
	NextCursor     string
	SuggestedDelay time.Duration
}

// API is the chat ingestion collaborator contract.
type API interface {
	// Prime fetches without a cursor so the caller can keep only the forward cursor.
	Prime(ctx context.Context, chatID string) (cursor string, err error)
	// Poll fetches from cursor (empty = from the start the server chooses).
	Poll(ctx context.Context, chatID, cursor string) (*Page, error)
	// Send inserts a message into the chat.
	Send(ctx context.Context, chatID, text string) error
}

// Runtime is the per-account connection record. It is read-modified-persisted as
// one atomic record; no partial-field writes.
type Runtime struct {
	LiveChatID  string
	Cursor      string
	Primed      bool
	Paused      bool
	PauseReason string
}

// RuntimeStore persists Runtime records. Owned by the persistence collaborator.
type RuntimeStore interface {
	GetAccountRuntime(ctx context.Context, accountID string) (*Runtime, error)
	SaveAccountRuntime(ctx context.Context, accountID string, rt *Runtime) error
}
