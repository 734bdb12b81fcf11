package chat

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/onnwee/streambot/backend/command"
	"github.com/onnwee/streambot/backend/telemetry"
)

// DispatchFunc hands a normalized message to the command dispatcher.
type DispatchFunc func(ctx context.Context, msg command.Message)

// Engine drives the polling state machine for all accounts of this process.
// startedAt guards against replaying chat history after a reconnect or restart:
// items published before the process started are never dispatched.
type Engine struct {
	API      API
	Store    RuntimeStore
	Dispatch DispatchFunc

	// IsInvalidCursor classifies fetch errors that are recoverable by re-priming.
	IsInvalidCursor func(error) bool

	// TransportFor binds a reply transport to a chat. Optional; when nil, contexts
	// fall back to the dispatcher's default sender.
	TransportFor func(chatID string) command.Transport

	// VarsFor supplies live account variables for template-backed commands. Optional.
	VarsFor func(ctx context.Context, accountID string) map[string]string

	FallbackDelay time.Duration // when the server gives no polling hint
	RecoveryDelay time.Duration // fixed wait after a fetch-level error

	startedAt time.Time
}

// NewEngine wires an engine with the given collaborators and tuning. Zero delays
// fall back to 10s (poll) and 5s (recovery).
func NewEngine(api API, store RuntimeStore, dispatch DispatchFunc) *Engine {
	return &Engine{
		API:             api,
		Store:           store,
		Dispatch:        dispatch,
		IsInvalidCursor: func(error) bool { return false },
		FallbackDelay:   10 * time.Second,
		RecoveryDelay:   5 * time.Second,
		startedAt:       time.Now().UTC(),
	}
}

// Result carries the counters of one poll cycle.
type Result struct {
	Received  int
	Handled   int
	NextDelay time.Duration
}

// Prime performs one fetch with no cursor, discards the returned items, and
// persists only the fresh forward cursor. Idempotent: two consecutive primes
// process zero chat items regardless of chat history.
func (e *Engine) Prime(ctx context.Context, accountID string) error {
	rt, err := e.Store.GetAccountRuntime(ctx, accountID)
	if err != nil {
		return fmt.Errorf("load account runtime: %w", err)
	}
	if rt.LiveChatID == "" {
		return fmt.Errorf("prime: account %s has no live chat target", accountID)
	}
	cursor, err := e.API.Prime(ctx, rt.LiveChatID)
	if err != nil {
		return fmt.Errorf("prime fetch: %w", err)
	}
	rt.Cursor = cursor
	rt.Primed = true
	if err := e.Store.SaveAccountRuntime(ctx, accountID, rt); err != nil {
		return fmt.Errorf("save account runtime: %w", err)
	}
	slog.Debug("chat primed", slog.String("account", accountID), slog.String("chat_id", rt.LiveChatID))
	return nil
}

// PollOnce performs one fetch using the stored cursor. An invalid-cursor error
// triggers exactly one re-prime and one retry with the fresh cursor before giving
// up. Text items published at or after process start are parsed and dispatched;
// everything else is dropped.
func (e *Engine) PollOnce(ctx context.Context, accountID string) (Result, error) {
	var res Result
	rt, err := e.Store.GetAccountRuntime(ctx, accountID)
	if err != nil {
		return res, fmt.Errorf("load account runtime: %w", err)
	}
	if rt.LiveChatID == "" {
		return res, fmt.Errorf("poll: account %s has no live chat target", accountID)
	}

	telemetry.ChatPolls.Inc()
	var page *Page
	telemetry.TimeFunc(telemetry.PollDuration, func() {
		page, err = e.API.Poll(ctx, rt.LiveChatID, rt.Cursor)
	})
	if err != nil && e.IsInvalidCursor != nil && e.IsInvalidCursor(err) {
		// Recoverable in-line: one re-prime, one retry. A small delivery gap is
		// possible here; the cursor the server invalidated cannot be replayed.
		telemetry.ChatReprimes.Inc()
		slog.Warn("invalid cursor; re-priming", slog.String("account", accountID), slog.Any("err", err))
		cursor, perr := e.API.Prime(ctx, rt.LiveChatID)
		if perr != nil {
			return res, fmt.Errorf("re-prime after invalid cursor: %w", perr)
		}
		rt.Cursor = cursor
		rt.Primed = true
		if serr := e.Store.SaveAccountRuntime(ctx, accountID, rt); serr != nil {
			return res, fmt.Errorf("save account runtime: %w", serr)
		}
		page, err = e.API.Poll(ctx, rt.LiveChatID, rt.Cursor)
	}
	if err != nil {
		telemetry.ChatPollErrors.Inc()
		res.NextDelay = e.RecoveryDelay
		return res, fmt.Errorf("poll fetch: %w", err)
	}

	res.Received = len(page.Items)
	telemetry.MessagesReceived.Add(float64(res.Received))
	for _, it := range page.Items {
		if it.Kind != KindTextMessage {
			continue
		}
		if it.PublishedAt.Before(e.startedAt) {
			// History replay guard: never dispatch items that predate this process.
			continue
		}
		res.Handled++
		e.Dispatch(ctx, e.message(ctx, accountID, rt.LiveChatID, it))
	}
	telemetry.MessagesHandled.Add(float64(res.Handled))

	rt.Cursor = page.NextCursor
	if err := e.Store.SaveAccountRuntime(ctx, accountID, rt); err != nil {
		return res, fmt.Errorf("save account runtime: %w", err)
	}

	res.NextDelay = page.SuggestedDelay
	if res.NextDelay <= 0 {
		res.NextDelay = e.FallbackDelay
	}
	return res, nil
}

// PollLoop runs PollOnce unattended until ctx is cancelled. Each cycle schedules
// the next after the suggested delay; fetch errors wait the fixed recovery delay
// and retry with the same cursor. The loop never aborts on error.
func (e *Engine) PollLoop(ctx context.Context, accountID string) {
	slog.Info("chat poll loop starting", slog.String("account", accountID))
	for {
		if ctx.Err() != nil {
			slog.Info("chat poll loop stopped", slog.String("account", accountID))
			return
		}
		res, err := e.PollOnce(ctx, accountID)
		delay := res.NextDelay
		if err != nil {
			if ctx.Err() != nil {
				slog.Info("chat poll loop stopped", slog.String("account", accountID))
				return
			}
			slog.Warn("poll cycle failed; retrying", slog.String("account", accountID), slog.Any("err", err))
			delay = e.RecoveryDelay
		}
		select {
		case <-ctx.Done():
			slog.Info("chat poll loop stopped", slog.String("account", accountID))
			return
		case <-time.After(delay):
		}
	}
}

func (e *Engine) message(ctx context.Context, accountID, chatID string, it Item) command.Message {
	msg := command.Message{
		Text:      it.Text,
		Author:    it.AuthorDisplayName,
		AuthorID:  it.AuthorID,
		IsAdmin:   it.IsOwner,
		Platform:  "youtube",
		AccountID: accountID,
		ChannelID: chatID,
	}
	if e.TransportFor != nil {
		msg.Transport = e.TransportFor(chatID)
	}
	if e.VarsFor != nil {
		msg.Vars = e.VarsFor(ctx, accountID)
	}
	return msg
}
