package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/onnwee/streambot/backend/announce"
	"github.com/onnwee/streambot/backend/chat"
)

// Store implements the persistence contracts consumed by the ingestion engine,
// the announcement scheduler, and the dispatcher's stored-command tiers.
type Store struct {
	DB *sql.DB
}

// GetAccountRuntime loads the whole runtime record. An unknown account returns a
// zero record, not an error; the first save creates the row.
func (s *Store) GetAccountRuntime(ctx context.Context, accountID string) (*chat.Runtime, error) {
	rt := &chat.Runtime{}
	var liveChatID, cursor, reason sql.NullString
	err := s.DB.QueryRowContext(ctx,
		`SELECT live_chat_id, next_cursor, primed, paused, pause_reason FROM accounts WHERE id=$1`,
		accountID).Scan(&liveChatID, &cursor, &rt.Primed, &rt.Paused, &reason)
	if err == sql.ErrNoRows {
		return rt, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load account %s: %w", accountID, err)
	}
	rt.LiveChatID = liveChatID.String
	rt.Cursor = cursor.String
	rt.PauseReason = reason.String
	return rt, nil
}

// SaveAccountRuntime persists the whole record in one statement so two writers
// can never interleave partial-field updates.
func (s *Store) SaveAccountRuntime(ctx context.Context, accountID string, rt *chat.Runtime) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO accounts (id, live_chat_id, next_cursor, primed, paused, pause_reason, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,NOW())
		 ON CONFLICT(id) DO UPDATE SET
		   live_chat_id=EXCLUDED.live_chat_id,
		   next_cursor=EXCLUDED.next_cursor,
		   primed=EXCLUDED.primed,
		   paused=EXCLUDED.paused,
		   pause_reason=EXCLUDED.pause_reason,
		   updated_at=NOW()`,
		accountID, rt.LiveChatID, rt.Cursor, rt.Primed, rt.Paused, rt.PauseReason)
	if err != nil {
		return fmt.Errorf("save account %s: %w", accountID, err)
	}
	return nil
}

// ListAnnouncements returns an account's announcements, enabled or not; the
// scheduler filters on the Enabled flag so it can log what it skipped.
func (s *Store) ListAnnouncements(ctx context.Context, accountID string) ([]announce.Announcement, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, COALESCE(name,''), COALESCE(message,''), interval_seconds, enabled, last_sent_at
		 FROM announcements WHERE account_id=$1 ORDER BY id`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list announcements for %s: %w", accountID, err)
	}
	defer rows.Close()

	var out []announce.Announcement
	for rows.Next() {
		var a announce.Announcement
		var intervalSec int64
		var lastSent sql.NullTime
		if err := rows.Scan(&a.ID, &a.Name, &a.Message, &intervalSec, &a.Enabled, &lastSent); err != nil {
			return nil, fmt.Errorf("scan announcement: %w", err)
		}
		a.Interval = time.Duration(intervalSec) * time.Second
		if lastSent.Valid {
			a.LastSentAt = lastSent.Time.UTC()
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpdateAnnouncementLastSent persists the send timestamp that restart cadence
// bootstraps from.
func (s *Store) UpdateAnnouncementLastSent(ctx context.Context, accountID, id string, t time.Time) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE announcements SET last_sent_at=$1, updated_at=NOW() WHERE account_id=$2 AND id=$3`,
		t, accountID, id)
	if err != nil {
		return fmt.Errorf("update last sent for %s/%s: %w", accountID, id, err)
	}
	return nil
}

// GetCustomCommand resolves an account's stored name -> template pair.
func (s *Store) GetCustomCommand(ctx context.Context, accountID, name string) (string, string, bool, error) {
	var template, platform string
	err := s.DB.QueryRowContext(ctx,
		`SELECT COALESCE(template,''), COALESCE(platform,'both') FROM custom_commands WHERE account_id=$1 AND name=$2`,
		accountID, name).Scan(&template, &platform)
	if err == sql.ErrNoRows {
		return "", "", false, nil
	}
	if err != nil {
		return "", "", false, fmt.Errorf("custom command %s/%s: %w", accountID, name, err)
	}
	return template, platform, true, nil
}

// IncrementCountCommand bumps and reads a count command in one statement, so
// concurrent invocations never lose counts.
func (s *Store) IncrementCountCommand(ctx context.Context, accountID, name, platform string) (string, int64, bool, error) {
	var template string
	var count int64
	err := s.DB.QueryRowContext(ctx,
		`UPDATE count_commands SET count=count+1 WHERE account_id=$1 AND name=$2 AND platform=$3
		 RETURNING COALESCE(template,''), count`,
		accountID, name, platform).Scan(&template, &count)
	if err == sql.ErrNoRows {
		return "", 0, false, nil
	}
	if err != nil {
		return "", 0, false, fmt.Errorf("count command %s/%s: %w", accountID, name, err)
	}
	return template, count, true, nil
}

// ModuleDisabled reports whether a module is disabled for an account/platform.
// Lookup errors read as "enabled": a broken settings row must not silence the bot.
func (s *Store) ModuleDisabled(ctx context.Context, accountID, platform, module string) bool {
	var disabled bool
	err := s.DB.QueryRowContext(ctx,
		`SELECT disabled FROM module_settings WHERE account_id=$1 AND platform=$2 AND module=$3`,
		accountID, platform, module).Scan(&disabled)
	if err != nil {
		return false
	}
	return disabled
}

// TokenStoreAdapter exposes the oauth_tokens table through the youtubeapi
// TokenStore interface.
type TokenStoreAdapter struct {
	DB *sql.DB
}

func (a *TokenStoreAdapter) UpsertOAuthToken(ctx context.Context, provider, access, refresh string, expiry time.Time, raw string) error {
	_, err := a.DB.ExecContext(ctx,
		`INSERT INTO oauth_tokens (provider, access_token, refresh_token, expires_at, raw, updated_at)
		 VALUES ($1,$2,$3,$4,$5,NOW())
		 ON CONFLICT(provider) DO UPDATE SET
		   access_token=EXCLUDED.access_token,
		   refresh_token=EXCLUDED.refresh_token,
		   expires_at=EXCLUDED.expires_at,
		   raw=EXCLUDED.raw,
		   updated_at=NOW()`,
		provider, access, refresh, expiry, raw)
	return err
}

func (a *TokenStoreAdapter) GetOAuthToken(ctx context.Context, provider string) (string, string, time.Time, string, error) {
	var access, refresh, raw sql.NullString
	var expiry sql.NullTime
	err := a.DB.QueryRowContext(ctx,
		`SELECT access_token, refresh_token, expires_at, raw FROM oauth_tokens WHERE provider=$1`,
		provider).Scan(&access, &refresh, &expiry, &raw)
	if err == sql.ErrNoRows {
		return "", "", time.Time{}, "", nil
	}
	if err != nil {
		return "", "", time.Time{}, "", err
	}
	return access.String, refresh.String, expiry.Time, raw.String, nil
}
