// Package server exposes the operational HTTP API: health, readiness, status,
// and metrics. It injects correlation IDs into request contexts for
// consistent logging.
package server

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
)

// BotStatus is the live view of the connection manager the status endpoint
// reports. Nil is tolerated for deployments that only serve the API.
type BotStatus interface {
	Connected() int
	PendingAnnouncements() int
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	db  *sql.DB
	bot BotStatus
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(db *sql.DB, bot BotStatus) *Handlers {
	return &Handlers{db: db, bot: bot}
}

// HandleHealthz responds to liveness probe requests by checking database connectivity.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := h.db.PingContext(r.Context()); err != nil {
		http.Error(w, "unhealthy", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz responds to readiness probe requests with detailed system checks.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := []struct {
		name string
		fn   func() error
	}{
		{"database", func() error { return h.db.PingContext(r.Context()) }},
		{"accounts", func() error {
			// All known accounts paused means the breaker took everything
			// down; the instance serves traffic but does no useful work.
			var total, paused int
			err := h.db.QueryRowContext(r.Context(),
				`SELECT COUNT(*), COUNT(*) FILTER (WHERE paused) FROM accounts`).Scan(&total, &paused)
			if err != nil {
				return err
			}
			if total > 0 && paused == total {
				return fmt.Errorf("all %d accounts paused", total)
			}
			return nil
		}},
	}

	for _, check := range checks {
		if err := check.fn(); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"status":       "not_ready",
				"failed_check": check.name,
				"error":        err.Error(),
			})
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}

// HandleStatus returns a lightweight status summary: connected accounts,
// scheduled announcements, and the per-account connection records.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()
	resp := map[string]any{}

	if h.bot != nil {
		resp["connected_accounts"] = h.bot.Connected()
		resp["pending_announcements"] = h.bot.PendingAnnouncements()
	}

	type accountStatus struct {
		ID          string `json:"id"`
		Connected   bool   `json:"connected"`
		Primed      bool   `json:"primed"`
		Paused      bool   `json:"paused"`
		PauseReason string `json:"pause_reason,omitempty"`
	}
	var accounts []accountStatus
	rows, err := h.db.QueryContext(ctx,
		`SELECT id, COALESCE(live_chat_id,'')!='', COALESCE(primed,false), COALESCE(paused,false), COALESCE(pause_reason,'')
		 FROM accounts ORDER BY id`)
	if err == nil {
		defer rows.Close()
		for rows.Next() {
			var a accountStatus
			if err := rows.Scan(&a.ID, &a.Connected, &a.Primed, &a.Paused, &a.PauseReason); err == nil {
				accounts = append(accounts, a)
			}
		}
	}
	if len(accounts) > 0 {
		resp["accounts"] = accounts
	}

	var startedAt string
	_ = h.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key='process_started_at'`).Scan(&startedAt)
	if startedAt != "" {
		resp["process_started_at"] = startedAt
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
