// Command backend is the main entrypoint for the streambot chat engine.
// It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres and runs idempotent migrations.
//   - Builds the command registry and dispatcher shared by all platforms.
//   - Starts the Discord gateway when a bot token is configured.
//   - Auto-connects the bootstrap account to its YouTube live chat when the
//     channel is configured, starting the poll loop and announcement scheduler.
//   - Exposes a minimal HTTP server with /healthz, /readyz, /status, /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/onnwee/streambot/backend/bot"
	"github.com/onnwee/streambot/backend/chat"
	"github.com/onnwee/streambot/backend/command"
	"github.com/onnwee/streambot/backend/config"
	"github.com/onnwee/streambot/backend/db"
	"github.com/onnwee/streambot/backend/discord"
	"github.com/onnwee/streambot/backend/modules"
	"github.com/onnwee/streambot/backend/oauth"
	"github.com/onnwee/streambot/backend/server"
	"github.com/onnwee/streambot/backend/telemetry"
	"github.com/onnwee/streambot/backend/youtubeapi"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load("backend/.env")

	startedAt := time.Now().UTC()

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", map[bool]string{true: "json", false: "text"}[format == "json"]))

	// Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	// Metrics / telemetry init
	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdownTracing, err := telemetry.InitTracing("streambot", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdownTracing()

	// DB
	database, err := db.Connect()
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()
	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.Migrate(context.Background(), database); err != nil {
		slog.Error("failed to migrate db", slog.Any("err", err))
		os.Exit(1)
	}

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := db.SetKV(ctx, database, "process_started_at", startedAt.Format(time.RFC3339)); err != nil {
		slog.Warn("failed to record process start", slog.Any("err", err))
	}

	store := &db.Store{DB: database}
	tokens := &db.TokenStoreAdapter{DB: database}

	// Command registry. The registry provider is bound lazily so the help
	// module can list the registry it is itself part of.
	var registry *command.Registry
	registry = command.NewRegistry(
		modules.General(func() *command.Registry { return registry }, startedAt),
		modules.Moderation(store),
	)
	dispatcher := &command.Dispatcher{
		Registry: registry,
		Prefix:   cfg.Prefix,
		Disabled: func(accountID, platform, module string) bool {
			return store.ModuleDisabled(ctx, accountID, platform, module)
		},
		Custom: store,
		Counts: store,
	}

	// Shared template variables for announcements and stored commands.
	vars := func(context.Context, string) map[string]string {
		return map[string]string{"channel": cfg.YTChannelID}
	}

	// YouTube live chat: engine + connection manager.
	var manager *bot.Manager
	if err := cfg.ValidateYouTubeReady(); err == nil {
		svc := youtubeapi.New(cfg, tokens)
		ytService, err := svc.Client(ctx)
		if err != nil {
			slog.Warn("youtube client unavailable (missing or expired token?)", slog.Any("err", err))
		} else {
			live := youtubeapi.NewLiveChat(ytService)
			transportFor := func(chatID string) command.Transport {
				return &youtubeapi.Transport{ChatID: chatID, Chat: live}
			}
			engine := chat.NewEngine(live, store, dispatcher.Dispatch)
			engine.IsInvalidCursor = youtubeapi.IsInvalidCursor
			engine.FallbackDelay = cfg.PollFallbackDelay
			engine.RecoveryDelay = cfg.RecoveryDelay
			engine.TransportFor = transportFor
			engine.VarsFor = vars

			manager = bot.NewManager(ctx, engine, store, live)
			manager.TransportFor = transportFor
			manager.Vars = vars
			manager.FailLimit = cfg.AnnounceFailLimit
			manager.MinDelay = cfg.AnnounceMinDelay
			defer manager.Shutdown()

			if cfg.YTChannelID != "" {
				if err := manager.Connect(ctx, cfg.AccountID, cfg.YTChannelID); err != nil {
					slog.Warn("youtube auto-connect failed", slog.String("channel", cfg.YTChannelID), slog.Any("err", err))
				}
			}
		}

		// Keep the persisted OAuth token fresh across restarts.
		oauth.StartRefresher(ctx, database, "youtube", 10*time.Minute, 20*time.Minute,
			func(rctx context.Context, refreshToken string) (string, string, time.Time, string, error) {
				oc := &oauth2.Config{
					ClientID:     cfg.YTClientID,
					ClientSecret: cfg.YTClientSecret,
					Endpoint:     google.Endpoint,
					RedirectURL:  cfg.YTRedirectURI,
				}
				newTok, err := oc.TokenSource(rctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
				if err != nil {
					return "", "", time.Time{}, "", err
				}
				rawJSON, err := json.Marshal(newTok)
				if err != nil {
					return "", "", time.Time{}, "", err
				}
				return newTok.AccessToken, newTok.RefreshToken, newTok.Expiry, string(rawJSON), nil
			})
	} else {
		slog.Info("youtube disabled", slog.Any("reason", err))
	}

	// Discord gateway.
	if err := cfg.ValidateDiscordReady(); err == nil {
		gateway, err := discord.NewGateway(cfg.DiscordToken, dispatcher.Dispatch)
		if err != nil {
			slog.Error("discord gateway init failed", slog.Any("err", err))
			os.Exit(1)
		}
		if err := gateway.Start(ctx); err != nil {
			slog.Error("discord gateway start failed", slog.Any("err", err))
			os.Exit(1)
		}
		defer func() {
			if err := gateway.Stop(); err != nil {
				slog.Error("discord gateway stop failed", slog.Any("err", err))
			}
		}()
	} else {
		slog.Info("discord disabled", slog.Any("reason", err))
	}

	// HTTP server (health/readiness/status/metrics)
	go func() {
		var status server.BotStatus
		if manager != nil {
			status = manager
		}
		if err := server.Start(ctx, database, status, cfg.HTTPAddr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	// Block until shutdown signal
	<-ctx.Done()
	slog.Info("shutting down")
}
