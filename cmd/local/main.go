// Command local serves the API over plain HTTP with a SQLite store and an
// in-process rate limiter.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"multichat/internal/app"
	"multichat/internal/integrations/decision"
	"multichat/internal/integrations/kravix"
	"multichat/internal/integrations/paramstore"
	"multichat/internal/ratelimit"
	"multichat/internal/repository/sqlite"
	"multichat/internal/usecase"
)

func main() {
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(log)

	if err := loadEnv(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("could not load .env", "err", err)
	}

	// ---- Configuration (read only here) ----
	addr := envString("LISTEN_ADDR", ":8080")
	dbPath := envString("SQLITE_PATH", "multichat.db")
	apiKey := mustEnv("KRAVIX_API_KEY")
	kravixBaseURL := os.Getenv("KRAVIX_BASE_URL")
	decisionURL := os.Getenv("DECISION_URL")
	dailyLimit := envInt("DAILY_MESSAGE_LIMIT", 5)
	callTimeout := time.Duration(envInt("CALL_TIMEOUT_SECONDS", 70)) * time.Second

	db, err := sqlite.Open(sqlite.Config{Path: dbPath, Logger: log})
	if err != nil {
		slog.Error("failed to open database", "path", dbPath, "err", err)
		os.Exit(1)
	}
	store, err := sqlite.New(db)
	if err != nil {
		slog.Error("failed to create store", "err", err)
		os.Exit(1)
	}

	var kravixOpts []kravix.Option
	if kravixBaseURL != "" {
		kravixOpts = append(kravixOpts, kravix.WithBaseURL(kravixBaseURL))
	}
	backend, err := kravix.NewClient(paramstore.Static(apiKey), kravixOpts...)
	if err != nil {
		slog.Error("failed to create gateway client", "err", err)
		os.Exit(1)
	}

	var decisions usecase.DecisionService
	if decisionURL != "" {
		var opts []decision.Option
		if tok := os.Getenv("DECISION_TOKEN"); tok != "" {
			opts = append(opts, decision.WithTokenSource(paramstore.Static(tok)))
		}
		decisions, err = decision.NewClient(decisionURL, opts...)
	} else {
		decisions, err = ratelimit.New(dailyLimit, 24*time.Hour)
	}
	if err != nil {
		slog.Error("failed to create decision service", "err", err)
		os.Exit(1)
	}

	h, err := app.NewHandler(app.Config{
		CatalogPath: os.Getenv("CATALOG_PATH"),
		Store:       store,
		Decisions:   decisions,
		Backend:     backend,
		CallTimeout: callTimeout,
		Logger:      log,
	})
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("listening", "addr", addr, "db", dbPath)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server failed", "err", err)
		os.Exit(1)
	}
}

// loadEnv loads .env from the nearest directory holding go.mod.
func loadEnv() error {
	dir, err := os.Getwd()
	if err != nil {
		return err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return godotenv.Load(filepath.Join(dir, ".env"))
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return os.ErrNotExist
		}
		dir = parent
	}
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		slog.Error("required environment variable is not set", "key", key)
		os.Exit(1)
	}
	return v
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
