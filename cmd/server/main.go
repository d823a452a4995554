package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/openclerk/recordsync/internal/server/feed"
	"github.com/openclerk/recordsync/internal/server/handlers"
	"github.com/openclerk/recordsync/internal/server/jwt"
	"github.com/openclerk/recordsync/internal/server/middleware"
	"github.com/openclerk/recordsync/internal/server/storage/sqlite"
)

var (
	// Version information set via ldflags during build
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "Show version information")
	addr := flag.String("addr", ":8080", "Listen address")
	dbPath := flag.String("db", "recordsync-feed.db", "Path to the event log database")
	secret := flag.String("secret", os.Getenv("RECORDSYNC_SECRET"), "Token signing secret")
	tokenTTL := flag.Duration("token-ttl", 24*time.Hour, "Issued token lifetime")
	heartbeat := flag.Duration("heartbeat", 15*time.Second, "Stream heartbeat interval")
	retention := flag.Duration("retention", 7*24*time.Hour, "Event log retention")
	printToken := flag.String("print-token", "", "Print a token for the given subject and exit")

	flag.Parse()

	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if *secret == "" {
		fmt.Fprintln(os.Stderr, "A signing secret is required (-secret or RECORDSYNC_SECRET)")
		os.Exit(1)
	}
	tokens := jwt.NewService(*secret, *tokenTTL)

	if *printToken != "" {
		token, err := tokens.Issue(*printToken)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to issue token: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(token)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eventLog, err := sqlite.New(ctx, *dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open event log: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if err := eventLog.Close(); err != nil {
			logger.Error("failed to close event log", "error", err)
		}
	}()

	hub := feed.NewHub(logger)
	go hub.Run(ctx)
	go pruneLoop(ctx, logger, eventLog, *retention)

	healthHandler := handlers.NewHealthHandler(logger, Version)
	publishHandler := handlers.NewPublishHandler(logger, eventLog, hub)
	streamHandler := feed.NewStreamHandler(logger, eventLog, hub, tokens, *heartbeat)

	authed := middleware.AuthMiddleware(logger, tokens)
	limited := middleware.RateLimitMiddleware(600, time.Minute, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", healthHandler.Health)
	mux.Handle("/api/v1/events", limited(authed(http.HandlerFunc(publishHandler.Publish))))
	// The stream handler authenticates itself: middleware cannot wrap a
	// websocket upgrade response.
	mux.HandleFunc("/api/v1/stream", streamHandler.Stream)

	handler := middleware.RecoveryMiddleware(logger)(
		middleware.LoggingWithSkip(logger, []string{"/healthz"})(mux))

	server := &http.Server{
		Addr:              *addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown failed", "error", err)
		}
	}()

	logger.Info("feed server listening", "addr", *addr, "version", Version)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

// pruneLoop trims the event log once an hour. Clients resuming from pruned
// positions get a stale cursor signal and do a full resync.
func pruneLoop(ctx context.Context, logger *slog.Logger, eventLog *sqlite.Storage, retention time.Duration) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := eventLog.Prune(ctx, time.Now().Add(-retention))
			if err != nil {
				logger.Error("prune failed", "error", err)
				continue
			}
			if deleted > 0 {
				logger.Info("pruned events", "deleted", deleted)
			}
		}
	}
}

func printVersion() {
	fmt.Printf("recordsync feed server\n")
	fmt.Printf("Version:    %s\n", Version)
	fmt.Printf("Build Date: %s\n", BuildDate)
	fmt.Printf("Git Commit: %s\n", GitCommit)
}
