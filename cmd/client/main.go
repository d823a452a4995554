package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/openclerk/recordsync/internal/client/cli"
	"github.com/openclerk/recordsync/internal/client/storage/boltdb"
	"github.com/openclerk/recordsync/internal/client/stream"
	"github.com/openclerk/recordsync/internal/client/sync"
	"github.com/openclerk/recordsync/internal/resolve"
)

var (
	// Version information set via ldflags during build
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "Show version information")
	serverURL := flag.String("server", "ws://localhost:8080/api/v1/stream", "Feed stream URL")
	dbPath := flag.String("db", "recordsync.db", "Path to local database")
	token := flag.String("token", os.Getenv("RECORDSYNC_TOKEN"), "Feed access token")
	collections := flag.String("collections", "", "Comma-separated collections to stream (default: all)")
	verbose := flag.Bool("v", false, "Debug logging")

	flag.Parse()

	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) == 0 {
		cli.PrintUsage()
		os.Exit(1)
	}
	command := args[0]

	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := boltdb.New(ctx, *dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}()

	var streamCollections []string
	if *collections != "" {
		streamCollections = strings.Split(*collections, ",")
	}

	source := stream.New(*serverURL, *token, streamCollections, store, stream.DefaultSettings(), logger)

	registry := resolve.NewRegistry(resolve.TimestampWins())
	svc := sync.NewService(store, registry, source, sync.DefaultOptions(), logger)

	if err := run(ctx, command, args[1:], svc, store); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, command string, args []string, svc sync.Service, store sync.Store) error {
	switch command {
	case "status":
		return cli.RunStatus(ctx, svc, store)
	case "list":
		return cli.RunList(ctx, args, svc)
	case "get":
		return cli.RunGet(ctx, args, svc)
	case "write":
		return cli.RunWrite(ctx, args, svc)
	case "delete":
		return cli.RunDelete(ctx, args, svc)
	case "conflicts":
		return cli.RunConflicts(ctx, svc)
	case "resolve":
		return cli.RunResolve(ctx, args, svc)
	case "run":
		return cli.RunEngine(ctx, svc)
	default:
		cli.PrintUsage()
		return fmt.Errorf("unknown command: %s", command)
	}
}

func printVersion() {
	fmt.Printf("recordsync client\n")
	fmt.Printf("Version:    %s\n", Version)
	fmt.Printf("Build Date: %s\n", BuildDate)
	fmt.Printf("Git Commit: %s\n", GitCommit)
}
