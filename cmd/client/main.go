package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/akarpov/crmsync/internal/client/api"
	"github.com/akarpov/crmsync/internal/client/cli"
	"github.com/akarpov/crmsync/internal/client/iocli"
	"github.com/akarpov/crmsync/internal/client/storage/boltdb"
	clientsync "github.com/akarpov/crmsync/internal/client/sync"
	"github.com/akarpov/crmsync/internal/resolve"
)

var (
	// Version information set via ldflags during build
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

func main() {
	// Глобальные флаги
	showVersion := flag.Bool("version", false, "Show version information")
	serverURL := flag.String("server", "http://localhost:8080", "Server URL")
	dbPath := flag.String("db", "crmsync-client.db", "Path to local database")
	token := flag.String("token", "", "Access token (or CRMSYNC_TOKEN env var)")
	user := flag.String("user", "local", "Principal id for local edits")

	flag.Parse()

	// Show version and exit if requested
	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	// Получаем команду
	args := flag.Args()
	if len(args) == 0 {
		cli.PrintUsage()
		os.Exit(1)
	}

	command := args[0]

	accessToken := *token
	if accessToken == "" {
		accessToken = os.Getenv("CRMSYNC_TOKEN")
	}

	// Контекст отменяется по Ctrl+C: watch и длинные sync прерываются чисто
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Открываем BoltDB storage
	boltStorage, err := boltdb.New(ctx, *dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if err := boltStorage.Close(); err != nil {
			slog.Error("failed to close database", "error", err)
		}
	}()

	// Создаем API клиент и движок синхронизации
	apiClient := api.NewClient(*serverURL, accessToken)
	engine := clientsync.NewEngine(clientsync.Config{
		API:         apiClient,
		Documents:   boltStorage,
		Checkpoints: boltStorage,
		Strategies:  resolve.DefaultConfig(),
		Logger:      slog.Default(),
	})

	out := iocli.NewStdio()

	// Выполняем команду
	switch command {
	case "add":
		if err := cli.RunAdd(ctx, args[1:], engine, boltStorage, *user, out); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "get":
		if err := cli.RunGet(ctx, args[1:], boltStorage, out); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "list":
		if err := cli.RunList(ctx, args[1:], boltStorage, out); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "delete":
		if err := cli.RunDelete(ctx, args[1:], engine, *user, out); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "sync":
		if err := cli.RunSync(ctx, engine, out); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "watch":
		if err := cli.RunWatch(ctx, args[1:], engine, out); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "status":
		if err := cli.RunStatus(ctx, boltStorage, boltStorage, out); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "conflicts":
		if err := cli.RunConflicts(ctx, boltStorage, out); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "resolve":
		if err := cli.RunResolve(ctx, args[1:], engine, out); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		cli.PrintUsage()
		os.Exit(1)
	}
}

func printVersion() {
	fmt.Printf("crmsync Client\n")
	fmt.Printf("Version:    %s\n", Version)
	fmt.Printf("Build Date: %s\n", BuildDate)
	fmt.Printf("Git Commit: %s\n", GitCommit)
}
