// Command broadcastctl runs a broadcast from a terminal: it selects every
// push-capable profile in an age range, then posts them to the dispatch
// endpoint in outer batches and prints progress as it goes.
//
// Settings fall back to the environment (and a .env file when present):
// DATABASE_URL, PROJECT_ID, BROADCAST_SERVER and BROADCAST_TOKEN.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/joho/godotenv"

	"github.com/tinywideclouds/go-broadcast-service/internal/broadcast"
	"github.com/tinywideclouds/go-broadcast-service/internal/selector"
	fsStore "github.com/tinywideclouds/go-broadcast-service/internal/storage/firestore"
	"github.com/tinywideclouds/go-broadcast-service/internal/storage/postgres"
	"github.com/tinywideclouds/go-broadcast-service/pkg/dispatch"
)

const (
	storePostgres  = "postgres"
	storeFirestore = "firestore"
)

type options struct {
	minAge, maxAge int
	title, body    string
	data           string
	dryRun         bool
	server, token  string
	store          string
	databaseURL    string
	table          string
	projectID      string
	collection     string
	outerBatchSize int
	pageSize       int
	requestTimeout time.Duration
}

var errUsage = errors.New("usage error")

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "warning: could not load .env: %v\n", err)
	}

	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, opts, openPageReader, os.Stdout, logger); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		if errors.Is(err, broadcast.ErrInvalidData) || errors.Is(err, errUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var opts options
	fset := flag.NewFlagSet("broadcastctl", flag.ContinueOnError)
	fset.SetOutput(stderr)

	fset.IntVar(&opts.minAge, "min-age", 0, "youngest recipient age, inclusive")
	fset.IntVar(&opts.maxAge, "max-age", 120, "oldest recipient age, inclusive")
	fset.StringVar(&opts.title, "title", "", "notification title")
	fset.StringVar(&opts.body, "body", "", "notification body")
	fset.StringVar(&opts.data, "data", "{}", "notification data as a JSON object of strings")
	fset.BoolVar(&opts.dryRun, "dry-run", true, "exercise the full path without calling the push provider")
	fset.StringVar(&opts.server, "server", envOr("BROADCAST_SERVER", "http://localhost:8080"), "dispatch service base url")
	fset.StringVar(&opts.token, "token", os.Getenv("BROADCAST_TOKEN"), "bearer token for the dispatch service")
	fset.StringVar(&opts.store, "store", storePostgres, "profile store: postgres or firestore")
	fset.StringVar(&opts.databaseURL, "database-url", os.Getenv("DATABASE_URL"), "postgres connection string")
	fset.StringVar(&opts.table, "table", postgres.DefaultTable, "postgres profiles table")
	fset.StringVar(&opts.projectID, "project", os.Getenv("PROJECT_ID"), "firestore project id")
	fset.StringVar(&opts.collection, "collection", fsStore.DefaultCollection, "firestore profiles collection")
	fset.IntVar(&opts.outerBatchSize, "batch-size", broadcast.DefaultOuterBatchSize, "notifications per dispatch request")
	fset.IntVar(&opts.pageSize, "page-size", selector.DefaultPageSize, "profiles read per store query")
	fset.DurationVar(&opts.requestTimeout, "request-timeout", 60*time.Second, "timeout for each dispatch request")

	if err := fset.Parse(args); err != nil {
		return options{}, err
	}
	return opts, nil
}

type pageReaderFactory func(ctx context.Context, opts options, logger *slog.Logger) (dispatch.PageReader, func(), error)

func run(ctx context.Context, opts options, openStore pageReaderFactory, out io.Writer, logger *slog.Logger) error {
	// Everything the operator typed is checked before a single query or request.
	data, err := broadcast.ParseData(opts.data)
	if err != nil {
		return err
	}
	if opts.outerBatchSize <= 0 {
		return fmt.Errorf("%w: -batch-size must be positive", errUsage)
	}
	client, err := broadcast.NewClient(opts.server, opts.token, opts.requestTimeout)
	if err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	store, closeStore, err := openStore(ctx, opts, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	recipients, err := selector.New(store, logger, selector.WithPageSize(opts.pageSize)).Select(ctx, dispatch.AgeFilter{MinAge: opts.minAge, MaxAge: opts.maxAge})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Selected %d recipients aged %d-%d\n", len(recipients), opts.minAge, opts.maxAge)

	orchestrator := broadcast.NewOrchestrator(client, opts.outerBatchSize, logger)
	content := broadcast.Content{Title: opts.title, Body: opts.body, Data: data}
	events := orchestrator.Run(ctx, recipients, content, opts.dryRun)

	broadcast.Wait(events, func(p broadcast.Progress) {
		if p.Stage == broadcast.StageBatchDone && p.Err == nil {
			return
		}
		fmt.Fprintln(out, p.String())
	})
	return nil
}

func openPageReader(ctx context.Context, opts options, logger *slog.Logger) (dispatch.PageReader, func(), error) {
	switch opts.store {
	case storePostgres:
		if opts.databaseURL == "" {
			return nil, nil, fmt.Errorf("%w: -database-url or DATABASE_URL is required for the postgres store", errUsage)
		}
		pool, err := postgres.NewPool(ctx, opts.databaseURL)
		if err != nil {
			return nil, nil, err
		}
		return postgres.NewRecipientStore(pool, opts.table), pool.Close, nil

	case storeFirestore:
		if opts.projectID == "" {
			return nil, nil, fmt.Errorf("%w: -project or PROJECT_ID is required for the firestore store", errUsage)
		}
		client, err := firestore.NewClient(ctx, opts.projectID)
		if err != nil {
			return nil, nil, fmt.Errorf("firestore client failed: %w", err)
		}
		return fsStore.NewRecipientStore(client, opts.collection, logger), func() { _ = client.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("%w: unknown store %q", errUsage, opts.store)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
