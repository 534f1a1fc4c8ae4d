package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/dshills/contextrag/internal/app"
	"github.com/dshills/contextrag/internal/config"
	"github.com/dshills/contextrag/internal/indexer"
	"github.com/dshills/contextrag/internal/mcp"
	"github.com/dshills/contextrag/internal/searcher"
	"github.com/dshills/contextrag/internal/storage"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

const usage = `Usage: contextrag [--config file] <command> [flags] [args]

Commands:
  serve [dir]                         Run the MCP server on stdio for dir (default: current directory)
  index [--force] [dir]               Index dir and persist the vector index
  search [--root dir] [--limit n] <query>
                                      Search the index of dir (default: current directory)
  version                             Print version information

Command flags go after the command name and before its arguments.
--config is accepted before or after the command name.
`

// errUsage reports a command line that cannot be run
var errUsage = errors.New("invalid usage")

// command is a parsed command line
type command struct {
	name       string
	configPath string
	dir        string
	query      string
	force      bool
	limit      int
}

// parseArgs reads the global flags, the command name and that command's own flags
func parseArgs(args []string) (*command, error) {
	cmd := &command{dir: ".", limit: searcher.DefaultLimit}
	if len(args) > 0 && args[0] == "--version" {
		args = append([]string{"version"}, args[1:]...)
	}

	global := flag.NewFlagSet("contextrag", flag.ContinueOnError)
	global.SetOutput(io.Discard)
	global.StringVar(&cmd.configPath, "config", "", "path to a config file (yaml, json or toml)")
	if err := global.Parse(args); err != nil {
		return nil, fmt.Errorf("%w: %v", errUsage, err)
	}

	rest := global.Args()
	if len(rest) == 0 {
		return nil, fmt.Errorf("%w: missing command", errUsage)
	}
	cmd.name = rest[0]

	sub := flag.NewFlagSet(cmd.name, flag.ContinueOnError)
	sub.SetOutput(io.Discard)
	sub.StringVar(&cmd.configPath, "config", cmd.configPath, "path to a config file (yaml, json or toml)")

	switch cmd.name {
	case "version", "serve":
	case "index":
		sub.BoolVar(&cmd.force, "force", false, "clear the index before indexing")
	case "search":
		sub.StringVar(&cmd.dir, "root", ".", "project root to search")
		sub.IntVar(&cmd.limit, "limit", searcher.DefaultLimit, "maximum search results")
	default:
		return nil, fmt.Errorf("%w: unknown command %q", errUsage, cmd.name)
	}

	if err := sub.Parse(rest[1:]); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errUsage, cmd.name, err)
	}
	positional := sub.Args()

	switch cmd.name {
	case "serve", "index":
		if len(positional) > 1 {
			return nil, fmt.Errorf("%w: %s takes at most one directory", errUsage, cmd.name)
		}
		if len(positional) == 1 {
			cmd.dir = positional[0]
		}
	case "search":
		cmd.query = strings.TrimSpace(strings.Join(positional, " "))
		if cmd.query == "" {
			return nil, fmt.Errorf("%w: search needs a query", errUsage)
		}
	}
	return cmd, nil
}

func main() {
	cmd, err := parseArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "contextrag: %v\n\n%s", err, usage)
		os.Exit(2)
	}

	if cmd.name == "version" {
		fmt.Printf("contextrag\n")
		fmt.Printf("Version: %s\n", version)
		fmt.Printf("Build Time: %s\n", buildTime)
		fmt.Printf("Build Mode: %s\n", storage.BuildMode)
		fmt.Printf("SQLite Driver: %s\n", storage.DriverName)
		return
	}

	cfg, err := config.Load(cmd.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "contextrag: %v\n", err)
		os.Exit(1)
	}
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch cmd.name {
	case "serve":
		err = runServe(ctx, cfg, cmd.dir, logger)
	case "index":
		err = runIndex(ctx, cfg, cmd.dir, cmd.force, logger)
	case "search":
		err = runSearch(ctx, cfg, cmd.dir, cmd.query, cmd.limit, logger)
	}

	if err != nil {
		logger.Error().Err(err).Str("command", cmd.name).Msg("command failed")
		os.Exit(1)
	}
}

// newLogger writes to stderr; stdout is reserved for the MCP protocol
func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.Log.Console {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(level).With().Timestamp().Logger()
}

func runServe(ctx context.Context, cfg *config.Config, dir string, logger zerolog.Logger) error {
	server, err := mcp.NewServer(cfg, dir, logger)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	logger.Info().Str("version", version).Str("root", dir).Msg("MCP server ready, listening on stdio")

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Serve(ctx)
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
		return server.Close()
	case err := <-errChan:
		return err
	}
}

func runIndex(ctx context.Context, cfg *config.Config, dir string, force bool, logger zerolog.Logger) error {
	ws, err := app.Open(ctx, cfg, dir, nil, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := ws.Close(); cerr != nil {
			logger.Error().Err(cerr).Msg("failed to close workspace")
		}
	}()

	progress := func(p indexer.Progress) {
		logger.Debug().
			Int("current", p.Current).
			Int("total", p.Total).
			Str("file", p.CurrentFile).
			Str("status", p.Status).
			Msg("index progress")
	}

	result, err := ws.Indexer.IndexDirectory(ctx, ws.Root, progress, indexer.Options{
		ForceReindex: force,
		PruneMissing: true,
	})
	if result != nil {
		for _, msg := range result.Errors {
			logger.Warn().Str("detail", msg).Msg("file not indexed")
		}
		fmt.Printf("indexed %d, skipped %d, removed %d, failed %d in %s\n",
			result.Indexed, result.Skipped, result.Removed, len(result.Errors), result.Duration.Round(time.Millisecond))
		if result.IndexFull {
			fmt.Println("index is full; remaining files were skipped")
		}
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func runSearch(ctx context.Context, cfg *config.Config, dir, query string, limit int, logger zerolog.Logger) error {
	ws, err := app.Open(ctx, cfg, dir, nil, logger)
	if err != nil {
		return err
	}
	defer func() { _ = ws.Close() }()

	resp, err := ws.Searcher.Search(ctx, searcher.Request{Query: query, Limit: limit})
	if err != nil {
		return err
	}

	for i, r := range resp.Results {
		fmt.Printf("%d. %s (%.3f)\n", i+1, r.FilePath, r.Score)
		fmt.Println(indent(r.Text))
	}
	if len(resp.Results) == 0 {
		fmt.Println("no results")
	}
	return nil
}

func indent(text string) string {
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = "    " + l
	}
	return strings.Join(lines, "\n")
}
