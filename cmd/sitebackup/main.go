package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/Sternrassler/sitebackup/pkg/checkpoint"
	"github.com/Sternrassler/sitebackup/pkg/config"
	"github.com/Sternrassler/sitebackup/pkg/logging"
	"github.com/alecthomas/kong"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

func main() {
	ctx := context.Background()

	// A missing .env file is fine.
	_ = godotenv.Load()

	m := NewMain()
	code, err := m.Run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	os.Exit(code)
}

// Main represents the program.
type Main struct {
	// Exit and Signals are handed to the task runner. Nil means os.Exit and
	// SIGINT/SIGTERM.
	Exit    func(int)
	Signals <-chan os.Signal

	redis *redis.Client
}

// NewMain returns a new instance of Main with defaults.
func NewMain() *Main {
	return &Main{Exit: os.Exit}
}

// Close releases resources opened by Run.
func (m *Main) Close() error {
	if m.redis != nil {
		return m.redis.Close()
	}
	return nil
}

// Run executes the CLI with the given arguments and returns the process exit
// code.
func (m *Main) Run(ctx context.Context, args []string, stdout, stderr io.Writer) (int, error) {
	deps := &Dependencies{
		Ctx:     ctx,
		Stdout:  stdout,
		Stderr:  stderr,
		Exit:    m.Exit,
		Signals: m.Signals,
	}

	cli := &CLI{}
	parser, err := kong.New(cli,
		kong.Name("sitebackup"),
		kong.Description("Back up a community site through its JSON-RPC API, resuming interrupted runs."),
		kong.Writers(stdout, stderr),
		kong.Exit(func(int) {}), // Don't exit on help
		kong.Bind(deps),
	)
	if err != nil {
		return 1, fmt.Errorf("failed to create parser: %w", err)
	}

	if len(args) == 0 {
		_, _ = parser.Parse([]string{"--help"})
		return 1, fmt.Errorf("no command specified. Run 'sitebackup --help' to see available commands")
	}
	if args[0] == "help" || args[0] == "--help" || args[0] == "-h" {
		_, _ = parser.Parse([]string{"--help"})
		return 0, nil
	}

	kongCtx, err := parser.Parse(args)
	if err != nil {
		return 1, err
	}

	cfg, err := config.Load(cli.Config)
	if err != nil {
		fmt.Fprintf(stderr, "Hint: pass --config or set SITEBACKUP_CONFIG\n")
		return 1, err
	}
	deps.Config = cfg

	level := logging.LogLevel(cfg.Logging.Level)
	if cli.Run.Debug {
		level = logging.LevelDebug
	}
	deps.Logger = logging.Setup(logging.Config{
		Level:  level,
		Pretty: cfg.Logging.Pretty,
		Output: stderr,
		RunID:  uuid.New().String(),
	})

	defer m.Close()
	store, err := m.openStore(ctx, cfg.Checkpoint)
	if err != nil {
		return 1, err
	}
	deps.Store = store

	if err := kongCtx.Run(deps); err != nil {
		return 1, err
	}
	return deps.Code, nil
}

func (m *Main) openStore(ctx context.Context, cfg config.CheckpointConfig) (checkpoint.Store, error) {
	if cfg.Backend != "redis" {
		store, err := checkpoint.NewFileStore(cfg.Dir)
		if err != nil {
			return nil, err
		}
		return store, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid checkpoint.redis_url: %w", err)
	}
	m.redis = redis.NewClient(opts)
	if err := m.redis.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return checkpoint.NewRedisStore(m.redis, cfg.Prefix), nil
}
