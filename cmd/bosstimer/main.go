package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"go.opentelemetry.io/otel/attribute"

	"github.com/jensholdgaard/bosstimer/internal/boss"
	"github.com/jensholdgaard/bosstimer/internal/clock"
	"github.com/jensholdgaard/bosstimer/internal/config"
	"github.com/jensholdgaard/bosstimer/internal/kv"
	"github.com/jensholdgaard/bosstimer/internal/record"
	"github.com/jensholdgaard/bosstimer/internal/telemetry"
	"github.com/jensholdgaard/bosstimer/internal/tracker"

	// Register storage drivers so they are available via kv.Open.
	_ "github.com/jensholdgaard/bosstimer/internal/kv/memory"
	_ "github.com/jensholdgaard/bosstimer/internal/kv/postgres"
	_ "github.com/jensholdgaard/bosstimer/internal/kv/redis"
	_ "github.com/jensholdgaard/bosstimer/internal/kv/sqlite"
)

var version = "dev"

const usage = `usage: bosstimer [-config path] <command> [flags]

commands:
  bosses    list the boss catalog
  respawn   predict a respawn without recording a kill
  add       record a kill
  update    change a recorded kill
  delete    remove a recorded kill
  list      list kills with filters and sorting
  today     list today's kills of one boss
  board     show every boss with its latest kill and respawn status
  purge     apply the retention cap
  export    write every record as a JSON snapshot
  import    merge a JSON snapshot
  migrate   move records out of the legacy single-key layout
  watch     report respawn status changes until interrupted
  version   print the version
`

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		slog.Error("fatal error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("bosstimer", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprint(stderr, usage)
		fs.PrintDefaults()
	}
	configPath := fs.String("config", "", "path to configuration file (built-in defaults when empty)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return flag.ErrHelp
	}

	name, rest := fs.Arg(0), fs.Args()[1:]
	if name == "version" {
		fmt.Fprintln(stdout, version)
		return nil
	}
	cmd, ok := commands[name]
	if !ok {
		fs.Usage()
		return fmt.Errorf("unknown command %q", name)
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
	}
	if cfg.Telemetry.ServiceVersion == "" {
		cfg.Telemetry.ServiceVersion = version
	}

	tp, err := telemetry.New(ctx, cfg.Telemetry,
		attribute.String("bosstimer.storage.driver", cfg.Storage.Driver),
		attribute.String("bosstimer.storage.partition", cfg.Storage.Partition),
	)
	if err != nil {
		slog.Warn("telemetry setup failed, continuing without OTEL export", slog.Any("error", err))
		tp = telemetry.NewNopProvider()
		tp.Logger = telemetry.NewLogger(stderr, cfg.Telemetry.LogLevel)
	}
	defer func() {
		if shutdownErr := tp.Shutdown(context.Background()); shutdownErr != nil {
			slog.Error("telemetry shutdown error", slog.Any("error", shutdownErr))
		}
	}()

	a, err := open(ctx, cfg, tp, stdout)
	if err != nil {
		return err
	}
	defer a.close()

	return cmd(ctx, a, rest)
}

// app is what every command runs against.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	clock   clock.Clock
	backend kv.Backend
	store   *record.Store
	catalog *boss.Catalog
	tracker *tracker.Manager
	tp      *telemetry.Provider
	out     io.Writer
}

func open(ctx context.Context, cfg *config.Config, tp *telemetry.Provider, out io.Writer) (*app, error) {
	logger := tp.Logger

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	clk := clock.In(clock.Real{}, loc)

	catalog, err := boss.Load(cfg.Catalog.Path)
	if err != nil {
		return nil, fmt.Errorf("loading boss catalog: %w", err)
	}

	backend, err := kv.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("opening storage (driver=%s): %w", cfg.Storage.Driver, err)
	}
	logger.DebugContext(ctx, "storage opened", slog.String("driver", cfg.Storage.Driver))

	store, err := record.NewStore(backend,
		record.WithPrefix(cfg.Storage.KeyPrefix),
		record.WithPartitionMode(record.PartitionMode(cfg.Storage.Partition)),
		record.WithLocation(loc),
		record.WithMaxPerBoss(cfg.Storage.MaxPerBoss),
		record.WithClock(clk),
		record.WithLogger(logger),
		record.WithTracerProvider(tp.TracerProvider),
		record.WithMeterProvider(tp.MeterProvider),
	)
	if err != nil {
		backend.Close()
		return nil, fmt.Errorf("creating record store: %w", err)
	}

	if cfg.Storage.LegacyKey != "" {
		res, err := store.MigrateLegacy(ctx, cfg.Storage.LegacyKey)
		if err != nil {
			logger.ErrorContext(ctx, "legacy migration failed, legacy records left in place",
				slog.String("key", cfg.Storage.LegacyKey),
				slog.Any("error", err),
			)
		} else if res.Imported > 0 {
			logger.InfoContext(ctx, "migrated legacy records", slog.Int("count", res.Imported))
		}
	}

	return &app{
		cfg:     cfg,
		logger:  logger,
		clock:   clk,
		backend: backend,
		store:   store,
		catalog: catalog,
		tracker: tracker.NewManager(store, catalog, clk, logger, tp.TracerProvider),
		tp:      tp,
		out:     out,
	}, nil
}

func (a *app) close() {
	if err := a.backend.Close(); err != nil {
		a.logger.Error("closing storage", slog.Any("error", err))
	}
}
