package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cadre-io/cadre/internal/config"
	"github.com/cadre-io/cadre/internal/domain/agent"
	"github.com/cadre-io/cadre/internal/domain/work"
	"github.com/cadre-io/cadre/internal/health"
	"github.com/cadre-io/cadre/internal/ids"
	"github.com/cadre-io/cadre/internal/pattern"
	"github.com/cadre-io/cadre/internal/sqlite"
	"github.com/cadre-io/cadre/internal/store"
	"github.com/cadre-io/cadre/internal/telemetry"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// app holds the wired runtime shared by all subcommands.
type app struct {
	cfg     config.Config
	logger  *slog.Logger
	store   *store.Store
	ids     *ids.Generator
	emitter telemetry.Emitter
	breaker *health.Breaker
	agents  *agent.Service
	work    *work.Service
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Log.Level),
	}))

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	writerID := fmt.Sprintf("%s-%d", hostname, os.Getpid())

	emitter := telemetry.NewSlogEmitter(logger)
	breaker := health.NewBreaker(cfg.Breaker.FailureThreshold, cfg.Breaker.RecoveryTimeout)
	st, err := store.New(cfg.Data.Dir, writerID, logger,
		store.WithLockPolicy(store.LockPolicy{
			Retries:    cfg.Lock.Retries,
			Backoff:    cfg.Lock.Backoff,
			BackoffCap: cfg.Lock.BackoffCap,
			Timeout:    cfg.Lock.Timeout,
		}),
		store.WithBreaker(breaker),
		store.WithEmitter(emitter),
	)
	if err != nil {
		return nil, err
	}

	gen := ids.NewGenerator()
	agents := agent.NewService(st, gen, emitter, logger, cfg.Agents.Max, cfg.Agents.HeartbeatTimeout)
	workSvc := work.NewService(st, gen, agents, emitter, logger, cfg.Work.MaxAttempts, cfg.Work.ClaimTTL)

	return &app{
		cfg:     cfg,
		logger:  logger,
		store:   st,
		ids:     gen,
		emitter: emitter,
		breaker: breaker,
		agents:  agents,
		work:    workSvc,
	}, nil
}

// engine builds the pattern engine for a kind.
func (a *app) engine(kind pattern.Kind) pattern.Coordinator {
	switch kind {
	case pattern.KindRealtime:
		return pattern.NewRealtimeEngine(a.store, a.ids, a.emitter, a.logger,
			a.cfg.Realtime.FlushInterval, a.cfg.Realtime.BatchSize, a.cfg.Realtime.LatencyBudget)
	case pattern.KindScrum:
		return pattern.NewScrumEngine(a.store, a.work, a.ids, a.emitter, a.logger,
			a.cfg.Teams.MinSize, a.cfg.Teams.MaxSize, a.cfg.Teams.ScaleThreshold)
	case pattern.KindRoberts:
		return a.roberts()
	default:
		return pattern.NewAtomicEngine(a.store, a.work, a.ids, a.emitter, a.logger)
	}
}

func (a *app) roberts() *pattern.RobertsEngine {
	return pattern.NewRobertsEngine(a.store, a.ids, a.agents, a.work, a.emitter, a.logger,
		a.cfg.Quorum.Minimum, a.cfg.Quorum.Percent)
}

// openArchive opens the SQLite archive and ensures its schema.
func (a *app) openArchive() (*sqlite.DB, *sqlite.ArchiveRepository, error) {
	if dir := filepath.Dir(a.cfg.Archive.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("prepare archive path: %w", err)
		}
	}
	db, err := sqlite.New(a.cfg.Archive.Path)
	if err != nil {
		return nil, nil, err
	}
	if err := db.RunMigrations(); err != nil {
		db.Close()
		return nil, nil, err
	}
	return db, sqlite.NewArchiveRepository(db), nil
}

// participants resolves the coordination participants: explicit args win,
// otherwise every registered agent that is not offline.
func (a *app) participants(cmd *cobra.Command, args []string) ([]string, error) {
	if len(args) > 0 {
		return args, nil
	}
	all, err := a.agents.List(cmd.Context())
	if err != nil {
		return nil, err
	}
	var out []string
	for _, ag := range all {
		if ag.Status != agent.StatusOffline {
			out = append(out, ag.ID)
		}
	}
	return out, nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "cadre",
		Short:         "File-based multi-agent work coordination",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newAgentCmd(),
		newWorkCmd(),
		newCoordinateCmd(),
		newMotionCmd(),
		newSweepCmd(),
		newDaemonCmd(),
		newHealthCmd(),
		newArchiveCmd(),
	)
	return root
}
