package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/inkquest/inkquest/config"
	"github.com/inkquest/inkquest/internal/infrastructure/persistence/redis"
	"github.com/inkquest/inkquest/internal/infrastructure/scheduler"
	"github.com/inkquest/inkquest/internal/infrastructure/scheduler/jobs"
	apihttp "github.com/inkquest/inkquest/internal/interface/http"
	"github.com/inkquest/inkquest/internal/interface/http/handlers"
)

var withScheduler bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Run the HTTP API. With --with-scheduler (or SCHEDULER_ENABLED=true) the
background jobs run in the same process.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		log.Info("starting inkquest API",
			"version", cfg.App.Version,
			"env", cfg.App.Environment,
			"store", cfg.Store,
		)

		a, err := buildApp(ctx, cfg, log)
		if err != nil {
			return err
		}

		// ─────────────────────────────────────────────────────────────────────
		// HTTP SERVER
		// ─────────────────────────────────────────────────────────────────────
		server := apihttp.NewServer(apihttp.Config{
			Addr:            cfg.HTTP.Addr,
			ReadTimeout:     cfg.HTTP.ReadTimeout,
			WriteTimeout:    cfg.HTTP.WriteTimeout,
			IdleTimeout:     cfg.HTTP.IdleTimeout,
			BodyLimit:       cfg.HTTP.BodyLimit,
			ShutdownTimeout: cfg.App.ShutdownTimeout,
			Version:         cfg.App.Version,
		}, apihttp.Dependencies{
			API: handlers.ProgressionAPI{
				GetLevel:         a.getLevel,
				ListAchievements: a.listAch,
				AwardXP:          a.awardXP,
				ResetStats:       a.resetStats,
				Evaluator:        a.flow,
			},
			AdminKeyHash:  cfg.Admin.KeyHash,
			HealthChecker: a.health,
			Logger:        log,
		})
		if cfg.Admin.KeyHash == "" {
			log.Warn("ADMIN_KEY_HASH is not set, admin endpoints will reject every request")
		}

		var sched *scheduler.Scheduler
		if withScheduler || cfg.Scheduler.Enabled {
			sched, err = buildScheduler(a)
			if err != nil {
				a.close(context.Background())
				return err
			}
			sched.Start()
		}

		// Run returns once the listener fails or the signal arrives and
		// in-flight requests are drained.
		serveErr := server.Run(ctx)
		if serveErr != nil {
			log.Error("HTTP server failed", "error", serveErr)
		}

		shutdownCtx, cancel := a.shutdownContext()
		defer cancel()
		if sched != nil {
			if err := sched.Stop(); err != nil {
				log.Error("failed to stop scheduler", "error", err)
			}
		}
		a.close(shutdownCtx)

		log.Info("inkquest API stopped")
		return serveErr
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the background jobs",
	Long: `Run the evaluation sweep and the level repair jobs. When Redis is
available every tick takes a distributed lock, so several workers can run
side by side.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		log.Info("starting inkquest worker",
			"version", cfg.App.Version,
			"env", cfg.App.Environment,
			"timezone", cfg.App.Timezone,
		)

		a, err := buildApp(ctx, cfg, log)
		if err != nil {
			return err
		}

		sched, err := buildScheduler(a)
		if err != nil {
			a.close(context.Background())
			return err
		}
		if len(sched.Jobs()) == 0 {
			log.Warn("every job is disabled by feature flags, the worker will idle")
		}
		sched.Start()
		log.Info("worker is running", "jobs", sched.Jobs())

		<-ctx.Done()
		log.Info("received shutdown signal")

		shutdownCtx, cancel := a.shutdownContext()
		defer cancel()

		if err := sched.Stop(); err != nil {
			log.Error("failed to stop scheduler", "error", err)
		}
		a.close(shutdownCtx)

		log.Info("worker stopped")
		return nil
	},
}

func init() {
	serveCmd.Flags().BoolVar(&withScheduler, "with-scheduler", false, "also run the background jobs")
}

// buildScheduler registers the jobs enabled by feature flags.
func buildScheduler(a *app) (*scheduler.Scheduler, error) {
	sc := a.cfg.Scheduler

	schedConfig := scheduler.Config{
		Logger:     a.log,
		Location:   a.cfg.App.Location,
		JobTimeout: sc.JobTimeout,
	}
	if a.cache != nil {
		schedConfig.Locker = redis.NewLocker(a.cache, sc.LockTTL)
	}

	sched, err := scheduler.New(schedConfig)
	if err != nil {
		return nil, err
	}

	flags := a.cfg.Features
	var registerErr error

	if flags.IsEnabled(config.FeatureJobsEvaluationSweep) {
		sweep := jobs.NewEvaluationSweepJob(a.store, a.flow, a.log, jobs.EvaluationSweepConfig{
			Lookback:  sc.SweepLookback,
			BatchSize: sc.SweepBatchSize,
		})
		registerErr = errors.Join(registerErr, sched.Register(sweep, sc.SweepInterval))
	}

	if flags.IsEnabled(config.FeatureJobsLevelRepair) {
		var invalidator jobs.LevelCacheInvalidator
		if a.levelCache != nil {
			invalidator = a.levelCache
		}
		repair := jobs.NewLevelRepairJob(a.store, invalidator, a.log, sc.RepairBatch)
		registerErr = errors.Join(registerErr, sched.Register(repair, sc.RepairInterval))
	}

	if registerErr != nil {
		_ = sched.Stop()
		return nil, fmt.Errorf("failed to register jobs: %w", registerErr)
	}
	return sched, nil
}
