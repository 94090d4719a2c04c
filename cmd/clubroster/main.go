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

	"github.com/hibiken/asynq"

	"github.com/clubroster/clubroster/cmd/clubroster/cli"
	"github.com/clubroster/clubroster/internal/app"
	"github.com/clubroster/clubroster/internal/club"
	lifecyclehttp "github.com/clubroster/clubroster/internal/lifecycle/http"
	"github.com/clubroster/clubroster/internal/members"
	"github.com/clubroster/clubroster/internal/observability"
	"github.com/clubroster/clubroster/jobs"
)

const usage = `usage: clubroster [command]

commands:
  serve                       run the HTTP API (default)
  timeline --member ID [--json]
                              print a member's lifecycle timeline
  jobs trigger [--task T]     enqueue status-refresh (--lookback N) or idempotency-cleanup (--retention D)
  jobs stats                  show default queue counters
`

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	args := os.Args[1:]
	command := "serve"
	if len(args) > 0 {
		command, args = args[0], args[1:]
	}
	switch command {
	case "serve":
		if err := serve(ctx, cfg, logger); err != nil {
			logger.Error("serve", slog.Any("error", err))
			os.Exit(1)
		}
	case "timeline":
		os.Exit(runTimeline(ctx, cfg, logger, args))
	case "jobs":
		os.Exit(runJobs(ctx, cfg, args))
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
}

func serve(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	metrics := observability.NewMetrics()
	rt, err := app.Bootstrap(ctx, cfg, logger, metrics)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logger.Warn("close runtime", slog.Any("error", err))
		}
	}()

	var jobHandler *jobs.Handler
	if rt.Redis != nil {
		inspector := asynq.NewInspector(cfg.Redis().Queue())
		defer func() {
			if err := inspector.Close(); err != nil {
				logger.Warn("inspector close", slog.Any("error", err))
			}
		}()
		jobsClient := jobs.NewClient(cfg.Redis().Queue())
		defer func() {
			if err := jobsClient.Close(); err != nil {
				logger.Warn("jobs client close", slog.Any("error", err))
			}
		}()
		jobHandler = jobs.NewHandler(inspector, jobsClient, logger)
	}

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		ClubHandler:      club.NewHandler(logger, rt.Club),
		MembersHandler:   members.NewHandler(logger, rt.Members),
		LifecycleHandler: lifecyclehttp.NewHandler(logger, rt.Engine, rt.Idempotency),
		JobHandler:       jobHandler,
		Metrics:          metrics,
		Checks:           rt.Checks,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("driver", cfg.DBDriver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func runTimeline(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string) int {
	fs := flag.NewFlagSet("timeline", flag.ContinueOnError)
	memberID := fs.String("member", "", "member id")
	asJSON := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	rt, err := app.Bootstrap(ctx, cfg, logger, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "timeline: %v\n", err)
		return 1
	}
	defer rt.Close()
	return cli.TimelineCommand(ctx, rt.Engine, cli.TimelineOptions{MemberID: *memberID, JSONOutput: *asJSON})
}

func runJobs(ctx context.Context, cfg *app.Config, args []string) int {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return 2
	}
	jobsCLI, err := cli.NewJobsCLI(cfg.Redis().Queue())
	if err != nil {
		fmt.Fprintf(os.Stderr, "jobs: %v\n", err)
		return 1
	}
	defer jobsCLI.Close()

	switch args[0] {
	case "trigger":
		fs := flag.NewFlagSet("jobs trigger", flag.ContinueOnError)
		task := fs.String("task", "status-refresh", "status-refresh or idempotency-cleanup")
		lookback := fs.Int("lookback", cfg.StatusRefreshLookback, "status-refresh: days to scan back from today")
		retention := fs.Duration("retention", cfg.IdempotencyRetention, "idempotency-cleanup: keep keys newer than this")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		arg := *lookback
		if *task == "idempotency-cleanup" || *task == jobs.TaskIdempotencyCleanup {
			arg = int(retention.Hours())
		}
		info, err := jobsCLI.Trigger(ctx, *task, arg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "jobs trigger: %v\n", err)
			return 1
		}
		fmt.Printf("enqueued %s (%s) on %s\n", info.Type, info.ID, info.Queue)
	case "stats":
		stats, err := jobsCLI.InspectQueue(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "jobs stats: %v\n", err)
			return 1
		}
		fmt.Printf("%s: pending=%d active=%d scheduled=%d retry=%d\n", stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
		scheduled, err := jobsCLI.ListScheduled(ctx, 10)
		if err != nil {
			fmt.Fprintf(os.Stderr, "jobs stats: %v\n", err)
			return 1
		}
		for _, task := range scheduled {
			fmt.Printf("  %s %s at %s\n", task.ID, task.Type, task.NextProcessAt.Format(time.RFC3339))
		}
	default:
		fmt.Fprint(os.Stderr, usage)
		return 2
	}
	return 0
}
