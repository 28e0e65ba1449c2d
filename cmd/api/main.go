// Package main is the entry point for the emobridge server.
//
// One process owns everything: the in-memory command queue, the scheduler
// loop that promotes schedule entries into speak commands, the optional SQS
// intake consumer, the optional CloudWatch publisher and the HTTP server the
// unit polls. All of them run under one errgroup and stop together on
// SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"emobridge/internal/api/handlers"
	"emobridge/internal/config"
	"emobridge/internal/core"
	"emobridge/internal/db"
	"emobridge/internal/metrics"
	"emobridge/internal/queue"
	"emobridge/internal/schedule"
	"emobridge/internal/scheduler"
	"emobridge/internal/types"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("emobridge starting",
		"environment", cfg.Environment,
		"build", cfg.Build.String(),
		"port", cfg.Server.Port,
		"schedule_source", cfg.Schedule.Source,
		"timezone", cfg.Schedule.Location.String(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.run(ctx); err != nil {
		return err
	}
	logger.Info("server stopped cleanly")
	return nil
}

// app is the fully wired process.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	queue   *queue.CommandQueue
	store   schedule.Store
	loop    *scheduler.Loop
	server  *core.Server
	intake  *queue.IntakeConsumer        // nil unless SQS_INTAKE_QUEUE_URL is set
	metrics *metrics.CloudWatchCollector // nil unless METRICS_ENABLED
	pool    *pgxpool.Pool                // nil unless SCHEDULE_SOURCE=postgres
}

// awsClients is the AWS surface newApp needs. Tests replace it.
type awsClients struct {
	sqs        queue.SQSReceiver
	cloudwatch metrics.CloudWatchClient
}

// newApp wires every component. AWS clients are built only when a feature
// that needs them is enabled.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	var clients awsClients
	if cfg.AWS.IntakeQueueURL != "" || cfg.Observability.MetricsEnabled {
		awsCfg, err := loadAWSConfig(ctx, cfg.AWS)
		if err != nil {
			return nil, err
		}
		clients = newAWSClients(awsCfg, cfg.AWS.EndpointURL)
	}
	return assemble(ctx, cfg, logger, clients)
}

// assemble builds the app from already-constructed external clients.
func assemble(ctx context.Context, cfg *config.Config, logger *slog.Logger, clients awsClients) (*app, error) {
	a := &app{cfg: cfg, logger: logger, queue: queue.NewCommandQueue()}

	store, pool, err := openScheduleStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.store = store
	a.pool = pool

	var collector metrics.Collector = metrics.Nop{}
	if cfg.Observability.MetricsEnabled && clients.cloudwatch != nil {
		a.metrics = metrics.NewCloudWatchCollector(
			clients.cloudwatch,
			cfg.Observability.MetricNamespace,
			cfg.Observability.FlushInterval,
			logger.With("component", "metrics"),
		)
		collector = a.metrics
	}

	a.loop, err = scheduler.NewLoop(scheduler.LoopConfig{
		Store:           store,
		Sink:            a.queue,
		Clock:           types.RealClock{},
		Location:        cfg.Schedule.Location,
		TickInterval:    cfg.Schedule.TickInterval,
		RefreshInterval: cfg.Schedule.RefreshInterval,
		Metrics:         collector,
		Logger:          logger.With("component", "scheduler"),
	})
	if err != nil {
		a.close()
		return nil, fmt.Errorf("creating scheduler loop: %w", err)
	}

	if cfg.AWS.IntakeQueueURL != "" && clients.sqs != nil {
		a.intake = queue.NewIntakeConsumer(
			clients.sqs,
			a.queue,
			queue.IntakeConfigFromAWS(cfg.AWS),
			logger.With("component", "sqs_intake"),
		)
	}

	a.server, err = core.NewServer(cfg, logger)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("creating server: %w", err)
	}
	a.server.Metrics = collector

	if cfg.Security.IntakeTokenHash.IsSet() {
		auth, err := core.NewBcryptAuthenticator(cfg.Security.IntakeTokenHash.Unmask())
		if err != nil {
			a.close()
			return nil, fmt.Errorf("configuring intake auth: %w", err)
		}
		a.server.Authenticator = auth
	} else {
		logger.Warn("INTAKE_TOKEN_HASH not set; /v1 intake routes are unauthenticated")
	}

	a.server.HealthProbes = a.healthProbes()

	updates := handlers.NewUpdatesHandler(a.queue, collector, logger)
	commands := handlers.NewCommandHandler(a.queue, a.server.Validator, logger)
	admin := handlers.NewScheduleHandler(store, a.loop, a.server.Validator, cfg.Schedule.Location, logger)

	a.server.RootRouteRegistrars = append(a.server.RootRouteRegistrars, updates.RegisterRoutes)
	a.server.V1RouteRegistrars = append(a.server.V1RouteRegistrars,
		commands.RegisterRoutes,
		admin.RegisterRoutes,
	)
	a.server.MountRoutes()

	return a, nil
}

// healthProbes reports the schedule source, the loop and, with postgres, the
// database. The poll endpoint does not depend on any of them.
func (a *app) healthProbes() []core.HealthProbe {
	probes := []core.HealthProbe{
		core.NewProbe("schedule_source", func(ctx context.Context) error {
			_, err := a.store.Load(ctx)
			return err
		}),
		core.NewProbe("scheduler", func(ctx context.Context) error {
			st := a.loop.Status()
			if st.LastTick.IsZero() {
				return errors.New("scheduler has not ticked yet")
			}
			if lag := time.Since(st.LastTick); lag > staleTickThreshold(a.cfg.Schedule.TickInterval) {
				return fmt.Errorf("last tick %s ago", lag.Truncate(time.Second))
			}
			return nil
		}),
	}
	if a.pool != nil {
		probes = append(probes, core.NewProbe("database", a.pool.Ping))
	}
	return probes
}

// staleTickThreshold is how long the loop may go without ticking before it is
// reported unhealthy.
func staleTickThreshold(tick time.Duration) time.Duration {
	return max(10*tick, 30*time.Second)
}

// run starts every component and blocks until ctx is cancelled or one of
// them fails. The HTTP server is shut down gracefully in both cases.
func (a *app) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	httpServer := a.server.HTTPServer()

	g.Go(func() error { return a.loop.Run(gctx) })

	if a.intake != nil {
		g.Go(func() error { return a.intake.Run(gctx) })
	}
	if a.metrics != nil {
		g.Go(func() error { return a.metrics.Run(gctx) })
	}

	g.Go(func() error {
		a.logger.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("initiating graceful shutdown")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("HTTP server shutdown error", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	if pending := a.queue.Len(); pending > 0 {
		a.logger.Warn("discarding undelivered commands", "count", pending)
	}
	return nil
}

func (a *app) close() {
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
}

// openScheduleStore returns the configured schedule source. With postgres it
// also returns the pool so the caller can close it and probe it.
func openScheduleStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (schedule.Store, *pgxpool.Pool, error) {
	switch cfg.Schedule.Source {
	case config.ScheduleSourcePostgres:
		pool, err := db.NewPool(ctx, cfg.Database)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to database: %w", err)
		}
		repo := db.NewScheduleRepository(pool, db.ScheduleRepositoryConfig{
			Location:     cfg.Schedule.Location,
			Clock:        types.RealClock{},
			FirstOffset:  cfg.Schedule.BootstrapFirstOffset,
			SecondOffset: cfg.Schedule.BootstrapSecondOffset,
			Logger:       logger.With("component", "schedule_store"),
		})
		logger.Info("schedule source selected", "source", repo.String())
		return repo, pool, nil

	default:
		store := schedule.NewCSVStore(schedule.CSVConfig{
			Path:         cfg.Schedule.CSVPath,
			Location:     cfg.Schedule.Location,
			FirstOffset:  cfg.Schedule.BootstrapFirstOffset,
			SecondOffset: cfg.Schedule.BootstrapSecondOffset,
			Clock:        types.RealClock{},
			Logger:       logger.With("component", "schedule_store"),
		})
		logger.Info("schedule source selected", "source", "csv", "path", store.Path())
		return store, nil, nil
	}
}

// loadAWSConfig loads the default AWS SDK configuration for the configured
// region.
func loadAWSConfig(ctx context.Context, cfg config.AWSConfig) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("loading AWS config: %w", err)
	}
	return awsCfg, nil
}

// newAWSClients builds the SQS and CloudWatch clients. A non-empty endpoint
// (LocalStack) overrides the service endpoints.
func newAWSClients(awsCfg aws.Config, endpoint string) awsClients {
	sqsClient := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	cwClient := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return awsClients{sqs: sqsClient, cloudwatch: cwClient}
}

// newLogger creates a structured slog.Logger configured for the given log level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
