package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/cuongbtq/tickqueue/internal/api/handler"
	"github.com/cuongbtq/tickqueue/internal/api/router"
	"github.com/cuongbtq/tickqueue/internal/config"
	"github.com/cuongbtq/tickqueue/internal/events"
	"github.com/cuongbtq/tickqueue/internal/intake"
	"github.com/cuongbtq/tickqueue/internal/jobqueue"
	"github.com/cuongbtq/tickqueue/internal/jobs"
	"github.com/cuongbtq/tickqueue/internal/scheduler"
	"github.com/cuongbtq/tickqueue/internal/storage"
	"github.com/cuongbtq/tickqueue/internal/tracelog"
	"github.com/cuongbtq/tickqueue/shared/database"
	"github.com/cuongbtq/tickqueue/shared/logger"
	"github.com/cuongbtq/tickqueue/shared/rabbitmq"
)

const hubBuffer = 64

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

// closer is a sink or client released during shutdown
type closer interface {
	Close() error
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("SCHEDULER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/scheduler-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting scheduler service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	dbClient, err := initDatabase(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	store := storage.NewStore(dbClient.GetDB(), appLogger.Logger)
	if err := store.Migrate(context.Background()); err != nil {
		return fmt.Errorf("failed to migrate job store: %w", err)
	}

	appLogger.Info("Job store ready", slog.String("driver", dbClient.Driver()))

	// sinks are closed in reverse order after the driver has stopped
	var closers []closer
	recorder := storage.NewRecorder(store, cfg.Database.WriteBuffer, appLogger.Logger)
	closers = append(closers, recorder)

	hub := events.NewHub(hubBuffer, appLogger.Logger)
	opts := []scheduler.Option{
		scheduler.WithSink(recorder),
		scheduler.WithSink(hub),
	}

	var rabbitClient *rabbitmq.Client
	if cfg.RabbitMQ.Enabled {
		rabbitClient, err = initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		defer rabbitClient.Close()

		appLogger.Info("RabbitMQ connection established")

		publisher := events.NewPublisher(rabbitClient, cfg.RabbitMQ.EventsRoutingKey, cfg.RabbitMQ.Publish.Buffer, appLogger.Logger)
		closers = append(closers, publisher)
		opts = append(opts, scheduler.WithSink(publisher))
	}

	if cfg.Trace.Enabled {
		tracer := tracelog.NewTracer(tracelog.NewWriter(cfg.Trace.Dir, cfg.Trace.Prefix), cfg.Trace.Buffer, appLogger.Logger)
		closers = append(closers, tracer)
		opts = append(opts, scheduler.WithObserver(tracer))

		appLogger.Info("Tick trace enabled", slog.String("dir", cfg.Trace.Dir))
	}

	registry, err := jobs.DefaultRegistry(cfg.Scheduler.Routes)
	if err != nil {
		return fmt.Errorf("failed to build job registry: %w", err)
	}

	driver, err := scheduler.New(schedulerConfig(&cfg.Scheduler), registry, appLogger.Logger, opts...)
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	errChan := make(chan error, 2)

	driverDone := make(chan struct{})
	go func() {
		defer close(driverDone)
		if err := driver.Run(ctx); err != nil {
			errChan <- fmt.Errorf("scheduler stopped: %w", err)
		}
	}()

	// the consumer stops before the driver so no submission lands after the inbox is drained
	consumerCtx, stopConsumer := context.WithCancel(ctx)
	defer stopConsumer()

	if rabbitClient != nil {
		consumer := intake.NewConsumer(&intake.Config{
			Logger:      appLogger.Logger,
			Source:      rabbitClient,
			Submitter:   driver,
			ConsumerTag: cfg.RabbitMQ.Consumer.Tag,
			Concurrency: cfg.RabbitMQ.Consumer.Concurrency,
		})

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := consumer.Start(consumerCtx); err != nil {
				errChan <- err
			}
		}()
	}

	deps := &handler.Dependencies{
		Logger:    appLogger.Logger,
		Scheduler: driver,
		Store:     store,
		DBClient:  dbClient,
		Events:    hub,
		Kinds:     registry.Kinds(),
		RateLimit: cfg.API.RateLimit,
		RateBurst: cfg.API.RateBurst,
	}
	if rabbitClient != nil {
		deps.Broker = rabbitClient
	}
	r := initRouter(cfg, deps)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("server failed: %w", err)
		}
	}()

	appLogger.Info("Scheduler service is running",
		slog.String("address", addr),
		slog.Duration("tick_interval", cfg.Scheduler.TickInterval),
		slog.Int("queues", len(cfg.Scheduler.Queues)),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case runErr = <-errChan:
		appLogger.Error("Service error", slog.Any("error", runErr))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// websocket connections are hijacked, so the hub closes them itself
	hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Server forced to shutdown", slog.Any("error", err))
	}

	stopConsumer()
	wg.Wait()

	cancel()
	select {
	case <-driverDone:
	case <-shutdownCtx.Done():
		appLogger.Warn("Scheduler shutdown timeout exceeded")
	}

	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil {
			appLogger.Error("Failed to close sink", slog.Any("error", err))
		}
	}

	stats := driver.Stats()
	appLogger.Info("Scheduler service shutdown complete",
		slog.Uint64("ticks", stats.Ticks),
		slog.Uint64("dropped_records", recorder.Dropped()),
	)
	return runErr
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// initDatabase initializes the job store database client
func initDatabase(cfg *config.DatabaseConfig, logger *slog.Logger) (*database.Client, error) {
	dbConfig := &database.Config{
		Driver:          cfg.Driver,
		Path:            cfg.Path,
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}

	return database.NewClient(dbConfig, logger)
}

// initRabbitMQ initializes the RabbitMQ client
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	return rabbitmq.NewClient(rabbitConfig(cfg), logger)
}

func rabbitConfig(cfg *config.RabbitMQConfig) *rabbitmq.Config {
	return &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
		PrefetchCount:      cfg.Consumer.PrefetchCount,
	}
}

// schedulerConfig maps queue settings onto the tick driver
func schedulerConfig(cfg *config.SchedulerConfig) scheduler.Config {
	queues := make([]scheduler.QueueSpec, len(cfg.Queues))
	for i, q := range cfg.Queues {
		yield := jobqueue.YieldRetry
		if q.Yield == config.YieldRotate {
			yield = jobqueue.YieldRotate
		}
		queues[i] = scheduler.QueueSpec{
			Name:      q.Name,
			MaxTime:   q.MaxTime,
			Priority:  q.Priority,
			Yield:     yield,
			MaxLength: q.MaxLength,
		}
	}

	return scheduler.Config{
		TickInterval: cfg.TickInterval,
		InboxSize:    cfg.InboxSize,
		Retention:    cfg.Retention,
		Queues:       queues,
	}
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(cfg *config.Config, deps *handler.Dependencies) *gin.Engine {
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	return router.SetupRouter(deps)
}
