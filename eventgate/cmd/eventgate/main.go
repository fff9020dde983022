package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/telhawk-systems/eventgate/common/logging"
	"github.com/telhawk-systems/eventgate/eventgate/internal/cache"
	"github.com/telhawk-systems/eventgate/eventgate/internal/config"
	"github.com/telhawk-systems/eventgate/eventgate/internal/consumer"
	"github.com/telhawk-systems/eventgate/eventgate/internal/digest"
	"github.com/telhawk-systems/eventgate/eventgate/internal/dispatcher"
	"github.com/telhawk-systems/eventgate/eventgate/internal/dlq"
	"github.com/telhawk-systems/eventgate/eventgate/internal/email"
	"github.com/telhawk-systems/eventgate/eventgate/internal/handlers"
	"github.com/telhawk-systems/eventgate/eventgate/internal/reclaim"
	"github.com/telhawk-systems/eventgate/eventgate/internal/repository"
	"github.com/telhawk-systems/eventgate/eventgate/internal/server"
	"github.com/telhawk-systems/eventgate/eventgate/internal/service"
	"github.com/telhawk-systems/eventgate/eventgate/migrations"

	natsclient "github.com/telhawk-systems/eventgate/common/messaging/nats"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize structured logging
	logger := logging.New(
		logging.ParseLevel(cfg.Logging.Level),
		cfg.Logging.Format,
	).With(logging.Service("eventgate"))
	logging.SetDefault(logger)

	slog.Info("Starting eventgate service",
		slog.Int("port", cfg.Server.Port),
		slog.String("log_level", cfg.Logging.Level),
		slog.String("log_format", cfg.Logging.Format),
	)
	if *configPath != "" {
		slog.Info("Loaded configuration", slog.String("config_path", *configPath))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		slog.Error("eventgate exited with error", logging.Error(err))
		os.Exit(1)
	}
	slog.Info("eventgate stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *logging.Logger) error {
	connString := cfg.Database.Postgres.ConnString()

	// Run database migrations
	slog.Info("Running database migrations")
	if err := migrations.Up(connString); err != nil {
		return err
	}

	store, err := repository.NewPostgresStore(ctx, connString, repository.PoolConfig{
		MaxConns: cfg.Database.Postgres.MaxConns,
		MinConns: cfg.Database.Postgres.MinConns,
	})
	if err != nil {
		return err
	}
	defer store.Close()
	slog.Info("Connected to PostgreSQL", slog.String("host", cfg.Database.Postgres.Host))

	js, err := natsclient.NewJetStreamClient(natsclient.Config{
		URL:           cfg.NATS.URL,
		Name:          cfg.NATS.Name,
		MaxReconnects: cfg.NATS.MaxReconnects,
		ReconnectWait: cfg.NATS.ReconnectWait,
		Timeout:       cfg.NATS.Timeout,
		Username:      cfg.NATS.Username,
		Password:      cfg.NATS.Password,
		Token:         cfg.NATS.Token,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := js.Drain(); err != nil {
			slog.Warn("Failed to drain NATS connection", logging.Error(err))
		}
	}()

	streamCfg := natsclient.EventsStream
	streamCfg.Name = cfg.Consumer.Stream
	if cfg.Consumer.FilterSubject != "" {
		streamCfg.Subjects = []string{cfg.Consumer.FilterSubject}
	}
	if _, err := js.CreateOrUpdateStream(ctx, streamCfg); err != nil {
		return err
	}
	if _, err := js.CreateOrUpdateConsumer(ctx, cfg.Consumer.Stream, natsclient.ConsumerConfig{
		Name:          cfg.Consumer.Durable,
		FilterSubject: cfg.Consumer.FilterSubject,
		AckWait:       cfg.Consumer.AckWait,
		MaxDeliver:    cfg.Consumer.MaxDeliver,
		MaxAckPending: cfg.Consumer.MaxPending,
	}); err != nil {
		return err
	}
	slog.Info("JetStream consumer ready",
		slog.String("stream", cfg.Consumer.Stream),
		slog.String("durable", cfg.Consumer.Durable),
		slog.String("filter", cfg.Consumer.FilterSubject),
	)

	var opts []service.Option
	healthOpts := []handlers.Option{handlers.WithBroker(js)}

	// Processed cache
	if cfg.Redis.Enabled {
		client, err := cache.NewRedisClient(ctx, cfg.Redis.URL, cfg.Redis.MaxRetries, cfg.Redis.PoolSize)
		if err != nil {
			slog.Warn("Failed to connect to Redis, continuing without processed cache", logging.Error(err))
		} else {
			processed := cache.NewProcessedCache(client, cfg.Processing.ProcessedCacheTTL)
			defer processed.Close()
			opts = append(opts, service.WithCache(processed))
			healthOpts = append(healthOpts, handlers.WithCache(processed))
			slog.Info("Processed cache enabled", slog.Duration("ttl", cfg.Processing.ProcessedCacheTTL))
		}
	} else {
		slog.Info("Redis disabled - processed cache not available")
	}

	// Initialize Dead Letter Queue
	var deadLetters dlq.Writer
	if cfg.DLQ.Enabled {
		queue, err := dlq.NewJetStreamQueue(ctx, js, logger.Logger)
		if err != nil {
			return err
		}
		deadLetters = queue
		healthOpts = append(healthOpts, handlers.WithDeadLetters(queue))
		slog.Info("Dead Letter Queue enabled", slog.String("stream", natsclient.DLQStream.Name))
	} else {
		slog.Info("Dead Letter Queue disabled")
	}

	sender, err := email.New(email.Config{
		Backend:      cfg.Email.Backend,
		From:         cfg.Email.From,
		SMTPHost:     cfg.Email.SMTP.Host,
		SMTPPort:     cfg.Email.SMTP.Port,
		SMTPUsername: cfg.Email.SMTP.Username,
		SMTPPassword: cfg.Email.SMTP.Password,
		WebhookURL:   cfg.Email.WebhookURL,
		Timeout:      cfg.Email.Timeout,
	}, logger.Logger)
	if err != nil {
		return err
	}
	slog.Info("Email sender configured", slog.String("backend", sender.Type()))

	opts = append(opts, service.WithLogger(logger.With(logging.Component("processor")).Logger))
	processor := service.NewProcessor(store, service.Config{
		AdmissionTimeout: cfg.Processing.AdmissionTimeout,
		HandlerTimeout:   cfg.Processing.HandlerTimeout,
		FinalizeTimeout:  cfg.Processing.FinalizeTimeout,
	}, opts...)

	d := dispatcher.New(processor)
	if err := digest.Register(d, sender, cfg.Email.RecipientDomain); err != nil {
		return err
	}
	slog.Info("Handlers registered", slog.Any("event_types", d.EventTypes()))

	messages, err := js.Messages(ctx, cfg.Consumer.Stream, cfg.Consumer.Durable, cfg.Consumer.MaxPending)
	if err != nil {
		return err
	}

	c := consumer.New(messages, d, deadLetters, consumer.Config{
		Workers:  cfg.Consumer.Workers,
		NakDelay: cfg.Consumer.NakDelay,
	}, logger.Logger)

	router := server.NewRouter(handlers.NewHealthHandler(store, healthOpts...), handlers.NewEventsHandler(store))
	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return c.Run(gctx)
	})

	if cfg.Processing.ReclaimEnabled {
		sweeper := reclaim.NewSweeper(store, reclaim.Config{
			Interval:  cfg.Processing.ReclaimInterval,
			After:     cfg.Processing.ReclaimAfter,
			BatchSize: cfg.Processing.ReclaimBatchSize,
		}, logger.Logger)
		g.Go(func() error {
			sweeper.Run(gctx)
			return nil
		})
		slog.Info("Stale PROCESSING reclaim enabled",
			slog.Duration("interval", cfg.Processing.ReclaimInterval),
			slog.Duration("after", cfg.Processing.ReclaimAfter),
		)
	}

	g.Go(func() error {
		slog.Info("eventgate listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down eventgate")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout(cfg))
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func shutdownTimeout(cfg *config.Config) time.Duration {
	if cfg.Server.ShutdownTimeout > 0 {
		return cfg.Server.ShutdownTimeout
	}
	return 30 * time.Second
}
