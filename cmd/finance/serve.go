package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"finance/internal/amqp"
	"finance/internal/attachments"
	"finance/internal/auth"
	"finance/internal/backend"
	"finance/internal/cache"
	"finance/internal/cli"
	"finance/internal/config"
	apphttp "finance/internal/http"
	"finance/internal/ledger"
	"finance/internal/log"
	"finance/internal/reporting"
	"finance/internal/services"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout      = 30 * time.Second
	cacheCleanupInterval = time.Minute
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the ledger HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cli.LoadConfig((*config.Config).Validate)
			if err != nil {
				return err
			}
			return runServe(cfg)
		},
	}
}

func runServe(cfg *config.Config) error {
	logger := cli.SetupLogger(cfg)
	ctx, cancel := cli.SignalContext(logger)
	defer cancel()

	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return err
	}
	res, err := backend.NewFactory(logger).CreateBackend(ctx, bcfg)
	if err != nil {
		logger.Error("Failed to initialize ledger store", log.FieldError, err, "backend", cfg.DataBackend)
		return err
	}

	engine := ledger.NewEngine(res.Store,
		ledger.WithMaxRetries(cfg.ReconcileMaxRetries),
		ledger.WithLogger(logger))

	caches := cache.NewManager(logger)
	stats := reporting.NewService(res.Store, cfg.StatsCacheTTL, logger)
	stats.Register(caches)

	blobs, err := attachments.NewDirStore(cfg.UploadDir)
	if err != nil {
		_ = res.Store.Close()
		return fmt.Errorf("open upload directory: %w", err)
	}
	att := attachments.NewService(res.Store, blobs, cfg.MaxUploadBytes, logger, attachments.WithStats(stats))

	opts := []services.Option{
		services.WithStats(stats),
		services.WithPurger(att),
		services.WithLogger(logger),
	}
	if cfg.AMQPURL != "" {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
		if err != nil {
			// Events are best effort; the API keeps serving without them.
			logger.Error("Failed to connect to AMQP, ledger events disabled", log.FieldError, err)
		} else {
			opts = append(opts, services.WithPublisher(client))
			logger.Info("Publishing ledger events", "exchange", cfg.AMQPExchange)
		}
	} else {
		logger.Info("AMQP_URL not set, ledger events disabled")
	}
	svc := services.NewLedgerService(engine, opts...)

	srv := apphttp.NewServer(apphttp.Config{
		Addr:               ":" + cfg.Port,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		MaxUploadBytes:     cfg.MaxUploadBytes,
	}, svc, att, stats, auth.NewVerifier(cfg.JWTSecret, cfg.JWTTTL), logger)

	caches.StartCleanup(ctx, cacheCleanupInterval)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting finance server", "port", cfg.Port, "backend", res.Type.String())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		cli.RunCleanup(logger, shutdownTimeout, func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		})
		return nil
	})

	err = g.Wait()
	caches.Stop()
	if cerr := svc.Close(); cerr != nil {
		logger.Error("Failed to close ledger service", log.FieldError, cerr)
	}
	if err != nil {
		logger.Error("Server stopped with error", log.FieldError, err)
		return err
	}
	logger.Info("Server stopped gracefully")
	return nil
}
