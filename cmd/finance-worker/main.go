package main

import (
	"context"
	"errors"
	"os"
	"time"

	"finance/internal/amqp"
	"finance/internal/cache"
	"finance/internal/cli"
	"finance/internal/config"
	"finance/internal/log"
	gsheet "finance/internal/sheets/google"
	"finance/internal/worker"

	"golang.org/x/sync/errgroup"
)

const statsInterval = 5 * time.Minute

func main() {
	cli.LoadEnvFile()

	cfg := cli.MustLoadConfig((*config.Config).ValidateWorker)
	logger := cli.SetupLogger(cfg)
	logger.Info("Starting finance-worker")

	ctx, cancel := cli.SignalContext(logger)
	defer cancel()

	mirror, err := gsheet.New(ctx, gsheet.Config{
		SpreadsheetID:   cfg.GoogleSpreadsheetID,
		SheetName:       cfg.GoogleSheetName,
		CredentialsJSON: cfg.GoogleServiceAccountJSON,
		CredentialsFile: cfg.GoogleServiceAccountFile,
	}, logger)
	if err != nil {
		logger.Error("Failed to initialize Google Sheets client", log.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Google Sheets mirror ready", "spreadsheet_id", cfg.GoogleSpreadsheetID, "sheet", cfg.GoogleSheetName)

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", log.FieldError, err)
		os.Exit(1)
	}

	mirrorWorker := worker.NewMirrorWorker(mirror, logger)
	caches := cache.NewManager(logger)
	mirrorWorker.Register(caches)
	caches.StartCleanup(ctx, time.Hour)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return mirrorWorker.Run(gctx, amqpClient)
	})
	g.Go(func() error {
		ticker := time.NewTicker(statsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				st := mirrorWorker.Stats()
				logger.Info("Mirror progress",
					"mirrored", st.Mirrored,
					"duplicates", st.Duplicates,
					"failures", st.Failures)
			}
		}
	})

	runErr := g.Wait()

	cli.RunCleanup(logger, 10*time.Second, func(ctx context.Context) error {
		caches.Stop()
		return amqpClient.Close()
	})

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logger.Error("Worker stopped with error", log.FieldError, runErr)
		os.Exit(1)
	}
}
