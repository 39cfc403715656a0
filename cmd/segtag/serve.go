package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"segtag/internal/blob"
	"segtag/internal/config"
	"segtag/internal/export"
	"segtag/internal/httpapi"
	"segtag/internal/logging"
	"segtag/internal/observability"
	"segtag/internal/persistence"
	"segtag/internal/session"
	"segtag/internal/watch"
)

const shutdownTimeout = 5 * time.Second

func (c *cli) serveCmd() *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the labeling session over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Listen = listen
			}
			return c.serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides config)")
	return cmd
}

func (c *cli) serve(ctx context.Context, cfg config.Config) error {
	logger, err := logging.New(cfg.Log, c.stderr)
	if err != nil {
		return err
	}
	table, err := cfg.CategoryTable()
	if err != nil {
		return err
	}
	store, err := persistence.Open(ctx, cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("close persistence store", "error", err)
		}
	}()

	splitBase := cfg.SplitBase
	sess := session.New(session.Options{
		Categories: table,
		SplitBase:  &splitBase,
		Policy:     cfg.TraversalPolicy(),
		Store:      store,
		Logger:     logger,
	})
	defer sess.Close()
	if err := c.prime(ctx, cfg, sess, logger); err != nil {
		return err
	}

	if cfg.Root.Configured() {
		root, err := blob.Open(ctx, cfg.Root)
		if err != nil {
			return fmt.Errorf("open asset root: %w", err)
		}
		sess.SetRoot(root, rootName(cfg.Root))
	}

	artifacts, err := blob.Open(ctx, cfg.Artifacts)
	if err != nil {
		return fmt.Errorf("open artifact store: %w", err)
	}
	worker := export.NewWorker(artifacts, export.SlogAuditLog{Logger: logger}, logger)
	worker.Start()
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := worker.Stop(stopCtx); err != nil {
			logger.Warn("stop export worker", "error", err)
		}
	}()

	metrics := observability.NewMetrics(sess)
	instrument := observability.Instrument{Recorders: []observability.Recorder{metrics}}
	if cfg.Expvar {
		instrument.Recorders = append(instrument.Recorders, observability.NewExpvarRecorder("segtag_operations"))
	}
	if cfg.TraceFile != "" {
		f, err := os.OpenFile(cfg.TraceFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open trace file: %w", err)
		}
		defer f.Close()
		instrument.Tracer = observability.NewJSONTracer(f, 0)
	}

	if cfg.Watch && cfg.Document != "" {
		w, err := watch.New(cfg.Document, sess, watch.Options{Logger: logger})
		if err != nil {
			return err
		}
		w.Start(ctx)
		defer w.Stop()
	}

	if !logger.Enabled(ctx, slog.LevelDebug) {
		gin.SetMode(gin.ReleaseMode)
	}
	var limit *rate.Limiter
	if n := cfg.ExportsPerMinute; n > 0 {
		limit = rate.NewLimiter(rate.Every(time.Minute/time.Duration(n)), n)
	}
	api := httpapi.New(httpapi.Options{
		Session:     sess,
		Exports:     worker,
		Metrics:     metrics,
		Instrument:  instrument,
		ExportLimit: limit,
		Logger:      logger,
	})
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv.RegisterOnShutdown(api.CloseStreams)
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// prime restores the last snapshot or loads the configured document, then
// merges the configured tag file.
func (c *cli) prime(ctx context.Context, cfg config.Config, sess *session.Session, logger *slog.Logger) error {
	restored := false
	if cfg.Restore {
		ok, err := sess.Restore(ctx)
		if err != nil {
			logger.Warn("restore failed, starting fresh", "error", err)
		}
		restored = ok
	}
	if !restored && cfg.Document != "" {
		data, err := os.ReadFile(cfg.Document)
		if err != nil {
			return fmt.Errorf("read document: %w", err)
		}
		if _, err := sess.LoadDocument(ctx, data); err != nil {
			return err
		}
	}
	if cfg.Tags != "" && sess.Dataset() != nil {
		data, err := os.ReadFile(cfg.Tags)
		if err != nil {
			return fmt.Errorf("read tags: %w", err)
		}
		if _, err := sess.MergeTags(ctx, data); err != nil {
			return err
		}
	}
	return nil
}

func rootName(cfg blob.Config) string {
	if cfg.Driver == blob.DriverS3 {
		return "s3://" + cfg.S3.Bucket + "/" + cfg.S3.Prefix
	}
	if cfg.Driver == blob.DriverMemory {
		return "memory"
	}
	return cfg.Root
}
