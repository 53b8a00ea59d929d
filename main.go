package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"video-tagging-api/analyzer"
	"video-tagging-api/handlers"
	"video-tagging-api/runs"
	"video-tagging-api/subscriber"
	"video-tagging-api/testui"
	"video-tagging-api/utils"

	valkeystore "video-tagging-api/valkey"
)

func main() {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = ""
	cfg.EncoderConfig.EncodeDuration = zapcore.MillisDurationEncoder
	logger, err := cfg.Build()
	if err != nil {
		log.Fatalf("cannot initialize logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(logger).ExecuteContext(ctx); err != nil {
		logger.Sugar().Errorw("command failed",
			"error", err)
		os.Exit(1)
	}
}

func newRootCmd(logger *zap.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:          "video-tagging-api",
		Short:        "Tag uploaded videos with Azure AI Content Understanding",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), logger)
		},
	}

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API (default)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), logger)
		},
	})

	var olderThan time.Duration
	sweepCmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete analyzers left behind by failed runs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return sweep(cmd.Context(), logger, olderThan)
		},
	}
	sweepCmd.Flags().DurationVar(&olderThan, "older-than", 2*time.Hour, "only sweep runs created at least this long ago")
	root.AddCommand(sweepCmd)

	return root
}

func serve(ctx context.Context, logger *zap.Logger) error {
	sugar := logger.Sugar()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ledger, closeLedger, err := newLedger(cfg, logger)
	if err != nil {
		return err
	}
	defer closeLedger()

	store, err := newStore(ctx, cfg, logger)
	if err != nil {
		return err
	}

	service, err := newService(cfg, logger)
	if err != nil {
		return err
	}

	var notifier analyzer.Notifier = analyzer.NopNotifier{}
	if cfg.ValkeyEnabled() {
		if err := valkeystore.InitValkey(cfg, logger); err != nil {
			return err
		}
		defer valkeystore.CloseValkey(logger)
		notifier = valkeystore.NewNotifier(valkeystore.Client)

		// Start pub/sub subscribers in background
		subscriber.StartSubscribers(ctx, valkeystore.RawClient, subscriber.NewCleaner(service, ledger, logger), logger)
	}

	opts := analyzer.DefaultOptions()
	opts.CreateTimeout = cfg.CreateTimeout()
	opts.AnalyzeTimeout = cfg.AnalyzeTimeout()
	pipeline := analyzer.NewPipeline(utils.NewSpool(afero.NewOsFs(), cfg.SpoolDir), store, service, ledger, notifier, logger, opts)

	// Setup HTTP server
	r := newRouter(cfg, logger, pipeline, ledger)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Port),
		Handler: r,
	}

	errCh := make(chan error, 1)
	go func() {
		sugar.Infow("Running on port",
			"port", cfg.Port)
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

	sugar.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

const multipartMemory = 32 << 20

func newRouter(cfg *utils.Config, logger *zap.Logger, pipeline *analyzer.Pipeline, ledger runs.Store) *gin.Engine {
	r := gin.New()
	logger.Sugar().Info("Creating router")

	// Parts beyond this spill to temporary files; MAX_UPLOAD_MB caps the body
	r.MaxMultipartMemory = multipartMemory

	r.Use(ginzap.Ginzap(logger, time.RFC3339, true))
	r.Use(ginzap.RecoveryWithZap(logger, true))
	r.Use(cors.New(corsConfig(cfg.CORSOrigins())))

	// Routes
	r.POST("/analyze", handlers.LimitRequestBody(int64(cfg.MaxUploadMB)<<20), handlers.HandleAnalyze(logger, pipeline))
	r.GET("/analyze/runs", handlers.HandleListRuns(logger, ledger))
	r.GET("/analyze/runs/:id", handlers.HandleGetRun(logger, ledger))

	// Health check
	r.GET("/healthcheck", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"message": "ok"})
	})
	r.GET("/metrics", handlers.HandleMetrics())
	r.GET("/db-status", handlers.HandleDBStatus())

	testui.RegisterRoutes(r, "/")

	return r
}

func corsConfig(origins []string) cors.Config {
	c := cors.DefaultConfig()
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = origins
	}
	c.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	c.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization"}
	c.ExposeHeaders = []string{"X-Run-Id"}
	return c
}

func sweep(ctx context.Context, logger *zap.Logger, olderThan time.Duration) error {
	sugar := logger.Sugar()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.LedgerEnabled() {
		return errors.New("sweep needs the Postgres run ledger (POSTGRES_HOST is not set)")
	}

	ledger, closeLedger, err := newLedger(cfg, logger)
	if err != nil {
		return err
	}
	defer closeLedger()

	service, err := newService(cfg, logger)
	if err != nil {
		return err
	}

	deleted, err := analyzer.Sweep(ctx, service, ledger, time.Now().Add(-olderThan), logger)
	if err != nil {
		return err
	}
	sugar.Infow("Sweep finished",
		"deleted", deleted)
	return nil
}
