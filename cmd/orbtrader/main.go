// Command orbtrader runs the opening-range breakout trading agent: one
// decider per configured instrument, driven by a brokerage port (paper or
// live), publishing view snapshots over REST/WebSocket and writing
// finished trades to a daily CSV file.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/atlas-desktop/orb-trader/internal/api"
	"github.com/atlas-desktop/orb-trader/internal/atrsched"
	"github.com/atlas-desktop/orb-trader/internal/broker"
	"github.com/atlas-desktop/orb-trader/internal/config"
	"github.com/atlas-desktop/orb-trader/internal/dispatcher"
	"github.com/atlas-desktop/orb-trader/internal/results"
	"github.com/atlas-desktop/orb-trader/internal/view"
	"github.com/atlas-desktop/orb-trader/pkg/types"
)

var configPath string

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "orbtrader",
		Short: "Opening-range breakout trading agent",
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to config file")
	root.AddCommand(runCmd())
	return root
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the trading agent until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context())
		},
	}
}

func run(parent context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	defer logger.Sync()

	logger.Info("starting orbtrader",
		zap.String("brokerage_mode", cfg.Brokerage.Mode),
		zap.Int("markets", len(cfg.Markets)),
	)

	markets := make([]types.MarketInfo, 0, len(cfg.Markets))
	for _, m := range cfg.Markets {
		info, err := m.ToMarketInfo()
		if err != nil {
			return fmt.Errorf("market %s: %w", m.Epic, err)
		}
		markets = append(markets, info)
	}

	brokerage, err := buildBrokerage(cfg.Brokerage, logger)
	if err != nil {
		return fmt.Errorf("build brokerage: %w", err)
	}

	sink, err := results.NewCsvSink(cfg.Results.Dir)
	if err != nil {
		return fmt.Errorf("build results sink: %w", err)
	}

	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	bus := view.NewBus(ctx)
	defer bus.Close()

	registry := prometheus.NewRegistry()
	dispatcher.RegisterMetrics(registry)
	atrsched.RegisterMetrics(registry)

	disp := dispatcher.New(logger, brokerage, bus, sink, markets)
	sched := atrsched.New(logger, brokerage, bus, markets)
	server := api.NewServer(logger, api.ServerConfig{
		Host:           cfg.API.Host,
		Port:           cfg.API.Port,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		AllowedOrigins: cfg.API.AllowedOrigins,
	}, bus)

	errCh := make(chan error, 8)

	go func() { errCh <- brokerage.Run(ctx) }()
	go func() { errCh <- disp.Run(ctx) }()
	go func() { errCh <- sched.Run(ctx) }()
	go server.Run()
	go func() {
		if err := server.Start(); err != nil {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	if cfg.Metrics.Enabled {
		go func() {
			if err := serveMetrics(ctx, cfg.Metrics.Port, registry); err != nil {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		logger.Error("component failed, shutting down", zap.Error(err))
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("error stopping api server", zap.Error(err))
	}

	logger.Info("orbtrader stopped")
	return nil
}

func buildBrokerage(cfg config.BrokerageConfig, logger *zap.Logger) (broker.Brokerage, error) {
	switch cfg.Mode {
	case "live":
		return broker.NewLive(broker.LiveConfig{
			RESTBaseURL:    cfg.RESTBaseURL,
			StreamURL:      cfg.StreamURL,
			APIKey:         cfg.APIKey,
			RequestTimeout: cfg.RequestTimeout,
		}, logger), nil
	case "paper", "":
		paperCfg := broker.DefaultPaperConfig()
		paperCfg.RejectionRate = cfg.RejectionRate
		paperCfg.Slippage = cfg.Slippage
		return broker.NewPaper(logger, paperCfg, nil), nil
	default:
		return nil, fmt.Errorf("unknown brokerage mode %q", cfg.Mode)
	}
}

func serveMetrics(ctx context.Context, port int, registry *prometheus.Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func setupLogger(cfg config.LoggingConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	encoding := cfg.Format
	if encoding == "" {
		encoding = "console"
	}

	zcfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(level),
		Development: false,
		Encoding:    encoding,
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zcfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
