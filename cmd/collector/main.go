package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/larry091001/incubator-skywalking/internal/alarm"
	"github.com/larry091001/incubator-skywalking/internal/cache"
	"github.com/larry091001/incubator-skywalking/internal/config"
	"github.com/larry091001/incubator-skywalking/internal/hostinfo"
	"github.com/larry091001/incubator-skywalking/internal/logger"
	"github.com/larry091001/incubator-skywalking/internal/metrics"
	"github.com/larry091001/incubator-skywalking/internal/module"
	"github.com/larry091001/incubator-skywalking/internal/query"
	"github.com/larry091001/incubator-skywalking/internal/storage"
)

const shutdownTimeout = 10 * time.Second

var configPath string

var rootCmd = &cobra.Command{
	Use:           "collector",
	Short:         "APM collector alarm and analytics core",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(viper.New(), configPath)
		if err != nil {
			return err
		}
		return run(cfg)
	},
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to the YAML configuration file (default ./config/config.yaml)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer log.Sync()

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("Received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	}()

	var js nats.JetStreamContext
	if cfg.NATS.Enabled() {
		nc, err := connectNATS(log, cfg.NATS)
		if err != nil {
			return err
		}
		defer nc.Drain()

		if js, err = nc.JetStream(); err != nil {
			return fmt.Errorf("failed to create JetStream context: %w", err)
		}
	}

	manager := module.NewManager(log)
	if err := registerModules(manager, cfg, js); err != nil {
		return err
	}
	if err := manager.Init(ctx); err != nil {
		log.Error("Failed to start modules", zap.Error(err))
		return err
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		manager.Shutdown(shutdownCtx)
	}()

	if err := registerCollector(ctx, log, manager); err != nil {
		log.Warn("Failed to register collector instance", zap.Error(err))
	}

	if cfg.Metrics.HostSampleInterval > 0 {
		sampler := hostinfo.NewSampler(log, cfg.Metrics.HostSampleInterval)
		sampler.Start(ctx)
		defer sampler.Stop()
	}

	var metricsServer *http.Server
	if cfg.Metrics.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Metrics.Listen,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			log.Info("Metrics server listening", zap.String("address", cfg.Metrics.Listen))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("Metrics server exited", zap.Error(err))
				cancel()
			}
		}()
	}

	log.Info("Collector started", zap.Strings("modules", manager.Modules()))

	// Wait for shutdown signal
	<-ctx.Done()

	if metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("Metrics server shutdown", zap.Error(err))
		}
		shutdownCancel()
	}

	log.Info("Collector shutting down gracefully")
	return nil
}

func registerModules(manager *module.Manager, cfg *config.Config, js nats.JetStreamContext) error {
	var configOpts []config.Option
	var alarmOpts []alarm.Option
	if js != nil {
		configOpts = append(configOpts, config.WithJetStream(js))

		consumer := alarm.ConsumerConfig{
			Stream:           cfg.NATS.Stream,
			AlarmSubject:     cfg.NATS.AlarmSubject,
			MetricSubject:    cfg.NATS.MetricSubject,
			ReferenceSubject: cfg.NATS.RefSubject,
			Durable:          cfg.NATS.Durable,
		}
		if cfg.Alarm.Channel == "nats" {
			consumer.ExtraSubjects = append(consumer.ExtraSubjects, cfg.Alarm.NotifySubject)
		}
		alarmOpts = append(alarmOpts, alarm.WithConsumer(js, consumer))
	}

	modules := []struct {
		name    string
		factory module.Factory
	}{
		{config.ModuleName, config.NewProvider(cfg.Configuration, cfg.Alarm, configOpts...)},
		{storage.ModuleName, storage.NewProvider(cfg.Storage)},
		{cache.ModuleName, cache.NewProvider(cfg.Cache)},
		{alarm.ModuleName, alarm.NewProvider(alarmOpts...)},
		{query.ModuleName, query.NewProvider()},
	}
	for _, m := range modules {
		if err := manager.Register(m.name, m.factory); err != nil {
			return err
		}
	}
	return nil
}
