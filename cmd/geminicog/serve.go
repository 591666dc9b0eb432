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

	"github.com/spf13/cobra"

	"github.com/opentalon/geminicog/internal/audit"
	"github.com/opentalon/geminicog/internal/auth"
	"github.com/opentalon/geminicog/internal/client"
	"github.com/opentalon/geminicog/internal/cogserver"
	"github.com/opentalon/geminicog/internal/config"
	"github.com/opentalon/geminicog/internal/logging"
	"github.com/opentalon/geminicog/internal/metrics"
	"github.com/opentalon/geminicog/internal/steps"
	"github.com/opentalon/geminicog/internal/version"
)

func newServeCmd(loadConfig func() (*config.Config, error)) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve CogService until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Server.Listen = listen
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format))
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "override server.listen (host:port or unix:<path>)")
	return cmd
}

func cogInfo(cfg *config.Config) cogserver.Info {
	v := cfg.Cog.Version
	if v == "" {
		v = version.Get().Manifest()
	}
	return cogserver.Info{
		Name:        cfg.Cog.Name,
		Label:       cfg.Cog.Label,
		Version:     v,
		Homepage:    cfg.Cog.Homepage,
		AuthHelpURL: cfg.Cog.AuthHelpURL,
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	log := logger.With("component", "serve")

	reg, err := steps.NewRegistry()
	if err != nil {
		return fmt.Errorf("build step registry: %w", err)
	}
	m := metrics.New()

	auditor, closeAudit, err := openAudit(ctx, cfg.Audit, m, logger)
	if err != nil {
		return err
	}
	defer closeAudit()

	factory := client.NewFactory(cfg.Provider.Backend())
	srv := cogserver.New(cogserver.Config{
		Info:       cogInfo(cfg),
		Registry:   reg,
		AuthFields: client.AuthFields,
		NewClient:  func(creds auth.Credentials) client.Completer { return factory.New(creds) },
		Auditor:    auditor,
		Metrics:    m,
		Logger:     logger,
	})
	gs := cogserver.NewGRPCServer(srv)

	if cfg.Server.MetricsAddr != "" {
		ms := &http.Server{Addr: cfg.Server.MetricsAddr, Handler: metricsMux(m), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := ms.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server", "error", err)
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = ms.Shutdown(sctx)
		}()
		log.Info("metrics listening", "addr", cfg.Server.MetricsAddr)
	}

	ln, err := cogserver.Listen(cfg.Server.Listen)
	if err != nil {
		return err
	}
	log.Info("serving", "addr", ln.Addr().String(), "steps", reg.Len(), "version", version.Get().Version, "provider", cfg.Provider.API)
	if err := cogserver.Serve(ctx, gs, ln, cfg.Server.ShutdownGrace); err != nil {
		return err
	}
	log.Info("stopped")
	return nil
}

func metricsMux(m *metrics.Metrics) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return mux
}

// openAudit builds the configured auditor and the func that drains it.
func openAudit(ctx context.Context, cfg config.AuditConfig, m *metrics.Metrics, logger *slog.Logger) (audit.Auditor, func(), error) {
	sink, err := audit.Open(ctx, cfg.SinkConfig())
	if err != nil {
		return nil, nil, fmt.Errorf("open audit sink: %w", err)
	}
	if sink == nil {
		return audit.Nop{}, func() {}, nil
	}
	if s, ok := sink.(*audit.SQLSink); ok {
		v, err := s.Version()
		if err != nil {
			_ = sink.Close()
			return nil, nil, err
		}
		logger.Info("audit store ready", "sink", cfg.Sink, "schema_version", v)
	}

	var retention *audit.Retention
	if p, ok := sink.(audit.Pruner); ok && cfg.Retention() > 0 {
		retention, err = audit.NewRetention(p, cfg.RetentionSchedule, cfg.Retention(), logger)
		if err != nil {
			_ = sink.Close()
			return nil, nil, err
		}
		retention.Start()
	}

	exp := audit.NewExporter(sink, audit.Options{
		QueueSize:    cfg.QueueSize,
		Workers:      cfg.Workers,
		WriteTimeout: cfg.WriteTimeout,
		Logger:       logger,
		Metrics:      m,
	})
	closeFn := func() {
		if retention != nil {
			retention.Stop()
		}
		cctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := exp.Close(cctx); err != nil {
			logger.Warn("close audit exporter", "error", err)
		}
	}
	return exp, closeFn, nil
}
