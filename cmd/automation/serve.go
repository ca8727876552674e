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
	"golang.org/x/sync/errgroup"

	"github.com/evanramirez88/restaurant-consulting-site/automation/advisor"
	"github.com/evanramirez88/restaurant-consulting-site/automation/alert"
	"github.com/evanramirez88/restaurant-consulting-site/automation/api"
	audithook "github.com/evanramirez88/restaurant-consulting-site/automation/audit_hook"
	"github.com/evanramirez88/restaurant-consulting-site/automation/backend"
	"github.com/evanramirez88/restaurant-consulting-site/automation/engine"
	"github.com/evanramirez88/restaurant-consulting-site/automation/internal/config"
	"github.com/evanramirez88/restaurant-consulting-site/automation/job"
	"github.com/evanramirez88/restaurant-consulting-site/automation/live"
	"github.com/evanramirez88/restaurant-consulting-site/automation/stream"
	"github.com/evanramirez88/restaurant-consulting-site/automation/sweep"
	"github.com/evanramirez88/restaurant-consulting-site/automation/worker"
)

func newServeCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, live updates and the background sweeps",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, c.cfg, c.logger)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	b, err := openBackends(ctx, cfg, logger)
	if err != nil {
		return err
	}
	// Once started, the orchestrator owns the store and closes it on Stop.
	started := false
	defer func() {
		if !started {
			_ = b.store.Close()
		}
		if err := b.Close(); err != nil {
			logger.Error("close backends", slog.String("error", err.Error()))
		}
	}()
	if err := b.store.Migrate(ctx); err != nil {
		return err
	}

	sink, recorder, closeNotifiers, err := notifiers(cfg, logger)
	if err != nil {
		return err
	}
	defer closeNotifiers()

	var auditOpts []audithook.Option
	if len(cfg.AuditActions) > 0 {
		auditOpts = append(auditOpts, audithook.WithActions(cfg.AuditActions...))
	}

	broker := stream.NewBroker(logger)
	o, eng, err := buildEngine(cfg, logger, b,
		engine.WithExtension(broker),
		engine.WithExtension(alert.NewAlerter(sink, logger)),
		engine.WithExtension(audithook.New(recorder, append(auditOpts, audithook.WithLogger(logger))...)),
	)
	if err != nil {
		return err
	}

	n, err := eng.RebuildIndex(ctx)
	if err != nil {
		// The reconcile sweep repairs it shortly.
		logger.Error("initial index rebuild failed", slog.String("error", err.Error()))
	} else {
		logger.Info("dispatch index rebuilt", slog.Int("queued", n))
	}

	sched, err := sweep.New(eng, sweep.SpecsFrom(cfg.Engine()), sweep.WithLogger(logger), sweep.WithAlerts(sink))
	if err != nil {
		return err
	}
	o.AddRunner(sched)

	browser := backend.New(cfg.BrowserServiceURL, backend.WithLogger(logger))
	if cfg.WorkerConcurrency > 0 {
		reg := job.NewRegistry()
		reg.Register(job.TypeHealthCheck, healthCheckHandler(browser))
		o.AddRunner(worker.NewPool(eng, reg, logger, worker.WithPoolConcurrency(cfg.WorkerConcurrency)))
	}

	liveSrv := live.NewServer(broker,
		live.WithAuth(liveAuth(cfg)),
		live.WithJobLookup(eng),
		live.WithLogger(logger),
		live.WithHeartbeatInterval(cfg.HeartbeatInterval),
		live.WithIdleTimeout(cfg.IdleTimeout),
		live.WithWriteTimeout(cfg.WriteTimeout),
	)

	apiOpts := []api.Option{
		api.WithLogger(logger),
		api.WithAdvisor(advisor.New(b.store, b.store, advisor.WithLogger(logger))),
		api.WithDecisions(advisor.NewEngine(b.store, b.store, advisor.WithLogger(logger))),
		api.WithSessions(browser),
		api.WithLive(liveSrv.ServeWS),
		api.WithHealthCheck("store", b.store.Ping),
	}
	if b.indexPing != nil {
		apiOpts = append(apiOpts, api.WithHealthCheck("dispatch_index", b.indexPing))
	}
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.New(eng, apiOpts...).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if err := o.Start(ctx); err != nil {
		return err
	}
	started = true

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", slog.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
		defer cancel()
		// Hijacked WebSocket connections are not tracked by Shutdown.
		err := srv.Shutdown(shutdownCtx)
		err = errors.Join(err, liveSrv.Drain(shutdownCtx))
		return errors.Join(err, o.Stop(shutdownCtx))
	})
	return g.Wait()
}

// notifiers builds the alert sink and the audit recorder. Both log
// always and also publish to NSQ when NSQD_ADDR is set, sharing one
// producer.
func notifiers(cfg *config.Config, logger *slog.Logger) (alert.Sink, audithook.Recorder, func(), error) {
	logSink := alert.LogSink{Logger: logger}
	logRec := audithook.LogRecorder{Logger: logger}
	if cfg.NSQDAddr == "" {
		return logSink, logRec, func() {}, nil
	}
	nsqSink, producer, err := alert.DialNSQ(cfg.NSQDAddr, cfg.AlertTopic)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("nsq alerts: %w", err)
	}
	logger.Info("publishing alerts and audit events to nsq",
		slog.String("addr", cfg.NSQDAddr),
		slog.String("alert_topic", cfg.AlertTopic),
		slog.String("audit_topic", cfg.AuditTopic),
	)
	return alert.Multi{logSink, nsqSink},
		audithook.Multi{logRec, audithook.NewNSQRecorder(producer, cfg.AuditTopic)},
		producer.Stop, nil
}

// liveAuth accepts every subscriber unless LIVE_API_KEYS is set.
func liveAuth(cfg *config.Config) live.Authenticator {
	if len(cfg.LiveAPIKeys) == 0 {
		return live.NoopAuthenticator{}
	}
	entries := make([]live.APIKeyEntry, 0, len(cfg.LiveAPIKeys))
	for token, subject := range cfg.LiveAPIKeys {
		entries = append(entries, live.APIKeyEntry{
			Token:    token,
			Identity: live.Identity{Subject: subject, Global: true},
		})
	}
	return live.NewAPIKeyAuthenticator(entries...)
}

// healthCheckHandler runs health_check jobs in process by asking the
// browser service for its own report.
func healthCheckHandler(browser *backend.Client) job.HandlerFunc {
	return func(ctx context.Context, _ *job.Job, r job.Reporter) (map[string]any, error) {
		h, err := browser.Health(ctx)
		if err != nil {
			return nil, err
		}
		_ = r.Report(ctx, 100, "browser service "+h.Status)
		return map[string]any{
			"status":          h.Status,
			"active_sessions": h.ActiveSessions,
		}, nil
	}
}
