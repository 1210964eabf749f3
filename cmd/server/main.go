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

	"golang.org/x/sync/errgroup"

	auditHandler "gridsync/internal/audit/handler"
	auditService "gridsync/internal/audit/service"
	auditPostgres "gridsync/internal/audit/store/postgres"
	"gridsync/internal/celllock"
	celllockMetrics "gridsync/internal/celllock/metrics"
	"gridsync/internal/changefeed"
	gridHandler "gridsync/internal/grid/handler"
	gridMetrics "gridsync/internal/grid/metrics"
	gridService "gridsync/internal/grid/service"
	gridPostgres "gridsync/internal/grid/store/postgres"
	jwttoken "gridsync/internal/jwt_token"
	"gridsync/internal/notify"
	"gridsync/internal/platform/config"
	"gridsync/internal/platform/httpserver"
	"gridsync/internal/platform/logger"
	"gridsync/internal/platform/metrics"
	"gridsync/internal/platform/postgres"
	redisclient "gridsync/internal/platform/redis"
	"gridsync/internal/presence"
	"gridsync/internal/presence/backplane"
	presenceMetrics "gridsync/internal/presence/metrics"
	httptransport "gridsync/internal/transport/http"
	"gridsync/internal/transport/ws"
	"gridsync/pkg/platform/circuit"
	"gridsync/pkg/platform/tx"
)

const shutdownTimeout = 15 * time.Second

// main wires the modules, serves HTTP and WebSocket traffic and drains
// background workers on SIGINT/SIGTERM.
func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("gridsync stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("gridsync stopped")
}

func run(ctx context.Context, cfg config.Server, log *slog.Logger) error {
	db, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := postgres.ApplyMigrations(ctx, db, cfg.Database.MigrationsDir); err != nil {
		return err
	}

	rdb, err := redisclient.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
	}

	jwtService := jwttoken.NewJWTService(cfg.JWTSigningKey, cfg.JWTIssuer)
	validator := jwttoken.NewScopeValidator(jwtService)
	httpMetrics := metrics.New()

	g, gctx := errgroup.WithContext(ctx)

	// Presence, optionally bridged across instances.
	pm := presenceMetrics.New()
	registryOpts := []presence.Option{presence.WithLogger(log), presence.WithMetrics(pm)}
	var plane *backplane.Redis
	if rdb != nil {
		plane = backplane.NewRedis(rdb.Client, cfg.Redis.Channel, log, pm)
		registryOpts = append(registryOpts, presence.WithBackplane(plane))
	}
	registry := presence.NewRegistry(registryOpts...)
	if plane != nil {
		g.Go(func() error { return plane.Serve(gctx, registry, time.Second) })
	}

	relay := celllock.NewRelay(registry,
		celllock.WithLeaseTTL(cfg.Realtime.LockLeaseTTL),
		celllock.WithLogger(log),
		celllock.WithMetrics(celllockMetrics.New()),
	)
	g.Go(func() error { return relay.Run(gctx, 0) })

	sinks := []notify.Sink{notify.NewPresenceSink(registry)}
	if len(cfg.Kafka.Brokers) > 0 {
		kafka, err := changefeed.NewClient(cfg.Kafka.Brokers, cfg.Kafka.ChangesTopic)
		if err != nil {
			return err
		}
		defer kafka.Close()
		if err := changefeed.EnsureTopic(ctx, kafka, cfg.Kafka.ChangesTopic, cfg.Kafka.Partitions); err != nil {
			log.WarnContext(ctx, "change feed topic not ensured", "topic", cfg.Kafka.ChangesTopic, "error", err)
		}
		sinks = append(sinks, changefeed.NewSink(kafka, cfg.Kafka.ChangesTopic,
			changefeed.WithBreaker(circuit.New("changefeed")),
			changefeed.WithLogger(log),
			changefeed.WithMetrics(changefeed.NewMetrics()),
		))
	}
	notifier := notify.New(sinks,
		notify.WithLogger(log),
		notify.WithMetrics(notify.NewMetrics()),
		notify.WithBuffer(cfg.Realtime.NotifyBuffer),
	)
	g.Go(func() error { return notifier.Run(gctx) })

	auditStore := auditPostgres.New(db)
	grid, err := gridService.New(gridPostgres.New(db), auditStore, tx.NewSQL(db, cfg.Database.TxTimeout),
		gridService.WithLogger(log),
		gridService.WithMetrics(gridMetrics.New()),
		gridService.WithPublisher(notifier),
	)
	if err != nil {
		return fmt.Errorf("init grid service: %w", err)
	}
	audit, err := auditService.New(auditStore, log)
	if err != nil {
		return fmt.Errorf("init audit service: %w", err)
	}

	realtime := ws.NewHandler(validator, registry, relay, log, ws.Config{
		SendBuffer:    cfg.Realtime.SendBuffer,
		PingInterval:  cfg.Realtime.PingInterval,
		AllowedOrigin: cfg.CORSOrigin,
	})

	checks := []httptransport.Check{{Name: "postgres", Ping: db.PingContext}}
	if rdb != nil {
		checks = append(checks, httptransport.Check{Name: "redis", Ping: rdb.Health})
	}
	router := httptransport.NewRouter(log, checks,
		gridHandler.New(grid, validator, log, httpMetrics),
		auditHandler.New(audit, validator, log, httpMetrics),
		httptransport.NewSessionHandler(validator, registry, log, httpMetrics),
		realtime,
	)
	srv := httpserver.New(cfg.Addr, router)

	g.Go(func() error {
		log.Info("starting gridsync", "addr", cfg.Addr, "backplane", rdb != nil, "changefeed", len(cfg.Kafka.Brokers) > 0)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		if err := realtime.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("closing websocket sessions: %w", err)
		}
		return nil
	})

	return g.Wait()
}
