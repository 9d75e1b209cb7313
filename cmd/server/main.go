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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"dailyroll/internal/attendance/events"
	"dailyroll/internal/attendance/handler"
	attendanceMetrics "dailyroll/internal/attendance/metrics"
	"dailyroll/internal/attendance/service"
	"dailyroll/internal/attendance/store/backend"
	"dailyroll/internal/platform/config"
	"dailyroll/internal/platform/httpserver"
	"dailyroll/internal/platform/logger"
	"dailyroll/internal/platform/metrics"
	"dailyroll/pkg/platform/circuit"
	httptransport "dailyroll/internal/transport/http"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("dailyroll exited", "error", err)
		os.Exit(1)
	}
}

// run wires dependencies and blocks until a signal or a server error.
// Business logic lives in internal/attendance.
func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	attendanceM := attendanceMetrics.New(reg)

	be, err := backend.Open(ctx, cfg, attendanceM, log)
	if err != nil {
		return fmt.Errorf("open ledger backend: %w", err)
	}
	defer func() {
		if err := be.Close(); err != nil {
			log.Warn("closing ledger backend", "error", err)
		}
	}()

	publisher, closePublisher, err := buildPublisher(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closePublisher()
	async := events.NewAsync(publisher, cfg.Kafka.QueueSize, log, attendanceM.IncrementPublishFailures)

	svc, err := service.New(be.Store,
		service.WithLogger(log),
		service.WithMetrics(attendanceM),
		service.WithPublisher(async),
		service.WithLocation(cfg.Location()),
	)
	if err != nil {
		return err
	}

	router := httptransport.NewRouter(httptransport.Deps{
		Logger:         log,
		Metrics:        metrics.New(reg),
		Gatherer:       reg,
		Health:         be.Health,
		EventsHealth:   async.Ping,
		RequestTimeout: cfg.Server.RequestTimeout,
		Modules:        []httptransport.RouteRegistrar{handler.New(svc, log)},
	})
	srv := httpserver.New(cfg.Server.Addr, router, log)

	log.Info("starting dailyroll",
		"addr", cfg.Server.Addr,
		"backend", cfg.Ledger.Backend,
		"timezone", cfg.Location().String(),
	)
	return serve(ctx, srv, async, log)
}

type server interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// serve runs srv until ctx is done or it fails. The event queue keeps running
// until Shutdown has returned, so events from in-flight requests are drained.
func serve(ctx context.Context, srv server, async *events.Async, log *slog.Logger) error {
	asyncCtx, stopAsync := context.WithCancel(context.Background())
	defer stopAsync()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return async.Run(asyncCtx, shutdownTimeout/2)
	})
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		defer stopAsync()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// buildPublisher returns every configured sink, or a debug logger when no
// broker is configured.
func buildPublisher(ctx context.Context, cfg *config.Config, log *slog.Logger) (events.Publisher, func(), error) {
	var (
		sinks   events.Fanout
		closers []func()
	)
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	if len(cfg.Kafka.Brokers) > 0 {
		pub, err := events.NewKafka(ctx, cfg.Kafka.Brokers, cfg.Kafka.Topic, log, sinkOptions(cfg, "kafka")...)
		if err != nil {
			return nil, nil, err
		}
		log.Info("publishing attendance events to kafka", "topic", cfg.Kafka.Topic, "brokers", cfg.Kafka.Brokers)
		sinks = append(sinks, pub)
		closers = append(closers, func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := pub.Close(closeCtx); err != nil {
				log.Warn("closing kafka publisher", "error", err)
			}
		})
	}

	if cfg.NATS.URL != "" {
		pub, err := events.NewNATS(ctx, cfg.NATS.URL, cfg.NATS.Stream, cfg.NATS.SubjectPrefix, log, sinkOptions(cfg, "nats")...)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		log.Info("publishing attendance events to nats", "stream", cfg.NATS.Stream, "prefix", cfg.NATS.SubjectPrefix)
		sinks = append(sinks, pub)
		closers = append(closers, func() {
			if err := pub.Close(); err != nil {
				log.Warn("closing nats publisher", "error", err)
			}
		})
	}

	switch len(sinks) {
	case 0:
		return events.NewLogPublisher(log), func() {}, nil
	case 1:
		return sinks[0], closeAll, nil
	default:
		return sinks, closeAll, nil
	}
}

// sinkOptions gives each broker its own breaker tuned by configuration.
func sinkOptions(cfg *config.Config, name string) []events.SinkOption {
	return []events.SinkOption{
		events.WithProduceTimeout(cfg.Events.PublishTimeout),
		events.WithBreaker(circuit.New(name,
			circuit.WithFailureThreshold(cfg.Events.BreakerThreshold),
			circuit.WithCooldown(cfg.Events.BreakerCooldown),
		)),
	}
}
