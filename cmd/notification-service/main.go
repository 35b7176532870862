package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"go.uber.org/automaxprocs/maxprocs"
	"golang.org/x/sync/errgroup"

	"github.com/ahrav/bookstore-events/internal/api"
	"github.com/ahrav/bookstore-events/internal/api/debug"
	"github.com/ahrav/bookstore-events/internal/api/health"
	appNotifications "github.com/ahrav/bookstore-events/internal/app/notifications"
	"github.com/ahrav/bookstore-events/internal/config"
	"github.com/ahrav/bookstore-events/internal/domain/notifications"
	memoryDedup "github.com/ahrav/bookstore-events/internal/infra/dedup/memory"
	redisDedup "github.com/ahrav/bookstore-events/internal/infra/dedup/redis"
	eventdispatcher "github.com/ahrav/bookstore-events/internal/infra/event_dispatcher"
	"github.com/ahrav/bookstore-events/internal/infra/eventbus"
	"github.com/ahrav/bookstore-events/internal/infra/mail/smtp"
	"github.com/ahrav/bookstore-events/pkg/common/logger"
	"github.com/ahrav/bookstore-events/pkg/common/otel"
)

var build = "develop"

const serviceType = "notification-service"

func main() {
	// Set the correct number of threads for the service
	_, _ = maxprocs.Set()

	hostname, err := os.Hostname()
	if err != nil {
		log.Fatalf("failed to get hostname: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	var log *logger.Logger

	logEvents := logger.Events{
		Error: func(ctx context.Context, r logger.Record) {
			errorAttrs := map[string]any{
				"error_message": r.Message,
				"error_time":    r.Time.UTC().Format(time.RFC3339),
				"trace_id":      otel.GetTraceID(ctx),
			}
			for k, v := range r.Attributes {
				errorAttrs[k] = v
			}

			errorAttrsJSON, err := json.Marshal(errorAttrs)
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to marshal error attributes: %v\n", err)
				return
			}
			fmt.Fprintf(os.Stderr, "Error event: %s, details: %s\n", r.Message, errorAttrsJSON)
		},
	}

	traceIDFn := func(ctx context.Context) string {
		return otel.GetTraceID(ctx)
	}

	svcName := fmt.Sprintf("NOTIFICATION-SERVICE-%s", hostname)
	metadata := map[string]string{
		"service":   svcName,
		"hostname":  hostname,
		"pod":       cfg.Service.Pod,
		"namespace": cfg.Service.Namespace,
		"app":       serviceType,
	}

	log = logger.NewWithMetadata(
		os.Stdout,
		logger.ParseLevel(cfg.Service.LogLevel),
		svcName,
		traceIDFn,
		logEvents,
		metadata,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, log, cfg, hostname); err != nil {
		log.Error(ctx, "startup", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, log *logger.Logger, cfg *config.Config, hostname string) error {
	// -------------------------------------------------------------------------
	// GOMAXPROCS
	log.Info(ctx, "startup", "GOMAXPROCS", runtime.GOMAXPROCS(0), "build", build)

	// -------------------------------------------------------------------------
	// Telemetry
	telemetry, teardown, err := otel.InitTelemetry(log, otel.Config{
		ServiceName:      cfg.Service.Name,
		ExporterEndpoint: cfg.Telemetry.ExporterEndpoint,
		ExcludedRoutes: map[string]struct{}{
			"/v1/readiness": {},
			"/v1/liveness":  {},
			"/debug":        {},
			"/metrics":      {},
		},
		Probability:      cfg.Telemetry.SamplingRatio,
		InsecureExporter: cfg.Telemetry.Insecure,
		ResourceAttributes: map[string]string{
			"library.language": "go",
			"k8s.pod.name":     cfg.Service.Pod,
			"k8s.namespace":    cfg.Service.Namespace,
			"k8s.container.id": hostname,
		},
	})
	if err != nil {
		return fmt.Errorf("starting telemetry: %w", err)
	}
	defer teardown(context.Background())

	tracer := telemetry.TracerProvider.Tracer(cfg.Service.Name)
	meter := telemetry.MeterProvider.Meter(cfg.Service.Name)

	// -------------------------------------------------------------------------
	// Start Debug Service
	debugServer, err := debug.NewServer(cfg.HTTP.DebugAddr())
	if err != nil {
		return fmt.Errorf("creating debug server: %w", err)
	}
	defer debugServer.Close()

	go func() {
		log.Info(ctx, "startup", "status", "debug v1 router started", "host", cfg.HTTP.DebugAddr())

		if err := debugServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(ctx, "shutdown", "status", "debug v1 router closed", "host", cfg.HTTP.DebugAddr(), "msg", err)
		}
	}()

	// -------------------------------------------------------------------------
	// Mailer
	mailer, err := smtp.NewMailer(smtp.Config{
		Host:        cfg.SMTP.Server,
		Port:        cfg.SMTP.Port,
		Username:    cfg.SMTP.Username,
		Password:    cfg.SMTP.Password,
		FromEmail:   cfg.SMTP.FromEmail,
		FromName:    cfg.SMTP.FromName,
		SendTimeout: cfg.SMTP.SendTimeout,
		RatePerSec:  cfg.SMTP.RatePerSec,
	}, log, tracer)
	if err != nil {
		return fmt.Errorf("creating mailer: %w", err)
	}

	// -------------------------------------------------------------------------
	// Processed Notification Store
	var processed notifications.ProcessedStore
	if cfg.Redis.Enabled() {
		client, err := redisDedup.Connect(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		defer client.Close()

		processed = redisDedup.NewStore(client, cfg.Redis.TTL, tracer)
		log.Info(ctx, "startup", "status", "using redis processed-notification store", "addr", cfg.Redis.Addr)
	} else {
		processed = memoryDedup.NewStore(cfg.Redis.TTL)
	}

	// -------------------------------------------------------------------------
	// Event Bus
	bus, err := eventbus.New(cfg, cfg.Service.Name+"-"+hostname, eventbus.RoleSubscriber, log, meter, tracer)
	if err != nil {
		return fmt.Errorf("creating event bus: %w", err)
	}
	defer func() {
		if err := bus.Close(); err != nil {
			log.Error(ctx, "shutdown", "status", "failed to close event bus", "error", err)
		}
	}()

	dispatcher := eventdispatcher.New(tracer, log)
	handler := appNotifications.NewOrderCreatedHandler(mailer, processed, log, tracer)
	if err := dispatcher.RegisterHandler(ctx, handler); err != nil {
		return fmt.Errorf("registering order created handler: %w", err)
	}

	if err := bus.Subscribe(ctx, dispatcher.EventTypes(), dispatcher.Dispatch); err != nil {
		return fmt.Errorf("subscribing to events: %w", err)
	}
	log.Info(ctx, "startup", "status", "consuming events",
		"transport", string(cfg.Broker.Transport),
		"queue", cfg.Broker.Queue,
		"routing_key", cfg.Broker.RoutingKey,
	)

	// -------------------------------------------------------------------------
	// Health
	server := api.NewServer(cfg.HTTP, log, api.Options{
		Build:          build,
		Service:        cfg.Service.Name,
		TracerProvider: telemetry.TracerProvider,
		Ready:          health.ConsumerReady(bus),
	})

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Start(gCtx) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("server error: %w", err)
	}

	log.Info(ctx, "shutdown", "status", "shutdown complete")
	return nil
}
