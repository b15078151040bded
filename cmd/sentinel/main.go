package main

import (
	"context"
	"encoding/json"
	"fmt"
	stdlog "log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/automaxprocs/maxprocs"

	"github.com/ahrav/crawl-sentinel/internal/api/status"
	appconn "github.com/ahrav/crawl-sentinel/internal/app/connectivity"
	"github.com/ahrav/crawl-sentinel/internal/app/polling"
	"github.com/ahrav/crawl-sentinel/internal/app/tracking"
	"github.com/ahrav/crawl-sentinel/internal/config"
	"github.com/ahrav/crawl-sentinel/internal/config/fileloader"
	"github.com/ahrav/crawl-sentinel/internal/domain/crawl"
	"github.com/ahrav/crawl-sentinel/internal/domain/events"
	"github.com/ahrav/crawl-sentinel/internal/domain/reconcile"
	"github.com/ahrav/crawl-sentinel/internal/infra/eventbus/kafka"
	"github.com/ahrav/crawl-sentinel/internal/infra/eventbus/memory"
	"github.com/ahrav/crawl-sentinel/internal/infra/push/websocket"
	"github.com/ahrav/crawl-sentinel/internal/infra/statusapi"
	"github.com/ahrav/crawl-sentinel/pkg/common"
	"github.com/ahrav/crawl-sentinel/pkg/common/logger"
	"github.com/ahrav/crawl-sentinel/pkg/common/otel"
)

const serviceType = "sentinel"

var build = "develop"

func main() {
	_, _ = maxprocs.Set()

	hostname, err := os.Hostname()
	if err != nil {
		stdlog.Fatalf("failed to get hostname: %v", err)
	}

	var log *logger.Logger

	logEvents := logger.Events{
		Error: func(ctx context.Context, r logger.Record) {
			errorAttrs := map[string]any{
				"error_message": r.Message,
				"error_time":    r.Time.UTC().Format(time.RFC3339),
				"trace_id":      otel.GetTraceID(ctx),
			}

			// Add any error-specific attributes.
			for k, v := range r.Attributes {
				errorAttrs[k] = v
			}

			errorAttrsJSON, err := json.Marshal(errorAttrs)
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to marshal error attributes: %v\n", err)
				return
			}

			// Output the error event with valid JSON details.
			fmt.Fprintf(os.Stderr, "Error event: %s, details: %s\n",
				r.Message, errorAttrsJSON)
		},
	}

	traceIDFn := func(ctx context.Context) string {
		return otel.GetTraceID(ctx)
	}

	svcName := fmt.Sprintf("SENTINEL-%s", hostname)
	metadata := map[string]string{
		"service":  svcName,
		"hostname": hostname,
		"app":      serviceType,
	}

	log = logger.NewWithMetadata(os.Stdout, logger.LevelDebug, svcName, traceIDFn, logEvents, metadata)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	prob := 1.0
	if raw := os.Getenv("OTEL_SAMPLING_RATIO"); raw != "" {
		prob, err = strconv.ParseFloat(raw, 64)
		if err != nil {
			log.Error(ctx, "failed to parse OTEL_SAMPLING_RATIO", "error", err)
			os.Exit(1)
		}
	}
	tp, telemetryTeardown, err := otel.InitTelemetry(log, otel.Config{
		ServiceName:      os.Getenv("OTEL_SERVICE_NAME"),
		ExporterEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		Probability:      prob,
		ResourceAttributes: map[string]string{
			"library.language": "go",
			"hostname":         hostname,
		},
		InsecureExporter: true,
	})
	if err != nil {
		log.Error(ctx, "failed to initialize telemetry", "error", err)
		os.Exit(1)
	}
	defer telemetryTeardown(ctx)

	tracer := tp.Tracer(serviceType)

	settings, err := config.LoadSettings()
	if err != nil {
		log.Error(ctx, "failed to load settings", "error", err)
		os.Exit(1)
	}

	sourcesCfg, err := fileloader.NewFileLoader(settings.SourcesFile).Load(ctx)
	if err != nil {
		// Explicit source lists on the start request still work without a
		// sources file.
		log.Warn(ctx, "failed to load sources file, continuing without defaults",
			"path", settings.SourcesFile, "error", err)
		sourcesCfg = &config.Config{}
	}

	backend := statusapi.NewClient(settings.BackendURL, log, tracer,
		statusapi.WithRequestLimiter(common.NewRequestLimiter(settings.RequestsPerSecond, settings.RequestBurst)))

	// The probe asks for scheduler status; any answer from the backend, even
	// an error response, proves the transport is back.
	probe := func(ctx context.Context) error {
		if _, err := backend.SchedulerStatus(ctx); err != nil &&
			reconcile.ClassifyError(err) == reconcile.FailureUnreachable {
			return err
		}
		return nil
	}
	monitor := appconn.NewMonitor(probe, log, tracer)
	defer monitor.CancelRetry()

	scheduler := polling.NewClient(backend.SchedulerStatus, crawl.SchedulerStatus{}.SafeDefault(),
		log, tracer, polling.WithOutcomeReporter[crawl.SchedulerStatus](monitor))

	var (
		push tracking.PushSource
		pub  events.DomainEventPublisher
		bus  events.EventBus
	)
	switch settings.PushMode {
	case config.PushModeKafka:
		kafkaClient, err := kafka.NewClient(&kafka.ClientConfig{
			Brokers:     settings.KafkaBrokers,
			GroupID:     settings.KafkaGroupID,
			ClientID:    svcName,
			ServiceType: serviceType,
		})
		if err != nil {
			log.Error(ctx, "failed to create kafka client", "error", err)
			os.Exit(1)
		}
		defer kafkaClient.Close()

		bus, err = kafka.ConnectEventBus(&kafka.Config{
			Brokers:          settings.KafkaBrokers,
			CrawlEventsTopic: settings.KafkaCrawlTopic,
			JobStateTopic:    settings.KafkaJobStateTopic,
			GroupID:          settings.KafkaGroupID,
			ClientID:         svcName,
			ServiceType:      serviceType,
		}, kafkaClient, log, nil, tracer)
		if err != nil {
			log.Error(ctx, "failed to connect event bus", "error", err)
			os.Exit(1)
		}

		push = tracking.NewBusPushSource(bus, log)
		if settings.KafkaJobStateTopic != "" {
			pub = kafka.NewDomainEventPublisher(bus)
		}

	case config.PushModeMemory:
		broker := memory.NewBroker()
		bus = broker
		push = tracking.NewBusPushSource(broker, log)
		pub = kafka.NewDomainEventPublisher(broker)

	default:
		push = websocket.NewSource(settings.WebsocketURL, log, tracer,
			websocket.WithConnectivityHook(monitor))
	}

	trackerOpts := []tracking.Option{tracking.WithPollInterval(settings.PollInterval)}
	if pub != nil {
		trackerOpts = append(trackerOpts, tracking.WithStateChangePublisher(pub))
	}
	tracker := tracking.NewTracker(backend, push, log, tracer, trackerOpts...)
	defer tracker.Stop()

	scheduler.StartPolling(ctx, settings.SchedulerPollInterval)
	defer scheduler.StopPolling()

	starter := &crawlStarter{
		scheduler: scheduler,
		backend:   backend,
		tracker:   tracker,
		sources:   sourcesCfg,
	}

	server := status.NewServer(status.Config{
		Addr:    settings.APIAddr,
		Build:   build,
		Jobs:    tracker,
		Conn:    monitor,
		Sched:   scheduler,
		Starter: starter,
		Stopper: starter,
	}, log, tracer)

	log.Info(ctx, "sentinel initialized", "push_mode", settings.PushMode, "backend", settings.BackendURL)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(ctx)
	}()

	select {
	case sig := <-sigCh:
		log.Info(ctx, "Received shutdown signal", "signal", sig)
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if bus != nil {
			if err := bus.Close(); err != nil {
				log.Error(shutdownCtx, "failed to close event bus", "error", err)
			}
		}
		if err := <-errCh; err != nil {
			log.Error(shutdownCtx, "server shutdown error", "error", err)
		}

	case err := <-errCh:
		if err != nil {
			log.Error(ctx, "server error", "error", err)
			os.Exit(1)
		}
	}
}

// crawlStarter performs the one-shot start action behind the API: the
// scheduler client's exclusive slot keeps concurrent starts out, the backend
// call creates the job and the tracker begins following it.
type crawlStarter struct {
	scheduler *polling.Client[crawl.SchedulerStatus]
	backend   *statusapi.Client
	tracker   *tracking.Tracker
	sources   *config.Config
}

func (s *crawlStarter) StartCrawl(ctx context.Context, sources []string) (string, error) {
	if len(sources) == 0 {
		sources = s.sources.EnabledSourceNames()
	}

	var jobID string
	err := s.scheduler.RunExclusive(ctx, func(ctx context.Context) error {
		id, err := s.backend.StartCrawl(ctx, sources)
		if err != nil {
			return err
		}
		jobID = id
		return nil
	})
	if err != nil {
		return "", err
	}

	s.tracker.Start(ctx, jobID)
	return jobID, nil
}

func (s *crawlStarter) StopCrawl(ctx context.Context, jobID string) error {
	err := s.scheduler.RunExclusive(ctx, func(ctx context.Context) error {
		return s.backend.StopCrawl(ctx, jobID)
	})
	if err != nil {
		return err
	}

	s.tracker.Reset(ctx)
	return nil
}
