package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/sync/errgroup"

	"github.com/leomancini/ai-phone-firmware/pkg/config"
	"github.com/leomancini/ai-phone-firmware/runtime/capture"
	"github.com/leomancini/ai-phone-firmware/runtime/events"
	"github.com/leomancini/ai-phone-firmware/runtime/handset"
	"github.com/leomancini/ai-phone-firmware/runtime/logger"
	"github.com/leomancini/ai-phone-firmware/runtime/metrics/prometheus"
	"github.com/leomancini/ai-phone-firmware/runtime/playback"
	"github.com/leomancini/ai-phone-firmware/runtime/process"
	"github.com/leomancini/ai-phone-firmware/runtime/providers/openai"
	"github.com/leomancini/ai-phone-firmware/runtime/recording"
	"github.com/leomancini/ai-phone-firmware/runtime/session"
	"github.com/leomancini/ai-phone-firmware/runtime/statestore"
	"github.com/leomancini/ai-phone-firmware/runtime/telemetry"
)

const shutdownTimeout = 5 * time.Second

var errNoAPIKey = errors.New("no API key for the conversation service")

type bridgeOptions struct {
	launcher process.Launcher
	// headless runs without the handset link regardless of the manifest.
	headless bool
}

// bridge is one assembled process: the controller plus every listener
// hanging off its event bus.
type bridge struct {
	cfg        *config.BridgeConfig
	bus        *events.EventBus
	controller *session.Controller
	recorder   *statestore.Recorder
	archive    *recording.TurnArchive
	exporter   *prometheus.Exporter

	journal *events.FileEventStore
	spans   *telemetry.OTelEventListener
	tracer  *sdktrace.TracerProvider
	redis   *redis.Client
}

func newBridge(ctx context.Context, cfg *config.BridgeConfig, opts bridgeOptions) (_ *bridge, err error) {
	if opts.launcher == nil {
		opts.launcher = process.NewExecLauncher()
	}
	spec := &cfg.Spec

	b := &bridge{cfg: cfg, bus: events.NewEventBus()}
	defer func() {
		if err != nil {
			b.close()
		}
	}()
	emitter := events.NewEmitter(b.bus)

	linkCfg := spec.Conversation.LinkConfig()
	if linkCfg.APIKey == "" {
		return nil, fmt.Errorf("%w: set %s", errNoAPIKey, spec.Conversation.APIKeyEnv)
	}
	linkCfg.Emitter = emitter

	ladder := spec.Session.Ladder()
	recorder := capture.New(spec.Capture.PipeConfig(ladder), opts.launcher)
	recorder.OnRestart = func(attempt int, cause error) {
		emitter.PipeRestarted(events.PipeCapture, attempt, cause)
	}
	player := playback.New(spec.Playback.PipeConfig(ladder), opts.launcher)

	sc := spec.SessionConfig()
	sc.Conversation = openai.NewLink(linkCfg)
	sc.Recorder = recorder
	sc.Player = player
	sc.Emitter = emitter
	handsetEnabled := spec.Handset.HandsetEnabled() && !opts.headless
	if handsetEnabled {
		hc := spec.Handset.LinkConfig()
		hc.Emitter = emitter
		sc.Handset = handset.NewLink(hc)
	} else {
		sc.StatusMessages = false
	}
	if b.controller, err = session.New(sc); err != nil {
		return nil, err
	}

	store, err := b.openStateStore(ctx)
	if err != nil {
		return nil, err
	}
	b.recorder = statestore.NewRecorder(store)
	b.bus.SubscribeAll(b.recorder.OnEvent)

	if spec.Journal.Enabled {
		if b.journal, err = events.NewFileEventStore(spec.Journal.Dir); err != nil {
			return nil, err
		}
		b.bus.SubscribeAll(b.journal.Listener(func(err error) {
			logger.Warn("Journal append failed", "error", err)
		}))
	}

	if spec.Metrics.Enabled {
		b.bus.SubscribeAll(prometheus.NewMetricsListener().Listener())
		b.exporter = prometheus.NewExporter(spec.Metrics.Addr)
		b.exporter.SetHealthCheck(func() error {
			snap := b.controller.Snapshot()
			if handsetEnabled && snap.Presence == handset.PresenceUnknown {
				return errors.New("handset presence unknown")
			}
			return nil
		})
	}

	if spec.Telemetry.Enabled {
		b.tracer, err = telemetry.NewTracerProvider(ctx, spec.Telemetry.ProviderConfig())
		if err != nil {
			return nil, fmt.Errorf("telemetry: %w", err)
		}
		telemetry.SetupPropagation()
		b.spans = telemetry.NewOTelEventListener(telemetry.Tracer(b.tracer))
		b.bus.SubscribeAll(b.spans.OnEvent)
	}

	if spec.Recording.Enabled {
		if b.archive, err = recording.NewTurnArchive(spec.Recording.Dir); err != nil {
			return nil, err
		}
		b.bus.Subscribe(events.EventTurnCompleted, b.archive.OnEvent)
	}

	logger.Info("Bridge assembled",
		"endpoint", linkCfg.EndpointURL(),
		"handset", handsetEnabled,
		"state_store", spec.StateStore.Type,
		"journal", spec.Journal.Enabled,
		"metrics", spec.Metrics.Enabled,
		"telemetry", spec.Telemetry.Enabled,
		"recording", spec.Recording.Enabled)
	return b, nil
}

func (b *bridge) openStateStore(ctx context.Context) (statestore.Store, error) {
	s := b.cfg.Spec.StateStore
	if s.Type != config.StateStoreRedis {
		return statestore.NewMemoryStore(), nil
	}
	b.redis = redis.NewClient(&redis.Options{Addr: s.Addr, Password: s.Password, DB: s.DB})
	store := statestore.NewRedisStore(b.redis,
		statestore.WithPrefix(s.Prefix),
		statestore.WithTTL(s.TTL.Std()))
	pingCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := store.Ping(pingCtx); err != nil {
		return nil, fmt.Errorf("state store %s: %w", s.Addr, err)
	}
	return store, nil
}

// run blocks until the controller returns. The exporter is stopped once it
// does.
func (b *bridge) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return b.controller.Run(gctx)
	})
	if b.exporter != nil {
		g.Go(func() error {
			logger.Info("Serving metrics", "addr", b.cfg.Spec.Metrics.Addr)
			if err := b.exporter.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics exporter: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
			defer done()
			return b.exporter.Shutdown(shutdownCtx)
		})
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// close drains the bus before closing the listeners' backends.
func (b *bridge) close() {
	b.bus.Close()
	if b.spans != nil {
		b.spans.Close()
	}
	if b.tracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := b.tracer.Shutdown(ctx); err != nil {
			logger.Warn("Tracer shutdown failed", "error", err)
		}
		cancel()
	}
	if b.journal != nil {
		if err := b.journal.Close(); err != nil {
			logger.Warn("Journal close failed", "error", err)
		}
	}
	if b.redis != nil {
		_ = b.redis.Close()
	}
}
