// Package app wires all Oculo subsystems into a running application.
//
// The App struct owns the full lifecycle: New builds the connection manager,
// session engine, router, and vision chain from the config, Run connects and
// serves until the context is cancelled, and Shutdown tears everything down
// in order.
//
// Audio and camera devices are external collaborators passed in via
// [Devices]; the app never opens hardware itself.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/oculo-ai/oculo/internal/config"
	"github.com/oculo-ai/oculo/internal/health"
	"github.com/oculo-ai/oculo/internal/observe"
	"github.com/oculo-ai/oculo/internal/resilience"
	"github.com/oculo-ai/oculo/internal/router"
	"github.com/oculo-ai/oculo/pkg/audio"
	"github.com/oculo-ai/oculo/pkg/realtime"
	"github.com/oculo-ai/oculo/pkg/vision"
	visiongemini "github.com/oculo-ai/oculo/pkg/vision/gemini"
	visionopenai "github.com/oculo-ai/oculo/pkg/vision/openai"
)

// Devices holds the hardware collaborators. Sink is required; Capture and
// Frames may be nil when no microphone or camera is attached.
type Devices struct {
	Capture audio.Capture
	Sink    audio.Sink
	Frames  vision.FrameSource
}

// Option customises App construction.
type Option func(*App)

// WithConfigPath enables hot reload: the file at path is watched and
// reloadable settings are applied without a restart.
func WithConfigPath(path string) Option {
	return func(a *App) { a.cfgPath = path }
}

// WithLogLevel lets hot reload adjust the process log level through the
// given LevelVar.
func WithLogLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = v }
}

// WithVersion sets the version string reported in telemetry.
func WithVersion(v string) Option {
	return func(a *App) { a.version = v }
}

// App owns the assembled pipeline.
type App struct {
	cfg      *config.Config
	cfgPath  string
	logLevel *slog.LevelVar
	version  string

	client  *realtime.Client
	session *realtime.Session
	router  *router.Router
	metrics *observe.Metrics
	srv     *http.Server
	watcher *config.Watcher

	mu     sync.Mutex
	connUp bool

	otelShutdown func(context.Context) error
	unobserve    func()
}

// New builds the pipeline from cfg. No connection is opened until [App.Run].
func New(ctx context.Context, cfg *config.Config, dev *Devices, opts ...Option) (*App, error) {
	if dev == nil || dev.Sink == nil {
		return nil, errors.New("app: a playback sink is required")
	}

	a := &App{cfg: cfg}
	for _, opt := range opts {
		opt(a)
	}

	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: a.version,
	})
	if err != nil {
		return nil, fmt.Errorf("app: init telemetry: %w", err)
	}
	a.otelShutdown = otelShutdown
	a.metrics = observe.DefaultMetrics()

	provider, err := buildVision(cfg.Vision)
	if err != nil {
		return nil, err
	}
	if provider == nil {
		slog.Warn("app: no vision providers configured, camera questions will be apologised")
	}

	a.client = realtime.NewClient(realtime.Config{
		URL:               cfg.Realtime.URL,
		Model:             cfg.Realtime.Model,
		APIKey:            cfg.Realtime.APIKey,
		ConnectTimeout:    cfg.Realtime.ConnectTimeout,
		ReconnectBase:     cfg.Realtime.Reconnect.Base,
		ReconnectMax:      cfg.Realtime.Reconnect.Max,
		MaxAttempts:       cfg.Realtime.Reconnect.MaxAttempts,
		KeepaliveInterval: cfg.Realtime.KeepaliveInterval,
	})
	a.session = realtime.NewSession(a.client, sessionConfig(cfg.Realtime, cfg.Router.Language))
	a.router = router.New(a.session, provider, dev.Frames, dev.Sink, dev.Capture, routerConfig(cfg.Router))

	a.unobserve = a.client.OnStateChange(func(s realtime.State) {
		a.router.HandleConnectionState(s)
		a.recordConnectionState(s)
	})

	if dev.Capture != nil {
		dev.Capture.OnFrame(func(f audio.Frame) {
			if err := a.session.SendAudio(f); err != nil {
				slog.Debug("app: dropping audio frame", "err", err)
			}
		})
	}

	if cfg.Server.MetricsAddr != "" {
		a.srv = &http.Server{
			Addr:              cfg.Server.MetricsAddr,
			Handler:           a.buildMux(),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	return a, nil
}

// buildMux assembles the metrics/health endpoint with request telemetry.
func (a *App) buildMux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	health.New(
		health.ConnectionProbe(a.client.State),
		health.PipelineProbe(func() string { return a.router.State().String() }, router.StateError.String()),
	).Register(mux)
	return observe.Middleware(a.metrics)(mux)
}

// recordConnectionState keeps the connection gauges in sync with the
// transport state.
func (a *App) recordConnectionState(s realtime.State) {
	ctx := context.Background()
	a.mu.Lock()
	defer a.mu.Unlock()

	switch s {
	case realtime.StateConnected:
		if !a.connUp {
			a.connUp = true
			a.metrics.ConnectionUp.Add(ctx, 1)
		}
		a.metrics.RecordConnectionAttempt(ctx, "ok")
	case realtime.StateReconnecting:
		a.metrics.Reconnects.Add(ctx, 1)
		fallthrough
	case realtime.StateDisconnected, realtime.StateFailed:
		if a.connUp {
			a.connUp = false
			a.metrics.ConnectionUp.Add(ctx, -1)
		}
	}
}

// Run connects the voice transport and serves until ctx is cancelled or a
// component fails. It always tears the pipeline down before returning.
func (a *App) Run(ctx context.Context) error {
	slog.Info("app: starting",
		"model", a.cfg.Realtime.Model,
		"metrics_addr", a.cfg.Server.MetricsAddr,
		"hot_reload", a.cfgPath != "")

	if err := a.client.Connect(ctx); err != nil {
		return fmt.Errorf("app: initial connect: %w", err)
	}

	if a.cfgPath != "" {
		w, err := config.NewWatcher(a.cfgPath, a.applyConfig)
		if err != nil {
			// The file was valid at startup; a watcher failure is not fatal.
			slog.Warn("app: config hot reload disabled", "err", err)
		} else {
			a.watcher = w
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	if a.srv != nil {
		g.Go(func() error {
			slog.Info("app: metrics server listening", "addr", a.srv.Addr)
			if err := a.srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: metrics server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return a.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Shutdown tears the pipeline down: stop reload, stop the router, close the
// session and transport, then flush telemetry.
func (a *App) Shutdown(ctx context.Context) error {
	slog.Info("app: shutting down")

	if a.watcher != nil {
		a.watcher.Stop()
	}
	a.router.Close()
	a.unobserve()
	a.session.Close()
	a.client.Disconnect()

	var errs []error
	if a.srv != nil {
		if err := a.srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("app: metrics server shutdown: %w", err))
		}
	}
	if err := a.otelShutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("app: telemetry shutdown: %w", err))
	}
	return errors.Join(errs...)
}

// applyConfig is the hot-reload callback. Only session, router, and log
// level settings apply live; everything else needs a restart.
func (a *App) applyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if !d.Any() {
		slog.Info("app: config changed, but only restart-only fields differ")
		return
	}

	if d.SessionChanged {
		if err := a.session.Configure(sessionConfig(new.Realtime, new.Router.Language)); err != nil {
			slog.Error("app: applying session config failed", "err", err)
		} else {
			slog.Info("app: session config reloaded")
		}
	}
	if d.RouterChanged {
		a.router.Reconfigure(routerConfig(new.Router))
		slog.Info("app: router config reloaded", "language", new.Router.Language)
	}
	if d.LogLevelChanged {
		if a.logLevel != nil {
			a.logLevel.Set(d.NewLogLevel.Level())
			slog.Info("app: log level changed", "level", d.NewLogLevel)
		} else {
			slog.Warn("app: log level changed but no level var is wired")
		}
	}

	a.mu.Lock()
	a.cfg = new
	a.mu.Unlock()
}

// sessionConfig maps the file schema onto the session engine's config. The
// router language doubles as the transcription language hint.
func sessionConfig(rc config.RealtimeConfig, language string) realtime.SessionConfig {
	return realtime.SessionConfig{
		Modalities:         rc.Modalities,
		Voice:              rc.Voice,
		Instructions:       rc.Instructions,
		TranscriptionModel: rc.TranscriptionModel,
		Language:           language,
		TurnDetection: realtime.TurnDetection{
			Mode:              rc.TurnDetection.Mode,
			Threshold:         rc.TurnDetection.Threshold,
			PrefixPaddingMs:   rc.TurnDetection.PrefixPaddingMs,
			SilenceDurationMs: rc.TurnDetection.SilenceDurationMs,
		},
	}
}

// routerConfig maps the file schema onto the router's config.
func routerConfig(rc config.RouterConfig) router.Config {
	return router.Config{
		Language:           rc.Language,
		ProcessingTimeout:  rc.ProcessingTimeout,
		DuplicateThreshold: rc.DuplicateThreshold,
		VisionKeywords:     rc.VisionKeywords,
		Apologies:          rc.Apologies,
	}
}

// buildVision assembles the provider failover chain in config order. An
// empty provider list yields nil.
func buildVision(vc config.VisionConfig) (vision.Provider, error) {
	var chain *resilience.VisionFallback
	for _, entry := range vc.Providers {
		p, err := buildVisionProvider(entry, vc.Timeout)
		if err != nil {
			return nil, err
		}
		if chain == nil {
			chain = resilience.NewVisionFallback(p, resilience.FallbackConfig{
				CircuitBreaker: resilience.BreakerConfig{
					MaxFailures:  vc.Breaker.MaxFailures,
					ResetTimeout: vc.Breaker.ResetTimeout,
				},
			})
			continue
		}
		chain.AddFallback(p)
	}
	if chain == nil {
		return nil, nil
	}
	return chain, nil
}

func buildVisionProvider(entry config.VisionProviderEntry, timeout time.Duration) (vision.Provider, error) {
	switch entry.Name {
	case "openai":
		var opts []visionopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, visionopenai.WithBaseURL(entry.BaseURL))
		}
		if timeout > 0 {
			opts = append(opts, visionopenai.WithTimeout(timeout))
		}
		return visionopenai.New(entry.APIKey, entry.Model, opts...)
	case "gemini":
		var opts []visiongemini.Option
		if entry.BaseURL != "" {
			opts = append(opts, visiongemini.WithBaseURL(entry.BaseURL))
		}
		if timeout > 0 {
			opts = append(opts, visiongemini.WithTimeout(timeout))
		}
		return visiongemini.New(entry.APIKey, entry.Model, opts...)
	default:
		return nil, fmt.Errorf("app: unknown vision provider %q", entry.Name)
	}
}
