// Package app wires all Talkwire subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the context is cancelled, and Shutdown
// tears everything down in reverse-init order.
//
// For testing, inject mock implementations via functional options
// (WithStore, WithSTTProvider, WithAnalysisProvider). When an option is not
// provided, New creates real implementations from the config.
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

	"github.com/MrWong99/talkwire/internal/api"
	"github.com/MrWong99/talkwire/internal/auth"
	"github.com/MrWong99/talkwire/internal/call"
	"github.com/MrWong99/talkwire/internal/config"
	"github.com/MrWong99/talkwire/internal/graph"
	"github.com/MrWong99/talkwire/internal/health"
	"github.com/MrWong99/talkwire/internal/observe"
	"github.com/MrWong99/talkwire/internal/presence"
	"github.com/MrWong99/talkwire/internal/relay"
	"github.com/MrWong99/talkwire/internal/resilience"
	"github.com/MrWong99/talkwire/internal/router"
	"github.com/MrWong99/talkwire/internal/ws"
	"github.com/MrWong99/talkwire/pkg/provider/analysis"
	"github.com/MrWong99/talkwire/pkg/provider/analysis/anyllm"
	"github.com/MrWong99/talkwire/pkg/provider/analysis/openrouter"
	"github.com/MrWong99/talkwire/pkg/provider/stt"
	"github.com/MrWong99/talkwire/pkg/provider/stt/assemblyai"
	"github.com/MrWong99/talkwire/pkg/store"
	"github.com/MrWong99/talkwire/pkg/store/postgres"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
)

// shutdownTimeout bounds how long Run waits for in-flight HTTP requests
// after the context is cancelled.
const shutdownTimeout = 10 * time.Second

// App owns all subsystem lifetimes and serves the signaling, presence, and
// transcription surfaces.
type App struct {
	cfg *config.Config

	store    store.Store
	authn    *auth.TokenAuthenticator
	presence *presence.Registry
	calls    *call.Registry
	relay    *relay.Relay
	router   *router.Router
	srv      *http.Server

	sttProvider stt.Provider
	analyzer    analysis.Provider

	// closers are called in reverse order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a store instead of connecting to Postgres from config.
func WithStore(s store.Store) Option {
	return func(a *App) { a.store = s }
}

// WithSTTProvider injects a transcription provider instead of creating one
// from config.
func WithSTTProvider(p stt.Provider) Option {
	return func(a *App) { a.sttProvider = p }
}

// WithAnalysisProvider injects an analysis provider instead of creating one
// from config.
func WithAnalysisProvider(p analysis.Provider) Option {
	return func(a *App) { a.analyzer = p }
}

// New creates an App by wiring all subsystems together. Use Option functions
// to inject test doubles for the store or providers.
//
// New performs all initialisation synchronously: store connection and
// migration, token authenticator, registries, event router, transcription
// relay, provider construction, and the HTTP mux.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}

	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	authn, err := auth.NewTokenAuthenticator(auth.TokenConfig{
		Secret: []byte(cfg.Auth.TokenSecret),
		TTL:    cfg.Auth.TokenTTL.Std(),
	})
	if err != nil {
		return nil, fmt.Errorf("app: init auth: %w", err)
	}
	a.authn = authn

	a.initRegistries()
	a.initProviders()
	a.initRelay()
	a.initHTTP()

	return a, nil
}

// initStore connects to Postgres unless a store was injected.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}

	st, err := postgres.NewStore(ctx, a.cfg.Database.PostgresDSN)
	if err != nil {
		return err
	}
	a.store = st
	a.closers = append(a.closers, func() error {
		st.Close()
		return nil
	})
	return nil
}

// initRegistries builds the presence registry, the call registry, and the
// event router, then ties them together. The router and the call registry
// reference each other, so the notifier is installed after both exist.
func (a *App) initRegistries() {
	gw := graph.New(a.store)

	a.presence = presence.NewRegistry()
	a.calls = call.NewRegistry(call.RegistryConfig{
		Graph:   gw,
		Records: a.store,
		Users:   a.store,
	})

	a.router = router.New(router.RouterConfig{
		Presence: a.presence,
		Calls:    a.calls,
		Audience: gw,
	})
	a.calls.SetNotifier(a.router)

	// Presence transitions fan out to connected peers and are mirrored into
	// the durable store so offline peers see fresh last-seen data.
	a.presence.SetOnChange(func(userID int64, online bool) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		a.router.BroadcastPresence(ctx, userID, online)
		if err := a.store.SetOnline(ctx, userID, online); err != nil {
			slog.Warn("failed to mirror presence to store",
				"user_id", userID, "online", online, "err", err)
		}
	})
}

// initProviders constructs the STT and analysis backends named in the config,
// each behind its own circuit breaker, unless test doubles were injected.
func (a *App) initProviders() {
	if a.sttProvider == nil {
		a.sttProvider = a.buildSTT()
	}
	if a.analyzer == nil {
		a.analyzer = a.buildAnalyzer()
	}
}

// buildSTT returns the transcription backend. Without an API key the returned
// provider fails every stream start so that calls still work without live
// transcription.
func (a *App) buildSTT() stt.Provider {
	if a.cfg.Transcriber.APIKey == "" {
		return unconfiguredSTT{}
	}

	var opts []assemblyai.Option
	if a.cfg.Transcriber.SampleRate > 0 {
		opts = append(opts, assemblyai.WithSampleRate(a.cfg.Transcriber.SampleRate))
	}
	p, err := assemblyai.New(a.cfg.Transcriber.APIKey, opts...)
	if err != nil {
		slog.Error("failed to create transcription provider", "err", err)
		return unconfiguredSTT{}
	}
	slog.Info("transcription provider created", "name", "assemblyai")
	return resilience.NewSTTFallback(p, "assemblyai", resilience.FallbackConfig{})
}

// buildAnalyzer returns the post-call analysis backend behind a circuit
// breaker. An empty provider name selects OpenRouter.
func (a *App) buildAnalyzer() analysis.Provider {
	name := a.cfg.Analysis.Provider
	if name == "" || name == "openrouter" {
		var opts []openrouter.Option
		if a.cfg.Analysis.Model != "" {
			opts = append(opts, openrouter.WithModel(a.cfg.Analysis.Model))
		}
		if a.cfg.Analysis.BaseURL != "" {
			opts = append(opts, openrouter.WithBaseURL(a.cfg.Analysis.BaseURL))
		}
		p, err := openrouter.New(a.cfg.Analysis.APIKey, opts...)
		if err != nil {
			slog.Warn("analysis unavailable", "err", err)
			return nil
		}
		slog.Info("analysis provider created", "name", "openrouter")
		return resilience.NewAnalysisFallback(p, "openrouter", resilience.FallbackConfig{})
	}

	var opts []anyllmlib.Option
	if a.cfg.Analysis.APIKey != "" {
		opts = append(opts, anyllmlib.WithAPIKey(a.cfg.Analysis.APIKey))
	}
	if a.cfg.Analysis.BaseURL != "" {
		opts = append(opts, anyllmlib.WithBaseURL(a.cfg.Analysis.BaseURL))
	}
	p, err := anyllm.New(name, a.cfg.Analysis.Model, opts...)
	if err != nil {
		slog.Warn("analysis unavailable", "name", name, "err", err)
		return nil
	}
	slog.Info("analysis provider created", "name", name)
	return resilience.NewAnalysisFallback(p, name, resilience.FallbackConfig{})
}

// initRelay builds the transcription relay. Committed fragments are appended
// to the live call session so late joiners can replay the transcript so far.
func (a *App) initRelay() {
	a.relay = relay.New(relay.RelayConfig{
		Provider: a.sttProvider,
		Stream: stt.StreamConfig{
			SampleRate: a.cfg.Transcriber.SampleRate,
			Language:   a.cfg.Transcriber.Language,
		},
		Broadcast:   a.router,
		Transcripts: a.store,
		OnFinal: func(callID int64, text string) {
			if sess, err := a.calls.Get(callID); err == nil {
				sess.AppendFinal(text)
			}
		},
		QueueSize: a.cfg.Transcriber.QueueSize,
	})
}

// initHTTP assembles the mux: REST API, the two websocket surfaces, health
// probes, and the Prometheus scrape endpoint, all behind the tracing
// middleware.
func (a *App) initHTTP() {
	mux := http.NewServeMux()

	apiSrv := api.NewServer(api.ServerConfig{
		Auth:     a.authn,
		Issuer:   a.authn,
		Store:    a.store,
		Calls:    a.calls,
		Presence: a.presence,
		Notifier: a.router,
		Analyzer: a.analyzer,
	})
	apiSrv.Register(mux)

	mux.Handle("GET /ws/presence", ws.NewPresenceHandler(ws.PresenceHandlerConfig{
		Auth:              a.authn,
		Registry:          a.presence,
		HeartbeatInterval: a.cfg.Presence.HeartbeatInterval.Std(),
		HeartbeatTimeout:  a.cfg.Presence.HeartbeatTimeout.Std(),
		SendQueue:         a.cfg.Presence.SendQueue,
	}))
	mux.Handle("GET /ws/call/{callID}", ws.NewCallHandler(ws.CallHandlerConfig{
		Auth:      a.authn,
		Calls:     a.calls,
		Relay:     a.relay,
		SendQueue: a.cfg.Presence.SendQueue,
	}))

	var checkers []health.Checker
	if p, ok := a.store.(health.Pinger); ok {
		checkers = append(checkers, health.Database(p))
	}
	health.New(checkers...).Register(mux)

	mux.Handle("GET /metrics", promhttp.Handler())

	a.srv = &http.Server{
		Addr:    a.cfg.Server.ListenAddr,
		Handler: observe.Middleware(observe.DefaultMetrics())(mux),
	}
}

// Run serves HTTP and blocks until ctx is cancelled or the listener fails.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = a.srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.srv.Shutdown(sctx)
	})

	slog.Info("app running", "listen_addr", a.cfg.Server.ListenAddr)
	return g.Wait()
}

// Shutdown ends every live call, closes all presence connections, and tears
// down remaining subsystems in reverse-init order. It respects the context
// deadline: if ctx expires, remaining closers are skipped and the context
// error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "live_calls", a.calls.Live(), "online", a.presence.Online())

		if err := a.calls.Close(ctx); err != nil {
			slog.Warn("call registry close error", "err", err)
		}
		if err := a.presence.Close(); err != nil {
			slog.Warn("presence registry close error", "err", err)
		}

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// Handler exposes the assembled HTTP handler, for tests that serve the app
// through httptest.
func (a *App) Handler() http.Handler {
	return a.srv.Handler
}

// unconfiguredSTT rejects every stream start. Used when no transcription API
// key is configured.
type unconfiguredSTT struct{}

func (unconfiguredSTT) StartStream(context.Context, stt.StreamConfig) (stt.SessionHandle, error) {
	return nil, errors.New("app: transcription provider is not configured")
}
