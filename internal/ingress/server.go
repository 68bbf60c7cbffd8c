// Package ingress is the HTTP-facing callback surface: it accepts inbound
// event batches from the backends, applies dedup and the origin whitelist,
// acknowledges fast, and hands the batch to asynchronous processing (entity
// enrichment and relay, or a data-alert run).
package ingress

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"golang.org/x/time/rate"

	"notigate/internal/alert"
	"notigate/internal/backend"
	"notigate/internal/eventbus"
	"notigate/internal/registry"
	"notigate/internal/relay"
	"notigate/internal/runtime/supervisor"
	"notigate/pkg/logx"
)

const defaultRatePerSec = 50

// Options wires the server's collaborators.
type Options struct {
	Log        logx.Logger
	Registry   *registry.Store
	Dispatcher *relay.Dispatcher
	Alerts     *alert.Runner
	Bus        eventbus.Bus

	// AdminSecret guards the /api surface. Empty leaves it unmounted.
	AdminSecret string

	// RatePerSec caps inbound requests; 0 applies the default.
	RatePerSec int

	// Verify re-parses and validates the on-disk configuration without
	// committing it. Backs POST /api/verify-config.
	Verify func(ctx context.Context) error

	// Deregister best-effort removes a backend subscription whose id the
	// registry no longer knows. May be nil.
	Deregister func(ctx context.Context, id string)
}

type Server struct {
	log        logx.Logger
	registry   *registry.Store
	dispatcher *relay.Dispatcher
	alerts     *alert.Runner
	bus        eventbus.Bus
	verify     func(ctx context.Context) error
	deregister func(ctx context.Context, id string)

	limiter *rate.Limiter
	sup     *supervisor.Supervisor
	router  chi.Router
}

func New(opts Options) *Server {
	if opts.Log.IsZero() {
		opts.Log = logx.Nop()
	}
	perSec := opts.RatePerSec
	if perSec <= 0 {
		perSec = defaultRatePerSec
	}

	s := &Server{
		log:        opts.Log,
		registry:   opts.Registry,
		dispatcher: opts.Dispatcher,
		alerts:     opts.Alerts,
		bus:        opts.Bus,
		verify:     opts.Verify,
		deregister: opts.Deregister,
		limiter:    rate.NewLimiter(rate.Limit(perSec), perSec),
		sup:        supervisor.NewSupervisor(context.Background(), supervisor.WithLogger(opts.Log)),
	}

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"*"},
	}))
	r.Use(s.rateLimit)

	r.Post("/notifications/callback/{notificationID}", s.handleCallback)
	r.Post("/health", s.handleHealth)
	r.Get("/health", s.handleHealth)

	if opts.AdminSecret != "" {
		r.Route("/api", func(r chi.Router) {
			r.Use(requireSecret(opts.AdminSecret))
			r.Post("/reload-config", s.handleReload)
			r.Post("/verify-config", s.handleVerify)
		})
	}

	s.router = r
	return s
}

// Handler exposes the routed surface, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Serve runs the listener until ctx is cancelled, then drains the in-flight
// processing goroutines.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := srv.Shutdown(shutCtx)

	drainCtx, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel2()
	if werr := s.sup.Stop(drainCtx); werr != nil && err == nil && !errors.Is(werr, context.DeadlineExceeded) {
		err = werr
	}
	return err
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// handleCallback is the intake path. The acknowledgement always precedes
// enrichment and dispatch: the backend's retry semantics want a fast 200
// independent of sink latency.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "notificationID")

	var events []backend.Event
	if err := json.NewDecoder(r.Body).Decode(&events); err != nil {
		s.log.Warn("malformed callback body", logx.String("notification", id), logx.Err(err))
		w.WriteHeader(http.StatusOK)
		return
	}

	// One snapshot for the whole request. A concurrent reload swaps the
	// pointer but never this capture.
	snap := s.registry.Current()

	n, ok := snap.Notification(id)
	if !ok {
		s.log.Debug("callback for unknown notification", logx.String("notification", id))
		w.WriteHeader(http.StatusOK)
		if s.deregister != nil {
			s.sup.Go0("deregister."+id, func(ctx context.Context) {
				s.deregister(ctx, id)
			})
		}
		return
	}

	events = Dedup(events)

	// Whitelist gate. Disabled notifications are admitted unconditionally and
	// treated as inert below.
	if n.IsEnabled() && !n.Options.DisableCors {
		envHost := ""
		if env, ok := snap.Environment(n.Environment); ok {
			envHost = env.Host
		}
		origin := requestOrigin(r)
		if !originAllowed(origin, envHost, n.Options.Whitelist) {
			s.log.Warn("callback origin rejected",
				logx.String("notification", id), logx.String("origin", origin))
			http.Error(w, "origin not whitelisted", http.StatusForbidden)
			return
		}
	}

	w.WriteHeader(http.StatusOK)

	if !n.IsEnabled() || len(events) == 0 {
		return
	}
	s.sup.Go0("process."+id, func(ctx context.Context) {
		s.process(ctx, snap, n, events)
	})
}

func (s *Server) handleReload(w http.ResponseWriter, _ *http.Request) {
	s.bus.Publish(eventbus.ReloadConfig())
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "reloading"})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s.verify == nil {
		w.WriteHeader(http.StatusNotImplemented)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "verification not configured"})
		return
	}
	if err := s.verify(r.Context()); err != nil {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]bool{"valid": true})
}

func requireSecret(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("X-Admin-Secret") != secret {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Dedup collapses a batch to one event per originating entity, preserving
// first-seen order.
func Dedup(events []backend.Event) []backend.Event {
	if len(events) < 2 {
		return events
	}
	seen := make(map[string]struct{}, len(events))
	out := events[:0:0]
	for _, ev := range events {
		key := ev.EntityKey()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, ev)
	}
	return out
}
