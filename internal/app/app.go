// Package app wires all frontdesk subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP (webhook, media stream, health, metrics) until
// the context is cancelled, and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithOrgProvider,
// WithSink, WithBooker, etc.). When an option is not provided, New creates
// real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voxline/frontdesk/internal/calendar"
	"github.com/voxline/frontdesk/internal/config"
	"github.com/voxline/frontdesk/internal/dialog"
	"github.com/voxline/frontdesk/internal/events"
	"github.com/voxline/frontdesk/internal/health"
	"github.com/voxline/frontdesk/internal/observe"
	"github.com/voxline/frontdesk/internal/orgctx"
	"github.com/voxline/frontdesk/internal/telephony"
	"github.com/voxline/frontdesk/pkg/provider/asr"
	"github.com/voxline/frontdesk/pkg/provider/llm"
	"github.com/voxline/frontdesk/pkg/provider/tts"
)

// drainTimeout bounds the graceful-shutdown wait for in-flight calls.
const drainTimeout = 30 * time.Second

// Providers holds one interface value per pipeline stage. All three are
// required; main.go populates them via the config registry.
type Providers struct {
	ASR asr.Provider
	TTS tts.Provider
	LLM llm.Provider
}

// App owns all subsystem lifetimes and serves the frontdesk HTTP surface.
type App struct {
	cfg       *config.Config
	providers *Providers
	log       *slog.Logger
	metrics   *observe.Metrics
	timers    dialog.Timers

	// Subsystems — initialised in New, torn down in Shutdown.
	pool      *pgxpool.Pool
	orgs      orgctx.Provider
	resolver  *orgctx.Resolver
	static    *orgctx.StaticStore
	sink      events.Sink
	recorder  *events.Recorder
	booker    calendar.Booker
	callStore *telephony.CallStore
	calls     *CallManager
	health    *health.Handler

	// closers are called in reverse order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithLogger sets the application logger. Default: slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(a *App) { a.log = log }
}

// WithMetrics injects a metrics set instead of using the global meter.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithOrgProvider injects an organization resolver instead of building one
// from the config.
func WithOrgProvider(p orgctx.Provider) Option {
	return func(a *App) { a.orgs = p }
}

// WithSink injects a call-record sink instead of Postgres or the no-op sink.
func WithSink(s events.Sink) Option {
	return func(a *App) { a.sink = s }
}

// WithBooker injects a booking client instead of the configured HTTP backend.
func WithBooker(b calendar.Booker) Option {
	return func(a *App) { a.booker = b }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry); ASR, TTS, and LLM
// must all be set.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config must not be nil")
	}
	if providers == nil || providers.ASR == nil || providers.TTS == nil || providers.LLM == nil {
		return nil, errors.New("app: asr, tts, and llm providers are all required")
	}

	a := &App{
		cfg:       cfg,
		providers: providers,
		timers:    cfg.Dialog.Timers(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.log == nil {
		a.log = slog.Default()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Database ──────────────────────────────────────────────────────
	if err := a.initDatabase(ctx); err != nil {
		return nil, fmt.Errorf("app: init database: %w", err)
	}

	// ── 2. Organization resolver ─────────────────────────────────────────
	if err := a.initOrgs(ctx); err != nil {
		return nil, fmt.Errorf("app: init organizations: %w", err)
	}

	// ── 3. Call recorder ─────────────────────────────────────────────────
	if err := a.initRecorder(ctx); err != nil {
		return nil, fmt.Errorf("app: init recorder: %w", err)
	}

	// ── 4. Booking client ────────────────────────────────────────────────
	if err := a.initBooker(); err != nil {
		return nil, fmt.Errorf("app: init booker: %w", err)
	}

	// ── 5. Call store + manager ──────────────────────────────────────────
	a.callStore = telephony.NewCallStore()
	a.closers = append(a.closers, func() error {
		a.callStore.Close()
		return nil
	})
	a.calls = NewCallManager(a.log)

	// ── 6. Health checks ─────────────────────────────────────────────────
	var checkers []health.Checker
	if a.pool != nil {
		checkers = append(checkers, health.DatabaseChecker(a.pool))
	}
	a.health = health.New(checkers...)

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initDatabase connects the PostgreSQL pool when a DSN is configured. Without
// one the server runs entirely on in-memory stores.
func (a *App) initDatabase(ctx context.Context) error {
	dsn := a.cfg.Database.PostgresDSN
	if dsn == "" {
		a.log.Info("no database configured, using in-memory stores")
		return nil
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return fmt.Errorf("connect pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return fmt.Errorf("ping: %w", err)
	}

	a.pool = pool
	a.closers = append(a.closers, func() error {
		pool.Close()
		return nil
	})
	return nil
}

// initOrgs builds the number-to-organization resolver: a Postgres store when
// a database is available, otherwise a static store seeded from the config
// file. An injected provider skips all of this.
func (a *App) initOrgs(ctx context.Context) error {
	if a.orgs != nil {
		return nil
	}

	var store orgctx.Store
	if a.pool != nil {
		pg := orgctx.NewPostgresStore(a.pool)
		if err := pg.Migrate(ctx); err != nil {
			return err
		}
		if err := a.seedOrgs(ctx, pg); err != nil {
			return err
		}
		store = pg
	} else {
		static := orgctx.NewStaticStore()
		loadStaticOrgs(static, a.cfg.Organizations)
		a.static = static
		store = static
	}

	resolver, err := orgctx.NewResolver(store, fallbackOrg(), orgctx.WithLogger(a.log))
	if err != nil {
		return err
	}
	a.resolver = resolver
	a.orgs = resolver
	return nil
}

// seedOrgs upserts the config file's organizations into the Postgres store so
// a file-managed deployment can still run against a database.
func (a *App) seedOrgs(ctx context.Context, store *orgctx.PostgresStore) error {
	for i := range a.cfg.Organizations {
		entry := &a.cfg.Organizations[i]
		if err := store.Upsert(ctx, &entry.OrganizationContext, entry.Numbers); err != nil {
			return fmt.Errorf("seed organization %q: %w", entry.OrgID, err)
		}
	}
	return nil
}

// loadStaticOrgs maps every configured number to its organization context.
func loadStaticOrgs(static *orgctx.StaticStore, orgs []config.OrgConfig) {
	for i := range orgs {
		entry := &orgs[i]
		for _, number := range entry.Numbers {
			static.Put(number, &entry.OrganizationContext)
		}
	}
}

// fallbackOrg is the generic context served when no organization owns the
// dialed number. The agent still answers and can schedule a callback.
func fallbackOrg() *orgctx.OrganizationContext {
	return &orgctx.OrganizationContext{
		OrgID:    "default",
		Name:     "our office",
		Fallback: "I'm sorry, I'm having trouble with that. Let me take your details and someone will follow up with you shortly.",
		Rules:    orgctx.DefaultRules(),
	}
}

// initRecorder wires the call-record pipeline: Postgres when available,
// otherwise a no-op sink.
func (a *App) initRecorder(ctx context.Context) error {
	if a.sink == nil {
		if a.pool != nil {
			pg := events.NewPostgresSink(a.pool)
			if err := pg.Migrate(ctx); err != nil {
				return err
			}
			a.sink = pg
		} else {
			a.sink = events.NoopSink{}
		}
	}

	a.recorder = events.NewRecorder(a.sink, a.log)
	a.closers = append(a.closers, func() error {
		a.recorder.Close()
		return nil
	})
	return nil
}

// initBooker creates the HTTP booking client. Without a configured endpoint
// every booking attempt fails and confirmed calls degrade to callbacks.
func (a *App) initBooker() error {
	if a.booker != nil {
		return nil
	}

	url := a.cfg.Calendar.BookingURL
	if url == "" {
		a.log.Warn("no booking backend configured, confirmed bookings degrade to callbacks")
		a.booker = unavailableBooker{}
		return nil
	}

	timeout := time.Duration(a.cfg.Calendar.TimeoutMs) * time.Millisecond
	var opts []calendar.Option
	if a.cfg.Calendar.AuthToken != "" {
		opts = append(opts, calendar.WithAuthToken(a.cfg.Calendar.AuthToken))
	}
	booker, err := calendar.NewHTTPBooker(url, timeout, opts...)
	if err != nil {
		return err
	}
	a.booker = booker
	return nil
}

// unavailableBooker fails every booking so the dialogue falls back to a
// scheduled callback.
type unavailableBooker struct{}

var _ calendar.Booker = unavailableBooker{}

func (unavailableBooker) Book(context.Context, calendar.Request) (*calendar.Confirmation, error) {
	return nil, errors.New("app: no booking backend configured")
}

// ─── HTTP surface ────────────────────────────────────────────────────────────

// Handler returns the full HTTP routing surface: the inbound-call webhook,
// the media stream WebSocket, health probes, and Prometheus metrics.
//
// The media endpoint is mounted outside the metrics middleware: a media
// socket lives for the whole call and would only distort the request
// histograms.
func (a *App) Handler() http.Handler {
	inner := http.NewServeMux()
	inner.Handle("POST /voice", &telephony.WebhookHandler{
		StreamURL: a.streamURL(),
		Store:     a.callStore,
		Log:       a.log,
	})
	inner.Handle("GET /metrics", promhttp.Handler())
	a.health.Register(inner)

	outer := http.NewServeMux()
	outer.Handle("/", observe.Middleware(a.metrics)(inner))
	outer.HandleFunc("GET /media", a.handleMedia)
	return outer
}

// streamURL is the public WebSocket URL handed to the carrier in TwiML.
func (a *App) streamURL() string {
	host := a.cfg.Server.PublicHost
	if host == "" {
		host = "localhost" + a.listenAddr()
	}
	return "wss://" + host + "/media"
}

func (a *App) listenAddr() string {
	if a.cfg.Server.ListenAddr != "" {
		return a.cfg.Server.ListenAddr
	}
	return ":8080"
}

// ─── Run / Reload / Shutdown ─────────────────────────────────────────────────

// Run serves HTTP until ctx is cancelled, then drains in-flight calls and
// stops the server. It returns ctx.Err() on a clean shutdown.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.listenAddr(),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		errCh <- err
	}()

	a.log.Info("server listening", "addr", srv.Addr, "stream_url", a.streamURL())

	select {
	case err := <-errCh:
		return fmt.Errorf("app: serve: %w", err)
	case <-ctx.Done():
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	if err := a.calls.Drain(drainCtx); err != nil {
		a.log.Warn("call drain incomplete", "error", err)
	}
	if err := srv.Shutdown(drainCtx); err != nil {
		a.log.Warn("http shutdown incomplete", "error", err)
	}
	return ctx.Err()
}

// Reload applies a changed configuration to the running app. Only
// organization routing, scripts, and catalogs are hot-reloadable; server,
// provider, and database changes require a restart.
func (a *App) Reload(old, updated *config.Config) {
	diff := config.Diff(old, updated)
	if !diff.OrgsChanged {
		return
	}

	if a.static != nil {
		loadStaticOrgs(a.static, updated.Organizations)
	}
	if a.resolver != nil {
		for _, change := range diff.OrgChanges {
			for _, number := range numbersFor(old, updated, change.OrgID) {
				a.resolver.Invalidate(number)
			}
			a.log.Info("organization reloaded",
				"org_id", change.OrgID,
				"scripts", change.ScriptsChanged,
				"voice", change.VoiceChanged,
				"catalog", change.CatalogChanged,
				"numbers", change.NumbersChanged,
			)
		}
	}
}

// numbersFor collects an organization's numbers from both config revisions so
// removed routes are invalidated too.
func numbersFor(old, updated *config.Config, orgID string) []string {
	seen := make(map[string]struct{})
	var numbers []string
	for _, cfg := range []*config.Config{old, updated} {
		if cfg == nil {
			continue
		}
		for _, entry := range cfg.Organizations {
			if entry.OrgID != orgID {
				continue
			}
			for _, n := range entry.Numbers {
				key := orgctx.NormalizeE164(n)
				if _, dup := seen[key]; dup {
					continue
				}
				seen[key] = struct{}{}
				numbers = append(numbers, n)
			}
		}
	}
	return numbers
}

// Shutdown tears down all subsystems in reverse initialisation order. Safe to
// call more than once.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	a.stopOnce.Do(func() {
		for i := len(a.closers) - 1; i >= 0; i-- {
			if err := ctx.Err(); err != nil {
				errs = append(errs, fmt.Errorf("app: shutdown deadline: %w", err))
				return
			}
			if err := a.closers[i](); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}
