package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/gvirila/portal/auth"
	"github.com/gvirila/portal/blog"
	"github.com/gvirila/portal/channels"
	"github.com/gvirila/portal/comments"
	"github.com/gvirila/portal/config"
	"github.com/gvirila/portal/dbopen"
	"github.com/gvirila/portal/demochat"
	"github.com/gvirila/portal/encyclopedia"
	"github.com/gvirila/portal/llm"
	"github.com/gvirila/portal/marketplace"
	"github.com/gvirila/portal/mystic"
	"github.com/gvirila/portal/observability"
	"github.com/gvirila/portal/shield"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			setupLogging(cfg.LogLevel())

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return serve(ctx, cfg)
		},
	}
}

// schemas is every table set the server needs, applied at open.
var schemas = []string{
	observability.Schema,
	shield.Schema,
	auth.Schema,
	demochat.Schema,
	marketplace.Schema,
	blog.Schema,
	encyclopedia.Schema,
	comments.Schema,
}

func openDB(cfg *config.Config) (*sql.DB, error) {
	opts := []dbopen.Option{dbopen.WithMkdirAll(), dbopen.WithBusyTimeout(cfg.DB.BusyTimeoutMs)}
	for _, s := range schemas {
		opts = append(opts, dbopen.WithSchema(s))
	}
	return dbopen.Open(cfg.DB.Path, opts...)
}

func serve(ctx context.Context, cfg *config.Config) error {
	db, err := openDB(cfg)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	model, err := newCompleter(ctx, cfg)
	if err != nil {
		return err
	}
	store, err := newLimitStore(ctx, cfg)
	if err != nil {
		return err
	}

	metrics := observability.NewMetricsManager(db, 100, 5*time.Second)
	defer metrics.Close()

	a, err := newApp(ctx, cfg, db, deps{llm: model, store: store, metrics: metrics, notifier: newNotifier(cfg)})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           a.router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server starting", "addr", cfg.Server.Addr, "llm", cfg.LLM.Provider)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	g.Go(func() error {
		a.runBackground(gctx)
		return nil
	})

	err = g.Wait()
	slog.Info("server stopped")
	return err
}

func newCompleter(ctx context.Context, cfg *config.Config) (llm.Completer, error) {
	if cfg.LLM.Provider == "static" {
		reply := cfg.LLM.StaticReply
		if reply == "" {
			reply = "🤖 სატესტო რეჟიმი\nმოდელი გამორთულია."
		}
		return &llm.Static{Reply: reply}, nil
	}
	return llm.NewGemini(ctx, cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.Timeout)
}

// newLimitStore returns the Redis store when configured, else an in-process
// one.
func newLimitStore(ctx context.Context, cfg *config.Config) (shield.Store, error) {
	if cfg.Redis.Addr == "" {
		return shield.NewMemoryStore(), nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	rs := shield.NewRedisStore(rdb, cfg.Redis.Prefix)
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rs.Ping(pctx); err != nil {
		return nil, fmt.Errorf("redis %s: %w", cfg.Redis.Addr, err)
	}
	slog.Info("rate limits shared through redis", "addr", cfg.Redis.Addr)
	return rs, nil
}

func newNotifier(cfg *config.Config) channels.Notifier {
	var ns []channels.Notifier
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		ns = append(ns, channels.NewTelegram(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.WebhookURL != "" {
		ns = append(ns, channels.NewWebhook(cfg.Notify.WebhookURL, cfg.Notify.WebhookSecret))
	}
	if len(ns) == 0 {
		slog.Warn("no order notification channel configured")
		return channels.Nop
	}
	return channels.Multi(ns...)
}

// deps are the outside-world collaborators of the app, swapped in tests.
type deps struct {
	llm      llm.Completer
	store    shield.Store
	metrics  observability.Metrics
	notifier channels.Notifier
}

// app holds every wired service.
type app struct {
	cfg    *config.Config
	db     *sql.DB
	store  shield.Store
	events *observability.EventLogger
	users  *auth.Users

	bots      *demochat.Bots
	chat      *demochat.Service
	market    *marketplace.Service
	posts     *blog.Store
	importer  *blog.Importer
	articles  *encyclopedia.Store
	comments  *comments.Store
	mystic    *mystic.Service
	secret    []byte
	retention observability.RetentionConfig
	metrics   observability.Metrics

	mm *shield.MaintenanceMode
	el *shield.EndpointLimiter
}

func newApp(ctx context.Context, cfg *config.Config, db *sql.DB, d deps) (*app, error) {
	if d.metrics == nil {
		d.metrics = observability.NopMetrics
	}
	if d.notifier == nil {
		d.notifier = channels.Nop
	}
	events := observability.NewEventLogger(db)
	users := auth.NewUsers(db)
	if err := users.SeedAdmin(ctx, cfg.Auth.AdminEmail, cfg.Auth.AdminPassword); err != nil {
		return nil, err
	}

	guard := demochat.NewGuard()
	bots := demochat.NewBots(db)
	posts := blog.NewStore(db)
	cs, err := comments.New(comments.Config{DB: db, Events: events})
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:    cfg,
		db:     db,
		store:  d.store,
		events: events,
		users:  users,
		bots:   bots,
		chat: demochat.NewService(demochat.Config{
			Bots:        bots,
			LLM:         d.llm,
			Limiter:     shield.NewLimiter(d.store, cfg.Demo.RateLimit, cfg.Demo.RateWindow),
			Guard:       guard,
			Events:      events,
			Metrics:     d.metrics,
			MaxMessages: cfg.Demo.MaxMessages,
		}),
		market: marketplace.NewService(marketplace.Config{
			DB:       db,
			Notifier: d.notifier,
			Events:   events,
		}),
		posts:    posts,
		importer: blog.NewImporter(posts, events, d.metrics),
		articles: encyclopedia.NewStore(db),
		comments: cs,
		mystic: mystic.NewService(mystic.Config{
			LLM:     d.llm,
			Limiter: shield.NewLimiter(d.store, cfg.Demo.RateLimit, cfg.Demo.RateWindow),
			Guard:   guard,
			Events:  events,
			Metrics: d.metrics,
		}),
		secret:  cfg.JWTSecret(),
		metrics: d.metrics,
		retention: observability.RetentionConfig{
			EventLogsDays: cfg.Retention.EventDays,
			MetricsDays:   cfg.Retention.MetricsDays,
		},
	}, nil
}

// router builds the full HTTP surface. It must run before runBackground,
// which starts the maintenance and endpoint-rule reloaders it creates.
func (a *app) router() http.Handler {
	// Operators must reach login and the admin API to lift maintenance.
	stack, mm, el := shield.DefaultStack(a.db, a.store, "/api/auth/", "/api/admin/")
	a.mm, a.el = mm, el

	r := chi.NewRouter()
	r.Use(cors(a.cfg.Server.CORSOrigin))
	for _, mw := range stack {
		r.Use(mw)
	}
	r.Use(auth.Middleware(a.secret))

	r.Get("/healthz", a.health)

	chat := demochat.NewHandler(a.chat, a.bots)
	market := marketplace.NewHandler(a.market)
	posts := blog.NewHandler(a.posts, a.importer)
	users := auth.NewHandler(a.users, a.secret, a.cfg.Auth.SessionTTL)

	r.Route("/api/auth", users.Routes)
	r.Route("/api/bots", chat.Routes)
	r.Route("/api/prompts", market.Routes)
	r.Route("/api/posts", posts.Routes)
	r.Route("/api/encyclopedia", a.articles.Routes)
	r.Route("/api/comments", a.comments.Routes)
	r.Route("/api/mystic", a.mystic.Routes)

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(auth.RequireAdmin)
		r.Route("/users", users.AdminRoutes)
		r.Route("/bots", chat.AdminRoutes)
		r.Route("/marketplace", market.AdminRoutes)
		r.Route("/posts", posts.AdminRoutes)
		r.Route("/encyclopedia", a.articles.AdminRoutes)
		r.Route("/comments", a.comments.AdminRoutes)
		a.opsRoutes(r)
	})
	return r
}

func (a *app) health(w http.ResponseWriter, r *http.Request) {
	status, code := "ok", http.StatusOK
	if err := a.db.PingContext(r.Context()); err != nil {
		status, code = "db unavailable", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{"status": status})
}

// runBackground runs the periodic jobs until ctx ends: limiter GC and rule
// reloads, feed imports and retention cleanup.
func (a *app) runBackground(ctx context.Context) {
	done := ctx.Done()
	if ms, ok := a.store.(*shield.MemoryStore); ok {
		ms.StartGC(done, time.Minute)
	}
	if a.mm != nil {
		a.mm.StartReloader(done)
	}
	if a.el != nil {
		a.el.StartReloader(done)
	}

	var g errgroup.Group
	if feeds := a.cfg.Blog.Feeds; len(feeds) > 0 && a.cfg.Blog.ImportInterval > 0 {
		g.Go(func() error {
			every(ctx, a.cfg.Blog.ImportInterval, func() {
				for _, res := range a.importer.ImportAll(ctx, feeds) {
					slog.Info("feed imported", "feed", res.Feed, "stored", res.Stored, "skipped", res.Skipped, "failed", res.Failed)
				}
			})
			return nil
		})
	}
	g.Go(func() error {
		every(ctx, 24*time.Hour, func() {
			if err := observability.Cleanup(ctx, a.db, a.retention); err != nil {
				slog.Warn("retention cleanup", "error", err)
			}
		})
		return nil
	})
	g.Wait()
}

// every runs fn now and then at each tick until ctx ends.
func every(ctx context.Context, interval time.Duration, fn func()) {
	fn()
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			fn()
		}
	}
}

// cors allows the configured front-end origin. Empty disables CORS headers.
func cors(origin string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if origin == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Add("Vary", "Origin")
			if r.Method == http.MethodOptions {
				h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				h.Set("Access-Control-Max-Age", "600")
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
