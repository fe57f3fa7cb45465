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

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/mind-engage/mindengage-editor/internal/auth"
	"github.com/mind-engage/mindengage-editor/internal/config"
	"github.com/mind-engage/mindengage-editor/internal/entity"
	"github.com/mind-engage/mindengage-editor/internal/lti"
	"github.com/mind-engage/mindengage-editor/internal/rbac"
	ltikit "github.com/mind-engage/mindengage-editor/pkg/platform/lti"
	"github.com/mind-engage/mindengage-editor/pkg/platform/nonce"
	"github.com/mind-engage/mindengage-editor/pkg/platform/storage"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "editord:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	secrets, err := auth.DeriveSecrets(cfg.ToolSecret)
	if err != nil {
		return err
	}
	registry, err := lti.LoadRegistry(cfg.RegistryFile)
	if err != nil {
		return err
	}

	// --- DB ---
	dbCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	db, err := storage.Connect(dbCtx, cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return fmt.Errorf("db open: %w", err)
	}
	defer db.Close()
	if err := storage.Up(dbCtx, db); err != nil {
		return fmt.Errorf("db migrate: %w", err)
	}

	entities := entity.NewSQLStore(db)
	if cfg.Local() {
		e, err := entity.SeedLocalFixture(dbCtx, entities)
		if err != nil {
			return fmt.Errorf("seed local fixture: %w", err)
		}
		log.Info("local fixture entity", slog.Int64("entity_id", e.ID), slog.String("custom_claim_id", e.CustomClaimID))
	}

	nonces, closeNonces, err := openNonceStore(ctx, cfg, db, log)
	if err != nil {
		return err
	}
	defer closeNonces()

	keys, err := ltikit.NewKeyRing(ltikit.KeyRingOptions{})
	if err != nil {
		return err
	}
	log.Info("signing key ready", slog.String("kid", keys.KID()))

	outbound := &http.Client{Timeout: 15 * time.Second}
	accessTokens := auth.NewCodec(secrets.AccessToken, cfg.AccessTokenTTL)
	svc := &lti.Service{
		PublicURL:         cfg.PublicURL,
		Registry:          registry,
		KeySets:           &lti.RemoteKeySets{HTTP: outbound},
		Keys:              keys,
		Nonces:            nonces,
		Entities:          entities,
		AccessTokens:      accessTokens,
		LaunchKeys:        auth.NewLaunchKeyCodec(secrets.LaunchKey, cfg.LaunchKeyTTL),
		Policy:            rbac.DefaultPolicy,
		TestingSecret:     cfg.TestingSecret,
		EmbedDeploymentID: cfg.EmbedDeploymentID,
		DetailsTokenTTL:   cfg.DetailsTokenTTL,
		HTTP:              outbound,
		Log:               log,
	}

	// --- Router ---
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	svc.Mount(r)
	(&entity.Handlers{Store: entities, Tokens: accessTokens, Log: log}).Mount(r)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	log.Info("listening",
		slog.String("addr", cfg.HTTPAddr),
		slog.String("mode", string(cfg.Mode)),
		slog.String("db", db.Driver),
		slog.String("nonce_backend", cfg.NonceBackend))

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()
	return srv.Shutdown(shutdownCtx)
}

func newLogger(cfg config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if cfg.LogJSON {
		h = slog.NewJSONHandler(os.Stderr, opts)
	}
	log := slog.New(h).With(slog.String("service", "editord"))
	slog.SetDefault(log)
	return log
}

// openNonceStore builds the configured backend. Memory and SQL get a purge
// loop bound to ctx.
func openNonceStore(ctx context.Context, cfg config.Config, db *storage.DB, log *slog.Logger) (nonce.Store, func(), error) {
	switch cfg.NonceBackend {
	case "memory":
		m := nonce.NewMemory(nonce.WithExpiry(nonceExpiry(cfg)))
		go m.Run(ctx, time.Minute)
		return m, func() {}, nil
	case "redis":
		client, err := nonce.DialRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return nonce.NewRedis(client, nonce.WithRecordExpiry(nonceExpiry(cfg))), client.Close, nil
	default:
		s := nonce.NewSQL(db, nonceExpiry(cfg))
		go purgeLoop(ctx, s, time.Minute, log)
		return s, func() {}, nil
	}
}

func nonceExpiry(cfg config.Config) nonce.Expiry {
	return nonce.Expiry{
		Default: cfg.NonceTTL,
		Kinds: map[nonce.Kind]time.Duration{
			nonce.KindEmbedSession: cfg.EmbedSessionTTL,
			nonce.KindDeepLink:     cfg.DeepLinkNonceTTL,
		},
	}
}

func purgeLoop(ctx context.Context, s *nonce.SQL, every time.Duration, log *slog.Logger) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := s.Purge(ctx)
			if err != nil {
				log.Warn("nonce purge", slog.Any("error", err))
				continue
			}
			if n > 0 {
				log.Debug("nonce purge", slog.Int64("removed", n))
			}
		}
	}
}
