package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/collapsinghierarchy/rewardgate/config"
	"github.com/collapsinghierarchy/rewardgate/notify"
	"github.com/collapsinghierarchy/rewardgate/pkc/digest"
	"github.com/collapsinghierarchy/rewardgate/routes"
	"github.com/collapsinghierarchy/rewardgate/service"
	"github.com/collapsinghierarchy/rewardgate/session"
	"github.com/collapsinghierarchy/rewardgate/store"
	"github.com/collapsinghierarchy/rewardgate/store/postgres"
	"github.com/collapsinghierarchy/rewardgate/store/rest"
	"github.com/collapsinghierarchy/rewardgate/store/sqlite"
)

func main() {
	//----------------------------------------------------------------------
	// 1. env config
	//----------------------------------------------------------------------
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	setupLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	//----------------------------------------------------------------------
	// 2. storage gateway
	//----------------------------------------------------------------------
	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.StoreDriver).Msg("open store")
	}
	defer closeStore()

	//----------------------------------------------------------------------
	// 3. domain → service → API handlers
	//----------------------------------------------------------------------
	hasher, err := digest.New(digest.Algorithm(cfg.DigestAlgo))
	if err != nil {
		log.Fatal().Err(err).Msg("digest")
	}

	var pub notify.Publisher = notify.Nop{}
	if cfg.NATSURL != "" {
		nc := notify.DefaultNATSConfig()
		nc.URL = cfg.NATSURL
		nc.Subject = cfg.NATSSubject
		np, err := notify.NewNATSPublisher(nc)
		if err != nil {
			log.Fatal().Err(err).Str("url", cfg.NATSURL).Msg("connect nats")
		}
		pub = np
	}
	defer pub.Close()

	clock := clockwork.NewRealClock()
	svc := service.New(st, cfg.RewardLimit,
		service.WithTimeout(cfg.RequestTimeout),
		service.WithHasher(hasher),
		service.WithClock(clock),
		service.WithPublisher(pub),
	)

	sessions := session.NewRegistry(clock, cfg.SessionTTL, cfg.MaxSessions)
	go sessions.Run(ctx, time.Minute)

	proxies, err := cfg.TrustedProxyPrefixes()
	if err != nil {
		log.Fatal().Err(err).Msg("trusted proxies")
	}
	handler := routes.SetupRoutes(svc, sessions, routes.Options{
		CORSOrigins:     cfg.CORSOrigins,
		RateLimitBurst:  cfg.RateLimitBurst,
		RateLimitMinute: cfg.RateLimitMinute,
		TrustedProxies:  proxies,
		WebDir:          cfg.WebDir,
	})

	//----------------------------------------------------------------------
	// 4. HTTP server with graceful shutdown
	//----------------------------------------------------------------------
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().
			Str("addr", srv.Addr).
			Str("driver", cfg.StoreDriver).
			Int("limit", cfg.RewardLimit).
			Msg("rewardgate listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("ListenAndServe")
		}
	}()

	<-ctx.Done()

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown")
	}
}

func setupLogger(cfg config.Config) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	if cfg.LogFormat == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
}

// openStore returns the configured gateway and a func releasing it.
func openStore(ctx context.Context, cfg config.Config) (store.Store, func(), error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		pool, err := pgxpool.New(connectCtx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if cfg.AutoMigrate {
			if err := postgres.CreateSchema(connectCtx, pool); err != nil {
				pool.Close()
				return nil, nil, err
			}
		}
		return postgres.NewStore(pool), pool.Close, nil

	case config.DriverREST:
		rs := rest.NewStore(cfg.RESTURL, cfg.RESTAPIKey)
		rs.SetTimeout(cfg.RequestTimeout)
		return rs, func() {}, nil

	case config.DriverSQLite:
		ls, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return ls, func() {
			if err := ls.Close(); err != nil {
				log.Warn().Err(err).Msg("close sqlite")
			}
		}, nil
	}
	return nil, nil, errors.New("unknown store driver " + cfg.StoreDriver)
}
