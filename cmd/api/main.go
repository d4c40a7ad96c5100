package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cardbuff/cardstats/internal/adapters/httpapi"
	logbadge "github.com/cardbuff/cardstats/internal/adapters/logging/badge"
	lognotifier "github.com/cardbuff/cardstats/internal/adapters/logging/notifier"
	memsource "github.com/cardbuff/cardstats/internal/adapters/memory/cardsource"
	memkvstore "github.com/cardbuff/cardstats/internal/adapters/memory/kvstore"
	postgres "github.com/cardbuff/cardstats/internal/adapters/postgres"
	pgkvstore "github.com/cardbuff/cardstats/internal/adapters/postgres/kvstore"
	rediskvstore "github.com/cardbuff/cardstats/internal/adapters/redis/kvstore"
	"github.com/cardbuff/cardstats/internal/app/cache"
	"github.com/cardbuff/cardstats/internal/app/counter"
	"github.com/cardbuff/cardstats/internal/app/fetch"
	"github.com/cardbuff/cardstats/internal/app/ratelimit"
	"github.com/cardbuff/cardstats/internal/app/resolver"
	"github.com/cardbuff/cardstats/internal/app/scheduler"
	"github.com/cardbuff/cardstats/internal/app/state"
	platformclock "github.com/cardbuff/cardstats/internal/platform/clock"
	"github.com/cardbuff/cardstats/internal/platform/config"
	kvstoreport "github.com/cardbuff/cardstats/internal/ports/out/kvstore"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel(cfg.LogLevel)}))
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		store   kvstoreport.Store
		cleanup func()
	)
	switch cfg.StorageBackend {
	case "postgres":
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, postgres.PoolOptions{})
		if err != nil {
			log.Error("postgres connection failed", "error", err)
			os.Exit(1)
		}
		cleanup = pool.Close
		pg := pgkvstore.NewStore(pool)
		if err := pg.InitSchema(ctx); err != nil {
			log.Error("postgres schema init failed", "error", err)
			os.Exit(1)
		}
		store = pg
	case "redis":
		rs, err := rediskvstore.NewStore(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			log.Error("redis connection failed", "error", err)
			os.Exit(1)
		}
		cleanup = func() { _ = rs.Close() }
		store = rs
	default:
		store = memkvstore.NewStore()
	}
	if cleanup != nil {
		defer cleanup()
	}
	store = kvstoreport.Prefixed(store, cfg.KeyPrefix)

	clk := platformclock.NewSystemClock()
	notify := lognotifier.NewNotifier(log)
	sink := logbadge.NewSink(log)
	source := memsource.NewSource()

	limiter := ratelimit.NewLimiter(ratelimit.DefaultConfig(), store, clk, notify, log)
	if err := limiter.Load(ctx); err != nil {
		log.Error("rate limit window load failed", "error", err)
		os.Exit(1)
	}

	cards := cache.NewService(cache.DefaultConfig(), store, clk, log)
	if err := cards.Load(ctx); err != nil {
		log.Error("cache load failed", "error", err)
		os.Exit(1)
	}

	st := state.NewService(store, log)
	if err := st.Load(ctx); err != nil {
		log.Error("enabled flag load failed", "error", err)
		os.Exit(1)
	}

	client := fetch.NewClient(fetch.DefaultConfig(), limiter, notify, log)
	counts := counter.NewEstimator(counter.DefaultConfig(cfg.SiteBaseURL), client, log)
	refs := resolver.New(resolver.DefaultConfig(cfg.SiteBaseURL), client, log)
	sched := scheduler.New(scheduler.DefaultConfig(), counts, refs, cards, st, source, sink, log)

	api := httpapi.NewServer(ctx, cards, limiter, st, sched, source, log)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           httpapi.NewRouter(api),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("control api listening", "port", cfg.Port, "backend", cfg.StorageBackend)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("listen failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	sched.CancelRun()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	if err := cards.Close(shutdownCtx); err != nil {
		log.Warn("final cache flush failed", "error", err)
	}
}

func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
