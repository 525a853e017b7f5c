package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/dylantcon/countertrak/internal/auth"
	"github.com/dylantcon/countertrak/internal/config"
	"github.com/dylantcon/countertrak/internal/gsi"
	"github.com/dylantcon/countertrak/internal/handlers"
	"github.com/dylantcon/countertrak/internal/livestate"
	"github.com/dylantcon/countertrak/internal/store"
	"github.com/dylantcon/countertrak/internal/worker"
)

func main() {
	// Best effort; absent .env just means plain env vars.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	if err := run(cfg, logger, sugar); err != nil {
		sugar.Fatalw("server exited", "error", err)
	}
}

func run(cfg *config.Config, logger *zap.Logger, sugar *zap.SugaredLogger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Postgres is the system of record; without it there is nothing to do.
	pg, err := pgxpool.New(ctx, cfg.PostgresURL())
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	defer pg.Close()
	if err := pg.Ping(ctx); err != nil {
		return fmt.Errorf("pinging postgres: %w", err)
	}

	st := store.New(pg, sugar, cfg.DBTimeout)
	if err := st.LoadWeapons(ctx); err != nil {
		return err
	}

	tokens := auth.New(auth.Config{
		Source:          st,
		Logger:          sugar,
		RefreshInterval: cfg.TokenRefreshInterval,
		LegacyToken:     cfg.LegacyAuthToken,
	})
	if err := tokens.Initialize(ctx); err != nil {
		return fmt.Errorf("initializing token cache: %w", err)
	}

	// ClickHouse and Redis are optional collaborators. When unset the
	// analytics sink and live mirror are simply absent.
	var ch driver.Conn
	var pool *worker.Pool
	if cfg.ClickHouseURL != "" {
		ch, err = openClickHouse(ctx, cfg.ClickHouseURL)
		if err != nil {
			return fmt.Errorf("connecting to clickhouse: %w", err)
		}
		defer ch.Close()

		pool = worker.NewPool(worker.PoolConfig{
			WorkerCount:   cfg.WorkerCount,
			QueueSize:     cfg.QueueSize,
			BatchSize:     cfg.BatchSize,
			FlushInterval: cfg.FlushInterval,
			ClickHouse:    ch,
			Logger:        logger,
		})
		pool.Start(context.Background())
	}

	var rdb *redis.Client
	var mirror *livestate.Mirror
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parsing redis url: %w", err)
		}
		rdb = redis.NewClient(opt)
		defer rdb.Close()
		mirror = livestate.NewMirror(rdb, sugar)
	}

	mgrCfg := gsi.ManagerConfig{
		Store:           st,
		Logger:          sugar,
		IdleTimeout:     cfg.MatchIdleTimeout,
		DispatchWorkers: cfg.DispatchWorkers,
		QueueSize:       cfg.IngestQueueSize,
	}
	if pool != nil {
		mgrCfg.Sink = pool
	}
	if mirror != nil {
		mgrCfg.Live = mirror
	}
	manager := gsi.NewManager(mgrCfg)
	manager.Start()

	hCfg := handlers.Config{
		Manager:     manager,
		Tokens:      tokens,
		Postgres:    pg,
		ClickHouse:  ch,
		Redis:       rdb,
		Logger:      logger,
		MaxBodySize: cfg.RequestBodyMaxBytes,
	}
	if pool != nil {
		hCfg.Sink = pool
	}
	h := handlers.New(hCfg)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(h.AccessLog)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Post("/", h.IngestSnapshot)
	r.Get("/status", h.Status)
	r.Get("/healthz", h.Health)
	r.Get("/readyz", h.Ready)
	r.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:        cfg.ListenAddr(),
		Handler:     r,
		ReadTimeout: cfg.ReadTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sugar.Infow("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// Periodic token refresh keeps newly registered accounts usable
	// without a restart.
	g.Go(func() error {
		ticker := time.NewTicker(cfg.TokenRefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if err := tokens.Refresh(gctx); err != nil {
					sugar.Warnw("token refresh failed", "error", err)
				}
			}
		}
	})

	// Routing sweeps on every snapshot, but if traffic stops entirely the
	// abandoned matches would sit unflushed until shutdown.
	g.Go(func() error {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				manager.Sweep(gctx)
			}
		}
	})

	g.Go(func() error {
		<-gctx.Done()
		sugar.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			sugar.Warnw("http shutdown", "error", err)
		}

		// Flush in-flight matches before the pools close.
		manager.Shutdown(shutdownCtx)
		if pool != nil {
			pool.Stop()
		}
		return nil
	})

	return g.Wait()
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if err := level.Set(strings.ToLower(cfg.LogLevel)); err != nil {
		level = zapcore.InfoLevel
	}

	var zc zap.Config
	if cfg.Env == "production" {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

func openClickHouse(ctx context.Context, url string) (driver.Conn, error) {
	opts, err := clickhouse.ParseDSN(url)
	if err != nil {
		return nil, err
	}
	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, err
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}
