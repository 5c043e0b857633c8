package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/iliyamo/fitting-room-service/internal/config"
	"github.com/iliyamo/fitting-room-service/internal/database"
	"github.com/iliyamo/fitting-room-service/internal/handler"
	"github.com/iliyamo/fitting-room-service/internal/inference"
	"github.com/iliyamo/fitting-room-service/internal/logger"
	"github.com/iliyamo/fitting-room-service/internal/middleware"
	"github.com/iliyamo/fitting-room-service/internal/queue"
	"github.com/iliyamo/fitting-room-service/internal/repository"
	"github.com/iliyamo/fitting-room-service/internal/repository/memstore"
	"github.com/iliyamo/fitting-room-service/internal/router"
	"github.com/iliyamo/fitting-room-service/internal/service"
)

func main() {
	// A missing .env is fine; the environment may already be populated.
	_ = godotenv.Load()
	cfg := config.Load()

	lg, err := logger.New(cfg.LogLevel, cfg.IsDev())
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, db, err := openStore(ctx, cfg, lg)
	if err != nil {
		lg.Fatal("open store", zap.Error(err))
	}
	if db != nil {
		defer db.Close()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := service.NewMetrics(reg)

	gw := inference.NewClient(cfg.Inference.URL, cfg.Inference.Timeout, cfg.Inference.RetryCount, lg.Named("inference"))
	alerts := service.NewAlertManager(store, lg.Named("alerts"))
	coord := service.NewCoordinator(store, gw, alerts, service.CoordinatorConfig{
		FallbackPredictedMinutes: cfg.Inference.FallbackPredictedMinutes,
		FailOpen:                 cfg.Inference.FailOpen,
	}, lg.Named("coordinator"), metrics)

	// Session closes run on an in-process pool or on a RabbitMQ consumer.
	// Either way the sweeper re-dispatches closes that were lost.
	var (
		dispatcher service.Dispatcher
		pool       *service.WorkerPool
		done       = make(chan struct{})
	)
	switch cfg.Coordinator.DispatchMode {
	case config.DispatchRabbitMQ:
		dispatcher = queue.NewPublisher(cfg.Coordinator.RabbitMQURL, lg.Named("publisher"))
		consumer := queue.NewConsumer(cfg.Coordinator.RabbitMQURL, cfg.Coordinator.Workers, coord.Handle, lg.Named("consumer"))
		go func() {
			defer close(done)
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				lg.Error("consumer stopped", zap.Error(err))
			}
		}()
	default:
		pool = service.NewWorkerPool(coord.Handle, service.PoolConfig{
			Workers:     cfg.Coordinator.Workers,
			QueueSize:   cfg.Coordinator.QueueSize,
			MaxAttempts: cfg.Coordinator.MaxAttempts,
			Backoff:     cfg.Coordinator.Backoff,
		}, lg.Named("pool"), metrics)
		// Workers outlive the signal so in-flight closes finish; Stop drains them.
		pool.Start(context.WithoutCancel(ctx))
		dispatcher = pool
		close(done)
	}

	sweeper := service.NewSweeper(store, dispatcher, cfg.Coordinator.SweepInterval, lg.Named("sweeper"), metrics)
	go sweeper.Run(ctx)

	rooms := service.NewRoomService(store, gw, alerts, dispatcher, service.RoomConfig{
		FallbackPredictedMinutes: cfg.Inference.FallbackPredictedMinutes,
		AssignFallback:           cfg.Inference.AssignFallback,
	}, lg.Named("rooms"), metrics)
	unlocks := service.NewUnlockService(store, lg.Named("unlock"))

	rdb := config.NewRedisClient(config.LoadRedisConfig())
	if rdb == nil {
		lg.Warn("redis unavailable; rate limiting disabled")
	} else {
		defer rdb.Close()
	}
	limiter := middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb, lg.Named("ratelimit"))

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())
	e.Use(middleware.RequestLogger(lg.Named("http")))

	var pinger handler.Pinger
	if db != nil {
		pinger = db
	}
	router.RegisterRoutes(e, pinger, reg)
	router.RegisterAPI(e, router.Handlers{
		Rooms:   handler.NewRoomHandler(rooms, lg.Named("http")),
		Alerts:  handler.NewAlertHandler(alerts, lg.Named("http")),
		Unlocks: handler.NewUnlockHandler(unlocks, lg.Named("http")),
	}, cfg.JWTSecret, limiter)

	addr := ":" + cfg.Port
	go func() {
		lg.Info("listening",
			zap.String("addr", addr),
			zap.String("env", cfg.Env),
			zap.String("store", cfg.StoreDriver),
			zap.String("dispatch", cfg.Coordinator.DispatchMode))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Fatal("server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	lg.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		lg.Error("http shutdown", zap.Error(err))
	}
	if pool != nil {
		pool.Stop()
	}
	<-done
}

// openStore returns the configured Store.  The *sql.DB is nil for the
// memory store.
func openStore(ctx context.Context, cfg config.Config, lg *zap.Logger) (repository.Store, *sql.DB, error) {
	if cfg.StoreDriver == config.StoreMemory {
		mem := memstore.New()
		mem.Seed(cfg.MemoryRooms, memstore.DefaultCatalogue)
		lg.Warn("using in-memory store; state is lost on restart", zap.Int("rooms", cfg.MemoryRooms))
		return mem, nil, nil
	}
	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		return nil, nil, err
	}
	if cfg.DBMigrate {
		if err := database.Migrate(ctx, db); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		lg.Info("schema applied")
	}
	return repository.NewMySQLStore(db), db, nil
}
