package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/Dan9191/note-lending/internal/auth"
	"github.com/Dan9191/note-lending/internal/config"
	"github.com/Dan9191/note-lending/internal/handler"
	"github.com/Dan9191/note-lending/internal/integrations/cbr"
	"github.com/Dan9191/note-lending/internal/ledger"
	"github.com/Dan9191/note-lending/internal/lock"
	"github.com/Dan9191/note-lending/internal/notify"
	"github.com/Dan9191/note-lending/internal/registry"
	"github.com/Dan9191/note-lending/internal/repository"
	"github.com/Dan9191/note-lending/internal/repository/migrations"
	"github.com/Dan9191/note-lending/internal/scheduler"
	"github.com/Dan9191/note-lending/internal/service"
)

// accountLedger is what the engine and the HTTP ledger endpoints need
type accountLedger interface {
	service.SettlementLedger
	handler.Ledger
}

// noteRegistry is what the engine and the HTTP registry endpoints need
type noteRegistry interface {
	service.NoteRegistry
	handler.Registry
	Subscribe(l registry.OwnershipListener)
}

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	// Load configuration
	cfg, err := config.NewConfig()
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	logLevel, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Storage: Postgres when DB_CONN is set, in-memory otherwise
	var (
		store repository.Store
		led   accountLedger
		reg   noteRegistry
	)
	if cfg.DBConn != "" {
		db, err := sql.Open("postgres", cfg.DBConn)
		if err != nil {
			logger.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			logger.Fatalf("Failed to ping database: %v", err)
		}
		if err := migrations.Run(ctx, db); err != nil {
			logger.Fatalf("Failed to run migrations: %v", err)
		}
		store = repository.NewRepository(db)
		led = ledger.NewPostgres(db)
		reg = registry.NewPostgres(db)
		logger.Info("Using Postgres storage")
	} else {
		store = repository.NewMemory()
		led = ledger.NewMemory()
		reg = registry.NewMemory()
		logger.Warn("DB_CONN not set, using in-memory storage")
	}

	// Per-note lock: Redis when configured so several replicas can run
	var locker lock.Locker = lock.NewMemory()
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Fatalf("Failed to ping redis: %v", err)
		}
		locker = lock.NewRedis(rdb, cfg.LockTTL, logger)
		logger.WithField("addr", cfg.RedisAddr).Info("Using Redis note locks")
	}

	notifier := notify.Multi{notify.NewLog(logger)}
	if cfg.EmailEnabled() {
		notifier = append(notifier, notify.NewEmail(cfg, logger))
	}

	// Initialize layers
	engine := service.NewEngine(store, reg, led, locker, notifier, logger, service.Options{
		EarlyPayoffFeeBps:     cfg.EarlyPayoffFeeBps,
		AccelerationThreshold: cfg.AccelerationThreshold,
	})
	reg.Subscribe(engine.HandleOwnershipChange)

	issuer := auth.NewIssuer(cfg.JWTSecret, cfg.JWTTTL)
	login := auth.NewMonitorLogin(cfg.MonitorKeyHash, issuer)
	var roles []string
	if login.Enabled() {
		roles = append(roles, auth.RoleMonitor)
	} else {
		logger.Warn("MONITOR_KEY_HASH not set, delinquency reports are disabled")
	}
	cbrClient := cbr.NewCBRClient(cfg, logger)
	h := handler.NewHandler(engine, reg, led, login, cbrClient, logger)

	// Setup router
	r := mux.NewRouter()
	r.Use(auth.Middleware(issuer, roles...))
	h.Routes(r)

	sched := scheduler.New(ctx, engine, logger)
	if err := sched.Start(cfg.CycleCron); err != nil {
		logger.Fatalf("Invalid CYCLE_CRON %q: %v", cfg.CycleCron, err)
	}
	defer sched.Stop()

	// Start server
	addr := fmt.Sprintf(":%s", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Errorf("Server shutdown failed: %v", err)
		}
	}()

	logger.Infof("Starting server on %s", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalf("Server failed: %v", err)
	}
	logger.Info("Server stopped")
}
