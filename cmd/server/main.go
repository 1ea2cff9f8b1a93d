package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/iliyamo/court-reservation/internal/booking"
	"github.com/iliyamo/court-reservation/internal/clock"
	"github.com/iliyamo/court-reservation/internal/config"
	"github.com/iliyamo/court-reservation/internal/database"
	"github.com/iliyamo/court-reservation/internal/gateway"
	"github.com/iliyamo/court-reservation/internal/handler"
	"github.com/iliyamo/court-reservation/internal/logger"
	"github.com/iliyamo/court-reservation/internal/middleware"
	"github.com/iliyamo/court-reservation/internal/model"
	"github.com/iliyamo/court-reservation/internal/notify"
	"github.com/iliyamo/court-reservation/internal/repository"
	"github.com/iliyamo/court-reservation/internal/repository/memstore"
	"github.com/iliyamo/court-reservation/internal/router"
	"github.com/iliyamo/court-reservation/internal/scheduler"
	"github.com/iliyamo/court-reservation/internal/service"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.Env)
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clk := clock.System{}

	store, closeStore := openStore(ctx, cfg, log)
	defer closeStore()

	table, err := config.LoadCommissionTable(cfg.CommissionTable)
	if err != nil {
		log.Fatal("load commission table", zap.Error(err))
	}

	var gw gateway.Gateway
	var sandbox *handler.SandboxHandler
	switch cfg.Gateway {
	case config.GatewayWebpay:
		gw = gateway.NewWebpay(cfg.Webpay.BaseURL, cfg.Webpay.CommerceCode, cfg.Webpay.APIKey, &http.Client{Timeout: cfg.GatewayTimeout})
	case config.GatewaySandbox:
		fake := gateway.NewFake("http://localhost:" + cfg.Port + "/sandbox/pay")
		gw = fake
		sandbox = handler.NewSandboxHandler(fake, cfg.Webpay.ReturnURL)
		log.Warn("using the sandbox gateway, payments are simulated", zap.String("env", cfg.Env))
	default:
		log.Fatal("unknown gateway", zap.String("gateway", cfg.Gateway))
	}

	var notifier booking.Notifier = notify.Nop{}
	if cfg.AMQPURL != "" {
		notifier = notify.NewPublisher(cfg.AMQPURL, clk, log.Named("notify"))
	}

	svc := service.NewBookingService(store, gw, notifier, clk, service.Options{
		HoldTTL:        cfg.HoldTTL,
		GatewayTimeout: cfg.GatewayTimeout,
		NotifyTimeout:  cfg.NotifyTimeout,
		ReturnURL:      cfg.Webpay.ReturnURL,
		Commission:     table,
		Location:       cfg.Location,
	}, log)

	rdb := config.NewRedisClient()
	if rdb != nil {
		defer rdb.Close()
	}

	depositsAt, err := model.ParseTimeOfDay(cfg.DepositsAt)
	if err != nil {
		log.Fatal("parse DEPOSITS_AT", zap.Error(err))
	}
	sched := scheduler.New(svc.Holds(), svc.Payments(), svc.Deposits(), scheduler.NewRedisLocker(rdb, "court"), clk, scheduler.Config{
		ReapEvery:      cfg.ReapEvery,
		ReconcileEvery: cfg.ReconcileEvery,
		ReconcileAfter: cfg.ReconcileAfter,
		DepositsAt:     depositsAt,
		Location:       cfg.Location,
	}, log.Named("scheduler"))
	sched.Start(ctx)
	defer sched.Stop()

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(middleware.RequestLogger(log.Named("http")))

	deps := map[string]handler.Pinger{"store": svc}
	if rdb != nil {
		deps["redis"] = redisPinger(rdb)
	}
	router.RegisterRoutes(e, router.Deps{
		Booking:   handler.NewBookingHandler(svc, log.Named("http")),
		Admin:     handler.NewAdminHandler(svc, log.Named("http")),
		Sandbox:   sandbox,
		Ready:     handler.Ready(deps),
		RateLimit: middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb),
		JWTSecret: cfg.JWTSecret,
	})

	addr := ":" + cfg.Port
	go func() {
		log.Info("listening", zap.String("addr", addr), zap.String("env", cfg.Env),
			zap.String("storage", cfg.Storage), zap.String("gateway", cfg.Gateway), zap.String("timezone", cfg.Timezone))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http server", zap.Error(err))
		}
	}()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch
	log.Info("shutting down")
	cancel()

	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", zap.Error(err))
	}
}

func openStore(ctx context.Context, cfg config.Config, log *zap.Logger) (service.Store, func()) {
	if cfg.Storage == config.StorageMemory {
		log.Warn("using in-memory storage, data is lost on restart")
		return seededMemstore(), func() {}
	}
	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatal("open database", zap.Error(err))
	}
	if cfg.MigrateOnStart {
		if err := database.Migrate(ctx, db, log.Named("migrate")); err != nil {
			log.Fatal("migrate", zap.Error(err))
		}
	}
	return repository.NewStore(db), func() { _ = db.Close() }
}

// seededMemstore returns a store with one complex and two courts so the
// in-memory server is usable straight away.
func seededMemstore() *memstore.Store {
	s := memstore.New()
	cx := s.AddComplex(model.Complex{Name: "Demo Complex"})
	s.AddCourt(model.Court{ComplexID: cx.ID, Name: "Court 1", PricePerHour: 10000})
	s.AddCourt(model.Court{ComplexID: cx.ID, Name: "Court 2", PricePerHour: 12000})
	return s
}

func redisPinger(rdb *redis.Client) handler.Pinger {
	return handler.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
}
