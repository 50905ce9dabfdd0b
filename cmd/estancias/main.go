package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"estancias/internal/app/availability"
	"estancias/internal/app/changeorder"
	"estancias/internal/app/charge"
	"estancias/internal/app/commands"
	"estancias/internal/app/gatewayevents"
	bookingapp "estancias/internal/app/handlers/booking"
	"estancias/internal/app/ledger"
	"estancias/internal/app/lifecycle"
	"estancias/internal/app/middleware"
	"estancias/internal/app/policies"
	"estancias/internal/app/schedule"
	appuow "estancias/internal/app/uow"
	domainbooking "estancias/internal/domain/booking"
	"estancias/internal/infra/calendar"
	"estancias/internal/infra/config"
	"estancias/internal/infra/db/postgres"
	"estancias/internal/infra/gateway"
	ginserver "estancias/internal/infra/http/gin"
	"estancias/internal/infra/notifier"
	"estancias/internal/infra/obs"
	"estancias/internal/infra/scheduler"
	"estancias/internal/infra/storage/memory"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env := getenv("APP_ENV", "dev")
	logger := obs.NewLogger(env)

	cfg, err := config.Load()
	useMemory := false
	if err != nil {
		// Local runs without Postgres/Stripe credentials fall back to the
		// in-memory store and a log-only notifier.
		logger.Warn("using fallback configuration", "error", err)
		cfg.Env = env
		cfg.HTTPAddr = getenv("HTTP_ADDR", ":8080")
		cfg.Timezone = time.UTC
		useMemory = true
	}
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}

	app, err := buildApplication(ctx, cfg, useMemory, logger)
	if err != nil {
		logger.Error("application wiring failed", "error", err)
		os.Exit(1)
	}
	defer app.close()

	server := ginserver.NewServer(cfg, obs.Middleware{Logger: logger}, obs.HealthHandlers{
		Ready: app.ready,
	}, app.handlers)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown failed", "error", err)
		}
	}()

	logger.Info("HTTP server starting", "addr", cfg.HTTPAddr, "storage", storageLabel(useMemory))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("HTTP server stopped")
}

type application struct {
	handlers ginserver.Handlers
	ready    func() error
	close    func()
}

func buildApplication(ctx context.Context, cfg config.Config, useMemory bool, logger *slog.Logger) (application, error) {
	var (
		factory     appuow.Factory
		idemStore   middleware.IdempotencyStore
		bookingRead domainbooking.Repository
		ready       = func() error { return nil }
		closeFn     = func() {}
	)
	if useMemory {
		store := memory.NewStore()
		factory = memory.Factory{Store: store}
		idemStore = memory.NewIdempotencyStore()
		bookingRead = store.Bookings
	} else {
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return application{}, err
		}
		if err := postgres.Migrate(ctx, pool); err != nil {
			pool.Close()
			return application{}, err
		}
		factory = postgres.Factory{Pool: pool}
		idemStore = &postgres.IdempotencyStore{Pool: pool}
		bookingRead = postgres.NewBookingRepository(pool)
		ready = func() error {
			pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return pool.Ping(pingCtx)
		}
		closeFn = pool.Close
	}

	gw := gateway.NewClient(gateway.Options{
		BaseURL:       cfg.GatewayBaseURL,
		APIKey:        cfg.GatewayAPIKey,
		WebhookSecret: cfg.GatewayWebhookSecret,
		Logger:        logger,
	})
	feeds := calendar.NewClient(calendar.Options{
		Timeout:      cfg.CalendarFetchTimeout,
		MaxBytes:     cfg.CalendarMaxBytes,
		AllowedHosts: cfg.CalendarAllowedHosts,
		Logger:       logger,
	})

	var (
		sched schedule.Scheduler
		notif policies.Notifier = notifier.LogNotifier{Logger: logger}
	)
	if !useMemory {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		sched = scheduler.NewRedisScheduler(rdb, logger)
		notif = notifier.NewRedisNotifier(rdb, logger)
		prevClose := closeFn
		closeFn = func() {
			_ = rdb.Close()
			prevClose()
		}
	}

	led := ledger.New(logger)
	oracle := availability.NewOracle(bookingRead, feeds, logger)
	urls := charge.URLs{Success: cfg.CheckoutSuccessURL, Cancel: cfg.CheckoutCancelURL}
	orch := charge.NewOrchestrator(factory, led, gw, sched, notif, urls, logger)

	life := lifecycle.NewService(lifecycle.ServiceParams{
		UnitOfWork: factory,
		Oracle:     oracle,
		Ledger:     led,
		Gateway:    gw,
		Charges:    orch,
		Scheduler:  sched,
		Notifier:   notif,
		URLs:       urls,
		Logger:     logger,
		Location:   cfg.Timezone,
	})
	changes := changeorder.NewService(changeorder.ServiceParams{
		UnitOfWork: factory,
		Oracle:     oracle,
		Ledger:     led,
		Gateway:    gw,
		Charges:    orch,
		URLs:       urls,
		Logger:     logger,
		Location:   cfg.Timezone,
	})
	events := gatewayevents.NewProcessor(factory, led, orch, logger)

	bus := commands.NewInMemoryBus()
	commands.RegisterHandler(bus, bookingapp.RequestBookingKey, bookingapp.RequestBookingHandler{Lifecycle: life})
	dispatch := middleware.ChainCommands(bus, middleware.Idempotency(idemStore, nil))

	return application{
		handlers: ginserver.Handlers{
			Booking: ginserver.BookingHandler{Commands: dispatch, Lifecycle: life, Charges: orch},
			Change:  ginserver.ChangeHandler{Service: changes},
			Webhook: ginserver.WebhookHandler{Verifier: gw, Processor: events, Logger: logger},
		},
		ready: ready,
		close: closeFn,
	}, nil
}

func storageLabel(useMemory bool) string {
	if useMemory {
		return "memory"
	}
	return "postgres"
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
