package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"estancias/internal/app/availability"
	"estancias/internal/app/charge"
	"estancias/internal/app/ledger"
	"estancias/internal/app/lifecycle"
	"estancias/internal/app/outbox"
	"estancias/internal/app/schedule"
	domainbooking "estancias/internal/domain/booking"
	domainpayment "estancias/internal/domain/payment"
	"estancias/internal/domain/shared/money"
	"estancias/internal/infra/broker/kafka"
	"estancias/internal/infra/calendar"
	"estancias/internal/infra/config"
	"estancias/internal/infra/db/postgres"
	"estancias/internal/infra/gateway"
	"estancias/internal/infra/notifier"
	"estancias/internal/infra/obs"
	"estancias/internal/infra/scheduler"
)

// The worker owns everything that happens off the request path: due-task
// polling, the hold and departure sweeps, balance charge scans and the
// outbox relay.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "dev"
	}
	logger := obs.NewLogger(env)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("configuration invalid", "error", err)
		os.Exit(1)
	}

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		logger.Error("postgres connection failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	if err := postgres.Migrate(ctx, pool); err != nil {
		logger.Error("migration failed", "error", err)
		os.Exit(1)
	}
	factory := postgres.Factory{Pool: pool}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()

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

	led := ledger.New(logger)
	oracle := availability.NewOracle(postgres.NewBookingRepository(pool), feeds, logger)
	sched := scheduler.NewRedisScheduler(rdb, logger)
	notif := notifier.NewRedisNotifier(rdb, logger)
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

	poller := scheduler.NewPoller(rdb, cfg.SchedulerPollInterval, logger)
	poller.Handle(schedule.TaskChargeBalance, func(ctx context.Context, payload json.RawMessage) error {
		var p charge.BalanceChargePayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return err
		}
		_, err := orch.ChargeBalanceForBooking(ctx, domainbooking.BookingID(p.BookingID))
		return err
	})
	poller.Handle(schedule.TaskChargePenalty, func(ctx context.Context, payload json.RawMessage) error {
		var p charge.PenaltyChargePayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return err
		}
		_, err := orch.ChargePenaltyForBooking(ctx, domainbooking.BookingID(p.BookingID),
			domainpayment.Type(p.Type), money.Money{Cents: p.AmountCents, Currency: p.Currency})
		return err
	})
	go func() {
		if err := poller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("scheduler poller stopped", "error", err)
		}
	}()

	if len(cfg.KafkaBrokers) > 0 {
		producer, err := kafka.NewProducer(cfg.KafkaBrokers, nil)
		if err != nil {
			logger.Error("kafka producer failed", "error", err)
			os.Exit(1)
		}
		defer producer.Close()
		relay := &outbox.Relay{
			Source:      &postgres.OutboxSource{Pool: pool},
			Publisher:   producer,
			Interval:    cfg.OutboxPollInterval,
			TopicPrefix: cfg.KafkaTopicPrefix,
			Logger:      logger,
		}
		go func() {
			if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("outbox relay stopped", "error", err)
			}
		}()
	} else {
		logger.Warn("KAFKA_BROKERS empty, outbox relay disabled")
	}

	logger.Info("worker started",
		"poll_interval", cfg.SchedulerPollInterval.String(),
		"sweep_interval", cfg.SweepInterval.String())
	runSweeps(ctx, cfg.SweepInterval, life, orch, logger)
	logger.Info("worker stopped")
}

func runSweeps(ctx context.Context, interval time.Duration, life *lifecycle.Service, orch *charge.Orchestrator, logger *slog.Logger) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now().UTC()
			if n, err := life.ExpireHolds(ctx, now); err != nil {
				logger.Error("hold sweep failed", "error", err)
			} else if n > 0 {
				logger.Info("expired stale holds", "count", n)
			}
			if n, err := life.ExpireDepartures(ctx, now); err != nil {
				logger.Error("departure sweep failed", "error", err)
			} else if n > 0 {
				logger.Info("completed departed stays", "count", n)
			}
			if n, err := orch.ScanAndChargeBalances(ctx, now); err != nil {
				logger.Error("balance charge scan failed", "error", err)
			} else if n > 0 {
				logger.Info("charged due balances", "count", n)
			}
		}
	}
}
