package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"estancias/internal/app/schedule"
)

const (
	// dueSetKey is the ZSET of scheduled task ids scored by their ETA.
	dueSetKey = "scheduler:due"
	// taskKeyPrefix prefixes the per-task envelope key.
	taskKeyPrefix = "scheduler:task:"
	// taskTTL bounds how long an orphaned envelope survives after its ETA.
	taskTTL = 30 * 24 * time.Hour
	// maxTaskAttempts bounds handler executions per task; the final failure
	// is surfaced in the log instead of re-enqueued.
	maxTaskAttempts = 5
	// retryBackoffBase doubles per failed attempt.
	retryBackoffBase = 30 * time.Second
)

type envelope struct {
	ID       string          `json:"id"`
	Task     string          `json:"task"`
	Payload  json.RawMessage `json:"payload"`
	ETA      time.Time       `json:"eta"`
	Attempts int             `json:"attempts"`
}

// RedisScheduler implements schedule.Scheduler on a Redis sorted set. Tasks
// are ids scored by ETA; the poller claims a due id with ZREM so that
// exactly one worker executes it.
type RedisScheduler struct {
	client *redis.Client
	logger *slog.Logger
}

func NewRedisScheduler(client *redis.Client, logger *slog.Logger) *RedisScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisScheduler{client: client, logger: logger}
}

func (s *RedisScheduler) Enqueue(ctx context.Context, task string, payload any, eta time.Time) (schedule.Handle, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return schedule.Handle{}, fmt.Errorf("scheduler: marshal payload: %w", err)
	}
	env := envelope{
		ID:      uuid.NewString(),
		Task:    task,
		Payload: body,
		ETA:     eta.UTC(),
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return schedule.Handle{}, err
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, taskKeyPrefix+env.ID, raw, time.Until(eta)+taskTTL)
	pipe.ZAdd(ctx, dueSetKey, redis.Z{Score: float64(eta.UTC().Unix()), Member: env.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return schedule.Handle{}, fmt.Errorf("scheduler: enqueue %s: %w", task, err)
	}
	return schedule.Handle{ID: env.ID, ETA: eta.UTC()}, nil
}

func (s *RedisScheduler) Revoke(ctx context.Context, id string) error {
	pipe := s.client.TxPipeline()
	pipe.ZRem(ctx, dueSetKey, id)
	pipe.Del(ctx, taskKeyPrefix+id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("scheduler: revoke %s: %w", id, err)
	}
	return nil
}

// TaskHandler executes one claimed task.
type TaskHandler func(ctx context.Context, payload json.RawMessage) error

// Poller drains due tasks and dispatches them to registered handlers.
type Poller struct {
	client   *redis.Client
	logger   *slog.Logger
	interval time.Duration
	handlers map[string]TaskHandler
}

func NewPoller(client *redis.Client, interval time.Duration, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		client:   client,
		logger:   logger,
		interval: interval,
		handlers: make(map[string]TaskHandler),
	}
}

// Handle registers the handler for a task name. Not safe to call after Run.
func (p *Poller) Handle(task string, h TaskHandler) {
	p.handlers[task] = h
}

func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.drainDue(ctx); err != nil && !errors.Is(err, context.Canceled) {
				p.logger.Error("scheduler poll failed", slog.Any("error", err))
			}
		}
	}
}

func (p *Poller) drainDue(ctx context.Context) error {
	now := time.Now().UTC()
	ids, err := p.client.ZRangeByScore(ctx, dueSetKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", now.Unix()),
	}).Result()
	if err != nil {
		return err
	}
	for _, id := range ids {
		// ZREM is the claim: only the worker that removes the member runs it.
		removed, err := p.client.ZRem(ctx, dueSetKey, id).Result()
		if err != nil {
			return err
		}
		if removed == 0 {
			continue
		}
		p.runOne(ctx, id)
	}
	return nil
}

func (p *Poller) runOne(ctx context.Context, id string) {
	raw, err := p.client.GetDel(ctx, taskKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		// Revoked between claim and fetch.
		return
	}
	if err != nil {
		p.logger.Error("scheduled task fetch failed", slog.String("task_id", id), slog.Any("error", err))
		return
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		p.logger.Error("scheduled task envelope corrupt", slog.String("task_id", id), slog.Any("error", err))
		return
	}
	handler, ok := p.handlers[env.Task]
	if !ok {
		p.logger.Warn("no handler for scheduled task", slog.String("task", env.Task), slog.String("task_id", id))
		return
	}
	if err := handler(ctx, env.Payload); err != nil {
		p.requeue(ctx, env, err)
		return
	}
	p.logger.Info("scheduled task done", slog.String("task", env.Task), slog.String("task_id", id))
}

// requeue puts a failed task back with exponential backoff. Once the attempt
// bound is hit the task is dropped and the failure surfaced in the log; the
// claimed envelope is already gone, so there is nothing left to leak.
func (p *Poller) requeue(ctx context.Context, env envelope, cause error) {
	env.Attempts++
	if env.Attempts >= maxTaskAttempts {
		p.logger.Error("scheduled task failed, retries exhausted",
			slog.String("task", env.Task), slog.String("task_id", env.ID),
			slog.Int("attempts", env.Attempts), slog.Any("error", cause))
		return
	}
	eta := time.Now().UTC().Add(retryBackoff(env.Attempts))
	env.ETA = eta
	raw, err := json.Marshal(env)
	if err != nil {
		p.logger.Error("scheduled task envelope not encodable",
			slog.String("task_id", env.ID), slog.Any("error", err))
		return
	}
	pipe := p.client.TxPipeline()
	pipe.Set(ctx, taskKeyPrefix+env.ID, raw, time.Until(eta)+taskTTL)
	pipe.ZAdd(ctx, dueSetKey, redis.Z{Score: float64(eta.Unix()), Member: env.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		p.logger.Error("scheduled task requeue failed",
			slog.String("task", env.Task), slog.String("task_id", env.ID), slog.Any("error", err))
		return
	}
	p.logger.Warn("scheduled task failed, retrying",
		slog.String("task", env.Task), slog.String("task_id", env.ID),
		slog.Int("attempt", env.Attempts), slog.Time("next_eta", eta), slog.Any("error", cause))
}

func retryBackoff(attempt int) time.Duration {
	return retryBackoffBase << (attempt - 1)
}
