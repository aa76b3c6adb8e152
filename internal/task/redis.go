package task

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/DagiiM/webops-sub005/internal/entity"
)

const (
	redisQueueKey    = "webops:tasks"
	redisJobKeys     = "webops:task:"
	redisResultTTL   = 24 * time.Hour
	redisPollBackoff = 200 * time.Millisecond
)

type redisEnvelope struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// Redis enqueues tasks to a Redis list consumed by Worker processes and
// tracks their state in per-job hashes.
type Redis struct {
	client *redis.Client
	log    zerolog.Logger

	submitted atomic.Int64
	revoked   atomic.Int64
}

func NewRedis(client *redis.Client, log zerolog.Logger) *Redis {
	return &Redis{client: client, log: log}
}

func jobKey(id string) string { return redisJobKeys + id }

func (p *Redis) Submit(ctx context.Context, name string, args map[string]any) (Handle, error) {
	env := redisEnvelope{ID: newJobID(), Name: name, Args: args}
	payload, err := json.Marshal(env)
	if err != nil {
		return Handle{}, fmt.Errorf("%w: marshal task: %v", entity.ErrTaskSubmission, err)
	}

	pipe := p.client.TxPipeline()
	pipe.HSet(ctx, jobKey(env.ID), "status", string(StatusPending))
	pipe.Expire(ctx, jobKey(env.ID), redisResultTTL)
	pipe.LPush(ctx, redisQueueKey, payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return Handle{}, fmt.Errorf("%w: enqueue to redis: %v", entity.ErrTaskSubmission, err)
	}
	p.submitted.Add(1)
	return Handle{ID: env.ID}, nil
}

func (p *Redis) Status(handle Handle) Status {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	status, err := p.client.HGet(ctx, jobKey(handle.ID), "status").Result()
	if err != nil {
		return StatusPending
	}
	return Status(status)
}

func (p *Redis) Result(ctx context.Context, handle Handle, timeout time.Duration) (any, error) {
	deadline := time.Now().Add(timeout)
	for {
		status := p.Status(handle)
		if status.Terminal() {
			break
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: task result not ready after %s", entity.ErrTimeout, timeout)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: waiting for task result: %v", entity.ErrTimeout, ctx.Err())
		case <-time.After(redisPollBackoff):
		}
	}

	fields, err := p.client.HGetAll(ctx, jobKey(handle.ID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: read task result: %v", entity.ErrTaskExecution, err)
	}
	switch Status(fields["status"]) {
	case StatusSuccess:
		var result any
		if raw, ok := fields["result"]; ok && raw != "" {
			if err := json.Unmarshal([]byte(raw), &result); err != nil {
				return nil, fmt.Errorf("%w: decode task result: %v", entity.ErrTaskExecution, err)
			}
		}
		return result, nil
	case StatusRevoked:
		return nil, fmt.Errorf("%w: task was revoked", entity.ErrTaskExecution)
	default:
		return nil, fmt.Errorf("%w: %s", entity.ErrTaskExecution, fields["error"])
	}
}

// Revoke marks the job revoked. Workers check the flag before starting; a
// job already running is only interrupted when terminate is set and the
// worker honors the kill flag.
func (p *Redis) Revoke(handle Handle, terminate bool) bool {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	fields := map[string]any{"status": string(StatusRevoked)}
	if terminate {
		fields["terminate"] = "1"
	}
	if err := p.client.HSet(ctx, jobKey(handle.ID), fields).Err(); err != nil {
		p.log.Warn().Err(err).Str("job_id", handle.ID).Msg("revoke failed")
		return false
	}
	p.revoked.Add(1)
	return true
}

func (p *Redis) Healthcheck(ctx context.Context) bool {
	return p.client.Ping(ctx).Err() == nil
}

func (p *Redis) Metrics() map[string]int64 {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	depth, _ := p.client.LLen(ctx, redisQueueKey).Result()
	return map[string]int64{
		"submitted":   p.submitted.Load(),
		"revoked":     p.revoked.Load(),
		"queue_depth": depth,
	}
}

// Worker drains the Redis queue and executes registered task funcs. Run
// blocks until ctx is cancelled.
type Worker struct {
	client   *redis.Client
	registry *Registry
	log      zerolog.Logger
}

func NewWorker(client *redis.Client, registry *Registry, log zerolog.Logger) *Worker {
	return &Worker{client: client, registry: registry, log: log}
}

func (w *Worker) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		raw, err := w.client.BRPop(ctx, 5*time.Second, redisQueueKey).Result()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.log.Warn().Err(err).Msg("queue pop failed, backing off")
			time.Sleep(time.Second)
			continue
		}
		// BRPop returns [key, value]
		if len(raw) != 2 {
			continue
		}
		w.execute(ctx, []byte(raw[1]))
	}
}

func (w *Worker) execute(ctx context.Context, payload []byte) {
	var env redisEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		w.log.Error().Err(err).Msg("discarding malformed task payload")
		return
	}
	key := jobKey(env.ID)

	if status, _ := w.client.HGet(ctx, key, "status").Result(); Status(status) == StatusRevoked {
		w.log.Info().Str("job_id", env.ID).Msg("skipping revoked task")
		return
	}

	fn, ok := w.registry.Lookup(env.Name)
	if !ok {
		w.client.HSet(ctx, key, "status", string(StatusFailure), "error", "unknown task "+env.Name)
		return
	}

	w.client.HSet(ctx, key, "status", string(StatusStarted))
	result, err := fn(ctx, env.Args)
	if err != nil {
		w.client.HSet(ctx, key, "status", string(StatusFailure), "error", err.Error())
		return
	}
	encoded, err := json.Marshal(result)
	if err != nil {
		w.client.HSet(ctx, key, "status", string(StatusFailure), "error", "encode result: "+err.Error())
		return
	}
	w.client.HSet(ctx, key, "status", string(StatusSuccess), "result", string(encoded))
}
