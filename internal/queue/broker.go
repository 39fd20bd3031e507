package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	sharederrors "foreman/internal/shared/errors"
)

// Job is what a worker receives off the queue: just enough to look the task
// up in Foreman and nothing else. The broker is a handoff mechanism, never a
// second source of truth for task state.
type Job struct {
	// ID is the broker's own delivery identifier (a Redis Streams entry ID),
	// used to Ack or inspect delivery attempts.
	ID string
	// TaskID is the Foreman task this job represents.
	TaskID string
}

// Broker is the queue handoff contract the task manager and workers share.
type Broker interface {
	// Enqueue hands a task id to queue, returning the broker's job id.
	Enqueue(ctx context.Context, queue, taskID string) (jobID string, err error)
	// Consume blocks for up to block waiting for jobs delivered to
	// consumerName under consumerGroup, creating the group if absent.
	Consume(ctx context.Context, queue, consumerGroup, consumerName string, block time.Duration, count int64) ([]Job, error)
	// Ack acknowledges successful (or permanently failed) processing of jobID.
	Ack(ctx context.Context, queue, consumerGroup, jobID string) error
	// Attempts returns how many times jobID has been delivered to any
	// consumer without being acked, used to classify delivery failures as
	// transient vs. permanent.
	Attempts(ctx context.Context, queue, consumerGroup, jobID string) (int64, error)
}

const taskIDField = "task_id"

// RedisBroker implements Broker over Redis Streams (XADD/XREADGROUP/XACK).
// Enqueue calls run through a circuit breaker: a degraded broker should fail
// fast rather than pile up blocked orchestrator requests behind it.
type RedisBroker struct {
	client *redis.Client
	cb     *sharederrors.CircuitBreaker
}

// NewRedisBroker wraps an already-constructed *redis.Client.
func NewRedisBroker(client *redis.Client) *RedisBroker {
	return &RedisBroker{
		client: client,
		cb:     sharederrors.NewCircuitBreaker("queue.redis", sharederrors.CircuitBreakerConfig{}),
	}
}

func (b *RedisBroker) Enqueue(ctx context.Context, queue, taskID string) (string, error) {
	var id string
	err := b.cb.Execute(ctx, func(ctx context.Context) error {
		var xaddErr error
		id, xaddErr = b.client.XAdd(ctx, &redis.XAddArgs{
			Stream: queue,
			Values: map[string]any{taskIDField: taskID},
		}).Result()
		return xaddErr
	})
	if err != nil {
		return "", fmt.Errorf("enqueue task %q on %q: %w", taskID, queue, err)
	}
	return id, nil
}

func (b *RedisBroker) ensureGroup(ctx context.Context, queue, consumerGroup string) error {
	err := b.client.XGroupCreateMkStream(ctx, queue, consumerGroup, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group %q on %q: %w", consumerGroup, queue, err)
	}
	return nil
}

func (b *RedisBroker) Consume(ctx context.Context, queue, consumerGroup, consumerName string, block time.Duration, count int64) ([]Job, error) {
	if err := b.ensureGroup(ctx, queue, consumerGroup); err != nil {
		return nil, err
	}

	if count <= 0 {
		count = 1
	}
	streams, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    consumerGroup,
		Consumer: consumerName,
		Streams:  []string{queue, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("consume from %q: %w", queue, err)
	}

	var jobs []Job
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			taskID, _ := msg.Values[taskIDField].(string)
			jobs = append(jobs, Job{ID: msg.ID, TaskID: taskID})
		}
	}
	return jobs, nil
}

func (b *RedisBroker) Ack(ctx context.Context, queue, consumerGroup, jobID string) error {
	if err := b.client.XAck(ctx, queue, consumerGroup, jobID).Err(); err != nil {
		return fmt.Errorf("ack %q on %q: %w", jobID, queue, err)
	}
	return nil
}

func (b *RedisBroker) Attempts(ctx context.Context, queue, consumerGroup, jobID string) (int64, error) {
	pending, err := b.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: queue,
		Group:  consumerGroup,
		Start:  jobID,
		End:    jobID,
		Count:  1,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("inspect pending %q on %q: %w", jobID, queue, err)
	}
	if len(pending) == 0 {
		// Already acked or never delivered under this group: treat as a
		// single delivery so callers don't divide by zero classifying retries.
		return 1, nil
	}
	return pending[0].RetryCount, nil
}

// NewRedisClient builds the shared *redis.Client from config coordinates.
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}
