// Package queue hands migration work to background consumers over a Redis stream.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusDone       = "done"
	StatusFailed     = "failed"
)

// Task is the tracked state of one queued migration.
type Task struct {
	ID           string    `json:"id"`
	MigrationID  string    `json:"migration_id"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"error_message,omitempty"`
	Attempts     int       `json:"attempts"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Handler processes one task. Returned errors mark the task failed; tasks are never retried.
type Handler func(context.Context, Task) error

// RedisQueueConfig describes the stream and consumer group.
type RedisQueueConfig struct {
	Client    *redis.Client
	Addr      string
	Password  string
	Stream    string
	Group     string
	Consumer  string
	TaskTTL   time.Duration
	Block     time.Duration
	ClaimIdle time.Duration
	MaxLen    int64
	ReadCount int64
	Logger    *zap.Logger
}

// RedisQueue is a consumer-group backed work queue.
type RedisQueue struct {
	client       *redis.Client
	stream       string
	group        string
	consumerBase string
	taskTTL      time.Duration
	block        time.Duration
	claimIdle    time.Duration
	maxLen       int64
	readCount    int64
	logger       *zap.Logger
	groupOnce    sync.Once
	groupErr     error
}

// NewRedisQueue validates the configuration and connects lazily.
func NewRedisQueue(cfg RedisQueueConfig) (*RedisQueue, error) {
	client := cfg.Client
	if client == nil {
		addr := strings.TrimSpace(cfg.Addr)
		if addr == "" {
			return nil, errors.New("redis addr required")
		}
		client = redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password})
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		return nil, errors.New("queue stream required")
	}
	group := strings.TrimSpace(cfg.Group)
	if group == "" {
		group = "migration-workers"
	}
	consumer := strings.TrimSpace(cfg.Consumer)
	if consumer == "" {
		consumer = uuid.NewString()
	}
	taskTTL := cfg.TaskTTL
	if taskTTL <= 0 {
		taskTTL = 24 * time.Hour
	}
	block := cfg.Block
	if block <= 0 {
		block = 5 * time.Second
	}
	claimIdle := cfg.ClaimIdle
	if claimIdle <= 0 {
		claimIdle = 5 * time.Minute
	}
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = 10000
	}
	readCount := cfg.ReadCount
	if readCount <= 0 {
		readCount = 1
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RedisQueue{
		client:       client,
		stream:       stream,
		group:        group,
		consumerBase: consumer,
		taskTTL:      taskTTL,
		block:        block,
		claimIdle:    claimIdle,
		maxLen:       maxLen,
		readCount:    readCount,
		logger:       logger,
	}, nil
}

// Dispatch implements the migration dispatcher contract by enqueueing the migration id.
func (q *RedisQueue) Dispatch(ctx context.Context, migrationID string) error {
	_, err := q.Enqueue(ctx, migrationID)
	return err
}

// Enqueue appends a task for the migration.
func (q *RedisQueue) Enqueue(ctx context.Context, migrationID string) (Task, error) {
	migrationID = strings.TrimSpace(migrationID)
	if migrationID == "" {
		return Task{}, errors.New("migration id required")
	}
	if err := q.ensureGroup(ctx); err != nil {
		return Task{}, err
	}
	now := time.Now().UTC()
	task := Task{
		ID:          uuid.NewString(),
		MigrationID: migrationID,
		Status:      StatusQueued,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := q.writeStatus(ctx, task); err != nil {
		return Task{}, err
	}
	if err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Approx: true,
		Values: map[string]any{
			"task_id":      task.ID,
			"migration_id": task.MigrationID,
		},
	}).Err(); err != nil {
		return Task{}, err
	}
	return task, nil
}

// GetTask loads the tracked state of a task.
func (q *RedisQueue) GetTask(ctx context.Context, taskID string) (Task, bool, error) {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return Task{}, false, nil
	}
	data, err := q.client.HGetAll(ctx, q.taskKey(taskID)).Result()
	if err != nil {
		return Task{}, false, err
	}
	if len(data) == 0 {
		return Task{}, false, nil
	}
	return decodeTask(taskID, data), true, nil
}

// Run consumes tasks with the given number of consumers until ctx is done.
func (q *RedisQueue) Run(ctx context.Context, concurrency int, handler Handler) error {
	if concurrency <= 0 {
		concurrency = 1
	}
	if err := q.ensureGroup(ctx); err != nil {
		return err
	}
	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		consumer := fmt.Sprintf("%s-%d", q.consumerBase, i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.consumeLoop(ctx, consumer, handler)
		}()
	}
	wg.Wait()
	return nil
}

// Close releases the Redis client.
func (q *RedisQueue) Close() error {
	return q.client.Close()
}

func (q *RedisQueue) ensureGroup(ctx context.Context) error {
	q.groupOnce.Do(func() {
		err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			q.groupErr = fmt.Errorf("create consumer group: %w", err)
		}
	})
	return q.groupErr
}

func (q *RedisQueue) consumeLoop(ctx context.Context, consumer string, handler Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if messages, err := q.claimPending(ctx, consumer); err == nil {
			for _, message := range messages {
				q.handleMessage(ctx, message, handler)
			}
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: consumer,
			Streams:  []string{q.stream, ">"},
			Count:    q.readCount,
			Block:    q.block,
		}).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
				q.logger.Warn("queue read failed", zap.String("consumer", consumer), zap.Error(err))
			}
			continue
		}
		for _, stream := range streams {
			for _, message := range stream.Messages {
				q.handleMessage(ctx, message, handler)
			}
		}
	}
}

// claimPending takes over tasks left unacknowledged by a crashed consumer.
func (q *RedisQueue) claimPending(ctx context.Context, consumer string) ([]redis.XMessage, error) {
	messages, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: consumer,
		MinIdle:  q.claimIdle,
		Start:    "0-0",
		Count:    q.readCount,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return messages, nil
}

func (q *RedisQueue) handleMessage(ctx context.Context, message redis.XMessage, handler Handler) {
	taskID, _ := message.Values["task_id"].(string)
	migrationID, _ := message.Values["migration_id"].(string)
	if taskID == "" || migrationID == "" {
		q.ackAndDel(ctx, message.ID)
		return
	}
	task, err := q.markProcessing(ctx, taskID, migrationID)
	if err != nil {
		q.logger.Warn("queue status update failed", zap.String("task_id", taskID), zap.Error(err))
	}
	if err := handler(ctx, task); err != nil {
		q.logger.Error("queue task failed",
			zap.String("task_id", taskID),
			zap.String("migration_id", migrationID),
			zap.Error(err))
		_ = q.markFinished(ctx, task, StatusFailed, err.Error())
		q.ackAndDel(ctx, message.ID)
		return
	}
	_ = q.markFinished(ctx, task, StatusDone, "")
	q.ackAndDel(ctx, message.ID)
}

func (q *RedisQueue) ackAndDel(ctx context.Context, messageID string) {
	pipe := q.client.TxPipeline()
	pipe.XAck(ctx, q.stream, q.group, messageID)
	pipe.XDel(ctx, q.stream, messageID)
	_, _ = pipe.Exec(ctx)
}

func (q *RedisQueue) markProcessing(ctx context.Context, taskID, migrationID string) (Task, error) {
	task, found, err := q.GetTask(ctx, taskID)
	if err != nil {
		return Task{ID: taskID, MigrationID: migrationID}, err
	}
	if !found {
		task = Task{ID: taskID, CreatedAt: time.Now().UTC()}
	}
	task.MigrationID = migrationID
	task.Attempts++
	task.Status = StatusProcessing
	task.UpdatedAt = time.Now().UTC()
	return task, q.writeStatus(ctx, task)
}

func (q *RedisQueue) markFinished(ctx context.Context, task Task, status, errMsg string) error {
	task.Status = status
	task.ErrorMessage = errMsg
	task.UpdatedAt = time.Now().UTC()
	return q.writeStatus(ctx, task)
}

func (q *RedisQueue) writeStatus(ctx context.Context, task Task) error {
	key := q.taskKey(task.ID)
	payload := map[string]any{
		"id":          task.ID,
		"migrationId": task.MigrationID,
		"status":      task.Status,
		"error":       task.ErrorMessage,
		"attempts":    strconv.Itoa(task.Attempts),
		"createdAt":   task.CreatedAt.Format(time.RFC3339Nano),
		"updatedAt":   task.UpdatedAt.Format(time.RFC3339Nano),
	}
	if err := q.client.HSet(ctx, key, payload).Err(); err != nil {
		return err
	}
	_ = q.client.Expire(ctx, key, q.taskTTL).Err()
	return nil
}

func (q *RedisQueue) taskKey(taskID string) string {
	return fmt.Sprintf("task:%s:%s", q.stream, taskID)
}

func decodeTask(taskID string, data map[string]string) Task {
	task := Task{
		ID:           taskID,
		MigrationID:  data["migrationId"],
		Status:       data["status"],
		ErrorMessage: data["error"],
	}
	if value, err := strconv.Atoi(data["attempts"]); err == nil {
		task.Attempts = value
	}
	if value, err := time.Parse(time.RFC3339Nano, data["createdAt"]); err == nil {
		task.CreatedAt = value
	}
	if value, err := time.Parse(time.RFC3339Nano, data["updatedAt"]); err == nil {
		task.UpdatedAt = value
	}
	return task
}
