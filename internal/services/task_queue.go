package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"github.com/huangang/tracer/internal/config"
	"github.com/huangang/tracer/pkg/logger"
)

const (
	TaskTypeReconcile = "payment:reconcile"
)

// ReconcileTask asks a worker to mark an order paid.
type ReconcileTask struct {
	OrderID    string `json:"order_id"`
	TradeNo    string `json:"trade_no,omitempty"` // provider-side transaction id
	ReceivedAt int64  `json:"received_at"`
}

// TaskProcessor handles one reconcile task.
type TaskProcessor func(context.Context, *ReconcileTask) error

// TaskQueue defines the interface for payment task processing
type TaskQueue interface {
	// Enqueue adds a task to the queue
	Enqueue(ctx context.Context, task *ReconcileTask) error
	// IsAsync returns true if queue processes tasks asynchronously
	IsAsync() bool
	// Close gracefully shuts down the queue
	Close() error
}

var (
	globalTaskQueue TaskQueue
	taskQueueOnce   sync.Once
)

// InitTaskQueue picks the asynq queue when Redis is enabled and reachable,
// otherwise the inline queue.
func InitTaskQueue(cfg *config.Config) TaskQueue {
	taskQueueOnce.Do(func() {
		if cfg.Redis.Enabled {
			queue, err := NewAsyncQueue(&cfg.Redis)
			if err != nil {
				logger.Warnf("[TaskQueue] Redis unavailable, falling back to sync mode: %v", err)
				globalTaskQueue = NewSyncQueue()
			} else {
				logger.Infof("[TaskQueue] Async queue initialized with Redis at %s", cfg.Redis.Addr)
				globalTaskQueue = queue
			}
		} else {
			logger.Infof("[TaskQueue] Sync queue initialized (Redis disabled)")
			globalTaskQueue = NewSyncQueue()
		}
	})
	return globalTaskQueue
}

func GetTaskQueue() TaskQueue {
	return globalTaskQueue
}

func redisOpt(cfg *config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}

const paymentsQueue = "payments"

// AsyncQueue implements TaskQueue using asynq (Redis-based)
type AsyncQueue struct {
	client    *asynq.Client
	inspector *asynq.Inspector
}

func NewAsyncQueue(cfg *config.RedisConfig) (*AsyncQueue, error) {
	opt := redisOpt(cfg)
	client := asynq.NewClient(opt)
	inspector := asynq.NewInspector(opt)

	if _, err := inspector.Queues(); err != nil {
		client.Close()
		inspector.Close()
		return nil, err
	}

	return &AsyncQueue{client: client, inspector: inspector}, nil
}

func reconcileTaskID(orderID string) string {
	return "reconcile:" + orderID
}

// supersedable reports whether a task holding the reconcile id is finished
// with, so a new notification may replace it. Archived tasks ran out of
// retries; retained completed tasks already ran.
func supersedable(state asynq.TaskState) bool {
	return state == asynq.TaskStateArchived || state == asynq.TaskStateCompleted
}

// Enqueue uses the order id as the task id, so a notification retried by
// the provider while the first is still queued is dropped by asynq. A task
// left archived after its retries is replaced, otherwise the order could
// never be reconciled by a later delivery.
func (q *AsyncQueue) Enqueue(ctx context.Context, task *ReconcileTask) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return err
	}

	id := reconcileTaskID(task.OrderID)
	enqueue := func() (*asynq.TaskInfo, error) {
		return q.client.EnqueueContext(ctx, asynq.NewTask(TaskTypeReconcile, payload),
			asynq.Queue(paymentsQueue),
			asynq.TaskID(id),
			asynq.MaxRetry(5),
			asynq.Timeout(30*time.Second),
		)
	}

	info, err := enqueue()
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		existing, ierr := q.inspector.GetTaskInfo(paymentsQueue, id)
		if ierr != nil {
			return fmt.Errorf("inspect task %s: %w", id, ierr)
		}
		if !supersedable(existing.State) {
			logger.Infof("[AsyncQueue] Reconcile for order %s already queued (%s)", task.OrderID, existing.State)
			return nil
		}
		if derr := q.inspector.DeleteTask(paymentsQueue, id); derr != nil {
			return fmt.Errorf("drop %s task %s: %w", existing.State, id, derr)
		}
		logger.Warn().
			Str("order_id", task.OrderID).
			Str("previous_state", existing.State.String()).
			Msg("[AsyncQueue] replacing finished reconcile task")
		info, err = enqueue()
	}
	if err != nil {
		return err
	}

	logger.Infof("[AsyncQueue] Task enqueued: id=%s, queue=%s", info.ID, info.Queue)
	return nil
}

func (q *AsyncQueue) IsAsync() bool {
	return true
}

func (q *AsyncQueue) Close() error {
	if q.inspector != nil {
		q.inspector.Close()
	}
	return q.client.Close()
}

// SyncQueue runs the processor in the caller's goroutine, so the provider
// only sees "success" after the order has been reconciled.
type SyncQueue struct {
	processor TaskProcessor
}

func NewSyncQueue() *SyncQueue {
	return &SyncQueue{}
}

func (q *SyncQueue) SetProcessor(processor TaskProcessor) {
	q.processor = processor
}

func (q *SyncQueue) Enqueue(ctx context.Context, task *ReconcileTask) error {
	if q.processor == nil {
		return errors.New("sync queue has no processor")
	}
	return q.processor(ctx, task)
}

func (q *SyncQueue) IsAsync() bool {
	return false
}

func (q *SyncQueue) Close() error {
	return nil
}
