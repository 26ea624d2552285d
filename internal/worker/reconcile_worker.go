// Package worker runs the background loops: the reconciliation worker
// that drains the debounced task queue, and the watch renewer that keeps
// Drive push-notification channels alive.
package worker

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/coupon-sync/internal/config"
	"github.com/ignite/coupon-sync/internal/domain"
	"github.com/ignite/coupon-sync/internal/pkg/distlock"
	"github.com/ignite/coupon-sync/internal/pkg/logger"
	"github.com/ignite/coupon-sync/internal/reconcile"
	"github.com/ignite/coupon-sync/internal/scheduler"
)

// sweepInterval is how often the worker walks every open batch, so rows
// past the notification grace period get flagged even when the sheet
// itself goes quiet and no webhook fires.
const sweepInterval = 15 * time.Minute

// heartbeatInterval paces the liveness log line.
const heartbeatInterval = time.Minute

// BatchSource is the slice of persistence the worker needs.
type BatchSource interface {
	GetBatchBySheetFileID(ctx context.Context, fileID string) (*domain.BulkAssignmentBatch, error)
	ListOpenBatches(ctx context.Context) ([]domain.BulkAssignmentBatch, error)
}

// PassRunner runs one reconciliation pass for a batch.
type PassRunner interface {
	Run(ctx context.Context, batch *domain.BulkAssignmentBatch) (*reconcile.PassResult, error)
}

// TaskQueue claims due tasks from the debounced schedule.
type TaskQueue interface {
	Due(ctx context.Context) ([]scheduler.Task, error)
}

// ReconcileWorker drains the task queue and periodically sweeps open
// batches. Each pass runs under a per-batch distributed lock so multiple
// worker processes never reconcile the same batch concurrently.
type ReconcileWorker struct {
	db          *sql.DB
	redisClient *redis.Client
	batches     BatchSource
	runner      PassRunner
	tasks       TaskQueue

	workerID     string
	pollInterval time.Duration
	lockTTL      time.Duration
	newLock      func(key string) distlock.DistLock

	tasksProcessed int64
	passesRun      int64
	batchesSkipped int64
	errorCount     int64

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
}

// NewReconcileWorker creates a worker. Pass a nil Redis client to fall
// back to PostgreSQL advisory locks.
func NewReconcileWorker(db *sql.DB, batches BatchSource, runner PassRunner, tasks TaskQueue, cfg config.ReconcileConfig) *ReconcileWorker {
	hostname, _ := os.Hostname()
	w := &ReconcileWorker{
		db:           db,
		batches:      batches,
		runner:       runner,
		tasks:        tasks,
		workerID:     fmt.Sprintf("reconciler-%s-%d", hostname, os.Getpid()),
		pollInterval: cfg.PollInterval(),
		lockTTL:      cfg.LockTTL(),
	}
	w.newLock = func(key string) distlock.DistLock {
		return distlock.NewLock(w.redisClient, w.db, key, w.lockTTL)
	}
	return w
}

// SetRedisClient switches batch locking to Redis.
func (w *ReconcileWorker) SetRedisClient(client *redis.Client) {
	w.redisClient = client
}

// Start launches the polling and sweep loops. Returns an error if the
// worker is already running.
func (w *ReconcileWorker) Start() error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("reconcile worker already running")
	}
	w.running = true
	w.ctx, w.cancel = context.WithCancel(context.Background())
	w.mu.Unlock()

	logger.Info("reconcile worker starting",
		"worker_id", w.workerID, "poll_interval", w.pollInterval.String())

	w.wg.Add(1)
	go w.taskLoop()

	w.wg.Add(1)
	go w.sweepLoop()

	w.wg.Add(1)
	go w.heartbeatLoop()

	return nil
}

// Stop gracefully stops the worker and waits for in-flight passes.
func (w *ReconcileWorker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	w.cancel()
	w.wg.Wait()

	logger.Info("reconcile worker stopped",
		"tasks_processed", atomic.LoadInt64(&w.tasksProcessed),
		"passes_run", atomic.LoadInt64(&w.passesRun),
		"errors", atomic.LoadInt64(&w.errorCount))
}

// Stats reports worker counters.
func (w *ReconcileWorker) Stats() (tasksProcessed, passesRun, batchesSkipped, errors int64) {
	return atomic.LoadInt64(&w.tasksProcessed),
		atomic.LoadInt64(&w.passesRun),
		atomic.LoadInt64(&w.batchesSkipped),
		atomic.LoadInt64(&w.errorCount)
}

func (w *ReconcileWorker) taskLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.processDueTasks()
		}
	}
}

func (w *ReconcileWorker) sweepLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.sweepOpenBatches()
		}
	}
}

func (w *ReconcileWorker) heartbeatLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			logger.Debug("worker heartbeat",
				"worker_id", w.workerID,
				"tasks_processed", atomic.LoadInt64(&w.tasksProcessed),
				"passes_run", atomic.LoadInt64(&w.passesRun),
				"errors", atomic.LoadInt64(&w.errorCount))
		}
	}
}

func (w *ReconcileWorker) processDueTasks() {
	tasks, err := w.tasks.Due(w.ctx)
	if err != nil {
		atomic.AddInt64(&w.errorCount, 1)
		logger.Error("claiming due tasks", "error", err.Error())
		return
	}

	for _, task := range tasks {
		if task.Kind != scheduler.KindSync {
			logger.Warn("dropping task of unknown kind", "kind", task.Kind, "task_id", task.ID)
			continue
		}
		atomic.AddInt64(&w.tasksProcessed, 1)

		batch, err := w.batches.GetBatchBySheetFileID(w.ctx, task.FileID)
		if err == reconcile.ErrBatchNotFound {
			logger.Warn("no batch tracks changed file", "file_id", task.FileID, "task_id", task.ID)
			continue
		}
		if err != nil {
			atomic.AddInt64(&w.errorCount, 1)
			logger.Error("loading batch for task", "file_id", task.FileID, "error", err.Error())
			continue
		}
		w.processBatch(batch)
	}
}

func (w *ReconcileWorker) sweepOpenBatches() {
	batches, err := w.batches.ListOpenBatches(w.ctx)
	if err != nil {
		atomic.AddInt64(&w.errorCount, 1)
		logger.Error("listing open batches", "error", err.Error())
		return
	}
	for i := range batches {
		select {
		case <-w.ctx.Done():
			return
		default:
		}
		w.processBatch(&batches[i])
	}
}

// processBatch runs one reconciliation pass under the per-batch lock.
// A held lock means another worker is already on it; skip quietly.
func (w *ReconcileWorker) processBatch(batch *domain.BulkAssignmentBatch) {
	lock := w.newLock("reconcile:batch:" + batch.ID.String())

	acquired, err := lock.Acquire(w.ctx)
	if err != nil {
		atomic.AddInt64(&w.errorCount, 1)
		logger.Error("acquiring batch lock", "batch_id", batch.ID.String(), "error", err.Error())
		return
	}
	if !acquired {
		atomic.AddInt64(&w.batchesSkipped, 1)
		logger.Debug("batch locked by another worker", "batch_id", batch.ID.String())
		return
	}
	defer func() {
		if err := lock.Release(context.Background()); err != nil {
			logger.Warn("releasing batch lock", "batch_id", batch.ID.String(), "error", err.Error())
		}
	}()

	ctx, cancelPass := context.WithTimeout(w.ctx, w.lockTTL)
	defer cancelPass()

	atomic.AddInt64(&w.passesRun, 1)
	if _, err := w.runner.Run(ctx, batch); err != nil {
		atomic.AddInt64(&w.errorCount, 1)
		logger.Error("reconciliation pass failed", "batch_id", batch.ID.String(), "error", err.Error())
	}
}
