package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/coupon-sync/internal/config"
	"github.com/ignite/coupon-sync/internal/domain"
	"github.com/ignite/coupon-sync/internal/pkg/distlock"
	"github.com/ignite/coupon-sync/internal/reconcile"
	"github.com/ignite/coupon-sync/internal/scheduler"
)

type fakeBatchSource struct {
	byFileID map[string]*domain.BulkAssignmentBatch
	open     []domain.BulkAssignmentBatch
	listErr  error
}

func (f *fakeBatchSource) GetBatchBySheetFileID(_ context.Context, fileID string) (*domain.BulkAssignmentBatch, error) {
	b, ok := f.byFileID[fileID]
	if !ok {
		return nil, reconcile.ErrBatchNotFound
	}
	return b, nil
}

func (f *fakeBatchSource) ListOpenBatches(context.Context) ([]domain.BulkAssignmentBatch, error) {
	return f.open, f.listErr
}

type fakeRunner struct {
	ran []uuid.UUID
	err error
}

func (f *fakeRunner) Run(_ context.Context, batch *domain.BulkAssignmentBatch) (*reconcile.PassResult, error) {
	f.ran = append(f.ran, batch.ID)
	if f.err != nil {
		return nil, f.err
	}
	return &reconcile.PassResult{BatchID: batch.ID}, nil
}

type fakeTaskQueue struct {
	tasks []scheduler.Task
	err   error
}

func (f *fakeTaskQueue) Due(context.Context) ([]scheduler.Task, error) {
	tasks := f.tasks
	f.tasks = nil
	return tasks, f.err
}

type fakeLock struct {
	acquired   bool
	acquireErr error
	releases   int
}

func (f *fakeLock) Acquire(context.Context) (bool, error) { return f.acquired, f.acquireErr }
func (f *fakeLock) Release(context.Context) error         { f.releases++; return nil }

func testWorker(batches *fakeBatchSource, runner *fakeRunner, tasks *fakeTaskQueue, lock *fakeLock) *ReconcileWorker {
	cfg := config.ReconcileConfig{PollSeconds: 1, LockTTLMinutes: 1}
	w := NewReconcileWorker(nil, batches, runner, tasks, cfg)
	w.ctx, w.cancel = context.WithCancel(context.Background())
	w.newLock = func(string) distlock.DistLock { return lock }
	return w
}

func testBatch(fileID string) *domain.BulkAssignmentBatch {
	return &domain.BulkAssignmentBatch{
		ID:          uuid.New(),
		SheetFileID: &fileID,
		SheetTitle:  "June Coupons",
		CreatedAt:   time.Now(),
	}
}

func TestProcessDueTasksRunsPass(t *testing.T) {
	batch := testBatch("file-1")
	batches := &fakeBatchSource{byFileID: map[string]*domain.BulkAssignmentBatch{"file-1": batch}}
	runner := &fakeRunner{}
	lock := &fakeLock{acquired: true}
	tasks := &fakeTaskQueue{tasks: []scheduler.Task{
		{ID: "t1", Kind: scheduler.KindSync, FileID: "file-1"},
	}}

	w := testWorker(batches, runner, tasks, lock)
	w.processDueTasks()

	if len(runner.ran) != 1 || runner.ran[0] != batch.ID {
		t.Errorf("ran = %v, want one pass for %s", runner.ran, batch.ID)
	}
	if lock.releases != 1 {
		t.Errorf("lock released %d times, want 1", lock.releases)
	}
	processed, passes, _, errs := w.Stats()
	if processed != 1 || passes != 1 || errs != 0 {
		t.Errorf("stats = (%d, %d, _, %d), want (1, 1, 0)", processed, passes, errs)
	}
}

func TestProcessDueTasksUnknownFile(t *testing.T) {
	batches := &fakeBatchSource{byFileID: map[string]*domain.BulkAssignmentBatch{}}
	runner := &fakeRunner{}
	tasks := &fakeTaskQueue{tasks: []scheduler.Task{
		{ID: "t1", Kind: scheduler.KindSync, FileID: "ghost"},
	}}

	w := testWorker(batches, runner, tasks, &fakeLock{acquired: true})
	w.processDueTasks()

	if len(runner.ran) != 0 {
		t.Errorf("pass ran for a file no batch tracks: %v", runner.ran)
	}
	_, _, _, errs := w.Stats()
	if errs != 0 {
		t.Errorf("errors = %d, a missing batch is not a worker error", errs)
	}
}

func TestProcessDueTasksUnknownKind(t *testing.T) {
	batch := testBatch("file-1")
	batches := &fakeBatchSource{byFileID: map[string]*domain.BulkAssignmentBatch{"file-1": batch}}
	runner := &fakeRunner{}
	tasks := &fakeTaskQueue{tasks: []scheduler.Task{
		{ID: "t1", Kind: "defrag", FileID: "file-1"},
	}}

	w := testWorker(batches, runner, tasks, &fakeLock{acquired: true})
	w.processDueTasks()

	if len(runner.ran) != 0 {
		t.Errorf("pass ran for an unknown task kind: %v", runner.ran)
	}
}

func TestProcessBatchSkipsWhenLocked(t *testing.T) {
	runner := &fakeRunner{}
	lock := &fakeLock{acquired: false}
	w := testWorker(&fakeBatchSource{}, runner, &fakeTaskQueue{}, lock)

	w.processBatch(testBatch("file-1"))

	if len(runner.ran) != 0 {
		t.Errorf("pass ran while the batch was locked elsewhere: %v", runner.ran)
	}
	if lock.releases != 0 {
		t.Error("released a lock that was never acquired")
	}
	_, _, skipped, _ := w.Stats()
	if skipped != 1 {
		t.Errorf("batchesSkipped = %d, want 1", skipped)
	}
}

func TestProcessBatchReleasesLockOnFailure(t *testing.T) {
	runner := &fakeRunner{err: errors.New("sheet unreachable")}
	lock := &fakeLock{acquired: true}
	w := testWorker(&fakeBatchSource{}, runner, &fakeTaskQueue{}, lock)

	w.processBatch(testBatch("file-1"))

	if lock.releases != 1 {
		t.Errorf("lock released %d times, want 1", lock.releases)
	}
	_, _, _, errs := w.Stats()
	if errs != 1 {
		t.Errorf("errors = %d, want 1", errs)
	}
}

func TestSweepOpenBatches(t *testing.T) {
	b1, b2 := testBatch("file-1"), testBatch("file-2")
	batches := &fakeBatchSource{open: []domain.BulkAssignmentBatch{*b1, *b2}}
	runner := &fakeRunner{}
	w := testWorker(batches, runner, &fakeTaskQueue{}, &fakeLock{acquired: true})

	w.sweepOpenBatches()

	if len(runner.ran) != 2 {
		t.Fatalf("ran %d passes, want 2", len(runner.ran))
	}
	if runner.ran[0] != b1.ID || runner.ran[1] != b2.ID {
		t.Errorf("ran = %v, want [%s %s]", runner.ran, b1.ID, b2.ID)
	}
}

func TestWorkerStartStop(t *testing.T) {
	cfg := config.ReconcileConfig{PollSeconds: 60, LockTTLMinutes: 1}
	w := NewReconcileWorker(nil, &fakeBatchSource{}, &fakeRunner{}, &fakeTaskQueue{}, cfg)

	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := w.Start(); err == nil {
		t.Error("second Start did not error")
	}

	w.Stop()
	// stopping twice is a no-op
	w.Stop()
}
