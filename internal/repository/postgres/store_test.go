package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"

	"github.com/ignite/coupon-sync/internal/domain"
	"github.com/ignite/coupon-sync/internal/reconcile"
)

func setupTestDB(t *testing.T) (*Store, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("creating sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewStore(db), mock
}

func batchRows(id uuid.UUID) *sqlmock.Rows {
	fileID := "sheet-file-1"
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "sheet_file_id", "sheet_title", "assignments_started_at",
		"last_assignment_at", "message_delivery_completed_at", "created_at", "updated_at",
	}).AddRow(id, &fileID, "June Coupons", nil, nil, nil, now, now)
}

func TestGetBatch(t *testing.T) {
	store, mock := setupTestDB(t)
	id := uuid.New()

	mock.ExpectQuery(`SELECT (.+) FROM coupon_assignment_batches\s+WHERE id = \$1`).
		WithArgs(id).
		WillReturnRows(batchRows(id))

	b, err := store.GetBatch(context.Background(), id)
	if err != nil {
		t.Fatalf("GetBatch failed: %v", err)
	}
	if b.ID != id || b.SheetTitle != "June Coupons" {
		t.Errorf("batch = %+v", b)
	}
	if b.Settled() {
		t.Error("batch with nil completion timestamp reported settled")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestGetBatchNotFound(t *testing.T) {
	store, mock := setupTestDB(t)
	id := uuid.New()

	mock.ExpectQuery(`SELECT (.+) FROM coupon_assignment_batches`).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := store.GetBatch(context.Background(), id)
	if err != reconcile.ErrBatchNotFound {
		t.Errorf("err = %v, want ErrBatchNotFound", err)
	}
}

func TestApplyResolution(t *testing.T) {
	store, mock := setupTestDB(t)
	batchID := uuid.New()
	deleteID := uuid.New()
	created := domain.Assignment{
		ID: uuid.New(), BatchID: batchID, ProductCouponID: uuid.New(),
		Code: "C1", Email: "jane@example.com", OriginalEmail: "jane@example.com",
		MessageStatus: domain.MessageUnsent,
	}

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM coupon_assignment_batches WHERE id = \$1 FOR UPDATE`).
		WithArgs(batchID).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(batchID))
	mock.ExpectExec(`DELETE FROM coupon_assignments`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO coupon_assignments`).
		WithArgs(created.ID, batchID, created.ProductCouponID, "C1",
			"jane@example.com", "jane@example.com", "unsent").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE coupon_assignment_batches`).
		WithArgs(batchID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.ApplyResolution(context.Background(), batchID,
		[]domain.Assignment{created}, []uuid.UUID{deleteID})
	if err != nil {
		t.Fatalf("ApplyResolution failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestApplyResolutionBatchMissing(t *testing.T) {
	store, mock := setupTestDB(t)
	batchID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM coupon_assignment_batches WHERE id = \$1 FOR UPDATE`).
		WithArgs(batchID).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	err := store.ApplyResolution(context.Background(), batchID, nil, []uuid.UUID{uuid.New()})
	if err != reconcile.ErrBatchNotFound {
		t.Errorf("err = %v, want ErrBatchNotFound", err)
	}
}

func TestUpdateAssignmentStatuses(t *testing.T) {
	store, mock := setupTestDB(t)
	batchID := uuid.New()
	at := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE coupon_assignments`).
		WithArgs(batchID, "C1", "delivered", at, "").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE coupon_assignments`).
		WithArgs(batchID, "C2", "opened", at, "Other@Example.com").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.UpdateAssignmentStatuses(context.Background(), batchID, []reconcile.AssignmentStatusUpdate{
		{Code: "C1", Status: domain.MessageDelivered, StatusAt: at},
		{Code: "C2", Status: domain.MessageOpened, StatusAt: at, AlternateEmail: "Other@Example.com"},
	})
	if err != nil {
		t.Fatalf("UpdateAssignmentStatuses failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestUpdateAssignmentStatusesEmpty(t *testing.T) {
	store, mock := setupTestDB(t)
	if err := store.UpdateAssignmentStatuses(context.Background(), uuid.New(), nil); err != nil {
		t.Fatalf("empty update failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestMarkBatchComplete(t *testing.T) {
	store, mock := setupTestDB(t)
	batchID := uuid.New()
	at := time.Now().UTC()

	mock.ExpectExec(`UPDATE coupon_assignment_batches`).
		WithArgs(batchID, at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.MarkBatchComplete(context.Background(), batchID, at); err != nil {
		t.Fatalf("MarkBatchComplete failed: %v", err)
	}
}

func TestProductCouponsByCodes(t *testing.T) {
	store, mock := setupTestDB(t)
	id1, id2 := uuid.New(), uuid.New()

	mock.ExpectQuery(`SELECT id, code, enabled\s+FROM product_coupons`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "code", "enabled"}).
			AddRow(id1, "C1", true).
			AddRow(id2, "C2", false))

	coupons, err := store.ProductCouponsByCodes(context.Background(), []string{"C1", "C2"})
	if err != nil {
		t.Fatalf("ProductCouponsByCodes failed: %v", err)
	}
	if len(coupons) != 2 || coupons[0].Code != "C1" || coupons[1].Enabled {
		t.Errorf("coupons = %+v", coupons)
	}
}

func TestCountUnsettled(t *testing.T) {
	store, mock := setupTestDB(t)
	batchID := uuid.New()

	mock.ExpectQuery(`SELECT COUNT\(\*\)`).
		WithArgs(batchID).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	n, err := store.CountUnsettled(context.Background(), batchID)
	if err != nil {
		t.Fatalf("CountUnsettled failed: %v", err)
	}
	if n != 3 {
		t.Errorf("n = %d, want 3", n)
	}
}
