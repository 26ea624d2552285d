package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/coupon-sync/internal/domain"
)

// Sentinel errors returned by Store implementations.
var (
	ErrBatchNotFound = errors.New("batch not found")
)

// AssignmentStatusUpdate persists one observed status change for the
// assignment holding a coupon code. A non-empty AlternateEmail corrects
// the assignment's recipient while preserving the original address.
type AssignmentStatusUpdate struct {
	Code           string
	Status         domain.MessageStatus
	StatusAt       time.Time
	AlternateEmail string
}

// Store is the persistence surface a reconciliation pass needs.
type Store interface {
	GetBatch(ctx context.Context, id uuid.UUID) (*domain.BulkAssignmentBatch, error)
	GetBatchBySheetFileID(ctx context.Context, fileID string) (*domain.BulkAssignmentBatch, error)
	GetBatchByTitle(ctx context.Context, title string) (*domain.BulkAssignmentBatch, error)

	ListAssignments(ctx context.Context, batchID uuid.UUID) ([]domain.Assignment, error)
	ProductCouponsByCodes(ctx context.Context, codes []string) ([]domain.ProductCoupon, error)

	// ApplyResolution creates and deletes assignments in one transaction
	// that row-locks the batch, and advances the batch's assignment
	// timestamps. All-or-nothing.
	ApplyResolution(ctx context.Context, batchID uuid.UUID, create []domain.Assignment, deleteIDs []uuid.UUID) error

	UpdateAssignmentStatuses(ctx context.Context, batchID uuid.UUID, updates []AssignmentStatusUpdate) error
	MarkBatchComplete(ctx context.Context, batchID uuid.UUID, at time.Time) error
}
