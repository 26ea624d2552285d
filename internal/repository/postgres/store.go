// Package postgres persists batches, assignments, and sheet watches.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ignite/coupon-sync/internal/domain"
	"github.com/ignite/coupon-sync/internal/reconcile"
)

// Store implements the reconciliation engine's persistence surface on
// PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a Store over an open database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const batchColumns = `id, sheet_file_id, sheet_title, assignments_started_at,
	last_assignment_at, message_delivery_completed_at, created_at, updated_at`

func scanBatch(row *sql.Row) (*domain.BulkAssignmentBatch, error) {
	var b domain.BulkAssignmentBatch
	err := row.Scan(&b.ID, &b.SheetFileID, &b.SheetTitle, &b.AssignmentsStartedAt,
		&b.LastAssignmentAt, &b.MessageDeliveryCompletedAt, &b.CreatedAt, &b.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, reconcile.ErrBatchNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning batch: %w", err)
	}
	return &b, nil
}

// GetBatch loads one batch by id.
func (s *Store) GetBatch(ctx context.Context, id uuid.UUID) (*domain.BulkAssignmentBatch, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+batchColumns+`
		FROM coupon_assignment_batches
		WHERE id = $1
	`, id)
	return scanBatch(row)
}

// GetBatchBySheetFileID loads the batch tracking a spreadsheet file.
func (s *Store) GetBatchBySheetFileID(ctx context.Context, fileID string) (*domain.BulkAssignmentBatch, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+batchColumns+`
		FROM coupon_assignment_batches
		WHERE sheet_file_id = $1
	`, fileID)
	return scanBatch(row)
}

// GetBatchByTitle loads a batch by its sheet title.
func (s *Store) GetBatchByTitle(ctx context.Context, title string) (*domain.BulkAssignmentBatch, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+batchColumns+`
		FROM coupon_assignment_batches
		WHERE sheet_title = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, title)
	return scanBatch(row)
}

// ListOpenBatches returns every batch with a sheet that has not yet
// fully converged, for the scheduled worker to sweep.
func (s *Store) ListOpenBatches(ctx context.Context) ([]domain.BulkAssignmentBatch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+batchColumns+`
		FROM coupon_assignment_batches
		WHERE sheet_file_id IS NOT NULL
		  AND message_delivery_completed_at IS NULL
		ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("listing open batches: %w", err)
	}
	defer rows.Close()

	var batches []domain.BulkAssignmentBatch
	for rows.Next() {
		var b domain.BulkAssignmentBatch
		if err := rows.Scan(&b.ID, &b.SheetFileID, &b.SheetTitle, &b.AssignmentsStartedAt,
			&b.LastAssignmentAt, &b.MessageDeliveryCompletedAt, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning batch: %w", err)
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

// CreateBatch inserts a new batch record.
func (s *Store) CreateBatch(ctx context.Context, b *domain.BulkAssignmentBatch) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO coupon_assignment_batches (id, sheet_file_id, sheet_title, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
	`, b.ID, b.SheetFileID, b.SheetTitle)
	if err != nil {
		return fmt.Errorf("creating batch: %w", err)
	}
	return nil
}

// ListAssignments returns every assignment in a batch.
func (s *Store) ListAssignments(ctx context.Context, batchID uuid.UUID) ([]domain.Assignment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, batch_id, product_coupon_id, code, email, original_email,
		       message_status, message_status_at, redeemed, created_at, updated_at
		FROM coupon_assignments
		WHERE batch_id = $1
		ORDER BY created_at
	`, batchID)
	if err != nil {
		return nil, fmt.Errorf("listing assignments: %w", err)
	}
	defer rows.Close()

	var assignments []domain.Assignment
	for rows.Next() {
		var a domain.Assignment
		var status sql.NullString
		if err := rows.Scan(&a.ID, &a.BatchID, &a.ProductCouponID, &a.Code, &a.Email,
			&a.OriginalEmail, &status, &a.MessageStatusAt, &a.Redeemed, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning assignment: %w", err)
		}
		a.MessageStatus = domain.MessageStatus(status.String)
		assignments = append(assignments, a)
	}
	return assignments, rows.Err()
}

// ProductCouponsByCodes returns the coupons matching any of the codes.
func (s *Store) ProductCouponsByCodes(ctx context.Context, codes []string) ([]domain.ProductCoupon, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, code, enabled
		FROM product_coupons
		WHERE code = ANY($1)
	`, pq.Array(codes))
	if err != nil {
		return nil, fmt.Errorf("loading product coupons: %w", err)
	}
	defer rows.Close()

	var coupons []domain.ProductCoupon
	for rows.Next() {
		var c domain.ProductCoupon
		if err := rows.Scan(&c.ID, &c.Code, &c.Enabled); err != nil {
			return nil, fmt.Errorf("scanning product coupon: %w", err)
		}
		coupons = append(coupons, c)
	}
	return coupons, rows.Err()
}

// ApplyResolution creates and deletes assignments atomically. The batch
// row is locked first, serializing concurrent passes for one batch
// while leaving other batches untouched. Redeemed assignments are
// excluded from deletion at the SQL level as a final guard.
func (s *Store) ApplyResolution(ctx context.Context, batchID uuid.UUID, create []domain.Assignment, deleteIDs []uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var locked uuid.UUID
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM coupon_assignment_batches WHERE id = $1 FOR UPDATE
	`, batchID).Scan(&locked)
	if err == sql.ErrNoRows {
		return reconcile.ErrBatchNotFound
	}
	if err != nil {
		return fmt.Errorf("locking batch %s: %w", batchID, err)
	}

	if len(deleteIDs) > 0 {
		ids := make([]string, len(deleteIDs))
		for i, id := range deleteIDs {
			ids[i] = id.String()
		}
		_, err = tx.ExecContext(ctx, `
			DELETE FROM coupon_assignments
			WHERE batch_id = $1 AND id = ANY($2) AND redeemed = false
		`, batchID, pq.Array(ids))
		if err != nil {
			return fmt.Errorf("deleting assignments: %w", err)
		}
	}

	for _, a := range create {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO coupon_assignments
				(id, batch_id, product_coupon_id, code, email, original_email,
				 message_status, redeemed, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, false, NOW(), NOW())
		`, a.ID, a.BatchID, a.ProductCouponID, a.Code, a.Email, a.OriginalEmail, string(a.MessageStatus))
		if err != nil {
			return fmt.Errorf("creating assignment for code %s: %w", a.Code, err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE coupon_assignment_batches
		SET assignments_started_at = COALESCE(assignments_started_at, NOW()),
		    last_assignment_at = NOW(),
		    updated_at = NOW()
		WHERE id = $1
	`, batchID)
	if err != nil {
		return fmt.Errorf("updating batch timestamps: %w", err)
	}

	return tx.Commit()
}

// UpdateAssignmentStatuses persists observed status changes. Enrolled
// stays terminal at the SQL level too: nothing overwrites it. A status
// correction carrying an alternate email rewrites the recipient while
// original_email keeps the first address.
func (s *Store) UpdateAssignmentStatuses(ctx context.Context, batchID uuid.UUID, updates []reconcile.AssignmentStatusUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, u := range updates {
		_, err = tx.ExecContext(ctx, `
			UPDATE coupon_assignments
			SET message_status = $3,
			    message_status_at = $4,
			    email = CASE WHEN $5 <> '' THEN LOWER($5) ELSE email END,
			    updated_at = NOW()
			WHERE batch_id = $1 AND code = $2 AND message_status IS DISTINCT FROM 'enrolled'
		`, batchID, u.Code, string(u.Status), u.StatusAt, u.AlternateEmail)
		if err != nil {
			return fmt.Errorf("updating status for code %s: %w", u.Code, err)
		}
	}
	return tx.Commit()
}

// MarkBatchComplete sets the delivery-completed timestamp once.
func (s *Store) MarkBatchComplete(ctx context.Context, batchID uuid.UUID, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE coupon_assignment_batches
		SET message_delivery_completed_at = $2, updated_at = NOW()
		WHERE id = $1 AND message_delivery_completed_at IS NULL
	`, batchID, at)
	if err != nil {
		return fmt.Errorf("marking batch complete: %w", err)
	}
	return nil
}

// CountUnsettled returns how many assignments in the batch are not yet
// in a settled status.
func (s *Store) CountUnsettled(ctx context.Context, batchID uuid.UUID) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM coupon_assignments
		WHERE batch_id = $1
		  AND (message_status IS NULL
		       OR message_status NOT IN ('delivered', 'opened', 'clicked', 'enrolled'))
	`, batchID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting unsettled assignments: %w", err)
	}
	return n, nil
}
