// Package reconcile converges three views of a bulk coupon assignment:
// a human-edited spreadsheet, the database's assignment records, and
// the mail provider's delivery-event log. Each pass re-derives all
// state from scratch; nothing is cached across passes because the
// sheet can change out-of-band at any moment.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/coupon-sync/internal/domain"
	"github.com/ignite/coupon-sync/internal/mailer"
	"github.com/ignite/coupon-sync/internal/pkg/logger"
	"github.com/ignite/coupon-sync/internal/sheets"
)

// CompletedMetadataKey is the developer-metadata key stamped onto a
// spreadsheet file once its batch fully converges, letting later passes
// skip the sheet without re-parsing it.
const CompletedMetadataKey = "assignment_completed"

// SheetService is the spreadsheet surface a pass needs.
type SheetService interface {
	Open(ctx context.Context, spreadsheetID string) (*sheets.Spreadsheet, error)
	GetValues(ctx context.Context, spreadsheetID, a1Range string) ([][]string, error)
	BatchUpdateValues(ctx context.Context, spreadsheetID string, data []sheets.ValueRange) error
	SetDeveloperMetadata(ctx context.Context, spreadsheetID, key, value string, existingID int64) error
}

// Notifier sends enrollment-code notifications for a batch.
type Notifier interface {
	SendEnrollmentCodes(ctx context.Context, batchID uuid.UUID, batchTitle string, notes []mailer.Notification) (int, error)
}

// Options tunes one orchestrator instance.
type Options struct {
	// GracePeriod is how old an assignment must be before a row with no
	// delivery evidence is treated as never-notified.
	GracePeriod time.Duration
	// SendCatchUp resends notifications for never-notified assignments
	// during the pass. The scheduled worker enables it; the interactive
	// sync command asks first.
	SendCatchUp bool
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Orchestrator drives one full reconciliation pass per call:
// parse, resolve, persist, notify, write back.
type Orchestrator struct {
	store    Store
	sheets   SheetService
	fetcher  *EventFetcher
	notifier Notifier
	writer   *RowWriter
	layout   SheetLayout
	opts     Options
}

// NewOrchestrator wires a pass runner over its collaborators.
func NewOrchestrator(store Store, sv SheetService, fetcher *EventFetcher, notifier Notifier, opts Options) *Orchestrator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	layout := AssignmentSheetLayout
	return &Orchestrator{
		store:    store,
		sheets:   sv,
		fetcher:  fetcher,
		notifier: notifier,
		writer:   NewRowWriter(sv, layout),
		layout:   layout,
		opts:     opts,
	}
}

// PassResult summarizes what one reconciliation pass did.
type PassResult struct {
	BatchID       uuid.UUID
	Skipped       bool
	Rows          int
	Created       int
	Deleted       int
	Notified      int
	InvalidEmails int
	RowUpdates    int
	SheetCalls    int
	Unsent        int
	Complete      bool
}

// Run executes one reconciliation pass for the batch. Sheet-level
// validation failures and persistence errors abort the pass with no
// partial database state; notification and write-back failures are
// logged and left for the next pass to converge.
func (o *Orchestrator) Run(ctx context.Context, batch *domain.BulkAssignmentBatch) (*PassResult, error) {
	result := &PassResult{BatchID: batch.ID}
	now := o.opts.Now().UTC()

	if batch.SheetFileID == nil {
		return nil, fmt.Errorf("batch %s has no spreadsheet yet", batch.ID)
	}
	fileID := *batch.SheetFileID

	sp, err := o.sheets.Open(ctx, fileID)
	if err != nil {
		return nil, fmt.Errorf("opening sheet for batch %s: %w", batch.ID, err)
	}

	// Fully settled sheets are stamped with file metadata; skip them
	// without reading a single cell.
	if batch.Settled() && sp.MetadataValue(CompletedMetadataKey) != "" {
		result.Skipped = true
		result.Complete = true
		return result, nil
	}

	title := sp.FirstSheetTitle()
	if title == "" {
		return nil, &SheetValidationError{SpreadsheetID: fileID, Reason: "spreadsheet has no worksheets"}
	}

	raw, err := o.sheets.GetValues(ctx, fileID, o.layout.DataRange(title))
	if err != nil {
		return nil, fmt.Errorf("reading rows for batch %s: %w", batch.ID, err)
	}
	rows, parseFailures := ParseAssignmentRows(o.layout, raw)
	for _, pf := range parseFailures {
		logger.Warn("skipping unparseable sheet row", "batch_id", batch.ID.String(), "row", pf.Row, "error", pf.Error())
	}
	result.Rows = len(rows)

	if err := ValidateRows(fileID, rows); err != nil {
		return nil, err
	}

	existing, err := o.store.ListAssignments(ctx, batch.ID)
	if err != nil {
		return nil, fmt.Errorf("loading assignments for batch %s: %w", batch.ID, err)
	}

	couponsByCode, err := o.validateCoupons(ctx, fileID, rows)
	if err != nil {
		return nil, err
	}

	var desired []DesiredAssignment
	for _, r := range rows {
		if !r.HasAssignee() {
			continue
		}
		desired = append(desired, DesiredAssignment{
			Row:             r.Index,
			Code:            r.Code,
			Email:           r.Email,
			ProductCouponID: couponsByCode[r.Code].ID,
		})
	}

	valid, invalid, emailErr := ValidateEmails(desired)
	var invalidUpdates []RowUpdate
	if emailErr != nil {
		logger.Warn("excluding invalid recipient addresses", "batch_id", batch.ID.String(), "error", emailErr.Error())
		for _, d := range invalid {
			invalidUpdates = append(invalidUpdates, RowUpdate{
				Row:        d.Row,
				Status:     string(domain.MessageInvalid),
				StatusDate: now,
			})
		}
	}
	result.InvalidEmails = len(invalid)

	res := Resolve(valid, existing)
	logger.Info("resolved desired state", "batch_id", batch.ID.String(),
		"create", len(res.Create), "delete", len(res.DeleteIDs), "anomalies", anomalySummary(res))

	created := make([]domain.Assignment, 0, len(res.Create))
	for _, d := range res.Create {
		created = append(created, domain.Assignment{
			ID:              uuid.New(),
			BatchID:         batch.ID,
			ProductCouponID: d.ProductCouponID,
			Code:            d.Code,
			Email:           d.Email,
			OriginalEmail:   d.Email,
			MessageStatus:   domain.MessageUnsent,
			CreatedAt:       now,
			UpdatedAt:       now,
		})
	}

	if len(created) > 0 || len(res.DeleteIDs) > 0 {
		if err := o.store.ApplyResolution(ctx, batch.ID, created, res.DeleteIDs); err != nil {
			return nil, fmt.Errorf("persisting resolution for batch %s: %w", batch.ID, err)
		}
	}
	result.Created = len(created)
	result.Deleted = len(res.DeleteIDs)

	// Notification strictly follows the commit: an email must never go
	// out for an assignment that did not persist.
	assignedUpdates := o.notifyCreated(ctx, batch, res.Create, created, now, result)

	current := currentAssignments(existing, created, res.DeleteIDs)

	statusMap := NewStatusMap()
	statusMap.AddAssignmentRows(batch.ID, rows)
	if err := o.foldEvents(ctx, batch, now, statusMap); err != nil {
		// Events unavailable: the sheet still gets resolver-driven
		// corrections, and the next pass re-reads the full window.
		logger.Error("delivery-event fetch failed", "batch_id", batch.ID.String(), "error", err.Error())
	}

	deliveredAt := func(code string) time.Time { return statusMap.GetMessageDeliveryDate(batch.ID, code) }
	outUpdates, unsent := OutOfSync(rows, current, deliveredAt, o.opts.GracePeriod, now)
	result.Unsent = len(unsent)

	if o.opts.SendCatchUp && len(unsent) > 0 {
		o.notifyUnsent(ctx, batch, unsent, result)
	}

	// Redeemed assignments are pinned to enrolled; a late open or click
	// in the delivery log must not restate their rows or touch the DB.
	staged := statusMap.NewStatuses(batch.ID)
	for code := range staged {
		if a, ok := current[code]; ok && a.Redeemed {
			delete(staged, code)
		}
	}
	if len(staged) > 0 {
		updates := make([]AssignmentStatusUpdate, 0, len(staged))
		for code, u := range staged {
			updates = append(updates, AssignmentStatusUpdate{
				Code:           code,
				Status:         domain.MessageStatus(u.Status),
				StatusAt:       u.StatusDate,
				AlternateEmail: u.AltEmail,
			})
		}
		if err := o.store.UpdateAssignmentStatuses(ctx, batch.ID, updates); err != nil {
			return result, fmt.Errorf("persisting status updates for batch %s: %w", batch.ID, err)
		}
	}

	eventUpdates := make([]RowUpdate, 0, len(staged))
	for _, u := range staged {
		eventUpdates = append(eventUpdates, u)
	}
	sortRowUpdates(eventUpdates)

	merged := mergeUpdates(outUpdates, eventUpdates, assignedUpdates, invalidUpdates)
	result.RowUpdates = len(merged)
	calls, err := o.writer.Apply(ctx, fileID, title, merged, false)
	result.SheetCalls = calls
	if err != nil {
		// Database state is committed; the sheet converges next pass.
		logger.Error("sheet write-back failed", "batch_id", batch.ID.String(), "error", err.Error())
	}

	o.checkCompletion(ctx, batch, sp, current, staged, statusMap, len(unsent), len(invalid), now, result)

	logger.Info("reconciliation pass finished", "batch_id", batch.ID.String(),
		"rows", result.Rows, "created", result.Created, "deleted", result.Deleted,
		"notified", result.Notified, "row_updates", result.RowUpdates, "complete", result.Complete)
	return result, nil
}

// validateCoupons checks that every code on the sheet maps to exactly
// one eligible product coupon. A mismatch means a typo'd or foreign
// code and fails the whole sheet rather than silently doing nothing.
func (o *Orchestrator) validateCoupons(ctx context.Context, fileID string, rows []AssignmentRow) (map[string]domain.ProductCoupon, error) {
	codes := make([]string, 0, len(rows))
	for _, r := range rows {
		codes = append(codes, r.Code)
	}

	coupons, err := o.store.ProductCouponsByCodes(ctx, codes)
	if err != nil {
		return nil, fmt.Errorf("loading product coupons: %w", err)
	}

	byCode := make(map[string]domain.ProductCoupon, len(coupons))
	for _, c := range coupons {
		if !c.Enabled {
			continue
		}
		byCode[c.Code] = c
	}
	if len(byCode) != len(codes) {
		return nil, &SheetValidationError{
			SpreadsheetID: fileID,
			Reason:        fmt.Sprintf("sheet references %d coupon codes but %d eligible coupons were found", len(codes), len(byCode)),
		}
	}
	return byCode, nil
}

// notifyCreated sends one batched notification for the newly created
// assignments and stages "assigned" statuses for their rows. A send
// failure is not fatal: the committed assignments surface as
// never-notified after the grace period and get a catch-up send.
func (o *Orchestrator) notifyCreated(ctx context.Context, batch *domain.BulkAssignmentBatch, creates []DesiredAssignment, created []domain.Assignment, now time.Time, result *PassResult) []RowUpdate {
	if len(created) == 0 {
		return nil
	}

	notes := make([]mailer.Notification, 0, len(created))
	for _, a := range created {
		notes = append(notes, mailer.Notification{Email: a.Email, Code: a.Code})
	}

	sent, err := o.notifier.SendEnrollmentCodes(ctx, batch.ID, batch.SheetTitle, notes)
	if err != nil {
		logger.Error("notification send failed", "batch_id", batch.ID.String(), "error", err.Error())
		return nil
	}
	result.Notified += sent

	updates := make([]RowUpdate, 0, len(creates))
	for _, d := range creates {
		updates = append(updates, RowUpdate{
			Row:        d.Row,
			Status:     domain.SheetStatusAssigned,
			StatusDate: now,
		})
	}
	return updates
}

func (o *Orchestrator) notifyUnsent(ctx context.Context, batch *domain.BulkAssignmentBatch, unsent []domain.Assignment, result *PassResult) {
	notes := make([]mailer.Notification, 0, len(unsent))
	for _, a := range unsent {
		notes = append(notes, mailer.Notification{Email: a.Email, Code: a.Code})
	}
	sent, err := o.notifier.SendEnrollmentCodes(ctx, batch.ID, batch.SheetTitle, notes)
	if err != nil {
		logger.Error("catch-up notification failed", "batch_id", batch.ID.String(), "error", err.Error())
		return
	}
	result.Notified += sent
}

// foldEvents scans the delivery log from the batch's first assignment
// activity to now and merges relevant events into the status map.
func (o *Orchestrator) foldEvents(ctx context.Context, batch *domain.BulkAssignmentBatch, now time.Time, m *StatusMap) error {
	if o.fetcher == nil {
		return nil
	}
	begin := batch.CreatedAt
	if batch.AssignmentsStartedAt != nil {
		begin = *batch.AssignmentsStartedAt
	}
	return o.fetcher.Fetch(ctx, begin, now, func(ev domain.DeliveryEvent) {
		if ev.BatchID != batch.ID {
			return
		}
		m.AddPotentialEventDate(ev.BatchID, ev.Code, ev.Email, ev.Event, ev.Timestamp)
	})
}

// checkCompletion marks the batch complete when every assignment is in
// a settled status and no code is missing a recipient. The completion
// stamp on the spreadsheet file is best-effort.
func (o *Orchestrator) checkCompletion(ctx context.Context, batch *domain.BulkAssignmentBatch, sp *sheets.Spreadsheet, current map[string]domain.Assignment, staged map[string]RowUpdate, m *StatusMap, unsentCount, invalidCount int, now time.Time, result *PassResult) {
	if len(current) == 0 {
		return
	}
	if m.HasUnassignedCodes(batch.ID) || unsentCount > 0 || invalidCount > 0 {
		return
	}
	for code, a := range current {
		status := a.MessageStatus
		if u, ok := staged[code]; ok {
			status = domain.MessageStatus(u.Status)
		}
		if a.Redeemed {
			status = domain.MessageEnrolled
		}
		if !status.Settled() {
			return
		}
	}

	result.Complete = true
	if batch.Settled() {
		return
	}
	if err := o.store.MarkBatchComplete(ctx, batch.ID, now); err != nil {
		logger.Error("marking batch complete failed", "batch_id", batch.ID.String(), "error", err.Error())
		result.Complete = false
		return
	}

	var existingID int64
	for _, md := range sp.DeveloperMetadata {
		if md.Key == CompletedMetadataKey {
			existingID = md.ID
		}
	}
	if err := o.sheets.SetDeveloperMetadata(ctx, *batch.SheetFileID, CompletedMetadataKey, now.Format(time.RFC3339), existingID); err != nil {
		logger.Error("completion metadata stamp failed", "batch_id", batch.ID.String(), "error", err.Error())
	}
	logger.Info("batch fully converged", "batch_id", batch.ID.String(), "completed_at", now.Format(time.RFC3339))
}

// currentAssignments rebuilds the post-persist assignment set, keyed by
// coupon code.
func currentAssignments(existing, created []domain.Assignment, deleted []uuid.UUID) map[string]domain.Assignment {
	removed := make(map[uuid.UUID]bool, len(deleted))
	for _, id := range deleted {
		removed[id] = true
	}
	out := make(map[string]domain.Assignment, len(existing)+len(created))
	for _, a := range existing {
		if removed[a.ID] {
			continue
		}
		out[a.Code] = a
	}
	for _, a := range created {
		out[a.Code] = a
	}
	return out
}

// mergeUpdates flattens update sources into one list with at most one
// update per row. Later sources win so event-derived statuses override
// resolver guesses, and this pass's own creations override both.
func mergeUpdates(sources ...[]RowUpdate) []RowUpdate {
	byRow := make(map[int]RowUpdate)
	for _, src := range sources {
		for _, u := range src {
			if prev, ok := byRow[u.Row]; ok && u.AltEmail == "" {
				u.AltEmail = prev.AltEmail
			}
			byRow[u.Row] = u
		}
	}
	merged := make([]RowUpdate, 0, len(byRow))
	for _, u := range byRow {
		merged = append(merged, u)
	}
	sortRowUpdates(merged)
	return merged
}
