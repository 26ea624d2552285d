package reconcile

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/coupon-sync/internal/domain"
)

// RowUpdate is one staged correction to a sheet row: a new status, its
// date, and optionally an alternate email observed in the delivery log.
type RowUpdate struct {
	// Row is 1-based unless the consumer says otherwise at write time.
	Row        int
	Status     string
	StatusDate time.Time
	AltEmail   string
}

// statusRecord tracks one coupon code's reconciled view across the
// sheet, the database, and the delivery log.
type statusRecord struct {
	row            int
	email          string
	existingStatus string
	existingDate   string

	hasNew    bool
	newStatus domain.MessageStatus
	newDate   time.Time
	altEmail  string

	deliveredAt time.Time
}

// StatusMap is the per-pass reconciliation ledger: batch id -> coupon
// code -> merged status record. It is built fresh each pass, enriched
// from the delivery-event log, and discarded afterwards.
//
// Lookups for unknown batches or codes are valid input (a row may have
// been removed from the sheet since the events were emitted) and
// resolve to "no update", never an error.
type StatusMap struct {
	records    map[uuid.UUID]map[string]*statusRecord
	unassigned map[uuid.UUID]int
}

// NewStatusMap returns an empty ledger.
func NewStatusMap() *StatusMap {
	return &StatusMap{
		records:    make(map[uuid.UUID]map[string]*statusRecord),
		unassigned: make(map[uuid.UUID]int),
	}
}

// AddAssignmentRows seeds the ledger from parsed sheet rows. Rows with
// no assignee email count toward the batch's unassigned-code total and
// are excluded from per-code tracking.
func (m *StatusMap) AddAssignmentRows(batchID uuid.UUID, rows []AssignmentRow) {
	codes, ok := m.records[batchID]
	if !ok {
		codes = make(map[string]*statusRecord)
		m.records[batchID] = codes
	}
	for _, r := range rows {
		if !r.HasAssignee() {
			m.unassigned[batchID]++
			continue
		}
		codes[r.Code] = &statusRecord{
			row:            r.Index,
			email:          r.Email,
			existingStatus: r.Status,
			existingDate:   r.StatusDate,
		}
	}
}

// AddPotentialEventDate folds one delivery event into the ledger.
func (m *StatusMap) AddPotentialEventDate(batchID uuid.UUID, code, recipient string, event domain.MessageStatus, at time.Time) {
	rec, ok := m.records[batchID][code]
	if !ok {
		return
	}

	// The sheet's date cells carry second resolution, so the event's
	// fractional timestamp must be truncated before comparing or staging.
	// Otherwise a re-fetched event never matches the date it produced.
	at = at.UTC().Truncate(time.Second)

	// Delivery evidence is tracked unconditionally: it answers "was an
	// email ever sent" regardless of what the final status becomes.
	if event == domain.MessageDelivered {
		rec.deliveredAt = at
	}

	// Enrolled means the learner redeemed the code. Nothing in the
	// delivery log may overwrite it.
	if domain.MessageStatus(rec.existingStatus) == domain.MessageEnrolled {
		return
	}

	// Same status and timestamp as the sheet already shows: no new
	// information. Any update staged by an earlier event is cleared so
	// an in-sync sheet produces zero writes.
	if rec.existingStatus == string(event) {
		if existing, ok := parseStatusDate(rec.existingDate); ok && existing.Equal(at) {
			rec.hasNew = false
			rec.altEmail = ""
			return
		}
	}

	rec.hasNew = true
	rec.newStatus = event
	rec.newDate = at
	if recipient != "" && !strings.EqualFold(recipient, rec.email) {
		rec.altEmail = recipient
	}
}

// HasNewStatuses reports whether any code in the batch has a staged update.
func (m *StatusMap) HasNewStatuses(batchID uuid.UUID) bool {
	for _, rec := range m.records[batchID] {
		if rec.hasNew {
			return true
		}
	}
	return false
}

// GetRowUpdate returns the staged update for one code, if any.
func (m *StatusMap) GetRowUpdate(batchID uuid.UUID, code string) (RowUpdate, bool) {
	rec, ok := m.records[batchID][code]
	if !ok || !rec.hasNew {
		return RowUpdate{}, false
	}
	return RowUpdate{
		Row:        rec.row,
		Status:     string(rec.newStatus),
		StatusDate: rec.newDate,
		AltEmail:   rec.altEmail,
	}, true
}

// GetRowUpdates returns all staged updates for the batch, ordered by row.
func (m *StatusMap) GetRowUpdates(batchID uuid.UUID) []RowUpdate {
	var updates []RowUpdate
	for code := range m.records[batchID] {
		if u, ok := m.GetRowUpdate(batchID, code); ok {
			updates = append(updates, u)
		}
	}
	sortRowUpdates(updates)
	return updates
}

// NewStatuses returns the staged status per coupon code, for persisting
// alongside the sheet write-back.
func (m *StatusMap) NewStatuses(batchID uuid.UUID) map[string]RowUpdate {
	out := make(map[string]RowUpdate)
	for code := range m.records[batchID] {
		if u, ok := m.GetRowUpdate(batchID, code); ok {
			out[code] = u
		}
	}
	return out
}

// GetMessageDeliveryDate returns the observed delivery timestamp for a
// code, or the zero time. Callers treat the zero time uniformly as
// not-yet-delivered.
func (m *StatusMap) GetMessageDeliveryDate(batchID uuid.UUID, code string) time.Time {
	rec, ok := m.records[batchID][code]
	if !ok {
		return time.Time{}
	}
	return rec.deliveredAt
}

// HasUnassignedCodes reports whether the batch's sheet still has codes
// without a recipient.
func (m *StatusMap) HasUnassignedCodes(batchID uuid.UUID) bool {
	return m.unassigned[batchID] > 0
}

// UnassignedCount returns the number of codes without a recipient.
func (m *StatusMap) UnassignedCount(batchID uuid.UUID) int {
	return m.unassigned[batchID]
}

func sortRowUpdates(updates []RowUpdate) {
	sort.Slice(updates, func(i, j int) bool { return updates[i].Row < updates[j].Row })
}
