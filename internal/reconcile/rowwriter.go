package reconcile

import (
	"context"
	"fmt"

	"github.com/ignite/coupon-sync/internal/sheets"
)

// ValuesWriter is the sheet write surface the row writer needs.
type ValuesWriter interface {
	BatchUpdateValues(ctx context.Context, spreadsheetID string, data []sheets.ValueRange) error
}

// RowWriter applies staged row updates back to a sheet in at most two
// API calls: one batched call covering status and status-date for every
// row, and one more for the alternate-email column only when any update
// carries one. The spreadsheet API is billed and rate-limited per call,
// and most updates have no alternate email.
type RowWriter struct {
	sheets ValuesWriter
	layout SheetLayout
}

// NewRowWriter creates a writer for the given layout.
func NewRowWriter(sv ValuesWriter, layout SheetLayout) *RowWriter {
	return &RowWriter{sheets: sv, layout: layout}
}

// Apply writes the updates to the named worksheet and returns how many
// API calls it made. Update rows are 1-based by default; zeroBased says
// the caller indexed from 0 and the writer must convert.
func (w *RowWriter) Apply(ctx context.Context, spreadsheetID, sheetTitle string, updates []RowUpdate, zeroBased bool) (int, error) {
	if len(updates) == 0 {
		return 0, nil
	}

	statusCol := w.layout.StatusCol + 1
	dateCol := w.layout.StatusDateCol + 1
	altCol := w.layout.AltEmailCol + 1

	var statusRanges, altRanges []sheets.ValueRange
	for _, u := range updates {
		row := u.Row
		if zeroBased {
			row++
		}
		if row < 1 {
			return 0, fmt.Errorf("row update targets invalid row %d", u.Row)
		}

		date := ""
		if !u.StatusDate.IsZero() {
			date = u.StatusDate.UTC().Format(StatusDateFormat)
		}
		statusRanges = append(statusRanges, sheets.ValueRange{
			Range:  sheets.RowRange(sheetTitle, row, statusCol, dateCol),
			Values: [][]string{{u.Status, date}},
		})
		if u.AltEmail != "" {
			altRanges = append(altRanges, sheets.ValueRange{
				Range:  sheets.CellRange(sheetTitle, row, altCol),
				Values: [][]string{{u.AltEmail}},
			})
		}
	}

	calls := 0
	if err := w.sheets.BatchUpdateValues(ctx, spreadsheetID, statusRanges); err != nil {
		return calls, fmt.Errorf("writing status updates: %w", err)
	}
	calls++

	if len(altRanges) > 0 {
		if err := w.sheets.BatchUpdateValues(ctx, spreadsheetID, altRanges); err != nil {
			return calls, fmt.Errorf("writing alternate emails: %w", err)
		}
		calls++
	}
	return calls, nil
}
