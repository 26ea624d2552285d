package reconcile

import (
	"fmt"
	"strings"
	"time"

	"github.com/ignite/coupon-sync/internal/sheets"
)

// StatusDateFormat is how status dates are written to sheet cells.
const StatusDateFormat = "2006-01-02 15:04:05"

// SheetLayout fixes the column positions of an assignment sheet. Columns
// are 0-based offsets into the raw cell array; FirstDataRow is 1-based
// sheet-native (row 1 is the header).
type SheetLayout struct {
	CodeCol       int
	EmailCol      int
	StatusCol     int
	StatusDateCol int
	AltEmailCol   int
	FirstDataRow  int
}

// AssignmentSheetLayout is the layout of bulk coupon-assignment sheets:
// code, assignee email, status, status date, alternate email.
var AssignmentSheetLayout = SheetLayout{
	CodeCol:       0,
	EmailCol:      1,
	StatusCol:     2,
	StatusDateCol: 3,
	AltEmailCol:   4,
	FirstDataRow:  2,
}

// DataRange returns the A1 range covering all data rows of the layout's
// columns in the named worksheet.
func (l SheetLayout) DataRange(sheetTitle string) string {
	return fmt.Sprintf("%s!A%d:%s", sheetTitle, l.FirstDataRow, sheets.ColumnLetter(l.AltEmailCol+1))
}

// AssignmentRow is the parsed form of one sheet row, rebuilt fresh each
// pass. Emails are lower-cased on parse so later comparisons are
// case-insensitive.
type AssignmentRow struct {
	// Index is the 1-based sheet row the values came from.
	Index      int
	Code       string
	Email      string
	Status     string
	StatusDate string
	AltEmail   string
}

// HasAssignee reports whether the row names a recipient.
func (r AssignmentRow) HasAssignee() bool { return r.Email != "" }

// cellAt returns the trimmed cell at a 0-based column, or "" when the
// row is too short. Spreadsheet APIs omit trailing empty cells, so a
// short row is normal, not an error.
func cellAt(cells []string, col int) string {
	if col < 0 || col >= len(cells) {
		return ""
	}
	return strings.TrimSpace(cells[col])
}

// ParseAssignmentRow turns one raw row of cell values into a typed row.
// index is the 1-based sheet row.
func ParseAssignmentRow(layout SheetLayout, index int, cells []string) (AssignmentRow, error) {
	if index < 1 {
		return AssignmentRow{}, &RowParsingError{Row: index, Cause: fmt.Errorf("row index %d out of range", index)}
	}
	return AssignmentRow{
		Index:      index,
		Code:       cellAt(cells, layout.CodeCol),
		Email:      strings.ToLower(cellAt(cells, layout.EmailCol)),
		Status:     cellAt(cells, layout.StatusCol),
		StatusDate: cellAt(cells, layout.StatusDateCol),
		AltEmail:   cellAt(cells, layout.AltEmailCol),
	}, nil
}

// ParseAssignmentRows parses every raw data row, skipping fully blank
// rows. Rows that fail to parse are returned as RowParsingErrors so the
// caller can report them without losing the rest of the sheet.
func ParseAssignmentRows(layout SheetLayout, raw [][]string) ([]AssignmentRow, []*RowParsingError) {
	var rows []AssignmentRow
	var failures []*RowParsingError
	for i, cells := range raw {
		index := layout.FirstDataRow + i
		if isBlankRow(cells) {
			continue
		}
		row, err := ParseAssignmentRow(layout, index, cells)
		if err != nil {
			var rpe *RowParsingError
			if pe, ok := err.(*RowParsingError); ok {
				rpe = pe
			} else {
				rpe = &RowParsingError{Row: index, Cause: err}
			}
			failures = append(failures, rpe)
			continue
		}
		rows = append(rows, row)
	}
	return rows, failures
}

func isBlankRow(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// ValidateRows enforces whole-sheet invariants: at least one data row,
// no blank codes, and no duplicate codes. A violation means the sheet
// author must fix the sheet before any progress can be made.
func ValidateRows(spreadsheetID string, rows []AssignmentRow) error {
	if len(rows) == 0 {
		return &SheetValidationError{SpreadsheetID: spreadsheetID, Reason: "no data rows"}
	}
	seen := make(map[string]int, len(rows))
	for _, r := range rows {
		if r.Code == "" {
			return &SheetValidationError{
				SpreadsheetID: spreadsheetID,
				Reason:        fmt.Sprintf("row %d has no coupon code", r.Index),
			}
		}
		if prev, dup := seen[r.Code]; dup {
			return &SheetValidationError{
				SpreadsheetID: spreadsheetID,
				Reason:        fmt.Sprintf("duplicate coupon code %q on rows %d and %d", r.Code, prev, r.Index),
			}
		}
		seen[r.Code] = r.Index
	}
	return nil
}

// parseStatusDate reads a status-date cell. Sheets written by this
// service use StatusDateFormat; hand-edited cells sometimes carry ISO
// or date-only values, so those are accepted too.
func parseStatusDate(s string) (time.Time, bool) {
	for _, layout := range []string{StatusDateFormat, time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
