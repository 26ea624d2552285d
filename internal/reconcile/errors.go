package reconcile

import (
	"fmt"
	"strings"
)

// RowParsingError reports that one spreadsheet row's raw cells did not
// match the expected shape. It is always row-scoped: callers skip and
// report the row instead of aborting the sheet.
type RowParsingError struct {
	Row   int
	Cause error
}

func (e *RowParsingError) Error() string {
	return fmt.Sprintf("parsing row %d: %v", e.Row, e.Cause)
}

func (e *RowParsingError) Unwrap() error { return e.Cause }

// SheetValidationError reports that a property of the whole sheet is
// violated (duplicate codes, no data rows, unknown coupon codes). It
// aborts the current pass before any database write happens.
type SheetValidationError struct {
	SpreadsheetID string
	Reason        string
}

func (e *SheetValidationError) Error() string {
	return fmt.Sprintf("sheet %s failed validation: %s", e.SpreadsheetID, e.Reason)
}

// MultiEmailValidationError carries the subset of recipient addresses
// that failed validation. It never aborts a pass: invalid entries are
// excluded from creation and reported back to the sheet.
type MultiEmailValidationError struct {
	Emails []string
}

func (e *MultiEmailValidationError) Error() string {
	return fmt.Sprintf("%d invalid recipient addresses: %s", len(e.Emails), strings.Join(e.Emails, ", "))
}
