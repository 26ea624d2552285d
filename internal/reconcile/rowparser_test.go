package reconcile

import (
	"strings"
	"testing"
)

func TestParseAssignmentRow(t *testing.T) {
	row, err := ParseAssignmentRow(AssignmentSheetLayout, 4, []string{"C1", "Jane@Example.COM", "delivered", "2026-06-01 10:00:00", "other@example.com"})
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if row.Index != 4 {
		t.Errorf("Index = %d, want 4", row.Index)
	}
	if row.Email != "jane@example.com" {
		t.Errorf("Email = %q, want lower-cased", row.Email)
	}
	if row.Status != "delivered" || row.AltEmail != "other@example.com" {
		t.Errorf("unexpected row: %+v", row)
	}
}

func TestParseAssignmentRowShort(t *testing.T) {
	// trailing empty cells are omitted by the spreadsheet API
	row, err := ParseAssignmentRow(AssignmentSheetLayout, 2, []string{"C1"})
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if row.Code != "C1" {
		t.Errorf("Code = %q", row.Code)
	}
	if row.Email != "" || row.Status != "" || row.StatusDate != "" || row.AltEmail != "" {
		t.Errorf("missing cells should be empty, got %+v", row)
	}
	if row.HasAssignee() {
		t.Error("HasAssignee = true for row without email")
	}
}

func TestParseAssignmentRows(t *testing.T) {
	raw := [][]string{
		{"C1", "jane@example.com"},
		{"", "", ""}, // blank rows are skipped, not errors
		{"C3"},
	}
	rows, failures := ParseAssignmentRows(AssignmentSheetLayout, raw)
	if len(failures) != 0 {
		t.Fatalf("got %d failures, want 0", len(failures))
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	// row indices are sheet-native: data starts at row 2
	if rows[0].Index != 2 || rows[1].Index != 4 {
		t.Errorf("indices = %d, %d; want 2, 4", rows[0].Index, rows[1].Index)
	}
}

func TestValidateRowsDuplicateCode(t *testing.T) {
	rows := []AssignmentRow{
		{Index: 2, Code: "CODE123"},
		{Index: 3, Code: "C2"},
		{Index: 5, Code: "CODE123"},
	}
	err := ValidateRows("sheet-1", rows)
	if err == nil {
		t.Fatal("expected validation error for duplicate code")
	}
	sve, ok := err.(*SheetValidationError)
	if !ok {
		t.Fatalf("error type = %T, want *SheetValidationError", err)
	}
	if !strings.Contains(sve.Reason, "CODE123") {
		t.Errorf("reason %q does not name the duplicate code", sve.Reason)
	}
}

func TestValidateRowsBlankCode(t *testing.T) {
	rows := []AssignmentRow{{Index: 2, Code: ""}}
	if _, ok := ValidateRows("sheet-1", rows).(*SheetValidationError); !ok {
		t.Error("expected SheetValidationError for blank code")
	}
}

func TestValidateRowsEmpty(t *testing.T) {
	if _, ok := ValidateRows("sheet-1", nil).(*SheetValidationError); !ok {
		t.Error("expected SheetValidationError for empty sheet")
	}
}

func TestDataRange(t *testing.T) {
	if got := AssignmentSheetLayout.DataRange("Codes"); got != "Codes!A2:E" {
		t.Errorf("DataRange = %q, want Codes!A2:E", got)
	}
}

func TestParseStatusDate(t *testing.T) {
	if _, ok := parseStatusDate("not a date"); ok {
		t.Error("accepted junk date")
	}
	for _, s := range []string{"2024-01-01 00:00:00", "2024-01-01T00:00:00Z", "2024-01-01"} {
		if _, ok := parseStatusDate(s); !ok {
			t.Errorf("rejected %q", s)
		}
	}
}
