package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/ignite/coupon-sync/internal/sheets"
)

type fakeValuesWriter struct {
	calls [][]sheets.ValueRange
}

func (f *fakeValuesWriter) BatchUpdateValues(ctx context.Context, spreadsheetID string, data []sheets.ValueRange) error {
	f.calls = append(f.calls, data)
	return nil
}

func TestRowWriterStatusOnly(t *testing.T) {
	fake := &fakeValuesWriter{}
	w := NewRowWriter(fake, AssignmentSheetLayout)
	at := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

	updates := []RowUpdate{
		{Row: 2, Status: "assigned", StatusDate: at},
		{Row: 7, Status: "delivered", StatusDate: at},
	}
	calls, err := w.Apply(context.Background(), "sheet-1", "Codes", updates, false)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if calls != 1 || len(fake.calls) != 1 {
		t.Fatalf("made %d calls, want 1 when no alternate emails", calls)
	}

	ranges := fake.calls[0]
	if len(ranges) != 2 {
		t.Fatalf("got %d ranges, want 2", len(ranges))
	}
	if ranges[0].Range != "Codes!C2:D2" {
		t.Errorf("range = %q, want Codes!C2:D2", ranges[0].Range)
	}
	if ranges[0].Values[0][0] != "assigned" || ranges[0].Values[0][1] != "2026-06-01 10:00:00" {
		t.Errorf("values = %v", ranges[0].Values)
	}
}

func TestRowWriterAlternateEmailSecondCall(t *testing.T) {
	fake := &fakeValuesWriter{}
	w := NewRowWriter(fake, AssignmentSheetLayout)

	updates := []RowUpdate{
		{Row: 2, Status: "delivered", StatusDate: time.Now()},
		{Row: 3, Status: "delivered", StatusDate: time.Now(), AltEmail: "other@example.com"},
	}
	calls, err := w.Apply(context.Background(), "sheet-1", "Codes", updates, false)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if calls != 2 {
		t.Fatalf("made %d calls, want 2", calls)
	}

	alt := fake.calls[1]
	if len(alt) != 1 || alt[0].Range != "Codes!E3" {
		t.Errorf("alt ranges = %+v, want single Codes!E3", alt)
	}
	if alt[0].Values[0][0] != "other@example.com" {
		t.Errorf("alt value = %v", alt[0].Values)
	}
}

func TestRowWriterZeroBased(t *testing.T) {
	fake := &fakeValuesWriter{}
	w := NewRowWriter(fake, AssignmentSheetLayout)

	_, err := w.Apply(context.Background(), "sheet-1", "Codes",
		[]RowUpdate{{Row: 1, Status: "assigned", StatusDate: time.Now()}}, true)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if fake.calls[0][0].Range != "Codes!C2:D2" {
		t.Errorf("range = %q, want converted to 1-based row 2", fake.calls[0][0].Range)
	}
}

func TestRowWriterEmpty(t *testing.T) {
	fake := &fakeValuesWriter{}
	w := NewRowWriter(fake, AssignmentSheetLayout)
	calls, err := w.Apply(context.Background(), "sheet-1", "Codes", nil, false)
	if err != nil || calls != 0 || len(fake.calls) != 0 {
		t.Errorf("empty update made %d calls, err=%v", calls, err)
	}
}
