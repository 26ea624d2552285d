package sheets

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ignite/coupon-sync/internal/config"
)

func testClient(serverURL string) *Client {
	cfg := config.SheetsConfig{BaseURL: serverURL, DriveBaseURL: serverURL}
	return NewClientWithHTTP(cfg, http.DefaultClient)
}

func TestOpen(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/v4/spreadsheets/sheet-123") {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}

		resp := map[string]any{
			"spreadsheetId": "sheet-123",
			"properties":    map[string]any{"title": "Coupons June 2026"},
			"sheets": []map[string]any{
				{"properties": map[string]any{"sheetId": 0, "title": "Codes", "index": 0}},
			},
			"developerMetadata": []map[string]any{
				{"metadataId": 42, "metadataKey": "assignment_completed", "metadataValue": "2026-06-01"},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := testClient(server.URL)
	sp, err := client.Open(context.Background(), "sheet-123")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	if sp.Title != "Coupons June 2026" {
		t.Errorf("Title = %q, want %q", sp.Title, "Coupons June 2026")
	}
	if sp.FirstSheetTitle() != "Codes" {
		t.Errorf("FirstSheetTitle = %q, want %q", sp.FirstSheetTitle(), "Codes")
	}
	if got := sp.MetadataValue("assignment_completed"); got != "2026-06-01" {
		t.Errorf("MetadataValue = %q, want %q", got, "2026-06-01")
	}
	if got := sp.MetadataValue("missing"); got != "" {
		t.Errorf("MetadataValue for missing key = %q, want empty", got)
	}
}

func TestGetValues(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "/values/") {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}

		resp := map[string]any{
			"range": "Codes!A1:D3",
			"values": [][]any{
				{"code", "email", "status", "assignee"},
				{"ABC-1", "jane@example.com", "assigned"},
				{"ABC-2"},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := testClient(server.URL)
	rows, err := client.GetValues(context.Background(), "sheet-123", "Codes!A1:D3")
	if err != nil {
		t.Fatalf("GetValues failed: %v", err)
	}

	if len(rows) != 3 {
		t.Fatalf("got %d rows, want 3", len(rows))
	}
	if rows[1][1] != "jane@example.com" {
		t.Errorf("rows[1][1] = %q, want %q", rows[1][1], "jane@example.com")
	}
	// the API omits trailing empty cells
	if len(rows[2]) != 1 {
		t.Errorf("rows[2] has %d cells, want 1", len(rows[2]))
	}
}

func TestBatchUpdateValues(t *testing.T) {
	var gotBody batchUpdateValuesRequest
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if !strings.HasSuffix(r.URL.Path, "/values:batchUpdate") {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decoding request body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := testClient(server.URL)
	data := []ValueRange{
		{Range: "Codes!C2:D2", Values: [][]string{{"assigned", "jane@example.com"}}},
		{Range: "Codes!C5:D5", Values: [][]string{{"delivered", "bob@example.com"}}},
	}
	if err := client.BatchUpdateValues(context.Background(), "sheet-123", data); err != nil {
		t.Fatalf("BatchUpdateValues failed: %v", err)
	}

	if calls != 1 {
		t.Errorf("made %d API calls, want 1", calls)
	}
	if gotBody.ValueInputOption != "USER_ENTERED" {
		t.Errorf("ValueInputOption = %q, want USER_ENTERED", gotBody.ValueInputOption)
	}
	if len(gotBody.Data) != 2 {
		t.Errorf("got %d ranges in one call, want 2", len(gotBody.Data))
	}
}

func TestBatchUpdateValuesEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no API call expected for empty update")
	}))
	defer server.Close()

	client := testClient(server.URL)
	if err := client.BatchUpdateValues(context.Background(), "sheet-123", nil); err != nil {
		t.Fatalf("BatchUpdateValues failed: %v", err)
	}
}

func TestAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error": {"message": "The caller does not have permission"}}`))
	}))
	defer server.Close()

	client := testClient(server.URL)
	_, err := client.Open(context.Background(), "sheet-123")
	if err == nil {
		t.Fatal("expected error for 403 response")
	}
	if !strings.Contains(err.Error(), "status 403") {
		t.Errorf("error %q does not mention status 403", err)
	}
}

func TestColumnLetter(t *testing.T) {
	cases := map[int]string{1: "A", 4: "D", 26: "Z", 27: "AA", 52: "AZ", 703: "AAA"}
	for col, want := range cases {
		if got := ColumnLetter(col); got != want {
			t.Errorf("ColumnLetter(%d) = %q, want %q", col, got, want)
		}
	}
}

func TestRowRange(t *testing.T) {
	if got := RowRange("Codes", 4, 3, 4); got != "Codes!C4:D4" {
		t.Errorf("RowRange = %q, want %q", got, "Codes!C4:D4")
	}
	if got := CellRange("Codes", 10, 2); got != "Codes!B10" {
		t.Errorf("CellRange = %q, want %q", got, "Codes!B10")
	}
}
