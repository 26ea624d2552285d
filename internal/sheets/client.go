// Package sheets is a thin client for the Google Sheets and Drive REST
// APIs, covering only the surface the reconciliation engine needs:
// open-by-id, bulk value reads, batched value writes, developer-metadata
// stamps, and push-notification file watches.
//
// Sheet addressing note: the Sheets values API is 1-based A1 notation,
// while batchUpdate cell requests are 0-based. Helpers here take 1-based
// row/column numbers and convert; callers never hand-build A1 strings.
package sheets

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/ignite/coupon-sync/internal/config"
	"github.com/ignite/coupon-sync/internal/pkg/httpretry"
	"golang.org/x/oauth2"
)

// Client is a Google Sheets/Drive API client.
type Client struct {
	baseURL      string
	driveBaseURL string
	httpClient   httpretry.HTTPDoer
}

// NewClient creates a Sheets client authenticated via OAuth2 refresh
// token. Token refresh itself is handled by the oauth2 transport.
func NewClient(cfg config.SheetsConfig) *Client {
	conf := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: cfg.TokenURL},
	}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient,
		&http.Client{Timeout: cfg.Timeout()})
	ts := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken})

	return &Client{
		baseURL:      cfg.BaseURL,
		driveBaseURL: cfg.DriveBaseURL,
		httpClient:   oauth2.NewClient(ctx, ts),
	}
}

// NewClientWithHTTP creates a client over an explicit HTTPDoer (tests).
func NewClientWithHTTP(cfg config.SheetsConfig, doer httpretry.HTTPDoer) *Client {
	return &Client{
		baseURL:      cfg.BaseURL,
		driveBaseURL: cfg.DriveBaseURL,
		httpClient:   doer,
	}
}

// do executes a request and returns the response body. Non-2xx statuses
// are surfaced undecorated as errors; retry policy lives with callers.
func (c *Client) do(ctx context.Context, method, fullURL string, body interface{}) ([]byte, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshaling request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reqBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("sheets API error (status %d): %s", resp.StatusCode, string(respBody))
	}
	return respBody, nil
}

// Open fetches the spreadsheet handle: title, worksheet properties, and
// developer metadata. It does not fetch cell values.
func (c *Client) Open(ctx context.Context, spreadsheetID string) (*Spreadsheet, error) {
	u := fmt.Sprintf("%s/v4/spreadsheets/%s?fields=%s", c.baseURL, spreadsheetID,
		url.QueryEscape("spreadsheetId,properties.title,sheets.properties,developerMetadata"))
	body, err := c.do(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("opening spreadsheet %s: %w", spreadsheetID, err)
	}

	var resp spreadsheetResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parsing spreadsheet: %w", err)
	}

	sp := &Spreadsheet{ID: resp.SpreadsheetID, Title: resp.Properties.Title}
	for _, s := range resp.Sheets {
		sp.Sheets = append(sp.Sheets, SheetProperties(s.Properties))
	}
	for _, md := range resp.DeveloperMetadata {
		sp.DeveloperMetadata = append(sp.DeveloperMetadata, DeveloperMetadata{
			ID: md.MetadataID, Key: md.MetadataKey, Value: md.MetadataValue,
		})
	}
	return sp, nil
}

// GetValues reads all cell values in the given A1 range as rows of
// strings. Trailing empty cells are omitted by the API, so rows may be
// shorter than the requested width; rows past the last data row are
// absent entirely.
func (c *Client) GetValues(ctx context.Context, spreadsheetID, a1Range string) ([][]string, error) {
	u := fmt.Sprintf("%s/v4/spreadsheets/%s/values/%s", c.baseURL, spreadsheetID,
		url.PathEscape(a1Range))
	body, err := c.do(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("reading values %s: %w", a1Range, err)
	}

	var resp valuesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parsing values: %w", err)
	}

	rows := make([][]string, 0, len(resp.Values))
	for _, raw := range resp.Values {
		row := make([]string, 0, len(raw))
		for _, cell := range raw {
			if cell == nil {
				row = append(row, "")
				continue
			}
			row = append(row, fmt.Sprintf("%v", cell))
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// GetRow reads a single 1-based row from the named worksheet.
func (c *Client) GetRow(ctx context.Context, spreadsheetID, sheetTitle string, row int) ([]string, error) {
	rng := fmt.Sprintf("%s!%d:%d", sheetTitle, row, row)
	rows, err := c.GetValues(ctx, spreadsheetID, rng)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// BatchUpdateValues writes all given ranges in a single API call.
func (c *Client) BatchUpdateValues(ctx context.Context, spreadsheetID string, data []ValueRange) error {
	if len(data) == 0 {
		return nil
	}

	req := batchUpdateValuesRequest{ValueInputOption: "USER_ENTERED"}
	for _, vr := range data {
		wire := wireValueRange{Range: vr.Range}
		for _, row := range vr.Values {
			vals := make([]any, len(row))
			for i, v := range row {
				vals[i] = v
			}
			wire.Values = append(wire.Values, vals)
		}
		req.Data = append(req.Data, wire)
	}

	u := fmt.Sprintf("%s/v4/spreadsheets/%s/values:batchUpdate", c.baseURL, spreadsheetID)
	if _, err := c.do(ctx, http.MethodPost, u, req); err != nil {
		return fmt.Errorf("batch updating %d ranges: %w", len(data), err)
	}
	return nil
}

// SetDeveloperMetadata upserts a file-scoped developer-metadata entry.
// existingID == 0 creates a new entry; otherwise the entry is updated
// in place.
func (c *Client) SetDeveloperMetadata(ctx context.Context, spreadsheetID, key, value string, existingID int64) error {
	var request map[string]any
	if existingID == 0 {
		request = map[string]any{
			"createDeveloperMetadata": map[string]any{
				"developerMetadata": map[string]any{
					"metadataKey":   key,
					"metadataValue": value,
					"visibility":    "DOCUMENT",
					"location":      map[string]any{"spreadsheet": true},
				},
			},
		}
	} else {
		request = map[string]any{
			"updateDeveloperMetadata": map[string]any{
				"dataFilters": []map[string]any{
					{"developerMetadataLookup": map[string]any{"metadataId": existingID}},
				},
				"developerMetadata": map[string]any{
					"metadataKey":   key,
					"metadataValue": value,
					"visibility":    "DOCUMENT",
					"location":      map[string]any{"spreadsheet": true},
				},
				"fields": "*",
			},
		}
	}

	body := map[string]any{"requests": []map[string]any{request}}
	u := fmt.Sprintf("%s/v4/spreadsheets/%s:batchUpdate", c.baseURL, spreadsheetID)
	if _, err := c.do(ctx, http.MethodPost, u, body); err != nil {
		return fmt.Errorf("setting metadata %s: %w", key, err)
	}
	return nil
}

// ColumnLetter converts a 1-based column number to its A1 letter(s):
// 1 → A, 26 → Z, 27 → AA.
func ColumnLetter(col int) string {
	letters := ""
	for col > 0 {
		col--
		letters = string(rune('A'+col%26)) + letters
		col /= 26
	}
	return letters
}

// RowRange builds an A1 range for one row spanning 1-based columns
// [startCol, endCol] inclusive: RowRange("Sheet1", 4, 3, 4) → "Sheet1!C4:D4".
func RowRange(sheetTitle string, row, startCol, endCol int) string {
	return fmt.Sprintf("%s!%s%d:%s%d", sheetTitle, ColumnLetter(startCol), row, ColumnLetter(endCol), row)
}

// CellRange builds an A1 range for a single cell.
func CellRange(sheetTitle string, row, col int) string {
	return fmt.Sprintf("%s!%s%d", sheetTitle, ColumnLetter(col), row)
}
