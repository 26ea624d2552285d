package sheets

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/coupon-sync/internal/config"
	"github.com/ignite/coupon-sync/internal/pkg/httpretry"
)

// WatchService registers and renews Drive push-notification channels for
// spreadsheet files. Unlike every other sheets call, watch registration
// runs behind a bounded retry with a short fixed backoff: a failed
// renewal means silently losing change notifications for that file.
type WatchService struct {
	driveBaseURL string
	webhookURL   string
	expiration   time.Duration
	httpClient   httpretry.HTTPDoer
}

// NewWatchService wraps the client's authenticated transport with the
// configured retry budget.
func NewWatchService(cfg config.SheetsConfig, client *Client) *WatchService {
	return &WatchService{
		driveBaseURL: cfg.DriveBaseURL,
		webhookURL:   cfg.WebhookURL,
		expiration:   time.Duration(cfg.WatchExpirationDays) * 24 * time.Hour,
		httpClient:   httpretry.NewRetryClient(client.httpClient, cfg.WatchRetries, cfg.WatchBackoff()),
	}
}

func (w *WatchService) post(ctx context.Context, fullURL string, body interface{}) ([]byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fullURL, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("drive API error (status %d): %s", resp.StatusCode, string(respBody))
	}
	return respBody, nil
}

// WatchFile registers a new push-notification channel for fileID. The
// returned channel carries the server-assigned resource id and expiry.
func (w *WatchService) WatchFile(ctx context.Context, fileID string) (*WatchChannel, error) {
	reqBody := watchRequest{
		ID:         uuid.New().String(),
		Type:       "web_hook",
		Address:    w.webhookURL,
		Expiration: time.Now().Add(w.expiration).UnixMilli(),
	}

	u := fmt.Sprintf("%s/files/%s/watch", w.driveBaseURL, fileID)
	body, err := w.post(ctx, u, reqBody)
	if err != nil {
		return nil, fmt.Errorf("watching file %s: %w", fileID, err)
	}

	var resp watchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parsing watch response: %w", err)
	}

	expiration, _ := strconv.ParseInt(resp.Expiration, 10, 64)
	return &WatchChannel{
		ID:               resp.ID,
		ResourceID:       resp.ResourceID,
		ExpirationMillis: expiration,
	}, nil
}

// StopChannel tears down an existing channel. Drive returns 404 for
// channels that already expired; callers may treat that as success.
func (w *WatchService) StopChannel(ctx context.Context, channelID, resourceID string) error {
	u := fmt.Sprintf("%s/channels/stop", w.driveBaseURL)
	body := map[string]string{"id": channelID, "resourceId": resourceID}
	if _, err := w.post(ctx, u, body); err != nil {
		return fmt.Errorf("stopping channel %s: %w", channelID, err)
	}
	return nil
}
