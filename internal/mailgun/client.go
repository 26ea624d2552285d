// Package mailgun is a client for the two Mailgun surfaces this service
// uses: the events log (the source of delivery evidence) and batched
// message sending for enrollment-code notifications.
package mailgun

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/ignite/coupon-sync/internal/config"
)

// Client handles Mailgun API interactions.
type Client struct {
	apiKey     string
	baseURL    string
	domain     string
	httpClient *http.Client
}

// NewClient creates a new Mailgun API client.
func NewClient(cfg config.MailgunConfig) *Client {
	return &Client{
		apiKey:  cfg.APIKey,
		baseURL: cfg.BaseURL,
		domain:  cfg.Domain,
		httpClient: &http.Client{
			Timeout: cfg.Timeout(),
		},
	}
}

// doRequest executes an authenticated request and returns the response
// body. Mailgun uses HTTP Basic auth with the literal user "api".
func (c *Client) doRequest(ctx context.Context, method, fullURL string, body io.Reader, contentType string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.SetBasicAuth("api", c.apiKey)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
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
		return nil, fmt.Errorf("mailgun API error (status %d): %s", resp.StatusCode, string(respBody))
	}
	return respBody, nil
}

// EventPager walks the events log one page at a time, following the
// opaque paging.next link the API returns until a page comes back
// empty. The next link carries no credentials, so every request goes
// through doRequest to re-attach auth.
type EventPager struct {
	client  *Client
	nextURL string
	done    bool
}

// Events starts a paged query over the domain's event log for the
// window [q.Begin, q.End), oldest first.
func (c *Client) Events(q EventQuery) *EventPager {
	params := url.Values{}
	params.Set("begin", strconv.FormatInt(q.Begin.Unix(), 10))
	params.Set("end", strconv.FormatInt(q.End.Unix(), 10))
	params.Set("ascending", "yes")
	params.Set("limit", "300")
	if len(q.Events) > 0 {
		params.Set("event", strings.Join(q.Events, " OR "))
	}

	first := fmt.Sprintf("%s/v3/%s/events?%s", c.baseURL, c.domain, params.Encode())
	return &EventPager{client: c, nextURL: first}
}

// Next fetches the next page of events. It returns (nil, nil) once the
// log is exhausted.
func (p *EventPager) Next(ctx context.Context) ([]Event, error) {
	if p.done {
		return nil, nil
	}

	body, err := p.client.doRequest(ctx, http.MethodGet, p.nextURL, nil, "")
	if err != nil {
		return nil, fmt.Errorf("fetching events page: %w", err)
	}

	var resp eventsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parsing events response: %w", err)
	}

	if len(resp.Items) == 0 || resp.Paging.Next == "" {
		p.done = true
	}
	p.nextURL = resp.Paging.Next
	return resp.Items, nil
}

// SendBatch sends one message to up to 1000 recipients in a single API
// call. Per-recipient substitution happens server-side via the
// recipient-variables map.
func (c *Client) SendBatch(ctx context.Context, msg BatchMessage) (string, error) {
	if len(msg.Recipients) == 0 {
		return "", nil
	}
	if len(msg.Recipients) > 1000 {
		return "", fmt.Errorf("batch of %d recipients exceeds the 1000 recipient limit", len(msg.Recipients))
	}

	form := url.Values{}
	form.Set("from", msg.From)
	form.Set("subject", msg.Subject)
	if msg.HTML != "" {
		form.Set("html", msg.HTML)
	}
	if msg.Text != "" {
		form.Set("text", msg.Text)
	}
	for _, rcpt := range msg.Recipients {
		form.Add("to", rcpt)
	}
	if len(msg.RecipientVariables) > 0 {
		rv, err := json.Marshal(msg.RecipientVariables)
		if err != nil {
			return "", fmt.Errorf("marshaling recipient variables: %w", err)
		}
		form.Set("recipient-variables", string(rv))
	}
	for k, v := range msg.Variables {
		form.Set("v:"+k, v)
	}

	u := fmt.Sprintf("%s/v3/%s/messages", c.baseURL, c.domain)
	body, err := c.doRequest(ctx, http.MethodPost, u,
		strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
	if err != nil {
		return "", fmt.Errorf("sending batch of %d messages: %w", len(msg.Recipients), err)
	}

	var resp sendResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("parsing send response: %w", err)
	}
	return resp.ID, nil
}
