package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/coupon-sync/internal/domain"
	"github.com/ignite/coupon-sync/internal/mailgun"
)

// trackedEvents are the delivery-log event types the engine cares about.
var trackedEvents = []string{"delivered", "opened", "clicked", "failed"}

// EventPager yields pages of raw delivery-log events until exhausted.
type EventPager interface {
	Next(ctx context.Context) ([]mailgun.Event, error)
}

// EventLog is the delivery-log query surface the fetcher needs.
type EventLog interface {
	Events(q mailgun.EventQuery) EventPager
}

// MailgunEventLog adapts the Mailgun client to the EventLog interface.
type MailgunEventLog struct {
	Client *mailgun.Client
}

func (m MailgunEventLog) Events(q mailgun.EventQuery) EventPager {
	return m.Client.Events(q)
}

// EventFetcher pages through the delivery log and yields normalized
// events. Only events carrying both an enrollment code and a batch id
// in their user variables are relevant; everything else is unrelated
// traffic on the same sending domain and is dropped silently.
type EventFetcher struct {
	log EventLog
}

// NewEventFetcher creates a fetcher over the given delivery log.
func NewEventFetcher(log EventLog) *EventFetcher {
	return &EventFetcher{log: log}
}

// Fetch visits every relevant event in [begin, end), oldest first.
// Page-fetch failures surface to the caller unretried: the next
// scheduled pass retries the whole window.
func (f *EventFetcher) Fetch(ctx context.Context, begin, end time.Time, visit func(domain.DeliveryEvent)) error {
	pager := f.log.Events(mailgun.EventQuery{
		Begin:  begin,
		End:    end,
		Events: trackedEvents,
	})

	for {
		page, err := pager.Next(ctx)
		if err != nil {
			return fmt.Errorf("paging delivery events: %w", err)
		}
		if page == nil {
			return nil
		}
		for _, raw := range page {
			ev, ok := normalizeEvent(raw)
			if !ok {
				continue
			}
			visit(ev)
		}
	}
}

// normalizeEvent converts one raw log entry to a typed event. Events
// missing either tag, or carrying an unparseable batch id or an
// untracked event type, are dropped.
func normalizeEvent(raw mailgun.Event) (domain.DeliveryEvent, bool) {
	code := raw.Variable("enrollment_code")
	batchVar := raw.Variable("bulk_assignment")
	if code == "" || batchVar == "" {
		return domain.DeliveryEvent{}, false
	}
	batchID, err := uuid.Parse(batchVar)
	if err != nil {
		return domain.DeliveryEvent{}, false
	}
	status := domain.MessageStatus(raw.Event)
	switch status {
	case domain.MessageDelivered, domain.MessageOpened, domain.MessageClicked, domain.MessageFailed:
	default:
		return domain.DeliveryEvent{}, false
	}

	return domain.DeliveryEvent{
		BatchID:   batchID,
		Code:      code,
		Email:     raw.Recipient,
		Event:     status,
		Timestamp: raw.Time(),
	}, true
}
