package mailgun

import "time"

// Event is one entry from the Mailgun events log. Timestamp is epoch
// seconds with a fractional part. UserVariables carries whatever
// variables the sending call attached; values are decoded loosely
// because foreign traffic on the same domain may attach non-strings.
type Event struct {
	ID            string         `json:"id"`
	Event         string         `json:"event"`
	Recipient     string         `json:"recipient"`
	Timestamp     float64        `json:"timestamp"`
	UserVariables map[string]any `json:"user-variables"`
}

// Time converts the fractional epoch timestamp to a time.Time.
func (e Event) Time() time.Time {
	sec := int64(e.Timestamp)
	nsec := int64((e.Timestamp - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).UTC()
}

// Variable returns the named user variable as a string, or "" when it
// is absent or not a string.
func (e Event) Variable(key string) string {
	v, ok := e.UserVariables[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// EventQuery selects a window of the events log. Begin is inclusive,
// End exclusive. Events filters by event type when non-empty.
type EventQuery struct {
	Begin  time.Time
	End    time.Time
	Events []string
}

// eventsResponse is the wire shape of GET /v3/{domain}/events.
type eventsResponse struct {
	Items  []Event `json:"items"`
	Paging struct {
		Next     string `json:"next"`
		Previous string `json:"previous"`
	} `json:"paging"`
}

// BatchMessage is a single API call that fans out to many recipients.
// RecipientVariables maps each recipient email to its per-recipient
// substitution values; %recipient.key% tokens in the subject, body, and
// v: variables are replaced per recipient by Mailgun.
type BatchMessage struct {
	From               string
	Subject            string
	HTML               string
	Text               string
	Recipients         []string
	RecipientVariables map[string]map[string]any
	// Variables become user-variables on every resulting event.
	Variables map[string]string
}

// sendResponse is the wire shape of POST /v3/{domain}/messages.
type sendResponse struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}
