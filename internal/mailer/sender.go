// Package mailer builds and sends enrollment-code notification emails.
// One batch of assignments becomes one Mailgun batch send; per-recipient
// codes are substituted server-side so the rendered body is identical
// for every recipient.
package mailer

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/ignite/coupon-sync/internal/config"
	"github.com/ignite/coupon-sync/internal/mailgun"
	"github.com/ignite/coupon-sync/internal/pkg/logger"
	"github.com/osteele/liquid"
)

// Mailgun substitutes %recipient.X% per recipient at delivery time, so
// the Liquid render stays batch-level and the code slot passes through
// as a substitution token.
const codeToken = "%recipient.enrollment_code%"

const defaultSubjectTemplate = `Your enrollment code for {{ batch_title | default: "your course" }}`

const defaultHTMLTemplate = `<p>Hi,</p>
<p>Here is your enrollment code for <strong>{{ batch_title | default: "your course" }}</strong>:</p>
<p style="font-size: 1.4em"><strong>{{ code }}</strong></p>
<p>Use it at checkout to enroll. The code is tied to this address and can be used once.</p>
<p>{{ from_name }}</p>`

const defaultTextTemplate = `Hi,

Here is your enrollment code for {{ batch_title | default: "your course" }}:

    {{ code }}

Use it at checkout to enroll. The code is tied to this address and can be used once.

{{ from_name }}`

// Notification is one recipient/code pair to notify.
type Notification struct {
	Email string
	Code  string
}

// BatchSender is the sending surface the orchestrator needs.
type BatchSender interface {
	SendBatch(ctx context.Context, msg mailgun.BatchMessage) (string, error)
}

// Sender renders enrollment notifications and sends them in batches.
type Sender struct {
	client   BatchSender
	engine   *liquid.Engine
	from     string
	fromName string

	subjectTemplate string
	htmlTemplate    string
	textTemplate    string
}

// NewSender creates a Sender with the built-in notification templates.
func NewSender(cfg config.MailgunConfig, client BatchSender) *Sender {
	engine := liquid.NewEngine()
	engine.RegisterFilter("default", func(value interface{}, defaultVal string) interface{} {
		if value == nil {
			return defaultVal
		}
		if s := fmt.Sprintf("%v", value); s == "" || s == "<nil>" {
			return defaultVal
		}
		return value
	})

	from := cfg.FromEmail
	if cfg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", cfg.FromName, cfg.FromEmail)
	}

	return &Sender{
		client:          client,
		engine:          engine,
		from:            from,
		fromName:        cfg.FromName,
		subjectTemplate: defaultSubjectTemplate,
		htmlTemplate:    defaultHTMLTemplate,
		textTemplate:    defaultTextTemplate,
	}
}

// SendEnrollmentCodes notifies every recipient of its code, attaching
// the batch id and per-recipient code as message variables so delivery
// events can later be matched back to assignments. Returns the number
// of recipients the API accepted.
func (s *Sender) SendEnrollmentCodes(ctx context.Context, batchID uuid.UUID, batchTitle string, notes []Notification) (int, error) {
	if len(notes) == 0 {
		return 0, nil
	}

	bindings := map[string]interface{}{
		"batch_title": batchTitle,
		"from_name":   s.fromName,
		"code":        codeToken,
	}
	subject, err := s.engine.ParseAndRenderString(s.subjectTemplate, bindings)
	if err != nil {
		return 0, fmt.Errorf("rendering subject: %w", err)
	}
	html, err := s.engine.ParseAndRenderString(s.htmlTemplate, bindings)
	if err != nil {
		return 0, fmt.Errorf("rendering html body: %w", err)
	}
	text, err := s.engine.ParseAndRenderString(s.textTemplate, bindings)
	if err != nil {
		return 0, fmt.Errorf("rendering text body: %w", err)
	}

	sent := 0
	for _, chunk := range chunkNotifications(notes, 1000) {
		msg := mailgun.BatchMessage{
			From:               s.from,
			Subject:            subject,
			HTML:               html,
			Text:               text,
			RecipientVariables: make(map[string]map[string]any, len(chunk)),
			Variables: map[string]string{
				"bulk_assignment": batchID.String(),
				"enrollment_code": codeToken,
			},
		}
		for _, n := range chunk {
			email := strings.ToLower(strings.TrimSpace(n.Email))
			msg.Recipients = append(msg.Recipients, email)
			msg.RecipientVariables[email] = map[string]any{"enrollment_code": n.Code}
		}

		id, err := s.client.SendBatch(ctx, msg)
		if err != nil {
			return sent, fmt.Errorf("sending notification batch: %w", err)
		}
		sent += len(chunk)
		logger.Info("notification batch accepted",
			"batch_id", batchID.String(), "message_id", id, "recipients", len(chunk))
	}
	return sent, nil
}

func chunkNotifications(notes []Notification, size int) [][]Notification {
	var chunks [][]Notification
	for len(notes) > size {
		chunks = append(chunks, notes[:size])
		notes = notes[size:]
	}
	return append(chunks, notes)
}
