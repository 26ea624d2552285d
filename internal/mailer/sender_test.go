package mailer

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/ignite/coupon-sync/internal/config"
	"github.com/ignite/coupon-sync/internal/mailgun"
)

type fakeBatchSender struct {
	sent    []mailgun.BatchMessage
	failErr error
}

func (f *fakeBatchSender) SendBatch(ctx context.Context, msg mailgun.BatchMessage) (string, error) {
	if f.failErr != nil {
		return "", f.failErr
	}
	f.sent = append(f.sent, msg)
	return fmt.Sprintf("<msg-%d@test>", len(f.sent)), nil
}

func testSender(fake *fakeBatchSender) *Sender {
	cfg := config.MailgunConfig{
		FromEmail: "support@example.com",
		FromName:  "Course Team",
	}
	return NewSender(cfg, fake)
}

func TestSendEnrollmentCodes(t *testing.T) {
	fake := &fakeBatchSender{}
	sender := testSender(fake)
	batchID := uuid.New()

	sent, err := sender.SendEnrollmentCodes(context.Background(), batchID, "Spring Cohort", []Notification{
		{Email: "Jane@Example.com ", Code: "ABC-1"},
		{Email: "bob@example.com", Code: "ABC-2"},
	})
	if err != nil {
		t.Fatalf("SendEnrollmentCodes failed: %v", err)
	}
	if sent != 2 {
		t.Errorf("sent = %d, want 2", sent)
	}
	if len(fake.sent) != 1 {
		t.Fatalf("made %d batch calls, want 1", len(fake.sent))
	}

	msg := fake.sent[0]
	if msg.From != "Course Team <support@example.com>" {
		t.Errorf("From = %q", msg.From)
	}
	if !strings.Contains(msg.Subject, "Spring Cohort") {
		t.Errorf("subject %q does not mention batch title", msg.Subject)
	}
	// per-recipient substitution happens at delivery, not at render
	if !strings.Contains(msg.HTML, "%recipient.enrollment_code%") {
		t.Errorf("html body missing substitution token: %q", msg.HTML)
	}
	if msg.Variables["bulk_assignment"] != batchID.String() {
		t.Errorf("bulk_assignment variable = %q", msg.Variables["bulk_assignment"])
	}

	// addresses are normalized before they reach the API
	if msg.Recipients[0] != "jane@example.com" {
		t.Errorf("recipient = %q, want normalized address", msg.Recipients[0])
	}
	if msg.RecipientVariables["jane@example.com"]["enrollment_code"] != "ABC-1" {
		t.Errorf("recipient variables for jane = %v", msg.RecipientVariables["jane@example.com"])
	}
}

func TestSendEnrollmentCodesDefaultTitle(t *testing.T) {
	fake := &fakeBatchSender{}
	sender := testSender(fake)

	_, err := sender.SendEnrollmentCodes(context.Background(), uuid.New(), "", []Notification{
		{Email: "jane@example.com", Code: "ABC-1"},
	})
	if err != nil {
		t.Fatalf("SendEnrollmentCodes failed: %v", err)
	}
	if !strings.Contains(fake.sent[0].Subject, "your course") {
		t.Errorf("subject %q missing default title", fake.sent[0].Subject)
	}
}

func TestSendEnrollmentCodesChunking(t *testing.T) {
	fake := &fakeBatchSender{}
	sender := testSender(fake)

	notes := make([]Notification, 2500)
	for i := range notes {
		notes[i] = Notification{Email: fmt.Sprintf("user%d@example.com", i), Code: fmt.Sprintf("C-%d", i)}
	}

	sent, err := sender.SendEnrollmentCodes(context.Background(), uuid.New(), "Big Batch", notes)
	if err != nil {
		t.Fatalf("SendEnrollmentCodes failed: %v", err)
	}
	if sent != 2500 {
		t.Errorf("sent = %d, want 2500", sent)
	}
	if len(fake.sent) != 3 {
		t.Fatalf("made %d batch calls, want 3", len(fake.sent))
	}
	if got := len(fake.sent[2].Recipients); got != 500 {
		t.Errorf("last chunk has %d recipients, want 500", got)
	}
}

func TestSendEnrollmentCodesEmpty(t *testing.T) {
	fake := &fakeBatchSender{}
	sender := testSender(fake)

	sent, err := sender.SendEnrollmentCodes(context.Background(), uuid.New(), "Title", nil)
	if err != nil {
		t.Fatalf("SendEnrollmentCodes failed: %v", err)
	}
	if sent != 0 || len(fake.sent) != 0 {
		t.Errorf("expected no sends, got sent=%d calls=%d", sent, len(fake.sent))
	}
}
