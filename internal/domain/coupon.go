package domain

import (
	"time"

	"github.com/google/uuid"
)

// MessageStatus enumerates the delivery lifecycle of an assignment's
// notification email. The empty string means no status has been recorded.
type MessageStatus string

const (
	MessageUnsent    MessageStatus = "unsent"
	MessageDelivered MessageStatus = "delivered"
	MessageOpened    MessageStatus = "opened"
	MessageClicked   MessageStatus = "clicked"
	MessageFailed    MessageStatus = "failed"
	MessageInvalid   MessageStatus = "invalid"
	MessageEnrolled  MessageStatus = "enrolled"
)

// SheetStatusAssigned is written to a sheet row when an assignment has been
// created and its notification handed to the mail provider, before any
// delivery event has been observed. It is a sheet-only marker, never a
// persisted MessageStatus.
const SheetStatusAssigned = "assigned"

// Settled reports whether the status is terminal and accounted for: the
// message reached the recipient (or the learner already enrolled), so the
// batch no longer owes anything for this assignment.
func (s MessageStatus) Settled() bool {
	switch s {
	case MessageDelivered, MessageOpened, MessageClicked, MessageEnrolled:
		return true
	}
	return false
}

// KnownStatus reports whether s is one of the recognized message statuses.
// Unrecognized strings (including the empty string) keep a batch open.
func KnownStatus(s string) bool {
	switch MessageStatus(s) {
	case MessageUnsent, MessageDelivered, MessageOpened, MessageClicked,
		MessageFailed, MessageInvalid, MessageEnrolled:
		return true
	}
	return false
}

// BulkAssignmentBatch tracks one spreadsheet-driven bulk coupon assignment.
// A batch is created when its sheet is generated and is never deleted;
// MessageDeliveryCompletedAt stays nil until every assignment is settled
// and the sheet has no unassigned codes left.
type BulkAssignmentBatch struct {
	ID                         uuid.UUID
	SheetFileID                *string
	SheetTitle                 string
	AssignmentsStartedAt       *time.Time
	LastAssignmentAt           *time.Time
	MessageDeliveryCompletedAt *time.Time
	CreatedAt                  time.Time
	UpdatedAt                  time.Time
}

// Settled reports whether the batch has converged: all notification
// messages delivered/accounted for and no codes awaiting a recipient.
func (b *BulkAssignmentBatch) Settled() bool {
	return b.MessageDeliveryCompletedAt != nil
}

// Assignment is a persisted (coupon code, recipient email) pairing inside
// a batch. Once Redeemed is true the pairing is immutable: it must never
// be deleted and its status converges to MessageEnrolled.
type Assignment struct {
	ID              uuid.UUID
	BatchID         uuid.UUID
	ProductCouponID uuid.UUID
	Code            string
	Email           string
	// OriginalEmail preserves the address the code was first assigned to
	// when Email is later corrected from the delivery log.
	OriginalEmail   string
	MessageStatus   MessageStatus
	MessageStatusAt *time.Time
	Redeemed        bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ProductCoupon is the minimal view of an eligible coupon the assignment
// engine needs: coupon creation and pricing live elsewhere.
type ProductCoupon struct {
	ID      uuid.UUID
	Code    string
	Enabled bool
}

// DeliveryEvent is one normalized record from the external email log:
// a lifecycle event for a notification sent on behalf of a batch.
type DeliveryEvent struct {
	BatchID   uuid.UUID
	Code      string
	Email     string
	Event     MessageStatus
	Timestamp time.Time
}

// SheetWatch records a push-notification channel registered against a
// spreadsheet file, so renewals can be decided locally without an API call.
type SheetWatch struct {
	ChannelID  string
	FileID     string
	ResourceID string
	ExpiresAt  time.Time
	RenewedAt  time.Time
	CreatedAt  time.Time
}
