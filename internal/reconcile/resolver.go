package reconcile

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/coupon-sync/internal/domain"
	"github.com/ignite/coupon-sync/internal/pkg/logger"
)

// DesiredAssignment is one (email, coupon) pairing the sheet says
// should exist, tied back to the row that declared it.
type DesiredAssignment struct {
	Row             int
	Code            string
	Email           string
	ProductCouponID uuid.UUID
}

// Resolution is the outcome of comparing sheet-desired state against
// existing database assignments.
type Resolution struct {
	Create []DesiredAssignment
	// DeleteIDs are assignments that no longer appear in the sheet and
	// are safe to remove.
	DeleteIDs []uuid.UUID
	// RedeemedKept are redeemed assignments that would otherwise have
	// been removed; irreversibility keeps them, logged as anomalies.
	RedeemedKept []domain.Assignment
	// SuppressedCreates are desired pairs dropped because their code
	// belongs to a kept redeemed assignment: a consumed code must not
	// get a second assignment.
	SuppressedCreates []DesiredAssignment
}

func pairKey(email, code string) string {
	return strings.ToLower(email) + "\x00" + code
}

// Resolve partitions existing assignments into kept and removed, honors
// the redeemed invariant, and computes the final create set.
func Resolve(desired []DesiredAssignment, existing []domain.Assignment) Resolution {
	desiredByKey := make(map[string]DesiredAssignment, len(desired))
	for _, d := range desired {
		desiredByKey[pairKey(d.Email, d.Code)] = d
	}

	var res Resolution
	kept := make(map[string]bool, len(existing))
	redeemedCodes := make(map[string]bool)

	for _, a := range existing {
		key := pairKey(a.Email, a.Code)
		if _, still := desiredByKey[key]; still {
			kept[key] = true
			continue
		}
		if a.Redeemed {
			res.RedeemedKept = append(res.RedeemedKept, a)
			redeemedCodes[a.Code] = true
			logger.Warn("refusing to remove redeemed assignment",
				"assignment_id", a.ID.String(), "code", a.Code, "email", a.Email)
			continue
		}
		res.DeleteIDs = append(res.DeleteIDs, a.ID)
	}

	for _, d := range desired {
		if kept[pairKey(d.Email, d.Code)] {
			continue
		}
		if redeemedCodes[d.Code] {
			res.SuppressedCreates = append(res.SuppressedCreates, d)
			logger.Warn("suppressing assignment for already-redeemed code",
				"code", d.Code, "email", d.Email, "row", d.Row)
			continue
		}
		res.Create = append(res.Create, d)
	}
	return res
}

// OutOfSync compares parsed rows against database assignments and the
// observed delivery dates, producing sheet corrections plus the list of
// assignments whose notification appears to have never been sent.
//
// A row with no status and no delivery evidence is left alone while the
// assignment is younger than the grace period: the notification may
// simply be in flight. Past the grace period the row is restated as
// assigned and the assignment queued for a catch-up send.
func OutOfSync(rows []AssignmentRow, assignments map[string]domain.Assignment, deliveredAt func(code string) time.Time, grace time.Duration, now time.Time) (updates []RowUpdate, unsent []domain.Assignment) {
	for _, r := range rows {
		a, ok := assignments[r.Code]
		if !ok {
			continue
		}

		if a.Redeemed && r.Status != string(domain.MessageEnrolled) {
			u := RowUpdate{
				Row:        r.Index,
				Status:     string(domain.MessageEnrolled),
				StatusDate: a.UpdatedAt,
			}
			if a.OriginalEmail != "" && !strings.EqualFold(a.Email, a.OriginalEmail) {
				u.AltEmail = a.Email
			}
			updates = append(updates, u)
			continue
		}

		delivered := deliveredAt(r.Code)
		if r.Status == "" && !delivered.IsZero() {
			updates = append(updates, RowUpdate{
				Row:        r.Index,
				Status:     string(domain.MessageDelivered),
				StatusDate: delivered,
			})
			continue
		}

		neverNotified := delivered.IsZero() &&
			(r.Status == "" || r.Status == domain.SheetStatusAssigned) &&
			now.Sub(a.CreatedAt) > grace
		if neverNotified {
			unsent = append(unsent, a)
			if r.Status == "" {
				updates = append(updates, RowUpdate{
					Row:        r.Index,
					Status:     domain.SheetStatusAssigned,
					StatusDate: a.CreatedAt,
				})
			}
		}
	}
	return updates, unsent
}

// ValidateEmails splits desired assignments into valid and invalid by
// recipient address. Invalid entries never abort the pass; they are
// excluded from creation and reported on their own rows.
func ValidateEmails(desired []DesiredAssignment) (valid, invalid []DesiredAssignment, err *MultiEmailValidationError) {
	for _, d := range desired {
		if validEmail(d.Email) {
			valid = append(valid, d)
		} else {
			invalid = append(invalid, d)
		}
	}
	if len(invalid) > 0 {
		e := &MultiEmailValidationError{}
		for _, d := range invalid {
			e.Emails = append(e.Emails, d.Email)
		}
		return valid, invalid, e
	}
	return valid, invalid, nil
}

func validEmail(email string) bool {
	at := strings.LastIndex(email, "@")
	if at < 1 || at == len(email)-1 {
		return false
	}
	local, dom := email[:at], email[at+1:]
	if strings.ContainsAny(local, " \t") || strings.ContainsAny(dom, " \t") {
		return false
	}
	if !strings.Contains(dom, ".") || strings.HasPrefix(dom, ".") || strings.HasSuffix(dom, ".") {
		return false
	}
	return true
}

// anomalySummary renders resolver anomalies for pass logs.
func anomalySummary(res Resolution) string {
	return fmt.Sprintf("redeemed_kept=%d suppressed_creates=%d", len(res.RedeemedKept), len(res.SuppressedCreates))
}
