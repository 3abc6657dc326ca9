package payment

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/mcclellann/fredMicro/pkg/calendar"
	"github.com/mcclellann/fredMicro/pkg/models"
	"github.com/mcclellann/fredMicro/pkg/money"
)

// Request is a payment as submitted by a user, before any parsing.
type Request struct {
	LoanID      uuid.UUID `json:"loan_id"`
	Amount      string    `json:"amount"`
	Method      string    `json:"method"`
	Notes       string    `json:"notes,omitempty"`
	PaymentDate string    `json:"payment_date,omitempty"` // YYYY-MM-DD, defaults to the reference date
	CollectorID string    `json:"collector_id"`
}

// ValidationResult separates hard errors, which block the payment, from
// warnings, which are reported but never block it.
type ValidationResult struct {
	IsValid     bool                 `json:"is_valid"`
	Errors      []string             `json:"errors"`
	Warnings    []string             `json:"warnings"`
	Amount      int64                `json:"amount"`
	Method      models.PaymentMethod `json:"method"`
	PaymentDate time.Time            `json:"payment_date"`
}

func (r *ValidationResult) fail(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *ValidationResult) warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Validate checks req against the consolidated state of its loan as of now.
func Validate(snap models.Snapshot, req Request, now time.Time) ValidationResult {
	res := ValidationResult{Errors: []string{}, Warnings: []string{}}
	today := calendar.Day(now)

	if req.LoanID == uuid.Nil {
		res.fail("loan reference is required")
	} else if snap.LoanID != uuid.Nil && req.LoanID != snap.LoanID {
		res.fail("payment references loan %s but the state belongs to loan %s", req.LoanID, snap.LoanID)
	}
	if strings.TrimSpace(req.CollectorID) == "" {
		res.fail("collector reference is required")
	}

	amount, err := money.Parse(strings.TrimSpace(req.Amount))
	switch {
	case err != nil:
		res.fail("%v", err)
	case amount <= 0:
		res.fail("amount must be positive, got %d", amount)
	default:
		res.Amount = amount
	}

	res.Method = models.PaymentMethod(strings.ToLower(strings.TrimSpace(req.Method)))
	if !res.Method.Valid() {
		res.fail("unsupported payment method %q", req.Method)
	}

	if n := utf8.RuneCountInString(req.Notes); n > models.MaxNotesLength {
		res.fail("notes exceed %d characters (%d)", models.MaxNotesLength, n)
	}

	res.PaymentDate = today
	if strings.TrimSpace(req.PaymentDate) != "" {
		d, err := calendar.ParseDate(strings.TrimSpace(req.PaymentDate))
		switch {
		case err != nil:
			res.fail("invalid payment date %q", req.PaymentDate)
		case d.After(today):
			res.fail("payment date %s is in the future", req.PaymentDate)
		default:
			res.PaymentDate = d
			if d.Before(today) {
				res.warn("payment is backdated to %s", req.PaymentDate)
			}
			if !snap.StartDate.IsZero() && d.Before(snap.StartDate) {
				res.warn("payment date %s is before the loan start date %s", req.PaymentDate, snap.StartDate.Format(calendar.DateLayout))
			}
		}
	}

	if snap.Status == models.LoanStatusPaid {
		res.fail("loan is already paid")
	}

	if res.Amount > 0 && snap.Status != models.LoanStatusPaid {
		owed := Outstanding(snap)
		if res.Amount > owed {
			res.warn("amount %d exceeds the remaining balance of %d; %d will be reported as excess", res.Amount, owed, res.Amount-owed)
		} else if rec := Recommended(snap); res.Amount < rec {
			res.warn("amount %d is below the recommended payment of %d", res.Amount, rec)
		}
	}

	res.IsValid = len(res.Errors) == 0
	return res
}
