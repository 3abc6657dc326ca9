// Package payment decides how an incoming payment is absorbed by a loan and
// validates user-supplied payment input. Nothing here mutates persisted state,
// so the same functions back both the preview and the commit of a payment.
package payment

import (
	"sort"
	"time"

	"github.com/mcclellann/fredMicro/pkg/models"
	"github.com/mcclellann/fredMicro/pkg/money"
)

type Type string

const (
	TypeComplete Type = "completo"
	TypePartial  Type = "parcial"
	TypeExcess   Type = "exceso"
)

type AllocationKind string

const (
	KindPenalty     AllocationKind = "penalty"
	KindInstallment AllocationKind = "installment"
)

// Allocation is the share of a payment assigned to one obligation.
type Allocation struct {
	Kind              AllocationKind     `json:"kind"`
	PenaltyType       models.PenaltyType `json:"penalty_type,omitempty"`
	InstallmentNumber int                `json:"installment_number,omitempty"`
	DueDate           *time.Time         `json:"due_date,omitempty"`
	Outstanding       int64              `json:"outstanding"` // Owed before this payment
	Amount            int64              `json:"amount"`
	Settled           bool               `json:"settled"`
}

// Application is the full distribution of a payment.
type Application struct {
	Amount       int64        `json:"amount"`
	Allocations  []Allocation `json:"allocations"`
	TotalApplied int64        `json:"total_applied"`
	Remainder    int64        `json:"remainder"`
	Type         Type         `json:"payment_type"`
	Recommended  int64        `json:"recommended"`
}

// Recommended returns the payment that brings the loan up to date: the amount
// due now when there is one, otherwise outstanding penalties plus the next
// unpaid installment.
func Recommended(snap models.Snapshot) int64 {
	if snap.Status == models.LoanStatusPaid {
		return 0
	}
	if snap.AmountDueNow > 0 {
		return snap.AmountDueNow
	}
	rec := snap.TotalPenalties
	if snap.NextInstallment != nil {
		rec += snap.NextInstallment.Outstanding()
	}
	return rec
}

// Outstanding is everything snap still owes: penalties plus the uncovered
// part of every unpaid installment.
func Outstanding(snap models.Snapshot) int64 {
	total := snap.TotalPenalties
	for _, inst := range snap.Installments {
		total += inst.Outstanding()
	}
	return total
}

// Apply distributes amount over the obligations in snap: penalties first, then
// unpaid installments, overdue ones first and each group by ascending due date.
// Funds left once everything is covered are reported as the remainder.
func Apply(snap models.Snapshot, amount int64) Application {
	app := Application{Amount: amount, Recommended: Recommended(snap)}
	left := amount
	if left < 0 {
		left = 0
	}

	penaltyBudget := snap.TotalPenalties
	for _, rec := range snap.Penalties {
		if left == 0 || penaltyBudget == 0 {
			break
		}
		owed := money.Min(rec.Amount, penaltyBudget)
		take := money.Min(left, owed)
		alloc := Allocation{
			Kind:        KindPenalty,
			PenaltyType: rec.Type,
			Outstanding: owed,
			Amount:      take,
			Settled:     take == owed,
		}
		if len(rec.Installments) > 0 {
			alloc.InstallmentNumber = rec.Installments[0]
		}
		app.Allocations = append(app.Allocations, alloc)
		left -= take
		penaltyBudget -= owed
	}

	for _, inst := range payable(snap.Installments) {
		if left == 0 {
			break
		}
		owed := inst.Outstanding()
		take := money.Min(left, owed)
		due := inst.DueDate
		app.Allocations = append(app.Allocations, Allocation{
			Kind:              KindInstallment,
			InstallmentNumber: inst.Number,
			DueDate:           &due,
			Outstanding:       owed,
			Amount:            take,
			Settled:           take == owed,
		})
		left -= take
	}

	app.TotalApplied = amount - left
	if amount < 0 {
		app.TotalApplied = 0
	}
	app.Remainder = left

	switch {
	case app.Remainder > 0:
		app.Type = TypeExcess
	case amount < app.Recommended:
		app.Type = TypePartial
	default:
		app.Type = TypeComplete
	}
	return app
}

// payable returns the installments still owing money, overdue first, then by due date.
func payable(insts []models.Installment) []models.Installment {
	var out []models.Installment
	for _, inst := range insts {
		if inst.Status != models.InstallmentPaid && inst.Outstanding() > 0 {
			out = append(out, inst)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		oi := out[i].Status == models.InstallmentOverdue
		oj := out[j].Status == models.InstallmentOverdue
		if oi != oj {
			return oi
		}
		return out[i].DueDate.Before(out[j].DueDate)
	})
	return out
}
