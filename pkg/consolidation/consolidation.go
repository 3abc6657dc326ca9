// Package consolidation re-derives the live state of a loan from its schedule
// and its immutable payment history.
//
// Consolidate is pure: it reads the wall clock never, mutates nothing it is
// given and returns the same snapshot for the same loan, payments and
// reference instant. Stored installment status, penalty and days overdue are
// ignored and recomputed on every call.
//
// Payments are summed and walked against the schedule in due-date order.
// Every installment the running balance covers in full is PAID. Whatever is
// left over is kept as PaidAmount on the first unresolved installment: it
// lowers that installment's outstanding amount, and with it the overdue and
// due-today figures, but the installment keeps the status derived from its due
// date. There is no partially paid status.
package consolidation

import (
	"sort"
	"time"

	"github.com/mcclellann/fredMicro/pkg/calendar"
	"github.com/mcclellann/fredMicro/pkg/models"
	"github.com/mcclellann/fredMicro/pkg/money"
	"github.com/mcclellann/fredMicro/pkg/penalty"
)

type options struct {
	rules penalty.Rules
}

// Option tunes a consolidation.
type Option func(*options)

// WithPenaltyRules overrides the default penalty rules.
func WithPenaltyRules(r penalty.Rules) Option {
	return func(o *options) { o.rules = r }
}

// CutoffFor returns the collection window of the calendar date of now, in now's location.
func CutoffFor(now time.Time) models.Cutoff {
	y, m, d := now.Date()
	loc := now.Location()
	available := time.Date(y, m, d, 0, 1, 0, 0, loc)
	return models.Cutoff{
		CalculationsAvailableAt: available,
		CollectionsCloseAt:      time.Date(y, m, d, 23, 59, 59, 0, loc),
		CalculationsAvailable:   !now.Before(available),
	}
}

// Consolidate derives the snapshot of loan as of now from payments.
func Consolidate(loan *models.Loan, payments []models.Payment, now time.Time, opts ...Option) models.Snapshot {
	o := options{rules: penalty.DefaultRules()}
	for _, opt := range opts {
		opt(&o)
	}

	today := calendar.Day(now)
	insts := resetSchedule(loan.Schedule)
	ledger := newPaymentLedger(payments)

	applyPayments(insts, ledger, loan.TotalDue)

	snap := models.Snapshot{
		LoanID:        loan.ID,
		ReferenceTime: now,
		Frequency:     loan.Frequency,
		StartDate:     calendar.Day(loan.StartDate),
		TotalDue:      loan.TotalDue,
		TotalPaid:     ledger.total,
		Cutoff:        CutoffFor(now),
	}

	for i := range insts {
		inst := &insts[i]
		if inst.Status == models.InstallmentPaid {
			continue
		}
		due := calendar.Day(inst.DueDate)
		switch {
		case due.Before(today):
			inst.Status = models.InstallmentOverdue
			inst.DaysOverdue = calendar.DaysBetween(due, today)
			snap.OverdueAmount += inst.Outstanding()
			if inst.DaysOverdue > snap.DaysInArrears {
				snap.DaysInArrears = inst.DaysOverdue
			}
		case due.Equal(today):
			snap.DueToday += inst.Outstanding()
		}
	}

	pen := penalty.Calculate(loan.Frequency, insts, now, o.rules)
	for i := range insts {
		insts[i].PenaltyAmount = pen.PerInstallment[insts[i].Number]
	}
	snap.TotalPenalties = pen.Total
	snap.Penalties = pen.Records
	snap.IncidentsThisMonth = pen.IncidentsThisMonth

	snap.AmountDueNow = snap.OverdueAmount + snap.TotalPenalties
	if snap.Cutoff.CalculationsAvailable {
		snap.AmountDueNow += snap.DueToday
	}

	for i := range insts {
		switch insts[i].Status {
		case models.InstallmentPaid:
			snap.PaidCount++
		case models.InstallmentOverdue:
			snap.OverdueCount++
		default:
			snap.PendingCount++
		}
		if snap.NextInstallment == nil && insts[i].Status != models.InstallmentPaid {
			next := insts[i]
			snap.NextInstallment = &next
		}
	}

	switch {
	case snap.TotalPaid >= snap.TotalDue:
		snap.Status = models.LoanStatusPaid
	case snap.OverdueCount > 0:
		snap.Status = models.LoanStatusArrears
	default:
		snap.Status = models.LoanStatusActive
	}

	if snap.TotalDue > snap.TotalPaid {
		snap.Remaining = snap.TotalDue - snap.TotalPaid
	}
	snap.PercentComplete = money.Percent(snap.TotalPaid, snap.TotalDue)
	snap.Installments = insts
	return snap
}

// resetSchedule copies the schedule in installment order and clears every derived field.
func resetSchedule(schedule []models.Installment) []models.Installment {
	insts := make([]models.Installment, len(schedule))
	copy(insts, schedule)
	sort.SliceStable(insts, func(i, j int) bool { return insts[i].Number < insts[j].Number })
	for i := range insts {
		insts[i].Status = models.InstallmentPending
		insts[i].PenaltyAmount = 0
		insts[i].DaysOverdue = 0
		insts[i].PaidDate = nil
		insts[i].PaidAmount = 0
	}
	return insts
}

// applyPayments walks the schedule with the running paid balance. An
// installment is PAID only when the balance covers it entirely; the first
// shortfall stops the walk and the leftover is recorded as partial credit on
// that installment. Once the total due is covered every installment is PAID,
// absorbing rounding differences between the schedule and the total.
func applyPayments(insts []models.Installment, ledger paymentLedger, totalDue int64) {
	balance := ledger.total
	var covered int64
	for i := range insts {
		inst := &insts[i]
		if balance < inst.Amount {
			inst.PaidAmount = balance
			break
		}
		balance -= inst.Amount
		covered += inst.Amount
		inst.Status = models.InstallmentPaid
		inst.PaidAmount = inst.Amount
		inst.PaidDate = ledger.dateCovering(covered)
	}

	if totalDue <= 0 || ledger.total < totalDue {
		return
	}
	settled := ledger.dateCovering(totalDue)
	for i := range insts {
		if insts[i].Status != models.InstallmentPaid {
			insts[i].Status = models.InstallmentPaid
			insts[i].PaidAmount = insts[i].Amount
			insts[i].PaidDate = settled
		}
	}
}

type paymentLedger struct {
	total      int64
	dates      []time.Time
	cumulative []int64
}

func newPaymentLedger(payments []models.Payment) paymentLedger {
	sorted := make([]models.Payment, len(payments))
	copy(sorted, payments)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].PaymentDate.Equal(sorted[j].PaymentDate) {
			return sorted[i].PaymentDate.Before(sorted[j].PaymentDate)
		}
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})

	l := paymentLedger{}
	for _, p := range sorted {
		l.total += p.Amount
		l.dates = append(l.dates, calendar.Day(p.PaymentDate))
		l.cumulative = append(l.cumulative, l.total)
	}
	return l
}

// dateCovering returns the date of the payment that brought the running total to amount.
func (l paymentLedger) dateCovering(amount int64) *time.Time {
	idx := sort.Search(len(l.cumulative), func(i int) bool { return l.cumulative[i] >= amount })
	if idx == len(l.cumulative) {
		return nil
	}
	d := l.dates[idx]
	return &d
}
