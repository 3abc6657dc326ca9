// Package schedule generates fixed-cadence repayment schedules whose due dates
// always fall on business days.
package schedule

import (
	"errors"
	"fmt"
	"time"

	"github.com/mcclellann/fredMicro/pkg/calendar"
	"github.com/mcclellann/fredMicro/pkg/models"
	"github.com/mcclellann/fredMicro/pkg/money"
)

const (
	DailyInstallments  = 24
	WeeklyInstallments = 4
)

// ErrInvalidScheduleInput is matched by every *InvalidInputError.
var ErrInvalidScheduleInput = errors.New("invalid schedule input")

// InvalidInputError reports structurally invalid input to Generate.
type InvalidInputError struct {
	Field  string
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid schedule input: %s: %s", e.Field, e.Reason)
}

func (e *InvalidInputError) Is(target error) bool {
	return target == ErrInvalidScheduleInput
}

// Input carries the loan terms a schedule is built from.
type Input struct {
	StartDate time.Time
	TotalDue  int64
	Frequency models.Frequency
}

// InputFor extracts the schedule terms of an existing loan.
func InputFor(loan *models.Loan) Input {
	return Input{StartDate: loan.StartDate, TotalDue: loan.TotalDue, Frequency: loan.Frequency}
}

// Count returns the number of installments for frequency, or zero when unknown.
func Count(f models.Frequency) int {
	switch f {
	case models.FrequencyDaily:
		return DailyInstallments
	case models.FrequencyWeekly:
		return WeeklyInstallments
	}
	return 0
}

// TotalDueFor returns the amount owed for a principal after the fixed markup.
func TotalDueFor(principal int64) int64 {
	return money.WithMarkup(principal)
}

// Validate checks in without building a schedule.
func Validate(cal *calendar.Calendar, in Input) error {
	if in.StartDate.IsZero() {
		return &InvalidInputError{Field: "start_date", Reason: "missing"}
	}
	if in.TotalDue <= 0 {
		return &InvalidInputError{Field: "total_due", Reason: fmt.Sprintf("must be positive, got %d", in.TotalDue)}
	}
	if !in.Frequency.Valid() {
		return &InvalidInputError{Field: "frequency", Reason: fmt.Sprintf("unsupported frequency %q", in.Frequency)}
	}
	if !cal.IsBusinessDay(calendar.Day(in.StartDate)) {
		return &InvalidInputError{Field: "start_date", Reason: fmt.Sprintf("%s is not a business day", in.StartDate.Format(calendar.DateLayout))}
	}
	return nil
}

// Generate builds the installments for in. Daily schedules place each
// installment on the business day after the previous one, starting after the
// start date. Weekly schedules fall 7, 14, 21 and 28 days after the start,
// each pushed forward to a business day on its own.
func Generate(cal *calendar.Calendar, in Input) ([]models.Installment, error) {
	if err := Validate(cal, in); err != nil {
		return nil, err
	}

	start := calendar.Day(in.StartDate)
	n := Count(in.Frequency)
	amount := money.DivRound(in.TotalDue, n)
	installments := make([]models.Installment, 0, n)

	switch in.Frequency {
	case models.FrequencyDaily:
		due := start
		for i := 1; i <= n; i++ {
			due = cal.NextBusinessDay(due)
			installments = append(installments, newInstallment(i, due, amount))
		}
	case models.FrequencyWeekly:
		for i := 1; i <= n; i++ {
			due := cal.AdvanceToBusinessDay(start.AddDate(0, 0, 7*i))
			installments = append(installments, newInstallment(i, due, amount))
		}
	}

	return installments, nil
}

func newInstallment(number int, due time.Time, amount int64) models.Installment {
	return models.Installment{
		Number:  number,
		DueDate: due,
		Amount:  amount,
		Status:  models.InstallmentPending,
	}
}
