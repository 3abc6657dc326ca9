package payment

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/fredMicro/pkg/calendar"
	"github.com/mcclellann/fredMicro/pkg/consolidation"
	"github.com/mcclellann/fredMicro/pkg/models"
	"github.com/mcclellann/fredMicro/pkg/penalty"
	"github.com/mcclellann/fredMicro/pkg/schedule"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var bogota = time.FixedZone("COT", -5*60*60)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func dailyLoan(t *testing.T) *models.Loan {
	t.Helper()
	start := date(2025, time.March, 3)
	insts, err := schedule.Generate(calendar.New(), schedule.Input{StartDate: start, TotalDue: 120000, Frequency: models.FrequencyDaily})
	require.NoError(t, err)
	return &models.Loan{ID: uuid.New(), Principal: 100000, TotalDue: 120000, StartDate: start, Frequency: models.FrequencyDaily, Schedule: insts}
}

// arrearsSnapshot has installments 1-3 overdue, 4 due today and one run penalty.
func arrearsSnapshot(t *testing.T) models.Snapshot {
	t.Helper()
	snap := consolidation.Consolidate(dailyLoan(t), nil, time.Date(2025, time.March, 7, 10, 0, 0, 0, bogota))
	require.Equal(t, int64(25000), snap.AmountDueNow)
	return snap
}

func TestApplyPenaltiesFirstThenOldestInstallments(t *testing.T) {
	snap := arrearsSnapshot(t)

	app := Apply(snap, 25000)
	require.Len(t, app.Allocations, 5)
	assert.Equal(t, KindPenalty, app.Allocations[0].Kind)
	assert.Equal(t, models.PenaltyDailyRun, app.Allocations[0].PenaltyType)
	assert.Equal(t, penalty.DefaultUnit, app.Allocations[0].Amount)
	for i, alloc := range app.Allocations[1:] {
		assert.Equal(t, KindInstallment, alloc.Kind)
		assert.Equal(t, i+1, alloc.InstallmentNumber)
		assert.Equal(t, int64(5000), alloc.Amount)
		assert.True(t, alloc.Settled)
	}
	assert.Equal(t, int64(25000), app.TotalApplied)
	assert.Zero(t, app.Remainder)
	assert.Equal(t, TypeComplete, app.Type)
}

func TestApplyPartial(t *testing.T) {
	snap := arrearsSnapshot(t)

	app := Apply(snap, 7000)
	require.Len(t, app.Allocations, 2)
	assert.Equal(t, int64(5000), app.Allocations[0].Amount)
	assert.Equal(t, 1, app.Allocations[1].InstallmentNumber)
	assert.Equal(t, int64(2000), app.Allocations[1].Amount)
	assert.False(t, app.Allocations[1].Settled)
	assert.Equal(t, TypePartial, app.Type)
	assert.Zero(t, app.Remainder)
}

func TestApplyExcess(t *testing.T) {
	snap := arrearsSnapshot(t)
	owed := Outstanding(snap)
	require.Equal(t, int64(120000)+penalty.DefaultUnit, owed)

	app := Apply(snap, owed+7777)
	assert.Equal(t, TypeExcess, app.Type)
	assert.Equal(t, int64(7777), app.Remainder)
	assert.Equal(t, owed, app.TotalApplied)
	assert.Len(t, app.Allocations, 25)
}

func TestApplyOverdueBeforePendingRegardlessOfOrder(t *testing.T) {
	snap := models.Snapshot{
		Status: models.LoanStatusArrears,
		Installments: []models.Installment{
			{Number: 1, DueDate: date(2025, time.March, 4), Amount: 1000, Status: models.InstallmentPending},
			{Number: 2, DueDate: date(2025, time.March, 10), Amount: 1000, Status: models.InstallmentOverdue},
			{Number: 3, DueDate: date(2025, time.March, 1), Amount: 1000, Status: models.InstallmentOverdue},
			{Number: 4, DueDate: date(2025, time.March, 2), Amount: 1000, Status: models.InstallmentPaid, PaidAmount: 1000},
		},
	}

	app := Apply(snap, 3000)
	require.Len(t, app.Allocations, 3)
	assert.Equal(t, []int{3, 2, 1}, []int{
		app.Allocations[0].InstallmentNumber,
		app.Allocations[1].InstallmentNumber,
		app.Allocations[2].InstallmentNumber,
	})
}

func TestApplyUsesPartialCredit(t *testing.T) {
	loan := dailyLoan(t)
	snap := consolidation.Consolidate(loan, []models.Payment{{Amount: 7500, PaymentDate: date(2025, time.March, 3)}}, time.Date(2025, time.March, 3, 12, 0, 0, 0, bogota))

	assert.Equal(t, int64(2500), Recommended(snap))
	app := Apply(snap, 2500)
	require.Len(t, app.Allocations, 1)
	assert.Equal(t, 2, app.Allocations[0].InstallmentNumber)
	assert.Equal(t, int64(2500), app.Allocations[0].Outstanding)
	assert.True(t, app.Allocations[0].Settled)
	assert.Equal(t, TypeComplete, app.Type)
}

func TestApplyOnPaidLoanIsExcess(t *testing.T) {
	loan := dailyLoan(t)
	snap := consolidation.Consolidate(loan, []models.Payment{{Amount: 120000, PaymentDate: date(2025, time.March, 3)}}, time.Date(2025, time.March, 3, 12, 0, 0, 0, bogota))

	app := Apply(snap, 1000)
	assert.Empty(t, app.Allocations)
	assert.Equal(t, int64(1000), app.Remainder)
	assert.Equal(t, TypeExcess, app.Type)
	assert.Zero(t, app.Recommended)
}

func TestApplyDoesNotMutateSnapshot(t *testing.T) {
	loan := dailyLoan(t)
	now := time.Date(2025, time.March, 7, 10, 0, 0, 0, bogota)
	snap := consolidation.Consolidate(loan, nil, now)
	want := consolidation.Consolidate(loan, nil, now)

	Apply(snap, 50000)
	assert.Equal(t, want, snap)
}

func TestRecommendedWithoutArrears(t *testing.T) {
	loan := dailyLoan(t)
	snap := consolidation.Consolidate(loan, nil, time.Date(2025, time.March, 3, 12, 0, 0, 0, bogota))
	assert.Zero(t, snap.AmountDueNow)
	assert.Equal(t, int64(5000), Recommended(snap))
}

func validRequest(snap models.Snapshot) Request {
	return Request{
		LoanID:      snap.LoanID,
		Amount:      "25000",
		Method:      "cash",
		CollectorID: "collector-1",
		PaymentDate: "2025-03-07",
	}
}

func TestValidateAccepts(t *testing.T) {
	snap := arrearsSnapshot(t)
	res := Validate(snap, validRequest(snap), snap.ReferenceTime)

	assert.True(t, res.IsValid)
	assert.Empty(t, res.Errors)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, int64(25000), res.Amount)
	assert.Equal(t, models.MethodCash, res.Method)
	assert.Equal(t, date(2025, time.March, 7), res.PaymentDate)
}

func TestValidateDefaultsPaymentDateToToday(t *testing.T) {
	snap := arrearsSnapshot(t)
	req := validRequest(snap)
	req.PaymentDate = ""
	res := Validate(snap, req, snap.ReferenceTime)
	assert.True(t, res.IsValid)
	assert.Equal(t, date(2025, time.March, 7), res.PaymentDate)
}

func TestValidateHardErrors(t *testing.T) {
	snap := arrearsSnapshot(t)

	cases := map[string]func(r *Request){
		"unparseable amount": func(r *Request) { r.Amount = "diez mil" },
		"fractional amount":  func(r *Request) { r.Amount = "100.5" },
		"zero amount":        func(r *Request) { r.Amount = "0" },
		"negative amount":    func(r *Request) { r.Amount = "-100" },
		"unknown method":     func(r *Request) { r.Method = "crypto" },
		"long notes":         func(r *Request) { r.Notes = strings.Repeat("x", models.MaxNotesLength+1) },
		"missing loan":       func(r *Request) { r.LoanID = uuid.Nil },
		"other loan":         func(r *Request) { r.LoanID = uuid.New() },
		"missing collector":  func(r *Request) { r.CollectorID = " " },
		"future date":        func(r *Request) { r.PaymentDate = "2025-03-08" },
		"bad date":           func(r *Request) { r.PaymentDate = "07/03/2025" },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := validRequest(snap)
			mutate(&req)
			res := Validate(snap, req, snap.ReferenceTime)
			assert.False(t, res.IsValid)
			assert.Len(t, res.Errors, 1, "errors: %v", res.Errors)
		})
	}
}

func TestValidateNotesAtLimit(t *testing.T) {
	snap := arrearsSnapshot(t)
	req := validRequest(snap)
	req.Notes = strings.Repeat("ñ", models.MaxNotesLength)
	assert.True(t, Validate(snap, req, snap.ReferenceTime).IsValid)
}

func TestValidateWarningsDoNotBlock(t *testing.T) {
	snap := arrearsSnapshot(t)

	req := validRequest(snap)
	req.Amount = "500000"
	res := Validate(snap, req, snap.ReferenceTime)
	assert.True(t, res.IsValid)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "exceeds the remaining balance")

	req = validRequest(snap)
	req.Amount = "1000"
	req.PaymentDate = "2025-03-06"
	res = Validate(snap, req, snap.ReferenceTime)
	assert.True(t, res.IsValid)
	assert.Len(t, res.Warnings, 2)
}

func TestValidateWarnsWhenDatedBeforeLoanStart(t *testing.T) {
	snap := arrearsSnapshot(t)
	require.Equal(t, date(2025, time.March, 3), snap.StartDate)

	req := validRequest(snap)
	req.PaymentDate = "2025-01-15"
	res := Validate(snap, req, snap.ReferenceTime)
	assert.True(t, res.IsValid)
	require.Len(t, res.Warnings, 2)
	assert.Contains(t, res.Warnings[0], "backdated")
	assert.Equal(t, "payment date 2025-01-15 is before the loan start date 2025-03-03", res.Warnings[1])

	req.PaymentDate = "2025-03-03"
	res = Validate(snap, req, snap.ReferenceTime)
	for _, w := range res.Warnings {
		assert.NotContains(t, w, "before the loan start date")
	}
}

func TestValidateRejectsPaidLoan(t *testing.T) {
	loan := dailyLoan(t)
	now := time.Date(2025, time.March, 7, 10, 0, 0, 0, bogota)
	snap := consolidation.Consolidate(loan, []models.Payment{{Amount: 120000, PaymentDate: date(2025, time.March, 4)}}, now)
	require.Equal(t, models.LoanStatusPaid, snap.Status)

	res := Validate(snap, validRequest(snap), now)
	assert.False(t, res.IsValid)
	assert.Contains(t, res.Errors, "loan is already paid")
}

func TestValidateMethodIsCaseInsensitive(t *testing.T) {
	snap := arrearsSnapshot(t)
	req := validRequest(snap)
	req.Method = " Nequi "
	res := Validate(snap, req, snap.ReferenceTime)
	assert.True(t, res.IsValid)
	assert.Equal(t, models.MethodNequi, res.Method)
}
