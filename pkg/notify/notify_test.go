package notify

import (
	"errors"
	"io"
	"net/smtp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jordan-wright/email"
	"github.com/mcclellann/fredMicro/pkg/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testNotifier(sent *[]*email.Email, err error) *EmailNotifier {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	n := NewEmailNotifier(SMTPSettings{Host: "smtp.example.com", Port: "587", From: "cobros@example.com"}, logger)
	n.send = func(e *email.Email, addr string, auth smtp.Auth) error {
		*sent = append(*sent, e)
		return err
	}
	return n
}

func arrearsFixture() (*models.Loan, models.Snapshot) {
	loan := &models.Loan{ID: uuid.New(), DebtorEmail: "deudor@example.com"}
	next := models.Installment{Number: 5, DueDate: time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC), Amount: 5000}
	snap := models.Snapshot{
		LoanID:          loan.ID,
		Status:          models.LoanStatusArrears,
		OverdueCount:    3,
		OverdueAmount:   15000,
		DueToday:        5000,
		AmountDueNow:    25000,
		TotalPenalties:  5000,
		Remaining:       120000,
		NextInstallment: &next,
	}
	return loan, snap
}

func TestEmailNotifierSendsArrearsReminder(t *testing.T) {
	var sent []*email.Email
	n := testNotifier(&sent, nil)
	loan, snap := arrearsFixture()

	delivered, err := n.NotifyArrears(loan, snap)
	require.NoError(t, err)
	assert.True(t, delivered)
	require.Len(t, sent, 1)
	assert.Equal(t, []string{"deudor@example.com"}, sent[0].To)
	assert.Equal(t, "cobros@example.com", sent[0].From)
	body := string(sent[0].Text)
	assert.Contains(t, body, "3 overdue installment(s) totalling 15000 COP")
	assert.Contains(t, body, "Penalties of 5000 COP")
	assert.Contains(t, body, "Amount due now: 25000 COP")
	assert.Contains(t, body, "2025-03-10")
}

func TestEmailNotifierSkipsLoansWithoutArrears(t *testing.T) {
	var sent []*email.Email
	n := testNotifier(&sent, nil)

	loan, snap := arrearsFixture()
	snap.Status = models.LoanStatusActive
	delivered, err := n.NotifyArrears(loan, snap)
	require.NoError(t, err)
	assert.False(t, delivered)

	loan, snap = arrearsFixture()
	loan.DebtorEmail = ""
	delivered, err = n.NotifyArrears(loan, snap)
	require.NoError(t, err)
	assert.False(t, delivered)

	assert.Empty(t, sent)
}

func TestEmailNotifierWrapsSendErrors(t *testing.T) {
	var sent []*email.Email
	boom := errors.New("connection refused")
	n := testNotifier(&sent, boom)
	loan, snap := arrearsFixture()

	delivered, err := n.NotifyArrears(loan, snap)
	assert.ErrorIs(t, err, boom)
	assert.False(t, delivered)
}

func TestNopNotifier(t *testing.T) {
	loan, snap := arrearsFixture()
	delivered, err := Nop{}.NotifyArrears(loan, snap)
	assert.NoError(t, err)
	assert.False(t, delivered)
}
