// Package notify sends arrears reminders to debtors.
package notify

import (
	"fmt"
	"net/smtp"
	"strings"

	"github.com/jordan-wright/email"
	"github.com/mcclellann/fredMicro/pkg/calendar"
	"github.com/mcclellann/fredMicro/pkg/models"
	"github.com/sirupsen/logrus"
)

// Notifier delivers arrears reminders for a consolidated loan. It reports
// whether a reminder actually went out.
type Notifier interface {
	NotifyArrears(loan *models.Loan, snap models.Snapshot) (bool, error)
}

// Nop discards every reminder.
type Nop struct{}

func (Nop) NotifyArrears(*models.Loan, models.Snapshot) (bool, error) { return false, nil }

// SMTPSettings holds the mail server used by EmailNotifier.
type SMTPSettings struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
}

// EmailNotifier handles sending arrears reminders via SMTP
type EmailNotifier struct {
	smtp   SMTPSettings
	logger *logrus.Logger
	send   func(e *email.Email, addr string, auth smtp.Auth) error
}

// NewEmailNotifier creates a new email notifier
func NewEmailNotifier(settings SMTPSettings, logger *logrus.Logger) *EmailNotifier {
	return &EmailNotifier{
		smtp:   settings,
		logger: logger,
		send: func(e *email.Email, addr string, auth smtp.Auth) error {
			return e.Send(addr, auth)
		},
	}
}

// NotifyArrears emails the debtor a summary of what is overdue. Loans without
// a debtor address or without arrears are skipped.
func (n *EmailNotifier) NotifyArrears(loan *models.Loan, snap models.Snapshot) (bool, error) {
	if loan.DebtorEmail == "" || snap.Status != models.LoanStatusArrears {
		return false, nil
	}

	e := arrearsEmail(n.smtp.From, loan, snap)
	addr := fmt.Sprintf("%s:%s", n.smtp.Host, n.smtp.Port)
	var auth smtp.Auth
	if n.smtp.Username != "" {
		auth = smtp.PlainAuth("", n.smtp.Username, n.smtp.Password, n.smtp.Host)
	}
	if err := n.send(e, addr, auth); err != nil {
		n.logger.WithError(err).WithField("loan_id", loan.ID).Error("Failed to send arrears reminder")
		return false, fmt.Errorf("failed to send arrears reminder: %w", err)
	}

	n.logger.WithFields(logrus.Fields{"loan_id": loan.ID, "to": loan.DebtorEmail}).Info("Arrears reminder sent")
	return true, nil
}

func arrearsEmail(from string, loan *models.Loan, snap models.Snapshot) *email.Email {
	e := email.NewEmail()
	e.From = from
	e.To = []string{loan.DebtorEmail}
	e.Subject = "Overdue Installment Notification"

	var b strings.Builder
	fmt.Fprintf(&b, "Dear customer,\n\n")
	fmt.Fprintf(&b, "Your loan %s has %d overdue installment(s) totalling %d COP.\n", loan.ID, snap.OverdueCount, snap.OverdueAmount)
	if snap.TotalPenalties > 0 {
		fmt.Fprintf(&b, "Penalties of %d COP have been applied.\n", snap.TotalPenalties)
	}
	if snap.DueToday > 0 {
		fmt.Fprintf(&b, "An additional %d COP is due today.\n", snap.DueToday)
	}
	fmt.Fprintf(&b, "Amount due now: %d COP. Remaining balance: %d COP.\n", snap.AmountDueNow, snap.Remaining)
	if snap.NextInstallment != nil {
		fmt.Fprintf(&b, "Next installment %d is due on %s.\n", snap.NextInstallment.Number, snap.NextInstallment.DueDate.Format(calendar.DateLayout))
	}
	b.WriteString("\nPlease make the payment as soon as possible to avoid further penalties.\n")
	e.Text = []byte(b.String())
	return e
}
