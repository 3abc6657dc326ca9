package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/fredMicro/pkg/calendar"
	"github.com/mcclellann/fredMicro/pkg/consolidation"
	"github.com/mcclellann/fredMicro/pkg/models"
	"github.com/mcclellann/fredMicro/pkg/notify"
	"github.com/mcclellann/fredMicro/pkg/payment"
	"github.com/mcclellann/fredMicro/pkg/penalty"
	"github.com/mcclellann/fredMicro/pkg/schedule"
	"github.com/mcclellann/fredMicro/pkg/store"
	"github.com/sirupsen/logrus"
)

// ErrInvalidLoan is returned when a loan request fails validation.
var ErrInvalidLoan = errors.New("invalid loan request")

// PaymentRejectedError carries the validation result of a payment that was not recorded.
type PaymentRejectedError struct {
	Validation payment.ValidationResult
}

func (e *PaymentRejectedError) Error() string {
	return "payment rejected: " + strings.Join(e.Validation.Errors, "; ")
}

// LoanRequest holds the terms of a new loan.
type LoanRequest struct {
	DebtorID    string           `json:"debtor_id"`
	DebtorEmail string           `json:"debtor_email,omitempty"`
	CollectorID string           `json:"collector_id,omitempty"`
	Principal   int64            `json:"principal"`
	StartDate   time.Time        `json:"start_date"`
	Frequency   models.Frequency `json:"frequency"`
}

// Receipt describes a payment as previewed or recorded.
type Receipt struct {
	Payment     *models.Payment          `json:"payment,omitempty"` // Nil for previews
	Validation  payment.ValidationResult `json:"validation"`
	Application payment.Application     `json:"application"`
	Snapshot    models.Snapshot          `json:"snapshot"`
}

// RefreshSummary reports the outcome of a RefreshActiveLoans run.
type RefreshSummary struct {
	Processed int `json:"processed"`
	InArrears int `json:"in_arrears"`
	Paid      int `json:"paid"`
	Notified  int `json:"notified"`
	Failed    int `json:"failed"`
}

// Ledger handles the business logic for loans and payments.
type Ledger struct {
	storage  store.Storage
	calendar *calendar.Calendar
	rules    penalty.Rules
	notifier notify.Notifier
	logger   *logrus.Logger

	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithCalendar replaces the shared holiday calendar.
func WithCalendar(c *calendar.Calendar) Option {
	return func(l *Ledger) { l.calendar = c }
}

// WithPenaltyRules replaces the default penalty rules.
func WithPenaltyRules(r penalty.Rules) Option {
	return func(l *Ledger) { l.rules = r }
}

// WithNotifier sets the notifier used for arrears reminders.
func WithNotifier(n notify.Notifier) Option {
	return func(l *Ledger) { l.notifier = n }
}

// NewLedger creates a new Ledger with a given Storage implementation.
func NewLedger(s store.Storage, logger *logrus.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		storage:  s,
		calendar: calendar.Default,
		rules:    penalty.DefaultRules(),
		notifier: notify.Nop{},
		logger:   logger,
		locks:    make(map[uuid.UUID]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Calendar returns the holiday calendar used for scheduling.
func (l *Ledger) Calendar() *calendar.Calendar {
	return l.calendar
}

// lockLoan serializes writes to a single loan.
func (l *Ledger) lockLoan(id uuid.UUID) func() {
	l.mu.Lock()
	m, ok := l.locks[id]
	if !ok {
		m = &sync.Mutex{}
		l.locks[id] = m
	}
	l.mu.Unlock()
	m.Lock()
	return m.Unlock
}

// CreateLoan initializes a new loan and its repayment schedule.
func (l *Ledger) CreateLoan(ctx context.Context, req LoanRequest) (*models.Loan, error) {
	if strings.TrimSpace(req.DebtorID) == "" {
		return nil, fmt.Errorf("%w: debtor_id is required", ErrInvalidLoan)
	}
	if req.Principal <= 0 {
		return nil, fmt.Errorf("%w: principal must be positive, got %d", ErrInvalidLoan, req.Principal)
	}

	in := schedule.Input{
		StartDate: calendar.Day(req.StartDate),
		TotalDue:  schedule.TotalDueFor(req.Principal),
		Frequency: req.Frequency,
	}
	installments, err := schedule.Generate(l.calendar, in)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLoan, err)
	}

	now := time.Now().UTC()
	loan := &models.Loan{
		ID:          uuid.New(),
		DebtorID:    strings.TrimSpace(req.DebtorID),
		DebtorEmail: strings.TrimSpace(req.DebtorEmail),
		CollectorID: strings.TrimSpace(req.CollectorID),
		Principal:   req.Principal,
		TotalDue:    in.TotalDue,
		StartDate:   in.StartDate,
		Frequency:   in.Frequency,
		Status:      models.LoanStatusActive,
		Schedule:    installments,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := l.storage.CreateLoan(ctx, loan); err != nil {
		return nil, fmt.Errorf("failed to store loan: %w", err)
	}

	l.logger.WithFields(logrus.Fields{
		"loan_id":   loan.ID,
		"principal": loan.Principal,
		"total_due": loan.TotalDue,
		"frequency": loan.Frequency,
	}).Info("Loan created")
	return loan, nil
}

// GetLoan retrieves a loan by its ID.
func (l *Ledger) GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	return l.storage.GetLoan(ctx, id)
}

// GetAllLoans retrieves all loans.
func (l *Ledger) GetAllLoans(ctx context.Context) ([]*models.Loan, error) {
	return l.storage.GetAllLoans(ctx)
}

// DeleteLoan deletes a loan along with its payment history.
func (l *Ledger) DeleteLoan(ctx context.Context, id uuid.UUID) error {
	unlock := l.lockLoan(id)
	defer unlock()
	err := l.storage.DeleteLoan(ctx, id)
	if err == nil || errors.Is(err, store.ErrLoanNotFound) {
		// Writers still queued on the old mutex find the loan gone.
		l.mu.Lock()
		delete(l.locks, id)
		l.mu.Unlock()
	}
	if err != nil {
		return err
	}
	l.logger.WithField("loan_id", id).Info("Loan deleted")
	return nil
}

// ListPayments returns the payment history of a loan.
func (l *Ledger) ListPayments(ctx context.Context, id uuid.UUID) ([]models.Payment, error) {
	if _, err := l.storage.GetLoan(ctx, id); err != nil {
		return nil, err
	}
	return l.storage.GetPaymentsForLoan(ctx, id)
}

// Snapshot consolidates a loan as of now without persisting anything.
func (l *Ledger) Snapshot(ctx context.Context, id uuid.UUID, now time.Time) (models.Snapshot, error) {
	loan, payments, err := l.load(ctx, id)
	if err != nil {
		return models.Snapshot{}, err
	}
	return l.consolidate(loan, payments, now), nil
}

func (l *Ledger) load(ctx context.Context, id uuid.UUID) (*models.Loan, []models.Payment, error) {
	loan, err := l.storage.GetLoan(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	payments, err := l.storage.GetPaymentsForLoan(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load payments: %w", err)
	}
	return loan, payments, nil
}

func (l *Ledger) consolidate(loan *models.Loan, payments []models.Payment, now time.Time) models.Snapshot {
	return consolidation.Consolidate(loan, payments, now, consolidation.WithPenaltyRules(l.rules))
}

// PreviewPayment validates req and shows how it would be applied, without recording it.
func (l *Ledger) PreviewPayment(ctx context.Context, id uuid.UUID, req payment.Request, now time.Time) (*Receipt, error) {
	loan, payments, err := l.load(ctx, id)
	if err != nil {
		return nil, err
	}
	snap := l.consolidate(loan, payments, now)
	res := payment.Validate(snap, req, now)
	receipt := &Receipt{Validation: res, Snapshot: snap}
	if res.IsValid {
		receipt.Application = payment.Apply(snap, res.Amount)
	}
	return receipt, nil
}

// RecordPayment validates and appends a payment, then refreshes the cached loan state.
// Writes to the same loan are serialized so concurrent payments see each other.
func (l *Ledger) RecordPayment(ctx context.Context, id uuid.UUID, req payment.Request, now time.Time) (*Receipt, error) {
	unlock := l.lockLoan(id)
	defer unlock()

	loan, payments, err := l.load(ctx, id)
	if err != nil {
		return nil, err
	}

	before := l.consolidate(loan, payments, now)
	res := payment.Validate(before, req, now)
	if !res.IsValid {
		l.logger.WithFields(logrus.Fields{"loan_id": id, "errors": res.Errors}).Warn("Payment rejected")
		return nil, &PaymentRejectedError{Validation: res}
	}
	app := payment.Apply(before, res.Amount)

	p := &models.Payment{
		ID:          uuid.New(),
		LoanID:      loan.ID,
		Amount:      res.Amount,
		PaymentDate: res.PaymentDate,
		Method:      res.Method,
		Notes:       strings.TrimSpace(req.Notes),
		CollectorID: strings.TrimSpace(req.CollectorID),
		DebtorID:    loan.DebtorID,
		CreatedAt:   time.Now().UTC(),
	}
	if err := l.storage.CreatePayment(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to store payment: %w", err)
	}

	after := l.consolidate(loan, append(payments, *p), now)
	if err := l.storage.UpdateLoanState(ctx, loan.ID, after.Status, after.Installments); err != nil {
		// The payment is stored; the cache is rebuilt by the next refresh.
		l.logger.WithError(err).WithField("loan_id", loan.ID).Error("Failed to update cached loan state")
	}

	l.logger.WithFields(logrus.Fields{
		"loan_id":      loan.ID,
		"payment_id":   p.ID,
		"amount":       p.Amount,
		"payment_type": app.Type,
		"status":       after.Status,
	}).Info("Payment recorded")

	return &Receipt{Payment: p, Validation: res, Application: app, Snapshot: after}, nil
}

// RefreshActiveLoans consolidates every loan not yet paid, caches its state and
// sends reminders for loans in arrears. Failures are logged and skipped.
func (l *Ledger) RefreshActiveLoans(ctx context.Context, now time.Time) (RefreshSummary, error) {
	var summary RefreshSummary
	loans, err := l.storage.GetAllActiveLoans(ctx)
	if err != nil {
		return summary, fmt.Errorf("failed to get active loans: %w", err)
	}

	for _, loan := range loans {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		snap, err := l.refreshLoan(ctx, loan, now)
		if err != nil {
			summary.Failed++
			l.logger.WithError(err).WithField("loan_id", loan.ID).Error("Failed to refresh loan")
			continue
		}
		summary.Processed++

		switch snap.Status {
		case models.LoanStatusPaid:
			summary.Paid++
		case models.LoanStatusArrears:
			summary.InArrears++
			delivered, err := l.notifier.NotifyArrears(loan, snap)
			if err != nil {
				l.logger.WithError(err).WithField("loan_id", loan.ID).Warn("Arrears reminder not delivered")
				continue
			}
			if delivered {
				summary.Notified++
			}
		}
	}

	l.logger.WithFields(logrus.Fields{
		"processed":  summary.Processed,
		"in_arrears": summary.InArrears,
		"paid":       summary.Paid,
		"failed":     summary.Failed,
	}).Info("Active loans refreshed")
	return summary, nil
}

func (l *Ledger) refreshLoan(ctx context.Context, loan *models.Loan, now time.Time) (models.Snapshot, error) {
	unlock := l.lockLoan(loan.ID)
	defer unlock()

	payments, err := l.storage.GetPaymentsForLoan(ctx, loan.ID)
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("failed to load payments: %w", err)
	}
	snap := l.consolidate(loan, payments, now)
	if err := l.storage.UpdateLoanState(ctx, loan.ID, snap.Status, snap.Installments); err != nil {
		return models.Snapshot{}, err
	}
	return snap, nil
}
