package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/mcclellann/fredMicro/pkg/models"
)

// ErrLoanNotFound is returned when no loan matches the requested ID.
var ErrLoanNotFound = errors.New("loan not found")

// Storage defines the interface for database operations related to loans and payments.
// Payments are append-only; loan status and installment state are a cache of the
// last consolidation and are only written through UpdateLoanState.
type Storage interface {
	CreateLoan(ctx context.Context, loan *models.Loan) error
	GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error)
	GetAllLoans(ctx context.Context) ([]*models.Loan, error)
	GetAllActiveLoans(ctx context.Context) ([]*models.Loan, error)
	UpdateLoanState(ctx context.Context, id uuid.UUID, status models.LoanStatus, schedule []models.Installment) error
	DeleteLoan(ctx context.Context, id uuid.UUID) error

	CreatePayment(ctx context.Context, payment *models.Payment) error
	GetPaymentsForLoan(ctx context.Context, loanID uuid.UUID) ([]models.Payment, error)

	Close() error
}
