package models

import (
	"time"

	"github.com/google/uuid"
)

// MaxNotesLength bounds the free-text note attached to a payment.
const MaxNotesLength = 500

type Frequency string

const (
	FrequencyDaily  Frequency = "daily"
	FrequencyWeekly Frequency = "weekly"
)

// Valid reports whether f is one of the supported payment frequencies.
func (f Frequency) Valid() bool {
	return f == FrequencyDaily || f == FrequencyWeekly
}

type InstallmentStatus string

const (
	InstallmentPending InstallmentStatus = "PENDING"
	InstallmentOverdue InstallmentStatus = "OVERDUE"
	InstallmentPaid    InstallmentStatus = "PAID"
)

type LoanStatus string

const (
	LoanStatusActive  LoanStatus = "ACTIVO"
	LoanStatusArrears LoanStatus = "MORA"
	LoanStatusPaid    LoanStatus = "PAGADO"
)

type PaymentMethod string

const (
	MethodCash      PaymentMethod = "cash"
	MethodTransfer  PaymentMethod = "transfer"
	MethodNequi     PaymentMethod = "nequi"
	MethodDaviplata PaymentMethod = "daviplata"
	MethodBank      PaymentMethod = "bank"
)

// PaymentMethods is the closed set of accepted payment methods.
var PaymentMethods = []PaymentMethod{MethodCash, MethodTransfer, MethodNequi, MethodDaviplata, MethodBank}

// Valid reports whether m belongs to PaymentMethods.
func (m PaymentMethod) Valid() bool {
	for _, known := range PaymentMethods {
		if m == known {
			return true
		}
	}
	return false
}

type Loan struct {
	ID          uuid.UUID     `json:"id"`
	DebtorID    string        `json:"debtor_id"`
	DebtorEmail string        `json:"debtor_email,omitempty"` // Used for arrears reminders only
	CollectorID string        `json:"collector_id,omitempty"`
	Principal   int64         `json:"principal"`
	TotalDue    int64         `json:"total_due"` // Principal plus the fixed markup
	StartDate   time.Time     `json:"start_date"`
	Frequency   Frequency     `json:"frequency"`
	Status      LoanStatus    `json:"status"` // Cache of the last consolidation, never authoritative
	Schedule    []Installment `json:"schedule"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

type Installment struct {
	Number        int               `json:"number"`
	DueDate       time.Time         `json:"due_date"`
	Amount        int64             `json:"amount"`
	Status        InstallmentStatus `json:"status"`
	PenaltyAmount int64             `json:"penalty_amount"`
	DaysOverdue   int               `json:"days_overdue"`
	PaidDate      *time.Time        `json:"paid_date,omitempty"`
	PaidAmount    int64             `json:"paid_amount"` // Credit applied so far; equals Amount once PAID
}

// Outstanding is the part of the installment not yet covered by payments.
func (i Installment) Outstanding() int64 {
	if i.Status == InstallmentPaid {
		return 0
	}
	if i.PaidAmount >= i.Amount {
		return 0
	}
	return i.Amount - i.PaidAmount
}

type Payment struct {
	ID          uuid.UUID     `json:"id"`
	LoanID      uuid.UUID     `json:"loan_id"`
	Amount      int64         `json:"amount"`
	PaymentDate time.Time     `json:"payment_date"`
	Method      PaymentMethod `json:"method"`
	Notes       string        `json:"notes,omitempty"`
	CollectorID string        `json:"collector_id"`
	DebtorID    string        `json:"debtor_id"`
	CreatedAt   time.Time     `json:"created_at"`
}

type PenaltyType string

const (
	PenaltyWeeklyArrears    PenaltyType = "weekly_arrears"
	PenaltyDailyRun         PenaltyType = "daily_3day_arrears"
	PenaltyMonthlyIncidents PenaltyType = "monthly_3_incidents"
)

type PenaltyRecord struct {
	Type         PenaltyType `json:"type"`
	Installments []int       `json:"installments"` // Installment numbers the penalty attaches to
	Amount       int64       `json:"amount"`
	Description  string      `json:"description"`
}

// Cutoff describes the daily collection window around a reference instant.
// Collections close at 23:59:59 and amounts due on a date become collectible at 00:01.
type Cutoff struct {
	CalculationsAvailableAt time.Time `json:"calculations_available_at"`
	CollectionsCloseAt      time.Time `json:"collections_close_at"`
	CalculationsAvailable   bool      `json:"calculations_available"`
}

// Snapshot is the consolidated state of a loan at a reference instant.
// It is derived on demand and never stored as a source of truth.
type Snapshot struct {
	LoanID             uuid.UUID       `json:"loan_id"`
	ReferenceTime      time.Time       `json:"reference_time"`
	Frequency          Frequency       `json:"frequency"`
	StartDate          time.Time       `json:"start_date"`
	Status             LoanStatus      `json:"status"`
	TotalDue           int64           `json:"total_due"`
	TotalPaid          int64           `json:"total_paid"`
	Remaining          int64           `json:"remaining"`
	AmountDueNow       int64           `json:"amount_due_now"`
	OverdueAmount      int64           `json:"overdue_amount"`
	DueToday           int64           `json:"due_today"`
	DaysInArrears      int             `json:"days_in_arrears"`
	OverdueCount       int             `json:"overdue_count"`
	PendingCount       int             `json:"pending_count"`
	PaidCount          int             `json:"paid_count"`
	PercentComplete    int             `json:"percent_complete"`
	TotalPenalties     int64           `json:"total_penalties"`
	Penalties          []PenaltyRecord `json:"penalties"`
	IncidentsThisMonth int             `json:"incidents_this_month"`
	Installments       []Installment   `json:"installments"`
	NextInstallment    *Installment    `json:"next_installment,omitempty"`
	Cutoff             Cutoff          `json:"cutoff"`
}
