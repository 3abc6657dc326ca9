package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/fredMicro/pkg/calendar"
	"github.com/mcclellann/fredMicro/pkg/models"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// SQLStore manages the database connection and operations for SQLite and PostgreSQL.
// Queries are written with '?' placeholders and rebound for PostgreSQL.
type SQLStore struct {
	db     *sql.DB
	driver string
}

// NewSQLStore opens the database behind driver and dataSourceName and initializes the schema.
func NewSQLStore(driver, dataSourceName string) (*SQLStore, error) {
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(driver, dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}

	if driver == DriverSQLite {
		// A single connection keeps the PRAGMAs in effect for every query.
		db.SetMaxOpenConns(1)
		// Manually enable foreign keys and WAL mode
		if _, err := db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
		}
		if _, err := db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}

	s := &SQLStore{db: db, driver: driver}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not initialize schema: %w", err)
	}
	return s, nil
}

// initSchema creates the tables if they don't already exist.
// Calendar dates are stored as ISO TEXT so both dialects read them back identically.
func (s *SQLStore) initSchema() error {
	ts := "DATETIME"
	if s.driver == DriverPostgres {
		ts = "TIMESTAMPTZ"
	}
	statements := []string{
		`CREATE TABLE IF NOT EXISTS loans (
			id TEXT PRIMARY KEY,
			debtor_id TEXT NOT NULL,
			debtor_email TEXT NOT NULL DEFAULT '',
			collector_id TEXT NOT NULL DEFAULT '',
			principal BIGINT NOT NULL,
			total_due BIGINT NOT NULL,
			start_date TEXT NOT NULL,
			frequency TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at ` + ts + ` NOT NULL,
			updated_at ` + ts + ` NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS installments (
			loan_id TEXT NOT NULL REFERENCES loans(id),
			number INTEGER NOT NULL,
			due_date TEXT NOT NULL,
			amount BIGINT NOT NULL,
			status TEXT NOT NULL,
			penalty_amount BIGINT NOT NULL DEFAULT 0,
			days_overdue INTEGER NOT NULL DEFAULT 0,
			paid_date TEXT,
			paid_amount BIGINT NOT NULL DEFAULT 0,
			PRIMARY KEY (loan_id, number)
		)`,
		`CREATE TABLE IF NOT EXISTS payments (
			id TEXT PRIMARY KEY,
			loan_id TEXT NOT NULL REFERENCES loans(id),
			amount BIGINT NOT NULL,
			payment_date TEXT NOT NULL,
			method TEXT NOT NULL,
			notes TEXT NOT NULL DEFAULT '',
			collector_id TEXT NOT NULL,
			debtor_id TEXT NOT NULL DEFAULT '',
			created_at ` + ts + ` NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_payments_loan ON payments (loan_id, payment_date)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// rebind rewrites '?' placeholders as $1..$n for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func formatDate(t time.Time) string {
	return calendar.Day(t).Format(calendar.DateLayout)
}

func parseDate(s string) (time.Time, error) {
	t, err := calendar.ParseDate(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid stored date %q: %w", s, err)
	}
	return t, nil
}

// CreateLoan inserts a loan and its schedule within a transaction.
func (s *SQLStore) CreateLoan(ctx context.Context, loan *models.Loan) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, s.rebind(
		`INSERT INTO loans (id, debtor_id, debtor_email, collector_id, principal, total_due, start_date, frequency, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		loan.ID.String(), loan.DebtorID, loan.DebtorEmail, loan.CollectorID, loan.Principal, loan.TotalDue,
		formatDate(loan.StartDate), string(loan.Frequency), string(loan.Status), loan.CreatedAt, loan.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create loan: %w", err)
	}

	if err := s.insertInstallments(ctx, tx, loan.ID, loan.Schedule); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLStore) insertInstallments(ctx context.Context, tx *sql.Tx, loanID uuid.UUID, schedule []models.Installment) error {
	query := s.rebind(`INSERT INTO installments (loan_id, number, due_date, amount, status, penalty_amount, days_overdue, paid_date, paid_amount)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	for _, inst := range schedule {
		var paid sql.NullString
		if inst.PaidDate != nil {
			paid = sql.NullString{String: formatDate(*inst.PaidDate), Valid: true}
		}
		_, err := tx.ExecContext(ctx, query,
			loanID.String(), inst.Number, formatDate(inst.DueDate), inst.Amount, string(inst.Status),
			inst.PenaltyAmount, inst.DaysOverdue, paid, inst.PaidAmount,
		)
		if err != nil {
			return fmt.Errorf("failed to store installment %d: %w", inst.Number, err)
		}
	}
	return nil
}

const loanColumns = `id, debtor_id, debtor_email, collector_id, principal, total_due, start_date, frequency, status, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLoan(row rowScanner) (*models.Loan, error) {
	var loan models.Loan
	var idStr, startStr, freq, status string
	if err := row.Scan(&idStr, &loan.DebtorID, &loan.DebtorEmail, &loan.CollectorID, &loan.Principal, &loan.TotalDue,
		&startStr, &freq, &status, &loan.CreatedAt, &loan.UpdatedAt); err != nil {
		return nil, err
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("invalid stored loan id %q: %w", idStr, err)
	}
	start, err := parseDate(startStr)
	if err != nil {
		return nil, err
	}
	loan.ID = id
	loan.StartDate = start
	loan.Frequency = models.Frequency(freq)
	loan.Status = models.LoanStatus(status)
	return &loan, nil
}

// GetLoan retrieves a loan and its schedule by ID.
func (s *SQLStore) GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+loanColumns+` FROM loans WHERE id = ?`), id.String())
	loan, err := scanLoan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrLoanNotFound
		}
		return nil, fmt.Errorf("failed to get loan: %w", err)
	}
	if loan.Schedule, err = s.loadSchedule(ctx, loan.ID); err != nil {
		return nil, err
	}
	return loan, nil
}

// GetAllLoans retrieves all loans.
func (s *SQLStore) GetAllLoans(ctx context.Context) ([]*models.Loan, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+loanColumns+` FROM loans ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to get all loans: %w", err)
	}
	return s.scanLoans(ctx, rows)
}

// GetAllActiveLoans retrieves every loan whose cached status is not paid.
func (s *SQLStore) GetAllActiveLoans(ctx context.Context) ([]*models.Loan, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT `+loanColumns+` FROM loans WHERE status <> ? ORDER BY created_at ASC`), string(models.LoanStatusPaid))
	if err != nil {
		return nil, fmt.Errorf("failed to get all active loans: %w", err)
	}
	return s.scanLoans(ctx, rows)
}

func (s *SQLStore) scanLoans(ctx context.Context, rows *sql.Rows) ([]*models.Loan, error) {
	var loans []*models.Loan
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan loan row: %w", err)
		}
		loans = append(loans, loan)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	// Closed before loading schedules: SQLite runs on a single connection.
	rows.Close()

	for _, loan := range loans {
		schedule, err := s.loadSchedule(ctx, loan.ID)
		if err != nil {
			return nil, err
		}
		loan.Schedule = schedule
	}
	return loans, nil
}

func (s *SQLStore) loadSchedule(ctx context.Context, loanID uuid.UUID) ([]models.Installment, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT number, due_date, amount, status, penalty_amount, days_overdue, paid_date, paid_amount
		FROM installments WHERE loan_id = ? ORDER BY number ASC`), loanID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get schedule for loan %s: %w", loanID, err)
	}
	defer rows.Close()

	var schedule []models.Installment
	for rows.Next() {
		var inst models.Installment
		var dueStr, status string
		var paid sql.NullString
		if err := rows.Scan(&inst.Number, &dueStr, &inst.Amount, &status, &inst.PenaltyAmount, &inst.DaysOverdue, &paid, &inst.PaidAmount); err != nil {
			return nil, fmt.Errorf("failed to scan installment row: %w", err)
		}
		if inst.DueDate, err = parseDate(dueStr); err != nil {
			return nil, err
		}
		if paid.Valid {
			d, err := parseDate(paid.String)
			if err != nil {
				return nil, err
			}
			inst.PaidDate = &d
		}
		inst.Status = models.InstallmentStatus(status)
		schedule = append(schedule, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for loan schedule: %w", err)
	}
	return schedule, nil
}

// UpdateLoanState caches the derived status and installment projection of a loan.
func (s *SQLStore) UpdateLoanState(ctx context.Context, id uuid.UUID, status models.LoanStatus, schedule []models.Installment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, s.rebind(`UPDATE loans SET status = ?, updated_at = ? WHERE id = ?`),
		string(status), time.Now().UTC(), id.String())
	if err != nil {
		return fmt.Errorf("failed to update loan: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrLoanNotFound
	}

	query := s.rebind(`UPDATE installments SET status = ?, penalty_amount = ?, days_overdue = ?, paid_date = ?, paid_amount = ?
		WHERE loan_id = ? AND number = ?`)
	for _, inst := range schedule {
		var paid sql.NullString
		if inst.PaidDate != nil {
			paid = sql.NullString{String: formatDate(*inst.PaidDate), Valid: true}
		}
		if _, err := tx.ExecContext(ctx, query, string(inst.Status), inst.PenaltyAmount, inst.DaysOverdue, paid, inst.PaidAmount,
			id.String(), inst.Number); err != nil {
			return fmt.Errorf("failed to update installment %d: %w", inst.Number, err)
		}
	}
	return tx.Commit()
}

// DeleteLoan removes a loan with its schedule and payments within a transaction.
func (s *SQLStore) DeleteLoan(ctx context.Context, id uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM payments WHERE loan_id = ?`), id.String()); err != nil {
		return fmt.Errorf("failed to delete associated payments: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM installments WHERE loan_id = ?`), id.String()); err != nil {
		return fmt.Errorf("failed to delete associated installments: %w", err)
	}

	result, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM loans WHERE id = ?`), id.String())
	if err != nil {
		return fmt.Errorf("failed to delete loan: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrLoanNotFound
	}

	return tx.Commit()
}

// CreatePayment appends a payment to the history of its loan.
func (s *SQLStore) CreatePayment(ctx context.Context, p *models.Payment) error {
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO payments (id, loan_id, amount, payment_date, method, notes, collector_id, debtor_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		p.ID.String(), p.LoanID.String(), p.Amount, formatDate(p.PaymentDate), string(p.Method), p.Notes,
		p.CollectorID, p.DebtorID, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

// GetPaymentsForLoan retrieves the payment history of a loan, oldest first.
func (s *SQLStore) GetPaymentsForLoan(ctx context.Context, loanID uuid.UUID) ([]models.Payment, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT id, loan_id, amount, payment_date, method, notes, collector_id, debtor_id, created_at
		FROM payments WHERE loan_id = ? ORDER BY payment_date ASC, created_at ASC`), loanID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get payments for loan %s: %w", loanID, err)
	}
	defer rows.Close()

	var payments []models.Payment
	for rows.Next() {
		var p models.Payment
		var idStr, loanIDStr, dateStr, method string
		if err := rows.Scan(&idStr, &loanIDStr, &p.Amount, &dateStr, &method, &p.Notes, &p.CollectorID, &p.DebtorID, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan payment row: %w", err)
		}
		if p.ID, err = uuid.Parse(idStr); err != nil {
			return nil, fmt.Errorf("invalid stored payment id %q: %w", idStr, err)
		}
		if p.LoanID, err = uuid.Parse(loanIDStr); err != nil {
			return nil, fmt.Errorf("invalid stored loan id %q: %w", loanIDStr, err)
		}
		if p.PaymentDate, err = parseDate(dateStr); err != nil {
			return nil, err
		}
		p.Method = models.PaymentMethod(method)
		payments = append(payments, p)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for loan payments: %w", err)
	}
	return payments, nil
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
