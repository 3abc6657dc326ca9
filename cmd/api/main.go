package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/mcclellann/fredMicro/pkg/calendar"
	"github.com/mcclellann/fredMicro/pkg/config"
	"github.com/mcclellann/fredMicro/pkg/ledger"
	"github.com/mcclellann/fredMicro/pkg/models"
	"github.com/mcclellann/fredMicro/pkg/notify"
	"github.com/mcclellann/fredMicro/pkg/payment"
	"github.com/mcclellann/fredMicro/pkg/store"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Server holds the ledger instance.
type Server struct {
	ledger    *ledger.Ledger
	storage   store.Storage // Keep a reference to the storage to close it
	logger    *logrus.Logger
	location  *time.Location
	jwtSecret string
	now       func() time.Time
}

func NewServer(s store.Storage, l *ledger.Ledger, cfg *config.Config, logger *logrus.Logger) *Server {
	loc := cfg.Location
	return &Server{
		ledger:    l,
		storage:   s,
		logger:    logger,
		location:  loc,
		jwtSecret: cfg.JWTSecret,
		now:       func() time.Time { return time.Now().In(loc) },
	}
}

// Router builds the HTTP routes. Calendar lookups stay public; loan routes
// require a bearer token when a JWT secret is configured.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(s.loggingMiddleware)

	router.HandleFunc("/calendar/holidays/{year:[0-9]{4}}", s.holidaysHandler).Methods("GET")
	router.HandleFunc("/calendar/next-business-day", s.nextBusinessDayHandler).Methods("GET")

	loans := router.PathPrefix("/loans").Subrouter()
	loans.Use(s.authMiddleware)
	loans.HandleFunc("", s.listLoansHandler).Methods("GET")
	loans.HandleFunc("", s.createLoanHandler).Methods("POST")
	loans.HandleFunc("/{id}", s.getLoanHandler).Methods("GET")
	loans.HandleFunc("/{id}", s.deleteLoanHandler).Methods("DELETE")
	loans.HandleFunc("/{id}/snapshot", s.snapshotHandler).Methods("GET")
	loans.HandleFunc("/{id}/payments", s.listPaymentsHandler).Methods("GET")
	loans.HandleFunc("/{id}/payments", s.recordPaymentHandler).Methods("POST")
	loans.HandleFunc("/{id}/payments/preview", s.previewPaymentHandler).Methods("POST")
	return router
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) writeLedgerError(w http.ResponseWriter, err error) {
	var rejected *ledger.PaymentRejectedError
	switch {
	case errors.Is(err, store.ErrLoanNotFound):
		http.Error(w, "Loan not found", http.StatusNotFound)
	case errors.Is(err, ledger.ErrInvalidLoan):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.As(err, &rejected):
		writeJSON(w, http.StatusUnprocessableEntity, rejected.Validation)
	default:
		s.logger.WithError(err).Error("Request failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func loanIDFromRequest(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	loanID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "Invalid loan ID", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return loanID, true
}

func (s *Server) createLoanHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DebtorID    string           `json:"debtor_id"`
		DebtorEmail string           `json:"debtor_email"`
		CollectorID string           `json:"collector_id"`
		Principal   int64            `json:"principal"`
		StartDate   string           `json:"start_date"` // YYYY-MM-DD, defaults to today
		Frequency   models.Frequency `json:"frequency"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	start := calendar.Day(s.now())
	if req.StartDate != "" {
		d, err := calendar.ParseDate(req.StartDate)
		if err != nil {
			http.Error(w, "Invalid start_date, expected YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		start = d
	}
	if id := collectorFromContext(r.Context()); id != "" {
		req.CollectorID = id
	}

	loan, err := s.ledger.CreateLoan(r.Context(), ledger.LoanRequest{
		DebtorID:    req.DebtorID,
		DebtorEmail: req.DebtorEmail,
		CollectorID: req.CollectorID,
		Principal:   req.Principal,
		StartDate:   start,
		Frequency:   req.Frequency,
	})
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, loan)
}

func (s *Server) getLoanHandler(w http.ResponseWriter, r *http.Request) {
	loanID, ok := loanIDFromRequest(w, r)
	if !ok {
		return
	}

	loan, err := s.ledger.GetLoan(r.Context(), loanID)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, loan)
}

func (s *Server) listLoansHandler(w http.ResponseWriter, r *http.Request) {
	loans, err := s.ledger.GetAllLoans(r.Context())
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	if loans == nil {
		loans = []*models.Loan{}
	}

	writeJSON(w, http.StatusOK, loans)
}

func (s *Server) deleteLoanHandler(w http.ResponseWriter, r *http.Request) {
	loanID, ok := loanIDFromRequest(w, r)
	if !ok {
		return
	}

	if err := s.ledger.DeleteLoan(r.Context(), loanID); err != nil {
		s.writeLedgerError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) snapshotHandler(w http.ResponseWriter, r *http.Request) {
	loanID, ok := loanIDFromRequest(w, r)
	if !ok {
		return
	}

	at := s.now()
	if raw := r.URL.Query().Get("at"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, "Invalid at, expected RFC3339", http.StatusBadRequest)
			return
		}
		at = t.In(s.location)
	}

	snap, err := s.ledger.Snapshot(r.Context(), loanID, at)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) listPaymentsHandler(w http.ResponseWriter, r *http.Request) {
	loanID, ok := loanIDFromRequest(w, r)
	if !ok {
		return
	}

	payments, err := s.ledger.ListPayments(r.Context(), loanID)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	if payments == nil {
		payments = []models.Payment{}
	}

	writeJSON(w, http.StatusOK, payments)
}

// decodePayment reads a payment request. The loan defaults to the URL and the
// authenticated caller always wins over a collector named in the body.
func (s *Server) decodePayment(w http.ResponseWriter, r *http.Request) (uuid.UUID, payment.Request, bool) {
	loanID, ok := loanIDFromRequest(w, r)
	if !ok {
		return uuid.Nil, payment.Request{}, false
	}

	var req payment.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return uuid.Nil, payment.Request{}, false
	}
	if req.LoanID == uuid.Nil {
		req.LoanID = loanID
	}
	if id := collectorFromContext(r.Context()); id != "" {
		req.CollectorID = id
	}
	return loanID, req, true
}

func (s *Server) recordPaymentHandler(w http.ResponseWriter, r *http.Request) {
	loanID, req, ok := s.decodePayment(w, r)
	if !ok {
		return
	}

	receipt, err := s.ledger.RecordPayment(r.Context(), loanID, req, s.now())
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, receipt)
}

func (s *Server) previewPaymentHandler(w http.ResponseWriter, r *http.Request) {
	loanID, req, ok := s.decodePayment(w, r)
	if !ok {
		return
	}

	receipt, err := s.ledger.PreviewPayment(r.Context(), loanID, req, s.now())
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, receipt)
}

func (s *Server) holidaysHandler(w http.ResponseWriter, r *http.Request) {
	year, err := strconv.Atoi(mux.Vars(r)["year"])
	if err != nil {
		http.Error(w, "Invalid year", http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, s.ledger.Calendar().Holidays(year))
}

func (s *Server) nextBusinessDayHandler(w http.ResponseWriter, r *http.Request) {
	from := calendar.Day(s.now())
	if raw := r.URL.Query().Get("date"); raw != "" {
		d, err := calendar.ParseDate(raw)
		if err != nil {
			http.Error(w, "Invalid date, expected YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		from = d
	}

	next := s.ledger.Calendar().NextBusinessDay(from)
	writeJSON(w, http.StatusOK, map[string]string{
		"date":              from.Format(calendar.DateLayout),
		"next_business_day": next.Format(calendar.DateLayout),
	})
}

// scheduleRefresh registers the nightly consolidation of active loans.
func (s *Server) scheduleRefresh(c *cron.Cron, spec string) error {
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		s.logger.Info("Running active loan refresh...")
		if _, err := s.ledger.RefreshActiveLoans(ctx, s.now()); err != nil {
			s.logger.WithError(err).Error("Active loan refresh failed")
		}
	})
	return err
}

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	logger.SetLevel(cfg.LogLevel)

	// Initialize store
	sqlStore, err := store.NewSQLStore(cfg.DBDriver, cfg.DBConn)
	if err != nil {
		logger.Fatalf("Failed to initialize %s store: %v", cfg.DBDriver, err)
	}
	defer sqlStore.Close()

	var notifier notify.Notifier = notify.Nop{}
	if cfg.MailEnabled() {
		notifier = notify.NewEmailNotifier(notify.SMTPSettings{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SenderEmail,
		}, logger)
	}

	l := ledger.NewLedger(sqlStore, logger,
		ledger.WithPenaltyRules(cfg.PenaltyRules()),
		ledger.WithNotifier(notifier),
	)
	server := NewServer(sqlStore, l, cfg, logger)
	if cfg.JWTSecret == "" {
		logger.Warn("JWT_SECRET is empty, loan routes are unauthenticated")
	}

	c := cron.New(cron.WithLocation(cfg.Location))
	if err := server.scheduleRefresh(c, cfg.RefreshSchedule); err != nil {
		logger.Fatalf("Failed to schedule refresh job: %v", err)
	}
	c.Start()
	defer c.Stop()

	addr := fmt.Sprintf(":%s", cfg.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      server.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Infof("Starting server on %s", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Graceful shutdown failed: %v", err)
	}
}
