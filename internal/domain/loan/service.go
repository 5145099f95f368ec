package loan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"credit-engine/internal/domain/customer"
	"credit-engine/internal/event"
	"credit-engine/internal/infrastructure/monitoring"
	"credit-engine/internal/pkg/apperrors"
)

// Score tiers of the eligibility policy. Scores at or below a tier bound
// require the requested rate to clear that tier's floor; the floor replaces
// the requested rate for installment math.
const (
	scoreTierPrime = 50
	scoreTierMid   = 30
	scoreTierFloor = 10

	midTierRate = 12.0
	lowTierRate = 16.0
)

const (
	msgHighDebtBurden = "High debt burden: EMIs exceed 50% of salary."
	msgLoanApproved   = "Loan Approved"
	msgLoanRejected   = "Loan not approved based on eligibility check."
)

// Decision is the outcome of an eligibility check. CorrectedRate is an
// advisory value surfaced only when it differs from the requested rate;
// RateUsed is what installment math and issuance actually apply.
type Decision struct {
	CustomerID         int64
	Approved           bool
	RequestedRate      Money
	CorrectedRate      *Money
	RateUsed           Money
	TenureMonths       int
	MonthlyInstallment *Money
	Score              int
	Message            string
}

type IssuanceResult struct {
	LoanID             *int64
	CustomerID         int64
	Approved           bool
	Message            string
	MonthlyInstallment *Money
}

// LoanDetail joins a loan with its owning customer for the detail view.
type LoanDetail struct {
	Loan     *Loan
	Customer *customer.Customer
}

type LoanService interface {
	CheckEligibility(ctx context.Context, customerID int64, amount Money, interestRate Money, tenureMonths int) (*Decision, error)

	CreateLoan(ctx context.Context, customerID int64, amount Money, interestRate Money, tenureMonths int) (*IssuanceResult, error)

	GetLoan(ctx context.Context, loanID int64) (*LoanDetail, error)

	ListCustomerLoans(ctx context.Context, customerID int64) ([]Loan, error)
}

type loanServiceImpl struct {
	repo            Repository
	customerService customer.CustomerService
	scoring         *ScoringEngine
	cache           ScoreCache
	pub             event.EventPublisher
	logger          *slog.Logger
	now             func() time.Time
}

func NewLoanService(r Repository, cs customer.CustomerService, scoring *ScoringEngine, cache ScoreCache, pub event.EventPublisher, logger *slog.Logger) LoanService {
	if r == nil || cs == nil || scoring == nil {
		panic("loan service dependencies cannot be nil")
	}
	if pub == nil {
		pub = event.NewNoopEventPublisher(logger)
	}
	return &loanServiceImpl{
		repo:            r,
		customerService: cs,
		scoring:         scoring,
		cache:           cache,
		pub:             pub,
		logger:          logger.With("component", "loanService"),
		now:             time.Now,
	}
}

func (s *loanServiceImpl) CheckEligibility(ctx context.Context, customerID int64, amount Money, interestRate Money, tenureMonths int) (*Decision, error) {
	s.logger.InfoContext(ctx, "Checking loan eligibility", slog.Int64("customerID", customerID),
		slog.Float64("amount", amount), slog.Float64("interestRate", interestRate), slog.Int("tenureMonths", tenureMonths))

	if amount <= 0 {
		return nil, apperrors.NewValidationError("loan_amount", "loan amount must be positive")
	}
	if tenureMonths <= 0 {
		return nil, apperrors.NewValidationError("tenure", "tenure must be a positive number of months")
	}
	if interestRate < 0 {
		return nil, apperrors.NewValidationError("interest_rate", "interest rate cannot be negative")
	}

	cust, err := s.customerService.GetCustomer(ctx, customerID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) || errors.Is(err, customer.ErrNotFound) {
			s.logger.WarnContext(ctx, "Customer not found for eligibility check", slog.Int64("customerID", customerID))
			return nil, fmt.Errorf("%w: customer with ID %d not found", apperrors.ErrNotFound, customerID)
		}
		s.logger.ErrorContext(ctx, "Failed to get customer for eligibility check", slog.Any("error", err))
		return nil, fmt.Errorf("failed to verify customer: %w", err)
	}

	activeEMIs, err := s.repo.ActiveMonthlyPaymentSum(ctx, customerID, truncateToDay(s.now()))
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to sum active monthly payments", slog.Any("error", err))
		return nil, fmt.Errorf("%w: failed to compute debt burden for customer %d: %v", apperrors.ErrInternalServer, customerID, err)
	}

	if activeEMIs > cust.MonthlySalary/2 {
		s.logger.InfoContext(ctx, "Rejecting due to high debt burden",
			slog.Float64("activeEMIs", activeEMIs), slog.Float64("monthlySalary", cust.MonthlySalary))
		monitoring.RecordEligibilityCheck("high_debt_burden")
		return &Decision{
			CustomerID:    customerID,
			Approved:      false,
			RequestedRate: interestRate,
			RateUsed:      interestRate,
			TenureMonths:  tenureMonths,
			Message:       msgHighDebtBurden,
		}, nil
	}

	score, err := s.scoring.Score(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to score customer %d: %v", apperrors.ErrInternalServer, customerID, err)
	}

	decision := applyRatePolicy(customerID, score, interestRate, tenureMonths)

	installment, err := MonthlyInstallment(amount, decision.RateUsed, tenureMonths)
	if err != nil {
		return nil, err
	}
	decision.MonthlyInstallment = &installment

	outcome := "rejected"
	if decision.Approved {
		outcome = "approved"
	}
	monitoring.RecordEligibilityCheck(outcome)
	s.logger.InfoContext(ctx, "Eligibility decision made", slog.Int64("customerID", customerID),
		slog.Int("score", score), slog.Bool("approved", decision.Approved), slog.Float64("rateUsed", decision.RateUsed))

	return decision, nil
}

// applyRatePolicy folds the credit score and the requested rate into the
// tiered approval rule. The tier floor replaces the requested rate for
// installment math whenever a tier rule fires; the advisory corrected rate
// is surfaced only on a rejection where the floor exceeds the request.
func applyRatePolicy(customerID int64, score int, requestedRate Money, tenureMonths int) *Decision {
	approved := false
	corrected := requestedRate
	rateUsed := requestedRate

	switch {
	case score > scoreTierPrime:
		approved = true
	case score > scoreTierMid:
		approved = requestedRate > midTierRate
		corrected = midTierRate
		rateUsed = midTierRate
	case score > scoreTierFloor:
		approved = requestedRate > lowTierRate
		corrected = lowTierRate
		rateUsed = lowTierRate
	}

	advisory := requestedRate
	if !approved && corrected > requestedRate {
		advisory = corrected
	}

	decision := &Decision{
		CustomerID:    customerID,
		Approved:      approved,
		RequestedRate: requestedRate,
		RateUsed:      rateUsed,
		TenureMonths:  tenureMonths,
		Score:         score,
	}
	if advisory != requestedRate {
		decision.CorrectedRate = &advisory
	}
	return decision
}

func (s *loanServiceImpl) CreateLoan(ctx context.Context, customerID int64, amount Money, interestRate Money, tenureMonths int) (*IssuanceResult, error) {
	s.logger.InfoContext(ctx, "Creating new loan", slog.Int64("customerID", customerID))

	decision, err := s.CheckEligibility(ctx, customerID, amount, interestRate, tenureMonths)
	if err != nil {
		return nil, err
	}

	if !decision.Approved {
		s.logger.InfoContext(ctx, "Loan request rejected by eligibility decision", slog.Int64("customerID", customerID), slog.String("reason", decision.Message))
		return &IssuanceResult{
			CustomerID: customerID,
			Approved:   false,
			Message:    msgLoanRejected,
		}, nil
	}

	// The debt-burden and score checks above and the insert below are not
	// executed under one serializable transaction; two concurrent issuances
	// for the same customer can both pass the checks before either commits.
	startDate := truncateToDay(s.now())
	newLoan, err := NewLoan(customerID, amount, decision.RateUsed, tenureMonths, *decision.MonthlyInstallment, startDate)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to build loan object", slog.Any("error", err))
		return nil, err
	}

	created, err := s.repo.CreateLoan(ctx, newLoan)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to persist loan", slog.Any("error", err))
		return nil, fmt.Errorf("%w: failed to save loan: %v", apperrors.ErrInternalServer, err)
	}

	if s.cache != nil {
		if cacheErr := s.cache.InvalidateScore(ctx, customerID); cacheErr != nil {
			s.logger.WarnContext(ctx, "Failed to invalidate cached credit score", slog.Any("error", cacheErr))
		}
	}

	issuedEvent := event.LoanIssuedEvent{
		Timestamp:      time.Now(),
		LoanID:         created.ID,
		CustomerID:     created.CustomerID,
		Amount:         created.Amount,
		InterestRate:   created.InterestRate,
		TenureMonths:   created.TenureMonths,
		MonthlyPayment: created.MonthlyPayment,
	}
	if pubErr := s.pub.PublishLoanIssued(ctx, issuedEvent); pubErr != nil {
		s.logger.ErrorContext(ctx, "Loan issued, but FAILED to publish issuance event", slog.Any("error", pubErr))
	}

	monitoring.RecordLoanIssued()
	s.logger.InfoContext(ctx, "Loan created successfully", slog.Int64("loanID", created.ID), slog.Int64("customerID", customerID))

	return &IssuanceResult{
		LoanID:             &created.ID,
		CustomerID:         customerID,
		Approved:           true,
		Message:            msgLoanApproved,
		MonthlyInstallment: decision.MonthlyInstallment,
	}, nil
}

func (s *loanServiceImpl) GetLoan(ctx context.Context, loanID int64) (*LoanDetail, error) {
	s.logger.InfoContext(ctx, "Getting loan details", slog.Int64("loanID", loanID))

	l, err := s.repo.GetLoanByID(ctx, loanID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			s.logger.WarnContext(ctx, "Loan not found", slog.Int64("loanID", loanID))
			return nil, fmt.Errorf("%w: loan with ID %d not found", apperrors.ErrNotFound, loanID)
		}
		s.logger.ErrorContext(ctx, "Failed to get loan", slog.Any("error", err))
		return nil, fmt.Errorf("%w: failed to get loan %d: %v", apperrors.ErrInternalServer, loanID, err)
	}

	cust, err := s.customerService.GetCustomer(ctx, l.CustomerID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to get customer for loan detail", slog.Int64("customerID", l.CustomerID), slog.Any("error", err))
		return nil, fmt.Errorf("failed to load customer %d for loan %d: %w", l.CustomerID, loanID, err)
	}

	return &LoanDetail{Loan: l, Customer: cust}, nil
}

func (s *loanServiceImpl) ListCustomerLoans(ctx context.Context, customerID int64) ([]Loan, error) {
	s.logger.InfoContext(ctx, "Listing loans for customer", slog.Int64("customerID", customerID))

	if _, err := s.customerService.GetCustomer(ctx, customerID); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) || errors.Is(err, customer.ErrNotFound) {
			return nil, fmt.Errorf("%w: customer with ID %d not found", apperrors.ErrNotFound, customerID)
		}
		return nil, fmt.Errorf("failed to verify customer %d: %w", customerID, err)
	}

	loans, err := s.repo.ListByCustomer(ctx, customerID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to list loans", slog.Any("error", err))
		return nil, fmt.Errorf("%w: failed to list loans for customer %d: %v", apperrors.ErrInternalServer, customerID, err)
	}

	return loans, nil
}
