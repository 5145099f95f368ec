package loan

import (
	"credit-engine/internal/pkg/apperrors"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

type Money = float64

type Loan struct {
	ID             int64
	CustomerID     int64
	Amount         Money
	TenureMonths   int
	InterestRate   Money
	MonthlyPayment Money
	EMIsPaidOnTime int
	StartDate      time.Time
	EndDate        time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Active reports whether the loan still has repayments due as of the given day.
func (l *Loan) Active(today time.Time) bool {
	return !l.EndDate.Before(truncateToDay(today))
}

func (l *Loan) RepaymentsLeft() int {
	left := l.TenureMonths - l.EMIsPaidOnTime
	if left < 0 {
		return 0
	}
	return left
}

func NewLoan(customerID int64, amount Money, annualInterestRate Money, tenureMonths int, monthlyPayment Money, startDate time.Time) (*Loan, error) {
	if customerID <= 0 {
		return nil, fmt.Errorf("%w: customer ID must be positive", apperrors.ErrInvalidArgument)
	}
	if amount <= 0 {
		return nil, apperrors.NewValidationError("loan_amount", "loan amount must be positive")
	}
	if tenureMonths <= 0 {
		return nil, apperrors.NewValidationError("tenure", "tenure must be a positive number of months")
	}
	if annualInterestRate < 0 {
		return nil, apperrors.NewValidationError("interest_rate", "interest rate cannot be negative")
	}
	if startDate.IsZero() {
		startDate = truncateToDay(time.Now())
	}

	return &Loan{
		CustomerID:     customerID,
		Amount:         amount,
		TenureMonths:   tenureMonths,
		InterestRate:   annualInterestRate,
		MonthlyPayment: monthlyPayment,
		EMIsPaidOnTime: 0,
		StartDate:      startDate,
		EndDate:        startDate.AddDate(0, tenureMonths, 0),
	}, nil
}

// MonthlyInstallment computes the fixed annuity payment for a loan of the
// given principal at an annual percentage rate over tenureMonths. A zero
// rate, and the degenerate case where (1+r)^n collapses to 1, both reduce
// to a straight division of the principal.
func MonthlyInstallment(principal Money, annualRatePercent Money, tenureMonths int) (Money, error) {
	if tenureMonths <= 0 {
		return 0, apperrors.NewValidationError("tenure", "tenure must be a positive number of months")
	}
	if principal <= 0 {
		return 0, apperrors.NewValidationError("loan_amount", "loan amount must be positive")
	}
	if annualRatePercent < 0 {
		return 0, apperrors.NewValidationError("interest_rate", "interest rate cannot be negative")
	}

	n := float64(tenureMonths)
	if annualRatePercent == 0 {
		return roundMoney(principal / n), nil
	}

	r := (annualRatePercent / 100) / 12
	growth := math.Pow(1+r, n)
	if growth == 1 {
		return roundMoney(principal / n), nil
	}

	emi := principal * r * growth / (growth - 1)
	return roundMoney(emi), nil
}

func roundMoney(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
