package dto

import (
	"credit-engine/internal/domain/loan"
	"fmt"

	"github.com/shopspring/decimal"
)

type LoanRequest struct {
	CustomerID   int64   `json:"customer_id"`
	LoanAmount   float64 `json:"loan_amount"`
	InterestRate float64 `json:"interest_rate"`
	Tenure       int     `json:"tenure"`
}

func (r *LoanRequest) Validate() error {
	if r.CustomerID <= 0 {
		return fmt.Errorf("customer_id must be positive")
	}
	if r.LoanAmount <= 0 {
		return fmt.Errorf("loan_amount must be greater than zero")
	}
	if r.InterestRate < 0 {
		return fmt.Errorf("interest_rate cannot be negative")
	}
	if r.Tenure <= 0 {
		return fmt.Errorf("tenure must be a positive number of months")
	}
	return nil
}

type EligibilityResponse struct {
	CustomerID            int64    `json:"customer_id"`
	Approval              bool     `json:"approval"`
	InterestRate          float64  `json:"interest_rate"`
	CorrectedInterestRate *float64 `json:"corrected_interest_rate"`
	Tenure                int      `json:"tenure"`
	MonthlyInstallment    *float64 `json:"monthly_installment"`
	Message               string   `json:"message,omitempty"`
}

func NewEligibilityResponse(d *loan.Decision) EligibilityResponse {
	return EligibilityResponse{
		CustomerID:            d.CustomerID,
		Approval:              d.Approved,
		InterestRate:          d.RequestedRate,
		CorrectedInterestRate: d.CorrectedRate,
		Tenure:                d.TenureMonths,
		MonthlyInstallment:    roundedInstallment(d.MonthlyInstallment),
		Message:               d.Message,
	}
}

type CreateLoanResponse struct {
	LoanID             *int64   `json:"loan_id"`
	CustomerID         int64    `json:"customer_id"`
	LoanApproved       bool     `json:"loan_approved"`
	Message            string   `json:"message"`
	MonthlyInstallment *float64 `json:"monthly_installment"`
}

func NewCreateLoanResponse(res *loan.IssuanceResult) CreateLoanResponse {
	return CreateLoanResponse{
		LoanID:             res.LoanID,
		CustomerID:         res.CustomerID,
		LoanApproved:       res.Approved,
		Message:            res.Message,
		MonthlyInstallment: roundedInstallment(res.MonthlyInstallment),
	}
}

type LoanDetailResponse struct {
	LoanID         int64            `json:"loan_id"`
	Customer       CustomerResponse `json:"customer"`
	LoanAmount     float64          `json:"loan_amount"`
	InterestRate   float64          `json:"interest_rate"`
	MonthlyPayment float64          `json:"monthly_payment"`
	Tenure         int              `json:"tenure"`
}

func NewLoanDetailResponse(detail *loan.LoanDetail) LoanDetailResponse {
	return LoanDetailResponse{
		LoanID:         detail.Loan.ID,
		Customer:       NewCustomerResponse(detail.Customer),
		LoanAmount:     detail.Loan.Amount,
		InterestRate:   detail.Loan.InterestRate,
		MonthlyPayment: detail.Loan.MonthlyPayment,
		Tenure:         detail.Loan.TenureMonths,
	}
}

type CustomerLoanResponse struct {
	LoanID         int64   `json:"loan_id"`
	LoanAmount     float64 `json:"loan_amount"`
	InterestRate   float64 `json:"interest_rate"`
	MonthlyPayment float64 `json:"monthly_payment"`
	RepaymentsLeft int     `json:"repayments_left"`
}

func NewCustomerLoanResponses(loans []loan.Loan) []CustomerLoanResponse {
	out := make([]CustomerLoanResponse, len(loans))
	for i, l := range loans {
		out[i] = CustomerLoanResponse{
			LoanID:         l.ID,
			LoanAmount:     l.Amount,
			InterestRate:   l.InterestRate,
			MonthlyPayment: l.MonthlyPayment,
			RepaymentsLeft: l.RepaymentsLeft(),
		}
	}
	return out
}

type ErrorDetail struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type TokenRequest struct {
	Username string `json:"username"`
}

func roundedInstallment(v *float64) *float64 {
	if v == nil {
		return nil
	}
	rounded := decimal.NewFromFloat(*v).Round(2).InexactFloat64()
	return &rounded
}
