package loan

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

type Repository interface {
	CreateLoan(ctx context.Context, newLoan *Loan) (*Loan, error)

	GetLoanByID(ctx context.Context, loanID int64) (*Loan, error)

	ListByCustomer(ctx context.Context, customerID int64) ([]Loan, error)

	// ActiveMonthlyPaymentSum returns the sum of monthly payments across the
	// customer's loans whose end date falls on or after asOf.
	ActiveMonthlyPaymentSum(ctx context.Context, customerID int64, asOf time.Time) (Money, error)

	InsertWithIDInTx(ctx context.Context, tx pgx.Tx, l *Loan) (inserted bool, err error)

	BeginTx(ctx context.Context) (pgx.Tx, error)

	CommitTx(ctx context.Context, tx pgx.Tx) error

	RollbackTx(ctx context.Context, tx pgx.Tx) error
}
