package postgres

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"regexp"
	"testing"
	"time"

	"credit-engine/internal/domain/loan"
	"credit-engine/internal/pkg/apperrors"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
)

var logger = slog.New(slog.NewTextHandler(os.Stdout, nil))

const pgxmockExpectationsNotMetMsg = "pgxmock expectations were not met"

var loanTestStart = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func testLoan() *loan.Loan {
	return &loan.Loan{
		CustomerID:     1,
		Amount:         200_000,
		TenureMonths:   12,
		InterestRate:   12.0,
		MonthlyPayment: 17_769.76,
		EMIsPaidOnTime: 0,
		StartDate:      loanTestStart,
		EndDate:        loanTestStart.AddDate(0, 12, 0),
	}
}

func loanRows(l *loan.Loan, id int64) *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "customer_id", "amount", "tenure_months", "interest_rate",
		"monthly_payment", "emis_paid_on_time", "start_date", "end_date",
		"created_at", "updated_at",
	}).AddRow(id, l.CustomerID, l.Amount, l.TenureMonths, l.InterestRate,
		l.MonthlyPayment, l.EMIsPaidOnTime, l.StartDate, l.EndDate,
		time.Now(), time.Now())
}

func setupLoanRepo(t *testing.T) (context.Context, *LoanRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to open a stub database connection: %v", err)
	}

	ctx := context.Background()
	repo := NewLoanRepository(mockPool, logger)

	return ctx, repo, mockPool
}

func TestCreateLoanWhenSuccess(t *testing.T) {
	ctx, repo, mockPool := setupLoanRepo(t)
	defer mockPool.Close()

	l := testLoan()
	mockPool.ExpectQuery(regexp.QuoteMeta("INSERT INTO loans")).WithArgs(
		l.CustomerID, l.Amount, l.TenureMonths, l.InterestRate,
		l.MonthlyPayment, l.EMIsPaidOnTime, l.StartDate, l.EndDate,
	).WillReturnRows(loanRows(l, 42))

	created, err := repo.CreateLoan(ctx, l)
	assert.NoError(t, err)
	assert.Equal(t, int64(42), created.ID)
	assert.Equal(t, l.MonthlyPayment, created.MonthlyPayment)
	assert.NoError(t, mockPool.ExpectationsWereMet(), pgxmockExpectationsNotMetMsg)
}

func TestCreateLoanWhenInsertFails(t *testing.T) {
	ctx, repo, mockPool := setupLoanRepo(t)
	defer mockPool.Close()

	l := testLoan()
	mockPool.ExpectQuery(regexp.QuoteMeta("INSERT INTO loans")).WithArgs(
		l.CustomerID, l.Amount, l.TenureMonths, l.InterestRate,
		l.MonthlyPayment, l.EMIsPaidOnTime, l.StartDate, l.EndDate,
	).WillReturnError(errors.New("connection reset"))

	created, err := repo.CreateLoan(ctx, l)
	assert.Nil(t, created)
	assert.ErrorIs(t, err, apperrors.ErrDatabase)
	assert.NoError(t, mockPool.ExpectationsWereMet(), pgxmockExpectationsNotMetMsg)
}

func TestGetLoanByIDReturnOne(t *testing.T) {
	ctx, repo, mockPool := setupLoanRepo(t)
	defer mockPool.Close()

	l := testLoan()
	mockPool.ExpectQuery(regexp.QuoteMeta("FROM loans WHERE id = $1")).
		WithArgs(int64(42)).
		WillReturnRows(loanRows(l, 42))

	found, err := repo.GetLoanByID(ctx, 42)
	assert.NoError(t, err)
	assert.Equal(t, int64(42), found.ID)
	assert.Equal(t, l.Amount, found.Amount)
	assert.NoError(t, mockPool.ExpectationsWereMet(), pgxmockExpectationsNotMetMsg)
}

func TestGetLoanByIDReturnNone(t *testing.T) {
	ctx, repo, mockPool := setupLoanRepo(t)
	defer mockPool.Close()

	mockPool.ExpectQuery(regexp.QuoteMeta("FROM loans WHERE id = $1")).
		WithArgs(int64(42)).
		WillReturnError(pgx.ErrNoRows)

	found, err := repo.GetLoanByID(ctx, 42)
	assert.Nil(t, found)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.NoError(t, mockPool.ExpectationsWereMet(), pgxmockExpectationsNotMetMsg)
}

func TestListByCustomerReturnsLoans(t *testing.T) {
	ctx, repo, mockPool := setupLoanRepo(t)
	defer mockPool.Close()

	l := testLoan()
	rows := pgxmock.NewRows([]string{
		"id", "customer_id", "amount", "tenure_months", "interest_rate",
		"monthly_payment", "emis_paid_on_time", "start_date", "end_date",
		"created_at", "updated_at",
	}).
		AddRow(int64(1), l.CustomerID, l.Amount, l.TenureMonths, l.InterestRate,
			l.MonthlyPayment, l.EMIsPaidOnTime, l.StartDate, l.EndDate, time.Now(), time.Now()).
		AddRow(int64(2), l.CustomerID, l.Amount, l.TenureMonths, l.InterestRate,
			l.MonthlyPayment, 3, l.StartDate, l.EndDate, time.Now(), time.Now())

	mockPool.ExpectQuery(regexp.QuoteMeta("FROM loans WHERE customer_id = $1 ORDER BY id")).
		WithArgs(int64(1)).
		WillReturnRows(rows)

	loans, err := repo.ListByCustomer(ctx, 1)
	assert.NoError(t, err)
	assert.Len(t, loans, 2)
	assert.Equal(t, int64(1), loans[0].ID)
	assert.Equal(t, 3, loans[1].EMIsPaidOnTime)
	assert.NoError(t, mockPool.ExpectationsWereMet(), pgxmockExpectationsNotMetMsg)
}

func TestListByCustomerReturnsEmptySlice(t *testing.T) {
	ctx, repo, mockPool := setupLoanRepo(t)
	defer mockPool.Close()

	mockPool.ExpectQuery(regexp.QuoteMeta("FROM loans WHERE customer_id = $1 ORDER BY id")).
		WithArgs(int64(1)).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "customer_id", "amount", "tenure_months", "interest_rate",
			"monthly_payment", "emis_paid_on_time", "start_date", "end_date",
			"created_at", "updated_at",
		}))

	loans, err := repo.ListByCustomer(ctx, 1)
	assert.NoError(t, err)
	assert.NotNil(t, loans)
	assert.Empty(t, loans)
	assert.NoError(t, mockPool.ExpectationsWereMet(), pgxmockExpectationsNotMetMsg)
}

func TestActiveMonthlyPaymentSum(t *testing.T) {
	ctx, repo, mockPool := setupLoanRepo(t)
	defer mockPool.Close()

	asOf := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	mockPool.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(SUM(monthly_payment), 0)")).
		WithArgs(int64(1), asOf).
		WillReturnRows(pgxmock.NewRows([]string{"coalesce"}).AddRow(35_539.52))

	sum, err := repo.ActiveMonthlyPaymentSum(ctx, 1, asOf)
	assert.NoError(t, err)
	assert.Equal(t, 35_539.52, sum)
	assert.NoError(t, mockPool.ExpectationsWereMet(), pgxmockExpectationsNotMetMsg)
}

func TestInsertWithIDInTx(t *testing.T) {
	ctx, repo, mockPool := setupLoanRepo(t)
	defer mockPool.Close()

	l := testLoan()
	l.ID = 9001

	mockPool.ExpectBegin()
	mockPool.ExpectExec(regexp.QuoteMeta("ON CONFLICT (id) DO NOTHING")).WithArgs(
		l.ID, l.CustomerID, l.Amount, l.TenureMonths, l.InterestRate,
		l.MonthlyPayment, l.EMIsPaidOnTime, l.StartDate, l.EndDate,
	).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mockPool.ExpectCommit()

	tx, err := repo.BeginTx(ctx)
	assert.NoError(t, err)

	inserted, err := repo.InsertWithIDInTx(ctx, tx, l)
	assert.NoError(t, err)
	assert.True(t, inserted)

	assert.NoError(t, repo.CommitTx(ctx, tx))
	assert.NoError(t, mockPool.ExpectationsWereMet(), pgxmockExpectationsNotMetMsg)
}

func TestInsertWithIDInTxSkipsDuplicate(t *testing.T) {
	ctx, repo, mockPool := setupLoanRepo(t)
	defer mockPool.Close()

	l := testLoan()
	l.ID = 9001

	mockPool.ExpectBegin()
	mockPool.ExpectExec(regexp.QuoteMeta("ON CONFLICT (id) DO NOTHING")).WithArgs(
		l.ID, l.CustomerID, l.Amount, l.TenureMonths, l.InterestRate,
		l.MonthlyPayment, l.EMIsPaidOnTime, l.StartDate, l.EndDate,
	).WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mockPool.ExpectRollback()

	tx, err := repo.BeginTx(ctx)
	assert.NoError(t, err)

	inserted, err := repo.InsertWithIDInTx(ctx, tx, l)
	assert.NoError(t, err)
	assert.False(t, inserted)

	assert.NoError(t, repo.RollbackTx(ctx, tx))
	assert.NoError(t, mockPool.ExpectationsWereMet(), pgxmockExpectationsNotMetMsg)
}
