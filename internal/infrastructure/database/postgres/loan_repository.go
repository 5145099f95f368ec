package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"credit-engine/internal/domain/loan"
	"credit-engine/internal/infrastructure/monitoring"
	"credit-engine/internal/pkg/apperrors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pashagolub/pgxmock/v4"
)

type DBPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Acquire(ctx context.Context) (*pgxpool.Conn, error)
	Close()
}

var _ DBPool = (*pgxpool.Pool)(nil)

var _ DBPool = (pgxmock.PgxPoolIface)(nil)

var errMsgFormat = "%w: %w"

type LoanRepository struct {
	db     DBPool
	logger *slog.Logger
}

var _ loan.Repository = (*LoanRepository)(nil)

func NewLoanRepository(db DBPool, logger *slog.Logger) *LoanRepository {
	return &LoanRepository{db: db, logger: logger.With("component", "LoanRepository")}
}

func (r *LoanRepository) BeginTx(ctx context.Context) (pgx.Tx, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to begin transaction", "error", err)
		return nil, fmt.Errorf(errMsgFormat, apperrors.ErrDatabase, err)
	}
	return tx, nil
}

func (r *LoanRepository) CommitTx(ctx context.Context, tx pgx.Tx) error {
	err := tx.Commit(ctx)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to commit transaction", "error", err)
		return fmt.Errorf(errMsgFormat, apperrors.ErrDatabase, err)
	}
	return nil
}

func (r *LoanRepository) RollbackTx(ctx context.Context, tx pgx.Tx) error {
	err := tx.Rollback(ctx)

	if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		r.logger.ErrorContext(ctx, "Failed to rollback transaction", "error", err)
		return fmt.Errorf(errMsgFormat, apperrors.ErrDatabase, err)
	}
	return nil
}

const loanColumns = `id, customer_id, amount, tenure_months, interest_rate, monthly_payment, emis_paid_on_time, start_date, end_date, created_at, updated_at`

func scanLoan(row pgx.Row, l *loan.Loan) error {
	return row.Scan(
		&l.ID, &l.CustomerID, &l.Amount, &l.TenureMonths, &l.InterestRate,
		&l.MonthlyPayment, &l.EMIsPaidOnTime, &l.StartDate, &l.EndDate,
		&l.CreatedAt, &l.UpdatedAt,
	)
}

func (r *LoanRepository) CreateLoan(ctx context.Context, newLoan *loan.Loan) (*loan.Loan, error) {
	logCtx := r.logger.With(slog.String("operation", "CreateLoan"), slog.Int64("customerID", newLoan.CustomerID))
	start := time.Now()

	query := `
        INSERT INTO loans (customer_id, amount, tenure_months, interest_rate, monthly_payment, emis_paid_on_time, start_date, end_date, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
        RETURNING ` + loanColumns

	var created loan.Loan
	err := scanLoan(r.db.QueryRow(ctx, query,
		newLoan.CustomerID, newLoan.Amount, newLoan.TenureMonths, newLoan.InterestRate,
		newLoan.MonthlyPayment, newLoan.EMIsPaidOnTime, newLoan.StartDate, newLoan.EndDate,
	), &created)
	if err != nil {
		monitoring.RecordDBQuery("create_loan", "error", time.Since(start))
		logCtx.ErrorContext(ctx, "Failed to insert loan", "error", err)
		return nil, translateDBError(err, logCtx)
	}

	monitoring.RecordDBQuery("create_loan", "success", time.Since(start))
	logCtx.InfoContext(ctx, "Loan created in DB", "loan_id", created.ID)
	return &created, nil
}

func (r *LoanRepository) GetLoanByID(ctx context.Context, loanID int64) (*loan.Loan, error) {
	logCtx := r.logger.With(slog.String("operation", "GetLoanByID"), slog.Int64("loanID", loanID))
	start := time.Now()

	query := `SELECT ` + loanColumns + ` FROM loans WHERE id = $1`

	var l loan.Loan
	err := scanLoan(r.db.QueryRow(ctx, query, loanID), &l)
	if err != nil {
		monitoring.RecordDBQuery("get_loan_by_id", "error", time.Since(start))
		if errors.Is(err, pgx.ErrNoRows) {
			logCtx.WarnContext(ctx, "Loan not found")
			return nil, apperrors.ErrNotFound
		}
		logCtx.ErrorContext(ctx, "Failed to get loan", "error", err)
		return nil, translateDBError(err, logCtx)
	}

	monitoring.RecordDBQuery("get_loan_by_id", "success", time.Since(start))
	return &l, nil
}

func (r *LoanRepository) ListByCustomer(ctx context.Context, customerID int64) ([]loan.Loan, error) {
	logCtx := r.logger.With(slog.String("operation", "ListByCustomer"), slog.Int64("customerID", customerID))
	start := time.Now()

	query := `SELECT ` + loanColumns + ` FROM loans WHERE customer_id = $1 ORDER BY id`

	rows, err := r.db.Query(ctx, query, customerID)
	if err != nil {
		monitoring.RecordDBQuery("list_loans_by_customer", "error", time.Since(start))
		logCtx.ErrorContext(ctx, "Failed to query loans", "error", err)
		return nil, translateDBError(err, logCtx)
	}
	defer rows.Close()

	loans := make([]loan.Loan, 0)
	for rows.Next() {
		var l loan.Loan
		if err := scanLoan(rows, &l); err != nil {
			monitoring.RecordDBQuery("list_loans_by_customer", "error", time.Since(start))
			logCtx.ErrorContext(ctx, "Failed to scan loan row", "error", err)
			return nil, translateDBError(err, logCtx)
		}
		loans = append(loans, l)
	}
	if err := rows.Err(); err != nil {
		monitoring.RecordDBQuery("list_loans_by_customer", "error", time.Since(start))
		return nil, translateDBError(err, logCtx)
	}

	monitoring.RecordDBQuery("list_loans_by_customer", "success", time.Since(start))
	logCtx.DebugContext(ctx, "Loans listed", "count", len(loans))
	return loans, nil
}

func (r *LoanRepository) ActiveMonthlyPaymentSum(ctx context.Context, customerID int64, asOf time.Time) (loan.Money, error) {
	logCtx := r.logger.With(slog.String("operation", "ActiveMonthlyPaymentSum"), slog.Int64("customerID", customerID))
	start := time.Now()

	query := `
        SELECT COALESCE(SUM(monthly_payment), 0)
        FROM loans
        WHERE customer_id = $1 AND end_date >= $2`

	var sum loan.Money
	err := r.db.QueryRow(ctx, query, customerID, asOf).Scan(&sum)
	if err != nil {
		monitoring.RecordDBQuery("active_monthly_payment_sum", "error", time.Since(start))
		logCtx.ErrorContext(ctx, "Failed to sum active monthly payments", "error", err)
		return 0, translateDBError(err, logCtx)
	}

	monitoring.RecordDBQuery("active_monthly_payment_sum", "success", time.Since(start))
	return sum, nil
}

// InsertWithIDInTx inserts a loan carrying an externally assigned ID, as
// produced by bulk ingestion. Conflicts on the primary key are skipped.
func (r *LoanRepository) InsertWithIDInTx(ctx context.Context, tx pgx.Tx, l *loan.Loan) (bool, error) {
	logCtx := r.logger.With(slog.String("operation", "InsertWithIDInTx"), slog.Int64("loanID", l.ID))

	query := `
        INSERT INTO loans (id, customer_id, amount, tenure_months, interest_rate, monthly_payment, emis_paid_on_time, start_date, end_date, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
        ON CONFLICT (id) DO NOTHING`

	cmdTag, err := tx.Exec(ctx, query,
		l.ID, l.CustomerID, l.Amount, l.TenureMonths, l.InterestRate,
		l.MonthlyPayment, l.EMIsPaidOnTime, l.StartDate, l.EndDate,
	)
	if err != nil {
		logCtx.ErrorContext(ctx, "Failed to insert loan with explicit ID", "error", err)
		return false, translateDBError(err, logCtx)
	}

	return cmdTag.RowsAffected() > 0, nil
}

func translateDBError(err error, contextLogger *slog.Logger) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {

		if pgErr.Code == "23505" {
			contextLogger.Warn("Database unique constraint violation", "detail", pgErr.Detail, "constraint", pgErr.ConstraintName)
			return fmt.Errorf("%w: %s", apperrors.ErrAlreadyExists, pgErr.ConstraintName)
		}

		contextLogger.Error("PostgreSQL specific error", "code", pgErr.Code, "message", pgErr.Message, "detail", pgErr.Detail)
		return fmt.Errorf("%w: db error code %s", apperrors.ErrDatabase, pgErr.Code)
	}

	contextLogger.Error("Generic database error", "error", err)
	return fmt.Errorf(errMsgFormat, apperrors.ErrDatabase, err)
}
