package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"credit-engine/internal/domain/customer"
	"credit-engine/internal/infrastructure/monitoring"
	"credit-engine/internal/pkg/apperrors"

	"github.com/jackc/pgx/v5"
)

type CustomerRepository struct {
	db     DBPool
	logger *slog.Logger
}

var _ customer.CustomerRepository = (*CustomerRepository)(nil)

func NewCustomerRepository(db DBPool, logger *slog.Logger) *CustomerRepository {
	if db == nil {
		panic("DBPool cannot be nil for CustomerRepository")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
		logger.Warn("Warning: No logger provided to NewCustomerRepository, using default stderr handler")
	}
	return &CustomerRepository{
		db:     db,
		logger: logger.With("component", "CustomerRepository"),
	}
}

func (r *CustomerRepository) BeginTx(ctx context.Context) (pgx.Tx, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to begin transaction", slog.Any("error", err))
		return nil, fmt.Errorf("%w: failed to begin transaction: %w", apperrors.ErrDatabase, err)
	}
	return tx, nil
}

func (r *CustomerRepository) CommitTx(ctx context.Context, tx pgx.Tx) error {
	err := tx.Commit(ctx)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to commit transaction", slog.Any("error", err))
		return fmt.Errorf("%w: failed to commit transaction: %w", apperrors.ErrDatabase, err)
	}
	return nil
}

func (r *CustomerRepository) RollbackTx(ctx context.Context, tx pgx.Tx) error {
	err := tx.Rollback(ctx)

	if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		r.logger.ErrorContext(ctx, "Failed to rollback transaction", slog.Any("error", err))
		return fmt.Errorf("%w: failed to rollback transaction: %w", apperrors.ErrDatabase, err)
	}
	return nil
}

const customerColumns = `id, first_name, last_name, age, phone_number, monthly_salary, approved_limit, current_debt, created_at, updated_at`

func scanCustomer(row pgx.Row, c *customer.Customer) error {
	return row.Scan(
		&c.ID, &c.FirstName, &c.LastName, &c.Age, &c.PhoneNumber,
		&c.MonthlySalary, &c.ApprovedLimit, &c.CurrentDebt,
		&c.CreatedAt, &c.UpdatedAt,
	)
}

func (r *CustomerRepository) Save(ctx context.Context, cust *customer.Customer) error {
	if cust == nil {
		return fmt.Errorf("%w: customer cannot be nil", apperrors.ErrInvalidArgument)
	}

	if cust.ID == 0 {
		return r.createCustomer(ctx, cust)
	}
	return r.updateCustomer(ctx, cust)
}

func (r *CustomerRepository) createCustomer(ctx context.Context, cust *customer.Customer) error {
	logCtx := r.logger.With(slog.String("operation", "createCustomer"))
	logCtx.InfoContext(ctx, "Attempting to insert new customer", slog.String("name", cust.FullName()))
	start := time.Now()

	query := `
        INSERT INTO customers (first_name, last_name, age, phone_number, monthly_salary, approved_limit, current_debt, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
        RETURNING id, created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		cust.FirstName,
		cust.LastName,
		cust.Age,
		cust.PhoneNumber,
		cust.MonthlySalary,
		cust.ApprovedLimit,
		cust.CurrentDebt,
	).Scan(
		&cust.ID,
		&cust.CreatedAt,
		&cust.UpdatedAt,
	)

	if err != nil {
		monitoring.RecordDBQuery("create_customer", "error", time.Since(start))
		translatedErr := translateDBError(err, logCtx)
		if errors.Is(translatedErr, apperrors.ErrAlreadyExists) {
			logCtx.WarnContext(ctx, "Failed to insert customer due to unique constraint violation", slog.Int64("phoneNumber", cust.PhoneNumber))
			return translatedErr
		}
		logCtx.ErrorContext(ctx, "Failed to insert customer", slog.Any("error", err))
		return fmt.Errorf("%w: failed to insert customer: %w", apperrors.ErrDatabase, err)
	}

	monitoring.RecordDBQuery("create_customer", "success", time.Since(start))
	logCtx.InfoContext(ctx, "Customer inserted successfully", slog.Int64("customerID", cust.ID))
	return nil
}

func (r *CustomerRepository) updateCustomer(ctx context.Context, cust *customer.Customer) error {
	logCtx := r.logger.With(slog.String("operation", "updateCustomer"), slog.Int64("customerID", cust.ID))
	logCtx.InfoContext(ctx, "Attempting to update customer")
	start := time.Now()

	query := `
        UPDATE customers
        SET first_name = $1,
            last_name = $2,
            age = $3,
            phone_number = $4,
            monthly_salary = $5,
            approved_limit = $6,
            current_debt = $7,
            updated_at = NOW()
        WHERE id = $8`

	cmdTag, err := r.db.Exec(ctx, query,
		cust.FirstName,
		cust.LastName,
		cust.Age,
		cust.PhoneNumber,
		cust.MonthlySalary,
		cust.ApprovedLimit,
		cust.CurrentDebt,
		cust.ID,
	)

	if err != nil {
		monitoring.RecordDBQuery("update_customer", "error", time.Since(start))
		translatedErr := translateDBError(err, logCtx)
		if errors.Is(translatedErr, apperrors.ErrAlreadyExists) {
			logCtx.WarnContext(ctx, "Failed to update customer due to unique constraint violation", slog.Any("error", err))
			return translatedErr
		}
		logCtx.ErrorContext(ctx, "Failed to update customer", slog.Any("error", err))
		return fmt.Errorf("%w: failed to update customer: %w", apperrors.ErrDatabase, err)
	}

	if cmdTag.RowsAffected() == 0 {
		logCtx.WarnContext(ctx, "Update affected zero rows, customer likely not found")
		return apperrors.ErrNotFound
	}

	monitoring.RecordDBQuery("update_customer", "success", time.Since(start))
	return nil
}

func (r *CustomerRepository) FindByID(ctx context.Context, customerID int64) (*customer.Customer, error) {
	logCtx := r.logger.With(slog.String("operation", "FindByID"), slog.Int64("customerID", customerID))
	start := time.Now()

	query := `SELECT ` + customerColumns + ` FROM customers WHERE id = $1`

	var cust customer.Customer
	err := scanCustomer(r.db.QueryRow(ctx, query, customerID), &cust)
	if err != nil {
		monitoring.RecordDBQuery("find_customer_by_id", "error", time.Since(start))
		if errors.Is(err, pgx.ErrNoRows) {
			logCtx.WarnContext(ctx, "Customer not found")
			return nil, customer.ErrNotFound
		}
		logCtx.ErrorContext(ctx, "Failed to find customer", slog.Any("error", err))
		return nil, translateDBError(err, logCtx)
	}

	monitoring.RecordDBQuery("find_customer_by_id", "success", time.Since(start))
	return &cust, nil
}

func (r *CustomerRepository) FindByPhoneNumber(ctx context.Context, phoneNumber int64) (*customer.Customer, error) {
	logCtx := r.logger.With(slog.String("operation", "FindByPhoneNumber"))
	start := time.Now()

	query := `SELECT ` + customerColumns + ` FROM customers WHERE phone_number = $1`

	var cust customer.Customer
	err := scanCustomer(r.db.QueryRow(ctx, query, phoneNumber), &cust)
	if err != nil {
		monitoring.RecordDBQuery("find_customer_by_phone", "error", time.Since(start))
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, customer.ErrNotFound
		}
		logCtx.ErrorContext(ctx, "Failed to find customer by phone number", slog.Any("error", err))
		return nil, translateDBError(err, logCtx)
	}

	monitoring.RecordDBQuery("find_customer_by_phone", "success", time.Since(start))
	return &cust, nil
}

// Delete enforces the explicit ownership rule: a customer still referenced
// by loans is never deleted, the caller gets ErrConflict instead.
func (r *CustomerRepository) Delete(ctx context.Context, customerID int64) error {
	logCtx := r.logger.With(slog.String("operation", "Delete"), slog.Int64("customerID", customerID))
	start := time.Now()

	query := `
        DELETE FROM customers
        WHERE id = $1
          AND NOT EXISTS (SELECT 1 FROM loans WHERE loans.customer_id = $1)`

	cmdTag, err := r.db.Exec(ctx, query, customerID)
	if err != nil {
		monitoring.RecordDBQuery("delete_customer", "error", time.Since(start))
		logCtx.ErrorContext(ctx, "Failed to delete customer", slog.Any("error", err))
		return translateDBError(err, logCtx)
	}

	if cmdTag.RowsAffected() == 0 {
		var exists bool
		checkErr := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM customers WHERE id = $1)`, customerID).Scan(&exists)
		if checkErr != nil {
			monitoring.RecordDBQuery("delete_customer", "error", time.Since(start))
			logCtx.ErrorContext(ctx, "Failed to check customer existence after refused delete", slog.Any("error", checkErr))
			return translateDBError(checkErr, logCtx)
		}
		monitoring.RecordDBQuery("delete_customer", "refused", time.Since(start))
		if exists {
			logCtx.WarnContext(ctx, "Refused to delete customer with dependent loans")
			return apperrors.ErrConflict
		}
		logCtx.WarnContext(ctx, "Customer not found for delete")
		return customer.ErrNotFound
	}

	monitoring.RecordDBQuery("delete_customer", "success", time.Since(start))
	logCtx.InfoContext(ctx, "Customer deleted")
	return nil
}

// UpsertInTx creates or replaces a customer carrying an externally assigned
// ID, as produced by bulk ingestion.
func (r *CustomerRepository) UpsertInTx(ctx context.Context, tx pgx.Tx, cust *customer.Customer) error {
	logCtx := r.logger.With(slog.String("operation", "UpsertInTx"), slog.Int64("customerID", cust.ID))

	query := `
        INSERT INTO customers (id, first_name, last_name, age, phone_number, monthly_salary, approved_limit, current_debt, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
        ON CONFLICT (id) DO UPDATE SET
            first_name = EXCLUDED.first_name,
            last_name = EXCLUDED.last_name,
            age = EXCLUDED.age,
            phone_number = EXCLUDED.phone_number,
            monthly_salary = EXCLUDED.monthly_salary,
            approved_limit = EXCLUDED.approved_limit,
            updated_at = NOW()`

	_, err := tx.Exec(ctx, query,
		cust.ID,
		cust.FirstName,
		cust.LastName,
		cust.Age,
		cust.PhoneNumber,
		cust.MonthlySalary,
		cust.ApprovedLimit,
		cust.CurrentDebt,
	)
	if err != nil {
		logCtx.ErrorContext(ctx, "Failed to upsert customer", slog.Any("error", err))
		return translateDBError(err, logCtx)
	}

	return nil
}
