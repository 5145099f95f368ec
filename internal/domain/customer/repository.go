package customer

import (
	"context"

	"github.com/jackc/pgx/v5"
)

type CustomerRepository interface {
	Save(ctx context.Context, cust *Customer) error

	FindByID(ctx context.Context, customerID int64) (*Customer, error)

	FindByPhoneNumber(ctx context.Context, phoneNumber int64) (*Customer, error)

	// Delete removes a customer without dependent loans. When loans still
	// reference the customer the delete is rejected with ErrConflict.
	Delete(ctx context.Context, customerID int64) error

	UpsertInTx(ctx context.Context, tx pgx.Tx, cust *Customer) error

	BeginTx(ctx context.Context) (pgx.Tx, error)

	CommitTx(ctx context.Context, tx pgx.Tx) error

	RollbackTx(ctx context.Context, tx pgx.Tx) error
}
