package batch

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"credit-engine/internal/config"
	"credit-engine/internal/domain/customer"
	"credit-engine/internal/domain/loan"
	"credit-engine/internal/infrastructure/monitoring"
)

const ingestionDateLayout = "2006-01-02"

// IngestionJob seeds the customer and loan tables from the CSV exports
// dropped next to the service. Each file loads inside its own transaction,
// customers first so loan rows can reference them. A missing file is not an
// error, the job simply reports it and moves on.
type IngestionJob struct {
	customerRepo customer.CustomerRepository
	loanRepo     loan.Repository
	cfg          config.BatchConfig
	logger       *slog.Logger
}

func NewIngestionJob(
	customerRepo customer.CustomerRepository,
	loanRepo loan.Repository,
	cfg config.BatchConfig,
	logger *slog.Logger,
) *IngestionJob {
	if customerRepo == nil || loanRepo == nil || logger == nil {
		panic("IngestionJob dependencies cannot be nil")
	}
	return &IngestionJob{
		customerRepo: customerRepo,
		loanRepo:     loanRepo,
		cfg:          cfg,
		logger:       logger.With("job", "Ingestion"),
	}
}

func (j *IngestionJob) Run(ctx context.Context) error {
	startTime := time.Now()
	j.logger.InfoContext(ctx, "Starting data ingestion job.",
		slog.String("customerFile", j.cfg.CustomerFile),
		slog.String("loanFile", j.cfg.LoanFile))

	if err := j.ingestCustomers(ctx); err != nil {
		j.logger.ErrorContext(ctx, "Customer ingestion failed, aborting job.", slog.Any("error", err))
		return fmt.Errorf("customer ingestion: %w", err)
	}
	if err := j.ingestLoans(ctx); err != nil {
		j.logger.ErrorContext(ctx, "Loan ingestion failed.", slog.Any("error", err))
		return fmt.Errorf("loan ingestion: %w", err)
	}

	j.logger.InfoContext(ctx, "Data ingestion job finished.", slog.Duration("duration", time.Since(startTime)))
	return nil
}

func (j *IngestionJob) ingestCustomers(ctx context.Context) error {
	rows, err := readCSV(j.cfg.CustomerFile)
	if err != nil {
		return err
	}
	if rows == nil {
		j.logger.InfoContext(ctx, "Customer file not present, skipping.", slog.String("file", j.cfg.CustomerFile))
		return nil
	}

	tx, err := j.customerRepo.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin customer transaction: %w", err)
	}
	defer j.customerRepo.RollbackTx(ctx, tx)

	var upserted, skipped int
	for i, row := range rows {
		cust, parseErr := parseCustomerRow(row)
		if parseErr != nil {
			j.logger.WarnContext(ctx, "Skipping malformed customer row.",
				slog.Int("line", i+2), slog.Any("error", parseErr))
			monitoring.RecordIngestedRow("customer", "skipped")
			skipped++
			continue
		}
		if upsertErr := j.customerRepo.UpsertInTx(ctx, tx, cust); upsertErr != nil {
			return fmt.Errorf("upsert customer %d: %w", cust.ID, upsertErr)
		}
		monitoring.RecordIngestedRow("customer", "upserted")
		upserted++
	}

	if err := j.customerRepo.CommitTx(ctx, tx); err != nil {
		return fmt.Errorf("commit customer transaction: %w", err)
	}
	j.logger.InfoContext(ctx, "Customer ingestion complete.",
		slog.Int("upserted", upserted), slog.Int("skipped", skipped))
	return nil
}

func (j *IngestionJob) ingestLoans(ctx context.Context) error {
	rows, err := readCSV(j.cfg.LoanFile)
	if err != nil {
		return err
	}
	if rows == nil {
		j.logger.InfoContext(ctx, "Loan file not present, skipping.", slog.String("file", j.cfg.LoanFile))
		return nil
	}

	tx, err := j.loanRepo.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin loan transaction: %w", err)
	}
	defer j.loanRepo.RollbackTx(ctx, tx)

	var inserted, skipped int
	for i, row := range rows {
		l, parseErr := parseLoanRow(row)
		if parseErr != nil {
			j.logger.WarnContext(ctx, "Skipping malformed loan row.",
				slog.Int("line", i+2), slog.Any("error", parseErr))
			monitoring.RecordIngestedRow("loan", "skipped")
			skipped++
			continue
		}
		ok, insertErr := j.loanRepo.InsertWithIDInTx(ctx, tx, l)
		if insertErr != nil {
			return fmt.Errorf("insert loan %d: %w", l.ID, insertErr)
		}
		if ok {
			monitoring.RecordIngestedRow("loan", "inserted")
			inserted++
		} else {
			monitoring.RecordIngestedRow("loan", "duplicate")
			skipped++
		}
	}

	if err := j.loanRepo.CommitTx(ctx, tx); err != nil {
		return fmt.Errorf("commit loan transaction: %w", err)
	}
	j.logger.InfoContext(ctx, "Loan ingestion complete.",
		slog.Int("inserted", inserted), slog.Int("skipped", skipped))
	return nil
}

// readCSV returns the data rows of the file, nil when the file does not
// exist. The header row is discarded; column order is fixed by the export.
func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.TrimLeadingSpace = true

	if _, err := reader.Read(); err != nil {
		if err == io.EOF {
			return [][]string{}, nil
		}
		return nil, fmt.Errorf("read header of %s: %w", path, err)
	}

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return rows, nil
}

// Columns: customer_id, first_name, last_name, age, phone_number,
// monthly_salary, approved_limit.
func parseCustomerRow(row []string) (*customer.Customer, error) {
	if len(row) < 7 {
		return nil, fmt.Errorf("expected 7 columns, got %d", len(row))
	}

	id, err := strconv.ParseInt(row[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("customer_id: %w", err)
	}
	age, err := strconv.Atoi(row[3])
	if err != nil {
		return nil, fmt.Errorf("age: %w", err)
	}
	phone, err := strconv.ParseInt(row[4], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("phone_number: %w", err)
	}
	salary, err := strconv.ParseFloat(row[5], 64)
	if err != nil {
		return nil, fmt.Errorf("monthly_salary: %w", err)
	}
	limit, err := strconv.ParseFloat(row[6], 64)
	if err != nil {
		return nil, fmt.Errorf("approved_limit: %w", err)
	}

	return &customer.Customer{
		ID:            id,
		FirstName:     row[1],
		LastName:      row[2],
		Age:           age,
		PhoneNumber:   phone,
		MonthlySalary: salary,
		ApprovedLimit: limit,
	}, nil
}

// Columns: customer_id, loan_id, loan_amount, tenure, interest_rate,
// monthly_repayment, EMIs_paid_on_time, start_date, end_date.
func parseLoanRow(row []string) (*loan.Loan, error) {
	if len(row) < 9 {
		return nil, fmt.Errorf("expected 9 columns, got %d", len(row))
	}

	customerID, err := strconv.ParseInt(row[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("customer_id: %w", err)
	}
	loanID, err := strconv.ParseInt(row[1], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("loan_id: %w", err)
	}
	amount, err := strconv.ParseFloat(row[2], 64)
	if err != nil {
		return nil, fmt.Errorf("loan_amount: %w", err)
	}
	tenure, err := strconv.Atoi(row[3])
	if err != nil {
		return nil, fmt.Errorf("tenure: %w", err)
	}
	rate, err := strconv.ParseFloat(row[4], 64)
	if err != nil {
		return nil, fmt.Errorf("interest_rate: %w", err)
	}
	monthly, err := strconv.ParseFloat(row[5], 64)
	if err != nil {
		return nil, fmt.Errorf("monthly_repayment: %w", err)
	}
	emisOnTime, err := strconv.Atoi(row[6])
	if err != nil {
		return nil, fmt.Errorf("EMIs_paid_on_time: %w", err)
	}
	startDate, err := time.Parse(ingestionDateLayout, row[7])
	if err != nil {
		return nil, fmt.Errorf("start_date: %w", err)
	}
	endDate, err := time.Parse(ingestionDateLayout, row[8])
	if err != nil {
		return nil, fmt.Errorf("end_date: %w", err)
	}

	return &loan.Loan{
		ID:             loanID,
		CustomerID:     customerID,
		Amount:         amount,
		TenureMonths:   tenure,
		InterestRate:   rate,
		MonthlyPayment: monthly,
		EMIsPaidOnTime: emisOnTime,
		StartDate:      startDate,
		EndDate:        endDate,
	}, nil
}
