package loan

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"credit-engine/internal/domain/customer"
	"credit-engine/internal/pkg/apperrors"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

var logger = slog.New(slog.NewTextHandler(os.Stdout, nil))

type MockRepository struct {
	mock.Mock
}

func (_m *MockRepository) CreateLoan(ctx context.Context, newLoan *Loan) (*Loan, error) {
	ret := _m.Called(ctx, newLoan)

	var r0 *Loan
	if rf, ok := ret.Get(0).(func(context.Context, *Loan) *Loan); ok {
		r0 = rf(ctx, newLoan)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).(*Loan)
		}
	}

	var r1 error
	if rf, ok := ret.Get(1).(func(context.Context, *Loan) error); ok {
		r1 = rf(ctx, newLoan)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

func (_m *MockRepository) GetLoanByID(ctx context.Context, loanID int64) (*Loan, error) {
	ret := _m.Called(ctx, loanID)

	var r0 *Loan
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*Loan)
	}
	return r0, ret.Error(1)
}

func (_m *MockRepository) ListByCustomer(ctx context.Context, customerID int64) ([]Loan, error) {
	ret := _m.Called(ctx, customerID)

	var r0 []Loan
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]Loan)
	}
	return r0, ret.Error(1)
}

func (_m *MockRepository) ActiveMonthlyPaymentSum(ctx context.Context, customerID int64, asOf time.Time) (Money, error) {
	ret := _m.Called(ctx, customerID, asOf)
	return ret.Get(0).(float64), ret.Error(1)
}

func (_m *MockRepository) InsertWithIDInTx(ctx context.Context, tx pgx.Tx, l *Loan) (bool, error) {
	ret := _m.Called(ctx, tx, l)
	return ret.Bool(0), ret.Error(1)
}

func (_m *MockRepository) BeginTx(ctx context.Context) (pgx.Tx, error) {
	ret := _m.Called(ctx)

	var r0 pgx.Tx
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(pgx.Tx)
	}
	return r0, ret.Error(1)
}

func (_m *MockRepository) CommitTx(ctx context.Context, tx pgx.Tx) error {
	ret := _m.Called(ctx, tx)
	return ret.Error(0)
}

func (_m *MockRepository) RollbackTx(ctx context.Context, tx pgx.Tx) error {
	ret := _m.Called(ctx, tx)
	return ret.Error(0)
}

type MockCustomerService struct {
	mock.Mock
}

func (_m *MockCustomerService) RegisterCustomer(ctx context.Context, firstName, lastName string, age int, monthlyIncome float64, phoneNumber int64) (*customer.Customer, error) {
	ret := _m.Called(ctx, firstName, lastName, age, monthlyIncome, phoneNumber)

	var r0 *customer.Customer
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*customer.Customer)
	}
	return r0, ret.Error(1)
}

func (_m *MockCustomerService) GetCustomer(ctx context.Context, customerID int64) (*customer.Customer, error) {
	ret := _m.Called(ctx, customerID)

	var r0 *customer.Customer
	if rf, ok := ret.Get(0).(func(context.Context, int64) *customer.Customer); ok {
		r0 = rf(ctx, customerID)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).(*customer.Customer)
		}
	}

	var r1 error
	if rf, ok := ret.Get(1).(func(context.Context, int64) error); ok {
		r1 = rf(ctx, customerID)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

func (_m *MockCustomerService) RemoveCustomer(ctx context.Context, customerID int64) error {
	ret := _m.Called(ctx, customerID)
	return ret.Error(0)
}

func testCustomer() *customer.Customer {
	return &customer.Customer{
		ID:            1,
		FirstName:     "Asha",
		LastName:      "Verma",
		Age:           34,
		PhoneNumber:   9876543210,
		MonthlySalary: 100_000,
		ApprovedLimit: 3_600_000,
	}
}

// midTierLoans yields a weighted score of 41: on-time 12/36, three loans,
// 300k volume, nothing started this year.
func midTierLoans() []Loan {
	old := time.Date(2000, 1, 10, 0, 0, 0, 0, time.UTC)
	loans := make([]Loan, 3)
	for i := range loans {
		loans[i] = Loan{
			CustomerID:     1,
			Amount:         100_000,
			TenureMonths:   12,
			EMIsPaidOnTime: 4,
			StartDate:      old,
			EndDate:        old.AddDate(0, 12, 0),
		}
	}
	return loans
}

// lowTierLoans yields a weighted score of 28: no on-time payments across six
// loans all started this year.
func lowTierLoans() []Loan {
	now := time.Now()
	loans := make([]Loan, 6)
	for i := range loans {
		loans[i] = Loan{
			CustomerID:     1,
			Amount:         100_000,
			TenureMonths:   12,
			EMIsPaidOnTime: 0,
			StartDate:      now,
			EndDate:        now.AddDate(0, 12, 0),
		}
	}
	return loans
}

// floorTierLoans yields a weighted score of 0.
func floorTierLoans() []Loan {
	old := time.Date(2000, 1, 10, 0, 0, 0, 0, time.UTC)
	loans := make([]Loan, 10)
	for i := range loans {
		loans[i] = Loan{
			CustomerID:     1,
			Amount:         100_000,
			TenureMonths:   12,
			EMIsPaidOnTime: 0,
			StartDate:      old,
			EndDate:        old.AddDate(0, 12, 0),
		}
	}
	return loans
}

func newTestService(repo *MockRepository, custSvc *MockCustomerService) LoanService {
	scoring := NewScoringEngine(repo, custSvc, nil, logger)
	return NewLoanService(repo, custSvc, scoring, nil, nil, logger)
}

func TestCheckEligibility(t *testing.T) {
	ctx := context.Background()

	t.Run("should approve a prime-score customer at the requested rate", func(t *testing.T) {
		repo := new(MockRepository)
		custSvc := new(MockCustomerService)
		custSvc.On("GetCustomer", mock.Anything, int64(1)).Return(testCustomer(), nil)
		repo.On("ActiveMonthlyPaymentSum", mock.Anything, int64(1), mock.Anything).Return(0.0, nil)
		repo.On("ListByCustomer", mock.Anything, int64(1)).Return([]Loan{}, nil)

		svc := newTestService(repo, custSvc)
		decision, err := svc.CheckEligibility(ctx, 1, 200_000, 10.0, 12)

		assert.NoError(t, err)
		assert.True(t, decision.Approved)
		assert.Equal(t, 10.0, decision.RateUsed)
		assert.Nil(t, decision.CorrectedRate)
		assert.Equal(t, 100, decision.Score)
		assert.NotNil(t, decision.MonthlyInstallment)
	})

	t.Run("should reject a mid-tier customer requesting below the floor and advise the corrected rate", func(t *testing.T) {
		repo := new(MockRepository)
		custSvc := new(MockCustomerService)
		custSvc.On("GetCustomer", mock.Anything, int64(1)).Return(testCustomer(), nil)
		repo.On("ActiveMonthlyPaymentSum", mock.Anything, int64(1), mock.Anything).Return(0.0, nil)
		repo.On("ListByCustomer", mock.Anything, int64(1)).Return(midTierLoans(), nil)

		svc := newTestService(repo, custSvc)
		decision, err := svc.CheckEligibility(ctx, 1, 200_000, 10.0, 12)

		assert.NoError(t, err)
		assert.Equal(t, 41, decision.Score)
		assert.False(t, decision.Approved)
		assert.Equal(t, 12.0, decision.RateUsed)
		assert.NotNil(t, decision.CorrectedRate)
		assert.Equal(t, 12.0, *decision.CorrectedRate)
	})

	t.Run("should approve a mid-tier customer above the floor at the corrected rate", func(t *testing.T) {
		repo := new(MockRepository)
		custSvc := new(MockCustomerService)
		custSvc.On("GetCustomer", mock.Anything, int64(1)).Return(testCustomer(), nil)
		repo.On("ActiveMonthlyPaymentSum", mock.Anything, int64(1), mock.Anything).Return(0.0, nil)
		repo.On("ListByCustomer", mock.Anything, int64(1)).Return(midTierLoans(), nil)

		svc := newTestService(repo, custSvc)
		decision, err := svc.CheckEligibility(ctx, 1, 200_000, 14.0, 12)

		assert.NoError(t, err)
		assert.True(t, decision.Approved)
		assert.Equal(t, 12.0, decision.RateUsed)
		assert.Nil(t, decision.CorrectedRate)

		expected, _ := MonthlyInstallment(200_000, 12.0, 12)
		assert.Equal(t, expected, *decision.MonthlyInstallment)
	})

	t.Run("should hold a low-tier customer to the sixteen percent floor", func(t *testing.T) {
		repo := new(MockRepository)
		custSvc := new(MockCustomerService)
		custSvc.On("GetCustomer", mock.Anything, int64(1)).Return(testCustomer(), nil)
		repo.On("ActiveMonthlyPaymentSum", mock.Anything, int64(1), mock.Anything).Return(0.0, nil)
		repo.On("ListByCustomer", mock.Anything, int64(1)).Return(lowTierLoans(), nil)

		svc := newTestService(repo, custSvc)
		decision, err := svc.CheckEligibility(ctx, 1, 200_000, 18.0, 12)

		assert.NoError(t, err)
		assert.Equal(t, 28, decision.Score)
		assert.True(t, decision.Approved)
		assert.Equal(t, 16.0, decision.RateUsed)
	})

	t.Run("should reject outright when the score is at the floor", func(t *testing.T) {
		repo := new(MockRepository)
		custSvc := new(MockCustomerService)
		custSvc.On("GetCustomer", mock.Anything, int64(1)).Return(testCustomer(), nil)
		repo.On("ActiveMonthlyPaymentSum", mock.Anything, int64(1), mock.Anything).Return(0.0, nil)
		repo.On("ListByCustomer", mock.Anything, int64(1)).Return(floorTierLoans(), nil)

		svc := newTestService(repo, custSvc)
		decision, err := svc.CheckEligibility(ctx, 1, 200_000, 20.0, 12)

		assert.NoError(t, err)
		assert.Equal(t, 0, decision.Score)
		assert.False(t, decision.Approved)
		assert.Equal(t, 20.0, decision.RateUsed)
		assert.Nil(t, decision.CorrectedRate)
	})

	t.Run("should reject on high debt burden without computing an installment", func(t *testing.T) {
		repo := new(MockRepository)
		custSvc := new(MockCustomerService)
		custSvc.On("GetCustomer", mock.Anything, int64(1)).Return(testCustomer(), nil)
		repo.On("ActiveMonthlyPaymentSum", mock.Anything, int64(1), mock.Anything).Return(60_000.0, nil)

		svc := newTestService(repo, custSvc)
		decision, err := svc.CheckEligibility(ctx, 1, 200_000, 10.0, 12)

		assert.NoError(t, err)
		assert.False(t, decision.Approved)
		assert.Nil(t, decision.MonthlyInstallment)
		assert.Equal(t, msgHighDebtBurden, decision.Message)
		repo.AssertNotCalled(t, "ListByCustomer", mock.Anything, mock.Anything)
	})

	t.Run("should count a loan ending today toward the debt burden", func(t *testing.T) {
		repo := new(MockRepository)
		custSvc := new(MockCustomerService)
		custSvc.On("GetCustomer", mock.Anything, int64(1)).Return(testCustomer(), nil)

		// The repository is queried with the start of the current day so a
		// loan whose end date falls on today still counts as active.
		midDay := time.Date(2026, 8, 30, 14, 45, 12, 0, time.UTC)
		startOfDay := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)
		repo.On("ActiveMonthlyPaymentSum", mock.Anything, int64(1), startOfDay).Return(60_000.0, nil)

		scoring := NewScoringEngine(repo, custSvc, nil, logger)
		scoring.now = func() time.Time { return midDay }
		svc := NewLoanService(repo, custSvc, scoring, nil, nil, logger).(*loanServiceImpl)
		svc.now = func() time.Time { return midDay }

		decision, err := svc.CheckEligibility(ctx, 1, 200_000, 10.0, 12)

		assert.NoError(t, err)
		assert.False(t, decision.Approved)
		assert.Equal(t, msgHighDebtBurden, decision.Message)
		repo.AssertExpectations(t)
	})

	t.Run("should surface not found for an unknown customer", func(t *testing.T) {
		repo := new(MockRepository)
		custSvc := new(MockCustomerService)
		custSvc.On("GetCustomer", mock.Anything, int64(99)).Return(nil, customer.ErrNotFound)

		svc := newTestService(repo, custSvc)
		decision, err := svc.CheckEligibility(ctx, 99, 200_000, 10.0, 12)

		assert.Nil(t, decision)
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
	})

	t.Run("should reject invalid request values before touching the store", func(t *testing.T) {
		repo := new(MockRepository)
		custSvc := new(MockCustomerService)
		svc := newTestService(repo, custSvc)

		_, err := svc.CheckEligibility(ctx, 1, -5, 10.0, 12)
		assert.Error(t, err)
		_, err = svc.CheckEligibility(ctx, 1, 200_000, 10.0, 0)
		assert.Error(t, err)
		custSvc.AssertNotCalled(t, "GetCustomer", mock.Anything, mock.Anything)
	})
}

func TestCreateLoan(t *testing.T) {
	ctx := context.Background()

	t.Run("should persist an approved loan with the decision rate", func(t *testing.T) {
		repo := new(MockRepository)
		custSvc := new(MockCustomerService)
		custSvc.On("GetCustomer", mock.Anything, int64(1)).Return(testCustomer(), nil)
		repo.On("ActiveMonthlyPaymentSum", mock.Anything, int64(1), mock.Anything).Return(0.0, nil)
		repo.On("ListByCustomer", mock.Anything, int64(1)).Return([]Loan{}, nil)
		repo.On("CreateLoan", mock.Anything, mock.MatchedBy(func(l *Loan) bool {
			return l.CustomerID == 1 && l.InterestRate == 10.0 && l.EMIsPaidOnTime == 0
		})).Return(func(ctx context.Context, l *Loan) *Loan {
			created := *l
			created.ID = 42
			return &created
		}, nil)

		svc := newTestService(repo, custSvc)
		result, err := svc.CreateLoan(ctx, 1, 200_000, 10.0, 12)

		assert.NoError(t, err)
		assert.True(t, result.Approved)
		assert.NotNil(t, result.LoanID)
		assert.Equal(t, int64(42), *result.LoanID)
		assert.Equal(t, msgLoanApproved, result.Message)
		assert.NotNil(t, result.MonthlyInstallment)
		repo.AssertExpectations(t)
	})

	t.Run("should return a rejection without touching the store", func(t *testing.T) {
		repo := new(MockRepository)
		custSvc := new(MockCustomerService)
		custSvc.On("GetCustomer", mock.Anything, int64(1)).Return(testCustomer(), nil)
		repo.On("ActiveMonthlyPaymentSum", mock.Anything, int64(1), mock.Anything).Return(60_000.0, nil)

		svc := newTestService(repo, custSvc)
		result, err := svc.CreateLoan(ctx, 1, 200_000, 10.0, 12)

		assert.NoError(t, err)
		assert.False(t, result.Approved)
		assert.Nil(t, result.LoanID)
		assert.Equal(t, msgLoanRejected, result.Message)
		repo.AssertNotCalled(t, "CreateLoan", mock.Anything, mock.Anything)
	})

	t.Run("should propagate persistence failures", func(t *testing.T) {
		repo := new(MockRepository)
		custSvc := new(MockCustomerService)
		custSvc.On("GetCustomer", mock.Anything, int64(1)).Return(testCustomer(), nil)
		repo.On("ActiveMonthlyPaymentSum", mock.Anything, int64(1), mock.Anything).Return(0.0, nil)
		repo.On("ListByCustomer", mock.Anything, int64(1)).Return([]Loan{}, nil)
		repo.On("CreateLoan", mock.Anything, mock.Anything).Return(nil, errors.New("connection reset"))

		svc := newTestService(repo, custSvc)
		result, err := svc.CreateLoan(ctx, 1, 200_000, 10.0, 12)

		assert.Nil(t, result)
		assert.ErrorIs(t, err, apperrors.ErrInternalServer)
	})
}

func TestGetLoan(t *testing.T) {
	ctx := context.Background()

	t.Run("should join the loan with its customer", func(t *testing.T) {
		repo := new(MockRepository)
		custSvc := new(MockCustomerService)
		stored := &Loan{ID: 7, CustomerID: 1, Amount: 200_000, InterestRate: 10.0, TenureMonths: 12, MonthlyPayment: 17_579.77}
		repo.On("GetLoanByID", mock.Anything, int64(7)).Return(stored, nil)
		custSvc.On("GetCustomer", mock.Anything, int64(1)).Return(testCustomer(), nil)

		svc := newTestService(repo, custSvc)
		detail, err := svc.GetLoan(ctx, 7)

		assert.NoError(t, err)
		assert.Equal(t, stored, detail.Loan)
		assert.Equal(t, int64(1), detail.Customer.ID)
	})

	t.Run("should surface not found for a missing loan", func(t *testing.T) {
		repo := new(MockRepository)
		custSvc := new(MockCustomerService)
		repo.On("GetLoanByID", mock.Anything, int64(7)).Return(nil, apperrors.ErrNotFound)

		svc := newTestService(repo, custSvc)
		detail, err := svc.GetLoan(ctx, 7)

		assert.Nil(t, detail)
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
	})
}

func TestListCustomerLoans(t *testing.T) {
	ctx := context.Background()

	t.Run("should list the customer's loans", func(t *testing.T) {
		repo := new(MockRepository)
		custSvc := new(MockCustomerService)
		custSvc.On("GetCustomer", mock.Anything, int64(1)).Return(testCustomer(), nil)
		repo.On("ListByCustomer", mock.Anything, int64(1)).Return(midTierLoans(), nil)

		svc := newTestService(repo, custSvc)
		loans, err := svc.ListCustomerLoans(ctx, 1)

		assert.NoError(t, err)
		assert.Len(t, loans, 3)
	})

	t.Run("should surface not found for an unknown customer", func(t *testing.T) {
		repo := new(MockRepository)
		custSvc := new(MockCustomerService)
		custSvc.On("GetCustomer", mock.Anything, int64(5)).Return(nil, customer.ErrNotFound)

		svc := newTestService(repo, custSvc)
		loans, err := svc.ListCustomerLoans(ctx, 5)

		assert.Nil(t, loans)
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
	})
}

// memoryLoanRepository is a map-backed stand-in for the postgres repository,
// enough to drive a full issuance through the read views.
type memoryLoanRepository struct {
	nextID int64
	loans  map[int64]Loan
}

func newMemoryLoanRepository() *memoryLoanRepository {
	return &memoryLoanRepository{loans: map[int64]Loan{}}
}

func (r *memoryLoanRepository) CreateLoan(ctx context.Context, newLoan *Loan) (*Loan, error) {
	r.nextID++
	stored := *newLoan
	stored.ID = r.nextID
	r.loans[stored.ID] = stored
	return &stored, nil
}

func (r *memoryLoanRepository) GetLoanByID(ctx context.Context, loanID int64) (*Loan, error) {
	l, ok := r.loans[loanID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return &l, nil
}

func (r *memoryLoanRepository) ListByCustomer(ctx context.Context, customerID int64) ([]Loan, error) {
	out := []Loan{}
	for _, l := range r.loans {
		if l.CustomerID == customerID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (r *memoryLoanRepository) ActiveMonthlyPaymentSum(ctx context.Context, customerID int64, asOf time.Time) (Money, error) {
	var sum Money
	for _, l := range r.loans {
		if l.CustomerID == customerID && !l.EndDate.Before(asOf) {
			sum += l.MonthlyPayment
		}
	}
	return sum, nil
}

func (r *memoryLoanRepository) InsertWithIDInTx(ctx context.Context, tx pgx.Tx, l *Loan) (bool, error) {
	if _, ok := r.loans[l.ID]; ok {
		return false, nil
	}
	r.loans[l.ID] = *l
	return true, nil
}

func (r *memoryLoanRepository) BeginTx(ctx context.Context) (pgx.Tx, error) { return nil, nil }

func (r *memoryLoanRepository) CommitTx(ctx context.Context, tx pgx.Tx) error { return nil }

func (r *memoryLoanRepository) RollbackTx(ctx context.Context, tx pgx.Tx) error { return nil }

func TestLoanIssuanceRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryLoanRepository()
	custSvc := new(MockCustomerService)
	custSvc.On("GetCustomer", mock.Anything, int64(1)).Return(testCustomer(), nil)

	scoring := NewScoringEngine(repo, custSvc, nil, logger)
	svc := NewLoanService(repo, custSvc, scoring, nil, nil, logger)

	result, err := svc.CreateLoan(ctx, 1, 200_000, 10.0, 24)
	assert.NoError(t, err)
	assert.True(t, result.Approved)
	assert.NotNil(t, result.LoanID)
	assert.NotNil(t, result.MonthlyInstallment)

	detail, err := svc.GetLoan(ctx, *result.LoanID)
	assert.NoError(t, err)
	assert.Equal(t, *result.LoanID, detail.Loan.ID)
	assert.Equal(t, 200_000.0, detail.Loan.Amount)
	assert.Equal(t, 10.0, detail.Loan.InterestRate)
	assert.Equal(t, *result.MonthlyInstallment, detail.Loan.MonthlyPayment)
	assert.Equal(t, 24, detail.Loan.TenureMonths)
	assert.Equal(t, int64(1), detail.Customer.ID)

	loans, err := svc.ListCustomerLoans(ctx, 1)
	assert.NoError(t, err)
	assert.Len(t, loans, 1)
	assert.Equal(t, 24, loans[0].RepaymentsLeft())
}
