package customer

import (
	"credit-engine/internal/pkg/apperrors"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

var ErrNotFound = errors.New("customer not found")

// ApprovedLimitMultiple is the rounding unit for the derived credit limit.
const ApprovedLimitMultiple = 100_000.0

type Customer struct {
	ID            int64
	FirstName     string
	LastName      string
	Age           int
	PhoneNumber   int64
	MonthlySalary float64
	ApprovedLimit float64
	CurrentDebt   float64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (c *Customer) FullName() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

// ApprovedLimitFor derives the credit limit granted at registration:
// 36x the monthly salary, rounded to the nearest multiple of 100,000.
func ApprovedLimitFor(monthlySalary float64) float64 {
	return math.Round(36*monthlySalary/ApprovedLimitMultiple) * ApprovedLimitMultiple
}

func NewCustomer(firstName, lastName string, age int, monthlySalary float64, phoneNumber int64) (*Customer, error) {
	firstName = strings.TrimSpace(firstName)
	lastName = strings.TrimSpace(lastName)

	if firstName == "" {
		return nil, apperrors.NewValidationError("first_name", "first name cannot be empty")
	}
	if lastName == "" {
		return nil, apperrors.NewValidationError("last_name", "last name cannot be empty")
	}
	if age <= 0 {
		return nil, apperrors.NewValidationError("age", "age must be positive")
	}
	if monthlySalary <= 0 {
		return nil, apperrors.NewValidationError("monthly_income", "monthly income must be positive")
	}
	if phoneNumber <= 0 {
		return nil, fmt.Errorf("%w: phone number must be positive", apperrors.ErrInvalidArgument)
	}

	return &Customer{
		FirstName:     firstName,
		LastName:      lastName,
		Age:           age,
		PhoneNumber:   phoneNumber,
		MonthlySalary: monthlySalary,
		ApprovedLimit: ApprovedLimitFor(monthlySalary),
		CurrentDebt:   0,
	}, nil
}
