package event

import "time"

type CustomerEventPayload struct {
	CustomerID    int64   `json:"customerId"`
	FirstName     string  `json:"firstName"`
	LastName      string  `json:"lastName"`
	PhoneNumber   int64   `json:"phoneNumber"`
	MonthlySalary float64 `json:"monthlySalary"`
	ApprovedLimit float64 `json:"approvedLimit"`
}

type CustomerRegisteredEvent struct {
	Timestamp time.Time            `json:"timestamp"`
	Payload   CustomerEventPayload `json:"payload"`
}

type LoanIssuedEvent struct {
	Timestamp      time.Time `json:"timestamp"`
	LoanID         int64     `json:"loanId"`
	CustomerID     int64     `json:"customerId"`
	Amount         float64   `json:"amount"`
	InterestRate   float64   `json:"interestRate"`
	TenureMonths   int       `json:"tenureMonths"`
	MonthlyPayment float64   `json:"monthlyPayment"`
}
