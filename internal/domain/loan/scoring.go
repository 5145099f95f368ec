package loan

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"credit-engine/internal/domain/customer"
	"credit-engine/internal/infrastructure/monitoring"
	"credit-engine/internal/pkg/apperrors"
)

// Component weights of the heuristic credit score.
const (
	weightOnTime   = 0.4
	weightCount    = 0.2
	weightVolume   = 0.2
	weightActivity = 0.2

	volumeUnit = 10_000.0
)

// ScoreCache is an optional read-through cache in front of the scoring
// engine. A miss is reported via the bool, never as an error.
type ScoreCache interface {
	GetScore(ctx context.Context, customerID int64) (int, bool, error)
	SetScore(ctx context.Context, customerID int64, score int) error
	InvalidateScore(ctx context.Context, customerID int64) error
}

type ScoringEngine struct {
	loans     Repository
	customers customer.CustomerService
	cache     ScoreCache
	logger    *slog.Logger
	now       func() time.Time
}

func NewScoringEngine(loans Repository, customers customer.CustomerService, cache ScoreCache, logger *slog.Logger) *ScoringEngine {
	if loans == nil || customers == nil {
		panic("ScoringEngine dependencies cannot be nil")
	}
	return &ScoringEngine{
		loans:     loans,
		customers: customers,
		cache:     cache,
		logger:    logger.With("component", "ScoringEngine"),
		now:       time.Now,
	}
}

// Score computes the 0-100 credit score for a customer from their loan
// history. An unknown customer scores 0; callers that need an explicit
// not-found signal must look the customer up themselves before scoring.
func (e *ScoringEngine) Score(ctx context.Context, customerID int64) (int, error) {
	if e.cache != nil {
		cached, ok, err := e.cache.GetScore(ctx, customerID)
		if err != nil {
			e.logger.WarnContext(ctx, "Score cache lookup failed, computing fresh", slog.Any("error", err))
		} else if ok {
			e.logger.DebugContext(ctx, "Serving credit score from cache", slog.Int64("customerID", customerID), slog.Int("score", cached))
			return cached, nil
		}
	}

	cust, err := e.customers.GetCustomer(ctx, customerID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) || errors.Is(err, customer.ErrNotFound) {
			e.logger.WarnContext(ctx, "Scoring unknown customer, reporting zero score", slog.Int64("customerID", customerID))
			return 0, nil
		}
		e.logger.ErrorContext(ctx, "Failed to load customer for scoring", slog.Any("error", err))
		return 0, err
	}

	loans, err := e.loans.ListByCustomer(ctx, customerID)
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to load loans for scoring", slog.Any("error", err))
		return 0, err
	}

	score := e.weightedScore(loans)

	activeEMIs, err := e.loans.ActiveMonthlyPaymentSum(ctx, customerID, truncateToDay(e.now()))
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to sum active monthly payments for scoring", slog.Any("error", err))
		return 0, err
	}
	if activeEMIs > cust.ApprovedLimit {
		e.logger.InfoContext(ctx, "Active payment exposure exceeds approved limit, forcing zero score",
			slog.Int64("customerID", customerID), slog.Float64("activeEMIs", activeEMIs), slog.Float64("approvedLimit", cust.ApprovedLimit))
		score = 0
	}

	monitoring.RecordCreditScore(score)
	if e.cache != nil {
		if cacheErr := e.cache.SetScore(ctx, customerID, score); cacheErr != nil {
			e.logger.WarnContext(ctx, "Failed to cache credit score", slog.Any("error", cacheErr))
		}
	}

	e.logger.InfoContext(ctx, "Credit score computed", slog.Int64("customerID", customerID), slog.Int("score", score))
	return score, nil
}

func (e *ScoringEngine) weightedScore(loans []Loan) int {
	// A customer with no loan history scores a full 100; the weighted
	// components only apply once at least one loan exists.
	if len(loans) == 0 {
		return 100
	}

	var (
		totalTenure     int
		totalPaidOnTime int
		totalAmount     Money
		currentYear     int
	)
	thisYear := e.now().Year()
	for _, l := range loans {
		totalTenure += l.TenureMonths
		totalPaidOnTime += l.EMIsPaidOnTime
		totalAmount += l.Amount
		if l.StartDate.Year() == thisYear {
			currentYear++
		}
	}

	onTimeComponent := 100.0
	if totalTenure > 0 {
		onTimeComponent = float64(totalPaidOnTime) / float64(totalTenure) * 100
	}

	countComponent := 100 - min(len(loans)*10, 100)
	volumeComponent := 100 - min(int(totalAmount/volumeUnit), 100)
	activityComponent := min(currentYear*10, 100)

	score := int(onTimeComponent*weightOnTime +
		float64(countComponent)*weightCount +
		float64(volumeComponent)*weightVolume +
		float64(activityComponent)*weightActivity)

	return min(score, 100)
}
