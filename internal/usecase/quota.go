package usecase

import (
	"context"
	"errors"
	"log/slog"

	"multichat/internal/domain"
)

const quotaExceededMessage = "Maximum Daily Limit Exceeded"

// DecisionService answers per-identity budget questions. requested units
// are consumed when allowed; requested == 0 only reports the remainder.
type DecisionService interface {
	Decide(ctx context.Context, identity string, requested int) (domain.QuotaDecision, error)
}

// QuotaGate wraps the decision service with the submission policy.
type QuotaGate struct {
	svc DecisionService
	log *slog.Logger
}

func NewQuotaGate(svc DecisionService, log *slog.Logger) (*QuotaGate, error) {
	if svc == nil {
		return nil, errors.New("usecase: decision service must not be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	return &QuotaGate{svc: svc, log: log}, nil
}

// Check asks the decision service once for cost units. The submission may
// proceed only when the returned error is nil.
//
// The gate fails closed: a service error denies with a zero remainder. A
// consuming check whose remainder is at or below zero is denied even when
// the service allowed it.
func (g *QuotaGate) Check(ctx context.Context, userID string, cost int) (domain.QuotaDecision, error) {
	denied := domain.QuotaDecision{Allowed: false, Remaining: 0}
	if userID == "" || userID == domain.AnonymousOwner {
		return denied, newError(ErrorQuotaExceeded, "no_user", nil).withMessage("No user found")
	}
	if cost < 0 {
		cost = 0
	}

	d, err := g.svc.Decide(ctx, userID, cost)
	if err != nil {
		g.log.Error("quota decision failed", "user_id", userID, "err", err)
		return denied, newError(ErrorQuotaUnavailable, "decision_service_error", err).withMessage("Error checking message limit")
	}
	if !d.Allowed || (cost > 0 && d.Remaining <= 0) {
		d.Allowed = false
		return d, newError(ErrorQuotaExceeded, "quota_exhausted", nil).withMessage(quotaExceededMessage)
	}
	return d, nil
}

// Peek reports the remaining budget without consuming any.
func (g *QuotaGate) Peek(ctx context.Context, userID string) (domain.QuotaDecision, error) {
	return g.Check(ctx, userID, 0)
}
