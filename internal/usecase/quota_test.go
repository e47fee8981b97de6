package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"multichat/internal/domain"
)

func TestNewQuotaGate_NilService(t *testing.T) {
	_, err := NewQuotaGate(nil, nil)
	require.Error(t, err)
}

func TestQuotaGate_Check(t *testing.T) {
	cases := []struct {
		name      string
		user      string
		cost      int
		decision  domain.QuotaDecision
		svcErr    error
		wantCode  ErrorCode
		reason    string
		remaining int
		calls     int
	}{
		{name: "allowed", user: "u", cost: 1, decision: domain.QuotaDecision{Allowed: true, Remaining: 3}, remaining: 3, calls: 1},
		{name: "denied", user: "u", cost: 1, decision: domain.QuotaDecision{Allowed: false, Remaining: 0}, wantCode: ErrorQuotaExceeded, reason: "quota_exhausted", calls: 1},
		{name: "allowed but exhausted", user: "u", cost: 1, decision: domain.QuotaDecision{Allowed: true, Remaining: 0}, wantCode: ErrorQuotaExceeded, reason: "quota_exhausted", calls: 1},
		{name: "peek with budget", user: "u", cost: 0, decision: domain.QuotaDecision{Allowed: true, Remaining: 2}, remaining: 2, calls: 1},
		{name: "service error fails closed", user: "u", cost: 1, svcErr: errors.New("boom"), wantCode: ErrorQuotaUnavailable, reason: "decision_service_error", calls: 1},
		{name: "no user", user: "", cost: 1, wantCode: ErrorQuotaExceeded, reason: "no_user"},
		{name: "anonymous", user: domain.AnonymousOwner, cost: 1, wantCode: ErrorQuotaExceeded, reason: "no_user"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &fakeDecisions{decision: tc.decision, err: tc.svcErr}
			g, err := NewQuotaGate(svc, discardLogger())
			require.NoError(t, err)

			d, err := g.Check(context.Background(), tc.user, tc.cost)
			require.Equal(t, tc.calls, svc.Calls())
			require.Equal(t, tc.remaining, d.Remaining)
			if tc.wantCode == "" {
				require.NoError(t, err)
				require.True(t, d.Allowed)
				require.Equal(t, tc.cost, svc.lastCost)
				return
			}
			require.False(t, d.Allowed)
			var ue *Error
			require.ErrorAs(t, err, &ue)
			require.Equal(t, tc.wantCode, ue.Code)
			require.Equal(t, tc.reason, ue.Reason)
			require.NotEmpty(t, ue.Message)
		})
	}
}

func TestQuotaGate_PeekDoesNotConsume(t *testing.T) {
	svc := &fakeDecisions{decision: domain.QuotaDecision{Allowed: true, Remaining: 5}}
	g, err := NewQuotaGate(svc, discardLogger())
	require.NoError(t, err)

	d, err := g.Peek(context.Background(), "u")
	require.NoError(t, err)
	require.Equal(t, 5, d.Remaining)
	require.Zero(t, svc.lastCost)
}

func TestQuotaGate_NegativeCostIsPeek(t *testing.T) {
	svc := &fakeDecisions{decision: domain.QuotaDecision{Allowed: true, Remaining: 1}}
	g, err := NewQuotaGate(svc, discardLogger())
	require.NoError(t, err)

	_, err = g.Check(context.Background(), "u", -3)
	require.NoError(t, err)
	require.Zero(t, svc.lastCost)
}
