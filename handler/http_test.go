package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"multichat/internal/domain"
)

func TestServeHTTP_AdaptsRequest(t *testing.T) {
	chat := &stubChat{quota: domain.QuotaDecision{Allowed: true, Remaining: 2}}
	h := newTestHandler(t, chat, &stubRelay{})

	req := httptest.NewRequest(http.MethodPost, "/api/user-remaining-msg", strings.NewReader(`{"token":1}`))
	req.Header.Set(LocalUserHeader, "a@example.com")
	req.Header.Set("X-Correlation-Id", "corr-local")
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "corr-local", rec.Header().Get("X-Correlation-Id"))
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	require.JSONEq(t, `{"allowed":true,"remainingToken":2}`, rec.Body.String())
	require.Equal(t, "a@example.com", chat.quotaUser)
	require.Equal(t, 1, chat.quotaCost)
}

func TestServeHTTP_NoUserHeader(t *testing.T) {
	chat := &stubChat{}
	h := newTestHandler(t, chat, &stubRelay{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/models", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, chat.quotaUser)
}
