package app

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"multichat/handler"
	"multichat/internal/integrations/kravix"
	"multichat/internal/integrations/paramstore"
	"multichat/internal/ratelimit"
	"multichat/internal/repository/sqlite"
)

const testUser = "a@example.com"

func newGateway(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			AIModel string `json:"aiModel"`
		}
		if r.URL.Path != "/api/v1/chat" || json.NewDecoder(r.Body).Decode(&req) != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"aiResponse": "echo " + req.AIModel})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestApp(t *testing.T, dailyLimit int) *handler.Handler {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := sqlite.Open(sqlite.Config{Path: filepath.Join(t.TempDir(), "app.db"), Logger: log})
	require.NoError(t, err)
	store, err := sqlite.New(db)
	require.NoError(t, err)

	backend, err := kravix.NewClient(paramstore.Static("test-key"), kravix.WithBaseURL(newGateway(t).URL))
	require.NoError(t, err)

	limiter, err := ratelimit.New(dailyLimit, 24*time.Hour)
	require.NoError(t, err)

	h, err := NewHandler(Config{
		Store:       store,
		Decisions:   limiter,
		Backend:     backend,
		CallTimeout: 5 * time.Second,
		Logger:      log,
	})
	require.NoError(t, err)
	return h
}

func call(t *testing.T, h http.Handler, method, path, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(handler.LocalUserHeader, testUser)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return rec.Code, out
}

func TestNewHandler_RequiresDependencies(t *testing.T) {
	_, err := NewHandler(Config{})
	require.Error(t, err)
}

func TestLoadCatalog_Embedded(t *testing.T) {
	c, err := LoadCatalog("")
	require.NoError(t, err)
	require.NotEmpty(t, c.Families())

	_, err = LoadCatalog(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestApp_SubmitAndReload(t *testing.T) {
	h := newTestApp(t, 3)

	status, body := call(t, h, http.MethodPost, "/api/chat/submit", `{"chatId":"c1","message":"hello"}`)
	require.Equal(t, http.StatusOK, status, body)
	require.EqualValues(t, 2, body["remaining"])

	outcomes := body["outcomes"].([]any)
	require.Len(t, outcomes, 6, "every free family is enabled by default")
	for _, o := range outcomes {
		require.Equal(t, "ok", o.(map[string]any)["status"])
	}

	status, body = call(t, h, http.MethodPost, "/chat/open", `{"chatId":"c1"}`)
	require.Equal(t, http.StatusOK, status)
	messages := body["messages"].(map[string]any)
	gpt := messages["GPT"].([]any)
	require.Len(t, gpt, 2)
	reply := gpt[1].(map[string]any)
	require.Equal(t, "echo gpt-4.1-mini", reply["content"])
	require.Equal(t, "GPT", reply["model"])
	require.NotContains(t, messages, "Cohere")

	status, body = call(t, h, http.MethodPost, "/user-remaining-msg", `{}`)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, map[string]any{"allowed": true, "remainingToken": float64(2)}, body)
}

func TestApp_QuotaExhausted(t *testing.T) {
	h := newTestApp(t, 2)

	status, _ := call(t, h, http.MethodPost, "/chat/submit", `{"chatId":"c1","message":"one"}`)
	require.Equal(t, http.StatusOK, status)

	status, body := call(t, h, http.MethodPost, "/chat/submit", `{"chatId":"c1","message":"two"}`)
	require.Equal(t, http.StatusTooManyRequests, status)
	require.Equal(t, "QUOTA_EXCEEDED", body["code"])

	_, body = call(t, h, http.MethodPost, "/chat/open", `{"chatId":"c1"}`)
	gpt := body["messages"].(map[string]any)["GPT"].([]any)
	require.Len(t, gpt, 2, "a refused submission adds no turns")
}

func TestApp_Relay(t *testing.T) {
	h := newTestApp(t, 3)

	status, body := call(t, h, http.MethodPost, "/ai-multi-model",
		`{"model":"gemini 2.5 flash","msg":[{"role":"user","content":"hi"}],"parentModel":"Gemini"}`)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, map[string]any{"aiResponse": "echo gemini-2.5-flash", "model": "Gemini"}, body)

	status, body = call(t, h, http.MethodPost, "/ai-multi-model", `{"model":"nope","msg":[{"role":"user","content":"hi"}]}`)
	require.Equal(t, http.StatusBadRequest, status)
	require.True(t, strings.HasPrefix(body["error"].(string), "Invalid AI Model: nope. Available: gpt-4.1-mini"))
}

func TestApp_SelectionPersistsAcrossChats(t *testing.T) {
	h := newTestApp(t, 5)

	status, _ := call(t, h, http.MethodPost, "/selection/enable", `{"familyId":"GPT","enable":false}`)
	require.Equal(t, http.StatusOK, status)

	status, body := call(t, h, http.MethodPost, "/chat/open", `{}`)
	require.Equal(t, http.StatusOK, status)
	require.NotEmpty(t, body["chatId"])
	selection := body["selection"].(map[string]any)
	require.Equal(t, false, selection["GPT"].(map[string]any)["enable"])
	require.NotContains(t, body["messages"].(map[string]any), "GPT")
}
