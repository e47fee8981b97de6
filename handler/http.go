package handler

import (
	"io"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
)

// LocalUserHeader carries the caller identity when the handler is served
// over plain HTTP; there is no authorizer in front of a local server.
const LocalUserHeader = "X-User-Email"

const maxLocalBody = 1 << 20

// ServeHTTP adapts a plain HTTP request into a proxy event so local runs go
// through the same routing as the Lambda.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxLocalBody))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	headers := make(map[string]string, len(r.Header))
	for k := range r.Header {
		headers[k] = r.Header.Get(k)
	}
	event := events.APIGatewayProxyRequest{
		HTTPMethod: r.Method,
		Path:       r.URL.Path,
		Headers:    headers,
		Body:       string(body),
	}
	if user := strings.TrimSpace(r.Header.Get(LocalUserHeader)); user != "" {
		event.RequestContext.Authorizer = map[string]any{"email": user}
	}

	resp, err := h.Handle(r.Context(), event)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = io.WriteString(w, resp.Body)
}
