package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"multichat/internal/catalog"
	"multichat/internal/domain"
	"multichat/internal/usecase"
)

const correlationHeader = "X-Correlation-Id"

// ChatService is the conversation surface the handler exposes.
type ChatService interface {
	Models() []catalog.Family
	Open(ctx context.Context, in usecase.OpenInput) (domain.Aggregate, error)
	SetEnabled(ctx context.Context, in usecase.SelectionInput) (domain.Selection, error)
	SetSubModel(ctx context.Context, in usecase.SelectionInput) (domain.Selection, error)
	Submit(ctx context.Context, in usecase.SubmitInput) (usecase.SubmitOutput, error)
	Remaining(ctx context.Context, userID string, cost int) (domain.QuotaDecision, error)
}

// Relayer is the single-model relay behind /ai-multi-model.
type Relayer interface {
	Relay(ctx context.Context, in usecase.RelayInput) (usecase.RelayOutput, error)
}

type Handler struct {
	chat  ChatService
	relay Relayer
	log   *slog.Logger
}

func NewHandler(chat ChatService, relay Relayer, log *slog.Logger) (*Handler, error) {
	if chat == nil {
		return nil, errors.New("handler: chat service must not be nil")
	}
	if relay == nil {
		return nil, errors.New("handler: relayer must not be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Handler{chat: chat, relay: relay, log: log}, nil
}

type route struct {
	method string
	path   string
}

// Handle routes one API Gateway proxy event.
func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	cid := correlationID(event.Headers)
	log := h.log.With("correlation_id", cid, "method", event.HTTPMethod, "path", event.Path)
	user := userID(event)

	var resp events.APIGatewayProxyResponse
	switch (route{method: strings.ToUpper(event.HTTPMethod), path: normalizePath(event.Path)}) {
	case route{http.MethodPost, "/ai-multi-model"}:
		resp = h.relayMessage(ctx, log, event.Body)
	case route{http.MethodPost, "/user-remaining-msg"}:
		resp = h.remaining(ctx, log, user, event.Body)
	case route{http.MethodGet, "/models"}:
		resp = jsonResponse(http.StatusOK, modelsResponse{Families: h.chat.Models()})
	case route{http.MethodPost, "/chat/open"}:
		resp = h.open(ctx, log, user, event.Body)
	case route{http.MethodPost, "/chat/submit"}:
		resp = h.submit(ctx, log, user, event.Body)
	case route{http.MethodPost, "/selection/enable"}:
		resp = h.selection(ctx, log, user, event.Body, h.chat.SetEnabled)
	case route{http.MethodPost, "/selection/submodel"}:
		resp = h.selection(ctx, log, user, event.Body, h.chat.SetSubModel)
	default:
		resp = jsonResponse(http.StatusNotFound, errorResponse{Error: "Not Found", Code: "NOT_FOUND"})
	}

	log.Info("request handled", "status", resp.StatusCode, "user_id", user)
	resp.Headers[correlationHeader] = cid
	return resp, nil
}

func (h *Handler) relayMessage(ctx context.Context, log *slog.Logger, body string) events.APIGatewayProxyResponse {
	var req relayRequest
	if err := decode(body, &req); err != nil {
		return invalidBody()
	}
	out, err := h.relay.Relay(ctx, usecase.RelayInput{
		Model:       req.Model,
		Messages:    req.Msg,
		ParentModel: req.ParentModel,
	})
	if err != nil {
		return h.errorResponse(log, err)
	}
	return jsonResponse(http.StatusOK, relayResponse{AIResponse: out.AIResponse, Model: out.Model})
}

// remaining answers in the shape the chat input box polls: denial is a 200
// carrying an error message and the remainder.
func (h *Handler) remaining(ctx context.Context, log *slog.Logger, user, body string) events.APIGatewayProxyResponse {
	var req remainingRequest
	if strings.TrimSpace(body) != "" {
		// a missing or unreadable body means "just report"
		_ = json.Unmarshal([]byte(body), &req)
	}
	d, err := h.chat.Remaining(ctx, user, req.Token)
	if err == nil {
		return jsonResponse(http.StatusOK, remainingResponse{Allowed: true, RemainingToken: d.Remaining})
	}

	zero := 0
	var ue *usecase.Error
	errors.As(err, &ue)
	switch {
	case ue != nil && ue.Code == usecase.ErrorQuotaExceeded && ue.Reason == "no_user":
		return jsonResponse(http.StatusBadRequest, errorResponse{Error: ue.Message, Code: string(ue.Code), RemainingToken: &zero})
	case ue != nil && ue.Code == usecase.ErrorQuotaExceeded:
		left := d.Remaining
		return jsonResponse(http.StatusOK, errorResponse{Error: "Too many requests", Code: string(ue.Code), RemainingToken: &left})
	default:
		log.Error("remaining check failed", "err", err)
		return jsonResponse(http.StatusInternalServerError, errorResponse{Error: "Internal server error", Code: string(usecase.CodeOf(err)), RemainingToken: &zero})
	}
}

func (h *Handler) open(ctx context.Context, log *slog.Logger, user, body string) events.APIGatewayProxyResponse {
	var req openRequest
	if strings.TrimSpace(body) != "" {
		if err := json.Unmarshal([]byte(body), &req); err != nil {
			return invalidBody()
		}
	}
	agg, err := h.chat.Open(ctx, usecase.OpenInput{ConversationID: req.ConversationID, UserID: user})
	if err != nil {
		return h.errorResponse(log, err)
	}
	return jsonResponse(http.StatusOK, toConversation(agg))
}

func (h *Handler) submit(ctx context.Context, log *slog.Logger, user, body string) events.APIGatewayProxyResponse {
	var req submitRequest
	if err := decode(body, &req); err != nil {
		return invalidBody()
	}
	out, err := h.chat.Submit(ctx, usecase.SubmitInput{ConversationID: req.ConversationID, UserID: user, Text: req.Message})
	if err != nil {
		return h.errorResponse(log, err)
	}
	resp := submitResponse{
		Conversation: toConversation(out.Conversation),
		Remaining:    out.Quota.Remaining,
		Outcomes:     make([]outcomeResponse, 0, len(out.Outcomes)),
	}
	for _, o := range out.Outcomes {
		resp.Outcomes = append(resp.Outcomes, toOutcome(o))
	}
	return jsonResponse(http.StatusOK, resp)
}

type selectionFunc func(context.Context, usecase.SelectionInput) (domain.Selection, error)

func (h *Handler) selection(ctx context.Context, log *slog.Logger, user, body string, apply selectionFunc) events.APIGatewayProxyResponse {
	var req selectionRequest
	if err := decode(body, &req); err != nil {
		return invalidBody()
	}
	sel, err := apply(ctx, usecase.SelectionInput{
		ConversationID: req.ConversationID,
		UserID:         user,
		Family:         req.Family,
		Enabled:        req.Enabled,
		SubModelID:     req.SubModelID,
	})
	if err != nil {
		return h.errorResponse(log, err)
	}
	return jsonResponse(http.StatusOK, selectionResponse{Selection: sel})
}

func (h *Handler) errorResponse(log *slog.Logger, err error) events.APIGatewayProxyResponse {
	status, code, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error("request failed", "code", code, "err", err)
	} else {
		log.Warn("request rejected", "code", code, "err", err)
	}
	return jsonResponse(status, errorResponse{Error: msg, Code: string(code)})
}

// statusFor maps a usecase error onto the HTTP answer. An explicit Status on
// the error wins; the relay sets it to mirror the gateway.
func statusFor(err error) (int, usecase.ErrorCode, string) {
	var ue *usecase.Error
	if !errors.As(err, &ue) {
		return http.StatusInternalServerError, usecase.ErrorInternal, "Internal Server Error"
	}
	status := ue.Status
	if status == 0 {
		switch ue.Code {
		case usecase.ErrorInvalidInput, usecase.ErrorInvalidSelection:
			status = http.StatusBadRequest
		case usecase.ErrorQuotaExceeded:
			status = http.StatusTooManyRequests
		case usecase.ErrorQuotaUnavailable:
			status = http.StatusServiceUnavailable
		case usecase.ErrorSubmissionInFlight:
			status = http.StatusConflict
		case usecase.ErrorNoValidModel:
			status = http.StatusUnprocessableEntity
		case usecase.ErrorTimeout:
			status = http.StatusGatewayTimeout
		case usecase.ErrorBackendRejected, usecase.ErrorBackendUnavailable:
			status = http.StatusBadGateway
		default:
			status = http.StatusInternalServerError
		}
	}
	msg := ue.Message
	if msg == "" {
		msg = http.StatusText(status)
	}
	return status, ue.Code, msg
}

func decode(body string, v any) error {
	if strings.TrimSpace(body) == "" {
		return errors.New("empty body")
	}
	return json.Unmarshal([]byte(body), v)
}

func invalidBody() events.APIGatewayProxyResponse {
	return jsonResponse(http.StatusBadRequest, errorResponse{Error: "Invalid request body", Code: string(usecase.ErrorInvalidInput)})
}

func jsonResponse(status int, v any) events.APIGatewayProxyResponse {
	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"error":"Internal Server Error","code":"INTERNAL_ERROR"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(body),
	}
}

func normalizePath(p string) string {
	p = "/" + strings.Trim(p, "/")
	// the web client calls routes under /api
	if strings.HasPrefix(p, "/api/") {
		return p[len("/api"):]
	}
	return p
}

func correlationID(headers map[string]string) string {
	for k, v := range headers {
		if strings.EqualFold(k, correlationHeader) && strings.TrimSpace(v) != "" {
			return v
		}
	}
	return uuid.NewString()
}

// userID reads the caller's identity from the authorizer context: the email
// claim of a Cognito/JWT authorizer, then a Lambda authorizer's email or
// principal. Unauthenticated calls get an empty id.
func userID(event events.APIGatewayProxyRequest) string {
	auth := event.RequestContext.Authorizer
	if auth == nil {
		return ""
	}
	if claims, ok := auth["claims"].(map[string]any); ok {
		if email, ok := claims["email"].(string); ok && email != "" {
			return email
		}
	}
	for _, key := range []string{"email", "principalId"} {
		if v, ok := auth[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
