package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"multichat/internal/catalog"
	"multichat/internal/domain"
)

// Backend sends one chat request to the AI gateway for a concrete model id.
type Backend interface {
	Chat(ctx context.Context, model string, messages []domain.ChatMessage) (string, error)
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

type upstreamMessager interface {
	UpstreamMessage() string
}

type credentialsError interface {
	MissingCredentials() bool
}

// readinessChecker is implemented by backends that can report missing
// credentials without sending a request.
type readinessChecker interface {
	Ready(ctx context.Context) error
}

type RelayInput struct {
	Model       string
	Messages    []domain.ChatMessage
	ParentModel string
}

type RelayOutput struct {
	AIResponse string
	Model      string
}

// RelayService validates and forwards a single model call.
type RelayService struct {
	backend Backend
	catalog *catalog.Catalog
	log     *slog.Logger
}

func NewRelayService(b Backend, c *catalog.Catalog, log *slog.Logger) (*RelayService, error) {
	if b == nil {
		return nil, errors.New("usecase: backend must not be nil")
	}
	if c == nil {
		return nil, errors.New("usecase: catalog must not be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	return &RelayService{backend: b, catalog: c, log: log}, nil
}

// normalizeModelID turns "gpt 4.1  mini" into "gpt-4.1-mini".
func normalizeModelID(model string) string {
	return strings.Join(strings.Fields(model), "-")
}

// Relay answers a missing API key before looking at the request, then
// rejects unknown models, models outside ParentModel and empty messages.
func (s *RelayService) Relay(ctx context.Context, in RelayInput) (RelayOutput, error) {
	if rc, ok := s.backend.(readinessChecker); ok {
		if err := rc.Ready(ctx); err != nil {
			s.log.Error("relay backend not ready", "err", err)
			return RelayOutput{}, classifyBackendError(err)
		}
	}

	model := normalizeModelID(in.Model)
	family, ok := s.catalog.FamilyOf(model)
	if !ok {
		s.log.Warn("relay rejected model", "model", in.Model, "normalized", model)
		e := newError(ErrorInvalidInput, "invalid_model", nil).withMessage(
			fmt.Sprintf("Invalid AI Model: %s. Available: %s", in.Model, strings.Join(s.catalog.ModelIDs(), ", ")))
		e.Status = http.StatusBadRequest
		return RelayOutput{}, e
	}
	if parent := strings.TrimSpace(in.ParentModel); parent != "" && !strings.EqualFold(parent, family) {
		s.log.Warn("relay rejected model family", "model", model, "family", family, "parent", parent)
		e := newError(ErrorInvalidInput, "model_family_mismatch", nil).withMessage(
			fmt.Sprintf("AI Model %s does not belong to %s", in.Model, parent))
		e.Status = http.StatusBadRequest
		return RelayOutput{}, e
	}
	if len(in.Messages) == 0 || strings.TrimSpace(in.Messages[0].Content) == "" {
		e := newError(ErrorInvalidInput, "empty_message", nil).withMessage("Message cannot be empty")
		e.Status = http.StatusBadRequest
		return RelayOutput{}, e
	}

	reply, err := s.backend.Chat(ctx, model, in.Messages)
	if err != nil {
		s.log.Error("relay backend call failed", "model", model, "family", in.ParentModel, "err", err)
		return RelayOutput{}, classifyBackendError(err)
	}
	return RelayOutput{AIResponse: reply, Model: in.ParentModel}, nil
}

// classifyBackendError maps a gateway failure onto the per-family taxonomy
// and the HTTP status the relay endpoint answers with.
func classifyBackendError(err error) *Error {
	var creds credentialsError
	if errors.As(err, &creds) && creds.MissingCredentials() {
		e := newError(ErrorInternal, "missing_credentials", err).withMessage("Missing API Key")
		e.Status = http.StatusInternalServerError
		return e
	}
	if isTimeout(err) {
		e := newError(ErrorTimeout, "backend_timeout", err).withMessage("AI server timed out. Try again later.")
		e.Status = http.StatusGatewayTimeout
		return e
	}
	var sc httpStatusCoder
	if errors.As(err, &sc) {
		status := sc.HTTPStatusCode()
		msg := "AI API error"
		var um upstreamMessager
		if errors.As(err, &um) && um.UpstreamMessage() != "" {
			msg = um.UpstreamMessage()
		}
		code := ErrorBackendUnavailable
		if status >= 400 && status < 500 {
			code = ErrorBackendRejected
		}
		e := newError(code, "backend_status", err).withMessage(msg)
		e.Status = status
		return e
	}
	e := newError(ErrorBackendUnavailable, "backend_error", err).withMessage("Internal Server Error")
	e.Status = http.StatusInternalServerError
	return e
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
