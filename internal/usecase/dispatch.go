package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"multichat/internal/domain"
)

// DefaultCallTimeout bounds every outbound model call.
const DefaultCallTimeout = 70 * time.Second

const (
	msgTimeout     = "The model took too long to respond. Try again later."
	msgUnavailable = "Error fetching response from model."
	msgRejected    = "The model rejected the request"
)

// Relayer issues one model call on behalf of a family.
type Relayer interface {
	Relay(ctx context.Context, in RelayInput) (RelayOutput, error)
}

// Persister saves the latest state of a session. Commit returns an error
// when another writer changed the stored conversation; Persist only logs.
type Persister interface {
	Commit(ctx context.Context, sess *Session) error
	Persist(ctx context.Context, sess *Session)
}

type DispatchInput struct {
	UserID   string
	Entitled bool
	Text     string
}

// Outcome is the settled result of one family's call.
type Outcome struct {
	Family     string
	SubModelID string
	Turn       domain.Turn
	Code       ErrorCode
	Skipped    bool
}

// Failed reports whether the family ended with an error turn.
func (o Outcome) Failed() bool { return o.Code != "" && !o.Skipped }

type SubmitResult struct {
	Quota    domain.QuotaDecision
	Outcomes []Outcome
}

// Dispatcher fans one user input out to every enabled family.
type Dispatcher struct {
	quota   *QuotaGate
	relay   Relayer
	persist Persister
	log     *slog.Logger
	timeout time.Duration
}

func NewDispatcher(q *QuotaGate, r Relayer, p Persister, log *slog.Logger, timeout time.Duration) (*Dispatcher, error) {
	if q == nil {
		return nil, errors.New("usecase: quota gate must not be nil")
	}
	if r == nil {
		return nil, errors.New("usecase: relayer must not be nil")
	}
	if p == nil {
		return nil, errors.New("usecase: persister must not be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return &Dispatcher{quota: q, relay: r, persist: p, log: log, timeout: timeout}, nil
}

// Dispatch checks quota, appends the user turn to every enabled family and
// starts one call per family. Each family's outcome is sent on the returned
// channel as soon as it settles; the channel is closed when all have.
//
// A submission is refused while any enabled family still has a pending turn,
// or when the stored conversation changed since sess was loaded. In the
// latter case the quota unit is already spent.
func (d *Dispatcher) Dispatch(ctx context.Context, sess *Session, in DispatchInput) (<-chan Outcome, domain.QuotaDecision, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil, domain.QuotaDecision{}, newError(ErrorInvalidInput, "empty_message", nil).withMessage("Message cannot be empty")
	}
	families := sess.Selection.Enabled()
	if len(families) == 0 {
		return nil, domain.QuotaDecision{}, newError(ErrorInvalidSelection, "no_family_enabled", nil).withMessage("Enable at least one model")
	}
	if family, busy := sess.Threads.PendingAmong(families); busy {
		return nil, domain.QuotaDecision{}, newError(ErrorSubmissionInFlight, "pending_reply", nil).
			withMessage(family + " is still answering the previous message")
	}

	decision, err := d.quota.Check(ctx, in.UserID, 1)
	if err != nil {
		return nil, decision, err
	}

	// every enabled thread shows the user turn before any call starts; the
	// write claims the stored conversation for this submission
	undo := sess.Threads.AppendUser(families, text)
	if err := d.persist.Commit(context.WithoutCancel(ctx), sess); err != nil {
		undo()
		return nil, decision, err
	}

	// calls run to completion even if the caller goes away
	callCtx := context.WithoutCancel(ctx)
	out := make(chan Outcome, len(families))
	var g errgroup.Group
	for _, family := range families {
		g.Go(func() error {
			out <- d.dispatchFamily(callCtx, sess, family, text, in.Entitled)
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		close(out)
	}()
	return out, decision, nil
}

// Submit runs Dispatch and waits for every family to settle. Outcomes are
// ordered like the enabled families.
func (d *Dispatcher) Submit(ctx context.Context, sess *Session, in DispatchInput) (SubmitResult, error) {
	families := sess.Selection.Enabled()
	ch, decision, err := d.Dispatch(ctx, sess, in)
	if err != nil {
		return SubmitResult{Quota: decision}, err
	}
	byFamily := make(map[string]Outcome, len(families))
	for o := range ch {
		byFamily[o.Family] = o
	}
	res := SubmitResult{Quota: decision, Outcomes: make([]Outcome, 0, len(byFamily))}
	for _, f := range families {
		if o, ok := byFamily[f]; ok {
			res.Outcomes = append(res.Outcomes, o)
		}
	}
	return res, nil
}

func (d *Dispatcher) dispatchFamily(ctx context.Context, sess *Session, family, text string, entitled bool) Outcome {
	subModel, ok := sess.Selection.Resolve(family, entitled)
	if !ok {
		d.log.Warn("skipping family without a valid model", "conversation_id", sess.ConversationID, "family", family)
		return Outcome{Family: family, Code: ErrorNoValidModel, Skipped: true}
	}

	slot, err := sess.Threads.AppendPending(family)
	if err != nil {
		d.log.Warn("skipping family with an outstanding reply", "conversation_id", sess.ConversationID, "family", family)
		return Outcome{Family: family, SubModelID: subModel, Code: ErrorSubmissionInFlight, Skipped: true}
	}
	d.persist.Persist(ctx, sess)

	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	res, err := d.relay.Relay(callCtx, RelayInput{
		Model:       subModel,
		Messages:    []domain.ChatMessage{{Role: domain.RoleUser, Content: text}},
		ParentModel: family,
	})

	var turn domain.Turn
	var code ErrorCode
	if err != nil {
		code = failureCode(err)
		turn = domain.Turn{
			Role:         domain.RoleAssistant,
			Content:      failureMessage(code, err),
			SourceFamily: family,
			ErrorCode:    string(code),
		}
		d.log.Warn("family call failed", "conversation_id", sess.ConversationID, "family", family, "model", subModel, "code", code, "err", err)
	} else {
		label := res.Model
		if label == "" {
			label = family
		}
		turn = domain.Turn{Role: domain.RoleAssistant, Content: res.AIResponse, SourceFamily: label}
	}

	sess.Threads.Resolve(slot, turn)
	d.persist.Persist(ctx, sess)
	return Outcome{Family: family, SubModelID: subModel, Turn: turn, Code: code}
}

func failureCode(err error) ErrorCode {
	if isTimeout(err) {
		return ErrorTimeout
	}
	switch code := CodeOf(err); code {
	case ErrorTimeout, ErrorBackendRejected, ErrorBackendUnavailable:
		return code
	case ErrorInvalidInput, ErrorInvalidSelection:
		return ErrorBackendRejected
	default:
		return ErrorBackendUnavailable
	}
}

func failureMessage(code ErrorCode, err error) string {
	switch code {
	case ErrorTimeout:
		return msgTimeout
	case ErrorBackendRejected:
		var ue *Error
		if errors.As(err, &ue) && ue.Message != "" {
			return msgRejected + ": " + ue.Message
		}
		return msgRejected + "."
	default:
		return msgUnavailable
	}
}
