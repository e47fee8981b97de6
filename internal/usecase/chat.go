package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"multichat/internal/catalog"
	"multichat/internal/domain"
)

const interruptedMessage = "The response was interrupted. Send the message again."

type OpenInput struct {
	ConversationID string
	UserID         string
}

type SelectionInput struct {
	ConversationID string
	UserID         string
	Family         string
	Enabled        bool
	SubModelID     string
}

type SubmitInput struct {
	ConversationID string
	UserID         string
	Text           string
}

type SubmitOutput struct {
	Conversation domain.Aggregate
	Quota        domain.QuotaDecision
	Outcomes     []Outcome
}

// ChatService is the request-level entry point used by the handler.
type ChatService struct {
	catalog    *catalog.Catalog
	syncer     *Syncer
	quota      *QuotaGate
	dispatcher *Dispatcher
	log        *slog.Logger
	staleAfter time.Duration
	now        func() time.Time

	inflightMu sync.Mutex
	inflight   map[string]struct{}
}

func NewChatService(c *catalog.Catalog, s *Syncer, q *QuotaGate, d *Dispatcher, log *slog.Logger) (*ChatService, error) {
	if c == nil {
		return nil, errors.New("usecase: catalog must not be nil")
	}
	if s == nil {
		return nil, errors.New("usecase: syncer must not be nil")
	}
	if q == nil {
		return nil, errors.New("usecase: quota gate must not be nil")
	}
	if d == nil {
		return nil, errors.New("usecase: dispatcher must not be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	return &ChatService{
		catalog:    c,
		syncer:     s,
		quota:      q,
		dispatcher: d,
		log:        log,
		staleAfter: 2 * d.timeout,
		now:        time.Now,
		inflight:   make(map[string]struct{}),
	}, nil
}

// Models returns the catalog families in display order.
func (s *ChatService) Models() []catalog.Family {
	return s.catalog.Families()
}

// Open loads a conversation, starting a fresh one when the id is empty or
// unknown. A conversation with replies still being produced elsewhere is
// returned as stored and not written.
func (s *ChatService) Open(ctx context.Context, in OpenInput) (domain.Aggregate, error) {
	sess, _, err := s.openSession(ctx, in.ConversationID, in.UserID)
	if err != nil {
		return domain.Aggregate{}, err
	}
	if !sess.Threads.HasPending() {
		s.syncer.Persist(ctx, sess)
	}
	return sess.Snapshot(), nil
}

// SetEnabled toggles a family for the user. With a conversation id the
// conversation's aggregate is updated too; enabling gives the family an
// empty thread there when it has none. Changes to a conversation are refused
// while a submission on it is in flight.
func (s *ChatService) SetEnabled(ctx context.Context, in SelectionInput) (domain.Selection, error) {
	return s.mutateSelection(ctx, in, func(sess *Session, _ bool) error {
		if err := sess.Selection.SetEnabled(in.Family, in.Enabled); err != nil {
			return err
		}
		if in.Enabled {
			sess.Threads.Ensure(in.Family)
		}
		return nil
	})
}

// SetSubModel chooses a family's sub-model. Premium sub-models need a
// premium plan.
func (s *ChatService) SetSubModel(ctx context.Context, in SelectionInput) (domain.Selection, error) {
	return s.mutateSelection(ctx, in, func(sess *Session, entitled bool) error {
		return sess.Selection.SetSubModel(in.Family, in.SubModelID, entitled)
	})
}

func (s *ChatService) mutateSelection(ctx context.Context, in SelectionInput, mutate func(*Session, bool) error) (domain.Selection, error) {
	if strings.TrimSpace(in.Family) == "" {
		return nil, newError(ErrorInvalidInput, "empty_family", nil).withMessage("Model family is required")
	}

	var sess *Session
	var profile *domain.UserProfile
	var err error
	if convID := strings.TrimSpace(in.ConversationID); convID != "" {
		if !s.acquire(convID) {
			return nil, errConversationBusy()
		}
		defer s.release(convID)

		sess, profile, err = s.openSession(ctx, convID, in.UserID)
		if err != nil {
			return nil, err
		}
		if sess.Threads.HasPending() {
			return nil, newError(ErrorSubmissionInFlight, "pending_reply", nil).
				withMessage("Wait for the current replies before changing models")
		}
	} else {
		profile = s.profile(ctx, in.UserID)
		var pref domain.Selection
		if profile != nil {
			pref = profile.SelectModelPref
		}
		sess = newSession(s.catalog, "", in.UserID, pref, nil)
	}

	if err := mutate(sess, profile != nil && profile.Premium()); err != nil {
		return nil, err
	}

	// the conversation is written first so a conflicting change leaves the
	// profile untouched too
	if sess.ConversationID != "" {
		if err := s.syncer.Commit(ctx, sess); err != nil {
			return nil, err
		}
	}
	selection, _ := sess.Selection.Snapshot()
	s.syncer.SaveSelection(ctx, in.UserID, selection)
	return selection, nil
}

// Submit sends text to every enabled family of the conversation and waits
// until each has settled. Only one submission per conversation may run at a
// time in this process; across processes the pending turns stored with the
// aggregate and the conditional first write refuse overlapping submissions.
func (s *ChatService) Submit(ctx context.Context, in SubmitInput) (SubmitOutput, error) {
	convID := strings.TrimSpace(in.ConversationID)
	if convID == "" {
		convID = newUUID()
	}
	if !s.acquire(convID) {
		return SubmitOutput{}, errConversationBusy()
	}
	defer s.release(convID)

	sess, profile, err := s.openSession(ctx, convID, in.UserID)
	if err != nil {
		return SubmitOutput{}, err
	}

	res, err := s.dispatcher.Submit(ctx, sess, DispatchInput{
		UserID:   in.UserID,
		Entitled: profile != nil && profile.Premium(),
		Text:     in.Text,
	})
	if err != nil {
		return SubmitOutput{Conversation: sess.Snapshot(), Quota: res.Quota}, err
	}
	return SubmitOutput{Conversation: sess.Snapshot(), Quota: res.Quota, Outcomes: res.Outcomes}, nil
}

// Remaining reports the user's budget, consuming cost units when cost > 0.
func (s *ChatService) Remaining(ctx context.Context, userID string, cost int) (domain.QuotaDecision, error) {
	return s.quota.Check(ctx, userID, cost)
}

func (s *ChatService) openSession(ctx context.Context, conversationID, userID string) (*Session, *domain.UserProfile, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		conversationID = newUUID()
	}
	profile := s.profile(ctx, userID)

	stored, err := s.syncer.Load(ctx, conversationID)
	if err != nil {
		return nil, nil, err
	}

	var selection domain.Selection
	switch {
	case profile != nil && len(profile.SelectModelPref) > 0:
		selection = profile.SelectModelPref
	case stored != nil:
		selection = stored.Selection
	}

	owner := userID
	if stored != nil && stored.OwnerID != "" && stored.OwnerID != domain.AnonymousOwner {
		owner = stored.OwnerID
	}
	sess := newSession(s.catalog, conversationID, owner, selection, stored)
	if stored != nil {
		if n := sess.Threads.SettleStale(s.now().Add(-s.staleAfter), interruptedMessage); n > 0 {
			s.log.Warn("settled interrupted replies", "conversation_id", conversationID, "count", n)
		}
	}
	return sess, profile, nil
}

// profile loads or creates the caller's profile. Lookup failures are logged
// and treated as "no profile": defaults apply and premium stays locked.
func (s *ChatService) profile(ctx context.Context, userID string) *domain.UserProfile {
	defaults := normalizeSelection(s.catalog, nil)
	p, err := s.syncer.Profile(ctx, userID, defaults)
	if err != nil {
		s.log.Warn("profile lookup failed", "user_id", userID, "err", err)
		return nil
	}
	return p
}

func errConversationBusy() *Error {
	return newError(ErrorSubmissionInFlight, "conversation_busy", nil).
		withMessage("A message is already being answered in this conversation")
}

func (s *ChatService) acquire(conversationID string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, busy := s.inflight[conversationID]; busy {
		return false
	}
	s.inflight[conversationID] = struct{}{}
	return true
}

func (s *ChatService) release(conversationID string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, conversationID)
}

var newUUID = func() string {
	return uuid.NewString()
}
