package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"multichat/internal/domain"
)

// ConversationStore is the document-store surface for conversation
// aggregates. GetConversation returns nil, nil when nothing is stored.
// PutConversation writes only while the stored version equals expected
// (domain.NoStoredVersion: nothing stored) and returns
// domain.ErrVersionConflict otherwise.
type ConversationStore interface {
	GetConversation(ctx context.Context, conversationID string) (*domain.Aggregate, error)
	PutConversation(ctx context.Context, agg domain.Aggregate, expected int64) error
}

// ProfileStore is the document-store surface for per-user documents.
// GetProfile returns nil, nil for unknown users.
type ProfileStore interface {
	GetProfile(ctx context.Context, userID string) (*domain.UserProfile, error)
	CreateProfile(ctx context.Context, profile domain.UserProfile) error
	UpdateSelection(ctx context.Context, userID string, selection domain.Selection) error
}

// DocumentStore is implemented by the DynamoDB and SQLite repositories.
type DocumentStore interface {
	ConversationStore
	ProfileStore
}

// Syncer moves aggregates and selection preferences between memory and the
// document store.
type Syncer struct {
	store DocumentStore
	log   *slog.Logger
	now   func() time.Time
}

func NewSyncer(store DocumentStore, log *slog.Logger) (*Syncer, error) {
	if store == nil {
		return nil, errors.New("usecase: document store must not be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Syncer{store: store, log: log, now: time.Now}, nil
}

// Load fetches a stored aggregate. It returns nil, nil when the conversation
// does not exist yet.
func (s *Syncer) Load(ctx context.Context, conversationID string) (*domain.Aggregate, error) {
	agg, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, newError(ErrorPersistence, "conversation_load_error", err).withMessage("Could not load conversation")
	}
	if agg != nil && agg.OwnerID == "" {
		agg.OwnerID = domain.AnonymousOwner
	}
	return agg, nil
}

// Save writes one aggregate over the stored version expected. A conflict
// means another writer changed the conversation since it was loaded and is
// reported as ErrorSubmissionInFlight.
func (s *Syncer) Save(ctx context.Context, agg domain.Aggregate, expected int64) error {
	if strings.TrimSpace(agg.OwnerID) == "" {
		agg.OwnerID = domain.AnonymousOwner
	}
	agg.LastUpdated = s.now().UTC()
	err := s.store.PutConversation(ctx, agg, expected)
	if errors.Is(err, domain.ErrVersionConflict) {
		return newError(ErrorSubmissionInFlight, "version_conflict", err).
			withMessage("The conversation was changed by another request")
	}
	if err != nil {
		return newError(ErrorPersistence, "conversation_save_error", err)
	}
	return nil
}

// Commit saves the latest state of sess over the version this session last
// wrote or loaded. Calls are serialized per session and the snapshot is taken
// under that lock, so the last write reflects every mutation made before it.
//
// Only a version conflict is returned: the session no longer owns the stored
// aggregate. Other store failures are logged and swallowed; the in-memory
// session stays authoritative and the next call retries.
func (s *Syncer) Commit(ctx context.Context, sess *Session) error {
	sess.saveMu.Lock()
	defer sess.saveMu.Unlock()

	snap := sess.Snapshot()
	if snap.Version <= sess.savedVersion {
		return nil
	}
	err := s.Save(ctx, snap, sess.savedVersion)
	switch {
	case err == nil:
		sess.savedVersion = snap.Version
		return nil
	case CodeOf(err) == ErrorSubmissionInFlight:
		s.log.Warn("conversation changed by another writer", "conversation_id", snap.ConversationID, "expected", sess.savedVersion, "err", err)
		return err
	default:
		s.log.Warn("conversation persist failed", "conversation_id", snap.ConversationID, "version", snap.Version, "err", err)
		return nil
	}
}

// Persist is Commit for callers that cannot act on a conflict.
func (s *Syncer) Persist(ctx context.Context, sess *Session) {
	_ = s.Commit(ctx, sess)
}

// Profile returns the stored profile of userID, creating it with plan
// defaults on first sight. Anonymous callers have no profile.
func (s *Syncer) Profile(ctx context.Context, userID string, defaults domain.Selection) (*domain.UserProfile, error) {
	if userID == "" || userID == domain.AnonymousOwner {
		return nil, nil
	}
	p, err := s.store.GetProfile(ctx, userID)
	if err != nil {
		return nil, newError(ErrorPersistence, "profile_load_error", err)
	}
	if p != nil {
		return p, nil
	}
	created := domain.UserProfile{
		UserID:          userID,
		Email:           userID,
		Name:            "Unknown",
		Plan:            domain.PlanFree,
		Credits:         domain.DefaultCredits,
		RemainingMsg:    domain.DefaultRemainingMsg,
		SelectModelPref: defaults,
		CreatedAt:       s.now().UTC(),
	}
	if err := s.store.CreateProfile(ctx, created); err != nil {
		// a concurrent request may have created it; the in-memory default
		// is still a valid profile for this request
		s.log.Warn("profile create failed", "user_id", userID, "err", err)
	}
	return &created, nil
}

// SaveSelection merge-updates the user's selection preference. Failures are
// logged and swallowed.
func (s *Syncer) SaveSelection(ctx context.Context, userID string, selection domain.Selection) {
	if userID == "" || userID == domain.AnonymousOwner {
		return
	}
	if err := s.store.UpdateSelection(ctx, userID, selection); err != nil {
		s.log.Warn("selection persist failed", "user_id", userID, "err", err)
	}
}
