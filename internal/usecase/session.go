package usecase

import (
	"sync"
	"time"

	"multichat/internal/catalog"
	"multichat/internal/domain"
)

// Session is the live, in-memory aggregate of one conversation. Selection and
// Threads are mutated directly by the services; Snapshot produces the form
// handed to the SyncAdapter.
type Session struct {
	ConversationID string
	OwnerID        string
	Selection      *SelectionState
	Threads        *ThreadStore

	baseVersion int64
	existed     bool

	// savedVersion is the stored version every write expects to replace.
	saveMu       sync.Mutex
	savedVersion int64
}

// newSession builds a session from a stored aggregate, or a fresh one with an
// empty thread for every currently enabled family when stored is nil.
func newSession(c *catalog.Catalog, conversationID, ownerID string, selection domain.Selection, stored *domain.Aggregate) *Session {
	if ownerID == "" {
		ownerID = domain.AnonymousOwner
	}
	sel := NewSelectionState(c, selection)
	s := &Session{
		ConversationID: conversationID,
		OwnerID:        ownerID,
		Selection:      sel,
	}
	if stored == nil {
		threads := make(map[string]domain.Thread)
		for _, family := range sel.Enabled() {
			threads[family] = domain.Thread{}
		}
		s.Threads = NewThreadStore(threads)
		// the first write must create the item
		s.savedVersion = domain.NoStoredVersion
		return s
	}
	s.existed = true
	s.baseVersion = stored.Version
	s.savedVersion = stored.Version
	s.Threads = NewThreadStore(stored.Threads)
	for _, family := range sel.Enabled() {
		s.Threads.Ensure(family)
	}
	return s
}

// Existed reports whether the conversation was found in the store.
func (s *Session) Existed() bool { return s.existed }

// Snapshot returns a deep copy of the aggregate. Version grows with every
// mutation of either component, so a later snapshot never carries a smaller
// version than an earlier one.
func (s *Session) Snapshot() domain.Aggregate {
	threads, tv := s.Threads.Snapshot()
	selection, sv := s.Selection.Snapshot()
	return domain.Aggregate{
		ConversationID: s.ConversationID,
		OwnerID:        s.OwnerID,
		Selection:      selection,
		Threads:        threads,
		LastUpdated:    time.Now().UTC(),
		Version:        s.baseVersion + tv + sv,
	}
}
