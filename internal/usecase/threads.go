package usecase

import (
	"errors"
	"sync"
	"time"

	"multichat/internal/domain"
)

var errPendingOutstanding = errors.New("usecase: family already has a pending turn")

// PendingSlot identifies one placeholder turn. It is returned when the
// placeholder is appended and consumed exactly once by Resolve.
type PendingSlot struct {
	Family string
	index  int
	token  uint64
}

// ThreadStore holds one ordered thread per family. Mutations of different
// families commute; mutations of one family are applied in call order.
type ThreadStore struct {
	mu      sync.Mutex
	threads map[string]domain.Thread
	slots   map[string]PendingSlot
	nextTok uint64
	version int64
	now     func() time.Time
}

// NewThreadStore starts from a copy of initial.
func NewThreadStore(initial map[string]domain.Thread) *ThreadStore {
	ts := &ThreadStore{
		threads: make(map[string]domain.Thread, len(initial)),
		slots:   make(map[string]PendingSlot),
		now:     time.Now,
	}
	for family, thread := range initial {
		ts.threads[family] = thread.Clone()
	}
	return ts
}

// Ensure creates an empty thread for family if it has none.
func (ts *ThreadStore) Ensure(family string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if _, ok := ts.threads[family]; ok {
		return
	}
	ts.threads[family] = domain.Thread{}
	ts.version++
}

// PendingAmong returns the first family in families whose thread still has a
// pending turn.
func (ts *ThreadStore) PendingAmong(families []string) (string, bool) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	for _, f := range families {
		if ts.threads[f].HasPending() {
			return f, true
		}
	}
	return "", false
}

// HasPending reports whether any thread still has a pending turn.
func (ts *ThreadStore) HasPending() bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	for _, thread := range ts.threads {
		if thread.HasPending() {
			return true
		}
	}
	return false
}

// AppendUser adds the same user turn to every listed family in one step. The
// returned func removes those turns again as long as nothing was appended
// after them.
func (ts *ThreadStore) AppendUser(families []string, text string) (undo func()) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	at := ts.now().UnixMilli()
	lengths := make(map[string]int, len(families))
	for _, f := range families {
		lengths[f] = len(ts.threads[f])
		ts.threads[f] = append(ts.threads[f], domain.Turn{
			Role:      domain.RoleUser,
			Content:   text,
			CreatedAt: at,
		})
	}
	ts.version++

	return func() {
		ts.mu.Lock()
		defer ts.mu.Unlock()
		for f, n := range lengths {
			if len(ts.threads[f]) == n+1 {
				ts.threads[f] = ts.threads[f][:n]
			}
		}
		ts.version++
	}
}

// AppendPending adds the assistant placeholder for family and returns its
// slot. A family holds at most one pending turn at a time.
func (ts *ThreadStore) AppendPending(family string) (PendingSlot, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.threads[family].HasPending() {
		return PendingSlot{}, errPendingOutstanding
	}
	ts.nextTok++
	slot := PendingSlot{Family: family, index: len(ts.threads[family]), token: ts.nextTok}
	ts.threads[family] = append(ts.threads[family], domain.Turn{
		Role:         domain.RoleAssistant,
		SourceFamily: family,
		Pending:      true,
		CreatedAt:    ts.now().UnixMilli(),
	})
	ts.slots[family] = slot
	ts.version++
	return slot, nil
}

// Resolve replaces the placeholder held by slot with turn. If the slot was
// already consumed or its placeholder is gone, turn is appended instead. It
// reports whether a placeholder was replaced.
func (ts *ThreadStore) Resolve(slot PendingSlot, turn domain.Turn) bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	turn.Pending = false
	if turn.CreatedAt == 0 {
		turn.CreatedAt = ts.now().UnixMilli()
	}
	ts.version++

	thread := ts.threads[slot.Family]
	held, ok := ts.slots[slot.Family]
	if ok && held.token == slot.token && slot.index < len(thread) && thread[slot.index].Pending {
		delete(ts.slots, slot.Family)
		thread[slot.index] = turn
		return true
	}
	ts.threads[slot.Family] = append(thread, turn)
	return false
}

// SettleStale converts pending turns created before cutoff into terminal
// error turns. Such turns belong to invocations that never resolved them.
func (ts *ThreadStore) SettleStale(cutoff time.Time, content string) int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	settled := 0
	for family, thread := range ts.threads {
		for i, turn := range thread {
			if !turn.Pending || turn.CreatedAt >= cutoff.UnixMilli() {
				continue
			}
			if held, ok := ts.slots[family]; ok && held.index == i {
				continue
			}
			thread[i] = domain.Turn{
				Role:         domain.RoleAssistant,
				Content:      content,
				SourceFamily: turn.SourceFamily,
				ErrorCode:    string(ErrorTimeout),
				CreatedAt:    turn.CreatedAt,
			}
			settled++
		}
	}
	if settled > 0 {
		ts.version++
	}
	return settled
}

// Thread returns a copy of one family's thread.
func (ts *ThreadStore) Thread(family string) domain.Thread {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.threads[family].Clone()
}

// Snapshot copies all threads together with the mutation count they
// correspond to.
func (ts *ThreadStore) Snapshot() (map[string]domain.Thread, int64) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	out := make(map[string]domain.Thread, len(ts.threads))
	for family, thread := range ts.threads {
		out[family] = thread.Clone()
	}
	return out, ts.version
}
