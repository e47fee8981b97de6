package usecase

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"multichat/internal/catalog"
	"multichat/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testCatalog has three free families and one premium family:
//
//	A: a-1 (default), a-2, a-pro (premium)
//	B: b-1
//	C: c-1 (default), c-2
//	P: p-1 (premium family, premium sub-model)
func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c, err := catalog.New([]catalog.Family{
		{ID: "A", DefaultSubModel: "a-1", SubModels: []catalog.SubModel{{ID: "a-1"}, {ID: "a-2"}, {ID: "a-pro", Premium: true}}},
		{ID: "B", SubModels: []catalog.SubModel{{ID: "b-1"}}},
		{ID: "C", SubModels: []catalog.SubModel{{ID: "c-1"}, {ID: "c-2"}}},
		{ID: "P", Premium: true, SubModels: []catalog.SubModel{{ID: "p-1", Premium: true}}},
	})
	require.NoError(t, err)
	return c
}

// ---------------------------------------------------------------------------
// fakes
// ---------------------------------------------------------------------------

type fakeDecisions struct {
	mu       sync.Mutex
	decision domain.QuotaDecision
	err      error
	calls    int
	lastCost int
	// before runs on every call after it is counted
	before func()
}

func (f *fakeDecisions) Decide(_ context.Context, _ string, requested int) (domain.QuotaDecision, error) {
	f.mu.Lock()
	f.calls++
	f.lastCost = requested
	decision, err, before := f.decision, f.err, f.before
	f.mu.Unlock()
	if before != nil {
		before()
	}
	return decision, err
}

func (f *fakeDecisions) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeRelay struct {
	mu    sync.Mutex
	calls []RelayInput
	reply func(ctx context.Context, in RelayInput) (RelayOutput, error)
}

func (f *fakeRelay) Relay(ctx context.Context, in RelayInput) (RelayOutput, error) {
	f.mu.Lock()
	f.calls = append(f.calls, in)
	reply := f.reply
	f.mu.Unlock()
	if reply != nil {
		return reply(ctx, in)
	}
	return RelayOutput{AIResponse: "reply from " + in.Model, Model: in.ParentModel}, nil
}

func (f *fakeRelay) Calls() []RelayInput {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]RelayInput, len(f.calls))
	copy(out, f.calls)
	return out
}

// memStore is an in-memory DocumentStore with the same conditional write as
// the real stores.
type memStore struct {
	mu       sync.Mutex
	convs    map[string]domain.Aggregate
	profiles map[string]domain.UserProfile
	puts     int

	getErr     error
	putErr     error
	profileErr error
	updateErr  error
}

func newMemStore() *memStore {
	return &memStore{
		convs:    make(map[string]domain.Aggregate),
		profiles: make(map[string]domain.UserProfile),
	}
}

func (m *memStore) GetConversation(_ context.Context, id string) (*domain.Aggregate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	agg, ok := m.convs[id]
	if !ok {
		return nil, nil
	}
	out := agg.Clone()
	return &out, nil
}

func (m *memStore) PutConversation(_ context.Context, agg domain.Aggregate, expected int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	cur, ok := m.convs[agg.ConversationID]
	switch {
	case !ok && expected != domain.NoStoredVersion,
		ok && (expected == domain.NoStoredVersion || cur.Version != expected):
		return domain.ErrVersionConflict
	}
	m.convs[agg.ConversationID] = agg.Clone()
	m.puts++
	return nil
}

func (m *memStore) GetProfile(_ context.Context, userID string) (*domain.UserProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.profileErr != nil {
		return nil, m.profileErr
	}
	p, ok := m.profiles[userID]
	if !ok {
		return nil, nil
	}
	p.SelectModelPref = p.SelectModelPref.Clone()
	return &p, nil
}

func (m *memStore) CreateProfile(_ context.Context, p domain.UserProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.profiles[p.UserID]; ok {
		return nil
	}
	p.SelectModelPref = p.SelectModelPref.Clone()
	m.profiles[p.UserID] = p
	return nil
}

func (m *memStore) UpdateSelection(_ context.Context, userID string, sel domain.Selection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	p := m.profiles[userID]
	p.UserID = userID
	p.SelectModelPref = sel.Clone()
	m.profiles[userID] = p
	return nil
}

func (m *memStore) stored(id string) (domain.Aggregate, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	agg, ok := m.convs[id]
	return agg.Clone(), ok
}

func (m *memStore) putCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.puts
}

// ---------------------------------------------------------------------------
// harness
// ---------------------------------------------------------------------------

type harness struct {
	catalog    *catalog.Catalog
	store      *memStore
	decisions  *fakeDecisions
	relay      *fakeRelay
	syncer     *Syncer
	quota      *QuotaGate
	dispatcher *Dispatcher
	chat       *ChatService
}

func newHarness(t *testing.T, timeout time.Duration) *harness {
	t.Helper()
	return newHarnessOn(t, timeout, newMemStore())
}

// newHarnessOn builds a harness over store, standing in for another process
// when the store is shared.
func newHarnessOn(t *testing.T, timeout time.Duration, store *memStore) *harness {
	t.Helper()
	h := &harness{
		catalog:   testCatalog(t),
		store:     store,
		decisions: &fakeDecisions{decision: domain.QuotaDecision{Allowed: true, Remaining: 4}},
		relay:     &fakeRelay{},
	}
	log := discardLogger()
	var err error
	h.syncer, err = NewSyncer(h.store, log)
	require.NoError(t, err)
	h.quota, err = NewQuotaGate(h.decisions, log)
	require.NoError(t, err)
	h.dispatcher, err = NewDispatcher(h.quota, h.relay, h.syncer, log, timeout)
	require.NoError(t, err)
	h.chat, err = NewChatService(h.catalog, h.syncer, h.quota, h.dispatcher, log)
	require.NoError(t, err)
	return h
}

// session returns a fresh session with A and C enabled and B disabled.
func (h *harness) session(id, owner string) *Session {
	return newSession(h.catalog, id, owner, domain.Selection{
		"B": {FamilyID: "B", Enabled: false, SubModelID: "b-1"},
	}, nil)
}
