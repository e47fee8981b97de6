package usecase

import (
	"sync"

	"multichat/internal/catalog"
	"multichat/internal/domain"
)

// SelectionState is the per-user family -> {enabled, sub-model} mapping. It
// always holds an entry for every catalog family.
type SelectionState struct {
	catalog *catalog.Catalog

	mu      sync.RWMutex
	entries domain.Selection
	version int64
}

// NewSelectionState normalizes saved against the catalog: missing families
// are synthesized from defaults, invalid sub-model ids fall back to the
// family default and families no longer in the catalog are dropped.
func NewSelectionState(c *catalog.Catalog, saved domain.Selection) *SelectionState {
	return &SelectionState{catalog: c, entries: normalizeSelection(c, saved)}
}

func normalizeSelection(c *catalog.Catalog, saved domain.Selection) domain.Selection {
	out := make(domain.Selection)
	for _, f := range c.Families() {
		entry, ok := saved[f.ID]
		if !ok {
			// premium families start hidden until the user opts in
			entry = domain.SelectionEntry{Enabled: !f.Premium}
		}
		entry.FamilyID = f.ID
		if !c.Contains(f.ID, entry.SubModelID) {
			entry.SubModelID = f.DefaultSubModel
		}
		out[f.ID] = entry
	}
	return out
}

// SetEnabled toggles a family. Disabling keeps the chosen sub-model so it
// survives a later re-enable.
func (s *SelectionState) SetEnabled(family string, enabled bool) error {
	f, ok := s.catalog.Family(family)
	if !ok {
		return newError(ErrorInvalidSelection, "unknown_family", nil).withMessage("Unknown model family: " + family)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.entries[family]
	entry.FamilyID = family
	entry.Enabled = enabled
	if enabled && entry.SubModelID == "" {
		entry.SubModelID = f.DefaultSubModel
	}
	s.entries[family] = entry
	s.version++
	return nil
}

// SetSubModel chooses the concrete model for a family. Premium sub-models
// are refused unless entitled is true.
func (s *SelectionState) SetSubModel(family, subModelID string, entitled bool) error {
	f, ok := s.catalog.Family(family)
	if !ok {
		return newError(ErrorInvalidSelection, "unknown_family", nil).withMessage("Unknown model family: " + family)
	}
	sm, ok := f.SubModel(subModelID)
	if !ok {
		return newError(ErrorInvalidSelection, "unknown_sub_model", nil).
			withMessage(subModelID + " is not a " + f.Name + " model")
	}
	if sm.Premium && !entitled {
		return newError(ErrorInvalidSelection, "premium_required", nil).
			withMessage(sm.Name + " requires a premium plan")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.entries[family]
	entry.FamilyID = family
	entry.SubModelID = subModelID
	s.entries[family] = entry
	s.version++
	return nil
}

// Entry returns the entry of a family.
func (s *SelectionState) Entry(family string) (domain.SelectionEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[family]
	return e, ok
}

// Enabled lists enabled families in catalog order.
func (s *SelectionState) Enabled() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for _, f := range s.catalog.Families() {
		if s.entries[f.ID].Enabled {
			out = append(out, f.ID)
		}
	}
	return out
}

// Resolve returns the sub-model id to call for a family: the selection when
// it is valid and usable, otherwise the family default. It reports false when
// neither can be used, e.g. a premium-only family after a plan downgrade.
func (s *SelectionState) Resolve(family string, entitled bool) (string, bool) {
	f, ok := s.catalog.Family(family)
	if !ok {
		return "", false
	}
	entry, _ := s.Entry(family)
	for _, id := range []string{entry.SubModelID, f.DefaultSubModel} {
		sm, ok := f.SubModel(id)
		if !ok {
			continue
		}
		if sm.Premium && !entitled {
			continue
		}
		return sm.ID, true
	}
	return "", false
}

// Snapshot copies the current entries together with the mutation count they
// correspond to.
func (s *SelectionState) Snapshot() (domain.Selection, int64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries.Clone(), s.version
}
