package domain

import "time"

// AnonymousOwner is recorded as the owner of conversations saved without an
// authenticated caller.
const AnonymousOwner = "anonymous"

// Turn is a single message in one family's thread.
type Turn struct {
	Role         string `json:"role"`
	Content      string `json:"content"`
	SourceFamily string `json:"model,omitempty"`
	Pending      bool   `json:"loading,omitempty"`
	ErrorCode    string `json:"errorCode,omitempty"`
	CreatedAt    int64  `json:"createdAt,omitempty"`
}

// Thread is the ordered conversation rendered for one family.
type Thread []Turn

// Clone returns a copy that shares no backing array with t.
func (t Thread) Clone() Thread {
	if t == nil {
		return Thread{}
	}
	out := make(Thread, len(t))
	copy(out, t)
	return out
}

// HasPending reports whether any turn is still awaiting its reply.
func (t Thread) HasPending() bool {
	for _, turn := range t {
		if turn.Pending {
			return true
		}
	}
	return false
}

// SelectionEntry is the per-family enablement and chosen sub-model.
type SelectionEntry struct {
	FamilyID   string `json:"familyId"`
	Enabled    bool   `json:"enable"`
	SubModelID string `json:"modelId"`
}

// Selection maps family id to its entry.
type Selection map[string]SelectionEntry

func (s Selection) Clone() Selection {
	out := make(Selection, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Aggregate is the full persisted state of one conversation.
type Aggregate struct {
	ConversationID string
	OwnerID        string
	Selection      Selection
	Threads        map[string]Thread
	LastUpdated    time.Time
	Version        int64
}

// Clone deep-copies the aggregate so it can be handed to a writer while the
// live session keeps mutating.
func (a Aggregate) Clone() Aggregate {
	out := a
	out.Selection = a.Selection.Clone()
	out.Threads = make(map[string]Thread, len(a.Threads))
	for k, v := range a.Threads {
		out.Threads[k] = v.Clone()
	}
	return out
}

// QuotaDecision is the answer of the per-user request budget check.
type QuotaDecision struct {
	Allowed   bool `json:"allowed"`
	Remaining int  `json:"remaining"`
}

const (
	PlanFree            = "free"
	DefaultCredits      = 1000
	DefaultRemainingMsg = 5
)

// UserProfile is the per-user document holding plan data and model
// preferences.
type UserProfile struct {
	UserID          string
	Name            string
	Email           string
	Plan            string
	Credits         int
	RemainingMsg    int
	SelectModelPref Selection
	CreatedAt       time.Time
}

// Premium reports whether the profile's plan unlocks premium sub-models.
func (p UserProfile) Premium() bool {
	return p.Plan != "" && p.Plan != PlanFree
}
