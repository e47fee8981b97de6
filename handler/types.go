package handler

import (
	"time"

	"multichat/internal/catalog"
	"multichat/internal/domain"
	"multichat/internal/usecase"
)

type relayRequest struct {
	Model       string               `json:"model"`
	Msg         []domain.ChatMessage `json:"msg"`
	ParentModel string               `json:"parentModel"`
}

type relayResponse struct {
	AIResponse string `json:"aiResponse"`
	Model      string `json:"model"`
}

type remainingRequest struct {
	Token int `json:"token"`
}

type remainingResponse struct {
	Allowed        bool `json:"allowed"`
	RemainingToken int  `json:"remainingToken"`
}

type openRequest struct {
	ConversationID string `json:"chatId"`
}

type submitRequest struct {
	ConversationID string `json:"chatId"`
	Message        string `json:"message"`
}

type selectionRequest struct {
	ConversationID string `json:"chatId,omitempty"`
	Family         string `json:"familyId"`
	Enabled        bool   `json:"enable"`
	SubModelID     string `json:"modelId"`
}

type selectionResponse struct {
	Selection domain.Selection `json:"selection"`
}

type modelsResponse struct {
	Families []catalog.Family `json:"families"`
}

type conversationResponse struct {
	ConversationID string                   `json:"chatId"`
	OwnerID        string                   `json:"userEmail"`
	Selection      domain.Selection         `json:"selection"`
	Messages       map[string]domain.Thread `json:"messages"`
	LastUpdated    time.Time                `json:"lastUpdated"`
	Version        int64                    `json:"version"`
}

func toConversation(agg domain.Aggregate) conversationResponse {
	return conversationResponse{
		ConversationID: agg.ConversationID,
		OwnerID:        agg.OwnerID,
		Selection:      agg.Selection,
		Messages:       agg.Threads,
		LastUpdated:    agg.LastUpdated,
		Version:        agg.Version,
	}
}

const (
	outcomeOK      = "ok"
	outcomeError   = "error"
	outcomeSkipped = "skipped"
)

type outcomeResponse struct {
	Family     string       `json:"familyId"`
	SubModelID string       `json:"modelId,omitempty"`
	Status     string       `json:"status"`
	Code       string       `json:"code,omitempty"`
	Turn       *domain.Turn `json:"turn,omitempty"`
}

func toOutcome(o usecase.Outcome) outcomeResponse {
	out := outcomeResponse{Family: o.Family, SubModelID: o.SubModelID, Code: string(o.Code)}
	switch {
	case o.Skipped:
		out.Status = outcomeSkipped
	case o.Failed():
		out.Status = outcomeError
	default:
		out.Status = outcomeOK
	}
	if !o.Skipped {
		turn := o.Turn
		out.Turn = &turn
	}
	return out
}

type submitResponse struct {
	Conversation conversationResponse `json:"conversation"`
	Remaining    int                  `json:"remaining"`
	Outcomes     []outcomeResponse    `json:"outcomes"`
}

type errorResponse struct {
	Error          string `json:"error"`
	Code           string `json:"code,omitempty"`
	RemainingToken *int   `json:"remainingToken,omitempty"`
}
