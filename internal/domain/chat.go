package domain

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is the provider-agnostic chat message shape sent to the AI
// gateway and accepted by the relay endpoint.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
