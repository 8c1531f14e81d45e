package contract

import (
	"time"

	cartx "github.com/tanpawarit/Chative-Voice-Ordering/agent/cart"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type TurnRequest struct {
	Messages []Message  `json:"messages"`
	Cart     cartx.Cart `json:"cart"`
}

type TurnResponse struct {
	Text       string          `json:"text"`
	Cart       cartx.Cart      `json:"cart"`
	Finalize   *cartx.Finalize `json:"finalize,omitempty"`
	Iterations int             `json:"-"`
}

type FinalizedOrder struct {
	CustomerName string     `json:"customer_name"`
	Lines        cartx.Cart `json:"lines"`
	Source       string     `json:"source,omitempty"`
	// Reference makes submission idempotent: orders sharing a reference are stored once.
	Reference string `json:"reference,omitempty"`
}

type StoredOrder struct {
	ID           string     `json:"id"`
	CustomerName string     `json:"customer_name"`
	Lines        cartx.Cart `json:"lines"`
	Total        float64    `json:"total"`
	Source       string     `json:"source,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

const (
	SourceText  = "text"
	SourceVoice = "voice"
)

// Customizations lists the milks and syrups currently offered. Empty slices mean none.
type Customizations struct {
	Milks  []string `json:"milks"`
	Syrups []string `json:"syrups"`
}
