package orchestratornode

import (
	"errors"
	"strings"
	"time"

	cartx "github.com/tanpawarit/Chative-Voice-Ordering/agent/cart"
	contractx "github.com/tanpawarit/Chative-Voice-Ordering/agent/contract"
	statex "github.com/tanpawarit/Chative-Voice-Ordering/agent/state"
)

var (
	ErrInvalidMessage      = errors.New("message is empty")
	ErrInvalidConversation = errors.New("conversation id is empty")
)

type GraphInput struct {
	ConversationID string
	Text           string
}

type GraphOutput struct {
	Reply   string
	Cart    cartx.Cart
	Total   float64
	OrderID string
	Closed  bool
}

type GraphState struct {
	ConversationID string
	Text           string
	Now            time.Time

	Conversation *statex.Conversation
	Turn         contractx.TurnResponse
	Order        *contractx.StoredOrder
}

func ValidateRequest(in GraphInput, nowFn func() time.Time) (*GraphState, error) {
	conversationID := strings.TrimSpace(in.ConversationID)
	if conversationID == "" {
		return nil, ErrInvalidConversation
	}

	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil, ErrInvalidMessage
	}

	return &GraphState{
		ConversationID: conversationID,
		Text:           text,
		Now:            nowFn().UTC(),
	}, nil
}
