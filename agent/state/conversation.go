package state

import (
	"errors"
	"fmt"
	"strings"
	"time"

	cartx "github.com/tanpawarit/Chative-Voice-Ordering/agent/cart"
	contractx "github.com/tanpawarit/Chative-Voice-Ordering/agent/contract"
)

// DefaultMaxMessages bounds the history replayed to the agent on every turn.
const DefaultMaxMessages = 40

var (
	ErrMissingCustomer = errors.New("finalized conversation has no customer name")
	ErrInvalidLine     = errors.New("cart line is invalid")
)

// Conversation is the persistent source of truth for one text-mode ordering conversation.
// Only one turn may read-modify-write it at a time.
type Conversation struct {
	ID       string              `json:"id"`
	Messages []contractx.Message `json:"messages,omitempty"`
	Cart     cartx.Cart          `json:"cart"`

	// Set once finalize_order has been accepted and persisted.
	Finalized    bool   `json:"finalized,omitempty"`
	CustomerName string `json:"customer_name,omitempty"`
	OrderID      string `json:"order_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func NewConversation(id string, now time.Time) *Conversation {
	return &Conversation{
		ID:        id,
		Cart:      cartx.Cart{},
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}
}

func (c *Conversation) Touch(now time.Time) {
	c.UpdatedAt = now.UTC()
}

// Append records one message and keeps at most max messages, dropping the oldest.
func (c *Conversation) Append(role contractx.Role, content string, max int) {
	content = strings.TrimSpace(content)
	if content == "" {
		return
	}
	c.Messages = append(c.Messages, contractx.Message{Role: role, Content: content})
	if max > 0 && len(c.Messages) > max {
		c.Messages = append([]contractx.Message(nil), c.Messages[len(c.Messages)-max:]...)
	}
}

// Close marks the conversation as finalized under the given order.
func (c *Conversation) Close(customerName, orderID string, now time.Time) {
	c.Finalized = true
	c.CustomerName = customerName
	c.OrderID = orderID
	c.Touch(now)
}

func (c *Conversation) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return ErrInvalidSession
	}
	if c.Finalized && strings.TrimSpace(c.CustomerName) == "" {
		return ErrMissingCustomer
	}
	for i, line := range c.Cart {
		if strings.TrimSpace(line.Name) == "" {
			return fmt.Errorf("%w: index=%d has no name", ErrInvalidLine, i)
		}
		if line.Quantity < 1 {
			return fmt.Errorf("%w: index=%d quantity=%d", ErrInvalidLine, i, line.Quantity)
		}
		if line.Price != nil && *line.Price < 0 {
			return fmt.Errorf("%w: index=%d negative price", ErrInvalidLine, i)
		}
	}
	return nil
}
