package orchestratornode

import (
	"context"
	"fmt"

	contractx "github.com/tanpawarit/Chative-Voice-Ordering/agent/contract"
)

// RunTurn records the customer message, drives the agent loop over the stored cart and
// records its reply. The conversation is only changed when the loop succeeds.
func RunTurn(
	ctx context.Context,
	in *GraphState,
	runner contractx.TurnRunner,
	maxMessages int,
) (*GraphState, error) {
	if in == nil || in.Conversation == nil {
		return nil, fmt.Errorf("%w: graph conversation is nil", contractx.ErrValidation)
	}

	conv := in.Conversation
	messages := append(append([]contractx.Message(nil), conv.Messages...), contractx.Message{
		Role:    contractx.RoleUser,
		Content: in.Text,
	})

	resp, err := runner.Run(ctx, contractx.TurnRequest{
		Messages: messages,
		Cart:     conv.Cart,
	})
	if err != nil {
		return nil, err
	}

	conv.Append(contractx.RoleUser, in.Text, maxMessages)
	conv.Append(contractx.RoleAssistant, resp.Text, maxMessages)
	conv.Cart = resp.Cart
	in.Turn = resp
	return in, nil
}
