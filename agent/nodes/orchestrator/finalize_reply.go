package orchestratornode

import (
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/Chative-Voice-Ordering/agent/contract"
)

func FinalizeReply(in *GraphState) (GraphOutput, error) {
	if in == nil || in.Conversation == nil {
		return GraphOutput{}, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	conv := in.Conversation
	return GraphOutput{
		Reply:   strings.TrimSpace(in.Turn.Text),
		Cart:    conv.Cart.Clone(),
		Total:   conv.Cart.Total(),
		OrderID: conv.OrderID,
		Closed:  conv.Finalized,
	}, nil
}
