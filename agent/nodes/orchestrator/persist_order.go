package orchestratornode

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/Chative-Voice-Ordering/agent/contract"
	statex "github.com/tanpawarit/Chative-Voice-Ordering/agent/state"
)

// PersistOrder stores the cart once the agent signalled finalize and closes the conversation.
// An empty cart is never stored. A kitchen notification failure does not undo the order.
func PersistOrder(
	ctx context.Context,
	in *GraphState,
	orders contractx.OrderRepository,
	kitchen contractx.KitchenNotifier,
) (*GraphState, error) {
	if in == nil || in.Conversation == nil {
		return nil, fmt.Errorf("%w: graph conversation is nil", contractx.ErrValidation)
	}

	finalize := in.Turn.Finalize
	if finalize == nil {
		return in, nil
	}

	conv := in.Conversation
	if len(conv.Cart) == 0 {
		log.Warn().Str("conversation_id", conv.ID).Msg("finalize ignored for empty cart")
		return in, nil
	}

	order := contractx.FinalizedOrder{
		CustomerName: finalize.CustomerName,
		Lines:        conv.Cart.Clone(),
		Source:       contractx.SourceText,
		Reference:    orderReference(conv),
	}
	id, err := orders.Save(ctx, order)
	if err != nil {
		return nil, fmt.Errorf("save order: %w", err)
	}

	conv.Close(finalize.CustomerName, id, in.Now)
	stored := &contractx.StoredOrder{
		ID:           id,
		CustomerName: order.CustomerName,
		Lines:        order.Lines,
		Total:        order.Lines.Total(),
		Source:       order.Source,
		CreatedAt:    in.Now,
	}
	in.Order = stored

	if err := kitchen.Notify(ctx, *stored); err != nil {
		log.Error().Err(err).Str("conversation_id", conv.ID).Str("order_id", id).Msg("kitchen notification failed")
	}

	log.Info().
		Str("conversation_id", conv.ID).
		Str("order_id", id).
		Float64("total", stored.Total).
		Msg("order placed")
	return in, nil
}

// orderReference is stable across retries of the same conversation, so a finalize replayed
// after a failed state save does not store a second order.
func orderReference(conv *statex.Conversation) string {
	return conv.ID + "@" + conv.CreatedAt.UTC().Format(time.RFC3339Nano)
}
