package orchestratornode

import (
	"context"
	"errors"
	"fmt"
	"time"

	contractx "github.com/tanpawarit/Chative-Voice-Ordering/agent/contract"
	statex "github.com/tanpawarit/Chative-Voice-Ordering/agent/state"
)

func LoadOrCreateState(
	ctx context.Context,
	in *GraphState,
	store statex.Store,
) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	conv, err := loadOrCreateState(ctx, store, in.ConversationID, in.Now)
	if err != nil {
		return nil, err
	}
	if conv.Finalized {
		return nil, fmt.Errorf("%w: conversation=%s order=%s", contractx.ErrConversationClosed, conv.ID, conv.OrderID)
	}
	in.Conversation = conv
	return in, nil
}

func loadOrCreateState(
	ctx context.Context,
	store statex.Store,
	conversationID string,
	now time.Time,
) (*statex.Conversation, error) {
	conv, err := store.Load(ctx, conversationID)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, statex.ErrStateNotFound) {
		return nil, err
	}

	return statex.NewConversation(conversationID, now), nil
}
