package contract

import (
	"context"

	cartx "github.com/tanpawarit/Chative-Voice-Ordering/agent/cart"
)

// TurnRunner drives one text-mode request through the agent until it stops calling tools.
type TurnRunner interface {
	Run(ctx context.Context, req TurnRequest) (TurnResponse, error)
}

// ToolApplier is the shared mutation contract used by both transports.
type ToolApplier interface {
	Apply(c cartx.Cart, tool string, args map[string]any) cartx.Result
}

// OrderRepository persists a finalized order and returns its stored identifier.
type OrderRepository interface {
	Save(ctx context.Context, order FinalizedOrder) (string, error)
}

// KitchenNotifier forwards a stored order to the kitchen feed.
type KitchenNotifier interface {
	Notify(ctx context.Context, order StoredOrder) error
}

// CustomizationSource reports which customizations the agent may currently offer.
type CustomizationSource interface {
	EnabledCustomizations(ctx context.Context) (Customizations, error)
}
