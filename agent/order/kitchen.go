package order

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/Chative-Voice-Ordering/agent/contract"
)

// Publisher is the queue the kitchen feed listens on.
type Publisher interface {
	Publish(ctx context.Context, payload any) (string, error)
}

var _ contractx.KitchenNotifier = (*Kitchen)(nil)

// Kitchen forwards stored orders to the kitchen display feed.
type Kitchen struct {
	pub Publisher
}

func NewKitchen(pub Publisher) *Kitchen {
	return &Kitchen{pub: pub}
}

type kitchenTicket struct {
	Event string                `json:"event"`
	Order contractx.StoredOrder `json:"order"`
}

func (k *Kitchen) Notify(ctx context.Context, order contractx.StoredOrder) error {
	if k == nil || k.pub == nil {
		return nil
	}
	messageID, err := k.pub.Publish(ctx, kitchenTicket{Event: "order.placed", Order: order})
	if err != nil {
		return fmt.Errorf("%w: publish order %s: %v", contractx.ErrTransport, order.ID, err)
	}
	log.Debug().Str("order_id", order.ID).Str("message_id", messageID).Msg("kitchen ticket published")
	return nil
}
