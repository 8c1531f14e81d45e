package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino/compose"
	"github.com/google/uuid"
	contractx "github.com/tanpawarit/Chative-Voice-Ordering/agent/contract"
	nodex "github.com/tanpawarit/Chative-Voice-Ordering/agent/nodes/orchestrator"
	statex "github.com/tanpawarit/Chative-Voice-Ordering/agent/state"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrInvalidMessage      = nodex.ErrInvalidMessage
	ErrInvalidConversation = nodex.ErrInvalidConversation
)

type Config struct {
	// MaxMessages bounds the stored history per conversation.
	MaxMessages int
}

// Reply is the outcome of one stateful customer turn.
type Reply = nodex.GraphOutput

type Orchestrator struct {
	store   statex.Store
	runner  contractx.TurnRunner
	orders  contractx.OrderRepository
	kitchen contractx.KitchenNotifier

	graphRunner compose.Runnable[nodex.GraphInput, nodex.GraphOutput]
	locks       *keyedMutex

	maxMessages int

	now func() time.Time
}

func New(
	store statex.Store,
	runner contractx.TurnRunner,
	orders contractx.OrderRepository,
	kitchen contractx.KitchenNotifier,
	cfg Config,
) (*Orchestrator, error) {
	if store == nil {
		return nil, errors.New("state store is required")
	}
	if runner == nil {
		return nil, errors.New("turn runner is required")
	}
	if orders == nil {
		orders = noopOrderRepository{}
	}
	if kitchen == nil {
		kitchen = noopKitchenNotifier{}
	}

	maxMessages := cfg.MaxMessages
	if maxMessages <= 0 {
		maxMessages = statex.DefaultMaxMessages
	}

	o := &Orchestrator{
		store:       store,
		runner:      runner,
		orders:      orders,
		kitchen:     kitchen,
		locks:       newKeyedMutex(),
		maxMessages: maxMessages,
		now:         time.Now,
	}

	graphRunner, err := o.compileHandleMessageGraph(context.Background())
	if err != nil {
		return nil, err
	}
	o.graphRunner = graphRunner

	return o, nil
}

// HandleMessage runs one customer turn. Turns on the same conversation are serialised.
func (o *Orchestrator) HandleMessage(ctx context.Context, conversationID string, text string) (Reply, error) {
	key := strings.TrimSpace(conversationID)

	ctx, span := tracer.Start(ctx, "handle message", trace.WithAttributes(attribute.String("conversation.id", key)))
	defer span.End()

	unlock := o.locks.lock(key)
	defer unlock()

	out, err := o.graphRunner.Invoke(ctx, nodex.GraphInput{
		ConversationID: key,
		Text:           text,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Reply{}, err
	}
	span.SetAttributes(
		attribute.Int("cart.lines", len(out.Cart)),
		attribute.Bool("conversation.closed", out.Closed),
	)
	return out, nil
}

// keyedMutex hands out one mutex per key and forgets it once nobody holds or waits for it.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// noopOrderRepository accepts every order without storing it.
type noopOrderRepository struct{}

func (noopOrderRepository) Save(context.Context, contractx.FinalizedOrder) (string, error) {
	return uuid.NewString(), nil
}

type noopKitchenNotifier struct{}

func (noopKitchenNotifier) Notify(context.Context, contractx.StoredOrder) error {
	return nil
}
