package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	cartx "github.com/tanpawarit/Chative-Voice-Ordering/agent/cart"
	contractx "github.com/tanpawarit/Chative-Voice-Ordering/agent/contract"
	statex "github.com/tanpawarit/Chative-Voice-Ordering/agent/state"
)

type fakeStore struct {
	loadConv *statex.Conversation
	loadErr  error
	saveErr  error
	saved    []*statex.Conversation
}

func (f *fakeStore) Load(ctx context.Context, conversationID string) (*statex.Conversation, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	if f.loadConv == nil {
		return nil, statex.ErrStateNotFound
	}
	return cloneConversation(f.loadConv), nil
}

func (f *fakeStore) Save(ctx context.Context, conv *statex.Conversation) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, cloneConversation(conv))
	return nil
}

func (f *fakeStore) Delete(ctx context.Context, conversationID string) error {
	return nil
}

func cloneConversation(in *statex.Conversation) *statex.Conversation {
	raw, err := json.Marshal(in)
	if err != nil {
		panic(err)
	}
	var out statex.Conversation
	if err := json.Unmarshal(raw, &out); err != nil {
		panic(err)
	}
	return &out
}

// fakeRunner applies a scripted list of tool calls through the real engine.
type fakeRunner struct {
	calls []struct {
		tool string
		args map[string]any
	}
	text string
	err  error

	mu       sync.Mutex
	requests []contractx.TurnRequest

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	delay       time.Duration
}

func (f *fakeRunner) with(tool string, args map[string]any) *fakeRunner {
	f.calls = append(f.calls, struct {
		tool string
		args map[string]any
	}{tool, args})
	return f
}

func (f *fakeRunner) Run(ctx context.Context, req contractx.TurnRequest) (contractx.TurnResponse, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		cur := f.maxInFlight.Load()
		if n <= cur || f.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	if f.err != nil {
		return contractx.TurnResponse{}, f.err
	}

	engine := cartx.NewEngine(nil)
	current := req.Cart.Clone()
	var finalize *cartx.Finalize
	for _, c := range f.calls {
		res := engine.Apply(current, c.tool, c.args)
		current = res.Cart
		if res.Finalize != nil {
			finalize = res.Finalize
		}
	}
	return contractx.TurnResponse{Text: f.text, Cart: current, Finalize: finalize, Iterations: 1}, nil
}

type fakeOrders struct {
	saved []contractx.FinalizedOrder
	err   error
}

func (f *fakeOrders) Save(ctx context.Context, order contractx.FinalizedOrder) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.saved = append(f.saved, order)
	return fmt.Sprintf("order-%d", len(f.saved)), nil
}

type fakeKitchen struct {
	notified []contractx.StoredOrder
	err      error
}

func (f *fakeKitchen) Notify(ctx context.Context, order contractx.StoredOrder) error {
	f.notified = append(f.notified, order)
	return f.err
}

func newTestOrchestrator(t *testing.T, store statex.Store, runner contractx.TurnRunner, orders contractx.OrderRepository, kitchen contractx.KitchenNotifier) *Orchestrator {
	t.Helper()

	o, err := New(store, runner, orders, kitchen, Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	o.now = func() time.Time { return time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC) }
	return o
}

func TestHandleMessageNewConversation(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	runner := (&fakeRunner{text: "One small latte, anything else?"}).
		with(cartx.ToolAddItem, map[string]any{"name": "Latte"})
	o := newTestOrchestrator(t, store, runner, nil, nil)

	out, err := o.HandleMessage(context.Background(), "conv-1", "  a latte please ")
	if err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if out.Reply != "One small latte, anything else?" {
		t.Fatalf("unexpected reply: %q", out.Reply)
	}
	if len(out.Cart) != 1 || out.Total != 4.00 {
		t.Fatalf("unexpected cart: %#v total=%.2f", out.Cart, out.Total)
	}
	if out.Closed || out.OrderID != "" {
		t.Fatalf("conversation closed unexpectedly: %#v", out)
	}

	if len(store.saved) != 1 {
		t.Fatalf("expected one save, got %d", len(store.saved))
	}
	saved := store.saved[0]
	if saved.ID != "conv-1" || len(saved.Cart) != 1 {
		t.Fatalf("unexpected saved conversation: %#v", saved)
	}
	if len(saved.Messages) != 2 || saved.Messages[0].Content != "a latte please" || saved.Messages[1].Role != contractx.RoleAssistant {
		t.Fatalf("unexpected saved messages: %#v", saved.Messages)
	}
}

func TestHandleMessageReplaysHistoryAndCart(t *testing.T) {
	t.Parallel()

	price := 4.0
	existing := statex.NewConversation("conv-2", time.Now())
	existing.Cart = cartx.Cart{{Name: "Latte", Size: "Small", Temperature: "Hot", Milk: "Whole Milk", Quantity: 1, Price: &price}}
	existing.Append(contractx.RoleUser, "a latte", 0)
	existing.Append(contractx.RoleAssistant, "Got it.", 0)

	store := &fakeStore{loadConv: existing}
	runner := (&fakeRunner{text: "Made it large."}).
		with(cartx.ToolModifyItem, map[string]any{"cart_index": 0, "changes": map[string]any{"size": "Large"}})
	o := newTestOrchestrator(t, store, runner, nil, nil)

	out, err := o.HandleMessage(context.Background(), "conv-2", "make it large")
	if err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if out.Total != 5.00 {
		t.Fatalf("total = %.2f, want 5.00", out.Total)
	}

	req := runner.requests[0]
	if len(req.Messages) != 3 || req.Messages[2].Content != "make it large" {
		t.Fatalf("unexpected replayed history: %#v", req.Messages)
	}
	if len(req.Cart) != 1 || req.Cart[0].Name != "Latte" {
		t.Fatalf("stored cart not passed to runner: %#v", req.Cart)
	}
}

func TestHandleMessageFinalizePersistsAndNotifies(t *testing.T) {
	t.Parallel()

	price := 4.0
	existing := statex.NewConversation("conv-3", time.Now())
	existing.Cart = cartx.Cart{{Name: "Latte", Quantity: 2, Price: &price}}

	store := &fakeStore{loadConv: existing}
	orders := &fakeOrders{}
	kitchen := &fakeKitchen{}
	runner := (&fakeRunner{text: "Thanks Alex!"}).
		with(cartx.ToolFinalizeOrder, map[string]any{"customer_name": "Alex"})
	o := newTestOrchestrator(t, store, runner, orders, kitchen)

	out, err := o.HandleMessage(context.Background(), "conv-3", "that's it, I'm Alex")
	if err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if !out.Closed || out.OrderID != "order-1" {
		t.Fatalf("expected closed conversation with order id, got %#v", out)
	}

	if len(orders.saved) != 1 {
		t.Fatalf("expected one order, got %d", len(orders.saved))
	}
	if orders.saved[0].CustomerName != "Alex" || orders.saved[0].Source != contractx.SourceText {
		t.Fatalf("unexpected order: %#v", orders.saved[0])
	}

	if len(kitchen.notified) != 1 || kitchen.notified[0].Total != 8.00 || kitchen.notified[0].ID != "order-1" {
		t.Fatalf("unexpected kitchen notification: %#v", kitchen.notified)
	}

	saved := store.saved[0]
	if !saved.Finalized || saved.OrderID != "order-1" || saved.CustomerName != "Alex" {
		t.Fatalf("conversation not closed: %#v", saved)
	}
}

func TestHandleMessageFinalizeRetryReusesOrderReference(t *testing.T) {
	t.Parallel()

	price := 4.0
	existing := statex.NewConversation("conv-7", time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	existing.Cart = cartx.Cart{{Name: "Latte", Quantity: 1, Price: &price}}

	store := &fakeStore{loadConv: existing, saveErr: errors.New("redis unavailable")}
	orders := &fakeOrders{}
	runner := (&fakeRunner{text: "Thanks Alex!"}).
		with(cartx.ToolFinalizeOrder, map[string]any{"customer_name": "Alex"})
	o := newTestOrchestrator(t, store, runner, orders, nil)

	if _, err := o.HandleMessage(context.Background(), "conv-7", "done, I'm Alex"); err == nil {
		t.Fatal("expected state save failure")
	}

	store.saveErr = nil
	out, err := o.HandleMessage(context.Background(), "conv-7", "done, I'm Alex")
	if err != nil {
		t.Fatalf("HandleMessage() retry error = %v", err)
	}
	if !out.Closed {
		t.Fatalf("retry should close the conversation: %#v", out)
	}

	if len(orders.saved) != 2 {
		t.Fatalf("expected two submissions, got %d", len(orders.saved))
	}
	if orders.saved[0].Reference == "" || orders.saved[0].Reference != orders.saved[1].Reference {
		t.Fatalf("retried finalize must reuse the order reference: %q vs %q", orders.saved[0].Reference, orders.saved[1].Reference)
	}
}

func TestHandleMessageFinalizeEmptyCartIsIgnored(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	orders := &fakeOrders{}
	runner := (&fakeRunner{text: "Your cart is empty."}).
		with(cartx.ToolFinalizeOrder, map[string]any{"customer_name": "Alex"})
	o := newTestOrchestrator(t, store, runner, orders, nil)

	out, err := o.HandleMessage(context.Background(), "conv-4", "place it")
	if err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if out.Closed || len(orders.saved) != 0 {
		t.Fatalf("empty cart must not be stored: %#v", out)
	}
}

func TestHandleMessageKitchenFailureKeepsOrder(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	orders := &fakeOrders{}
	kitchen := &fakeKitchen{err: errors.New("qstash down")}
	runner := (&fakeRunner{}).
		with(cartx.ToolAddItem, map[string]any{"name": "Croissant"}).
		with(cartx.ToolFinalizeOrder, map[string]any{"customer_name": "Sam"})
	o := newTestOrchestrator(t, store, runner, orders, kitchen)

	out, err := o.HandleMessage(context.Background(), "conv-5", "croissant, I'm Sam, done")
	if err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if !out.Closed || len(store.saved) != 1 {
		t.Fatalf("order should be kept when kitchen fails: %#v", out)
	}
}

func TestHandleMessageClosedConversationRejected(t *testing.T) {
	t.Parallel()

	closed := statex.NewConversation("conv-6", time.Now())
	closed.Close("Alex", "order-9", time.Now())

	runner := &fakeRunner{}
	o := newTestOrchestrator(t, &fakeStore{loadConv: closed}, runner, nil, nil)

	_, err := o.HandleMessage(context.Background(), "conv-6", "one more latte")
	if !errors.Is(err, contractx.ErrConversationClosed) {
		t.Fatalf("expected ErrConversationClosed, got %v", err)
	}
	if len(runner.requests) != 0 {
		t.Fatal("runner must not be called for a closed conversation")
	}
}

func TestHandleMessageRunnerFailureSavesNothing(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	runner := &fakeRunner{err: fmt.Errorf("%w: upstream 503", contractx.ErrModelInvoke)}
	o := newTestOrchestrator(t, store, runner, nil, nil)

	_, err := o.HandleMessage(context.Background(), "conv-7", "hello")
	if !errors.Is(err, contractx.ErrModelInvoke) {
		t.Fatalf("expected ErrModelInvoke, got %v", err)
	}
	if len(store.saved) != 0 {
		t.Fatalf("state saved after failure: %#v", store.saved)
	}
}

func TestHandleMessageValidation(t *testing.T) {
	t.Parallel()

	o := newTestOrchestrator(t, &fakeStore{}, &fakeRunner{}, nil, nil)

	if _, err := o.HandleMessage(context.Background(), "conv-8", "   "); !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("expected ErrInvalidMessage, got %v", err)
	}
	if _, err := o.HandleMessage(context.Background(), " ", "hi"); !errors.Is(err, ErrInvalidConversation) {
		t.Fatalf("expected ErrInvalidConversation, got %v", err)
	}
}

func TestHandleMessageSerialisesTurnsPerConversation(t *testing.T) {
	t.Parallel()

	store := statex.NewMemoryStore()
	runner := (&fakeRunner{text: "added", delay: 5 * time.Millisecond}).
		with(cartx.ToolAddItem, map[string]any{"name": "Croissant"})
	o := newTestOrchestrator(t, store, runner, nil, nil)

	const turns = 8
	var wg sync.WaitGroup
	errs := make(chan error, turns)
	for i := 0; i < turns; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := o.HandleMessage(context.Background(), "conv-9", "another croissant"); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("HandleMessage() error = %v", err)
	}

	if got := runner.maxInFlight.Load(); got != 1 {
		t.Fatalf("max concurrent turns = %d, want 1", got)
	}
	conv, err := store.Load(context.Background(), "conv-9")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(conv.Cart) != turns {
		t.Fatalf("lost updates: cart has %d lines, want %d", len(conv.Cart), turns)
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	t.Parallel()

	if _, err := New(nil, &fakeRunner{}, nil, nil, Config{}); err == nil {
		t.Fatal("expected error for missing store")
	}
	if _, err := New(&fakeStore{}, nil, nil, nil, Config{}); err == nil {
		t.Fatal("expected error for missing runner")
	}
}
