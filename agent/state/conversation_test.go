package state

import (
	"context"
	"errors"
	"testing"
	"time"

	cartx "github.com/tanpawarit/Chative-Voice-Ordering/agent/cart"
	contractx "github.com/tanpawarit/Chative-Voice-Ordering/agent/contract"
)

func TestConversationAppendTrimsOldest(t *testing.T) {
	t.Parallel()

	conv := NewConversation("c", time.Now())
	for _, text := range []string{"one", "two", " ", "three"} {
		conv.Append(contractx.RoleUser, text, 2)
	}
	if len(conv.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(conv.Messages))
	}
	if conv.Messages[0].Content != "two" || conv.Messages[1].Content != "three" {
		t.Fatalf("unexpected messages: %#v", conv.Messages)
	}
}

func TestConversationValidate(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		conv *Conversation
		want error
	}{
		"empty id":        {conv: &Conversation{}, want: ErrInvalidSession},
		"finalized anon":  {conv: &Conversation{ID: "c", Finalized: true}, want: ErrMissingCustomer},
		"zero quantity":   {conv: &Conversation{ID: "c", Cart: cartx.Cart{{Name: "Latte"}}}, want: ErrInvalidLine},
		"unnamed line":    {conv: &Conversation{ID: "c", Cart: cartx.Cart{{Quantity: 1}}}, want: ErrInvalidLine},
		"valid unpriced":  {conv: &Conversation{ID: "c", Cart: cartx.Cart{{Name: "Mystery", Quantity: 1}}}},
		"valid finalized": {conv: &Conversation{ID: "c", Finalized: true, CustomerName: "Alex"}},
	}
	for name, tc := range cases {
		err := tc.conv.Validate()
		if tc.want == nil {
			if err != nil {
				t.Fatalf("%s: unexpected error %v", name, err)
			}
			continue
		}
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: error = %v, want %v", name, err, tc.want)
		}
	}
}

func TestMemoryStoreIsolatesCopies(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()

	price := 4.0
	conv := NewConversation("c1", time.Now())
	conv.Cart = cartx.Cart{{Name: "Latte", Quantity: 1, Price: &price}}
	if err := store.Save(ctx, conv); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	conv.Cart[0].Quantity = 9

	loaded, err := store.Load(ctx, "c1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Cart[0].Quantity != 1 {
		t.Fatalf("store shares cart with caller: %#v", loaded.Cart[0])
	}

	if err := store.Delete(ctx, "c1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Load(ctx, "c1"); !errors.Is(err, ErrStateNotFound) {
		t.Fatalf("Load() after delete error = %v", err)
	}
}

func TestMemoryStoreRejectsInvalid(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	if err := store.Save(context.Background(), nil); !errors.Is(err, ErrNilConversation) {
		t.Fatalf("Save(nil) error = %v", err)
	}
	if err := store.Save(context.Background(), &Conversation{}); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("Save(empty id) error = %v", err)
	}
}
