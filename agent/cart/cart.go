package cart

import (
	"encoding/json"
	"math"
)

// Line is one purchasable entry. Price is derived from the catalog and is nil for an
// unrecognized item name.
type Line struct {
	Name        string   `json:"name"`
	Size        string   `json:"size,omitempty"`
	Milk        string   `json:"milk,omitempty"`
	Temperature string   `json:"temperature,omitempty"`
	Extras      []string `json:"extras,omitempty"`
	Quantity    int      `json:"quantity"`
	Price       *float64 `json:"price,omitempty"`
}

// Cart is an ordered sequence of lines addressed by position.
type Cart []Line

func (l Line) clone() Line {
	out := l
	if l.Extras != nil {
		out.Extras = append([]string(nil), l.Extras...)
	}
	if l.Price != nil {
		p := *l.Price
		out.Price = &p
	}
	return out
}

// Clone returns a deep copy; a nil cart stays nil.
func (c Cart) Clone() Cart {
	if c == nil {
		return nil
	}
	out := make(Cart, len(c))
	for i, l := range c {
		out[i] = l.clone()
	}
	return out
}

// Total sums unit price times quantity over priced lines.
func (c Cart) Total() float64 {
	var total float64
	for _, l := range c {
		if l.Price == nil {
			continue
		}
		qty := l.Quantity
		if qty < 1 {
			qty = 1
		}
		total += *l.Price * float64(qty)
	}
	return math.Round(total*100) / 100
}

// Finalize signals that the customer confirmed the order.
type Finalize struct {
	CustomerName string `json:"customer_name"`
}

type Result struct {
	Cart     Cart      `json:"cart"`
	Finalize *Finalize `json:"finalize,omitempty"`
}

type ack struct {
	OK       bool      `json:"ok"`
	Cart     Cart      `json:"cart"`
	Total    float64   `json:"total"`
	Finalize *Finalize `json:"finalize,omitempty"`
}

// Ack renders the acknowledgement sent back to the agent after a tool call.
func (r Result) Ack() string {
	c := r.Cart
	if c == nil {
		c = Cart{}
	}
	body, err := json.Marshal(ack{OK: true, Cart: c, Total: c.Total(), Finalize: r.Finalize})
	if err != nil {
		return `{"ok":false}`
	}
	return string(body)
}
