package cart

import (
	"strings"

	menux "github.com/tanpawarit/Chative-Voice-Ordering/agent/menu"
)

const (
	ToolAddItem       = "add_item"
	ToolModifyItem    = "modify_item"
	ToolRemoveItem    = "remove_item"
	ToolFinalizeOrder = "finalize_order"

	DefaultCustomerName = "Guest"
)

// Resolver is the catalog surface the engine validates and prices against.
type Resolver interface {
	Lookup(name string) (menux.Item, bool)
	Price(sel menux.Selection) (float64, bool)
	NormalizeExtras(extras []string, size string) []string
}

// Engine applies agent tool calls to a cart. It never mutates its input and never fails:
// invalid names and out-of-range indices are no-ops. A nil cart is the empty cart, and the
// returned cart is never nil.
type Engine struct {
	menu Resolver
}

func NewEngine(menu Resolver) *Engine {
	if menu == nil {
		menu = menux.Default()
	}
	return &Engine{menu: menu}
}

func (e *Engine) Apply(c Cart, tool string, args map[string]any) Result {
	if args == nil {
		args = map[string]any{}
	}
	if c == nil {
		c = Cart{}
	}

	switch strings.TrimSpace(tool) {
	case ToolAddItem:
		return Result{Cart: e.addItem(c, args)}
	case ToolModifyItem:
		return Result{Cart: e.modifyItem(c, args)}
	case ToolRemoveItem:
		return Result{Cart: removeItem(c, args)}
	case ToolFinalizeOrder:
		name := DefaultCustomerName
		if s := stringField(args, "customer_name"); s != nil {
			name = *s
		}
		return Result{Cart: c.Clone(), Finalize: &Finalize{CustomerName: name}}
	default:
		return Result{Cart: c.Clone()}
	}
}

func (e *Engine) addItem(c Cart, args map[string]any) Cart {
	p := decodePatch(args)
	if p.Name == nil {
		return c.Clone()
	}
	if _, ok := e.menu.Lookup(*p.Name); !ok {
		return c.Clone()
	}

	line := Line{Quantity: 1}
	p.applyTo(&line)

	out := c.Clone()
	return append(out, e.resolve(line))
}

func (e *Engine) modifyItem(c Cart, args map[string]any) Cart {
	index, ok, changes := modifyArgs(args)
	if !ok || index < 0 || index >= len(c) {
		return c.Clone()
	}

	out := c.Clone()
	line := out[index]
	decodePatch(changes).applyTo(&line)
	out[index] = e.resolve(line)
	return out
}

func removeItem(c Cart, args map[string]any) Cart {
	index, ok := toInt(args["cart_index"])
	if !ok || index < 0 || index >= len(c) {
		return c.Clone()
	}

	out := make(Cart, 0, len(c)-1)
	for i, l := range c {
		if i == index {
			continue
		}
		out = append(out, l.clone())
	}
	return out
}

// resolve applies catalog-implied drink defaults, normalizes syrup pumps against the line's
// size and recomputes price.
func (e *Engine) resolve(line Line) Line {
	line.Price = nil
	if line.Quantity < 1 {
		line.Quantity = 1
	}

	item, ok := e.menu.Lookup(line.Name)
	if ok {
		line.Name = item.Name
		if item.IsDrink() {
			if line.Size == "" {
				line.Size = menux.SizeSmall
			}
			if line.Temperature == "" {
				line.Temperature = menux.TemperatureHot
				if item.IcedOnly {
					line.Temperature = menux.TemperatureIced
				}
			}
			if line.Milk == "" && item.AcceptsMilk {
				line.Milk = menux.DefaultMilk
			}
		}
	}

	line.Extras = e.menu.NormalizeExtras(line.Extras, line.Size)

	if price, ok := e.menu.Price(menux.Selection{
		Name:   line.Name,
		Size:   line.Size,
		Milk:   line.Milk,
		Extras: line.Extras,
	}); ok {
		line.Price = &price
	}
	return line
}
