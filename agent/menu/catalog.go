package menu

import (
	"regexp"
	"sort"
	"strings"
)

const (
	SizeSmall = "Small"
	SizeLarge = "Large"

	// Size tiers are also addressed by cup dimension.
	SmallLabel = "12oz"
	LargeLabel = "16oz"

	TemperatureHot  = "Hot"
	TemperatureIced = "Iced"

	DefaultMilk = "Whole Milk"

	ShotEspresso = "Espresso"
)

// Item is one purchasable catalog entry. Items are defined at process start and never mutated.
type Item struct {
	Name       string  `json:"name"`
	SmallPrice float64 `json:"small_price"`
	LargePrice float64 `json:"large_price,omitempty"`

	// Food items take a single flat price (SmallPrice) and no drink customizations.
	Food         bool   `json:"food"`
	IcedOnly     bool   `json:"iced_only"`
	AcceptsMilk  bool   `json:"accepts_milk"`
	AcceptsShots bool   `json:"accepts_shots"`
	ShotFlavor   string `json:"shot_flavor,omitempty"`
}

// IsDrink reports whether drink defaults (size, temperature, milk) apply.
func (i Item) IsDrink() bool {
	return !i.Food
}

type Milk struct {
	Name      string  `json:"name"`
	Surcharge float64 `json:"surcharge"`
	Default   bool    `json:"default"`
}

// FixedExtra is an extra priced once regardless of size, matched by pattern.
type FixedExtra struct {
	Name    string
	Pattern *regexp.Regexp
	Cost    float64
}

type Syrup struct {
	Name    string
	Pattern *regexp.Regexp
}

// AddOnCosts is the immutable pricing rule set for customizations.
type AddOnCosts struct {
	Milks       []Milk
	FixedExtras []FixedExtra
	Syrups      []Syrup
	PumpPrice   float64
	SmallPumps  int
	LargePumps  int
}

// Catalog is the closed set of item names plus the pricing rules applied to them.
type Catalog struct {
	items  []Item
	index  map[string]Item
	addOns AddOnCosts
	milks  map[string]Milk
}

func New(items []Item, addOns AddOnCosts) *Catalog {
	c := &Catalog{
		items:  make([]Item, 0, len(items)),
		index:  make(map[string]Item, len(items)),
		addOns: addOns,
		milks:  make(map[string]Milk, len(addOns.Milks)),
	}
	for _, it := range items {
		key := normalizeName(it.Name)
		if key == "" {
			continue
		}
		c.items = append(c.items, it)
		c.index[key] = it
	}
	for _, m := range addOns.Milks {
		c.milks[milkKey(m.Name)] = m
	}
	return c
}

var defaultCatalog = New(
	[]Item{
		{Name: "Drip Coffee", SmallPrice: 2.50, LargePrice: 3.00},
		{Name: "Americano", SmallPrice: 3.00, LargePrice: 3.50, AcceptsShots: true, ShotFlavor: ShotEspresso},
		{Name: "Latte", SmallPrice: 4.00, LargePrice: 5.00, AcceptsMilk: true, AcceptsShots: true, ShotFlavor: ShotEspresso},
		{Name: "Mocha", SmallPrice: 4.50, LargePrice: 5.50, AcceptsMilk: true, AcceptsShots: true, ShotFlavor: ShotEspresso},
		{Name: "Flat White", SmallPrice: 4.25, LargePrice: 5.00, AcceptsMilk: true, AcceptsShots: true, ShotFlavor: ShotEspresso},
		{Name: "Chai Latte", SmallPrice: 4.25, LargePrice: 5.25, AcceptsMilk: true, AcceptsShots: true, ShotFlavor: ShotEspresso},
		{Name: "Matcha Latte", SmallPrice: 4.50, LargePrice: 5.50, AcceptsMilk: true},
		{Name: "Cold Brew", SmallPrice: 3.75, LargePrice: 4.50, IcedOnly: true, AcceptsMilk: true},
		{Name: "Iced Tea", SmallPrice: 3.00, LargePrice: 3.50, IcedOnly: true},
		{Name: "Hot Chocolate", SmallPrice: 3.50, LargePrice: 4.25, AcceptsMilk: true},
		{Name: "Croissant", SmallPrice: 3.25, Food: true},
		{Name: "Blueberry Muffin", SmallPrice: 3.00, Food: true},
		{Name: "Banana Bread", SmallPrice: 3.50, Food: true},
	},
	AddOnCosts{
		Milks: []Milk{
			{Name: DefaultMilk, Default: true},
			{Name: "2% Milk", Default: true},
			{Name: "Skim Milk", Default: true},
			{Name: "Oat Milk", Surcharge: 0.50},
			{Name: "Almond Milk", Surcharge: 0.50},
			{Name: "Soy Milk", Surcharge: 0.50},
			{Name: "Coconut Milk", Surcharge: 0.50},
		},
		FixedExtras: []FixedExtra{
			{Name: "Extra Shot", Pattern: regexp.MustCompile(`(?i)\b(extra|add|added|additional|double)\b.*\bshots?\b`), Cost: 0.75},
			{Name: "Cold Foam", Pattern: regexp.MustCompile(`(?i)\bcold\s*foam\b`), Cost: 1.00},
		},
		Syrups: []Syrup{
			{Name: "Vanilla", Pattern: regexp.MustCompile(`(?i)\bvanilla\b`)},
			{Name: "Caramel", Pattern: regexp.MustCompile(`(?i)\bcaramel\b`)},
			{Name: "Hazelnut", Pattern: regexp.MustCompile(`(?i)\bhazelnut\b`)},
			{Name: "Lavender", Pattern: regexp.MustCompile(`(?i)\blavender\b`)},
			{Name: "Peppermint", Pattern: regexp.MustCompile(`(?i)\bpeppermint\b`)},
			{Name: "Brown Sugar", Pattern: regexp.MustCompile(`(?i)\bbrown\s+sugar\b`)},
		},
		PumpPrice:  0.50,
		SmallPumps: 2,
		LargePumps: 3,
	},
)

// Default returns the shop catalog.
func Default() *Catalog {
	return defaultCatalog
}

// IsValidItem is a case-insensitive, whitespace-trimmed membership test.
func (c *Catalog) IsValidItem(name string) bool {
	_, ok := c.Lookup(name)
	return ok
}

func (c *Catalog) Lookup(name string) (Item, bool) {
	if c == nil {
		return Item{}, false
	}
	it, ok := c.index[normalizeName(name)]
	return it, ok
}

// Items returns catalog entries in definition order.
func (c *Catalog) Items() []Item {
	return append([]Item(nil), c.items...)
}

func (c *Catalog) ItemNames() []string {
	names := make([]string, 0, len(c.items))
	for _, it := range c.items {
		names = append(names, it.Name)
	}
	return names
}

func (c *Catalog) Milks() []Milk {
	return append([]Milk(nil), c.addOns.Milks...)
}

func (c *Catalog) MilkNames() []string {
	names := make([]string, 0, len(c.addOns.Milks))
	for _, m := range c.addOns.Milks {
		names = append(names, m.Name)
	}
	return names
}

func (c *Catalog) SyrupNames() []string {
	names := make([]string, 0, len(c.addOns.Syrups))
	for _, s := range c.addOns.Syrups {
		names = append(names, s.Name)
	}
	return names
}

func (c *Catalog) FixedExtraNames() []string {
	names := make([]string, 0, len(c.addOns.FixedExtras))
	for _, e := range c.addOns.FixedExtras {
		names = append(names, e.Name)
	}
	sort.Strings(names)
	return names
}

func (c *Catalog) AddOns() AddOnCosts {
	return c.addOns
}

func normalizeName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// milkKey folds "Oat Milk", "oat milk" and "oat" into the same key.
func milkKey(name string) string {
	key := normalizeName(name)
	key = strings.TrimSuffix(key, " milk")
	return strings.TrimSpace(key)
}
