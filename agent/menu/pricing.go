package menu

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Selection is the subset of a cart line that affects price.
type Selection struct {
	Name   string
	Size   string
	Milk   string
	Extras []string
}

var pumpCountPattern = regexp.MustCompile(`(?i)^\s*(\d+)\s*pumps?\b\s*(?:of\s+)?`)

// Price computes the unit price for a selection. ok is false when the item is not on the menu.
func (c *Catalog) Price(sel Selection) (price float64, ok bool) {
	item, found := c.Lookup(sel.Name)
	if !found {
		return 0, false
	}

	large := c.IsLarge(sel.Size)
	total := item.SmallPrice
	if !item.Food && large && item.LargePrice > 0 {
		total = item.LargePrice
	}

	if m, known := c.milks[milkKey(sel.Milk)]; known && !m.Default {
		total += m.Surcharge
	}

	for _, extra := range sel.Extras {
		total += c.extraCost(extra, large)
	}

	return roundCents(total), true
}

// IsLarge reports whether a size string selects the large tier.
func (c *Catalog) IsLarge(size string) bool {
	s := strings.ToLower(strings.Join(strings.Fields(size), ""))
	if s == "" {
		return false
	}
	return strings.Contains(s, strings.ToLower(SizeLarge)) || strings.Contains(s, LargeLabel)
}

// DefaultPumps is the pump count used when a syrup extra carries no genuine count.
func (c *Catalog) DefaultPumps(size string) int {
	if c.IsLarge(size) {
		return c.addOns.LargePumps
	}
	return c.addOns.SmallPumps
}

// NormalizeExtras rewrites syrup extras to "<N> Pumps <syrup>". Extras with an explicit
// count other than 1 are kept as-is; a bare name or a count of exactly 1 takes the size default
// because upstream agents echo "1 Pump" from their instructions as a placeholder.
func (c *Catalog) NormalizeExtras(extras []string, size string) []string {
	if extras == nil {
		return nil
	}
	out := make([]string, 0, len(extras))
	for _, extra := range extras {
		extra = strings.TrimSpace(extra)
		if extra == "" {
			continue
		}
		if c.fixedExtra(extra) != nil || c.syrup(extra) == nil {
			out = append(out, extra)
			continue
		}
		count, rest := parsePumps(extra)
		if count > 0 && count != 1 {
			out = append(out, extra)
			continue
		}
		out = append(out, fmt.Sprintf("%d Pumps %s", c.DefaultPumps(size), rest))
	}
	return out
}

func (c *Catalog) extraCost(extra string, large bool) float64 {
	if fe := c.fixedExtra(extra); fe != nil {
		return fe.Cost
	}
	if c.syrup(extra) == nil {
		return 0
	}
	count, _ := parsePumps(extra)
	if count <= 0 || count == 1 {
		count = c.addOns.SmallPumps
		if large {
			count = c.addOns.LargePumps
		}
	}
	return float64(count) * c.addOns.PumpPrice
}

func (c *Catalog) fixedExtra(extra string) *FixedExtra {
	for i := range c.addOns.FixedExtras {
		if c.addOns.FixedExtras[i].Pattern.MatchString(extra) {
			return &c.addOns.FixedExtras[i]
		}
	}
	return nil
}

func (c *Catalog) syrup(extra string) *Syrup {
	for i := range c.addOns.Syrups {
		if c.addOns.Syrups[i].Pattern.MatchString(extra) {
			return &c.addOns.Syrups[i]
		}
	}
	return nil
}

// parsePumps splits "<N> Pump(s) [of] <rest>". count is 0 when no leading count is present.
func parsePumps(extra string) (count int, rest string) {
	m := pumpCountPattern.FindStringSubmatchIndex(extra)
	if m == nil {
		return 0, strings.TrimSpace(extra)
	}
	n, err := strconv.Atoi(extra[m[2]:m[3]])
	if err != nil {
		return 0, strings.TrimSpace(extra)
	}
	return n, strings.TrimSpace(extra[m[1]:])
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
