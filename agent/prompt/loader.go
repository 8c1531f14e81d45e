package prompt

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	einoprompt "github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
	contractx "github.com/tanpawarit/Chative-Voice-Ordering/agent/contract"
	menux "github.com/tanpawarit/Chative-Voice-Ordering/agent/menu"
)

var (
	//go:embed template/ordering.txt
	orderingRaw string

	//go:embed template/voice.txt
	voiceRaw string
)

// PromptSet holds the raw instruction templates. They use Go template syntax and are
// rendered with Vars.
type PromptSet struct {
	Ordering string
	Voice    string
}

// LoadPromptSet returns a PromptSet with trimmed prompt strings.
func LoadPromptSet() PromptSet {
	return PromptSet{
		Ordering: strings.TrimSpace(orderingRaw),
		Voice:    strings.TrimSpace(voiceRaw),
	}
}

// Vars builds the template variables describing the menu and what may be offered today.
func Vars(c *menux.Catalog, custom contractx.Customizations) map[string]any {
	addOns := c.AddOns()
	return map[string]any{
		"menu":         menuListing(c),
		"milks":        joinOrNone(custom.Milks),
		"syrups":       joinOrNone(custom.Syrups),
		"extras":       joinOrNone(c.FixedExtraNames()),
		"default_milk": menux.DefaultMilk,
		"small_pumps":  addOns.SmallPumps,
		"large_pumps":  addOns.LargePumps,
	}
}

// Render formats a single instruction template into plain text.
func Render(ctx context.Context, raw string, vars map[string]any) (string, error) {
	msgs, err := einoprompt.FromMessages(schema.GoTemplate, schema.SystemMessage(raw)).Format(ctx, vars)
	if err != nil {
		return "", fmt.Errorf("%w: render prompt: %v", contractx.ErrValidation, err)
	}
	if len(msgs) == 0 || msgs[0] == nil {
		return "", fmt.Errorf("%w: render prompt: empty output", contractx.ErrValidation)
	}
	return strings.TrimSpace(msgs[0].Content), nil
}

func menuListing(c *menux.Catalog) string {
	var b strings.Builder
	for _, item := range c.Items() {
		b.WriteString("- ")
		b.WriteString(item.Name)
		switch {
		case item.Food:
			fmt.Fprintf(&b, ": %.2f", item.SmallPrice)
		default:
			fmt.Fprintf(&b, ": %.2f / %.2f", item.SmallPrice, item.LargePrice)
		}

		var notes []string
		if item.IcedOnly {
			notes = append(notes, "iced only")
		}
		if !item.Food && !item.AcceptsMilk {
			notes = append(notes, "no milk")
		}
		if len(notes) > 0 {
			b.WriteString(" (")
			b.WriteString(strings.Join(notes, ", "))
			b.WriteString(")")
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func joinOrNone(values []string) string {
	if len(values) == 0 {
		return "none"
	}
	return strings.Join(values, ", ")
}
