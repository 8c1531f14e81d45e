package tool

import (
	"sort"

	"github.com/cloudwego/eino/schema"
	cartx "github.com/tanpawarit/Chative-Voice-Ordering/agent/cart"
	contractx "github.com/tanpawarit/Chative-Voice-Ordering/agent/contract"
	menux "github.com/tanpawarit/Chative-Voice-Ordering/agent/menu"
)

// Definition is a function tool in the realtime session.update format.
type Definition struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type toolSpec struct {
	name   string
	desc   string
	params map[string]*schema.ParameterInfo
}

func toolSpecs(c *menux.Catalog, custom contractx.Customizations) []toolSpec {
	return []toolSpec{
		{
			name:   cartx.ToolAddItem,
			desc:   "Add one menu item to the cart. Prices are computed by the shop; never send a price.",
			params: lineParams(c, custom, true),
		},
		{
			name: cartx.ToolModifyItem,
			desc: "Change fields of an existing cart line addressed by its zero-based position.",
			params: map[string]*schema.ParameterInfo{
				"cart_index": {Type: schema.Integer, Desc: "Zero-based position of the line in the cart", Required: true},
				"changes": {
					Type:      schema.Object,
					Desc:      "Only the fields that change",
					Required:  true,
					SubParams: lineParams(c, custom, false),
				},
			},
		},
		{
			name: cartx.ToolRemoveItem,
			desc: "Remove the cart line at the given zero-based position.",
			params: map[string]*schema.ParameterInfo{
				"cart_index": {Type: schema.Integer, Desc: "Zero-based position of the line in the cart", Required: true},
			},
		},
		{
			name: cartx.ToolFinalizeOrder,
			desc: "Place the order once the customer confirms it is complete.",
			params: map[string]*schema.ParameterInfo{
				"customer_name": {Type: schema.String, Desc: "Name to call out when the order is ready", Required: true},
			},
		},
	}
}

func lineParams(c *menux.Catalog, custom contractx.Customizations, requireName bool) map[string]*schema.ParameterInfo {
	return map[string]*schema.ParameterInfo{
		"name":        {Type: schema.String, Desc: "Exact menu item name", Enum: c.ItemNames(), Required: requireName},
		"size":        {Type: schema.String, Desc: "Small (12oz) or Large (16oz)", Enum: []string{menux.SizeSmall, menux.SizeLarge}},
		"milk":        {Type: schema.String, Desc: "Milk choice for drinks that take milk", Enum: custom.Milks},
		"temperature": {Type: schema.String, Desc: "Hot or Iced", Enum: []string{menux.TemperatureHot, menux.TemperatureIced}},
		"extras": {
			Type:     schema.Array,
			Desc:     `Extras such as "Extra Shot" or syrups written as "<N> Pumps <Syrup>"`,
			ElemInfo: &schema.ParameterInfo{Type: schema.String},
		},
		"quantity": {Type: schema.Integer, Desc: "How many of this line, defaults to 1"},
	}
}

// Infos returns the tool schema bound to the text-mode chat model.
func Infos(c *menux.Catalog, custom contractx.Customizations) []*schema.ToolInfo {
	out := make([]*schema.ToolInfo, 0, 4)
	for _, s := range toolSpecs(c, custom) {
		out = append(out, &schema.ToolInfo{
			Name:        s.name,
			Desc:        s.desc,
			ParamsOneOf: schema.NewParamsOneOfByParams(s.params),
		})
	}
	return out
}

// Definitions returns the same tools for the realtime session configuration.
func Definitions(c *menux.Catalog, custom contractx.Customizations) []Definition {
	out := make([]Definition, 0, 4)
	for _, s := range toolSpecs(c, custom) {
		out = append(out, Definition{
			Type:        "function",
			Name:        s.name,
			Description: s.desc,
			Parameters:  objectSchema(s.params),
		})
	}
	return out
}

func objectSchema(params map[string]*schema.ParameterInfo) map[string]any {
	props := make(map[string]any, len(params))
	required := make([]string, 0, len(params))
	for name, p := range params {
		props[name] = paramSchema(p)
		if p.Required {
			required = append(required, name)
		}
	}
	sort.Strings(required)

	out := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		out["required"] = required
	}
	return out
}

func paramSchema(p *schema.ParameterInfo) map[string]any {
	if p.Type == schema.Object {
		out := objectSchema(p.SubParams)
		if p.Desc != "" {
			out["description"] = p.Desc
		}
		return out
	}

	out := map[string]any{"type": string(p.Type)}
	if p.Desc != "" {
		out["description"] = p.Desc
	}
	if len(p.Enum) > 0 {
		out["enum"] = p.Enum
	}
	if p.ElemInfo != nil {
		out["items"] = paramSchema(p.ElemInfo)
	}
	return out
}
