package cart

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// linePatch is the canonical shape of agent-supplied line fields. A nil pointer means the
// field was absent. Any "price" key is never read.
type linePatch struct {
	Name        *string
	Size        *string
	Milk        *string
	Temperature *string
	Extras      []string
	HasExtras   bool
	Quantity    *int
}

func decodePatch(fields map[string]any) linePatch {
	var p linePatch
	p.Name = stringField(fields, "name")
	p.Size = stringField(fields, "size")
	p.Milk = stringField(fields, "milk")
	p.Temperature = stringField(fields, "temperature")
	if raw, ok := fields["extras"]; ok && raw != nil {
		p.Extras = toStrings(raw)
		p.HasExtras = true
	}
	if raw, ok := fields["quantity"]; ok {
		if n, ok := toInt(raw); ok {
			p.Quantity = &n
		}
	}
	return p
}

func (p linePatch) applyTo(l *Line) {
	if p.Name != nil {
		l.Name = *p.Name
	}
	if p.Size != nil {
		l.Size = *p.Size
	}
	if p.Milk != nil {
		l.Milk = *p.Milk
	}
	if p.Temperature != nil {
		l.Temperature = *p.Temperature
	}
	if p.HasExtras {
		l.Extras = p.Extras
	}
	if p.Quantity != nil {
		l.Quantity = *p.Quantity
	}
}

// modifyArgs accepts changes nested under "changes" or flattened next to cart_index.
func modifyArgs(args map[string]any) (index int, ok bool, changes map[string]any) {
	index, ok = toInt(args["cart_index"])
	if !ok {
		return 0, false, nil
	}

	switch v := args["changes"].(type) {
	case map[string]any:
		return index, true, v
	case string:
		var decoded map[string]any
		if err := json.Unmarshal([]byte(v), &decoded); err == nil && decoded != nil {
			return index, true, decoded
		}
	}

	flat := make(map[string]any, len(args))
	for k, v := range args {
		if k == "cart_index" || k == "changes" {
			continue
		}
		flat[k] = v
	}
	return index, true, flat
}

func stringField(fields map[string]any, key string) *string {
	raw, ok := fields[key]
	if !ok || raw == nil {
		return nil
	}
	var s string
	switch v := raw.(type) {
	case string:
		s = v
	case float64, int, int64, json.Number:
		s = fmt.Sprint(v)
	default:
		return nil
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func toStrings(raw any) []string {
	switch v := raw.(type) {
	case []string:
		return append([]string{}, v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		if strings.TrimSpace(v) == "" {
			return []string{}
		}
		return []string{v}
	default:
		return []string{}
	}
}

func toInt(raw any) (int, bool) {
	switch v := raw.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) || v != math.Trunc(v) {
			return 0, false
		}
		return int(v), true
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, false
		}
		return int(n), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

// DecodeArgs parses raw tool arguments. It always returns a usable map; the error only
// reports that the input was not a JSON object and empty arguments were substituted.
func DecodeArgs(raw string) (map[string]any, error) {
	args := map[string]any{}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return args, nil
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return map[string]any{}, err
	}
	if args == nil {
		return map[string]any{}, nil
	}
	return args, nil
}
