package aem

import (
	"encoding/json"
	"strings"

	"github.com/solatis/aem/internal/rules"
	"github.com/solatis/aem/internal/types"
)

// Event parameter keys with a meaning to attribution.
const (
	ParamContent   = "fb_content"
	ParamContentID = "fb_content_id"
	ParamCurrency  = "fb_currency"
	itemPriceKey   = "item_price"
	itemQuantity   = "quantity"
	contentIDKey   = "id"
)

// embeddedJSONParams are delivered as JSON strings by the app and decoded
// before rule matching.
var embeddedJSONParams = []string{ParamContent}

// DecodeParams returns a copy of params with embedded JSON fields decoded.
// Fields that fail to decode are left as strings.
func DecodeParams(params types.Params) types.Params {
	out := params.Clone()
	for _, key := range embeddedJSONParams {
		s, ok := out[key].(string)
		if !ok {
			continue
		}
		var decoded any
		if err := json.Unmarshal([]byte(s), &decoded); err == nil {
			out[key] = decoded
		}
	}
	return out
}

// contentItems returns the decoded fb_content list.
func contentItems(params types.Params) []any {
	switch items := params[ParamContent].(type) {
	case []any:
		return items
	case []map[string]any:
		out := make([]any, len(items))
		for i := range items {
			out[i] = items[i]
		}
		return out
	default:
		return nil
	}
}

// InSegmentValue sums item_price × quantity over the content items that
// satisfy rule on their own. Quantity defaults to 1, price to 0.
// params must already be decoded.
func InSegmentValue(params types.Params, rule rules.Expression) float64 {
	var total float64
	for _, item := range contentItems(params) {
		fields, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if rule != nil {
			single := params.Clone()
			single[ParamContent] = []any{item}
			if !rules.Evaluate(rule, single) {
				continue
			}
		}
		price, ok := rules.ToNumber(fields[itemPriceKey])
		if !ok {
			price = 0
		}
		quantity, ok := rules.ToNumber(fields[itemQuantity])
		if !ok {
			quantity = 1
		}
		total += price * quantity
	}
	return total
}

// ContentID returns the content identifier sent to the catalog check:
// fb_content_id when present, otherwise a JSON list of fb_content ids.
func ContentID(params types.Params) string {
	if id, ok := params[ParamContentID].(string); ok && strings.TrimSpace(id) != "" {
		return id
	}
	var ids []string
	for _, item := range contentItems(DecodeParams(params)) {
		fields, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if id, ok := fields[contentIDKey]; ok {
			if s, ok := id.(string); ok {
				ids = append(ids, s)
			} else if n, ok := rules.ToNumber(id); ok {
				ids = append(ids, formatNumber(n))
			}
		}
	}
	if len(ids) == 0 {
		return ""
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return ""
	}
	return string(data)
}

func formatNumber(n float64) string {
	data, err := json.Marshal(n)
	if err != nil {
		return ""
	}
	return string(data)
}
