package resolver

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/diaflow/diaflow/domain"
	"github.com/tidwall/gjson"
)

// applyTransforms applies the recognized transform rules to a selected
// value in fixed order: content-type conversion, variable extraction,
// format templating, tool-result extraction. Unknown rules are preserved on
// the edge but never applied.
func applyTransforms(rule domain.TransformRule, value interface{}, named map[string]interface{}) (interface{}, error) {
	if rule == nil {
		return value, nil
	}

	value = convertContentType(rule, value)

	if name := rule.ExtractVariable(); name != "" {
		extracted, err := extractVariable(value, name)
		if err != nil {
			return nil, err
		}
		value = extracted
	}

	if tmpl := rule.Format(); tmpl != "" {
		value = formatValue(tmpl, value, named)
	}

	if rule.ExtractToolResults() {
		value = extractToolResults(value)
	}

	return value, nil
}

// convertContentType parses JSON-looking strings when content_type=object.
// Anything else passes through untouched.
func convertContentType(rule domain.TransformRule, value interface{}) interface{} {
	if rule.ContentType() != domain.ContentTypeObject {
		return value
	}
	s, ok := value.(string)
	if !ok {
		return value
	}
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "{") && !strings.HasPrefix(trimmed, "[") {
		return value
	}
	var parsed interface{}
	if err := json.Unmarshal([]byte(trimmed), &parsed); err != nil {
		return value
	}
	return parsed
}

// extractVariable replaces a mapping with one of its entries. Dotted paths
// are supported via gjson; non-mapping values pass through.
func extractVariable(value interface{}, name string) (interface{}, error) {
	m, ok := value.(map[string]interface{})
	if !ok {
		return value, nil
	}
	if v, exists := m[name]; exists {
		return v, nil
	}

	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("extract_variable %q: %w", name, err)
	}
	result := gjson.GetBytes(raw, name)
	if !result.Exists() {
		return nil, fmt.Errorf("extract_variable: %q not found", name)
	}
	return result.Value(), nil
}

// formatValue substitutes {value} and named placeholders into the template
func formatValue(tmpl string, value interface{}, named map[string]interface{}) string {
	out := strings.ReplaceAll(tmpl, "{value}", stringify(value))
	if m, ok := value.(map[string]interface{}); ok {
		for k, v := range m {
			out = strings.ReplaceAll(out, "{"+k+"}", stringify(v))
		}
	}
	for k, v := range named {
		out = strings.ReplaceAll(out, "{"+k+"}", stringify(v))
	}
	return out
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(raw)
	}
}

// extractToolResults keeps only tool result payloads from an LLM output
// with tool-use structure. Values without that structure pass through.
func extractToolResults(value interface{}) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		if results, ok := v["tool_results"]; ok {
			return results
		}
		return v
	case []interface{}:
		var results []interface{}
		for _, item := range v {
			block, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			if block["type"] == "tool_result" {
				if content, has := block["content"]; has {
					results = append(results, content)
				}
			}
		}
		if results != nil {
			return results
		}
		return v
	default:
		return value
	}
}
