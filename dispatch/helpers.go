package dispatch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/diaflow/diaflow/scheduler"
)

// defaultInput returns the job's "default" input, falling back to the sole
// input when exactly one was resolved
func defaultInput(job *scheduler.Job) (interface{}, bool) {
	if v, ok := job.Inputs["default"]; ok {
		return v, true
	}
	if len(job.Inputs) == 1 {
		for _, v := range job.Inputs {
			return v, true
		}
	}
	return nil, false
}

// stringifyValue renders a value for prompt and file interpolation
func stringifyValue(v interface{}) string {
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

// renderPlaceholders substitutes {key} markers from the given maps, later
// maps winning on key collision
func renderPlaceholders(tmpl string, maps ...map[string]interface{}) string {
	out := tmpl
	for _, m := range maps {
		for k, v := range m {
			out = strings.ReplaceAll(out, "{"+k+"}", stringifyValue(v))
		}
	}
	return out
}

// isEmptyValue reports whether a value counts as empty for non_empty checks
func isEmptyValue(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []interface{}:
		return len(t) == 0
	case map[string]interface{}:
		return len(t) == 0
	}
	return false
}
