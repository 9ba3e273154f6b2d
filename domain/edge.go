package domain

import "strings"

// Recognized TransformRule keys
const (
	TransformContentType        = "content_type"
	TransformExtractVariable    = "extract_variable"
	TransformFormat             = "format"
	TransformExtractToolResults = "extract_tool_results"
	TransformBranchOn           = "branch_on"
)

// Content type values
const (
	ContentTypeRawText           = "raw_text"
	ContentTypeObject            = "object"
	ContentTypeVariable          = "variable"
	ContentTypeConversationState = "conversation_state"
)

// Edge metadata keys
const (
	EdgeMetaLabel  = "label"
	EdgeMetaBranch = "branch"
)

// TransformRule is the merged per-edge transform map. Unknown keys are
// preserved but never applied.
type TransformRule map[string]interface{}

// ContentType returns the content_type rule, or "" when absent
func (t TransformRule) ContentType() string {
	if t == nil {
		return ""
	}
	if v, ok := t[TransformContentType].(string); ok {
		return v
	}
	return ""
}

// ExtractVariable returns the extract_variable rule, or "" when absent
func (t TransformRule) ExtractVariable() string {
	if t == nil {
		return ""
	}
	if v, ok := t[TransformExtractVariable].(string); ok {
		return v
	}
	return ""
}

// Format returns the format template, or "" when absent
func (t TransformRule) Format() string {
	if t == nil {
		return ""
	}
	if v, ok := t[TransformFormat].(string); ok {
		return v
	}
	return ""
}

// ExtractToolResults reports whether tool-result extraction is requested
func (t TransformRule) ExtractToolResults() bool {
	if t == nil {
		return false
	}
	v, _ := t[TransformExtractToolResults].(bool)
	return v
}

// IsConversationState reports whether this edge always delivers to
// person_job targets regardless of the first/default gate
func (t TransformRule) IsConversationState() bool {
	return t.ContentType() == ContentTypeConversationState
}

// Merge returns a copy of t overlaid with the entries of over (later wins)
func (t TransformRule) Merge(over TransformRule) TransformRule {
	out := make(TransformRule, len(t)+len(over))
	for k, v := range t {
		out[k] = v
	}
	for k, v := range over {
		out[k] = v
	}
	return out
}

// Edge is the compiled, executable counterpart of an arrow
type Edge struct {
	ID           ArrowID                `json:"id"`
	SourceNodeID NodeID                 `json:"source_node_id"`
	TargetNodeID NodeID                 `json:"target_node_id"`
	SourceOutput string                 `json:"source_output,omitempty"`
	TargetInput  string                 `json:"target_input,omitempty"`
	Transform    TransformRule          `json:"transform,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// InputKey is the key this edge contributes to the target's input map:
// metadata label, else target_input, else "default"
func (e *Edge) InputKey() string {
	if e.Metadata != nil {
		if label, ok := e.Metadata[EdgeMetaLabel].(string); ok && label != "" {
			return label
		}
	}
	if e.TargetInput != "" {
		return e.TargetInput
	}
	return "default"
}

// TargetsFirst reports whether this edge feeds a person_job "first" input
func (e *Edge) TargetsFirst() bool {
	return e.TargetInput == "first" || strings.HasSuffix(e.TargetInput, "_first")
}

// Branch returns the explicit branch marker for condition-source edges.
// Explicit metadata wins; the legacy form uses source_output "true"/"false".
// ok is false when the edge carries no branch marker (default-active).
func (e *Edge) Branch() (value bool, ok bool) {
	if e.Metadata != nil {
		if b, has := e.Metadata[EdgeMetaBranch].(string); has {
			switch b {
			case "true":
				return true, true
			case "false":
				return false, true
			}
		}
	}
	switch e.SourceOutput {
	case "true", "condtrue":
		return true, true
	case "false", "condfalse":
		return false, true
	}
	return false, false
}
