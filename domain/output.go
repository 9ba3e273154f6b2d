package domain

// NodeOutput is the tagged value a handler returns. A non-mapping value is
// logically equivalent to Outputs = {"default": value}.
type NodeOutput struct {
	Value     interface{}            `json:"value,omitempty"`
	Outputs   map[string]interface{} `json:"outputs,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Condition *ConditionResult       `json:"condition,omitempty"`
	TokenUsage *TokenUsage           `json:"token_usage,omitempty"`
}

// ConditionResult is the condition-node specialization: a boolean outcome
// plus the payloads for each branch
type ConditionResult struct {
	Value       bool        `json:"value"`
	TrueOutput  interface{} `json:"true_output,omitempty"`
	FalseOutput interface{} `json:"false_output,omitempty"`
}

// NewOutput wraps a plain value
func NewOutput(value interface{}) *NodeOutput {
	return &NodeOutput{Value: value}
}

// NewConditionOutput builds a condition output
func NewConditionOutput(value bool, trueOut, falseOut interface{}) *NodeOutput {
	return &NodeOutput{
		Value:     value,
		Condition: &ConditionResult{Value: value, TrueOutput: trueOut, FalseOutput: falseOut},
	}
}

// OutputsMap normalizes the stored value into a named-port map.
// Condition outputs synthesize {"condtrue": …} or {"condfalse": …} for the
// taken branch only. A mapping value is used as-is; anything else is wrapped
// under "default".
func (o *NodeOutput) OutputsMap() map[string]interface{} {
	if o == nil {
		return nil
	}
	if o.Condition != nil {
		if o.Condition.Value {
			return map[string]interface{}{"condtrue": o.Condition.TrueOutput}
		}
		return map[string]interface{}{"condfalse": o.Condition.FalseOutput}
	}
	if len(o.Outputs) > 0 {
		return o.Outputs
	}
	if m, ok := o.Value.(map[string]interface{}); ok {
		return m
	}
	return map[string]interface{}{"default": o.Value}
}

// IsMapping reports whether the raw value is itself a named map
func (o *NodeOutput) IsMapping() bool {
	if o == nil {
		return false
	}
	if len(o.Outputs) > 0 {
		return true
	}
	_, ok := o.Value.(map[string]interface{})
	return ok
}
