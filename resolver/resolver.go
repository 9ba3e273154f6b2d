package resolver

import (
	"github.com/diaflow/diaflow/domain"
)

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// StateReader is the read-only view of execution state the resolver needs
type StateReader interface {
	// NodeOutput returns the recorded output of a node, if any
	NodeOutput(id domain.NodeID) (*domain.NodeOutput, bool)
	// ExecCount returns how many times a node has been dispatched so far,
	// excluding the attempt currently being resolved
	ExecCount(id domain.NodeID) int
}

// Strategy gates incoming edges per target node type before values are
// extracted. Strategies never see source outputs.
type Strategy interface {
	// AcceptEdge reports whether the edge participates in this resolution.
	// execCount counts the current attempt (first execution = 1).
	AcceptEdge(edge *domain.Edge, execCount int, hasFirst bool) bool
}

// Resolver materializes a node's input map from predecessor outputs.
// Resolution is deterministic: edges are processed in diagram declaration
// order and the last edge writing an input key wins.
type Resolver struct {
	strategies map[domain.NodeType]Strategy
	logger     Logger
}

// New creates a resolver with the built-in strategy table
func New(logger Logger) *Resolver {
	return &Resolver{
		strategies: map[domain.NodeType]Strategy{
			domain.NodeTypePersonJob:   personJobStrategy{},
			domain.NodeTypePersonBatch: personJobStrategy{},
		},
		logger: logger,
	}
}

// Resolve builds the input map for target from its incoming edges.
// Per edge, in order: strategy gate, source value extraction (skipping
// edges whose source has produced nothing), port selection, transform
// application, assignment under the edge's input key.
func (r *Resolver) Resolve(target *domain.Node, incoming []*domain.Edge, state StateReader) (map[string]interface{}, error) {
	inputs := make(map[string]interface{})

	execCount := state.ExecCount(target.ID) + 1 // counting this attempt
	hasFirst := false
	for _, e := range incoming {
		if e.TargetsFirst() {
			hasFirst = true
			break
		}
	}

	strategy, hasStrategy := r.strategies[target.Type]

	for _, edge := range incoming {
		if hasStrategy && !strategy.AcceptEdge(edge, execCount, hasFirst) {
			continue
		}

		source, ok := state.NodeOutput(edge.SourceNodeID)
		if !ok || source == nil {
			// Source has produced nothing yet; this edge yields nothing
			continue
		}

		value, ok := selectPort(edge, source)
		if !ok {
			r.logger.Debug("no matching output port for edge",
				"edge_id", edge.ID,
				"source_node", edge.SourceNodeID,
				"port", edge.SourceOutput)
			continue
		}

		transformed, err := applyTransforms(edge.Transform, value, inputs)
		if err != nil {
			return nil, err
		}

		inputs[edge.InputKey()] = transformed
	}

	return inputs, nil
}

// selectPort picks the value an edge carries out of the source's output.
// Condition sources dispatch on the boolean outcome: an edge marked for the
// untaken branch yields nothing.
func selectPort(edge *domain.Edge, source *domain.NodeOutput) (interface{}, bool) {
	if cond := source.Condition; cond != nil {
		if branch, marked := edge.Branch(); marked && branch != cond.Value {
			return nil, false
		}
		if cond.Value {
			return cond.TrueOutput, true
		}
		return cond.FalseOutput, true
	}

	port := edge.SourceOutput
	if port == "" {
		port = "default"
	}

	outputs := source.OutputsMap()
	if v, exists := outputs[port]; exists {
		return v, true
	}
	if port == "default" {
		if !source.IsMapping() {
			return source.Value, true
		}
		return outputs, true
	}
	if v, exists := outputs["default"]; exists {
		return v, true
	}
	return nil, false
}

// personJobStrategy implements the first-run vs subsequent-run input policy.
// conversation_state edges bypass the gate entirely.
type personJobStrategy struct{}

func (personJobStrategy) AcceptEdge(edge *domain.Edge, execCount int, hasFirst bool) bool {
	if edge.Transform.IsConversationState() {
		return true
	}
	if execCount == 1 {
		if hasFirst {
			return edge.TargetsFirst()
		}
		return edge.TargetInput == "" || edge.TargetInput == "default"
	}
	return !edge.TargetsFirst()
}
