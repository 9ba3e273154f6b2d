package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diaflow/diaflow/domain"
)

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Debug(string, ...interface{}) {}

// fakeState is a canned StateReader for resolver tests
type fakeState struct {
	outputs map[domain.NodeID]*domain.NodeOutput
	counts  map[domain.NodeID]int
}

func (s *fakeState) NodeOutput(id domain.NodeID) (*domain.NodeOutput, bool) {
	out, ok := s.outputs[id]
	return out, ok
}

func (s *fakeState) ExecCount(id domain.NodeID) int {
	return s.counts[id]
}

func edge(id, source, target, sourceOutput, targetInput string) *domain.Edge {
	return &domain.Edge{
		ID:           domain.ArrowID(id),
		SourceNodeID: domain.NodeID(source),
		TargetNodeID: domain.NodeID(target),
		SourceOutput: sourceOutput,
		TargetInput:  targetInput,
	}
}

func TestResolve_DefaultPort(t *testing.T) {
	r := New(nopLogger{})
	target := &domain.Node{ID: "t", Type: domain.NodeTypeCodeJob}
	state := &fakeState{
		outputs: map[domain.NodeID]*domain.NodeOutput{
			"a": domain.NewOutput("hello"),
		},
		counts: map[domain.NodeID]int{},
	}

	inputs, err := r.Resolve(target, []*domain.Edge{
		edge("e1", "a", "t", "default", "default"),
	}, state)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"default": "hello"}, inputs)
}

func TestResolve_MissingSourceYieldsNothing(t *testing.T) {
	r := New(nopLogger{})
	target := &domain.Node{ID: "t", Type: domain.NodeTypeCodeJob}
	state := &fakeState{outputs: map[domain.NodeID]*domain.NodeOutput{}, counts: map[domain.NodeID]int{}}

	inputs, err := r.Resolve(target, []*domain.Edge{
		edge("e1", "ghost", "t", "default", "default"),
	}, state)
	require.NoError(t, err)
	assert.Empty(t, inputs)
}

func TestResolve_LastEdgeWins(t *testing.T) {
	r := New(nopLogger{})
	target := &domain.Node{ID: "t", Type: domain.NodeTypeCodeJob}
	state := &fakeState{
		outputs: map[domain.NodeID]*domain.NodeOutput{
			"a": domain.NewOutput("first"),
			"b": domain.NewOutput("second"),
		},
		counts: map[domain.NodeID]int{},
	}

	inputs, err := r.Resolve(target, []*domain.Edge{
		edge("e1", "a", "t", "default", "default"),
		edge("e2", "b", "t", "default", "default"),
	}, state)
	require.NoError(t, err)
	assert.Equal(t, "second", inputs["default"])
}

func TestResolve_InputKeyFromLabel(t *testing.T) {
	r := New(nopLogger{})
	target := &domain.Node{ID: "t", Type: domain.NodeTypeCodeJob}
	state := &fakeState{
		outputs: map[domain.NodeID]*domain.NodeOutput{"a": domain.NewOutput(42)},
		counts:  map[domain.NodeID]int{},
	}

	e := edge("e1", "a", "t", "default", "default")
	e.Metadata = map[string]interface{}{domain.EdgeMetaLabel: "answer"}

	inputs, err := r.Resolve(target, []*domain.Edge{e}, state)
	require.NoError(t, err)
	assert.Equal(t, 42, inputs["answer"])
	assert.NotContains(t, inputs, "default")
}

func TestResolve_ConditionBranchSelection(t *testing.T) {
	r := New(nopLogger{})
	state := &fakeState{
		outputs: map[domain.NodeID]*domain.NodeOutput{
			"cond": domain.NewConditionOutput(true, "payload", "payload"),
		},
		counts: map[domain.NodeID]int{},
	}

	trueEdge := edge("e1", "cond", "yes", "true", "default")
	trueEdge.Metadata = map[string]interface{}{domain.EdgeMetaBranch: "true"}
	falseEdge := edge("e2", "cond", "no", "false", "default")
	falseEdge.Metadata = map[string]interface{}{domain.EdgeMetaBranch: "false"}

	yes := &domain.Node{ID: "yes", Type: domain.NodeTypeCodeJob}
	inputs, err := r.Resolve(yes, []*domain.Edge{trueEdge}, state)
	require.NoError(t, err)
	assert.Equal(t, "payload", inputs["default"])

	// The untaken branch resolves to an empty input map
	no := &domain.Node{ID: "no", Type: domain.NodeTypeCodeJob}
	inputs, err = r.Resolve(no, []*domain.Edge{falseEdge}, state)
	require.NoError(t, err)
	assert.Empty(t, inputs)
}

func TestResolve_PersonJobFirstGate(t *testing.T) {
	r := New(nopLogger{})
	target := &domain.Node{ID: "p", Type: domain.NodeTypePersonJob}

	firstEdge := edge("e1", "start", "p", "default", "first")
	loopEdge := edge("e2", "check", "p", "default", "default")

	outputs := map[domain.NodeID]*domain.NodeOutput{
		"start": domain.NewOutput("seed"),
		"check": domain.NewOutput("feedback"),
	}

	// First execution: only the first edge is consulted
	state := &fakeState{outputs: outputs, counts: map[domain.NodeID]int{"p": 0}}
	inputs, err := r.Resolve(target, []*domain.Edge{firstEdge, loopEdge}, state)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"first": "seed"}, inputs)

	// Subsequent executions: first edges are excluded
	state = &fakeState{outputs: outputs, counts: map[domain.NodeID]int{"p": 1}}
	inputs, err = r.Resolve(target, []*domain.Edge{firstEdge, loopEdge}, state)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"default": "feedback"}, inputs)
}

func TestResolve_PersonJobDefaultGateWithoutFirst(t *testing.T) {
	r := New(nopLogger{})
	target := &domain.Node{ID: "p", Type: domain.NodeTypePersonJob}

	plain := edge("e1", "start", "p", "default", "default")
	state := &fakeState{
		outputs: map[domain.NodeID]*domain.NodeOutput{"start": domain.NewOutput("seed")},
		counts:  map[domain.NodeID]int{"p": 0},
	}

	inputs, err := r.Resolve(target, []*domain.Edge{plain}, state)
	require.NoError(t, err)
	assert.Equal(t, "seed", inputs["default"])
}

func TestResolve_ConversationStateBypassesGate(t *testing.T) {
	r := New(nopLogger{})
	target := &domain.Node{ID: "p", Type: domain.NodeTypePersonJob}

	firstEdge := edge("e1", "start", "p", "default", "first")
	convEdge := edge("e2", "other", "p", "default", "conversation")
	convEdge.Transform = domain.TransformRule{
		domain.TransformContentType: domain.ContentTypeConversationState,
	}

	state := &fakeState{
		outputs: map[domain.NodeID]*domain.NodeOutput{
			"start": domain.NewOutput("seed"),
			"other": domain.NewOutput("history"),
		},
		counts: map[domain.NodeID]int{"p": 0},
	}

	// conversation_state edges deliver on the first run even though the
	// first gate is active
	inputs, err := r.Resolve(target, []*domain.Edge{firstEdge, convEdge}, state)
	require.NoError(t, err)
	assert.Equal(t, "seed", inputs["first"])
	assert.Equal(t, "history", inputs["conversation"])
}

func TestResolve_NamedOutputPort(t *testing.T) {
	r := New(nopLogger{})
	target := &domain.Node{ID: "t", Type: domain.NodeTypeCodeJob}
	state := &fakeState{
		outputs: map[domain.NodeID]*domain.NodeOutput{
			"a": {Outputs: map[string]interface{}{"left": 1, "right": 2}},
		},
		counts: map[domain.NodeID]int{},
	}

	inputs, err := r.Resolve(target, []*domain.Edge{
		edge("e1", "a", "t", "right", "default"),
	}, state)
	require.NoError(t, err)
	assert.Equal(t, 2, inputs["default"])
}

func TestApplyTransforms(t *testing.T) {
	t.Run("object content type parses JSON strings", func(t *testing.T) {
		rule := domain.TransformRule{domain.TransformContentType: domain.ContentTypeObject}
		out, err := applyTransforms(rule, `{"a": 1}`, nil)
		require.NoError(t, err)
		assert.Equal(t, map[string]interface{}{"a": float64(1)}, out)
	})

	t.Run("object content type passes non-JSON through", func(t *testing.T) {
		rule := domain.TransformRule{domain.TransformContentType: domain.ContentTypeObject}
		out, err := applyTransforms(rule, "plain text", nil)
		require.NoError(t, err)
		assert.Equal(t, "plain text", out)
	})

	t.Run("extract variable from mapping", func(t *testing.T) {
		rule := domain.TransformRule{domain.TransformExtractVariable: "name"}
		out, err := applyTransforms(rule, map[string]interface{}{"name": "ada"}, nil)
		require.NoError(t, err)
		assert.Equal(t, "ada", out)
	})

	t.Run("extract variable dotted path", func(t *testing.T) {
		rule := domain.TransformRule{domain.TransformExtractVariable: "user.name"}
		value := map[string]interface{}{
			"user": map[string]interface{}{"name": "ada"},
		}
		out, err := applyTransforms(rule, value, nil)
		require.NoError(t, err)
		assert.Equal(t, "ada", out)
	})

	t.Run("extract variable missing key errors", func(t *testing.T) {
		rule := domain.TransformRule{domain.TransformExtractVariable: "missing"}
		_, err := applyTransforms(rule, map[string]interface{}{"other": 1}, nil)
		assert.ErrorContains(t, err, "not found")
	})

	t.Run("format substitutes value and named inputs", func(t *testing.T) {
		rule := domain.TransformRule{domain.TransformFormat: "got {value} for {user}"}
		out, err := applyTransforms(rule, "42", map[string]interface{}{"user": "ada"})
		require.NoError(t, err)
		assert.Equal(t, "got 42 for ada", out)
	})

	t.Run("extract tool results", func(t *testing.T) {
		rule := domain.TransformRule{domain.TransformExtractToolResults: true}
		value := []interface{}{
			map[string]interface{}{"type": "text", "text": "thinking"},
			map[string]interface{}{"type": "tool_result", "content": "found it"},
		}
		out, err := applyTransforms(rule, value, nil)
		require.NoError(t, err)
		assert.Equal(t, []interface{}{"found it"}, out)
	})
}
