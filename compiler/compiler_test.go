package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diaflow/diaflow/domain"
)

func startNode(id string) domain.Node {
	return domain.Node{ID: domain.NodeID(id), Type: domain.NodeTypeStart, Start: &domain.StartConfig{}}
}

func endpointNode(id string) domain.Node {
	return domain.Node{ID: domain.NodeID(id), Type: domain.NodeTypeEndpoint, Endpoint: &domain.EndpointConfig{}}
}

func codeNode(id string) domain.Node {
	return domain.Node{
		ID:      domain.NodeID(id),
		Type:    domain.NodeTypeCodeJob,
		CodeJob: &domain.CodeJobConfig{Language: "bash", Code: "echo hi"},
	}
}

func conditionNode(id, expr string) domain.Node {
	return domain.Node{
		ID:        domain.NodeID(id),
		Type:      domain.NodeTypeCondition,
		Condition: &domain.ConditionConfig{Kind: domain.ConditionKindExpression, Expression: expr},
	}
}

func personNode(id string, maxIter int) domain.Node {
	return domain.Node{
		ID:   domain.NodeID(id),
		Type: domain.NodeTypePersonJob,
		PersonJob: &domain.PersonJobConfig{
			LLM:           &domain.LLMConfig{Service: "openai", Model: "gpt-4o-mini"},
			MaxIteration:  maxIter,
			DefaultPrompt: "continue",
		},
	}
}

func arrow(id, source, target string) domain.Arrow {
	return domain.Arrow{
		ID:     domain.ArrowID(id),
		Source: domain.HandleID(source),
		Target: domain.HandleID(target),
	}
}

func TestCompile_LinearDiagram(t *testing.T) {
	diagram := &domain.DomainDiagram{
		ID:    "linear",
		Nodes: []domain.Node{startNode("s"), codeNode("c"), endpointNode("e")},
		Arrows: []domain.Arrow{
			arrow("a1", "s:output", "c:input"),
			arrow("a2", "c:output", "e:input"),
		},
	}

	compiled, issues, err := Compile(diagram)
	require.NoError(t, err)
	assert.False(t, issues.HasErrors())

	assert.Equal(t, []domain.NodeID{"s", "c", "e"}, compiled.ExecutionOrder)
	assert.Equal(t, []domain.NodeID{"s"}, compiled.StartNodes)
	assert.Equal(t, []domain.NodeID{"e"}, compiled.EndNodes)
	require.Len(t, compiled.Levels, 3)
	assert.Equal(t, []domain.NodeID{"s"}, compiled.Levels[0].Nodes)

	require.Len(t, compiled.Incoming("c"), 1)
	edge := compiled.Incoming("c")[0]
	assert.Equal(t, "default", edge.SourceOutput)
	assert.Equal(t, "default", edge.TargetInput)
}

func TestCompile_NoStartNode(t *testing.T) {
	diagram := &domain.DomainDiagram{
		Nodes:  []domain.Node{codeNode("c"), endpointNode("e")},
		Arrows: []domain.Arrow{arrow("a1", "c:output", "e:input")},
	}

	_, issues, err := Compile(diagram)
	require.Error(t, err)
	assert.True(t, issues.HasErrors())
	assert.Contains(t, err.Error(), "no start node")
}

func TestCompile_DuplicateNodeID(t *testing.T) {
	diagram := &domain.DomainDiagram{
		Nodes: []domain.Node{startNode("dup"), codeNode("dup")},
	}

	_, _, err := Compile(diagram)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate node id")
}

func TestCompile_UnknownNodeType(t *testing.T) {
	diagram := &domain.DomainDiagram{
		Nodes: []domain.Node{
			startNode("s"),
			{ID: "x", Type: "teleport"},
		},
	}

	_, _, err := Compile(diagram)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown node type")
}

func TestCompile_BadHandleReferences(t *testing.T) {
	tests := []struct {
		name    string
		source  string
		target  string
		wantErr string
	}{
		{"unknown source node", "ghost:output", "e:input", "unknown node"},
		{"unknown handle name", "s:sideways", "e:input", "no output handle"},
		{"malformed reference", "s:a:b:c", "e:input", "malformed handle reference"},
		{"input used as source", "s:input:input", "e:input", "must reference an output handle"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			diagram := &domain.DomainDiagram{
				Nodes:  []domain.Node{startNode("s"), endpointNode("e")},
				Arrows: []domain.Arrow{arrow("a1", tt.source, tt.target)},
			}
			_, _, err := Compile(diagram)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestCompile_ConditionBranchEdges(t *testing.T) {
	diagram := &domain.DomainDiagram{
		Nodes: []domain.Node{
			startNode("s"),
			conditionNode("cond", "input > 3"),
			endpointNode("yes"),
			endpointNode("no"),
		},
		Arrows: []domain.Arrow{
			arrow("a1", "s:output", "cond:input"),
			arrow("a2", "cond:true", "yes:input"),
			arrow("a3", "cond:false", "no:input"),
		},
	}

	compiled, _, err := Compile(diagram)
	require.NoError(t, err)

	trueEdge := compiled.Incoming("yes")[0]
	branch, marked := trueEdge.Branch()
	require.True(t, marked)
	assert.True(t, branch)
	assert.Equal(t, "condition_result", trueEdge.Transform[domain.TransformBranchOn])

	falseEdge := compiled.Incoming("no")[0]
	branch, marked = falseEdge.Branch()
	require.True(t, marked)
	assert.False(t, branch)
}

func TestCompile_TransformMergeOrder(t *testing.T) {
	a := arrow("a1", "p:output", "e:input")
	a.Transform = domain.TransformRule{domain.TransformContentType: domain.ContentTypeRawText}
	a.Data = map[string]interface{}{
		"transform": map[string]interface{}{domain.TransformFormat: "result: {value}"},
	}

	diagram := &domain.DomainDiagram{
		Nodes: []domain.Node{
			startNode("s"),
			personNode("p", 1),
			endpointNode("e"),
		},
		Arrows: []domain.Arrow{
			arrow("a0", "s:output", "p:first"),
			a,
		},
	}

	compiled, _, err := Compile(diagram)
	require.NoError(t, err)

	edge := compiled.Incoming("e")[0]
	// Arrow transform overrides the person_job conversation_state default,
	// and arrow.Data overrides on top of that
	assert.Equal(t, domain.ContentTypeRawText, edge.Transform.ContentType())
	assert.Equal(t, "result: {value}", edge.Transform.Format())
}

func TestCompile_PersonJobDefaultContentType(t *testing.T) {
	diagram := &domain.DomainDiagram{
		Nodes: []domain.Node{
			startNode("s"),
			personNode("p", 1),
			personNode("q", 1),
		},
		Arrows: []domain.Arrow{
			arrow("a0", "s:output", "p:first"),
			arrow("a1", "p:output", "q:first"),
		},
	}

	compiled, _, err := Compile(diagram)
	require.NoError(t, err)

	edge := compiled.Incoming("q")[0]
	assert.True(t, edge.Transform.IsConversationState())
	assert.True(t, edge.TargetsFirst())
}

func TestCompile_CycleWithoutExemption(t *testing.T) {
	diagram := &domain.DomainDiagram{
		Nodes: []domain.Node{startNode("s"), codeNode("a"), codeNode("b")},
		Arrows: []domain.Arrow{
			arrow("a1", "s:output", "a:input"),
			arrow("a2", "a:output", "b:input"),
			arrow("a3", "b:output", "a:input"),
		},
	}

	_, _, err := Compile(diagram)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestCompile_ApprovedLoop(t *testing.T) {
	diagram := &domain.DomainDiagram{
		Nodes: []domain.Node{
			startNode("s"),
			personNode("worker", 3),
			conditionNode("check", "input == \"done\""),
			endpointNode("e"),
		},
		Arrows: []domain.Arrow{
			arrow("a1", "s:output", "worker:first"),
			arrow("a2", "worker:output", "check:input"),
			arrow("a3", "check:false", "worker:input"),
			arrow("a4", "check:true", "e:input"),
		},
	}

	compiled, issues, err := Compile(diagram)
	require.NoError(t, err)
	assert.False(t, issues.HasErrors())
	assert.Len(t, compiled.ExecutionOrder, 4)
	// The loop body collapses to one SCC, so start precedes it and the
	// endpoint follows
	assert.Equal(t, domain.NodeID("s"), compiled.ExecutionOrder[0])
}

func TestCompile_SelfLoopRejected(t *testing.T) {
	diagram := &domain.DomainDiagram{
		Nodes: []domain.Node{startNode("s"), codeNode("a")},
		Arrows: []domain.Arrow{
			arrow("a1", "s:output", "a:input"),
			arrow("a2", "a:output", "a:input"),
		},
	}

	_, _, err := Compile(diagram)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestCompile_DiamondLevels(t *testing.T) {
	diagram := &domain.DomainDiagram{
		Nodes: []domain.Node{
			startNode("s"),
			codeNode("left"),
			codeNode("right"),
			endpointNode("e"),
		},
		Arrows: []domain.Arrow{
			arrow("a1", "s:output", "left:input"),
			arrow("a2", "s:output", "right:input"),
			arrow("a3", "left:output", "e:input"),
			arrow("a4", "right:output", "e:input"),
		},
	}

	compiled, _, err := Compile(diagram)
	require.NoError(t, err)
	require.Len(t, compiled.Levels, 3)
	assert.ElementsMatch(t, []domain.NodeID{"left", "right"}, compiled.Levels[1].Nodes)
	assert.Equal(t, []domain.NodeID{"e"}, compiled.Levels[2].Nodes)
}
