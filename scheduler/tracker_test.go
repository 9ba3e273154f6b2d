package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diaflow/diaflow/compiler"
	"github.com/diaflow/diaflow/domain"
)

func compileDiagram(t *testing.T, d *domain.DomainDiagram) *domain.ExecutableDiagram {
	t.Helper()
	compiled, _, err := compiler.Compile(d)
	require.NoError(t, err)
	return compiled
}

func newTestTracker(t *testing.T, d *domain.DomainDiagram) *Tracker {
	t.Helper()
	compiled := compileDiagram(t, d)
	state := domain.NewExecutionState("exec-1", compiled.ID, compiled.ExecutionOrder, nil)
	return NewTracker(compiled, state)
}

func linearDiagram() *domain.DomainDiagram {
	return &domain.DomainDiagram{
		ID: "linear",
		Nodes: []domain.Node{
			{ID: "s", Type: domain.NodeTypeStart, Start: &domain.StartConfig{}},
			{ID: "c", Type: domain.NodeTypeCodeJob, CodeJob: &domain.CodeJobConfig{Language: "bash", Code: "true"}},
			{ID: "e", Type: domain.NodeTypeEndpoint, Endpoint: &domain.EndpointConfig{}},
		},
		Arrows: []domain.Arrow{
			{ID: "a1", Source: "s:output", Target: "c:input"},
			{ID: "a2", Source: "c:output", Target: "e:input"},
		},
	}
}

func conditionDiagram() *domain.DomainDiagram {
	return &domain.DomainDiagram{
		ID: "branching",
		Nodes: []domain.Node{
			{ID: "s", Type: domain.NodeTypeStart, Start: &domain.StartConfig{}},
			{ID: "cond", Type: domain.NodeTypeCondition, Condition: &domain.ConditionConfig{
				Kind: domain.ConditionKindExpression, Expression: "input > 0",
			}},
			{ID: "yes", Type: domain.NodeTypeEndpoint, Endpoint: &domain.EndpointConfig{}},
			{ID: "no", Type: domain.NodeTypeEndpoint, Endpoint: &domain.EndpointConfig{}},
		},
		Arrows: []domain.Arrow{
			{ID: "a1", Source: "s:output", Target: "cond:input"},
			{ID: "a2", Source: "cond:true", Target: "yes:input"},
			{ID: "a3", Source: "cond:false", Target: "no:input"},
		},
	}
}

func loopDiagram(maxIter int) *domain.DomainDiagram {
	return &domain.DomainDiagram{
		ID: "loop",
		Nodes: []domain.Node{
			{ID: "s", Type: domain.NodeTypeStart, Start: &domain.StartConfig{}},
			{ID: "p", Type: domain.NodeTypePersonJob, PersonJob: &domain.PersonJobConfig{
				LLM:           &domain.LLMConfig{Service: "openai", Model: "gpt-4o-mini"},
				MaxIteration:  maxIter,
				DefaultPrompt: "continue",
			}},
			{ID: "e", Type: domain.NodeTypeEndpoint, Endpoint: &domain.EndpointConfig{}},
		},
		Arrows: []domain.Arrow{
			{ID: "a1", Source: "s:output", Target: "p:first"},
			{ID: "a2", Source: "p:output", Target: "e:input"},
		},
	}
}

func readyIDs(tr *Tracker) []domain.NodeID {
	nodes := tr.ReadyNodes()
	ids := make([]domain.NodeID, 0, len(nodes))
	for _, n := range nodes {
		ids = append(ids, n.ID)
	}
	return ids
}

func TestTracker_ReadyProgression(t *testing.T) {
	tr := newTestTracker(t, linearDiagram())

	assert.Equal(t, []domain.NodeID{"s"}, readyIDs(tr))

	tr.MarkRunning("s")
	assert.Empty(t, readyIDs(tr))
	assert.Equal(t, domain.NodeRunning, tr.NodeStatus("s"))

	tr.MarkCompleted("s", domain.NewOutput("seed"))
	assert.Equal(t, []domain.NodeID{"c"}, readyIDs(tr))

	tr.MarkRunning("c")
	tr.MarkCompleted("c", domain.NewOutput("result"))
	assert.Equal(t, []domain.NodeID{"e"}, readyIDs(tr))

	tr.MarkRunning("e")
	tr.MarkCompleted("e", domain.NewOutput("done"))
	assert.Empty(t, readyIDs(tr))
	assert.True(t, tr.IsComplete())
	assert.Equal(t, 3, tr.IterationCount())
}

func TestTracker_Progress(t *testing.T) {
	tr := newTestTracker(t, linearDiagram())

	assert.Equal(t, Progress{Total: 3, Pending: 3}, tr.Progress())

	tr.MarkRunning("s")
	assert.Equal(t, Progress{Total: 3, Running: 1, Pending: 2}, tr.Progress())

	tr.MarkCompleted("s", nil)
	tr.MarkRunning("c")
	tr.MarkFailed("c", assert.AnError)
	assert.Equal(t, Progress{Total: 3, Completed: 1, Failed: 1, Pending: 1}, tr.Progress())
	assert.True(t, tr.HasFailures())
}

func TestTracker_ConditionBranchGating(t *testing.T) {
	tr := newTestTracker(t, conditionDiagram())

	tr.MarkRunning("s")
	tr.MarkCompleted("s", domain.NewOutput(5))
	tr.MarkRunning("cond")
	tr.MarkCompleted("cond", domain.NewConditionOutput(true, 5, 5))

	// Only the taken branch becomes ready
	assert.Equal(t, []domain.NodeID{"yes"}, readyIDs(tr))

	tr.MarkRunning("yes")
	tr.MarkCompleted("yes", domain.NewOutput(5))

	// The untaken branch stays pending but the execution is complete
	assert.Equal(t, domain.NodePending, tr.NodeStatus("no"))
	assert.True(t, tr.IsComplete())
	assert.True(t, tr.AnyEndpointCompleted())
}

func TestTracker_IteratingNodeRearms(t *testing.T) {
	tr := newTestTracker(t, loopDiagram(2))

	tr.MarkRunning("s")
	tr.MarkCompleted("s", domain.NewOutput("go"))

	assert.Equal(t, []domain.NodeID{"p"}, readyIDs(tr))
	tr.MarkRunning("p")
	tr.MarkCompleted("p", domain.NewOutput("turn 1"))

	// Below the cap the person_job re-arms alongside its downstream
	assert.Equal(t, []domain.NodeID{"p", "e"}, readyIDs(tr))

	tr.MarkRunning("p")
	tr.MarkCompleted("p", domain.NewOutput("turn 2"))
	tr.MarkRunning("e")
	tr.MarkCompleted("e", domain.NewOutput("turn 2"))

	// Cap reached: readiness flips the node to max_iter_reached
	assert.NotContains(t, readyIDs(tr), domain.NodeID("p"))
	assert.Equal(t, domain.NodeMaxIterReached, tr.NodeStatus("p"))
	assert.Equal(t, 2, tr.ExecCount("p"))
}

func TestTracker_RetriggerDownstream(t *testing.T) {
	tr := newTestTracker(t, loopDiagram(3))

	tr.MarkRunning("s")
	tr.MarkCompleted("s", domain.NewOutput("go"))
	tr.MarkRunning("p")
	tr.MarkCompleted("p", domain.NewOutput("turn 1"))
	tr.MarkRunning("e")
	tr.MarkCompleted("e", domain.NewOutput("turn 1"))

	// A fresh upstream value resets the completed endpoint to pending
	tr.MarkRunning("p")
	tr.MarkCompleted("p", domain.NewOutput("turn 2"))
	assert.Equal(t, domain.NodePending, tr.NodeStatus("e"))
	assert.Contains(t, readyIDs(tr), domain.NodeID("e"))
}

func TestTracker_MarkSkipped(t *testing.T) {
	tr := newTestTracker(t, linearDiagram())

	require.NoError(t, tr.MarkSkipped("c"))
	assert.Equal(t, domain.NodeSkipped, tr.NodeStatus("c"))

	// Skipped nodes count as done for downstream readiness
	tr.MarkRunning("s")
	tr.MarkCompleted("s", domain.NewOutput("seed"))
	assert.Equal(t, []domain.NodeID{"e"}, readyIDs(tr))

	err := tr.MarkSkipped("c")
	assert.ErrorContains(t, err, "only pending nodes can be skipped")

	err = tr.MarkSkipped("ghost")
	assert.ErrorContains(t, err, "unknown node")
}

func TestTracker_IsCompleteWaitsForIterations(t *testing.T) {
	tr := newTestTracker(t, loopDiagram(2))

	tr.MarkRunning("s")
	tr.MarkCompleted("s", domain.NewOutput("go"))
	tr.MarkRunning("p")
	tr.MarkCompleted("p", domain.NewOutput("turn 1"))
	tr.MarkRunning("e")
	tr.MarkCompleted("e", domain.NewOutput("turn 1"))

	// The endpoint is done, but the person_job re-arms below its cap
	assert.False(t, tr.IsComplete())

	tr.MarkRunning("p")
	tr.MarkCompleted("p", domain.NewOutput("turn 2"))

	// Retriggered downstream still has to run
	assert.False(t, tr.IsComplete())

	tr.MarkRunning("e")
	tr.MarkCompleted("e", domain.NewOutput("turn 2"))
	assert.True(t, tr.IsComplete())
	assert.Equal(t, domain.NodeMaxIterReached, tr.NodeStatus("p"))
}

func TestTracker_IsCompleteRequiresStarts(t *testing.T) {
	tr := newTestTracker(t, linearDiagram())
	assert.False(t, tr.IsComplete())

	tr.MarkRunning("s")
	assert.False(t, tr.IsComplete())
}

func TestTracker_SetStatusTerminalStampsEnd(t *testing.T) {
	tr := newTestTracker(t, linearDiagram())

	tr.SetStatus(domain.ExecutionRunning)
	assert.Nil(t, tr.Snapshot().EndedAt)

	tr.SetStatus(domain.ExecutionCompleted)
	snap := tr.Snapshot()
	assert.Equal(t, domain.ExecutionCompleted, snap.Status)
	assert.NotNil(t, snap.EndedAt)
}

func TestTracker_SnapshotIsolation(t *testing.T) {
	tr := newTestTracker(t, linearDiagram())

	snap := tr.Snapshot()
	tr.MarkRunning("s")

	assert.Equal(t, domain.NodePending, snap.NodeStates["s"].Status)
	assert.Equal(t, domain.NodeRunning, tr.NodeStatus("s"))
}
