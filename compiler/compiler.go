package compiler

import (
	"github.com/diaflow/diaflow/domain"
)

// Compile orchestrates handle resolution, edge transformation, order
// calculation and validation, producing an immutable ExecutableDiagram.
// The returned Issues always carries the full set of diagnostics; when it
// contains any error-severity issue the diagram is nil and err equals the
// aggregate.
func Compile(diagram *domain.DomainDiagram) (*domain.ExecutableDiagram, Issues, error) {
	var issues Issues

	nodes := make(map[domain.NodeID]*domain.Node, len(diagram.Nodes))
	for i := range diagram.Nodes {
		node := diagram.Nodes[i]
		if _, dup := nodes[node.ID]; dup {
			issues = append(issues, errorf("duplicate node id %s", node.ID))
			continue
		}
		nodes[node.ID] = &node
	}

	issues = append(issues, validateNodes(nodes)...)

	conns, connIssues := resolveConnections(diagram, nodes)
	issues = append(issues, connIssues...)

	arrowsByID := make(map[domain.ArrowID]*domain.Arrow, len(diagram.Arrows))
	for i := range diagram.Arrows {
		arrowsByID[diagram.Arrows[i].ID] = &diagram.Arrows[i]
	}

	edges := make([]*domain.Edge, 0, len(conns))
	for _, conn := range conns {
		arrow := arrowsByID[conn.ArrowID]
		edges = append(edges, buildEdge(conn, arrow, nodes[conn.SourceNodeID], nodes[conn.TargetNodeID]))
	}

	order, levels, orderIssues := calculateOrder(nodes, edges)
	issues = append(issues, orderIssues...)

	if issues.HasErrors() {
		return nil, issues, issues
	}

	var startNodes, endNodes []domain.NodeID
	for _, id := range order {
		switch nodes[id].Type {
		case domain.NodeTypeStart:
			startNodes = append(startNodes, id)
		case domain.NodeTypeEndpoint:
			endNodes = append(endNodes, id)
		}
	}

	exec := &domain.ExecutableDiagram{
		ID:             diagram.ID,
		Nodes:          nodes,
		Edges:          edges,
		ExecutionOrder: order,
		Levels:         levels,
		StartNodes:     startNodes,
		EndNodes:       endNodes,
		Persons:        diagram.Persons,
	}
	exec.BuildIndices()

	return exec, issues, nil
}

// validateNodes checks structural requirements and node-type-specific shape
func validateNodes(nodes map[domain.NodeID]*domain.Node) Issues {
	var issues Issues

	startCount := 0
	for _, node := range nodes {
		if node.Type == domain.NodeTypeStart {
			startCount++
		}
	}
	if startCount == 0 {
		issues = append(issues, errorf("diagram has no start node (no place to begin)"))
	}

	for id, node := range nodes {
		if !domain.IsValidNodeType(node.Type) {
			issues = append(issues, ValidationIssue{
				Severity: SeverityError,
				Message:  "unknown node type: " + string(node.Type),
				NodeID:   string(id),
			})
			continue
		}
		issues = append(issues, validateNodeShape(node)...)
	}

	return issues
}

func validateNodeShape(node *domain.Node) Issues {
	var issues Issues
	nodeIssue := func(v ValidationIssue) {
		v.NodeID = string(node.ID)
		issues = append(issues, v)
	}

	switch node.Type {
	case domain.NodeTypePersonJob, domain.NodeTypePersonBatch:
		cfg := node.PersonJob
		if cfg == nil {
			nodeIssue(errorf("person_job node %s has no configuration", node.ID))
			break
		}
		if cfg.PersonID == "" && cfg.LLM == nil {
			nodeIssue(errorf("person_job node %s needs either person_id or an inline LLM config", node.ID))
		}
		if cfg.MaxIteration < 1 {
			nodeIssue(errorf("person_job node %s: max_iteration must be >= 1", node.ID))
		}
	case domain.NodeTypeCondition:
		cfg := node.Condition
		if cfg == nil {
			nodeIssue(errorf("condition node %s has no configuration", node.ID))
			break
		}
		if cfg.Kind == "" {
			cfg.Kind = domain.ConditionKindExpression
		}
		if cfg.Kind == domain.ConditionKindExpression && cfg.Expression == "" {
			nodeIssue(errorf("condition node %s: expression must not be empty", node.ID))
		}
	case domain.NodeTypeCodeJob:
		cfg := node.CodeJob
		if cfg == nil || cfg.Code == "" {
			nodeIssue(errorf("code_job node %s has no code", node.ID))
		}
	case domain.NodeTypeAPIJob:
		if node.APIJob == nil || node.APIJob.URL == "" {
			nodeIssue(errorf("api_job node %s has no url", node.ID))
		}
	case domain.NodeTypeDB:
		if node.DB == nil || node.DB.Operation == "" {
			nodeIssue(errorf("db node %s has no operation", node.ID))
		}
	case domain.NodeTypeTemplateJob:
		if node.TemplateJob == nil || node.TemplateJob.Template == "" {
			nodeIssue(errorf("template_job node %s has no template", node.ID))
		}
	case domain.NodeTypeUserResponse:
		if node.UserResponse == nil || node.UserResponse.Prompt == "" {
			nodeIssue(errorf("user_response node %s has no prompt", node.ID))
		}
	case domain.NodeTypeHook:
		if node.Hook == nil || node.Hook.HookType == "" {
			nodeIssue(errorf("hook node %s has no hook_type", node.ID))
		}
	case domain.NodeTypeNotion:
		if node.Notion == nil || node.Notion.Operation == "" {
			nodeIssue(errorf("notion node %s has no operation", node.ID))
		}
	case domain.NodeTypeEndpoint:
		if node.Endpoint != nil && node.Endpoint.SaveToFile && node.Endpoint.FileName == "" {
			nodeIssue(warnf("endpoint node %s: save_to_file set without file_name", node.ID))
		}
	}

	return issues
}
