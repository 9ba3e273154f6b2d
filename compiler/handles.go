package compiler

import (
	"fmt"

	"github.com/diaflow/diaflow/domain"
)

// ResolvedConnection is an arrow with both handle references validated
// against the diagram's nodes
type ResolvedConnection struct {
	ArrowID      domain.ArrowID
	SourceNodeID domain.NodeID
	TargetNodeID domain.NodeID
	SourceHandle string
	TargetHandle string
}

// resolveConnections parses and validates every arrow's handle references.
// Failed arrows are omitted and reported; the compiler aggregates the
// diagnostics. When the diagram declares no handles a default set is
// synthesized per node type.
func resolveConnections(diagram *domain.DomainDiagram, nodes map[domain.NodeID]*domain.Node) ([]ResolvedConnection, Issues) {
	var (
		conns  []ResolvedConnection
		issues Issues
	)

	handles := diagram.Handles
	if len(handles) == 0 {
		handles = synthesizeHandles(nodes)
	}
	known := make(map[domain.HandleID]bool, len(handles))
	for _, h := range handles {
		known[domain.MakeHandleID(h.NodeID, h.Name, h.Direction)] = true
	}

	for _, arrow := range diagram.Arrows {
		conn, err := resolveArrow(&arrow, nodes, known)
		if err != nil {
			issues = append(issues, ValidationIssue{
				Severity: SeverityError,
				Message:  err.Error(),
				ArrowID:  string(arrow.ID),
			})
			continue
		}
		conns = append(conns, conn)
	}

	return conns, issues
}

func resolveArrow(arrow *domain.Arrow, nodes map[domain.NodeID]*domain.Node, known map[domain.HandleID]bool) (ResolvedConnection, error) {
	srcNode, srcHandle, srcDir, err := domain.ParseHandleID(arrow.Source)
	if err != nil {
		return ResolvedConnection{}, fmt.Errorf("arrow %s: bad source: %w", arrow.ID, err)
	}
	tgtNode, tgtHandle, tgtDir, err := domain.ParseHandleID(arrow.Target)
	if err != nil {
		return ResolvedConnection{}, fmt.Errorf("arrow %s: bad target: %w", arrow.ID, err)
	}

	// A two-part reference infers its direction from position
	if srcDir == "" {
		srcDir = domain.HandleOutput
	}
	if tgtDir == "" {
		tgtDir = domain.HandleInput
	}

	if srcDir != domain.HandleOutput {
		return ResolvedConnection{}, fmt.Errorf("arrow %s: source %s must reference an output handle", arrow.ID, arrow.Source)
	}
	if tgtDir != domain.HandleInput {
		return ResolvedConnection{}, fmt.Errorf("arrow %s: target %s must reference an input handle", arrow.ID, arrow.Target)
	}

	if _, exists := nodes[srcNode]; !exists {
		return ResolvedConnection{}, fmt.Errorf("arrow %s: source references unknown node %s", arrow.ID, srcNode)
	}
	if _, exists := nodes[tgtNode]; !exists {
		return ResolvedConnection{}, fmt.Errorf("arrow %s: target references unknown node %s", arrow.ID, tgtNode)
	}

	if !known[domain.MakeHandleID(srcNode, srcHandle, domain.HandleOutput)] {
		return ResolvedConnection{}, fmt.Errorf("arrow %s: node %s has no output handle %q", arrow.ID, srcNode, srcHandle)
	}
	if !known[domain.MakeHandleID(tgtNode, tgtHandle, domain.HandleInput)] {
		return ResolvedConnection{}, fmt.Errorf("arrow %s: node %s has no input handle %q", arrow.ID, tgtNode, tgtHandle)
	}

	return ResolvedConnection{
		ArrowID:      arrow.ID,
		SourceNodeID: srcNode,
		TargetNodeID: tgtNode,
		SourceHandle: srcHandle,
		TargetHandle: tgtHandle,
	}, nil
}

// synthesizeHandles builds the default handle set for diagrams that declare
// none: non-start nodes get an input, non-endpoint nodes get an output, and
// condition nodes additionally expose true/false outputs.
func synthesizeHandles(nodes map[domain.NodeID]*domain.Node) []domain.Handle {
	var handles []domain.Handle
	for id, node := range nodes {
		if node.Type != domain.NodeTypeStart {
			handles = append(handles, domain.Handle{
				ID:        domain.MakeHandleID(id, "input", domain.HandleInput),
				NodeID:    id,
				Name:      "input",
				Direction: domain.HandleInput,
			})
		}
		if node.Type != domain.NodeTypeEndpoint {
			handles = append(handles, domain.Handle{
				ID:        domain.MakeHandleID(id, "output", domain.HandleOutput),
				NodeID:    id,
				Name:      "output",
				Direction: domain.HandleOutput,
			})
		}
		if node.Type == domain.NodeTypeCondition {
			for _, name := range []string{"true", "false"} {
				handles = append(handles, domain.Handle{
					ID:        domain.MakeHandleID(id, name, domain.HandleOutput),
					NodeID:    id,
					Name:      name,
					Direction: domain.HandleOutput,
				})
			}
		}
		// person_job separates the first-run input from subsequent runs
		if node.Type == domain.NodeTypePersonJob || node.Type == domain.NodeTypePersonBatch {
			handles = append(handles, domain.Handle{
				ID:        domain.MakeHandleID(id, "first", domain.HandleInput),
				NodeID:    id,
				Name:      "first",
				Direction: domain.HandleInput,
			})
		}
	}
	return handles
}
