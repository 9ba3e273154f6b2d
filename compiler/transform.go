package compiler

import (
	"github.com/diaflow/diaflow/domain"
)

// defaultContentType returns the content type implied by the source node's
// type when neither the arrow nor the connection declares one
func defaultContentType(source *domain.Node) string {
	switch source.Type {
	case domain.NodeTypePersonJob, domain.NodeTypePersonBatch:
		return domain.ContentTypeConversationState
	case domain.NodeTypeDB:
		return domain.ContentTypeVariable
	case domain.NodeTypeCodeJob:
		return domain.ContentTypeRawText
	default:
		return domain.ContentTypeRawText
	}
}

// buildEdge turns a resolved connection plus its arrow into an executable
// edge. Transform merge order, later wins: node-type defaults, then
// arrow-declared transforms, then explicit connection overrides carried in
// arrow.Data under "transform".
func buildEdge(conn ResolvedConnection, arrow *domain.Arrow, source, target *domain.Node) *domain.Edge {
	transform := domain.TransformRule{
		domain.TransformContentType: defaultContentType(source),
	}

	// Condition outputs dispatch on the boolean outcome
	if source.Type == domain.NodeTypeCondition {
		transform[domain.TransformBranchOn] = "condition_result"
		// Condition edges carry no conversation memory by default
		transform[domain.TransformContentType] = domain.ContentTypeRawText
	}

	transform = transform.Merge(arrow.Transform)

	if arrow.Data != nil {
		if override, ok := arrow.Data["transform"].(map[string]interface{}); ok {
			transform = transform.Merge(domain.TransformRule(override))
		}
	}

	metadata := make(map[string]interface{})
	if arrow.Label != "" {
		metadata[domain.EdgeMetaLabel] = arrow.Label
	}
	if arrow.Data != nil {
		if branch, ok := arrow.Data[domain.EdgeMetaBranch].(string); ok {
			metadata[domain.EdgeMetaBranch] = branch
		}
	}
	// Condition handles named true/false double as branch markers
	if source.Type == domain.NodeTypeCondition {
		if _, has := metadata[domain.EdgeMetaBranch]; !has {
			switch conn.SourceHandle {
			case "true", "false":
				metadata[domain.EdgeMetaBranch] = conn.SourceHandle
			}
		}
	}

	sourceOutput := conn.SourceHandle
	if sourceOutput == "output" {
		sourceOutput = "default"
	}
	targetInput := conn.TargetHandle
	if targetInput == "input" {
		targetInput = "default"
	}

	return &domain.Edge{
		ID:           conn.ArrowID,
		SourceNodeID: conn.SourceNodeID,
		TargetNodeID: conn.TargetNodeID,
		SourceOutput: sourceOutput,
		TargetInput:  targetInput,
		Transform:    transform,
		Metadata:     metadata,
	}
}
