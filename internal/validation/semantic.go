package validation

import (
	"fmt"

	"github.com/stagekit/flowline/pkg/schema"
)

// TypeLookup reports whether a handler is registered for a node type.
// Satisfied by *handlers.Registry; may be nil to skip availability checks.
type TypeLookup interface {
	Has(typ schema.NodeType) bool
}

// validateSemantic checks cross-references the JSON Schema cannot express:
// unique node ids, edge endpoints, declared outputs, and handler
// availability (a warning, since handlers may register after validation).
func validateSemantic(def *schema.WorkflowDefinition, lookup TypeLookup) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	nodeIDs := make(map[string]struct{}, len(def.Nodes))
	for i, node := range def.Nodes {
		path := fmt.Sprintf("/nodes/%d", i)
		if _, exists := nodeIDs[node.ID]; exists {
			result.AddError(path, schema.ErrCodeValidation,
				fmt.Sprintf("duplicate node id %q", node.ID))
			continue
		}
		nodeIDs[node.ID] = struct{}{}

		if lookup != nil && !lookup.Has(node.Type) {
			result.AddWarning(path, schema.ErrCodeUnknownNodeType,
				fmt.Sprintf("no handler registered for node type %q", node.Type))
		}
	}

	for i, edge := range def.Edges {
		path := fmt.Sprintf("/edges/%d", i)
		if _, ok := nodeIDs[edge.Source]; !ok {
			result.AddError(path, schema.ErrCodeStructural,
				fmt.Sprintf("edge source %q is not a node", edge.Source))
		}
		if _, ok := nodeIDs[edge.Target]; !ok {
			result.AddError(path, schema.ErrCodeStructural,
				fmt.Sprintf("edge target %q is not a node", edge.Target))
		}
		if edge.Source == edge.Target {
			result.AddError(path, schema.ErrCodeCycleDetected,
				fmt.Sprintf("node %q depends on itself", edge.Source))
		}
	}

	for i, out := range def.Outputs {
		if _, ok := nodeIDs[out]; !ok {
			result.AddError(fmt.Sprintf("/outputs/%d", i), schema.ErrCodeValidation,
				fmt.Sprintf("declared output %q is not a node", out))
		}
	}

	return result
}
