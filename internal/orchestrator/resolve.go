package orchestrator

import (
	"fmt"

	"github.com/compose-network/deploykit/internal/graph"
	"github.com/compose-network/deploykit/internal/network"
	"github.com/compose-network/deploykit/internal/registry"
)

// resolveArgs turns argument specs into concrete values. outputs must hold the
// record of every node referenced.
func resolveArgs(node string, specs []graph.Arg, net network.Config, outputs map[string]registry.Record) ([]any, error) {
	values := make([]any, len(specs))

	for i, spec := range specs {
		switch spec.Kind {
		case graph.ArgLiteral:
			values[i] = spec.Value
		case graph.ArgParam:
			v, ok := net.Parameter(spec.Key)
			if !ok {
				return nil, &MissingParameterError{Node: node, Key: spec.Key, Network: net.Name}
			}
			values[i] = v
		case graph.ArgOutput:
			rec, ok := outputs[spec.Node]
			if !ok {
				return nil, fmt.Errorf("output of %q is not available to %q", spec.Node, node)
			}
			v, err := outputField(rec, spec.Field)
			if err != nil {
				return nil, err
			}
			values[i] = v
		default:
			return nil, fmt.Errorf("node %q has an argument of unknown kind %d", node, spec.Kind)
		}
	}

	return values, nil
}

func outputField(rec registry.Record, field string) (any, error) {
	switch field {
	case graph.FieldAddress, "":
		return rec.Address.Hex(), nil
	case graph.FieldTransactionHash:
		return rec.TransactionHash.Hex(), nil
	case graph.FieldBlockNumber:
		return rec.Block, nil
	default:
		return nil, fmt.Errorf("unknown output field %q of %q", field, rec.Node)
	}
}
