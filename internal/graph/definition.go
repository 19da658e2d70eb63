package graph

import "fmt"

type (
	ArgKind int

	// Arg describes where one constructor or call argument comes from.
	Arg struct {
		Kind  ArgKind
		Value any    // ArgLiteral
		Key   string // ArgParam
		Node  string // ArgOutput
		Field string // ArgOutput
	}

	// Call is a transaction sent to a node's contract right after it is deployed.
	Call struct {
		Method string
		Args   []Arg
	}

	// Definition is the declarative description of one deployable unit.
	Definition struct {
		Name     string
		Artifact string
		Args     []Arg
		Calls    []Call
		// Confirmations overrides the network's default depth when non-zero.
		Confirmations uint64
		Tags          []string
	}
)

const (
	ArgLiteral ArgKind = iota
	ArgParam
	ArgOutput
)

// Output fields a node exposes to its dependents.
const (
	FieldAddress         = "address"
	FieldTransactionHash = "transactionHash"
	FieldBlockNumber     = "blockNumber"
)

func Literal(v any) Arg {
	return Arg{Kind: ArgLiteral, Value: v}
}

func Param(key string) Arg {
	return Arg{Kind: ArgParam, Key: key}
}

// Output references a field of another node's deployment record. An empty
// field means the address.
func Output(node, field string) Arg {
	if field == "" {
		field = FieldAddress
	}
	return Arg{Kind: ArgOutput, Node: node, Field: field}
}

func (a Arg) String() string {
	switch a.Kind {
	case ArgLiteral:
		return fmt.Sprintf("%v", a.Value)
	case ArgParam:
		return "param:" + a.Key
	case ArgOutput:
		return a.Node + "." + a.Field
	default:
		return "invalid"
	}
}

// references lists the node names a definition depends on, deduplicated, in
// declaration order. Self references from calls are not dependencies.
func (d Definition) references() []string {
	seen := make(map[string]struct{})
	var refs []string

	add := func(args []Arg) {
		for _, a := range args {
			if a.Kind != ArgOutput || a.Node == d.Name {
				continue
			}
			if _, ok := seen[a.Node]; ok {
				continue
			}
			seen[a.Node] = struct{}{}
			refs = append(refs, a.Node)
		}
	}

	add(d.Args)
	for _, c := range d.Calls {
		add(c.Args)
	}

	return refs
}

// validField accepts the empty field as the address, like Output.
func validField(field string) bool {
	switch field {
	case "", FieldAddress, FieldTransactionHash, FieldBlockNumber:
		return true
	default:
		return false
	}
}
