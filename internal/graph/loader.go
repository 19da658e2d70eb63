package graph

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type (
	definitionsFile struct {
		Nodes []nodeEntry `yaml:"nodes"`
	}

	nodeEntry struct {
		Name          string      `yaml:"name"`
		Artifact      string      `yaml:"artifact"`
		Args          []argEntry  `yaml:"args"`
		Calls         []callEntry `yaml:"calls"`
		Confirmations uint64      `yaml:"confirmations"`
		Tags          []string    `yaml:"tags"`
	}

	callEntry struct {
		Method string     `yaml:"method"`
		Args   []argEntry `yaml:"args"`
	}

	// argEntry is exactly one of {value: ...}, {param: key} or {ref: Node[.field]}.
	argEntry struct {
		arg Arg
	}
)

func (a *argEntry) UnmarshalYAML(value *yaml.Node) error {
	var raw map[string]any
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("line %d: argument must be a mapping with one of value, param or ref: %w", value.Line, err)
	}
	if len(raw) != 1 {
		return fmt.Errorf("line %d: argument must set exactly one of value, param or ref", value.Line)
	}

	for key, v := range raw {
		switch key {
		case "value":
			a.arg = Literal(v)
		case "param":
			s, ok := v.(string)
			if !ok || s == "" {
				return fmt.Errorf("line %d: param must be a non-empty string", value.Line)
			}
			a.arg = Param(s)
		case "ref":
			s, ok := v.(string)
			if !ok || s == "" {
				return fmt.Errorf("line %d: ref must be a non-empty string", value.Line)
			}
			a.arg = parseRef(s)
		default:
			return fmt.Errorf("line %d: unknown argument key %q", value.Line, key)
		}
	}

	return nil
}

// parseRef splits "Node.field". A suffix that is not a known field is part of
// the node name.
func parseRef(s string) Arg {
	if i := strings.LastIndex(s, "."); i > 0 && i < len(s)-1 && validField(s[i+1:]) {
		return Output(s[:i], s[i+1:])
	}
	return Output(s, FieldAddress)
}

// LoadDefinitions reads node definitions from a YAML file.
func LoadDefinitions(path string) ([]Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read definitions: %w", err)
	}

	defs, err := ParseDefinitions(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse definitions '%s': %w", path, err)
	}

	return defs, nil
}

// ParseDefinitions decodes YAML node definitions. The artifact defaults to the
// node name.
func ParseDefinitions(data []byte) ([]Definition, error) {
	var file definitionsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	defs := make([]Definition, 0, len(file.Nodes))
	for _, entry := range file.Nodes {
		def := Definition{
			Name:          entry.Name,
			Artifact:      entry.Artifact,
			Args:          toArgs(entry.Args),
			Confirmations: entry.Confirmations,
			Tags:          entry.Tags,
		}
		if def.Artifact == "" {
			def.Artifact = def.Name
		}
		for _, c := range entry.Calls {
			def.Calls = append(def.Calls, Call{Method: c.Method, Args: toArgs(c.Args)})
		}
		defs = append(defs, def)
	}

	return defs, nil
}

func toArgs(entries []argEntry) []Arg {
	args := make([]Arg, len(entries))
	for i, e := range entries {
		args[i] = e.arg
	}
	return args
}
