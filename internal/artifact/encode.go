package artifact

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// InitCode is the bytecode followed by the ABI encoded constructor arguments.
func (a *Artifact) InitCode(args []any) ([]byte, error) {
	encoded, err := a.ConstructorArgs(args)
	if err != nil {
		return nil, err
	}

	code := make([]byte, 0, len(a.Bytecode)+len(encoded))
	code = append(code, a.Bytecode...)
	return append(code, encoded...), nil
}

// ConstructorArgs encodes args against the constructor inputs.
func (a *Artifact) ConstructorArgs(args []any) ([]byte, error) {
	inputs := a.ABI.Constructor.Inputs
	values, err := ConvertArgs(inputs, args)
	if err != nil {
		return nil, fmt.Errorf("%s constructor: %w", a.Name, err)
	}

	encoded, err := inputs.Pack(values...)
	if err != nil {
		return nil, fmt.Errorf("%w: %s constructor: %v", ErrEncoding, a.Name, err)
	}
	return encoded, nil
}

// CallData encodes a call to method. Overloaded methods are addressed by their
// go-ethereum name (transfer, transfer0, ...).
func (a *Artifact) CallData(method string, args []any) ([]byte, error) {
	m, ok := a.ABI.Methods[method]
	if !ok {
		return nil, fmt.Errorf("%w: %s has no method %q", ErrEncoding, a.Name, method)
	}

	values, err := ConvertArgs(m.Inputs, args)
	if err != nil {
		return nil, fmt.Errorf("%s.%s: %w", a.Name, method, err)
	}

	data, err := a.ABI.Pack(method, values...)
	if err != nil {
		return nil, fmt.Errorf("%w: %s.%s: %v", ErrEncoding, a.Name, method, err)
	}
	return data, nil
}

// ConvertArgs turns values decoded from YAML/JSON (strings, numbers, lists and
// maps) into the Go types the ABI packer expects.
func ConvertArgs(inputs abi.Arguments, values []any) ([]any, error) {
	if len(inputs) != len(values) {
		return nil, fmt.Errorf("%w: expected %d arguments, got %d", ErrEncoding, len(inputs), len(values))
	}

	out := make([]any, len(values))
	for i, input := range inputs {
		v, err := convert(input.Type, values[i])
		if err != nil {
			name := input.Name
			if name == "" {
				name = fmt.Sprintf("#%d", i)
			}
			return nil, fmt.Errorf("%w: argument %s (%s): %v", ErrEncoding, name, input.Type.String(), err)
		}
		out[i] = v
	}

	return out, nil
}

func convert(t abi.Type, v any) (any, error) {
	switch t.T {
	case abi.AddressTy:
		return toAddress(v)
	case abi.BoolTy:
		return toBool(v)
	case abi.StringTy:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", v)
		}
		return s, nil
	case abi.IntTy, abi.UintTy:
		return toInteger(t, v)
	case abi.BytesTy:
		return toBytes(v)
	case abi.FixedBytesTy:
		b, err := toBytes(v)
		if err != nil {
			return nil, err
		}
		if len(b) != t.Size {
			return nil, fmt.Errorf("expected %d bytes, got %d", t.Size, len(b))
		}
		arr := reflect.New(t.GetType()).Elem()
		reflect.Copy(arr, reflect.ValueOf(b))
		return arr.Interface(), nil
	case abi.SliceTy, abi.ArrayTy:
		return toList(t, v)
	case abi.TupleTy:
		return toTuple(t, v)
	default:
		return nil, fmt.Errorf("unsupported type %s", t.String())
	}
}

func toAddress(v any) (common.Address, error) {
	switch x := v.(type) {
	case common.Address:
		return x, nil
	case string:
		if !common.IsHexAddress(x) {
			return common.Address{}, fmt.Errorf("%q is not an address", x)
		}
		return common.HexToAddress(x), nil
	default:
		return common.Address{}, fmt.Errorf("expected address, got %T", v)
	}
}

func toBool(v any) (bool, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case string:
		switch strings.ToLower(x) {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
	}
	return false, fmt.Errorf("expected bool, got %v", v)
}

func toBytes(v any) ([]byte, error) {
	switch x := v.(type) {
	case []byte:
		return x, nil
	case common.Hash:
		return x.Bytes(), nil
	case string:
		b, err := hexutil.Decode(x)
		if err != nil {
			return nil, fmt.Errorf("expected 0x-prefixed hex: %v", err)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("expected hex bytes, got %T", v)
	}
}

func toBigInt(v any) (*big.Int, error) {
	switch x := v.(type) {
	case *big.Int:
		return new(big.Int).Set(x), nil
	case big.Int:
		return new(big.Int).Set(&x), nil
	case int:
		return big.NewInt(int64(x)), nil
	case int32:
		return big.NewInt(int64(x)), nil
	case int64:
		return big.NewInt(x), nil
	case uint:
		return new(big.Int).SetUint64(uint64(x)), nil
	case uint32:
		return new(big.Int).SetUint64(uint64(x)), nil
	case uint64:
		return new(big.Int).SetUint64(x), nil
	case float64:
		if x != math.Trunc(x) || math.Abs(x) > 1<<53 {
			return nil, fmt.Errorf("%v is not an exact integer", x)
		}
		return big.NewInt(int64(x)), nil
	case json.Number:
		return parseBigInt(x.String())
	case string:
		return parseBigInt(x)
	default:
		return nil, fmt.Errorf("expected integer, got %T", v)
	}
}

func parseBigInt(s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(strings.ReplaceAll(s, "_", ""), 0)
	if !ok {
		return nil, fmt.Errorf("%q is not an integer", s)
	}
	return n, nil
}

func toInteger(t abi.Type, v any) (any, error) {
	n, err := toBigInt(v)
	if err != nil {
		return nil, err
	}

	if t.T == abi.UintTy {
		if n.Sign() < 0 || n.BitLen() > t.Size {
			return nil, fmt.Errorf("%s out of range for uint%d", n, t.Size)
		}
	} else {
		limit := new(big.Int).Lsh(common.Big1, uint(t.Size-1))
		lowest := new(big.Int).Neg(limit)
		if n.Cmp(lowest) < 0 || n.Cmp(limit) >= 0 {
			return nil, fmt.Errorf("%s out of range for int%d", n, t.Size)
		}
	}

	typ := t.GetType()
	if typ == reflect.TypeOf((*big.Int)(nil)) {
		return n, nil
	}

	out := reflect.New(typ).Elem()
	if t.T == abi.UintTy {
		out.SetUint(n.Uint64())
	} else {
		out.SetInt(n.Int64())
	}
	return out.Interface(), nil
}

func toList(t abi.Type, v any) (any, error) {
	rv := reflect.ValueOf(v)
	if v == nil || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return nil, fmt.Errorf("expected list, got %T", v)
	}

	n := rv.Len()
	var out reflect.Value
	if t.T == abi.ArrayTy {
		if n != t.Size {
			return nil, fmt.Errorf("expected %d elements, got %d", t.Size, n)
		}
		out = reflect.New(t.GetType()).Elem()
	} else {
		out = reflect.MakeSlice(t.GetType(), n, n)
	}

	for i := range n {
		elem, err := convert(*t.Elem, rv.Index(i).Interface())
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		out.Index(i).Set(reflect.ValueOf(elem))
	}

	return out.Interface(), nil
}

// toTuple accepts either a map keyed by component name or a positional list.
func toTuple(t abi.Type, v any) (any, error) {
	out := reflect.New(t.GetType()).Elem()

	lookup := func(i int) (any, error) {
		switch x := v.(type) {
		case map[string]any:
			val, ok := x[t.TupleRawNames[i]]
			if !ok {
				return nil, fmt.Errorf("missing tuple field %q", t.TupleRawNames[i])
			}
			return val, nil
		case []any:
			if len(x) != len(t.TupleElems) {
				return nil, fmt.Errorf("expected %d tuple elements, got %d", len(t.TupleElems), len(x))
			}
			return x[i], nil
		default:
			return nil, fmt.Errorf("expected tuple as map or list, got %T", v)
		}
	}

	for i, elemType := range t.TupleElems {
		raw, err := lookup(i)
		if err != nil {
			return nil, err
		}
		elem, err := convert(*elemType, raw)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", t.TupleRawNames[i], err)
		}
		out.Field(i).Set(reflect.ValueOf(elem))
	}

	return out.Interface(), nil
}
