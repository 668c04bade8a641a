package order

import (
	"encoding/json"
	"sort"

	"github.com/cockroachdb/errors"
)

// Payload is the flat key/value bag handed unchanged to the handler.
//
// Values are restricted to string, bool, int64, float64 and slices of
// string, int64 and float64. Put normalizes the narrower Go kinds (int,
// int32, float32, []int) to those.
type Payload map[string]any

const (
	typeString  = "string"
	typeBool    = "bool"
	typeInt     = "int"
	typeFloat   = "float"
	typeStrings = "[]string"
	typeInts    = "[]int"
	typeFloats  = "[]float"
)

// Normalize converts v to one of the supported payload types.
func Normalize(v any) (any, error) {
	switch x := v.(type) {
	case string, bool, int64, float64, []string, []int64, []float64:
		return x, nil
	case int:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case float32:
		return float64(x), nil
	case []int:
		out := make([]int64, len(x))
		for i, n := range x {
			out[i] = int64(n)
		}
		return out, nil
	default:
		return nil, errors.Mark(errors.Newf("unsupported payload value type %T", v), ErrInvalidOrder)
	}
}

func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	out := make(Payload, len(p))
	for k, v := range p {
		switch x := v.(type) {
		case []string:
			out[k] = append([]string(nil), x...)
		case []int64:
			out[k] = append([]int64(nil), x...)
		case []float64:
			out[k] = append([]float64(nil), x...)
		default:
			out[k] = v
		}
	}
	return out
}

func (p Payload) Str(key string) (string, bool) {
	v, ok := p[key].(string)
	return v, ok
}

func (p Payload) Int(key string) (int64, bool) {
	v, ok := p[key].(int64)
	return v, ok
}

func (p Payload) Float(key string) (float64, bool) {
	v, ok := p[key].(float64)
	return v, ok
}

func (p Payload) Bool(key string) (bool, bool) {
	v, ok := p[key].(bool)
	return v, ok
}

// Keys returns the payload keys sorted.
func (p Payload) Keys() []string {
	out := make([]string, 0, len(p))
	for k := range p {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

type typedValue struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

// MarshalJSON writes each entry with its type so that integers and floats
// survive a round trip.
func (p Payload) MarshalJSON() ([]byte, error) {
	if p == nil {
		return []byte("{}"), nil
	}
	out := make(map[string]typedValue, len(p))
	for k, v := range p {
		nv, err := Normalize(v)
		if err != nil {
			return nil, errors.Wrapf(err, "payload key %q", k)
		}
		raw, err := json.Marshal(nv)
		if err != nil {
			return nil, errors.Wrapf(err, "payload key %q", k)
		}
		out[k] = typedValue{Type: payloadType(nv), Value: raw}
	}
	return json.Marshal(out)
}

func (p *Payload) UnmarshalJSON(b []byte) error {
	var in map[string]typedValue
	if err := json.Unmarshal(b, &in); err != nil {
		return errors.Wrap(err, "decode payload")
	}
	if len(in) == 0 {
		*p = nil
		return nil
	}
	out := make(Payload, len(in))
	for k, tv := range in {
		var dst any
		switch tv.Type {
		case typeString:
			dst = new(string)
		case typeBool:
			dst = new(bool)
		case typeInt:
			dst = new(int64)
		case typeFloat:
			dst = new(float64)
		case typeStrings:
			dst = new([]string)
		case typeInts:
			dst = new([]int64)
		case typeFloats:
			dst = new([]float64)
		default:
			return errors.Newf("payload key %q: unknown type %q", k, tv.Type)
		}
		if err := json.Unmarshal(tv.Value, dst); err != nil {
			return errors.Wrapf(err, "payload key %q", k)
		}
		switch x := dst.(type) {
		case *string:
			out[k] = *x
		case *bool:
			out[k] = *x
		case *int64:
			out[k] = *x
		case *float64:
			out[k] = *x
		case *[]string:
			out[k] = *x
		case *[]int64:
			out[k] = *x
		case *[]float64:
			out[k] = *x
		}
	}
	*p = out
	return nil
}

func payloadType(v any) string {
	switch v.(type) {
	case string:
		return typeString
	case bool:
		return typeBool
	case int64:
		return typeInt
	case float64:
		return typeFloat
	case []string:
		return typeStrings
	case []int64:
		return typeInts
	case []float64:
		return typeFloats
	}
	return ""
}
