package kv

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"
)

// Kind tags the dynamic type of an encoded value. The SQL stores keep it in
// a column next to the encoded bytes.
type Kind string

// Kinds, one per canonical dynamic type.
const (
	KindNull   Kind = "null"
	KindBool   Kind = "bool"
	KindInt    Kind = "int"
	KindFloat  Kind = "float"
	KindString Kind = "string"
	KindBytes  Kind = "bytes"
	KindTime   Kind = "time"
	KindList   Kind = "list"
	KindMap    Kind = "map"
)

// envelope is the wire form of a value: a type tag and a payload. Nested
// containers hold envelopes so []byte and time.Time survive at any depth.
type envelope struct {
	T Kind            `json:"t"`
	V json.RawMessage `json:"v,omitempty"`
}

// KindOf returns the tag for a normalized value.
func KindOf(v Value) (Kind, error) {
	switch v.(type) {
	case nil:
		return KindNull, nil
	case bool:
		return KindBool, nil
	case int64:
		return KindInt, nil
	case float64:
		return KindFloat, nil
	case string:
		return KindString, nil
	case []byte:
		return KindBytes, nil
	case time.Time:
		return KindTime, nil
	case []any:
		return KindList, nil
	case map[string]any:
		return KindMap, nil
	}
	return "", fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
}

// Encode serializes v into its tagged JSON form. v is normalized first.
func Encode(v Value) ([]byte, error) {
	n, err := Normalize(v)
	if err != nil {
		return nil, err
	}
	env, err := toEnvelope(n)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// Decode parses data produced by Encode.
func Decode(data []byte) (Value, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode value: %w", err)
	}
	return fromEnvelope(env)
}

func toEnvelope(v Value) (envelope, error) {
	kind, err := KindOf(v)
	if err != nil {
		return envelope{}, err
	}

	var payload any
	switch x := v.(type) {
	case nil:
		return envelope{T: KindNull}, nil
	case int64:
		// Integers travel as strings so 64-bit values survive JSON.
		payload = strconv.FormatInt(x, 10)
	case time.Time:
		payload = x.Format(time.RFC3339Nano)
	case []any:
		list := make([]envelope, len(x))
		for i, elem := range x {
			if list[i], err = toEnvelope(elem); err != nil {
				return envelope{}, err
			}
		}
		payload = list
	case map[string]any:
		m := make(map[string]envelope, len(x))
		for k, elem := range x {
			if m[k], err = toEnvelope(elem); err != nil {
				return envelope{}, err
			}
		}
		payload = m
	default:
		payload = x
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return envelope{}, fmt.Errorf("failed to encode %s value: %w", kind, err)
	}
	return envelope{T: kind, V: raw}, nil
}

func fromEnvelope(env envelope) (Value, error) {
	switch env.T {
	case KindNull:
		return nil, nil
	case KindBool:
		var b bool
		err := json.Unmarshal(env.V, &b)
		return b, wrapDecode(env.T, err)
	case KindInt:
		var s string
		if err := json.Unmarshal(env.V, &s); err != nil {
			return nil, wrapDecode(env.T, err)
		}
		i, err := strconv.ParseInt(s, 10, 64)
		return i, wrapDecode(env.T, err)
	case KindFloat:
		var f float64
		err := json.Unmarshal(env.V, &f)
		return f, wrapDecode(env.T, err)
	case KindString:
		var s string
		err := json.Unmarshal(env.V, &s)
		return s, wrapDecode(env.T, err)
	case KindBytes:
		var b []byte
		if err := json.Unmarshal(env.V, &b); err != nil {
			return nil, wrapDecode(env.T, err)
		}
		if b == nil {
			b = []byte{}
		}
		return b, nil
	case KindTime:
		var s string
		if err := json.Unmarshal(env.V, &s); err != nil {
			return nil, wrapDecode(env.T, err)
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil, wrapDecode(env.T, err)
		}
		return t.UTC(), nil
	case KindList:
		var list []envelope
		if err := json.Unmarshal(env.V, &list); err != nil {
			return nil, wrapDecode(env.T, err)
		}
		out := make([]any, len(list))
		for i, elem := range list {
			v, err := fromEnvelope(elem)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case KindMap:
		var m map[string]envelope
		if err := json.Unmarshal(env.V, &m); err != nil {
			return nil, wrapDecode(env.T, err)
		}
		out := make(map[string]any, len(m))
		for k, elem := range m {
			v, err := fromEnvelope(elem)
			if err != nil {
				return nil, err
			}
			out[k] = v
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: unknown kind %q", ErrUnsupportedValue, env.T)
}

func wrapDecode(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("failed to decode %s value: %w", kind, err)
}

// Format renders a value for log lines. Maps print with sorted keys so the
// output is stable.
func Format(v Value) string {
	var buf bytes.Buffer
	format(&buf, v)
	return buf.String()
}

func format(buf *bytes.Buffer, v Value) {
	switch x := v.(type) {
	case nil:
		buf.WriteString("nil")
	case []byte:
		fmt.Fprintf(buf, "<%d bytes>", len(x))
	case time.Time:
		buf.WriteString(x.Format(time.RFC3339Nano))
	case []any:
		buf.WriteByte('[')
		for i, elem := range x {
			if i > 0 {
				buf.WriteString(", ")
			}
			format(buf, elem)
		}
		buf.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteString(", ")
			}
			buf.WriteString(k)
			buf.WriteString(": ")
			format(buf, x[k])
		}
		buf.WriteByte('}')
	default:
		fmt.Fprintf(buf, "%v", x)
	}
}
