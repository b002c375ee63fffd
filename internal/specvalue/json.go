package specvalue

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrDeserializationFailed is spec.md §4.1's DeserializationFailed,
// raised when a tagged wrapper cannot be rebuilt (unknown kind, or a
// malformed body for a recognized one).
type ErrDeserializationFailed struct {
	Reason string
}

func (e *ErrDeserializationFailed) Error() string {
	return fmt.Sprintf("deserialization failed: %s", e.Reason)
}

// ToInterface lowers a Value tree to the plain Go interface{} shape
// (map[string]any / []any / string / float64 / bool / nil, plus tagged
// maps carrying TypeKey) that FromInterface reads back. Integers are
// kept as int64 rather than float64 so FromInterface restores them as
// Int rather than Float, without mantissa loss.
func ToInterface(v Value) any {
	switch v.kind {
	case KindNull:
		return nil
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindString:
		return v.s
	case KindSequence:
		out := make([]any, len(v.seq))
		for i, item := range v.seq {
			out[i] = ToInterface(item)
		}
		return out
	case KindMapping:
		out := make(map[string]any, len(v.mp))
		for k, item := range v.mp {
			out[k] = ToInterface(item)
		}
		return out
	case KindTagged:
		return taggedToInterface(v.tag, v.body)
	default:
		return nil
	}
}

func taggedToInterface(tag TaggedKind, body TaggedBody) map[string]any {
	m := map[string]any{TypeKey: string(tag)}
	switch tag {
	case TagDuration:
		d := body.(Duration)
		m["days"] = d.Days
		m["seconds"] = d.Seconds
		m["microseconds"] = d.Microseconds
	case TagDecimal:
		d := body.(Decimal)
		m["value"] = d.D.String()
	case TagEntityRef:
		r := body.(EntityRef)
		m["class"] = r.Class
		m["key"] = r.Key
	}
	return m
}

// FromInterface inverts ToInterface, recognizing tagged maps by the
// presence of TypeKey. Unknown tag kinds fail with
// ErrDeserializationFailed, per spec.md §4.1.
func FromInterface(raw any) (Value, error) {
	switch t := raw.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case int64:
		return Int(t), nil
	case int:
		return Int(int64(t)), nil
	case float64:
		return Float(t), nil
	case string:
		return String(t), nil
	case []any:
		items := make([]Value, len(t))
		for i, item := range t {
			v, err := FromInterface(item)
			if err != nil {
				return Value{}, err
			}
			items[i] = v
		}
		return Sequence(items...), nil
	case map[string]any:
		if tagRaw, ok := t[TypeKey]; ok {
			tag, _ := tagRaw.(string)
			return taggedFromInterface(TaggedKind(tag), t)
		}
		out := make(map[string]Value, len(t))
		for k, item := range t {
			v, err := FromInterface(item)
			if err != nil {
				return Value{}, err
			}
			out[k] = v
		}
		return Mapping(out), nil
	default:
		return Value{}, &ErrDeserializationFailed{Reason: fmt.Sprintf("unsupported native type %T", raw)}
	}
}

func taggedFromInterface(tag TaggedKind, m map[string]any) (Value, error) {
	switch tag {
	case TagDuration:
		days, _ := toInt64(m["days"])
		seconds, _ := toInt64(m["seconds"])
		micros, _ := toInt64(m["microseconds"])
		return Tagged(TagDuration, Duration{Days: days, Seconds: seconds, Microseconds: micros}), nil
	case TagDecimal:
		s, ok := m["value"].(string)
		if !ok {
			return Value{}, &ErrDeserializationFailed{Reason: "decimal wrapper missing string value"}
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return Value{}, &ErrDeserializationFailed{Reason: "decimal wrapper: " + err.Error()}
		}
		return Tagged(TagDecimal, Decimal{D: d}), nil
	case TagEntityRef:
		class, _ := m["class"].(string)
		key, _ := m["key"].(string)
		if class == "" || key == "" {
			return Value{}, &ErrDeserializationFailed{Reason: "entity_ref wrapper missing class or key"}
		}
		return Tagged(TagEntityRef, EntityRef{Class: class, Key: key}), nil
	default:
		return Value{}, &ErrDeserializationFailed{Reason: (&ErrUnknownTag{Tag: string(tag)}).Error()}
	}
}

func toInt64(raw any) (int64, bool) {
	switch t := raw.(type) {
	case int64:
		return t, true
	case float64:
		return int64(t), true
	case int:
		return int64(t), true
	default:
		return 0, false
	}
}
