// Package specvalue implements the dynamic argument representation of
// spec.md §9: a tagged sum type covering everything an enqueue
// specification's args/kwargs may carry, plus the handful of non-JSON-
// native kinds (durations, exact decimals, entity references) wrapped
// under a reserved "__type__" discriminator.
package specvalue

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Kind discriminates the Value union.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindSequence
	KindMapping
	KindTagged
)

// TaggedKind enumerates the recognized kinds carried by a Tagged value.
// Any other string found in a deserialized "__type__" field fails with
// ErrDeserializationFailed, whose reason is the ErrUnknownTag message.
type TaggedKind string

const (
	TagDuration  TaggedKind = "duration"
	TagDecimal   TaggedKind = "decimal"
	TagEntityRef TaggedKind = "entity_ref"
)

// TypeKey is the reserved discriminator key. Producer payloads that use
// this key at the top level of a mapping are rejected by the
// canonicalizer (see canonical.ErrReservedKey).
const TypeKey = "__type__"

// Value is a single node in the canonical representation tree.
type Value struct {
	kind Kind

	b    bool
	i    int64
	f    float64
	s    string
	seq  []Value
	mp   map[string]Value
	tag  TaggedKind
	body TaggedBody
}

// TaggedBody is the payload carried by a Tagged value. Each recognized
// TaggedKind has its own concrete body type.
type TaggedBody interface {
	taggedBody()
}

// Duration mirrors §4.1: days/seconds/microseconds rather than a single
// integer, so durations beyond int64 nanoseconds round-trip exactly and
// the wire form matches what a non-Go producer would emit.
type Duration struct {
	Days         int64
	Seconds      int64
	Microseconds int64
}

func (Duration) taggedBody() {}

// AsGoDuration converts to a time.Duration. Values larger than what
// time.Duration can hold saturate rather than overflow silently.
func (d Duration) AsGoDuration() time.Duration {
	approx := float64(d.Days)*float64(24*time.Hour) +
		float64(d.Seconds)*float64(time.Second) +
		float64(d.Microseconds)*float64(time.Microsecond)
	if approx >= math.MaxInt64 {
		return math.MaxInt64
	}
	if approx <= math.MinInt64 {
		return math.MinInt64
	}
	total := time.Duration(d.Days) * 24 * time.Hour
	total += time.Duration(d.Seconds) * time.Second
	total += time.Duration(d.Microseconds) * time.Microsecond
	return total
}

func DurationFromGo(d time.Duration) Duration {
	days := int64(d / (24 * time.Hour))
	rem := d % (24 * time.Hour)
	secs := int64(rem / time.Second)
	rem = rem % time.Second
	micros := int64(rem / time.Microsecond)
	return Duration{Days: days, Seconds: secs, Microseconds: micros}
}

// Decimal wraps an exact decimal, backed by shopspring/decimal so that
// monetary and other exact-fraction arguments never round-trip through
// float64.
type Decimal struct {
	D decimal.Decimal
}

func (Decimal) taggedBody() {}

// EntityRef is a tagged reference to an external entity, resolved
// lazily at execution time against the active database alias (spec.md
// §4.1). Class names the entity's table/model; Key is its primary key.
type EntityRef struct {
	Class string
	Key   string
}

func (EntityRef) taggedBody() {}

// Constructors.

func Null() Value                 { return Value{kind: KindNull} }
func Bool(b bool) Value           { return Value{kind: KindBool, b: b} }
func Int(i int64) Value           { return Value{kind: KindInt, i: i} }
func Float(f float64) Value       { return Value{kind: KindFloat, f: f} }
func String(s string) Value       { return Value{kind: KindString, s: s} }

func Sequence(items ...Value) Value {
	return Value{kind: KindSequence, seq: items}
}

func Mapping(m map[string]Value) Value {
	return Value{kind: KindMapping, mp: m}
}

func Tagged(tag TaggedKind, body TaggedBody) Value {
	return Value{kind: KindTagged, tag: tag, body: body}
}

func FromDuration(d time.Duration) Value {
	return Tagged(TagDuration, DurationFromGo(d))
}

func FromDecimal(d decimal.Decimal) Value {
	return Tagged(TagDecimal, Decimal{D: d})
}

func FromEntityRef(class, key string) Value {
	return Tagged(TagEntityRef, EntityRef{Class: class, Key: key})
}

// Accessors.

func (v Value) Kind() Kind { return v.kind }
func (v Value) Bool() bool { return v.b }
func (v Value) Int() int64 { return v.i }
func (v Value) Float() float64 { return v.f }
func (v Value) String() string { return v.s }
func (v Value) Sequence() []Value { return v.seq }
func (v Value) Mapping() map[string]Value { return v.mp }
func (v Value) TagKind() TaggedKind { return v.tag }
func (v Value) Body() TaggedBody { return v.body }

// SortedMappingKeys returns a mapping's keys in code-point ascending
// order, matching the canonicalization rule of spec.md §4.1.
func (v Value) SortedMappingKeys() []string {
	keys := make([]string, 0, len(v.mp))
	for k := range v.mp {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Equal performs a structural comparison, used by tests asserting
// round-trip fidelity.
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindNull:
		return true
	case KindBool:
		return a.b == b.b
	case KindInt:
		return a.i == b.i
	case KindFloat:
		return a.f == b.f
	case KindString:
		return a.s == b.s
	case KindSequence:
		if len(a.seq) != len(b.seq) {
			return false
		}
		for i := range a.seq {
			if !Equal(a.seq[i], b.seq[i]) {
				return false
			}
		}
		return true
	case KindMapping:
		if len(a.mp) != len(b.mp) {
			return false
		}
		for k, av := range a.mp {
			bv, ok := b.mp[k]
			if !ok || !Equal(av, bv) {
				return false
			}
		}
		return true
	case KindTagged:
		if a.tag != b.tag {
			return false
		}
		return equalTaggedBody(a.tag, a.body, b.body)
	default:
		return false
	}
}

func equalTaggedBody(tag TaggedKind, a, b TaggedBody) bool {
	switch tag {
	case TagDuration:
		ad, aok := a.(Duration)
		bd, bok := b.(Duration)
		return aok && bok && ad == bd
	case TagDecimal:
		ad, aok := a.(Decimal)
		bd, bok := b.(Decimal)
		return aok && bok && ad.D.Equal(bd.D)
	case TagEntityRef:
		ar, aok := a.(EntityRef)
		br, bok := b.(EntityRef)
		return aok && bok && ar == br
	default:
		return false
	}
}

// ErrUnknownTag describes a deserialized __type__ value that names a
// kind this package does not recognize. FromInterface does not return
// it directly; it reports its message as the Reason of an
// ErrDeserializationFailed (spec.md §4.1's DeserializationFailed
// contract).
type ErrUnknownTag struct {
	Tag string
}

func (e *ErrUnknownTag) Error() string {
	return fmt.Sprintf("specvalue: unknown tagged kind %q", e.Tag)
}
