package canonical_test

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/reproq/reproq/internal/canonical"
	"github.com/reproq/reproq/internal/specvalue"
)

func TestFingerprint_InvariantUnderKeyOrder(t *testing.T) {
	a := specvalue.Mapping(map[string]specvalue.Value{
		"b": specvalue.Int(2),
		"a": specvalue.Int(1),
	})
	b := specvalue.Mapping(map[string]specvalue.Value{
		"a": specvalue.Int(1),
		"b": specvalue.Int(2),
	})

	ha, err := canonical.Fingerprint(a)
	if err != nil {
		t.Fatalf("fingerprint a: %v", err)
	}
	hb, err := canonical.Fingerprint(b)
	if err != nil {
		t.Fatalf("fingerprint b: %v", err)
	}
	if ha != hb {
		t.Fatalf("fingerprints differ by key order: %s != %s", ha, hb)
	}
	if len(ha) != 64 {
		t.Fatalf("fingerprint length = %d, want 64", len(ha))
	}
}

func TestFingerprint_DiffersOnValueChange(t *testing.T) {
	a := specvalue.Mapping(map[string]specvalue.Value{"x": specvalue.Int(1)})
	b := specvalue.Mapping(map[string]specvalue.Value{"x": specvalue.Int(2)})

	ha, _ := canonical.Fingerprint(a)
	hb, _ := canonical.Fingerprint(b)
	if ha == hb {
		t.Fatal("expected different fingerprints for different values")
	}
}

func TestEncode_SortsNestedMappingKeys(t *testing.T) {
	v := specvalue.Mapping(map[string]specvalue.Value{
		"z": specvalue.Mapping(map[string]specvalue.Value{
			"b": specvalue.Int(1),
			"a": specvalue.Int(2),
		}),
	})
	b, err := canonical.Encode(v)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	want := `{"z":{"a":2,"b":1}}`
	if string(b) != want {
		t.Fatalf("got %s, want %s", b, want)
	}
}

func TestEncode_NoInsignificantWhitespace(t *testing.T) {
	v := specvalue.Sequence(specvalue.Int(1), specvalue.String("x"), specvalue.Bool(true), specvalue.Null())
	b, err := canonical.Encode(v)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	want := `[1,"x",true,null]`
	if string(b) != want {
		t.Fatalf("got %s, want %s", b, want)
	}
}

func TestEncode_ReservedKeyCollision(t *testing.T) {
	v := specvalue.Mapping(map[string]specvalue.Value{
		specvalue.TypeKey: specvalue.String("anything"),
	})
	if _, err := canonical.Encode(v); err == nil {
		t.Fatal("expected ErrReservedKey, got nil")
	}
}

func TestEncode_TaggedDuration(t *testing.T) {
	v := specvalue.FromDuration(0)
	b, err := canonical.Encode(v)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	want := `{"__type__":"duration","days":0,"microseconds":0,"seconds":0}`
	if string(b) != want {
		t.Fatalf("got %s, want %s", b, want)
	}
}

func TestEncode_TaggedDecimal(t *testing.T) {
	d := decimal.RequireFromString("19.99")
	v := specvalue.FromDecimal(d)
	b, err := canonical.Encode(v)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	want := `{"__type__":"decimal","value":"19.99"}`
	if string(b) != want {
		t.Fatalf("got %s, want %s", b, want)
	}
}

func TestEncode_TaggedEntityRef(t *testing.T) {
	v := specvalue.FromEntityRef("User", "42")
	b, err := canonical.Encode(v)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	want := `{"__type__":"entity_ref","class":"User","key":"42"}`
	if string(b) != want {
		t.Fatalf("got %s, want %s", b, want)
	}
}

func TestEncode_StringEscaping(t *testing.T) {
	v := specvalue.String("a\"b\\c\nd\tworldé")
	b, err := canonical.Encode(v)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	want := "\"a\\\"b\\\\c\\nd\\tworldé\""
	if string(b) != want {
		t.Fatalf("got %s, want %s", b, want)
	}
}

// TestCanonicalRoundTrip_Idempotent exercises specvalue's own
// ToInterface/FromInterface round trip (the inverse pair; the periodic
// scheduler uses FromInterface to rebuild kwargs from decoded Postgres
// jsonb) rather than a bare encoding/json decode, since JSON
// numbers decode to float64 regardless of whether they were encoded
// from an Int or a Float — ToInterface/FromInterface is the
// type-preserving boundary spec.md §4.1 describes.
func TestCanonicalRoundTrip_Idempotent(t *testing.T) {
	v := specvalue.Mapping(map[string]specvalue.Value{
		"kwargs": specvalue.Mapping(map[string]specvalue.Value{
			"amount": specvalue.FromDecimal(decimal.RequireFromString("10.50")),
			"ttl":    specvalue.FromDuration(0),
		}),
		"args": specvalue.Sequence(specvalue.Int(1), specvalue.Int(2)),
	})

	b1, err := canonical.Encode(v)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	roundTripped, err := specvalue.FromInterface(specvalue.ToInterface(v))
	if err != nil {
		t.Fatalf("from interface: %v", err)
	}
	if !specvalue.Equal(v, roundTripped) {
		t.Fatalf("round-tripped value is not structurally equal to original")
	}
	b2, err := canonical.Encode(roundTripped)
	if err != nil {
		t.Fatalf("encode 2: %v", err)
	}
	if string(b1) != string(b2) {
		t.Fatalf("canonicalize(canonicalize(v)) != canonicalize(v):\n%s\n%s", b1, b2)
	}
}

func TestEncode_ThroughJSONBytes_IsValidJSON(t *testing.T) {
	v := specvalue.Mapping(map[string]specvalue.Value{"a": specvalue.Int(1)})
	b, err := canonical.Encode(v)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("canonical bytes are not valid JSON: %v", err)
	}
}
