package specvalue_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/reproq/reproq/internal/specvalue"
)

func TestDurationRoundTrip_AsGoDuration(t *testing.T) {
	want := 90*time.Minute + 30*time.Second
	d := specvalue.DurationFromGo(want)
	got := d.AsGoDuration()
	if got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestDurationFromGo_SplitsDaysSecondsMicros(t *testing.T) {
	want := 2*24*time.Hour + 3*time.Hour + 4*time.Second + 500*time.Microsecond
	d := specvalue.DurationFromGo(want)
	if d.Days != 2 {
		t.Errorf("days = %d, want 2", d.Days)
	}
	if d.Seconds != 3*3600+4 {
		t.Errorf("seconds = %d, want %d", d.Seconds, 3*3600+4)
	}
	if d.Microseconds != 500 {
		t.Errorf("microseconds = %d, want 500", d.Microseconds)
	}
}

func TestEqual_Sequence(t *testing.T) {
	a := specvalue.Sequence(specvalue.Int(1), specvalue.String("x"))
	b := specvalue.Sequence(specvalue.Int(1), specvalue.String("x"))
	c := specvalue.Sequence(specvalue.Int(1), specvalue.String("y"))
	if !specvalue.Equal(a, b) {
		t.Error("expected a == b")
	}
	if specvalue.Equal(a, c) {
		t.Error("expected a != c")
	}
}

func TestEqual_DecimalCompareByValueNotRepresentation(t *testing.T) {
	a := specvalue.FromDecimal(decimal.RequireFromString("1.50"))
	b := specvalue.FromDecimal(decimal.RequireFromString("1.5"))
	if !specvalue.Equal(a, b) {
		t.Error("expected 1.50 == 1.5 as decimals")
	}
}

func TestSortedMappingKeys(t *testing.T) {
	v := specvalue.Mapping(map[string]specvalue.Value{
		"zebra": specvalue.Null(),
		"apple": specvalue.Null(),
		"mango": specvalue.Null(),
	})
	got := v.SortedMappingKeys()
	want := []string{"apple", "mango", "zebra"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestFromInterface_UnknownNativeType(t *testing.T) {
	type weird struct{}
	_, err := specvalue.FromInterface(weird{})
	if err == nil {
		t.Fatal("expected error for unsupported native type")
	}
}

func TestFromInterface_UnknownTaggedKind(t *testing.T) {
	_, err := specvalue.FromInterface(map[string]any{
		specvalue.TypeKey: "not_a_real_kind",
	})
	if err == nil {
		t.Fatal("expected ErrDeserializationFailed for unknown tag")
	}
}

func TestFromInterface_EntityRefMissingFields(t *testing.T) {
	_, err := specvalue.FromInterface(map[string]any{
		specvalue.TypeKey: string(specvalue.TagEntityRef),
		"class":           "User",
	})
	if err == nil {
		t.Fatal("expected error for missing entity_ref key")
	}
}

func TestFromInterface_DecimalRoundTrip(t *testing.T) {
	m := map[string]any{
		specvalue.TypeKey: string(specvalue.TagDecimal),
		"value":           "42.42",
	}
	v, err := specvalue.FromInterface(m)
	if err != nil {
		t.Fatalf("from interface: %v", err)
	}
	if v.Kind() != specvalue.KindTagged || v.TagKind() != specvalue.TagDecimal {
		t.Fatalf("unexpected kind/tag: %v %v", v.Kind(), v.TagKind())
	}
	d := v.Body().(specvalue.Decimal)
	if !d.D.Equal(decimal.RequireFromString("42.42")) {
		t.Fatalf("got %v, want 42.42", d.D)
	}
}

func TestToInterface_SequenceAndMapping(t *testing.T) {
	v := specvalue.Mapping(map[string]specvalue.Value{
		"items": specvalue.Sequence(specvalue.Int(1), specvalue.Bool(true)),
	})
	raw := specvalue.ToInterface(v).(map[string]any)
	items := raw["items"].([]any)
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}
	if items[0].(int64) != 1 {
		t.Errorf("items[0] = %v, want int64(1)", items[0])
	}
	if items[1].(bool) != true {
		t.Errorf("items[1] = %v, want true", items[1])
	}
}
