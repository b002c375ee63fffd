// Package canonical implements the canonicalization and fingerprinting
// rules of spec.md §4.1: sorted mapping keys, no insignificant
// whitespace, minimal string escaping, and numbers in their plain JSON
// form with integers never mantissa-encoded. Two specifications that
// differ only in key order or whitespace must encode to identical
// bytes and therefore hash identically.
package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/reproq/reproq/internal/specvalue"
)

// ErrReservedKey is raised when a producer-supplied mapping uses
// specvalue.TypeKey as a literal key (spec.md §4.1).
var ErrReservedKey = errors.New("canonical: mapping key collides with the reserved __type__ marker")

// Encode renders v as its canonical UTF-8 byte form.
func Encode(v specvalue.Value) ([]byte, error) {
	var sb strings.Builder
	if err := encodeValue(&sb, v, true); err != nil {
		return nil, err
	}
	return []byte(sb.String()), nil
}

// Fingerprint returns the lowercase 64-hex SHA-256 digest of v's
// canonical form.
func Fingerprint(v specvalue.Value) (string, error) {
	b, err := Encode(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

func encodeValue(sb *strings.Builder, v specvalue.Value, topLevel bool) error {
	switch v.Kind() {
	case specvalue.KindNull:
		sb.WriteString("null")
	case specvalue.KindBool:
		if v.Bool() {
			sb.WriteString("true")
		} else {
			sb.WriteString("false")
		}
	case specvalue.KindInt:
		sb.WriteString(strconv.FormatInt(v.Int(), 10))
	case specvalue.KindFloat:
		sb.WriteString(formatFloat(v.Float()))
	case specvalue.KindString:
		encodeString(sb, v.String())
	case specvalue.KindSequence:
		sb.WriteByte('[')
		for i, item := range v.Sequence() {
			if i > 0 {
				sb.WriteByte(',')
			}
			if err := encodeValue(sb, item, false); err != nil {
				return err
			}
		}
		sb.WriteByte(']')
	case specvalue.KindMapping:
		return encodeMapping(sb, v.Mapping())
	case specvalue.KindTagged:
		return encodeTagged(sb, v)
	default:
		return fmt.Errorf("canonical: unknown value kind %d", v.Kind())
	}
	return nil
}

func encodeMapping(sb *strings.Builder, m map[string]specvalue.Value) error {
	if _, collides := m[specvalue.TypeKey]; collides {
		return ErrReservedKey
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	sb.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(',')
		}
		encodeString(sb, k)
		sb.WriteByte(':')
		if err := encodeValue(sb, m[k], false); err != nil {
			return err
		}
	}
	sb.WriteByte('}')
	return nil
}

func encodeTagged(sb *strings.Builder, v specvalue.Value) error {
	m := map[string]any{specvalue.TypeKey: string(v.TagKind())}
	switch body := v.Body().(type) {
	case specvalue.Duration:
		m["days"] = body.Days
		m["seconds"] = body.Seconds
		m["microseconds"] = body.Microseconds
	case specvalue.Decimal:
		m["value"] = body.D.String()
	case specvalue.EntityRef:
		m["class"] = body.Class
		m["key"] = body.Key
	default:
		return fmt.Errorf("canonical: unsupported tagged body %T", body)
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	sb.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(',')
		}
		encodeString(sb, k)
		sb.WriteByte(':')
		switch val := m[k].(type) {
		case string:
			encodeString(sb, val)
		case int64:
			sb.WriteString(strconv.FormatInt(val, 10))
		default:
			return fmt.Errorf("canonical: unsupported tagged field %T", val)
		}
	}
	sb.WriteByte('}')
	return nil
}

// encodeString escapes only what JSON requires (quote, backslash,
// control characters) and leaves the rest of the UTF-8 byte stream
// untouched, per spec.md §4.1.
func encodeString(sb *strings.Builder, s string) {
	sb.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			sb.WriteString(`\"`)
		case '\\':
			sb.WriteString(`\\`)
		case '\n':
			sb.WriteString(`\n`)
		case '\r':
			sb.WriteString(`\r`)
		case '\t':
			sb.WriteString(`\t`)
		default:
			if r < 0x20 {
				fmt.Fprintf(sb, `\u%04x`, r)
			} else {
				sb.WriteRune(r)
			}
		}
	}
	sb.WriteByte('"')
}

// formatFloat renders a float64 in its shortest round-tripping form,
// without trailing zeros beyond what JSON requires. Decimal exponents
// below -4 or at or above 6 use exponent notation (1e+06, 1e-05);
// integral values in plain form gain a ".0" suffix.
func formatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}
