// Package serializer produces the deterministic byte representation of an
// action record that the digest chain hashes. The canonical form is plain
// UTF-8 JSON with object keys sorted by Unicode code point, numbers
// preserved exactly as provided (never reparsed through IEEE-754), strings
// normalized to NFC, and no insignificant whitespace.
package serializer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"sort"

	"golang.org/x/text/unicode/norm"
)

// Canonical returns the canonical byte representation of v. v must be
// JSON-marshalable (typically a domain record or a map[string]any decoded
// with json.Number preserved).
func Canonical(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("serializer: marshal: %w", err)
	}
	return CanonicalizeJSON(raw)
}

// CanonicalizeJSON reparses a JSON document preserving number literals via
// json.Number, then re-emits it in canonical form.
func CanonicalizeJSON(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("serializer: decode: %w", err)
	}

	var buf bytes.Buffer
	if err := writeCanonical(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch t := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if t {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case json.Number:
		if err := writeCanonicalNumber(buf, t); err != nil {
			return err
		}
	case string:
		writeCanonicalString(buf, t)
	case []any:
		buf.WriteByte('[')
		for i, elem := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, elem); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool {
			return codePointLess(keys[i], keys[j])
		})
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeCanonicalString(buf, k)
			buf.WriteByte(':')
			if err := writeCanonical(buf, t[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("serializer: unsupported type %T in canonical form", v)
	}
	return nil
}

// writeCanonicalNumber validates that the literal is well-formed and emits
// it verbatim: numbers are preserved as provided, never renormalized.
func writeCanonicalNumber(buf *bytes.Buffer, n json.Number) error {
	s := n.String()
	if _, ok := new(big.Float).SetString(s); !ok {
		return fmt.Errorf("serializer: invalid number literal %q", s)
	}
	buf.WriteString(s)
	return nil
}

// writeCanonicalString NFC-normalizes s and emits it as a JSON string,
// escaping the minimal required set plus non-ASCII left as UTF-8.
func writeCanonicalString(buf *bytes.Buffer, s string) {
	s = norm.NFC.String(s)
	buf.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		default:
			if r < 0x20 {
				fmt.Fprintf(buf, `\u%04x`, r)
			} else {
				buf.WriteRune(r)
			}
		}
	}
	buf.WriteByte('"')
}

// codePointLess compares two strings by Unicode code point, matching the
// ordering json.Marshal already uses for map keys but made explicit here
// since canonicalization must not depend on that implementation detail.
func codePointLess(a, b string) bool {
	ra, rb := []rune(a), []rune(b)
	for i := 0; i < len(ra) && i < len(rb); i++ {
		if ra[i] != rb[i] {
			return ra[i] < rb[i]
		}
	}
	return len(ra) < len(rb)
}
