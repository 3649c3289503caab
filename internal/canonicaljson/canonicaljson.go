// Package canonicaljson implements the single byte-stable JSON encoder
// shared by the hash chain and attestation paths (spec §4.4, §4.13, Design
// Notes §9 "Hash chain + canonical JSON").
//
// Canonicalization rules: object keys sorted lexicographically, UTF-8, no
// insignificant whitespace, numbers rendered in decimal with fixed
// formatting (no exponents, no trailing zeros beyond what round-trips),
// booleans as literals.
package canonicaljson

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Marshal renders v as canonical JSON. v is first passed through the
// standard encoding/json marshaler (so struct tags are honored), then the
// resulting tree is decoded into a generic representation and re-encoded
// with deterministic key order and number formatting.
func Marshal(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonicaljson: marshal input: %w", err)
	}

	var generic interface{}
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("canonicaljson: decode intermediate: %w", err)
	}

	var sb strings.Builder
	if err := encode(&sb, generic); err != nil {
		return nil, err
	}
	return []byte(sb.String()), nil
}

func encode(sb *strings.Builder, v interface{}) error {
	switch val := v.(type) {
	case nil:
		sb.WriteString("null")
	case bool:
		if val {
			sb.WriteString("true")
		} else {
			sb.WriteString("false")
		}
	case json.Number:
		return encodeNumber(sb, val)
	case string:
		encodeString(sb, val)
	case []interface{}:
		sb.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				sb.WriteByte(',')
			}
			if err := encode(sb, item); err != nil {
				return err
			}
		}
		sb.WriteByte(']')
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
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
			if err := encode(sb, val[k]); err != nil {
				return err
			}
		}
		sb.WriteByte('}')
	default:
		return fmt.Errorf("canonicaljson: unsupported intermediate type %T", v)
	}
	return nil
}

func encodeNumber(sb *strings.Builder, n json.Number) error {
	if i, err := n.Int64(); err == nil {
		sb.WriteString(strconv.FormatInt(i, 10))
		return nil
	}
	f, err := n.Float64()
	if err != nil {
		return fmt.Errorf("canonicaljson: invalid number %q: %w", n.String(), err)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("canonicaljson: non-finite number %q", n.String())
	}
	sb.WriteString(strconv.FormatFloat(f, 'f', -1, 64))
	return nil
}

func encodeString(sb *strings.Builder, s string) {
	out, _ := json.Marshal(s)
	sb.Write(out)
}
