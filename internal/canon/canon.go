// Package canon implements canonical JSON serialization (RFC 8785) and the
// SHA-256 hashing that every hash-based invariant in the system is built on.
package canon

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode/utf16"
)

// JSON renders v as RFC 8785 canonical JSON: object keys sorted
// lexicographically by their UTF-16 code units, no insignificant
// whitespace, and numbers formatted per the JSON canonicalization scheme.
// It round-trips through encoding/json first so callers may pass structs,
// maps, or already-decoded interface{} values interchangeably.
func JSON(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canon: marshal: %w", err)
	}
	var decoded interface{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&decoded); err != nil {
		return nil, fmt.Errorf("canon: decode: %w", err)
	}
	var buf bytes.Buffer
	if err := encode(&buf, decoded); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encode(buf *bytes.Buffer, v interface{}) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case json.Number:
		return encodeNumber(buf, val)
	case string:
		encodeString(buf, val)
	case []interface{}:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encode(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return lessUTF16(keys[i], keys[j]) })
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			encodeString(buf, k)
			buf.WriteByte(':')
			if err := encode(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("canon: unsupported type %T", v)
	}
	return nil
}

// encodeNumber formats a JSON number per the canonicalization scheme:
// integers up to 2^53 in magnitude are written as plain digits; all others
// use the ECMAScript form of the float64 value: shortest round-tripping
// digits, plain decimal for magnitudes in [1e-6, 1e21), exponent outside it.
func encodeNumber(buf *bytes.Buffer, n json.Number) error {
	if i, err := n.Int64(); err == nil && i >= -(1<<53) && i <= 1<<53 {
		buf.WriteString(strconv.FormatInt(i, 10))
		return nil
	}
	f, err := n.Float64()
	if err != nil {
		return fmt.Errorf("canon: invalid number %q: %w", n, err)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("canon: non-finite number %q", n)
	}
	if abs := math.Abs(f); abs == 0 || (abs >= 1e-6 && abs < 1e21) {
		if abs == 0 {
			f = 0 // -0 is written as "0"
		}
		buf.WriteString(strconv.FormatFloat(f, 'f', -1, 64))
		return nil
	}
	// 'e' gives "1e-07" / "1.5e+21"; ECMAScript drops the exponent's leading zeros.
	mantissa, exp, _ := strings.Cut(strconv.FormatFloat(f, 'e', -1, 64), "e")
	buf.WriteString(mantissa + "e" + exp[:1] + strings.TrimLeft(exp[1:], "0"))
	return nil
}

// encodeString writes s as a JSON string the way RFC 8785 does: only '"',
// '\\' and control characters are escaped; all other characters are
// written as-is.
func encodeString(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	for _, r := range s {
		switch {
		case r == '"' || r == '\\':
			buf.WriteByte('\\')
			buf.WriteRune(r)
		case r < 0x20:
			esc, _ := json.Marshal(string(r)) // `"\n"`, `"\u0001"`, ...
			buf.Write(esc[1 : len(esc)-1])
		default:
			buf.WriteRune(r)
		}
	}
	buf.WriteByte('"')
}

// lessUTF16 orders strings by their UTF-16 code units, as RFC 8785 sorts
// object keys.
func lessUTF16(a, b string) bool {
	ua, ub := utf16.Encode([]rune(a)), utf16.Encode([]rune(b))
	for i := 0; i < len(ua) && i < len(ub); i++ {
		if ua[i] != ub[i] {
			return ua[i] < ub[i]
		}
	}
	return len(ua) < len(ub)
}

// SHA256Hex returns the lowercase hex SHA-256 digest of the UTF-8 bytes of s.
func SHA256Hex(s []byte) string {
	sum := sha256.Sum256(s)
	return hex.EncodeToString(sum[:])
}

// HashJSON canonicalizes v and returns its SHA-256 hex digest.
func HashJSON(v interface{}) (string, error) {
	raw, err := JSON(v)
	if err != nil {
		return "", err
	}
	return SHA256Hex(raw), nil
}
