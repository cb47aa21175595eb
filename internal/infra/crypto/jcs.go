package crypto

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
)

var ErrInvalidJSON = errors.New("invalid JSON")

// CanonicalizeJSON parses raw JSON and re-encodes it in canonical form:
// object keys sorted at every level, arrays in order, numbers in ECMAScript
// shortest form, no insignificant whitespace.
func CanonicalizeJSON(input []byte) ([]byte, error) {
	value, err := decodeGeneric(input)
	if err != nil {
		return nil, err
	}
	return encodeCanonical(value)
}

// Canonicalize accepts raw JSON, generic maps and slices, or any value that
// encoding/json can marshal.
func Canonicalize(v any) ([]byte, error) {
	switch value := v.(type) {
	case nil, bool, string, json.Number, float64, float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, map[string]any, []any:
		return encodeCanonical(value)
	case json.RawMessage:
		return CanonicalizeJSON(value)
	case []byte:
		return CanonicalizeJSON(value)
	default:
		b, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("marshal document: %w", err)
		}
		return CanonicalizeJSON(b)
	}
}

// toGeneric converts any supported input into the map/slice/scalar tree the
// encoder walks.
func toGeneric(v any) (any, error) {
	switch value := v.(type) {
	case json.RawMessage:
		return decodeGeneric(value)
	case []byte:
		return decodeGeneric(value)
	case map[string]any, []any, nil:
		return value, nil
	default:
		b, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("marshal document: %w", err)
		}
		return decodeGeneric(b)
	}
}

func decodeGeneric(input []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(input))
	dec.UseNumber()

	var value any
	if err := dec.Decode(&value); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	var extra any
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
		}
		return nil, fmt.Errorf("%w: trailing data", ErrInvalidJSON)
	}
	return value, nil
}

func encodeCanonical(value any) ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := writeCanonical(buf, value); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, value any) error {
	switch v := value.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		buf.WriteString(strconv.FormatBool(v))
	case string:
		writeString(buf, v)
	case json.Number:
		f, err := strconv.ParseFloat(v.String(), 64)
		if err != nil {
			return fmt.Errorf("%w: number %q", ErrInvalidJSON, v.String())
		}
		return writeNumber(buf, f)
	case float64:
		return writeNumber(buf, v)
	case float32:
		return writeNumber(buf, float64(v))
	case int:
		return writeNumber(buf, float64(v))
	case int8:
		return writeNumber(buf, float64(v))
	case int16:
		return writeNumber(buf, float64(v))
	case int32:
		return writeNumber(buf, float64(v))
	case int64:
		return writeNumber(buf, float64(v))
	case uint:
		return writeNumber(buf, float64(v))
	case uint8:
		return writeNumber(buf, float64(v))
	case uint16:
		return writeNumber(buf, float64(v))
	case uint32:
		return writeNumber(buf, float64(v))
	case uint64:
		return writeNumber(buf, float64(v))
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeString(buf, k)
			buf.WriteByte(':')
			if err := writeCanonical(buf, v[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case []any:
		buf.WriteByte('[')
		for i, item := range v {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	default:
		return fmt.Errorf("%w: unsupported type %T", ErrInvalidJSON, value)
	}
	return nil
}

func writeString(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"', '\\':
			buf.WriteByte('\\')
			buf.WriteRune(r)
		case '\b':
			buf.WriteString(`\b`)
		case '\f':
			buf.WriteString(`\f`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		default:
			if r < 0x20 {
				buf.WriteString(`\u00`)
				buf.WriteByte(hexLower[r>>4])
				buf.WriteByte(hexLower[r&0x0f])
			} else {
				buf.WriteRune(r)
			}
		}
	}
	buf.WriteByte('"')
}

var hexLower = []byte("0123456789abcdef")

func writeNumber(buf *bytes.Buffer, f float64) error {
	s, err := formatNumber(f)
	if err != nil {
		return err
	}
	buf.WriteString(s)
	return nil
}

// formatNumber renders f the way ECMAScript Number.prototype.toString does.
func formatNumber(f float64) (string, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", fmt.Errorf("%w: NaN and Infinity are not representable", ErrInvalidJSON)
	}
	if f == 0 {
		return "0", nil
	}

	sign := ""
	if f < 0 {
		sign = "-"
		f = -f
	}

	// Shortest round-trip digits and decimal exponent.
	sci := strconv.FormatFloat(f, 'e', -1, 64)
	mantissa, expPart, ok := strings.Cut(sci, "e")
	if !ok {
		return "", fmt.Errorf("unexpected float format %q", sci)
	}
	exp, err := strconv.Atoi(expPart)
	if err != nil {
		return "", fmt.Errorf("unexpected float exponent %q", sci)
	}
	digits := strings.Replace(mantissa, ".", "", 1)

	if exp < -6 || exp >= 21 {
		expSign := "+"
		if exp < 0 {
			expSign = "-"
			exp = -exp
		}
		head := digits[:1]
		if len(digits) > 1 {
			head += "." + digits[1:]
		}
		return sign + head + "e" + expSign + strconv.Itoa(exp), nil
	}

	point := exp + 1
	switch {
	case point >= len(digits):
		return sign + digits + strings.Repeat("0", point-len(digits)), nil
	case point <= 0:
		return sign + "0." + strings.Repeat("0", -point) + digits, nil
	default:
		return sign + digits[:point] + "." + digits[point:], nil
	}
}
