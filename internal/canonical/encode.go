package canonical

import (
	"bytes"
	"crypto/subtle"
	"encoding/hex"
	"math"
	"sort"
	"strconv"
	"unicode/utf8"

	"github.com/minio/sha256-simd"
)

// Digest is the lowercase hex SHA-256 of a canonical encoding.
type Digest string

// DigestLen is the length of a hex encoded Digest.
const DigestLen = 64

// maxIntegralFloat bounds the floats that are rendered in integer form: every
// integral float64 below 2^63 converts to int64 exactly, so Float(x) and
// Int(x) encode identically across the whole int64 range.
const maxIntegralFloat = 1 << 63

// Canonicalize encodes v as compact JSON with map keys sorted bytewise,
// no insignificant whitespace, integral numbers in plain decimal form
// regardless of whether they were built as Int or Float, and strings escaped
// with a single fixed scheme.
func Canonicalize(v Value) ([]byte, error) {
	var buf bytes.Buffer
	if err := encode(&buf, v, "$"); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Compute returns the digest of v's canonical encoding.
func Compute(v Value) (Digest, error) {
	b, err := Canonicalize(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return Digest(hex.EncodeToString(sum[:])), nil
}

// ComputeAny converts x with FromAny and digests the result.
func ComputeAny(x any) (Digest, error) {
	v, err := FromAny(x)
	if err != nil {
		return "", err
	}
	return Compute(v)
}

// Verify recomputes the digest of v and compares it with expected.
// Any canonicalization failure verifies as false.
func Verify(v Value, expected string) bool {
	if !Digest(expected).Valid() {
		return false
	}
	got, err := Compute(v)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(expected)) == 1
}

// VerifyAny is Verify over an arbitrary decoded value.
func VerifyAny(x any, expected string) bool {
	v, err := FromAny(x)
	if err != nil {
		return false
	}
	return Verify(v, expected)
}

// Valid reports whether d has the shape of a digest produced by Compute.
func (d Digest) Valid() bool {
	if len(d) != DigestLen {
		return false
	}
	for i := 0; i < len(d); i++ {
		c := d[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}

func (d Digest) String() string { return string(d) }

func encode(buf *bytes.Buffer, v Value, path string) error {
	switch v.kind {
	case KindNull:
		buf.WriteString("null")
	case KindBool:
		if v.b {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case KindInt:
		buf.WriteString(strconv.FormatInt(v.i, 10))
	case KindFloat:
		s, err := formatFloat(v.f)
		if err != nil {
			return &CanonicalizationError{Path: path, Reason: err.Error()}
		}
		buf.WriteString(s)
	case KindString:
		if err := encodeString(buf, v.s); err != nil {
			return &CanonicalizationError{Path: path, Reason: err.Error()}
		}
	case KindList:
		buf.WriteByte('[')
		for i, item := range v.list {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encode(buf, item, path+"["+strconv.Itoa(i)+"]"); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case KindMap:
		keys := make([]string, 0, len(v.m))
		for k := range v.m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeString(buf, k); err != nil {
				return &CanonicalizationError{Path: path, Reason: "key " + err.Error()}
			}
			buf.WriteByte(':')
			if err := encode(buf, v.m[k], path+"."+k); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return unsupported(path, "unknown value kind %s", v.kind)
	}
	return nil
}

type encodeErr string

func (e encodeErr) Error() string { return string(e) }

func formatFloat(f float64) (string, error) {
	if math.IsNaN(f) {
		return "", encodeErr("NaN has no canonical form")
	}
	if math.IsInf(f, 0) {
		return "", encodeErr("infinity has no canonical form")
	}
	if f == 0 {
		return "0", nil
	}
	if f == math.Trunc(f) && math.Abs(f) < maxIntegralFloat {
		return strconv.FormatInt(int64(f), 10), nil
	}
	return strconv.FormatFloat(f, 'g', -1, 64), nil
}

const hexDigits = "0123456789abcdef"

func encodeString(buf *bytes.Buffer, s string) error {
	if !utf8.ValidString(s) {
		return encodeErr("string is not valid UTF-8")
	}
	buf.WriteByte('"')
	for i := 0; i < len(s); {
		c := s[i]
		if c >= utf8.RuneSelf {
			_, size := utf8.DecodeRuneInString(s[i:])
			buf.WriteString(s[i : i+size])
			i += size
			continue
		}
		switch c {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
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
			if c < 0x20 {
				buf.WriteString(`\u00`)
				buf.WriteByte(hexDigits[c>>4])
				buf.WriteByte(hexDigits[c&0xf])
			} else {
				buf.WriteByte(c)
			}
		}
		i++
	}
	buf.WriteByte('"')
	return nil
}
