package canonical

import (
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"
	"time"
)

func TestCanonicalizeSortsKeysAndDropsWhitespace(t *testing.T) {
	t.Parallel()

	v := Map(map[string]Value{
		"b": List(Bool(true), Null(), String("x")),
		"a": Int(1),
		"c": Map(map[string]Value{"z": Float(0.5), "y": Int(-3)}),
	})
	got, err := Canonicalize(v)
	if err != nil {
		t.Fatalf("canonicalize failed: %v", err)
	}
	want := `{"a":1,"b":[true,null,"x"],"c":{"y":-3,"z":0.5}}`
	if string(got) != want {
		t.Fatalf("unexpected encoding:\n got %s\nwant %s", got, want)
	}
}

func TestDigestIndependentOfInsertionOrder(t *testing.T) {
	t.Parallel()

	first := map[string]any{}
	first["a"] = 1
	first["b"] = 2
	second := map[string]any{}
	second["b"] = 2
	second["a"] = 1

	d1, err := ComputeAny(first)
	if err != nil {
		t.Fatalf("digest failed: %v", err)
	}
	d2, err := ComputeAny(second)
	if err != nil {
		t.Fatalf("digest failed: %v", err)
	}
	if d1 != d2 {
		t.Fatalf("insertion order changed digest: %s != %s", d1, d2)
	}
}

func TestDigestKnownVector(t *testing.T) {
	t.Parallel()

	d, err := Compute(Map(nil))
	if err != nil {
		t.Fatalf("digest failed: %v", err)
	}
	// sha256("{}")
	if d != "44136fa355b3678a1146ad16f7e8649e94fb4fc21fe77e8310c060f61caaff8a" {
		t.Fatalf("unexpected digest of empty map: %s", d)
	}
	if !d.Valid() {
		t.Fatalf("digest reported invalid: %s", d)
	}
}

func TestDigestChangesWithContent(t *testing.T) {
	t.Parallel()

	base := Map(map[string]Value{"items": List(String("a"), String("b"))})
	cases := map[string]Value{
		"value":   Map(map[string]Value{"items": List(String("a"), String("c"))}),
		"order":   Map(map[string]Value{"items": List(String("b"), String("a"))}),
		"key":     Map(map[string]Value{"item": List(String("a"), String("b"))}),
		"type":    Map(map[string]Value{"items": String("ab")}),
		"missing": Map(map[string]Value{"items": List(String("a"))}),
	}
	baseDigest, err := Compute(base)
	if err != nil {
		t.Fatalf("digest failed: %v", err)
	}
	for name, v := range cases {
		d, err := Compute(v)
		if err != nil {
			t.Fatalf("%s: digest failed: %v", name, err)
		}
		if d == baseDigest {
			t.Errorf("%s: expected a different digest", name)
		}
	}
}

func TestNumbersHaveOneTextualForm(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   Value
		want string
	}{
		{Int(100), "100"},
		{Float(100), "100"},
		{Float(-0.0), "0"},
		{Float(99.5), "99.5"},
		{Float(1e21), "1e+21"},
		{Float(1e18), "1000000000000000000"},
		{Float(-(1 << 60)), "-1152921504606846976"},
		{Int(math.MinInt64), "-9223372036854775808"},
	}
	for _, tc := range cases {
		got, err := Canonicalize(tc.in)
		if err != nil {
			t.Fatalf("canonicalize %v failed: %v", tc.in, err)
		}
		if string(got) != tc.want {
			t.Errorf("expected %s, got %s", tc.want, got)
		}
	}

	fromJSON, err := ComputeAny(map[string]any{"n": json.Number("100")})
	if err != nil {
		t.Fatalf("digest failed: %v", err)
	}
	fromFloat, err := ComputeAny(map[string]any{"n": 100.0})
	if err != nil {
		t.Fatalf("digest failed: %v", err)
	}
	if fromJSON != fromFloat {
		t.Fatalf("numeric formatting changed digest")
	}
}

func TestLargeIntegralNumbersDigestAlike(t *testing.T) {
	t.Parallel()

	forms := []any{
		json.Number("1e+18"),
		json.Number("1000000000000000000"),
		json.Number("1.0e18"),
		float64(1e18),
		int64(1e18),
	}
	var want Digest
	for i, n := range forms {
		d, err := ComputeAny(map[string]any{"n": n})
		if err != nil {
			t.Fatalf("digest of %v failed: %v", n, err)
		}
		if i == 0 {
			want = d
			continue
		}
		if d != want {
			t.Errorf("%T %v digests to %s, want %s", n, n, d, want)
		}
	}
}

type projected struct{ n int64 }

func (p projected) CanonicalValue() Value { return Map(map[string]Value{"n": Int(p.n)}) }

func TestNilValuerPointerIsNull(t *testing.T) {
	t.Parallel()

	var missing *projected
	got, err := FromAny(map[string]any{"p": missing, "q": &projected{n: 2}})
	if err != nil {
		t.Fatalf("FromAny failed: %v", err)
	}
	raw, err := Canonicalize(got)
	if err != nil {
		t.Fatalf("canonicalize failed: %v", err)
	}
	if string(raw) != `{"p":null,"q":{"n":2}}` {
		t.Fatalf("unexpected encoding %s", raw)
	}
}

func TestStringEscaping(t *testing.T) {
	t.Parallel()

	got, err := Canonicalize(String("q\"b\\n\n\t\x01<é>"))
	if err != nil {
		t.Fatalf("canonicalize failed: %v", err)
	}
	want := `"q\"b\\n\n\t\u0001<é>"`
	if string(got) != want {
		t.Fatalf("unexpected escaping:\n got %s\nwant %s", got, want)
	}
}

func TestTimesEncodeInUTC(t *testing.T) {
	t.Parallel()

	utc := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	local := utc.In(time.FixedZone("plus2", 2*60*60))
	if !Verify(Time(local), string(mustDigest(t, Time(utc)))) {
		t.Fatalf("same instant in different zones produced different digests")
	}
}

func TestUnsupportedValuesFail(t *testing.T) {
	t.Parallel()

	cyclic := map[string]any{}
	cyclic["self"] = cyclic

	cases := map[string]any{
		"func":    map[string]any{"f": func() {}},
		"channel": []any{make(chan int)},
		"struct":  struct{ A int }{A: 1},
		"cycle":   cyclic,
		"intkeys": map[int]string{1: "a"},
		"uint":    uint64(math.MaxUint64),
		"nan":     math.NaN(),
		"utf8":    "\xff",
	}
	for name, in := range cases {
		_, err := ComputeAny(in)
		var cerr *CanonicalizationError
		if !errors.As(err, &cerr) {
			t.Errorf("%s: expected CanonicalizationError, got %v", name, err)
		}
	}
}

func TestSharedNonCyclicReferencesAreAllowed(t *testing.T) {
	t.Parallel()

	shared := map[string]any{"k": "v"}
	if _, err := ComputeAny(map[string]any{"a": shared, "b": shared}); err != nil {
		t.Fatalf("shared reference rejected: %v", err)
	}
}

func TestVerify(t *testing.T) {
	t.Parallel()

	payload := map[string]any{"settings": map[string]any{"mfa": true, "sessions": 12}}
	d, err := ComputeAny(payload)
	if err != nil {
		t.Fatalf("digest failed: %v", err)
	}
	if !VerifyAny(payload, string(d)) {
		t.Fatalf("expected payload to verify")
	}
	payload["settings"].(map[string]any)["mfa"] = false
	if VerifyAny(payload, string(d)) {
		t.Fatalf("expected tampered payload to fail verification")
	}
	if VerifyAny(payload, strings.ToUpper(string(d))) {
		t.Fatalf("expected non-canonical digest text to fail verification")
	}
	if VerifyAny(func() {}, string(d)) {
		t.Fatalf("expected unsupported value to fail verification")
	}
}

func mustDigest(t *testing.T, v Value) Digest {
	t.Helper()
	d, err := Compute(v)
	if err != nil {
		t.Fatalf("digest failed: %v", err)
	}
	return d
}
