package msgname

import "testing"

func TestFormatParseRoundTrip(t *testing.T) {
	cases := []Name{
		{CreationTime: 0, Unique: 0, Split: 0},
		{CreationTime: 0x65a1b2c3, Unique: 0xdead, Split: 0x1},
		{CreationTime: 0xffffffff, Unique: 0xffffffff, Split: 0xffffffff},
	}
	for _, n := range cases {
		got, ok := Parse(Format(n))
		if !ok {
			t.Fatalf("Parse(Format(%+v)) reported ok=false", n)
		}
		if got != n {
			t.Fatalf("round trip = %+v, want %+v", got, n)
		}
	}
}

func TestParseRejectsWrongFieldCount(t *testing.T) {
	for _, s := range []string{"", "abc", "a_b", "a_b_c_d"} {
		if _, ok := Parse(s); ok {
			t.Fatalf("Parse(%q) should fail: wrong field count", s)
		}
	}
}

func TestParseRejectsNonHex(t *testing.T) {
	if _, ok := Parse("zz_1_2"); ok {
		t.Fatal("Parse should reject non-hex components")
	}
}

func TestCreationTimeToleratesExtraFields(t *testing.T) {
	ct, ok := CreationTime("2a_abc123_0")
	if !ok || ct != 0x2a {
		t.Fatalf("CreationTime = (%x, %v), want (0x2a, true)", ct, ok)
	}
}

func TestCreationTimeRejectsEmpty(t *testing.T) {
	if _, ok := CreationTime(""); ok {
		t.Fatal("CreationTime on empty string should fail")
	}
}
