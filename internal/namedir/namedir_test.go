package namedir

import "testing"

func TestConvertSubstitutesSeparator(t *testing.T) {
	got := Convert('_', "2026_07_31_report.dat", 0)
	want := "2026/07/31/report.dat"
	if got != want {
		t.Fatalf("Convert = %q, want %q", got, want)
	}
}

func TestConvertTruncatesAtMax(t *testing.T) {
	got := Convert('_', "a_b_c_d", 3)
	want := "a/b"
	if got != want {
		t.Fatalf("Convert = %q, want %q", got, want)
	}
}

func TestConvertMaxBeyondLengthUsesFullString(t *testing.T) {
	got := Convert('-', "a-b", 100)
	want := "a/b"
	if got != want {
		t.Fatalf("Convert = %q, want %q", got, want)
	}
}

func TestConvertLeavesNonSeparatorBytesAlone(t *testing.T) {
	got := Convert('_', "noop", 0)
	if got != "noop" {
		t.Fatalf("Convert = %q, want %q", got, "noop")
	}
}
