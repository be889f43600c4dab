package utils

import (
	"testing"
	"time"
)

func TestParseSODATime(t *testing.T) {
	cases := []struct {
		in   string
		want time.Time
	}{
		{"2026-03-14T15:04:05.000", time.Date(2026, 3, 14, 15, 4, 5, 0, time.UTC)},
		{"2026-03-14T15:04:05.123", time.Date(2026, 3, 14, 15, 4, 5, 123_000_000, time.UTC)},
		{"2026-03-14T15:04:05", time.Date(2026, 3, 14, 15, 4, 5, 0, time.UTC)},
		{"2026-03-14T15:04:05Z", time.Date(2026, 3, 14, 15, 4, 5, 0, time.UTC)},
		{"2026-03-14T10:04:05-05:00", time.Date(2026, 3, 14, 15, 4, 5, 0, time.UTC)},
	}
	for _, tc := range cases {
		got, err := ParseSODATime(tc.in)
		if err != nil {
			t.Errorf("ParseSODATime(%q): %v", tc.in, err)
			continue
		}
		if !got.Equal(tc.want) {
			t.Errorf("ParseSODATime(%q) = %s, want %s", tc.in, got, tc.want)
		}
		if got.Location() != time.UTC {
			t.Errorf("ParseSODATime(%q) not normalized to UTC", tc.in)
		}
	}
}

func TestParseSODATimeRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "yesterday", "2026-03-14", "15:04:05"} {
		if _, err := ParseSODATime(in); err == nil {
			t.Errorf("ParseSODATime(%q) accepted", in)
		}
	}
}

func TestFormatSODATimeRoundTrip(t *testing.T) {
	in := time.Date(2026, 3, 14, 15, 4, 5, 0, time.FixedZone("CST", -6*3600))
	formatted := FormatSODATime(in)
	if formatted != "2026-03-14T21:04:05.000" {
		t.Fatalf("FormatSODATime = %q", formatted)
	}
	back, err := ParseSODATime(formatted)
	if err != nil {
		t.Fatal(err)
	}
	if !back.Equal(in) {
		t.Errorf("round trip %s != %s", back, in)
	}
}
