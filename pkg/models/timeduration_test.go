package models

import (
	"testing"
	"time"
)

func TestDurationToString(t *testing.T) {
	tests := []struct {
		duration time.Duration
		expected string
	}{
		{duration: 0, expected: "0s"},
		{duration: time.Second, expected: "1s"},
		{duration: time.Minute, expected: "1m"},
		{duration: time.Hour, expected: "1h"},
		{duration: 24 * time.Hour, expected: "1d"},
		{duration: 7 * 24 * time.Hour, expected: "1w"},
		{duration: 52 * 7 * 24 * time.Hour, expected: "1y"},
		{duration: 10*24*time.Hour + 23*time.Hour + 47*time.Minute + 16*time.Second, expected: "1w3d23h47m16s"},
		{duration: 123 * time.Millisecond, expected: "123ms"},
		{duration: 456 * time.Microsecond, expected: "456us"},
		{duration: 789 * time.Nanosecond, expected: "789ns"},
		{duration: -1 * time.Second, expected: "-1s"},
	}

	for _, test := range tests {
		result := DurationToString(test.duration)
		if result != test.expected {
			t.Errorf("DurationToString(%v) = %s, expected %s", test.duration, result, test.expected)
		}
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		input    string
		expected time.Duration
		wantErr  bool
	}{
		{input: "0", expected: 0},
		{input: "1s", expected: time.Second},
		{input: "1m", expected: time.Minute},
		{input: "1h", expected: time.Hour},
		{input: "1d", expected: 24 * time.Hour},
		{input: "1w", expected: 7 * 24 * time.Hour},
		{input: "1y", expected: 52 * 7 * 24 * time.Hour},
		{input: "1w3d23h47m16s", expected: 10*24*time.Hour + 23*time.Hour + 47*time.Minute + 16*time.Second},
		{input: "1.5h", expected: 90 * time.Minute},
		{input: "-1s", expected: -time.Second},
		{input: "+2m", expected: 2 * time.Minute},
		{input: "", wantErr: true},
		{input: "12", wantErr: true},
		{input: "1x", wantErr: true},
		{input: "h", wantErr: true},
	}

	for _, test := range tests {
		result, err := ParseDuration(test.input)
		if test.wantErr {
			if err == nil {
				t.Errorf("ParseDuration(%q) expected error, got %v", test.input, result)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseDuration(%q) unexpected error: %v", test.input, err)
			continue
		}
		if result != test.expected {
			t.Errorf("ParseDuration(%q) = %v, expected %v", test.input, result, test.expected)
		}
	}
}

func TestTimeDurationTextRoundTrip(t *testing.T) {
	original := TimeDuration(36*time.Hour + 30*time.Minute)

	text, err := original.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText failed: %v", err)
	}

	if string(text) != "1d12h30m" {
		t.Errorf("MarshalText = %s, expected 1d12h30m", text)
	}

	var parsed TimeDuration
	if err := parsed.UnmarshalText(text); err != nil {
		t.Fatalf("UnmarshalText failed: %v", err)
	}

	if parsed != original {
		t.Errorf("round trip mismatch: got %v, expected %v", parsed, original)
	}
}
