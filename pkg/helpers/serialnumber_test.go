package helpers

import (
	"math/big"
	"testing"
)

func TestSerialNumberToString(t *testing.T) {
	tests := []struct {
		input    *big.Int
		expected string
	}{
		{input: big.NewInt(0x0), expected: "00"},
		{input: big.NewInt(0x1), expected: "01"},
		{input: big.NewInt(0xab), expected: "ab"},
		{input: big.NewInt(0xabcd), expected: "ab-cd"},
		{input: big.NewInt(0xabc), expected: "0a-bc"},
		{input: new(big.Int).SetBytes([]byte{0x01, 0x23, 0x45, 0x67, 0x89}), expected: "01-23-45-67-89"},
	}

	for _, test := range tests {
		result := SerialNumberToString(test.input)
		if result != test.expected {
			t.Errorf("SerialNumberToString(%v) = %s, expected %s", test.input, result, test.expected)
		}
	}
}

func TestSerialNumberFromString(t *testing.T) {
	sn, err := SerialNumberFromString("ab-cd-ef")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sn.Cmp(big.NewInt(0xabcdef)) != 0 {
		t.Errorf("SerialNumberFromString = %v, expected %v", sn, big.NewInt(0xabcdef))
	}

	if _, err := SerialNumberFromString("not-a-serial"); err == nil {
		t.Error("expected error for malformed serial")
	}
}

func TestSerialNumberRoundTrip(t *testing.T) {
	original, ok := new(big.Int).SetString("deadbeefcafe0042", 16)
	if !ok {
		t.Fatal("could not build serial")
	}

	parsed, err := SerialNumberFromString(SerialNumberToString(original))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if parsed.Cmp(original) != 0 {
		t.Errorf("round trip mismatch: got %v, expected %v", parsed, original)
	}
}
