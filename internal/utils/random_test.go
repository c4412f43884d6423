package utils

import (
	"encoding/hex"
	"testing"
)

func TestRandomHex(t *testing.T) {
	code, err := RandomHex(32)
	if err != nil {
		t.Fatalf("RandomHex() error = %v", err)
	}
	if len(code) != 64 {
		t.Errorf("len = %d, expected 64", len(code))
	}
	if _, err := hex.DecodeString(code); err != nil {
		t.Errorf("not hex: %v", err)
	}
}

func TestRandomHex_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		code, _ := RandomHex(32)
		if seen[code] {
			t.Fatalf("duplicate code after %d draws", i)
		}
		seen[code] = true
	}
}
