package pool

import (
	"errors"
	"strings"
	"testing"
)

const validID = "0x00B1a2C3d4E5f60718293a4b5c6d7e8f9091a2b3c4d5e6f708192a3b4c5d6e7f"

func TestParse_CanonicalizesToLowercase(t *testing.T) {
	id, err := Parse(validID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id.String() != strings.ToLower(validID) {
		t.Errorf("expected lowercase canonical form, got %s", id)
	}
}

func TestParse_Invalid(t *testing.T) {
	bad := []string{
		"",
		"0x1234",                  // too short
		strings.Repeat("a", 66),   // missing 0x prefix
		"0x" + strings.Repeat("g", 64), // non-hex
		"0x" + strings.Repeat("a", 63),
		"0x" + strings.Repeat("a", 65),
	}
	for _, raw := range bad {
		if _, err := Parse(raw); !errors.Is(err, ErrInvalidPoolID) {
			t.Errorf("%q: expected ErrInvalidPoolID, got %v", raw, err)
		}
	}
}

func TestShort(t *testing.T) {
	id, _ := Parse(validID)
	short := id.Short()
	if !strings.HasPrefix(short, "0x00b1a2c3") {
		t.Errorf("unexpected short prefix: %s", short)
	}
	if !strings.HasSuffix(short, "6e7f") {
		t.Errorf("unexpected short suffix: %s", short)
	}
	if len(short) >= len(validID) {
		t.Errorf("short form must abbreviate: %s", short)
	}
}
