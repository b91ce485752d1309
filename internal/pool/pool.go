// Package pool handles pool identifier parsing and validation. Auction
// subjects are 32-byte pool ids rendered as 0x-prefixed hex, the way the
// on-chain hook emits them. The engine core treats subjects as opaque
// keys; this package is the boundary that keeps malformed ids out.
package pool

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// idRegex matches a 0x-prefixed 32-byte hex identifier.
// Example: 0x00000000000000000000000000000000000000000000000000000123456789ab
var idRegex = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// ErrInvalidPoolID is returned for identifiers that are not 0x-prefixed
// 32-byte hex strings.
var ErrInvalidPoolID = errors.New("pool: invalid pool id format")

// ID is a validated, canonical (lowercase) pool identifier.
type ID string

// Parse validates a pool id string and returns its canonical form.
func Parse(raw string) (ID, error) {
	if !idRegex.MatchString(raw) {
		return "", fmt.Errorf("%w: %q (expected 0x + 64 hex chars)", ErrInvalidPoolID, raw)
	}
	return ID(strings.ToLower(raw)), nil
}

// String returns the canonical identifier.
func (id ID) String() string {
	return string(id)
}

// Short returns an abbreviated form for logs and dashboards:
// 0x12345678…9abc.
func (id ID) Short() string {
	s := string(id)
	if len(s) < 16 {
		return s
	}
	return s[:10] + "…" + s[len(s)-4:]
}
