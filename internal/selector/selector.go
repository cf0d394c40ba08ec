// Package selector derives 4-byte selectors from canonical signatures.
package selector

import (
	"encoding/hex"
	"strings"
	"unicode/utf8"

	"gitlab.com/tozd/go/errors"
	"golang.org/x/crypto/sha3"
)

// Size is the selector length in bytes.
const Size = 4

var (
	ErrEmptySignature  = errors.Base("empty signature")
	ErrInvalidEncoding = errors.Base("signature is not valid UTF-8")
	ErrInvalidSelector = errors.Base("invalid selector")
)

// Selector is the first four bytes of keccak256(signature).
type Selector [Size]byte

// String renders the selector as 0x followed by 8 lowercase hex digits.
func (s Selector) String() string {
	return "0x" + hex.EncodeToString(s[:])
}

// MarshalText implements encoding.TextMarshaler.
func (s Selector) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Selector) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Derive computes the selector of a signature such as "Unauthorized()".
func Derive(signature string) (Selector, error) {
	var sel Selector
	if signature == "" {
		return sel, errors.WithStack(ErrEmptySignature)
	}
	if !utf8.ValidString(signature) {
		return sel, errors.Errorf("%w: %q", ErrInvalidEncoding, signature)
	}
	copy(sel[:], keccak256([]byte(signature)))
	return sel, nil
}

// Parse reads a selector written as 8 hex digits, with or without a 0x
// prefix, in either case.
func Parse(s string) (Selector, error) {
	var sel Selector
	raw := strings.TrimSpace(s)
	raw = strings.TrimPrefix(strings.TrimPrefix(raw, "0x"), "0X")
	if len(raw) != 2*Size {
		return sel, errors.Errorf("%w: %q: want %d hex digits", ErrInvalidSelector, s, 2*Size)
	}
	b, err := hex.DecodeString(raw)
	if err != nil {
		return sel, errors.Errorf("%w: %q: %v", ErrInvalidSelector, s, err)
	}
	copy(sel[:], b)
	return sel, nil
}

func keccak256(data []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	_, _ = h.Write(data)
	return h.Sum(nil)
}

// Builtins are the errors the compiler defines itself.
var Builtins = []string{"Error(string)", "Panic(uint256)"}

// Builtin returns the built-in error signature with selector s, if any.
func Builtin(s Selector) (string, bool) {
	for _, sig := range Builtins {
		if sel, err := Derive(sig); err == nil && sel == s {
			return sig, true
		}
	}
	return "", false
}

// ParseRevert reads the selector at the front of revert data. Input shorter
// than a selector fails like Parse.
func ParseRevert(data string) (Selector, error) {
	raw := strings.TrimSpace(data)
	hasPrefix := strings.HasPrefix(raw, "0x") || strings.HasPrefix(raw, "0X")
	if hasPrefix {
		raw = raw[2:]
	}
	if len(raw) > 2*Size {
		raw = raw[:2*Size]
	}
	return Parse(raw)
}
