// Package orderkey implements the dense string key space used to order siblings.
//
// Keys are strings over the 36 symbols 0-9a-z. Because the alphabet is
// ASCII-monotonic, byte-wise string comparison is the key order. Between any
// two generated keys there is always room for another one, so inserting an
// item never renumbers its siblings.
package orderkey

import (
	"errors"
	"fmt"
)

const (
	Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

	minDigit = 0
	maxDigit = len(Alphabet) - 1
)

var (
	ErrInvalidKey = errors.New("invalid order key")
	ErrOutOfOrder = errors.New("order key bounds out of order")
	ErrNoGap      = errors.New("no order key between bounds")
)

// Key is a fractional index. The zero value is not a valid key; Between
// treats it as an open bound.
type Key string

var digitValue = func() [256]int {
	var table [256]int
	for i := range table {
		table[i] = -1
	}
	for i := 0; i < len(Alphabet); i++ {
		table[Alphabet[i]] = i
	}
	return table
}()

// Parse validates s and returns it as a Key.
func Parse(s string) (Key, error) {
	k := Key(s)
	if err := k.Validate(); err != nil {
		return "", err
	}
	return k, nil
}

// MustParse is Parse for literals in tests and fixtures.
func MustParse(s string) Key {
	k, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return k
}

func (k Key) Validate() error {
	if k == "" {
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	for i := 0; i < len(k); i++ {
		if digitValue[k[i]] < 0 {
			return fmt.Errorf("%w: %q has symbol %q at %d", ErrInvalidKey, string(k), k[i], i)
		}
	}
	return nil
}

func (k Key) String() string {
	return string(k)
}

func (k Key) Less(other Key) bool {
	return k < other
}

// Compare returns -1, 0 or 1.
func Compare(a, b Key) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Between returns a key strictly greater than left and strictly less than
// right. An empty left means no lower bound, an empty right no upper bound.
//
// At each position the left digit (0 once left is exhausted) and the right
// digit (35 once right is exhausted) are compared; the first position with a
// free symbol between them gets the middle symbol and ends the key. Positions
// without a gap copy the left digit.
func Between(left, right Key) (Key, error) {
	if left != "" {
		if err := left.Validate(); err != nil {
			return "", fmt.Errorf("left bound: %w", err)
		}
	}
	if right != "" {
		if err := right.Validate(); err != nil {
			return "", fmt.Errorf("right bound: %w", err)
		}
	}
	if left != "" && right != "" && left >= right {
		return "", fmt.Errorf("%w: %q >= %q", ErrOutOfOrder, string(left), string(right))
	}
	if right != "" && !hasRoomBelow(left, right) {
		return "", fmt.Errorf("%w: %q and %q", ErrNoGap, string(left), string(right))
	}

	out := make([]byte, 0, len(left)+1)
	for i := 0; ; i++ {
		l := minDigit
		if i < len(left) {
			l = digitValue[left[i]]
		}
		r := maxDigit
		if i < len(right) {
			r = digitValue[right[i]]
		}
		if l+1 < r {
			return Key(append(out, Alphabet[(l+r)/2])), nil
		}
		out = append(out, Alphabet[l])
	}
}

// hasRoomBelow reports whether some key sorts strictly between left and
// right. The only holes in the key space sit directly below keys whose tail
// past the left bound is all zeros: nothing lies between "a" and "a00", or
// below "0".
func hasRoomBelow(left, right Key) bool {
	if len(right) < len(left) || right[:len(left)] != left {
		return true
	}
	for i := len(left); i < len(right); i++ {
		if right[i] != Alphabet[minDigit] {
			return true
		}
	}
	return false
}

// First is the key for an empty sibling group.
func First() Key {
	k, _ := Between("", "")
	return k
}

// Before returns a key that sorts before k.
func Before(k Key) (Key, error) {
	return Between("", k)
}

// After returns a key that sorts after k.
func After(k Key) (Key, error) {
	return Between(k, "")
}
