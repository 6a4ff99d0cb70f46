package orderkey

import (
	"errors"
	"math/rand"
	"sort"
	"testing"
)

func TestBetweenScenarios(t *testing.T) {
	cases := []struct {
		name  string
		left  Key
		right Key
		want  Key
	}{
		{name: "empty group", left: "", right: "", want: "h"},
		{name: "append", left: "h", right: "", want: "q"},
		{name: "prepend", left: "", right: "h", want: "8"},
		{name: "columns m and r", left: "m", right: "r", want: "o"},
		{name: "adjacent digits", left: "a", right: "b", want: "ah"},
		{name: "left longer", left: "az", right: "b", want: "azh"},
		{name: "right has zero tail", left: "a", right: "a01", want: "a00h"},
		{name: "before one", left: "", right: "1", want: "0h"},
		{name: "after max", left: "z", right: "", want: "zh"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Between(tc.left, tc.right)
			if err != nil {
				t.Fatalf("Between(%q, %q) error = %v", tc.left, tc.right, err)
			}
			if got != tc.want {
				t.Fatalf("Between(%q, %q) = %q, want %q", tc.left, tc.right, got, tc.want)
			}
			assertStrictlyBetween(t, tc.left, got, tc.right)
		})
	}
}

func TestBetweenRejectsBadBounds(t *testing.T) {
	cases := []struct {
		name  string
		left  Key
		right Key
		want  error
	}{
		{name: "uppercase", left: "A", right: "", want: ErrInvalidKey},
		{name: "punctuation right", left: "", right: "a-b", want: ErrInvalidKey},
		{name: "equal", left: "m", right: "m", want: ErrOutOfOrder},
		{name: "reversed", left: "r", right: "m", want: ErrOutOfOrder},
		{name: "below zero", left: "", right: "0", want: ErrNoGap},
		{name: "below zeros", left: "", right: "000", want: ErrNoGap},
		{name: "zero suffix", left: "a", right: "a00", want: ErrNoGap},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Between(tc.left, tc.right)
			if !errors.Is(err, tc.want) {
				t.Fatalf("Between(%q, %q) error = %v, want %v", tc.left, tc.right, err, tc.want)
			}
		})
	}
}

func TestParse(t *testing.T) {
	if _, err := Parse(""); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("Parse(\"\") error = %v, want ErrInvalidKey", err)
	}
	if _, err := Parse("ab c"); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("Parse(\"ab c\") error = %v, want ErrInvalidKey", err)
	}
	k, err := Parse("0az9")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if k.String() != "0az9" {
		t.Fatalf("unexpected key %q", k)
	}
}

func TestBeforeAndAfterUnbounded(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		k := randomGeneratedKey(rng)
		before, err := Before(k)
		if err != nil {
			t.Fatalf("Before(%q) error = %v", k, err)
		}
		if !before.Less(k) {
			t.Fatalf("Before(%q) = %q, not less", k, before)
		}
		after, err := After(k)
		if err != nil {
			t.Fatalf("After(%q) error = %v", k, err)
		}
		if !k.Less(after) {
			t.Fatalf("After(%q) = %q, not greater", k, after)
		}
	}
}

func TestBetweenRandomPairs(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 2000; i++ {
		a := randomGeneratedKey(rng)
		b := randomGeneratedKey(rng)
		if a == b {
			continue
		}
		if b < a {
			a, b = b, a
		}
		mid, err := Between(a, b)
		if err != nil {
			t.Fatalf("Between(%q, %q) error = %v", a, b, err)
		}
		assertStrictlyBetween(t, a, mid, b)
	}
}

func TestAlternatingSubdivisionNeverRepeats(t *testing.T) {
	seen := map[Key]bool{}
	lo, hi := Key(""), Key("")
	for i := 0; i < 400; i++ {
		k, err := Between(lo, hi)
		if err != nil {
			t.Fatalf("iteration %d: Between(%q, %q) error = %v", i, lo, hi, err)
		}
		if seen[k] {
			t.Fatalf("iteration %d: key %q repeated", i, k)
		}
		seen[k] = true
		if i%2 == 0 {
			hi = k
		} else {
			lo = k
		}
	}
}

func TestInsertionsBetweenAnchorsStayOrdered(t *testing.T) {
	left, right := MustParse("m"), MustParse("r")
	rng := rand.New(rand.NewSource(3))

	// ordered holds the keys in requested order; each insertion picks a
	// random gap, including the ones next to the anchors.
	ordered := []Key{}
	for i := 0; i < 300; i++ {
		pos := rng.Intn(len(ordered) + 1)
		lo, hi := left, right
		if pos > 0 {
			lo = ordered[pos-1]
		}
		if pos < len(ordered) {
			hi = ordered[pos]
		}
		k, err := Between(lo, hi)
		if err != nil {
			t.Fatalf("Between(%q, %q) error = %v", lo, hi, err)
		}
		ordered = append(ordered, "")
		copy(ordered[pos+1:], ordered[pos:])
		ordered[pos] = k
	}

	if !sort.SliceIsSorted(ordered, func(i, j int) bool { return ordered[i] < ordered[j] }) {
		t.Fatal("keys do not follow the requested insertion order")
	}
	for i, k := range ordered {
		if !(left < k && k < right) {
			t.Fatalf("key %q escapes anchors", k)
		}
		if i > 0 && ordered[i-1] == k {
			t.Fatalf("duplicate key %q", k)
		}
	}
}

func TestGeneratedKeysNeverEndInZero(t *testing.T) {
	lo := Key("")
	for i := 0; i < 200; i++ {
		k, err := Between(lo, "1")
		if err != nil {
			t.Fatalf("Between(%q, \"1\") error = %v", lo, err)
		}
		if k[len(k)-1] == '0' {
			t.Fatalf("generated key %q ends in zero", k)
		}
		lo = k
	}
}

func assertStrictlyBetween(t *testing.T, left, mid, right Key) {
	t.Helper()
	if err := mid.Validate(); err != nil {
		t.Fatalf("generated key %q invalid: %v", mid, err)
	}
	if left != "" && !(left < mid) {
		t.Fatalf("%q is not greater than left %q", mid, left)
	}
	if right != "" && !(mid < right) {
		t.Fatalf("%q is not less than right %q", mid, right)
	}
}

// randomGeneratedKey returns a well-formed key that does not end in '0',
// matching the shape Between produces.
func randomGeneratedKey(rng *rand.Rand) Key {
	n := 1 + rng.Intn(6)
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = Alphabet[rng.Intn(len(Alphabet))]
	}
	if buf[n-1] == '0' {
		buf[n-1] = Alphabet[1+rng.Intn(len(Alphabet)-1)]
	}
	return Key(buf)
}
