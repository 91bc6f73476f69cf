package keys

import (
	"regexp"
	"testing"
	"unicode"
)

func TestDeterminism_SameInputsSameKey(t *testing.T) {
	k1 := Token("tok-2026-0042")
	k2 := Token("tok-2026-0042")
	if k1 != k2 {
		t.Fatalf("determinism failed:\n k1=%s\n k2=%s", k1, k2)
	}
}

func TestDifference_CollidingSanitizedIDsStayDistinct(t *testing.T) {
	// Both sanitize to the same readable prefix; the hash suffix must differ.
	k1 := Token("tok a")
	k2 := Token("tok_a")
	if k1 == k2 {
		t.Fatalf("distinct ids produced identical keys: %s", k1)
	}
}

func TestUnicodeSafety_NoPanicAndHashSuffixPresent(t *testing.T) {
	k := Token("トークン-雪-01")
	for _, r := range k {
		if r > unicode.MaxASCII {
			t.Fatalf("non-ASCII rune leaked into key: %q in %s", r, k)
		}
	}
	if m := regexp.MustCompile(`:f=([0-9a-f]{16})$`).FindStringSubmatch(k); len(m) != 2 {
		t.Fatalf("missing or invalid :f=<hex64> suffix in key: %s", k)
	}
}

func TestCellIndexKeyShape(t *testing.T) {
	k := CellIndex(2, "892a100d2b3ffff")
	if k != "gt:cell:2:892a100d2b3ffff" {
		t.Fatalf("unexpected cell index key: %s", k)
	}
}
