package swapengine

import (
	"testing"

	"github.com/DevJSter/eth-suiResolver/internal/swaptypes"
)

func TestDeriveSwapIDDeterministic(t *testing.T) {
	var digest swaptypes.Digest
	for i := range digest {
		digest[i] = byte(i)
	}

	a := DeriveSwapID(digest)
	b := DeriveSwapID(digest)
	if a != b {
		t.Fatalf("DeriveSwapID is not deterministic: %s != %s", a, b)
	}

	var other swaptypes.Digest
	for i := range other {
		other[i] = byte(i + 1)
	}
	if DeriveSwapID(other) == a {
		t.Fatal("DeriveSwapID must not collide across distinct digests")
	}
}

func TestDeriveSwapIDFormat(t *testing.T) {
	var digest swaptypes.Digest
	id := DeriveSwapID(digest)
	if len(id) != len("swap-")+64 {
		t.Fatalf("unexpected SwapID length: %d (%s)", len(id), id)
	}
	if id[:5] != "swap-" {
		t.Fatalf("SwapID must carry the swap- prefix, got %s", id)
	}
}
