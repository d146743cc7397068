package swapengine

import (
	"github.com/DevJSter/eth-suiResolver/internal/hashlock"
	"github.com/DevJSter/eth-suiResolver/internal/swaptypes"
)

// DeriveSwapID derives a swap's identity from its digest alone
// (spec.md §8's determinism law: "SwapId is a pure function of its
// constituting fields"). A pair of escrow ids is not available at
// pairing time — the first EscrowCreated event only ever names one
// side — so digest is the field both sides can independently compute
// the same SwapId from before they have ever observed each other.
func DeriveSwapID(digest swaptypes.Digest) swaptypes.SwapID {
	return swaptypes.SwapID("swap-" + hashlock.EncodeHex(digest))
}
