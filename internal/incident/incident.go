// Package incident defines the operator-facing incident record raised
// whenever automated correlation or settlement must stop and hand a
// swap to a human (spec.md §7's AmbiguousPairing row, §9's Open
// Question 1). It is its own package, rather than living in the
// Correlator or Swap Engine, because both of those components raise
// incidents and neither should import the other.
package incident

import (
	"context"

	"github.com/DevJSter/eth-suiResolver/internal/swaptypes"
)

type Kind string

const (
	KindAmbiguousPairing   Kind = "ambiguous_pairing"
	KindAmbiguousAlgorithm Kind = "ambiguous_algorithm"
	KindPolicyViolation    Kind = "policy_violation"
	KindInvalidSecret      Kind = "invalid_secret"
	KindRetriesExhausted   Kind = "retries_exhausted"
)

// Incident records one condition that needed an operator's attention.
type Incident struct {
	SwapID   swaptypes.SwapID
	Kind     Kind
	Detail   string
	OpenedMs int64
}

// Sink records incidents. The Control Plane implements this to
// surface incidents via health/get-swap.
type Sink interface {
	OpenIncident(ctx context.Context, inc Incident)
}
