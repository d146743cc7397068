// Package chainadapter defines the uniform capability surface the
// coordinator consumes from either ledger (spec.md §4.2, §6). Concrete
// adapters (evmchain, suichain) and a mockchain test double implement
// this interface; the rest of the coordinator never imports a
// ledger-specific package directly.
package chainadapter

import (
	"context"

	"github.com/DevJSter/eth-suiResolver/internal/swaptypes"
)

// CreateParams are the inputs to CreateEscrow.
type CreateParams struct {
	TokenRef      string
	Amount        uint64
	Digest        swaptypes.Digest
	Algorithm     swaptypes.Algorithm
	Beneficiary   string
	LockDurationMs int64
}

// CreateResult is the outcome of a successful CreateEscrow.
type CreateResult struct {
	EscrowID swaptypes.EscrowID
	TxRef    string
}

// TxResult is the outcome of a successful Withdraw or Refund.
type TxResult struct {
	TxRef string
}

// EventPage is one bounded, restartable batch of events returned by
// SubscribeEscrowEvents.
type EventPage struct {
	Events     []swaptypes.EscrowEvent
	NextCursor swaptypes.EventCursor
}

// Receipt is the confirmation outcome of SubmitAndWait.
type Receipt struct {
	TxRef         string
	Confirmations uint64
	BlockHeight   uint64
}

// Tx is an opaque, adapter-specific prepared transaction, produced by
// one of the Create/Withdraw/Refund calls and passed to SubmitAndWait
// when the caller needs explicit finality confirmation beyond the
// adapter's own internal wait.
type Tx struct {
	Kind     string // "create" | "withdraw" | "refund"
	EscrowID swaptypes.EscrowID
	Payload  any
}

// Adapter is the capability set {submit, query, subscribe,
// wait-for-finality} over one ledger. Every submit is idempotent when
// the caller supplies the deterministic (digest, escrow) pair — the
// adapter is expected to query on-chain state before resubmitting
// (spec.md §4.2, §5 "Multi-instance safety").
type Adapter interface {
	Ledger() swaptypes.Ledger

	// CreateEscrow locks funds behind digest/algo, owned by the caller
	// and claimable by beneficiary before the lock expires.
	CreateEscrow(ctx context.Context, p CreateParams) (CreateResult, error)

	// Withdraw claims escrowID's funds by revealing secret. Fails with
	// swaperrors.KindInvalidSecret, KindUnavailable (expired), or is
	// reported via KindAlreadyProcessed when the escrow was already
	// claimed (by this resolver or the on-chain contract's own
	// auto-claim, treated as benign per spec.md §9).
	Withdraw(ctx context.Context, escrowID swaptypes.EscrowID, secret swaptypes.Secret) (TxResult, error)

	// Refund reclaims escrowID's funds back to its owner once expired.
	Refund(ctx context.Context, escrowID swaptypes.EscrowID) (TxResult, error)

	// GetEscrow returns the current on-chain snapshot of escrowID.
	GetEscrow(ctx context.Context, escrowID swaptypes.EscrowID) (*swaptypes.Escrow, error)

	// FindEscrowsByDigest looks up every escrow id registered under
	// digest (spec.md §6's registry object on the resource-style ledger).
	FindEscrowsByDigest(ctx context.Context, digest swaptypes.Digest) ([]swaptypes.EscrowID, error)

	// SubscribeEscrowEvents returns one bounded, restartable page of
	// events starting at from. Events are delivered at-least-once;
	// downstream must dedup on EscrowEvent.Key().
	SubscribeEscrowEvents(ctx context.Context, from swaptypes.EventCursor) (EventPage, error)

	// SubmitAndWait blocks until tx has accumulated the adapter's
	// configured finality depth of confirmations.
	SubmitAndWait(ctx context.Context, tx Tx) (Receipt, error)

	// CheckStake verifies the opaque resolver-stake precondition at
	// registration time (spec.md §9): the core does not enforce
	// slashing, only a one-time check.
	CheckStake(ctx context.Context, minStake uint64) error
}
