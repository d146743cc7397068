// Package store defines the coordinator's durable state contract
// (spec.md §4.3): a typed swap record plus an append-only event log,
// with optimistic concurrency on every mutation and range queries by
// phase and deadline the Scheduler needs to rebuild its timer wheel on
// restart.
package store

import (
	"context"
	"errors"

	"github.com/DevJSter/eth-suiResolver/internal/swaperrors"
	"github.com/DevJSter/eth-suiResolver/internal/swaptypes"
)

// ErrNotFound is returned by Get when no swap exists for an ID.
var ErrNotFound = errors.New("store: swap not found")

// EventRecord is one row of the append-only event log keyed by
// EscrowEvent.Key(); storing it lets the ingestor dedup across process
// restarts, not only within one in-memory run.
type EventRecord struct {
	Key       string
	Event     swaptypes.EscrowEvent
	InsertedMs int64
}

// SwapFilter narrows a range query. Zero-valued fields are unfiltered.
type SwapFilter struct {
	Phase         swaptypes.Phase
	DeadlineBefore int64
	Digest        *swaptypes.Digest
	Limit         int
}

// Store is the coordinator's single durable-state capability. Every
// mutating method takes an expectedVersion and fails with a
// swaperrors.KindVersionConflict when the stored version has moved on
// (spec.md §5 "Multi-instance safety"): the caller must reload and
// re-decide, never blindly retry.
type Store interface {
	// CreateSwap persists a brand-new swap at version 1. Fails with
	// swaperrors.KindAlreadyProcessed if swap.ID already exists.
	CreateSwap(ctx context.Context, swap *swaptypes.Swap) error

	// GetSwap loads a swap by ID. Returns ErrNotFound if absent.
	GetSwap(ctx context.Context, id swaptypes.SwapID) (*swaptypes.Swap, error)

	// UpdateSwap persists swap's fields if its current stored version
	// equals expectedVersion, then increments the stored version.
	// Returns swaperrors.KindVersionConflict otherwise.
	UpdateSwap(ctx context.Context, swap *swaptypes.Swap, expectedVersion int64) error

	// AppendEventAndUpdateSwap atomically records event (idempotent on
	// event.Key()) and applies the swap mutation in one durable step —
	// the store-level analogue of the spec's
	// atomic_upsert_swap_and_append_event operation (spec.md §4.3).
	// Returns (false, nil) when event.Key() was already recorded, in
	// which case swap is NOT mutated (the event is treated as already
	// processed).
	AppendEventAndUpdateSwap(ctx context.Context, event swaptypes.EscrowEvent, swap *swaptypes.Swap, expectedVersion int64) (applied bool, err error)

	// ListSwaps returns swaps matching filter, ordered by deadline
	// ascending — the shape the Scheduler uses to rebuild its timer
	// wheel at startup.
	ListSwaps(ctx context.Context, filter SwapFilter) ([]*swaptypes.Swap, error)

	// FindSwapByDigest returns the swap keyed on digest, if any —
	// the Correlator's primary lookup when a Created event arrives.
	FindSwapByDigest(ctx context.Context, digest swaptypes.Digest) (*swaptypes.Swap, error)

	// HasEvent reports whether key was already recorded, for ingestors
	// that need a read-only dedup check outside a mutation.
	HasEvent(ctx context.Context, key string) (bool, error)

	// SaveCursor persists the ingestor's last-processed position for
	// ledger, to be resumed across restarts.
	SaveCursor(ctx context.Context, cursor swaptypes.EventCursor) error

	// LoadCursor loads the last persisted cursor for ledger, or the
	// zero cursor if none was ever saved.
	LoadCursor(ctx context.Context, ledger swaptypes.Ledger) (swaptypes.EventCursor, error)

	// InsertReveal persists the secret observed on a swap's first
	// verified withdrawal. Idempotent on SwapID: a second insert for a
	// swap that already has a recorded reveal is a no-op, since only
	// the first observed preimage drives the complementary side.
	InsertReveal(ctx context.Context, reveal swaptypes.Reveal) error

	// GetReveal returns the persisted reveal for swapID, or
	// ErrNotFound if no withdrawal has been recorded for it yet —
	// the Swap Engine's source of truth for the Revealed action
	// (spec.md §3, §4.6).
	GetReveal(ctx context.Context, swapID swaptypes.SwapID) (*swaptypes.Reveal, error)

	// Close releases underlying resources.
	Close() error
}

// VersionConflict is the typed error UpdateSwap/AppendEventAndUpdateSwap
// return when expectedVersion does not match the stored version.
func VersionConflict(swapID swaptypes.SwapID) error {
	return swaperrors.New(swaperrors.KindVersionConflict, "version_conflict", "stored version moved on for swap "+string(swapID))
}
