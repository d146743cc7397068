// Package correlator implements C5: it joins canonical escrow events
// from both ledgers by their shared digest, deciding which swap is
// affected and recording the objective on-chain facts onto that
// swap's record (spec.md §4.5). It never decides Completed/Expired —
// those require the Swap Engine to observe a complementary action —
// but it does resolve OneSideLocked/BothLocked/Revealed and raises
// AmbiguousPairing/mixed-algorithm incidents.
package correlator

import (
	"context"
	"errors"
	"time"

	"github.com/DevJSter/eth-suiResolver/internal/hashlock"
	"github.com/DevJSter/eth-suiResolver/internal/incident"
	"github.com/DevJSter/eth-suiResolver/internal/metrics"
	"github.com/DevJSter/eth-suiResolver/internal/obslog"
	"github.com/DevJSter/eth-suiResolver/internal/store"
	"github.com/DevJSter/eth-suiResolver/internal/swaperrors"
	"github.com/DevJSter/eth-suiResolver/internal/swapengine"
	"github.com/DevJSter/eth-suiResolver/internal/swaptypes"
)

const maxVersionRetries = 5

// Correlator joins events from both ledgers by digest.
type Correlator struct {
	store        store.Store
	incidents    incident.Sink
	safetyMargin time.Duration
	logger       *obslog.Logger
}

func New(st store.Store, incidents incident.Sink, safetyMargin time.Duration, logger *obslog.Logger) *Correlator {
	return &Correlator{
		store:        st,
		incidents:    incidents,
		safetyMargin: safetyMargin,
		logger:       logger.Component("correlator"),
	}
}

// HandleEvent applies one canonical escrow event to its swap,
// returning the swap's post-event state and whether the event was new
// (false means it was a duplicate, already recorded, and no mutation
// happened — at-least-once delivery made safe, spec.md §4.2/§4.4).
func (c *Correlator) HandleEvent(ctx context.Context, event swaptypes.EscrowEvent) (*swaptypes.Swap, bool, error) {
	switch event.Kind {
	case swaptypes.EventCreated:
		return c.handleCreated(ctx, event)
	case swaptypes.EventWithdrawn:
		return c.handleWithdrawn(ctx, event)
	case swaptypes.EventRefunded:
		return c.handleRefunded(ctx, event)
	default:
		return nil, false, errors.New("correlator: unknown event kind " + string(event.Kind))
	}
}

func (c *Correlator) handleCreated(ctx context.Context, event swaptypes.EscrowEvent) (*swaptypes.Swap, bool, error) {
	for attempt := 0; attempt < maxVersionRetries; attempt++ {
		swap, isNew, err := c.loadOrCreateSwap(ctx, event)
		if err != nil {
			return nil, false, err
		}

		side := &swaptypes.Side{
			Escrow: &swaptypes.Escrow{
				ID:          event.EscrowID,
				Ledger:      event.Ledger,
				Owner:       event.Owner,
				Beneficiary: event.Beneficiary,
				Asset:       swaptypes.Asset{Ledger: event.Ledger, TokenRef: event.TokenRef, Amount: event.Amount},
				Lock: swaptypes.Lock{
					Digest:     event.Digest,
					Algorithm:  event.Algorithm,
					StartMs:    event.LockStartMs,
					DurationMs: event.LockDurationMs,
				},
			},
			// Placeholder until assignRoles fixes it once both sides
			// and their deadlines are known.
			Role: swaptypes.RoleCounterparty,
		}

		if !isNew && swap.Algorithm != event.Algorithm {
			c.raiseIncident(ctx, swap.ID, incident.KindAmbiguousAlgorithm, "pairing rejected: algorithm mismatch between sides")
			swap.Phase = swaptypes.PhaseFailed
			swap.LastError = "ambiguous_algorithm"
			applied, err := c.store.AppendEventAndUpdateSwap(ctx, event, swap, swap.Version)
			if retryable(err) {
				continue
			}
			return swap, applied, err
		}

		existingSide := sideFor(swap, event.Ledger)
		if existingSide != nil && existingSide.Escrow.ID != event.EscrowID {
			c.raiseIncident(ctx, swap.ID, incident.KindAmbiguousPairing, "a third escrow shares this digest on ledger "+string(event.Ledger))
			metrics.AmbiguousPairingsTotal.Inc()
			swap.Phase = swaptypes.PhaseFailed
			swap.LastError = "ambiguous_pairing"
			applied, err := c.store.AppendEventAndUpdateSwap(ctx, event, swap, swap.Version)
			if retryable(err) {
				continue
			}
			return swap, applied, err
		}

		setSide(swap, event.Ledger, side)
		if swap.ASide != nil {
			swap.ADeadlineMs = swap.ASide.Escrow.Lock.DeadlineMs()
		}
		if swap.BSide != nil {
			swap.BDeadlineMs = swap.BSide.Escrow.Lock.DeadlineMs()
		}
		assignRoles(swap)
		recomputePhaseOnPairing(ctx, swap, c.safetyMargin, c)

		if isNew {
			if err := c.store.CreateSwap(ctx, swap); err != nil {
				if swaperrors.Is(err, swaperrors.KindAlreadyProcessed) {
					continue
				}
				return nil, false, err
			}
			metrics.SwapsCreatedTotal.Inc()
			applied, err := c.store.AppendEventAndUpdateSwap(ctx, event, swap, swap.Version)
			if retryable(err) {
				continue
			}
			return swap, applied, err
		}

		applied, err := c.store.AppendEventAndUpdateSwap(ctx, event, swap, swap.Version)
		if retryable(err) {
			continue
		}
		return swap, applied, err
	}
	return nil, false, errors.New("correlator: exhausted version-conflict retries")
}

func (c *Correlator) handleWithdrawn(ctx context.Context, event swaptypes.EscrowEvent) (*swaptypes.Swap, bool, error) {
	for attempt := 0; attempt < maxVersionRetries; attempt++ {
		swap, err := c.store.FindSwapByDigest(ctx, event.Digest)
		if errors.Is(err, store.ErrNotFound) {
			c.logger.Warn().Str("escrow_id", string(event.EscrowID)).Msg("withdrawal observed for unknown swap digest")
			return nil, false, nil
		}
		if err != nil {
			return nil, false, err
		}

		side := sideFor(swap, event.Ledger)
		if side == nil || side.Escrow.ID != event.EscrowID {
			c.logger.Warn().Str("escrow_id", string(event.EscrowID)).Msg("withdrawal on escrow not attached to its swap side")
			return swap, false, nil
		}

		if event.Secret != nil && hashlock.Verify(*event.Secret, swap.Digest, swap.Algorithm) {
			side.Escrow.Withdrawn = true
			side.Escrow.Secret = event.Secret
			side.Escrow.WithdrawTx = event.TxRef
			if !swap.Phase.Terminal() {
				if err := c.store.InsertReveal(ctx, swaptypes.Reveal{
					SwapID:       swap.ID,
					Digest:       swap.Digest,
					Secret:       *event.Secret,
					SourceLedger: event.Ledger,
					SourceTxRef:  event.TxRef,
					ObservedMs:   swaptypes.NowMs(),
				}); err != nil {
					return nil, false, err
				}
				swap.Phase = swaptypes.PhaseRevealed
			}
		} else {
			// A reveal that does not verify under this swap's pinned
			// algorithm is the InvalidSecret path surfaced at
			// correlation time rather than at submit time.
			c.raiseIncident(ctx, swap.ID, incident.KindAmbiguousAlgorithm, "observed withdrawal secret does not verify against swap digest")
			swap.Phase = swaptypes.PhaseFailed
			swap.LastError = "invalid_secret"
		}

		applied, err := c.store.AppendEventAndUpdateSwap(ctx, event, swap, swap.Version)
		if retryable(err) {
			continue
		}
		return swap, applied, err
	}
	return nil, false, errors.New("correlator: exhausted version-conflict retries")
}

func (c *Correlator) handleRefunded(ctx context.Context, event swaptypes.EscrowEvent) (*swaptypes.Swap, bool, error) {
	for attempt := 0; attempt < maxVersionRetries; attempt++ {
		swap, err := c.store.FindSwapByDigest(ctx, event.Digest)
		if errors.Is(err, store.ErrNotFound) {
			c.logger.Warn().Str("escrow_id", string(event.EscrowID)).Msg("refund observed for unknown swap digest")
			return nil, false, nil
		}
		if err != nil {
			return nil, false, err
		}

		side := sideFor(swap, event.Ledger)
		if side == nil || side.Escrow.ID != event.EscrowID {
			return swap, false, nil
		}
		side.Escrow.Refunded = true
		side.Escrow.RefundTx = event.TxRef

		applied, err := c.store.AppendEventAndUpdateSwap(ctx, event, swap, swap.Version)
		if retryable(err) {
			continue
		}
		return swap, applied, err
	}
	return nil, false, errors.New("correlator: exhausted version-conflict retries")
}

func (c *Correlator) loadOrCreateSwap(ctx context.Context, event swaptypes.EscrowEvent) (*swaptypes.Swap, bool, error) {
	swap, err := c.store.FindSwapByDigest(ctx, event.Digest)
	if errors.Is(err, store.ErrNotFound) {
		now := swaptypes.NowMs()
		return &swaptypes.Swap{
			ID:        swapengine.DeriveSwapID(event.Digest),
			Digest:    event.Digest,
			Algorithm: event.Algorithm,
			Phase:     swaptypes.PhaseOneSideLocked,
			CreatedMs: now,
			UpdatedMs: now,
		}, true, nil
	}
	if err != nil {
		return nil, false, err
	}
	swap.UpdatedMs = swaptypes.NowMs()
	return swap, false, nil
}

func (c *Correlator) raiseIncident(ctx context.Context, swapID swaptypes.SwapID, kind incident.Kind, detail string) {
	if c.incidents == nil {
		return
	}
	c.incidents.OpenIncident(ctx, incident.Incident{
		SwapID:   swapID,
		Kind:     kind,
		Detail:   detail,
		OpenedMs: swaptypes.NowMs(),
	})
}

func sideFor(swap *swaptypes.Swap, ledger swaptypes.Ledger) *swaptypes.Side {
	if ledger == swaptypes.LedgerA {
		return swap.ASide
	}
	return swap.BSide
}

func setSide(swap *swaptypes.Swap, ledger swaptypes.Ledger, side *swaptypes.Side) {
	if ledger == swaptypes.LedgerA {
		swap.ASide = side
	} else {
		swap.BSide = side
	}
}

// assignRoles fixes each paired side's Role once both deadlines are
// known: the side with the later deadline belongs to the initiator
// (spec.md §3), since it is the side whose owner must still be able to
// react to a reveal after the counterparty's lock has already expired.
// An unpaired side keeps the zero-value counterparty role until its
// sibling arrives.
func assignRoles(swap *swaptypes.Swap) {
	if swap.ASide == nil || swap.BSide == nil {
		return
	}
	if swap.ADeadlineMs >= swap.BDeadlineMs {
		swap.ASide.Role = swaptypes.RoleInitiator
		swap.BSide.Role = swaptypes.RoleCounterparty
	} else {
		swap.ASide.Role = swaptypes.RoleCounterparty
		swap.BSide.Role = swaptypes.RoleInitiator
	}
}

func recomputePhaseOnPairing(ctx context.Context, swap *swaptypes.Swap, safetyMargin time.Duration, c *Correlator) {
	if swap.Phase.Terminal() {
		return
	}
	if swap.ASide == nil || swap.BSide == nil {
		if swap.Phase != swaptypes.PhaseRevealed {
			swap.Phase = swaptypes.PhaseOneSideLocked
		}
		return
	}

	diff := swap.ADeadlineMs - swap.BDeadlineMs
	if diff < 0 {
		diff = -diff
	}
	if diff < safetyMargin.Milliseconds() {
		c.raiseIncident(ctx, swap.ID, incident.KindAmbiguousPairing, "timelock safety margin violated at pairing time")
		swap.Phase = swaptypes.PhaseFailed
		swap.LastError = "safety_margin_violation"
		return
	}

	if swap.Phase == swaptypes.PhaseOneSideLocked {
		swap.Phase = swaptypes.PhaseBothLocked
	}
}

func retryable(err error) bool {
	return swaperrors.Is(err, swaperrors.KindVersionConflict)
}
