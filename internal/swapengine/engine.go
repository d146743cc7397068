// Package swapengine implements C6, the per-swap state machine that
// is the hardest component in the system (spec.md §4.6): it drives
// reveal propagation across ledgers, orchestrates refunds once a
// deadline passes with no reveal, enforces the retry/backoff policy
// on idempotent submits, and is the only component that decides the
// Completed/Expired/Failed terminal phases.
package swapengine

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/DevJSter/eth-suiResolver/internal/chainadapter"
	"github.com/DevJSter/eth-suiResolver/internal/hashlock"
	"github.com/DevJSter/eth-suiResolver/internal/incident"
	"github.com/DevJSter/eth-suiResolver/internal/metrics"
	"github.com/DevJSter/eth-suiResolver/internal/obslog"
	"github.com/DevJSter/eth-suiResolver/internal/store"
	"github.com/DevJSter/eth-suiResolver/internal/swaperrors"
	"github.com/DevJSter/eth-suiResolver/internal/swaptypes"
)

// Rearmer is the Scheduler collaborator the engine uses to re-arm a
// swap's next timer; internal/scheduler.Scheduler satisfies this.
type Rearmer interface {
	Schedule(swapID swaptypes.SwapID, atMs int64)
}

// Config holds the retry-policy and safety-margin parameters the
// engine enforces (spec.md §4.6, §6).
type Config struct {
	MaxAttempts   int
	BaseBackoffMs int
	MaxBackoffMs  int
	MinTimeout    time.Duration
}

// Engine is the per-swap state machine driver. Evaluate is called
// with the per-swap lock already held by the Scheduler (spec.md §5's
// "per-swap state transitions are serialized").
type Engine struct {
	cfg       Config
	adapters  map[swaptypes.Ledger]chainadapter.Adapter
	store     store.Store
	incidents incident.Sink
	rearmer   Rearmer
	logger    *obslog.Logger
}

func New(cfg Config, adapters map[swaptypes.Ledger]chainadapter.Adapter, st store.Store, incidents incident.Sink, rearmer Rearmer, logger *obslog.Logger) *Engine {
	return &Engine{
		cfg:       cfg,
		adapters:  adapters,
		store:     st,
		incidents: incidents,
		rearmer:   rearmer,
		logger:    logger.Component("swap_engine"),
	}
}

// Evaluate re-examines swapID's current phase and takes whatever
// action that phase calls for (spec.md §4.6's per-state action table).
func (e *Engine) Evaluate(ctx context.Context, swapID swaptypes.SwapID, reason string) error {
	swap, err := e.store.GetSwap(ctx, swapID)
	if err != nil {
		return err
	}
	if swap.Phase.Terminal() {
		return nil
	}

	switch swap.Phase {
	case swaptypes.PhasePending, swaptypes.PhaseOneSideLocked:
		return e.evaluateSingleSide(ctx, swap)
	case swaptypes.PhaseBothLocked:
		return e.evaluateBothLocked(ctx, swap)
	case swaptypes.PhaseRevealed:
		return e.evaluateRevealed(ctx, swap)
	default:
		return nil
	}
}

// evaluateSingleSide applies the OneSideLocked policy check (spec.md
// §4.6): amount and timeout bounds on the one side observed so far.
func (e *Engine) evaluateSingleSide(ctx context.Context, swap *swaptypes.Swap) error {
	side := swap.ASide
	if side == nil {
		side = swap.BSide
	}
	if side == nil {
		return nil
	}
	if side.Escrow.Asset.Amount == 0 {
		return e.fail(ctx, swap, "policy_violation", "escrow amount must be positive")
	}
	lockDuration := time.Duration(side.Escrow.Lock.DurationMs) * time.Millisecond
	if lockDuration < e.cfg.MinTimeout {
		return e.fail(ctx, swap, "policy_violation", "lock duration below configured minimum timeout")
	}
	e.armDeadline(swap)
	return nil
}

// evaluateBothLocked re-checks the pairing invariant defensively (the
// Correlator already checked it at pairing time) and, if this swap's
// deadline has now passed with no reveal, begins expiry.
func (e *Engine) evaluateBothLocked(ctx context.Context, swap *swaptypes.Swap) error {
	if e.deadlinePassed(swap) {
		return e.beginExpiry(ctx, swap)
	}
	e.armDeadline(swap)
	return nil
}

// evaluateRevealed implements spec.md §4.6's Revealed action: extract
// the secret from whichever side was observed withdrawn, re-verify it,
// and submit Withdraw against the complementary escrow.
func (e *Engine) evaluateRevealed(ctx context.Context, swap *swaptypes.Swap) error {
	revealed, complementary := revealedAndComplementary(swap)
	if revealed == nil || complementary == nil {
		return nil
	}

	if complementary.Escrow.Withdrawn {
		return e.complete(ctx, swap)
	}

	reveal, err := e.store.GetReveal(ctx, swap.ID)
	if err != nil {
		return err
	}
	if !hashlock.Verify(reveal.Secret, swap.Digest, swap.Algorithm) {
		return e.fail(ctx, swap, "invalid_secret", "revealed secret does not verify against swap digest")
	}

	adapter, ok := e.adapters[complementary.Escrow.Ledger]
	if !ok {
		return fmt.Errorf("swapengine: no adapter registered for ledger %s", complementary.Escrow.Ledger)
	}

	start := time.Now()
	result, err := adapter.Withdraw(ctx, complementary.Escrow.ID, reveal.Secret)
	metrics.ChainCallDuration.WithLabelValues(string(complementary.Escrow.Ledger), "withdraw").Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		complementary.Escrow.WithdrawTx = result.TxRef
		return e.persist(ctx, swap)
	case swaperrors.Is(err, swaperrors.KindAlreadyProcessed):
		// Someone else's submit landed first (spec.md §4.6, S3/S6):
		// re-read authoritative state and proceed toward completion.
		esc, getErr := adapter.GetEscrow(ctx, complementary.Escrow.ID)
		if getErr == nil && esc.Withdrawn {
			complementary.Escrow.Withdrawn = true
			complementary.Escrow.WithdrawTx = esc.WithdrawTx
			return e.complete(ctx, swap)
		}
		return e.persist(ctx, swap)
	case swaperrors.Is(err, swaperrors.KindInvalidSecret):
		return e.fail(ctx, swap, "invalid_secret", "complementary withdraw rejected as invalid secret")
	default:
		metrics.ChainCallErrorsTotal.WithLabelValues(string(complementary.Escrow.Ledger), "withdraw", string(kindOf(err))).Inc()
		return e.retryOrFail(ctx, swap, err)
	}
}

func (e *Engine) complete(ctx context.Context, swap *swaptypes.Swap) error {
	swap.Phase = swaptypes.PhaseCompleted
	swap.UpdatedMs = swaptypes.NowMs()
	metrics.SwapsCompletedTotal.Inc()
	return e.persist(ctx, swap)
}

// beginExpiry submits Refund for every still-locked side once its
// individual deadline has passed, as spec.md §4.6's Expired action
// table and scenario S2 describe — the coordinator drives both sides.
func (e *Engine) beginExpiry(ctx context.Context, swap *swaptypes.Swap) error {
	now := swaptypes.NowMs()
	allTerminal := true

	for _, side := range []*swaptypes.Side{swap.ASide, swap.BSide} {
		if side == nil {
			continue
		}
		if side.Escrow.Terminal() {
			continue
		}
		if now < side.Escrow.Lock.DeadlineMs() {
			allTerminal = false
			continue
		}

		adapter := e.adapters[side.Escrow.Ledger]
		start := time.Now()
		result, err := adapter.Refund(ctx, side.Escrow.ID)
		metrics.ChainCallDuration.WithLabelValues(string(side.Escrow.Ledger), "refund").Observe(time.Since(start).Seconds())

		switch {
		case err == nil:
			side.Escrow.RefundTx = result.TxRef
			side.Escrow.Refunded = true
		case swaperrors.Is(err, swaperrors.KindAlreadyProcessed):
			side.Escrow.Refunded = true
		case swaperrors.Is(err, swaperrors.KindNotExpired):
			allTerminal = false
		default:
			metrics.ChainCallErrorsTotal.WithLabelValues(string(side.Escrow.Ledger), "refund", string(kindOf(err))).Inc()
			allTerminal = false
			swap.RetryCount++
			swap.LastError = err.Error()
			if swap.RetryCount >= e.cfg.MaxAttempts {
				return e.fail(ctx, swap, "refund_exhausted", "refund retries exhausted for "+string(side.Escrow.Ledger))
			}
		}
	}

	if allTerminal {
		swap.Phase = swaptypes.PhaseExpired
		metrics.SwapsExpiredTotal.Inc()
	} else {
		e.rearmer.Schedule(swap.ID, now+e.backoff(swap.RetryCount))
	}
	swap.UpdatedMs = swaptypes.NowMs()
	return e.persist(ctx, swap)
}

func (e *Engine) retryOrFail(ctx context.Context, swap *swaptypes.Swap, err error) error {
	swap.RetryCount++
	swap.LastError = err.Error()
	if swap.RetryCount >= e.cfg.MaxAttempts {
		return e.fail(ctx, swap, "retries_exhausted", err.Error())
	}
	e.rearmer.Schedule(swap.ID, swaptypes.NowMs()+e.backoff(swap.RetryCount))
	return e.persist(ctx, swap)
}

func (e *Engine) fail(ctx context.Context, swap *swaptypes.Swap, code, detail string) error {
	swap.Phase = swaptypes.PhaseFailed
	swap.LastError = detail
	swap.UpdatedMs = swaptypes.NowMs()
	metrics.SwapsFailedTotal.Inc()
	if e.incidents != nil {
		e.incidents.OpenIncident(ctx, incident.Incident{
			SwapID:   swap.ID,
			Kind:     incident.Kind(code),
			Detail:   detail,
			OpenedMs: swaptypes.NowMs(),
		})
	}
	return e.persist(ctx, swap)
}

func (e *Engine) persist(ctx context.Context, swap *swaptypes.Swap) error {
	return e.store.UpdateSwap(ctx, swap, swap.Version)
}

func (e *Engine) armDeadline(swap *swaptypes.Swap) {
	at := swap.ADeadlineMs
	if swap.BDeadlineMs != 0 && (at == 0 || swap.BDeadlineMs < at) {
		at = swap.BDeadlineMs
	}
	if at == 0 {
		return
	}
	e.rearmer.Schedule(swap.ID, at)
}

func (e *Engine) deadlinePassed(swap *swaptypes.Swap) bool {
	now := swaptypes.NowMs()
	if swap.ADeadlineMs != 0 && now >= swap.ADeadlineMs {
		return true
	}
	if swap.BDeadlineMs != 0 && now >= swap.BDeadlineMs {
		return true
	}
	return false
}

// backoff computes the next retry delay: exponential base 2 with
// ±25% jitter, capped at MaxBackoffMs (spec.md §4.6's retry policy),
// grounded on cenkalti/backoff's exponential curve but computed
// directly so the Scheduler's timer wheel (not a blocking retrier)
// owns the wait.
func (e *Engine) backoff(attempt int) int64 {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Duration(e.cfg.BaseBackoffMs) * time.Millisecond
	b.MaxInterval = time.Duration(e.cfg.MaxBackoffMs) * time.Millisecond
	b.RandomizationFactor = 0.25
	b.Multiplier = 2

	interval := b.InitialInterval
	for i := 0; i < attempt; i++ {
		interval = time.Duration(float64(interval) * b.Multiplier)
		if interval > b.MaxInterval {
			interval = b.MaxInterval
			break
		}
	}
	jitter := 1 + (rand.Float64()*2-1)*b.RandomizationFactor
	return int64(float64(interval.Milliseconds()) * jitter)
}

func revealedAndComplementary(swap *swaptypes.Swap) (*swaptypes.Side, *swaptypes.Side) {
	if swap.ASide != nil && swap.ASide.Escrow.Withdrawn {
		return swap.ASide, swap.BSide
	}
	if swap.BSide != nil && swap.BSide.Escrow.Withdrawn {
		return swap.BSide, swap.ASide
	}
	return nil, nil
}

func kindOf(err error) swaperrors.Kind {
	if se, ok := err.(*swaperrors.Error); ok {
		return se.Kind
	}
	return swaperrors.KindTransient
}
