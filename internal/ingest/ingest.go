// Package ingest implements C4: a per-ledger long-lived subscriber
// that polls bounded batches of escrow events from a chainadapter,
// canonicalizes and deduplicates them, hands each to the Correlator,
// and atomically advances its ledger's cursor only once every event in
// the batch has been durably recorded (spec.md §4.4).
package ingest

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/DevJSter/eth-suiResolver/internal/chainadapter"
	"github.com/DevJSter/eth-suiResolver/internal/metrics"
	"github.com/DevJSter/eth-suiResolver/internal/obslog"
	"github.com/DevJSter/eth-suiResolver/internal/scheduler"
	"github.com/DevJSter/eth-suiResolver/internal/store"
	"github.com/DevJSter/eth-suiResolver/internal/swaperrors"
	"github.com/DevJSter/eth-suiResolver/internal/swaptypes"
)

const dedupCacheSize = 4096

// Correlator is the collaborator that applies one canonical event to
// its swap; internal/correlator.Correlator satisfies this.
type Correlator interface {
	HandleEvent(ctx context.Context, event swaptypes.EscrowEvent) (*swaptypes.Swap, bool, error)
}

// Enqueuer signals the Swap Engine that a swap's state machine needs
// re-evaluating; internal/scheduler.Scheduler satisfies this.
type Enqueuer interface {
	Enqueue(task scheduler.Task)
}

// Ingestor drives one ledger's event subscription loop.
type Ingestor struct {
	ledger      swaptypes.Ledger
	adapter     chainadapter.Adapter
	store       store.Store
	correlator  Correlator
	enqueuer    Enqueuer
	pollInterval time.Duration
	dedup       *lru.Cache[string, struct{}]
	logger      *obslog.Logger
}

func New(ledger swaptypes.Ledger, adapter chainadapter.Adapter, st store.Store, correlator Correlator, enqueuer Enqueuer, pollInterval time.Duration, logger *obslog.Logger) (*Ingestor, error) {
	cache, err := lru.New[string, struct{}](dedupCacheSize)
	if err != nil {
		return nil, err
	}
	return &Ingestor{
		ledger:       ledger,
		adapter:      adapter,
		store:        st,
		correlator:   correlator,
		enqueuer:     enqueuer,
		pollInterval: pollInterval,
		dedup:        cache,
		logger:       logger.Component("ingest_" + string(ledger)),
	}, nil
}

// Run blocks, polling until ctx is cancelled. Callers typically run
// this inside the Scheduler's worker pool (spec.md §4.7, §5).
func (in *Ingestor) Run(ctx context.Context) error {
	cursor, err := in.store.LoadCursor(ctx, in.ledger)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(in.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			next, err := in.pollOnce(ctx, cursor)
			if err != nil {
				in.logger.Warn().Err(err).Msg("poll failed, will retry next interval")
				continue
			}
			cursor = next
		}
	}
}

func (in *Ingestor) pollOnce(ctx context.Context, cursor swaptypes.EventCursor) (swaptypes.EventCursor, error) {
	page, err := in.adapter.SubscribeEscrowEvents(ctx, cursor)
	if err != nil {
		return cursor, err
	}

	for _, event := range page.Events {
		if _, seen := in.dedup.Get(event.Key()); seen {
			metrics.EventsDuplicateTotal.WithLabelValues(string(in.ledger)).Inc()
			continue
		}

		event, err := in.enrichDigest(ctx, event)
		if err != nil {
			in.logger.Warn().Err(err).Str("escrow_id", string(event.EscrowID)).Msg("could not resolve digest for event, skipping")
			continue
		}

		swap, applied, err := in.correlator.HandleEvent(ctx, event)
		if err != nil {
			return cursor, err
		}
		if applied && swap != nil {
			// Signal the Swap Engine (spec.md §4.5): the event just
			// landed a real state change, so re-evaluation may need to
			// propagate a reveal, arm a fresh deadline, or both.
			in.enqueuer.Enqueue(scheduler.Task{SwapID: swap.ID, Reason: scheduler.ReasonEvent})
		}
		in.dedup.Add(event.Key(), struct{}{})
		metrics.EventsIngestedTotal.WithLabelValues(string(in.ledger), string(event.Kind)).Inc()
	}

	if err := in.store.SaveCursor(ctx, page.NextCursor); err != nil {
		return cursor, err
	}
	metrics.CursorHeightGauge.WithLabelValues(string(in.ledger)).Set(float64(page.NextCursor.Height))
	return page.NextCursor, nil
}

// enrichDigest fills in Digest for Withdrawn/Refunded events whose raw
// on-chain log only names the escrow id — a re-query cost paid once
// per withdrawal/refund rather than forcing every adapter to thread
// digest through logs that were never designed to carry it.
func (in *Ingestor) enrichDigest(ctx context.Context, event swaptypes.EscrowEvent) (swaptypes.EscrowEvent, error) {
	if event.Kind == swaptypes.EventCreated || event.Digest != (swaptypes.Digest{}) {
		return event, nil
	}
	esc, err := in.adapter.GetEscrow(ctx, event.EscrowID)
	if err != nil {
		if swaperrors.Is(err, swaperrors.KindNotFound) {
			// Vanished escrow (spec.md §9 Open Question 2): only treated
			// as informative, never as authoritative completion. The
			// correlator itself decides terminality from recorded state.
			return event, nil
		}
		return event, err
	}
	event.Digest = esc.Lock.Digest
	event.Algorithm = esc.Lock.Algorithm
	return event, nil
}
