// Package mockchain is an in-memory chainadapter.Adapter test double.
// It exists so the Swap Engine and Scheduler can be unit-tested
// deterministically against a capability passed explicitly, instead of
// against an ambient singleton (spec.md §9 Design Notes) — the same
// reasoning the teacher pack applies when its processors accept a
// collaborator interface rather than dialing a live backend in tests
// (contract-data-processor/go's table-driven tests construct a fake
// processor rather than a live gRPC stream).
package mockchain

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"github.com/DevJSter/eth-suiResolver/internal/chainadapter"
	"github.com/DevJSter/eth-suiResolver/internal/hashlock"
	"github.com/DevJSter/eth-suiResolver/internal/swaperrors"
	"github.com/DevJSter/eth-suiResolver/internal/swaptypes"
)

// Adapter is a single in-memory ledger. Zero value is not usable; use
// New.
type Adapter struct {
	mu sync.Mutex

	ledger        swaptypes.Ledger
	finalityDepth uint64
	height        uint64
	nextSeq       uint32
	autoincrement int

	escrows map[swaptypes.EscrowID]*swaptypes.Escrow
	byDigest map[swaptypes.Digest][]swaptypes.EscrowID
	events  []swaptypes.EscrowEvent

	// FailNextSubmit, if set, is returned (and cleared) by the next
	// Create/Withdraw/Refund call — lets tests force a transient fault.
	FailNextSubmit error

	// Stakes maps an address to its available balance, consulted by
	// CheckStake.
	Stakes map[string]uint64
}

func New(ledger swaptypes.Ledger, finalityDepth uint64) *Adapter {
	return &Adapter{
		ledger:        ledger,
		finalityDepth: finalityDepth,
		escrows:       make(map[swaptypes.EscrowID]*swaptypes.Escrow),
		byDigest:      make(map[swaptypes.Digest][]swaptypes.EscrowID),
		Stakes:        make(map[string]uint64),
	}
}

func (a *Adapter) Ledger() swaptypes.Ledger { return a.ledger }

// AdvanceHeight moves the mock chain's block/checkpoint height forward,
// simulating confirmations accruing on previously emitted events.
func (a *Adapter) AdvanceHeight(n uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.height += n
}

func (a *Adapter) takeFault() error {
	if a.FailNextSubmit == nil {
		return nil
	}
	err := a.FailNextSubmit
	a.FailNextSubmit = nil
	return err
}

func (a *Adapter) CreateEscrow(ctx context.Context, p chainadapter.CreateParams) (chainadapter.CreateResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.takeFault(); err != nil {
		return chainadapter.CreateResult{}, err
	}

	a.autoincrement++
	id := swaptypes.EscrowID(string(a.ledger) + "-escrow-" + strconv.Itoa(a.autoincrement))
	now := swaptypes.NowMs()
	esc := &swaptypes.Escrow{
		ID:          id,
		Ledger:      a.ledger,
		Beneficiary: p.Beneficiary,
		Asset:       swaptypes.Asset{Ledger: a.ledger, TokenRef: p.TokenRef, Amount: p.Amount},
		Lock: swaptypes.Lock{
			Digest:     p.Digest,
			Algorithm:  p.Algorithm,
			StartMs:    now,
			DurationMs: p.LockDurationMs,
		},
	}
	a.escrows[id] = esc
	a.byDigest[p.Digest] = append(a.byDigest[p.Digest], id)

	a.height++
	a.nextSeq++
	a.events = append(a.events, swaptypes.EscrowEvent{
		Kind:           swaptypes.EventCreated,
		Ledger:         a.ledger,
		EscrowID:       id,
		Digest:         p.Digest,
		Algorithm:      p.Algorithm,
		Beneficiary:    p.Beneficiary,
		Amount:         p.Amount,
		TokenRef:       p.TokenRef,
		LockStartMs:    esc.Lock.StartMs,
		LockDurationMs: esc.Lock.DurationMs,
		TxRef:          "tx-" + strconv.Itoa(a.autoincrement),
		BlockHeight:    a.height,
		EventIndex:     a.nextSeq,
		ObservedMs:     now,
	})

	return chainadapter.CreateResult{EscrowID: id, TxRef: "tx-" + strconv.Itoa(a.autoincrement)}, nil
}

func (a *Adapter) Withdraw(ctx context.Context, escrowID swaptypes.EscrowID, secret swaptypes.Secret) (chainadapter.TxResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.takeFault(); err != nil {
		return chainadapter.TxResult{}, err
	}

	esc, ok := a.escrows[escrowID]
	if !ok {
		return chainadapter.TxResult{}, swaperrors.New(swaperrors.KindNotFound, "escrow_not_found", "no such escrow")
	}
	if esc.Withdrawn {
		return chainadapter.TxResult{}, swaperrors.New(swaperrors.KindAlreadyProcessed, "already_withdrawn", "escrow already withdrawn")
	}
	if esc.Refunded {
		return chainadapter.TxResult{}, swaperrors.New(swaperrors.KindAlreadyProcessed, "already_refunded", "escrow already refunded")
	}
	if !hashlock.Verify(secret, esc.Lock.Digest, esc.Lock.Algorithm) {
		return chainadapter.TxResult{}, swaperrors.New(swaperrors.KindInvalidSecret, "secret_mismatch", "secret does not match digest")
	}

	esc.Withdrawn = true
	s := secret
	esc.Secret = &s
	a.autoincrement++
	esc.WithdrawTx = "tx-" + strconv.Itoa(a.autoincrement)

	a.height++
	a.nextSeq++
	a.events = append(a.events, swaptypes.EscrowEvent{
		Kind:       swaptypes.EventWithdrawn,
		Ledger:     a.ledger,
		EscrowID:   escrowID,
		Digest:     esc.Lock.Digest,
		Algorithm:  esc.Lock.Algorithm,
		Secret:     &s,
		TxRef:      esc.WithdrawTx,
		BlockHeight: a.height,
		EventIndex: a.nextSeq,
		ObservedMs: swaptypes.NowMs(),
	})

	return chainadapter.TxResult{TxRef: esc.WithdrawTx}, nil
}

func (a *Adapter) Refund(ctx context.Context, escrowID swaptypes.EscrowID) (chainadapter.TxResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.takeFault(); err != nil {
		return chainadapter.TxResult{}, err
	}

	esc, ok := a.escrows[escrowID]
	if !ok {
		return chainadapter.TxResult{}, swaperrors.New(swaperrors.KindNotFound, "escrow_not_found", "no such escrow")
	}
	if esc.Refunded {
		return chainadapter.TxResult{}, swaperrors.New(swaperrors.KindAlreadyProcessed, "already_refunded", "escrow already refunded")
	}
	if esc.Withdrawn {
		return chainadapter.TxResult{}, swaperrors.New(swaperrors.KindAlreadyProcessed, "already_withdrawn", "escrow already withdrawn")
	}
	if swaptypes.NowMs() <= esc.Lock.DeadlineMs() {
		return chainadapter.TxResult{}, swaperrors.New(swaperrors.KindNotExpired, "not_expired", "refund attempted before deadline")
	}

	esc.Refunded = true
	a.autoincrement++
	esc.RefundTx = "tx-" + strconv.Itoa(a.autoincrement)

	a.height++
	a.nextSeq++
	a.events = append(a.events, swaptypes.EscrowEvent{
		Kind:        swaptypes.EventRefunded,
		Ledger:      a.ledger,
		EscrowID:    escrowID,
		Digest:      esc.Lock.Digest,
		Algorithm:   esc.Lock.Algorithm,
		TxRef:       esc.RefundTx,
		BlockHeight: a.height,
		EventIndex:  a.nextSeq,
		ObservedMs:  swaptypes.NowMs(),
	})

	return chainadapter.TxResult{TxRef: esc.RefundTx}, nil
}

func (a *Adapter) GetEscrow(ctx context.Context, escrowID swaptypes.EscrowID) (*swaptypes.Escrow, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	esc, ok := a.escrows[escrowID]
	if !ok {
		return nil, swaperrors.New(swaperrors.KindNotFound, "escrow_not_found", "no such escrow")
	}
	cp := *esc
	return &cp, nil
}

func (a *Adapter) FindEscrowsByDigest(ctx context.Context, digest swaptypes.Digest) ([]swaptypes.EscrowID, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	ids := append([]swaptypes.EscrowID(nil), a.byDigest[digest]...)
	return ids, nil
}

func (a *Adapter) SubscribeEscrowEvents(ctx context.Context, from swaptypes.EventCursor) (chainadapter.EventPage, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	safeHeight := uint64(0)
	if a.height > a.finalityDepth {
		safeHeight = a.height - a.finalityDepth
	}

	var page []swaptypes.EscrowEvent
	maxHeight := from.Height
	for _, ev := range a.events {
		if ev.BlockHeight < from.Height {
			continue
		}
		if ev.BlockHeight == from.Height && ev.EventIndex <= from.EventIndex {
			continue
		}
		if ev.BlockHeight > safeHeight {
			continue
		}
		page = append(page, ev)
		if ev.BlockHeight > maxHeight {
			maxHeight = ev.BlockHeight
		}
	}
	sort.Slice(page, func(i, j int) bool {
		if page[i].BlockHeight != page[j].BlockHeight {
			return page[i].BlockHeight < page[j].BlockHeight
		}
		return page[i].EventIndex < page[j].EventIndex
	})

	var nextIdx uint32
	if len(page) > 0 {
		nextIdx = page[len(page)-1].EventIndex
	} else {
		nextIdx = from.EventIndex
		maxHeight = from.Height
	}

	return chainadapter.EventPage{
		Events: page,
		NextCursor: swaptypes.EventCursor{
			Ledger:     a.ledger,
			Height:     maxHeight,
			EventIndex: nextIdx,
			UpdatedMs:  swaptypes.NowMs(),
		},
	}, nil
}

func (a *Adapter) SubmitAndWait(ctx context.Context, tx chainadapter.Tx) (chainadapter.Receipt, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return chainadapter.Receipt{TxRef: string(tx.EscrowID), Confirmations: a.finalityDepth, BlockHeight: a.height}, nil
}

func (a *Adapter) CheckStake(ctx context.Context, minStake uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	// Mock has no notion of "whose" stake beyond a default key; callers
	// that need per-address stakes populate Stakes directly in tests.
	total := a.Stakes["default"]
	if total < minStake {
		return swaperrors.New(swaperrors.KindRejected, "insufficient_stake", "mock stake below minimum")
	}
	return nil
}
