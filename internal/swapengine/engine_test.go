package swapengine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/DevJSter/eth-suiResolver/internal/chainadapter"
	"github.com/DevJSter/eth-suiResolver/internal/chainadapter/mockchain"
	"github.com/DevJSter/eth-suiResolver/internal/hashlock"
	"github.com/DevJSter/eth-suiResolver/internal/incident"
	"github.com/DevJSter/eth-suiResolver/internal/obslog"
	"github.com/DevJSter/eth-suiResolver/internal/store/memstore"
	"github.com/DevJSter/eth-suiResolver/internal/swaptypes"

	"github.com/stretchr/testify/require"
)

type fakeRearmer struct {
	mu        sync.Mutex
	scheduled []swaptypes.SwapID
}

func (f *fakeRearmer) Schedule(swapID swaptypes.SwapID, atMs int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scheduled = append(f.scheduled, swapID)
}

type fakeSink struct {
	mu        sync.Mutex
	incidents []incident.Incident
}

func (f *fakeSink) OpenIncident(ctx context.Context, inc incident.Incident) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.incidents = append(f.incidents, inc)
}

func testEngine(t *testing.T, st *memstore.Store, adapters map[swaptypes.Ledger]chainadapter.Adapter) (*Engine, *fakeRearmer, *fakeSink) {
	t.Helper()
	rearmer := &fakeRearmer{}
	sink := &fakeSink{}
	cfg := Config{MaxAttempts: 3, BaseBackoffMs: 10, MaxBackoffMs: 1000, MinTimeout: time.Minute}
	engine := New(cfg, adapters, st, sink, rearmer, obslog.New("test", "v0", false))
	return engine, rearmer, sink
}

func twoAdapters() (map[swaptypes.Ledger]chainadapter.Adapter, *mockchain.Adapter, *mockchain.Adapter) {
	a := mockchain.New(swaptypes.LedgerA, 0)
	b := mockchain.New(swaptypes.LedgerB, 0)
	return map[swaptypes.Ledger]chainadapter.Adapter{
		swaptypes.LedgerA: a,
		swaptypes.LedgerB: b,
	}, a, b
}

func TestEvaluateSingleSideArmsDeadline(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	adapters, _, _ := twoAdapters()
	engine, rearmer, _ := testEngine(t, st, adapters)

	swap := &swaptypes.Swap{
		ID:    "swap-1",
		Phase: swaptypes.PhaseOneSideLocked,
		ASide: &swaptypes.Side{Escrow: &swaptypes.Escrow{
			Asset: swaptypes.Asset{Amount: 100},
			Lock:  swaptypes.Lock{DurationMs: int64(2 * time.Hour / time.Millisecond)},
		}},
		ADeadlineMs: swaptypes.NowMs() + int64(2*time.Hour/time.Millisecond),
	}
	if err := st.CreateSwap(ctx, swap); err != nil {
		t.Fatalf("CreateSwap: %v", err)
	}

	if err := engine.Evaluate(ctx, swap.ID, "event"); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	rearmer.mu.Lock()
	defer rearmer.mu.Unlock()
	if len(rearmer.scheduled) != 1 {
		t.Fatalf("expected the deadline to be armed once, got %d", len(rearmer.scheduled))
	}
}

func TestEvaluateSingleSideZeroAmountFails(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	adapters, _, _ := twoAdapters()
	engine, _, sink := testEngine(t, st, adapters)

	swap := &swaptypes.Swap{
		ID:    "swap-1",
		Phase: swaptypes.PhaseOneSideLocked,
		ASide: &swaptypes.Side{Escrow: &swaptypes.Escrow{
			Asset: swaptypes.Asset{Amount: 0},
			Lock:  swaptypes.Lock{DurationMs: int64(2 * time.Hour / time.Millisecond)},
		}},
	}
	if err := st.CreateSwap(ctx, swap); err != nil {
		t.Fatalf("CreateSwap: %v", err)
	}

	if err := engine.Evaluate(ctx, swap.ID, "event"); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	got, err := st.GetSwap(ctx, swap.ID)
	if err != nil {
		t.Fatalf("GetSwap: %v", err)
	}
	if got.Phase != swaptypes.PhaseFailed {
		t.Fatalf("phase = %s, want failed", got.Phase)
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.incidents) != 1 {
		t.Fatalf("expected one incident opened, got %d", len(sink.incidents))
	}
}

func TestEvaluateBothLockedExpiresAfterDeadline(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	adapters, a, b := twoAdapters()
	engine, _, _ := testEngine(t, st, adapters)

	var digest swaptypes.Digest
	digest[0] = 9
	resA, err := a.CreateEscrow(ctx, chainadapter.CreateParams{
		Beneficiary: "bob", TokenRef: "tok", Amount: 10, Digest: digest,
		Algorithm: swaptypes.AlgoKeccak256, LockDurationMs: -1,
	})
	if err != nil {
		t.Fatalf("CreateEscrow(a): %v", err)
	}
	resB, err := b.CreateEscrow(ctx, chainadapter.CreateParams{
		Beneficiary: "alice", TokenRef: "tok", Amount: 10, Digest: digest,
		Algorithm: swaptypes.AlgoKeccak256, LockDurationMs: -1,
	})
	if err != nil {
		t.Fatalf("CreateEscrow(b): %v", err)
	}

	escA, _ := a.GetEscrow(ctx, resA.EscrowID)
	escB, _ := b.GetEscrow(ctx, resB.EscrowID)

	swap := &swaptypes.Swap{
		ID:          "swap-expiring",
		Phase:       swaptypes.PhaseBothLocked,
		ASide:       &swaptypes.Side{Escrow: escA},
		BSide:       &swaptypes.Side{Escrow: escB},
		ADeadlineMs: escA.Lock.DeadlineMs(),
		BDeadlineMs: escB.Lock.DeadlineMs(),
	}
	if err := st.CreateSwap(ctx, swap); err != nil {
		t.Fatalf("CreateSwap: %v", err)
	}

	if err := engine.Evaluate(ctx, swap.ID, "deadline"); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	got, err := st.GetSwap(ctx, swap.ID)
	if err != nil {
		t.Fatalf("GetSwap: %v", err)
	}
	if got.Phase != swaptypes.PhaseExpired {
		t.Fatalf("phase = %s, want expired", got.Phase)
	}

	refundedA, _ := a.GetEscrow(ctx, resA.EscrowID)
	refundedB, _ := b.GetEscrow(ctx, resB.EscrowID)
	if !refundedA.Refunded || !refundedB.Refunded {
		t.Fatal("expected both escrows refunded on expiry")
	}
}

func TestEvaluateRevealedPropagatesWithdraw(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	adapters, a, b := twoAdapters()
	engine, _, _ := testEngine(t, st, adapters)

	secret, err := hashlock.RandomSecret()
	if err != nil {
		t.Fatalf("RandomSecret: %v", err)
	}
	digest, err := hashlock.Digest(secret, swaptypes.AlgoKeccak256)
	if err != nil {
		t.Fatalf("Digest: %v", err)
	}

	resA, err := a.CreateEscrow(ctx, chainadapter.CreateParams{
		Beneficiary: "bob", TokenRef: "tok", Amount: 10, Digest: digest,
		Algorithm: swaptypes.AlgoKeccak256, LockDurationMs: int64(time.Hour / time.Millisecond),
	})
	if err != nil {
		t.Fatalf("CreateEscrow(a): %v", err)
	}
	resB, err := b.CreateEscrow(ctx, chainadapter.CreateParams{
		Beneficiary: "alice", TokenRef: "tok", Amount: 10, Digest: digest,
		Algorithm: swaptypes.AlgoKeccak256, LockDurationMs: int64(time.Hour / time.Millisecond),
	})
	if err != nil {
		t.Fatalf("CreateEscrow(b): %v", err)
	}

	if _, err := a.Withdraw(ctx, resA.EscrowID, secret); err != nil {
		t.Fatalf("Withdraw(a): %v", err)
	}

	escA, _ := a.GetEscrow(ctx, resA.EscrowID)
	escB, _ := b.GetEscrow(ctx, resB.EscrowID)

	swap := &swaptypes.Swap{
		ID:        "swap-revealed",
		Phase:     swaptypes.PhaseRevealed,
		Digest:    digest,
		Algorithm: swaptypes.AlgoKeccak256,
		ASide:     &swaptypes.Side{Escrow: escA},
		BSide:     &swaptypes.Side{Escrow: escB},
	}
	if err := st.CreateSwap(ctx, swap); err != nil {
		t.Fatalf("CreateSwap: %v", err)
	}
	if err := st.InsertReveal(ctx, swaptypes.Reveal{
		SwapID: swap.ID, Digest: digest, Secret: secret, SourceLedger: swaptypes.LedgerA,
	}); err != nil {
		t.Fatalf("InsertReveal: %v", err)
	}

	if err := engine.Evaluate(ctx, swap.ID, "event"); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	withdrawnB, err := b.GetEscrow(ctx, resB.EscrowID)
	require.NoError(t, err)
	require.True(t, withdrawnB.Withdrawn, "expected the complementary B-side escrow to be withdrawn")
}

func TestEvaluateTerminalPhaseIsNoop(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	adapters, _, _ := twoAdapters()
	engine, rearmer, _ := testEngine(t, st, adapters)

	swap := &swaptypes.Swap{ID: "swap-done", Phase: swaptypes.PhaseCompleted}
	if err := st.CreateSwap(ctx, swap); err != nil {
		t.Fatalf("CreateSwap: %v", err)
	}

	if err := engine.Evaluate(ctx, swap.ID, "event"); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	rearmer.mu.Lock()
	defer rearmer.mu.Unlock()
	if len(rearmer.scheduled) != 0 {
		t.Fatal("a terminal swap must not re-arm a timer")
	}
}

func TestBackoffGrowsWithAttemptsAndCaps(t *testing.T) {
	engine, _, _ := testEngine(t, memstore.New(), map[swaptypes.Ledger]chainadapter.Adapter{})

	first := engine.backoff(0)
	later := engine.backoff(10)
	if later < first {
		t.Fatalf("expected backoff to grow with attempts: first=%d later=%d", first, later)
	}
	if later > int64(float64(engine.cfg.MaxBackoffMs)*1.26) {
		t.Fatalf("backoff exceeded the configured cap: %d > %d", later, engine.cfg.MaxBackoffMs)
	}
}
