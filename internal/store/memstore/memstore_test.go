package memstore

import (
	"context"
	"testing"

	"github.com/DevJSter/eth-suiResolver/internal/store"
	"github.com/DevJSter/eth-suiResolver/internal/swaperrors"
	"github.com/DevJSter/eth-suiResolver/internal/swaptypes"
)

func newSwap(id swaptypes.SwapID) *swaptypes.Swap {
	return &swaptypes.Swap{
		ID:    id,
		Phase: swaptypes.PhasePending,
	}
}

func TestCreateAndGetSwap(t *testing.T) {
	ctx := context.Background()
	s := New()

	swap := newSwap("swap-1")
	if err := s.CreateSwap(ctx, swap); err != nil {
		t.Fatalf("CreateSwap: %v", err)
	}
	if swap.Version != 1 {
		t.Fatalf("CreateSwap must stamp version 1, got %d", swap.Version)
	}

	got, err := s.GetSwap(ctx, "swap-1")
	if err != nil {
		t.Fatalf("GetSwap: %v", err)
	}
	if got.ID != swap.ID || got.Version != 1 {
		t.Fatalf("GetSwap returned %+v", got)
	}
}

func TestCreateSwapDuplicateRejected(t *testing.T) {
	ctx := context.Background()
	s := New()
	swap := newSwap("swap-1")
	if err := s.CreateSwap(ctx, swap); err != nil {
		t.Fatalf("CreateSwap: %v", err)
	}
	if err := s.CreateSwap(ctx, newSwap("swap-1")); err == nil {
		t.Fatal("expected an error creating a duplicate swap id")
	}
}

func TestGetSwapNotFound(t *testing.T) {
	ctx := context.Background()
	s := New()
	if _, err := s.GetSwap(ctx, "does-not-exist"); err != store.ErrNotFound {
		t.Fatalf("GetSwap error = %v, want store.ErrNotFound", err)
	}
}

func TestUpdateSwapVersionConflict(t *testing.T) {
	ctx := context.Background()
	s := New()
	swap := newSwap("swap-1")
	if err := s.CreateSwap(ctx, swap); err != nil {
		t.Fatalf("CreateSwap: %v", err)
	}

	swap.Phase = swaptypes.PhaseOneSideLocked
	if err := s.UpdateSwap(ctx, swap, 1); err != nil {
		t.Fatalf("UpdateSwap: %v", err)
	}
	if swap.Version != 2 {
		t.Fatalf("version should advance to 2, got %d", swap.Version)
	}

	stale := newSwap("swap-1")
	stale.Phase = swaptypes.PhaseBothLocked
	err := s.UpdateSwap(ctx, stale, 1)
	if !swaperrors.Is(err, swaperrors.KindVersionConflict) {
		t.Fatalf("expected a version-conflict error for a stale expected version, got %v", err)
	}
}

func TestAppendEventAndUpdateSwapDedup(t *testing.T) {
	ctx := context.Background()
	s := New()
	swap := newSwap("swap-1")
	if err := s.CreateSwap(ctx, swap); err != nil {
		t.Fatalf("CreateSwap: %v", err)
	}

	event := swaptypes.EscrowEvent{Ledger: swaptypes.LedgerA, TxRef: "tx-1", EventIndex: 0}
	swap.Phase = swaptypes.PhaseOneSideLocked
	applied, err := s.AppendEventAndUpdateSwap(ctx, event, swap, 1)
	if err != nil || !applied {
		t.Fatalf("first append: applied=%v err=%v", applied, err)
	}
	if swap.Version != 2 {
		t.Fatalf("version should advance to 2, got %d", swap.Version)
	}

	dup := newSwap("swap-1")
	dup.Version = 2
	applied, err = s.AppendEventAndUpdateSwap(ctx, event, dup, 2)
	if err != nil {
		t.Fatalf("duplicate append returned an error: %v", err)
	}
	if applied {
		t.Fatal("duplicate event key must not be applied twice")
	}
}

func TestListSwapsFilterAndOrder(t *testing.T) {
	ctx := context.Background()
	s := New()

	a := newSwap("swap-a")
	a.Phase = swaptypes.PhaseBothLocked
	a.ADeadlineMs, a.BDeadlineMs = 200, 300
	b := newSwap("swap-b")
	b.Phase = swaptypes.PhaseBothLocked
	b.ADeadlineMs, b.BDeadlineMs = 50, 500
	c := newSwap("swap-c")
	c.Phase = swaptypes.PhaseCompleted

	for _, sw := range []*swaptypes.Swap{a, b, c} {
		if err := s.CreateSwap(ctx, sw); err != nil {
			t.Fatalf("CreateSwap(%s): %v", sw.ID, err)
		}
	}

	out, err := s.ListSwaps(ctx, store.SwapFilter{Phase: swaptypes.PhaseBothLocked})
	if err != nil {
		t.Fatalf("ListSwaps: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 both-locked swaps, got %d", len(out))
	}
	if out[0].ID != "swap-b" {
		t.Fatalf("expected swap-b (earlier deadline) first, got %s", out[0].ID)
	}
}

func TestFindSwapByDigest(t *testing.T) {
	ctx := context.Background()
	s := New()
	var digest swaptypes.Digest
	digest[0] = 0xAB

	swap := newSwap("swap-1")
	swap.Digest = digest
	if err := s.CreateSwap(ctx, swap); err != nil {
		t.Fatalf("CreateSwap: %v", err)
	}

	got, err := s.FindSwapByDigest(ctx, digest)
	if err != nil {
		t.Fatalf("FindSwapByDigest: %v", err)
	}
	if got.ID != "swap-1" {
		t.Fatalf("FindSwapByDigest returned %s, want swap-1", got.ID)
	}

	var other swaptypes.Digest
	other[0] = 0xFF
	if _, err := s.FindSwapByDigest(ctx, other); err != store.ErrNotFound {
		t.Fatalf("FindSwapByDigest error = %v, want ErrNotFound", err)
	}
}

func TestInsertRevealIdempotentOnFirstWrite(t *testing.T) {
	ctx := context.Background()
	s := New()

	var secret swaptypes.Secret
	secret[0] = 1
	first := swaptypes.Reveal{SwapID: "swap-1", SourceLedger: swaptypes.LedgerA, Secret: secret, ObservedMs: 100}
	if err := s.InsertReveal(ctx, first); err != nil {
		t.Fatalf("InsertReveal: %v", err)
	}

	var other swaptypes.Secret
	other[0] = 2
	second := swaptypes.Reveal{SwapID: "swap-1", SourceLedger: swaptypes.LedgerB, Secret: other, ObservedMs: 200}
	if err := s.InsertReveal(ctx, second); err != nil {
		t.Fatalf("InsertReveal (second): %v", err)
	}

	got, err := s.GetReveal(ctx, "swap-1")
	if err != nil {
		t.Fatalf("GetReveal: %v", err)
	}
	if got.Secret != secret || got.SourceLedger != swaptypes.LedgerA {
		t.Fatalf("the first recorded reveal must win, got %+v", got)
	}
}

func TestGetRevealNotFound(t *testing.T) {
	ctx := context.Background()
	s := New()
	if _, err := s.GetReveal(ctx, "does-not-exist"); err != store.ErrNotFound {
		t.Fatalf("GetReveal error = %v, want store.ErrNotFound", err)
	}
}

func TestCursorRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := New()

	zero, err := s.LoadCursor(ctx, swaptypes.LedgerA)
	if err != nil {
		t.Fatalf("LoadCursor: %v", err)
	}
	if zero.Height != 0 {
		t.Fatalf("expected zero-valued cursor, got %+v", zero)
	}

	cursor := swaptypes.EventCursor{Ledger: swaptypes.LedgerA, Height: 100, EventIndex: 3}
	if err := s.SaveCursor(ctx, cursor); err != nil {
		t.Fatalf("SaveCursor: %v", err)
	}
	got, err := s.LoadCursor(ctx, swaptypes.LedgerA)
	if err != nil {
		t.Fatalf("LoadCursor: %v", err)
	}
	if got != cursor {
		t.Fatalf("LoadCursor = %+v, want %+v", got, cursor)
	}
}
