package correlator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/DevJSter/eth-suiResolver/internal/hashlock"
	"github.com/DevJSter/eth-suiResolver/internal/incident"
	"github.com/DevJSter/eth-suiResolver/internal/obslog"
	"github.com/DevJSter/eth-suiResolver/internal/store/memstore"
	"github.com/DevJSter/eth-suiResolver/internal/swaptypes"
)

type fakeSink struct {
	mu        sync.Mutex
	incidents []incident.Incident
}

func (f *fakeSink) OpenIncident(ctx context.Context, inc incident.Incident) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.incidents = append(f.incidents, inc)
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.incidents)
}

func testLogger() *obslog.Logger {
	return obslog.New("test", "v0", false)
}

func createdEvent(ledger swaptypes.Ledger, digest swaptypes.Digest, escrowID swaptypes.EscrowID, algo swaptypes.Algorithm, lockDurationMs int64) swaptypes.EscrowEvent {
	return swaptypes.EscrowEvent{
		Kind:           swaptypes.EventCreated,
		Ledger:         ledger,
		EscrowID:       escrowID,
		Digest:         digest,
		Algorithm:      algo,
		Beneficiary:    "bob",
		Amount:         100,
		TokenRef:       "token",
		LockStartMs:    0,
		LockDurationMs: lockDurationMs,
		TxRef:          "tx-" + string(escrowID),
		EventIndex:     1,
		ObservedMs:     0,
	}
}

func TestHandleCreatedFirstSideOneSideLocked(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	sink := &fakeSink{}
	c := New(st, sink, 5*time.Minute, testLogger())

	var digest swaptypes.Digest
	digest[0] = 1
	event := createdEvent(swaptypes.LedgerA, digest, "escrow-a", swaptypes.AlgoKeccak256, int64(30*time.Minute/time.Millisecond))

	swap, isNew, err := c.HandleEvent(ctx, event)
	if err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if !isNew {
		t.Fatal("first event for a digest must be reported as new")
	}
	if swap.Phase != swaptypes.PhaseOneSideLocked {
		t.Fatalf("phase = %s, want one_side_locked", swap.Phase)
	}
	if swap.ASide == nil || swap.BSide != nil {
		t.Fatalf("expected only the A side populated, got ASide=%v BSide=%v", swap.ASide, swap.BSide)
	}
}

func TestHandleCreatedBothSidesBothLocked(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	sink := &fakeSink{}
	c := New(st, sink, 5*time.Minute, testLogger())

	var digest swaptypes.Digest
	digest[0] = 2
	aEvent := createdEvent(swaptypes.LedgerA, digest, "escrow-a", swaptypes.AlgoKeccak256, int64(60*time.Minute/time.Millisecond))
	bEvent := createdEvent(swaptypes.LedgerB, digest, "escrow-b", swaptypes.AlgoKeccak256, int64(30*time.Minute/time.Millisecond))
	bEvent.EventIndex = 2

	if _, _, err := c.HandleEvent(ctx, aEvent); err != nil {
		t.Fatalf("HandleEvent(a): %v", err)
	}
	swap, isNew, err := c.HandleEvent(ctx, bEvent)
	if err != nil {
		t.Fatalf("HandleEvent(b): %v", err)
	}
	if isNew {
		t.Fatal("pairing onto an existing swap must not be reported as new")
	}
	if swap.Phase != swaptypes.PhaseBothLocked {
		t.Fatalf("phase = %s, want both_locked", swap.Phase)
	}
	if sink.count() != 0 {
		t.Fatalf("expected no incidents, got %d", sink.count())
	}
}

func TestHandleCreatedAlgorithmMismatchRaisesIncident(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	sink := &fakeSink{}
	c := New(st, sink, 5*time.Minute, testLogger())

	var digest swaptypes.Digest
	digest[0] = 3
	aEvent := createdEvent(swaptypes.LedgerA, digest, "escrow-a", swaptypes.AlgoKeccak256, int64(60*time.Minute/time.Millisecond))
	bEvent := createdEvent(swaptypes.LedgerB, digest, "escrow-b", swaptypes.AlgoSHA256, int64(30*time.Minute/time.Millisecond))
	bEvent.EventIndex = 2

	if _, _, err := c.HandleEvent(ctx, aEvent); err != nil {
		t.Fatalf("HandleEvent(a): %v", err)
	}
	swap, _, err := c.HandleEvent(ctx, bEvent)
	if err != nil {
		t.Fatalf("HandleEvent(b): %v", err)
	}
	if swap.Phase != swaptypes.PhaseFailed {
		t.Fatalf("phase = %s, want failed after an algorithm mismatch", swap.Phase)
	}
	if sink.count() != 1 {
		t.Fatalf("expected exactly one incident, got %d", sink.count())
	}
}

func TestHandleCreatedThirdEscrowSameDigestAmbiguous(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	sink := &fakeSink{}
	c := New(st, sink, 5*time.Minute, testLogger())

	var digest swaptypes.Digest
	digest[0] = 4
	first := createdEvent(swaptypes.LedgerA, digest, "escrow-a1", swaptypes.AlgoKeccak256, int64(60*time.Minute/time.Millisecond))
	second := createdEvent(swaptypes.LedgerA, digest, "escrow-a2", swaptypes.AlgoKeccak256, int64(60*time.Minute/time.Millisecond))
	second.EventIndex = 2

	if _, _, err := c.HandleEvent(ctx, first); err != nil {
		t.Fatalf("HandleEvent(first): %v", err)
	}
	swap, _, err := c.HandleEvent(ctx, second)
	if err != nil {
		t.Fatalf("HandleEvent(second): %v", err)
	}
	if swap.Phase != swaptypes.PhaseFailed {
		t.Fatalf("phase = %s, want failed for a third escrow on the same digest+ledger", swap.Phase)
	}
	if sink.count() != 1 {
		t.Fatalf("expected exactly one ambiguous-pairing incident, got %d", sink.count())
	}
}

func TestHandleCreatedSafetyMarginViolationFails(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	sink := &fakeSink{}
	c := New(st, sink, 10*time.Minute, testLogger())

	var digest swaptypes.Digest
	digest[0] = 5
	aEvent := createdEvent(swaptypes.LedgerA, digest, "escrow-a", swaptypes.AlgoKeccak256, int64(30*time.Minute/time.Millisecond))
	bEvent := createdEvent(swaptypes.LedgerB, digest, "escrow-b", swaptypes.AlgoKeccak256, int64(29*time.Minute/time.Millisecond))
	bEvent.EventIndex = 2

	if _, _, err := c.HandleEvent(ctx, aEvent); err != nil {
		t.Fatalf("HandleEvent(a): %v", err)
	}
	swap, _, err := c.HandleEvent(ctx, bEvent)
	if err != nil {
		t.Fatalf("HandleEvent(b): %v", err)
	}
	if swap.Phase != swaptypes.PhaseFailed {
		t.Fatalf("phase = %s, want failed when deadlines are within the safety margin", swap.Phase)
	}
}

func TestHandleWithdrawnValidSecretRevealsSwap(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	sink := &fakeSink{}
	c := New(st, sink, 5*time.Minute, testLogger())

	var digest swaptypes.Digest
	digest[0] = 6
	aEvent := createdEvent(swaptypes.LedgerA, digest, "escrow-a", swaptypes.AlgoSHA256, int64(60*time.Minute/time.Millisecond))
	if _, _, err := c.HandleEvent(ctx, aEvent); err != nil {
		t.Fatalf("HandleEvent(created): %v", err)
	}

	var secret swaptypes.Secret
	withdrawn := swaptypes.EscrowEvent{
		Kind:       swaptypes.EventWithdrawn,
		Ledger:     swaptypes.LedgerA,
		EscrowID:   "escrow-a",
		Digest:     digest,
		Algorithm:  swaptypes.AlgoSHA256,
		Secret:     &secret,
		TxRef:      "tx-withdraw",
		EventIndex: 2,
	}
	swap, _, err := c.HandleEvent(ctx, withdrawn)
	if err != nil {
		t.Fatalf("HandleEvent(withdrawn): %v", err)
	}
	if swap == nil {
		t.Fatal("expected a swap for a known digest")
	}
}

func TestHandleWithdrawnPersistsRevealForEngine(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	sink := &fakeSink{}
	c := New(st, sink, 5*time.Minute, testLogger())

	secret, err := hashlock.RandomSecret()
	if err != nil {
		t.Fatalf("RandomSecret: %v", err)
	}
	digest, err := hashlock.Digest(secret, swaptypes.AlgoKeccak256)
	if err != nil {
		t.Fatalf("Digest: %v", err)
	}

	aEvent := createdEvent(swaptypes.LedgerA, digest, "escrow-a", swaptypes.AlgoKeccak256, int64(60*time.Minute/time.Millisecond))
	if _, _, err := c.HandleEvent(ctx, aEvent); err != nil {
		t.Fatalf("HandleEvent(created): %v", err)
	}

	withdrawn := swaptypes.EscrowEvent{
		Kind:      swaptypes.EventWithdrawn,
		Ledger:    swaptypes.LedgerA,
		EscrowID:  "escrow-a",
		Digest:    digest,
		Algorithm: swaptypes.AlgoKeccak256,
		Secret:    &secret,
		TxRef:     "tx-withdraw",
	}
	swap, _, err := c.HandleEvent(ctx, withdrawn)
	if err != nil {
		t.Fatalf("HandleEvent(withdrawn): %v", err)
	}
	if swap.Phase != swaptypes.PhaseRevealed {
		t.Fatalf("phase = %s, want revealed", swap.Phase)
	}

	reveal, err := st.GetReveal(ctx, swap.ID)
	if err != nil {
		t.Fatalf("GetReveal: %v", err)
	}
	if reveal.Secret != secret {
		t.Fatalf("persisted reveal secret does not match the observed withdrawal")
	}
}

func TestHandleCreatedAssignsInitiatorToLaterDeadline(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	sink := &fakeSink{}
	c := New(st, sink, 5*time.Minute, testLogger())

	var digest swaptypes.Digest
	digest[0] = 42
	aEvent := createdEvent(swaptypes.LedgerA, digest, "escrow-a", swaptypes.AlgoKeccak256, int64(90*time.Minute/time.Millisecond))
	bEvent := createdEvent(swaptypes.LedgerB, digest, "escrow-b", swaptypes.AlgoKeccak256, int64(30*time.Minute/time.Millisecond))
	bEvent.EventIndex = 2

	if _, _, err := c.HandleEvent(ctx, aEvent); err != nil {
		t.Fatalf("HandleEvent(a): %v", err)
	}
	swap, _, err := c.HandleEvent(ctx, bEvent)
	if err != nil {
		t.Fatalf("HandleEvent(b): %v", err)
	}
	if swap.ASide.Role != swaptypes.RoleInitiator {
		t.Fatalf("A side has the later deadline and should be the initiator, got role %s", swap.ASide.Role)
	}
	if swap.BSide.Role != swaptypes.RoleCounterparty {
		t.Fatalf("B side should be the counterparty, got role %s", swap.BSide.Role)
	}
}

func TestHandleWithdrawnUnknownDigestIsIgnored(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	sink := &fakeSink{}
	c := New(st, sink, 5*time.Minute, testLogger())

	var digest swaptypes.Digest
	digest[0] = 0xAA
	var secret swaptypes.Secret
	withdrawn := swaptypes.EscrowEvent{
		Kind:     swaptypes.EventWithdrawn,
		Ledger:   swaptypes.LedgerA,
		EscrowID: "escrow-x",
		Digest:   digest,
		Secret:   &secret,
		TxRef:    "tx-1",
	}
	swap, applied, err := c.HandleEvent(ctx, withdrawn)
	if err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if swap != nil || applied {
		t.Fatalf("expected no swap/no-op for an unknown digest, got swap=%v applied=%v", swap, applied)
	}
}
