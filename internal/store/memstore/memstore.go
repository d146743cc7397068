// Package memstore is an in-memory store.Store, the Postgres
// implementation's in-process sibling used by component tests that
// need a real optimistic-concurrency contract without a database
// (mirrors the reasoning behind internal/chainadapter/mockchain).
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/DevJSter/eth-suiResolver/internal/store"
	"github.com/DevJSter/eth-suiResolver/internal/swaperrors"
	"github.com/DevJSter/eth-suiResolver/internal/swaptypes"
)

type Store struct {
	mu      sync.Mutex
	swaps   map[swaptypes.SwapID]*swaptypes.Swap
	byDigest map[swaptypes.Digest]swaptypes.SwapID
	events  map[string]swaptypes.EscrowEvent
	cursors map[swaptypes.Ledger]swaptypes.EventCursor
	reveals map[swaptypes.SwapID]*swaptypes.Reveal
}

func New() *Store {
	return &Store{
		swaps:    make(map[swaptypes.SwapID]*swaptypes.Swap),
		byDigest: make(map[swaptypes.Digest]swaptypes.SwapID),
		events:   make(map[string]swaptypes.EscrowEvent),
		cursors:  make(map[swaptypes.Ledger]swaptypes.EventCursor),
		reveals:  make(map[swaptypes.SwapID]*swaptypes.Reveal),
	}
}

func (s *Store) Close() error { return nil }

func (s *Store) CreateSwap(ctx context.Context, swap *swaptypes.Swap) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.swaps[swap.ID]; exists {
		return alreadyExists(swap.ID)
	}
	cp := *swap
	cp.Version = 1
	s.swaps[swap.ID] = &cp
	s.byDigest[swap.Digest] = swap.ID
	swap.Version = 1
	return nil
}

func (s *Store) GetSwap(ctx context.Context, id swaptypes.SwapID) (*swaptypes.Swap, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	swap, ok := s.swaps[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *swap
	return &cp, nil
}

func (s *Store) UpdateSwap(ctx context.Context, swap *swaptypes.Swap, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.swaps[swap.ID]
	if !ok {
		return store.ErrNotFound
	}
	if existing.Version != expectedVersion {
		return store.VersionConflict(swap.ID)
	}
	cp := *swap
	cp.Version = expectedVersion + 1
	s.swaps[swap.ID] = &cp
	swap.Version = cp.Version
	return nil
}

func (s *Store) AppendEventAndUpdateSwap(ctx context.Context, event swaptypes.EscrowEvent, swap *swaptypes.Swap, expectedVersion int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.events[event.Key()]; dup {
		return false, nil
	}

	existing, ok := s.swaps[swap.ID]
	if !ok {
		return false, store.ErrNotFound
	}
	if existing.Version != expectedVersion {
		return false, store.VersionConflict(swap.ID)
	}

	s.events[event.Key()] = event
	cp := *swap
	cp.Version = expectedVersion + 1
	s.swaps[swap.ID] = &cp
	swap.Version = cp.Version
	return true, nil
}

func (s *Store) ListSwaps(ctx context.Context, filter store.SwapFilter) ([]*swaptypes.Swap, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*swaptypes.Swap
	for _, swap := range s.swaps {
		if filter.Phase != "" && swap.Phase != filter.Phase {
			continue
		}
		if filter.DeadlineBefore != 0 && swap.ADeadlineMs >= filter.DeadlineBefore && swap.BDeadlineMs >= filter.DeadlineBefore {
			continue
		}
		if filter.Digest != nil && swap.Digest != *filter.Digest {
			continue
		}
		cp := *swap
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return earliestDeadline(out[i]) < earliestDeadline(out[j])
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func earliestDeadline(s *swaptypes.Swap) int64 {
	if s.ADeadlineMs < s.BDeadlineMs {
		return s.ADeadlineMs
	}
	return s.BDeadlineMs
}

func (s *Store) FindSwapByDigest(ctx context.Context, digest swaptypes.Digest) (*swaptypes.Swap, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byDigest[digest]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *s.swaps[id]
	return &cp, nil
}

func (s *Store) HasEvent(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.events[key]
	return ok, nil
}

func (s *Store) SaveCursor(ctx context.Context, cursor swaptypes.EventCursor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[cursor.Ledger] = cursor
	return nil
}

func (s *Store) LoadCursor(ctx context.Context, ledger swaptypes.Ledger) (swaptypes.EventCursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cursors[ledger]
	if !ok {
		return swaptypes.EventCursor{Ledger: ledger}, nil
	}
	return c, nil
}

func (s *Store) InsertReveal(ctx context.Context, reveal swaptypes.Reveal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.reveals[reveal.SwapID]; exists {
		return nil
	}
	cp := reveal
	s.reveals[reveal.SwapID] = &cp
	return nil
}

func (s *Store) GetReveal(ctx context.Context, swapID swaptypes.SwapID) (*swaptypes.Reveal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reveals[swapID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func alreadyExists(id swaptypes.SwapID) error {
	return swaperrors.New(swaperrors.KindAlreadyProcessed, "swap_exists", "swap already exists: "+string(id))
}
