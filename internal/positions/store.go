// Package positions keeps the authoritative set of open positions.
package positions

import (
	"context"
	"sort"
	"sync"

	apperrors "zerodha-strategy/internal/errors"
	"zerodha-strategy/internal/models"
)

// Persister is durable storage for the open position set. Load on an
// absent store returns an empty slice; a store that cannot be parsed
// returns an error wrapping ErrCorruptStore.
type Persister interface {
	LoadPositions(ctx context.Context) ([]models.Position, error)
	SavePositions(ctx context.Context, positions []models.Position) error
}

// InstrumentLookup resolves catalog rows by instrument token.
type InstrumentLookup interface {
	Lookup(token uint32) (models.Instrument, bool)
}

// Store is the in-memory position map, rewritten to the persister on every
// add and remove.
type Store struct {
	persister Persister
	positions map[uint32]models.Position
	mu        sync.RWMutex
}

// NewStore creates an empty store backed by persister.
func NewStore(persister Persister) *Store {
	return &Store{
		persister: persister,
		positions: make(map[uint32]models.Position),
	}
}

// Load replaces the in-memory set with the persisted one, filling missing
// fields from the catalog. Any error is fatal for startup.
func (s *Store) Load(ctx context.Context, catalog InstrumentLookup) error {
	loaded, err := s.persister.LoadPositions(ctx)
	if err != nil {
		return err
	}

	next := make(map[uint32]models.Position, len(loaded))
	for _, p := range loaded {
		if catalog != nil {
			p = Reconcile(p, catalog)
		}
		if err := validate(p); err != nil {
			return apperrors.NewDataError("positions", p.Symbol, "invalid persisted position: "+err.Error(), apperrors.ErrCorruptStore)
		}
		if _, dup := next[p.Token]; dup {
			return apperrors.NewDataError("positions", p.Symbol, "duplicate persisted position", apperrors.ErrCorruptStore)
		}
		next[p.Token] = p
	}

	s.mu.Lock()
	s.positions = next
	s.mu.Unlock()
	return nil
}

// Reconcile fills empty position fields from the catalog row for its token.
func Reconcile(p models.Position, catalog InstrumentLookup) models.Position {
	inst, ok := catalog.Lookup(p.Token)
	if !ok {
		return p
	}
	if p.Symbol == "" {
		p.Symbol = inst.Symbol
	}
	if p.Exchange == "" {
		p.Exchange = inst.Exchange
	}
	if p.Segment == "" {
		p.Segment = inst.Segment
	}
	if p.OptionType == models.OptionNone {
		p.OptionType = inst.OptionType()
	}
	if p.Expiry == nil && !inst.Expiry.IsZero() {
		exp := inst.Expiry
		p.Expiry = &exp
	}
	return p
}

func validate(p models.Position) error {
	if p.Quantity <= 0 {
		return apperrors.NewValidationError("quantity", p.Quantity, "must be positive", apperrors.ErrInvalidQuantity)
	}
	if p.EntryPrice <= 0 {
		return apperrors.NewValidationError("entry_price", p.EntryPrice, "must be positive", apperrors.ErrInvalidPrice)
	}
	return nil
}

// Add opens a position. A second position for the same instrument is
// rejected with ErrPositionExists and nothing is persisted. A persistence
// failure is returned but the position stays open in memory.
func (s *Store) Add(ctx context.Context, p models.Position) error {
	if err := validate(p); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.positions[p.Token]; ok {
		return apperrors.Wrapf(apperrors.ErrPositionExists, "token %d", p.Token)
	}
	s.positions[p.Token] = p
	if err := s.persister.SavePositions(ctx, s.sortedLocked()); err != nil {
		return apperrors.Wrap(err, "persist positions")
	}
	return nil
}

// Remove closes the position on token and returns it.
func (s *Store) Remove(ctx context.Context, token uint32) (models.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[token]
	if !ok {
		return models.Position{}, apperrors.Wrapf(apperrors.ErrPositionNotFound, "token %d", token)
	}
	delete(s.positions, token)
	if err := s.persister.SavePositions(ctx, s.sortedLocked()); err != nil {
		return p, apperrors.Wrap(err, "persist positions")
	}
	return p, nil
}

// Get returns the position on token.
func (s *Store) Get(token uint32) (models.Position, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.positions[token]
	return p, ok
}

// Has reports whether token has an open position.
func (s *Store) Has(token uint32) bool {
	_, ok := s.Get(token)
	return ok
}

// Len returns the number of open positions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.positions)
}

// All returns open positions ordered by token.
func (s *Store) All() []models.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedLocked()
}

func (s *Store) sortedLocked() []models.Position {
	out := make([]models.Position, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Token < out[j].Token })
	return out
}
