// Package ledger owns the housing-fee records: bootstrapping them from the
// seed catalog or a persisted snapshot, applying payments, resetting the
// billing cycle, and the read-only queries and exports over them.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"housefees/internal/core"
	applog "housefees/internal/log"
	"housefees/internal/seed"
)

// Persister stores the serialized snapshot durably.
type Persister interface {
	// Load returns the last saved snapshot, or core.ErrNoSnapshot.
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, data []byte) error
}

// Quarantiner is implemented by persisters that can set aside a snapshot
// that failed to decode, so seeding does not overwrite it.
type Quarantiner interface {
	Quarantine(ctx context.Context) error
}

// Bootstrap sources.
const (
	SourceSnapshot = "snapshot"
	SourceSeed     = "seed"
	SourceEmpty    = "empty"
)

// BootstrapResult describes where the initial records came from.
type BootstrapResult struct {
	Source     string
	Units      int
	Duplicates int
	// Invalid counts seed rows skipped because they fail core.Unit.Validate.
	Invalid int
}

// Store is the single in-memory ledger. Every mutation and its persist run
// under one write lock; queries take the read lock and return copies.
type Store struct {
	mu        sync.RWMutex
	units     map[core.Identity]core.Unit
	persister Persister
	logger    *slog.Logger
	version   uint64
	now       func() time.Time
}

// NewStore creates an empty store backed by p. Call Bootstrap before use.
func NewStore(p Persister, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		units:     make(map[core.Identity]core.Unit),
		persister: p,
		logger:    logger.With(applog.FieldComponent, applog.ComponentLedger),
		now:       time.Now,
	}
}

// Bootstrap loads the persisted snapshot, or merges the catalog into fresh
// records and persists them when no usable snapshot exists.
//
// A load error other than core.ErrNoSnapshot is returned as is, so a
// transient read failure never replaces real data with seed data. A
// persistence failure after seeding is returned wrapped in core.ErrPersistence
// with the store already populated.
func (s *Store) Bootstrap(ctx context.Context, catalog *seed.Catalog) (BootstrapResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.persister.Load(ctx)
	switch {
	case err == nil:
		units, derr := DecodeSnapshot(data)
		if derr == nil {
			s.units = units
			s.version++
			s.logger.InfoContext(ctx, "Ledger loaded from snapshot", "units", len(units))
			return BootstrapResult{Source: SourceSnapshot, Units: len(units)}, nil
		}
		s.logger.WarnContext(ctx, "Persisted snapshot is unusable, rebuilding from seed catalog", "error", derr)
		if q, ok := s.persister.(Quarantiner); ok {
			if qerr := q.Quarantine(ctx); qerr != nil {
				return BootstrapResult{}, fmt.Errorf("quarantine unusable snapshot: %w", qerr)
			}
		}
	case errors.Is(err, core.ErrNoSnapshot):
		s.logger.InfoContext(ctx, "No persisted snapshot, merging seed catalog")
	default:
		return BootstrapResult{}, fmt.Errorf("load snapshot: %w", err)
	}

	units, dups, invalid := s.mergeCatalog(ctx, catalog)
	s.units = units
	s.version++
	res := BootstrapResult{Source: SourceSeed, Units: len(units), Duplicates: dups, Invalid: invalid}
	if len(units) == 0 {
		s.logger.WarnContext(ctx, "Seed catalog is empty, starting with an empty ledger")
		res.Source = SourceEmpty
		return res, nil
	}
	s.logger.InfoContext(ctx, "Merged seed catalog", "units", len(units), "duplicates", dups, "invalid", invalid)
	if _, err := s.persistLocked(ctx); err != nil {
		return res, err
	}
	return res, nil
}

// mergeCatalog keys every row by identity; a later row with the same
// identity replaces the earlier one. Rows a snapshot could not hold are
// skipped so the persisted ledger always decodes on the next start.
func (s *Store) mergeCatalog(ctx context.Context, catalog *seed.Catalog) (map[core.Identity]core.Unit, int, int) {
	units := make(map[core.Identity]core.Unit, catalog.Len())
	dups, invalid := 0, 0
	for _, row := range catalog.Rows() {
		u := row.Unit()
		id := u.Identity()
		if err := u.Validate(); err != nil {
			invalid++
			s.logger.WarnContext(ctx, "Skipping invalid seed row",
				applog.FieldIdentity, id,
				"owner", u.OwnerName,
				applog.FieldError, err)
			continue
		}
		if prev, ok := units[id]; ok {
			dups++
			s.logger.WarnContext(ctx, "Duplicate identity in seed catalog, keeping the later row",
				applog.FieldIdentity, id,
				"previous_owner", prev.OwnerName,
				"owner", u.OwnerName)
		}
		units[id] = u
	}
	return units, dups, invalid
}

// Get returns a copy of the unit with the given identity.
func (s *Store) Get(id core.Identity) (core.Unit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.units[id]
	if !ok {
		return core.Unit{}, fmt.Errorf("%w: %s", core.ErrNotFound, id)
	}
	return u, nil
}

// Len is the number of units in the ledger.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.units)
}

// ApplyPayment adds amount to the unit's paid total and persists.
//
// On a persistence failure the updated unit is returned together with an
// error wrapping core.ErrPersistence; the payment stays applied in memory.
func (s *Store) ApplyPayment(ctx context.Context, id core.Identity, amount int64) (core.Unit, error) {
	if err := core.ValidatePayment(amount); err != nil {
		return core.Unit{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.units[id]
	if !ok {
		return core.Unit{}, fmt.Errorf("%w: %s", core.ErrNotFound, id)
	}
	u.PaidAmount += amount
	s.units[id] = u
	s.version++

	if _, err := s.persistLocked(ctx); err != nil {
		return u, err
	}
	return u, nil
}

// ResetAll zeroes every unit's paid amount and persists once.
func (s *Store) ResetAll(ctx context.Context) (int, error) {
	n, _, err := s.resetAll(ctx)
	return n, err
}

// resetAll also reports the store version seen right before the reset.
func (s *Store) resetAll(ctx context.Context) (int, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	before := s.version
	for id, u := range s.units {
		u.PaidAmount = 0
		s.units[id] = u
	}
	s.version++

	_, err := s.persistLocked(ctx)
	return len(s.units), before, err
}

// ReplaceAll swaps the whole ledger for records after validating every one of
// them. On a validation failure the store is left untouched and the error
// wraps core.ErrInvalidFormat.
func (s *Store) ReplaceAll(ctx context.Context, records map[core.Identity]core.Unit) error {
	if records == nil {
		return fmt.Errorf("%w: records are not a mapping", core.ErrInvalidFormat)
	}
	next := make(map[core.Identity]core.Unit, len(records))
	for id, u := range records {
		if err := u.Validate(); err != nil {
			return fmt.Errorf("%w: record %s: %v", core.ErrInvalidFormat, id, err)
		}
		if u.Identity() != id {
			return fmt.Errorf("%w: record %s is keyed as %s", core.ErrInvalidFormat, u.Identity(), id)
		}
		next[id] = u
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.units = next
	s.version++
	_, err := s.persistLocked(ctx)
	return err
}

// persistLocked encodes the current records and saves them. The encoded
// bytes are returned even when the save fails. Callers must hold s.mu.
func (s *Store) persistLocked(ctx context.Context) ([]byte, error) {
	data, err := EncodeSnapshot(s.units)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to encode snapshot", applog.FieldError, err)
		return nil, fmt.Errorf("%w: %w", core.ErrPersistence, err)
	}
	// A cancelled request must not leave an applied mutation off disk.
	if err := s.persister.Save(context.WithoutCancel(ctx), data); err != nil {
		s.logger.ErrorContext(ctx, "Failed to persist snapshot",
			applog.FieldError, err,
			"units", len(s.units))
		return data, fmt.Errorf("%w: %w", core.ErrPersistence, err)
	}
	s.logger.DebugContext(ctx, "Snapshot persisted", "bytes", len(data), "version", s.version)
	return data, nil
}
