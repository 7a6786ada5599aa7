package telemetry

import (
	"context"
	"sync"
	"time"

	"codeberg.org/mutker/hmsd/internal/errors"
	"codeberg.org/mutker/hmsd/internal/logger"
)

// Store is the read-modify-write layer over the single telemetry record.
// Writers inside one process are serialized; separate processes sharing the
// database remain last-writer-wins.
type Store struct {
	repo     Repository
	now      func() time.Time
	testMode bool

	mu sync.Mutex
}

type StoreOption func(*Store)

// WithClock replaces the time source used for opt-in, opt-out and send stamps
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = now
	}
}

// WithTestMode suppresses SentTimestamp updates
func WithTestMode(enabled bool) StoreOption {
	return func(s *Store) {
		s.testMode = enabled
	}
}

func NewStore(repo Repository, opts ...StoreOption) *Store {
	s := &Store{
		repo: repo,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RetrieveOrBuild returns the persisted record, minting and persisting the
// installation identity on first use. Repeated calls return the same
// identifiers.
func (s *Store) RetrieveOrBuild(ctx context.Context) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.retrieveOrBuild(ctx)
}

func (s *Store) retrieveOrBuild(ctx context.Context) (*Record, error) {
	rec, err := s.repo.Load(ctx)
	if err == nil {
		return rec, nil
	}
	if !errors.HasCode(err, ErrSettingsNotFound) {
		return nil, err
	}

	if err := s.repo.EnsureIdentity(ctx, NewIdentity()); err != nil {
		return nil, err
	}

	// Re-read so a concurrent creator's identity wins over ours
	return s.repo.Load(ctx)
}

// RetrieveSettings returns the record, or ErrSettingsNotFound when none exists
func (s *Store) RetrieveSettings(ctx context.Context) (*Record, error) {
	return s.repo.Load(ctx)
}

// Enable returns the record with telemetry switched on under consent. The
// change is not persisted until Save.
func (s *Store) Enable(ctx context.Context, consent map[string]bool) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.retrieveOrBuild(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	rec.Consent = copyConsent(consent)
	rec.Active = true
	rec.OptinDate = &now
	rec.OptoutDate = nil

	return rec, nil
}

// Disable returns the record with telemetry switched off. The opt-in date is
// kept. The change is not persisted until Save.
func (s *Store) Disable(ctx context.Context, consent map[string]bool) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.retrieveOrBuild(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	rec.Consent = copyConsent(consent)
	rec.Active = false
	rec.OptoutDate = &now

	return rec, nil
}

// Save persists rec as-is
func (s *Store) Save(ctx context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.repo.Save(ctx, rec)
}

func (s *Store) UpdateStatusSuccess(ctx context.Context, info string) error {
	return s.updateStatus(ctx, StatusSuccess, info)
}

func (s *Store) UpdateStatusFail(ctx context.Context, info string) error {
	return s.updateStatus(ctx, StatusFailure, info)
}

func (s *Store) updateStatus(ctx context.Context, status Status, info string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.retrieveOrBuild(ctx)
	if err != nil {
		return err
	}

	if !s.testMode {
		now := s.now()
		rec.SentTimestamp = &now
	}
	rec.Info = info
	rec.Status = status

	if err := s.repo.Save(ctx, rec); err != nil {
		return err
	}

	logger.Debug().
		Str("status", string(status)).
		Str("info", info).
		Msg("Telemetry status updated")

	return nil
}
