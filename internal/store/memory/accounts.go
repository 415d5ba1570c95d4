package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"ballotguard.org/internal/auth"
)

// Admins is an in-memory auth.AdminStore for tests and single-node demos.
type Admins struct {
	mu      sync.RWMutex
	byID    map[string]auth.AdminRecord
	byEmail map[string]string
	now     func() time.Time
}

// NewAdmins returns a store seeded with records.
func NewAdmins(records ...auth.AdminRecord) *Admins {
	s := &Admins{
		byID:    make(map[string]auth.AdminRecord),
		byEmail: make(map[string]string),
		now:     time.Now,
	}
	for _, rec := range records {
		s.Put(rec)
	}
	return s
}

// Put inserts or replaces rec.
func (s *Admins) Put(rec auth.AdminRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.byID[rec.ID]; ok {
		delete(s.byEmail, normalizeEmail(old.Email))
	}
	s.byID[rec.ID] = cloneAdmin(rec)
	if email := normalizeEmail(rec.Email); email != "" {
		s.byEmail[email] = rec.ID
	}
}

func (s *Admins) FindByID(ctx context.Context, id string) (auth.AdminRecord, error) {
	if err := ctx.Err(); err != nil {
		return auth.AdminRecord{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.byID[id]
	if !ok {
		return auth.AdminRecord{}, auth.ErrNotFound
	}
	return cloneAdmin(rec), nil
}

func (s *Admins) FindByEmail(ctx context.Context, email string) (auth.AdminRecord, error) {
	if err := ctx.Err(); err != nil {
		return auth.AdminRecord{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[normalizeEmail(email)]
	if !ok {
		return auth.AdminRecord{}, auth.ErrNotFound
	}
	return cloneAdmin(s.byID[id]), nil
}

func (s *Admins) SetMFAEnabled(ctx context.Context, id string, enabled bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byID[id]
	if !ok {
		return auth.ErrNotFound
	}
	rec.MFAEnabled = enabled
	rec.UpdatedAt = s.now().UTC()
	s.byID[id] = rec
	return nil
}

// Voters is an in-memory auth.VoterStore.
type Voters struct {
	mu    sync.RWMutex
	byID  map[string]auth.VoterRecord
	byVIN map[string]string
	now   func() time.Time
}

// NewVoters returns a store seeded with records.
func NewVoters(records ...auth.VoterRecord) *Voters {
	s := &Voters{
		byID:  make(map[string]auth.VoterRecord),
		byVIN: make(map[string]string),
		now:   time.Now,
	}
	for _, rec := range records {
		s.Put(rec)
	}
	return s
}

// Put inserts or replaces rec.
func (s *Voters) Put(rec auth.VoterRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.byID[rec.ID]; ok {
		delete(s.byVIN, normalizeVIN(old.VIN))
	}
	rec.Permissions = append([]auth.Permission(nil), rec.Permissions...)
	s.byID[rec.ID] = rec
	if vin := normalizeVIN(rec.VIN); vin != "" {
		s.byVIN[vin] = rec.ID
	}
}

func (s *Voters) FindByID(ctx context.Context, id string) (auth.VoterRecord, error) {
	if err := ctx.Err(); err != nil {
		return auth.VoterRecord{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.byID[id]
	if !ok {
		return auth.VoterRecord{}, auth.ErrNotFound
	}
	rec.Permissions = append([]auth.Permission(nil), rec.Permissions...)
	return rec, nil
}

func (s *Voters) FindByVIN(ctx context.Context, vin string) (auth.VoterRecord, error) {
	if err := ctx.Err(); err != nil {
		return auth.VoterRecord{}, err
	}
	s.mu.RLock()
	id, ok := s.byVIN[normalizeVIN(vin)]
	s.mu.RUnlock()
	if !ok {
		return auth.VoterRecord{}, auth.ErrNotFound
	}
	return s.FindByID(ctx, id)
}

func (s *Voters) SetMFAEnabled(ctx context.Context, id string, enabled bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byID[id]
	if !ok {
		return auth.ErrNotFound
	}
	rec.MFAEnabled = enabled
	rec.UpdatedAt = s.now().UTC()
	s.byID[id] = rec
	return nil
}

func cloneAdmin(rec auth.AdminRecord) auth.AdminRecord {
	rec.Permissions = append([]auth.Permission(nil), rec.Permissions...)
	rec.Regions = append([]string(nil), rec.Regions...)
	return rec
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func normalizeVIN(vin string) string {
	return strings.ToUpper(strings.TrimSpace(vin))
}
