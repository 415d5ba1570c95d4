package memory

import (
	"context"
	"sync"

	"ballotguard.org/internal/mfa"
)

// MFA is an in-memory mfa.Store.
type MFA struct {
	mu      sync.Mutex
	records map[mfa.Subject]mfa.Record
}

func NewMFA() *MFA {
	return &MFA{records: make(map[mfa.Subject]mfa.Record)}
}

func (s *MFA) Get(ctx context.Context, subject mfa.Subject) (mfa.Record, error) {
	if err := ctx.Err(); err != nil {
		return mfa.Record{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[subject]
	if !ok {
		return mfa.Record{}, mfa.ErrNotEnrolled
	}
	return rec, nil
}

func (s *MFA) Put(ctx context.Context, rec mfa.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.Subject] = rec
	return nil
}

func (s *MFA) Clear(ctx context.Context, subject mfa.Subject) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, subject)
	return nil
}

// BackupCodes is an in-memory mfa.BackupCodeStore. Consume is a
// compare-and-set under the store mutex.
type BackupCodes struct {
	mu    sync.Mutex
	codes map[mfa.Subject]map[string]bool
}

func NewBackupCodes() *BackupCodes {
	return &BackupCodes{codes: make(map[mfa.Subject]map[string]bool)}
}

func (s *BackupCodes) Replace(ctx context.Context, subject mfa.Subject, hashes []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	batch := make(map[string]bool, len(hashes))
	for _, h := range hashes {
		batch[h] = false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[subject] = batch
	return nil
}

func (s *BackupCodes) Consume(ctx context.Context, subject mfa.Subject, hash string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	consumed, ok := s.codes[subject][hash]
	if !ok || consumed {
		return false, nil
	}
	s.codes[subject][hash] = true
	return true, nil
}

func (s *BackupCodes) Remaining(ctx context.Context, subject mfa.Subject) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, consumed := range s.codes[subject] {
		if !consumed {
			n++
		}
	}
	return n, nil
}

func (s *BackupCodes) Clear(ctx context.Context, subject mfa.Subject) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.codes, subject)
	return nil
}
