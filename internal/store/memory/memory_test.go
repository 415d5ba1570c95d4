package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"ballotguard.org/internal/auth"
	"ballotguard.org/internal/mfa"
)

func TestAdminsLookupAndFlag(t *testing.T) {
	ctx := context.Background()
	admins := NewAdmins(auth.AdminRecord{ID: "a1", Email: "Officer@Example.org", AdminType: auth.RoleElectionManager, Active: true})

	rec, err := admins.FindByEmail(ctx, "  officer@example.org ")
	if err != nil || rec.ID != "a1" {
		t.Fatalf("FindByEmail = %+v, %v", rec, err)
	}
	if _, err := admins.FindByID(ctx, "missing"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := admins.SetMFAEnabled(ctx, "a1", true); err != nil {
		t.Fatalf("SetMFAEnabled: %v", err)
	}
	rec, _ = admins.FindByID(ctx, "a1")
	if !rec.MFAEnabled {
		t.Fatalf("flag not persisted")
	}

	admins.Put(auth.AdminRecord{ID: "a1", Email: "new@example.org", AdminType: auth.RoleElectionManager})
	if _, err := admins.FindByEmail(ctx, "officer@example.org"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("stale email index: %v", err)
	}
}

func TestVotersLookupByVIN(t *testing.T) {
	ctx := context.Background()
	voters := NewVoters(auth.VoterRecord{ID: "v1", VIN: "abc123", Active: true})
	rec, err := voters.FindByVIN(ctx, "ABC123")
	if err != nil || rec.ID != "v1" {
		t.Fatalf("FindByVIN = %+v, %v", rec, err)
	}
	if err := voters.SetMFAEnabled(ctx, "nobody", true); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCancelledContextFails(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewAdmins().FindByID(ctx, "a1"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestBackupCodeConsumeOnce(t *testing.T) {
	ctx := context.Background()
	store := NewBackupCodes()
	subject := mfa.Subject{Kind: auth.KindVoter, ID: "v1"}
	if err := store.Replace(ctx, subject, []string{"h1", "h2"}); err != nil {
		t.Fatalf("Replace: %v", err)
	}

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.Consume(ctx, subject, "h1")
			if err != nil {
				t.Errorf("Consume: %v", err)
			}
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Fatalf("expected exactly one redemption, got %d", wins.Load())
	}
	if n, _ := store.Remaining(ctx, subject); n != 1 {
		t.Fatalf("expected 1 remaining, got %d", n)
	}

	other := mfa.Subject{Kind: auth.KindAdmin, ID: "v1"}
	if ok, _ := store.Consume(ctx, other, "h2"); ok {
		t.Fatalf("codes must not cross principal namespaces")
	}
	if err := store.Replace(ctx, subject, []string{"h3"}); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if ok, _ := store.Consume(ctx, subject, "h2"); ok {
		t.Fatalf("previous batch must be invalidated")
	}
}

func TestMFAStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMFA()
	subject := mfa.Subject{Kind: auth.KindAdmin, ID: "a1"}
	if _, err := store.Get(ctx, subject); !errors.Is(err, mfa.ErrNotEnrolled) {
		t.Fatalf("expected ErrNotEnrolled, got %v", err)
	}
	if err := store.Put(ctx, mfa.Record{Subject: subject, Secret: "S", Enabled: true}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	rec, err := store.Get(ctx, subject)
	if err != nil || rec.Secret != "S" || !rec.Enabled {
		t.Fatalf("Get = %+v, %v", rec, err)
	}
	if err := store.Clear(ctx, subject); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, err := store.Get(ctx, subject); !errors.Is(err, mfa.ErrNotEnrolled) {
		t.Fatalf("record not cleared: %v", err)
	}
}
