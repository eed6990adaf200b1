package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testManager(t *testing.T) (*Manager, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	mgr := NewManager(store, Config{
		CookieName:      "hr_session",
		IdleTimeout:     30 * time.Minute,
		AbsoluteTimeout: 12 * time.Hour,
	}, zerolog.Nop())
	return mgr, store
}

func TestStartCreatesAnonymousSession(t *testing.T) {
	mgr, _ := testManager(t)
	ctx := context.Background()

	rec, err := mgr.Start(ctx)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if rec.ID == "" {
		t.Error("Start() returned empty session id")
	}
	if rec.CSRFToken == "" {
		t.Error("Start() returned empty CSRF token")
	}
	if rec.Authenticated {
		t.Error("Start() session should not be authenticated")
	}

	loaded, err := mgr.Load(ctx, rec.ID, time.Now())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.CSRFToken != rec.CSRFToken {
		t.Error("Load() returned a different CSRF token")
	}
}

func TestLoadEnforcesIdleTimeout(t *testing.T) {
	mgr, _ := testManager(t)
	ctx := context.Background()

	rec, err := mgr.Start(ctx)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// Just inside the idle window.
	if _, err := mgr.Load(ctx, rec.ID, time.Now().Add(29*time.Minute)); err != nil {
		t.Fatalf("Load() inside idle window error = %v", err)
	}

	// Activity pushed LastSeenAt forward, so another 29 minutes is still fine.
	if _, err := mgr.Load(ctx, rec.ID, time.Now().Add(58*time.Minute)); err != nil {
		t.Fatalf("Load() after touch error = %v", err)
	}

	// A 31-minute gap ends the session.
	if _, err := mgr.Load(ctx, rec.ID, time.Now().Add(90*time.Minute)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load() past idle timeout error = %v, want ErrNotFound", err)
	}
}

func TestLoadEnforcesAbsoluteTimeout(t *testing.T) {
	mgr, store := testManager(t)
	ctx := context.Background()

	rec, err := mgr.Start(ctx)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// Keep the record live in the backing store past its normal ttl so the
	// manager's own absolute check is what rejects it.
	rec.LastSeenAt = time.Now().Add(13 * time.Hour)
	if err := store.Put(ctx, rec, time.Hour); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	if _, err := mgr.Load(ctx, rec.ID, time.Now().Add(13*time.Hour)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load() past absolute timeout error = %v, want ErrNotFound", err)
	}
}

func TestRegenerateInvalidatesOldID(t *testing.T) {
	mgr, _ := testManager(t)
	ctx := context.Background()

	rec, err := mgr.Start(ctx)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	oldID := rec.ID

	rec.Authenticated = true
	rec.UserID = "user-1"
	rec.Username = "alice"
	if err := mgr.Regenerate(ctx, rec); err != nil {
		t.Fatalf("Regenerate() error = %v", err)
	}

	if rec.ID == oldID {
		t.Fatal("Regenerate() did not change the session id")
	}

	if _, err := mgr.Load(ctx, oldID, time.Now()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load() of superseded id error = %v, want ErrNotFound", err)
	}

	loaded, err := mgr.Load(ctx, rec.ID, time.Now())
	if err != nil {
		t.Fatalf("Load() of new id error = %v", err)
	}
	if !loaded.Authenticated || loaded.Username != "alice" {
		t.Error("Regenerate() did not carry the record state to the new id")
	}
}

func TestDestroy(t *testing.T) {
	mgr, _ := testManager(t)
	ctx := context.Background()

	rec, err := mgr.Start(ctx)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if err := mgr.Destroy(ctx, rec.ID); err != nil {
		t.Fatalf("Destroy() error = %v", err)
	}
	if _, err := mgr.Load(ctx, rec.ID, time.Now()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load() after Destroy() error = %v, want ErrNotFound", err)
	}
}

func TestPendingExpired(t *testing.T) {
	now := time.Now()
	p := &Pending{Kind: PendingTwoFactor, CreatedAt: now}

	if p.Expired(now.Add(4*time.Minute), 5*time.Minute) {
		t.Error("Expired() = true inside the ttl")
	}
	if !p.Expired(now.Add(6*time.Minute), 5*time.Minute) {
		t.Error("Expired() = false past the ttl")
	}
}

func TestCookieAttributes(t *testing.T) {
	mgr, _ := testManager(t)
	rec := &Record{ID: "abc"}

	c := mgr.Cookie(rec)
	if c.Name != "hr_session" || c.Value != "abc" {
		t.Errorf("Cookie() = %s=%s, want hr_session=abc", c.Name, c.Value)
	}
	if !c.HttpOnly {
		t.Error("Cookie() must be HttpOnly")
	}

	expired := mgr.ExpiredCookie()
	if expired.MaxAge != -1 {
		t.Errorf("ExpiredCookie() MaxAge = %d, want -1", expired.MaxAge)
	}
}
