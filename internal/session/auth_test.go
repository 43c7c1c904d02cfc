// File: internal/session/auth_test.go
// Project: Coldport
// Description: Tests for registration, login, and session TTL enforcement
package session

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/coldport/coldport-server/internal/database"
)

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.NewDB(&database.Config{
		Path:          filepath.Join(t.TempDir(), "coldport_test.db"),
		BusyTimeoutMS: 5000,
		MaxOpenConns:  4,
	})
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Bootstrap(context.Background()); err != nil {
		t.Fatalf("failed to bootstrap test store: %v", err)
	}
	return db
}

func TestRegisterThenLoginRoundTrip(t *testing.T) {
	db := newTestDB(t)
	auth := NewAuth(db)
	ctx := context.Background()

	token, playerID, err := auth.Register(ctx, "alice", "password1")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if token == "" || len(token) != 64 {
		t.Errorf("expected a 64-hex token, got %q (len=%d)", token, len(token))
	}
	if playerID == 0 {
		t.Error("expected a nonzero player id")
	}

	resolved, ok, err := auth.Lookup(ctx, token)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if !ok || resolved != playerID {
		t.Errorf("Lookup(%q) = (%d, %v), want (%d, true)", token, resolved, ok, playerID)
	}

	loginToken, loginID, err := auth.Login(ctx, "alice", "password1")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if loginID != playerID {
		t.Errorf("Login resolved player %d, want %d", loginID, playerID)
	}
	if loginToken == token {
		t.Error("Login should mint a fresh token distinct from Register's")
	}
}

func TestRegisterRejectsDuplicateName(t *testing.T) {
	db := newTestDB(t)
	auth := NewAuth(db)
	ctx := context.Background()

	if _, _, err := auth.Register(ctx, "bob", "password1"); err != nil {
		t.Fatalf("first Register failed: %v", err)
	}
	if _, _, err := auth.Register(ctx, "bob", "password2"); err != ErrNameTaken {
		t.Errorf("expected ErrNameTaken on a duplicate name, got %v", err)
	}
}

func TestRegisterRejectsShortPassword(t *testing.T) {
	db := newTestDB(t)
	auth := NewAuth(db)
	if _, _, err := auth.Register(context.Background(), "carol", "short"); err != ErrPasswordTooShort {
		t.Errorf("expected ErrPasswordTooShort, got %v", err)
	}
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	db := newTestDB(t)
	auth := NewAuth(db)
	ctx := context.Background()

	if _, _, err := auth.Register(ctx, "dave", "correct-password"); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if _, _, err := auth.Login(ctx, "dave", "wrong-password"); err != ErrInvalidCredentials {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestLookupRejectsExpiredToken(t *testing.T) {
	db := newTestDB(t)
	auth := NewAuth(db)
	ctx := context.Background()

	token, _, err := auth.Register(ctx, "erin", "password1")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	expired := time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)
	if _, err := db.ExecContext(ctx,
		`UPDATE sessions SET expires_at = ? WHERE token = ?`, expired, token); err != nil {
		t.Fatalf("failed to backdate session: %v", err)
	}

	if _, ok, err := auth.Lookup(ctx, token); err != nil || ok {
		t.Errorf("Lookup(expired token) = ok=%v err=%v, want ok=false err=nil", ok, err)
	}
}

func TestLookupRejectsUnknownToken(t *testing.T) {
	db := newTestDB(t)
	auth := NewAuth(db)
	if _, ok, err := auth.Lookup(context.Background(), "not-a-real-token"); err != nil || ok {
		t.Errorf("Lookup(unknown) = ok=%v err=%v, want ok=false err=nil", ok, err)
	}
}
