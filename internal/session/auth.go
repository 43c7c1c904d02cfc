// File: internal/session/auth.go
// Project: Coldport
// Description: Register/login/logout/refresh against the sessions table
package session

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/coldport/coldport-server/internal/database"
	"github.com/coldport/coldport-server/internal/logger"
	"golang.org/x/crypto/bcrypt"
)

var log = logger.WithComponent("Session")

var (
	ErrNameTaken          = errors.New("name already taken")
	ErrInvalidCredentials = errors.New("invalid name or password")
	ErrPasswordTooShort   = errors.New("password must be at least 8 characters")
)

const (
	tokenTTL       = 24 * time.Hour
	minPasswordLen = 8
	startingCredits = 1000
)

// Auth wraps credential and token issuance against the store. Token
// generation uses crypto/rand directly rather than a third-party CSPRNG
// wrapper: the teacher and the rest of the retrieval pack have no dedicated
// token-generation library, and hex-encoding 32 random bytes is the
// standard-library's own documented way to mint an opaque bearer token.
type Auth struct {
	db *database.DB
}

func NewAuth(db *database.DB) *Auth {
	return &Auth{db: db}
}

func newToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Register creates a player, a CRD bank account, and a primary ship, then
// issues a session token — all inside one transaction.
func (a *Auth) Register(ctx context.Context, name, password string) (token string, playerID int64, err error) {
	if len(password) < minPasswordLen {
		return "", 0, ErrPasswordTooShort
	}

	digest, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", 0, fmt.Errorf("failed to hash credential: %w", err)
	}

	tok, err := newToken()
	if err != nil {
		return "", 0, err
	}

	err = a.db.WithTransaction(ctx, func(tx *sql.Tx) error {
		var existing int64
		row := tx.QueryRowContext(ctx, `SELECT id FROM players WHERE name = ?`, name)
		if scanErr := row.Scan(&existing); scanErr == nil {
			return ErrNameTaken
		} else if scanErr != sql.ErrNoRows {
			return scanErr
		}

		res, err := tx.ExecContext(ctx,
			`INSERT INTO players (name, credential_digest, home_sector, credits) VALUES (?, ?, 1, ?)`,
			name, string(digest), startingCredits)
		if err != nil {
			return err
		}
		playerID, err = res.LastInsertId()
		if err != nil {
			return err
		}

		shipRes, err := tx.ExecContext(ctx,
			`INSERT INTO ships (ship_type_id, sector) VALUES (1, 1)`)
		if err != nil {
			return err
		}
		shipID, err := shipRes.LastInsertId()
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO ship_ownership (player_id, ship_id, role, is_primary) VALUES (?, ?, 'owner', 1)`,
			playerID, shipID); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE players SET active_ship_id = ? WHERE id = ?`, shipID, playerID); err != nil {
			return err
		}

		// bank_accounts.balance must only ever move via bank_transactions rows
		// (trg_bank_transactions_apply creates the account row itself on first
		// insert), never a raw seed row, so the ledger reconciles from account
		// creation onward. The signup bonus is a real, append-only transaction.
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO bank_transactions (owner_type, owner_id, currency, direction, amount, reason) VALUES ('player', ?, 'CRD', 'CREDIT', ?, 'signup_bonus')`,
			playerID, startingCredits); err != nil {
			return err
		}

		expires := time.Now().Add(tokenTTL)
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO sessions (token, player_id, expires_at) VALUES (?, ?, ?)`,
			tok, playerID, expires.UTC().Format(time.RFC3339)); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return "", 0, err
	}

	log.Info("Registered player: name=%s id=%d", name, playerID)
	return tok, playerID, nil
}

// Login hash-compares the credential and issues a fresh token.
func (a *Auth) Login(ctx context.Context, name, password string) (token string, playerID int64, err error) {
	var digest string
	row := a.db.QueryRowContext(ctx, `SELECT id, credential_digest FROM players WHERE name = ?`, name)
	if scanErr := row.Scan(&playerID, &digest); scanErr != nil {
		if scanErr == sql.ErrNoRows {
			return "", 0, ErrInvalidCredentials
		}
		return "", 0, scanErr
	}

	if bcrypt.CompareHashAndPassword([]byte(digest), []byte(password)) != nil {
		return "", 0, ErrInvalidCredentials
	}

	tok, err := newToken()
	if err != nil {
		return "", 0, err
	}

	err = a.db.WithTransaction(ctx, func(tx *sql.Tx) error {
		expires := time.Now().Add(tokenTTL)
		_, err := tx.ExecContext(ctx,
			`INSERT INTO sessions (token, player_id, expires_at) VALUES (?, ?, ?)`,
			tok, playerID, expires.UTC().Format(time.RFC3339))
		return err
	})
	if err != nil {
		return "", 0, err
	}

	log.Info("Login: name=%s id=%d", name, playerID)
	return tok, playerID, nil
}

// Lookup resolves a token to a player ID; an expired token is treated as
// absent rather than merely stale.
func (a *Auth) Lookup(ctx context.Context, token string) (playerID int64, ok bool, err error) {
	var expiresStr string
	row := a.db.QueryRowContext(ctx, `SELECT player_id, expires_at FROM sessions WHERE token = ?`, token)
	if scanErr := row.Scan(&playerID, &expiresStr); scanErr != nil {
		if scanErr == sql.ErrNoRows {
			return 0, false, nil
		}
		return 0, false, scanErr
	}

	expires, err := time.Parse(time.RFC3339, expiresStr)
	if err != nil {
		return 0, false, err
	}
	if !time.Now().Before(expires) {
		return 0, false, nil
	}
	return playerID, true, nil
}

// Refresh atomically replaces a token with a new one, extending the TTL.
func (a *Auth) Refresh(ctx context.Context, token string) (newToken string, err error) {
	playerID, ok, err := a.Lookup(ctx, token)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrInvalidCredentials
	}

	tok, err := newToken()
	if err != nil {
		return "", err
	}

	err = a.db.WithTransaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE token = ?`, token); err != nil {
			return err
		}
		expires := time.Now().Add(tokenTTL)
		_, err := tx.ExecContext(ctx,
			`INSERT INTO sessions (token, player_id, expires_at) VALUES (?, ?, ?)`,
			tok, playerID, expires.UTC().Format(time.RFC3339))
		return err
	})
	if err != nil {
		return "", err
	}
	return tok, nil
}

func (a *Auth) Logout(ctx context.Context, token string) error {
	_, err := a.db.ExecContext(ctx, `DELETE FROM sessions WHERE token = ?`, token)
	return err
}
