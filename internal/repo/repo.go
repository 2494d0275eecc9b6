package repo

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"strings"
	"time"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// HashAPIKey returns a stable SHA-256 hex digest for the provided key.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(key)))
	return hex.EncodeToString(sum[:])
}

// User is an account row. Credits are mutated only through AdjustCredits.
type User struct {
	ID         string
	Username   string
	APIKeyHash string
	Credits    float64
	CreatedAt  string
}

func (r Repo) InsertUser(ctx context.Context, u User) error {
	if u.ID == "" {
		return errors.New("id required")
	}
	if u.Username == "" {
		return errors.New("username required")
	}
	if u.APIKeyHash == "" {
		return errors.New("api_key_hash required")
	}
	if u.CreatedAt == "" {
		u.CreatedAt = now()
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO users(id,username,api_key_hash,credits,created_at) VALUES (?,?,?,?,?)`,
		u.ID, u.Username, u.APIKeyHash, u.Credits, u.CreatedAt)
	return err
}

func scanUser(row *sql.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.APIKeyHash, &u.Credits, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return User{}, ErrNotFound
	}
	return u, err
}

// GetUserByKeyHash resolves an account from a hashed API key.
func (r Repo) GetUserByKeyHash(ctx context.Context, hash string) (User, error) {
	return scanUser(r.DB.QueryRowContext(ctx,
		`SELECT id,username,api_key_hash,credits,created_at FROM users WHERE api_key_hash=? LIMIT 1`, hash))
}

// GetUserByUsername resolves an account by username.
func (r Repo) GetUserByUsername(ctx context.Context, username string) (User, error) {
	return scanUser(r.DB.QueryRowContext(ctx,
		`SELECT id,username,api_key_hash,credits,created_at FROM users WHERE username=? LIMIT 1`, username))
}

// AdjustCredits adds delta to a user's balance and returns the new balance.
// A transfer is two AdjustCredits calls inside one transaction.
func (r Repo) AdjustCredits(ctx context.Context, tx *sql.Tx, userID string, delta float64) (float64, error) {
	exec := r.DB.ExecContext
	query := r.DB.QueryRowContext
	if tx != nil {
		exec = tx.ExecContext
		query = tx.QueryRowContext
	}
	res, err := exec(ctx, `UPDATE users SET credits=credits+? WHERE id=?`, delta, userID)
	if err != nil {
		return 0, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, ErrNotFound
	}
	var credits float64
	if err := query(ctx, `SELECT credits FROM users WHERE id=?`, userID).Scan(&credits); err != nil {
		return 0, err
	}
	return credits, nil
}
