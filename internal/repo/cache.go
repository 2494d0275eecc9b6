package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"
)

// CacheRecord is one stored remote-cache entry; the entry body itself stays
// serialized.
type CacheRecord struct {
	Key        string
	JobUUID    string
	JSONString string
	CreatedAt  string
}

// UpsertCacheEntry writes a cache entry, replacing any previous body for
// the same key.
func (r Repo) UpsertCacheEntry(ctx context.Context, e CacheRecord) error {
	if e.Key == "" {
		return errors.New("key required")
	}
	if e.CreatedAt == "" {
		e.CreatedAt = now()
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO cache_entries(key,job_uuid,json_string,created_at) VALUES (?,?,?,?)
ON CONFLICT(key) DO UPDATE SET json_string=excluded.json_string`,
		e.Key, e.JobUUID, e.JSONString, e.CreatedAt)
	return err
}

// ListCacheByJob returns the cache entries written by a job.
func (r Repo) ListCacheByJob(ctx context.Context, jobUUID string) ([]CacheRecord, error) {
	return r.queryCache(ctx, `SELECT key,job_uuid,json_string,created_at FROM cache_entries WHERE job_uuid=? ORDER BY key`, jobUUID)
}

// ListCacheByKeys returns the cache entries for the given keys; missing
// keys are simply absent from the result.
func (r Repo) ListCacheByKeys(ctx context.Context, keys []string) ([]CacheRecord, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	return r.queryCache(ctx,
		`SELECT key,job_uuid,json_string,created_at FROM cache_entries WHERE key IN (`+placeholders(len(keys))+`) ORDER BY key`,
		args...)
}

func (r Repo) queryCache(ctx context.Context, query string, args ...any) ([]CacheRecord, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []CacheRecord
	for rows.Next() {
		var e CacheRecord
		if err := rows.Scan(&e.Key, &e.JobUUID, &e.JSONString, &e.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// RegisterLoginToken records a minted login token awaiting approval.
func (r Repo) RegisterLoginToken(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return errors.New("token required")
	}
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO login_tokens(token,api_key,created_at) VALUES (?,NULL,?) ON CONFLICT(token) DO NOTHING`,
		token, now())
	return err
}

// ApproveLoginToken binds an API key to a login token.
func (r Repo) ApproveLoginToken(ctx context.Context, token, apiKey string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE login_tokens SET api_key=? WHERE token=?`, apiKey, token)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ExchangeLoginToken returns the API key bound to a token, or nil while the
// token is still pending. Unknown tokens are pending too; the poller cannot
// distinguish them.
func (r Repo) ExchangeLoginToken(ctx context.Context, token string) (*string, error) {
	var key sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT api_key FROM login_tokens WHERE token=?`, token).Scan(&key)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !key.Valid {
		return nil, nil
	}
	return &key.String, nil
}
