package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"aviary/internal/domain"
)

// cacheFetchTimeout allows for large batches; cache reads return every
// entry for a job in one response.
const cacheFetchTimeout = 40 * time.Second

// RemoteCacheGet returns every cache entry written by a job.
func (c *Client) RemoteCacheGet(ctx context.Context, jobUUID string) ([]domain.CacheEntry, error) {
	if jobUUID == "" {
		return nil, fmt.Errorf("%w: a job uuid is required", ErrMissingIdentifier)
	}
	return c.fetchCacheEntries(ctx, "api/v0/remote-cache/get-many-by-job", map[string]any{
		"job_uuid": jobUUID,
	})
}

// RemoteCacheGetByKey returns the cache entries for the given keys. The key
// list must be non-empty.
func (c *Client) RemoteCacheGetByKey(ctx context.Context, keys []string) ([]domain.CacheEntry, error) {
	if len(keys) == 0 {
		return nil, &FilterValueError{Reason: "a non-empty list of keys is required"}
	}
	return c.fetchCacheEntries(ctx, "api/v0/remote-cache/get-many-by-key", map[string]any{
		"selected_keys": keys,
	})
}

// fetchCacheEntries posts a cache query and decodes the per-entry
// json_string envelopes into cache entries.
func (c *Client) fetchCacheEntries(ctx context.Context, uri string, payload map[string]any) ([]domain.CacheEntry, error) {
	resp, err := c.sendTimeout(ctx, http.MethodPost, uri, payload, nil, cacheFetchTimeout)
	if err != nil {
		return nil, err
	}
	if err := c.resolveOrErr(ctx, resp, true); err != nil {
		return nil, err
	}
	var records []struct {
		JSONString string `json:"json_string"`
	}
	if err := decodeBody(resp, &records); err != nil {
		return nil, fmt.Errorf("decode cache response: %w", err)
	}
	entries := make([]domain.CacheEntry, 0, len(records))
	for _, r := range records {
		var entry domain.CacheEntry
		if err := json.Unmarshal([]byte(r.JSONString), &entry); err != nil {
			return nil, fmt.Errorf("decode cache entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
