package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"go/format"
	"io"
	"net/http"
	"strings"
	"time"

	"aviary/internal/domain"
	"aviary/internal/registry"
)

const blobTimeout = 60 * time.Second

// uploadScenario runs the out-of-band upload protocol for scenario
// payloads: the serialized dict always goes to the payload signed URL,
// and file-backed scenarios additionally push their raw bytes to the
// file-store signed URL.
func (c *Client) uploadScenario(ctx context.Context, scenario registry.Scenario, jsonString string, metadata *domain.FileStoreMetadata, created createResponse) error {
	if created.UploadSignedURL == "" {
		return ErrNoSignedURL
	}
	if err := c.putBlob(ctx, created.UploadSignedURL, []byte(jsonString), "application/json"); err != nil {
		return err
	}

	if metadata == nil {
		return nil
	}
	if created.FileStoreUploadSignedURL == "" {
		return ErrNoFileStoreSignedURL
	}
	raw, err := scenario.Bytes()
	if err != nil {
		return fmt.Errorf("decode file store content: %w", err)
	}
	linted, err := lintContent(metadata.Suffix, raw)
	if err != nil {
		return fmt.Errorf("lint %q content: %w", metadata.Suffix, err)
	}
	mime := metadata.MimeType
	if mime == "" {
		mime = "application/octet-stream"
	}
	return c.putBlob(ctx, created.FileStoreUploadSignedURL, linted, mime)
}

// putBlob PUTs content directly to a signed blob-store URL. These
// requests bypass the API host and its auth headers; the signature in
// the URL is the credential.
func (c *Client) putBlob(ctx context.Context, signedURL string, content []byte, contentType string) error {
	ctx, cancel := context.WithTimeout(ctx, blobTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, signedURL, bytes.NewReader(content))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &ConnectionError{URL: signedURL, Err: err}
	}
	if err := resolveBlob(resp); err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// fetchBlob GETs a blob-store link and returns its body as a string.
func (c *Client) fetchBlob(ctx context.Context, link string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, blobTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &ConnectionError{URL: link, Err: err}
	}
	if err := resolveBlob(resp); err != nil {
		return "", err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// lintContent normalizes source-like content before upload so stored
// files render consistently. Go source is gofmt-formatted, JSON is
// re-indented, and everything else passes through untouched. Content
// that fails to parse is uploaded as is.
func lintContent(suffix string, content []byte) ([]byte, error) {
	switch strings.ToLower(strings.TrimPrefix(suffix, ".")) {
	case "go":
		formatted, err := format.Source(content)
		if err != nil {
			return content, nil
		}
		return formatted, nil
	case "json":
		var v any
		if err := json.Unmarshal(content, &v); err != nil {
			return content, nil
		}
		return json.MarshalIndent(v, "", "    ")
	default:
		return content, nil
	}
}
