// Package client implements the Aviary API client: durable storage of
// typed, versioned objects in the cloud object store, and submission and
// tracking of asynchronous remote inference jobs.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"aviary/internal/config"
	"aviary/internal/keystore"
)

// Timeout policy for the dispatcher. Large serialized bodies scale the
// timeout with size so uploads are not cut off.
const (
	defaultTimeout   = 10 * time.Second
	noPayloadTimeout = 40 * time.Second
	largeBodyMinimum = 60 * time.Second
)

// Config carries the construction-time state of a Client. All fields are
// read-only for the lifetime of the client.
type Config struct {
	// APIKey authenticates requests. Empty is allowed and sends the
	// literal "Bearer None", which the server answers with its missing-key
	// error.
	APIKey string

	// BaseURL is the web URL content links point at. Defaults to the
	// production alias.
	BaseURL string

	// Keystore persists recovered keys. Defaults to the user config dir
	// store in production mode.
	Keystore *keystore.Store

	// DisableRecovery turns off the interactive invalid-credential login
	// flow; the error is returned to the caller instead.
	DisableRecovery bool

	// HTTPClient overrides the transport. Per-request timeouts are applied
	// through the context, so the client itself carries no timeout.
	HTTPClient *http.Client

	// Output receives interactive login messages. Defaults to stdout.
	Output io.Writer
}

// Client is a stateless request/response mapper over the Aviary API.
// Concurrent use across goroutines is safe for read operations; the
// credential-recovery key rotation is not synchronized and should be
// serialized by the caller if an instance is shared.
type Client struct {
	apiKey     string
	baseURL    string
	apiURL     string
	httpClient *http.Client
	keystore   *keystore.Store
	recovery   bool
	out        io.Writer

	// pollInterval and loginTimeout are variable for tests.
	pollInterval time.Duration
	loginTimeout time.Duration
}

// New creates a client. A missing API key falls back to the keystore and
// the AVIARY_API_KEY environment variable.
func New(cfg Config) *Client {
	ks := cfg.Keystore
	if ks == nil {
		ks = keystore.New("production")
	}
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = ks.Get()
	}
	base := cfg.BaseURL
	if base == "" {
		base = config.ProductionURL
	}
	base = config.NormalizeBaseURL(base)
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		apiKey:       apiKey,
		baseURL:      base,
		apiURL:       config.ResolveAPIURL(base),
		httpClient:   httpClient,
		keystore:     ks,
		recovery:     !cfg.DisableRecovery,
		out:          out,
		pollInterval: 5 * time.Second,
		loginTimeout: 120 * time.Second,
	}
}

// BaseURL returns the web URL content links point at.
func (c *Client) BaseURL() string { return c.baseURL }

// APIURL returns the API host requests are sent to.
func (c *Client) APIURL() string { return c.apiURL }

func (c *Client) headers() http.Header {
	h := http.Header{}
	if c.apiKey != "" {
		h.Set("Authorization", "Bearer "+c.apiKey)
	} else {
		// Intentional: the server maps "Bearer None" to its missing-key
		// error, which drives the login flow.
		h.Set("Authorization", "Bearer None")
	}
	return h
}

// requestTimeout implements the method-aware timeout policy: 40s when
// there is no payload, max(60s, 2s per MiB) when the payload carries a
// large serialized body, 10s otherwise.
func requestTimeout(method string, payload map[string]any) time.Duration {
	if payload == nil {
		return noPayloadTimeout
	}
	if method == http.MethodPost || method == http.MethodPatch {
		if raw, ok := payload["json_string"]; ok && raw != nil {
			if s, ok := raw.(string); ok {
				scaled := time.Duration(2*(len(s)/(1024*1024))) * time.Second
				if scaled > largeBodyMinimum {
					return scaled
				}
				return largeBodyMinimum
			}
		}
	}
	return defaultTimeout
}

// send issues a single HTTP request. There are no internal retries.
// Unsupported verbs fail before any network I/O; transport failures are
// reported as a ConnectionError naming the target URL.
func (c *Client) send(ctx context.Context, method, uri string, payload map[string]any, params url.Values) (*http.Response, error) {
	return c.sendTimeout(ctx, method, uri, payload, params, requestTimeout(method, payload))
}

func (c *Client) sendTimeout(ctx context.Context, method, uri string, payload map[string]any, params url.Values, timeout time.Duration) (*http.Response, error) {
	target := c.apiURL + "/" + strings.TrimLeft(uri, "/")
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	var body io.Reader
	switch method {
	case http.MethodGet, http.MethodDelete:
	case http.MethodPost, http.MethodPatch:
		if payload != nil {
			data, err := json.Marshal(payload)
			if err != nil {
				return nil, fmt.Errorf("encode request payload: %w", err)
			}
			body = bytes.NewReader(data)
		}
	default:
		return nil, &InvalidMethodError{Method: method}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	for k, vals := range c.headers() {
		for _, v := range vals {
			req.Header.Set(k, v)
		}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &ConnectionError{URL: target, Err: err}
	}
	return resp, nil
}

// decodeBody reads and closes the response body into out.
func decodeBody(resp *http.Response, out any) error {
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(out)
}

// encodeObjectDict serializes an object dict for storage. Null-valued
// fields serialize as the literal string "null" rather than being
// dropped; non-finite numbers are rejected.
func encodeObjectDict(dict map[string]any) (string, error) {
	cleaned, err := replaceNulls(dict)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(cleaned)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func replaceNulls(v any) (any, error) {
	switch val := v.(type) {
	case nil:
		return "null", nil
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return nil, fmt.Errorf("non-finite number %v is not serializable", val)
		}
		return val, nil
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			cleaned, err := replaceNulls(item)
			if err != nil {
				return nil, err
			}
			out[k] = cleaned
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			cleaned, err := replaceNulls(item)
			if err != nil {
				return nil, err
			}
			out[i] = cleaned
		}
		return out, nil
	default:
		return v, nil
	}
}

// contentURL returns the canonical content link for a uuid.
func (c *Client) contentURL(uuid string) string {
	return fmt.Sprintf("%s/content/%s", c.baseURL, uuid)
}

// aliasURL returns the alias content link, or nil when either part is
// unknown.
func (c *Client) aliasURL(owner, alias string) *string {
	if owner == "" || alias == "" {
		return nil
	}
	u := fmt.Sprintf("%s/content/%s/%s", c.baseURL, owner, alias)
	return &u
}
