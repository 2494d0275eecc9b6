package client

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"aviary/internal/keystore"
)

func testClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	return New(Config{
		APIKey:          "test-key",
		BaseURL:         baseURL,
		Keystore:        &keystore.Store{Dir: t.TempDir(), RunMode: "testing"},
		DisableRecovery: true,
	})
}

func TestRequestTimeoutPolicy(t *testing.T) {
	if got := requestTimeout(http.MethodGet, nil); got != 40*time.Second {
		t.Fatalf("no-payload timeout = %v", got)
	}
	if got := requestTimeout(http.MethodPost, map[string]any{"description": "x"}); got != 10*time.Second {
		t.Fatalf("small-payload timeout = %v", got)
	}
	small := map[string]any{"json_string": "tiny"}
	if got := requestTimeout(http.MethodPost, small); got != 60*time.Second {
		t.Fatalf("small json_string timeout = %v", got)
	}
	big := map[string]any{"json_string": strings.Repeat("a", 40*1024*1024)}
	if got := requestTimeout(http.MethodPost, big); got != 80*time.Second {
		t.Fatalf("large json_string timeout = %v", got)
	}
}

func TestSendRejectsUnknownMethod(t *testing.T) {
	c := testClient(t, "http://localhost:1234")
	_, err := c.send(context.Background(), "PUT", "api/v0/object", nil, nil)
	var invalid *InvalidMethodError
	if !errors.As(err, &invalid) {
		t.Fatalf("err = %v, want InvalidMethodError", err)
	}
}

func TestSendAuthorizationHeader(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		w.Write([]byte("{}"))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	resp, err := c.send(context.Background(), http.MethodGet, "anything", nil, nil)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	resp.Body.Close()
	if got != "Bearer test-key" {
		t.Fatalf("Authorization = %q", got)
	}

	anon := New(Config{BaseURL: srv.URL, Keystore: &keystore.Store{Dir: t.TempDir(), RunMode: "testing"}, DisableRecovery: true})
	resp, err = anon.send(context.Background(), http.MethodGet, "anything", nil, nil)
	if err != nil {
		t.Fatalf("send anon: %v", err)
	}
	resp.Body.Close()
	if got != "Bearer None" {
		t.Fatalf("anonymous Authorization = %q, want Bearer None", got)
	}
}

func TestSendConnectionError(t *testing.T) {
	c := testClient(t, "http://127.0.0.1:1")
	_, err := c.send(context.Background(), http.MethodGet, "api/v0/object", nil, nil)
	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("err = %v, want ConnectionError", err)
	}
	if !strings.Contains(connErr.URL, "api/v0/object") {
		t.Fatalf("connection error does not name the URL: %v", connErr)
	}
}

func TestEncodeObjectDictNulls(t *testing.T) {
	out, err := encodeObjectDict(map[string]any{
		"a": nil,
		"b": map[string]any{"c": nil},
		"d": []any{nil, 1.0},
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded["a"] != "null" {
		t.Fatalf(`top-level nil = %v, want "null"`, decoded["a"])
	}
	if decoded["b"].(map[string]any)["c"] != "null" {
		t.Fatal("nested nil not replaced")
	}
	if decoded["d"].([]any)[0] != "null" {
		t.Fatal("nil in array not replaced")
	}
}

func TestEncodeObjectDictRejectsNonFinite(t *testing.T) {
	nan := math.NaN()
	if _, err := encodeObjectDict(map[string]any{"x": nan}); err == nil {
		t.Fatal("expected error for NaN value")
	}
	if _, err := encodeObjectDict(map[string]any{"x": math.Inf(1)}); err == nil {
		t.Fatal("expected error for Inf value")
	}
}

func TestContentURLs(t *testing.T) {
	c := testClient(t, "https://www.aviary.cloud/")
	if got := c.contentURL("abc"); got != "https://www.aviary.cloud/content/abc" {
		t.Fatalf("contentURL = %q", got)
	}
	if got := c.aliasURL("alice", "s1"); got == nil || *got != "https://www.aviary.cloud/content/alice/s1" {
		t.Fatalf("aliasURL = %v", got)
	}
	if c.aliasURL("", "s1") != nil || c.aliasURL("alice", "") != nil {
		t.Fatal("aliasURL with missing part should be nil")
	}
}
