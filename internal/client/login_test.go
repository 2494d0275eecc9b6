package client

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMintAuthTokenURLSafe(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 10; i++ {
		token := mintAuthToken()
		if token == "" {
			t.Fatal("empty token")
		}
		for _, r := range token {
			if r == '+' || r == '/' || r == '=' {
				t.Fatalf("token %q contains non-url-safe character %q", token, r)
			}
		}
		if seen[token] {
			t.Fatalf("token %q repeated", token)
		}
		seen[token] = true
	}
}

func TestPollForKeyImmediate(t *testing.T) {
	key, ok := pollForKey(context.Background(), func(context.Context) (string, error) {
		return "the-key", nil
	}, time.Millisecond, time.Second)
	if !ok || key != "the-key" {
		t.Fatalf("pollForKey = %q, %v", key, ok)
	}
}

func TestPollForKeyEventually(t *testing.T) {
	calls := 0
	key, ok := pollForKey(context.Background(), func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", nil
		}
		return "late-key", nil
	}, time.Millisecond, time.Second)
	if !ok || key != "late-key" {
		t.Fatalf("pollForKey = %q, %v", key, ok)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestPollForKeyTimeout(t *testing.T) {
	start := time.Now()
	_, ok := pollForKey(context.Background(), func(context.Context) (string, error) {
		return "", errors.New("pending")
	}, time.Millisecond, 50*time.Millisecond)
	if ok {
		t.Fatal("expected timeout")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("timeout took %v", elapsed)
	}
}

func TestPollForKeyContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, ok := pollForKey(ctx, func(context.Context) (string, error) {
		return "", nil
	}, 10*time.Second, time.Hour)
	if ok {
		t.Fatal("expected cancellation to stop polling")
	}
}
