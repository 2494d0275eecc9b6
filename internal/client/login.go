package client

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"aviary/internal/keystore"
)

// mintAuthToken returns a url-safe one-time login token. The token is not
// server-verified until exchanged; its lifetime is bounded by the polling
// timeout rather than the token itself.
func mintAuthToken() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return base64.RawURLEncoding.EncodeToString(buf)
}

// exchangeAuthToken asks the server for the API key issued against a
// login token. An empty key means the user has not completed login yet.
func (c *Client) exchangeAuthToken(ctx context.Context, token string) (string, error) {
	resp, err := c.send(ctx, http.MethodPost, "api/v0/get-api-key", map[string]any{
		"auth_token": token,
	}, nil)
	if err != nil {
		return "", err
	}
	var body struct {
		APIKey *string `json:"api_key"`
	}
	if err := decodeBody(resp, &body); err != nil {
		return "", err
	}
	if body.APIKey == nil {
		return "", nil
	}
	return *body.APIKey, nil
}

// pollForKey runs the pure polling state machine: call exchange on a
// fixed interval until it yields a key or the timeout elapses. The wait
// checks in small steps so the deadline is honored promptly. Returns
// ("", false) on timeout.
func pollForKey(ctx context.Context, exchange func(context.Context) (string, error), interval, timeout time.Duration) (string, bool) {
	deadline := time.Now().Add(timeout)
	for {
		if time.Now().After(deadline) {
			return "", false
		}
		key, err := exchange(ctx)
		if err == nil && key != "" {
			return key, true
		}
		waitUntil := time.Now().Add(interval)
		for time.Now().Before(waitUntil) {
			if time.Now().After(deadline) {
				return "", false
			}
			select {
			case <-ctx.Done():
				return "", false
			case <-time.After(100 * time.Millisecond):
			}
		}
	}
}

func (c *Client) displayLoginURL(token, description string) {
	if description != "" {
		fmt.Fprintln(c.out, description)
	}
	fmt.Fprintf(c.out, "%s/login?auth_token=%s\n", c.baseURL, token)
	fmt.Fprintln(c.out, "Logging in will activate the following features:")
	fmt.Fprintln(c.out, "  - Remote inference: runs jobs remotely on the Aviary server.")
	fmt.Fprintln(c.out, "  - Remote logging: sends error messages to the Aviary server.")
	fmt.Fprintln(c.out)
}

// Login starts the interactive login flow: mint a token, display the
// login URL, poll until the server issues a key, and persist it to a
// .env file. Returns the issued key or ErrLoginTimeout.
func (c *Client) Login(ctx context.Context) (string, error) {
	token := mintAuthToken()
	c.displayLoginURL(token, "Use the link below to log in so we can automatically update your API key.")

	key, ok := pollForKey(ctx, func(ctx context.Context) (string, error) {
		return c.exchangeAuthToken(ctx, token)
	}, c.pollInterval, c.loginTimeout)
	if !ok {
		return "", ErrLoginTimeout
	}

	path, err := keystore.WriteEnvFile(".", key)
	if err != nil {
		return "", err
	}
	fmt.Fprintln(c.out, "API key retrieved and written to .env file at the following path:")
	fmt.Fprintf(c.out, "    %s\n", path)
	return key, nil
}

// recoverCredentials is the invalid-credential remediation: it runs the
// login flow synchronously and offers to persist the issued key. The
// operation that triggered it is abandoned either way.
func (c *Client) recoverCredentials(ctx context.Context) {
	token := mintAuthToken()
	fmt.Fprintln(c.out, "Your Aviary API key is invalid.")
	c.displayLoginURL(token, "Use the link below to log in to your account and automatically update your API key.")

	key, ok := pollForKey(ctx, func(ctx context.Context) (string, error) {
		return c.exchangeAuthToken(ctx, token)
	}, c.pollInterval, c.loginTimeout)
	if !ok {
		fmt.Fprintln(c.out, "Timed out waiting for login. Please try again.")
		return
	}
	fmt.Fprintln(c.out, "API key retrieved.")

	if c.keystore != nil && c.keystore.AskToStore(key) {
		return
	}
	path, err := keystore.WriteEnvFile(".", key)
	if err != nil {
		fmt.Fprintf(c.out, "Could not write .env file: %v\n", err)
		return
	}
	fmt.Fprintln(c.out, "API key retrieved and written to .env file at the following path:")
	fmt.Fprintf(c.out, "    %s\n", path)
	fmt.Fprintln(c.out, "Rerun your code to try again with a valid API key.")
}
