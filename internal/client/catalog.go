package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"aviary/internal/domain"
)

const settingsTimeout = 20 * time.Second

// FetchModels returns the catalog of available models grouped by inference
// service.
func (c *Client) FetchModels(ctx context.Context) (map[string][]string, error) {
	resp, err := c.send(ctx, http.MethodGet, "api/v0/models", nil, nil)
	if err != nil {
		return nil, err
	}
	if err := c.resolveOrErr(ctx, resp, true); err != nil {
		return nil, err
	}
	var models map[string][]string
	if err := decodeBody(resp, &models); err != nil {
		return nil, fmt.Errorf("decode models catalog: %w", err)
	}
	return models, nil
}

// FetchWorkingModels returns the catalog of models known to be working,
// with capability flags and per-million-token prices.
func (c *Client) FetchWorkingModels(ctx context.Context) ([]domain.WorkingModel, error) {
	resp, err := c.send(ctx, http.MethodGet, "api/v0/working-models", nil, nil)
	if err != nil {
		return nil, err
	}
	if err := c.resolveOrErr(ctx, resp, true); err != nil {
		return nil, err
	}
	var records []struct {
		Service         string  `json:"service"`
		Model           string  `json:"model"`
		WorksWithText   bool    `json:"works_with_text"`
		WorksWithImages bool    `json:"works_with_images"`
		InputPrice      float64 `json:"input_price_per_1M_tokens"`
		OutputPrice     float64 `json:"output_price_per_1M_tokens"`
	}
	if err := decodeBody(resp, &records); err != nil {
		return nil, fmt.Errorf("decode working models: %w", err)
	}
	models := make([]domain.WorkingModel, len(records))
	for i, r := range records {
		models[i] = domain.WorkingModel{
			Service:         r.Service,
			Model:           r.Model,
			WorksWithText:   r.WorksWithText,
			WorksWithImages: r.WorksWithImages,
			USDPer1MInput:   r.InputPrice,
			USDPer1MOutput:  r.OutputPrice,
		}
	}
	return models, nil
}

// FetchConfigVars returns the server-published rate limit configuration,
// keyed by per-service RPM and TPM variable names.
func (c *Client) FetchConfigVars(ctx context.Context) (map[string]string, error) {
	resp, err := c.send(ctx, http.MethodGet, "api/v0/config-vars", nil, nil)
	if err != nil {
		return nil, err
	}
	if err := c.resolveOrErr(ctx, resp, true); err != nil {
		return nil, err
	}
	var vars map[string]string
	if err := decodeBody(resp, &vars); err != nil {
		return nil, fmt.Errorf("decode config vars: %w", err)
	}
	return vars, nil
}

// Settings returns the server-published client settings. A slow or
// unreachable server yields an empty map rather than an error so startup
// never blocks on it; credential recovery is never triggered from here.
func (c *Client) Settings(ctx context.Context) (map[string]any, error) {
	resp, err := c.sendTimeout(ctx, http.MethodGet, "api/v0/settings", nil, nil, settingsTimeout)
	if err != nil {
		var connErr *ConnectionError
		if errors.As(err, &connErr) {
			return map[string]any{}, nil
		}
		return nil, err
	}
	if err := c.resolveOrErr(ctx, resp, false); err != nil {
		return nil, err
	}
	var settings map[string]any
	if err := decodeBody(resp, &settings); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	return settings, nil
}

// Balance returns the authenticated user's credit balance.
func (c *Client) Balance(ctx context.Context) (domain.Balance, error) {
	resp, err := c.send(ctx, http.MethodGet, "api/users/get_balance", nil, nil)
	if err != nil {
		return domain.Balance{}, err
	}
	if err := c.resolveOrErr(ctx, resp, true); err != nil {
		return domain.Balance{}, err
	}
	var balance domain.Balance
	if err := decodeBody(resp, &balance); err != nil {
		return domain.Balance{}, fmt.Errorf("decode balance: %w", err)
	}
	return balance, nil
}

// TransferResult reports the outcome of a credit transfer.
type TransferResult struct {
	Success          bool    `json:"success"`
	TransactionID    string  `json:"transaction_id,omitempty"`
	RemainingCredits float64 `json:"remaining_credits"`
}

// TransferCredits moves credits from the authenticated user to another
// user, with an optional note attached to the transfer.
func (c *Client) TransferCredits(ctx context.Context, credits int, recipientUsername, note string) (TransferResult, error) {
	if credits <= 0 {
		return TransferResult{}, &FilterValueError{Reason: "the number of credits must be positive"}
	}
	if recipientUsername == "" {
		return TransferResult{}, &FilterValueError{Reason: "a recipient username is required"}
	}
	resp, err := c.send(ctx, http.MethodPost, "api/users/gift", map[string]any{
		"credits_gifted":     credits,
		"recipient_username": recipientUsername,
		"gift_note":          note,
	}, nil)
	if err != nil {
		return TransferResult{}, err
	}
	if err := c.resolveOrErr(ctx, resp, true); err != nil {
		return TransferResult{}, err
	}
	var result TransferResult
	if err := decodeBody(resp, &result); err != nil {
		return TransferResult{}, fmt.Errorf("decode transfer result: %w", err)
	}
	return result, nil
}
