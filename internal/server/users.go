package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"
)

type workingModelRecord struct {
	Service         string  `json:"service"`
	Model           string  `json:"model"`
	WorksWithText   bool    `json:"works_with_text"`
	WorksWithImages bool    `json:"works_with_images"`
	InputPrice      float64 `json:"input_price_per_1M_tokens"`
	OutputPrice     float64 `json:"output_price_per_1M_tokens"`
}

// defaultWorkingModels is the static catalog served locally. The hosted
// service derives this from live health checks.
func defaultWorkingModels() []workingModelRecord {
	return []workingModelRecord{
		{Service: "openai", Model: "gpt-4o", WorksWithText: true, WorksWithImages: true, InputPrice: 2.5, OutputPrice: 10.0},
		{Service: "openai", Model: "gpt-4o-mini", WorksWithText: true, WorksWithImages: true, InputPrice: 0.15, OutputPrice: 0.6},
		{Service: "anthropic", Model: "claude-3-5-sonnet-20241022", WorksWithText: true, WorksWithImages: true, InputPrice: 3.0, OutputPrice: 15.0},
		{Service: "google", Model: "gemini-1.5-flash", WorksWithText: true, WorksWithImages: true, InputPrice: 0.075, OutputPrice: 0.3},
	}
}

func (s *server) registerCatalog(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-models",
		Method:      http.MethodGet,
		Path:        "/api/v0/models",
		Summary:     "List available models by service",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string][]string `json:"body"`
	}, error) {
		if _, authErr := userFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		byService := map[string][]string{}
		for _, m := range s.workingModel {
			byService[m.Service] = append(byService[m.Service], m.Model)
		}
		return &struct {
			Body map[string][]string `json:"body"`
		}{Body: byService}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-working-models",
		Method:      http.MethodGet,
		Path:        "/api/v0/working-models",
		Summary:     "List working models with capabilities and prices",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []workingModelRecord `json:"body"`
	}, error) {
		if _, authErr := userFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		return &struct {
			Body []workingModelRecord `json:"body"`
		}{Body: s.workingModel}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "config-vars",
		Method:      http.MethodGet,
		Path:        "/api/v0/config-vars",
		Summary:     "Rate limit configuration variables",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		if _, authErr := userFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{
			"AVIARY_SERVICE_RPM_OPENAI":    "100",
			"AVIARY_SERVICE_TPM_OPENAI":    "2000000",
			"AVIARY_SERVICE_RPM_ANTHROPIC": "80",
			"AVIARY_SERVICE_TPM_ANTHROPIC": "2000000",
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "settings",
		Method:      http.MethodGet,
		Path:        "/api/v0/settings",
		Summary:     "Server-published client settings",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: map[string]any{
			"remote_inference": true,
			"remote_caching":   true,
		}}, nil
	})
}

func (s *server) registerUsers(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "get-balance",
		Method:      http.MethodGet,
		Path:        "/api/users/get_balance",
		Summary:     "The caller's credit balance",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body struct {
			Credits float64 `json:"credits"`
		} `json:"body"`
	}, error) {
		user, authErr := userFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		// Read back so the balance reflects transfers in this process.
		fresh, err := s.repo.GetUserByKeyHash(ctx, user.APIKeyHash)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Credits float64 `json:"credits"`
			} `json:"body"`
		}{}
		out.Body.Credits = fresh.Credits
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "gift-credits",
		Method:      http.MethodPost,
		Path:        "/api/users/gift",
		Summary:     "Transfer credits to another user",
	}, func(ctx context.Context, input *struct {
		Body struct {
			CreditsGifted     float64 `json:"credits_gifted"`
			RecipientUsername string  `json:"recipient_username"`
			GiftNote          string  `json:"gift_note,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body struct {
			Success          bool    `json:"success"`
			TransactionID    string  `json:"transaction_id"`
			RemainingCredits float64 `json:"remaining_credits"`
		} `json:"body"`
	}, error) {
		user, authErr := userFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if input.Body.CreditsGifted <= 0 {
			return nil, apiError(http.StatusBadRequest, "credits_gifted must be positive")
		}
		if input.Body.RecipientUsername == "" {
			return nil, apiError(http.StatusBadRequest, "recipient_username is required")
		}
		recipient, err := s.repo.GetUserByUsername(ctx, input.Body.RecipientUsername)
		if err != nil {
			return nil, apiError(http.StatusNotFound, "Recipient not found.")
		}
		if recipient.ID == user.ID {
			return nil, apiError(http.StatusBadRequest, "cannot transfer credits to yourself")
		}

		tx, err := s.repo.DB.BeginTx(ctx, nil)
		if err != nil {
			return nil, handleError(err)
		}
		defer tx.Rollback()
		remaining, err := s.repo.AdjustCredits(ctx, tx, user.ID, -input.Body.CreditsGifted)
		if err != nil {
			return nil, handleError(err)
		}
		if remaining < 0 {
			return nil, apiError(http.StatusPaymentRequired, "insufficient credits")
		}
		if _, err := s.repo.AdjustCredits(ctx, tx, recipient.ID, input.Body.CreditsGifted); err != nil {
			return nil, handleError(err)
		}
		if err := tx.Commit(); err != nil {
			return nil, handleError(err)
		}

		out := &struct {
			Body struct {
				Success          bool    `json:"success"`
				TransactionID    string  `json:"transaction_id"`
				RemainingCredits float64 `json:"remaining_credits"`
			} `json:"body"`
		}{}
		out.Body.Success = true
		out.Body.TransactionID = uuid.NewString()
		out.Body.RemainingCredits = remaining
		return out, nil
	})
}
