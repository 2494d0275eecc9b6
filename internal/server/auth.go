package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"aviary/internal/repo"
)

type userKey struct{}

func withUser(ctx context.Context, u repo.User) context.Context {
	return context.WithValue(ctx, userKey{}, u)
}

func userFromContext(ctx context.Context) (repo.User, huma.StatusError) {
	u, ok := ctx.Value(userKey{}).(repo.User)
	if !ok || u.ID == "" {
		return repo.User{}, apiError(http.StatusUnauthorized, missingKeyDetail)
	}
	return u, nil
}

// openPaths are reachable without credentials: the login-token exchange
// (polled before a key exists), settings, docs, and the signed blob routes
// whose tokens carry their own authorization.
func openPath(p string) bool {
	switch {
	case p == "/api/v0/get-api-key",
		p == "/api/v0/settings",
		p == "/openapi", p == "/openapi.json", p == "/openapi.yaml", p == "/docs":
		return true
	case strings.HasPrefix(p, "/blob/"):
		return true
	}
	return false
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

func (s *server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if openPath(req.URL.Path) {
			next.ServeHTTP(w, req)
			return
		}

		authz := strings.TrimSpace(req.Header.Get("Authorization"))
		if authz == "" {
			respondDetail(w, http.StatusUnauthorized, missingKeyDetail)
			return
		}
		key, ok := bearerToken(authz)
		if !ok || key == "" || key == "None" {
			respondDetail(w, http.StatusUnauthorized, invalidKeyDetail)
			return
		}
		user, err := s.repo.GetUserByKeyHash(req.Context(), repo.HashAPIKey(key))
		if err != nil {
			respondDetail(w, http.StatusUnauthorized, invalidKeyDetail)
			return
		}
		next.ServeHTTP(w, req.WithContext(withUser(req.Context(), user)))
	})
}

func respondDetail(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"detail": detail})
}

// registerAuth wires the login-token endpoints. A client mints a token and
// polls get-api-key; approving the token from an authenticated session
// binds the session's key to it.
func (s *server) registerAuth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "exchange-auth-token",
		Method:      http.MethodPost,
		Path:        "/api/v0/get-api-key",
		Summary:     "Exchange a login token for an API key",
	}, func(ctx context.Context, input *struct {
		Body struct {
			AuthToken string `json:"auth_token"`
		} `json:"body"`
	}) (*struct {
		Body struct {
			APIKey *string `json:"api_key"`
		} `json:"body"`
	}, error) {
		if input.Body.AuthToken == "" {
			return nil, apiError(http.StatusBadRequest, "auth_token is required")
		}
		// Register on first sight so a later approval has a row to bind to.
		if err := s.repo.RegisterLoginToken(ctx, input.Body.AuthToken); err != nil {
			return nil, handleError(err)
		}
		key, err := s.repo.ExchangeLoginToken(ctx, input.Body.AuthToken)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				APIKey *string `json:"api_key"`
			} `json:"body"`
		}{}
		out.Body.APIKey = key
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "approve-auth-token",
		Method:      http.MethodPost,
		Path:        "/api/v0/login/approve",
		Summary:     "Bind the caller's API key to a pending login token",
	}, func(ctx context.Context, input *struct {
		Body struct {
			AuthToken string `json:"auth_token"`
			APIKey    string `json:"api_key"`
		} `json:"body"`
	}) (*struct {
		Body struct {
			Success bool `json:"success"`
		} `json:"body"`
	}, error) {
		if _, authErr := userFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if input.Body.AuthToken == "" || input.Body.APIKey == "" {
			return nil, apiError(http.StatusBadRequest, "auth_token and api_key are required")
		}
		if err := s.repo.RegisterLoginToken(ctx, input.Body.AuthToken); err != nil {
			return nil, handleError(err)
		}
		if err := s.repo.ApproveLoginToken(ctx, input.Body.AuthToken, input.Body.APIKey); err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Success bool `json:"success"`
			} `json:"body"`
		}{}
		out.Body.Success = true
		return out, nil
	})
}
