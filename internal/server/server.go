// Package server implements a self-contained Aviary API server backed by
// sqlite. It answers the same wire contract as the hosted service, including
// the signed-URL upload protocol, so clients can run against it unchanged.
package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"aviary/internal/repo"
)

// invalidKeyDetail is the canonical bad-credential message. Clients match
// on it to start their login recovery flow, so the wording is contractual.
const invalidKeyDetail = "The API key you provided is invalid. Please visit your profile page to view your API key."

const missingKeyDetail = "No Authorization header was provided. Please provide an Aviary API key."

// Config for the HTTP API handler.
type Config struct {
	Repo repo.Repo

	// PublicURL is the externally reachable base of this server, used to
	// mint signed upload and download links. Required.
	PublicURL string

	// JWTSecret signs upload and download tokens. Randomized when empty,
	// which invalidates outstanding links across restarts.
	JWTSecret string

	// InlinePayloadLimit is the largest json_string returned inline from
	// object reads; larger payloads are answered with a load_from link.
	// Zero means 64KiB.
	InlinePayloadLimit int

	Logger *log.Logger
}

type server struct {
	repo         repo.Repo
	publicURL    string
	jwtSecret    []byte
	inlineLimit  int
	logger       *log.Logger
	workingModel []workingModelRecord
}

type detailError struct {
	status int
	Detail string `json:"detail"`
}

func (e *detailError) GetStatus() int { return e.status }
func (e *detailError) Error() string  { return e.Detail }

func apiError(status int, detail string) huma.StatusError {
	return &detailError{status: status, Detail: detail}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if se, ok := err.(huma.StatusError); ok {
		return se
	}
	if errors.Is(err, repo.ErrNotFound) {
		return apiError(http.StatusNotFound, "Object not found.")
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	if strings.Contains(lowered, "unique") || strings.Contains(lowered, "constraint") {
		return apiError(http.StatusConflict, msg)
	}
	if strings.Contains(lowered, "required") || strings.Contains(lowered, "invalid") {
		return apiError(http.StatusBadRequest, msg)
	}
	return apiError(http.StatusInternalServerError, "internal error")
}

// New returns an HTTP handler exposing the Aviary API.
func New(cfg Config) (http.Handler, error) {
	if cfg.PublicURL == "" {
		return nil, errors.New("public url required")
	}
	secret := cfg.JWTSecret
	if secret == "" {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return nil, err
		}
		secret = hex.EncodeToString(buf)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	inlineLimit := cfg.InlinePayloadLimit
	if inlineLimit == 0 {
		inlineLimit = 64 * 1024
	}
	s := &server{
		repo:         cfg.Repo,
		publicURL:    strings.TrimRight(cfg.PublicURL, "/"),
		jwtSecret:    []byte(secret),
		inlineLimit:  inlineLimit,
		logger:       logger,
		workingModel: defaultWorkingModels(),
	}

	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return apiError(status, msg)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity {
			status = http.StatusBadRequest
		}
		return apiError(status, msg)
	}

	router := chi.NewRouter()
	router.Use(s.authMiddleware)
	hcfg := huma.DefaultConfig("Aviary API", "0.4.12")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "/docs"
	api := humachi.New(router, hcfg)

	s.registerObjects(api)
	s.registerProjects(api)
	s.registerJobs(api)
	s.registerCache(api)
	s.registerCatalog(api)
	s.registerUsers(api)
	s.registerAuth(api)
	s.registerBlobRoutes(router)

	return router, nil
}

// SeedUser creates an account and returns its API key. Intended for local
// servers and tests; the hosted service provisions accounts elsewhere.
func SeedUser(r repo.Repo, username string, credits float64) (string, error) {
	key := "ak-" + uuid.NewString()
	err := r.InsertUser(context.Background(), repo.User{
		ID:         uuid.NewString(),
		Username:   username,
		APIKeyHash: repo.HashAPIKey(key),
		Credits:    credits,
	})
	if err != nil {
		return "", err
	}
	return key, nil
}
