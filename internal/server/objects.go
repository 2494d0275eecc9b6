package server

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"aviary/internal/domain"
	"aviary/internal/repo"
)

const signedURLTTL = 15 * time.Minute

const (
	blobKindPayload = "payload"
	blobKindFile    = "file"
)

type blobClaims struct {
	jwt.RegisteredClaims
	Kind string `json:"kind"`
}

// signBlobURL mints a one-object upload or download link. The token is the
// whole credential; the routes are otherwise unauthenticated.
func (s *server) signBlobURL(action, kind, objectUUID string) (string, error) {
	claims := blobClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   objectUUID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(signedURLTTL)),
		},
		Kind: kind,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/blob/%s/%s", s.publicURL, action, token), nil
}

func (s *server) parseBlobToken(token string) (blobClaims, error) {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &blobClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return s.jwtSecret, nil
	})
	if err != nil {
		return blobClaims{}, err
	}
	if !parsed.Valid || claims.Subject == "" {
		return blobClaims{}, fmt.Errorf("invalid token")
	}
	return *claims, nil
}

type objectResponse struct {
	UUID          string            `json:"uuid"`
	ObjectType    domain.ObjectType `json:"object_type"`
	OwnerUsername string            `json:"owner_username"`
	Alias         *string           `json:"alias,omitempty"`
	Description   *string           `json:"description,omitempty"`
	Visibility    domain.Visibility `json:"visibility"`
	Version       string            `json:"version"`
	ObjectHash    *string           `json:"object_hash,omitempty"`
	JSONString    string            `json:"json_string"`
	CreatedTS     string            `json:"created_ts"`
	LastUpdatedTS string            `json:"last_updated_ts"`
}

func (s *server) objectResponse(o repo.ObjectRecord) (objectResponse, error) {
	jsonString := o.JSONString
	if len(jsonString) > s.inlineLimit {
		link, err := s.signBlobURL("download", blobKindPayload, o.UUID)
		if err != nil {
			return objectResponse{}, err
		}
		jsonString = "load_from:" + link
	}
	return objectResponse{
		UUID:          o.UUID,
		ObjectType:    o.ObjectType,
		OwnerUsername: o.OwnerUsername,
		Alias:         o.Alias,
		Description:   o.Description,
		Visibility:    o.Visibility,
		Version:       o.Version,
		ObjectHash:    o.ObjectHash,
		JSONString:    jsonString,
		CreatedTS:     o.CreatedAt,
		LastUpdatedTS: o.LastUpdatedAt,
	}, nil
}

// readableBy reports whether a user may fetch the object. Private objects
// are owner-only; public and unlisted ones are readable by anyone who can
// address them.
func readableBy(o repo.ObjectRecord, u repo.User) bool {
	if o.Visibility != domain.VisibilityPrivate {
		return true
	}
	return o.OwnerID == u.ID
}

type createObjectRequest struct {
	Description       *string                   `json:"description,omitempty"`
	Alias             *string                   `json:"alias,omitempty"`
	JSONString        string                    `json:"json_string"`
	ObjectType        domain.ObjectType         `json:"object_type"`
	FileStoreMetadata *domain.FileStoreMetadata `json:"file_store_metadata,omitempty"`
	Visibility        domain.Visibility         `json:"visibility"`
	Version           string                    `json:"version"`
	ObjectHash        *string                   `json:"object_hash,omitempty"`
}

type createObjectResponse struct {
	UUID                     string            `json:"uuid"`
	Description              *string           `json:"description,omitempty"`
	Alias                    *string           `json:"alias,omitempty"`
	OwnerUsername            string            `json:"owner_username"`
	Visibility               domain.Visibility `json:"visibility"`
	UploadSignedURL          string            `json:"upload_signed_url,omitempty"`
	FileStoreUploadSignedURL string            `json:"file_store_upload_signed_url,omitempty"`
}

func (s *server) registerObjects(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-object",
		Method:        http.MethodPost,
		Path:          "/api/v0/object",
		Summary:       "Store an object",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body createObjectRequest `json:"body"`
	}) (*struct {
		Body createObjectResponse `json:"body"`
	}, error) {
		user, authErr := userFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if input.Body.ObjectType == "" {
			return nil, apiError(http.StatusBadRequest, "object_type is required")
		}
		if input.Body.Visibility == "" {
			input.Body.Visibility = domain.VisibilityUnlisted
		}

		rec := repo.ObjectRecord{
			UUID:        uuid.NewString(),
			OwnerID:     user.ID,
			ObjectType:  input.Body.ObjectType,
			Description: input.Body.Description,
			Alias:       input.Body.Alias,
			Visibility:  input.Body.Visibility,
			Version:     input.Body.Version,
			ObjectHash:  input.Body.ObjectHash,
			JSONString:  input.Body.JSONString,
		}
		if md := input.Body.FileStoreMetadata; md != nil {
			rec.FileSuffix = &md.Suffix
			rec.FileMimeType = &md.MimeType
		}
		if err := s.repo.InsertObject(ctx, rec); err != nil {
			return nil, handleError(err)
		}

		resp := createObjectResponse{
			UUID:          rec.UUID,
			Description:   rec.Description,
			Alias:         rec.Alias,
			OwnerUsername: user.Username,
			Visibility:    rec.Visibility,
		}
		// Scenario payloads arrive out of band through the blob routes.
		if rec.ObjectType == domain.ObjectTypeScenario {
			link, err := s.signBlobURL("upload", blobKindPayload, rec.UUID)
			if err != nil {
				return nil, handleError(err)
			}
			resp.UploadSignedURL = link
			if input.Body.FileStoreMetadata != nil {
				fileLink, err := s.signBlobURL("upload", blobKindFile, rec.UUID)
				if err != nil {
					return nil, handleError(err)
				}
				resp.FileStoreUploadSignedURL = fileLink
			}
		}
		return &struct {
			Body createObjectResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-object",
		Method:      http.MethodGet,
		Path:        "/api/v0/object",
		Summary:     "Fetch an object by uuid",
	}, func(ctx context.Context, input *struct {
		UUID string `query:"uuid" required:"true"`
	}) (*struct {
		Body objectResponse `json:"body"`
	}, error) {
		return s.fetchObject(ctx, func(ctx context.Context) (repo.ObjectRecord, error) {
			return s.repo.GetObject(ctx, input.UUID)
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-object-by-alias",
		Method:      http.MethodGet,
		Path:        "/api/v0/object/alias",
		Summary:     "Fetch an object by owner and alias",
	}, func(ctx context.Context, input *struct {
		OwnerUsername string `query:"owner_username" required:"true"`
		Alias         string `query:"alias" required:"true"`
	}) (*struct {
		Body objectResponse `json:"body"`
	}, error) {
		return s.fetchObject(ctx, func(ctx context.Context) (repo.ObjectRecord, error) {
			return s.repo.GetObjectByAlias(ctx, input.OwnerUsername, input.Alias)
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-objects",
		Method:      http.MethodGet,
		Path:        "/api/v0/object/list",
		Summary:     "List the caller's objects",
	}, func(ctx context.Context, input *struct {
		Types         []string `query:"type"`
		Visibility    []string `query:"visibility"`
		SearchQuery   string   `query:"search_query"`
		Page          int      `query:"page"`
		PageSize      int      `query:"page_size"`
		SortAscending bool     `query:"sort_ascending"`
	}) (*struct {
		Body []objectResponse `json:"body"`
	}, error) {
		user, authErr := userFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		filter := repo.ObjectFilter{
			SearchQuery:   input.SearchQuery,
			Page:          input.Page,
			PageSize:      input.PageSize,
			SortAscending: input.SortAscending,
		}
		for _, t := range input.Types {
			filter.Types = append(filter.Types, domain.ObjectType(t))
		}
		for _, v := range input.Visibility {
			filter.Visibility = append(filter.Visibility, domain.Visibility(v))
		}
		records, err := s.repo.ListObjects(ctx, user.ID, filter)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]objectResponse, 0, len(records))
		for _, rec := range records {
			resp, err := s.objectResponse(rec)
			if err != nil {
				return nil, handleError(err)
			}
			out = append(out, resp)
		}
		return &struct {
			Body []objectResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-object-uuid-by-hash",
		Method:      http.MethodGet,
		Path:        "/api/v0/object/hash/{hash}",
		Summary:     "Look up an object uuid by content hash",
	}, func(ctx context.Context, input *struct {
		Hash string `path:"hash"`
	}) (*struct {
		Body struct {
			UUID string `json:"uuid"`
		} `json:"body"`
	}, error) {
		if _, authErr := userFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		id, err := s.repo.GetObjectUUIDByHash(ctx, input.Hash)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				UUID string `json:"uuid"`
			} `json:"body"`
		}{}
		out.Body.UUID = id
		return out, nil
	})

	type patchBody struct {
		Description *string            `json:"description,omitempty"`
		Alias       *string            `json:"alias,omitempty"`
		JSONString  *string            `json:"json_string,omitempty"`
		Visibility  *domain.Visibility `json:"visibility,omitempty"`
	}
	applyPatch := func(ctx context.Context, body patchBody, uuidParam, owner, alias string) error {
		user, authErr := userFromContext(ctx)
		if authErr != nil {
			return authErr
		}
		rec, err := s.resolveOwned(ctx, user, uuidParam, owner, alias)
		if err != nil {
			return err
		}
		patch := repo.ObjectPatch{
			Description: body.Description,
			Alias:       body.Alias,
			Visibility:  body.Visibility,
			JSONString:  body.JSONString,
		}
		if err := s.repo.UpdateObject(ctx, rec.UUID, user.ID, patch); err != nil {
			return handleError(err)
		}
		return nil
	}

	huma.Register(api, huma.Operation{
		OperationID: "patch-object",
		Method:      http.MethodPatch,
		Path:        "/api/v0/object",
		Summary:     "Update an object's attributes by uuid",
	}, func(ctx context.Context, input *struct {
		UUID string    `query:"uuid" required:"true"`
		Body patchBody `json:"body"`
	}) (*struct {
		Body struct {
			Success bool `json:"success"`
		} `json:"body"`
	}, error) {
		if err := applyPatch(ctx, input.Body, input.UUID, "", ""); err != nil {
			return nil, handleError(err)
		}
		return successBody(), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "patch-object-by-alias",
		Method:      http.MethodPatch,
		Path:        "/api/v0/object/alias",
		Summary:     "Update an object's attributes by owner and alias",
	}, func(ctx context.Context, input *struct {
		OwnerUsername string    `query:"owner_username" required:"true"`
		Alias         string    `query:"alias" required:"true"`
		Body          patchBody `json:"body"`
	}) (*struct {
		Body struct {
			Success bool `json:"success"`
		} `json:"body"`
	}, error) {
		if err := applyPatch(ctx, input.Body, "", input.OwnerUsername, input.Alias); err != nil {
			return nil, handleError(err)
		}
		return successBody(), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-object",
		Method:      http.MethodDelete,
		Path:        "/api/v0/object",
		Summary:     "Delete an object by uuid",
	}, func(ctx context.Context, input *struct {
		UUID string `query:"uuid" required:"true"`
	}) (*struct {
		Body struct {
			Success bool `json:"success"`
		} `json:"body"`
	}, error) {
		if err := s.deleteObject(ctx, input.UUID, "", ""); err != nil {
			return nil, handleError(err)
		}
		return successBody(), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-object-by-alias",
		Method:      http.MethodDelete,
		Path:        "/api/v0/object/alias",
		Summary:     "Delete an object by owner and alias",
	}, func(ctx context.Context, input *struct {
		OwnerUsername string `query:"owner_username" required:"true"`
		Alias         string `query:"alias" required:"true"`
	}) (*struct {
		Body struct {
			Success bool `json:"success"`
		} `json:"body"`
	}, error) {
		if err := s.deleteObject(ctx, "", input.OwnerUsername, input.Alias); err != nil {
			return nil, handleError(err)
		}
		return successBody(), nil
	})
}

func successBody() *struct {
	Body struct {
		Success bool `json:"success"`
	} `json:"body"`
} {
	out := &struct {
		Body struct {
			Success bool `json:"success"`
		} `json:"body"`
	}{}
	out.Body.Success = true
	return out
}

func (s *server) fetchObject(ctx context.Context, load func(context.Context) (repo.ObjectRecord, error)) (*struct {
	Body objectResponse `json:"body"`
}, error) {
	user, authErr := userFromContext(ctx)
	if authErr != nil {
		return nil, authErr
	}
	rec, err := load(ctx)
	if err != nil {
		return nil, handleError(err)
	}
	if !readableBy(rec, user) {
		return nil, apiError(http.StatusNotFound, "Object not found.")
	}
	resp, err := s.objectResponse(rec)
	if err != nil {
		return nil, handleError(err)
	}
	return &struct {
		Body objectResponse `json:"body"`
	}{Body: resp}, nil
}

func (s *server) resolveOwned(ctx context.Context, user repo.User, uuidParam, owner, alias string) (repo.ObjectRecord, error) {
	var (
		rec repo.ObjectRecord
		err error
	)
	if uuidParam != "" {
		rec, err = s.repo.GetObject(ctx, uuidParam)
	} else {
		rec, err = s.repo.GetObjectByAlias(ctx, owner, alias)
	}
	if err != nil {
		return repo.ObjectRecord{}, handleError(err)
	}
	if rec.OwnerID != user.ID {
		return repo.ObjectRecord{}, apiError(http.StatusNotFound, "Object not found.")
	}
	return rec, nil
}

func (s *server) deleteObject(ctx context.Context, uuidParam, owner, alias string) error {
	user, authErr := userFromContext(ctx)
	if authErr != nil {
		return authErr
	}
	rec, err := s.resolveOwned(ctx, user, uuidParam, owner, alias)
	if err != nil {
		return err
	}
	return handleErrorOrNil(s.repo.DeleteObject(ctx, rec.UUID, user.ID))
}

func handleErrorOrNil(err error) error {
	if err == nil {
		return nil
	}
	return handleError(err)
}

// registerBlobRoutes wires the raw signed-URL routes. They speak the blob
// store's dialect: bare bytes in, XML error bodies out.
func (s *server) registerBlobRoutes(router chi.Router) {
	router.Put("/blob/upload/{token}", func(w http.ResponseWriter, r *http.Request) {
		claims, err := s.parseBlobToken(chi.URLParam(r, "token"))
		if err != nil {
			respondBlobError(w, http.StatusForbidden, "InvalidToken", "the upload token is invalid or expired", err.Error())
			return
		}
		data, err := io.ReadAll(r.Body)
		if err != nil {
			respondBlobError(w, http.StatusBadRequest, "ReadFailure", "the upload body could not be read", err.Error())
			return
		}
		switch claims.Kind {
		case blobKindPayload:
			err = s.repo.SetObjectPayload(r.Context(), claims.Subject, string(data))
		case blobKindFile:
			err = s.repo.SetObjectFile(r.Context(), claims.Subject, data)
		default:
			respondBlobError(w, http.StatusForbidden, "InvalidToken", "unknown upload kind", claims.Kind)
			return
		}
		if err != nil {
			respondBlobError(w, http.StatusNotFound, "NoSuchObject", "the target object does not exist", claims.Subject)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	router.Get("/blob/download/{token}", func(w http.ResponseWriter, r *http.Request) {
		claims, err := s.parseBlobToken(chi.URLParam(r, "token"))
		if err != nil {
			respondBlobError(w, http.StatusForbidden, "InvalidToken", "the download token is invalid or expired", err.Error())
			return
		}
		switch claims.Kind {
		case blobKindPayload:
			rec, err := s.repo.GetObject(r.Context(), claims.Subject)
			if err != nil {
				respondBlobError(w, http.StatusNotFound, "NoSuchObject", "the object does not exist", claims.Subject)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			io.WriteString(w, rec.JSONString)
		case blobKindFile:
			data, err := s.repo.GetObjectFile(r.Context(), claims.Subject)
			if err != nil {
				respondBlobError(w, http.StatusNotFound, "NoSuchObject", "the object file does not exist", claims.Subject)
				return
			}
			w.Header().Set("Content-Type", "application/octet-stream")
			w.Write(data)
		default:
			respondBlobError(w, http.StatusForbidden, "InvalidToken", "unknown download kind", claims.Kind)
		}
	})
}

type blobError struct {
	XMLName xml.Name `xml:"Error"`
	Code    string   `xml:"Code"`
	Message string   `xml:"Message"`
	Details string   `xml:"Details"`
}

func respondBlobError(w http.ResponseWriter, status int, code, message, details string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	_ = xml.NewEncoder(w).Encode(blobError{Code: code, Message: message, Details: details})
}
