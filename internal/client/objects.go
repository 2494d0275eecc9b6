package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"aviary/internal/domain"
	"aviary/internal/registry"
)

// CreateInfo is returned by Create.
type CreateInfo struct {
	Description *string           `json:"description,omitempty"`
	ObjectType  domain.ObjectType `json:"object_type"`
	URL         string            `json:"url"`
	AliasURL    *string           `json:"alias_url,omitempty"`
	UUID        string            `json:"uuid"`
	Version     string            `json:"version"`
	Visibility  domain.Visibility `json:"visibility"`
}

// CreateOptions are the optional attributes of a stored object.
type CreateOptions struct {
	Description *string
	Alias       *string
	Visibility  domain.Visibility
}

type createResponse struct {
	UUID                     string            `json:"uuid"`
	Description              *string           `json:"description,omitempty"`
	Alias                    *string           `json:"alias,omitempty"`
	OwnerUsername            string            `json:"owner_username,omitempty"`
	Visibility               domain.Visibility `json:"visibility"`
	UploadSignedURL          string            `json:"upload_signed_url,omitempty"`
	FileStoreUploadSignedURL string            `json:"file_store_upload_signed_url,omitempty"`
}

// Create stores an object. A new identity is always allocated; nothing is
// ever implicitly overwritten. Scenario payloads are sent out of band via
// the signed-URL upload protocol; everything else travels in the request
// body.
func (c *Client) Create(ctx context.Context, obj registry.Object, opts CreateOptions) (CreateInfo, error) {
	if opts.Visibility == "" {
		opts.Visibility = domain.VisibilityUnlisted
	}
	objectType := obj.ObjectType()
	dict := obj.Dict()
	objectHash := registry.Hash(obj)

	jsonString, err := encodeObjectDict(dict)
	if err != nil {
		return CreateInfo{}, err
	}

	var fileStoreMetadata *domain.FileStoreMetadata
	scenario, isScenario := obj.(registry.Scenario)
	if isScenario {
		if md, ok := scenario.Metadata(); ok {
			fileStoreMetadata = &md
		}
	}

	bodyJSON := jsonString
	if objectType == domain.ObjectTypeScenario {
		// Scenario payloads go through the signed-URL protocol; the create
		// body carries only metadata.
		bodyJSON = ""
	}

	payload := map[string]any{
		"description":         opts.Description,
		"alias":               opts.Alias,
		"json_string":         bodyJSON,
		"object_type":         string(objectType),
		"file_store_metadata": fileStoreMetadata,
		"visibility":          string(opts.Visibility),
		"version":             Version,
		"object_hash":         objectHash,
	}

	resp, err := c.send(ctx, http.MethodPost, "api/v0/object", payload, nil)
	if err != nil {
		return CreateInfo{}, err
	}
	if err := c.resolveOrErr(ctx, resp, true); err != nil {
		return CreateInfo{}, err
	}
	var body createResponse
	if err := decodeBody(resp, &body); err != nil {
		return CreateInfo{}, fmt.Errorf("decode create response: %w", err)
	}

	if objectType == domain.ObjectTypeScenario {
		if err := c.uploadScenario(ctx, scenario, jsonString, fileStoreMetadata, body); err != nil {
			return CreateInfo{}, err
		}
	}

	alias := ""
	if body.Alias != nil {
		alias = *body.Alias
	}
	return CreateInfo{
		Description: body.Description,
		ObjectType:  objectType,
		URL:         c.contentURL(body.UUID),
		AliasURL:    c.aliasURL(body.OwnerUsername, alias),
		UUID:        body.UUID,
		Version:     Version,
		Visibility:  body.Visibility,
	}, nil
}

// Get retrieves an object by uuid, URL, or owner/alias URL. If
// expectedType is non-empty and the stored type differs, a
// TypeMismatchError is returned.
func (c *Client) Get(ctx context.Context, urlOrUUID string, expectedType domain.ObjectType) (registry.Object, error) {
	ref, err := ParseRef(urlOrUUID)
	if err != nil {
		return nil, err
	}

	resp, err := c.send(ctx, http.MethodGet, objectURI(ref), nil, refParams(ref))
	if err != nil {
		return nil, err
	}
	if err := c.resolveOrErr(ctx, resp, true); err != nil {
		return nil, err
	}
	var body struct {
		JSONString string            `json:"json_string"`
		ObjectType domain.ObjectType `json:"object_type"`
	}
	if err := decodeBody(resp, &body); err != nil {
		return nil, fmt.Errorf("decode object response: %w", err)
	}

	jsonString := body.JSONString
	if strings.HasPrefix(jsonString, "load_from:") {
		// Large payloads are stored out of band; the record holds an
		// indirection link into the blob store.
		link := strings.TrimPrefix(jsonString, "load_from:")
		jsonString, err = c.fetchBlob(ctx, link)
		if err != nil {
			return nil, err
		}
	}

	if expectedType != "" && body.ObjectType != expectedType {
		return nil, &TypeMismatchError{Expected: expectedType, Got: body.ObjectType}
	}

	var dict map[string]any
	if err := json.Unmarshal([]byte(jsonString), &dict); err != nil {
		return nil, fmt.Errorf("decode object payload: %w", err)
	}
	return registry.New(body.ObjectType, dict)
}

// ListOptions filter and paginate object listings. The zero value lists
// the first page, most recently created first.
type ListOptions struct {
	Types         []domain.ObjectType
	Visibility    []domain.Visibility
	SearchQuery   string
	Page          int
	PageSize      int
	SortAscending bool
}

// List retrieves objects owned by or shared with the user. The search
// query matches descriptions only.
func (c *Client) List(ctx context.Context, opts ListOptions) ([]domain.StoredObject, error) {
	params, err := paginationParams(opts.Page, opts.PageSize, opts.SortAscending)
	if err != nil {
		return nil, err
	}
	if len(opts.Types) > 0 {
		if err := registry.ValidateTypes(opts.Types); err != nil {
			return nil, &FilterValueError{Reason: err.Error()}
		}
		for _, t := range opts.Types {
			params.Add("type", string(t))
		}
	}
	if len(opts.Visibility) > 0 {
		if err := domain.ValidateVisibilities(opts.Visibility); err != nil {
			return nil, &FilterValueError{Reason: err.Error()}
		}
		for _, v := range opts.Visibility {
			params.Add("visibility", string(v))
		}
	}
	if opts.SearchQuery != "" {
		params.Set("search_query", opts.SearchQuery)
	}

	resp, err := c.send(ctx, http.MethodGet, "api/v0/object/list", nil, params)
	if err != nil {
		return nil, err
	}
	if err := c.resolveOrErr(ctx, resp, true); err != nil {
		return nil, err
	}
	var records []domain.StoredObject
	if err := decodeBody(resp, &records); err != nil {
		return nil, fmt.Errorf("decode object list: %w", err)
	}
	for i := range records {
		records[i].URL = c.contentURL(records[i].UUID)
		alias := ""
		if records[i].Alias != nil {
			alias = *records[i].Alias
		}
		records[i].AliasURL = c.aliasURL(records[i].OwnerUsername, alias)
	}
	return records, nil
}

// PatchOptions are the mutable attributes of a stored object. Only
// supplied fields are sent.
type PatchOptions struct {
	Description *string
	Alias       *string
	Value       registry.Object
	Visibility  *domain.Visibility
}

// Patch changes the attributes of a stored object in place. At least one
// field must be supplied.
func (c *Client) Patch(ctx context.Context, urlOrUUID string, opts PatchOptions) error {
	if opts.Description == nil && opts.Alias == nil && opts.Value == nil && opts.Visibility == nil {
		return ErrNothingToPatch
	}
	ref, err := ParseRef(urlOrUUID)
	if err != nil {
		return err
	}

	payload := map[string]any{}
	if opts.Description != nil {
		payload["description"] = *opts.Description
	}
	if opts.Alias != nil {
		payload["alias"] = *opts.Alias
	}
	if opts.Visibility != nil {
		payload["visibility"] = string(*opts.Visibility)
	}
	if opts.Value != nil {
		jsonString, err := encodeObjectDict(opts.Value.Dict())
		if err != nil {
			return err
		}
		payload["json_string"] = jsonString
	}

	resp, err := c.send(ctx, http.MethodPatch, objectURI(ref), payload, refParams(ref))
	if err != nil {
		return err
	}
	if err := c.resolveOrErr(ctx, resp, true); err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// Delete removes a stored object, addressed the same way as Get.
func (c *Client) Delete(ctx context.Context, urlOrUUID string) error {
	ref, err := ParseRef(urlOrUUID)
	if err != nil {
		return err
	}
	resp, err := c.send(ctx, http.MethodDelete, objectURI(ref), nil, refParams(ref))
	if err != nil {
		return err
	}
	if err := c.resolveOrErr(ctx, resp, true); err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// UUIDFromHash looks up an object identity by its content hash.
func (c *Client) UUIDFromHash(ctx context.Context, hash string) (string, error) {
	resp, err := c.send(ctx, http.MethodGet, "api/v0/object/hash/"+url.PathEscape(hash), nil, nil)
	if err != nil {
		return "", err
	}
	if err := c.resolveOrErr(ctx, resp, true); err != nil {
		return "", err
	}
	var body struct {
		UUID string `json:"uuid"`
	}
	if err := decodeBody(resp, &body); err != nil {
		return "", fmt.Errorf("decode hash lookup: %w", err)
	}
	return body.UUID, nil
}

// objectURI picks the uuid or alias endpoint for a resolved reference;
// get, patch, and delete all use the same dual addressing.
func objectURI(ref Ref) string {
	if ref.IsAlias() {
		return "api/v0/object/alias"
	}
	return "api/v0/object"
}

func refParams(ref Ref) url.Values {
	params := url.Values{}
	if ref.IsAlias() {
		params.Set("owner_username", ref.Owner)
		params.Set("alias", ref.Alias)
	} else {
		params.Set("uuid", ref.UUID)
	}
	return params
}

func paginationParams(page, pageSize int, sortAscending bool) (url.Values, error) {
	if page == 0 {
		page = 1
	}
	if pageSize == 0 {
		pageSize = 10
	}
	if page < 1 {
		return nil, &FilterValueError{Reason: "the page must be greater than or equal to 1"}
	}
	if pageSize < 1 {
		return nil, &FilterValueError{Reason: "the page size must be greater than or equal to 1"}
	}
	if pageSize > 100 {
		return nil, &FilterValueError{Reason: "the page size must be less than or equal to 100"}
	}
	params := url.Values{}
	params.Set("page", strconv.Itoa(page))
	params.Set("page_size", strconv.Itoa(pageSize))
	params.Set("sort_ascending", strconv.FormatBool(sortAscending))
	return params, nil
}
