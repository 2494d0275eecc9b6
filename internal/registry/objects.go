package registry

import (
	"encoding/base64"
	"fmt"

	"aviary/internal/domain"
)

// The payload carriers below hold the wire form of each object kind. The
// client treats payloads as opaque; structure beyond the type tag is owned
// by whoever produced the object.

type Agent struct{ Fields map[string]any }

func (Agent) ObjectType() domain.ObjectType { return domain.ObjectTypeAgent }
func (a Agent) Dict() map[string]any        { return a.Fields }

type AgentList struct{ Fields map[string]any }

func (AgentList) ObjectType() domain.ObjectType { return domain.ObjectTypeAgentList }
func (a AgentList) Dict() map[string]any        { return a.Fields }

type Cache struct{ Fields map[string]any }

func (Cache) ObjectType() domain.ObjectType { return domain.ObjectTypeCache }
func (c Cache) Dict() map[string]any        { return c.Fields }

type Notebook struct{ Fields map[string]any }

func (Notebook) ObjectType() domain.ObjectType { return domain.ObjectTypeNotebook }
func (n Notebook) Dict() map[string]any        { return n.Fields }

type Question struct{ Fields map[string]any }

func (Question) ObjectType() domain.ObjectType { return domain.ObjectTypeQuestion }
func (q Question) Dict() map[string]any        { return q.Fields }

type Results struct{ Fields map[string]any }

func (Results) ObjectType() domain.ObjectType { return domain.ObjectTypeResults }
func (r Results) Dict() map[string]any        { return r.Fields }

type ScenarioList struct{ Fields map[string]any }

func (ScenarioList) ObjectType() domain.ObjectType { return domain.ObjectTypeScenarioList }
func (s ScenarioList) Dict() map[string]any        { return s.Fields }

type Survey struct{ Fields map[string]any }

func (Survey) ObjectType() domain.ObjectType { return domain.ObjectTypeSurvey }
func (s Survey) Dict() map[string]any        { return s.Fields }

// FileStore is the file-backed scenario variant: a stored file plus the
// metadata needed to upload its raw bytes out of band.
type FileStore struct {
	Path          string
	Base64String  string
	Binary        bool
	Suffix        string
	MimeType      string
	ExternalLocs  map[string]any
	ExtractedText string
}

// fileStoreKeys is the exact key set that marks a scenario dict as a
// FileStore on the wire.
var fileStoreKeys = []string{
	"path", "base64_string", "binary", "suffix",
	"mime_type", "external_locations", "extracted_text",
}

// Scenario is either a plain key/value scenario or a file-backed one. The
// variant is decided here, at the boundary where the dict is produced or
// parsed, so downstream code branches on File != nil instead of sniffing
// key sets.
type Scenario struct {
	Fields map[string]any
	File   *FileStore
}

func (Scenario) ObjectType() domain.ObjectType { return domain.ObjectTypeScenario }

func (s Scenario) Dict() map[string]any {
	if s.File == nil {
		return s.Fields
	}
	return map[string]any{
		"path":               s.File.Path,
		"base64_string":      s.File.Base64String,
		"binary":             s.File.Binary,
		"suffix":             s.File.Suffix,
		"mime_type":          s.File.MimeType,
		"external_locations": s.File.ExternalLocs,
		"extracted_text":     s.File.ExtractedText,
	}
}

// IsFileStore reports whether the scenario carries a stored file.
func (s Scenario) IsFileStore() bool { return s.File != nil }

// Metadata returns the upload metadata of a file-backed scenario.
func (s Scenario) Metadata() (domain.FileStoreMetadata, bool) {
	if s.File == nil {
		return domain.FileStoreMetadata{}, false
	}
	return domain.FileStoreMetadata{Suffix: s.File.Suffix, MimeType: s.File.MimeType}, true
}

// Bytes decodes the stored file content of a file-backed scenario.
func (s Scenario) Bytes() ([]byte, error) {
	if s.File == nil {
		return nil, fmt.Errorf("scenario has no stored file")
	}
	data, err := base64.StdEncoding.DecodeString(s.File.Base64String)
	if err != nil {
		return nil, fmt.Errorf("decode file store content: %w", err)
	}
	return data, nil
}

// NewFileStore builds a file-backed scenario from raw bytes.
func NewFileStore(path, suffix, mimeType string, content []byte) Scenario {
	return Scenario{File: &FileStore{
		Path:         path,
		Base64String: base64.StdEncoding.EncodeToString(content),
		Binary:       true,
		Suffix:       suffix,
		MimeType:     mimeType,
	}}
}

func newScenario(dict map[string]any) (Object, error) {
	if !hasFileStoreShape(dict) {
		return Scenario{Fields: dict}, nil
	}
	fs := &FileStore{
		Path:          asString(dict["path"]),
		Base64String:  asString(dict["base64_string"]),
		Suffix:        asString(dict["suffix"]),
		MimeType:      asString(dict["mime_type"]),
		ExtractedText: asString(dict["extracted_text"]),
	}
	if b, ok := dict["binary"].(bool); ok {
		fs.Binary = b
	}
	if locs, ok := dict["external_locations"].(map[string]any); ok {
		fs.ExternalLocs = locs
	}
	return Scenario{File: fs}, nil
}

func hasFileStoreShape(dict map[string]any) bool {
	for _, key := range fileStoreKeys {
		if _, ok := dict[key]; !ok {
			return false
		}
	}
	return true
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}
