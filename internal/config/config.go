package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Well-known environment aliases. The web URL is where content links point;
// the API host is derived from it.
const (
	ProductionURL = "https://www.aviary.cloud"
	StagingURL    = "https://staging.aviary.cloud"
	LocalURL      = "http://localhost:1234"

	productionAPIURL = "https://api.aviary.cloud"
	stagingAPIURL    = "https://api-staging.aviary.cloud"
	localAPIURL      = "http://localhost:8000"
)

// Profile models aviary.yml.
type Profile struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	RunMode string `yaml:"run_mode"`
}

// Validate ensures the profile meets required structure.
func (p *Profile) Validate() error {
	if p.RunMode != "" && p.RunMode != "production" && p.RunMode != "development" {
		return fmt.Errorf("profile.run_mode must be production or development, got %q", p.RunMode)
	}
	if p.BaseURL != "" && !strings.HasPrefix(p.BaseURL, "http://") && !strings.HasPrefix(p.BaseURL, "https://") {
		return fmt.Errorf("profile.base_url must include an http(s) scheme")
	}
	return nil
}

// Default returns the default profile.
func Default() *Profile {
	return &Profile{BaseURL: ProductionURL, RunMode: "production"}
}

// FromYAML parses and validates a profile from raw YAML bytes.
func FromYAML(data []byte) (*Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("invalid profile yaml: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if p.BaseURL == "" {
		p.BaseURL = ProductionURL
	}
	if p.RunMode == "" {
		p.RunMode = "production"
	}
	return &p, nil
}

// Path returns the profile file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "aviary.yml")
}

// LoadOptional returns the default profile if the file does not exist.
func LoadOptional(workspace string) (*Profile, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// NormalizeBaseURL strips any trailing slash from a base URL.
func NormalizeBaseURL(base string) string {
	return strings.TrimRight(base, "/")
}

// ResolveAPIURL maps a web base URL to its API host. Known environment
// aliases map to dedicated API hosts; anything else is assumed to serve
// the API itself.
func ResolveAPIURL(base string) string {
	base = NormalizeBaseURL(base)
	switch {
	case strings.Contains(base, "staging.aviary"):
		return stagingAPIURL
	case strings.Contains(base, "aviary"):
		return productionAPIURL
	case strings.Contains(base, "localhost:1234"):
		return localAPIURL
	default:
		return base
	}
}
