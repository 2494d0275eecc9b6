package client

import (
	"context"
	"fmt"
	"net/http"

	"aviary/internal/registry"
)

// ProjectInfo is returned by CreateProject. The admin and respondent
// URLs are derived client-side from the base URL.
type ProjectInfo struct {
	Name          string `json:"name"`
	UUID          string `json:"uuid"`
	AdminURL      string `json:"admin_url"`
	RespondentURL string `json:"respondent_url"`
}

// CreateProject stores the survey, then creates a project that collects
// responses to it. An empty projectName defaults to "Project".
func (c *Client) CreateProject(ctx context.Context, survey registry.Object, projectName string, opts CreateOptions) (ProjectInfo, error) {
	if projectName == "" {
		projectName = "Project"
	}
	info, err := c.Create(ctx, survey, opts)
	if err != nil {
		return ProjectInfo{}, err
	}
	resp, err := c.send(ctx, http.MethodPost, "api/v0/projects/create-from-survey", map[string]any{
		"project_name": projectName,
		"survey_uuid":  info.UUID,
	}, nil)
	if err != nil {
		return ProjectInfo{}, err
	}
	if err := c.resolveOrErr(ctx, resp, true); err != nil {
		return ProjectInfo{}, err
	}
	var body struct {
		UUID        string `json:"uuid"`
		ProjectName string `json:"project_name"`
	}
	if err := decodeBody(resp, &body); err != nil {
		return ProjectInfo{}, fmt.Errorf("decode project response: %w", err)
	}
	return ProjectInfo{
		Name:          body.ProjectName,
		UUID:          body.UUID,
		AdminURL:      fmt.Sprintf("%s/home/projects/%s", c.baseURL, body.UUID),
		RespondentURL: fmt.Sprintf("%s/respond/%s", c.baseURL, body.UUID),
	}, nil
}
