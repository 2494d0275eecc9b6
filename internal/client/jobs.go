package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"aviary/internal/domain"
	"aviary/internal/registry"
)

// JobDefinition describes the work of a remote inference job: a survey plus
// the agents, scenarios, and models it runs against. Only the survey is
// required.
type JobDefinition struct {
	Survey    map[string]any
	Agents    []map[string]any
	Scenarios []map[string]any
	Models    []map[string]any
}

// JobFromSurvey wraps a bare survey into a runnable job definition.
func JobFromSurvey(survey registry.Object) (JobDefinition, error) {
	if survey.ObjectType() != domain.ObjectTypeSurvey {
		return JobDefinition{}, ErrInvalidInput
	}
	return JobDefinition{Survey: survey.Dict()}, nil
}

// Dict returns the serializable form of the job definition.
func (d JobDefinition) Dict() map[string]any {
	out := map[string]any{"survey": d.Survey}
	if d.Agents != nil {
		out["agents"] = d.Agents
	}
	if d.Scenarios != nil {
		out["scenarios"] = d.Scenarios
	}
	if d.Models != nil {
		out["models"] = d.Models
	}
	return out
}

// CreateJobOptions are the submission-time attributes of a job. Zero values
// mean one iteration, unlisted visibility for both the job and its results,
// and cache reuse enabled.
type CreateJobOptions struct {
	Description              *string
	Visibility               domain.Visibility
	InitialResultsVisibility domain.Visibility
	Iterations               int
	Fresh                    bool
}

// CreateJob submits a job for asynchronous execution. The job starts queued;
// poll GetJob with the returned uuid to follow its lifecycle.
func (c *Client) CreateJob(ctx context.Context, job JobDefinition, opts CreateJobOptions) (domain.JobCreationInfo, error) {
	if opts.Visibility == "" {
		opts.Visibility = domain.VisibilityUnlisted
	}
	if opts.InitialResultsVisibility == "" {
		opts.InitialResultsVisibility = domain.VisibilityUnlisted
	}
	if opts.Iterations == 0 {
		opts.Iterations = 1
	}

	jsonString, err := encodeObjectDict(job.Dict())
	if err != nil {
		return domain.JobCreationInfo{}, err
	}
	payload := map[string]any{
		"json_string":                jsonString,
		"description":                opts.Description,
		"status":                     string(domain.JobQueued),
		"iterations":                 opts.Iterations,
		"visibility":                 string(opts.Visibility),
		"version":                    Version,
		"initial_results_visibility": string(opts.InitialResultsVisibility),
		"fresh":                      opts.Fresh,
	}

	resp, err := c.send(ctx, http.MethodPost, "api/v0/remote-inference", payload, nil)
	if err != nil {
		return domain.JobCreationInfo{}, err
	}
	if err := c.resolveOrErr(ctx, resp, true); err != nil {
		return domain.JobCreationInfo{}, err
	}
	var body struct {
		JobUUID     string            `json:"job_uuid"`
		Description *string           `json:"description"`
		Status      domain.JobStatus  `json:"status"`
		Iterations  int               `json:"iterations"`
		Visibility  domain.Visibility `json:"visibility"`
	}
	if err := decodeBody(resp, &body); err != nil {
		return domain.JobCreationInfo{}, fmt.Errorf("decode job creation response: %w", err)
	}
	return domain.JobCreationInfo{
		UUID:        body.JobUUID,
		Description: body.Description,
		Status:      body.Status,
		Iterations:  body.Iterations,
		Visibility:  body.Visibility,
		Version:     Version,
	}, nil
}

// GetJob retrieves a job snapshot. Exactly one of jobUUID and resultsUUID
// must be set; jobUUID takes precedence when both are. The results and
// error-report links are derived here from the uuids in the response.
func (c *Client) GetJob(ctx context.Context, jobUUID, resultsUUID string, includeJSONString bool) (domain.Job, error) {
	if jobUUID == "" && resultsUUID == "" {
		return domain.Job{}, fmt.Errorf("%w: either a job uuid or a results uuid is required", ErrMissingIdentifier)
	}
	params := url.Values{}
	if jobUUID != "" {
		params.Set("job_uuid", jobUUID)
	} else {
		params.Set("results_uuid", resultsUUID)
	}
	if includeJSONString {
		params.Set("include_json_string", "true")
	}

	resp, err := c.send(ctx, http.MethodGet, "api/v0/remote-inference", nil, params)
	if err != nil {
		return domain.Job{}, err
	}
	if err := c.resolveOrErr(ctx, resp, true); err != nil {
		return domain.Job{}, err
	}
	var job domain.Job
	if err := decodeBody(resp, &job); err != nil {
		return domain.Job{}, fmt.Errorf("decode job response: %w", err)
	}

	if job.ResultsUUID != nil {
		u := c.contentURL(*job.ResultsUUID)
		job.ResultsURL = &u
	}
	if job.Status == domain.JobPartialFailed && job.RunDetails != nil && job.RunDetails.ErrorReportUUID != nil {
		u := fmt.Sprintf("%s/home/remote-inference/error/%s", c.baseURL, *job.RunDetails.ErrorReportUUID)
		job.RunDetails.ErrorReportURL = &u
	}
	return job, nil
}

// JobListing is one row of a job listing. It is a summary, not a full
// snapshot; use GetJob for run details.
type JobListing struct {
	UUID                  string           `json:"uuid"`
	Description           *string          `json:"description,omitempty"`
	Status                domain.JobStatus `json:"status"`
	CostCredits           *float64         `json:"cost_credits,omitempty"`
	Iterations            int              `json:"iterations"`
	ResultsUUID           *string          `json:"results_uuid,omitempty"`
	LatestErrorReportUUID *string          `json:"latest_error_report_uuid,omitempty"`
	LatestFailureReason   *string          `json:"latest_failure_reason,omitempty"`
	Version               string           `json:"version"`
	CreatedTS             string           `json:"created_ts,omitempty"`
}

// ListJobsOptions filter and paginate job listings. The search query matches
// descriptions only.
type ListJobsOptions struct {
	Statuses      []domain.JobStatus
	SearchQuery   string
	Page          int
	PageSize      int
	SortAscending bool
}

// ListJobs retrieves jobs owned by the user, most recently created first
// unless SortAscending is set.
func (c *Client) ListJobs(ctx context.Context, opts ListJobsOptions) ([]JobListing, error) {
	params, err := paginationParams(opts.Page, opts.PageSize, opts.SortAscending)
	if err != nil {
		return nil, err
	}
	if len(opts.Statuses) > 0 {
		if err := domain.ValidateJobStatuses(opts.Statuses); err != nil {
			return nil, &FilterValueError{Reason: err.Error()}
		}
		for _, s := range opts.Statuses {
			params.Add("status", string(s))
		}
	}
	if opts.SearchQuery != "" {
		params.Set("search_query", opts.SearchQuery)
	}

	resp, err := c.send(ctx, http.MethodGet, "api/v0/remote-inference/list", nil, params)
	if err != nil {
		return nil, err
	}
	if err := c.resolveOrErr(ctx, resp, true); err != nil {
		return nil, err
	}
	var jobs []JobListing
	if err := decodeBody(resp, &jobs); err != nil {
		return nil, fmt.Errorf("decode job list: %w", err)
	}
	return jobs, nil
}

// RunningJobs returns the uuids of the user's currently running jobs.
func (c *Client) RunningJobs(ctx context.Context) ([]string, error) {
	resp, err := c.send(ctx, http.MethodGet, "jobs/status", nil, nil)
	if err != nil {
		return nil, err
	}
	if err := c.resolveOrErr(ctx, resp, true); err != nil {
		return nil, err
	}
	var body struct {
		RunningJobs []string `json:"running_jobs"`
	}
	if err := decodeBody(resp, &body); err != nil {
		return nil, fmt.Errorf("decode running jobs: %w", err)
	}
	return body.RunningJobs, nil
}

// ExecuteModelCall sends a single prompt through the server-side inference
// proxy and returns the provider response as-is. One attempt, no retries;
// callers own any retry policy.
func (c *Client) ExecuteModelCall(ctx context.Context, modelDict map[string]any, userPrompt, systemPrompt string) (map[string]any, error) {
	resp, err := c.send(ctx, http.MethodPost, "inference", map[string]any{
		"model_dict":    modelDict,
		"user_prompt":   userPrompt,
		"system_prompt": systemPrompt,
	}, nil)
	if err != nil {
		return nil, err
	}
	if err := c.resolveOrErr(ctx, resp, true); err != nil {
		return nil, err
	}
	var out map[string]any
	if err := decodeBody(resp, &out); err != nil {
		return nil, fmt.Errorf("decode model call response: %w", err)
	}
	return out, nil
}

// EstimateCost returns the estimated price of running a job, as both a
// credits hold and a USD amount. The input may be a job definition or a bare
// survey, which is wrapped into a single-iteration job.
func (c *Client) EstimateCost(ctx context.Context, input any, iterations int) (domain.JobCost, error) {
	var job JobDefinition
	switch v := input.(type) {
	case JobDefinition:
		job = v
	case registry.Object:
		wrapped, err := JobFromSurvey(v)
		if err != nil {
			return domain.JobCost{}, err
		}
		job = wrapped
	default:
		return domain.JobCost{}, ErrInvalidInput
	}
	if iterations == 0 {
		iterations = 1
	}

	jsonString, err := encodeObjectDict(job.Dict())
	if err != nil {
		return domain.JobCost{}, err
	}
	resp, err := c.send(ctx, http.MethodPost, "api/v0/remote-inference/cost", map[string]any{
		"json_string": jsonString,
		"iterations":  iterations,
	}, nil)
	if err != nil {
		return domain.JobCost{}, err
	}
	if err := c.resolveOrErr(ctx, resp, true); err != nil {
		return domain.JobCost{}, err
	}
	var body struct {
		CostInCredits float64 `json:"cost_in_credits"`
		CostInUSD     float64 `json:"cost_in_usd"`
	}
	if err := decodeBody(resp, &body); err != nil {
		return domain.JobCost{}, fmt.Errorf("decode cost estimate: %w", err)
	}
	return domain.JobCost{CreditsHold: body.CostInCredits, USD: body.CostInUSD}, nil
}
