package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"aviary/internal/domain"
	"aviary/internal/repo"
)

// Pricing knobs for the local cost model: a flat per-question rate with a
// fixed credit-to-USD conversion. Deliberately simple; the hosted service
// prices per model and token.
const (
	creditsPerQuestion = 0.01
	usdPerCredit       = 0.01
)

type createJobRequest struct {
	JSONString               string            `json:"json_string"`
	Description              *string           `json:"description,omitempty"`
	Status                   domain.JobStatus  `json:"status"`
	Iterations               int               `json:"iterations"`
	Visibility               domain.Visibility `json:"visibility"`
	Version                  string            `json:"version"`
	InitialResultsVisibility domain.Visibility `json:"initial_results_visibility"`
	Fresh                    bool              `json:"fresh"`
}

type jobResponse struct {
	JobUUID       string                `json:"job_uuid"`
	Status        domain.JobStatus      `json:"status"`
	ResultsUUID   *string               `json:"results_uuid,omitempty"`
	JobJSONString *string               `json:"job_json_string,omitempty"`
	Description   *string               `json:"description,omitempty"`
	Iterations    int                   `json:"iterations"`
	Visibility    domain.Visibility     `json:"visibility"`
	Version       string                `json:"version"`
	RunDetails    *domain.JobRunDetails `json:"latest_job_run_details,omitempty"`
	CreatedTS     string                `json:"created_ts"`
}

func jobToResponse(j repo.JobRecord, includeJSON bool) jobResponse {
	resp := jobResponse{
		JobUUID:     j.UUID,
		Status:      j.Status,
		ResultsUUID: j.ResultsUUID,
		Description: j.Description,
		Iterations:  j.Iterations,
		Visibility:  j.Visibility,
		Version:     j.Version,
		CreatedTS:   j.CreatedAt,
	}
	if includeJSON {
		resp.JobJSONString = &j.JSONString
	}
	if j.CostCredits != nil || j.LatestErrorReportUUID != nil || j.LatestFailureReason != nil {
		details := &domain.JobRunDetails{
			ErrorReportUUID: j.LatestErrorReportUUID,
			FailureReason:   j.LatestFailureReason,
			CostCredits:     j.CostCredits,
		}
		if j.CostCredits != nil {
			usd := *j.CostCredits * usdPerCredit
			details.CostUSD = &usd
		}
		resp.RunDetails = details
	}
	return resp
}

// countQuestions walks a serialized job definition and counts the survey's
// questions, defaulting to 1 so an unparseable payload still gets a price.
func countQuestions(jsonString string) int {
	var job struct {
		Survey struct {
			Questions []json.RawMessage `json:"questions"`
		} `json:"survey"`
	}
	if err := json.Unmarshal([]byte(jsonString), &job); err != nil {
		return 1
	}
	if n := len(job.Survey.Questions); n > 0 {
		return n
	}
	return 1
}

func (s *server) registerJobs(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-job",
		Method:        http.MethodPost,
		Path:          "/api/v0/remote-inference",
		Summary:       "Submit a remote inference job",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body createJobRequest `json:"body"`
	}) (*struct {
		Body jobResponse `json:"body"`
	}, error) {
		user, authErr := userFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if input.Body.JSONString == "" {
			return nil, apiError(http.StatusBadRequest, "json_string is required")
		}
		status := input.Body.Status
		if status == "" {
			status = domain.JobQueued
		}
		iterations := input.Body.Iterations
		if iterations < 1 {
			iterations = 1
		}
		visibility := input.Body.Visibility
		if visibility == "" {
			visibility = domain.VisibilityUnlisted
		}
		resultsVisibility := input.Body.InitialResultsVisibility
		if resultsVisibility == "" {
			resultsVisibility = domain.VisibilityUnlisted
		}

		rec := repo.JobRecord{
			UUID:              uuid.NewString(),
			OwnerID:           user.ID,
			Description:       input.Body.Description,
			Status:            status,
			JSONString:        input.Body.JSONString,
			Iterations:        iterations,
			Visibility:        visibility,
			ResultsVisibility: resultsVisibility,
			Fresh:             input.Body.Fresh,
			Version:           input.Body.Version,
		}
		if err := s.repo.InsertJob(ctx, rec); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body jobResponse `json:"body"`
		}{Body: jobToResponse(rec, false)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-job",
		Method:      http.MethodGet,
		Path:        "/api/v0/remote-inference",
		Summary:     "Fetch a job snapshot",
	}, func(ctx context.Context, input *struct {
		JobUUID           string `query:"job_uuid"`
		ResultsUUID       string `query:"results_uuid"`
		IncludeJSONString bool   `query:"include_json_string"`
	}) (*struct {
		Body jobResponse `json:"body"`
	}, error) {
		user, authErr := userFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if input.JobUUID == "" && input.ResultsUUID == "" {
			return nil, apiError(http.StatusBadRequest, "either job_uuid or results_uuid is required")
		}
		var (
			rec repo.JobRecord
			err error
		)
		if input.JobUUID != "" {
			rec, err = s.repo.GetJob(ctx, input.JobUUID)
		} else {
			rec, err = s.repo.GetJobByResults(ctx, input.ResultsUUID)
		}
		if err != nil {
			return nil, handleError(err)
		}
		if rec.OwnerID != user.ID && rec.Visibility == domain.VisibilityPrivate {
			return nil, apiError(http.StatusNotFound, "Job not found.")
		}
		return &struct {
			Body jobResponse `json:"body"`
		}{Body: jobToResponse(rec, input.IncludeJSONString)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-jobs",
		Method:      http.MethodGet,
		Path:        "/api/v0/remote-inference/list",
		Summary:     "List the caller's jobs",
	}, func(ctx context.Context, input *struct {
		Statuses      []string `query:"status"`
		SearchQuery   string   `query:"search_query"`
		Page          int      `query:"page"`
		PageSize      int      `query:"page_size"`
		SortAscending bool     `query:"sort_ascending"`
	}) (*struct {
		Body []jobListing `json:"body"`
	}, error) {
		user, authErr := userFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		filter := repo.JobFilter{
			SearchQuery:   input.SearchQuery,
			Page:          input.Page,
			PageSize:      input.PageSize,
			SortAscending: input.SortAscending,
		}
		for _, st := range input.Statuses {
			filter.Statuses = append(filter.Statuses, domain.JobStatus(st))
		}
		records, err := s.repo.ListJobs(ctx, user.ID, filter)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]jobListing, len(records))
		for i, rec := range records {
			out[i] = jobListing{
				UUID:                  rec.UUID,
				Description:           rec.Description,
				Status:                rec.Status,
				CostCredits:           rec.CostCredits,
				Iterations:            rec.Iterations,
				ResultsUUID:           rec.ResultsUUID,
				LatestErrorReportUUID: rec.LatestErrorReportUUID,
				LatestFailureReason:   rec.LatestFailureReason,
				Version:               rec.Version,
				CreatedTS:             rec.CreatedAt,
			}
		}
		return &struct {
			Body []jobListing `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "estimate-job-cost",
		Method:      http.MethodPost,
		Path:        "/api/v0/remote-inference/cost",
		Summary:     "Estimate the cost of a job",
	}, func(ctx context.Context, input *struct {
		Body struct {
			JSONString string `json:"json_string"`
			Iterations int    `json:"iterations"`
		} `json:"body"`
	}) (*struct {
		Body struct {
			CostInCredits float64 `json:"cost_in_credits"`
			CostInUSD     float64 `json:"cost_in_usd"`
		} `json:"body"`
	}, error) {
		if _, authErr := userFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if input.Body.JSONString == "" {
			return nil, apiError(http.StatusBadRequest, "json_string is required")
		}
		iterations := input.Body.Iterations
		if iterations < 1 {
			iterations = 1
		}
		credits := creditsPerQuestion * float64(countQuestions(input.Body.JSONString)*iterations)
		out := &struct {
			Body struct {
				CostInCredits float64 `json:"cost_in_credits"`
				CostInUSD     float64 `json:"cost_in_usd"`
			} `json:"body"`
		}{}
		out.Body.CostInCredits = credits
		out.Body.CostInUSD = credits * usdPerCredit
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "execute-model-call",
		Method:      http.MethodPost,
		Path:        "/inference",
		Summary:     "Proxy a single model call",
	}, func(ctx context.Context, input *struct {
		Body struct {
			ModelDict    map[string]any `json:"model_dict"`
			UserPrompt   string         `json:"user_prompt"`
			SystemPrompt string         `json:"system_prompt,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		if _, authErr := userFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if input.Body.UserPrompt == "" {
			return nil, apiError(http.StatusBadRequest, "user_prompt is required")
		}
		model, _ := input.Body.ModelDict["model"].(string)
		if model == "" {
			model = s.workingModel[0].Model
		}
		// The hosted service forwards the prompt to the provider; locally the
		// call is answered with a canned echo so pipelines can run offline.
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: map[string]any{
			"model":  model,
			"answer": "Answered locally: " + input.Body.UserPrompt,
			"usage": map[string]any{
				"prompt_tokens":     len(input.Body.UserPrompt) / 4,
				"completion_tokens": 0,
			},
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "running-jobs",
		Method:      http.MethodGet,
		Path:        "/jobs/status",
		Summary:     "List the caller's running job uuids",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body struct {
			RunningJobs []string `json:"running_jobs"`
		} `json:"body"`
	}, error) {
		user, authErr := userFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		uuids, err := s.repo.ListRunningJobs(ctx, user.ID)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				RunningJobs []string `json:"running_jobs"`
			} `json:"body"`
		}{}
		out.Body.RunningJobs = uuids
		return out, nil
	})
}

type jobListing struct {
	UUID                  string           `json:"uuid"`
	Description           *string          `json:"description,omitempty"`
	Status                domain.JobStatus `json:"status"`
	CostCredits           *float64         `json:"cost_credits,omitempty"`
	Iterations            int              `json:"iterations"`
	ResultsUUID           *string          `json:"results_uuid,omitempty"`
	LatestErrorReportUUID *string          `json:"latest_error_report_uuid,omitempty"`
	LatestFailureReason   *string          `json:"latest_failure_reason,omitempty"`
	Version               string           `json:"version"`
	CreatedTS             string           `json:"created_ts"`
}

func (s *server) registerCache(api huma.API) {
	type cacheEnvelope struct {
		JSONString string `json:"json_string"`
	}
	respond := func(records []repo.CacheRecord) []cacheEnvelope {
		out := make([]cacheEnvelope, len(records))
		for i, rec := range records {
			out[i] = cacheEnvelope{JSONString: rec.JSONString}
		}
		return out
	}

	huma.Register(api, huma.Operation{
		OperationID: "cache-get-by-job",
		Method:      http.MethodPost,
		Path:        "/api/v0/remote-cache/get-many-by-job",
		Summary:     "Fetch the cache entries written by a job",
	}, func(ctx context.Context, input *struct {
		Body struct {
			JobUUID string `json:"job_uuid"`
		} `json:"body"`
	}) (*struct {
		Body []cacheEnvelope `json:"body"`
	}, error) {
		if _, authErr := userFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if input.Body.JobUUID == "" {
			return nil, apiError(http.StatusBadRequest, "job_uuid is required")
		}
		records, err := s.repo.ListCacheByJob(ctx, input.Body.JobUUID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []cacheEnvelope `json:"body"`
		}{Body: respond(records)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cache-get-by-key",
		Method:      http.MethodPost,
		Path:        "/api/v0/remote-cache/get-many-by-key",
		Summary:     "Fetch cache entries by key",
	}, func(ctx context.Context, input *struct {
		Body struct {
			SelectedKeys []string `json:"selected_keys"`
		} `json:"body"`
	}) (*struct {
		Body []cacheEnvelope `json:"body"`
	}, error) {
		if _, authErr := userFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if len(input.Body.SelectedKeys) == 0 {
			return nil, apiError(http.StatusBadRequest, "selected_keys is required")
		}
		records, err := s.repo.ListCacheByKeys(ctx, input.Body.SelectedKeys)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []cacheEnvelope `json:"body"`
		}{Body: respond(records)}, nil
	})
}
