package domain

import (
	"fmt"
	"strings"
)

// Visibility is the access scope of a stored object or job.
type Visibility string

const (
	VisibilityPrivate  Visibility = "private"
	VisibilityPublic   Visibility = "public"
	VisibilityUnlisted Visibility = "unlisted"
)

// Visibilities lists every valid visibility value.
var Visibilities = []Visibility{VisibilityPrivate, VisibilityPublic, VisibilityUnlisted}

// ObjectType tags the payload kind of a stored object.
type ObjectType string

const (
	ObjectTypeAgent        ObjectType = "agent"
	ObjectTypeAgentList    ObjectType = "agent_list"
	ObjectTypeCache        ObjectType = "cache"
	ObjectTypeNotebook     ObjectType = "notebook"
	ObjectTypeQuestion     ObjectType = "question"
	ObjectTypeResults      ObjectType = "results"
	ObjectTypeScenario     ObjectType = "scenario"
	ObjectTypeScenarioList ObjectType = "scenario_list"
	ObjectTypeSurvey       ObjectType = "survey"
)

// JobStatus is the lifecycle state of a remote inference job. Progression is
// monotonic except cancelling -> cancelled; terminal states never transition.
type JobStatus string

const (
	JobQueued        JobStatus = "queued"
	JobRunning       JobStatus = "running"
	JobCompleted     JobStatus = "completed"
	JobFailed        JobStatus = "failed"
	JobPartialFailed JobStatus = "partial_failed"
	JobCancelling    JobStatus = "cancelling"
	JobCancelled     JobStatus = "cancelled"
)

// JobStatuses lists every valid job status value.
var JobStatuses = []JobStatus{
	JobQueued, JobRunning, JobCompleted, JobFailed,
	JobPartialFailed, JobCancelling, JobCancelled,
}

// Terminal reports whether no further transitions are possible from s.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobPartialFailed, JobCancelled:
		return true
	}
	return false
}

// StoredObject is the server-side record of an uploaded object. The uuid is
// server-assigned and immutable; alias, description, and visibility are
// mutable via patch.
type StoredObject struct {
	UUID          string     `json:"uuid"`
	ObjectType    ObjectType `json:"object_type"`
	Alias         *string    `json:"alias,omitempty"`
	OwnerUsername string     `json:"owner_username,omitempty"`
	Description   *string    `json:"description,omitempty"`
	Visibility    Visibility `json:"visibility"`
	Version       string     `json:"version"`
	ObjectHash    *string    `json:"object_hash,omitempty"`
	URL           string     `json:"url,omitempty"`
	AliasURL      *string    `json:"alias_url,omitempty"`
	CreatedTS     string     `json:"created_ts,omitempty" format:"date-time"`
	LastUpdatedTS string     `json:"last_updated_ts,omitempty" format:"date-time"`
}

// FileStoreMetadata describes the raw-bytes half of a file-backed scenario.
type FileStoreMetadata struct {
	Suffix   string `json:"suffix"`
	MimeType string `json:"mime_type"`
}

// JobExpense is one cost line item for a service+model+token-type combination.
type JobExpense struct {
	Service         string  `json:"service"`
	Model           string  `json:"model"`
	TokenType       string  `json:"token_type" enum:"input,output"`
	PricePerMillion float64 `json:"price_per_million_tokens"`
	TokensCount     int     `json:"tokens_count"`
	CostCredits     float64 `json:"cost_credits"`
	CostUSD         float64 `json:"cost_usd"`
}

// ExceptionCounter is one bucket of the per-job exception histogram.
type ExceptionCounter struct {
	ExceptionType    string `json:"exception_type"`
	InferenceService string `json:"inference_service"`
	Model            string `json:"model"`
	QuestionName     string `json:"question_name"`
	ExceptionCount   int    `json:"exception_count"`
}

// InterviewDetails summarizes interview progress once a job has started.
type InterviewDetails struct {
	TotalInterviews          int                `json:"total_interviews"`
	CompletedInterviews      int                `json:"completed_interviews"`
	InterviewsWithExceptions int                `json:"interviews_with_exceptions"`
	ExceptionSummary         []ExceptionCounter `json:"exception_summary,omitempty"`
}

// JobRunDetails carries the status-dependent fields of a job snapshot.
// Which fields are present depends on the status: interview details once
// running, failure fields only for failed, error report only for
// partial_failed, cost fields for completed and partial_failed. Callers must
// check the status before relying on any of them.
type JobRunDetails struct {
	InterviewDetails   *InterviewDetails `json:"interview_details,omitempty"`
	FailureReason      *string           `json:"failure_reason,omitempty" enum:"error,insufficient funds"`
	FailureDescription *string           `json:"failure_description,omitempty"`
	ErrorReportUUID    *string           `json:"error_report_uuid,omitempty"`
	ErrorReportURL     *string           `json:"error_report_url,omitempty"`
	CostCredits        *float64          `json:"cost_credits,omitempty"`
	CostUSD            *float64          `json:"cost_usd,omitempty"`
	Expenses           []JobExpense      `json:"expenses,omitempty"`
}

// Job is a remote inference job snapshot as observed by polling.
type Job struct {
	JobUUID       string         `json:"job_uuid"`
	Status        JobStatus      `json:"status"`
	ResultsUUID   *string        `json:"results_uuid,omitempty"`
	ResultsURL    *string        `json:"results_url,omitempty"`
	JobJSONString *string        `json:"job_json_string,omitempty"`
	Description   *string        `json:"description,omitempty"`
	Iterations    int            `json:"iterations"`
	Visibility    Visibility     `json:"visibility"`
	Version       string         `json:"version"`
	RunDetails    *JobRunDetails `json:"latest_job_run_details,omitempty"`
	CreatedTS     string         `json:"created_ts,omitempty" format:"date-time"`
}

// JobCreationInfo is returned by job submission.
type JobCreationInfo struct {
	UUID        string     `json:"uuid"`
	Description *string    `json:"description,omitempty"`
	Status      JobStatus  `json:"status"`
	Iterations  int        `json:"iterations"`
	Visibility  Visibility `json:"visibility"`
	Version     string     `json:"version"`
}

// JobCost is a price estimate for a job prior to submission.
type JobCost struct {
	CreditsHold float64 `json:"credits_hold"`
	USD         float64 `json:"usd"`
}

// CacheEntry is one remote-cache record keyed by its request digest.
type CacheEntry struct {
	Key        string `json:"key"`
	Model      string `json:"model"`
	Parameters string `json:"parameters,omitempty"`
	Output     string `json:"output"`
	Timestamp  int64  `json:"timestamp,omitempty"`
}

// WorkingModel is one entry of the working-models catalog.
type WorkingModel struct {
	Service         string  `json:"service"`
	Model           string  `json:"model"`
	WorksWithText   bool    `json:"works_with_text"`
	WorksWithImages bool    `json:"works_with_images"`
	USDPer1MInput   float64 `json:"usd_per_1M_input_tokens"`
	USDPer1MOutput  float64 `json:"usd_per_1M_output_tokens"`
}

// Balance reports the authenticated user's credit balance.
type Balance struct {
	Credits float64 `json:"credits"`
}

// ValidateVisibilities checks each value against the visibility enumeration
// and names the offending values if any are unknown.
func ValidateVisibilities(values []Visibility) error {
	var invalid []string
	for _, v := range values {
		if v != VisibilityPrivate && v != VisibilityPublic && v != VisibilityUnlisted {
			invalid = append(invalid, string(v))
		}
	}
	if len(invalid) > 0 {
		return fmt.Errorf("invalid visibility value(s): %s (valid: %s)",
			strings.Join(invalid, ", "), joinVisibilities())
	}
	return nil
}

// ValidateJobStatuses checks each value against the job status enumeration.
func ValidateJobStatuses(values []JobStatus) error {
	var invalid []string
	for _, s := range values {
		if !validJobStatus(s) {
			invalid = append(invalid, string(s))
		}
	}
	if len(invalid) > 0 {
		return fmt.Errorf("invalid status value(s): %s (valid: %s)",
			strings.Join(invalid, ", "), joinJobStatuses())
	}
	return nil
}

func validJobStatus(s JobStatus) bool {
	for _, v := range JobStatuses {
		if s == v {
			return true
		}
	}
	return false
}

func joinVisibilities() string {
	parts := make([]string, len(Visibilities))
	for i, v := range Visibilities {
		parts[i] = string(v)
	}
	return strings.Join(parts, ", ")
}

func joinJobStatuses() string {
	parts := make([]string, len(JobStatuses))
	for i, s := range JobStatuses {
		parts[i] = string(s)
	}
	return strings.Join(parts, ", ")
}
