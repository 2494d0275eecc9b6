package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"aviary/internal/domain"
)

// JobRecord is the stored form of a remote inference job.
type JobRecord struct {
	UUID                  string
	OwnerID               string
	Description           *string
	Status                domain.JobStatus
	JSONString            string
	Iterations            int
	Visibility            domain.Visibility
	ResultsVisibility     domain.Visibility
	Fresh                 bool
	Version               string
	ResultsUUID           *string
	CostCredits           *float64
	LatestErrorReportUUID *string
	LatestFailureReason   *string
	CreatedAt             string
}

func (r Repo) InsertJob(ctx context.Context, j JobRecord) error {
	if j.UUID == "" {
		return errors.New("uuid required")
	}
	if j.OwnerID == "" {
		return errors.New("owner_id required")
	}
	if j.CreatedAt == "" {
		j.CreatedAt = now()
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO jobs(uuid,owner_id,description,status,json_string,iterations,visibility,results_visibility,fresh,version,results_uuid,cost_credits,latest_error_report_uuid,latest_failure_reason,created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		j.UUID, j.OwnerID, j.Description, string(j.Status), j.JSONString, j.Iterations,
		string(j.Visibility), string(j.ResultsVisibility), j.Fresh, j.Version,
		j.ResultsUUID, j.CostCredits, j.LatestErrorReportUUID, j.LatestFailureReason, j.CreatedAt)
	return err
}

const jobColumns = `uuid,owner_id,description,status,json_string,iterations,visibility,results_visibility,fresh,version,results_uuid,cost_credits,latest_error_report_uuid,latest_failure_reason,created_at`

func scanJob(scan func(...any) error) (JobRecord, error) {
	var j JobRecord
	err := scan(&j.UUID, &j.OwnerID, &j.Description, &j.Status, &j.JSONString, &j.Iterations,
		&j.Visibility, &j.ResultsVisibility, &j.Fresh, &j.Version,
		&j.ResultsUUID, &j.CostCredits, &j.LatestErrorReportUUID, &j.LatestFailureReason, &j.CreatedAt)
	if err == sql.ErrNoRows {
		return JobRecord{}, ErrNotFound
	}
	return j, err
}

// GetJob fetches a job by its uuid.
func (r Repo) GetJob(ctx context.Context, uuid string) (JobRecord, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE uuid=?`, uuid)
	return scanJob(row.Scan)
}

// GetJobByResults fetches the job that produced the given results object.
func (r Repo) GetJobByResults(ctx context.Context, resultsUUID string) (JobRecord, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE results_uuid=?`, resultsUUID)
	return scanJob(row.Scan)
}

// UpdateJobStatus moves a job to a new status, optionally attaching results.
func (r Repo) UpdateJobStatus(ctx context.Context, uuid string, status domain.JobStatus, resultsUUID *string) error {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE jobs SET status=?, results_uuid=COALESCE(?, results_uuid) WHERE uuid=?`,
		string(status), resultsUUID, uuid)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// JobFilter selects and paginates an owner's jobs.
type JobFilter struct {
	Statuses      []domain.JobStatus
	SearchQuery   string
	Page          int
	PageSize      int
	SortAscending bool
}

// ListJobs returns the owner's jobs matching the filter.
func (r Repo) ListJobs(ctx context.Context, ownerID string, f JobFilter) ([]JobRecord, error) {
	clauses := []string{"owner_id=?"}
	args := []any{ownerID}
	if len(f.Statuses) > 0 {
		clauses = append(clauses, "status IN ("+placeholders(len(f.Statuses))+")")
		for _, s := range f.Statuses {
			args = append(args, string(s))
		}
	}
	if f.SearchQuery != "" {
		clauses = append(clauses, "description LIKE ?")
		args = append(args, "%"+f.SearchQuery+"%")
	}
	order := "DESC"
	if f.SortAscending {
		order = "ASC"
	}
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 {
		f.PageSize = 10
	}
	args = append(args, f.PageSize, (f.Page-1)*f.PageSize)

	query := `SELECT ` + jobColumns + ` FROM jobs WHERE ` + strings.Join(clauses, " AND ") +
		` ORDER BY created_at ` + order + `, uuid ` + order + ` LIMIT ? OFFSET ?`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []JobRecord
	for rows.Next() {
		j, err := scanJob(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, j)
	}
	return res, rows.Err()
}

// ListRunningJobs returns the uuids of the owner's running jobs.
func (r Repo) ListRunningJobs(ctx context.Context, ownerID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT uuid FROM jobs WHERE owner_id=? AND status=? ORDER BY created_at DESC`,
		ownerID, string(domain.JobRunning))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var uuids []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		uuids = append(uuids, u)
	}
	return uuids, rows.Err()
}
