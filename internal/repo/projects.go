package repo

import (
	"context"
	"database/sql"
	"errors"
)

// ProjectRecord ties a response-collection project to its survey.
type ProjectRecord struct {
	UUID        string
	OwnerID     string
	ProjectName string
	SurveyUUID  string
	CreatedAt   string
}

func (r Repo) InsertProject(ctx context.Context, p ProjectRecord) error {
	if p.UUID == "" {
		return errors.New("uuid required")
	}
	if p.OwnerID == "" {
		return errors.New("owner_id required")
	}
	if p.CreatedAt == "" {
		p.CreatedAt = now()
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO projects(uuid,owner_id,project_name,survey_uuid,created_at)
VALUES (?,?,?,?,?)`, p.UUID, p.OwnerID, p.ProjectName, p.SurveyUUID, p.CreatedAt)
	return err
}

// GetProject fetches a project by uuid.
func (r Repo) GetProject(ctx context.Context, uuid string) (ProjectRecord, error) {
	var p ProjectRecord
	err := r.DB.QueryRowContext(ctx,
		`SELECT uuid,owner_id,project_name,survey_uuid,created_at FROM projects WHERE uuid=?`, uuid).
		Scan(&p.UUID, &p.OwnerID, &p.ProjectName, &p.SurveyUUID, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return ProjectRecord{}, ErrNotFound
	}
	return p, err
}
