package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"aviary/internal/domain"
	"aviary/internal/repo"
)

type createProjectRequest struct {
	ProjectName string `json:"project_name"`
	SurveyUUID  string `json:"survey_uuid"`
}

type createProjectResponse struct {
	UUID        string `json:"uuid"`
	ProjectName string `json:"project_name"`
}

func (s *server) registerProjects(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project-from-survey",
		Method:        http.MethodPost,
		Path:          "/api/v0/projects/create-from-survey",
		Summary:       "Create a project collecting responses to a survey",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body createProjectRequest `json:"body"`
	}) (*struct {
		Body createProjectResponse `json:"body"`
	}, error) {
		user, authErr := userFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if input.Body.SurveyUUID == "" {
			return nil, apiError(http.StatusBadRequest, "survey_uuid is required")
		}
		survey, err := s.repo.GetObject(ctx, input.Body.SurveyUUID)
		if err != nil {
			return nil, handleError(err)
		}
		if survey.ObjectType != domain.ObjectTypeSurvey {
			return nil, apiError(http.StatusBadRequest, "the referenced object is not a survey")
		}
		name := input.Body.ProjectName
		if name == "" {
			name = "Project"
		}
		rec := repo.ProjectRecord{
			UUID:        uuid.NewString(),
			OwnerID:     user.ID,
			ProjectName: name,
			SurveyUUID:  survey.UUID,
		}
		if err := s.repo.InsertProject(ctx, rec); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body createProjectResponse `json:"body"`
		}{Body: createProjectResponse{UUID: rec.UUID, ProjectName: rec.ProjectName}}, nil
	})
}
