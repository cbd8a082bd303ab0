package service

import (
	"context"
	"encoding/json"
	"strings"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/google/uuid"

	"github.com/draftwell/refinery/cmd/refinery/models"
	"github.com/draftwell/refinery/cmd/refinery/repository"
	"github.com/draftwell/refinery/common/logger"
)

// WorkflowService manages workflow records
type WorkflowService struct {
	repo *repository.WorkflowRepository
	log  *logger.Logger
}

// NewWorkflowService creates a new workflow service
func NewWorkflowService(repo *repository.WorkflowRepository, log *logger.Logger) *WorkflowService {
	return &WorkflowService{repo: repo, log: log}
}

// Create creates a workflow owned by the user
func (s *WorkflowService) Create(ctx context.Context, userID uuid.UUID, req *models.CreateWorkflowRequest) (*models.Workflow, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, models.Validationf("workflow name is required")
	}

	wf := &models.Workflow{
		ID:          uuid.New(),
		Name:        name,
		Description: req.Description,
		CreatedBy:   userID,
	}
	if err := s.repo.Create(ctx, wf); err != nil {
		return nil, err
	}

	s.log.Info("created workflow", "workflow_id", wf.ID, "user_id", userID)
	return wf, nil
}

// Get returns a workflow owned by the user
func (s *WorkflowService) Get(ctx context.Context, id, userID uuid.UUID) (*models.Workflow, error) {
	return s.repo.GetForOwner(ctx, id, userID)
}

// ApplyMergePatch updates a workflow's name and description with an RFC 7386
// merge patch. A null in the patch clears the field; clearing the name is a
// validation error.
func (s *WorkflowService) ApplyMergePatch(ctx context.Context, id, userID uuid.UUID, patch []byte) (*models.Workflow, error) {
	wf, err := s.repo.GetForOwner(ctx, id, userID)
	if err != nil {
		return nil, err
	}

	name, description, err := mergeWorkflowMeta(wf, patch)
	if err != nil {
		return nil, err
	}

	updated, err := s.repo.UpdateMeta(ctx, id, userID, name, description)
	if err != nil {
		return nil, err
	}

	s.log.Info("updated workflow", "workflow_id", id, "user_id", userID)
	return updated, nil
}

// mergeWorkflowMeta overlays an RFC 7386 merge patch onto the workflow's
// mutable fields and validates the result
func mergeWorkflowMeta(wf *models.Workflow, patch []byte) (string, string, error) {
	current, err := json.Marshal(map[string]string{
		"name":        wf.Name,
		"description": wf.Description,
	})
	if err != nil {
		return "", "", err
	}

	merged, err := jsonpatch.MergePatch(current, patch)
	if err != nil {
		return "", "", models.Validationf("malformed merge patch: %v", err)
	}

	var next struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(merged, &next); err != nil {
		return "", "", models.Validationf("malformed merge patch: %v", err)
	}

	name := strings.TrimSpace(next.Name)
	if name == "" {
		return "", "", models.Validationf("workflow name is required")
	}

	return name, next.Description, nil
}
