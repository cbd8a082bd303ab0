package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/draftwell/refinery/cmd/refinery/models"
	"github.com/draftwell/refinery/cmd/refinery/repository"
	"github.com/draftwell/refinery/common/db"
	"github.com/draftwell/refinery/common/logger"
)

// DraftLockService owns the draft lifecycle mutual exclusion: the workflow
// row is the mutex. Draft creation and file application acquire an exclusive
// lock on it for the duration of their transaction, so concurrent callers for
// the same workflow serialize and at most one draft ever exists per workflow.
type DraftLockService struct {
	db        *db.DB
	workflows *repository.WorkflowRepository
	drafts    *repository.DraftRepository
	log       *logger.Logger
}

// NewDraftLockService creates a new draft locking manager
func NewDraftLockService(database *db.DB, workflows *repository.WorkflowRepository, drafts *repository.DraftRepository, log *logger.Logger) *DraftLockService {
	return &DraftLockService{
		db:        database,
		workflows: workflows,
		drafts:    drafts,
		log:       log,
	}
}

// GetOrCreateDraft returns the workflow's live draft, creating one when none
// exists. Fails with not-found when the workflow does not belong to the user
// and with workflow-locked when the lock flag is set.
func (s *DraftLockService) GetOrCreateDraft(ctx context.Context, workflowID, userID uuid.UUID) (uuid.UUID, error) {
	var draftID uuid.UUID

	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		wf, err := s.workflows.GetForOwnerLocked(ctx, tx, workflowID, userID)
		if err != nil {
			return err
		}

		if wf.IsLocked {
			return fmt.Errorf("%w: workflow %s", models.ErrWorkflowLocked, workflowID)
		}

		existing, err := s.drafts.GetByWorkflow(ctx, tx, workflowID)
		if err != nil {
			return err
		}
		if existing != nil {
			draftID = existing.ID
			return nil
		}

		draft := &models.Draft{
			ID:          uuid.New(),
			WorkflowID:  workflowID,
			Name:        fmt.Sprintf("Draft for %s", wf.Name),
			Description: "Work in progress",
			CreatedBy:   userID,
		}
		if err := s.drafts.Create(ctx, tx, draft); err != nil {
			return err
		}

		s.log.Info("created draft", "draft_id", draft.ID, "workflow_id", workflowID)
		draftID = draft.ID
		return nil
	})

	if err != nil {
		return uuid.Nil, err
	}

	return draftID, nil
}

// ValidateDraftAccess checks the draft exists and its workflow belongs to
// the user, returning the draft
func (s *DraftLockService) ValidateDraftAccess(ctx context.Context, draftID, userID uuid.UUID) (*models.Draft, error) {
	return s.drafts.GetOwnedByUser(ctx, draftID, userID)
}

// ApplyFilesToDraft normalizes the generated-files mapping and upserts each
// entry in its own transaction. Returns the number of entries processed.
func (s *DraftLockService) ApplyFilesToDraft(ctx context.Context, draftID uuid.UUID, files map[string]interface{}) (int, error) {
	entries := models.NormalizeFileSet(files)
	if len(entries) == 0 {
		return 0, nil
	}

	var applied int
	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		n, err := s.ApplyEntriesTx(ctx, tx, draftID, entries)
		applied = n
		return err
	})
	if err != nil {
		return 0, err
	}

	return applied, nil
}

// ApplyEntriesTx upserts entries into a draft inside the caller's
// transaction. It locks the owning workflow row first and honors its lock
// flag, so file application and draft creation exclude each other.
func (s *DraftLockService) ApplyEntriesTx(ctx context.Context, tx pgx.Tx, draftID uuid.UUID, entries []models.FileEntry) (int, error) {
	var (
		workflowID uuid.UUID
		isLocked   bool
	)
	query := `
		SELECT w.id, w.is_locked
		FROM drafts d
		JOIN workflows w ON w.id = d.workflow_id
		WHERE d.id = $1
		FOR UPDATE OF w
	`
	err := tx.QueryRow(ctx, query, draftID).Scan(&workflowID, &isLocked)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, models.NotFoundf("draft %s", draftID)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to lock workflow for draft: %w", err)
	}

	if isLocked {
		return 0, fmt.Errorf("%w: workflow %s", models.ErrWorkflowLocked, workflowID)
	}

	if len(entries) == 0 {
		return 0, nil
	}

	applied, err := s.drafts.UpsertFiles(ctx, tx, draftID, entries)
	if err != nil {
		return applied, err
	}

	if err := s.drafts.TouchUpdatedAt(ctx, tx, draftID); err != nil {
		return applied, err
	}

	s.log.Info("applied files to draft", "draft_id", draftID, "files_applied", applied)
	return applied, nil
}

// GetDraftFiles returns a draft's files as a path-keyed mapping
func (s *DraftLockService) GetDraftFiles(ctx context.Context, draftID uuid.UUID) (map[string]interface{}, error) {
	files, err := s.drafts.GetFiles(ctx, draftID)
	if err != nil {
		return nil, err
	}

	out := make(map[string]interface{}, len(files))
	for _, f := range files {
		out[f.FilePath] = map[string]interface{}{
			"content":    f.Content,
			"type":       f.FileType,
			"created_at": f.CreatedAt,
			"updated_at": f.UpdatedAt,
		}
	}

	return out, nil
}
