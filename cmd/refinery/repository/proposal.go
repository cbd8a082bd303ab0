package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/draftwell/refinery/cmd/refinery/models"
	"github.com/draftwell/refinery/common/db"
)

const proposalColumns = `
	id, draft_id, thread_id, instructions, context_file_path, context_selection,
	status, resolution, generated_files, audit_trail,
	created_by, created_at, completed_at, resolved_by, resolved_at`

// ProposalRepository handles database operations for proposals and their
// access grants
type ProposalRepository struct {
	db *db.DB
}

// NewProposalRepository creates a new proposal repository
func NewProposalRepository(db *db.DB) *ProposalRepository {
	return &ProposalRepository{db: db}
}

// Create inserts a proposal and the requester's access grant within tx
func (r *ProposalRepository) Create(ctx context.Context, tx pgx.Tx, p *models.Proposal) error {
	query := `
		INSERT INTO proposals (
			id, draft_id, thread_id, instructions, context_file_path,
			context_selection, status, audit_trail, created_by, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		RETURNING created_at
	`

	err := tx.QueryRow(ctx, query,
		p.ID,
		p.DraftID,
		p.ThreadID,
		p.Instructions,
		p.ContextFilePath,
		p.ContextSelection,
		p.Status,
		p.AuditTrail,
		p.CreatedBy,
	).Scan(&p.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to create proposal: %w", err)
	}

	grant := `
		INSERT INTO proposal_access (proposal_id, user_id, granted_at)
		VALUES ($1, $2, NOW())
	`

	if _, err := tx.Exec(ctx, grant, p.ID, p.CreatedBy); err != nil {
		return fmt.Errorf("failed to grant proposal access: %w", err)
	}

	return nil
}

// GetByID retrieves a proposal without access checks. Internal use only;
// request paths go through GetWithAccessCheck.
func (r *ProposalRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Proposal, error) {
	query := `SELECT ` + proposalColumns + ` FROM proposals WHERE id = $1`

	p, err := scanProposal(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.NotFoundf("proposal %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get proposal: %w", err)
	}

	return p, nil
}

// GetWithAccessCheck retrieves a proposal only when an access grant exists
// for (id, userID). A proposal without a grant is reported as not found so
// responses never disclose existence.
func (r *ProposalRepository) GetWithAccessCheck(ctx context.Context, id, userID uuid.UUID) (*models.Proposal, error) {
	query := `
		SELECT ` + qualifyProposalColumns("p") + `
		FROM proposals p
		JOIN proposal_access pa ON pa.proposal_id = p.id
		WHERE p.id = $1 AND pa.user_id = $2
	`

	p, err := scanProposal(r.db.QueryRow(ctx, query, id, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.NotFoundf("proposal %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get proposal: %w", err)
	}

	return p, nil
}

// GetWithAccessCheckForUpdate is GetWithAccessCheck plus an exclusive lock on
// the proposal row, held for the duration of tx. Used before approval so a
// proposal can never be applied twice concurrently.
func (r *ProposalRepository) GetWithAccessCheckForUpdate(ctx context.Context, tx pgx.Tx, id, userID uuid.UUID) (*models.Proposal, error) {
	query := `
		SELECT ` + qualifyProposalColumns("p") + `
		FROM proposals p
		JOIN proposal_access pa ON pa.proposal_id = p.id
		WHERE p.id = $1 AND pa.user_id = $2
		FOR UPDATE OF p
	`

	p, err := scanProposal(tx.QueryRow(ctx, query, id, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.NotFoundf("proposal %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock proposal: %w", err)
	}

	return p, nil
}

// UpdateResults records a processing outcome, stamping completed_at on the
// transition into completed or failed. Outcomes only apply while the
// proposal is still processing, so a finished proposal is frozen against
// late stream or poll updates; the returned count is 0 when the guard blocks
// the write.
func (r *ProposalRepository) UpdateResults(ctx context.Context, id uuid.UUID, status models.ProposalStatus, auditTrail json.RawMessage, files map[string]interface{}) (int64, error) {
	query := `
		UPDATE proposals
		SET status = $2,
		    audit_trail = $3,
		    generated_files = $4,
		    completed_at = CASE
		        WHEN $2 IN ('completed', 'failed') THEN NOW()
		        ELSE completed_at
		    END
		WHERE id = $1 AND status = 'processing'
	`

	var filesParam interface{}
	if files != nil {
		filesParam = files
	}

	tag, err := r.db.Exec(ctx, query, id, status, auditTrail, filesParam)
	if err != nil {
		return 0, fmt.Errorf("failed to update proposal results: %w", err)
	}

	return tag.RowsAffected(), nil
}

// Resolve marks a proposal resolved. The status guard makes resolution
// single-shot: a second resolve affects 0 rows. Rejecting a proposal that is
// still processing ends it too, so completed_at is filled in when the runtime
// never got the chance to.
func (r *ProposalRepository) Resolve(ctx context.Context, tx pgx.Tx, id uuid.UUID, resolution models.Resolution, resolvedBy uuid.UUID, auditTrail json.RawMessage) (int64, error) {
	query := `
		UPDATE proposals
		SET status = 'resolved',
		    resolution = $2,
		    resolved_by = $3,
		    resolved_at = NOW(),
		    completed_at = COALESCE(completed_at, NOW()),
		    audit_trail = $4
		WHERE id = $1 AND status <> 'resolved'
	`

	tag, err := tx.Exec(ctx, query, id, resolution, resolvedBy, auditTrail)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve proposal: %w", err)
	}

	return tag.RowsAffected(), nil
}

// GetByThreadID reverse-looks-up a proposal from its runtime thread id
func (r *ProposalRepository) GetByThreadID(ctx context.Context, threadID string) (*models.Proposal, error) {
	query := `SELECT ` + proposalColumns + ` FROM proposals WHERE thread_id = $1`

	p, err := scanProposal(r.db.QueryRow(ctx, query, threadID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.NotFoundf("proposal for thread %s", threadID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get proposal by thread: %w", err)
	}

	return p, nil
}

// CanAccess checks whether an access grant exists for (proposalID, userID)
func (r *ProposalRepository) CanAccess(ctx context.Context, proposalID, userID uuid.UUID) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM proposal_access WHERE proposal_id = $1 AND user_id = $2)`

	var allowed bool
	if err := r.db.QueryRow(ctx, query, proposalID, userID).Scan(&allowed); err != nil {
		return false, fmt.Errorf("failed to check proposal access: %w", err)
	}

	return allowed, nil
}

// CanAccessThread checks whether the user holds an access grant for the
// proposal owning the given thread. Used by the streaming proxy before
// relaying.
func (r *ProposalRepository) CanAccessThread(ctx context.Context, threadID string, userID uuid.UUID) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1
			FROM proposals p
			JOIN proposal_access pa ON pa.proposal_id = p.id
			WHERE p.thread_id = $1 AND pa.user_id = $2
		)
	`

	var allowed bool
	if err := r.db.QueryRow(ctx, query, threadID, userID).Scan(&allowed); err != nil {
		return false, fmt.Errorf("failed to check thread access: %w", err)
	}

	return allowed, nil
}

func scanProposal(row pgx.Row) (*models.Proposal, error) {
	p := &models.Proposal{}
	err := row.Scan(
		&p.ID,
		&p.DraftID,
		&p.ThreadID,
		&p.Instructions,
		&p.ContextFilePath,
		&p.ContextSelection,
		&p.Status,
		&p.Resolution,
		&p.GeneratedFiles,
		&p.AuditTrail,
		&p.CreatedBy,
		&p.CreatedAt,
		&p.CompletedAt,
		&p.ResolvedBy,
		&p.ResolvedAt,
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func qualifyProposalColumns(alias string) string {
	return fmt.Sprintf(`
	%[1]s.id, %[1]s.draft_id, %[1]s.thread_id, %[1]s.instructions,
	%[1]s.context_file_path, %[1]s.context_selection,
	%[1]s.status, %[1]s.resolution, %[1]s.generated_files, %[1]s.audit_trail,
	%[1]s.created_by, %[1]s.created_at, %[1]s.completed_at,
	%[1]s.resolved_by, %[1]s.resolved_at`, alias)
}
