package service

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/draftwell/refinery/cmd/refinery/models"
	"github.com/draftwell/refinery/cmd/refinery/repository"
	"github.com/draftwell/refinery/common/db"
)

// PgProposalStore is the Postgres-backed proposal store used by the
// orchestration engine. Single-row reads and result updates run on the pool;
// resolution runs through InTx so the row lock, the draft mutation, and the
// resolve commit or roll back together.
type PgProposalStore struct {
	db        *db.DB
	proposals *repository.ProposalRepository
	locker    *DraftLockService
}

// NewPgProposalStore creates a new proposal store
func NewPgProposalStore(database *db.DB, proposals *repository.ProposalRepository, locker *DraftLockService) *PgProposalStore {
	return &PgProposalStore{
		db:        database,
		proposals: proposals,
		locker:    locker,
	}
}

// CreateProcessing inserts the proposal and the creator's access grant in
// one transaction
func (s *PgProposalStore) CreateProcessing(ctx context.Context, p *models.Proposal) error {
	return s.db.WithTx(ctx, func(tx pgx.Tx) error {
		return s.proposals.Create(ctx, tx, p)
	})
}

// Get returns a proposal by id
func (s *PgProposalStore) Get(ctx context.Context, id uuid.UUID) (*models.Proposal, error) {
	return s.proposals.GetByID(ctx, id)
}

// GetByThreadID returns the proposal owning a runtime thread
func (s *PgProposalStore) GetByThreadID(ctx context.Context, threadID string) (*models.Proposal, error) {
	return s.proposals.GetByThreadID(ctx, threadID)
}

// CanAccess reports whether the user holds an access grant on the proposal
func (s *PgProposalStore) CanAccess(ctx context.Context, proposalID, userID uuid.UUID) (bool, error) {
	return s.proposals.CanAccess(ctx, proposalID, userID)
}

// CanAccessThread reports whether the user holds an access grant on the
// proposal owning the thread
func (s *PgProposalStore) CanAccessThread(ctx context.Context, threadID string, userID uuid.UUID) (bool, error) {
	return s.proposals.CanAccessThread(ctx, threadID, userID)
}

// UpdateResults records a runtime outcome; resolved proposals are left
// untouched and report zero affected rows
func (s *PgProposalStore) UpdateResults(ctx context.Context, id uuid.UUID, status models.ProposalStatus, auditTrail json.RawMessage, files map[string]interface{}) (int64, error) {
	return s.proposals.UpdateResults(ctx, id, status, auditTrail, files)
}

// InTx runs fn against operations sharing a single transaction
func (s *PgProposalStore) InTx(ctx context.Context, fn func(ops TxOps) error) error {
	return s.db.WithTx(ctx, func(tx pgx.Tx) error {
		return fn(&pgTxOps{tx: tx, store: s})
	})
}

type pgTxOps struct {
	tx    pgx.Tx
	store *PgProposalStore
}

func (o *pgTxOps) LockProposal(ctx context.Context, proposalID, userID uuid.UUID) (*models.Proposal, error) {
	return o.store.proposals.GetWithAccessCheckForUpdate(ctx, o.tx, proposalID, userID)
}

func (o *pgTxOps) ApplyFiles(ctx context.Context, draftID uuid.UUID, entries []models.FileEntry) (int, error) {
	return o.store.locker.ApplyEntriesTx(ctx, o.tx, draftID, entries)
}

func (o *pgTxOps) Resolve(ctx context.Context, proposalID uuid.UUID, resolution models.Resolution, resolvedBy uuid.UUID, auditTrail json.RawMessage) (int64, error) {
	return o.store.proposals.Resolve(ctx, o.tx, proposalID, resolution, resolvedBy, auditTrail)
}
