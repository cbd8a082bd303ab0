package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/draftwell/refinery/cmd/refinery/models"
	"github.com/draftwell/refinery/common/clients"
	"github.com/draftwell/refinery/common/events"
	"github.com/draftwell/refinery/common/logger"
	"github.com/draftwell/refinery/common/policy"
)

// failedThreadPrefix marks synthetic thread ids minted when the runtime
// could not be invoked. Such threads never existed on the runtime, so they
// are excluded from polling and cleanup.
const failedThreadPrefix = "failed-"

// ProposalStore is the persistence surface the engine drives. Reads and
// result updates run standalone; resolution work runs through InTx so lock,
// draft mutation, and resolve share one transaction.
type ProposalStore interface {
	CreateProcessing(ctx context.Context, p *models.Proposal) error
	Get(ctx context.Context, id uuid.UUID) (*models.Proposal, error)
	GetByThreadID(ctx context.Context, threadID string) (*models.Proposal, error)
	CanAccess(ctx context.Context, proposalID, userID uuid.UUID) (bool, error)
	CanAccessThread(ctx context.Context, threadID string, userID uuid.UUID) (bool, error)
	UpdateResults(ctx context.Context, id uuid.UUID, status models.ProposalStatus, auditTrail json.RawMessage, files map[string]interface{}) (int64, error)
	InTx(ctx context.Context, fn func(ops TxOps) error) error
}

// TxOps are the proposal operations available inside a store transaction.
type TxOps interface {
	LockProposal(ctx context.Context, proposalID, userID uuid.UUID) (*models.Proposal, error)
	ApplyFiles(ctx context.Context, draftID uuid.UUID, entries []models.FileEntry) (int, error)
	Resolve(ctx context.Context, proposalID uuid.UUID, resolution models.Resolution, resolvedBy uuid.UUID, auditTrail json.RawMessage) (int64, error)
}

// DraftLocker is the slice of the draft lifecycle the engine needs.
type DraftLocker interface {
	ValidateDraftAccess(ctx context.Context, draftID, userID uuid.UUID) (*models.Draft, error)
	GetDraftFiles(ctx context.Context, draftID uuid.UUID) (map[string]interface{}, error)
}

// RuntimeInvoker is the engine's view of the execution runtime.
type RuntimeInvoker interface {
	Invoke(ctx context.Context, req clients.JobRequest) (string, error)
	GetState(ctx context.Context, threadID string) (*clients.ExecutionState, error)
	Cleanup(ctx context.Context, threadID string) bool
	IsHealthy(ctx context.Context) bool
}

// OrchestrationService drives the refinement proposal lifecycle: it submits
// jobs to the runtime, records their outcomes, and applies or discards the
// generated files when a user resolves the proposal.
type OrchestrationService struct {
	store     ProposalStore
	locker    DraftLocker
	runtime   RuntimeInvoker
	publisher events.Publisher
	admission *policy.Evaluator
	tasks     *TaskRunner
	log       *logger.Logger
}

// NewOrchestrationService creates a new orchestration engine
func NewOrchestrationService(
	store ProposalStore,
	locker DraftLocker,
	runtime RuntimeInvoker,
	publisher events.Publisher,
	admission *policy.Evaluator,
	tasks *TaskRunner,
	log *logger.Logger,
) *OrchestrationService {
	return &OrchestrationService{
		store:     store,
		locker:    locker,
		runtime:   runtime,
		publisher: publisher,
		admission: admission,
		tasks:     tasks,
		log:       log,
	}
}

// CreateRefinementProposal submits a refinement job for the draft and records
// it as a processing proposal. When the runtime cannot be reached the
// proposal is still created, in a synthetic failed state, so every request
// leaves an audit record.
func (s *OrchestrationService) CreateRefinementProposal(ctx context.Context, draftID, userID uuid.UUID, req *models.CreateRefinementRequest) (*models.Proposal, error) {
	instructions := strings.TrimSpace(req.Instructions)
	if instructions == "" {
		return nil, models.Validationf("instructions are required")
	}

	draft, err := s.locker.ValidateDraftAccess(ctx, draftID, userID)
	if err != nil {
		return nil, err
	}

	if err := s.admit(instructions, req, userID, draft.WorkflowID); err != nil {
		return nil, err
	}

	proposalID := uuid.New()
	auditTrail := InitialAuditTrail(userID.String(), instructions, req.ContextFilePath, req.ContextSelection)

	currentFiles, err := s.locker.GetDraftFiles(ctx, draftID)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot draft files: %w", err)
	}

	contextSelection := ""
	if req.ContextSelection != nil {
		contextSelection = *req.ContextSelection
	}

	jobReq := clients.JobRequest{
		TraceID:         fmt.Sprintf("trace-%s", proposalID),
		JobID:           fmt.Sprintf("refinement-%s", proposalID),
		AgentDefinition: currentFiles,
		InputPayload: clients.InputPayload{
			Messages:        []clients.Message{{Role: "user", Content: instructions}},
			Instructions:    instructions,
			Context:         contextSelection,
			ContextFilePath: req.ContextFilePath,
		},
	}

	threadID, err := s.runtime.Invoke(ctx, jobReq)
	if err != nil {
		s.recordInvokeFailure(ctx, proposalID, draftID, userID, instructions, req, auditTrail, err)
		return nil, models.RuntimeUnavailablef("runtime invoke failed: %v", err)
	}

	proposal := &models.Proposal{
		ID:               proposalID,
		DraftID:          draftID,
		ThreadID:         threadID,
		Instructions:     instructions,
		ContextFilePath:  req.ContextFilePath,
		ContextSelection: req.ContextSelection,
		Status:           models.ProposalProcessing,
		AuditTrail:       auditTrail,
		CreatedBy:        userID,
	}

	if err := s.store.CreateProcessing(ctx, proposal); err != nil {
		// The runtime job is already running with nobody tracking it.
		s.scheduleCleanup(threadID)
		return nil, fmt.Errorf("failed to create proposal: %w", err)
	}

	s.publish(ctx, events.ProposalEvent{
		Event:      events.ProposalCreated,
		ProposalID: proposalID.String(),
		ThreadID:   threadID,
		Status:     string(models.ProposalProcessing),
		UserID:     userID.String(),
	})

	s.log.Info("created refinement proposal",
		"proposal_id", proposalID, "thread_id", threadID, "draft_id", draftID)
	return proposal, nil
}

// recordInvokeFailure persists an auditable failed proposal for a refinement
// request the runtime never accepted. Persistence errors here are logged and
// swallowed: the caller is already surfacing the invoke failure.
func (s *OrchestrationService) recordInvokeFailure(ctx context.Context, proposalID, draftID, userID uuid.UUID, instructions string, req *models.CreateRefinementRequest, auditTrail json.RawMessage, invokeErr error) {
	proposal := &models.Proposal{
		ID:               proposalID,
		DraftID:          draftID,
		ThreadID:         failedThreadPrefix + proposalID.String(),
		Instructions:     instructions,
		ContextFilePath:  req.ContextFilePath,
		ContextSelection: req.ContextSelection,
		Status:           models.ProposalProcessing,
		AuditTrail:       auditTrail,
		CreatedBy:        userID,
	}

	if err := s.store.CreateProcessing(ctx, proposal); err != nil {
		s.log.Error("failed to record failed proposal", "proposal_id", proposalID, "error", err)
		return
	}

	if err := s.finishProposal(ctx, proposal, models.ProposalFailed, invokeErr.Error(), nil); err != nil {
		s.log.Error("failed to mark proposal failed", "proposal_id", proposalID, "error", err)
	}
}

// admit evaluates the admission policy for a refinement request
func (s *OrchestrationService) admit(instructions string, req *models.CreateRefinementRequest, userID, workflowID uuid.UUID) error {
	if s.admission == nil {
		return nil
	}

	policyReq := policy.Request{
		Instructions: instructions,
		UserID:       userID.String(),
		WorkflowID:   workflowID.String(),
	}
	if req.ContextFilePath != nil {
		policyReq.ContextFilePath = *req.ContextFilePath
	}
	if req.ContextSelection != nil {
		policyReq.ContextSelection = *req.ContextSelection
	}

	allowed, err := s.admission.Admit(policyReq)
	if err != nil {
		return fmt.Errorf("failed to evaluate admission policy: %w", err)
	}
	if !allowed {
		return models.Validationf("refinement request denied by policy")
	}
	return nil
}

// ApproveProposal applies a completed proposal's generated files to its draft
// and resolves it, all inside one transaction holding the proposal row lock.
// Runtime cleanup is scheduled after commit and never blocks the approval.
func (s *OrchestrationService) ApproveProposal(ctx context.Context, proposalID, userID uuid.UUID) error {
	var proposal *models.Proposal

	err := s.store.InTx(ctx, func(ops TxOps) error {
		p, err := ops.LockProposal(ctx, proposalID, userID)
		if err != nil {
			return err
		}

		if !p.CanApprove() {
			return models.InvalidStatef("proposal %s is not ready for approval (status: %s)", proposalID, p.Status)
		}

		entries := models.NormalizeFileSet(p.GeneratedFiles)
		applied, err := ops.ApplyFiles(ctx, p.DraftID, entries)
		if err != nil {
			return err
		}

		auditTrail := AddApprovalEvent(p.AuditTrail, userID.String(), applied)
		rows, err := ops.Resolve(ctx, proposalID, models.ResolutionApproved, userID, auditTrail)
		if err != nil {
			return fmt.Errorf("failed to resolve proposal: %w", err)
		}
		if rows == 0 {
			return models.InvalidStatef("proposal %s is already resolved", proposalID)
		}

		proposal = p
		return nil
	})
	if err != nil {
		return err
	}

	s.scheduleCleanup(proposal.ThreadID)
	s.publish(ctx, events.ProposalEvent{
		Event:      events.ProposalResolved,
		ProposalID: proposalID.String(),
		ThreadID:   proposal.ThreadID,
		Status:     string(models.ProposalResolved),
		Resolution: string(models.ResolutionApproved),
		UserID:     userID.String(),
	})

	s.log.Info("approved proposal", "proposal_id", proposalID, "user_id", userID)
	return nil
}

// RejectProposal resolves a proposal as rejected without touching the draft.
// Any unresolved proposal can be rejected, including processing and failed
// ones.
func (s *OrchestrationService) RejectProposal(ctx context.Context, proposalID, userID uuid.UUID) error {
	var proposal *models.Proposal

	err := s.store.InTx(ctx, func(ops TxOps) error {
		p, err := ops.LockProposal(ctx, proposalID, userID)
		if err != nil {
			return err
		}

		if p.IsResolved() {
			return models.InvalidStatef("proposal %s is already resolved", proposalID)
		}

		auditTrail := AddRejectionEvent(p.AuditTrail, userID.String())
		rows, err := ops.Resolve(ctx, proposalID, models.ResolutionRejected, userID, auditTrail)
		if err != nil {
			return fmt.Errorf("failed to resolve proposal: %w", err)
		}
		if rows == 0 {
			return models.InvalidStatef("proposal %s is already resolved", proposalID)
		}

		proposal = p
		return nil
	})
	if err != nil {
		return err
	}

	s.scheduleCleanup(proposal.ThreadID)
	s.publish(ctx, events.ProposalEvent{
		Event:      events.ProposalResolved,
		ProposalID: proposalID.String(),
		ThreadID:   proposal.ThreadID,
		Status:     string(models.ProposalResolved),
		Resolution: string(models.ResolutionRejected),
		UserID:     userID.String(),
	})

	s.log.Info("rejected proposal", "proposal_id", proposalID, "user_id", userID)
	return nil
}

// UpdateProposalFilesFromStream records a completed runtime execution
// observed on the stream, storing the final generated files.
func (s *OrchestrationService) UpdateProposalFilesFromStream(ctx context.Context, threadID string, files map[string]interface{}) error {
	return s.applyRuntimeOutcome(ctx, threadID, models.ProposalCompleted, "", files)
}

// UpdateProposalStatusFromStream records a terminal runtime status observed
// on the stream, typically a failure with its error message.
func (s *OrchestrationService) UpdateProposalStatusFromStream(ctx context.Context, threadID string, status models.ProposalStatus, errMsg string) error {
	return s.applyRuntimeOutcome(ctx, threadID, status, errMsg, nil)
}

// applyRuntimeOutcome is the shared completion path: streaming and polling
// both land here, so status, audit entry, files, and the lifecycle event stay
// consistent regardless of how the outcome was observed.
func (s *OrchestrationService) applyRuntimeOutcome(ctx context.Context, threadID string, status models.ProposalStatus, result interface{}, files map[string]interface{}) error {
	proposal, err := s.store.GetByThreadID(ctx, threadID)
	if err != nil {
		return err
	}
	return s.finishProposal(ctx, proposal, status, result, files)
}

func (s *OrchestrationService) finishProposal(ctx context.Context, proposal *models.Proposal, status models.ProposalStatus, result interface{}, files map[string]interface{}) error {
	if proposal.Status != models.ProposalProcessing {
		return models.InvalidStatef("proposal %s is no longer processing", proposal.ID)
	}

	stored := normalizeForStorage(files)
	auditTrail := AddProcessingEvent(proposal.AuditTrail, status, result, stored)

	rows, err := s.store.UpdateResults(ctx, proposal.ID, status, auditTrail, stored)
	if err != nil {
		return fmt.Errorf("failed to update proposal results: %w", err)
	}
	if rows == 0 {
		return models.InvalidStatef("proposal %s is no longer processing", proposal.ID)
	}

	event := events.ProposalCompleted
	if status == models.ProposalFailed {
		event = events.ProposalFailed
	}
	s.publish(ctx, events.ProposalEvent{
		Event:      event,
		ProposalID: proposal.ID.String(),
		ThreadID:   proposal.ThreadID,
		Status:     string(status),
	})

	s.log.Info("recorded proposal outcome",
		"proposal_id", proposal.ID, "status", status, "files_count", len(stored))
	return nil
}

// GetProposalForUser returns a proposal for an authorized user. A proposal
// still processing is opportunistically refreshed from the runtime's state
// endpoint, so a client that missed the stream still observes completion.
func (s *OrchestrationService) GetProposalForUser(ctx context.Context, proposalID, userID uuid.UUID) (*models.Proposal, error) {
	proposal, err := s.store.Get(ctx, proposalID)
	if err != nil {
		return nil, err
	}

	allowed, err := s.store.CanAccess(ctx, proposalID, userID)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, models.AccessDeniedf("access denied to proposal %s", proposalID)
	}

	if proposal.Status == models.ProposalProcessing && !strings.HasPrefix(proposal.ThreadID, failedThreadPrefix) {
		if refreshed := s.refreshFromRuntime(ctx, proposal); refreshed != nil {
			proposal = refreshed
		}
	}

	return proposal, nil
}

// refreshFromRuntime polls the runtime's state endpoint for a processing
// proposal and records a terminal outcome when one is found. Best-effort:
// any failure leaves the stored proposal untouched and returns nil.
func (s *OrchestrationService) refreshFromRuntime(ctx context.Context, proposal *models.Proposal) *models.Proposal {
	state, err := s.runtime.GetState(ctx, proposal.ThreadID)
	if err != nil {
		s.log.Debug("runtime state poll failed", "thread_id", proposal.ThreadID, "error", err)
		return nil
	}

	switch state.Status {
	case "completed":
		err = s.finishProposal(ctx, proposal, models.ProposalCompleted, state.Result, state.GeneratedFiles)
	case "failed", "error":
		err = s.finishProposal(ctx, proposal, models.ProposalFailed, state.Error, nil)
	default:
		return nil
	}
	if err != nil {
		s.log.Warn("failed to record polled outcome",
			"proposal_id", proposal.ID, "thread_id", proposal.ThreadID, "error", err)
		return nil
	}

	refreshed, err := s.store.Get(ctx, proposal.ID)
	if err != nil {
		return nil
	}
	return refreshed
}

// CanAccessThread reports whether the user may stream a thread
func (s *OrchestrationService) CanAccessThread(ctx context.Context, threadID string, userID uuid.UUID) (bool, error) {
	return s.store.CanAccessThread(ctx, threadID, userID)
}

// RuntimeHealthy reports whether the runtime is reachable
func (s *OrchestrationService) RuntimeHealthy(ctx context.Context) bool {
	return s.runtime.IsHealthy(ctx)
}

// Wait blocks until all scheduled background tasks finish. Used by graceful
// shutdown and tests.
func (s *OrchestrationService) Wait() {
	s.tasks.Wait()
}

// scheduleCleanup releases runtime resources for a thread without blocking
// the caller. Synthetic failed threads never existed on the runtime and are
// skipped.
func (s *OrchestrationService) scheduleCleanup(threadID string) {
	if strings.HasPrefix(threadID, failedThreadPrefix) {
		return
	}
	s.tasks.Go("runtime-cleanup", func(ctx context.Context) {
		s.runtime.Cleanup(ctx, threadID)
	})
}

func (s *OrchestrationService) publish(ctx context.Context, event events.ProposalEvent) {
	if s.publisher == nil {
		return
	}
	s.publisher.PublishProposalEvent(ctx, event)
}

// normalizeForStorage runs a runtime files payload through the ingress rules
// and rebuilds the path-keyed mapping persisted on the proposal. Entries the
// ingress rules drop never reach storage. Returns nil when nothing survives
// so the column stays NULL.
func normalizeForStorage(files map[string]interface{}) map[string]interface{} {
	entries := models.NormalizeFileSet(files)
	if len(entries) == 0 {
		return nil
	}

	out := make(map[string]interface{}, len(entries))
	for _, e := range entries {
		out[e.Path] = map[string]interface{}{
			"content": e.Content,
			"type":    e.Type,
		}
	}
	return out
}
