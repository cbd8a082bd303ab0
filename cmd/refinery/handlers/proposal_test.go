package handlers

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/google/uuid"

	"github.com/draftwell/refinery/cmd/refinery/models"
	"github.com/draftwell/refinery/cmd/refinery/service"
)

type fakeProposalReader struct {
	proposal *models.Proposal
	err      error

	gotProposal uuid.UUID
	gotUser     uuid.UUID
}

func (f *fakeProposalReader) GetProposalForUser(_ context.Context, proposalID, userID uuid.UUID) (*models.Proposal, error) {
	f.gotProposal = proposalID
	f.gotUser = userID
	if f.err != nil {
		return nil, f.err
	}
	return f.proposal, nil
}

func TestProposalGet(t *testing.T) {
	userID := uuid.New()
	proposal := &models.Proposal{
		ID:           uuid.New(),
		ThreadID:     "thread-7",
		Instructions: "Tighten the intro",
		Status:       models.ProposalCompleted,
		AuditTrail:   service.InitialAuditTrail(userID.String(), "Tighten the intro", nil, nil),
	}
	reader := &fakeProposalReader{proposal: proposal}
	h := NewProposalHandler(reader, testLog())

	c, rec := newContext(http.MethodGet, "/api/proposals/"+proposal.ID.String(), "")
	authenticate(c, userID)
	setParam(c, "proposal_id", proposal.ID.String())
	if err := h.Get(c); err != nil {
		t.Fatalf("Get returned error: %v", err)
	}

	assertStatus(t, rec, http.StatusOK)
	body := decodeBody(t, rec)
	if body["id"] != proposal.ID.String() {
		t.Errorf("id = %v", body["id"])
	}
	if body["thread_id"] != "thread-7" {
		t.Errorf("thread_id = %v", body["thread_id"])
	}
	if body["status"] != "completed" {
		t.Errorf("status = %v", body["status"])
	}

	summary, ok := body["audit_summary"].(map[string]interface{})
	if !ok {
		t.Fatalf("audit_summary missing: %v", body)
	}
	if summary["created_by"] != userID.String() {
		t.Errorf("audit created_by = %v", summary["created_by"])
	}
	if reader.gotProposal != proposal.ID || reader.gotUser != userID {
		t.Errorf("lookup used %s / %s", reader.gotProposal, reader.gotUser)
	}
}

func TestProposalGetOmitsEmptySummary(t *testing.T) {
	proposal := &models.Proposal{ID: uuid.New(), Status: models.ProposalProcessing}
	h := NewProposalHandler(&fakeProposalReader{proposal: proposal}, testLog())

	c, rec := newContext(http.MethodGet, "/api/proposals/"+proposal.ID.String(), "")
	authenticate(c, uuid.New())
	setParam(c, "proposal_id", proposal.ID.String())
	if err := h.Get(c); err != nil {
		t.Fatalf("Get returned error: %v", err)
	}

	assertStatus(t, rec, http.StatusOK)
	body := decodeBody(t, rec)
	if _, present := body["audit_summary"]; present {
		t.Errorf("audit_summary should be omitted for an empty trail: %v", body["audit_summary"])
	}
}

func TestProposalGetRequiresAuth(t *testing.T) {
	h := NewProposalHandler(&fakeProposalReader{}, testLog())

	c, rec := newContext(http.MethodGet, "/api/proposals/"+uuid.NewString(), "")
	if err := h.Get(c); err != nil {
		t.Fatalf("Get returned error: %v", err)
	}

	assertStatus(t, rec, http.StatusUnauthorized)
	assertErrorBody(t, rec, "Unauthorized", "unauthorized")
}

func TestProposalGetErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		param   string
		readErr error
		status  int
		message string
		code    string
	}{
		{"malformed id", "nope", nil, http.StatusNotFound, "Proposal not found", "not_found"},
		{"unknown proposal", uuid.NewString(), models.NotFoundf("proposal not found"), http.StatusNotFound, "Proposal not found", "not_found"},
		{"no grant", uuid.NewString(), models.AccessDeniedf("access denied"), http.StatusForbidden, "Access denied to proposal", "access_denied"},
		{"storage failure", uuid.NewString(), errors.New("pool exhausted"), http.StatusInternalServerError, "Internal server error", "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewProposalHandler(&fakeProposalReader{err: tt.readErr}, testLog())

			c, rec := newContext(http.MethodGet, "/api/proposals/"+tt.param, "")
			authenticate(c, uuid.New())
			setParam(c, "proposal_id", tt.param)
			if err := h.Get(c); err != nil {
				t.Fatalf("Get returned error: %v", err)
			}

			assertStatus(t, rec, tt.status)
			assertErrorBody(t, rec, tt.message, tt.code)
		})
	}
}
