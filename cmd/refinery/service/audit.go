package service

import (
	"encoding/json"
	"fmt"
	"time"

	jsonpatch "github.com/evanphx/json-patch/v5"

	"github.com/draftwell/refinery/cmd/refinery/models"
)

// Audit event keys. Processing events are keyed processing_<status>.
const (
	auditCreated  = "created"
	auditApproved = "approved"
	auditRejected = "rejected"
)

// resultSummaryLimit caps the stored runtime result excerpt
const resultSummaryLimit = 200

// The audit trail is an opaque JSON object keyed by event name. Builders are
// pure: they take the current record and return an updated one, overlaying
// the new entry as an RFC 7386 merge patch. Malformed or missing input
// records are treated as empty objects, never as errors.

// InitialAuditTrail seeds the record for a new proposal
func InitialAuditTrail(userID, instructions string, contextFilePath, contextSelection *string) json.RawMessage {
	entry := map[string]interface{}{
		"timestamp":    auditNow(),
		"user_id":      userID,
		"action":       "proposal_created",
		"instructions": instructions,
	}
	if contextFilePath != nil {
		entry["context_file_path"] = *contextFilePath
	}
	if contextSelection != nil {
		entry["context_selection"] = *contextSelection
	}

	return overlayAuditEvent(nil, auditCreated, entry)
}

// AddProcessingEvent appends a processing outcome with a truncated result
// excerpt and a file count
func AddProcessingEvent(record json.RawMessage, status models.ProposalStatus, result interface{}, files map[string]interface{}) json.RawMessage {
	entry := map[string]interface{}{
		"timestamp":   auditNow(),
		"status":      string(status),
		"files_count": len(files),
	}
	if summary, ok := summarizeResult(result); ok {
		entry["result_summary"] = summary
	}

	return overlayAuditEvent(record, fmt.Sprintf("processing_%s", status), entry)
}

// AddApprovalEvent appends an approval with the applied file count
func AddApprovalEvent(record json.RawMessage, userID string, filesApplied int) json.RawMessage {
	entry := map[string]interface{}{
		"timestamp":     auditNow(),
		"user_id":       userID,
		"action":        "proposal_approved",
		"files_applied": filesApplied,
	}

	return overlayAuditEvent(record, auditApproved, entry)
}

// AddRejectionEvent appends a rejection
func AddRejectionEvent(record json.RawMessage, userID string) json.RawMessage {
	entry := map[string]interface{}{
		"timestamp": auditNow(),
		"user_id":   userID,
		"action":    "proposal_rejected",
	}

	return overlayAuditEvent(record, auditRejected, entry)
}

// AuditSummary flattens the record into the key events exposed on API
// responses. Malformed records yield an empty summary.
func AuditSummary(record json.RawMessage) map[string]interface{} {
	summary := map[string]interface{}{}

	trail := map[string]map[string]interface{}{}
	if len(record) == 0 {
		return summary
	}
	if err := json.Unmarshal(record, &trail); err != nil {
		return summary
	}

	if created, ok := trail[auditCreated]; ok {
		summary["created_at"] = created["timestamp"]
		summary["created_by"] = created["user_id"]
	}

	if completed, ok := trail["processing_completed"]; ok {
		summary["completed_at"] = completed["timestamp"]
		summary["files_generated"] = completed["files_count"]
	}

	if failed, ok := trail["processing_failed"]; ok {
		summary["failed_at"] = failed["timestamp"]
	}

	if approved, ok := trail[auditApproved]; ok {
		summary["approved_at"] = approved["timestamp"]
		summary["approved_by"] = approved["user_id"]
		summary["files_applied"] = approved["files_applied"]
	}

	if rejected, ok := trail[auditRejected]; ok {
		summary["rejected_at"] = rejected["timestamp"]
		summary["rejected_by"] = rejected["user_id"]
	}

	return summary
}

// overlayAuditEvent merges {key: entry} onto the record. A record that is
// missing or not valid JSON starts over as an empty object.
func overlayAuditEvent(record json.RawMessage, key string, entry map[string]interface{}) json.RawMessage {
	base := record
	if len(base) == 0 || !json.Valid(base) {
		base = json.RawMessage(`{}`)
	}

	patch, err := json.Marshal(map[string]interface{}{key: entry})
	if err != nil {
		return base
	}

	merged, err := jsonpatch.MergePatch(base, patch)
	if err != nil {
		merged, err = jsonpatch.MergePatch([]byte(`{}`), patch)
		if err != nil {
			return base
		}
	}

	return merged
}

func summarizeResult(result interface{}) (string, bool) {
	if result == nil {
		return "", false
	}
	s := fmt.Sprint(result)
	if s == "" {
		return "", false
	}
	if runes := []rune(s); len(runes) > resultSummaryLimit {
		s = string(runes[:resultSummaryLimit])
	}
	return s, true
}

func auditNow() string {
	return time.Now().UTC().Format(time.RFC3339)
}
