package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultFileType is assumed when a generated file carries no type
const DefaultFileType = "markdown"

// Draft is the single mutable file set of a workflow
// Maps to: drafts table
type Draft struct {
	ID          uuid.UUID `db:"id" json:"id"`
	WorkflowID  uuid.UUID `db:"workflow_id" json:"workflow_id"`
	Name        string    `db:"name" json:"name"`
	Description string    `db:"description" json:"description"`
	CreatedBy   uuid.UUID `db:"created_by" json:"created_by"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// DraftFile is one file within a draft, unique per (draft_id, file_path)
// Maps to: draft_files table
type DraftFile struct {
	ID        uuid.UUID `db:"id" json:"id"`
	DraftID   uuid.UUID `db:"draft_id" json:"draft_id"`
	FilePath  string    `db:"file_path" json:"file_path"`
	Content   string    `db:"content" json:"content"`
	FileType  string    `db:"file_type" json:"file_type"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// FileEntry is the normalized form of one generated file, ready to upsert
type FileEntry struct {
	Path    string
	Content string
	Type    string
}

// NormalizeFileSet converts a raw generated-files mapping (path → value) into
// upsertable entries. Values that are not objects or carry no content are
// skipped. List content is joined with newlines; any other non-string content
// is stringified. A missing type defaults to markdown.
func NormalizeFileSet(files map[string]interface{}) []FileEntry {
	entries := make([]FileEntry, 0, len(files))

	for path, raw := range files {
		data, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		rawContent, ok := data["content"]
		if !ok {
			continue
		}

		var content string
		switch v := rawContent.(type) {
		case string:
			content = v
		case []interface{}:
			for i, line := range v {
				if i > 0 {
					content += "\n"
				}
				content += fmt.Sprint(line)
			}
		default:
			content = fmt.Sprint(v)
		}

		fileType := DefaultFileType
		if t, ok := data["type"].(string); ok && t != "" {
			fileType = t
		}

		entries = append(entries, FileEntry{
			Path:    path,
			Content: content,
			Type:    fileType,
		})
	}

	return entries
}
