package domain

import "github.com/google/uuid"

// ImportResult aggregates one archive import. A file that fails at any
// stage lands in Errors; the batch never aborts on a single bad member.
type ImportResult struct {
	Added   int           `json:"added"`
	Updated int           `json:"updated"`
	Skipped int           `json:"skipped"`
	Errors  []ImportError `json:"errors"`
}

type ImportError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// Backup is the whole-tree JSON snapshot. Unlike the zip round-trip it is
// written and restored wholesale by id, with no slug matching.
type Backup struct {
	Notebooks []BackupNotebook `json:"notebooks"`
}

type BackupNotebook struct {
	ID       uuid.UUID       `json:"id"`
	Title    string          `json:"title"`
	Sections []BackupSection `json:"sections"`
}

type BackupSection struct {
	ID       uuid.UUID    `json:"id"`
	Title    string       `json:"title"`
	Position int          `json:"position"`
	Items    []BackupItem `json:"items"`
}

type BackupItem struct {
	ID       uuid.UUID    `json:"id"`
	Title    string       `json:"title"`
	Position int          `json:"position"`
	Notes    []BackupNote `json:"notes"`
}

type BackupNote struct {
	ID      uuid.UUID `json:"id"`
	Title   string    `json:"title"`
	Content string    `json:"content"`
}
