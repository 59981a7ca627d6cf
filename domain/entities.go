package domain

import (
	"time"

	"github.com/google/uuid"
)

// Notebook is the top of the containment hierarchy. Slug is derived from
// Title and unique per owner; imports match notebooks by it when no id is
// present in frontmatter.
type Notebook struct {
	ID           uuid.UUID `json:"id"`
	UserID       uuid.UUID `json:"user_id"`
	Title        string    `json:"title"`
	Slug         string    `json:"slug"`
	LastModified time.Time `json:"last_modified"`
}

// Section sits under a notebook, ordered among siblings by Position.
// FolderID is set when the section lives inside a folder instead of at
// notebook root.
type Section struct {
	ID         uuid.UUID  `json:"id"`
	UserID     uuid.UUID  `json:"user_id"`
	NotebookID uuid.UUID  `json:"notebook_id"`
	FolderID   *uuid.UUID `json:"folder_id,omitempty"`
	Title      string     `json:"title"`
	Slug       string     `json:"slug"`
	Position   int        `json:"position"`
}

// Folder is an alternate containment path parallel to sections. Folders
// nest and may hold sections and items; they never appear in export paths.
type Folder struct {
	ID             uuid.UUID  `json:"id"`
	UserID         uuid.UUID  `json:"user_id"`
	NotebookID     *uuid.UUID `json:"notebook_id,omitempty"`
	ParentFolderID *uuid.UUID `json:"parent_folder_id,omitempty"`
	Title          string     `json:"title"`
}

// Item belongs to exactly one of a section or a folder.
type Item struct {
	ID        uuid.UUID  `json:"id"`
	UserID    uuid.UUID  `json:"user_id"`
	SectionID *uuid.UUID `json:"section_id,omitempty"`
	FolderID  *uuid.UUID `json:"folder_id,omitempty"`
	Title     string     `json:"title"`
	Slug      string     `json:"slug"`
	Position  int        `json:"position"`
}

// Note is the leaf entity and the unit of export. Content is the raw
// rich-text HTML string; the server never re-renders it.
type Note struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	ItemID    uuid.UUID `json:"item_id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Tags      []Tag     `json:"tags,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Tag is many-to-many with notes. Unique per (owner, slug); created lazily
// on first use and never deleted when unreferenced.
type Tag struct {
	ID     uuid.UUID `json:"id"`
	UserID uuid.UUID `json:"user_id"`
	Name   string    `json:"name"`
	Slug   string    `json:"slug"`
}

type User struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Token is an opaque server-side session token mapped to a user.
type Token struct {
	Token     string    `json:"token"`
	UserID    uuid.UUID `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}
