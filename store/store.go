// Package store is the record-store boundary: owner-scoped CRUD and
// filtered ordered queries over the hierarchy tables, plus the
// create-if-absent primitives the import engine needs for ancestor
// de-duplication. Postgres backs the real server; Memory backs tests.
package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/quillnotes/quill-server/domain"
)

// ErrNotFound is returned by every lookup that matches no row.
var ErrNotFound = errors.New("record not found")

// Store is implemented by Postgres and Memory. All operations are scoped
// by owner id; an entity belonging to another user behaves as absent.
//
// The Ensure* methods are atomic create-if-absent: they insert the given
// record, and when a record with the same unique key already exists they
// load the winner into the argument instead of failing. That is the
// primitive that makes concurrent imports racing on the same
// not-yet-existing ancestor safe.
type Store interface {
	// Users and session tokens.
	CreateUser(ctx context.Context, u *domain.User) error
	UserByEmail(ctx context.Context, email string) (*domain.User, error)
	CreateToken(ctx context.Context, t *domain.Token) error
	UserIDForToken(ctx context.Context, token string) (uuid.UUID, error)

	// Notebooks. Unique key: (owner, slug).
	CreateNotebook(ctx context.Context, nb *domain.Notebook) error
	EnsureNotebook(ctx context.Context, nb *domain.Notebook) (created bool, err error)
	NotebookByID(ctx context.Context, owner, id uuid.UUID) (*domain.Notebook, error)
	NotebookBySlug(ctx context.Context, owner uuid.UUID, slug string) (*domain.Notebook, error)
	Notebooks(ctx context.Context, owner uuid.UUID) ([]domain.Notebook, error)
	UpdateNotebook(ctx context.Context, nb *domain.Notebook) error
	DeleteNotebook(ctx context.Context, owner, id uuid.UUID) error

	// Sections, ordered by position. Unique key: (owner, notebook, slug).
	CreateSection(ctx context.Context, s *domain.Section) error
	EnsureSection(ctx context.Context, s *domain.Section) (created bool, err error)
	SectionByID(ctx context.Context, owner, id uuid.UUID) (*domain.Section, error)
	SectionBySlug(ctx context.Context, owner, notebookID uuid.UUID, slug string) (*domain.Section, error)
	Sections(ctx context.Context, owner, notebookID uuid.UUID) ([]domain.Section, error)
	MaxSectionPosition(ctx context.Context, owner, notebookID uuid.UUID) (int, error)
	UpdateSection(ctx context.Context, s *domain.Section) error
	DeleteSection(ctx context.Context, owner, id uuid.UUID) error

	// Folders.
	CreateFolder(ctx context.Context, f *domain.Folder) error
	FolderByID(ctx context.Context, owner, id uuid.UUID) (*domain.Folder, error)
	Folders(ctx context.Context, owner uuid.UUID) ([]domain.Folder, error)
	UpdateFolder(ctx context.Context, f *domain.Folder) error
	DeleteFolder(ctx context.Context, owner, id uuid.UUID) error

	// Items, ordered by position. Unique key: (owner, section, slug).
	CreateItem(ctx context.Context, it *domain.Item) error
	EnsureItem(ctx context.Context, it *domain.Item) (created bool, err error)
	ItemByID(ctx context.Context, owner, id uuid.UUID) (*domain.Item, error)
	ItemBySlug(ctx context.Context, owner, sectionID uuid.UUID, slug string) (*domain.Item, error)
	Items(ctx context.Context, owner, sectionID uuid.UUID) ([]domain.Item, error)
	MaxItemPosition(ctx context.Context, owner, sectionID uuid.UUID) (int, error)
	UpdateItem(ctx context.Context, it *domain.Item) error
	DeleteItem(ctx context.Context, owner, id uuid.UUID) error

	// Notes.
	CreateNote(ctx context.Context, n *domain.Note) error
	NoteByID(ctx context.Context, owner, id uuid.UUID) (*domain.Note, error)
	Notes(ctx context.Context, owner, itemID uuid.UUID) ([]domain.Note, error)
	UpdateNote(ctx context.Context, n *domain.Note) error
	DeleteNote(ctx context.Context, owner, id uuid.UUID) error
	SearchNotes(ctx context.Context, owner uuid.UUID, query string) ([]domain.Note, error)

	// Tags. Unique key: (owner, slug). Link and unlink are idempotent.
	EnsureTag(ctx context.Context, t *domain.Tag) (created bool, err error)
	Tags(ctx context.Context, owner uuid.UUID) ([]domain.Tag, error)
	TagsForNote(ctx context.Context, owner, noteID uuid.UUID) ([]domain.Tag, error)
	LinkTags(ctx context.Context, noteID uuid.UUID, tagIDs []uuid.UUID) error
	UnlinkAllTags(ctx context.Context, noteID uuid.UUID) error
}
