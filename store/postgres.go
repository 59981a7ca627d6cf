package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quillnotes/quill-server/domain"
)

// Postgres implements Store on a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

var _ Store = (*Postgres)(nil)

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// Users

func (s *Postgres) CreateUser(ctx context.Context, u *domain.User) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, email, password_hash, created_at) VALUES ($1, $2, $3, $4)`,
		u.ID, u.Email, u.PasswordHash, u.CreatedAt)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *Postgres) UserByEmail(ctx context.Context, email string) (*domain.User, error) {
	var u domain.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, email, password_hash, created_at FROM users WHERE email = $1`, email).
		Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (s *Postgres) CreateToken(ctx context.Context, t *domain.Token) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO tokens (token, user_id, created_at) VALUES ($1, $2, $3)`,
		t.Token, t.UserID, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("create token: %w", err)
	}
	return nil
}

func (s *Postgres) UserIDForToken(ctx context.Context, token string) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.pool.QueryRow(ctx,
		`SELECT user_id FROM tokens WHERE token = $1`, token).Scan(&id)
	if err != nil {
		return uuid.Nil, notFound(err)
	}
	return id, nil
}

// Notebooks

func (s *Postgres) CreateNotebook(ctx context.Context, nb *domain.Notebook) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO notebooks (id, user_id, title, slug) VALUES ($1, $2, $3, $4)
		 RETURNING last_modified`,
		nb.ID, nb.UserID, nb.Title, nb.Slug).Scan(&nb.LastModified)
	if err != nil {
		return fmt.Errorf("create notebook: %w", err)
	}
	return nil
}

func (s *Postgres) EnsureNotebook(ctx context.Context, nb *domain.Notebook) (bool, error) {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO notebooks (id, user_id, title, slug) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id, slug) DO NOTHING
		 RETURNING id`,
		nb.ID, nb.UserID, nb.Title, nb.Slug).Scan(&nb.ID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, pgx.ErrNoRows) || isUniqueViolation(err):
		// Lost the race or the slug already existed: reuse the winner.
		existing, lerr := s.NotebookBySlug(ctx, nb.UserID, nb.Slug)
		if lerr != nil {
			return false, lerr
		}
		*nb = *existing
		return false, nil
	default:
		return false, fmt.Errorf("ensure notebook: %w", err)
	}
}

func (s *Postgres) NotebookByID(ctx context.Context, owner, id uuid.UUID) (*domain.Notebook, error) {
	return s.scanNotebook(s.pool.QueryRow(ctx,
		`SELECT id, user_id, title, slug, last_modified FROM notebooks
		 WHERE user_id = $1 AND id = $2`, owner, id))
}

func (s *Postgres) NotebookBySlug(ctx context.Context, owner uuid.UUID, slug string) (*domain.Notebook, error) {
	return s.scanNotebook(s.pool.QueryRow(ctx,
		`SELECT id, user_id, title, slug, last_modified FROM notebooks
		 WHERE user_id = $1 AND slug = $2`, owner, slug))
}

func (s *Postgres) scanNotebook(row pgx.Row) (*domain.Notebook, error) {
	var nb domain.Notebook
	err := row.Scan(&nb.ID, &nb.UserID, &nb.Title, &nb.Slug, &nb.LastModified)
	if err != nil {
		return nil, notFound(err)
	}
	return &nb, nil
}

func (s *Postgres) Notebooks(ctx context.Context, owner uuid.UUID) ([]domain.Notebook, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, title, slug, last_modified FROM notebooks
		 WHERE user_id = $1 ORDER BY title`, owner)
	if err != nil {
		return nil, fmt.Errorf("list notebooks: %w", err)
	}
	defer rows.Close()

	var out []domain.Notebook
	for rows.Next() {
		var nb domain.Notebook
		if err := rows.Scan(&nb.ID, &nb.UserID, &nb.Title, &nb.Slug, &nb.LastModified); err != nil {
			return nil, err
		}
		out = append(out, nb)
	}
	return out, rows.Err()
}

func (s *Postgres) UpdateNotebook(ctx context.Context, nb *domain.Notebook) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE notebooks SET title = $3, slug = $4, last_modified = now()
		 WHERE user_id = $1 AND id = $2`,
		nb.UserID, nb.ID, nb.Title, nb.Slug)
	if err != nil {
		return fmt.Errorf("update notebook: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) DeleteNotebook(ctx context.Context, owner, id uuid.UUID) error {
	return s.deleteRow(ctx, `DELETE FROM notebooks WHERE user_id = $1 AND id = $2`, owner, id)
}

// Sections

func (s *Postgres) CreateSection(ctx context.Context, sec *domain.Section) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sections (id, user_id, notebook_id, folder_id, title, slug, position)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		sec.ID, sec.UserID, sec.NotebookID, sec.FolderID, sec.Title, sec.Slug, sec.Position)
	if err != nil {
		return fmt.Errorf("create section: %w", err)
	}
	return nil
}

func (s *Postgres) EnsureSection(ctx context.Context, sec *domain.Section) (bool, error) {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO sections (id, user_id, notebook_id, folder_id, title, slug, position)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (user_id, notebook_id, slug) DO NOTHING
		 RETURNING id`,
		sec.ID, sec.UserID, sec.NotebookID, sec.FolderID, sec.Title, sec.Slug, sec.Position).
		Scan(&sec.ID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, pgx.ErrNoRows) || isUniqueViolation(err):
		existing, lerr := s.SectionBySlug(ctx, sec.UserID, sec.NotebookID, sec.Slug)
		if lerr != nil {
			return false, lerr
		}
		*sec = *existing
		return false, nil
	default:
		return false, fmt.Errorf("ensure section: %w", err)
	}
}

func (s *Postgres) SectionByID(ctx context.Context, owner, id uuid.UUID) (*domain.Section, error) {
	return s.scanSection(s.pool.QueryRow(ctx,
		`SELECT id, user_id, notebook_id, folder_id, title, slug, position FROM sections
		 WHERE user_id = $1 AND id = $2`, owner, id))
}

func (s *Postgres) SectionBySlug(ctx context.Context, owner, notebookID uuid.UUID, slug string) (*domain.Section, error) {
	return s.scanSection(s.pool.QueryRow(ctx,
		`SELECT id, user_id, notebook_id, folder_id, title, slug, position FROM sections
		 WHERE user_id = $1 AND notebook_id = $2 AND slug = $3`, owner, notebookID, slug))
}

func (s *Postgres) scanSection(row pgx.Row) (*domain.Section, error) {
	var sec domain.Section
	err := row.Scan(&sec.ID, &sec.UserID, &sec.NotebookID, &sec.FolderID, &sec.Title, &sec.Slug, &sec.Position)
	if err != nil {
		return nil, notFound(err)
	}
	return &sec, nil
}

func (s *Postgres) Sections(ctx context.Context, owner, notebookID uuid.UUID) ([]domain.Section, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, notebook_id, folder_id, title, slug, position FROM sections
		 WHERE user_id = $1 AND notebook_id = $2 ORDER BY position`, owner, notebookID)
	if err != nil {
		return nil, fmt.Errorf("list sections: %w", err)
	}
	defer rows.Close()

	var out []domain.Section
	for rows.Next() {
		var sec domain.Section
		if err := rows.Scan(&sec.ID, &sec.UserID, &sec.NotebookID, &sec.FolderID, &sec.Title, &sec.Slug, &sec.Position); err != nil {
			return nil, err
		}
		out = append(out, sec)
	}
	return out, rows.Err()
}

func (s *Postgres) MaxSectionPosition(ctx context.Context, owner, notebookID uuid.UUID) (int, error) {
	var max int
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(position), -1) FROM sections
		 WHERE user_id = $1 AND notebook_id = $2`, owner, notebookID).Scan(&max)
	if err != nil {
		return -1, fmt.Errorf("max section position: %w", err)
	}
	return max, nil
}

func (s *Postgres) UpdateSection(ctx context.Context, sec *domain.Section) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sections SET folder_id = $3, title = $4, slug = $5, position = $6
		 WHERE user_id = $1 AND id = $2`,
		sec.UserID, sec.ID, sec.FolderID, sec.Title, sec.Slug, sec.Position)
	if err != nil {
		return fmt.Errorf("update section: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) DeleteSection(ctx context.Context, owner, id uuid.UUID) error {
	return s.deleteRow(ctx, `DELETE FROM sections WHERE user_id = $1 AND id = $2`, owner, id)
}

// Folders

func (s *Postgres) CreateFolder(ctx context.Context, f *domain.Folder) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO folders (id, user_id, notebook_id, parent_folder_id, title)
		 VALUES ($1, $2, $3, $4, $5)`,
		f.ID, f.UserID, f.NotebookID, f.ParentFolderID, f.Title)
	if err != nil {
		return fmt.Errorf("create folder: %w", err)
	}
	return nil
}

func (s *Postgres) FolderByID(ctx context.Context, owner, id uuid.UUID) (*domain.Folder, error) {
	var f domain.Folder
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, notebook_id, parent_folder_id, title FROM folders
		 WHERE user_id = $1 AND id = $2`, owner, id).
		Scan(&f.ID, &f.UserID, &f.NotebookID, &f.ParentFolderID, &f.Title)
	if err != nil {
		return nil, notFound(err)
	}
	return &f, nil
}

func (s *Postgres) Folders(ctx context.Context, owner uuid.UUID) ([]domain.Folder, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, notebook_id, parent_folder_id, title FROM folders
		 WHERE user_id = $1 ORDER BY title`, owner)
	if err != nil {
		return nil, fmt.Errorf("list folders: %w", err)
	}
	defer rows.Close()

	var out []domain.Folder
	for rows.Next() {
		var f domain.Folder
		if err := rows.Scan(&f.ID, &f.UserID, &f.NotebookID, &f.ParentFolderID, &f.Title); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *Postgres) UpdateFolder(ctx context.Context, f *domain.Folder) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE folders SET notebook_id = $3, parent_folder_id = $4, title = $5
		 WHERE user_id = $1 AND id = $2`,
		f.UserID, f.ID, f.NotebookID, f.ParentFolderID, f.Title)
	if err != nil {
		return fmt.Errorf("update folder: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) DeleteFolder(ctx context.Context, owner, id uuid.UUID) error {
	return s.deleteRow(ctx, `DELETE FROM folders WHERE user_id = $1 AND id = $2`, owner, id)
}

// Items

func (s *Postgres) CreateItem(ctx context.Context, it *domain.Item) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO items (id, user_id, section_id, folder_id, title, slug, position)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		it.ID, it.UserID, it.SectionID, it.FolderID, it.Title, it.Slug, it.Position)
	if err != nil {
		return fmt.Errorf("create item: %w", err)
	}
	return nil
}

func (s *Postgres) EnsureItem(ctx context.Context, it *domain.Item) (bool, error) {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO items (id, user_id, section_id, folder_id, title, slug, position)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (user_id, section_id, slug) DO NOTHING
		 RETURNING id`,
		it.ID, it.UserID, it.SectionID, it.FolderID, it.Title, it.Slug, it.Position).
		Scan(&it.ID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, pgx.ErrNoRows) || isUniqueViolation(err):
		if it.SectionID == nil {
			return false, fmt.Errorf("ensure item: conflict without section")
		}
		existing, lerr := s.ItemBySlug(ctx, it.UserID, *it.SectionID, it.Slug)
		if lerr != nil {
			return false, lerr
		}
		*it = *existing
		return false, nil
	default:
		return false, fmt.Errorf("ensure item: %w", err)
	}
}

func (s *Postgres) ItemByID(ctx context.Context, owner, id uuid.UUID) (*domain.Item, error) {
	return s.scanItem(s.pool.QueryRow(ctx,
		`SELECT id, user_id, section_id, folder_id, title, slug, position FROM items
		 WHERE user_id = $1 AND id = $2`, owner, id))
}

func (s *Postgres) ItemBySlug(ctx context.Context, owner, sectionID uuid.UUID, slug string) (*domain.Item, error) {
	return s.scanItem(s.pool.QueryRow(ctx,
		`SELECT id, user_id, section_id, folder_id, title, slug, position FROM items
		 WHERE user_id = $1 AND section_id = $2 AND slug = $3`, owner, sectionID, slug))
}

func (s *Postgres) scanItem(row pgx.Row) (*domain.Item, error) {
	var it domain.Item
	err := row.Scan(&it.ID, &it.UserID, &it.SectionID, &it.FolderID, &it.Title, &it.Slug, &it.Position)
	if err != nil {
		return nil, notFound(err)
	}
	return &it, nil
}

func (s *Postgres) Items(ctx context.Context, owner, sectionID uuid.UUID) ([]domain.Item, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, section_id, folder_id, title, slug, position FROM items
		 WHERE user_id = $1 AND section_id = $2 ORDER BY position`, owner, sectionID)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	var out []domain.Item
	for rows.Next() {
		var it domain.Item
		if err := rows.Scan(&it.ID, &it.UserID, &it.SectionID, &it.FolderID, &it.Title, &it.Slug, &it.Position); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *Postgres) MaxItemPosition(ctx context.Context, owner, sectionID uuid.UUID) (int, error) {
	var max int
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(position), -1) FROM items
		 WHERE user_id = $1 AND section_id = $2`, owner, sectionID).Scan(&max)
	if err != nil {
		return -1, fmt.Errorf("max item position: %w", err)
	}
	return max, nil
}

func (s *Postgres) UpdateItem(ctx context.Context, it *domain.Item) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE items SET section_id = $3, folder_id = $4, title = $5, slug = $6, position = $7
		 WHERE user_id = $1 AND id = $2`,
		it.UserID, it.ID, it.SectionID, it.FolderID, it.Title, it.Slug, it.Position)
	if err != nil {
		return fmt.Errorf("update item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) DeleteItem(ctx context.Context, owner, id uuid.UUID) error {
	return s.deleteRow(ctx, `DELETE FROM items WHERE user_id = $1 AND id = $2`, owner, id)
}

// Notes

func (s *Postgres) CreateNote(ctx context.Context, n *domain.Note) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO notes (id, user_id, item_id, title, content, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		n.ID, n.UserID, n.ItemID, n.Title, n.Content, n.CreatedAt, n.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create note: %w", err)
	}
	return nil
}

func (s *Postgres) NoteByID(ctx context.Context, owner, id uuid.UUID) (*domain.Note, error) {
	var n domain.Note
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, item_id, title, content, created_at, updated_at FROM notes
		 WHERE user_id = $1 AND id = $2`, owner, id).
		Scan(&n.ID, &n.UserID, &n.ItemID, &n.Title, &n.Content, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &n, nil
}

func (s *Postgres) Notes(ctx context.Context, owner, itemID uuid.UUID) ([]domain.Note, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, item_id, title, content, created_at, updated_at FROM notes
		 WHERE user_id = $1 AND item_id = $2 ORDER BY created_at`, owner, itemID)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	defer rows.Close()
	return scanNotes(rows)
}

func (s *Postgres) UpdateNote(ctx context.Context, n *domain.Note) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE notes SET title = $3, content = $4, updated_at = $5
		 WHERE user_id = $1 AND id = $2`,
		n.UserID, n.ID, n.Title, n.Content, n.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update note: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) DeleteNote(ctx context.Context, owner, id uuid.UUID) error {
	return s.deleteRow(ctx, `DELETE FROM notes WHERE user_id = $1 AND id = $2`, owner, id)
}

func (s *Postgres) SearchNotes(ctx context.Context, owner uuid.UUID, query string) ([]domain.Note, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, item_id, title, content, created_at, updated_at FROM notes
		 WHERE user_id = $1 AND (title ILIKE '%' || $2 || '%' OR content ILIKE '%' || $2 || '%')
		 ORDER BY updated_at DESC LIMIT 100`, owner, query)
	if err != nil {
		return nil, fmt.Errorf("search notes: %w", err)
	}
	defer rows.Close()
	return scanNotes(rows)
}

func scanNotes(rows pgx.Rows) ([]domain.Note, error) {
	var out []domain.Note
	for rows.Next() {
		var n domain.Note
		if err := rows.Scan(&n.ID, &n.UserID, &n.ItemID, &n.Title, &n.Content, &n.CreatedAt, &n.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// Tags

func (s *Postgres) EnsureTag(ctx context.Context, t *domain.Tag) (bool, error) {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO tags (id, user_id, name, slug) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id, slug) DO NOTHING
		 RETURNING id`,
		t.ID, t.UserID, t.Name, t.Slug).Scan(&t.ID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, pgx.ErrNoRows) || isUniqueViolation(err):
		var existing domain.Tag
		lerr := s.pool.QueryRow(ctx,
			`SELECT id, user_id, name, slug FROM tags WHERE user_id = $1 AND slug = $2`,
			t.UserID, t.Slug).Scan(&existing.ID, &existing.UserID, &existing.Name, &existing.Slug)
		if lerr != nil {
			return false, notFound(lerr)
		}
		*t = existing
		return false, nil
	default:
		return false, fmt.Errorf("ensure tag: %w", err)
	}
}

func (s *Postgres) Tags(ctx context.Context, owner uuid.UUID) ([]domain.Tag, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, name, slug FROM tags WHERE user_id = $1 ORDER BY name`, owner)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	defer rows.Close()
	return scanTags(rows)
}

func (s *Postgres) TagsForNote(ctx context.Context, owner, noteID uuid.UUID) ([]domain.Tag, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT t.id, t.user_id, t.name, t.slug FROM tags t
		 JOIN note_tags nt ON nt.tag_id = t.id
		 WHERE t.user_id = $1 AND nt.note_id = $2 ORDER BY t.name`, owner, noteID)
	if err != nil {
		return nil, fmt.Errorf("tags for note: %w", err)
	}
	defer rows.Close()
	return scanTags(rows)
}

func scanTags(rows pgx.Rows) ([]domain.Tag, error) {
	var out []domain.Tag
	for rows.Next() {
		var t domain.Tag
		if err := rows.Scan(&t.ID, &t.UserID, &t.Name, &t.Slug); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Postgres) LinkTags(ctx context.Context, noteID uuid.UUID, tagIDs []uuid.UUID) error {
	for _, tagID := range tagIDs {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO note_tags (note_id, tag_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			noteID, tagID)
		if err != nil {
			return fmt.Errorf("link tag: %w", err)
		}
	}
	return nil
}

func (s *Postgres) UnlinkAllTags(ctx context.Context, noteID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM note_tags WHERE note_id = $1`, noteID)
	if err != nil {
		return fmt.Errorf("unlink tags: %w", err)
	}
	return nil
}

func (s *Postgres) deleteRow(ctx context.Context, sql string, owner, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, sql, owner, id)
	if err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
