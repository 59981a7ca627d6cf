package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/quillnotes/quill-server/domain"
)

// Memory is an in-process Store with the same semantics as Postgres:
// owner scoping, position ordering, create-if-absent upserts and cascade
// deletes. A single mutex serializes everything, which also makes the
// ancestor-creation race a non-issue here.
type Memory struct {
	mu        sync.Mutex
	users     map[uuid.UUID]domain.User
	tokens    map[string]domain.Token
	notebooks map[uuid.UUID]domain.Notebook
	sections  map[uuid.UUID]domain.Section
	folders   map[uuid.UUID]domain.Folder
	items     map[uuid.UUID]domain.Item
	notes     map[uuid.UUID]domain.Note
	tags      map[uuid.UUID]domain.Tag
	noteTags  map[uuid.UUID]map[uuid.UUID]bool
}

func NewMemory() *Memory {
	return &Memory{
		users:     map[uuid.UUID]domain.User{},
		tokens:    map[string]domain.Token{},
		notebooks: map[uuid.UUID]domain.Notebook{},
		sections:  map[uuid.UUID]domain.Section{},
		folders:   map[uuid.UUID]domain.Folder{},
		items:     map[uuid.UUID]domain.Item{},
		notes:     map[uuid.UUID]domain.Note{},
		tags:      map[uuid.UUID]domain.Tag{},
		noteTags:  map[uuid.UUID]map[uuid.UUID]bool{},
	}
}

var _ Store = (*Memory)(nil)

// Users

func (m *Memory) CreateUser(_ context.Context, u *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = *u
	return nil
}

func (m *Memory) UserByEmail(_ context.Context, email string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			out := u
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) CreateToken(_ context.Context, t *domain.Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[t.Token] = *t
	return nil
}

func (m *Memory) UserIDForToken(_ context.Context, token string) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[token]
	if !ok {
		return uuid.Nil, ErrNotFound
	}
	return t.UserID, nil
}

// Notebooks

func (m *Memory) CreateNotebook(_ context.Context, nb *domain.Notebook) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notebooks[nb.ID] = *nb
	return nil
}

func (m *Memory) EnsureNotebook(_ context.Context, nb *domain.Notebook) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.notebooks {
		if existing.UserID == nb.UserID && existing.Slug == nb.Slug {
			*nb = existing
			return false, nil
		}
	}
	m.notebooks[nb.ID] = *nb
	return true, nil
}

func (m *Memory) NotebookByID(_ context.Context, owner, id uuid.UUID) (*domain.Notebook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	nb, ok := m.notebooks[id]
	if !ok || nb.UserID != owner {
		return nil, ErrNotFound
	}
	out := nb
	return &out, nil
}

func (m *Memory) NotebookBySlug(_ context.Context, owner uuid.UUID, slug string) (*domain.Notebook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, nb := range m.notebooks {
		if nb.UserID == owner && nb.Slug == slug {
			out := nb
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) Notebooks(_ context.Context, owner uuid.UUID) ([]domain.Notebook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Notebook
	for _, nb := range m.notebooks {
		if nb.UserID == owner {
			out = append(out, nb)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return out, nil
}

func (m *Memory) UpdateNotebook(_ context.Context, nb *domain.Notebook) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.notebooks[nb.ID]
	if !ok || existing.UserID != nb.UserID {
		return ErrNotFound
	}
	existing.Title = nb.Title
	existing.Slug = nb.Slug
	m.notebooks[nb.ID] = existing
	return nil
}

func (m *Memory) DeleteNotebook(_ context.Context, owner, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	nb, ok := m.notebooks[id]
	if !ok || nb.UserID != owner {
		return ErrNotFound
	}
	delete(m.notebooks, id)
	for sid, sec := range m.sections {
		if sec.NotebookID == id {
			m.deleteSectionLocked(sid)
		}
	}
	for fid, f := range m.folders {
		if f.NotebookID != nil && *f.NotebookID == id {
			m.deleteFolderLocked(fid)
		}
	}
	return nil
}

// Sections

func (m *Memory) CreateSection(_ context.Context, sec *domain.Section) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sections[sec.ID] = *sec
	return nil
}

func (m *Memory) EnsureSection(_ context.Context, sec *domain.Section) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.sections {
		if existing.UserID == sec.UserID && existing.NotebookID == sec.NotebookID && existing.Slug == sec.Slug {
			*sec = existing
			return false, nil
		}
	}
	m.sections[sec.ID] = *sec
	return true, nil
}

func (m *Memory) SectionByID(_ context.Context, owner, id uuid.UUID) (*domain.Section, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sec, ok := m.sections[id]
	if !ok || sec.UserID != owner {
		return nil, ErrNotFound
	}
	out := sec
	return &out, nil
}

func (m *Memory) SectionBySlug(_ context.Context, owner, notebookID uuid.UUID, slug string) (*domain.Section, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sec := range m.sections {
		if sec.UserID == owner && sec.NotebookID == notebookID && sec.Slug == slug {
			out := sec
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) Sections(_ context.Context, owner, notebookID uuid.UUID) ([]domain.Section, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Section
	for _, sec := range m.sections {
		if sec.UserID == owner && sec.NotebookID == notebookID {
			out = append(out, sec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (m *Memory) MaxSectionPosition(_ context.Context, owner, notebookID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	max := -1
	for _, sec := range m.sections {
		if sec.UserID == owner && sec.NotebookID == notebookID && sec.Position > max {
			max = sec.Position
		}
	}
	return max, nil
}

func (m *Memory) UpdateSection(_ context.Context, sec *domain.Section) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.sections[sec.ID]
	if !ok || existing.UserID != sec.UserID {
		return ErrNotFound
	}
	existing.FolderID = sec.FolderID
	existing.Title = sec.Title
	existing.Slug = sec.Slug
	existing.Position = sec.Position
	m.sections[sec.ID] = existing
	return nil
}

func (m *Memory) DeleteSection(_ context.Context, owner, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sec, ok := m.sections[id]
	if !ok || sec.UserID != owner {
		return ErrNotFound
	}
	m.deleteSectionLocked(id)
	return nil
}

func (m *Memory) deleteSectionLocked(id uuid.UUID) {
	delete(m.sections, id)
	for iid, it := range m.items {
		if it.SectionID != nil && *it.SectionID == id {
			m.deleteItemLocked(iid)
		}
	}
}

// Folders

func (m *Memory) CreateFolder(_ context.Context, f *domain.Folder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.folders[f.ID] = *f
	return nil
}

func (m *Memory) FolderByID(_ context.Context, owner, id uuid.UUID) (*domain.Folder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.folders[id]
	if !ok || f.UserID != owner {
		return nil, ErrNotFound
	}
	out := f
	return &out, nil
}

func (m *Memory) Folders(_ context.Context, owner uuid.UUID) ([]domain.Folder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Folder
	for _, f := range m.folders {
		if f.UserID == owner {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return out, nil
}

func (m *Memory) UpdateFolder(_ context.Context, f *domain.Folder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.folders[f.ID]
	if !ok || existing.UserID != f.UserID {
		return ErrNotFound
	}
	existing.NotebookID = f.NotebookID
	existing.ParentFolderID = f.ParentFolderID
	existing.Title = f.Title
	m.folders[f.ID] = existing
	return nil
}

func (m *Memory) DeleteFolder(_ context.Context, owner, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.folders[id]
	if !ok || f.UserID != owner {
		return ErrNotFound
	}
	m.deleteFolderLocked(id)
	return nil
}

func (m *Memory) deleteFolderLocked(id uuid.UUID) {
	delete(m.folders, id)
	for cid, child := range m.folders {
		if child.ParentFolderID != nil && *child.ParentFolderID == id {
			m.deleteFolderLocked(cid)
		}
	}
	// Sections fall back to notebook root, matching ON DELETE SET NULL.
	for sid, sec := range m.sections {
		if sec.FolderID != nil && *sec.FolderID == id {
			sec.FolderID = nil
			m.sections[sid] = sec
		}
	}
	for iid, it := range m.items {
		if it.FolderID != nil && *it.FolderID == id {
			m.deleteItemLocked(iid)
		}
	}
}

// Items

func (m *Memory) CreateItem(_ context.Context, it *domain.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[it.ID] = *it
	return nil
}

func (m *Memory) EnsureItem(_ context.Context, it *domain.Item) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.items {
		if existing.UserID == it.UserID && existing.Slug == it.Slug &&
			existing.SectionID != nil && it.SectionID != nil && *existing.SectionID == *it.SectionID {
			*it = existing
			return false, nil
		}
	}
	m.items[it.ID] = *it
	return true, nil
}

func (m *Memory) ItemByID(_ context.Context, owner, id uuid.UUID) (*domain.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[id]
	if !ok || it.UserID != owner {
		return nil, ErrNotFound
	}
	out := it
	return &out, nil
}

func (m *Memory) ItemBySlug(_ context.Context, owner, sectionID uuid.UUID, slug string) (*domain.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range m.items {
		if it.UserID == owner && it.Slug == slug && it.SectionID != nil && *it.SectionID == sectionID {
			out := it
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) Items(_ context.Context, owner, sectionID uuid.UUID) ([]domain.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Item
	for _, it := range m.items {
		if it.UserID == owner && it.SectionID != nil && *it.SectionID == sectionID {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (m *Memory) MaxItemPosition(_ context.Context, owner, sectionID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	max := -1
	for _, it := range m.items {
		if it.UserID == owner && it.SectionID != nil && *it.SectionID == sectionID && it.Position > max {
			max = it.Position
		}
	}
	return max, nil
}

func (m *Memory) UpdateItem(_ context.Context, it *domain.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.items[it.ID]
	if !ok || existing.UserID != it.UserID {
		return ErrNotFound
	}
	existing.SectionID = it.SectionID
	existing.FolderID = it.FolderID
	existing.Title = it.Title
	existing.Slug = it.Slug
	existing.Position = it.Position
	m.items[it.ID] = existing
	return nil
}

func (m *Memory) DeleteItem(_ context.Context, owner, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[id]
	if !ok || it.UserID != owner {
		return ErrNotFound
	}
	m.deleteItemLocked(id)
	return nil
}

func (m *Memory) deleteItemLocked(id uuid.UUID) {
	delete(m.items, id)
	for nid, n := range m.notes {
		if n.ItemID == id {
			delete(m.notes, nid)
			delete(m.noteTags, nid)
		}
	}
}

// Notes

func (m *Memory) CreateNote(_ context.Context, n *domain.Note) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notes[n.ID] = *n
	return nil
}

func (m *Memory) NoteByID(_ context.Context, owner, id uuid.UUID) (*domain.Note, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notes[id]
	if !ok || n.UserID != owner {
		return nil, ErrNotFound
	}
	out := n
	return &out, nil
}

func (m *Memory) Notes(_ context.Context, owner, itemID uuid.UUID) ([]domain.Note, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Note
	for _, n := range m.notes {
		if n.UserID == owner && n.ItemID == itemID {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) UpdateNote(_ context.Context, n *domain.Note) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.notes[n.ID]
	if !ok || existing.UserID != n.UserID {
		return ErrNotFound
	}
	existing.Title = n.Title
	existing.Content = n.Content
	existing.UpdatedAt = n.UpdatedAt
	m.notes[n.ID] = existing
	return nil
}

func (m *Memory) DeleteNote(_ context.Context, owner, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notes[id]
	if !ok || n.UserID != owner {
		return ErrNotFound
	}
	delete(m.notes, id)
	delete(m.noteTags, id)
	return nil
}

func (m *Memory) SearchNotes(_ context.Context, owner uuid.UUID, query string) ([]domain.Note, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := strings.ToLower(query)
	var out []domain.Note
	for _, n := range m.notes {
		if n.UserID != owner {
			continue
		}
		if strings.Contains(strings.ToLower(n.Title), q) || strings.Contains(strings.ToLower(n.Content), q) {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

// Tags

func (m *Memory) EnsureTag(_ context.Context, t *domain.Tag) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.tags {
		if existing.UserID == t.UserID && existing.Slug == t.Slug {
			*t = existing
			return false, nil
		}
	}
	m.tags[t.ID] = *t
	return true, nil
}

func (m *Memory) Tags(_ context.Context, owner uuid.UUID) ([]domain.Tag, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Tag
	for _, t := range m.tags {
		if t.UserID == owner {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) TagsForNote(_ context.Context, owner, noteID uuid.UUID) ([]domain.Tag, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Tag
	for tagID := range m.noteTags[noteID] {
		t, ok := m.tags[tagID]
		if ok && t.UserID == owner {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) LinkTags(_ context.Context, noteID uuid.UUID, tagIDs []uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	links := m.noteTags[noteID]
	if links == nil {
		links = map[uuid.UUID]bool{}
		m.noteTags[noteID] = links
	}
	for _, id := range tagIDs {
		links[id] = true
	}
	return nil
}

func (m *Memory) UnlinkAllTags(_ context.Context, noteID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.noteTags, noteID)
	return nil
}
