// Package http exposes the REST surface: entity CRUD, search, the zip
// import/export round-trip and the JSON backup path.
package http

import (
	"errors"
	"io"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/quillnotes/quill-server/auth"
	"github.com/quillnotes/quill-server/domain"
	"github.com/quillnotes/quill-server/notepath"
	"github.com/quillnotes/quill-server/porter"
	"github.com/quillnotes/quill-server/store"
)

type Server struct {
	store  store.Store
	porter *porter.Porter
	auth   *auth.Service
	log    zerolog.Logger
}

func NewServer(s store.Store, p *porter.Porter, a *auth.Service, log zerolog.Logger) *Server {
	return &Server{store: s, porter: p, auth: a, log: log.With().Str("component", "http").Logger()}
}

// Register mounts all routes on the app.
func (s *Server) Register(app *fiber.App) {
	api := app.Group("/api")
	api.Post("/register", s.handleRegister)
	api.Post("/login", s.handleLogin)

	authed := api.Group("", s.auth.Middleware())

	authed.Get("/notebooks", s.handleListNotebooks)
	authed.Post("/notebooks", s.handleCreateNotebook)
	authed.Put("/notebooks/:id", s.handleRenameNotebook)
	authed.Delete("/notebooks/:id", s.handleDeleteNotebook)
	authed.Get("/notebooks/:id/sections", s.handleListSections)
	authed.Post("/notebooks/:id/sections", s.handleCreateSection)

	authed.Put("/sections/:id", s.handleUpdateSection)
	authed.Delete("/sections/:id", s.handleDeleteSection)
	authed.Get("/sections/:id/items", s.handleListItems)
	authed.Post("/sections/:id/items", s.handleCreateItem)

	authed.Get("/folders", s.handleListFolders)
	authed.Post("/folders", s.handleCreateFolder)
	authed.Put("/folders/:id", s.handleUpdateFolder)
	authed.Delete("/folders/:id", s.handleDeleteFolder)

	authed.Put("/items/:id", s.handleUpdateItem)
	authed.Delete("/items/:id", s.handleDeleteItem)
	authed.Get("/items/:id/notes", s.handleListNotes)
	authed.Post("/items/:id/notes", s.handleCreateNote)

	authed.Get("/notes/:id", s.handleGetNote)
	authed.Put("/notes/:id", s.handleUpdateNote)
	authed.Put("/notes/:id/tags", s.handleSetNoteTags)
	authed.Delete("/notes/:id", s.handleDeleteNote)

	authed.Get("/tags", s.handleListTags)
	authed.Get("/search", s.handleSearch)

	authed.Get("/export/notebooks/:id", s.handleExportNotebook)
	authed.Get("/export/sections/:id", s.handleExportSection)
	authed.Post("/import", s.handleImport)
	authed.Get("/backup", s.handleBackup)
	authed.Post("/restore", s.handleRestore)
}

// ErrorHandler converts handler errors to JSON error bodies.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	} else if errors.Is(err, store.ErrNotFound) {
		code = fiber.StatusNotFound
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}

func paramID(c *fiber.Ctx) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return uuid.Nil, fiber.NewError(fiber.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// Auth

func (s *Server) handleRegister(c *fiber.Ctx) error {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if req.Email == "" || len(req.Password) < 8 {
		return fiber.NewError(fiber.StatusBadRequest, "email and a password of at least 8 characters are required")
	}

	u, err := s.auth.Register(c.UserContext(), req.Email, req.Password)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(u)
}

func (s *Server) handleLogin(c *fiber.Ctx) error {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	token, err := s.auth.Login(c.UserContext(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid credentials")
		}
		return err
	}
	return c.JSON(fiber.Map{"token": token})
}

// Notebooks

func (s *Server) handleListNotebooks(c *fiber.Ctx) error {
	notebooks, err := s.store.Notebooks(c.UserContext(), auth.Owner(c))
	if err != nil {
		return err
	}
	return c.JSON(notebooks)
}

func (s *Server) handleCreateNotebook(c *fiber.Ctx) error {
	var req struct {
		Title string `json:"title"`
	}
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if req.Title == "" {
		return fiber.NewError(fiber.StatusBadRequest, "title is required")
	}

	nb := &domain.Notebook{
		ID:     uuid.New(),
		UserID: auth.Owner(c),
		Title:  req.Title,
		Slug:   notepath.Slugify(req.Title),
	}
	if err := s.store.CreateNotebook(c.UserContext(), nb); err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(nb)
}

func (s *Server) handleRenameNotebook(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var req struct {
		Title string `json:"title"`
	}
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	nb, err := s.store.NotebookByID(c.UserContext(), auth.Owner(c), id)
	if err != nil {
		return err
	}
	nb.Title = req.Title
	nb.Slug = notepath.Slugify(req.Title)
	if err := s.store.UpdateNotebook(c.UserContext(), nb); err != nil {
		return err
	}
	return c.JSON(nb)
}

func (s *Server) handleDeleteNotebook(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	if err := s.store.DeleteNotebook(c.UserContext(), auth.Owner(c), id); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// Sections

func (s *Server) handleListSections(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	sections, err := s.store.Sections(c.UserContext(), auth.Owner(c), id)
	if err != nil {
		return err
	}
	return c.JSON(sections)
}

func (s *Server) handleCreateSection(c *fiber.Ctx) error {
	notebookID, err := paramID(c)
	if err != nil {
		return err
	}
	var req struct {
		Title    string     `json:"title"`
		FolderID *uuid.UUID `json:"folder_id"`
	}
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if req.Title == "" {
		return fiber.NewError(fiber.StatusBadRequest, "title is required")
	}

	owner := auth.Owner(c)
	if _, err := s.store.NotebookByID(c.UserContext(), owner, notebookID); err != nil {
		return err
	}
	pos, err := s.store.MaxSectionPosition(c.UserContext(), owner, notebookID)
	if err != nil {
		return err
	}

	sec := &domain.Section{
		ID:         uuid.New(),
		UserID:     owner,
		NotebookID: notebookID,
		FolderID:   req.FolderID,
		Title:      req.Title,
		Slug:       notepath.Slugify(req.Title),
		Position:   pos + 1,
	}
	if err := s.store.CreateSection(c.UserContext(), sec); err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(sec)
}

func (s *Server) handleUpdateSection(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var req struct {
		Title    *string    `json:"title"`
		Position *int       `json:"position"`
		FolderID *uuid.UUID `json:"folder_id"`
		ToRoot   bool       `json:"to_root"`
	}
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	sec, err := s.store.SectionByID(c.UserContext(), auth.Owner(c), id)
	if err != nil {
		return err
	}
	if req.Title != nil {
		sec.Title = *req.Title
		sec.Slug = notepath.Slugify(*req.Title)
	}
	if req.Position != nil {
		sec.Position = *req.Position
	}
	if req.FolderID != nil {
		sec.FolderID = req.FolderID
	} else if req.ToRoot {
		sec.FolderID = nil
	}
	if err := s.store.UpdateSection(c.UserContext(), sec); err != nil {
		return err
	}
	return c.JSON(sec)
}

func (s *Server) handleDeleteSection(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	if err := s.store.DeleteSection(c.UserContext(), auth.Owner(c), id); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// Folders

func (s *Server) handleListFolders(c *fiber.Ctx) error {
	folders, err := s.store.Folders(c.UserContext(), auth.Owner(c))
	if err != nil {
		return err
	}
	return c.JSON(folders)
}

func (s *Server) handleCreateFolder(c *fiber.Ctx) error {
	var req struct {
		Title          string     `json:"title"`
		NotebookID     *uuid.UUID `json:"notebook_id"`
		ParentFolderID *uuid.UUID `json:"parent_folder_id"`
	}
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if req.Title == "" {
		return fiber.NewError(fiber.StatusBadRequest, "title is required")
	}

	f := &domain.Folder{
		ID:             uuid.New(),
		UserID:         auth.Owner(c),
		NotebookID:     req.NotebookID,
		ParentFolderID: req.ParentFolderID,
		Title:          req.Title,
	}
	if err := s.store.CreateFolder(c.UserContext(), f); err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(f)
}

func (s *Server) handleUpdateFolder(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var req struct {
		Title          *string    `json:"title"`
		ParentFolderID *uuid.UUID `json:"parent_folder_id"`
	}
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	f, err := s.store.FolderByID(c.UserContext(), auth.Owner(c), id)
	if err != nil {
		return err
	}
	if req.Title != nil {
		f.Title = *req.Title
	}
	if req.ParentFolderID != nil {
		f.ParentFolderID = req.ParentFolderID
	}
	if err := s.store.UpdateFolder(c.UserContext(), f); err != nil {
		return err
	}
	return c.JSON(f)
}

func (s *Server) handleDeleteFolder(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	if err := s.store.DeleteFolder(c.UserContext(), auth.Owner(c), id); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// Items

func (s *Server) handleListItems(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	items, err := s.store.Items(c.UserContext(), auth.Owner(c), id)
	if err != nil {
		return err
	}
	return c.JSON(items)
}

func (s *Server) handleCreateItem(c *fiber.Ctx) error {
	sectionID, err := paramID(c)
	if err != nil {
		return err
	}
	var req struct {
		Title string `json:"title"`
	}
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if req.Title == "" {
		return fiber.NewError(fiber.StatusBadRequest, "title is required")
	}

	owner := auth.Owner(c)
	if _, err := s.store.SectionByID(c.UserContext(), owner, sectionID); err != nil {
		return err
	}
	pos, err := s.store.MaxItemPosition(c.UserContext(), owner, sectionID)
	if err != nil {
		return err
	}

	it := &domain.Item{
		ID:        uuid.New(),
		UserID:    owner,
		SectionID: &sectionID,
		Title:     req.Title,
		Slug:      notepath.Slugify(req.Title),
		Position:  pos + 1,
	}
	if err := s.store.CreateItem(c.UserContext(), it); err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(it)
}

func (s *Server) handleUpdateItem(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var req struct {
		Title     *string    `json:"title"`
		Position  *int       `json:"position"`
		SectionID *uuid.UUID `json:"section_id"`
		FolderID  *uuid.UUID `json:"folder_id"`
	}
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if req.SectionID != nil && req.FolderID != nil {
		return fiber.NewError(fiber.StatusBadRequest, "an item belongs to a section or a folder, not both")
	}

	it, err := s.store.ItemByID(c.UserContext(), auth.Owner(c), id)
	if err != nil {
		return err
	}
	if req.Title != nil {
		it.Title = *req.Title
		it.Slug = notepath.Slugify(*req.Title)
	}
	if req.Position != nil {
		it.Position = *req.Position
	}
	if req.SectionID != nil {
		it.SectionID = req.SectionID
		it.FolderID = nil
	}
	if req.FolderID != nil {
		it.FolderID = req.FolderID
		it.SectionID = nil
	}
	if err := s.store.UpdateItem(c.UserContext(), it); err != nil {
		return err
	}
	return c.JSON(it)
}

func (s *Server) handleDeleteItem(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	if err := s.store.DeleteItem(c.UserContext(), auth.Owner(c), id); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// Notes

func (s *Server) handleListNotes(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	notes, err := s.store.Notes(c.UserContext(), auth.Owner(c), id)
	if err != nil {
		return err
	}
	return c.JSON(notes)
}

func (s *Server) handleCreateNote(c *fiber.Ctx) error {
	itemID, err := paramID(c)
	if err != nil {
		return err
	}
	var req struct {
		Title   string   `json:"title"`
		Content string   `json:"content"`
		Tags    []string `json:"tags"`
	}
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if req.Title == "" {
		return fiber.NewError(fiber.StatusBadRequest, "title is required")
	}

	owner := auth.Owner(c)
	if _, err := s.store.ItemByID(c.UserContext(), owner, itemID); err != nil {
		return err
	}

	now := time.Now().UTC()
	n := &domain.Note{
		ID:        uuid.New(),
		UserID:    owner,
		ItemID:    itemID,
		Title:     req.Title,
		Content:   req.Content,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateNote(c.UserContext(), n); err != nil {
		return err
	}
	if len(req.Tags) > 0 {
		n.Tags, err = s.porter.ReconcileTags(c.UserContext(), owner, n.ID, req.Tags)
		if err != nil {
			return err
		}
	}
	return c.Status(fiber.StatusCreated).JSON(n)
}

func (s *Server) handleGetNote(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	owner := auth.Owner(c)
	n, err := s.store.NoteByID(c.UserContext(), owner, id)
	if err != nil {
		return err
	}
	n.Tags, err = s.store.TagsForNote(c.UserContext(), owner, n.ID)
	if err != nil {
		return err
	}
	return c.JSON(n)
}

func (s *Server) handleUpdateNote(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var req struct {
		Title   string `json:"title"`
		Content string `json:"content"`
	}
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	n, err := s.store.NoteByID(c.UserContext(), auth.Owner(c), id)
	if err != nil {
		return err
	}
	n.Title = req.Title
	n.Content = req.Content
	n.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdateNote(c.UserContext(), n); err != nil {
		return err
	}
	return c.JSON(n)
}

func (s *Server) handleSetNoteTags(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var req struct {
		Tags []string `json:"tags"`
	}
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	tags, err := s.porter.ReconcileTags(c.UserContext(), auth.Owner(c), id, req.Tags)
	if err != nil {
		return err
	}
	return c.JSON(tags)
}

func (s *Server) handleDeleteNote(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	if err := s.store.DeleteNote(c.UserContext(), auth.Owner(c), id); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// Tags and search

func (s *Server) handleListTags(c *fiber.Ctx) error {
	tags, err := s.store.Tags(c.UserContext(), auth.Owner(c))
	if err != nil {
		return err
	}
	return c.JSON(tags)
}

func (s *Server) handleSearch(c *fiber.Ctx) error {
	query := c.Query("q")
	if query == "" {
		return fiber.NewError(fiber.StatusBadRequest, "q is required")
	}
	notes, err := s.store.SearchNotes(c.UserContext(), auth.Owner(c), query)
	if err != nil {
		return err
	}
	return c.JSON(notes)
}

// Import / export / backup

func (s *Server) handleExportNotebook(c *fiber.Ctx) error {
	return s.handleExport(c, porter.ScopeNotebook)
}

func (s *Server) handleExportSection(c *fiber.Ctx) error {
	return s.handleExport(c, porter.ScopeSection)
}

func (s *Server) handleExport(c *fiber.Ctx, scope porter.Scope) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	data, filename, err := s.porter.BuildArchive(c.UserContext(), auth.Owner(c), scope, id)
	if err != nil {
		return err
	}
	c.Set(fiber.HeaderContentType, "application/zip")
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="`+filename+`"`)
	return c.Send(data)
}

func (s *Server) handleImport(c *fiber.Ctx) error {
	fh, err := c.FormFile("archive")
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "multipart field 'archive' is required")
	}
	f, err := fh.Open()
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	res, err := s.porter.ImportArchive(c.UserContext(), auth.Owner(c), data)
	if err != nil {
		return fiber.NewError(fiber.StatusUnprocessableEntity, err.Error())
	}
	return c.JSON(res)
}

func (s *Server) handleBackup(c *fiber.Ctx) error {
	backup, err := s.porter.Snapshot(c.UserContext(), auth.Owner(c))
	if err != nil {
		return err
	}
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="quill-backup.json"`)
	return c.JSON(backup)
}

func (s *Server) handleRestore(c *fiber.Ctx) error {
	var backup domain.Backup
	if err := c.BodyParser(&backup); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if err := s.porter.Restore(c.UserContext(), auth.Owner(c), &backup); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}
