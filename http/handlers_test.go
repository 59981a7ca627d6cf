package http

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/quillnotes/quill-server/auth"
	"github.com/quillnotes/quill-server/domain"
	"github.com/quillnotes/quill-server/porter"
	"github.com/quillnotes/quill-server/store"
)

func newTestApp(t *testing.T) *fiber.App {
	t.Helper()
	mem := store.NewMemory()
	authSvc := auth.NewService(mem)
	engine := porter.New(mem, zerolog.Nop())
	server := NewServer(mem, engine, authSvc, zerolog.Nop())

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	server.Register(app)
	return app
}

func doJSON(t *testing.T, app *fiber.App, method, url, token string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, url, reader)
	if body != nil {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	return out
}

func login(t *testing.T, app *fiber.App) string {
	t.Helper()
	resp := doJSON(t, app, "POST", "/api/register", "", fiber.Map{
		"email": "user@example.com", "password": "long-enough-password",
	})
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("register status %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = doJSON(t, app, "POST", "/api/login", "", fiber.Map{
		"email": "user@example.com", "password": "long-enough-password",
	})
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("login status %d", resp.StatusCode)
	}
	body := decode[map[string]string](t, resp)
	if body["token"] == "" {
		t.Fatal("empty token")
	}
	return body["token"]
}

func TestAuthRequired(t *testing.T) {
	app := newTestApp(t)
	resp := doJSON(t, app, "GET", "/api/notebooks", "", nil)
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestBadCredentials(t *testing.T) {
	app := newTestApp(t)
	login(t, app)

	resp := doJSON(t, app, "POST", "/api/login", "", fiber.Map{
		"email": "user@example.com", "password": "wrong-password!",
	})
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestHierarchyCRUD(t *testing.T) {
	app := newTestApp(t)
	token := login(t, app)

	resp := doJSON(t, app, "POST", "/api/notebooks", token, fiber.Map{"title": "Research"})
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("create notebook status %d", resp.StatusCode)
	}
	nb := decode[domain.Notebook](t, resp)
	if nb.Slug != "research" {
		t.Errorf("slug = %q", nb.Slug)
	}

	resp = doJSON(t, app, "POST", "/api/notebooks/"+nb.ID.String()+"/sections", token, fiber.Map{"title": "Papers"})
	sec := decode[domain.Section](t, resp)
	if sec.Position != 0 {
		t.Errorf("first section position = %d", sec.Position)
	}

	resp = doJSON(t, app, "POST", "/api/notebooks/"+nb.ID.String()+"/sections", token, fiber.Map{"title": "Drafts"})
	second := decode[domain.Section](t, resp)
	if second.Position != 1 {
		t.Errorf("second section position = %d", second.Position)
	}

	resp = doJSON(t, app, "POST", "/api/sections/"+sec.ID.String()+"/items", token, fiber.Map{"title": "Paper A"})
	item := decode[domain.Item](t, resp)

	resp = doJSON(t, app, "POST", "/api/items/"+item.ID.String()+"/notes", token, fiber.Map{
		"title": "Summary", "content": "<p>hello</p>", "tags": []string{"ml"},
	})
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("create note status %d", resp.StatusCode)
	}
	note := decode[domain.Note](t, resp)
	if len(note.Tags) != 1 || note.Tags[0].Name != "ml" {
		t.Errorf("note tags = %+v", note.Tags)
	}

	resp = doJSON(t, app, "PUT", "/api/notes/"+note.ID.String()+"/tags", token, fiber.Map{
		"tags": []string{"physics"},
	})
	tags := decode[[]domain.Tag](t, resp)
	if len(tags) != 1 || tags[0].Name != "physics" {
		t.Errorf("tags after replace = %+v", tags)
	}

	resp = doJSON(t, app, "GET", "/api/search?q=hello", token, nil)
	found := decode[[]domain.Note](t, resp)
	if len(found) != 1 {
		t.Errorf("search hits = %d", len(found))
	}

	resp = doJSON(t, app, "DELETE", "/api/notebooks/"+nb.ID.String(), token, nil)
	if resp.StatusCode != fiber.StatusNoContent {
		t.Errorf("delete status %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = doJSON(t, app, "GET", "/api/notes/"+note.ID.String(), token, nil)
	if resp.StatusCode != fiber.StatusNotFound {
		t.Errorf("note survived the cascade: status %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestExportImportEndpoints(t *testing.T) {
	app := newTestApp(t)
	token := login(t, app)

	resp := doJSON(t, app, "POST", "/api/notebooks", token, fiber.Map{"title": "Research"})
	nb := decode[domain.Notebook](t, resp)
	resp = doJSON(t, app, "POST", "/api/notebooks/"+nb.ID.String()+"/sections", token, fiber.Map{"title": "Papers"})
	sec := decode[domain.Section](t, resp)
	resp = doJSON(t, app, "POST", "/api/sections/"+sec.ID.String()+"/items", token, fiber.Map{"title": "Paper A"})
	item := decode[domain.Item](t, resp)
	resp = doJSON(t, app, "POST", "/api/items/"+item.ID.String()+"/notes", token, fiber.Map{
		"title": "Summary", "content": "<p>hello</p>",
	})
	resp.Body.Close()

	resp = doJSON(t, app, "GET", "/api/export/notebooks/"+nb.ID.String(), token, nil)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("export status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get(fiber.HeaderContentType); ct != "application/zip" {
		t.Errorf("content type = %q", ct)
	}
	archive, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		t.Fatal(err)
	}
	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		t.Fatal(err)
	}
	if len(zr.File) != 1 || zr.File[0].Name != "research/papers/paper_a/summary.md" {
		t.Fatalf("unexpected archive contents")
	}

	// Round-trip through the upload endpoint.
	var form bytes.Buffer
	mw := multipart.NewWriter(&form)
	fw, err := mw.CreateFormFile("archive", "research.zip")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fw.Write(archive); err != nil {
		t.Fatal(err)
	}
	mw.Close()

	req := httptest.NewRequest("POST", "/api/import", &form)
	req.Header.Set(fiber.HeaderContentType, mw.FormDataContentType())
	req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	importResp, err := app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	result := decode[domain.ImportResult](t, importResp)
	if result.Added != 0 || result.Updated != 0 || result.Skipped != 1 {
		t.Errorf("re-importing an unchanged export should be a no-op, got %+v", result)
	}
}

func TestBackupEndpoints(t *testing.T) {
	app := newTestApp(t)
	token := login(t, app)

	resp := doJSON(t, app, "POST", "/api/notebooks", token, fiber.Map{"title": "Journal"})
	resp.Body.Close()

	resp = doJSON(t, app, "GET", "/api/backup", token, nil)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("backup status %d", resp.StatusCode)
	}
	backup := decode[domain.Backup](t, resp)
	if len(backup.Notebooks) != 1 || backup.Notebooks[0].Title != "Journal" {
		t.Fatalf("backup = %+v", backup)
	}

	resp = doJSON(t, app, "POST", "/api/restore", token, backup)
	if resp.StatusCode != fiber.StatusNoContent {
		t.Errorf("restore status %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestImportRejectsCorruptArchive(t *testing.T) {
	app := newTestApp(t)
	token := login(t, app)

	var form bytes.Buffer
	mw := multipart.NewWriter(&form)
	fw, _ := mw.CreateFormFile("archive", "bad.zip")
	fw.Write([]byte("not a zip at all"))
	mw.Close()

	req := httptest.NewRequest("POST", "/api/import", &form)
	req.Header.Set(fiber.HeaderContentType, mw.FormDataContentType())
	req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", resp.StatusCode)
	}
	resp.Body.Close()
}
