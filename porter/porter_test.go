package porter

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/quillnotes/quill-server/domain"
	"github.com/quillnotes/quill-server/store"
)

func newTestPorter() (*Porter, *store.Memory) {
	mem := store.NewMemory()
	return New(mem, zerolog.Nop()), mem
}

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(body)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func readZip(t *testing.T, data []byte) map[string]string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatal(err)
	}
	out := map[string]string{}
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatal(err)
		}
		body, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatal(err)
		}
		out[f.Name] = string(body)
	}
	return out
}

// seedResearch builds the Research/Papers/Paper A/Summary tree with tag
// "ml" and returns the notebook and note.
func seedResearch(t *testing.T, mem *store.Memory, owner uuid.UUID) (*domain.Notebook, *domain.Note) {
	t.Helper()
	ctx := context.Background()

	nb := &domain.Notebook{ID: uuid.New(), UserID: owner, Title: "Research", Slug: "research"}
	if err := mem.CreateNotebook(ctx, nb); err != nil {
		t.Fatal(err)
	}
	sec := &domain.Section{ID: uuid.New(), UserID: owner, NotebookID: nb.ID, Title: "Papers", Slug: "papers"}
	if err := mem.CreateSection(ctx, sec); err != nil {
		t.Fatal(err)
	}
	sectionID := sec.ID
	it := &domain.Item{ID: uuid.New(), UserID: owner, SectionID: &sectionID, Title: "Paper A", Slug: "paper_a"}
	if err := mem.CreateItem(ctx, it); err != nil {
		t.Fatal(err)
	}
	now := time.Now().UTC()
	n := &domain.Note{
		ID: uuid.New(), UserID: owner, ItemID: it.ID,
		Title: "Summary", Content: "<p>hello</p>",
		CreatedAt: now, UpdatedAt: now,
	}
	if err := mem.CreateNote(ctx, n); err != nil {
		t.Fatal(err)
	}
	tag := &domain.Tag{ID: uuid.New(), UserID: owner, Name: "ml", Slug: "ml"}
	if _, err := mem.EnsureTag(ctx, tag); err != nil {
		t.Fatal(err)
	}
	if err := mem.LinkTags(ctx, n.ID, []uuid.UUID{tag.ID}); err != nil {
		t.Fatal(err)
	}
	return nb, n
}

func TestExportThenImportScenario(t *testing.T) {
	ctx := context.Background()
	p, mem := newTestPorter()
	owner := uuid.New()
	nb, _ := seedResearch(t, mem, owner)

	data, filename, err := p.BuildArchive(ctx, owner, ScopeNotebook, nb.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(filename, "research-") || !strings.HasSuffix(filename, ".zip") {
		t.Errorf("unexpected archive filename %q", filename)
	}

	members := readZip(t, data)
	if len(members) != 1 {
		t.Fatalf("expected exactly one member, got %v", members)
	}
	content, ok := members["research/papers/paper_a/summary.md"]
	if !ok {
		t.Fatalf("expected member research/papers/paper_a/summary.md, got %v", members)
	}
	if !strings.Contains(content, `tags: ["ml"]`) {
		t.Errorf("frontmatter missing tags line:\n%s", content)
	}
	if !strings.HasSuffix(content, "\n\n<p>hello</p>") {
		t.Errorf("body not preserved:\n%s", content)
	}

	// Re-import into an empty store.
	freshPorter, fresh := newTestPorter()
	res, err := freshPorter.ImportArchive(ctx, owner, data)
	if err != nil {
		t.Fatal(err)
	}
	if res.Added != 1 || res.Updated != 0 || len(res.Errors) != 0 {
		t.Fatalf("unexpected result %+v", res)
	}

	gotNB, err := fresh.NotebookBySlug(ctx, owner, "research")
	if err != nil {
		t.Fatal(err)
	}
	if gotNB.Title != "Research" {
		t.Errorf("notebook title = %q, want Research", gotNB.Title)
	}
	sec, err := fresh.SectionBySlug(ctx, owner, gotNB.ID, "papers")
	if err != nil {
		t.Fatal(err)
	}
	if sec.Title != "Papers" || sec.Position != 0 {
		t.Errorf("section = %+v", sec)
	}
	it, err := fresh.ItemBySlug(ctx, owner, sec.ID, "paper_a")
	if err != nil {
		t.Fatal(err)
	}
	if it.Title != "Paper A" {
		t.Errorf("item title = %q, want Paper A", it.Title)
	}
	notes, err := fresh.Notes(ctx, owner, it.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(notes) != 1 || notes[0].Title != "Summary" || notes[0].Content != "<p>hello</p>" {
		t.Fatalf("notes = %+v", notes)
	}
	tags, err := fresh.TagsForNote(ctx, owner, notes[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(tags) != 1 || tags[0].Name != "ml" {
		t.Errorf("tags = %+v", tags)
	}
}

func TestReimportIsIdempotent(t *testing.T) {
	ctx := context.Background()
	p, mem := newTestPorter()
	owner := uuid.New()
	nb, _ := seedResearch(t, mem, owner)

	data, _, err := p.BuildArchive(ctx, owner, ScopeNotebook, nb.ID)
	if err != nil {
		t.Fatal(err)
	}

	target, fresh := newTestPorter()
	first, err := target.ImportArchive(ctx, owner, data)
	if err != nil {
		t.Fatal(err)
	}
	if first.Added != 1 {
		t.Fatalf("first import: %+v", first)
	}

	second, err := target.ImportArchive(ctx, owner, data)
	if err != nil {
		t.Fatal(err)
	}
	if second.Added != 0 || second.Updated != 0 {
		t.Fatalf("second import should change nothing, got %+v", second)
	}
	if second.Skipped != 1 {
		t.Errorf("second import skipped = %d, want 1", second.Skipped)
	}

	nbs, err := fresh.Notebooks(ctx, owner)
	if err != nil {
		t.Fatal(err)
	}
	if len(nbs) != 1 {
		t.Errorf("expected one notebook after re-import, got %d", len(nbs))
	}
}

func TestImportPartialFailureIsolation(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestPorter()
	owner := uuid.New()

	data := buildZip(t, map[string]string{
		"nb/sec/item/good_one.md": "---\ntitle: Good One\n---\n\nbody one",
		"nb/sec/item/good_two.md": "---\ntitle: Good Two\n---\n\nbody two",
		"nb/sec/item/no_title.md": "just a body, no frontmatter at all",
		"nb/sec/item/skipme.txt":  "not markdown",
	})

	res, err := p.ImportArchive(ctx, owner, data)
	if err != nil {
		t.Fatal(err)
	}
	if res.Added+res.Updated != 2 {
		t.Errorf("added+updated = %d, want 2 (%+v)", res.Added+res.Updated, res)
	}
	if len(res.Errors) != 1 {
		t.Fatalf("errors = %+v, want exactly one", res.Errors)
	}
	if res.Errors[0].Path != "nb/sec/item/no_title.md" {
		t.Errorf("error path = %q", res.Errors[0].Path)
	}
}

func TestImportCorruptArchiveFailsUpFront(t *testing.T) {
	p, _ := newTestPorter()
	if _, err := p.ImportArchive(context.Background(), uuid.New(), []byte("this is not a zip")); err == nil {
		t.Fatal("expected an error for a corrupt archive")
	}
}

func TestImportAncestorReuse(t *testing.T) {
	ctx := context.Background()
	p, mem := newTestPorter()
	owner := uuid.New()

	data := buildZip(t, map[string]string{
		"shared/notes/inbox/first.md":  "---\ntitle: First\n---\n\none",
		"shared/notes/inbox/second.md": "---\ntitle: Second\n---\n\ntwo",
	})

	res, err := p.ImportArchive(ctx, owner, data)
	if err != nil {
		t.Fatal(err)
	}
	if res.Added != 2 {
		t.Fatalf("result %+v", res)
	}

	nbs, _ := mem.Notebooks(ctx, owner)
	if len(nbs) != 1 {
		t.Fatalf("notebooks = %d, want 1", len(nbs))
	}
	secs, _ := mem.Sections(ctx, owner, nbs[0].ID)
	if len(secs) != 1 {
		t.Fatalf("sections = %d, want 1", len(secs))
	}
	items, _ := mem.Items(ctx, owner, secs[0].ID)
	if len(items) != 1 {
		t.Fatalf("items = %d, want 1", len(items))
	}
	notes, _ := mem.Notes(ctx, owner, items[0].ID)
	if len(notes) != 2 {
		t.Errorf("notes = %d, want 2", len(notes))
	}
}

func TestImportFallbackRouting(t *testing.T) {
	ctx := context.Background()
	p, mem := newTestPorter()
	owner := uuid.New()

	data := buildZip(t, map[string]string{
		"note.md": "---\ntitle: Loose Note\n---\n\nfloating",
	})

	res, err := p.ImportArchive(ctx, owner, data)
	if err != nil {
		t.Fatal(err)
	}
	if res.Added != 1 {
		t.Fatalf("result %+v", res)
	}

	nb, err := mem.NotebookBySlug(ctx, owner, "imported")
	if err != nil {
		t.Fatal(err)
	}
	if nb.Title != "Imported" {
		t.Errorf("notebook title = %q", nb.Title)
	}
	sec, err := mem.SectionBySlug(ctx, owner, nb.ID, "imported_notes")
	if err != nil {
		t.Fatal(err)
	}
	it, err := mem.ItemBySlug(ctx, owner, sec.ID, "imported_items")
	if err != nil {
		t.Fatal(err)
	}
	notes, _ := mem.Notes(ctx, owner, it.ID)
	if len(notes) != 1 || notes[0].Title != "Loose Note" {
		t.Fatalf("notes = %+v", notes)
	}
}

func TestImportThreeSegmentPathDefaultsItem(t *testing.T) {
	ctx := context.Background()
	p, mem := newTestPorter()
	owner := uuid.New()

	data := buildZip(t, map[string]string{
		"work/meetings/standup.md": "---\ntitle: Standup\n---\n\nnotes",
	})

	if _, err := p.ImportArchive(ctx, owner, data); err != nil {
		t.Fatal(err)
	}

	nb, err := mem.NotebookBySlug(ctx, owner, "work")
	if err != nil {
		t.Fatal(err)
	}
	sec, err := mem.SectionBySlug(ctx, owner, nb.ID, "meetings")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := mem.ItemBySlug(ctx, owner, sec.ID, "default"); err != nil {
		t.Fatalf("expected a Default item: %v", err)
	}
}

func TestImportIDWinsOverPath(t *testing.T) {
	ctx := context.Background()
	p, mem := newTestPorter()
	owner := uuid.New()
	_, note := seedResearch(t, mem, owner)

	// Same id, different path, different content and tags.
	data := buildZip(t, map[string]string{
		"elsewhere/other/place/summary.md": "---\n" +
			"id: " + note.ID.String() + "\n" +
			"title: Summary v2\n" +
			"tags: [\"revised\"]\n" +
			"---\n\n<p>changed</p>",
	})

	res, err := p.ImportArchive(ctx, owner, data)
	if err != nil {
		t.Fatal(err)
	}
	if res.Updated != 1 || res.Added != 0 {
		t.Fatalf("result %+v", res)
	}

	got, err := mem.NoteByID(ctx, owner, note.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ItemID != note.ItemID {
		t.Error("container changed on id-matched update")
	}
	if got.Title != "Summary v2" || got.Content != "<p>changed</p>" {
		t.Errorf("note not updated: %+v", got)
	}

	tags, _ := mem.TagsForNote(ctx, owner, note.ID)
	if len(tags) != 1 || tags[0].Name != "revised" {
		t.Errorf("tag set not replaced: %+v", tags)
	}
}

func TestImportKeepsFrontmatterID(t *testing.T) {
	ctx := context.Background()
	p, mem := newTestPorter()
	owner := uuid.New()
	id := uuid.New()

	data := buildZip(t, map[string]string{
		"a/b/c/n.md": "---\nid: " + id.String() + "\ntitle: N\n---\n\nx",
	})
	if _, err := p.ImportArchive(ctx, owner, data); err != nil {
		t.Fatal(err)
	}
	if _, err := mem.NoteByID(ctx, owner, id); err != nil {
		t.Errorf("note not created under the frontmatter id: %v", err)
	}
}

func TestImportCancellation(t *testing.T) {
	p, _ := newTestPorter()
	owner := uuid.New()
	data := buildZip(t, map[string]string{
		"a/b/c/one.md": "---\ntitle: One\n---\n\nx",
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.ImportArchive(ctx, owner, data); err == nil {
		t.Fatal("expected a cancellation error")
	}
}

func TestExportDuplicateTitlesCollapse(t *testing.T) {
	ctx := context.Background()
	p, mem := newTestPorter()
	owner := uuid.New()
	nb, note := seedResearch(t, mem, owner)

	// A second note with the identical title under the same item.
	dup := &domain.Note{
		ID: uuid.New(), UserID: owner, ItemID: note.ItemID,
		Title: "Summary", Content: "<p>later</p>",
		CreatedAt: note.CreatedAt.Add(time.Minute), UpdatedAt: note.UpdatedAt.Add(time.Minute),
	}
	if err := mem.CreateNote(ctx, dup); err != nil {
		t.Fatal(err)
	}

	data, _, err := p.BuildArchive(ctx, owner, ScopeNotebook, nb.ID)
	if err != nil {
		t.Fatal(err)
	}
	members := readZip(t, data)
	if len(members) != 1 {
		t.Fatalf("expected the duplicate path to collapse, got %v", members)
	}
	if !strings.Contains(members["research/papers/paper_a/summary.md"], "<p>later</p>") {
		t.Error("expected the later note to win the path")
	}
}

func TestExportSectionScope(t *testing.T) {
	ctx := context.Background()
	p, mem := newTestPorter()
	owner := uuid.New()
	nb, _ := seedResearch(t, mem, owner)

	secs, err := mem.Sections(ctx, owner, nb.ID)
	if err != nil || len(secs) != 1 {
		t.Fatalf("sections: %v %v", secs, err)
	}

	data, filename, err := p.BuildArchive(ctx, owner, ScopeSection, secs[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(filename, "papers-") {
		t.Errorf("filename = %q", filename)
	}
	members := readZip(t, data)
	if _, ok := members["research/papers/paper_a/summary.md"]; !ok {
		t.Errorf("members = %v", members)
	}
}

func TestReconcileTagsReplacesSet(t *testing.T) {
	ctx := context.Background()
	p, mem := newTestPorter()
	owner := uuid.New()
	_, note := seedResearch(t, mem, owner)

	tags, err := p.ReconcileTags(ctx, owner, note.ID, []string{"physics", "  ", "ml"})
	if err != nil {
		t.Fatal(err)
	}
	if len(tags) != 2 {
		t.Fatalf("tags = %+v", tags)
	}

	tags, err = p.ReconcileTags(ctx, owner, note.ID, []string{"physics"})
	if err != nil {
		t.Fatal(err)
	}
	if len(tags) != 1 || tags[0].Name != "physics" {
		t.Fatalf("tag set is not exactly the new set: %+v", tags)
	}

	// The detached tag still exists: tags are never garbage collected.
	all, err := mem.Tags(ctx, owner)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, tag := range all {
		if tag.Name == "ml" {
			found = true
		}
	}
	if !found {
		t.Error("unreferenced tag was deleted")
	}
}

func TestBackupRoundTrip(t *testing.T) {
	ctx := context.Background()
	owner := uuid.New()

	srcPorter, srcMem := newTestPorter()
	seedResearch(t, srcMem, owner)

	snapshot, err := srcPorter.Snapshot(ctx, owner)
	if err != nil {
		t.Fatal(err)
	}
	if len(snapshot.Notebooks) != 1 || len(snapshot.Notebooks[0].Sections) != 1 {
		t.Fatalf("snapshot = %+v", snapshot)
	}

	dstPorter, _ := newTestPorter()
	if err := dstPorter.Restore(ctx, owner, snapshot); err != nil {
		t.Fatal(err)
	}

	restored, err := dstPorter.Snapshot(ctx, owner)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(snapshot, restored) {
		t.Errorf("restore is not faithful:\nbefore %+v\nafter  %+v", snapshot, restored)
	}

	// Restoring on top of existing data overwrites in place.
	if err := dstPorter.Restore(ctx, owner, snapshot); err != nil {
		t.Fatal(err)
	}
	again, err := dstPorter.Snapshot(ctx, owner)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(snapshot, again) {
		t.Error("second restore drifted")
	}
}
