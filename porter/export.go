package porter

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/quillnotes/quill-server/domain"
	"github.com/quillnotes/quill-server/frontmatter"
	"github.com/quillnotes/quill-server/notepath"
)

// Scope selects how much of the hierarchy an archive covers.
type Scope string

const (
	ScopeNotebook Scope = "notebook"
	ScopeSection  Scope = "section"
)

type member struct {
	path string
	data []byte
}

// BuildArchive walks the scope's subtree and emits one Markdown member per
// note at its canonical notebook/section/item/note.md path. It returns the
// zip bytes and a download filename embedding the scope title and a
// timestamp. Nothing is persisted server-side.
//
// Two notes with identical titles under one item collide on path; the
// later one silently replaces the earlier in the archive. This is a known
// lossy edge, kept as is.
func (p *Porter) BuildArchive(ctx context.Context, owner uuid.UUID, scope Scope, scopeID uuid.UUID) ([]byte, string, error) {
	var (
		nb       *domain.Notebook
		sections []domain.Section
		title    string
		err      error
	)

	switch scope {
	case ScopeNotebook:
		nb, err = p.store.NotebookByID(ctx, owner, scopeID)
		if err != nil {
			return nil, "", fmt.Errorf("load notebook: %w", err)
		}
		title = nb.Title
		sections, err = p.store.Sections(ctx, owner, nb.ID)
		if err != nil {
			return nil, "", fmt.Errorf("load sections: %w", err)
		}
	case ScopeSection:
		sec, serr := p.store.SectionByID(ctx, owner, scopeID)
		if serr != nil {
			return nil, "", fmt.Errorf("load section: %w", serr)
		}
		nb, err = p.store.NotebookByID(ctx, owner, sec.NotebookID)
		if err != nil {
			return nil, "", fmt.Errorf("load notebook: %w", err)
		}
		title = sec.Title
		sections = []domain.Section{*sec}
	default:
		return nil, "", fmt.Errorf("unknown export scope %q", scope)
	}

	var members []member
	index := map[string]int{}
	for _, sec := range sections {
		items, err := p.store.Items(ctx, owner, sec.ID)
		if err != nil {
			return nil, "", fmt.Errorf("load items: %w", err)
		}
		for _, it := range items {
			notes, err := p.store.Notes(ctx, owner, it.ID)
			if err != nil {
				return nil, "", fmt.Errorf("load notes: %w", err)
			}
			for _, n := range notes {
				n.Tags, err = p.store.TagsForNote(ctx, owner, n.ID)
				if err != nil {
					return nil, "", fmt.Errorf("load tags: %w", err)
				}
				path := notepath.Join(nb.Title, sec.Title, it.Title, n.Title)
				data := frontmatter.Serialize(n)
				if i, ok := index[path]; ok {
					members[i].data = data
					continue
				}
				index[path] = len(members)
				members = append(members, member{path: path, data: data})
			}
		}
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, m := range members {
		w, err := zw.Create(m.path)
		if err != nil {
			return nil, "", fmt.Errorf("add member %s: %w", m.path, err)
		}
		if _, err := w.Write(m.data); err != nil {
			return nil, "", fmt.Errorf("write member %s: %w", m.path, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, "", fmt.Errorf("close archive: %w", err)
	}

	filename := fmt.Sprintf("%s-%s.zip", notepath.Slugify(title), time.Now().UTC().Format("20060102T150405"))
	p.log.Info().Str("scope", string(scope)).Int("notes", len(members)).Str("file", filename).Msg("archive built")
	return buf.Bytes(), filename, nil
}
