package porter

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/quillnotes/quill-server/domain"
	"github.com/quillnotes/quill-server/frontmatter"
	"github.com/quillnotes/quill-server/notepath"
	"github.com/quillnotes/quill-server/store"
)

type action int

const (
	actionAdded action = iota
	actionUpdated
	actionSkipped
)

// ImportArchive unpacks zipBytes and reconciles every Markdown member into
// the owner's hierarchy. A corrupt archive fails up front; after that,
// failures are file-local: the bad member lands in the error list and the
// loop continues. Cancellation is checked between members. No transaction
// spans the archive, so an interrupted import leaves the files already
// processed in place.
func (p *Porter) ImportArchive(ctx context.Context, owner uuid.UUID, zipBytes []byte) (*domain.ImportResult, error) {
	zr, err := zip.NewReader(bytes.NewReader(zipBytes), int64(len(zipBytes)))
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	res := &domain.ImportResult{Errors: []domain.ImportError{}}
	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if !importable(f) {
			continue
		}

		data, err := readMember(f)
		if err != nil {
			p.fileError(res, f.Name, err)
			continue
		}

		fm, body := frontmatter.Parse(data)
		act, err := p.upsertNote(ctx, owner, f.Name, fm, body)
		if err != nil {
			p.fileError(res, f.Name, err)
			continue
		}
		switch act {
		case actionAdded:
			res.Added++
		case actionUpdated:
			res.Updated++
		case actionSkipped:
			res.Skipped++
		}
	}

	p.log.Info().
		Int("added", res.Added).
		Int("updated", res.Updated).
		Int("skipped", res.Skipped).
		Int("errors", len(res.Errors)).
		Msg("archive import finished")
	return res, nil
}

func importable(f *zip.File) bool {
	name := f.Name
	if f.FileInfo().IsDir() {
		return false
	}
	if strings.HasPrefix(name, "__MACOSX/") || strings.HasPrefix(path.Base(name), ".") {
		return false
	}
	return strings.HasSuffix(strings.ToLower(name), ".md")
}

func readMember(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open member: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read member: %w", err)
	}
	return data, nil
}

func (p *Porter) fileError(res *domain.ImportResult, name string, err error) {
	p.log.Warn().Str("path", name).Err(err).Msg("skipping archive member")
	res.Errors = append(res.Errors, domain.ImportError{Path: name, Message: err.Error()})
}

// upsertNote runs the per-file pipeline: resolve the path into the four
// title levels, find-or-create the ancestor chain by slug, then create or
// update the leaf note. A frontmatter id always wins over path-derived
// placement: an existing note is updated in its current container even
// when the member path points somewhere else.
func (p *Porter) upsertNote(ctx context.Context, owner uuid.UUID, memberPath string, fm frontmatter.Frontmatter, body string) (action, error) {
	title := strings.TrimSpace(fm.Title)
	if title == "" {
		return 0, errors.New("frontmatter has no title")
	}

	tagIDs := p.resolveTags(ctx, owner, fm.Tags)

	if fm.ID != "" {
		if id, err := uuid.Parse(fm.ID); err == nil {
			existing, err := p.store.NoteByID(ctx, owner, id)
			switch {
			case err == nil:
				return p.updateExisting(ctx, existing, title, body, tagIDs)
			case !errors.Is(err, store.ErrNotFound):
				return 0, fmt.Errorf("look up note: %w", err)
			}
		}
	}

	item, err := p.ensureAncestors(ctx, owner, notepath.Split(memberPath))
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	n := &domain.Note{
		ID:        uuid.New(),
		UserID:    owner,
		ItemID:    item.ID,
		Title:     title,
		Content:   body,
		CreatedAt: parsedTimeOr(fm.Created, now),
		UpdatedAt: parsedTimeOr(fm.Updated, now),
	}
	if id, err := uuid.Parse(fm.ID); err == nil {
		n.ID = id
	}

	if err := p.store.CreateNote(ctx, n); err != nil {
		return 0, fmt.Errorf("create note: %w", err)
	}
	p.linkTags(ctx, n.ID, tagIDs)
	return actionAdded, nil
}

func (p *Porter) updateExisting(ctx context.Context, existing *domain.Note, title, body string, tagIDs []uuid.UUID) (action, error) {
	if existing.Title == title && existing.Content == body {
		// Re-import of an unchanged file: no write, no count.
		return actionSkipped, nil
	}

	existing.Title = title
	existing.Content = body
	existing.UpdatedAt = time.Now().UTC()
	if err := p.store.UpdateNote(ctx, existing); err != nil {
		return 0, fmt.Errorf("update note: %w", err)
	}

	// Replace the linked set wholesale so the final tags exactly equal the
	// parsed set, never a superset.
	if err := p.store.UnlinkAllTags(ctx, existing.ID); err != nil {
		p.log.Warn().Str("note", existing.ID.String()).Err(err).Msg("unlink tags failed")
		return actionUpdated, nil
	}
	p.linkTags(ctx, existing.ID, tagIDs)
	return actionUpdated, nil
}

// ensureAncestors walks notebook → section → item, matching each level by
// (owner, slug, parent) and creating what is missing. New sections and
// items are appended after their highest-positioned sibling. The store's
// create-if-absent primitives absorb concurrent creations of the same
// slug.
func (p *Porter) ensureAncestors(ctx context.Context, owner uuid.UUID, seg notepath.Segments) (*domain.Item, error) {
	nb, err := p.store.NotebookBySlug(ctx, owner, notepath.Slugify(seg.Notebook))
	if errors.Is(err, store.ErrNotFound) {
		nb = &domain.Notebook{
			ID:     uuid.New(),
			UserID: owner,
			Title:  seg.Notebook,
			Slug:   notepath.Slugify(seg.Notebook),
		}
		if _, err := p.store.EnsureNotebook(ctx, nb); err != nil {
			return nil, fmt.Errorf("ensure notebook %q: %w", seg.Notebook, err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("look up notebook %q: %w", seg.Notebook, err)
	}

	sec, err := p.store.SectionBySlug(ctx, owner, nb.ID, notepath.Slugify(seg.Section))
	if errors.Is(err, store.ErrNotFound) {
		pos, perr := p.store.MaxSectionPosition(ctx, owner, nb.ID)
		if perr != nil {
			return nil, perr
		}
		sec = &domain.Section{
			ID:         uuid.New(),
			UserID:     owner,
			NotebookID: nb.ID,
			Title:      seg.Section,
			Slug:       notepath.Slugify(seg.Section),
			Position:   pos + 1,
		}
		if _, err := p.store.EnsureSection(ctx, sec); err != nil {
			return nil, fmt.Errorf("ensure section %q: %w", seg.Section, err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("look up section %q: %w", seg.Section, err)
	}

	item, err := p.store.ItemBySlug(ctx, owner, sec.ID, notepath.Slugify(seg.Item))
	if errors.Is(err, store.ErrNotFound) {
		pos, perr := p.store.MaxItemPosition(ctx, owner, sec.ID)
		if perr != nil {
			return nil, perr
		}
		sectionID := sec.ID
		item = &domain.Item{
			ID:        uuid.New(),
			UserID:    owner,
			SectionID: &sectionID,
			Title:     seg.Item,
			Slug:      notepath.Slugify(seg.Item),
			Position:  pos + 1,
		}
		if _, err := p.store.EnsureItem(ctx, item); err != nil {
			return nil, fmt.Errorf("ensure item %q: %w", seg.Item, err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("look up item %q: %w", seg.Item, err)
	}

	return item, nil
}

// resolveTags upserts a tag per name and returns the ids. Blank names are
// dropped; a failing tag is logged and omitted rather than failing the
// file.
func (p *Porter) resolveTags(ctx context.Context, owner uuid.UUID, names []string) []uuid.UUID {
	var ids []uuid.UUID
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		t := &domain.Tag{
			ID:     uuid.New(),
			UserID: owner,
			Name:   name,
			Slug:   notepath.Slugify(name),
		}
		if _, err := p.store.EnsureTag(ctx, t); err != nil {
			p.log.Warn().Str("tag", name).Err(err).Msg("tag upsert failed")
			continue
		}
		ids = append(ids, t.ID)
	}
	return ids
}

// linkTags attaches the resolved set. A link failure leaves the note with
// an incomplete tag set; it never rolls back the note write.
func (p *Porter) linkTags(ctx context.Context, noteID uuid.UUID, tagIDs []uuid.UUID) {
	if len(tagIDs) == 0 {
		return
	}
	if err := p.store.LinkTags(ctx, noteID, tagIDs); err != nil {
		p.log.Warn().Str("note", noteID.String()).Err(err).Msg("link tags failed")
	}
}

func parsedTimeOr(value string, fallback time.Time) time.Time {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	return fallback
}
