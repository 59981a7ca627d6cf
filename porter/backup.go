package porter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/quillnotes/quill-server/domain"
	"github.com/quillnotes/quill-server/notepath"
	"github.com/quillnotes/quill-server/store"
)

// Snapshot captures the owner's full hierarchy as a Backup document. This
// is the simple restore path: ids only, no slug matching, no tags.
func (p *Porter) Snapshot(ctx context.Context, owner uuid.UUID) (*domain.Backup, error) {
	notebooks, err := p.store.Notebooks(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("load notebooks: %w", err)
	}

	backup := &domain.Backup{Notebooks: []domain.BackupNotebook{}}
	for _, nb := range notebooks {
		bn := domain.BackupNotebook{ID: nb.ID, Title: nb.Title, Sections: []domain.BackupSection{}}

		sections, err := p.store.Sections(ctx, owner, nb.ID)
		if err != nil {
			return nil, fmt.Errorf("load sections: %w", err)
		}
		for _, sec := range sections {
			bs := domain.BackupSection{ID: sec.ID, Title: sec.Title, Position: sec.Position, Items: []domain.BackupItem{}}

			items, err := p.store.Items(ctx, owner, sec.ID)
			if err != nil {
				return nil, fmt.Errorf("load items: %w", err)
			}
			for _, it := range items {
				bi := domain.BackupItem{ID: it.ID, Title: it.Title, Position: it.Position, Notes: []domain.BackupNote{}}

				notes, err := p.store.Notes(ctx, owner, it.ID)
				if err != nil {
					return nil, fmt.Errorf("load notes: %w", err)
				}
				for _, n := range notes {
					bi.Notes = append(bi.Notes, domain.BackupNote{ID: n.ID, Title: n.Title, Content: n.Content})
				}
				bs.Items = append(bs.Items, bi)
			}
			bn.Sections = append(bn.Sections, bs)
		}
		backup.Notebooks = append(backup.Notebooks, bn)
	}
	return backup, nil
}

// Restore writes a Backup document back wholesale. Records are matched by
// id alone: an existing record is overwritten in place, a missing one is
// created with the id from the document.
func (p *Porter) Restore(ctx context.Context, owner uuid.UUID, backup *domain.Backup) error {
	for _, bn := range backup.Notebooks {
		nb := &domain.Notebook{
			ID:     bn.ID,
			UserID: owner,
			Title:  bn.Title,
			Slug:   notepath.Slugify(bn.Title),
		}
		if err := p.restoreNotebook(ctx, owner, nb); err != nil {
			return err
		}

		for _, bs := range bn.Sections {
			sec := &domain.Section{
				ID:         bs.ID,
				UserID:     owner,
				NotebookID: nb.ID,
				Title:      bs.Title,
				Slug:       notepath.Slugify(bs.Title),
				Position:   bs.Position,
			}
			if err := p.restoreSection(ctx, owner, sec); err != nil {
				return err
			}

			for _, bi := range bs.Items {
				sectionID := sec.ID
				it := &domain.Item{
					ID:        bi.ID,
					UserID:    owner,
					SectionID: &sectionID,
					Title:     bi.Title,
					Slug:      notepath.Slugify(bi.Title),
					Position:  bi.Position,
				}
				if err := p.restoreItem(ctx, owner, it); err != nil {
					return err
				}

				for _, note := range bi.Notes {
					if err := p.restoreNote(ctx, owner, it.ID, note); err != nil {
						return err
					}
				}
			}
		}
	}

	p.log.Info().Int("notebooks", len(backup.Notebooks)).Msg("backup restored")
	return nil
}

func (p *Porter) restoreNotebook(ctx context.Context, owner uuid.UUID, nb *domain.Notebook) error {
	_, err := p.store.NotebookByID(ctx, owner, nb.ID)
	switch {
	case err == nil:
		return p.store.UpdateNotebook(ctx, nb)
	case errors.Is(err, store.ErrNotFound):
		return p.store.CreateNotebook(ctx, nb)
	default:
		return fmt.Errorf("restore notebook %s: %w", nb.ID, err)
	}
}

func (p *Porter) restoreSection(ctx context.Context, owner uuid.UUID, sec *domain.Section) error {
	existing, err := p.store.SectionByID(ctx, owner, sec.ID)
	switch {
	case err == nil:
		sec.FolderID = existing.FolderID
		return p.store.UpdateSection(ctx, sec)
	case errors.Is(err, store.ErrNotFound):
		return p.store.CreateSection(ctx, sec)
	default:
		return fmt.Errorf("restore section %s: %w", sec.ID, err)
	}
}

func (p *Porter) restoreItem(ctx context.Context, owner uuid.UUID, it *domain.Item) error {
	_, err := p.store.ItemByID(ctx, owner, it.ID)
	switch {
	case err == nil:
		return p.store.UpdateItem(ctx, it)
	case errors.Is(err, store.ErrNotFound):
		return p.store.CreateItem(ctx, it)
	default:
		return fmt.Errorf("restore item %s: %w", it.ID, err)
	}
}

func (p *Porter) restoreNote(ctx context.Context, owner, itemID uuid.UUID, bn domain.BackupNote) error {
	existing, err := p.store.NoteByID(ctx, owner, bn.ID)
	switch {
	case err == nil:
		existing.Title = bn.Title
		existing.Content = bn.Content
		existing.UpdatedAt = time.Now().UTC()
		return p.store.UpdateNote(ctx, existing)
	case errors.Is(err, store.ErrNotFound):
		now := time.Now().UTC()
		return p.store.CreateNote(ctx, &domain.Note{
			ID:        bn.ID,
			UserID:    owner,
			ItemID:    itemID,
			Title:     bn.Title,
			Content:   bn.Content,
			CreatedAt: now,
			UpdatedAt: now,
		})
	default:
		return fmt.Errorf("restore note %s: %w", bn.ID, err)
	}
}
