package porter

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/quillnotes/quill-server/domain"
)

// ReconcileTags replaces a note's tag set with the given names: each name
// is upserted by slug, then the note is unlinked from everything and
// relinked to exactly the resolved set.
func (p *Porter) ReconcileTags(ctx context.Context, owner, noteID uuid.UUID, names []string) ([]domain.Tag, error) {
	if _, err := p.store.NoteByID(ctx, owner, noteID); err != nil {
		return nil, err
	}

	ids := p.resolveTags(ctx, owner, names)
	if err := p.store.UnlinkAllTags(ctx, noteID); err != nil {
		return nil, fmt.Errorf("unlink tags: %w", err)
	}
	if len(ids) > 0 {
		if err := p.store.LinkTags(ctx, noteID, ids); err != nil {
			return nil, fmt.Errorf("link tags: %w", err)
		}
	}
	return p.store.TagsForNote(ctx, owner, noteID)
}
