// Package porter is the import/export round-trip engine: it flattens the
// notebook hierarchy into Markdown-with-frontmatter files inside a zip
// archive, and reconciles an arbitrary uploaded archive back into the
// relational hierarchy.
package porter

import (
	"github.com/rs/zerolog"

	"github.com/quillnotes/quill-server/store"
)

type Porter struct {
	store store.Store
	log   zerolog.Logger
}

func New(s store.Store, log zerolog.Logger) *Porter {
	return &Porter{store: s, log: log.With().Str("component", "porter").Logger()}
}
