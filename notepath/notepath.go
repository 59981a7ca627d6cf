// Package notepath maps hierarchy titles to the slash-delimited archive
// paths used by the zip round-trip, and back.
package notepath

import (
	"strings"
)

// Fallback container titles for archive members whose path does not carry
// a full notebook/section/item prefix. Hand-authored or partially
// structured bundles route here instead of failing the import.
const (
	FallbackNotebook = "Imported"
	FallbackSection  = "Imported Notes"
	FallbackItem     = "Imported Items"

	// DefaultItem fills the item level for three-segment paths
	// (notebook/section/note.md).
	DefaultItem = "Default"
)

// Segments holds the four title levels recovered from an archive path.
type Segments struct {
	Notebook string
	Section  string
	Item     string
	Note     string
}

// Slugify lowercases a title and joins its whitespace-separated tokens
// with underscores. Deterministic: two sibling entities with the same
// title collide on slug, which is what import matching relies on.
func Slugify(title string) string {
	return strings.Join(strings.Fields(strings.ToLower(title)), "_")
}

// Unslug reverses the slug transform for display: underscores become
// spaces and each token is capitalized. Original case and whitespace are
// not recoverable; the transform is lossy by design.
func Unslug(slug string) string {
	tokens := strings.Split(slug, "_")
	for i, tok := range tokens {
		if tok == "" {
			continue
		}
		tokens[i] = strings.ToUpper(tok[:1]) + tok[1:]
	}
	return strings.Join(tokens, " ")
}

// Join derives the canonical archive path for a note:
// {notebook}/{section}/{item}/{note}.md, each segment slugified.
func Join(notebook, section, item, note string) string {
	return Slugify(notebook) + "/" + Slugify(section) + "/" + Slugify(item) + "/" + Slugify(note) + ".md"
}

// Split recovers the four title levels from an archive member path.
//
// Under-specified paths are routed rather than rejected: zero or one
// directory segments land in the Imported/Imported Notes/Imported Items
// chain, and a two-directory path gets DefaultItem at the item level.
// Directory segments beyond the third are ignored.
func Split(path string) Segments {
	path = strings.Trim(strings.ReplaceAll(path, "\\", "/"), "/")

	var parts []string
	for _, p := range strings.Split(path, "/") {
		if p != "" && p != "." {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return Segments{Notebook: FallbackNotebook, Section: FallbackSection, Item: FallbackItem}
	}

	note := strings.TrimSuffix(parts[len(parts)-1], ".md")
	dirs := parts[:len(parts)-1]

	seg := Segments{Note: Unslug(note)}
	switch len(dirs) {
	case 0, 1:
		seg.Notebook = FallbackNotebook
		seg.Section = FallbackSection
		seg.Item = FallbackItem
	case 2:
		seg.Notebook = Unslug(dirs[0])
		seg.Section = Unslug(dirs[1])
		seg.Item = DefaultItem
	default:
		seg.Notebook = Unslug(dirs[0])
		seg.Section = Unslug(dirs[1])
		seg.Item = Unslug(dirs[2])
	}
	return seg
}
