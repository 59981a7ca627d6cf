// Package frontmatter reads and writes the ----delimited metadata block at
// the top of exported Markdown files. Parsing is deliberately forgiving:
// archives come back hand-edited, from other tools, or not at all.
package frontmatter

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/quillnotes/quill-server/domain"
)

var bom = []byte{0xef, 0xbb, 0xbf}

// Frontmatter is the decoded metadata block. Extra holds unknown keys
// verbatim so they survive a parse without being interpreted.
type Frontmatter struct {
	ID      string
	Title   string
	Created string
	Updated string
	Tags    []string
	Extra   map[string]string
}

// Serialize renders a note as frontmatter plus body. The tags line is
// omitted entirely when the note has no tags.
func Serialize(n domain.Note) []byte {
	var buf bytes.Buffer

	buf.WriteString("---\n")
	buf.WriteString("id: " + n.ID.String() + "\n")
	buf.WriteString("title: " + quote(n.Title) + "\n")
	buf.WriteString("created: " + n.CreatedAt.UTC().Format(time.RFC3339) + "\n")
	buf.WriteString("updated: " + n.UpdatedAt.UTC().Format(time.RFC3339) + "\n")
	if len(n.Tags) > 0 {
		parts := make([]string, 0, len(n.Tags))
		for _, t := range n.Tags {
			parts = append(parts, `"`+strings.ReplaceAll(strings.ReplaceAll(t.Name, `\`, `\\`), `"`, `\"`)+`"`)
		}
		buf.WriteString("tags: [" + strings.Join(parts, ", ") + "]\n")
	}
	buf.WriteString("---\n\n")
	buf.WriteString(n.Content)

	return buf.Bytes()
}

// Parse splits input into frontmatter and body. A missing or malformed
// block is not an error: the whole input becomes the body and the returned
// Frontmatter is empty, leaving the caller to reject or default the file.
func Parse(data []byte) (Frontmatter, string) {
	data = bytes.TrimPrefix(data, bom)

	block, body, ok := splitBlock(data)
	if !ok {
		return Frontmatter{}, string(data)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(block, &raw); err != nil {
		return Frontmatter{}, string(data)
	}

	fm := Frontmatter{}
	for key, value := range raw {
		switch key {
		case "id":
			fm.ID = asString(value)
		case "title":
			fm.Title = asString(value)
		case "created":
			fm.Created = asString(value)
		case "updated":
			fm.Updated = asString(value)
		case "tags":
			fm.Tags = asTags(value)
		default:
			if fm.Extra == nil {
				fm.Extra = map[string]string{}
			}
			fm.Extra[key] = asString(value)
		}
	}

	return fm, body
}

// splitBlock finds the opening and closing --- lines. It reports ok=false
// when the input does not open with a block or the closing line never comes.
func splitBlock(data []byte) (block []byte, body string, ok bool) {
	rest, found := strings.CutPrefix(string(data), "---")
	if !found {
		return nil, "", false
	}
	rest, found = cutNewline(rest)
	if !found {
		return nil, "", false
	}

	// Scan for a line that is exactly "---".
	search := rest
	offset := 0
	for {
		i := strings.Index(search, "\n---")
		if i < 0 {
			return nil, "", false
		}
		after := search[i+len("\n---"):]
		if trimmed, lineEnd := cutNewline(after); lineEnd || after == "" {
			block = []byte(rest[:offset+i])
			body = trimmed
			break
		}
		offset += i + 1
		search = search[i+1:]
	}

	// One blank line separates the block from the body.
	body, _ = cutNewline(body)
	return block, body, true
}

func cutNewline(s string) (string, bool) {
	if rest, ok := strings.CutPrefix(s, "\r\n"); ok {
		return rest, true
	}
	return strings.CutPrefix(s, "\n")
}

func asString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case time.Time:
		return s.Format(time.RFC3339)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// asTags accepts both forms seen in the wild: a YAML sequence
// (tags: ["x", "y"]) and a bare comma-separated scalar (tags: x, y).
func asTags(v any) []string {
	var parts []string
	switch val := v.(type) {
	case []any:
		for _, e := range val {
			parts = append(parts, asString(e))
		}
	case string:
		parts = strings.Split(val, ",")
	default:
		return nil
	}

	var tags []string
	for _, p := range parts {
		if name := unquote(strings.TrimSpace(p)); name != "" {
			tags = append(tags, name)
		}
	}
	return tags
}

func unquote(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// quote writes a YAML scalar, double-quoting only when the plain form
// would be ambiguous.
func quote(s string) string {
	if s == "" {
		return `""`
	}
	if strings.ContainsAny(s, ":#[]{}\"'\n,&*?|>%@`") ||
		strings.HasPrefix(s, " ") || strings.HasSuffix(s, " ") || s == "-" {
		return `"` + strings.ReplaceAll(strings.ReplaceAll(s, `\`, `\\`), `"`, `\"`) + `"`
	}
	return s
}
