// Package knowledge turns Markdown files into searchable knowledge: one
// document record plus embedded chunks.
package knowledge

import (
	"bufio"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	h1Pattern      = regexp.MustCompile(`(?m)^#\s+(.+)$`)
	headingPattern = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)
)

// Document is a parsed Markdown file.
type Document struct {
	Meta     map[string]any // frontmatter
	Title    string         // frontmatter title, else first h1
	Body     string         // content after the frontmatter
	Sections []Section
}

// Section is the text under one heading.
type Section struct {
	Level int
	Path  string // "## Setup > ### Install"
	Text  string
}

// Parse splits off YAML frontmatter and indexes the headings. Invalid
// frontmatter is treated as absent.
func Parse(content string) *Document {
	doc := &Document{Meta: map[string]any{}, Body: content}

	if rest, ok := strings.CutPrefix(content, "---\n"); ok {
		if end := strings.Index(rest, "\n---"); end > 0 {
			if err := yaml.Unmarshal([]byte(rest[:end]), &doc.Meta); err != nil {
				doc.Meta = map[string]any{}
			}
			doc.Body = strings.TrimPrefix(rest[end+len("\n---"):], "\n")
		}
	}

	doc.Title = title(doc.Meta, doc.Body)
	doc.Sections = sections(doc.Body)
	return doc
}

func title(meta map[string]any, body string) string {
	for _, key := range []string{"title", "name"} {
		if s, ok := meta[key].(string); ok && s != "" {
			return s
		}
	}
	if m := h1Pattern.FindStringSubmatch(body); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	return ""
}

// sections collects the text under every heading. Text before the first
// heading belongs to no section.
func sections(body string) []Section {
	var (
		out    []Section
		cur    *Section
		text   strings.Builder
		path   []string
		levels []int
	)
	flush := func() {
		if cur != nil {
			cur.Text = strings.TrimSpace(text.String())
			out = append(out, *cur)
			text.Reset()
		}
	}

	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		m := headingPattern.FindStringSubmatch(line)
		if m == nil {
			if cur != nil {
				text.WriteString(line)
				text.WriteByte('\n')
			}
			continue
		}

		flush()
		level := len(m[1])
		for len(levels) > 0 && levels[len(levels)-1] >= level {
			path = path[:len(path)-1]
			levels = levels[:len(levels)-1]
		}
		path = append(path, m[1]+" "+strings.TrimSpace(m[2]))
		levels = append(levels, level)
		cur = &Section{Level: level, Path: strings.Join(path, " > ")}
	}
	flush()
	return out
}

// scalarMeta keeps the frontmatter values a metadata filter can match on.
func scalarMeta(meta map[string]any) map[string]any {
	out := make(map[string]any, len(meta))
	for k, v := range meta {
		switch v.(type) {
		case string, bool, int, int64, float64:
			out[k] = v
		}
	}
	return out
}
