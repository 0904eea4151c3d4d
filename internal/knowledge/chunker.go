package knowledge

import (
	"strings"
	"unicode"
)

// Chunk is one piece of a document as it will be embedded.
type Chunk struct {
	Text     string
	Position int
	Heading  string // section path, empty for unsectioned text
}

// ChunkConfig sizes chunks in bytes.
type ChunkConfig struct {
	Threshold int // documents up to this size stay whole
	Target    int // sentence packing target
	Min       int // smaller sections merge into the previous chunk
	Max       int // larger sections split by paragraph, then sentence
	Overlap   int // trailing words of the previous chunk to repeat
}

// DefaultChunkConfig suits short knowledge notes and posts.
func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{Threshold: 1500, Target: 750, Min: 200, Max: 1000, Overlap: 100}
}

// Split chunks doc along section boundaries first, then paragraphs, then
// sentences. Empty text yields no chunks.
func Split(doc *Document, cfg ChunkConfig) []Chunk {
	body := strings.TrimSpace(doc.Body)
	if body == "" {
		return nil
	}
	if len(body) <= cfg.Threshold {
		return []Chunk{{Text: body}}
	}

	var chunks []Chunk
	if len(doc.Sections) > 0 {
		chunks = splitSections(doc.Sections, cfg)
	} else {
		chunks = splitParagraphs(body, "", cfg)
	}
	chunks = overlap(chunks, cfg.Overlap)
	for i := range chunks {
		chunks[i].Position = i
	}
	return chunks
}

func splitSections(sections []Section, cfg ChunkConfig) []Chunk {
	var chunks []Chunk
	for _, s := range sections {
		if s.Text == "" {
			continue
		}
		switch {
		case len(s.Text) > cfg.Max:
			chunks = append(chunks, splitParagraphs(s.Text, s.Path, cfg)...)
		case len(s.Text) < cfg.Min && len(chunks) > 0:
			last := &chunks[len(chunks)-1]
			last.Text += "\n\n" + s.Text
		default:
			chunks = append(chunks, Chunk{Text: s.Text, Heading: s.Path})
		}
	}
	return chunks
}

// splitParagraphs packs paragraphs up to cfg.Max and breaks oversized ones
// into sentences.
func splitParagraphs(text, heading string, cfg ChunkConfig) []Chunk {
	var (
		chunks []Chunk
		buf    strings.Builder
	)
	flush := func() {
		if buf.Len() > 0 {
			chunks = append(chunks, Chunk{Text: strings.TrimSpace(buf.String()), Heading: heading})
			buf.Reset()
		}
	}

	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if buf.Len() > 0 && buf.Len()+len(para) > cfg.Max {
			flush()
		}
		if len(para) > cfg.Max {
			flush()
			for _, s := range packSentences(para, cfg.Target) {
				chunks = append(chunks, Chunk{Text: s, Heading: heading})
			}
			continue
		}
		if buf.Len() > 0 {
			buf.WriteString("\n\n")
		}
		buf.WriteString(para)
	}
	flush()
	return chunks
}

func packSentences(text string, target int) []string {
	var (
		out []string
		buf strings.Builder
	)
	for _, s := range sentences(text) {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if buf.Len() > 0 && buf.Len()+len(s) > target {
			out = append(out, buf.String())
			buf.Reset()
		}
		if buf.Len() > 0 {
			buf.WriteByte(' ')
		}
		buf.WriteString(s)
	}
	if buf.Len() > 0 {
		out = append(out, buf.String())
	}
	return out
}

// sentences splits after '.', '!' or '?' followed by whitespace. A period
// right after a capital letter ("U.S.") does not end a sentence.
func sentences(text string) []string {
	var (
		out []string
		cur strings.Builder
	)
	runes := []rune(text)
	for i, r := range runes {
		cur.WriteRune(r)
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
			continue
		}
		if r == '.' && i > 0 && unicode.IsUpper(runes[i-1]) {
			continue
		}
		out = append(out, cur.String())
		cur.Reset()
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}

// overlap prefixes each chunk with whole trailing words of its predecessor.
func overlap(chunks []Chunk, n int) []Chunk {
	if n <= 0 || len(chunks) < 2 {
		return chunks
	}
	out := make([]Chunk, len(chunks))
	copy(out, chunks)
	for i := 1; i < len(out); i++ {
		prev := chunks[i-1].Text
		if len(prev) <= n {
			continue
		}
		tail := prev[len(prev)-n:]
		sp := strings.IndexByte(tail, ' ')
		if sp < 0 {
			continue
		}
		out[i].Text = tail[sp+1:] + " " + out[i].Text
	}
	return out
}
