package knowledge

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/socialagent/internal/models"
	"github.com/raphaelgruber/socialagent/internal/storage"
	"github.com/raphaelgruber/socialagent/internal/storage/storagetest"
)

func TestParse(t *testing.T) {
	doc := Parse("---\ntitle: Staking 101\nlang: en\ntags: [defi]\n---\n# Ignored\nintro\n\n## Setup\nwallet\n### Install\nrun it\n## Risks\nslashing\n")

	assert.Equal(t, "Staking 101", doc.Title)
	assert.Equal(t, "en", doc.Meta["lang"])
	assert.True(t, strings.HasPrefix(doc.Body, "# Ignored"))

	require.Len(t, doc.Sections, 4)
	assert.Equal(t, "# Ignored", doc.Sections[0].Path)
	assert.Equal(t, "intro", doc.Sections[0].Text)
	assert.Equal(t, "# Ignored > ## Setup > ### Install", doc.Sections[2].Path)
	assert.Equal(t, "# Ignored > ## Risks", doc.Sections[3].Path)
	assert.Equal(t, 2, doc.Sections[3].Level)

	assert.Equal(t, map[string]any{"title": "Staking 101", "lang": "en"}, scalarMeta(doc.Meta))
}

func TestParse_TitleFallbacks(t *testing.T) {
	assert.Equal(t, "Gas", Parse("# Gas\nfees").Title)
	assert.Equal(t, "", Parse("no headings").Title)
	assert.Equal(t, "n", Parse("---\nname: n\n---\n# h1").Title)

	bad := Parse("---\n: [\n---\n# Body")
	assert.Empty(t, bad.Meta, "invalid frontmatter is ignored")
	assert.Equal(t, "# Body", bad.Body)
}

func TestSplit_Small(t *testing.T) {
	assert.Empty(t, Split(Parse(""), DefaultChunkConfig()))
	assert.Empty(t, Split(Parse("  \n\n\t "), DefaultChunkConfig()))

	chunks := Split(Parse("# Title\n\nshort body"), DefaultChunkConfig())
	require.Len(t, chunks, 1)
	assert.Equal(t, "# Title\n\nshort body", chunks[0].Text)
}

func TestSplit_Sections(t *testing.T) {
	cfg := ChunkConfig{Threshold: 50, Target: 40, Min: 20, Max: 80}
	body := "## A\n" + strings.Repeat("alpha ", 10) + "\n## B\ntiny\n## C\n" + strings.Repeat("gamma ", 10) + "\n## Empty\n"

	chunks := Split(Parse(body), cfg)
	require.Len(t, chunks, 2)
	assert.Equal(t, "## A", chunks[0].Heading)
	assert.True(t, strings.HasSuffix(chunks[0].Text, "tiny"), "small section merges into the previous one")
	assert.Equal(t, "## C", chunks[1].Heading)
	assert.Equal(t, 1, chunks[1].Position)
}

func TestSplit_LongParagraphBySentence(t *testing.T) {
	cfg := ChunkConfig{Threshold: 10, Target: 30, Min: 5, Max: 40}
	text := "First sentence is here. Second one follows! Third asks why? U.S. rules stay."

	chunks := Split(Parse(text), cfg)
	require.Len(t, chunks, 4)
	assert.Equal(t, "First sentence is here.", chunks[0].Text)
	for i, c := range chunks {
		assert.Equal(t, i, c.Position)
		assert.Empty(t, c.Heading)
	}
	assert.Equal(t, "U.S. rules stay.", chunks[len(chunks)-1].Text, "abbreviation does not end a sentence")
}

func TestOverlap(t *testing.T) {
	chunks := []Chunk{{Text: "one two three four"}, {Text: "five"}}
	out := overlap(chunks, 10)
	assert.Equal(t, "one two three four", out[0].Text)
	assert.Equal(t, "four five", out[1].Text)
	assert.Equal(t, "five", chunks[1].Text, "input is not modified")

	assert.Equal(t, chunks, overlap(chunks, 0))
	noSpace := []Chunk{{Text: "abcdefghijklmnop"}, {Text: "x"}}
	assert.Equal(t, "x", overlap(noSpace, 5)[1].Text)
}

type fakeEmbedder struct {
	err error
}

func (f fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if strings.Contains(t, "staking") {
			out[i] = []float32{1, 0}
		} else {
			out[i] = []float32{0, 1}
		}
	}
	return out, nil
}

func TestIngest(t *testing.T) {
	store := storagetest.New()
	in := NewIngester(store, fakeEmbedder{}, nil)
	in.config = ChunkConfig{Threshold: 10, Target: 100, Min: 1, Max: 100}

	res, err := in.Ingest(context.Background(), "notes/staking.md", "---\nlang: en\n---\n## Staking\nstaking pays rewards\n## Gas\ngas costs money\n")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Chunks)
	assert.Equal(t, "notes/staking.md", res.Document.Title, "source is the fallback title")
	assert.Equal(t, models.DeterministicID("document", "notes/staking.md"), res.Document.ID)
	assert.Equal(t, 1, store.Saves(), "document and chunks saved together")

	rows, err := store.VectorSearch(context.Background(), storage.VectorQuery{
		Table:      models.TableDocumentChunk,
		TextColumn: "text",
		Vector:     []float32{1, 0},
		K:          1,
		Filter:     map[string]any{"lang": "en", "heading": "## Staking"},
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "staking pays rewards", rows[0].Text)

	again, err := in.Ingest(context.Background(), "notes/staking.md", "## Staking\nstaking pays rewards\n")
	require.NoError(t, err)
	assert.Equal(t, res.Document.ID, again.Document.ID)
}

func TestIngest_Errors(t *testing.T) {
	store := storagetest.New()

	_, err := NewIngester(store, fakeEmbedder{}, nil).Ingest(context.Background(), "empty.md", "")
	assert.Error(t, err)

	_, err = NewIngester(store, fakeEmbedder{err: errors.New("model down")}, nil).Ingest(context.Background(), "a.md", "text")
	assert.ErrorContains(t, err, "model down")

	store.SaveErr = errors.New("disk full")
	_, err = NewIngester(store, fakeEmbedder{}, nil).Ingest(context.Background(), "a.md", "text")
	assert.ErrorContains(t, err, "disk full")
	assert.Equal(t, 0, store.Saves())
}

func TestIngestArticle_TagsChunks(t *testing.T) {
	store := storagetest.New()
	in := NewIngester(store, fakeEmbedder{}, nil)

	res, err := in.IngestArticle(context.Background(), "https://blog.example/staking", "Staking explained",
		"staking locks tokens to secure the network", map[string]any{"tweetId": "1790"})
	require.NoError(t, err)
	assert.Equal(t, "Staking explained", res.Document.Title)
	assert.Equal(t, "1790", res.Document.Metadata["tweetId"])

	rows, err := store.VectorSearch(context.Background(), storage.VectorQuery{
		Table:      models.TableDocumentChunk,
		TextColumn: "text",
		Vector:     []float32{1, 0},
		K:          5,
		Filter:     map[string]any{"tweetId": "1790"},
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "staking locks tokens to secure the network", rows[0].Text)

	other, err := store.VectorSearch(context.Background(), storage.VectorQuery{
		Table:      models.TableDocumentChunk,
		TextColumn: "text",
		Vector:     []float32{1, 0},
		K:          5,
		Filter:     map[string]any{"tweetId": "other"},
	})
	require.NoError(t, err)
	assert.Empty(t, other)
}

const articlePage = `<!doctype html><html><head><title>Why restaking matters</title></head><body>
<nav><a href="/">Home</a> <a href="/about">About</a></nav>
<article>
<h1>Why restaking matters</h1>
<p>Restaking lets validators reuse staked collateral to secure additional services. It raises yield for
operators who accept the extra slashing conditions that come with each new service they opt into.</p>
<p>Critics point out that correlated slashing could cascade across services when one of them misbehaves,
so operators should size their exposure carefully and watch the conditions each service imposes.</p>
<p>Either way the design space is young, and builders keep finding new uses for pooled security on chain.</p>
</article>
<footer>Copyright</footer>
</body></html>`

func TestWebFetcher_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/short":
			http.Redirect(w, r, "/posts/restaking", http.StatusMovedPermanently)
		case "/posts/restaking":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write([]byte(articlePage))
		case "/empty":
			_, _ = w.Write([]byte(`<html><body></body></html>`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	f := NewWebFetcher(srv.Client(), nil)

	art, err := f.Fetch(context.Background(), srv.URL+"/short")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/posts/restaking", art.URL)
	assert.Equal(t, "Why restaking matters", art.Title)
	assert.Contains(t, art.Text, "reuse staked collateral")
	assert.NotContains(t, art.Text, "Copyright")

	_, err = f.Fetch(context.Background(), srv.URL+"/missing")
	assert.ErrorContains(t, err, "404")

	_, err = f.Fetch(context.Background(), srv.URL+"/empty")
	assert.Error(t, err)
}

func TestLinkedURLs(t *testing.T) {
	text := "read https://blog.example/a and https://x.com/alice/status/1, then https://blog.example/a again. " +
		"bare example.com is ignored"
	assert.Equal(t, []string{"https://blog.example/a", "https://x.com/alice/status/1"}, LinkedURLs(text))
	assert.Empty(t, LinkedURLs("nothing here"))
}
