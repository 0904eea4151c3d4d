package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/raphaelgruber/socialagent/internal/models"
	"github.com/raphaelgruber/socialagent/internal/storage"
)

// Embedder embeds many texts in one call. *llm.Embedder implements it.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Ingester stores Markdown documents as knowledge.
type Ingester struct {
	store    storage.Store
	embedder Embedder
	config   ChunkConfig
	logger   *slog.Logger
}

// NewIngester creates an Ingester with the default chunk sizes.
func NewIngester(store storage.Store, embedder Embedder, logger *slog.Logger) *Ingester {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingester{store: store, embedder: embedder, config: DefaultChunkConfig(), logger: logger}
}

// Result reports one ingested document.
type Result struct {
	Document *models.DocumentCore
	Chunks   int
}

// Ingest parses content, embeds its chunks and saves the document with all
// chunks in one transaction. Ids derive from source, so ingesting the same
// source again overwrites it.
func (in *Ingester) Ingest(ctx context.Context, source, content string) (*Result, error) {
	return in.save(ctx, source, Parse(content))
}

// IngestArticle stores plain text under title with meta copied onto the
// document and every chunk.
func (in *Ingester) IngestArticle(ctx context.Context, source, title, text string, meta map[string]any) (*Result, error) {
	doc := &Document{Meta: meta, Title: title, Body: text}
	if doc.Meta == nil {
		doc.Meta = map[string]any{}
	}
	return in.save(ctx, source, doc)
}

func (in *Ingester) save(ctx context.Context, source string, doc *Document) (*Result, error) {
	chunks := Split(doc, in.config)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("ingest %s: document is empty", source)
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := in.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("ingest %s: %w", source, err)
	}
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("ingest %s: got %d embeddings for %d chunks", source, len(vectors), len(chunks))
	}

	meta := scalarMeta(doc.Meta)
	core := &models.DocumentCore{
		ID:       models.DeterministicID("document", source),
		Title:    doc.Title,
		Source:   source,
		Metadata: meta,
	}
	if core.Title == "" {
		core.Title = source
	}

	entities := make([]models.Entity, 0, len(chunks)+1)
	entities = append(entities, core)
	for i, c := range chunks {
		chunkMeta := make(map[string]any, len(meta)+1)
		for k, v := range meta {
			chunkMeta[k] = v
		}
		if c.Heading != "" {
			chunkMeta["heading"] = c.Heading
		}
		entities = append(entities, &models.DocumentChunk{
			ID:         models.DeterministicID(core.ID, strconv.Itoa(c.Position)),
			DocumentID: core.ID,
			Position:   c.Position,
			Text:       c.Text,
			Metadata:   chunkMeta,
			Embedding:  vectors[i],
		})
	}

	if err := in.store.SaveEntities(ctx, entities...); err != nil {
		return nil, fmt.Errorf("ingest %s: %w", source, err)
	}
	in.logger.Info("document ingested", "source", source, "title", core.Title, "chunks", len(chunks))
	return &Result{Document: core, Chunks: len(chunks)}, nil
}
