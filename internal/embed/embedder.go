// Package embed recomputes the derived similarity vectors for an entity after
// each new report: one vector for the canonical identity, one per report
// subsection, and one per bibliography citation.
package embed

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/intel-pipeline/internal/cost"
	"github.com/sells-group/intel-pipeline/internal/model"
	"github.com/sells-group/intel-pipeline/internal/store"
	"github.com/sells-group/intel-pipeline/pkg/jina"
)

// maxEmbedChars bounds one embedding input; longer subsection content is cut.
const maxEmbedChars = 6000

// Embedder turns an entity and its latest report into embedding records.
type Embedder struct {
	jina      jina.Client
	modelName string
	store     store.Store
	costs     *cost.Calculator
}

// New creates an Embedder.
func New(client jina.Client, modelName string, st store.Store, costs *cost.Calculator) *Embedder {
	return &Embedder{jina: client, modelName: modelName, store: st, costs: costs}
}

// Refresh recomputes and replaces all vectors for the entity from the given
// report. The whole set is swapped atomically so stale vectors from an older
// report never linger.
func (e *Embedder) Refresh(ctx context.Context, entity *model.Entity, report *model.Report) error {
	texts, records := buildInputs(entity, report)
	if len(texts) == 0 {
		return nil
	}

	resp, err := e.jina.Embed(ctx, texts, e.modelName)
	if err != nil {
		return eris.Wrap(err, "embed: compute vectors")
	}
	if len(resp.Data) != len(texts) {
		return eris.Errorf("embed: got %d vectors for %d inputs", len(resp.Data), len(texts))
	}

	for i := range records {
		records[i].Vector = resp.Data[i].Embedding
	}
	if err := e.store.ReplaceEmbeddings(ctx, entity.ID, records); err != nil {
		return eris.Wrap(err, "embed: persist vectors")
	}

	zap.L().Info("embeddings refreshed",
		zap.String("entity_id", entity.ID),
		zap.Int("vectors", len(records)),
		zap.Int("tokens", resp.Usage.TotalTokens),
		zap.Float64("cost", e.costs.Jina(resp.Usage.TotalTokens)),
	)
	return nil
}

// buildInputs assembles the embedding inputs and their record skeletons in
// matching order.
func buildInputs(entity *model.Entity, report *model.Report) ([]string, []model.EmbeddingRecord) {
	var texts []string
	var records []model.EmbeddingRecord

	add := func(kind model.EmbeddingKind, key, text string) {
		text = strings.TrimSpace(text)
		if text == "" {
			return
		}
		if len(text) > maxEmbedChars {
			text = text[:maxEmbedChars]
		}
		texts = append(texts, text)
		records = append(records, model.EmbeddingRecord{
			EntityID: entity.ID,
			ReportID: report.ID,
			Kind:     kind,
			Key:      key,
			Text:     text,
		})
	}

	add(model.EmbedEntity, "", canonicalText(entity))

	for _, sec := range report.Sections {
		for i, sub := range sec.Subsections {
			add(model.EmbedSubsection, fmt.Sprintf("%s/%d", sec.Key, i), sub.Title+"\n"+sub.Content)
		}
	}

	for _, cit := range report.Bibliography.Citations {
		text := cit.Title
		if text == "" {
			text = cit.URL
		}
		add(model.EmbedCitation, cit.URL, text)
	}

	return texts, records
}

// canonicalText flattens canonical facts into one stable embedding input.
func canonicalText(entity *model.Entity) string {
	keys := make([]string, 0, len(entity.Canonical))
	for k := range entity.Canonical {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		if s, ok := entity.Canonical[k].(string); ok && s != "" {
			parts = append(parts, fmt.Sprintf("%s: %s", k, s))
		}
	}
	return strings.Join(parts, "\n")
}
