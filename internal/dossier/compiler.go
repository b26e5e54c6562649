// Package dossier compiles a bounded, deduplicated set of search-derived
// source documents for a research subject.
package dossier

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/intel-pipeline/internal/config"
	"github.com/sells-group/intel-pipeline/internal/model"
	"github.com/sells-group/intel-pipeline/pkg/firecrawl"
	"github.com/sells-group/intel-pipeline/pkg/jina"
)

// truncationMarker is appended to source content cut at the per-source cap.
const truncationMarker = "\n\n[content truncated]"

// fallbackCandidates caps how many candidate URLs the secondary search path
// fetches full content for.
const fallbackCandidates = 3

// Compiler executes the query battery and assembles the dossier.
type Compiler struct {
	jina      jina.Client
	firecrawl firecrawl.Client
	cfg       config.DossierConfig
}

// New creates a Compiler.
func New(jinaClient jina.Client, fcClient firecrawl.Client, cfg config.DossierConfig) *Compiler {
	return &Compiler{jina: jinaClient, firecrawl: fcClient, cfg: cfg}
}

// Compile runs the full query battery, deduplicates and bounds the retrieved
// sources. Individual query failures degrade to zero sources for that query;
// Compile itself fails only on context cancellation.
func (c *Compiler) Compile(ctx context.Context, id model.Identity) (*model.Dossier, error) {
	queries := BuildQueries(id)
	log := zap.L().With(zap.String("subject", id.Label()))
	log.Info("dossier: compiling", zap.Int("queries", len(queries)))

	// The limiter admits one batch of queries per delay interval, which keeps
	// the external search backends under their rate limits.
	limiter := rate.NewLimiter(rate.Every(c.cfg.BatchDelay), c.cfg.BatchSize)

	results := make([][]model.DossierSource, len(queries))
	var mu sync.Mutex

	for start := 0; start < len(queries); start += c.cfg.BatchSize {
		end := start + c.cfg.BatchSize
		if end > len(queries) {
			end = len(queries)
		}

		g, gCtx := errgroup.WithContext(ctx)
		for i := start; i < end; i++ {
			idx := i
			query := queries[i]
			g.Go(func() error {
				if err := limiter.Wait(gCtx); err != nil {
					return err
				}
				sources := c.runQuery(gCtx, query)
				mu.Lock()
				results[idx] = sources
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	d := &model.Dossier{Queries: queries}
	seen := map[string]bool{}
	for _, batch := range results {
		for _, src := range batch {
			key := normalizeURL(src.URL)
			if key == "" || seen[key] {
				continue
			}
			if len(src.Content) < c.cfg.MinSourceChars {
				continue
			}
			seen[key] = true
			d.Sources = append(d.Sources, src)
		}
	}

	// A direct profile URL not already among the sources gets fetched as a
	// dedicated source.
	if id.ProfileURL != "" && !seen[normalizeURL(id.ProfileURL)] {
		if src := c.fetchProfile(ctx, id.ProfileURL); src != nil {
			seen[normalizeURL(src.URL)] = true
			d.Sources = append(d.Sources, *src)
		}
	}

	c.bound(d)

	log.Info("dossier: compiled",
		zap.Int("sources", len(d.Sources)),
		zap.Int("total_chars", d.TotalChars),
		zap.Int("truncated_sources", d.TruncatedSources),
	)
	return d, nil
}

// runQuery executes one search query: primary Jina search first, then the
// fallback path (candidate URLs via Firecrawl search, content via scrape).
// Failures yield zero sources, never an error.
func (c *Compiler) runQuery(ctx context.Context, query string) []model.DossierSource {
	qCtx, cancel := context.WithTimeout(ctx, c.cfg.SearchTimeout)
	defer cancel()

	resp, err := c.jina.Search(qCtx, query)
	if err == nil {
		var sources []model.DossierSource
		for _, r := range resp.Data {
			if r.Content == "" {
				continue
			}
			sources = append(sources, model.DossierSource{
				Title:   r.Title,
				URL:     r.URL,
				Content: r.Content,
			})
		}
		if len(sources) > 0 {
			return sources
		}
	} else {
		zap.L().Debug("dossier: primary search failed, trying fallback",
			zap.String("query", query),
			zap.Error(err),
		)
	}

	return c.fallbackQuery(ctx, query)
}

// fallbackQuery obtains candidate URLs from Firecrawl search and fetches full
// content for each.
func (c *Compiler) fallbackQuery(ctx context.Context, query string) []model.DossierSource {
	qCtx, cancel := context.WithTimeout(ctx, c.cfg.SearchTimeout)
	defer cancel()

	resp, err := c.firecrawl.Search(qCtx, firecrawl.SearchRequest{
		Query: query,
		Limit: fallbackCandidates,
	})
	if err != nil {
		zap.L().Debug("dossier: fallback search failed",
			zap.String("query", query),
			zap.Error(err),
		)
		return nil
	}

	var sources []model.DossierSource
	for _, hit := range resp.Data.Web {
		if len(sources) >= fallbackCandidates {
			break
		}
		scrape, err := c.firecrawl.Scrape(qCtx, firecrawl.ScrapeRequest{URL: hit.URL})
		if err != nil || scrape.Data.Markdown == "" {
			continue
		}
		title := scrape.Data.Metadata.Title
		if title == "" {
			title = hit.Title
		}
		sources = append(sources, model.DossierSource{
			Title:   title,
			URL:     hit.URL,
			Content: scrape.Data.Markdown,
		})
	}
	return sources
}

// fetchProfile reads the subject's own profile URL as a dedicated source.
func (c *Compiler) fetchProfile(ctx context.Context, profileURL string) *model.DossierSource {
	qCtx, cancel := context.WithTimeout(ctx, c.cfg.SearchTimeout)
	defer cancel()

	resp, err := c.jina.Read(qCtx, profileURL)
	if err != nil {
		zap.L().Debug("dossier: profile fetch failed",
			zap.String("url", profileURL),
			zap.Error(err),
		)
		return nil
	}
	if len(resp.Data.Content) < c.cfg.MinSourceChars {
		return nil
	}
	title := resp.Data.Title
	if title == "" {
		title = "profile"
	}
	return &model.DossierSource{
		Title:   title,
		URL:     profileURL,
		Content: resp.Data.Content,
	}
}

// bound enforces the per-source and aggregate character caps. Sources beyond
// the aggregate cap are dropped and counted rather than included.
func (c *Compiler) bound(d *model.Dossier) {
	var kept []model.DossierSource
	total := 0
	for _, src := range d.Sources {
		if len(src.Content) > c.cfg.MaxSourceChars {
			src.Content = src.Content[:c.cfg.MaxSourceChars] + truncationMarker
			src.Truncated = true
		}
		if total+len(src.Content) > c.cfg.MaxTotalChars {
			d.TruncatedSources++
			continue
		}
		total += len(src.Content)
		kept = append(kept, src)
	}
	d.Sources = kept
	d.TotalChars = total
}

// Render formats the dossier as a markdown document for a synthesis prompt.
func Render(d *model.Dossier) string {
	var b strings.Builder
	b.WriteString("# Research Dossier\n\n")
	for i, src := range d.Sources {
		fmt.Fprintf(&b, "## Source %d: %s\n%s\n\n%s\n\n", i+1, src.Title, src.URL, src.Content)
	}
	if d.TruncatedSources > 0 {
		fmt.Fprintf(&b, "_%d additional sources truncated._\n", d.TruncatedSources)
	}
	return b.String()
}

// normalizeURL canonicalizes a URL for deduplication.
func normalizeURL(raw string) string {
	u := strings.TrimSpace(strings.ToLower(raw))
	u = strings.TrimPrefix(u, "https://")
	u = strings.TrimPrefix(u, "http://")
	u = strings.TrimPrefix(u, "www.")
	return strings.TrimRight(u, "/")
}
