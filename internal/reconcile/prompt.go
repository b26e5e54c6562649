package reconcile

import (
	"fmt"
	"strings"

	"github.com/sells-group/intel-pipeline/internal/model"
)

const reconcileSystem = `You are a reconciliation analyst. Several independent researchers have
investigated the same subject; your job is to merge their findings into one
authoritative, citation-backed intelligence report. Respond with a single
JSON document and nothing else.`

// citationUnion is the deduplicated union of every agent's citation URLs, in
// first-seen order.
func citationUnion(outcomes []model.AgentOutcome) []string {
	seen := map[string]bool{}
	var urls []string
	for _, o := range outcomes {
		if o.Result == nil {
			continue
		}
		for _, u := range o.Result.Citations {
			if u == "" || seen[u] {
				continue
			}
			seen[u] = true
			urls = append(urls, u)
		}
	}
	return urls
}

// buildPrompt renders the reconciliation task: each successful agent's
// narrative and citations side by side, the citation union, and the rules for
// confidence assignment and the fixed report structure.
func buildPrompt(id model.Identity, succeeded []model.AgentOutcome, union []string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Subject under investigation: %s\n", id.Label())
	if id.Title != "" {
		fmt.Fprintf(&b, "Title: %s\n", id.Title)
	}
	if id.Location != "" {
		fmt.Fprintf(&b, "Location: %s\n", id.Location)
	}
	fmt.Fprintf(&b, "\n%d independent research passes completed. Their raw findings follow.\n", len(succeeded))

	for i, o := range succeeded {
		res := o.Placeholder()
		fmt.Fprintf(&b, "\n=== RESEARCHER %d (%s) ===\n\n%s\n", i+1, res.Agent, strings.TrimSpace(res.Narrative))
		if len(res.Citations) > 0 {
			fmt.Fprintf(&b, "\nSources cited by researcher %d:\n", i+1)
			for _, u := range res.Citations {
				fmt.Fprintf(&b, "- %s\n", u)
			}
		}
	}

	b.WriteString("\n=== ALL SOURCES (deduplicated) ===\n")
	for _, u := range union {
		fmt.Fprintf(&b, "- %s\n", u)
	}

	b.WriteString(`
=== RECONCILIATION TASK ===

Cross-reference all researchers' findings and produce one merged report:

1. Assign a confidence tag to every subsection:
   - "confirmed": corroborated by two or more researchers, or by an
     authoritative source type (regulator, court record, official filing).
   - "likely": a single credible source, uncontradicted.
   - "uncertain": identity ambiguity or conflicting sources. Explain the
     conflict in the confidence_rationale.
2. Merge duplicate citations, keeping the most complete metadata for each URL.
3. Organize findings into exactly these sections, in order, using these keys:
   background, track_record, network, public_presence, risk,
   executive_summary.
4. Score relevance 0-100: 90+ top-tier direct relevance, 70-89 strong,
   50-69 tangential, 30-49 peripheral, below 30 none.
5. Assess identity_confidence: whether all merged findings refer to the same
   subject. Note any possible mix-ups in identity_notes.
6. Include quality_score, completeness_score, and a section_confidence map
   (section key to 0-100 score).

Respond with a single JSON document of this shape:

{
  "subject": {"name", "affiliation", "title", "location", "profile_url", "identity_confidence", "identity_notes"},
  "abstract": {"summary", "key_findings": [], "relevance_score"},
  "sections": [{"key", "title", "subsections": [{"title", "content", "confidence", "confidence_rationale", "structured_data": {}, "citations": [{"url", "title", "source_type"}]}]}],
  "bibliography": {"citations": [{"url", "title", "source_type"}], "counts_by_type": {}},
  "quality_score": 0, "completeness_score": 0, "section_confidence": {}
}

Omit fields you have no data for. Never invent facts or URLs.
`)

	return b.String()
}
