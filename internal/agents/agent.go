// Package agents holds the three independent research implementations that
// feed the reconciliation engine.
package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/sells-group/intel-pipeline/internal/model"
)

// Agent is the contract all research implementations satisfy: given identity
// facts, produce narrative findings plus citation URLs. Implementations are
// free to use any strategy, but all must respect the context deadline.
type Agent interface {
	Name() string
	Research(ctx context.Context, id model.Identity) (*model.AgentResult, error)
}

// researchCategories is the fixed organization every agent's narrative
// follows.
var researchCategories = []string{
	"Professional background and career history",
	"Track record (investments, deals, ventures, outcomes)",
	"Network (board seats, advisory roles, co-investors, affiliations)",
	"Public presence (interviews, talks, publications, press)",
	"Risk signals (litigation, regulatory actions, controversies)",
}

// identityGuardrail is the identity-verification instruction shared by all
// agents: never attribute a finding without cross-referencing the anchors.
const identityGuardrail = `IDENTITY VERIFICATION: before attributing any finding to the subject,
cross-reference their affiliation, role, and location. People share names;
never assume a match on name alone. If an attribution is ambiguous, say so
explicitly and flag it rather than asserting it as fact.`

// buildResearchPrompt renders the shared research task for an identity.
func buildResearchPrompt(id model.Identity) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Research the following subject and report everything relevant you find.\n\n")
	fmt.Fprintf(&b, "Subject: %s\n", id.Name)
	if id.Affiliation != "" {
		fmt.Fprintf(&b, "Affiliation: %s\n", id.Affiliation)
	}
	if id.Title != "" {
		fmt.Fprintf(&b, "Title: %s\n", id.Title)
	}
	if id.Location != "" {
		fmt.Fprintf(&b, "Location: %s\n", id.Location)
	}
	if id.ProfileURL != "" {
		fmt.Fprintf(&b, "Profile: %s\n", id.ProfileURL)
	}

	b.WriteString("\nOrganize your findings into these categories, multiple paragraphs each:\n")
	for i, cat := range researchCategories {
		fmt.Fprintf(&b, "%d. %s\n", i+1, cat)
	}
	b.WriteString("\n" + identityGuardrail + "\n")
	b.WriteString("\nCite the URL of every source you rely on.\n")
	return b.String()
}

// dedupeURLs returns the URLs with duplicates and blanks removed, preserving
// first-seen order.
func dedupeURLs(urls []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	return out
}
