package dossier

import (
	"fmt"

	"github.com/sells-group/intel-pipeline/internal/model"
)

// BuildQueries generates the fixed battery of identity-anchored search
// queries. Order is deterministic: the six core angles first, then the
// optional location- and profile-anchored queries.
func BuildQueries(id model.Identity) []string {
	anchor := fmt.Sprintf("%q", id.Name)
	if id.Affiliation != "" {
		anchor = fmt.Sprintf("%q %q", id.Name, id.Affiliation)
	}

	queries := []string{
		anchor,
		fmt.Sprintf("%s career background biography", anchor),
		fmt.Sprintf("%s track record investments deals portfolio", anchor),
		fmt.Sprintf("%s board member advisor network relationships", anchor),
		fmt.Sprintf("%s interview podcast conference press", anchor),
		fmt.Sprintf("%s lawsuit SEC investigation regulatory", anchor),
	}

	if id.Location != "" {
		queries = append(queries, fmt.Sprintf("%s %q", anchor, id.Location))
	}
	if id.ProfileURL != "" {
		queries = append(queries, fmt.Sprintf("%s %s", anchor, id.ProfileURL))
	}

	return queries
}
