package model

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// EntityKind distinguishes the two subject types the pipeline researches.
type EntityKind string

const (
	KindPerson  EntityKind = "person"
	KindCompany EntityKind = "company"
)

// Identity is the set of facts that anchor a research subject. It is supplied
// by the extraction layer or reconstructed from a prior Entity record.
type Identity struct {
	Name        string `json:"name"`
	Affiliation string `json:"affiliation,omitempty"`
	Title       string `json:"title,omitempty"`
	Location    string `json:"location,omitempty"`
	ProfileURL  string `json:"profile_url,omitempty"`
}

// Label returns a short human-readable tag for logging.
func (i Identity) Label() string {
	parts := []string{i.Name}
	if i.Affiliation != "" {
		parts = append(parts, i.Affiliation)
	}
	return strings.Join(parts, " @ ")
}

// Identifier derives the stable entity key for this identity: the profile URL
// when present, otherwise name and affiliation. The key is Unicode-normalized
// and case-folded so the same subject scraped twice lands on one entity.
func (i Identity) Identifier() string {
	if i.ProfileURL != "" {
		return normalizeKey(strings.TrimSuffix(strings.TrimPrefix(strings.TrimPrefix(i.ProfileURL, "https://"), "http://"), "/"))
	}
	key := i.Name
	if i.Affiliation != "" {
		key += "|" + i.Affiliation
	}
	return normalizeKey(key)
}

func normalizeKey(s string) string {
	s = norm.NFKC.String(s)
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Join(strings.Fields(s), " ")
}

// Facts flattens the identity into the canonical fact map shape used by
// entity merges. Empty fields are omitted.
func (i Identity) Facts() map[string]any {
	facts := map[string]any{}
	put := func(key, v string) {
		if v != "" {
			facts[key] = v
		}
	}
	put("name", i.Name)
	put("affiliation", i.Affiliation)
	put("title", i.Title)
	put("location", i.Location)
	put("profile_url", i.ProfileURL)
	return facts
}

// MergeCanonical enriches the identity with canonical facts already known for
// the entity. Existing identity fields win; canonical data only fills gaps.
func (i Identity) MergeCanonical(canonical map[string]any) Identity {
	out := i
	fill := func(dst *string, key string) {
		if *dst != "" {
			return
		}
		if v, ok := canonical[key].(string); ok && v != "" {
			*dst = v
		}
	}
	fill(&out.Name, "name")
	fill(&out.Affiliation, "affiliation")
	fill(&out.Title, "title")
	fill(&out.Location, "location")
	fill(&out.ProfileURL, "profile_url")
	return out
}
