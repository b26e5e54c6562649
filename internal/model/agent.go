package model

import "time"

// AgentResult is one research agent's raw output for a single job. It exists
// only for the duration of the job and is consumed by reconciliation.
type AgentResult struct {
	Agent     string        `json:"agent"`
	Narrative string        `json:"narrative"`
	Citations []string      `json:"citations,omitempty"`
	Elapsed   time.Duration `json:"elapsed"`
	Usage     TokenUsage    `json:"usage"`
	Cost      float64       `json:"cost"`
}

// AgentOutcome is the settled result of one agent invocation: exactly one of
// Result or Err is set. Downstream code checks Succeeded rather than testing
// fields for nil.
type AgentOutcome struct {
	Agent  string       `json:"agent"`
	Result *AgentResult `json:"result,omitempty"`
	Err    string       `json:"error,omitempty"`
}

// Succeeded reports whether the agent produced a usable result.
func (o AgentOutcome) Succeeded() bool {
	return o.Err == "" && o.Result != nil
}

// Placeholder returns a uniform empty result for a failed agent so downstream
// code operates on a consistent shape.
func (o AgentOutcome) Placeholder() AgentResult {
	if o.Result != nil {
		return *o.Result
	}
	return AgentResult{Agent: o.Agent}
}

// Dossier is the compiled, size-bounded set of search-derived sources fed to
// the dossier agent's synthesis pass.
type Dossier struct {
	Queries          []string        `json:"queries"`
	Sources          []DossierSource `json:"sources"`
	TotalChars       int             `json:"total_chars"`
	TruncatedSources int             `json:"truncated_sources"`
}

// DossierSource is one deduplicated retrieved document.
type DossierSource struct {
	Title     string `json:"title"`
	URL       string `json:"url"`
	Content   string `json:"content"`
	Truncated bool   `json:"truncated,omitempty"`
}
