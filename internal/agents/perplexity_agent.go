package agents

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/intel-pipeline/internal/cost"
	"github.com/sells-group/intel-pipeline/internal/model"
	"github.com/sells-group/intel-pipeline/pkg/perplexity"
)

// PerplexityAgent delegates the whole research task to a Perplexity
// deep-research model, which runs its own multi-step search and returns a
// cited answer.
type PerplexityAgent struct {
	client  perplexity.Client
	model   string
	costs   *cost.Calculator
	timeout time.Duration
}

// NewPerplexityAgent creates the Perplexity-backed agent.
func NewPerplexityAgent(client perplexity.Client, researchModel string, costs *cost.Calculator, timeout time.Duration) *PerplexityAgent {
	return &PerplexityAgent{client: client, model: researchModel, costs: costs, timeout: timeout}
}

func (a *PerplexityAgent) Name() string { return "perplexity" }

func (a *PerplexityAgent) Research(ctx context.Context, id model.Identity) (*model.AgentResult, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	start := time.Now()

	resp, err := a.client.ChatCompletion(ctx, perplexity.ChatCompletionRequest{
		Model: a.model,
		Messages: []perplexity.Message{
			{Role: "system", Content: "You are a due-diligence researcher. " + identityGuardrail},
			{Role: "user", Content: buildResearchPrompt(id)},
		},
	})
	if err != nil {
		return nil, eris.Wrap(err, "perplexity agent: research")
	}

	narrative := resp.Text()
	if narrative == "" {
		return nil, eris.New("perplexity agent: empty response")
	}

	usage := model.TokenUsage{
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}
	elapsed := time.Since(start)

	zap.L().Info("agent complete",
		zap.String("agent", a.Name()),
		zap.Duration("elapsed", elapsed),
		zap.Int("citations", len(resp.Citations)),
		zap.Int("tokens", usage.Total()),
	)

	return &model.AgentResult{
		Agent:     a.Name(),
		Narrative: narrative,
		Citations: dedupeURLs(resp.Citations),
		Elapsed:   elapsed,
		Usage:     usage,
		Cost:      a.costs.PerplexityQuery(),
	}, nil
}
