package agents

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/intel-pipeline/internal/config"
	"github.com/sells-group/intel-pipeline/internal/cost"
	"github.com/sells-group/intel-pipeline/internal/model"
	"github.com/sells-group/intel-pipeline/pkg/anthropic"
)

// maxWebSearches bounds the autonomous search loop per research call.
const maxWebSearches = 15

// AnthropicAgent hands the research task to Claude with the server-side web
// search tool enabled, letting the model drive its own search strategy.
type AnthropicAgent struct {
	client  anthropic.Client
	aiCfg   config.AnthropicConfig
	costs   *cost.Calculator
	timeout time.Duration
}

// NewAnthropicAgent creates the Claude-backed agent.
func NewAnthropicAgent(client anthropic.Client, aiCfg config.AnthropicConfig, costs *cost.Calculator, timeout time.Duration) *AnthropicAgent {
	return &AnthropicAgent{client: client, aiCfg: aiCfg, costs: costs, timeout: timeout}
}

func (a *AnthropicAgent) Name() string { return "anthropic" }

func (a *AnthropicAgent) Research(ctx context.Context, id model.Identity) (*model.AgentResult, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	start := time.Now()

	resp, err := a.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:           a.aiCfg.SonnetModel,
		MaxTokens:       a.aiCfg.ResearchTokens,
		System:          "You are a due-diligence researcher. " + identityGuardrail,
		Messages:        []anthropic.Message{{Role: "user", Content: buildResearchPrompt(id)}},
		EnableWebSearch: true,
		MaxSearchUses:   maxWebSearches,
	})
	if err != nil {
		return nil, eris.Wrap(err, "anthropic agent: research")
	}

	narrative := resp.Text()
	if narrative == "" {
		return nil, eris.New("anthropic agent: empty response")
	}

	resp.Usage.LogCost(a.aiCfg.SonnetModel, "web_research")
	usage := model.TokenUsage{
		InputTokens:  int(resp.Usage.InputTokens),
		OutputTokens: int(resp.Usage.OutputTokens),
	}
	elapsed := time.Since(start)

	citations := resp.CitationURLs()

	zap.L().Info("agent complete",
		zap.String("agent", a.Name()),
		zap.Duration("elapsed", elapsed),
		zap.Int("citations", len(citations)),
		zap.Int("tokens", usage.Total()),
	)

	return &model.AgentResult{
		Agent:     a.Name(),
		Narrative: narrative,
		Citations: dedupeURLs(citations),
		Elapsed:   elapsed,
		Usage:     usage,
		Cost:      a.costs.Claude(a.aiCfg.SonnetModel, usage.InputTokens, usage.OutputTokens),
	}, nil
}
