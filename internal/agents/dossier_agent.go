package agents

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/intel-pipeline/internal/config"
	"github.com/sells-group/intel-pipeline/internal/cost"
	"github.com/sells-group/intel-pipeline/internal/dossier"
	"github.com/sells-group/intel-pipeline/internal/model"
	"github.com/sells-group/intel-pipeline/pkg/anthropic"
)

// DossierAgent compiles a search dossier and runs one synthesis pass over it.
// Its citations are the dossier's source URLs, so every claim traces back to
// a retrieved document.
type DossierAgent struct {
	compiler *dossier.Compiler
	ai       anthropic.Client
	aiCfg    config.AnthropicConfig
	costs    *cost.Calculator
	timeout  time.Duration
}

// NewDossierAgent creates the dossier-backed agent.
func NewDossierAgent(compiler *dossier.Compiler, ai anthropic.Client, aiCfg config.AnthropicConfig, costs *cost.Calculator, timeout time.Duration) *DossierAgent {
	return &DossierAgent{compiler: compiler, ai: ai, aiCfg: aiCfg, costs: costs, timeout: timeout}
}

func (a *DossierAgent) Name() string { return "dossier" }

func (a *DossierAgent) Research(ctx context.Context, id model.Identity) (*model.AgentResult, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	start := time.Now()

	d, err := a.compiler.Compile(ctx, id)
	if err != nil {
		return nil, eris.Wrap(err, "dossier agent: compile")
	}
	if len(d.Sources) == 0 {
		return nil, eris.New("dossier agent: no sources retrieved")
	}

	prompt := buildResearchPrompt(id) +
		"\nBase your findings ONLY on the dossier below. Cite sources by their URL.\n\n" +
		dossier.Render(d)

	resp, err := a.ai.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     a.aiCfg.SonnetModel,
		MaxTokens: a.aiCfg.ResearchTokens,
		System:    "You are a due-diligence researcher. Report only what the provided sources support.",
		Messages:  []anthropic.Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return nil, eris.Wrap(err, "dossier agent: synthesis")
	}

	narrative := resp.Text()
	if narrative == "" {
		return nil, eris.New("dossier agent: empty synthesis")
	}

	citations := make([]string, 0, len(d.Sources))
	for _, src := range d.Sources {
		citations = append(citations, src.URL)
	}

	resp.Usage.LogCost(a.aiCfg.SonnetModel, "dossier_analysis")
	usage := model.TokenUsage{
		InputTokens:  int(resp.Usage.InputTokens),
		OutputTokens: int(resp.Usage.OutputTokens),
	}
	elapsed := time.Since(start)

	zap.L().Info("agent complete",
		zap.String("agent", a.Name()),
		zap.Duration("elapsed", elapsed),
		zap.Int("sources", len(d.Sources)),
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
