package reconcile

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/intel-pipeline/internal/config"
	"github.com/sells-group/intel-pipeline/internal/cost"
	"github.com/sells-group/intel-pipeline/internal/model"
	"github.com/sells-group/intel-pipeline/internal/resilience"
	"github.com/sells-group/intel-pipeline/pkg/anthropic"
)

// Engine merges the settled agent outcomes for one job into a single
// schema-valid report via a synthesis model, with bounded retry on malformed
// output.
type Engine struct {
	ai    anthropic.Client
	aiCfg config.AnthropicConfig
	cfg   config.ReconcileConfig
	costs *cost.Calculator
}

// NewEngine creates a reconciliation engine.
func NewEngine(ai anthropic.Client, aiCfg config.AnthropicConfig, cfg config.ReconcileConfig, costs *cost.Calculator) *Engine {
	return &Engine{ai: ai, aiCfg: aiCfg, cfg: cfg, costs: costs}
}

// Reconcile produces one report from whatever agents succeeded. At least one
// successful outcome is required. The returned report carries a fresh id and
// stamped metadata; entity linkage and version are assigned at persist time.
func (e *Engine) Reconcile(ctx context.Context, id model.Identity, outcomes []model.AgentOutcome) (*model.Report, error) {
	var succeeded []model.AgentOutcome
	for _, o := range outcomes {
		if o.Succeeded() {
			succeeded = append(succeeded, o)
		}
	}
	if len(succeeded) == 0 {
		return nil, eris.New("reconcile: no successful agent results")
	}

	union := citationUnion(succeeded)
	prompt := buildPrompt(id, succeeded, union)
	start := time.Now()

	var synthUsage model.TokenUsage

	doc, err := resilience.DoVal(ctx, resilience.RetryConfig{
		MaxAttempts:    e.cfg.MaxAttempts,
		InitialBackoff: e.cfg.InitialBackoff,
		// Malformed output is worth a fresh sample, so every failure retries.
		ShouldRetry: func(error) bool { return true },
		OnRetry:     resilience.RetryLogger("anthropic", "reconcile"),
	}, func(ctx context.Context) (map[string]any, error) {
		resp, err := e.ai.CreateMessage(ctx, anthropic.MessageRequest{
			Model:     e.aiCfg.OpusModel,
			MaxTokens: e.aiCfg.SynthesisTokens,
			System:    reconcileSystem,
			Messages:  []anthropic.Message{{Role: "user", Content: prompt}},
		})
		if err != nil {
			return nil, eris.Wrap(err, "reconcile: synthesis call")
		}
		resp.Usage.LogCost(e.aiCfg.OpusModel, "reconcile")
		synthUsage.Add(model.TokenUsage{
			InputTokens:  int(resp.Usage.InputTokens),
			OutputTokens: int(resp.Usage.OutputTokens),
		})

		parsed, err := parseObject(resp.Text())
		if err != nil {
			return nil, err
		}
		parsed = normalize(parsed)
		if err := validateDocument(parsed); err != nil {
			return nil, err
		}
		return parsed, nil
	})
	if err != nil {
		return nil, eris.Wrap(err, "reconcile: synthesis exhausted")
	}

	report, err := toReport(doc)
	if err != nil {
		return nil, err
	}

	report.ID = uuid.New().String()
	report.GeneratedAt = time.Now().UTC()
	report.Metadata.Model = compositeModel(succeeded, e.aiCfg.OpusModel)
	report.Metadata.GenerationTimeMS = time.Since(start).Milliseconds()
	report.Metadata.SourcesAnalyzed = len(union)

	tokens := synthUsage
	totalCost := e.costs.Claude(e.aiCfg.OpusModel, synthUsage.InputTokens, synthUsage.OutputTokens)
	for _, o := range succeeded {
		tokens.Add(o.Result.Usage)
		totalCost += o.Result.Cost
	}
	report.Metadata.TotalTokens = tokens.Total()
	report.Metadata.TotalCost = totalCost

	zap.L().Info("reconciliation complete",
		zap.Int("agents", len(succeeded)),
		zap.Int("sources", len(union)),
		zap.Int("sections", len(report.Sections)),
		zap.Int("tokens", report.Metadata.TotalTokens),
		zap.Duration("elapsed", time.Since(start)),
	)

	return report, nil
}

// toReport decodes the validated document into the typed report shape. The
// model-authored scores land in metadata.
func toReport(doc map[string]any) (*model.Report, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, eris.Wrap(err, "reconcile: re-encode document")
	}

	var body struct {
		Subject           model.Subject      `json:"subject"`
		Abstract          model.Abstract     `json:"abstract"`
		Sections          []model.Section    `json:"sections"`
		Bibliography      model.Bibliography `json:"bibliography"`
		QualityScore      int                `json:"quality_score"`
		CompletenessScore int                `json:"completeness_score"`
		SectionConfidence map[string]int     `json:"section_confidence"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, eris.Wrap(err, "reconcile: decode document")
	}

	return &model.Report{
		Subject:      body.Subject,
		Abstract:     body.Abstract,
		Sections:     body.Sections,
		Bibliography: body.Bibliography,
		Metadata: model.ReportMeta{
			QualityScore:      body.QualityScore,
			CompletenessScore: body.CompletenessScore,
			SectionConfidence: body.SectionConfidence,
		},
	}, nil
}

// compositeModel labels which agents and which synthesis model produced the
// report, e.g. "dossier+perplexity+anthropic/claude-opus-4-6".
func compositeModel(succeeded []model.AgentOutcome, synthModel string) string {
	names := make([]string, 0, len(succeeded))
	for _, o := range succeeded {
		names = append(names, o.Agent)
	}
	return strings.Join(names, "+") + "/" + synthModel
}
