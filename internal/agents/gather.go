package agents

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/sells-group/intel-pipeline/internal/model"
)

// GatherAll runs every agent concurrently and waits for all of them to settle.
// A failed agent is recorded in its outcome rather than cancelling the rest,
// so one flaky backend does not sink the whole research pass.
func GatherAll(ctx context.Context, list []Agent, id model.Identity) []model.AgentOutcome {
	outcomes := make([]model.AgentOutcome, len(list))

	var wg sync.WaitGroup
	for i, ag := range list {
		wg.Add(1)
		go func(i int, ag Agent) {
			defer wg.Done()
			res, err := ag.Research(ctx, id)
			if err != nil {
				zap.L().Warn("agent failed",
					zap.String("agent", ag.Name()),
					zap.Error(err),
				)
				outcomes[i] = model.AgentOutcome{Agent: ag.Name(), Err: err.Error()}
				return
			}
			outcomes[i] = model.AgentOutcome{Agent: ag.Name(), Result: res}
		}(i, ag)
	}
	wg.Wait()

	return outcomes
}

// Succeeded filters outcomes down to the ones that produced a result.
func Succeeded(outcomes []model.AgentOutcome) []model.AgentOutcome {
	ok := make([]model.AgentOutcome, 0, len(outcomes))
	for _, o := range outcomes {
		if o.Succeeded() {
			ok = append(ok, o)
		}
	}
	return ok
}
