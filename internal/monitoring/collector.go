// Package monitoring watches queue health: job throughput and failure rate,
// report generation cost, and backlog depth, with webhook alerting when
// thresholds are breached.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/intel-pipeline/internal/model"
	"github.com/sells-group/intel-pipeline/internal/store"
)

// MetricsSnapshot holds a point-in-time view of pipeline health.
type MetricsSnapshot struct {
	// Job metrics within the lookback window.
	JobsTotal      int     `json:"jobs_total"`
	JobsCompleted  int     `json:"jobs_completed"`
	JobsFailed     int     `json:"jobs_failed"`
	JobsQueued     int     `json:"jobs_queued"`
	JobsProcessing int     `json:"jobs_processing"`
	JobFailRate    float64 `json:"job_fail_rate"`

	// Report generation accounting within the window.
	ReportsGenerated int     `json:"reports_generated"`
	ReportCostUSD    float64 `json:"report_cost_usd"`
	AvgReportTokens  int     `json:"avg_report_tokens"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Collector gathers metrics from the store.
type Collector struct {
	store store.Store
}

// NewCollector creates a metrics collector over the store.
func NewCollector(st store.Store) *Collector {
	return &Collector{store: st}
}

// Collect gathers a snapshot of pipeline metrics over the given lookback
// window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   time.Now().UTC(),
	}

	cutoff := time.Now().UTC().Add(-time.Duration(lookbackHours) * time.Hour)

	jobs, err := c.store.ListJobs(ctx, store.JobFilter{
		CreatedAfter: cutoff,
		Limit:        10000,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list jobs")
	}

	snap.JobsTotal = len(jobs)
	for _, j := range jobs {
		switch j.Status {
		case model.JobStatusCompleted:
			snap.JobsCompleted++
		case model.JobStatusFailed:
			snap.JobsFailed++
		case model.JobStatusQueued:
			snap.JobsQueued++
		case model.JobStatusProcessing:
			snap.JobsProcessing++
		}
	}
	if finished := snap.JobsCompleted + snap.JobsFailed; finished > 0 {
		snap.JobFailRate = float64(snap.JobsFailed) / float64(finished)
	}

	stats, err := c.store.ReportStatsSince(ctx, cutoff)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: report stats")
	}
	snap.ReportsGenerated = stats.Count
	snap.ReportCostUSD = stats.TotalCost
	if stats.Count > 0 {
		snap.AvgReportTokens = stats.TotalTokens / stats.Count
	}

	return snap, nil
}
