package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/intel-pipeline/internal/model"
	"github.com/sells-group/intel-pipeline/internal/store"
)

var (
	jobsStatus string
	jobsEntity string
	jobsLimit  int
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List report jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		jobs, err := st.ListJobs(ctx, store.JobFilter{
			Status:   model.JobStatus(jobsStatus),
			EntityID: jobsEntity,
			Limit:    jobsLimit,
		})
		if err != nil {
			return eris.Wrap(err, "list jobs")
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tPROGRESS\tSTEP\tSUBJECT\tCREATED")
		for _, j := range jobs {
			fmt.Fprintf(w, "%s\t%s\t%d%%\t%s\t%s\t%s\n",
				j.ID, j.Status, j.Progress, j.CurrentStep,
				j.Identity.Label(), j.CreatedAt.Format("2006-01-02 15:04"),
			)
		}
		return w.Flush()
	},
}

var jobsShowCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Show one job's full status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		job, err := st.GetJob(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "get job")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(job.View())
	},
}

func init() {
	jobsCmd.Flags().StringVar(&jobsStatus, "status", "", "filter by status (queued, processing, completed, failed)")
	jobsCmd.Flags().StringVar(&jobsEntity, "entity", "", "filter by entity ID")
	jobsCmd.Flags().IntVar(&jobsLimit, "limit", 50, "maximum jobs to list")
	jobsCmd.AddCommand(jobsShowCmd)
	rootCmd.AddCommand(jobsCmd)
}
