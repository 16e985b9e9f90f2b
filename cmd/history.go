package cmd

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/mirage/internal/store"
	"github.com/spf13/cobra"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent swap jobs from the database",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireDB(); err != nil {
			return err
		}
		jobs, err := DB.ListJobs(cmd.Context(), historyLimit)
		if err != nil {
			return fmt.Errorf("failed to list jobs: %w", err)
		}
		printJobs(os.Stdout, jobs)
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "l", 20, "Number of jobs to show (0 for all)")
	rootCmd.AddCommand(historyCmd)
}

func printJobs(out io.Writer, jobs []store.Job) {
	if len(jobs) == 0 {
		fmt.Fprintln(out, "No jobs found in database.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tKIND\tSTATE\tFRAMES\tNO FACE\tSTARTED\tOUTPUT")
	fmt.Fprintln(w, "--\t----\t-----\t------\t-------\t-------\t------")

	for _, j := range jobs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%d\t%s\t%s\n",
			j.ID.String()[:8], j.Kind, j.State, j.ProcessedFrames, j.TotalFrames, j.FramesWithoutFace,
			j.StartedAt.Local().Format("2006-01-02 15:04"), j.OutputPath)
	}
	w.Flush()
}
