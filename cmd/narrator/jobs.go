package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"narrator/internal/app"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect configured cron jobs",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs with their upcoming fire times",
	RunE:  runJobsList,
}

var nextFlag int

func init() {
	jobsCmd.AddCommand(jobsListCmd)
	jobsListCmd.Flags().IntVarP(&nextFlag, "next", "n", 3, "number of upcoming runs to show")
	jobsListCmd.Flags().BoolVar(&jsonFlag, "json", false, "print as JSON")
}

func runJobsList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	previews, err := app.PreviewJobs(cfg, nextFlag)
	if err != nil {
		return err
	}
	if jsonFlag {
		return printJSON(cmd.OutOrStdout(), previews)
	}
	if !cfg.Scheduler.Enabled {
		fmt.Fprintln(cmd.OutOrStdout(), "scheduler disabled; jobs run only on demand")
	}
	printJobs(cmd.OutOrStdout(), previews)
	return nil
}

func printJobs(w io.Writer, jobs []app.JobPreview) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSCHEDULE\tACTION\tENABLED\tTZ\tNEXT")
	for _, j := range jobs {
		next := make([]string, 0, len(j.Next))
		for _, t := range j.Next {
			next = append(next, t.Format(time.RFC3339))
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\t%s\n", j.Name, j.Spec, j.Action, j.Enabled, j.Timezone, strings.Join(next, ", "))
	}
	_ = tw.Flush()
}
