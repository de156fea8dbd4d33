package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"narrator/internal/app"
	"narrator/internal/config"
	"narrator/internal/storage"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show recent job runs and batch results",
	RunE:  runAudit,
}

var auditLimitFlag int

func init() {
	auditCmd.Flags().IntVar(&auditLimitFlag, "limit", 20, "number of entries to show")
	auditCmd.Flags().BoolVar(&jsonFlag, "json", false, "print as JSON")
}

func runAudit(cmd *cobra.Command, args []string) error {
	return withComponents(cmd.Context(), func(_ *config.Config, c *app.Components) error {
		entries, err := c.DB.RecentAudit(cmd.Context(), auditLimitFlag)
		if err != nil {
			return err
		}
		if jsonFlag {
			return printJSON(cmd.OutOrStdout(), entries)
		}
		printAudit(cmd.OutOrStdout(), entries, time.Now())
		return nil
	})
}

func printAudit(w io.Writer, entries []storage.AuditEntry, now time.Time) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "WHEN\tKIND\tTARGET\tOK\tFAIL\tTOOK\tERROR")
	for _, e := range entries {
		took := (time.Duration(e.TookMS) * time.Millisecond).String()
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			humanize.RelTime(e.At, now, "ago", "from now"), e.Kind, e.Target, e.OK, e.Fail, took, e.Error)
	}
	_ = tw.Flush()
}
