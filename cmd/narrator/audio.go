package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"narrator/internal/app"
	"narrator/internal/audio"
	"narrator/internal/config"
	"narrator/internal/httpapi"
)

var audioCmd = &cobra.Command{
	Use:   "audio",
	Short: "Inspect and generate narration audio",
	Long: `Inspect and generate narration audio without a running server.

Examples:
  narrator audio status --json
  narrator audio generate --force --concurrency 4
  narrator audio regenerate-outdated
  narrator audio purge --confirm DELETE_ALL_AUDIO`,
}

var audioStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show per-item audio state",
	RunE:  runAudioStatus,
}

var audioGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate audio for one item or for every item",
	RunE:  runAudioGenerate,
}

var audioRegenerateCmd = &cobra.Command{
	Use:   "regenerate-outdated",
	Short: "Regenerate items whose text changed since their audio was made",
	RunE:  runAudioRegenerate,
}

var audioPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete every stored audio artifact and its metadata",
	RunE:  runAudioPurge,
}

var (
	jsonFlag        bool
	forceFlag       bool
	itemIDFlag      int64
	concurrencyFlag int
	confirmFlag     string
)

func init() {
	audioCmd.AddCommand(audioStatusCmd, audioGenerateCmd, audioRegenerateCmd, audioPurgeCmd)

	audioStatusCmd.Flags().BoolVar(&jsonFlag, "json", false, "print the report as JSON")

	audioGenerateCmd.Flags().BoolVar(&forceFlag, "force", false, "regenerate even when audio is current")
	audioGenerateCmd.Flags().Int64Var(&itemIDFlag, "id", 0, "generate only this item")
	audioGenerateCmd.Flags().IntVar(&concurrencyFlag, "concurrency", 0, "parallel generations (0 uses the configured value)")

	audioPurgeCmd.Flags().StringVar(&confirmFlag, "confirm", "", "must be "+httpapi.PurgeConfirmation)
}

func runAudioStatus(cmd *cobra.Command, args []string) error {
	return withComponents(cmd.Context(), func(_ *config.Config, c *app.Components) error {
		rep, err := c.Pipeline.Status(cmd.Context())
		if err != nil {
			return err
		}
		if jsonFlag {
			return printJSON(cmd.OutOrStdout(), rep)
		}
		printStatus(cmd.OutOrStdout(), rep, time.Now())
		return nil
	})
}

func runAudioGenerate(cmd *cobra.Command, args []string) error {
	if concurrencyFlag < 0 {
		return fmt.Errorf("--concurrency must be >= 0")
	}
	return withComponents(cmd.Context(), func(_ *config.Config, c *app.Components) error {
		out := cmd.OutOrStdout()
		if itemIDFlag != 0 {
			res, err := c.Pipeline.GenerateForItem(cmd.Context(), itemIDFlag, audio.GenerateOptions{Force: forceFlag})
			if err != nil {
				return err
			}
			printResults(out, []audio.Result{res})
			return nil
		}
		rep, err := c.Pipeline.GenerateAll(cmd.Context(), audio.BatchOptions{Force: forceFlag, Concurrency: concurrencyFlag})
		if err != nil {
			return err
		}
		printResults(out, rep.Results)
		fmt.Fprintf(out, "\n%d items: %d generated, %d skipped, %d failed, %d ignored in %s\n",
			rep.Total, rep.Succeeded, rep.Skipped, rep.Failed, rep.Ignored, rep.Took().Round(time.Millisecond))
		if rep.Failed > 0 {
			return fmt.Errorf("%d items failed", rep.Failed)
		}
		return nil
	})
}

func runAudioRegenerate(cmd *cobra.Command, args []string) error {
	return withComponents(cmd.Context(), func(_ *config.Config, c *app.Components) error {
		results, err := c.Pipeline.RegenerateOutdated(cmd.Context())
		if err != nil {
			return err
		}
		if len(results) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "nothing outdated")
			return nil
		}
		printResults(cmd.OutOrStdout(), results)
		for _, r := range results {
			if !r.OK() {
				return fmt.Errorf("some items failed")
			}
		}
		return nil
	})
}

func runAudioPurge(cmd *cobra.Command, args []string) error {
	if confirmFlag != httpapi.PurgeConfirmation {
		return fmt.Errorf("refusing to purge: pass --confirm %s", httpapi.PurgeConfirmation)
	}
	return withComponents(cmd.Context(), func(_ *config.Config, c *app.Components) error {
		rep, err := c.Pipeline.DeleteAll(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "deleted %d artifacts\n", rep.Deleted)
		for _, e := range rep.Errors {
			fmt.Fprintf(out, "  item %d: %s\n", e.ContentID, e.Error)
		}
		if len(rep.Errors) > 0 {
			return fmt.Errorf("%d items could not be purged", len(rep.Errors))
		}
		return nil
	})
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printStatus(w io.Writer, rep audio.StatusReport, now time.Time) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATE\tSIZE\tGENERATED\tTITLE")
	for _, it := range rep.Items {
		size, when := "-", "-"
		if it.SizeBytes > 0 {
			size = humanize.IBytes(uint64(it.SizeBytes))
		}
		if it.GeneratedAt != nil {
			when = humanize.RelTime(*it.GeneratedAt, now, "ago", "from now")
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", it.ContentID, it.State, size, when, it.Title)
	}
	_ = tw.Flush()
	fmt.Fprintf(w, "\n%d items: %d generated, %d outdated, %d pending, %d ignored\n",
		rep.Total, rep.Generated, rep.Outdated, rep.Pending, rep.Ignored)
}

func printResults(w io.Writer, results []audio.Result) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tRESULT\tVOICE\tURL")
	for _, r := range results {
		outcome, voice, url := "generated", "", ""
		switch {
		case !r.OK():
			outcome = "failed: " + r.ErrorString()
		case r.Skipped:
			outcome = "current"
		}
		if r.Metadata != nil {
			voice, url = r.Metadata.Voice, r.Metadata.PublicURL
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", r.ContentID, outcome, voice, url)
	}
	_ = tw.Flush()
}
