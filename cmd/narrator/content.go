package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"narrator/internal/app"
	"narrator/internal/config"
	"narrator/internal/content"
)

var contentCmd = &cobra.Command{
	Use:   "content",
	Short: "Manage content items",
}

var contentImportCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Insert or update items from a YAML file",
	Long: `Insert or update items from a YAML file of the form:

  items:
    - id: 1
      title: ...
      teaching: ...

Existing items keep their audio metadata; the next generation run picks up
any text that changed.`,
	Args: cobra.ExactArgs(1),
	RunE: runContentImport,
}

func init() {
	contentCmd.AddCommand(contentImportCmd)
}

func runContentImport(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	items, err := content.DecodeYAML(f)
	if err != nil {
		return fmt.Errorf("%s: %w", args[0], err)
	}
	return withComponents(cmd.Context(), func(_ *config.Config, c *app.Components) error {
		for _, it := range items {
			if err := c.DB.UpsertItem(cmd.Context(), it); err != nil {
				return fmt.Errorf("item %d: %w", it.ID, err)
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "imported %d items\n", len(items))
		return nil
	})
}
