package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newExportCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the prompt history as a JSON array",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			text, err := a.records.Export(cmd.Context())
			if err != nil {
				return fmt.Errorf("export records: %w", err)
			}

			if output == "" {
				fmt.Fprintln(cmd.OutOrStdout(), text)
				return nil
			}
			if err := os.WriteFile(output, []byte(text+"\n"), 0o644); err != nil {
				return fmt.Errorf("write export: %w", err)
			}
			a.logger.Info("history exported", "file", output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "write to a file instead of stdout")

	return cmd
}

func newImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Import a previously exported prompt history",
		Long: `Replaces the stored history with the merge of the imported collection and
the current one. Imported entries win on ID collisions.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read import file: %w", err)
			}

			ok, err := a.records.Import(cmd.Context(), string(data))
			if err != nil {
				return fmt.Errorf("import records: %w", err)
			}
			if !ok {
				return fmt.Errorf("%s is not a valid record collection", args[0])
			}

			merged, err := a.records.List(cmd.Context())
			if err != nil {
				return fmt.Errorf("list records: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported, history now holds %d records\n", len(merged))
			return nil
		},
	}
}
