package cli

import (
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/lenslab/promptlens/internal/service"
)

func newAnalyzeCmd() *cobra.Command {
	var instruction string

	cmd := &cobra.Command{
		Use:   "analyze <image-file>",
		Short: "Analyze an image and print the generated prompt",
		Long: `Runs the full pipeline on a single image file: validation, compression,
optional hosting, and model analysis. The generated prompt is written to
stdout and, when auto-save is on, recorded in the history.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read image: %w", err)
			}

			_, err = a.coordinator.ProcessImageFile(cmd.Context(), args[0], http.DetectContentType(data), data)
			if err != nil {
				return err
			}

			rec, err := a.coordinator.Analyze(cmd.Context(), service.AnalyzeOptions{
				CustomInstruction: instruction,
			})
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), rec.Prompt)
			return nil
		},
	}

	cmd.Flags().StringVarP(&instruction, "instruction", "i", "", "custom analysis instruction (replaces the language template)")

	return cmd
}
