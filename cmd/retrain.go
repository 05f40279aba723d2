package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var retrainCmd = &cobra.Command{
	Use:   "retrain",
	Short: "Rebuild the classifier and report on the stored gallery",
	Long: `Rebuild the classifier from every stored template. The model is not
persisted; this checks that the gallery trains cleanly and reports templates
that could not be decoded.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		h, err := a.classifier.Retrain(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Classifier version %d: %d templates, %d skipped, ready=%t\n", h.Version, h.Samples, h.Skipped, h.Ready())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(retrainCmd)
}
