// Package predict implements the one-shot predict command.
package predict

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kinga-app/kinga/internal/classifier"
	"github.com/kinga-app/kinga/internal/conf"
	"github.com/kinga-app/kinga/internal/errors"
)

const defaultTopK = 5

// Command creates the predict command, which classifies one image without
// touching the database.
func Command(settings *conf.Settings) *cobra.Command {
	var topK int

	cmd := &cobra.Command{
		Use:   "predict [image]",
		Short: "Classify an image and print the most likely pests",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return errors.New(err).
					Component("predict").
					Category(errors.CategoryFileIO).
					Context("path", args[0]).
					Build()
			}

			c, err := classifier.Load(&settings.Classifier, nil)
			if err != nil {
				return err
			}
			defer c.Close()

			results, err := c.TopK(cmd.Context(), data, topK)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "RANK\tLABEL\tCONFIDENCE")
			for i, r := range results {
				fmt.Fprintf(w, "%d\t%s\t%.2f%%\n", i+1, r.Label, r.Confidence)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVarP(&topK, "top", "k", defaultTopK, "Number of classes to print")
	return cmd
}
