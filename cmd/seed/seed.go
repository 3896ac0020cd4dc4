// Package seed implements the seed command.
package seed

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kinga-app/kinga/internal/conf"
	"github.com/kinga-app/kinga/internal/datastore"
	"github.com/kinga-app/kinga/internal/datastore/repository"
	"github.com/kinga-app/kinga/internal/prediction"
)

// Command creates the seed command, which upserts knowledge records from a YAML file.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "seed [pests.yaml]",
		Short: "Load pest knowledge records from a YAML file",
		Long: `Load pest knowledge records from a YAML file. Records are matched by name:
existing ones are updated, new ones are created. The schema is migrated first.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pests, err := prediction.LoadSeedFile(args[0])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			db, err := datastore.Open(ctx, &settings.Database, nil)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := db.Migrate(ctx); err != nil {
				return err
			}

			res, err := prediction.Seed(ctx, repository.NewKnowledgeRepository(db.DB()), pests, nil)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d pests: %d created, %d updated\n",
				len(pests), res.Created, res.Updated)
			return nil
		},
	}
}
