// Package migrate implements the migrate command.
package migrate

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kinga-app/kinga/internal/conf"
	"github.com/kinga-app/kinga/internal/datastore"
)

// Command creates the migrate command, which brings the schema up to date and exits.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			db, err := datastore.Open(ctx, &settings.Database, nil)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.Migrate(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Schema up to date (%s %s)\n", db.Driver(), db.Location())
			return nil
		},
	}
}
