// Package backup implements the backup command.
package backup

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kinga-app/kinga/internal/backup"
	"github.com/kinga-app/kinga/internal/backup/targets"
	"github.com/kinga-app/kinga/internal/buildinfo"
	"github.com/kinga-app/kinga/internal/conf"
	"github.com/kinga-app/kinga/internal/datastore"
	"github.com/kinga-app/kinga/internal/observability/metrics"
)

// NewManager builds a backup manager for db from the backup settings.
func NewManager(settings *conf.Settings, db *datastore.Manager, version string, recorder metrics.Recorder) (*backup.Manager, error) {
	ts, err := targets.FromSettings(&settings.Backup)
	if err != nil {
		return nil, err
	}
	cfg := backup.Config{
		Version:    version,
		MaxBackups: settings.Backup.MaxBackups,
	}
	if settings.Backup.IncludeUploads {
		cfg.UploadDir = settings.Uploads.Dir
	}
	return backup.NewManager(cfg, backup.NewDatabaseSource(db.DB(), db.Driver()), ts, backup.WithRecorder(recorder))
}

// Command creates the backup command. Targets are taken from the backup
// settings whether or not scheduled backups are enabled.
func Command(settings *conf.Settings, info *buildinfo.Context) *cobra.Command {
	var list bool

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Archive the database and uploads to the configured targets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			db, err := datastore.Open(ctx, &settings.Database, nil)
			if err != nil {
				return err
			}
			defer db.Close()

			m, err := NewManager(settings, db, info.GetVersion(), nil)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if list {
				infos, err := m.List(ctx)
				w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tTARGET\tCREATED\tSIZE")
				for _, i := range infos {
					fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", i.ID, i.Target, i.CreatedAt.Format(time.DateTime), i.Size)
				}
				if ferr := w.Flush(); ferr != nil {
					return ferr
				}
				return err
			}

			meta, err := m.Run(ctx)
			if meta != nil {
				status := color.New(color.FgGreen).Sprint("created")
				if err != nil {
					status = color.New(color.FgYellow).Sprint("created with errors")
				}
				fmt.Fprintf(out, "Backup %s %s: %d bytes, %d uploads, sha256 %s\n",
					meta.ID, status, meta.Size, meta.Uploads, meta.Checksum)
			}
			return err
		},
	}

	cmd.Flags().BoolVarP(&list, "list", "l", false, "List existing backups instead of creating one")
	return cmd
}
