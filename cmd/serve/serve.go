// Package serve implements the serve command, which runs the HTTP API.
package serve

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kinga-app/kinga/cmd/backup"
	"github.com/kinga-app/kinga/internal/account"
	"github.com/kinga-app/kinga/internal/api"
	"github.com/kinga-app/kinga/internal/buildinfo"
	"github.com/kinga-app/kinga/internal/classifier"
	"github.com/kinga-app/kinga/internal/conf"
	"github.com/kinga-app/kinga/internal/datastore"
	"github.com/kinga-app/kinga/internal/datastore/repository"
	"github.com/kinga-app/kinga/internal/httpclient"
	"github.com/kinga-app/kinga/internal/logger"
	"github.com/kinga-app/kinga/internal/monitor"
	"github.com/kinga-app/kinga/internal/notification"
	"github.com/kinga-app/kinga/internal/observability"
	"github.com/kinga-app/kinga/internal/prediction"
	"github.com/kinga-app/kinga/internal/telemetry"
	"github.com/kinga-app/kinga/internal/uploads"
)

const (
	dbPingInterval      = time.Minute
	dispatcherDrainTime = 15 * time.Second
)

// Command creates the serve command.
func Command(settings *conf.Settings, info *buildinfo.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Kinga HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, settings, info)
		},
	}

	cmd.Flags().StringVar(&settings.WebServer.Listen, "listen", settings.WebServer.Listen, "Listen address, overrides webserver.listen")
	return cmd
}

func run(ctx context.Context, settings *conf.Settings, info *buildinfo.Context) error {
	log := logger.Global().Module("serve")
	log.Info("Starting Kinga",
		logger.String("version", info.GetVersion()),
		logger.String("build_date", info.GetBuildDate()))

	flushTelemetry, err := telemetry.InitSentry(&settings.Sentry, info.GetVersion())
	if err != nil {
		return err
	}
	defer flushTelemetry()

	m, err := observability.NewMetrics()
	if err != nil {
		return err
	}

	db, err := datastore.Open(ctx, &settings.Database, nil)
	if err != nil {
		return err
	}
	defer closeWithLog(log, "database", db.Close)
	if err := db.Migrate(ctx); err != nil {
		return err
	}

	model, err := classifier.Load(&settings.Classifier, m)
	if err != nil {
		return err
	}
	defer closeWithLog(log, "classifier", model.Close)

	store, err := uploads.New(settings.Uploads.Dir)
	if err != nil {
		return err
	}
	defer closeWithLog(log, "uploads", store.Close)

	client := httpclient.New(&httpclient.Config{DefaultTimeout: settings.Notification.Timeout})
	defer client.Close()

	provider, err := notification.NewProvider(&settings.Notification, client)
	if err != nil {
		return err
	}
	dispatcher := notification.NewDispatcherFromSettings(provider, &settings.Notification, settings.Account.OTPTTL, m.Service)
	defer func() {
		drainCtx, cancel := context.WithTimeout(context.Background(), dispatcherDrainTime)
		defer cancel()
		if err := dispatcher.Close(drainCtx); err != nil {
			log.Warn("Pending verification emails were not delivered", logger.Error(err))
		}
	}()

	accounts := account.NewService(
		repository.NewUserRepository(db.DB()),
		dispatcher,
		account.ConfigFromSettings(&settings.Account, &settings.Security),
		account.WithRecorder(m.Service),
	)
	predictions := prediction.NewService(
		model,
		repository.NewKnowledgeRepository(db.DB()),
		repository.NewHistoryRepository(db.DB()),
		&settings.Prediction,
		prediction.WithRecorder(m.Service),
	)

	server, err := api.New(api.ConfigFromSettings(settings),
		api.WithAccounts(accounts),
		api.WithPredictions(predictions),
		api.WithUploads(store),
		api.WithMetrics(m),
		api.WithBuildInfo(info),
	)
	if err != nil {
		return err
	}

	log.Info("Kinga ready",
		logger.String("database", db.Driver()),
		logger.String("notification_provider", dispatcher.ProviderName()),
		logger.Bool("metrics", settings.Metrics.Enabled))

	resources := monitor.New(&settings.Monitor, monitor.DiskPaths(settings, store.Dir()),
		monitor.WithGauges(m.System))

	g, gctx := errgroup.WithContext(ctx)
	if settings.Backup.Enabled {
		backups, err := backup.NewManager(settings, db, info.GetVersion(), m.Service)
		if err != nil {
			return err
		}
		g.Go(func() error {
			backups.Schedule(gctx, settings.Backup.Interval)
			return nil
		})
	}

	g.Go(func() error {
		return server.Run(gctx)
	})
	g.Go(func() error {
		monitorDatabase(gctx, db, log)
		return nil
	})
	g.Go(func() error {
		resources.Run(gctx)
		return nil
	})
	return g.Wait()
}

// monitorDatabase pings the database until ctx ends. Failures are logged only;
// requests surface their own errors.
func monitorDatabase(ctx context.Context, db *datastore.Manager, log logger.Logger) {
	ticker := time.NewTicker(dbPingInterval)
	defer ticker.Stop()

	healthy := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := db.Ping(ctx)
			switch {
			case err != nil && ctx.Err() != nil:
				return
			case err != nil:
				if healthy {
					log.Warn("Database ping failed", logger.String("driver", db.Driver()), logger.Error(err))
				}
				healthy = false
			case !healthy:
				log.Info("Database connection restored", logger.String("driver", db.Driver()))
				healthy = true
			}
		}
	}
}

func closeWithLog(log logger.Logger, name string, closeFn func() error) {
	if err := closeFn(); err != nil {
		log.Warn("Failed to close resource", logger.String("resource", name), logger.Error(err))
	}
}
