// Package cmd assembles the kinga command line.
package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kinga-app/kinga/cmd/backup"
	"github.com/kinga-app/kinga/cmd/migrate"
	"github.com/kinga-app/kinga/cmd/predict"
	"github.com/kinga-app/kinga/cmd/seed"
	"github.com/kinga-app/kinga/cmd/serve"
	"github.com/kinga-app/kinga/internal/buildinfo"
	"github.com/kinga-app/kinga/internal/conf"
	"github.com/kinga-app/kinga/internal/errors"
	"github.com/kinga-app/kinga/internal/logger"
)

// RootCommand creates and returns the root command. Settings are loaded once
// before any subcommand runs and shared with all of them.
func RootCommand(info *buildinfo.Context) *cobra.Command {
	settings := &conf.Settings{}
	var (
		configFile string
		central    *logger.CentralLogger
	)

	rootCmd := &cobra.Command{
		Use:     "kinga",
		Short:   "Kinga pest identification service",
		Version: info.GetVersion(),
		// main prints the returned error
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file (default: search ./config.yaml, ~/.config/kinga, /etc/kinga)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug output")
	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// errors past this point are runtime failures, not usage mistakes
		cmd.SilenceUsage = true

		loaded, err := conf.Load(configFile)
		if err != nil {
			return err
		}
		*settings = *loaded

		central, err = logger.NewCentralLogger(&settings.Logging)
		if err != nil {
			return errors.New(err).
				Component("cmd").
				Category(errors.CategoryConfiguration).
				Context("operation", "init_logger").
				Build()
		}
		logger.SetGlobal(central)
		return nil
	}

	rootCmd.PersistentPostRunE = func(cmd *cobra.Command, args []string) error {
		if central == nil {
			return nil
		}
		return central.Close()
	}

	rootCmd.AddCommand(
		serve.Command(settings, info),
		predict.Command(settings),
		seed.Command(settings),
		migrate.Command(settings),
		backup.Command(settings, info),
	)
	return rootCmd
}
