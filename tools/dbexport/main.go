// Package main provides a CLI tool for copying a Kinga SQLite database into
// MySQL, for deployments that start on SQLite and later move to a shared
// MySQL server.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kinga-app/kinga/internal/datastore"
)

// Version information (can be set via ldflags during build)
var version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "dbexport",
	Short: "Export Kinga data from SQLite to MySQL",
	Long: `A tool for moving a Kinga SQLite database to MySQL.

Users, pest knowledge and prediction history are copied in batches with their
original IDs, so history rows keep pointing at the right pest. Rows whose
primary key already exists in the target are skipped, which makes re-runs safe.`,
	RunE: runExport,
}

var cfg Config

func init() {
	// Source database flags
	rootCmd.Flags().StringVar(&cfg.SQLitePath, "sqlite-path", "", "Path to source SQLite database file")

	// Target database flags
	rootCmd.Flags().StringVar(&cfg.MySQL.Host, "mysql-host", "", "MySQL host")
	rootCmd.Flags().IntVar(&cfg.MySQL.Port, "mysql-port", 0, "MySQL port")
	rootCmd.Flags().StringVar(&cfg.MySQL.Username, "mysql-user", "", "MySQL username")
	rootCmd.Flags().StringVar(&cfg.MySQL.Password, "mysql-pass", "", "MySQL password")
	rootCmd.Flags().StringVar(&cfg.MySQL.Database, "mysql-database", "", "MySQL database name")

	// Migration options
	rootCmd.Flags().IntVar(&cfg.BatchSize, "batch-size", 1000, "Number of records per batch")
	rootCmd.Flags().BoolVar(&cfg.Clean, "clean", false, "Delete existing rows in target tables before copying")
	rootCmd.Flags().BoolVar(&cfg.AutoMigrate, "auto-migrate", true, "Create tables in target database before copying (use --auto-migrate=false to disable)")
	rootCmd.Flags().BoolVar(&cfg.SkipVerify, "skip-verify", false, "Skip post-copy verification")
	rootCmd.Flags().BoolVar(&cfg.Verbose, "verbose", false, "Enable verbose output")

	// Config file fallback
	rootCmd.Flags().StringVar(&cfg.ConfigPath, "config", "", "Path to Kinga config.yaml (for connection fallback)")

	rootCmd.Flags().BoolP("version", "v", false, "Print version information")
}

func runExport(cmd *cobra.Command, args []string) error {
	if v, _ := cmd.Flags().GetBool("version"); v {
		fmt.Printf("dbexport version %s\n", version)
		return nil
	}

	if err := cfg.Load(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	out := cmd.OutOrStdout()
	if cfg.Verbose {
		fmt.Fprintf(out, "Source: %s\n", cfg.SQLitePath)
		fmt.Fprintf(out, "Target: %s\n", cfg.SanitizedTarget())
		fmt.Fprintf(out, "Batch size: %d\n", cfg.BatchSize)
		fmt.Fprintf(out, "Clean mode: %v\n", cfg.Clean)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	source, err := datastore.Open(ctx, cfg.SourceSettings(), nil)
	if err != nil {
		return fmt.Errorf("failed to open SQLite database: %w", err)
	}
	defer source.Close()

	target, err := datastore.Open(ctx, cfg.TargetSettings(), nil)
	if err != nil {
		return fmt.Errorf("failed to open MySQL database: %w", err)
	}
	defer target.Close()

	fmt.Fprintln(out, "Database connections established successfully")

	migrator := NewMigrator(&cfg, source.DB(), target.DB(), out)
	stats, err := migrator.Run(ctx)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	stats.Print(out)

	if !cfg.SkipVerify {
		fmt.Fprintln(out, "\n--- Verification ---")
		if err := NewVerifier(source.DB(), target.DB(), out).Verify(ctx); err != nil {
			return fmt.Errorf("verification failed: %w", err)
		}
		fmt.Fprintln(out, "Verification passed!")
	}

	return nil
}
