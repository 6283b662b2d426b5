// Package cli provides the command-line interface for hairscan.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/raphaelgruber/hairscan/internal/auth"
	"github.com/raphaelgruber/hairscan/internal/config"
	"github.com/raphaelgruber/hairscan/internal/db"
	"github.com/raphaelgruber/hairscan/internal/metrics"
	"github.com/raphaelgruber/hairscan/internal/service"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose bool

	// Global config, logger and db client
	cfg        config.Config
	logger     *slog.Logger
	logCleanup func() error
	dbClient   *db.Client
	collector  *metrics.Collector

	// Services built on top of the db client
	authProvider *auth.Provider
	analyses     *service.AnalysisService
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "hairscan",
	Short: "Guided scalp capture for hair transplant assessment",
	Long: `Hairscan guides you through five scalp photos taken from prescribed
angles, checks every photo with the analysis service and stores the accepted
images in your analysis record.

Sign in first, then start a capture:
  hairscan login --email you@example.com
  hairscan capture --frames ./frames`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip DB connection for version, help and static commands
		switch cmd.Name() {
		case "version", "help", "steps":
			cfg = config.Load()
			return nil
		}

		cfg = config.Load()

		level := cfg.LogLevel
		if verbose {
			level = slog.LevelDebug
		}
		logger, logCleanup = config.SetupLogger(cfg.LogFile, level, !verbose)
		slog.SetDefault(logger)

		ctx := context.Background()
		dbCfg := db.Config{
			URL:       cfg.SurrealDBURL,
			Namespace: cfg.SurrealDBNamespace,
			Database:  cfg.SurrealDBDatabase,
			Username:  cfg.SurrealDBUser,
			Password:  cfg.SurrealDBPass,
			AuthLevel: cfg.SurrealDBAuthLevel,
		}

		var err error
		dbClient, err = db.NewClient(ctx, dbCfg, logger)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}

		if err := dbClient.InitSchema(ctx); err != nil {
			return fmt.Errorf("initialize schema: %w", err)
		}

		collector = metrics.NewCollector()
		dbClient.SetMetrics(collector)

		authProvider = auth.NewProvider(dbClient,
			auth.WithSessionFile(auth.NewSessionFile(cfg.SessionFile)),
			auth.WithLogger(logger),
		)
		if err := authProvider.Restore(ctx); err != nil {
			return fmt.Errorf("restore session: %w", err)
		}

		analyses = service.NewAnalysisService(dbClient, authProvider, logger)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if dbClient != nil {
			if err := dbClient.Close(context.Background()); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close database: %v\n", err)
			}
		}
		if logCleanup != nil {
			_ = logCleanup()
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	// Add subcommands
	rootCmd.AddCommand(signupCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(whoamiCmd)
	rootCmd.AddCommand(profileCmd)
	rootCmd.AddCommand(captureCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(stepsCmd)
}

// currentUser returns the signed-in identity or a hint to sign in.
func currentUser() (*auth.Identity, error) {
	id, err := authProvider.CurrentUser()
	if err != nil {
		return nil, fmt.Errorf("%w (run 'hairscan login' first)", err)
	}
	return id, nil
}
