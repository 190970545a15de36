package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"contractflow/internal/config"
	"contractflow/internal/logger"
	"contractflow/internal/service/users"
	"contractflow/internal/storage"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "contractflow",
	Short: "Contract upload and AI extraction backend",
	Long: `contractflow stores uploaded contracts, extracts their text and asks an
AI provider for the structured fields, streaming progress to the uploader.

Running without a subcommand starts the HTTP server.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		db, err := openDatabase(cfg)
		if err != nil {
			return err
		}
		defer db.Close()
		slog.Info("schema up to date", "db", dbType())
		return nil
	},
}

var createAdminCmd = &cobra.Command{
	Use:   "create-admin <email> <password>",
	Short: "Create an admin account, or promote an existing one",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		db, err := openDatabase(cfg)
		if err != nil {
			return err
		}
		defer db.Close()
		user, created, err := users.NewService(db).EnsureAdmin(cmd.Context(), args[0], args[1])
		if err != nil {
			return fmt.Errorf("create admin: %w", err)
		}
		if created {
			fmt.Fprintf(cmd.OutOrStdout(), "created admin %s (%s)\n", user.Email, user.UUID)
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "promoted %s to admin\n", user.Email)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default $CONTRACTFLOW_CONFIG or config.json)")
	rootCmd.AddCommand(serveCmd, migrateCmd, createAdminCmd)
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = os.Getenv("CONTRACTFLOW_CONFIG")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger.Init(cfg.Log)
	return cfg, nil
}

func dbType() string {
	if t := os.Getenv("CONTRACTFLOW_DB"); t != "" {
		return t
	}
	return "sqlite3"
}

// openDatabase connects and migrates.
func openDatabase(cfg *config.Config) (*storage.DB, error) {
	db, err := storage.Open(dbType(), cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := storage.Migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return db, nil
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
