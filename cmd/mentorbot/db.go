package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/KITA-DS12/hackathon-mentor-bot/internal/config"
	"github.com/KITA-DS12/hackathon-mentor-bot/internal/db"
	"github.com/KITA-DS12/hackathon-mentor-bot/internal/retry"
	"github.com/KITA-DS12/hackathon-mentor-bot/internal/store"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
	}

	cmd.AddCommand(newDBMigrateCmd())
	return cmd
}

func newDBMigrateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the bot's tables",
		Long:  "Connects to the configured database and migrates the question, assignment, history and mentor tables.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBMigrate(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to mentorbot config file")
	return cmd
}

func runDBMigrate(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	defer db.Close(gormDB)
	fmt.Fprintf(out, "Connected to %s database\n", cfg.Database.Driver)

	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}
	fmt.Fprintf(out, "Migrated %d tables\n", len(db.AllModels()))
	return nil
}

func connectFromConfig(configPath string) (*config.Config, *gorm.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	gormDB, err := db.Connect(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to %s: %w", cfg.Database.Driver, err)
	}

	return cfg, gormDB, nil
}

// openStore connects and wraps the database in a store for read commands.
func openStore(configPath string) (*store.Store, func(), error) {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	closeDB := func() { db.Close(gormDB) }
	policy := retry.RepositoryPolicy(cfg.RetryTimeout())
	policy.Attempts = cfg.Retry.RepoAttempts
	s, err := store.New(store.Opts{DB: gormDB, Retry: policy})
	if err != nil {
		closeDB()
		return nil, nil, err
	}
	return s, closeDB, nil
}
