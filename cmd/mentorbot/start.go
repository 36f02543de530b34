package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/KITA-DS12/hackathon-mentor-bot/internal/bot"
	"github.com/KITA-DS12/hackathon-mentor-bot/internal/chat/slack"
	"github.com/KITA-DS12/hackathon-mentor-bot/internal/db"
	"github.com/KITA-DS12/hackathon-mentor-bot/internal/logging"
	"github.com/KITA-DS12/hackathon-mentor-bot/internal/retry"
)

func newStartCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Run the mentor bot",
		Long:  "Connects to Slack over Socket Mode, re-arms pending follow-ups and reservations, and serves health and metrics over HTTP until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to mentorbot config file")
	return cmd
}

func runStart(cmd *cobra.Command, configPath string) error {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	defer db.Close(gormDB)

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}

	policy := retry.NotifierPolicy(cfg.RetryTimeout())
	policy.Attempts = cfg.Retry.NotifyAttempts
	adapter, err := slack.New(slack.AdapterOpts{
		AppToken: cfg.Slack.AppToken,
		BotToken: cfg.Slack.BotToken,
		Retry:    policy,
		Logger:   logger.Named("slack"),
	})
	if err != nil {
		return err
	}

	d, err := bot.NewDaemon(bot.DaemonOpts{
		Config:   cfg,
		DB:       gormDB,
		Listener: adapter,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(cmd.OutOrStdout(), "mentorbot %s starting (mentor channel %s, http :%d)\n", Version, cfg.Slack.MentorChannel, cfg.HTTP.Port)
	if err := d.Run(ctx); err != nil {
		logger.Error("mentor bot stopped", zap.Error(err))
		return err
	}
	if ctx.Err() != nil && cmd.Context().Err() == nil {
		logger.Info("interrupted")
	}
	return nil
}
