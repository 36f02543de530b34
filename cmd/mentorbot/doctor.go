package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/KITA-DS12/hackathon-mentor-bot/internal/cache"
	"github.com/KITA-DS12/hackathon-mentor-bot/internal/config"
	"github.com/KITA-DS12/hackathon-mentor-bot/internal/db"
)

func newDoctorCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration and dependencies",
		Long:  "Runs diagnostic checks on the bot's config, Slack tokens, database, schema and roster cache.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to mentorbot config file")
	return cmd
}

type checkResult struct {
	name   string
	status string // "PASS", "FAIL", "WARN"
	detail string
}

func runDoctor(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Mentorbot Doctor")
	fmt.Fprintln(out, "================")

	var results []checkResult

	cfg, cfgResult := checkConfig(configPath)
	results = append(results, cfgResult)

	if cfg != nil {
		results = append(results, checkTokens(cfg.Slack)...)
		results = append(results, checkDatabase(cfg.Database)...)
		results = append(results, checkRedis(cmd.Context(), cfg.Redis))
	} else {
		for _, name := range []string{"Slack tokens", "Database", "Schema", "Roster cache"} {
			results = append(results, checkResult{name, "FAIL", "skipped (no config)"})
		}
	}

	passed, failed, warned := 0, 0, 0
	for _, r := range results {
		printCheckResult(out, r)
		switch r.status {
		case "PASS":
			passed++
		case "FAIL":
			failed++
		case "WARN":
			warned++
		}
	}

	fmt.Fprintf(out, "\n%d passed, %d failed, %d warning\n", passed, failed, warned)

	if failed > 0 {
		return fmt.Errorf("%d check(s) failed", failed)
	}
	return nil
}

func printCheckResult(out io.Writer, r checkResult) {
	fmt.Fprintf(out, "[%s] %s: %s\n", r.status, r.name, r.detail)
}

func checkConfig(path string) (*config.Config, checkResult) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, checkResult{"Config file", "FAIL", fmt.Sprintf("%s: %v", path, err)}
	}
	return cfg, checkResult{"Config file", "PASS", path}
}

// checkTokens only looks at token prefixes; Slack itself is not contacted.
func checkTokens(s config.SlackConfig) []checkResult {
	var results []checkResult
	if strings.HasPrefix(s.BotToken, "xoxb-") {
		results = append(results, checkResult{"Bot token", "PASS", "xoxb-…"})
	} else {
		results = append(results, checkResult{"Bot token", "WARN", "does not look like a bot token (xoxb-)"})
	}
	if strings.HasPrefix(s.AppToken, "xapp-") {
		results = append(results, checkResult{"App token", "PASS", "xapp-…"})
	} else {
		results = append(results, checkResult{"App token", "WARN", "does not look like an app-level token (xapp-); Socket Mode needs one"})
	}
	results = append(results, checkResult{"Mentor channel", "PASS", s.MentorChannel})
	return results
}

func checkDatabase(cfg config.DatabaseConfig) []checkResult {
	gormDB, err := db.Connect(cfg.Driver, cfg.DSN)
	if err != nil {
		return []checkResult{
			{"Database", "FAIL", err.Error()},
			{"Schema", "FAIL", "skipped (no database)"},
		}
	}
	defer db.Close(gormDB)
	if err := db.Ping(gormDB); err != nil {
		return []checkResult{
			{"Database", "FAIL", err.Error()},
			{"Schema", "FAIL", "skipped (no database)"},
		}
	}
	results := []checkResult{{"Database", "PASS", cfg.Driver}}

	var missing []string
	for _, m := range db.AllModels() {
		if !gormDB.Migrator().HasTable(m) {
			missing = append(missing, fmt.Sprintf("%T", m))
		}
	}
	if len(missing) > 0 {
		results = append(results, checkResult{"Schema", "FAIL", fmt.Sprintf("missing %s (run: mentorbot db migrate)", strings.Join(missing, ", "))})
	} else {
		results = append(results, checkResult{"Schema", "PASS", fmt.Sprintf("%d tables", len(db.AllModels()))})
	}
	return results
}

func checkRedis(ctx context.Context, cfg config.RedisConfig) checkResult {
	if cfg.Addr == "" {
		return checkResult{"Roster cache", "WARN", "redis not configured; the roster is read from the database on every lookup"}
	}
	client, err := cache.NewRedis(ctx, cfg)
	if err != nil {
		return checkResult{"Roster cache", "WARN", fmt.Sprintf("%v; the bot will run without it", err)}
	}
	client.Close()
	return checkResult{"Roster cache", "PASS", cfg.Addr}
}
