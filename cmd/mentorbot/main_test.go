package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

// writeConfig writes a minimal config backed by a SQLite file in a temp dir
// and returns the config path and the database DSN.
func writeConfig(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	dsn := filepath.Join(dir, "mentorbot.db")
	path := filepath.Join(dir, "mentorbot.yaml")
	data := fmt.Sprintf(`slack:
  bot_token: xoxb-test
  app_token: xapp-test
  mentor_channel: C0MENTOR
database:
  driver: sqlite
  dsn: %s
`, dsn)
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	return path, dsn
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestVersionCmd(t *testing.T) {
	out, err := run(t, "version")
	if err != nil {
		t.Fatalf("version command failed: %v", err)
	}
	if !strings.Contains(out, "mentorbot dev") {
		t.Errorf("expected output to contain 'mentorbot dev', got: %s", out)
	}
	if !strings.Contains(out, "commit: none") {
		t.Errorf("expected output to contain 'commit: none', got: %s", out)
	}
}

func TestVersionCmdWithCustomValues(t *testing.T) {
	origVersion, origCommit, origDate := Version, Commit, Date
	Version, Commit, Date = "1.0.0", "abc123", "2026-01-01"
	defer func() { Version, Commit, Date = origVersion, origCommit, origDate }()

	out, err := run(t, "version")
	if err != nil {
		t.Fatalf("version command failed: %v", err)
	}
	for _, want := range []string{"mentorbot 1.0.0", "commit: abc123", "built: 2026-01-01"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q, got: %s", want, out)
		}
	}
}

func TestRootCmdHelp(t *testing.T) {
	out, err := run(t, "--help")
	if err != nil {
		t.Fatalf("help command failed: %v", err)
	}
	if !strings.Contains(out, "mentors") {
		t.Errorf("expected help output to describe the bot, got: %s", out)
	}
	for _, sub := range []string{"version", "start", "db", "question", "mentor", "doctor"} {
		if !strings.Contains(out, sub) {
			t.Errorf("expected help output to list %q subcommand, got: %s", sub, out)
		}
	}
}

func TestSubcommandsHaveConfigFlag(t *testing.T) {
	root := newRootCmd()
	var walk func(c *cobra.Command)
	walk = func(c *cobra.Command) {
		if c.RunE != nil && c.Flags().Lookup("config") == nil {
			t.Errorf("%s has no --config flag", c.CommandPath())
		}
		for _, sub := range c.Commands() {
			walk(sub)
		}
	}
	walk(root)
}

func TestExecute(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{"version"})
	if code := execute(cmd); code != 0 {
		t.Errorf("execute(version) = %d, want 0", code)
	}

	cmd = newRootCmd()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{"db", "migrate", "--config", "/nonexistent/mentorbot.yaml"})
	if code := execute(cmd); code != 1 {
		t.Errorf("execute(bad config) = %d, want 1", code)
	}
}

func TestStartCmd_MissingConfig(t *testing.T) {
	_, err := run(t, "start", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil || !strings.Contains(err.Error(), "load config") {
		t.Errorf("start error = %v, want load config failure", err)
	}
}
