package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"serve", "poll", "summarize", "migrate"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "f", configFlag.Shorthand)
	assert.Equal(t, "etc/config.yaml", configFlag.DefValue)

	envFlag := cmd.PersistentFlags().Lookup("env")
	require.NotNil(t, envFlag)
	assert.Equal(t, ".env", envFlag.DefValue)
}

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	content := fmt.Sprintf(`
Slack:
  BotToken: xoxb-test
  SigningSecret: env:CLI_TEST_SIGNING_SECRET
  TargetChannelID: C0TARGET
  WatchedChannels: [C1]
LLM:
  BaseURL: http://127.0.0.1:1/v1
  APIKey: sk-test
  Model: gpt-4o
Storage:
  DSN: "file:%s?_journal_mode=WAL"
  MessagesTable: ai_messages
  ProcessedTable: processed_messages
Log:
  Level: error
`, filepath.Join(dir, "digest.db"))

	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	env := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(env, []byte("CLI_TEST_SIGNING_SECRET=from-dotenv\n"), 0o600))
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestMigrateUpAndStatus(t *testing.T) {
	dir := writeConfig(t)
	t.Cleanup(func() { os.Unsetenv("CLI_TEST_SIGNING_SECRET") })
	cfg := filepath.Join(dir, "config.yaml")
	env := filepath.Join(dir, ".env")

	out, err := execute(t, "migrate", "up", "-f", cfg, "--env", env)
	require.NoError(t, err)
	assert.Contains(t, out, "applied 1")

	out, err = execute(t, "migrate", "-f", cfg, "--env", env)
	require.NoError(t, err)
	assert.Contains(t, out, "no migrations to apply")

	out, err = execute(t, "migrate", "status", "-f", cfg, "--env", env)
	require.NoError(t, err)
	assert.Contains(t, out, "applied")
	assert.NotContains(t, out, "pending")
}

func TestMigrateUnknownAction(t *testing.T) {
	dir := writeConfig(t)
	t.Cleanup(func() { os.Unsetenv("CLI_TEST_SIGNING_SECRET") })

	_, err := execute(t, "migrate", "sideways",
		"-f", filepath.Join(dir, "config.yaml"), "--env", filepath.Join(dir, ".env"))
	assert.ErrorContains(t, err, "sideways")
}

func TestMissingConfig(t *testing.T) {
	_, err := execute(t, "poll", "-f", filepath.Join(t.TempDir(), "missing.yaml"), "--env", "")
	assert.Error(t, err)
}
