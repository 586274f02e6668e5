package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupWritesJSONFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "logs", "digest.log")
	require.NoError(t, Setup(Options{Level: "info", File: file}))
	t.Cleanup(func() { _ = Setup(Options{}) })

	Debugf("[Test] 不应写入 %d", 1)
	Infof("[Test] 已保存消息 %s", "C1-1700000000.000100")

	data, err := os.ReadFile(file)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "[Test] 已保存消息 C1-1700000000.000100", entry["msg"])
}

func TestSetupLevel(t *testing.T) {
	t.Cleanup(func() { _ = Setup(Options{}) })

	require.NoError(t, Setup(Options{Level: "warn"}))
	assert.Equal(t, logrus.WarnLevel, Std().GetLevel())

	require.NoError(t, Setup(Options{}))
	assert.Equal(t, logrus.InfoLevel, Std().GetLevel())

	assert.Error(t, Setup(Options{Level: "loud"}))
}
