package logging

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestDir points logging at a temp directory and resets global state
func setupTestDir(t *testing.T) string {
	t.Helper()

	tempDir := t.TempDir()

	origLogDir := logDir
	origInitErr := initErr
	origSessionID := sessionID
	origLevel := currentLevel()

	logDir = tempDir
	initErr = nil
	initOnce = sync.Once{}
	sessionID = ""
	sessionIDOnce = sync.Once{}

	t.Cleanup(func() {
		logDir = origLogDir
		initErr = origInitErr
		initOnce = sync.Once{}
		sessionID = origSessionID
		sessionIDOnce = sync.Once{}
		levelMu.Lock()
		level = origLevel
		levelMu.Unlock()
	})
	return tempDir
}

func readLines(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		out = append(out, m)
	}
	require.NoError(t, sc.Err())
	return out
}

func TestNewLogger(t *testing.T) {
	dir := setupTestDir(t)

	logger, err := NewLogger("batch")
	require.NoError(t, err)
	defer logger.Close()

	assert.Equal(t, "batch", logger.component)
	assert.NotEmpty(t, logger.SessionID())
	assert.Equal(t, filepath.Join(dir, logger.SessionID()+"-stockpilot.log"), logger.LogPath())
	assert.FileExists(t, logger.LogPath())
}

func TestLoggerWritesStructuredLines(t *testing.T) {
	setupTestDir(t)

	logger, err := NewLogger("voucher")
	require.NoError(t, err)

	logger.Infof("filled %s", "A-3")
	logger.With("sku", "B-5").Warnf("stock %d < %d", 1, 2)
	require.NoError(t, logger.Close())

	lines := readLines(t, logger.LogPath())
	require.Len(t, lines, 2)

	assert.Equal(t, "info", lines[0]["level"])
	assert.Equal(t, "voucher", lines[0]["component"])
	assert.Equal(t, "filled A-3", lines[0]["message"])
	assert.Equal(t, logger.SessionID(), lines[0]["session"])

	assert.Equal(t, "warn", lines[1]["level"])
	assert.Equal(t, "B-5", lines[1]["sku"])
}

func TestComponentsShareSessionFile(t *testing.T) {
	setupTestDir(t)

	a, err := NewLogger("auth")
	require.NoError(t, err)
	b, err := NewLogger("transfer")
	require.NoError(t, err)

	assert.Equal(t, a.LogPath(), b.LogPath())

	a.Infof("one")
	b.Errorf("two")
	require.NoError(t, a.Close())
	require.NoError(t, b.Close())

	assert.Len(t, readLines(t, a.LogPath()), 2)
}

func TestSetLevel(t *testing.T) {
	setupTestDir(t)

	require.NoError(t, SetLevel("warn"))
	assert.Error(t, SetLevel("verbose"))
	assert.Equal(t, zerolog.WarnLevel, currentLevel())

	logger, err := NewLogger("batch")
	require.NoError(t, err)
	logger.Debugf("hidden")
	logger.Infof("hidden")
	logger.Warnf("shown")
	require.NoError(t, logger.Close())

	lines := readLines(t, logger.LogPath())
	require.Len(t, lines, 1)
	assert.Equal(t, "shown", lines[0]["message"])
}

func TestFallbackLogger(t *testing.T) {
	dir := setupTestDir(t)
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o600))
	logDir = filepath.Join(blocker, "logs")

	logger, err := NewLogger("auth")
	require.Error(t, err)
	require.NotNil(t, logger)
	assert.Empty(t, logger.LogPath())
	assert.NoError(t, logger.Close())
}

func TestNopAndCloseTwice(t *testing.T) {
	l := Nop()
	l.Infof("discarded")
	assert.NoError(t, l.Close())
	assert.NoError(t, l.Close())
}
