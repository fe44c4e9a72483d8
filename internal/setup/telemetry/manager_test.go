package telemetry_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tandem-social/tandem/internal/setup/config"
	"github.com/tandem-social/tandem/internal/setup/telemetry"
)

func TestManagerWritesSessionLogs(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	manager := telemetry.NewManager(telemetry.ServiceAPI, dir,
		&config.Debug{LogLevel: "info", MaxLogsToKeep: 3, MaxLogLines: 100}, &config.Loki{})

	mainLogger, dbLogger, err := manager.GetLoggers()
	require.NoError(t, err)

	mainLogger.Debug("hidden")
	mainLogger.Info("server started")
	dbLogger.Warn("slow query")
	require.NoError(t, mainLogger.Sync())
	require.NoError(t, dbLogger.Sync())
	manager.Stop()

	session := manager.GetCurrentSessionDir()
	assert.True(t, strings.HasSuffix(session, "_api"))

	mainLog, err := os.ReadFile(filepath.Join(session, "main.log"))
	require.NoError(t, err)
	assert.Contains(t, string(mainLog), "server started")
	assert.NotContains(t, string(mainLog), "hidden")

	dbLog, err := os.ReadFile(filepath.Join(session, "database.log"))
	require.NoError(t, err)
	assert.Contains(t, string(dbLog), "slow query")
}

func TestManagerRotatesOldSessions(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	base := time.Now().Add(-time.Hour)
	for i, name := range []string{"old-1", "old-2", "old-3"} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.Mkdir(path, 0o755))
		stamp := base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, os.Chtimes(path, stamp, stamp))
	}

	manager := telemetry.NewManager(telemetry.ServiceCLI, dir,
		&config.Debug{LogLevel: "info", MaxLogsToKeep: 2, MaxLogLines: 100}, &config.Loki{})
	_, _, err := manager.GetLoggers()
	require.NoError(t, err)
	t.Cleanup(manager.Stop)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	assert.Len(t, names, 2)
	assert.Contains(t, names, "old-3")
}

func TestManagerRejectsUnknownLevel(t *testing.T) {
	t.Parallel()

	manager := telemetry.NewManager(telemetry.ServiceAPI, t.TempDir(),
		&config.Debug{LogLevel: "loud", MaxLogsToKeep: 1, MaxLogLines: 10}, &config.Loki{})
	t.Cleanup(manager.Stop)

	_, _, err := manager.GetLoggers()
	require.ErrorContains(t, err, "invalid log level")
}
