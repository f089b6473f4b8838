package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/feedlot-engine/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "feedlot.db", cfg.Store.DBPath)
	assert.Equal(t, 7*24*time.Hour, cfg.Audit.CorrectionWindow)
	assert.Equal(t, "0 6 * * *", cfg.Alerts.CronSchedule)
	assert.Equal(t, 30, cfg.Alerts.WindowDays)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("APP_PORT", "9090")
	t.Setenv("DB_PATH", "/var/lib/feedlot/feedlot.db")
	t.Setenv("CORRECTION_WINDOW_DAYS", "14")
	t.Setenv("ALERT_WINDOW_DAYS", "45")

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "/var/lib/feedlot/feedlot.db", cfg.Store.DBPath)
	assert.Equal(t, 14*24*time.Hour, cfg.Audit.CorrectionWindow)
	assert.Equal(t, 45, cfg.Alerts.WindowDays)
}

func TestLoad_EnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("ALERT_CRON_SCHEDULE=*/30 * * * *\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("ALERT_CRON_SCHEDULE") })

	cfg, err := config.Load(envFile)
	require.NoError(t, err)
	assert.Equal(t, "*/30 * * * *", cfg.Alerts.CronSchedule)

	// An explicitly named file that is missing is tolerated.
	_, err = config.Load(filepath.Join(dir, "absent.env"))
	assert.NoError(t, err)
}

func TestLoad_RejectsBadValues(t *testing.T) {
	t.Setenv("CORRECTION_WINDOW_DAYS", "soon")
	_, err := config.Load("")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	cfg.Audit.CorrectionWindow = 0
	assert.Error(t, cfg.Validate())

	cfg, err = config.Load("")
	require.NoError(t, err)
	cfg.Store.DBPath = ""
	assert.Error(t, cfg.Validate())
}
