package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "app:\n  name: test\n"))
	require.NoError(t, err)

	assert.Equal(t, "test", cfg.App.Name)
	assert.Equal(t, "kafka", cfg.Bus.Driver)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Bus.Addresses)
	assert.Equal(t, `^ztf_\d{8}_programid1$`, cfg.Bus.TopicPattern)
	assert.Equal(t, 30*time.Second, cfg.Bus.MessageTimeout)
	assert.False(t, cfg.Archive.Enabled)
	assert.Equal(t, 1.5, cfg.Calibration.HistoryRadiusArcsec)
	assert.Equal(t, []string{"3.3"}, cfg.Calibration.SchemaVersions)
	assert.Equal(t, 10, cfg.Database.MaxConns)
	assert.Equal(t, 2, cfg.Database.MinConns)
	assert.Equal(t, 5*time.Minute, cfg.Database.MaxConnIdleTime)
	assert.Equal(t, 10*time.Second, cfg.Database.ConnectTimeout)
}

func TestLoadFileAndEnvironment(t *testing.T) {
	path := writeConfig(t, `
bus:
  driver: redis
  addresses: ["redis:6379"]
  consumer_group: ingest-a
archive:
  enabled: true
  bucket: from-file
  retry_base: 250ms
`)
	t.Setenv("ALERTINGEST_DATABASE_DSN", "postgres://alerts@db/alerts")
	t.Setenv("ALERTINGEST_ARCHIVE_BUCKET", "from-env")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "redis", cfg.Bus.Driver)
	assert.Equal(t, []string{"redis:6379"}, cfg.Bus.Addresses)
	assert.Equal(t, "ingest-a", cfg.Bus.ConsumerGroup)
	assert.Equal(t, "postgres://alerts@db/alerts", cfg.Database.DSN)
	assert.Equal(t, "from-env", cfg.Archive.Bucket)
	assert.Equal(t, 250*time.Millisecond, cfg.Archive.RetryBase)
}

func TestValidate(t *testing.T) {
	cases := map[string]string{
		"bad driver":       "bus:\n  driver: amqp\n",
		"bad pattern":      "bus:\n  topic_pattern: \"(\"\n",
		"archive bucket":   "archive:\n  enabled: true\n",
		"radius":           "calibration:\n  history_radius_arcsec: 0\n",
		"backoff ordering": "bus:\n  backoff_initial: 1m\n  backoff_max: 1s\n",
		"pool sizing":      "database:\n  max_conns: 2\n  min_conns: 4\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestResolveMaxPoints(t *testing.T) {
	cfg := &Config{Export: ExportConfig{MaxDataPoints: 50}}
	assert.Equal(t, 50, cfg.ResolveMaxPoints(0))
	assert.Equal(t, 7, cfg.ResolveMaxPoints(7))
}
