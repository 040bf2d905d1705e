package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fentz26/flightops/internal/models"
	"github.com/fentz26/flightops/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7466", cfg.Server.Listen)
	assert.Equal(t, store.DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, time.Second, cfg.Scheduler.Interval)
	assert.Equal(t, 5*time.Minute, cfg.Dispatch.Timeout)
	assert.Equal(t, "/process", cfg.Dispatch.Path)
	assert.Equal(t, 1024, cfg.Recovery.MinResultBytes)
	assert.Empty(t, cfg.Workers)
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flightops.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  listen: 0.0.0.0:9000
scheduler:
  interval: 2s
  max_interval: 1m
workers:
  - name: alpha
    address: http://10.0.0.1:8080
`), 0o644))

	t.Setenv("FLIGHTOPS_DISPATCH_TIMEOUT", "90s")
	t.Setenv("FLIGHTOPS_RECOVERY_MIN_RESULT_BYTES", "10")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", cfg.Server.Listen)
	assert.Equal(t, 2*time.Second, cfg.Scheduler.Interval)
	assert.Equal(t, time.Minute, cfg.Scheduler.MaxInterval)
	assert.Equal(t, 90*time.Second, cfg.Dispatch.Timeout)
	assert.Equal(t, 10, cfg.Recovery.MinResultBytes)
	assert.Equal(t, []models.WorkerSpec{{Name: "alpha", Address: "http://10.0.0.1:8080"}}, cfg.Workers)
}

func TestLoad_WorkersEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())
	t.Setenv("FLIGHTOPS_WORKERS", "10.0.0.1:8080,beta=http://10.0.0.2:8080")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, []models.WorkerSpec{
		{Name: "machine-1", Address: "http://10.0.0.1:8080"},
		{Name: "beta", Address: "http://10.0.0.2:8080"},
	}, cfg.Workers)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestParseWorkers(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    []models.WorkerSpec
		wantErr bool
	}{
		{name: "empty", in: "", want: []models.WorkerSpec{}},
		{name: "bare", in: "h1:1 h2:2", want: []models.WorkerSpec{
			{Name: "machine-1", Address: "http://h1:1"},
			{Name: "machine-2", Address: "http://h2:2"},
		}},
		{name: "named https", in: "a=https://h:443", want: []models.WorkerSpec{{Name: "a", Address: "https://h:443"}}},
		{name: "missing address", in: "a=", wantErr: true},
		{name: "duplicate", in: "a=h:1,a=h:2", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseWorkers(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidate(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())
	t.Setenv("FLIGHTOPS_DATABASE_DRIVER", "oracle")

	_, err := Load("")
	assert.Error(t, err)
}
