package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, ".queuectl", c.DataDir)
	assert.Equal(t, 3, c.MaxRetries)
	assert.Equal(t, 2.0, c.BackoffBase)
	assert.Equal(t, 300*time.Second, c.JobTimeout())
	assert.Equal(t, time.Second, c.PollInterval())
	assert.Equal(t, 10*time.Minute, c.LeaseTimeout())
	assert.Equal(t, 10*time.Second, c.LockTimeout())
	assert.Equal(t, "127.0.0.1:8474", c.HTTPAddr)
	assert.Equal(t, filepath.Join(".queuectl", "workers.pid"), c.PIDFile())
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_retries: 5\nbackoff_base: 3\ndata_dir: /tmp/q\n"), 0o644))
	t.Setenv("QUEUECTL_MAX_RETRIES", "7")

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, c.MaxRetries, "environment wins over file")
	assert.Equal(t, 3.0, c.BackoffBase)
	assert.Equal(t, "/tmp/q", c.DataDir)
}

func TestLoad_InvalidEnvIgnored(t *testing.T) {
	t.Setenv("QUEUECTL_MAX_RETRIES", "many")

	c, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 3, c.MaxRetries)
}

func TestLoad_BadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_retries: [1"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("max_retries: -1\n"), 0o644))
	_, err = Load(path)
	assert.ErrorIs(t, err, ErrInvalidValue)
}

func TestSetAndSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	c := Default()

	require.NoError(t, c.Set("max_retries", "1"))
	require.NoError(t, c.Set("backoff_base", "1.5"))
	require.NoError(t, c.Save(path))

	loaded, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.MaxRetries)
	assert.Equal(t, 1.5, loaded.BackoffBase)

	v, err := loaded.Get("backoff_base")
	require.NoError(t, err)
	assert.Equal(t, "1.5", v)
}

func TestSet_Errors(t *testing.T) {
	c := Default()

	assert.ErrorIs(t, c.Set("nope", "1"), ErrUnknownKey)
	assert.ErrorIs(t, c.Set("max_retries", "abc"), ErrInvalidValue)
	assert.ErrorIs(t, c.Set("max_retries", "-2"), ErrInvalidValue)
	assert.ErrorIs(t, c.Set("backoff_base", "0.5"), ErrInvalidValue)
	assert.ErrorIs(t, c.Set("job_timeout_seconds", "900"), ErrInvalidValue, "must stay below the lease timeout")

	assert.Equal(t, Default(), c, "failed Set leaves config unchanged")

	_, err := c.Get("nope")
	assert.ErrorIs(t, err, ErrUnknownKey)
}

func TestKeysAndValues(t *testing.T) {
	c := Default()
	keys := Keys()
	values := c.Values()

	assert.Len(t, values, len(keys))
	assert.IsIncreasing(t, keys)
	for _, k := range keys {
		assert.Contains(t, values, k)
	}
	assert.Equal(t, "3", values["max_retries"])
}

func TestDefaultPath(t *testing.T) {
	t.Setenv("QUEUECTL_CONFIG", "/etc/queuectl.yaml")
	assert.Equal(t, "/etc/queuectl.yaml", DefaultPath())

	t.Setenv("QUEUECTL_CONFIG", "")
	assert.Equal(t, "config.yaml", filepath.Base(DefaultPath()))
}
