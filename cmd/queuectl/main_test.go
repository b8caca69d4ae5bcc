package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/queuectl/queuectl/internal/job"
)

type testEnv struct {
	configPath string
	dataDir    string
}

func newTestEnv(t *testing.T) *testEnv {
	dir := t.TempDir()
	return &testEnv{
		configPath: filepath.Join(dir, "config.yaml"),
		dataDir:    filepath.Join(dir, "data"),
	}
}

func (e *testEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", e.configPath, "--data-dir", e.dataDir}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestEnqueueListStatus(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.run(t, "enqueue", `{"id":"job1","command":"echo hello"}`)
	require.NoError(t, err)
	assert.Contains(t, out, "job1")

	_, err = env.run(t, "enqueue", `{"command":"sleep 1","max_retries":0}`)
	require.NoError(t, err)

	_, err = env.run(t, "enqueue", `{"id":"job1","command":"echo again"}`)
	assert.ErrorIs(t, err, job.ErrDuplicateID)

	_, err = env.run(t, "enqueue", `not json`)
	assert.Error(t, err)

	out, err = env.run(t, "list", "--json")
	require.NoError(t, err)
	var jobs []*job.Job
	require.NoError(t, json.Unmarshal([]byte(out), &jobs))
	require.Len(t, jobs, 2)
	assert.Equal(t, "job1", jobs[0].ID)
	assert.Equal(t, 3, jobs[0].MaxRetries)
	assert.Equal(t, 0, jobs[1].MaxRetries)

	out, err = env.run(t, "list", "--state", "dead")
	require.NoError(t, err)
	assert.Contains(t, out, "No jobs found.")

	_, err = env.run(t, "list", "--state", "bogus")
	assert.ErrorIs(t, err, job.ErrInvalidState)

	out, err = env.run(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "pending")
	assert.Contains(t, out, "Workers: not running")
}

func TestDLQRetryRejectsPendingJob(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.run(t, "enqueue", `{"id":"job1","command":"true"}`)
	require.NoError(t, err)

	_, err = env.run(t, "dlq", "retry", "job1")
	assert.ErrorIs(t, err, job.ErrNotDead)

	_, err = env.run(t, "dlq", "retry", "missing")
	assert.ErrorIs(t, err, job.ErrNotFound)

	out, err := env.run(t, "dlq", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No jobs found.")
}

func TestConfigSetShow(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.run(t, "config", "set", "max_retries", "5")
	require.NoError(t, err)

	_, err = env.run(t, "config", "set", "max_retries", "-1")
	assert.Error(t, err)

	_, err = env.run(t, "config", "set", "unknown_key", "1")
	assert.Error(t, err)

	out, err := env.run(t, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "max_retries = 5")
	assert.Contains(t, out, "backoff_base = 2")

	_, err = env.run(t, "enqueue", `{"id":"a","command":"true"}`)
	require.NoError(t, err)
	out, err = env.run(t, "list", "--json")
	require.NoError(t, err)
	var jobs []*job.Job
	require.NoError(t, json.Unmarshal([]byte(out), &jobs))
	require.Len(t, jobs, 1)
	assert.Equal(t, 5, jobs[0].MaxRetries)
}

func TestWorkerStopWithoutDaemon(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.run(t, "worker", "stop")
	assert.Error(t, err)
}

func TestPIDFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workers.pid")

	require.NoError(t, writePIDFile(path, pidFile{PID: os.Getpid(), Addr: "127.0.0.1:1234"}))
	pf, err := readPIDFile(path)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pf.PID)
	assert.Equal(t, "127.0.0.1:1234", pf.Addr)
	assert.True(t, processAlive(pf.PID))

	removePIDFile(path, os.Getpid()+1)
	assert.FileExists(t, path, "pid file of another process is kept")

	removePIDFile(path, os.Getpid())
	assert.NoFileExists(t, path)

	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o644))
	_, err = readPIDFile(path)
	assert.Error(t, err)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}
