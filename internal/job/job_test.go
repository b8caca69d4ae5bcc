package job

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJob(t *testing.T) {
	j := New("", "echo hello", 3)

	assert.True(t, strings.HasPrefix(j.ID, "job_"), "generated id %q", j.ID)
	assert.Len(t, j.ID, len("job_")+8)
	assert.Equal(t, StatePending, j.State)
	assert.Equal(t, 0, j.Attempts)
	assert.Equal(t, 3, j.MaxRetries)
	assert.False(t, j.CreatedAt.IsZero())
	assert.Equal(t, j.CreatedAt, j.UpdatedAt)
}

func TestNewJob_KeepsID(t *testing.T) {
	j := New("build-42", "make", 0)
	assert.Equal(t, "build-42", j.ID)
}

func TestNewID_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for range 1000 {
		id := NewID()
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestParseState(t *testing.T) {
	for _, s := range States {
		got, err := ParseState(string(s))
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}

	got, err := ParseState(" DEAD ")
	require.NoError(t, err)
	assert.Equal(t, StateDead, got)

	_, err = ParseState("running")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		job  Job
	}{
		{"empty id", Job{Command: "true", State: StatePending}},
		{"slash in id", Job{ID: "a/b", Command: "true", State: StatePending}},
		{"empty command", Job{ID: "a", Command: "  ", State: StatePending}},
		{"negative retries", Job{ID: "a", Command: "true", State: StatePending, MaxRetries: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.job.Validate(), ErrInvalidJob)
		})
	}

	bad := Job{ID: "a", Command: "true", State: "running"}
	assert.ErrorIs(t, bad.Validate(), ErrInvalidState)

	assert.NoError(t, New("a", "true", 0).Validate())
}

func TestCanRetry(t *testing.T) {
	j := New("a", "false", 2)

	j.IncrementAttempts()
	assert.True(t, j.CanRetry())
	j.IncrementAttempts()
	assert.True(t, j.CanRetry())
	j.IncrementAttempts()
	assert.False(t, j.CanRetry(), "third failed attempt exhausts two retries")
}

func TestRequeueFromDead(t *testing.T) {
	j := New("a", "false", 1)
	j.Attempts = 2
	j.SetState(StateDead)

	require.NoError(t, j.RequeueFromDead())
	assert.Equal(t, StatePending, j.State)
	assert.Equal(t, 0, j.Attempts)

	j.SetState(StateCompleted)
	err := j.RequeueFromDead()
	assert.True(t, errors.Is(err, ErrNotDead))
	assert.Equal(t, StateCompleted, j.State)
}

func TestStateFlags(t *testing.T) {
	assert.True(t, StateCompleted.IsTerminal())
	assert.True(t, StateDead.IsTerminal())
	assert.False(t, StateFailed.IsTerminal())

	assert.True(t, StateProcessing.IsLeased())
	assert.True(t, StateFailed.IsLeased())
	assert.False(t, StatePending.IsLeased())
}

func TestClone(t *testing.T) {
	j := New("a", "true", 1)
	c := j.Clone()
	c.Attempts = 5
	assert.Equal(t, 0, j.Attempts)

	var nilJob *Job
	assert.Nil(t, nilJob.Clone())
	assert.Equal(t, "nil Job", nilJob.String())
}
