package backoff_test

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/queuectl/queuectl/internal/backoff"
)

func TestExponential_GrowsByBase(t *testing.T) {
	e := backoff.NewExponential(2, time.Second)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{5, 32 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, e.Delay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestExponential_OtherBaseAndUnit(t *testing.T) {
	e := backoff.NewExponential(3, time.Millisecond)
	assert.Equal(t, 27*time.Millisecond, e.Delay(3))
}

func TestExponential_CapsAtMax(t *testing.T) {
	e := &backoff.Exponential{Base: 2, Unit: time.Second, Max: 10 * time.Second}
	assert.Equal(t, 8*time.Second, e.Delay(3))
	assert.Equal(t, 10*time.Second, e.Delay(4))
	assert.Equal(t, 10*time.Second, e.Delay(100))
}

func TestExponential_DoesNotOverflow(t *testing.T) {
	e := backoff.NewExponential(2, time.Second)
	assert.Equal(t, time.Duration(math.MaxInt64), e.Delay(1000))
}

func TestConstant(t *testing.T) {
	c := backoff.Constant{Interval: 5 * time.Second}
	for attempt := 1; attempt <= 5; attempt++ {
		assert.Equal(t, 5*time.Second, c.Delay(attempt))
	}
}
