package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsInRebootLoopTrue(t *testing.T) {
	now := time.Now()
	startedAt := now.Add(-30 * time.Second)
	assert.True(t, IsInRebootLoop(5, &startedAt, now))
}

func TestIsInRebootLoopFalseOldStart(t *testing.T) {
	now := time.Now()
	startedAt := now.Add(-time.Hour)
	assert.False(t, IsInRebootLoop(5, &startedAt, now))
}

func TestIsInRebootLoopFalseLowRestartCount(t *testing.T) {
	now := time.Now()
	startedAt := now.Add(-10 * time.Second)
	assert.False(t, IsInRebootLoop(2, &startedAt, now))
}

func TestIsInRebootLoopFalseMissingStartedAt(t *testing.T) {
	assert.False(t, IsInRebootLoop(10, nil, time.Now()))
}

func TestIsInRebootLoopBoundary(t *testing.T) {
	now := time.Now()
	startedAt := now.Add(-5 * time.Minute)
	assert.True(t, IsInRebootLoop(3, &startedAt, now))
}
