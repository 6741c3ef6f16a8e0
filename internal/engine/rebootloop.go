package engine

import "time"

const rebootLoopWindow = 5 * time.Minute

// IsInRebootLoop is the pure reboot-loop predicate.
// A missing startedAt implies false, regardless of restartCount.
func IsInRebootLoop(restartCount int, startedAt *time.Time, now time.Time) bool {
	if startedAt == nil {
		return false
	}
	return restartCount >= 3 && now.Sub(*startedAt) <= rebootLoopWindow
}
