// Package sched layers the scheduling contexts that keep capture running:
// the continuous in-process loops, the periodic backstop, boot-time
// restart, budget-bounded execution windows, and supervisor wake-ups.
// The layers are redundant on purpose; any one of them reaching the
// coordinator is enough, and merge-by-id uploads make the overlap safe.
package sched

// Task kinds registered in the cursor store. Registration is how the
// daemon knows a layer is armed across restarts.
const (
	TaskContinuous       = "continuous"
	TaskPeriodicBackstop = "periodic_backstop"
	TaskBootRestart      = "boot_restart"
	TaskShortWindow      = "short_window"
	TaskLongWindow       = "long_window"
	TaskEventCallback    = "event_callback"
)
