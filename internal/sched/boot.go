package sched

import (
	"context"

	"guardiand/internal/cursor"
	"guardiand/internal/logging"
)

// BootID identifies the current boot as the boot time in unix seconds.
// Comparing it to the stored registration detects a reboot even when the
// daemon state survived on disk.
func BootID() int64 {
	return bootTime()
}

// EnsureBootRestart checks whether this is the first daemon start since
// boot and, if so, re-registers the boot task and runs one immediate
// full cycle so capture resumes without waiting for a timer.
func EnsureBootRestart(ctx context.Context, coord *Coordinator, store *cursor.Store, bootID int64, log *logging.Logger) error {
	log = log.WithComponent("boot")

	reg, err := store.Task(TaskBootRestart)
	if err != nil {
		return err
	}
	if reg != nil && reg.BootID == bootID {
		return nil
	}

	if _, err := store.RegisterTask(TaskBootRestart, bootID, false); err != nil {
		return err
	}
	log.Info("first start since boot, running catch-up cycle", "boot_id", bootID)

	if err := coord.SyncAll(ctx); err != nil && ctx.Err() == nil {
		// The catch-up is best-effort; the regular layers retry.
		log.Warn("boot catch-up cycle incomplete", "error", err)
	}
	return nil
}
