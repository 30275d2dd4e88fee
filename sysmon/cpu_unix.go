//go:build unix

package sysmon

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// processCPUTime is the user plus system time consumed by the process.
func processCPUTime() (time.Duration, error) {
	var ru unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_SELF, &ru); err != nil {
		return 0, fmt.Errorf("sysmon: getrusage: %w", err)
	}
	return time.Duration(ru.Utime.Nano() + ru.Stime.Nano()), nil
}
