//go:build !unix

package sysmon

import (
	"errors"
	"time"
)

var errUnsupported = errors.New("sysmon: cpu time is not available on this platform")

func processCPUTime() (time.Duration, error) { return 0, errUnsupported }
