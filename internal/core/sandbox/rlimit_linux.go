package sandbox

import (
	"golang.org/x/sys/unix"
)

const fileSizeLimitBytes = 64 << 20

// applyLimits sets RLIMIT_CPU and RLIMIT_FSIZE on an already started
// process. The few instructions the child runs before this lands are not
// limited.
func applyLimits(pid int, req RunRequest) error {
	if req.TimeLimitMs > 0 {
		cpuSec := uint64((req.TimeLimitMs+999)/1000) + 1
		if err := unix.Prlimit(pid, unix.RLIMIT_CPU, &unix.Rlimit{Cur: cpuSec, Max: cpuSec + 1}, nil); err != nil {
			return err
		}
	}
	return unix.Prlimit(pid, unix.RLIMIT_FSIZE, &unix.Rlimit{Cur: fileSizeLimitBytes, Max: fileSizeLimitBytes}, nil)
}
