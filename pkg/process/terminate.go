package process

import (
	"time"

	"github.com/core-tools/hsu-envctl/pkg/errors"
)

const terminatePollInterval = 50 * time.Millisecond

// Terminate asks the process group led by pid to stop and kills it when it is
// still running after grace.
func Terminate(pid int, grace time.Duration) error {
	if pid <= 0 {
		return errors.NewValidationError("invalid PID", nil).WithContext("pid", pid)
	}

	running, _ := IsRunning(pid)
	if !running {
		return nil
	}

	if err := signalTerminate(pid); err != nil {
		if running, _ := IsRunning(pid); !running {
			return nil
		}
		return errors.NewProcessError("failed to signal process group", err).WithContext("pid", pid)
	}

	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if running, _ := IsRunning(pid); !running {
			return nil
		}
		time.Sleep(terminatePollInterval)
	}

	if err := KillGroup(pid); err != nil {
		if running, _ := IsRunning(pid); !running {
			return nil
		}
		return errors.NewProcessError("failed to kill process group", err).WithContext("pid", pid)
	}
	return nil
}
