package session

import (
	"time"

	"github.com/core-tools/hsu-envctl/pkg/logging"
	"github.com/core-tools/hsu-envctl/pkg/process"
)

// Spawner starts, observes and stops the background process of a session.
type Spawner interface {
	Spawn(id, command string, env []string, logFile string) (int, error)
	IsAlive(pid int) bool
	// Identity returns a value that changes when pid is reused by another
	// process, or "" when it cannot be determined.
	Identity(pid int) string
	Terminate(pid int, grace time.Duration) error
}

// ProcessSpawner runs sessions as detached process groups.
type ProcessSpawner struct {
	Shell   string
	WorkDir string
	logger  logging.Logger
}

func NewProcessSpawner(shell, workDir string, logger logging.Logger) *ProcessSpawner {
	return &ProcessSpawner{Shell: shell, WorkDir: workDir, logger: logger}
}

func (s *ProcessSpawner) Spawn(id, command string, env []string, logFile string) (int, error) {
	proc, err := process.Spawn(process.SpawnConfig{
		Command:          command,
		Shell:            s.Shell,
		Environment:      env,
		WorkingDirectory: s.WorkDir,
		LogFile:          logFile,
	}, id, s.logger)
	if err != nil {
		return 0, err
	}
	return proc.Pid, nil
}

func (s *ProcessSpawner) IsAlive(pid int) bool {
	running, err := process.IsRunning(pid)
	if err != nil {
		s.logger.Debugf("Liveness check failed, PID: %d, error: %v", pid, err)
	}
	return running
}

func (s *ProcessSpawner) Identity(pid int) string {
	identity, err := process.Identity(pid)
	if err != nil {
		s.logger.Debugf("Identity check failed, PID: %d, error: %v", pid, err)
	}
	return identity
}

func (s *ProcessSpawner) Terminate(pid int, grace time.Duration) error {
	return process.Terminate(pid, grace)
}
