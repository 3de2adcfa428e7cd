package process

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/core-tools/hsu-envctl/pkg/errors"
	"github.com/core-tools/hsu-envctl/pkg/logging"
)

const DefaultShell = "/bin/sh"

// SpawnConfig describes a long-running background command.
type SpawnConfig struct {
	Command          string
	Shell            string
	Environment      []string
	WorkingDirectory string
	LogFile          string // stdout and stderr are appended here; empty discards output
}

// Spawn starts command through the shell in its own process group and returns
// without waiting for it. The child is reaped in the background so liveness
// checks from this process stay accurate.
func Spawn(config SpawnConfig, id string, logger logging.Logger) (*os.Process, error) {
	if strings.TrimSpace(config.Command) == "" {
		return nil, errors.NewValidationError("command cannot be empty", nil).WithContext("id", id)
	}

	shell := config.Shell
	if shell == "" {
		shell = DefaultShell
	}

	cmd := exec.Command(shell, "-c", config.Command)
	cmd.Dir = config.WorkingDirectory
	cmd.Env = append(os.Environ(), config.Environment...)
	ConfigureCommand(cmd)

	var logFile *os.File
	if config.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(config.LogFile), 0755); err != nil {
			return nil, errors.NewIOError("failed to create log directory", err).WithContext("log_file", config.LogFile)
		}
		f, err := os.OpenFile(config.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, errors.NewIOError("failed to open log file", err).WithContext("log_file", config.LogFile)
		}
		logFile = f
		cmd.Stdout = f
		cmd.Stderr = f
	}

	logger.Debugf("Spawning background process, id: %s, shell: %s, command: %q", id, shell, config.Command)

	if err := cmd.Start(); err != nil {
		if logFile != nil {
			logFile.Close()
		}
		return nil, errors.NewProcessError("failed to start background process", err).WithContext("id", id)
	}

	go func() {
		_ = cmd.Wait()
		if logFile != nil {
			logFile.Close()
		}
	}()

	logger.Infof("Background process started, id: %s, PID: %d", id, cmd.Process.Pid)
	return cmd.Process, nil
}
