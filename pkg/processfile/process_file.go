package processfile

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/core-tools/hsu-envctl/pkg/errors"
	"github.com/core-tools/hsu-envctl/pkg/logging"
)

// DefaultAppName names the state subdirectory.
const DefaultAppName = "hsu-envctl"

// ProcessFileConfig holds configuration for session file generation (PID files, log files)
type ProcessFileConfig struct {
	// Base directory for all state. If empty, uses the per-user default
	BaseDirectory string

	// Application name for subdirectory creation
	AppName string
}

// ProcessFileManager lays out PID and log files for background sessions
type ProcessFileManager struct {
	config ProcessFileConfig
	logger logging.Logger
}

func NewProcessFileManager(config ProcessFileConfig, logger logging.Logger) *ProcessFileManager {
	if config.AppName == "" {
		config.AppName = DefaultAppName
	}
	if config.BaseDirectory == "" {
		config.BaseDirectory = DefaultStateDirectory(config.AppName)
	}

	return &ProcessFileManager{
		config: config,
		logger: logger,
	}
}

// BaseDirectory returns the resolved state directory
func (m *ProcessFileManager) BaseDirectory() string {
	return m.config.BaseDirectory
}

// GeneratePIDFilePath returns the PID file path of the (unit, kind) session
func (m *ProcessFileManager) GeneratePIDFilePath(unitID, kind string) string {
	return filepath.Join(m.config.BaseDirectory, "sessions", sessionFileName(unitID, kind)+".pid")
}

// GenerateLogFilePath returns the output log path of the (unit, kind) session
func (m *ProcessFileManager) GenerateLogFilePath(unitID, kind string) string {
	return filepath.Join(m.config.BaseDirectory, "logs", sessionFileName(unitID, kind)+".log")
}

// WritePIDFile writes the session PID
func (m *ProcessFileManager) WritePIDFile(unitID, kind string, pid int) error {
	path := m.GeneratePIDFilePath(unitID, kind)
	m.logger.Debugf("Writing PID file, unit: %s, kind: %s, pid: %d, path: %s", unitID, kind, pid, path)

	if err := EnsureDirectory(filepath.Dir(path)); err != nil {
		return err
	}

	content := fmt.Sprintf("%d\n", pid)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return errors.NewIOError("failed to write PID file", err).WithContext("pid_file", path).WithContext("pid", pid)
	}
	return nil
}

// RemovePIDFile deletes the session PID file; a missing file is not an error
func (m *ProcessFileManager) RemovePIDFile(unitID, kind string) error {
	path := m.GeneratePIDFilePath(unitID, kind)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.NewIOError("failed to remove PID file", err).WithContext("pid_file", path)
	}
	return nil
}

// EnsureDirectory creates dir when missing and verifies it is a directory
func EnsureDirectory(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			return errors.NewIOError("failed to access directory", err).WithContext("directory", dir)
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.NewIOError("failed to create directory", err).WithContext("directory", dir)
		}
		return nil
	}
	if !info.IsDir() {
		return errors.NewValidationError("path is not a directory", nil).WithContext("path", dir)
	}
	return nil
}

// DefaultStateDirectory returns the per-user state directory for appName
func DefaultStateDirectory(appName string) string {
	switch runtime.GOOS {
	case "windows":
		localAppData := os.Getenv("LOCALAPPDATA")
		if localAppData == "" {
			localAppData = os.TempDir()
		}
		return filepath.Join(localAppData, appName)

	case "darwin":
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(os.TempDir(), appName)
		}
		return filepath.Join(homeDir, "Library", "Application Support", appName)

	default:
		if stateHome := os.Getenv("XDG_STATE_HOME"); stateHome != "" {
			return filepath.Join(stateHome, appName)
		}
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(os.TempDir(), appName)
		}
		return filepath.Join(homeDir, ".local", "state", appName)
	}
}

func sessionFileName(unitID, kind string) string {
	name := unitID
	if kind != "" {
		name += "." + kind
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', ' ':
			return '_'
		}
		return r
	}, name)
}
