//go:build linux

package process

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/core-tools/hsu-envctl/pkg/errors"
)

// Identity distinguishes pid from a later process that reuses the same
// number: it combines the boot time with the process start time, both read
// from /proc.
func Identity(pid int) (string, error) {
	stat, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return "", errors.NewIOError("failed to read process stat", err).WithContext("pid", pid)
	}

	// The command name may contain spaces and parentheses; fields resume
	// after the last ')'. Start time is field 22, the 20th after it.
	content := string(stat)
	end := strings.LastIndexByte(content, ')')
	if end < 0 {
		return "", errors.NewValidationError("malformed process stat", nil).WithContext("pid", pid)
	}
	fields := strings.Fields(content[end+1:])
	if len(fields) < 20 {
		return "", errors.NewValidationError("malformed process stat", nil).WithContext("pid", pid)
	}

	boot, err := bootTime()
	if err != nil {
		return "", err
	}
	return boot + ":" + fields[19], nil
}

func bootTime() (string, error) {
	f, err := os.Open("/proc/stat")
	if err != nil {
		return "", errors.NewIOError("failed to read system stat", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if value, ok := strings.CutPrefix(scanner.Text(), "btime "); ok {
			return strings.TrimSpace(value), nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", errors.NewIOError("failed to read system stat", err)
	}
	return "", errors.NewNotFoundError("boot time not found in /proc/stat", nil)
}
