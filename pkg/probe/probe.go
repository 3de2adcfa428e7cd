package probe

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/core-tools/hsu-envctl/pkg/errors"
	"github.com/core-tools/hsu-envctl/pkg/executor"
	"github.com/core-tools/hsu-envctl/pkg/logging"
)

// Status is the result of a single readiness check.
type Status string

const (
	StatusReady    Status = "ready"
	StatusNotReady Status = "not-ready"
	StatusError    Status = "probe-error"
)

// Target is what a Checker needs to know about the unit being probed.
type Target struct {
	UnitID string
	Config Config
	Env    []string
	// Command is the exec probe command after template rendering.
	Command string
}

// Checker performs one readiness check.
type Checker interface {
	Check(ctx context.Context, target Target) (Status, string)
}

// DefaultChecker dispatches on the probe type. Exec probes go through the
// executor's CommandRunner.
type DefaultChecker struct {
	runner executor.CommandRunner
	client *http.Client
}

func NewChecker(runner executor.CommandRunner) *DefaultChecker {
	return &DefaultChecker{
		runner: runner,
		client: &http.Client{},
	}
}

func (c *DefaultChecker) Check(ctx context.Context, target Target) (Status, string) {
	switch target.Config.Type {
	case TypeExec:
		return c.checkExec(ctx, target)
	case TypeHTTP:
		return c.checkHTTP(ctx, target)
	case TypeTCP:
		return c.checkTCP(ctx, target)
	case TypeNone:
		return StatusReady, "no probe configured"
	default:
		return StatusError, "unknown probe type: " + string(target.Config.Type)
	}
}

func (c *DefaultChecker) checkExec(ctx context.Context, target Target) (Status, string) {
	command := target.Command
	if command == "" {
		command = target.Config.Command
	}

	outcome, err := c.runner.Execute(ctx, command, target.Env, target.Config.Timeout)
	if err != nil {
		return StatusError, fmt.Sprintf("exec probe could not run: %v", err)
	}
	if outcome.ExitCode != 0 {
		return StatusNotReady, fmt.Sprintf("exec probe exited with code %d: %s", outcome.ExitCode, strings.TrimSpace(outcome.Stderr))
	}
	return StatusReady, "exec probe passed"
}

func (c *DefaultChecker) checkHTTP(ctx context.Context, target Target) (Status, string) {
	ctx, cancel := context.WithTimeout(ctx, target.Config.Timeout)
	defer cancel()

	method := target.Config.Method
	if method == "" {
		method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(ctx, method, target.Config.URL, nil)
	if err != nil {
		return StatusError, fmt.Sprintf("failed to create HTTP request: %v", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return StatusError, fmt.Sprintf("HTTP request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return StatusReady, fmt.Sprintf("HTTP probe passed: %s", resp.Status)
	}
	return StatusNotReady, fmt.Sprintf("HTTP probe failed: %s", resp.Status)
}

func (c *DefaultChecker) checkTCP(ctx context.Context, target Target) (Status, string) {
	dialer := net.Dialer{Timeout: target.Config.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", target.Config.Address)
	if err != nil {
		return StatusNotReady, fmt.Sprintf("TCP connection failed: %v", err)
	}
	conn.Close()
	return StatusReady, "TCP connection successful to " + target.Config.Address
}

// PollResult summarises a bounded polling run.
type PollResult struct {
	Status   Status
	Attempts int
	Message  string
	Duration time.Duration
	Err      error
}

// Ready reports whether polling ended with the unit ready.
func (r PollResult) Ready() bool {
	return r.Status == StatusReady
}

// Poller repeats checks until ready, the attempt budget runs out, or the
// context is cancelled.
type Poller struct {
	checker Checker
	logger  logging.Logger
}

func NewPoller(checker Checker, logger logging.Logger) *Poller {
	return &Poller{checker: checker, logger: logger}
}

// CheckOnce performs a single check without waiting.
func (p *Poller) CheckOnce(ctx context.Context, target Target) (Status, string) {
	if !target.Config.Enabled() {
		return StatusReady, "no probe configured"
	}
	return p.checker.Check(ctx, target)
}

// Poll checks target up to its MaxAttempts, sleeping Interval between
// attempts. Exhaustion yields a ProbeExhausted error; a final probe-error is
// logged separately from plain not-ready so failures stay visible.
func (p *Poller) Poll(ctx context.Context, target Target) PollResult {
	start := time.Now()
	cfg := target.Config

	if !cfg.Enabled() {
		return PollResult{Status: StatusReady, Message: "no probe configured"}
	}

	if cfg.InitialDelay > 0 {
		if err := sleep(ctx, cfg.InitialDelay); err != nil {
			return p.cancelled(target, 0, start, err)
		}
	}

	var status Status
	var message string
	attempts := 0
	for attempts < cfg.MaxAttempts {
		attempts++
		status, message = p.checker.Check(ctx, target)

		if ctx.Err() != nil {
			return p.cancelled(target, attempts, start, ctx.Err())
		}
		if status == StatusReady {
			p.logger.Infof("Probe ready, unit: %s, attempts: %d, message: %s", target.UnitID, attempts, message)
			return PollResult{Status: StatusReady, Attempts: attempts, Message: message, Duration: time.Since(start)}
		}

		p.logger.Debugf("Probe attempt %d/%d, unit: %s, status: %s, message: %s",
			attempts, cfg.MaxAttempts, target.UnitID, status, message)

		if attempts < cfg.MaxAttempts {
			if err := sleep(ctx, cfg.Interval); err != nil {
				return p.cancelled(target, attempts, start, err)
			}
		}
	}

	if status == StatusError {
		p.logger.Errorf("Probe error after budget exhausted, unit: %s, attempts: %d, message: %s", target.UnitID, attempts, message)
	} else {
		p.logger.Warnf("Probe not ready after budget exhausted, unit: %s, attempts: %d, message: %s", target.UnitID, attempts, message)
	}

	return PollResult{
		Status:   status,
		Attempts: attempts,
		Message:  message,
		Duration: time.Since(start),
		Err: errors.NewProbeExhaustedError(fmt.Sprintf("not ready after %d attempts", attempts), nil).
			WithContext("unit", target.UnitID).
			WithContext("last_status", string(status)).
			WithContext("last_message", message),
	}
}

func (p *Poller) cancelled(target Target, attempts int, start time.Time, cause error) PollResult {
	p.logger.Warnf("Probe cancelled, unit: %s, attempts: %d", target.UnitID, attempts)
	return PollResult{
		Status:   StatusNotReady,
		Attempts: attempts,
		Message:  "probe cancelled",
		Duration: time.Since(start),
		Err:      errors.NewCancelledError("probe cancelled", cause).WithContext("unit", target.UnitID),
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
