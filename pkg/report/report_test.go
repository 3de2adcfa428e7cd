package report

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/core-tools/hsu-envctl/pkg/domain"
	"github.com/core-tools/hsu-envctl/pkg/errors"
	"github.com/core-tools/hsu-envctl/pkg/reconciler"

	"github.com/stretchr/testify/assert"
)

func reportWith(mode domain.Mode, states ...reconciler.State) reconciler.Report {
	r := reconciler.Report{RunID: "0123456789abcdef", Mode: mode, Duration: 1500 * time.Millisecond}
	for i, s := range states {
		r.Results = append(r.Results, reconciler.UnitResult{UnitID: string(rune('A' + i)), State: s})
	}
	return r
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name   string
		report reconciler.Report
		want   int
	}{
		{"all_ready", reportWith(domain.ModeUp, reconciler.StateReady, reconciler.StateReady), ExitOK},
		{"all_removed", reportWith(domain.ModeDown, reconciler.StateRemoved), ExitOK},
		{"failed_and_skipped", reportWith(domain.ModeUp, reconciler.StateFailed, reconciler.StateSkipped, reconciler.StateSkipped), ExitFailed},
		{"skipped_only", reportWith(domain.ModeUp, reconciler.StateReady, reconciler.StateSkipped), ExitIncomplete},
		{"teardown_failure", reportWith(domain.ModeDown, reconciler.StateRemoved, reconciler.StateFailed), ExitFailed},
		{"verify_degraded", reportWith(domain.ModeVerify, reconciler.StateReady, reconciler.StateFailed), ExitFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.report))
		})
	}
}

func TestRunSummary(t *testing.T) {
	report := reportWith(domain.ModeUp, reconciler.StateFailed, reconciler.StateSkipped)
	report.Results[0].UnitID = "minio"
	report.Results[0].Err = errors.NewActionFailedError("install exited with code 1", nil)
	report.Results[0].Duration = 2 * time.Second
	report.Results[1].UnitID = "langfuse"
	report.Results[1].Message = "dependency minio is failed"

	var buf bytes.Buffer
	NewPrinter(&buf).RunSummary(report)
	out := buf.String()

	assert.Contains(t, out, "up summary (run 01234567)")
	assert.Contains(t, out, "UNIT")
	assert.Contains(t, out, "action_failed: install exited with code 1")
	assert.Contains(t, out, "dependency minio is failed")
	assert.Contains(t, out, "1 failed, 1 skipped in 1.5s")

	lines := strings.Split(out, "\n")
	var header, first string
	for i, line := range lines {
		if strings.HasPrefix(line, "UNIT") {
			header, first = line, lines[i+1]
			break
		}
	}
	assert.Equal(t, strings.Index(header, "STATE"), strings.Index(first, "failed"), "columns are aligned")
}

func TestStatus(t *testing.T) {
	var buf bytes.Buffer
	printer := NewPrinter(&buf)

	printer.Status("local", []StatusRow{
		{Unit: "cluster", Kind: "namespace", State: "ready", UpdatedAt: time.Now()},
		{Unit: "web", Kind: "build-artifact", State: "unknown"},
	}, nil)
	out := buf.String()
	assert.Contains(t, out, "Profile local")
	assert.Contains(t, out, "never")
	assert.Contains(t, out, "No active sessions")

	buf.Reset()
	printer.Status("local", nil, []SessionRow{
		{Unit: "web", Kind: "port-forward", PID: 4242, StartedAt: time.Now(), LogFile: "/tmp/web.log"},
	})
	out = buf.String()
	assert.Contains(t, out, "Active sessions")
	assert.Contains(t, out, "4242")
	assert.Contains(t, out, "/tmp/web.log")
}

func TestHistory(t *testing.T) {
	var buf bytes.Buffer
	printer := NewPrinter(&buf)

	printer.History(nil)
	assert.Contains(t, buf.String(), "No runs recorded")

	buf.Reset()
	printer.History([]HistoryRow{
		{RunID: "0123456789abcdef", Mode: "up", StartedAt: time.Now(), Duration: time.Second, Summary: "2 ready, 1 failed"},
		{RunID: "fedcba9876543210", Mode: "down", Targets: []string{"web"}, StartedAt: time.Now(), Summary: "1 removed"},
	})
	out := buf.String()
	assert.Contains(t, out, "Run history")
	assert.Contains(t, out, "01234567")
	assert.Contains(t, out, "all")
	assert.Contains(t, out, "2 ready, 1 failed")
	assert.Contains(t, out, "fedcba98")
}

func TestRunUnits(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf).RunUnits(
		HistoryRow{RunID: "0123456789abcdef", Mode: "up", StartedAt: time.Now()},
		[]UnitRow{
			{Unit: "cluster", State: "ready", ExitCode: 0},
			{Unit: "web", State: "skipped", ExitCode: -1, Detail: "dependency minio is failed"},
		})
	out := buf.String()

	assert.Contains(t, out, "up run 0123456789abcdef")
	assert.Contains(t, out, "EXIT")
	assert.Contains(t, out, "dependency minio is failed")
}
