package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/core-tools/hsu-envctl/pkg/report"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testProfile = `
profile:
  name: cli
units:
  - id: base
    kind: namespace
    installCommand: "true"
    removeCommand: "true"
  - id: app
    kind: manifest-set
    dependsOn: [base]
    installCommand: "true"
    removeCommand: "true"
    idempotent: true
`

const cyclicProfile = `
units:
  - id: a
    kind: namespace
    dependsOn: [b]
    installCommand: "true"
  - id: b
    kind: namespace
    dependsOn: [a]
    installCommand: "true"
`

func writeProfile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "profile.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestRun_UsageErrors(t *testing.T) {
	profile := writeProfile(t, testProfile)

	tests := []struct {
		name string
		argv []string
	}{
		{"missing profile", []string{"validate"}},
		{"missing command", []string{"-p", profile}},
		{"unreadable profile", []string{"-p", filepath.Join(t.TempDir(), "missing.yaml"), "validate"}},
		{"bad log level", []string{"-p", profile, "--log-level", "loud", "validate"}},
		{"bad graph format", []string{"-p", profile, "graph", "--format", "svg"}},
		{"cyclic profile", []string{"-p", writeProfile(t, cyclicProfile), "validate"}},
		{"unknown unit", []string{"-p", profile, "--state-dir", t.TempDir(), "up", "ghost"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, report.ExitUsage, run(tt.argv))
		})
	}
}

func TestRun_ValidateAndGraph(t *testing.T) {
	profile := writeProfile(t, testProfile)

	assert.Equal(t, report.ExitOK, run([]string{"-p", profile, "validate"}))
	assert.Equal(t, report.ExitOK, run([]string{"-p", profile, "graph", "--format", "mermaid"}))
}

func TestRun_UpStatusDown(t *testing.T) {
	profile := writeProfile(t, testProfile)
	stateDir := t.TempDir()
	global := []string{"-p", profile, "--state-dir", stateDir, "--log-level", "error"}

	assert.Equal(t, report.ExitOK, run(append(global, "up")))
	assert.Equal(t, report.ExitOK, run(append(global, "status", "--probe")))
	assert.Equal(t, report.ExitOK, run(append(global, "down", "app")))
	assert.Equal(t, report.ExitOK, run(append(global, "history", "--limit", "5")))
	assert.Equal(t, report.ExitFailed, run(append(global, "history", "--run", "no-such-run")))
	assert.FileExists(t, filepath.Join(stateDir, "envctl.db"))
}
