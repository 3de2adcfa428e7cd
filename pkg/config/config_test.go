package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/core-tools/hsu-envctl/pkg/domain"
	"github.com/core-tools/hsu-envctl/pkg/errors"
	"github.com/core-tools/hsu-envctl/pkg/logging"
	"github.com/core-tools/hsu-envctl/pkg/probe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeProfile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

const yamlProfile = `
profile:
  name: local
  logLevel: debug
  concurrency: 2
  vars:
    namespace: real-time-agents

units:
  - id: cluster
    kind: namespace
    installCommand: kubectl create namespace {{.namespace}}
    removeCommand: kubectl delete namespace {{.namespace}} --ignore-not-found
    probe:
      type: exec
      command: kubectl get namespace {{.namespace}}
      interval: 2s
      maxAttempts: 5

  - id: minio
    kind: package-release
    dependsOn: [cluster]
    installCommand: helm upgrade --install minio minio/minio -n {{.namespace}}
    idempotent: true
    timeoutSeconds: 300
    probe:
      type: http
      url: http://localhost:9000/minio/health/live
      timeout: 1

  - id: web
    kind: build-artifact
    dependsOn: [minio]
    installCommand: docker build -t web .
    serve:
      command: kubectl port-forward svc/web 8080:80
`

func TestLoadConfigFromFile_YAML(t *testing.T) {
	config, err := LoadConfigFromFile(writeProfile(t, "local.yaml", yamlProfile))
	require.NoError(t, err)
	require.NoError(t, ValidateConfig(config))

	assert.Equal(t, "local", config.Profile.Name)
	assert.Equal(t, "debug", config.Profile.LogLevel)
	assert.Equal(t, DefaultLogFormat, config.Profile.LogFormat)
	assert.Equal(t, 2, config.Profile.Concurrency)
	require.Len(t, config.Units, 3)

	cluster := config.Units[0]
	assert.Equal(t, Duration(2*time.Second), cluster.Probe.Interval)
	assert.True(t, cluster.IsEnabled())

	minio := config.Units[1]
	assert.Equal(t, Duration(time.Second), minio.Probe.Timeout, "bare numbers are seconds")
	assert.Equal(t, 300, minio.TimeoutSeconds)

	web := config.Units[2]
	require.NotNil(t, web.Serve)
	assert.Equal(t, "port-forward", web.Serve.Kind)
}

func TestLoadConfigFromFile_TOML(t *testing.T) {
	path := writeProfile(t, "staging.toml", `
[profile]
concurrency = 3

[profile.vars]
namespace = "staging"

[[units]]
id = "cluster"
kind = "namespace"
installCommand = "kubectl create namespace {{.namespace}}"

[[units]]
id = "istio"
kind = "manifest-set"
dependsOn = ["cluster"]
installCommand = "istioctl install -y"
timeoutSeconds = 120

[units.probe]
type = "tcp"
address = "localhost:15021"
interval = "500ms"
`)

	config, err := LoadConfigFromFile(path)
	require.NoError(t, err)
	require.NoError(t, ValidateConfig(config))

	assert.Equal(t, "staging", config.Profile.Name, "name defaults to the file name")
	assert.Equal(t, DefaultLogLevel, config.Profile.LogLevel)
	assert.Equal(t, "staging", config.Profile.Vars["namespace"])
	require.Len(t, config.Units, 2)
	assert.Equal(t, []string{"cluster"}, config.Units[1].DependsOn)
	assert.Equal(t, Duration(500*time.Millisecond), config.Units[1].Probe.Interval)
}

func TestLoadConfigFromFile_Errors(t *testing.T) {
	tests := []struct {
		name     string
		file     string
		content  string
		expected func(error) bool
	}{
		{"unknown_extension", "profile.json", `{}`, errors.IsValidationError},
		{"malformed_yaml", "bad.yaml", "units: [", errors.IsValidationError},
		{"unknown_field", "typo.yaml", "units:\n  - id: a\n    kind: namespace\n    dependOn: [b]\n", errors.IsValidationError},
		{"malformed_toml", "bad.toml", "[[units]\n", errors.IsValidationError},
		{"bad_duration", "dur.yaml", "units:\n  - id: a\n    kind: namespace\n    probe:\n      type: tcp\n      interval: soon\n", errors.IsValidationError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfigFromFile(writeProfile(t, tt.file, tt.content))
			require.Error(t, err)
			assert.True(t, tt.expected(err), "unexpected error: %v", err)
		})
	}

	_, err := LoadConfigFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, errors.IsIOError(err))
}

func TestValidateConfig(t *testing.T) {
	valid := func() *ProfileConfig {
		config := &ProfileConfig{
			Profile: ProfileOptions{Name: "test"},
			Units: []UnitConfig{
				{ID: "cluster", Kind: "namespace", InstallCommand: "kubectl create namespace x"},
			},
		}
		require.NoError(t, setConfigDefaults(config))
		return config
	}

	tests := []struct {
		name   string
		mutate func(*ProfileConfig)
		valid  bool
	}{
		{"valid", func(c *ProfileConfig) {}, true},
		{"bad_log_level", func(c *ProfileConfig) { c.Profile.LogLevel = "loud" }, false},
		{"bad_log_format", func(c *ProfileConfig) { c.Profile.LogFormat = "xml" }, false},
		{"bad_concurrency", func(c *ProfileConfig) { c.Profile.Concurrency = -1 }, false},
		{"no_units", func(c *ProfileConfig) { c.Units = nil }, false},
		{"bad_kind", func(c *ProfileConfig) { c.Units[0].Kind = "helm" }, false},
		{"bad_id", func(c *ProfileConfig) { c.Units[0].ID = "has space" }, false},
		{"negative_timeout", func(c *ProfileConfig) { c.Units[0].TimeoutSeconds = -5 }, false},
		{"nothing_to_do", func(c *ProfileConfig) { c.Units[0].InstallCommand = "" }, false},
		{"wait_on_probe", func(c *ProfileConfig) {
			c.Units[0].InstallCommand = ""
			c.Units[0].Probe = &ProbeConfig{Type: "tcp", Address: "localhost:6443"}
		}, true},
		{"probe_missing_url", func(c *ProfileConfig) { c.Units[0].Probe = &ProbeConfig{Type: "http"} }, false},
		{"probe_bad_type", func(c *ProfileConfig) { c.Units[0].Probe = &ProbeConfig{Type: "grpc"} }, false},
		{"empty_serve", func(c *ProfileConfig) { c.Units[0].Serve = &ServeConfig{Kind: "logs"} }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := valid()
			tt.mutate(config)
			err := ValidateConfig(config)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.True(t, errors.IsValidationError(err), "expected validation error, got %v", err)
			}
		})
	}

	assert.Error(t, ValidateConfig(nil))
}

func TestBuildGraph(t *testing.T) {
	config, err := LoadConfigFromFile(writeProfile(t, "local.yaml", yamlProfile))
	require.NoError(t, err)

	g, err := BuildGraph(config, logging.NewNopLogger())
	require.NoError(t, err)
	assert.Equal(t, []string{"cluster", "minio", "web"}, g.IDs())

	cluster, _ := g.Get("cluster")
	assert.Equal(t, domain.KindNamespace, cluster.Kind)
	assert.Equal(t, probe.TypeExec, cluster.Probe.Type)
	assert.Equal(t, 2*time.Second, cluster.Probe.Interval)
	assert.Equal(t, 5, cluster.Probe.MaxAttempts)
	assert.Equal(t, probe.DefaultTimeout, cluster.Probe.Timeout)

	minio, _ := g.Get("minio")
	assert.Equal(t, 5*time.Minute, minio.Timeout)
	assert.True(t, minio.Idempotent)
	assert.Equal(t, domain.VerbInstall, minio.InstallAction().Verb)

	web, _ := g.Get("web")
	require.NotNil(t, web.Serve)
	assert.Equal(t, "kubectl port-forward svc/web 8080:80", web.Serve.Command)
	assert.Equal(t, domain.VerbBuild, web.InstallAction().Verb)
}

func TestBuildGraph_DisabledUnits(t *testing.T) {
	disabled := false
	config := &ProfileConfig{Units: []UnitConfig{
		{ID: "cluster", Kind: "namespace", InstallCommand: "x"},
		{ID: "optional", Kind: "manifest-set", InstallCommand: "y", Enabled: &disabled},
		{ID: "web", Kind: "manifest-set", InstallCommand: "z", DependsOn: []string{"cluster"}},
	}}

	g, err := BuildGraph(config, logging.NewNopLogger())
	require.NoError(t, err)
	assert.Equal(t, []string{"cluster", "web"}, g.IDs())

	config.Units[2].DependsOn = []string{"optional"}
	_, err = BuildGraph(config, logging.NewNopLogger())
	assert.True(t, errors.IsValidationError(err))
}

func TestBuildGraph_GraphErrors(t *testing.T) {
	config := &ProfileConfig{Units: []UnitConfig{
		{ID: "a", Kind: "namespace", InstallCommand: "x", DependsOn: []string{"b"}},
		{ID: "b", Kind: "namespace", InstallCommand: "y", DependsOn: []string{"a"}},
	}}
	_, err := BuildGraph(config, logging.NewNopLogger())
	assert.True(t, errors.IsCyclicDependencyError(err))

	config.Units[1].DependsOn = []string{"ghost"}
	_, err = BuildGraph(config, logging.NewNopLogger())
	assert.True(t, errors.IsUnknownUnitError(err))
}

func TestValidateConfigFile(t *testing.T) {
	config, g, err := ValidateConfigFile(writeProfile(t, "local.yml", yamlProfile))
	require.NoError(t, err)
	assert.Equal(t, "local", config.Profile.Name)
	assert.Len(t, g.Units(), 3)
}

func TestDuration_UnmarshalText(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
		ok   bool
	}{
		{"5s", 5 * time.Second, true},
		{"1m30s", 90 * time.Second, true},
		{"10", 10 * time.Second, true},
		{"", 0, true},
		{"soon", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var d Duration
			err := d.UnmarshalText([]byte(tt.in))
			if !tt.ok {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, time.Duration(d))
		})
	}
}
