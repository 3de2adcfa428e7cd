package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/core-tools/hsu-envctl/pkg/domain"
	"github.com/core-tools/hsu-envctl/pkg/errors"
	"github.com/core-tools/hsu-envctl/pkg/graph"
	"github.com/core-tools/hsu-envctl/pkg/logging"
	"github.com/core-tools/hsu-envctl/pkg/probe"
)

const (
	DefaultConcurrency = 4
	DefaultLogLevel    = "info"
	DefaultLogFormat   = "console"
)

// ProfileConfig is the top-level structure of a profile document
type ProfileConfig struct {
	Profile ProfileOptions `yaml:"profile" toml:"profile"`
	Units   []UnitConfig   `yaml:"units" toml:"units"`
}

// ProfileOptions holds the profile-wide settings
type ProfileOptions struct {
	Name        string            `yaml:"name" toml:"name"`
	LogLevel    string            `yaml:"logLevel,omitempty" toml:"logLevel,omitempty"`
	LogFormat   string            `yaml:"logFormat,omitempty" toml:"logFormat,omitempty"`
	Concurrency int               `yaml:"concurrency,omitempty" toml:"concurrency,omitempty"`
	StateDir    string            `yaml:"stateDir,omitempty" toml:"stateDir,omitempty"`
	Shell       string            `yaml:"shell,omitempty" toml:"shell,omitempty"`
	WorkDir     string            `yaml:"workDir,omitempty" toml:"workDir,omitempty"`
	Vars        map[string]string `yaml:"vars,omitempty" toml:"vars,omitempty"`
	Env         map[string]string `yaml:"env,omitempty" toml:"env,omitempty"`
}

// UnitConfig is a single deployable unit
type UnitConfig struct {
	ID             string            `yaml:"id" toml:"id"`
	Kind           string            `yaml:"kind" toml:"kind"`
	Description    string            `yaml:"description,omitempty" toml:"description,omitempty"`
	Enabled        *bool             `yaml:"enabled,omitempty" toml:"enabled,omitempty"` // Pointer to distinguish unset from false
	DependsOn      []string          `yaml:"dependsOn,omitempty" toml:"dependsOn,omitempty"`
	InstallCommand string            `yaml:"installCommand,omitempty" toml:"installCommand,omitempty"`
	RemoveCommand  string            `yaml:"removeCommand,omitempty" toml:"removeCommand,omitempty"`
	Probe          *ProbeConfig      `yaml:"probe,omitempty" toml:"probe,omitempty"`
	TimeoutSeconds int               `yaml:"timeoutSeconds,omitempty" toml:"timeoutSeconds,omitempty"`
	Idempotent     bool              `yaml:"idempotent,omitempty" toml:"idempotent,omitempty"`
	Env            map[string]string `yaml:"env,omitempty" toml:"env,omitempty"`
	Vars           map[string]string `yaml:"vars,omitempty" toml:"vars,omitempty"`
	Serve          *ServeConfig      `yaml:"serve,omitempty" toml:"serve,omitempty"`
}

// ProbeConfig is the readiness check of a unit
type ProbeConfig struct {
	Type         string   `yaml:"type" toml:"type"`
	Command      string   `yaml:"command,omitempty" toml:"command,omitempty"`
	URL          string   `yaml:"url,omitempty" toml:"url,omitempty"`
	Method       string   `yaml:"method,omitempty" toml:"method,omitempty"`
	Address      string   `yaml:"address,omitempty" toml:"address,omitempty"`
	Interval     Duration `yaml:"interval,omitempty" toml:"interval,omitempty"`
	Timeout      Duration `yaml:"timeout,omitempty" toml:"timeout,omitempty"`
	InitialDelay Duration `yaml:"initialDelay,omitempty" toml:"initialDelay,omitempty"`
	MaxAttempts  int      `yaml:"maxAttempts,omitempty" toml:"maxAttempts,omitempty"`
}

// ServeConfig is the long-running companion process of a unit
type ServeConfig struct {
	Kind    string `yaml:"kind,omitempty" toml:"kind,omitempty"`
	Command string `yaml:"command" toml:"command"`
}

// Duration accepts Go duration strings ("5s", "2m") or a bare number of seconds
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if s == "" {
		*d = 0
		return nil
	}
	if seconds, err := strconv.Atoi(s); err == nil {
		*d = Duration(time.Duration(seconds) * time.Second)
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return errors.NewValidationError("invalid duration: "+s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// IsEnabled reports whether the unit takes part in the graph
func (u UnitConfig) IsEnabled() bool {
	return u.Enabled == nil || *u.Enabled
}

// LoadConfigFromFile loads a profile from a YAML (.yaml, .yml) or TOML (.toml) file
func LoadConfigFromFile(filename string) (*ProfileConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.NewIOError("failed to read profile file", err).WithContext("filename", filename)
	}

	var config ProfileConfig
	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".yaml", ".yml":
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)
		if err := decoder.Decode(&config); err != nil {
			return nil, errors.NewValidationError("failed to parse YAML profile", err).WithContext("filename", filename)
		}
	case ".toml":
		decoder := toml.NewDecoder(bytes.NewReader(data))
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&config); err != nil {
			return nil, errors.NewValidationError("failed to parse TOML profile", err).WithContext("filename", filename)
		}
	default:
		return nil, errors.NewValidationError(fmt.Sprintf("unsupported profile format: %q", ext), nil).
			WithContext("filename", filename).
			WithContext("supported_formats", ".yaml, .yml, .toml")
	}

	if config.Profile.Name == "" {
		config.Profile.Name = strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	}

	// Set defaults
	if err := setConfigDefaults(&config); err != nil {
		return nil, errors.NewValidationError("failed to apply profile defaults", err)
	}

	return &config, nil
}

// ValidateConfigFile loads, validates and builds the graph of a profile
func ValidateConfigFile(filename string) (*ProfileConfig, *graph.Graph, error) {
	config, err := LoadConfigFromFile(filename)
	if err != nil {
		return nil, nil, err
	}
	if err := ValidateConfig(config); err != nil {
		return nil, nil, err
	}
	g, err := BuildGraph(config, logging.NewNopLogger())
	if err != nil {
		return nil, nil, err
	}
	return config, g, nil
}

// setConfigDefaults applies default values to configuration
func setConfigDefaults(config *ProfileConfig) error {
	if config.Profile.LogLevel == "" {
		config.Profile.LogLevel = DefaultLogLevel
	}
	if config.Profile.LogFormat == "" {
		config.Profile.LogFormat = DefaultLogFormat
	}
	if config.Profile.Concurrency == 0 {
		config.Profile.Concurrency = DefaultConcurrency
	}

	for i := range config.Units {
		unit := &config.Units[i]

		// Default enabled to true if not specified
		if unit.Enabled == nil {
			enabled := true
			unit.Enabled = &enabled
		}

		if unit.Serve != nil && unit.Serve.Kind == "" {
			unit.Serve.Kind = graph.DefaultServeKind
		}
	}

	return nil
}

// ValidateConfig validates the entire profile structure
func ValidateConfig(config *ProfileConfig) error {
	if config == nil {
		return errors.NewValidationError("configuration cannot be nil", nil)
	}

	if err := validateProfileOptions(&config.Profile); err != nil {
		return errors.NewValidationError("invalid profile options", err)
	}

	if err := validateUnitsConfig(config.Units); err != nil {
		return errors.NewValidationError("invalid units configuration", err)
	}

	return nil
}

func validateProfileOptions(options *ProfileOptions) error {
	if _, err := logging.ParseLevel(options.LogLevel); err != nil {
		return errors.NewValidationError(fmt.Sprintf("invalid log level: %s", options.LogLevel), nil).
			WithContext("valid_levels", "debug, info, warn, error")
	}
	if options.LogFormat != "console" && options.LogFormat != "json" {
		return errors.NewValidationError(fmt.Sprintf("invalid log format: %s", options.LogFormat), nil).
			WithContext("valid_formats", "console, json")
	}
	if options.Concurrency < 1 {
		return errors.NewValidationError(fmt.Sprintf("concurrency must be at least 1, got %d", options.Concurrency), nil)
	}
	return nil
}

func validateUnitsConfig(units []UnitConfig) error {
	if len(units) == 0 {
		return errors.NewValidationError("profile declares no units", nil)
	}

	for i, unit := range units {
		if err := validateUnitConfig(unit); err != nil {
			return errors.NewValidationError(fmt.Sprintf("invalid unit at index %d", i), err).
				WithContext("unit_id", unit.ID)
		}
	}
	return nil
}

func validateUnitConfig(unit UnitConfig) error {
	if err := graph.ValidateUnitID(unit.ID); err != nil {
		return err
	}

	if !domain.Kind(unit.Kind).Valid() {
		return errors.NewValidationError(fmt.Sprintf("unsupported unit kind: %s", unit.Kind), nil).
			WithContext("supported_kinds", kindList())
	}

	if unit.TimeoutSeconds < 0 {
		return errors.NewValidationError("timeoutSeconds cannot be negative", nil)
	}

	probeConfig := toProbeConfig(unit.Probe)
	if err := probe.Validate(probeConfig); err != nil {
		return errors.NewValidationError("invalid probe", err)
	}

	if strings.TrimSpace(unit.InstallCommand) == "" && !probeConfig.Enabled() {
		return errors.NewValidationError("unit needs an installCommand or a probe to wait on", nil)
	}

	if unit.Serve != nil && strings.TrimSpace(unit.Serve.Command) == "" {
		return errors.NewValidationError("serve command cannot be empty", nil)
	}

	return nil
}

// BuildUnits converts the enabled unit configurations into graph units
func BuildUnits(config *ProfileConfig, logger logging.Logger) ([]graph.Unit, error) {
	if config == nil {
		return nil, errors.NewValidationError("configuration cannot be nil", nil)
	}

	disabled := make(map[string]bool)
	for _, unitConfig := range config.Units {
		if !unitConfig.IsEnabled() {
			disabled[unitConfig.ID] = true
		}
	}

	units := make([]graph.Unit, 0, len(config.Units))
	for _, unitConfig := range config.Units {
		if disabled[unitConfig.ID] {
			logger.Infof("Skipping disabled unit, id: %s", unitConfig.ID)
			continue
		}

		for _, dep := range unitConfig.DependsOn {
			if disabled[dep] {
				return nil, errors.NewValidationError("unit depends on a disabled unit", nil).
					WithContext("unit", unitConfig.ID).
					WithContext("dependency", dep)
			}
		}

		units = append(units, toUnit(unitConfig))
	}
	return units, nil
}

// BuildGraph converts the profile into a validated dependency graph
func BuildGraph(config *ProfileConfig, logger logging.Logger) (*graph.Graph, error) {
	units, err := BuildUnits(config, logger)
	if err != nil {
		return nil, err
	}
	return graph.New(units)
}

func toUnit(c UnitConfig) graph.Unit {
	unit := graph.Unit{
		ID:             c.ID,
		Kind:           domain.Kind(c.Kind),
		Description:    c.Description,
		DependsOn:      c.DependsOn,
		InstallCommand: c.InstallCommand,
		RemoveCommand:  c.RemoveCommand,
		Probe:          toProbeConfig(c.Probe).WithDefaults(),
		Timeout:        time.Duration(c.TimeoutSeconds) * time.Second,
		Idempotent:     c.Idempotent,
		Env:            c.Env,
		Vars:           c.Vars,
	}
	if c.Serve != nil {
		unit.Serve = &graph.ServeSpec{Kind: c.Serve.Kind, Command: c.Serve.Command}
	}
	return unit
}

// toProbeConfig converts the document form; defaults are applied so that
// validation sees the effective budget.
func toProbeConfig(c *ProbeConfig) probe.Config {
	if c == nil || c.Type == "none" {
		return probe.Config{}
	}
	return probe.Config{
		Type:         probe.Type(c.Type),
		Command:      c.Command,
		URL:          c.URL,
		Method:       c.Method,
		Address:      c.Address,
		Interval:     time.Duration(c.Interval),
		Timeout:      time.Duration(c.Timeout),
		InitialDelay: time.Duration(c.InitialDelay),
		MaxAttempts:  c.MaxAttempts,
	}.WithDefaults()
}

func kindList() string {
	names := make([]string, len(domain.Kinds))
	for i, k := range domain.Kinds {
		names[i] = string(k)
	}
	return strings.Join(names, ", ")
}
