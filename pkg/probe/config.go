package probe

import (
	"time"

	"github.com/core-tools/hsu-envctl/pkg/errors"
)

type Type string

const (
	TypeNone Type = ""
	TypeExec Type = "exec"
	TypeHTTP Type = "http"
	TypeTCP  Type = "tcp"
)

const (
	DefaultInterval    = 5 * time.Second
	DefaultTimeout     = 3 * time.Second
	DefaultMaxAttempts = 12
)

// Config describes how readiness of a unit is checked and the retry budget.
type Config struct {
	Type Type

	// exec
	Command string

	// http
	URL    string
	Method string

	// tcp, host:port
	Address string

	Interval     time.Duration
	Timeout      time.Duration
	InitialDelay time.Duration
	MaxAttempts  int
}

// Enabled reports whether the unit has a readiness probe at all.
func (c Config) Enabled() bool {
	return c.Type != TypeNone
}

// WithDefaults fills unset budget fields.
func (c Config) WithDefaults() Config {
	if !c.Enabled() {
		return c
	}
	if c.Interval == 0 {
		c.Interval = DefaultInterval
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.Type == TypeHTTP && c.Method == "" {
		c.Method = "GET"
	}
	return c
}

// Validate checks a probe configuration after defaults are applied.
func Validate(c Config) error {
	switch c.Type {
	case TypeNone:
		return nil
	case TypeExec:
		if c.Command == "" {
			return errors.NewValidationError("command is required for exec probe", nil)
		}
	case TypeHTTP:
		if c.URL == "" {
			return errors.NewValidationError("URL is required for http probe", nil)
		}
	case TypeTCP:
		if c.Address == "" {
			return errors.NewValidationError("address is required for tcp probe", nil)
		}
	default:
		return errors.NewValidationError("unsupported probe type: "+string(c.Type), nil)
	}

	if c.Interval <= 0 {
		return errors.NewValidationError("probe interval must be positive", nil)
	}
	if c.Timeout <= 0 {
		return errors.NewValidationError("probe timeout must be positive", nil)
	}
	if c.MaxAttempts <= 0 {
		return errors.NewValidationError("probe max attempts must be positive", nil)
	}
	if c.InitialDelay < 0 {
		return errors.NewValidationError("probe initial delay cannot be negative", nil)
	}
	return nil
}
