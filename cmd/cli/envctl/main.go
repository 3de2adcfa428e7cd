package main

import (
	"context"
	"fmt"
	"os"

	flags "github.com/jessevdk/go-flags"

	"github.com/core-tools/hsu-envctl/pkg/config"
	"github.com/core-tools/hsu-envctl/pkg/domain"
	"github.com/core-tools/hsu-envctl/pkg/envctl"
	"github.com/core-tools/hsu-envctl/pkg/errors"
	"github.com/core-tools/hsu-envctl/pkg/logging"
	"github.com/core-tools/hsu-envctl/pkg/planner"
	"github.com/core-tools/hsu-envctl/pkg/report"
)

type globalOptions struct {
	Profile     string `short:"p" long:"profile" description:"path to the profile file (.yaml, .yml or .toml)" required:"true"`
	LogLevel    string `long:"log-level" description:"overrides the profile log level (debug, info, warn, error)"`
	LogFormat   string `long:"log-format" description:"overrides the profile log format (console, json)"`
	StateDir    string `long:"state-dir" description:"directory holding the state database, PID files and session logs"`
	Concurrency int    `long:"concurrency" description:"maximum number of units reconciled at once"`
}

type unitsArgs struct {
	Units []string `positional-arg-name:"unit" description:"units to act on, all units when omitted"`
}

type upCommand struct {
	Args unitsArgs `positional-args:"yes"`
}

type downCommand struct {
	Args unitsArgs `positional-args:"yes"`
}

type statusCommand struct {
	Probe bool `long:"probe" description:"re-probe units recorded as ready before printing"`
}

type serveCommand struct {
	Kind string `long:"kind" description:"session kind, defaults to the kind declared by the unit"`
	Args struct {
		Unit string `positional-arg-name:"unit" required:"yes"`
	} `positional-args:"yes"`
}

type graphCommand struct {
	Format string `long:"format" choice:"dot" choice:"mermaid" default:"dot" description:"output format"`
}

type historyCommand struct {
	Limit int    `long:"limit" default:"20" description:"number of runs to show"`
	Run   string `long:"run" description:"show the unit outcomes of one run, by ID or ID prefix"`
}

type validateCommand struct{}

type flagOptions struct {
	Global globalOptions `group:"Global Options"`

	Up       upCommand       `command:"up" description:"install the given units and everything they depend on"`
	Down     downCommand     `command:"down" description:"remove exactly the given units, dependents first"`
	Status   statusCommand   `command:"status" description:"show the last known state of every unit and the active sessions"`
	Serve    serveCommand    `command:"serve" description:"start the serve command of a unit in the background"`
	Unserve  serveCommand    `command:"unserve" description:"stop a background serve session"`
	History  historyCommand  `command:"history" description:"show recorded runs"`
	Graph    graphCommand    `command:"graph" description:"print the dependency graph"`
	Validate validateCommand `command:"validate" description:"check the profile and print the install order"`
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(argv []string) int {
	var opts flagOptions
	parser := flags.NewParser(&opts, flags.HelpFlag|flags.PassDoubleDash)
	if _, err := parser.ParseArgs(argv); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			fmt.Println(err)
			return report.ExitOK
		}
		fmt.Fprintf(os.Stderr, "Command line flags parsing failed: %v\n", err)
		return report.ExitUsage
	}

	profile, err := config.LoadConfigFromFile(opts.Global.Profile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load profile: %v\n", err)
		return report.ExitUsage
	}
	if opts.Global.LogLevel != "" {
		profile.Profile.LogLevel = opts.Global.LogLevel
	}
	if opts.Global.LogFormat != "" {
		profile.Profile.LogFormat = opts.Global.LogFormat
	}
	if err := config.ValidateConfig(profile); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid profile: %v\n", err)
		return report.ExitUsage
	}

	logFuncs, syncLogs, err := logging.NewZapLogFuncs(logging.ZapConfig{
		Level:  profile.Profile.LogLevel,
		Format: profile.Profile.LogFormat,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		return report.ExitUsage
	}
	defer syncLogs()
	logger := logging.NewLogger("envctl: ", logFuncs)

	command := parser.Active.Name
	logger.Debugf("Command: %s, opts: %+v", command, opts.Global)

	switch command {
	case "validate":
		return validate(opts.Global.Profile, logger)
	case "graph":
		return printGraph(profile, opts.Graph.Format, logger)
	}

	ctx, stop := envctl.WithSignals(context.Background(), report.ExitIncomplete, logger)
	defer stop()

	e, err := envctl.New(ctx, profile, envctl.Options{
		StateDir:    opts.Global.StateDir,
		Concurrency: opts.Global.Concurrency,
	}, logger)
	if err != nil {
		logger.Errorf("Failed to initialize: %v", err)
		return exitCodeFor(err)
	}
	defer e.Close()

	switch command {
	case "up":
		result, err := e.Up(ctx, opts.Up.Args.Units)
		if err != nil {
			logger.Errorf("Up failed: %v", err)
			return exitCodeFor(err)
		}
		return report.ExitCode(result)

	case "down":
		result, err := e.Down(ctx, opts.Down.Args.Units)
		if err != nil {
			logger.Errorf("Down failed: %v", err)
			return exitCodeFor(err)
		}
		return report.ExitCode(result)

	case "status":
		verification, err := e.Status(ctx, opts.Status.Probe)
		if err != nil {
			logger.Errorf("Status failed: %v", err)
			return exitCodeFor(err)
		}
		if verification != nil {
			return report.ExitCode(*verification)
		}
		return report.ExitOK

	case "serve":
		s, err := e.Serve(ctx, opts.Serve.Args.Unit, opts.Serve.Kind)
		if err != nil {
			logger.Errorf("Serve failed: %v", err)
			return exitCodeFor(err)
		}
		fmt.Printf("Serving %s (%s), PID %d, log: %s\n", s.UnitID, s.Kind, s.PID, s.LogFile)
		return report.ExitOK

	case "history":
		if err := e.History(ctx, opts.History.Limit, opts.History.Run); err != nil {
			logger.Errorf("History failed: %v", err)
			return exitCodeFor(err)
		}
		return report.ExitOK

	case "unserve":
		if err := e.Unserve(ctx, opts.Unserve.Args.Unit, opts.Unserve.Kind); err != nil {
			logger.Errorf("Unserve failed: %v", err)
			return exitCodeFor(err)
		}
		return report.ExitOK
	}

	fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
	return report.ExitUsage
}

func validate(path string, logger logging.Logger) int {
	profile, g, err := config.ValidateConfigFile(path)
	if err != nil {
		logger.Errorf("Invalid profile: %v", err)
		return report.ExitUsage
	}

	plan, err := planner.NewPlanner(g).Plan(g.IDs(), domain.ModeUp)
	if err != nil {
		logger.Errorf("Failed to plan: %v", err)
		return report.ExitUsage
	}

	fmt.Printf("Profile %s is valid, %d units\n", profile.Profile.Name, len(plan.Steps))
	for i, step := range plan.Steps {
		fmt.Printf("%3d. %s (%s, %s)\n", i+1, step.Unit.ID, step.Unit.Kind, step.Action.Verb)
	}
	return report.ExitOK
}

func printGraph(profile *config.ProfileConfig, format string, logger logging.Logger) int {
	g, err := config.BuildGraph(profile, logger)
	if err != nil {
		logger.Errorf("Invalid graph: %v", err)
		return report.ExitUsage
	}

	text, err := envctl.ExportGraph(g, format)
	if err != nil {
		logger.Errorf("Failed to export graph: %v", err)
		return report.ExitUsage
	}
	fmt.Print(text)
	return report.ExitOK
}

// exitCodeFor maps errors raised before any unit ran.
func exitCodeFor(err error) int {
	switch {
	case errors.IsValidationError(err), errors.IsUnknownUnitError(err), errors.IsCyclicDependencyError(err):
		return report.ExitUsage
	default:
		return report.ExitFailed
	}
}
