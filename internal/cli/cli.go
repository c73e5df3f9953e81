package cli

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/vk/perfgate/internal/app"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// Exit codes of the perfgate binary.
const (
	ExitUsage          = 2
	ExitCriteriaFailed = 3
)

// varsFlag collects repeated -var KEY=VALUE flags.
type varsFlag map[string]string

func (v varsFlag) String() string {
	return fmt.Sprintf("%d variables", len(v))
}

func (v varsFlag) Set(raw string) error {
	key, value, found := strings.Cut(raw, "=")
	if !found || key == "" {
		return fmt.Errorf("invalid variable %q, want KEY=VALUE", raw)
	}
	v[key] = value
	return nil
}

// Parse processes command-line arguments. It returns a populated app config,
// a boolean indicating if the program should exit cleanly, or an ExitError.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	slog.Debug("CLI parser started.")
	flagSet := flag.NewFlagSet("perfgate", flag.ContinueOnError)
	flagSet.SetOutput(output)

	flagSet.Usage = func() {
		fmt.Fprint(output, `
perfgate - a declarative performance-test gate.

Usage:
  perfgate [options] PLAN_PATH...

Arguments:
  PLAN_PATH
    One or more .yml plan files, or directories containing them. Later
    files merge over earlier ones.

Options:
`)
		flagSet.PrintDefaults()
	}

	vars := varsFlag{}
	flagSet.Var(vars, "var", "Plan variable as KEY=VALUE; wins over the environment. Repeatable.")
	reportFlag := flagSet.String("report", "", "Path for the JSON results file. Empty disables it.")
	statusPortFlag := flagSet.Int("status-port", 0, "Port for the /health and /metrics server. 0 is disabled.")
	logFormatFlag := flagSet.String("log-format", "json", "Log output format. Options: 'text' or 'json'.")
	logLevelFlag := flagSet.String("log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")

	if err := flagSet.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: ExitUsage, Message: err.Error()}
	}
	slog.Debug("Arguments parsed successfully.")

	if flagSet.NArg() == 0 {
		slog.Debug("No plan path provided, printing usage and exiting.")
		flagSet.Usage()
		return nil, true, nil
	}

	logFormat := strings.ToLower(*logFormatFlag)
	if logFormat != "text" && logFormat != "json" {
		return nil, false, &ExitError{Code: ExitUsage, Message: "invalid log-format: must be 'text' or 'json'"}
	}

	logLevel := strings.ToLower(*logLevelFlag)
	switch logLevel {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return nil, false, &ExitError{Code: ExitUsage, Message: "invalid log-level: must be 'debug', 'info', 'warn', or 'error'"}
	}

	config, err := app.NewConfig(app.Config{
		PlanPaths:  flagSet.Args(),
		Vars:       vars,
		ReportPath: *reportFlag,
		StatusPort: *statusPortFlag,
		LogFormat:  logFormat,
		LogLevel:   logLevel,
	})
	if err != nil {
		return nil, false, &ExitError{Code: ExitUsage, Message: err.Error()}
	}

	slog.Debug("CLI parser finished successfully.")
	return config, false, nil
}
