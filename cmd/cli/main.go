package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/vk/perfgate/internal/app"
	"github.com/vk/perfgate/internal/cli"
	"github.com/vk/perfgate/internal/yamlplan"
)

// main is the entrypoint for the perfgate binary.
func main() {
	// Use a minimal logger until the full one is configured.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	// The real main function handles errors and exit codes.
	if err := run(os.Stdout, os.Args[1:]); err != nil {
		var exitErr *cli.ExitError
		if errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, exitErr.Message)
			os.Exit(exitErr.Code)
		}
		var criteriaErr *app.CriteriaError
		if errors.As(err, &criteriaErr) {
			fmt.Fprintln(os.Stderr, criteriaErr.Error())
			os.Exit(cli.ExitCriteriaFailed)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run encapsulates the main application logic for easier testing and error handling.
func run(outW io.Writer, args []string) (err error) {
	appConfig, shouldExit, parseErr := cli.Parse(args, outW)
	if parseErr != nil {
		return parseErr
	}
	if shouldExit {
		return nil
	}

	// The app panics on critical config errors, so we recover here to turn
	// them into a clean error for the caller.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("application startup panicked: %v", r)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Instantiate the concrete YAML loader to pass to the app.
	loader := yamlplan.NewLoader(appConfig.Vars)
	perfgateApp := app.NewApp(outW, appConfig, loader)

	return perfgateApp.Run(ctx, appConfig)
}
