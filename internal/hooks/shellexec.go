// Package hooks runs the shell commands that bracket a load run: prepare
// hooks start the system under test, post-process hooks tear it down again.
package hooks

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/vk/perfgate/internal/config"
	"github.com/vk/perfgate/internal/ctxlog"
)

// shellExecModule is the only service module this engine implements.
const shellExecModule = "shellexec"

// ShellExec executes the hook commands of every shellexec service block.
type ShellExec struct {
	services []*config.Service
	env      []string
}

// New creates a hook runner. extraEnv entries ("KEY=VALUE") are appended to
// the process environment of every command.
func New(services []*config.Service, extraEnv []string) *ShellExec {
	return &ShellExec{services: services, env: extraEnv}
}

// Prepare runs every prepare command in order and then waits for the
// configured readiness probes. The first failure aborts: loading a target
// that never came up would only produce noise.
func (s *ShellExec) Prepare(ctx context.Context) error {
	for _, svc := range s.services {
		if !s.applies(ctx, svc) {
			continue
		}
		for _, command := range svc.Prepare {
			if err := s.run(ctx, "prepare", command); err != nil {
				return err
			}
		}
		if svc.WaitFor != "" {
			if err := waitForTarget(ctx, svc.WaitFor, svc.WaitTimeout.D()); err != nil {
				return err
			}
		}
	}
	return nil
}

// PostProcess runs every post-process command. All commands run even when
// some fail; the collected errors are returned.
func (s *ShellExec) PostProcess(ctx context.Context) error {
	var errs []error
	for _, svc := range s.services {
		if !s.applies(ctx, svc) {
			continue
		}
		for _, command := range svc.PostProcess {
			if err := s.run(ctx, "post-process", command); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (s *ShellExec) applies(ctx context.Context, svc *config.Service) bool {
	if svc.Module == "" || svc.Module == shellExecModule {
		return true
	}
	ctxlog.FromContext(ctx).Warn("Skipping unknown service module.", "module", svc.Module)
	return false
}

func (s *ShellExec) run(ctx context.Context, phase, command string) error {
	logger := ctxlog.FromContext(ctx)
	logger.Info("Running hook command.", "phase", phase, "command", command)

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Env = append(os.Environ(), s.env...)

	output, err := cmd.CombinedOutput()
	if trimmed := strings.TrimSpace(string(output)); trimmed != "" {
		logger.Debug("Hook command output.", "phase", phase, "output", trimmed)
	}
	if err != nil {
		return fmt.Errorf("%s command %q failed: %w (output: %s)", phase, command, err, strings.TrimSpace(string(output)))
	}
	return nil
}
