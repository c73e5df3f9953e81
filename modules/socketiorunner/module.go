// Package socketiorunner implements the "socketio" scenario executor: each
// virtual user holds one Socket.IO connection and measures an emit/response
// round trip per iteration.
package socketiorunner

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"time"

	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"

	"github.com/vk/perfgate/internal/config"
	"github.com/vk/perfgate/internal/ctxlog"
	"github.com/vk/perfgate/internal/registry"
	"github.com/vk/perfgate/internal/stats"
)

// Module implements registry.Module.
type Module struct{}

// Register registers the "socketio" executor.
func (m *Module) Register(r *registry.Registry) {
	r.Register("socketio", &registry.Factory{
		NewInput: func() any { return new(Input) },
		Validate: func(scenarioName string, input any) error {
			if err := input.(*Input).validate(); err != nil {
				return fmt.Errorf("scenario %q: %w", scenarioName, err)
			}
			return nil
		},
		New: newRunner,
	})
}

// Input is the scenario options block for the socketio executor.
type Input struct {
	URL                string          `yaml:"url"`
	Namespace          string          `yaml:"namespace"`
	EmitEvent          string          `yaml:"emit-event"`
	EmitData           map[string]any  `yaml:"emit-data"`
	OnEvent            string          `yaml:"on-event"`
	Timeout            config.Duration `yaml:"timeout"`
	InsecureSkipVerify bool            `yaml:"insecure-skip-verify"`
}

// defaultTimeout bounds connection setup and each awaited response.
const defaultTimeout = 10 * time.Second

func (in *Input) validate() error {
	if in.URL == "" {
		return fmt.Errorf("socketio executor needs a url")
	}
	if in.EmitEvent == "" {
		return fmt.Errorf("socketio executor needs an emit-event")
	}
	return nil
}

func (in *Input) timeout() time.Duration {
	if in.Timeout > 0 {
		return in.Timeout.D()
	}
	return defaultTimeout
}

// Runner is one virtual user's Socket.IO connection.
type Runner struct {
	scenario  string
	input     *Input
	io        *socket.Socket
	responses chan any
}

func newRunner(ctx context.Context, scenarioName string, rawInput any) (registry.Runner, error) {
	logger := ctxlog.FromContext(ctx).With("executor", "socketio", "scenario", scenarioName)
	input := rawInput.(*Input)

	parsedURL, err := url.Parse(input.URL)
	if err != nil {
		return nil, fmt.Errorf("scenario %q: failed to parse url: %w", scenarioName, err)
	}
	baseURL := fmt.Sprintf("%s://%s", parsedURL.Scheme, parsedURL.Host)

	opts := socket.DefaultOptions()
	opts.SetPath(parsedURL.Path)
	opts.SetTransports(types.NewSet(transports.WebSocket))
	if input.InsecureSkipVerify {
		logger.Warn("Skipping TLS certificate verification")
		opts.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}

	manager := socket.NewManager(baseURL, opts)
	io := manager.Socket(input.Namespace, opts)

	r := &Runner{
		scenario:  scenarioName,
		input:     input,
		io:        io,
		responses: make(chan any, 16),
	}

	connected := make(chan error, 1)
	io.On(types.EventName("connect"), func(...any) {
		logger.Debug("Connected.", "namespace", input.Namespace, "sid", io.Id())
		select {
		case connected <- nil:
		default:
		}
	})
	io.On(types.EventName("connect_error"), func(errs ...any) {
		if len(errs) > 0 {
			if err, ok := errs[0].(error); ok {
				select {
				case connected <- err:
				default:
				}
			}
		}
	})
	if input.OnEvent != "" {
		io.On(types.EventName(input.OnEvent), func(data ...any) {
			var payload any
			if len(data) > 0 {
				payload = data[0]
			}
			select {
			case r.responses <- payload:
			default:
				// The previous iteration never consumed its response; drop.
			}
		})
	}

	io.Connect()

	select {
	case err := <-connected:
		if err != nil {
			io.Disconnect()
			return nil, fmt.Errorf("scenario %q: connection failed: %w", scenarioName, err)
		}
	case <-time.After(input.timeout()):
		io.Disconnect()
		return nil, fmt.Errorf("scenario %q: timed out waiting for initial connection", scenarioName)
	case <-ctx.Done():
		io.Disconnect()
		return nil, ctx.Err()
	}
	return r, nil
}

// Iterate emits the configured event and, when on-event is set, waits for the
// response within the timeout.
func (r *Runner) Iterate(ctx context.Context) ([]stats.Sample, error) {
	sample := stats.Sample{
		Scenario: r.scenario,
		Label:    r.input.EmitEvent,
		Start:    time.Now(),
	}

	if err := r.io.Emit(r.input.EmitEvent, r.input.EmitData); err != nil {
		sample.Latency = time.Since(sample.Start)
		sample.Error = err.Error()
		return []stats.Sample{sample}, nil
	}

	if r.input.OnEvent != "" {
		select {
		case <-r.responses:
		case <-time.After(r.input.timeout()):
			sample.Error = fmt.Sprintf("timed out waiting for event %q", r.input.OnEvent)
		case <-ctx.Done():
			sample.Error = ctx.Err().Error()
		}
	}
	sample.Latency = time.Since(sample.Start)
	return []stats.Sample{sample}, nil
}

// Close disconnects the virtual user's socket.
func (r *Runner) Close() error {
	r.io.Disconnect()
	return nil
}
