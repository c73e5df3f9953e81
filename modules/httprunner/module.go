// Package httprunner implements the default "http" scenario executor: each
// virtual user owns one HTTP client and plays the scenario's request list on
// every iteration.
package httprunner

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	resty "resty.dev/v3"

	"gopkg.in/yaml.v3"

	"github.com/vk/perfgate/internal/config"
	"github.com/vk/perfgate/internal/registry"
	"github.com/vk/perfgate/internal/stats"
)

// Module implements registry.Module.
type Module struct{}

// Register registers the "http" executor.
func (m *Module) Register(r *registry.Registry) {
	r.Register("http", &registry.Factory{
		NewInput: func() any { return new(Input) },
		Validate: validateInput,
		New:      newRunner,
	})
}

// Input is the scenario options block for the http executor.
type Input struct {
	Timeout        config.Duration   `yaml:"timeout"`
	DefaultAddress string            `yaml:"default-address"`
	ThinkTime      config.Duration   `yaml:"think-time"`
	Headers        map[string]string `yaml:"headers"`
	Requests       []*Request        `yaml:"requests"`
}

// Request is one element of the scenario's request list.
type Request struct {
	URL          string            `yaml:"url"`
	Label        string            `yaml:"label"`
	Method       string            `yaml:"method"`
	Headers      map[string]string `yaml:"headers"`
	Body         string            `yaml:"body"`
	ExpectStatus int               `yaml:"expect-status"`
	ThinkTime    config.Duration   `yaml:"think-time"`
}

// UnmarshalYAML also accepts the compact form where a request is just a URL
// string.
func (r *Request) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		return value.Decode(&r.URL)
	}
	type plain Request
	return value.Decode((*plain)(r))
}

// Runner is a single virtual user's HTTP client.
type Runner struct {
	scenario string
	input    *Input
	client   *resty.Client
}

// validateInput rejects a broken scenario before any virtual user or prepare
// hook runs.
func validateInput(scenarioName string, rawInput any) error {
	if len(rawInput.(*Input).Requests) == 0 {
		return fmt.Errorf("scenario %q: http executor needs a non-empty request list", scenarioName)
	}
	return nil
}

func newRunner(ctx context.Context, scenarioName string, rawInput any) (registry.Runner, error) {
	input := rawInput.(*Input)

	client := resty.New()
	if input.Timeout > 0 {
		client.SetTimeout(input.Timeout.D())
	}
	if input.DefaultAddress != "" {
		client.SetBaseURL(strings.TrimRight(input.DefaultAddress, "/"))
	}
	for key, val := range input.Headers {
		client.SetHeader(key, val)
	}

	return &Runner{scenario: scenarioName, input: input, client: client}, nil
}

// Iterate plays the request list once, producing one sample per request.
func (r *Runner) Iterate(ctx context.Context) ([]stats.Sample, error) {
	samples := make([]stats.Sample, 0, len(r.input.Requests))
	for _, request := range r.input.Requests {
		if ctx.Err() != nil {
			return samples, nil
		}
		samples = append(samples, r.fire(ctx, request))

		thinkTime := request.ThinkTime.D()
		if thinkTime <= 0 {
			thinkTime = r.input.ThinkTime.D()
		}
		if thinkTime > 0 {
			select {
			case <-ctx.Done():
				return samples, nil
			case <-time.After(thinkTime):
			}
		}
	}
	return samples, nil
}

func (r *Runner) fire(ctx context.Context, request *Request) stats.Sample {
	sample := stats.Sample{
		Scenario: r.scenario,
		Label:    request.label(),
		Start:    time.Now(),
	}

	req := r.client.R().SetContext(ctx)
	for key, val := range request.Headers {
		req.SetHeader(key, val)
	}
	if request.Body != "" {
		req.SetBody(request.Body)
	}

	resp, err := req.Execute(request.method(), request.URL)
	sample.Latency = time.Since(sample.Start)
	if err != nil {
		sample.Error = err.Error()
		return sample
	}

	sample.Status = resp.StatusCode()
	sample.Bytes = resp.Size()
	if !request.accepts(resp.StatusCode()) {
		sample.Error = fmt.Sprintf("unexpected status %s", resp.Status())
	}
	return sample
}

// Close releases the virtual user's connections.
func (r *Runner) Close() error {
	return r.client.Close()
}

func (r *Request) label() string {
	if r.Label != "" {
		return r.Label
	}
	return r.URL
}

func (r *Request) method() string {
	if r.Method == "" {
		return http.MethodGet
	}
	return strings.ToUpper(r.Method)
}

// accepts applies the explicit expectation when one is set, otherwise any
// non-4xx/5xx status counts as success.
func (r *Request) accepts(status int) bool {
	if r.ExpectStatus > 0 {
		return status == r.ExpectStatus
	}
	return status < http.StatusBadRequest
}
