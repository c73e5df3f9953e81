package hooks

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	resty "resty.dev/v3"

	"github.com/vk/perfgate/internal/ctxlog"
)

// defaultWaitTimeout bounds the readiness probe when the plan sets none.
const defaultWaitTimeout = 30 * time.Second

// waitForTarget probes the URL with exponential backoff until it answers
// with a 2xx/3xx status or the timeout elapses. This replaces the fixed
// warm-up sleeps such plans traditionally carried after their start command.
func waitForTarget(ctx context.Context, url string, timeout time.Duration) error {
	logger := ctxlog.FromContext(ctx)
	if timeout <= 0 {
		timeout = defaultWaitTimeout
	}
	logger.Info("Waiting for target to become ready.", "url", url, "timeout", timeout)

	client := resty.New().SetTimeout(5 * time.Second)
	defer client.Close()

	probe := func() error {
		resp, err := client.R().SetContext(ctx).Get(url)
		if err != nil {
			return err
		}
		// A 404 from a wrong health path is not readiness.
		if resp.StatusCode() >= http.StatusBadRequest {
			return fmt.Errorf("target answered %s", resp.Status())
		}
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond
	policy.MaxElapsedTime = timeout

	if err := backoff.Retry(probe, backoff.WithContext(policy, ctx)); err != nil {
		return fmt.Errorf("target %q did not become ready within %s: %w", url, timeout, err)
	}
	logger.Info("Target is ready.", "url", url)
	return nil
}
