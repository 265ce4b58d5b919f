// Package probe implements the bounded-retry health polling primitive
// shared by every pipeline stage that waits on a service.
package probe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrNotReady is returned by Wait when the attempt budget is exhausted
// before the service reports ready.
var ErrNotReady = errors.New("service not ready")

// Probe checks the readiness of one service. Check returns nil when the
// service is ready; any error counts as a not-ready attempt.
type Probe interface {
	Name() string
	Check(ctx context.Context) error
}

// Result describes the outcome of a Wait call.
type Result struct {
	Ready    bool
	Attempts int
	// LastErr holds the final attempt's error when the probe timed out.
	LastErr error
}

// Wait polls p every interval until it reports ready or maxAttempts
// consecutive attempts have failed. Each attempt runs under its own
// timeout, so one slow attempt cannot consume the whole budget. The
// surrounding pipeline blocks here on purpose: it must not proceed
// against a dependency that is not up yet.
func Wait(ctx context.Context, p Probe, maxAttempts int, interval, timeout time.Duration) (Result, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		err := p.Check(attemptCtx)
		cancel()

		if err == nil {
			return Result{Ready: true, Attempts: attempt}, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return Result{Attempts: attempt, LastErr: ctx.Err()}, ctx.Err()
		}
		if attempt < maxAttempts {
			select {
			case <-time.After(interval):
			case <-ctx.Done():
				return Result{Attempts: attempt, LastErr: ctx.Err()}, ctx.Err()
			}
		}
	}

	return Result{Attempts: maxAttempts, LastErr: lastErr},
		fmt.Errorf("%w: %s after %d attempts: %v", ErrNotReady, p.Name(), maxAttempts, lastErr)
}

// Execer runs a command inside a service container.
type Execer interface {
	Exec(ctx context.Context, container string, cmd []string) (exitCode int, output string, err error)
}

// ExecProbe reports ready when a command inside the container exits 0.
type ExecProbe struct {
	Service   string
	Container string
	Command   []string
	Runtime   Execer
}

func (p ExecProbe) Name() string { return p.Service }

func (p ExecProbe) Check(ctx context.Context) error {
	code, out, err := p.Runtime.Exec(ctx, p.Container, p.Command)
	if err != nil {
		return err
	}
	if code != 0 {
		return fmt.Errorf("exit %d: %s", code, firstLine(out))
	}
	return nil
}

// HTTPProbe reports ready when a GET returns a 2xx status.
type HTTPProbe struct {
	Service string
	URL     string
	Client  *http.Client
}

func (p HTTPProbe) Name() string { return p.Service }

func (p HTTPProbe) Check(ctx context.Context) error {
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("status %d from %s", resp.StatusCode, p.URL)
	}
	return nil
}

func firstLine(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			return s[:i]
		}
	}
	return s
}
