// Package stack manages the application's services as Docker containers.
package stack

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/busimap/stackops/internal/models"
)

// Runtime drives service containers through the Docker API.
type Runtime struct{}

// NewRuntime creates a new Runtime instance.
func NewRuntime() *Runtime {
	return &Runtime{}
}

// getClient creates a new Docker client.
func (r *Runtime) getClient() (*client.Client, error) {
	return client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
}

// Available checks if the Docker daemon is reachable.
func (r *Runtime) Available(ctx context.Context) bool {
	cli, err := r.getClient()
	if err != nil {
		return false
	}
	defer func() { _ = cli.Close() }()

	_, err = cli.Ping(ctx)
	return err == nil
}

// Start starts a service container.
func (r *Runtime) Start(ctx context.Context, containerName string) error {
	cli, err := r.getClient()
	if err != nil {
		return fmt.Errorf("failed to create Docker client: %w", err)
	}
	defer func() { _ = cli.Close() }()

	if err := cli.ContainerStart(ctx, containerName, container.StartOptions{}); err != nil {
		return fmt.Errorf("failed to start container %s: %w", containerName, err)
	}
	return nil
}

// Stop stops a service container, waiting up to timeout seconds.
func (r *Runtime) Stop(ctx context.Context, containerName string, timeout *int) error {
	cli, err := r.getClient()
	if err != nil {
		return fmt.Errorf("failed to create Docker client: %w", err)
	}
	defer func() { _ = cli.Close() }()

	stopOptions := container.StopOptions{}
	if timeout != nil {
		stopOptions.Timeout = timeout
	}

	if err := cli.ContainerStop(ctx, containerName, stopOptions); err != nil {
		return fmt.Errorf("failed to stop container %s: %w", containerName, err)
	}
	return nil
}

// State returns the current state of a service's container.
func (r *Runtime) State(ctx context.Context, svc models.ServiceDescriptor) (models.ServiceState, error) {
	state := models.ServiceState{Name: svc.Name, Container: svc.Container}

	cli, err := r.getClient()
	if err != nil {
		return state, fmt.Errorf("failed to create Docker client: %w", err)
	}
	defer func() { _ = cli.Close() }()

	inspect, err := cli.ContainerInspect(ctx, svc.Container)
	if err != nil {
		if client.IsErrNotFound(err) {
			state.State = "missing"
			return state, nil
		}
		return state, fmt.Errorf("failed to inspect container %s: %w", svc.Container, err)
	}

	state.State = inspect.State.Status
	state.Status = fmt.Sprintf("%s (since %s)", inspect.State.Status, inspect.State.StartedAt)
	return state, nil
}

// Exec runs a command inside a container and returns its exit code and
// combined output.
func (r *Runtime) Exec(ctx context.Context, containerName string, cmd []string) (int, string, error) {
	var out bytes.Buffer
	code, err := r.execStreams(ctx, containerName, cmd, nil, &out, &out, nil)
	return code, out.String(), err
}

// ExecEnv is like Exec with extra environment variables set for the
// command (e.g. PGPASSWORD for psql).
func (r *Runtime) ExecEnv(ctx context.Context, containerName string, cmd, env []string) (int, string, error) {
	var out bytes.Buffer
	code, err := r.execStreams(ctx, containerName, cmd, nil, &out, &out, env)
	return code, out.String(), err
}

// ExecToWriter runs a command and streams its stdout to w, collecting
// stderr separately. Used for logical dumps that must not be buffered
// in memory.
func (r *Runtime) ExecToWriter(ctx context.Context, containerName string, cmd, env []string, w io.Writer) (int, string, error) {
	var stderr bytes.Buffer
	code, err := r.execStreams(ctx, containerName, cmd, nil, w, &stderr, env)
	return code, stderr.String(), err
}

// ExecFromReader runs a command with stdin fed from rd. Used to replay
// dumps through psql.
func (r *Runtime) ExecFromReader(ctx context.Context, containerName string, cmd, env []string, rd io.Reader) (int, string, error) {
	var out bytes.Buffer
	code, err := r.execStreams(ctx, containerName, cmd, rd, &out, &out, env)
	return code, out.String(), err
}

func (r *Runtime) execStreams(ctx context.Context, containerName string, cmd []string, stdin io.Reader, stdout, stderr io.Writer, env []string) (int, error) {
	cli, err := r.getClient()
	if err != nil {
		return -1, fmt.Errorf("failed to create Docker client: %w", err)
	}
	defer func() { _ = cli.Close() }()

	execConfig := container.ExecOptions{
		Cmd:          cmd,
		Env:          env,
		AttachStdin:  stdin != nil,
		AttachStdout: true,
		AttachStderr: true,
	}

	execID, err := cli.ContainerExecCreate(ctx, containerName, execConfig)
	if err != nil {
		return -1, fmt.Errorf("failed to create exec in %s: %w", containerName, err)
	}

	resp, err := cli.ContainerExecAttach(ctx, execID.ID, container.ExecAttachOptions{})
	if err != nil {
		return -1, fmt.Errorf("failed to attach exec: %w", err)
	}
	defer resp.Close()

	copyDone := make(chan error, 1)
	go func() {
		// Docker multiplexes stdout/stderr on one stream; stdcopy
		// splits them back apart.
		_, copyErr := stdcopy.StdCopy(stdout, stderr, resp.Reader)
		copyDone <- copyErr
	}()

	if stdin != nil {
		if _, err := io.Copy(resp.Conn, stdin); err != nil {
			return -1, fmt.Errorf("failed to write exec stdin: %w", err)
		}
		_ = resp.CloseWrite()
	}

	select {
	case err := <-copyDone:
		if err != nil {
			return -1, fmt.Errorf("failed to read exec output: %w", err)
		}
	case <-ctx.Done():
		return -1, ctx.Err()
	}

	inspectResp, err := cli.ContainerExecInspect(ctx, execID.ID)
	if err != nil {
		return -1, fmt.Errorf("failed to inspect exec: %w", err)
	}

	return inspectResp.ExitCode, nil
}

// Logs returns a reader over a container's log stream.
func (r *Runtime) Logs(ctx context.Context, containerName, tail string, follow bool) (io.ReadCloser, error) {
	cli, err := r.getClient()
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}
	// The client is closed when the returned reader is closed.

	reader, err := cli.ContainerLogs(ctx, containerName, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       tail,
		Follow:     follow,
	})
	if err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("failed to get container logs: %w", err)
	}

	return &logReaderWrapper{reader: reader, client: cli}, nil
}

// logReaderWrapper closes the Docker client together with the log stream.
type logReaderWrapper struct {
	reader io.ReadCloser
	client *client.Client
}

func (w *logReaderWrapper) Read(p []byte) (n int, err error) {
	return w.reader.Read(p)
}

func (w *logReaderWrapper) Close() error {
	_ = w.reader.Close()
	return w.client.Close()
}

// TailLines collects the last n log lines of a container, with the
// 8-byte multiplexing header stripped from each line.
func (r *Runtime) TailLines(ctx context.Context, containerName string, n int) ([]string, error) {
	reader, err := r.Logs(ctx, containerName, fmt.Sprintf("%d", n), false)
	if err != nil {
		return nil, err
	}
	defer func() { _ = reader.Close() }()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, reader); err != nil {
		return nil, fmt.Errorf("failed to read container logs: %w", err)
	}

	combined := stdout.String() + stderr.String()
	lines := strings.Split(strings.TrimRight(combined, "\n"), "\n")
	if len(lines) == 1 && lines[0] == "" {
		return nil, nil
	}
	return lines, nil
}
