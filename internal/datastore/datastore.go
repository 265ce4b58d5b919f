// Package datastore wraps the PostgreSQL management operations the
// pipelines need: logical dump and replay, connection termination,
// database drop/create, and storage maintenance. All operations run
// inside the database container through the stack runtime.
package datastore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ErrCommandFailed indicates a database-side command exited nonzero.
var ErrCommandFailed = errors.New("database command failed")

// Runtime is the subset of the stack runtime the datastore needs.
type Runtime interface {
	Exec(ctx context.Context, container string, cmd []string) (int, string, error)
	ExecEnv(ctx context.Context, container string, cmd, env []string) (int, string, error)
	ExecToWriter(ctx context.Context, container string, cmd, env []string, w io.Writer) (int, string, error)
	ExecFromReader(ctx context.Context, container string, cmd, env []string, rd io.Reader) (int, string, error)
}

// Client issues management commands against one PostgreSQL container.
type Client struct {
	runtime   Runtime
	container string
	user      string
	password  string
	database  string
}

// NewClient builds a client for the given container, reading credentials
// from the validated environment.
func NewClient(runtime Runtime, container string) *Client {
	return &Client{
		runtime:   runtime,
		container: container,
		user:      os.Getenv("POSTGRES_USER"),
		password:  os.Getenv("POSTGRES_PASSWORD"),
		database:  os.Getenv("POSTGRES_DB"),
	}
}

// Database returns the target logical database name.
func (c *Client) Database() string { return c.database }

func (c *Client) env() []string {
	return []string{"PGPASSWORD=" + c.password}
}

// Ping checks that the server accepts connections.
func (c *Client) Ping(ctx context.Context) error {
	code, out, err := c.runtime.Exec(ctx, c.container, []string{"pg_isready", "-U", c.user})
	if err != nil {
		return err
	}
	if code != 0 {
		return fmt.Errorf("%w: pg_isready: %s", ErrCommandFailed, strings.TrimSpace(out))
	}
	return nil
}

// Dump streams a logical dump of the target database to w. pg_dump runs
// the whole dump in a single repeatable-read transaction, so the output
// reflects one consistent point in time even with concurrent writers.
func (c *Client) Dump(ctx context.Context, w io.Writer) error {
	cmd := []string{"pg_dump", "-U", c.user, "--no-owner", c.database}
	code, stderr, err := c.runtime.ExecToWriter(ctx, c.container, cmd, c.env(), w)
	if err != nil {
		return fmt.Errorf("pg_dump: %w", err)
	}
	if code != 0 {
		return fmt.Errorf("%w: pg_dump exit %d: %s", ErrCommandFailed, code, strings.TrimSpace(stderr))
	}
	return nil
}

// RestoreFrom replays a logical dump from rd into the target database.
// ON_ERROR_STOP makes a broken dump fail loudly instead of producing a
// silently partial database.
func (c *Client) RestoreFrom(ctx context.Context, rd io.Reader) error {
	cmd := []string{"psql", "-U", c.user, "-d", c.database, "-v", "ON_ERROR_STOP=1", "-q"}
	code, out, err := c.runtime.ExecFromReader(ctx, c.container, cmd, c.env(), rd)
	if err != nil {
		return fmt.Errorf("psql replay: %w", err)
	}
	if code != 0 {
		return fmt.Errorf("%w: psql replay exit %d: %s", ErrCommandFailed, code, lastLines(out, 5))
	}
	return nil
}

// TerminateConnections forcibly ends every other session against the
// target database, guaranteeing exclusive access before a drop.
func (c *Client) TerminateConnections(ctx context.Context) error {
	query := fmt.Sprintf(
		"SELECT pg_terminate_backend(pid) FROM pg_stat_activity WHERE datname = '%s' AND pid <> pg_backend_pid();",
		c.database)
	_, err := c.adminSQL(ctx, query)
	return err
}

// DropDatabase drops the target logical database if it exists.
func (c *Client) DropDatabase(ctx context.Context) error {
	_, err := c.adminSQL(ctx, fmt.Sprintf("DROP DATABASE IF EXISTS %s;", c.database))
	return err
}

// CreateDatabase recreates the target logical database.
func (c *Client) CreateDatabase(ctx context.Context) error {
	_, err := c.adminSQL(ctx, fmt.Sprintf("CREATE DATABASE %s OWNER %s;", c.database, c.user))
	return err
}

// RefreshStatistics updates planner statistics for the whole database.
func (c *Client) RefreshStatistics(ctx context.Context) error {
	_, err := c.SQL(ctx, "ANALYZE;")
	return err
}

// ReclaimSpace vacuums the whole database, reclaiming dead tuples and
// refreshing statistics in the same pass.
func (c *Client) ReclaimSpace(ctx context.Context) error {
	_, err := c.SQL(ctx, "VACUUM (ANALYZE);")
	return err
}

// SQL runs a statement against the target database and returns psql's
// tuples-only output (one row per line).
func (c *Client) SQL(ctx context.Context, statement string) (string, error) {
	return c.runSQL(ctx, c.database, statement)
}

// adminSQL runs a statement against the maintenance database, for
// operations that cannot run inside the target database itself.
func (c *Client) adminSQL(ctx context.Context, statement string) (string, error) {
	return c.runSQL(ctx, "postgres", statement)
}

func (c *Client) runSQL(ctx context.Context, database, statement string) (string, error) {
	cmd := []string{"psql", "-U", c.user, "-d", database, "-tA", "-v", "ON_ERROR_STOP=1", "-c", statement}
	code, out, err := c.runtime.ExecEnv(ctx, c.container, cmd, c.env())
	if err != nil {
		return "", fmt.Errorf("psql: %w", err)
	}
	if code != 0 {
		return "", fmt.Errorf("%w: psql exit %d: %s", ErrCommandFailed, code, strings.TrimSpace(out))
	}
	return strings.TrimSpace(out), nil
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
