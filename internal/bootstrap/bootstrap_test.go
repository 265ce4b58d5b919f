package bootstrap

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type fakeRuntime struct {
	exitCode int
	output   string
	err      error
	calls    [][]string
}

func (f *fakeRuntime) Exec(_ context.Context, _ string, cmd []string) (int, string, error) {
	f.calls = append(f.calls, cmd)
	return f.exitCode, f.output, f.err
}

type fakeSQL struct {
	outputs []string
	err     error
	stmts   []string
}

func (f *fakeSQL) SQL(_ context.Context, stmt string) (string, error) {
	f.stmts = append(f.stmts, stmt)
	if f.err != nil {
		return "", f.err
	}
	out := "INSERT 0 0"
	if len(f.outputs) > 0 {
		out = f.outputs[0]
		f.outputs = f.outputs[1:]
	}
	return out, nil
}

func TestMigrate_AppliesPending(t *testing.T) {
	rt := &fakeRuntime{output: "Operations to perform:\n  Apply all migrations\nRunning migrations:\n  Applying rides.0003_auto... OK\n  Applying payments.0002_txn... OK\n"}
	r := NewRunner(rt, "busimap_web", &fakeSQL{})

	detail, err := r.Migrate(context.Background())
	if err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if detail != "applied 2 migrations" {
		t.Fatalf("detail = %q", detail)
	}
	if len(rt.calls) != 1 || rt.calls[0][1] != "manage.py" {
		t.Fatalf("unexpected exec calls: %v", rt.calls)
	}
}

func TestMigrate_NoOpOnSecondRun(t *testing.T) {
	rt := &fakeRuntime{output: "Running migrations:\n  No migrations to apply.\n"}
	r := NewRunner(rt, "busimap_web", &fakeSQL{})

	detail, err := r.Migrate(context.Background())
	if err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if detail != "no migrations to apply" {
		t.Fatalf("detail = %q", detail)
	}
}

func TestMigrate_NonZeroExit(t *testing.T) {
	rt := &fakeRuntime{exitCode: 1, output: "Traceback\ndjango.db.utils.OperationalError: could not connect\n"}
	r := NewRunner(rt, "busimap_web", &fakeSQL{})

	_, err := r.Migrate(context.Background())
	if !errors.Is(err, ErrBootstrap) {
		t.Fatalf("err = %v, want ErrBootstrap", err)
	}
	if !strings.Contains(err.Error(), "OperationalError") {
		t.Fatalf("error should carry the failure line: %v", err)
	}
}

func TestSeed_CountsInsertedRows(t *testing.T) {
	db := &fakeSQL{outputs: []string{"INSERT 0 5", "INSERT 0 10"}}
	r := NewRunner(&fakeRuntime{}, "busimap_web", db)

	detail, err := r.Seed(context.Background())
	if err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if detail != "inserted 15 seed rows" {
		t.Fatalf("detail = %q", detail)
	}
	for _, stmt := range db.stmts {
		if !strings.Contains(stmt, "ON CONFLICT") {
			t.Fatalf("seed statement is not additive: %s", stmt)
		}
	}
}

func TestSeed_NoOpWhenAllRowsPresent(t *testing.T) {
	db := &fakeSQL{outputs: []string{"INSERT 0 0", "INSERT 0 0"}}
	r := NewRunner(&fakeRuntime{}, "busimap_web", db)

	detail, err := r.Seed(context.Background())
	if err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if detail != "seed data already present" {
		t.Fatalf("detail = %q", detail)
	}
}

func TestSeed_PropagatesFailure(t *testing.T) {
	db := &fakeSQL{err: errors.New("psql exited 1")}
	r := NewRunner(&fakeRuntime{}, "busimap_web", db)

	if _, err := r.Seed(context.Background()); !errors.Is(err, ErrBootstrap) {
		t.Fatalf("err = %v, want ErrBootstrap", err)
	}
}
