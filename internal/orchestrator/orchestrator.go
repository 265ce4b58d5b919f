// Package orchestrator sequences the deployment pipeline: dependency-
// ordered service startup with health gates, idempotent bootstrap, and
// full-stack verification.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/busimap/stackops/internal/config"
	"github.com/busimap/stackops/internal/models"
	"github.com/busimap/stackops/internal/probe"
)

// Stage names, in pipeline order.
const (
	StageValidating        = "validating"
	StageProvisioningData  = "provisioning-data-tier"
	StageAwaitingDataTier  = "awaiting-data-tier-health"
	StageBootstrapping     = "bootstrapping"
	StageSeedingData       = "seeding-data"
	StageBuildingArtifacts = "building-artifacts"
	StageStartingFullStack = "starting-full-stack"
	StageAwaitingAppHealth = "awaiting-application-health"
)

// ErrStageFailed wraps the failure that halted the pipeline.
var ErrStageFailed = errors.New("pipeline stage failed")

// Runtime is the subset of the stack runtime the orchestrator drives.
type Runtime interface {
	Available(ctx context.Context) bool
	Start(ctx context.Context, container string) error
	Exec(ctx context.Context, container string, cmd []string) (int, string, error)
}

// Bootstrapper applies schema migrations and seed data. Both operations
// must be idempotent; they report a human-readable summary.
type Bootstrapper interface {
	Migrate(ctx context.Context) (string, error)
	Seed(ctx context.Context) (string, error)
}

// Recorder persists the pipeline's auditable trail.
type Recorder interface {
	StartRun(kind, environment string) (*models.PipelineRun, error)
	AppendStage(runID string, stage models.StageResult) error
	FinishRun(runID string, status models.RunStatus, failedStage string) error
}

// Orchestrator drives the deploy pipeline.
type Orchestrator struct {
	cfg     *config.Config
	runtime Runtime
	boot    Bootstrapper
	store   Recorder
}

func New(cfg *config.Config, runtime Runtime, boot Bootstrapper, store Recorder) *Orchestrator {
	return &Orchestrator{
		cfg:     cfg,
		runtime: runtime,
		boot:    boot,
		store:   store,
	}
}

// Deploy runs the pipeline to completion or to the first failed stage.
// Completed stages are never rolled back; the recorded run carries the
// stage trail for diagnosis. Cancellation is honored between stages
// only, never inside one.
func (o *Orchestrator) Deploy(ctx context.Context) (*models.PipelineRun, error) {
	run, err := o.store.StartRun("deploy", o.cfg.Environment)
	if err != nil {
		return nil, err
	}

	stages := []struct {
		name string
		fn   func(context.Context) (string, error)
	}{
		{StageValidating, o.validate},
		{StageProvisioningData, o.provisionDataTier},
		{StageAwaitingDataTier, o.awaitDataTierHealth},
		{StageBootstrapping, func(ctx context.Context) (string, error) { return o.boot.Migrate(ctx) }},
		{StageSeedingData, func(ctx context.Context) (string, error) { return o.boot.Seed(ctx) }},
		{StageBuildingArtifacts, o.buildArtifacts},
		{StageStartingFullStack, o.startFullStack},
		{StageAwaitingAppHealth, o.awaitApplicationHealth},
	}

	for _, stage := range stages {
		if err := ctx.Err(); err != nil {
			_ = o.store.FinishRun(run.ID, models.RunCanceled, "")
			run.Status = models.RunCanceled
			return run, err
		}

		log.Printf("deploy: stage %s", stage.name)
		started := time.Now()
		detail, err := stage.fn(ctx)
		elapsed := time.Since(started)

		result := models.StageResult{
			Stage:      stage.name,
			Outcome:    models.StageSuccess,
			DurationMs: elapsed.Milliseconds(),
			Detail:     detail,
		}
		if err != nil {
			result.Outcome = models.StageFailure
			result.Detail = err.Error()
		}
		run.Stages = append(run.Stages, result)
		if aerr := o.store.AppendStage(run.ID, result); aerr != nil {
			log.Printf("deploy: failed to record stage %s: %v", stage.name, aerr)
		}

		if err != nil {
			_ = o.store.FinishRun(run.ID, models.RunFailed, stage.name)
			run.Status = models.RunFailed
			run.FailedStage = stage.name
			return run, fmt.Errorf("%w: %s: %v", ErrStageFailed, stage.name, err)
		}
		log.Printf("deploy: stage %s done in %v", stage.name, elapsed.Round(time.Millisecond))
	}

	_ = o.store.FinishRun(run.ID, models.RunSucceeded, "")
	run.Status = models.RunSucceeded
	return run, nil
}

func (o *Orchestrator) validate(ctx context.Context) (string, error) {
	if err := o.cfg.ValidateEnv(); err != nil {
		return "", err
	}
	if !o.runtime.Available(ctx) {
		return "", errors.New("container runtime is not available")
	}
	if _, err := StartOrder(o.cfg.Stack.Services); err != nil {
		return "", err
	}
	return fmt.Sprintf("%d services declared", len(o.cfg.Stack.Services)), nil
}

// provisionDataTier starts only the leaves of the dependency graph: the
// stores the rest of the stack cannot come up without.
func (o *Orchestrator) provisionDataTier(ctx context.Context) (string, error) {
	ordered, err := StartOrder(o.cfg.Stack.Services)
	if err != nil {
		return "", err
	}

	started := 0
	for _, svc := range ordered {
		if !svc.DataTier() {
			continue
		}
		if err := o.runtime.Start(ctx, svc.Container); err != nil {
			return "", fmt.Errorf("service %s: %w", svc.Name, err)
		}
		started++
	}
	return fmt.Sprintf("started %d data-tier services", started), nil
}

func (o *Orchestrator) awaitDataTierHealth(ctx context.Context) (string, error) {
	for _, svc := range o.cfg.Stack.Services {
		if !svc.DataTier() {
			continue
		}
		if err := o.waitHealthy(ctx, svc); err != nil {
			return "", err
		}
	}
	return "data tier healthy", nil
}

// buildArtifacts regenerates the static assets and the search index
// inside the application container. Both commands are safe to re-run.
func (o *Orchestrator) buildArtifacts(ctx context.Context) (string, error) {
	app, ok := o.cfg.Service(o.cfg.Stack.AppService)
	if !ok {
		return "", fmt.Errorf("application service %q not declared", o.cfg.Stack.AppService)
	}

	commands := [][]string{
		{"python", "manage.py", "collectstatic", "--noinput"},
		{"python", "manage.py", "search_index", "--rebuild", "-f"},
	}
	for _, cmd := range commands {
		code, out, err := o.runtime.Exec(ctx, app.Container, cmd)
		if err != nil {
			return "", fmt.Errorf("%s: %w", cmd[2], err)
		}
		if code != 0 {
			return "", fmt.Errorf("%s exited %d: %s", cmd[2], code, out)
		}
	}
	return "static assets and search index rebuilt", nil
}

func (o *Orchestrator) startFullStack(ctx context.Context) (string, error) {
	ordered, err := StartOrder(o.cfg.Stack.Services)
	if err != nil {
		return "", err
	}

	started := 0
	for _, svc := range ordered {
		if svc.DataTier() {
			continue // already provisioned
		}
		if err := o.runtime.Start(ctx, svc.Container); err != nil {
			return "", fmt.Errorf("service %s: %w", svc.Name, err)
		}
		started++
	}
	return fmt.Sprintf("started %d application services", started), nil
}

func (o *Orchestrator) awaitApplicationHealth(ctx context.Context) (string, error) {
	app, ok := o.cfg.Service(o.cfg.Stack.AppService)
	if !ok {
		return "", fmt.Errorf("application service %q not declared", o.cfg.Stack.AppService)
	}
	if err := o.waitHealthy(ctx, app); err != nil {
		return "", err
	}
	return "application endpoint healthy", nil
}

func (o *Orchestrator) waitHealthy(ctx context.Context, svc models.ServiceDescriptor) error {
	p := o.probeFor(svc)
	res, err := probe.Wait(ctx, p, svc.Probe.Attempts,
		config.ProbeInterval(svc.Probe), config.ProbeTimeout(svc.Probe))
	if err != nil {
		return fmt.Errorf("service %s (container %s): %w", svc.Name, svc.Container, err)
	}
	log.Printf("deploy: %s ready after %d attempts", svc.Name, res.Attempts)
	return nil
}

func (o *Orchestrator) probeFor(svc models.ServiceDescriptor) probe.Probe {
	if svc.Probe.Kind == models.ProbeHTTP {
		return probe.HTTPProbe{Service: svc.Name, URL: svc.Probe.URL}
	}
	return probe.ExecProbe{
		Service:   svc.Name,
		Container: svc.Container,
		Command:   svc.Probe.Command,
		Runtime:   o.runtime,
	}
}

// Verify probes every declared service once and returns the unhealthy
// ones. Used by verify-deployment and by the maintenance sweep.
func (o *Orchestrator) Verify(ctx context.Context) ([]models.ServiceState, error) {
	var unhealthy []models.ServiceState
	for _, svc := range o.cfg.Stack.Services {
		p := o.probeFor(svc)
		_, err := probe.Wait(ctx, p, 1, 0, config.ProbeTimeout(svc.Probe))
		if err != nil {
			unhealthy = append(unhealthy, models.ServiceState{
				Name:      svc.Name,
				Container: svc.Container,
				State:     "unhealthy",
				Status:    err.Error(),
			})
		}
	}
	return unhealthy, nil
}
