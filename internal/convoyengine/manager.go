// Package convoyengine durably runs a convoy's plan/optimize/insert
// pipeline on Temporal, so a rigsd restart mid-plan resumes instead of
// re-planning the whole convoy from scratch. It is optional: the operator
// API's POST /convoys runs the same three steps inline against the Assayer
// pipeline and Depot, without going through this package.
package convoyengine

import (
	"context"
	"fmt"
	"time"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"github.com/jordanhubbard/rigs/internal/assayer"
	"github.com/jordanhubbard/rigs/internal/depot"
	"github.com/jordanhubbard/rigs/internal/storage"
	"github.com/jordanhubbard/rigs/pkg/config"
)

// Manager owns the Temporal client and worker backing the convoy workflow.
type Manager struct {
	client    client.Client
	worker    worker.Worker
	taskQueue string
}

// NewManager dials the configured Temporal cluster, registers
// ConvoyWorkflow and its activities, and returns a Manager ready to
// Start(). Callers should check cfg.Enabled before constructing one.
func NewManager(cfg config.TemporalConfig, a *assayer.Pipeline, d *depot.Depot, store *storage.Store) (*Manager, error) {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
	})
	if err != nil {
		return nil, fmt.Errorf("convoyengine: dial temporal at %s: %w", cfg.HostPort, err)
	}

	w := worker.New(c, cfg.TaskQueue, worker.Options{})
	w.RegisterWorkflow(ConvoyWorkflow)
	w.RegisterActivity(NewActivities(a, d, store))

	return &Manager{client: c, worker: w, taskQueue: cfg.TaskQueue}, nil
}

// Start runs the Temporal worker in the background until Stop is called or
// the process receives an interrupt signal.
func (m *Manager) Start() error {
	go func() {
		if err := m.worker.Run(worker.InterruptCh()); err != nil {
			_ = err // worker.Run logs internally via its configured logger
		}
	}()
	return nil
}

// Stop drains the worker and closes the Temporal client connection.
func (m *Manager) Stop() {
	m.worker.Stop()
	m.client.Close()
}

// SubmitConvoy starts a ConvoyWorkflow execution for the given goal and
// returns once the workflow has been accepted, without waiting for it to
// complete planning.
func (m *Manager) SubmitConvoy(ctx context.Context, convoyID, goal string) error {
	opts := client.StartWorkflowOptions{
		ID:                       "convoy-" + convoyID,
		TaskQueue:                m.taskQueue,
		WorkflowExecutionTimeout: 10 * time.Minute,
	}
	_, err := m.client.ExecuteWorkflow(ctx, opts, ConvoyWorkflow, ConvoyWorkflowInput{
		ConvoyID: convoyID,
		Goal:     goal,
	})
	if err != nil {
		return fmt.Errorf("convoyengine: start convoy workflow %s: %w", convoyID, err)
	}
	return nil
}

// AwaitConvoy blocks until the named convoy's workflow completes and
// returns its result.
func (m *Manager) AwaitConvoy(ctx context.Context, convoyID string) (ConvoyWorkflowResult, error) {
	run := m.client.GetWorkflow(ctx, "convoy-"+convoyID, "")
	var result ConvoyWorkflowResult
	if err := run.Get(ctx, &result); err != nil {
		return ConvoyWorkflowResult{}, fmt.Errorf("convoyengine: await convoy %s: %w", convoyID, err)
	}
	return result, nil
}
