package substrate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

const (
	// JobWorkflowName is the workflow type wrapping a single job delivery.
	JobWorkflowName = "importJobWorkflow"
	// RunJobActivityName is the activity that dispatches to the registry.
	RunJobActivityName = "RunJob"
)

// Temporal adapts a Temporal cluster to the Queue interface. Each enqueued
// job becomes one workflow execution running a single dispatch activity, so
// the cluster's retry policy and visibility apply per job.
type Temporal struct {
	client    client.Client
	taskQueue string
}

// NewTemporal creates a Temporal-backed queue on the given task queue.
func NewTemporal(c client.Client, taskQueue string) *Temporal {
	return &Temporal{client: c, taskQueue: taskQueue}
}

func (t *Temporal) Enqueue(ctx context.Context, job Job) (string, error) {
	return t.start(ctx, 0, job)
}

func (t *Temporal) ScheduleAfter(ctx context.Context, delay time.Duration, job Job) (string, error) {
	return t.start(ctx, delay, job)
}

func (t *Temporal) start(ctx context.Context, delay time.Duration, job Job) (string, error) {
	workflowID := "job-" + uuid.NewString()
	options := client.StartWorkflowOptions{
		ID:         workflowID,
		TaskQueue:  t.taskQueue,
		StartDelay: delay,
	}
	if _, err := t.client.ExecuteWorkflow(ctx, options, JobWorkflowName, job); err != nil {
		return "", fmt.Errorf("start job workflow: %w", err)
	}
	return workflowID, nil
}

func (t *Temporal) JobStatus(ctx context.Context, id string) (Status, error) {
	desc, err := t.client.DescribeWorkflowExecution(ctx, id, "")
	if err != nil {
		var notFound *serviceerror.NotFound
		if errors.As(err, &notFound) {
			return StatusUnknown, nil
		}
		return StatusUnknown, fmt.Errorf("describe job %s: %w", id, err)
	}
	switch desc.GetWorkflowExecutionInfo().GetStatus() {
	case enumspb.WORKFLOW_EXECUTION_STATUS_RUNNING,
		enumspb.WORKFLOW_EXECUTION_STATUS_CONTINUED_AS_NEW:
		return StatusPending, nil
	default:
		return StatusDone, nil
	}
}

var jobActivityOptions = workflow.ActivityOptions{
	StartToCloseTimeout: 2 * time.Hour,
	RetryPolicy: &temporal.RetryPolicy{
		InitialInterval:    5 * time.Second,
		BackoffCoefficient: 2.0,
		MaximumInterval:    5 * time.Minute,
		MaximumAttempts:    3,
	},
}

// JobWorkflow runs one job delivery through the RunJob activity.
func JobWorkflow(ctx workflow.Context, job Job) error {
	actCtx := workflow.WithActivityOptions(ctx, jobActivityOptions)
	return workflow.ExecuteActivity(actCtx, RunJobActivityName, job).Get(ctx, nil)
}

// Activities holds the job-dispatch activity registered on workers.
type Activities struct {
	registry *Registry
}

// NewActivities creates the dispatch activities over a handler registry.
func NewActivities(registry *Registry) *Activities {
	return &Activities{registry: registry}
}

// RunJob dispatches a job to its registered handler.
func (a *Activities) RunJob(ctx context.Context, job Job) error {
	return a.registry.Dispatch(ctx, job)
}
