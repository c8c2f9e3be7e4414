package protocol

import "context"

// SourceCallback is invoked by a trigger source when an external event
// should start a workflow. The payload becomes the execution's trigger
// payload.
type SourceCallback func(ctx context.Context, workflowID string, payload map[string]any) error

// Source watches an external signal (cron schedule, queue, chat platform)
// and starts executions through its callback. Start blocks until the
// source is running; Stop tears it down and waits for in-flight callbacks.
type Source interface {
	Start(ctx context.Context, callback SourceCallback) error
	Stop(ctx context.Context) error
}
