// Package engine walks workflow graphs. The dispatcher runs one
// execution at a time per call: it snapshots the workflow, orders the
// reachable nodes by their dependencies, runs ready nodes concurrently
// and funnels their completions through a single coordinator loop.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/brianstittsr/loom/pkg/eventbus"
	"github.com/brianstittsr/loom/pkg/events"
	"github.com/brianstittsr/loom/pkg/execlog"
	"github.com/brianstittsr/loom/pkg/models"
	"github.com/brianstittsr/loom/pkg/persistence"
	"github.com/brianstittsr/loom/pkg/protocol"
	"github.com/brianstittsr/loom/pkg/registry"
)

// Terminal error values recorded on failed executions.
var (
	ErrCyclicWorkflow = errors.New("cyclic workflow graph")
	ErrCancelled      = errors.New("cancellation requested")
)

type Dispatcher struct {
	logger      *slog.Logger
	workerID    string
	persistence persistence.Persistence
	registry    *registry.Registry
	stream      *execlog.Stream
	publisher   eventbus.EventPublisher

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

// NewDispatcher wires the dispatcher. The publisher may be nil; lifecycle
// and log events are then kept local to this process.
func NewDispatcher(
	logger *slog.Logger,
	workerID string,
	persistence persistence.Persistence,
	registry *registry.Registry,
	stream *execlog.Stream,
	publisher eventbus.EventPublisher,
) *Dispatcher {
	return &Dispatcher{
		logger:      logger.With("module", "engine", "worker_id", workerID),
		workerID:    workerID,
		persistence: persistence,
		registry:    registry,
		stream:      stream,
		publisher:   publisher,
		running:     make(map[string]context.CancelFunc),
	}
}

// Cancel requests cooperative cancellation of an execution this
// dispatcher is running. It reports whether the execution was found;
// in-flight collaborator calls are abandoned, not interrupted mid-write.
func (d *Dispatcher) Cancel(executionID string) bool {
	d.mu.Lock()
	cancel, ok := d.running[executionID]
	d.mu.Unlock()

	if ok {
		cancel()
	}

	return ok
}

func (d *Dispatcher) track(executionID string, cancel context.CancelFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.running[executionID] = cancel
}

func (d *Dispatcher) untrack(executionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.running, executionID)
}

// Run walks one execution to a terminal status. Node handlers run under a
// child context so Cancel stops this execution alone; log appends and
// state saves use the parent context and survive cancellation. The
// returned error reports infrastructure trouble (persistence), not
// execution failure, which is recorded on the execution itself.
func (d *Dispatcher) Run(ctx context.Context, workflow *models.Workflow, execution *models.Execution) error {
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	d.track(execution.ID, cancelRun)
	defer d.untrack(execution.ID)

	snapshot := workflow.Clone()
	logger := d.logger.With("execution_id", execution.ID, "workflow_id", snapshot.ID)

	started := time.Now().UTC()
	execution.Status = models.ExecutionStatusRunning
	execution.StartedAt = &started

	if err := d.persistence.SaveExecution(ctx, execution); err != nil {
		return fmt.Errorf("mark execution %s running: %w", execution.ID, err)
	}

	d.publish(ctx, snapshot.ID, events.ExecutionStarted{
		BaseEvent:   events.NewBaseEvent(events.ExecutionStartedEvent, snapshot.ID),
		ExecutionID: execution.ID,
		WorkerID:    d.workerID,
	})
	d.appendLog(ctx, snapshot.ID, execution.ID, models.LogLevelInfo,
		fmt.Sprintf("execution started (workflow %q revision %d)", snapshot.Name, execution.WorkflowRevision), "")

	triggers := snapshot.TriggerNodes()
	if len(triggers) == 0 {
		d.appendLog(ctx, snapshot.ID, execution.ID, models.LogLevelWarning,
			"workflow has no trigger nodes; nothing to execute", "")

		return d.finish(ctx, logger, snapshot, execution, started, models.ExecutionStatusSucceeded, nil, "")
	}

	g, err := buildGraph(snapshot, triggers)
	if err != nil {
		d.appendLog(ctx, snapshot.ID, execution.ID, models.LogLevelError, err.Error(), "")

		return d.finish(ctx, logger, snapshot, execution, started, models.ExecutionStatusFailed, nil, err.Error())
	}

	if nodeID := g.findCycle(); nodeID != "" {
		d.appendLog(ctx, snapshot.ID, execution.ID, models.LogLevelError,
			fmt.Sprintf("workflow graph contains a cycle through node %s; refusing to execute", nodeID), "")

		return d.finish(ctx, logger, snapshot, execution, started, models.ExecutionStatusFailed, nil, ErrCyclicWorkflow.Error())
	}

	r := &run{
		d:         d,
		parent:    ctx,
		workflow:  snapshot,
		execution: execution,
		graph:     g,
		results:   make(chan nodeResult),
		visited:   make(map[string]bool),
		incoming:  make(map[string]*incoming),
		outputs:   make(map[string]any),
	}

	r.walk(runCtx, triggers)

	status := models.ExecutionStatusSucceeded
	errorMsg := ""

	switch {
	case r.cancelled:
		status = models.ExecutionStatusFailed
		errorMsg = ErrCancelled.Error()

		d.appendLog(ctx, snapshot.ID, execution.ID, models.LogLevelError,
			"execution cancelled; abandoning in-flight work", "")
	case r.fatalErr != nil && !r.outputCompleted:
		status = models.ExecutionStatusFailed
		errorMsg = r.fatalErr.Error()
	}

	return d.finish(ctx, logger, snapshot, execution, started, status, r.finalOutput(), errorMsg)
}

func (d *Dispatcher) finish(
	ctx context.Context,
	logger *slog.Logger,
	workflow *models.Workflow,
	execution *models.Execution,
	started time.Time,
	status models.ExecutionStatus,
	output any,
	errorMsg string,
) error {
	finished := time.Now().UTC()
	execution.Status = status
	execution.Output = output
	execution.Error = errorMsg
	execution.FinishedAt = &finished

	if status == models.ExecutionStatusSucceeded {
		d.appendLog(ctx, workflow.ID, execution.ID, models.LogLevelInfo, "execution succeeded", "")
	} else {
		d.appendLog(ctx, workflow.ID, execution.ID, models.LogLevelError, "execution failed: "+errorMsg, "")
	}

	if err := d.persistence.SaveExecution(ctx, execution); err != nil {
		return fmt.Errorf("persist terminal state of execution %s: %w", execution.ID, err)
	}

	d.stream.Finish(execution.ID, status)

	durationMs := finished.Sub(started).Milliseconds()

	d.publish(ctx, workflow.ID, events.ExecutionFinished{
		BaseEvent:   events.NewBaseEvent(events.ExecutionFinishedEvent, workflow.ID),
		ExecutionID: execution.ID,
		Status:      status,
		Output:      output,
		DurationMs:  durationMs,
	})

	if status == models.ExecutionStatusFailed {
		d.publish(ctx, workflow.ID, events.ExecutionFailed{
			BaseEvent:   events.NewBaseEvent(events.ExecutionFailedEvent, workflow.ID),
			ExecutionID: execution.ID,
			Error:       errorMsg,
			DurationMs:  durationMs,
		})
	}

	logger.Info("Execution finished", "status", string(status), "duration_ms", durationMs)

	return nil
}

// appendLog writes one entry through the log stream and mirrors it on the
// event bus for stream hubs in other processes.
func (d *Dispatcher) appendLog(ctx context.Context, workflowID, executionID string, level models.LogLevel, message, nodeID string) {
	entry, err := d.stream.Append(ctx, executionID, models.LogEntry{
		Level:   level,
		Message: message,
		NodeID:  nodeID,
	})
	if err != nil {
		d.logger.Error("Failed to append execution log entry", "execution_id", executionID, "error", err)

		return
	}

	d.publish(ctx, workflowID, events.ExecutionLog{
		BaseEvent:   events.NewBaseEvent(events.ExecutionLogEvent, workflowID),
		ExecutionID: executionID,
		Entry:       entry,
	})
}

func (d *Dispatcher) publish(ctx context.Context, workflowID string, event eventbus.Event) {
	if d.publisher == nil {
		return
	}

	if err := d.publisher.Publish(ctx, workflowID, event); err != nil {
		d.logger.Error("Failed to publish event", "event_type", string(event.GetType()), "error", err)
	}
}

type edgeState int

const (
	edgeFired edgeState = iota
	edgeSkipped
	edgeAborted
)

type nodeResult struct {
	node   *models.WorkflowNode
	output protocol.NodeOutput
	err    error
}

// incoming tallies how a node's incoming edges resolved. The node runs
// once pending reaches zero with at least one fired edge.
type incoming struct {
	pending int
	fired   map[string]any
	skipped int
	aborted int
}

// run is the mutable state of one execution walk. All fields are owned by
// the coordinator goroutine; node handlers only ever touch the results
// channel.
type run struct {
	d         *Dispatcher
	parent    context.Context
	workflow  *models.Workflow
	execution *models.Execution
	graph     *graph

	results  chan nodeResult
	inFlight int

	visited  map[string]bool
	incoming map[string]*incoming
	outputs  map[string]any

	fatalErr        error
	outputCompleted bool
	finalRendered   any
	branchFinal     any
	branchFinalSet  bool
	cancelled       bool
}

func (r *run) walk(ctx context.Context, entries []*models.WorkflowNode) {
	var payload any
	if r.execution.TriggerPayload != nil {
		payload = r.execution.TriggerPayload
	}

	for _, node := range entries {
		r.dispatch(ctx, node, payload)
	}

	for r.inFlight > 0 {
		select {
		case res := <-r.results:
			r.inFlight--
			r.handleResult(ctx, res)
		case <-ctx.Done():
			r.cancelled = true

			// Handlers honor the context; drain their results without
			// applying them.
			for r.inFlight > 0 {
				<-r.results
				r.inFlight--
			}
		}
	}
}

// dispatch starts a node on its own goroutine. The visited set refuses to
// run any node twice regardless of how edges resolve.
func (r *run) dispatch(ctx context.Context, node *models.WorkflowNode, input any) {
	if r.visited[node.ID] {
		return
	}

	r.visited[node.ID] = true

	byNode := make(map[string]any, len(r.outputs))
	for id, out := range r.outputs {
		byNode[id] = out
	}

	nodeInput := protocol.NodeInput{
		ExecutionID: r.execution.ID,
		WorkflowID:  r.workflow.ID,
		NodeID:      node.ID,
		Data:        input,
		ByNode:      byNode,
		Trigger:     r.execution.TriggerPayload,
	}

	r.d.appendLog(r.parent, r.workflow.ID, r.execution.ID, models.LogLevelInfo,
		fmt.Sprintf("node %s (%s) started", node.ID, node.Kind()), node.ID)

	handler, err := r.d.registry.Handler(node.Kind(), node.Config)
	if err != nil {
		r.inFlight++

		go func() {
			r.results <- nodeResult{node: node, err: fmt.Errorf("handler construction failed: %w", err)}
		}()

		return
	}

	r.inFlight++

	go func() {
		output, execErr := handler.Execute(ctx, nodeInput)
		r.results <- nodeResult{node: node, output: output, err: execErr}
	}()
}

func (r *run) handleResult(ctx context.Context, res nodeResult) {
	node := res.node

	for _, record := range res.output.Logs {
		r.d.appendLog(r.parent, r.workflow.ID, r.execution.ID, record.Level, record.Message, node.ID)
	}

	if res.err != nil {
		if r.fatalErr == nil {
			r.fatalErr = fmt.Errorf("node %s: %w", node.ID, res.err)
		}

		r.d.appendLog(r.parent, r.workflow.ID, r.execution.ID, models.LogLevelError,
			fmt.Sprintf("node %s failed: %v", node.ID, res.err), node.ID)
		r.resolveAll(ctx, node, edgeAborted)

		return
	}

	r.outputs[node.ID] = res.output.Data

	if node.Type == models.NodeTypeOutput {
		r.outputCompleted = true
		r.finalRendered = res.output.Rendered
	}

	r.d.appendLog(r.parent, r.workflow.ID, r.execution.ID, models.LogLevelInfo,
		fmt.Sprintf("node %s completed", node.ID), node.ID)

	fired := r.resolveChosen(ctx, node, res.output.Next, res.output.Data)
	if fired == 0 && !r.branchFinalSet {
		r.branchFinal = res.output.Data
		r.branchFinalSet = true
	}
}

// resolveChosen fires the successor edges a completed node selected and
// skips the rest. A nil Next fires every successor.
func (r *run) resolveChosen(ctx context.Context, node *models.WorkflowNode, next []int, data any) int {
	chosen := make(map[int]bool, len(node.Successors))

	if next == nil {
		for i := range node.Successors {
			chosen[i] = true
		}
	} else {
		for _, idx := range next {
			if idx >= 0 && idx < len(node.Successors) {
				chosen[idx] = true
			}
		}
	}

	fired := 0

	for i, succID := range node.Successors {
		if chosen[i] {
			fired++

			r.resolveEdge(ctx, node.ID, succID, edgeFired, data)
		} else {
			r.resolveEdge(ctx, node.ID, succID, edgeSkipped, nil)
		}
	}

	return fired
}

func (r *run) resolveAll(ctx context.Context, node *models.WorkflowNode, state edgeState) {
	for _, succID := range node.Successors {
		r.resolveEdge(ctx, node.ID, succID, state, nil)
	}
}

func (r *run) resolveEdge(ctx context.Context, fromID, toID string, state edgeState, data any) {
	in := r.incoming[toID]
	if in == nil {
		in = &incoming{
			pending: r.graph.indegree[toID],
			fired:   make(map[string]any),
		}
		r.incoming[toID] = in
	}

	in.pending--

	switch state {
	case edgeFired:
		in.fired[fromID] = data
	case edgeSkipped:
		in.skipped++
	case edgeAborted:
		in.aborted++
	}

	if in.pending > 0 {
		return
	}

	target := r.graph.nodes[toID]

	switch {
	case len(in.fired) > 0:
		r.dispatch(ctx, target, r.primaryInput(toID, in))
	case in.aborted > 0:
		r.skipWithoutRunning(ctx, target, edgeAborted)
	default:
		r.skipWithoutRunning(ctx, target, edgeSkipped)
	}
}

// skipWithoutRunning marks a node whose incoming edges all resolved
// skipped or aborted, and pushes the same state through its successors.
func (r *run) skipWithoutRunning(ctx context.Context, node *models.WorkflowNode, state edgeState) {
	if r.visited[node.ID] {
		return
	}

	r.visited[node.ID] = true
	r.resolveAll(ctx, node, state)
}

// primaryInput picks the output of the first-listed predecessor that
// fired; outputs of every fired predecessor remain addressable by node id.
func (r *run) primaryInput(toID string, in *incoming) any {
	for _, predID := range r.graph.preds[toID] {
		if data, ok := in.fired[predID]; ok {
			return data
		}
	}

	return nil
}

func (r *run) finalOutput() any {
	if r.outputCompleted {
		return r.finalRendered
	}

	if r.branchFinalSet {
		return r.branchFinal
	}

	return nil
}
