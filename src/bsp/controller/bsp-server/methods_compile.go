package bspserver

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/uber/bsp-go/src/bsp/engine"
	"github.com/uber/bsp-go/src/bsp/entity"
	"github.com/uber/bsp-go/src/bsp/mapper"
	"github.com/uber/bsp-go/src/bsp/protocol"
	lsputil "go.lsp.dev/uri"
)

// Compile validates the request and acknowledges it; the actual compilation
// runs asynchronously and reports through task notifications tagged with the
// request's originId. Targets compile in dependency order, each with its own
// taskStart/taskFinish pair.
func (c *controller) Compile(ctx context.Context, params *protocol.CompileParams) (*protocol.CompileResult, error) {
	if err := c.requireActive(ctx); err != nil {
		return nil, err
	}

	originID := params.OriginID
	if originID == "" {
		originID = uuid.Must(uuid.NewV4()).String()
	}

	// Validate and expand before acknowledging so an unknown target fails the
	// request itself rather than surfacing as a failed task.
	order, err := c.targets.CompileOrder(ctx, params.Targets)
	if err != nil {
		return nil, fmt.Errorf("expanding compile request: %w", err)
	}

	s, err := c.sessions.GetFromContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting session from context: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.WithValue(context.Background(), entity.SessionContextKey, s.UUID))
	handle := &compileHandle{cancel: cancel}
	c.compilesMu.Lock()
	if prior, ok := c.compiles[originID]; ok {
		// A reused originId supersedes the earlier invocation.
		prior.cancel()
	}
	c.compiles[originID] = handle
	c.compilesMu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.finishCompile(originID, handle)
		c.runCompile(runCtx, originID, order, params.Arguments)
	}()

	c.stats.Counter("compiles_accepted").Inc(1)
	return &protocol.CompileResult{OriginID: originID, StatusCode: protocol.StatusOk}, nil
}

// CancelRequest stops the in-flight compile named by the request id. Targets
// already reported keep their outcomes; the remainder finish cancelled.
func (c *controller) CancelRequest(ctx context.Context, params *protocol.CancelRequestParams) error {
	originID, ok := params.ID.(string)
	if !ok {
		return fmt.Errorf("unsupported cancel id %v", params.ID)
	}

	c.compilesMu.Lock()
	handle, ok := c.compiles[originID]
	c.compilesMu.Unlock()
	if !ok {
		// Cancelling an unknown or already finished request is a no-op.
		return nil
	}

	c.logger.Infow("cancelling compile", "originId", originID)
	c.stats.Counter("compiles_cancelled").Inc(1)
	handle.cancel()
	return nil
}

// runCompile walks the expanded target list in order, emitting the task
// notification sequence for each target. A cancelled context finishes the
// current and all remaining targets with a cancelled status.
func (c *controller) runCompile(ctx context.Context, originID string, order []protocol.BuildTargetIdentifier, arguments []string) {
	for i, id := range order {
		status := c.compileTarget(ctx, originID, id, arguments)
		if status == protocol.StatusCancelled {
			for _, rest := range order[i+1:] {
				c.emitTaskSkipped(ctx, originID, rest)
			}
			return
		}
	}
}

// compileTarget runs one target through the engine, bracketed by taskStart and
// taskFinish, and returns the status it reported.
func (c *controller) compileTarget(ctx context.Context, originID string, id protocol.BuildTargetIdentifier, arguments []string) protocol.StatusCode {
	taskID := protocol.TaskID{ID: uuid.Must(uuid.NewV4()).String(), Parents: []string{originID}}

	// Cancelling the invocation must not suppress its final notifications.
	notifyCtx := context.WithoutCancel(ctx)

	taskData, err := mapper.MarshalTaskData(&protocol.CompileTask{Target: id, OriginID: originID})
	if err != nil {
		c.logger.Errorw("marshalling compile task", "error", err)
		return protocol.StatusError
	}
	c.notifyErrLogged(c.clients.TaskStart(notifyCtx, &protocol.TaskStartParams{
		TaskID:    taskID,
		EventTime: time.Now().UnixMilli(),
		Message:   "Compiling " + string(id.URI),
		DataKind:  protocol.DataKindCompileTask,
		Data:      taskData,
	}))

	started := time.Now()
	report := protocol.CompileReport{Target: id, OriginID: originID}
	status := protocol.StatusOk

	output, err := c.compileViaEngine(ctx, originID, id, arguments)
	switch {
	case ctx.Err() != nil:
		status = protocol.StatusCancelled
	case err != nil:
		c.logger.Errorw("compiling target", "target", id.URI, "originId", originID, "error", err)
		status = protocol.StatusError
		report.Errors = 1
	default:
		report.Errors = output.Errors
		report.Warnings = output.Warnings
		report.AnalysisLocation = output.AnalysisLocation
		if output.Errors > 0 {
			status = protocol.StatusError
		}
		c.publishDiagnostics(notifyCtx, originID, id, output)
	}
	report.Time = time.Since(started).Milliseconds()

	reportData, err := mapper.MarshalTaskData(&report)
	if err != nil {
		c.logger.Errorw("marshalling compile report", "error", err)
		return protocol.StatusError
	}
	c.notifyErrLogged(c.clients.TaskFinish(notifyCtx, &protocol.TaskFinishParams{
		TaskID:    taskID,
		EventTime: time.Now().UnixMilli(),
		Status:    status,
		DataKind:  protocol.DataKindCompileReport,
		Data:      reportData,
	}))
	return status
}

// compileViaEngine assembles the engine input from the target graph.
func (c *controller) compileViaEngine(ctx context.Context, originID string, id protocol.BuildTargetIdentifier, arguments []string) (*engine.Output, error) {
	options, err := c.targets.CompilerOptions(ctx, id)
	if err != nil {
		return nil, err
	}
	sourcesItem, err := c.targets.Sources(ctx, id)
	if err != nil {
		return nil, err
	}

	sources := make([]lsputil.URI, 0, len(sourcesItem.Sources))
	for _, item := range sourcesItem.Sources {
		sources = append(sources, item.URI)
	}

	return c.engine.Compile(ctx, engine.Input{
		Target:         id,
		OriginID:       originID,
		Sources:        sources,
		Classpath:      options.Classpath,
		ClassDirectory: options.ClassDirectory,
		Options:        append(options.Options, arguments...),
	})
}

// publishDiagnostics streams the engine's per-document diagnostics, resetting
// each document's previously published set.
func (c *controller) publishDiagnostics(ctx context.Context, originID string, id protocol.BuildTargetIdentifier, output *engine.Output) {
	for doc, diagnostics := range output.Diagnostics {
		c.notifyErrLogged(c.clients.PublishDiagnostics(ctx, &protocol.PublishDiagnosticsParams{
			TextDocument: protocol.TextDocumentIdentifier{URI: doc},
			BuildTarget:  id,
			OriginID:     originID,
			Diagnostics:  diagnostics,
			Reset:        true,
		}))
	}
}

// emitTaskSkipped reports a cancelled outcome for a target that never started
// compiling because an earlier target's cancellation ended the invocation.
func (c *controller) emitTaskSkipped(ctx context.Context, originID string, id protocol.BuildTargetIdentifier) {
	taskID := protocol.TaskID{ID: uuid.Must(uuid.NewV4()).String(), Parents: []string{originID}}
	notifyCtx := context.WithoutCancel(ctx)

	taskData, err := mapper.MarshalTaskData(&protocol.CompileTask{Target: id, OriginID: originID})
	if err != nil {
		return
	}
	c.notifyErrLogged(c.clients.TaskStart(notifyCtx, &protocol.TaskStartParams{
		TaskID:    taskID,
		EventTime: time.Now().UnixMilli(),
		DataKind:  protocol.DataKindCompileTask,
		Data:      taskData,
	}))

	reportData, err := mapper.MarshalTaskData(&protocol.CompileReport{Target: id, OriginID: originID})
	if err != nil {
		return
	}
	c.notifyErrLogged(c.clients.TaskFinish(notifyCtx, &protocol.TaskFinishParams{
		TaskID:    taskID,
		EventTime: time.Now().UnixMilli(),
		Status:    protocol.StatusCancelled,
		DataKind:  protocol.DataKindCompileReport,
		Data:      reportData,
	}))
}

// finishCompile retires an invocation's cancel handle once it fully reported.
// A handle superseded by a newer invocation under the same originId is left
// alone.
func (c *controller) finishCompile(originID string, handle *compileHandle) {
	c.compilesMu.Lock()
	if current, ok := c.compiles[originID]; ok && current == handle {
		delete(c.compiles, originID)
	}
	c.compilesMu.Unlock()
	handle.cancel()
}

func (c *controller) cancelAllCompiles() {
	c.compilesMu.Lock()
	for origin, handle := range c.compiles {
		handle.cancel()
		delete(c.compiles, origin)
	}
	c.compilesMu.Unlock()
}

func (c *controller) notifyErrLogged(err error) {
	if err != nil {
		c.logger.Warnw("sending notification", "error", err)
	}
}
