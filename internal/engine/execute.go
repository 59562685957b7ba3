package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/quadpoint/toolengine/internal/action"
	"github.com/quadpoint/toolengine/internal/cascade"
	"github.com/quadpoint/toolengine/internal/community"
	"github.com/quadpoint/toolengine/internal/deploy"
	"github.com/quadpoint/toolengine/internal/docstore"
	"github.com/quadpoint/toolengine/internal/sink"
	"github.com/quadpoint/toolengine/internal/state"
	"github.com/quadpoint/toolengine/internal/tool"
)

// Pipeline phases, in execution order. They appear as log fields only;
// phase transitions are the function's control flow.
const (
	phaseResolving   = "resolving"
	phaseAuthorizing = "authorizing"
	phaseContext     = "context_building"
	phaseExecuting   = "executing"
	phaseCascading   = "cascading"
	phasePersisting  = "persisting"
	phaseSideEffects = "side_effects"
)

// Execute runs the full pipeline for one request. The returned error is
// always a *Error. A Response with Success=false is a completed
// execution whose handler failed; it is not an error.
func (e *Engine) Execute(ctx context.Context, req Request) (*Response, error) {
	if req.DeploymentID == "" || req.Action == "" || req.UserID == "" {
		return nil, invalidError(CodeMissingField, "deploymentId, action and userId are required")
	}

	execID := e.newID()
	now := e.now()
	logger := e.logger.With(
		"exec", execID, "deployment", req.DeploymentID,
		"user", req.UserID, "action", req.Action)

	// Throttling precedes all resolution work, so a denied request
	// costs nothing.
	if d := e.limiter.Check(req.UserID); !d.Allowed {
		logger.Info("execution rate limited", "retry_after", d.RetryAfter)
		return nil, rateLimitedError(d.RetryAfter)
	}

	res, err := e.resolver.Resolve(ctx, req.DeploymentID)
	if err != nil {
		if errors.Is(err, deploy.ErrNotFound) {
			return nil, notFoundError(CodeDeploymentNotFound, "deployment not found")
		}
		logger.Error("deployment resolution failed", "phase", phaseResolving, "error", err)
		return nil, internalError(CodeInternal)
	}

	if !res.Record.Active() {
		return nil, forbiddenError(CodeNotActive, "deployment is not active")
	}
	if d := e.perms.CanExecute(ctx, req.UserID, res); !d.Allowed {
		logger.Info("execution denied", "phase", phaseAuthorizing, "code", d.Code)
		return nil, forbiddenError(d.Code, d.Message)
	}

	bctx, berr := e.buildContext(ctx, logger, res, req)
	if berr != nil {
		return nil, berr
	}

	normalized := action.Normalize(req.Action)
	result := e.registry.Execute(&action.Context{
		DeploymentID: res.ID,
		ToolID:       res.Record.ToolID,
		Tool:         bctx.tool,
		Element:      bctx.element,
		ElementID:    bctx.elementID,
		UserID:       req.UserID,
		Data:         req.Data,
		Meta:         req.Meta,
		State:        bctx.hydrated,
		Community:    bctx.comm,
		Now:          now,
		ExecID:       execID,
	}, normalized)
	logger.Debug("handler executed", "phase", phaseExecuting, "success", result.Success)

	// Cascading runs only off a successful primary that produced state,
	// and can never fail it.
	merged := bctx.hydrated
	var cascaded []string
	if result.Success && len(result.State) > 0 {
		merged = merged.Merge(result.State)
		if len(bctx.tool.Connections) > 0 {
			out := e.cascader.Propagate(cascade.Input{
				Graph:        e.graphs.Resolve(bctx.tool),
				Tool:         bctx.tool,
				State:        merged,
				Action:       normalized,
				ElementType:  elementType(bctx.element),
				ElementID:    bctx.elementID,
				UserID:       req.UserID,
				DeploymentID: res.ID,
				Outputs:      result.Outputs,
				Community:    bctx.comm,
				Now:          now,
				ExecID:       execID,
			})
			merged = out.State
			cascaded = out.Executed
			logger.Debug("cascade pass complete", "phase", phaseCascading, "steps", len(cascaded))
		}
	}

	nowMilli := now.UnixMilli()
	if result.Success && len(result.State) > 0 {
		if perr := e.persist(ctx, logger, res, req, result, merged, nowMilli); perr != nil {
			return nil, perr
		}
	}

	e.sideEffects(ctx, logger, res, req, result, normalized, execID, cascaded, nowMilli)

	resp := &Response{
		Success:      result.Success,
		Data:         result.Data,
		Error:        result.Error,
		DeploymentID: res.ID,
		ExecID:       execID,
		Timestamp:    nowMilli,
	}
	if result.Success {
		resp.State = merged
		resp.FeedContent = result.FeedContent
		resp.Notifications = result.Notifications
		resp.Cascaded = cascaded
	}
	logger.Info("execution finished", "success", result.Success, "cascaded", len(cascaded))
	return resp, nil
}

// execContext is everything ContextBuilding assembles for the handler.
type execContext struct {
	tool      *tool.Tool
	element   *tool.Element
	elementID string
	hydrated  state.Map
	comm      *community.Context
}

// buildContext fans out the independent reads concurrently: the tool
// record, both state locations, and (for space targets) the community
// context. Missing state documents hydrate to empty maps; a failed
// community fetch degrades to none.
func (e *Engine) buildContext(ctx context.Context, logger *slog.Logger, res *deploy.Resolved, req Request) (*execContext, *Error) {
	if res.Record.ToolID == "" {
		return nil, invalidError(CodeMissingToolRef, "deployment has no tool reference")
	}

	var (
		wg             sync.WaitGroup
		tl             tool.Tool
		legacy, native state.Doc
		tErr, lErr     error
		nErr           error
		comm           *community.Context
	)
	wg.Add(3)
	go func() {
		defer wg.Done()
		tErr = e.store.GetInto(ctx, docstore.NewRef(ToolsCollection, res.Record.ToolID), &tl)
	}()
	go func() {
		defer wg.Done()
		lErr = e.store.GetInto(ctx, res.LegacyStateRef(req.UserID), &legacy)
	}()
	go func() {
		defer wg.Done()
		nErr = e.store.GetInto(ctx, res.NativeStateRef(req.UserID), &native)
	}()
	if res.Record.TargetKind == deploy.TargetSpace {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := e.fetcher.Fetch(ctx, res.Record.TargetID, req.UserID)
			if err != nil {
				logger.Warn("community context unavailable", "phase", phaseContext, "error", err)
				return
			}
			comm = c
		}()
	}
	wg.Wait()

	if errors.Is(tErr, docstore.ErrNotFound) {
		return nil, notFoundError(CodeToolNotFound, "tool not found")
	}
	if tErr != nil {
		logger.Error("tool fetch failed", "phase", phaseContext, "error", tErr)
		return nil, internalError(CodeInternal)
	}
	for _, err := range []error{lErr, nErr} {
		if err != nil && !errors.Is(err, docstore.ErrNotFound) {
			logger.Error("state hydration failed", "phase", phaseContext, "error", err)
			return nil, internalError(CodeInternal)
		}
	}

	bctx := &execContext{tool: &tl, comm: comm}
	// Legacy flat state first, deployment-native fragments on top.
	bctx.hydrated = legacy.State.Merge(native.State)
	if req.ElementID != "" {
		el, ok := tl.FindElement(req.ElementID)
		if !ok {
			return nil, notFoundError(CodeElementNotFound, "element not found")
		}
		bctx.element = el
		bctx.elementID = el.ID
	}
	return bctx, nil
}

// submissionRecord is the durable submission document filed in the
// persistence batch.
type submissionRecord struct {
	ID           string         `json:"id"`
	DeploymentID string         `json:"deploymentId"`
	ToolID       string         `json:"toolId"`
	ElementID    string         `json:"elementId,omitempty"`
	UserID       string         `json:"userId"`
	Values       map[string]any `json:"values"`
	SubmittedAt  int64          `json:"submittedAt"`
}

// persist commits the merged state to both storage locations, the
// optional submission record, and the record's running totals as one
// batch. A failed commit leaves nothing behind.
func (e *Engine) persist(ctx context.Context, logger *slog.Logger, res *deploy.Resolved, req Request, result *action.Result, merged state.Map, nowMilli int64) *Error {
	doc := state.Doc{
		DeploymentID: res.ID,
		UserID:       req.UserID,
		State:        merged,
		UpdatedAt:    nowMilli,
	}
	batch := e.store.NewBatch()
	batch.Set(res.LegacyStateRef(req.UserID), doc)
	batch.Set(res.NativeStateRef(req.UserID), doc)
	if sub := result.Submission; sub != nil {
		batch.Set(docstore.NewRef(SubmissionsCollection, sub.ID), submissionRecord{
			ID:           sub.ID,
			DeploymentID: res.ID,
			ToolID:       res.Record.ToolID,
			ElementID:    sub.ElementID,
			UserID:       req.UserID,
			Values:       sub.Values,
			SubmittedAt:  nowMilli,
		})
	}
	batch.Increment(res.RecordRef, "stats.executions", 1)
	batch.Update(res.RecordRef, map[string]any{"stats": map[string]any{"lastUsedAt": nowMilli}})
	if err := batch.Commit(ctx); err != nil {
		logger.Error("persistence batch failed", "phase", phasePersisting, "error", err)
		return internalError(CodeStateNotSaved)
	}
	return nil
}

// sideEffects runs the fire-and-forget tail: usage counters, the
// analytics event, the audit record, and (success only) the auto feed
// post and notifications. Nothing here can change the response.
func (e *Engine) sideEffects(ctx context.Context, logger *slog.Logger, res *deploy.Resolved, req Request, result *action.Result, normalized, execID string, cascaded []string, nowMilli int64) {
	usageRef := res.RecordRef
	if res.FlatID != "" {
		usageRef = docstore.NewRef(deploy.FlatCollection, res.FlatID)
	}
	if err := e.store.Increment(ctx, usageRef, "usageCount", 1); err != nil {
		logger.Warn("usage counter update failed", "phase", phaseSideEffects, "error", err)
	}
	if err := e.store.Increment(ctx, docstore.NewRef(ToolsCollection, res.Record.ToolID), "useCount", 1); err != nil {
		logger.Warn("tool use counter update failed", "phase", phaseSideEffects, "error", err)
	}

	e.sinks.RecordExecution(ctx, sink.Event{
		ID:           e.newID(),
		Type:         "tool_action",
		DeploymentID: res.ID,
		ToolID:       res.Record.ToolID,
		UserID:       req.UserID,
		Action:       normalized,
		Success:      result.Success,
		Error:        result.Error,
		At:           nowMilli,
	})
	e.sinks.RecordAudit(ctx, sink.AuditRecord{
		ID:           execID,
		DeploymentID: res.ID,
		ToolID:       res.Record.ToolID,
		UserID:       req.UserID,
		Action:       normalized,
		Success:      result.Success,
		Error:        result.Error,
		Cascaded:     cascaded,
		At:           nowMilli,
	})
	if !result.Success {
		return
	}

	if result.FeedContent != nil && res.AutoPost() {
		fc := result.FeedContent
		e.sinks.PublishFeed(ctx, sink.FeedPost{
			ID:           e.newID(),
			TargetKind:   res.Record.TargetKind,
			TargetID:     res.Record.TargetID,
			DeploymentID: res.ID,
			ToolID:       res.Record.ToolID,
			AuthorID:     req.UserID,
			Kind:         fc.Kind,
			Title:        fc.Title,
			Body:         fc.Body,
			At:           nowMilli,
		})
	}
	for _, n := range result.Notifications {
		e.sinks.Notify(ctx, sink.Notification{
			ID:           e.newID(),
			UserID:       n.UserID,
			Kind:         n.Kind,
			Title:        n.Title,
			Message:      n.Message,
			DeploymentID: res.ID,
			At:           nowMilli,
		})
	}
}

func elementType(el *tool.Element) string {
	if el == nil {
		return ""
	}
	return el.Type
}
