package chat

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TurnCallbacks connect a running turn to its UI collaborator. Any number of
// OnChunk and OnToolCallsComplete invocations may happen per turn; exactly
// one of OnComplete or OnError fires.
type TurnCallbacks struct {
	// OnChunk receives every content and thinking chunk as it streams.
	OnChunk func(Chunk)
	// OnAppend fires for every message the loop appends to the session, in
	// session order, so the caller can persist it durably.
	OnAppend func(Message)
	// OnToolCallsComplete fires after every tool call of one round has been
	// processed and its tool message appended, before the next generation
	// round starts.
	OnToolCallsComplete func(assistant Message)
	// OnComplete receives the finished assistant message.
	OnComplete func(Message)
	// OnError receives the terminal error: a ContextLimitError, a transport
	// error, or ErrCancelled.
	OnError func(error)
	// OnToolPermission suspends until the user decides an ask-policy tool
	// call. A nil callback denies. Returning an error (typically ctx.Err())
	// cancels the turn.
	OnToolPermission func(ctx context.Context, call ToolCall) (bool, error)
}

// ChatLoop drives one assistant turn end-to-end: context selection, streamed
// generation, permission-gated tool execution, and continuation rounds until
// a terminal state.
//
// One session must have at most one turn in flight; the loop is the only
// writer of session messages while it runs.
type ChatLoop struct {
	Provider    Provider
	Registry    *ToolRegistry
	Permissions *PermissionManager
	Context     *ContextManager
	Logger      *Logger
	Temperature float64
}

func NewChatLoop(provider Provider, registry *ToolRegistry, perms *PermissionManager, ctxmgr *ContextManager, logger *Logger) *ChatLoop {
	if registry == nil {
		registry = NewToolRegistry()
	}
	if perms == nil {
		perms = NewPermissionManager()
	}
	if ctxmgr == nil {
		ctxmgr = NewContextManager(nil)
	}
	return &ChatLoop{
		Provider:    provider,
		Registry:    registry,
		Permissions: perms,
		Context:     ctxmgr,
		Logger:      logger,
	}
}

type roundResult int

const (
	roundDone roundResult = iota
	roundToolCalls
	roundErrored
	roundCancelled
)

// Run executes one turn. Tool-call chains continue iteratively, not
// recursively, so long chains cannot grow the stack.
func (l *ChatLoop) Run(ctx context.Context, sess *Session, cb TurnCallbacks) {
	for round := 0; ; round++ {
		if ctx.Err() != nil {
			l.fail(cb, ErrCancelled)
			return
		}

		info := l.modelInfo(ctx, sess.Model)
		active, err := l.Context.ActiveMessages(sess, info.ContextLength)
		if err != nil {
			l.fail(cb, err)
			return
		}

		tools := l.Registry.EnabledDefinitions(l.Permissions)
		opts := GenerateOptions{Temperature: l.Temperature, Think: info.SupportsThinking}
		stream, err := l.Provider.Generate(ctx, active, tools, sess.Model, opts)
		if err != nil {
			l.fail(cb, err)
			return
		}

		draft := Message{
			ID:        uuid.NewString(),
			Role:      RoleAssistant,
			Timestamp: time.Now(),
			Streaming: true,
		}
		result, streamErr := l.consumeStream(ctx, stream, &draft, cb)
		switch result {
		case roundCancelled:
			l.fail(cb, ErrCancelled)
			return
		case roundErrored:
			l.fail(cb, streamErr)
			return
		case roundDone:
			draft.Streaming = false
			l.append(sess, cb, draft)
			if cb.OnComplete != nil {
				cb.OnComplete(draft)
			}
			return
		case roundToolCalls:
			draft.Streaming = false
			l.append(sess, cb, draft)
			assistantIdx := len(sess.Messages) - 1
			if err := l.executeToolCalls(ctx, sess, assistantIdx, cb); err != nil {
				l.fail(cb, err)
				return
			}
			if cb.OnToolCallsComplete != nil {
				cb.OnToolCallsComplete(sess.Messages[assistantIdx])
			}
			l.log("tool round complete", map[string]interface{}{
				"session": sess.ID,
				"round":   round,
				"calls":   len(sess.Messages[assistantIdx].ToolCalls),
			})
		}
	}
}

// consumeStream accumulates chunks into the draft. Cancellation is checked at
// every chunk boundary; once observed no further chunk is consumed or
// forwarded.
func (l *ChatLoop) consumeStream(ctx context.Context, stream <-chan Chunk, draft *Message, cb TurnCallbacks) (roundResult, error) {
	for {
		if ctx.Err() != nil {
			return roundCancelled, nil
		}
		select {
		case <-ctx.Done():
			return roundCancelled, nil
		case chunk, ok := <-stream:
			if !ok {
				return roundDone, nil
			}
			switch chunk.Type {
			case ChunkContent:
				draft.Content += chunk.Content
				if cb.OnChunk != nil {
					cb.OnChunk(chunk)
				}
			case ChunkThinking:
				draft.Thinking += chunk.Thinking
				if cb.OnChunk != nil {
					cb.OnChunk(chunk)
				}
			case ChunkToolCalls:
				draft.ToolCalls = chunk.ToolCalls
				return roundToolCalls, nil
			case ChunkDone:
				return roundDone, nil
			case ChunkError:
				return roundErrored, chunk.Err
			}
		}
	}
}

// executeToolCalls processes the tool calls of sess.Messages[assistantIdx]
// strictly sequentially in array order. Each call's outcome is recorded on
// the call itself, and one tool-role message is appended immediately after
// each call so later calls observe earlier results. A non-nil return means
// the turn was cancelled while suspended.
func (l *ChatLoop) executeToolCalls(ctx context.Context, sess *Session, assistantIdx int, cb TurnCallbacks) error {
	for i := range sess.Messages[assistantIdx].ToolCalls {
		if ctx.Err() != nil {
			return ErrCancelled
		}
		call := &sess.Messages[assistantIdx].ToolCalls[i]
		if err := l.resolveToolCall(ctx, call, cb); err != nil {
			return err
		}

		content := call.Result
		if content == "" {
			content = call.Error
		}
		if content == "" {
			content = "No result"
		}
		l.append(sess, cb, Message{
			ID:        uuid.NewString(),
			Role:      RoleTool,
			ToolName:  call.Name,
			Content:   content,
			Timestamp: time.Now(),
		})
	}
	return nil
}

// resolveToolCall applies the permission policy and executes the tool.
// Everything attributable to this one call is contained in its Result/Error
// fields; only a cancellation while awaiting the permission decision
// escalates.
func (l *ChatLoop) resolveToolCall(ctx context.Context, call *ToolCall, cb TurnCallbacks) error {
	tool, ok := l.Registry.Get(call.Name)
	if !ok {
		call.PermissionStatus = PermissionDenied
		call.Error = "Tool not found: " + call.Name
		return nil
	}

	// Policies are re-read per call; they may have changed since the round
	// started.
	switch {
	case l.Permissions.IsDisabled(call.Name):
		call.PermissionStatus = PermissionDenied
		call.Error = "Tool is disabled: " + call.Name
		return nil
	case l.Permissions.IsDenied(call.Name):
		call.PermissionStatus = PermissionDenied
		call.Error = "Tool is denied: " + call.Name
		return nil
	case l.Permissions.RequiresPrompt(call.Name):
		approved, err := l.askPermission(ctx, *call, cb)
		if err != nil {
			return err
		}
		if !approved {
			call.PermissionStatus = PermissionDenied
			call.Error = "Permission denied by user"
			return nil
		}
		call.PermissionStatus = PermissionApproved
	default:
		call.PermissionStatus = PermissionApproved
	}

	result, err := tool.Execute(ctx, call.Arguments)
	if err != nil {
		call.Error = err.Error()
		l.log("tool execution failed", map[string]interface{}{
			"tool":  call.Name,
			"error": err.Error(),
		})
		return nil
	}
	call.Result = result
	return nil
}

func (l *ChatLoop) askPermission(ctx context.Context, call ToolCall, cb TurnCallbacks) (bool, error) {
	if cb.OnToolPermission == nil {
		return false, nil
	}
	approved, err := cb.OnToolPermission(ctx, call)
	if err != nil {
		return false, ErrCancelled
	}
	return approved, nil
}

// modelInfo queries the provider's capabilities for the next round. A failed
// query falls back to defaults rather than aborting the turn.
func (l *ChatLoop) modelInfo(ctx context.Context, model string) ModelInfo {
	info, err := l.Provider.ModelInfo(ctx, model)
	if err != nil {
		l.log("model info unavailable, using defaults", map[string]interface{}{
			"model": model,
			"error": err.Error(),
		})
		return ModelInfo{ContextLength: DefaultContextTokens}
	}
	if info.ContextLength <= 0 {
		info.ContextLength = DefaultContextTokens
	}
	return info
}

func (l *ChatLoop) append(sess *Session, cb TurnCallbacks, msg Message) {
	sess.Append(msg)
	if cb.OnAppend != nil {
		cb.OnAppend(msg)
	}
}

func (l *ChatLoop) fail(cb TurnCallbacks, err error) {
	if l.Logger != nil {
		l.Logger.Error("turn failed", map[string]interface{}{"error": err.Error()})
	}
	if cb.OnError != nil {
		cb.OnError(err)
	}
}

func (l *ChatLoop) log(message string, fields map[string]interface{}) {
	if l.Logger != nil {
		l.Logger.Info(message, fields)
	}
}
