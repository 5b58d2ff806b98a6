// Package orchestrator runs one conversational turn: it records the user
// message, streams the model reply and dispatches tool calls to the market
// tools, publishing everything on a stream sink.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/coinchat/backend/internal/model/chat"
	"github.com/coinchat/backend/internal/model/ui"
	"github.com/coinchat/backend/internal/service/stream"
	"github.com/coinchat/backend/internal/service/tools"
)

var (
	ErrModel         = errors.New("language model failed")
	ErrEmptyResponse = errors.New("language model returned neither text nor a tool call")
	ErrEmptyMessage  = errors.New("message text is empty")
)

// Store is the conversation state the orchestrator reads and appends to.
type Store interface {
	BeginTurn(ctx context.Context, sessionID string) (func(), error)
	Append(ctx context.Context, sessionID string, messages ...chat.Message) error
	Snapshot(ctx context.Context, sessionID string) ([]chat.Message, error)
	Finalize(ctx context.Context, sessionID string) error
}

// Responder produces the next assistant move for a history.
type Responder interface {
	StreamReply(ctx context.Context, history []chat.Message) (*schema.StreamReader[*schema.Message], error)
}

// Tools validates and runs tool calls requested by the model.
type Tools interface {
	Validate(name, rawArgs string) (tools.Invocation, error)
	Summarize(inv tools.Invocation) string
	Execute(ctx context.Context, inv tools.Invocation) (ui.Fragment, error)
}

// Orchestrator wires the store, the model and the tools together.
type Orchestrator struct {
	store     Store
	responder Responder
	tools     Tools
	logger    logr.Logger
}

func New(store Store, responder Responder, toolset Tools, logger logr.Logger) *Orchestrator {
	return &Orchestrator{
		store:     store,
		responder: responder,
		tools:     toolset,
		logger:    logger.WithName("orchestrator"),
	}
}

// HandleTurn starts a turn for userText. Session and input errors are returned
// before any update is produced; everything else arrives on the returned
// channel, which ends with a single Done update and is then closed.
func (o *Orchestrator) HandleTurn(ctx context.Context, sessionID, userText string) (<-chan stream.Update, error) {
	if strings.TrimSpace(userText) == "" {
		return nil, ErrEmptyMessage
	}

	release, err := o.store.BeginTurn(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := o.store.Append(ctx, sessionID, chat.NewTextMessage(chat.RoleUser, userText)); err != nil {
		release()
		return nil, err
	}

	sink, updates := stream.NewSink()
	go o.run(ctx, sessionID, sink, release)
	return updates, nil
}

func (o *Orchestrator) run(ctx context.Context, sessionID string, sink *stream.Sink, release func()) {
	logger := o.logger.WithValues("session", sessionID)

	final := o.runTurn(ctx, sessionID, sink, logger)

	if err := o.store.Finalize(context.WithoutCancel(ctx), sessionID); err != nil {
		logger.Error(err, "finalize session failed")
	}
	release()

	if err := sink.Done(ctx, final); err != nil {
		if errors.Is(err, stream.ErrStreamClosed) {
			logger.Error(err, "turn output written after done")
			return
		}
		logger.V(1).Info("consumer left before the final update", "reason", err.Error())
	}
}

func (o *Orchestrator) runTurn(ctx context.Context, sessionID string, sink *stream.Sink, logger logr.Logger) ui.Fragment {
	fragment, err := o.respond(ctx, sessionID, sink, logger)
	if err == nil {
		return fragment
	}

	kind := Classify(err)
	if ctx.Err() != nil {
		kind = ui.ErrorCancelled
	}
	switch kind {
	case ui.ErrorInternal:
		logger.Error(err, "turn failed")
	case ui.ErrorCancelled:
		logger.V(1).Info("turn cancelled", "reason", err.Error())
	default:
		logger.Info("turn failed", "kind", string(kind), "error", err.Error())
	}
	return ui.Error(kind, Describe(kind))
}

func (o *Orchestrator) respond(ctx context.Context, sessionID string, sink *stream.Sink, logger logr.Logger) (ui.Fragment, error) {
	history, err := o.store.Snapshot(ctx, sessionID)
	if err != nil {
		return ui.Fragment{}, err
	}

	reply, err := o.responder.StreamReply(ctx, history)
	if err != nil {
		return ui.Fragment{}, fmt.Errorf("%w: %w", ErrModel, err)
	}
	defer reply.Close()

	var toolChunks []*schema.Message
	for {
		chunk, err := reply.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ui.Fragment{}, ctxErr
			}
			return ui.Fragment{}, fmt.Errorf("%w: %w", ErrModel, err)
		}
		if chunk == nil {
			continue
		}

		if toolChunks == nil && len(chunk.ToolCalls) > 0 {
			if partial := sink.Text(); partial != "" {
				logger.V(1).Info("discarding streamed text in favour of tool call", "chars", len(partial))
			}
			toolChunks = make([]*schema.Message, 0, 8)
		}
		if toolChunks != nil {
			toolChunks = append(toolChunks, chunk)
			continue
		}

		if chunk.Content == "" {
			continue
		}
		if err := sink.Push(ctx, chunk.Content); err != nil {
			return ui.Fragment{}, err
		}
	}

	if toolChunks != nil {
		return o.dispatch(ctx, sessionID, toolChunks, logger)
	}

	text := sink.Text()
	if strings.TrimSpace(text) == "" {
		return ui.Fragment{}, ErrEmptyResponse
	}
	if err := o.store.Append(ctx, sessionID, chat.NewTextMessage(chat.RoleAssistant, text)); err != nil {
		return ui.Fragment{}, err
	}
	return ui.Text(text), nil
}

// dispatch records the requested call and its result as one pair, then runs
// the tool. A rejected call is recorded too, with the rejection as its result.
func (o *Orchestrator) dispatch(ctx context.Context, sessionID string, chunks []*schema.Message, logger logr.Logger) (ui.Fragment, error) {
	message, err := schema.ConcatMessages(chunks)
	if err != nil {
		return ui.Fragment{}, fmt.Errorf("%w: assemble tool call: %w", ErrModel, err)
	}
	if len(message.ToolCalls) == 0 {
		return ui.Fragment{}, ErrEmptyResponse
	}
	if extra := len(message.ToolCalls) - 1; extra > 0 {
		logger.Info("model requested several tools, running the first", "ignored", extra)
	}

	call := message.ToolCalls[0]
	callID := call.ID
	if callID == "" {
		callID = "call_" + uuid.NewString()
	}
	name := call.Function.Name

	inv, validateErr := o.tools.Validate(name, call.Function.Arguments)

	var (
		args   map[string]any
		result string
	)
	if validateErr != nil {
		args = looseArgs(call.Function.Arguments)
		result = fmt.Sprintf("the %s call was rejected: %v", name, validateErr)
	} else {
		inv.ID = callID
		args = inv.Args
		result = o.tools.Summarize(inv)
	}

	err = o.store.Append(ctx, sessionID,
		chat.NewToolCallMessage(callID, name, args),
		chat.NewToolResultMessage(callID, name, result),
	)
	if err != nil {
		return ui.Fragment{}, err
	}
	if validateErr != nil {
		return ui.Fragment{}, validateErr
	}

	logger.V(1).Info("running tool", "tool", name, "call", callID)
	fragment, err := o.tools.Execute(ctx, inv)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ui.Fragment{}, ctxErr
		}
		return ui.Fragment{}, err
	}
	return fragment, nil
}

// looseArgs keeps whatever object the model sent so a rejected call can still
// be shown in history.
func looseArgs(raw string) map[string]any {
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil || args == nil {
		return map[string]any{}
	}
	return args
}
