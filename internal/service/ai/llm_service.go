package ai

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/go-logr/logr"

	"github.com/coinchat/backend/internal/config"
	"github.com/coinchat/backend/internal/model/chat"
)

// Service wraps the tool-bound chat model behind a prompt template chain.
type Service struct {
	chatModel model.BaseChatModel
	cfg       config.AIConfig
	directive Directive
	chain     compose.Runnable[map[string]any, *schema.Message]
	logger    logr.Logger
}

// NewService binds tools to the chat model and compiles the reply chain.
func NewService(ctx context.Context, chatModel model.BaseChatModel, tools []*schema.ToolInfo, cfg config.AIConfig, logger logr.Logger) (*Service, error) {
	if chatModel == nil {
		return nil, fmt.Errorf("chat model is nil")
	}

	toolModel, err := bindTools(chatModel, tools)
	if err != nil {
		return nil, fmt.Errorf("failed to bind tools: %w", err)
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(toolModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &Service{
		chatModel: toolModel,
		cfg:       cfg,
		directive: DefaultDirective(),
		chain:     runnable,
		logger:    logger,
	}, nil
}

// StreamReply asks the model for the next assistant move given the full
// history. The stream yields text increments or tool call chunks.
func (s *Service) StreamReply(ctx context.Context, history []chat.Message) (*schema.StreamReader[*schema.Message], error) {
	input := map[string]any{
		"system":  s.directive.String(),
		"history": s.buildHistoryMessages(history),
	}

	stream, err := s.chain.Stream(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to stream AI chain output: %w", err)
	}
	s.logger.V(1).Info("model stream opened", "history", len(history))
	return stream, nil
}

// buildHistoryMessages converts stored messages into eino messages, keeping
// tool calls paired with their results.
func (s *Service) buildHistoryMessages(messages []chat.Message) []*schema.Message {
	if len(messages) == 0 {
		return nil
	}

	start := 0
	if limit := s.cfg.HistoryLimit; limit > 0 && len(messages) > limit {
		start = len(messages) - limit
		// never open the window on a tool result whose call was cut off
		for start < len(messages) && messages[start].Role == chat.RoleTool {
			start++
		}
	}

	history := make([]*schema.Message, 0, len(messages)-start)
	for _, msg := range messages[start:] {
		switch msg.Role {
		case chat.RoleUser:
			history = append(history, schema.UserMessage(msg.Text()))
		case chat.RoleAssistant:
			if call, ok := msg.ToolCall(); ok {
				history = append(history, schema.AssistantMessage("", []schema.ToolCall{toolCall(call)}))
				continue
			}
			history = append(history, schema.AssistantMessage(msg.Text(), nil))
		case chat.RoleTool:
			if result, ok := msg.ToolResult(); ok {
				history = append(history, schema.ToolMessage(result.Result, result.ToolCallID))
			}
		}
	}

	return history
}

// bindTools prefers WithTools, which leaves the original model untouched, and
// falls back to BindTools for models such as ark.ChatModel that only offer it.
func bindTools(chatModel model.BaseChatModel, tools []*schema.ToolInfo) (model.BaseChatModel, error) {
	switch m := chatModel.(type) {
	case model.ToolCallingChatModel:
		return m.WithTools(tools)
	case model.ChatModel:
		if err := m.BindTools(tools); err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, fmt.Errorf("chat model %T does not support tool calling", chatModel)
	}
}

func toolCall(part chat.Part) schema.ToolCall {
	args, err := json.Marshal(part.Args)
	if err != nil || part.Args == nil {
		args = []byte("{}")
	}
	return schema.ToolCall{
		ID:   part.ToolCallID,
		Type: "function",
		Function: schema.FunctionCall{
			Name:      part.ToolName,
			Arguments: string(args),
		},
	}
}
