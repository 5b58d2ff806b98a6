// Package aitest provides a scripted eino chat model for tests.
package aitest

import (
	"context"
	"errors"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// Model replays canned responses, one script per call, and records its inputs.
type Model struct {
	mu      sync.Mutex
	scripts [][]*schema.Message
	err     error
	tools   []*schema.ToolInfo
	inputs  [][]*schema.Message
}

// NewModel returns a model that answers successive calls with the given scripts.
func NewModel(scripts ...[]*schema.Message) *Model {
	return &Model{scripts: scripts}
}

// Failing returns a model whose every call fails with err.
func Failing(err error) *Model {
	return &Model{err: err}
}

// Text scripts a text reply split into the given increments.
func Text(increments ...string) []*schema.Message {
	chunks := make([]*schema.Message, 0, len(increments))
	for _, inc := range increments {
		chunks = append(chunks, &schema.Message{Role: schema.Assistant, Content: inc})
	}
	return chunks
}

// ToolCall scripts a single tool call whose arguments arrive in fragments.
func ToolCall(id, name string, argFragments ...string) []*schema.Message {
	index := 0
	chunks := make([]*schema.Message, 0, len(argFragments)+1)
	chunks = append(chunks, &schema.Message{
		Role: schema.Assistant,
		ToolCalls: []schema.ToolCall{{
			Index:    &index,
			ID:       id,
			Type:     "function",
			Function: schema.FunctionCall{Name: name},
		}},
	})
	for _, fragment := range argFragments {
		chunks = append(chunks, &schema.Message{
			Role: schema.Assistant,
			ToolCalls: []schema.ToolCall{{
				Index:    &index,
				Function: schema.FunctionCall{Arguments: fragment},
			}},
		})
	}
	return chunks
}

func (m *Model) next(input []*schema.Message) ([]*schema.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.inputs = append(m.inputs, input)
	if m.err != nil {
		return nil, m.err
	}
	if len(m.scripts) == 0 {
		return nil, errors.New("aitest: no scripted response left")
	}
	script := m.scripts[0]
	m.scripts = m.scripts[1:]
	return script, nil
}

// Generate implements model.BaseChatModel.
func (m *Model) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	script, err := m.next(input)
	if err != nil {
		return nil, err
	}
	if len(script) == 0 {
		return &schema.Message{Role: schema.Assistant}, nil
	}
	return schema.ConcatMessages(script)
}

// Stream implements model.BaseChatModel.
func (m *Model) Stream(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	script, err := m.next(input)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray(script), nil
}

// WithTools implements model.ToolCallingChatModel.
func (m *Model) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tools = tools
	return m, nil
}

// Tools returns the tools bound through WithTools.
func (m *Model) Tools() []*schema.ToolInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tools
}

// Inputs returns the message lists received so far.
func (m *Model) Inputs() [][]*schema.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]*schema.Message(nil), m.inputs...)
}
