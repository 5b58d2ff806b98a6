package ai

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coinchat/backend/internal/config"
	"github.com/coinchat/backend/internal/model/chat"
	"github.com/coinchat/backend/internal/service/ai/aitest"
)

func sampleTools() []*schema.ToolInfo {
	return []*schema.ToolInfo{{
		Name: "getPrice",
		Desc: "get the price of a coin",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"coinId": {Type: schema.String, Required: true},
		}),
	}}
}

func collect(t *testing.T, stream *schema.StreamReader[*schema.Message]) []*schema.Message {
	t.Helper()
	defer stream.Close()
	var chunks []*schema.Message
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return chunks
		}
		require.NoError(t, err)
		chunks = append(chunks, chunk)
	}
}

func TestNewServiceBindsTools(t *testing.T) {
	fake := aitest.NewModel()
	_, err := NewService(context.Background(), fake, sampleTools(), config.AIConfig{}, logr.Discard())
	require.NoError(t, err)

	require.Len(t, fake.Tools(), 1)
	assert.Equal(t, "getPrice", fake.Tools()[0].Name)

	_, err = NewService(context.Background(), nil, nil, config.AIConfig{}, logr.Discard())
	assert.Error(t, err)
}

// bindOnlyModel offers tools only through the deprecated BindTools, like ark.ChatModel.
type bindOnlyModel struct {
	inner *aitest.Model
	bound []*schema.ToolInfo
}

func (m *bindOnlyModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	return m.inner.Generate(ctx, input, opts...)
}

func (m *bindOnlyModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return m.inner.Stream(ctx, input, opts...)
}

func (m *bindOnlyModel) BindTools(tools []*schema.ToolInfo) error {
	m.bound = tools
	return nil
}

func TestNewServiceFallsBackToBindTools(t *testing.T) {
	legacy := &bindOnlyModel{inner: aitest.NewModel(aitest.ToolCall("c1", "getPrice", `{"coinId":"bitcoin"}`))}
	svc, err := NewService(context.Background(), legacy, sampleTools(), config.AIConfig{}, logr.Discard())
	require.NoError(t, err)

	require.Len(t, legacy.bound, 1)
	assert.Equal(t, "getPrice", legacy.bound[0].Name)

	stream, err := svc.StreamReply(context.Background(), []chat.Message{chat.NewTextMessage(chat.RoleUser, "btc?")})
	require.NoError(t, err)
	reply, err := schema.ConcatMessages(collect(t, stream))
	require.NoError(t, err)
	require.Len(t, reply.ToolCalls, 1)
	assert.Equal(t, "getPrice", reply.ToolCalls[0].Function.Name)
}

func TestNewServiceRejectsModelsWithoutTools(t *testing.T) {
	var plain model.BaseChatModel = struct{ model.BaseChatModel }{aitest.NewModel()}
	_, err := NewService(context.Background(), plain, sampleTools(), config.AIConfig{}, logr.Discard())
	assert.Error(t, err)
}

func TestStreamReplySendsDirectiveAndHistory(t *testing.T) {
	fake := aitest.NewModel(aitest.Text("hello ", "there"))
	svc, err := NewService(context.Background(), fake, sampleTools(), config.AIConfig{}, logr.Discard())
	require.NoError(t, err)

	history := []chat.Message{
		chat.NewTextMessage(chat.RoleUser, "what is bitcoin at?"),
		chat.NewToolCallMessage("call-1", "getPrice", map[string]any{"coinId": "bitcoin"}),
		chat.NewToolResultMessage("call-1", "getPrice", "The price of bitcoin is currently displayed on the screen"),
		chat.NewTextMessage(chat.RoleUser, "thanks"),
	}

	stream, err := svc.StreamReply(context.Background(), history)
	require.NoError(t, err)
	chunks := collect(t, stream)

	reply, err := schema.ConcatMessages(chunks)
	require.NoError(t, err)
	assert.Equal(t, "hello there", reply.Content)

	inputs := fake.Inputs()
	require.Len(t, inputs, 1)
	sent := inputs[0]
	require.Len(t, sent, 5)

	assert.Equal(t, schema.System, sent[0].Role)
	assert.Contains(t, sent[0].Content, "reply in lower case")
	assert.Contains(t, sent[0].Content, "trading researcher")

	assert.Equal(t, schema.User, sent[1].Role)
	assert.Equal(t, schema.Assistant, sent[2].Role)
	require.Len(t, sent[2].ToolCalls, 1)
	assert.Equal(t, "call-1", sent[2].ToolCalls[0].ID)
	assert.Equal(t, "getPrice", sent[2].ToolCalls[0].Function.Name)
	assert.JSONEq(t, `{"coinId":"bitcoin"}`, sent[2].ToolCalls[0].Function.Arguments)
	assert.Equal(t, schema.Tool, sent[3].Role)
	assert.Equal(t, "call-1", sent[3].ToolCallID)
	assert.Equal(t, "thanks", sent[4].Content)
}

func TestStreamReplyPropagatesModelErrors(t *testing.T) {
	svc, err := NewService(context.Background(), aitest.Failing(errors.New("upstream timeout")), sampleTools(), config.AIConfig{}, logr.Discard())
	require.NoError(t, err)

	stream, err := svc.StreamReply(context.Background(), []chat.Message{chat.NewTextMessage(chat.RoleUser, "hi")})
	if err == nil {
		// some chain versions defer the node error to the first Recv
		_, err = stream.Recv()
		stream.Close()
	}
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upstream timeout")
}

func TestHistoryLimitNeverStartsOnToolResult(t *testing.T) {
	svc := &Service{cfg: config.AIConfig{HistoryLimit: 2}}

	history := []chat.Message{
		chat.NewTextMessage(chat.RoleUser, "chart bitcoin"),
		chat.NewToolCallMessage("c1", "historicalChart", map[string]any{"coinId": "bitcoin", "days": 7}),
		chat.NewToolResultMessage("c1", "historicalChart", "displayed"),
		chat.NewTextMessage(chat.RoleUser, "and now?"),
	}

	got := svc.buildHistoryMessages(history)
	require.Len(t, got, 1)
	assert.Equal(t, schema.User, got[0].Role)
	assert.Equal(t, "and now?", got[0].Content)
}

func TestDirectiveStripsTemplateBraces(t *testing.T) {
	d := Directive{Persona: "you are {helpful}", Rules: []string{"no {placeholders}"}}
	rendered := d.String()
	assert.False(t, strings.ContainsAny(rendered, "{}"))
	assert.Equal(t, "- you are helpful\n- no placeholders", rendered)
}
