package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/ligai/pkg/logging"
)

type fakeConverse struct {
	input *bedrockruntime.ConverseInput
	out   *bedrockruntime.ConverseOutput
	err   error
}

func (f *fakeConverse) Converse(_ context.Context, params *bedrockruntime.ConverseInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	f.input = params
	return f.out, f.err
}

func textOutput(text string) *bedrockruntime.ConverseOutput {
	return &bedrockruntime.ConverseOutput{
		Output: &brtypes.ConverseOutputMemberMessage{Value: brtypes.Message{
			Role:    brtypes.ConversationRoleAssistant,
			Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: text}},
		}},
		StopReason: brtypes.StopReasonEndTurn,
		Usage:      &brtypes.TokenUsage{InputTokens: aws.Int32(12), OutputTokens: aws.Int32(4), TotalTokens: aws.Int32(16)},
	}
}

func TestBedrockClientComplete(t *testing.T) {
	api := &fakeConverse{out: textOutput("  Claro!  ")}
	client := NewBedrockClient(api)

	resp, err := client.Complete(context.Background(), Request{
		Model:  "anthropic.claude",
		System: []string{"Você é uma atendente.", " "},
		Messages: []Message{
			{Role: RoleAssistant, Content: "Olá!"},
			{Role: RoleUser, Content: "Quero marcar"},
			{Role: RoleUser, Content: "   "},
		},
		MaxTokens:   300,
		Temperature: 0.5,
	})
	require.NoError(t, err)
	assert.Equal(t, "Claro!", resp.Text)
	assert.Equal(t, int32(16), resp.Usage.TotalTokens)
	assert.Equal(t, "end_turn", resp.StopReason)

	require.NotNil(t, api.input)
	assert.Equal(t, "anthropic.claude", aws.ToString(api.input.ModelId))
	assert.Len(t, api.input.System, 1)
	assert.Len(t, api.input.Messages, 2)
	assert.Equal(t, int32(300), aws.ToInt32(api.input.InferenceConfig.MaxTokens))
}

func TestBedrockClientErrors(t *testing.T) {
	client := NewBedrockClient(&fakeConverse{out: textOutput("x")})
	_, err := client.Complete(context.Background(), Request{})
	assert.Error(t, err)

	_, err = client.Complete(context.Background(), Request{Model: "m", Messages: []Message{{Role: "tool", Content: "x"}}})
	assert.Error(t, err)

	failing := NewBedrockClient(&fakeConverse{err: errors.New("throttled")})
	_, err = failing.Complete(context.Background(), Request{Model: "m"})
	assert.ErrorContains(t, err, "throttled")

	empty := NewBedrockClient(&fakeConverse{out: textOutput("  ")})
	_, err = empty.Complete(context.Background(), Request{Model: "m"})
	assert.Error(t, err)

	assert.Panics(t, func() { NewBedrockClient(nil) })
}

func TestGeminiHistoryRoles(t *testing.T) {
	history := geminiHistory([]Message{
		{Role: RoleSystem, Content: "ignored"},
		{Role: RoleAssistant, Content: "Olá"},
		{Role: RoleUser, Content: "Oi"},
		{Role: RoleUser, Content: ""},
	})
	require.Len(t, history, 2)
	assert.Equal(t, "model", history[0].Role)
	assert.Equal(t, "user", history[1].Role)
	assert.Equal(t, genai.Text("Oi"), history[1].Parts[0])
}

func TestNewGeminiClientRequiresKey(t *testing.T) {
	_, err := NewGeminiClient(context.Background(), "", "")
	assert.Error(t, err)
}

type stubClient struct {
	req   Request
	calls int
	resp  Response
	err   error
	delay time.Duration
}

func (s *stubClient) Complete(ctx context.Context, req Request) (Response, error) {
	s.calls++
	s.req = req
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return Response{}, ctx.Err()
		}
	}
	return s.resp, s.err
}

func TestFallbackClient(t *testing.T) {
	primary := &stubClient{err: errors.New("down")}
	fallback := &stubClient{resp: Response{Text: "ok"}}
	client := NewFallbackClient(primary, fallback, logging.New("error"))

	resp, err := client.Complete(context.Background(), Request{Model: "m"})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
	assert.Equal(t, 1, fallback.calls)

	noFallback := NewFallbackClient(primary, nil, nil)
	_, err = noFallback.Complete(context.Background(), Request{})
	assert.ErrorContains(t, err, "down")

	fallback.err = errors.New("also down")
	_, err = client.Complete(context.Background(), Request{})
	assert.ErrorContains(t, err, "also down")
}

func TestResponderTrimsHistory(t *testing.T) {
	stub := &stubClient{resp: Response{Text: " Pois não? "}}
	responder := NewResponder(stub, ResponderConfig{Model: "m", HistoryTurns: 10, Temperature: 0.7})

	var history []Message
	for i := 0; i < 14; i++ {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		history = append(history, Message{Role: role, Content: fmt.Sprintf("turn %d", i)})
	}
	reply, err := responder.Reply(context.Background(), "  seja breve ", history)
	require.NoError(t, err)
	assert.Equal(t, "Pois não?", reply)
	require.Len(t, stub.req.Messages, 10)
	assert.Equal(t, "turn 4", stub.req.Messages[0].Content)
	assert.Equal(t, []string{"seja breve"}, stub.req.System)
	assert.Equal(t, int32(500), stub.req.MaxTokens)
	assert.InDelta(t, 0.7, stub.req.Temperature, 0.0001)
}

func TestResponderErrors(t *testing.T) {
	empty := NewResponder(&stubClient{resp: Response{Text: "  "}}, ResponderConfig{})
	_, err := empty.Reply(context.Background(), "", nil)
	assert.ErrorIs(t, err, ErrEmptyReply)

	slow := NewResponder(&stubClient{delay: time.Second}, ResponderConfig{Timeout: 20 * time.Millisecond})
	_, err = slow.Reply(context.Background(), "", []Message{{Role: RoleUser, Content: "oi"}})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWindowStartsAtUserTurn(t *testing.T) {
	history := []Message{
		{Role: RoleAssistant, Content: "Olá!"},
		{Role: RoleUser, Content: "Oi"},
		{Role: RoleAssistant, Content: "Como posso ajudar?"},
		{Role: RoleUser, Content: "Quero agendar"},
	}
	assert.Equal(t, history[1:], window(history, 10))
	assert.Equal(t, history[3:], window(history, 2))
	assert.Empty(t, window([]Message{{Role: RoleAssistant, Content: "x"}}, 10))
}

func TestWindowJoinsRepeatedRoles(t *testing.T) {
	history := []Message{
		{Role: RoleAssistant, Content: "Olá!"},
		{Role: RoleUser, Content: "Oi"},
		{Role: RoleUser, Content: "Alô?"},
		{Role: RoleAssistant, Content: "Estou aqui."},
		{Role: RoleUser, Content: "Quero agendar"},
	}
	want := []Message{
		{Role: RoleUser, Content: "Oi\nAlô?"},
		{Role: RoleAssistant, Content: "Estou aqui."},
		{Role: RoleUser, Content: "Quero agendar"},
	}
	assert.Equal(t, want, window(history, 10))
	assert.Equal(t, "Oi", history[1].Content, "caller history must not be modified")
}
