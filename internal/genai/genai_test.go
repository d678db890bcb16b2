package genai

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/CarSherpa/internal/circuitbreaker"
	"github.com/openai/openai-go"
)

// mockChatService implements chatService for testing.
type mockChatService struct {
	resp  openai.ChatCompletion
	err   error
	calls int
	last  openai.ChatCompletionNewParams
}

func (m *mockChatService) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	m.calls++
	m.last = params
	return m.resp, m.err
}

func completion(content string) openai.ChatCompletion {
	return openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: content}},
		},
	}
}

func TestGeneratePrompt_Success(t *testing.T) {
	client := &Client{chat: &mockChatService{resp: completion("Hello World")}}
	out, err := client.GeneratePrompt(context.Background(), "system prompt", "user prompt")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if out != "Hello World" {
		t.Errorf("expected 'Hello World', got '%s'", out)
	}
}

func TestGeneratePrompt_ServiceError(t *testing.T) {
	client := &Client{chat: &mockChatService{err: errors.New("service failure")}}
	_, err := client.GeneratePrompt(context.Background(), "sys", "usr")
	if err == nil || !strings.Contains(err.Error(), "service failure") {
		t.Errorf("expected service failure error, got %v", err)
	}
}

func TestGeneratePrompt_NoChoices(t *testing.T) {
	mockResp := openai.ChatCompletion{Choices: []openai.ChatCompletionChoice{}}
	client := &Client{chat: &mockChatService{resp: mockResp}}
	_, err := client.GeneratePrompt(context.Background(), "sys", "usr")
	if err != ErrNoChoicesReturned {
		t.Errorf("expected no choices returned error, got %v", err)
	}
}

func TestGenerateJSON_Params(t *testing.T) {
	mock := &mockChatService{resp: completion(`{}`)}
	client := &Client{chat: mock, model: "test-model", temperature: 0.2, maxCompletionTokens: 100}
	if _, err := client.GenerateJSON(context.Background(), "sys", "usr"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(mock.last.Model) != "test-model" {
		t.Errorf("expected test-model, got %s", mock.last.Model)
	}
	if len(mock.last.Messages) != 2 {
		t.Errorf("expected system and user messages, got %d", len(mock.last.Messages))
	}
	if mock.last.ResponseFormat.OfJSONObject == nil {
		t.Error("expected JSON object response format")
	}
	if mock.last.MaxCompletionTokens.Value != 100 {
		t.Errorf("expected max tokens 100, got %d", mock.last.MaxCompletionTokens.Value)
	}
}

func TestComplete_BreakerOpens(t *testing.T) {
	mock := &mockChatService{err: errors.New("503")}
	client := &Client{chat: mock, breaker: circuitbreaker.New(circuitbreaker.WithMaxFailures(2), circuitbreaker.WithResetTimeout(time.Hour))}

	client.GeneratePrompt(context.Background(), "sys", "usr")
	client.GeneratePrompt(context.Background(), "sys", "usr")
	_, err := client.GeneratePrompt(context.Background(), "sys", "usr")
	if !errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		t.Fatalf("expected open circuit, got %v", err)
	}
	if mock.calls != 2 {
		t.Errorf("expected no call through an open circuit, got %d calls", mock.calls)
	}
}

func TestNewClient_NoKey(t *testing.T) {
	_, err := NewClient()
	if !errors.Is(err, ErrNoAPIKey) {
		t.Errorf("expected ErrNoAPIKey when API key not provided, got %v", err)
	}
}

func TestNewClient_WithKey(t *testing.T) {
	cli, err := NewClient(WithAPIKey("test-key"), WithModel("gpt-test"), WithMaxCompletionTokens(50))
	if err != nil {
		t.Fatalf("expected no error with API key, got %v", err)
	}
	if cli == nil {
		t.Fatal("expected client instance, got nil")
	}
	if cli.model != "gpt-test" || cli.maxCompletionTokens != 50 || cli.temperature != DefaultTemperature {
		t.Errorf("options not applied: %+v", cli)
	}
}
