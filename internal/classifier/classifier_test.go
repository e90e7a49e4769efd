package classifier

import (
	"context"
	"errors"
	"testing"

	"github.com/openai/openai-go"
)

// mockChatService returns a canned completion or error.
type mockChatService struct {
	answer string
	err    error
	calls  int
}

func (m *mockChatService) Create(_ context.Context, _ openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	m.calls++
	if m.err != nil {
		return openai.ChatCompletion{}, m.err
	}
	return openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: m.answer}},
		},
	}, nil
}

func TestKeywordIntent(t *testing.T) {
	tests := []struct {
		text     string
		expected Intent
	}{
		{"1", IntentCreateReport},
		{"lapor", IntentCreateReport},
		{"  Lapor  ", IntentCreateReport},
		{"2", IntentCheckReport},
		{"cek laporan", IntentCheckReport},
		{"status", IntentCheckReport},
		{"halo", IntentGreeting},
		{"Selamat Pagi", IntentGreeting},
		{"menu", IntentGreeting},
		{"jalan di depan rumah saya rusak", IntentUnknown},
		{"", IntentUnknown},
	}
	for _, tt := range tests {
		if got := KeywordIntent(tt.text); got != tt.expected {
			t.Errorf("KeywordIntent(%q) = %s, want %s", tt.text, got, tt.expected)
		}
	}
}

func TestClassifyKeywordShortCircuitsModel(t *testing.T) {
	mock := &mockChatService{answer: "lain"}
	c := &Client{chat: mock, model: openai.ChatModelGPT4oMini}

	if got := c.Classify(context.Background(), "lapor"); got != IntentCreateReport {
		t.Errorf("Classify(lapor) = %s, want create_report", got)
	}
	if mock.calls != 0 {
		t.Errorf("keyword match should not reach the model, got %d calls", mock.calls)
	}
}

func TestClassifyModelAnswers(t *testing.T) {
	tests := []struct {
		answer   string
		expected Intent
	}{
		{"lapor", IntentCreateReport},
		{"CEK", IntentCheckReport},
		{" sapa ", IntentGreeting},
		{"lain", IntentUnknown},
		{"something unexpected", IntentUnknown},
	}
	for _, tt := range tests {
		c := &Client{chat: &mockChatService{answer: tt.answer}, model: openai.ChatModelGPT4oMini}
		if got := c.Classify(context.Background(), "ada masalah sampah menumpuk"); got != tt.expected {
			t.Errorf("model answer %q classified as %s, want %s", tt.answer, got, tt.expected)
		}
	}
}

func TestClassifyDegradesOnModelFailure(t *testing.T) {
	c := &Client{chat: &mockChatService{err: errors.New("rate limited")}, model: openai.ChatModelGPT4oMini}
	if got := c.Classify(context.Background(), "ada masalah"); got != IntentUnknown {
		t.Errorf("model failure should yield unknown, got %s", got)
	}
}

func TestClassifyEmptyCompletion(t *testing.T) {
	c := &Client{chat: &emptyChatService{}, model: openai.ChatModelGPT4oMini}
	if got := c.Classify(context.Background(), "ada masalah"); got != IntentUnknown {
		t.Errorf("empty completion should yield unknown, got %s", got)
	}
}

type emptyChatService struct{}

func (emptyChatService) Create(context.Context, openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	return openai.ChatCompletion{}, nil
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	if _, err := NewClient(""); err == nil {
		t.Error("expected error for empty API key")
	}
	if _, err := NewClient("sk-test"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestKeywordClassifier(t *testing.T) {
	c := KeywordClassifier{}
	if got := c.Classify(context.Background(), "cek"); got != IntentCheckReport {
		t.Errorf("Classify(cek) = %s, want check_report", got)
	}
	if got := c.Classify(context.Background(), "keluhan bebas"); got != IntentUnknown {
		t.Errorf("Classify(free text) = %s, want unknown", got)
	}
}
