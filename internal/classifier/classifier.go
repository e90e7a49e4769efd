// Package classifier maps free-form citizen input at the main menu to one of
// a small set of intents. The OpenAI-backed classifier is best-effort
// enrichment: keyword matching always runs first and the engine works with
// the classifier entirely disabled.
package classifier

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Intent is the closed set of main-menu intents.
type Intent string

const (
	// IntentCreateReport means the citizen wants to file a complaint ("1").
	IntentCreateReport Intent = "create_report"
	// IntentCheckReport means the citizen wants to look up a report ("2").
	IntentCheckReport Intent = "check_report"
	// IntentGreeting means a salutation or menu request.
	IntentGreeting Intent = "greeting"
	// IntentUnknown means no intent could be determined.
	IntentUnknown Intent = "unknown"
)

// Classifier determines the intent of a main-menu message.
type Classifier interface {
	Classify(ctx context.Context, text string) Intent
}

// KeywordIntent is the deterministic keyword path. It recognizes the numeric
// menu options and common Indonesian greetings; everything else is unknown.
func KeywordIntent(text string) Intent {
	normalized := strings.ToLower(strings.TrimSpace(text))
	switch normalized {
	case "1", "lapor", "buat laporan":
		return IntentCreateReport
	case "2", "cek", "cek laporan", "status":
		return IntentCheckReport
	case "menu", "halo", "hai", "hi", "selamat pagi", "selamat siang", "selamat sore", "selamat malam", "assalamualaikum":
		return IntentGreeting
	default:
		return IntentUnknown
	}
}

// chatService abstracts the OpenAI chat completion call for testing.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
}

type openaiChatService struct {
	client openai.Client
}

func (s openaiChatService) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	resp, err := s.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	return *resp, nil
}

const systemPrompt = `You classify one WhatsApp message sent to an Indonesian ` +
	`citizen-complaint service. Answer with exactly one word:
"lapor" if the user wants to report a problem or complaint,
"cek" if the user asks about the status of an existing report,
"sapa" if the message is a greeting or asks for the menu,
"lain" for anything else.`

// Client is the OpenAI-backed intent classifier.
type Client struct {
	chat  chatService
	model openai.ChatModel
}

// NewClient creates a classifier using the given API key.
func NewClient(apiKey string) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("classifier requires an API key")
	}
	cli := openai.NewClient(option.WithAPIKey(apiKey))
	return &Client{chat: openaiChatService{client: cli}, model: openai.ChatModelGPT4oMini}, nil
}

// Classify runs keyword matching first and falls back to the model. Any model
// failure degrades to IntentUnknown; classification never returns an error.
func (c *Client) Classify(ctx context.Context, text string) Intent {
	if intent := KeywordIntent(text); intent != IntentUnknown {
		return intent
	}
	resp, err := c.chat.Create(ctx, openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(text),
		},
	})
	if err != nil {
		slog.Warn("Classifier.Classify: model call failed", "error", err)
		return IntentUnknown
	}
	if len(resp.Choices) == 0 {
		slog.Warn("Classifier.Classify: empty completion")
		return IntentUnknown
	}
	answer := strings.ToLower(strings.TrimSpace(resp.Choices[0].Message.Content))
	switch answer {
	case "lapor":
		return IntentCreateReport
	case "cek":
		return IntentCheckReport
	case "sapa":
		return IntentGreeting
	default:
		return IntentUnknown
	}
}

// KeywordClassifier is the classifier used when no API key is configured.
// It only applies the deterministic keyword path.
type KeywordClassifier struct{}

// Classify implements Classifier.
func (KeywordClassifier) Classify(_ context.Context, text string) Intent {
	return KeywordIntent(text)
}
