package summary

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"
)

const defaultPrompt = "\n\nSummarize the news above in two or three sentences."

var errNoChoices = errors.New("openai returned no choices")

// Имплементация интерфейса summarizer
type OpenAISummarizer struct {
	client *openai.Client
	// Инструкция, которая дописывается к тексту статьи
	prompt string
	// Без ключа summarizer выключен и отдает пустую строку
	enabled bool
	mu      sync.Mutex
}

func NewOpenAISummarizer(apiKey, prompt string, log zerolog.Logger) *OpenAISummarizer {
	if prompt == "" {
		prompt = defaultPrompt
	}

	s := &OpenAISummarizer{
		client:  openai.NewClient(apiKey),
		prompt:  prompt,
		enabled: apiKey != "",
	}

	log.Info().Bool("enabled", s.enabled).Msg("openai summarizer")

	return s
}

func (s *OpenAISummarizer) Enabled() bool {
	return s.enabled
}

func (s *OpenAISummarizer) Summarize(ctx context.Context, text string) (string, error) {
	// Запросы идут по одному, чтобы не упираться в лимиты openai
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.enabled || strings.TrimSpace(text) == "" {
		return "", nil
	}

	request := openai.ChatCompletionRequest{
		Model: openai.GPT3Dot5Turbo,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: text + s.prompt,
			},
		},
		MaxTokens:   256,
		Temperature: 0.7,
		TopP:        1,
	}

	resp, err := s.client.CreateChatCompletion(ctx, request)
	if err != nil {
		return "", fmt.Errorf("create chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errNoChoices
	}

	return trimToSentence(resp.Choices[0].Message.Content), nil
}

// Ответ может оборваться на полуслове из-за MaxTokens, оставляем только законченные предложения
func trimToSentence(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasSuffix(raw, ".") {
		return raw
	}

	sentences := strings.Split(raw, ".")
	if len(sentences) == 1 {
		return raw
	}

	return strings.Join(sentences[:len(sentences)-1], ".") + "."
}
