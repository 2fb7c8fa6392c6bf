package ai

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/zhouzirui/z-interview/backend/internal/config"
	"github.com/zhouzirui/z-interview/backend/internal/model/chat"
)

// ErrGeneratorUnavailable 模型未配置或初始化失败。
var ErrGeneratorUnavailable = errors.New("text generator unavailable")

// GenerateRequest is one text-generation call.
type GenerateRequest struct {
	SystemPrompt string
	UserText     string
	Temperature  float32
	History      []chat.Message
}

// Service wraps an eino prompt->model chain for interviewer text generation.
type Service struct {
	chatModel model.ChatModel
	cfg       config.AIConfig
	chain     compose.Runnable[map[string]any, *schema.Message]
}

// NewService creates a new AI service instance
func NewService(ctx context.Context, cfg config.AIConfig) (*Service, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGeneratorUnavailable, err)
	}
	return NewServiceWithModel(ctx, cfg, chatModel)
}

// NewServiceWithModel builds the chain around an existing chat model.
func NewServiceWithModel(ctx context.Context, cfg config.AIConfig, chatModel model.ChatModel) (*Service, error) {
	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &Service{
		chatModel: chatModel,
		cfg:       cfg,
		chain:     runnable,
	}, nil
}

// Generate returns the model's reply text. Failures are not retried.
func (s *Service) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	if s == nil || s.chain == nil {
		return "", ErrGeneratorUnavailable
	}

	input := map[string]any{
		"system":  req.SystemPrompt,
		"history": buildHistoryMessages(req.History),
		"query":   req.UserText,
	}

	var opts []compose.Option
	if req.Temperature > 0 {
		opts = append(opts, compose.WithChatModelOption(model.WithTemperature(req.Temperature)))
	}

	response, err := s.chain.Invoke(ctx, input, opts...)
	if err != nil {
		return "", fmt.Errorf("failed to run AI chain: %w", err)
	}

	text := strings.TrimSpace(response.Content)
	log.Printf("[ai] generated response length=%d temperature=%.1f", len(text), req.Temperature)
	return text, nil
}

func buildHistoryMessages(messages []chat.Message) []*schema.Message {
	const historyLimit = 10

	if len(messages) == 0 {
		return nil
	}

	startIdx := 0
	if len(messages) > historyLimit {
		startIdx = len(messages) - historyLimit
	}

	history := make([]*schema.Message, 0, len(messages)-startIdx)
	for _, msg := range messages[startIdx:] {
		switch msg.Sender {
		case chat.SenderUser:
			history = append(history, schema.UserMessage(msg.Content))
		case chat.SenderInterviewer:
			history = append(history, schema.AssistantMessage(msg.Content, nil))
		}
	}

	return history
}
