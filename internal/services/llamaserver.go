package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"

	"github.com/MegaGrindStone/saige-web-ui/internal/models"
	goopenai "github.com/sashabaranov/go-openai"
)

// LlamaServer streams chat replies straight from an OpenAI-compatible chat completions endpoint,
// such as llama.cpp's llama-server, bypassing the SAIGE backend. It implements session.ChatStreamer.
type LlamaServer struct {
	model        string
	systemPrompt string

	params LLMParameters

	client *goopenai.Client

	logger *slog.Logger
}

// LLMParameters holds the sampling parameters sent with every request. Nil fields are left to the
// server defaults.
type LLMParameters struct {
	Temperature *float32 `yaml:"temperature"`
	TopP        *float32 `yaml:"topP"`
	MaxTokens   *int     `yaml:"maxTokens"`
	Stop        []string `yaml:"stop"`
}

// NewLlamaServer creates a LlamaServer for the endpoint at baseURL (for example
// "http://localhost:8080/v1"). The API key may be empty for local servers.
func NewLlamaServer(
	baseURL, apiKey, model, systemPrompt string,
	params LLMParameters,
	logger *slog.Logger,
) LlamaServer {
	cfg := goopenai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL

	return LlamaServer{
		model:        model,
		systemPrompt: systemPrompt,
		params:       params,
		client:       goopenai.NewClientWithConfig(cfg),
		logger:       logger.With(slog.String("module", "llamaserver")),
	}
}

// Chat returns the streamed reply as plain incremental text.
func (l LlamaServer) Chat(ctx context.Context, messages []models.Message) (io.ReadCloser, error) {
	return StreamReader(l.Deltas(ctx, messages)), nil
}

// Deltas streams the reply for the given history, yielding each content delta as it arrives. The
// context can be used to cancel the request.
func (l LlamaServer) Deltas(ctx context.Context, messages []models.Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		msgs := make([]goopenai.ChatCompletionMessage, 0, len(messages)+1)
		if l.systemPrompt != "" {
			msgs = append(msgs, goopenai.ChatCompletionMessage{
				Role:    goopenai.ChatMessageRoleSystem,
				Content: l.systemPrompt,
			})
		}
		for _, msg := range messages {
			msgs = append(msgs, goopenai.ChatCompletionMessage{
				Role:    string(msg.Role),
				Content: msg.Content,
			})
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		stream, err := l.client.CreateChatCompletionStream(ctx, l.chatRequest(msgs))
		if err != nil {
			yield("", fmt.Errorf("error sending request: %w", err))
			return
		}
		defer stream.Close()

		for {
			response, err := stream.Recv()
			if err != nil {
				if errors.Is(err, io.EOF) {
					return
				}
				yield("", fmt.Errorf("error receiving response: %w", err))
				return
			}

			if len(response.Choices) == 0 {
				continue
			}

			delta := response.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			if !yield(delta, nil) {
				l.logger.Debug("Reply consumer stopped", slog.String("model", l.model))
				return
			}
		}
	}
}

func (l LlamaServer) chatRequest(messages []goopenai.ChatCompletionMessage) goopenai.ChatCompletionRequest {
	req := goopenai.ChatCompletionRequest{
		Model:    l.model,
		Messages: messages,
		Stream:   true,
	}

	if l.params.Temperature != nil {
		req.Temperature = *l.params.Temperature
	}
	if l.params.TopP != nil {
		req.TopP = *l.params.TopP
	}
	if l.params.MaxTokens != nil {
		req.MaxTokens = *l.params.MaxTokens
	}
	if l.params.Stop != nil {
		req.Stop = l.params.Stop
	}

	return req
}
