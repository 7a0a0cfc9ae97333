package model

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"

	"github.com/splax/sitesmith/internal/domain"
	"github.com/splax/sitesmith/internal/stream"
	"github.com/splax/sitesmith/pkg/config"
)

// Client talks to an OpenAI-compatible chat completion API for generation
// and repair calls.
type Client struct {
	api    *openai.Client
	model  string
	logger *slog.Logger
}

// NewClient constructs a model client from service configuration.
func NewClient(cfg config.APIConfig, logger *slog.Logger) *Client {
	clientCfg := openai.DefaultConfig(cfg.ModelAPIKey)
	if cfg.ModelBaseURL != "" {
		clientCfg.BaseURL = cfg.ModelBaseURL
	}
	return &Client{
		api:    openai.NewClientWithConfig(clientCfg),
		model:  cfg.ModelName,
		logger: logger,
	}
}

// Stream runs a full-tree generation call, invoking onDelta for every text
// delta as it arrives. A non-nil error from onDelta aborts the stream.
func (c *Client) Stream(ctx context.Context, prompt string, onDelta func(delta string) error) error {
	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: generationSystem},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Stream: true,
	}
	s, err := c.api.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return fmt.Errorf("open generation stream: %w", err)
	}
	defer s.Close()

	for {
		resp, err := s.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("receive generation delta: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		if err := onDelta(delta); err != nil {
			return err
		}
	}
}

// Fix issues one narrow repair call: diagnostics plus current files in, only
// changed files out. An empty slice means the model had nothing to change.
func (c *Client) Fix(ctx context.Context, diagnostics string, files []domain.GeneratedFile) ([]domain.GeneratedFile, error) {
	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: fixSystem},
			{Role: openai.ChatMessageRoleUser, Content: FixPrompt(diagnostics, files)},
		},
	}
	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("fix call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, nil
	}
	return ParseFiles(resp.Choices[0].Message.Content), nil
}

// ParseFiles extracts delimited files from a complete (non-streamed)
// model response.
func ParseFiles(content string) []domain.GeneratedFile {
	extractor := stream.NewExtractor()
	events := extractor.Feed(content)
	events = append(events, extractor.Flush()...)

	var files []domain.GeneratedFile
	index := make(map[string]int)
	for _, ev := range events {
		if ev.Type != stream.EventFileComplete || ev.Path == "" {
			continue
		}
		if i, ok := index[ev.Path]; ok {
			files[i].Content = ev.Content
			continue
		}
		index[ev.Path] = len(files)
		files = append(files, domain.GeneratedFile{Path: ev.Path, Content: ev.Content})
	}
	return files
}
