package openai

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/shared"
	"github.com/rs/zerolog"
)

type Client struct {
	key     string
	model   string
	timeout time.Duration
	cli     openai.Client
	log     zerolog.Logger
}

func NewClient(key, model string, timeout time.Duration, log zerolog.Logger) *Client {
	if strings.TrimSpace(model) == "" {
		model = "gpt-4.1-mini"
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	cli := openai.NewClient(option.WithAPIKey(key))
	return &Client{key: key, model: model, timeout: timeout, cli: cli, log: log}
}

// Summarize turns the numeric stats payload into a short narrative. Callers
// treat any error as "no narrative section".
func (c *Client) Summarize(ctx context.Context, payload map[string]any) (string, error) {
	if strings.TrimSpace(c.key) == "" {
		return "", errors.New("openai: missing key")
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	c.log.Info().Str("model", c.model).Msg("openai summarize call")
	userContent := ""
	if b, err := json.Marshal(payload); err == nil {
		userContent = string(b)
	}
	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage("You are an engineering manager's assistant. Given weekly pull request and sprint metrics, write a 2-3 sentence summary of how the week went: call out the biggest improvement, the biggest regression, and one suggested focus. Plain text, no markdown."),
			openai.UserMessage(userContent),
		},
	}
	resp, err := c.cli.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai: no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
