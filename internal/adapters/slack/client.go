// Package slack posts report text to a team's incoming webhook. One shot,
// no retry: the caller surfaces success or failure as-is.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

type Client struct {
	http *http.Client
	log  zerolog.Logger
}

func NewClient(timeout time.Duration, log zerolog.Logger) *Client {
	return &Client{http: &http.Client{Timeout: timeout}, log: log}
}

func (c *Client) Send(ctx context.Context, webhookURL, text string) error {
	if webhookURL == "" {
		return fmt.Errorf("slack: missing webhook url")
	}
	body := map[string]any{"text": text}
	b, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("slack webhook status=%d body=%s", resp.StatusCode, string(bodyBytes))
	}
	return nil
}
