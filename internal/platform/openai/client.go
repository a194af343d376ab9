package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/convolab/lessonaudio/internal/observability"
	"github.com/convolab/lessonaudio/internal/platform/envutil"
	"github.com/convolab/lessonaudio/internal/platform/httpx"
	"github.com/convolab/lessonaudio/internal/platform/logger"
)

// Client talks to the OpenAI HTTP API. It backs both text generation
// (Responses API) and speech synthesis (/v1/audio/speech).
type Client struct {
	log         *logger.Logger
	baseURL     string
	apiKey      string
	model       string
	ttsModel    string
	httpClient  *http.Client
	maxRetries  int
	baseBackoff time.Duration
	temperature *float64
}

func NewClient(log *logger.Logger) (*Client, error) {
	apiKey := envutil.String("OPENAI_API_KEY", "")
	if apiKey == "" {
		return nil, fmt.Errorf("missing OPENAI_API_KEY")
	}
	c := &Client{
		log:         logger.OrNop(log).With("service", "OpenAIClient"),
		baseURL:     strings.TrimRight(envutil.String("OPENAI_BASE_URL", "https://api.openai.com"), "/"),
		apiKey:      apiKey,
		model:       envutil.String("OPENAI_MODEL", "gpt-4.1-mini"),
		ttsModel:    envutil.String("OPENAI_TTS_MODEL", "gpt-4o-mini-tts"),
		httpClient:  &http.Client{Timeout: envutil.Duration("OPENAI_TIMEOUT_SECONDS", 180*time.Second)},
		maxRetries:  max(0, envutil.Int("OPENAI_MAX_RETRIES", 4)),
		baseBackoff: time.Second,
	}
	switch raw := strings.ToLower(envutil.String("OPENAI_TEMPERATURE", "")); raw {
	case "off", "none", "false":
	case "":
		t := 0.4
		c.temperature = &t
	default:
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			c.temperature = &f
		}
	}
	return c, nil
}

func (c *Client) doOnce(ctx context.Context, path string, body any) (*http.Response, []byte, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return resp, nil, readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, raw, &httpx.StatusError{Service: "openai", StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return resp, raw, nil
}

// post retries transient failures with jittered exponential backoff, honouring
// Retry-After. It returns the raw response body.
func (c *Client) post(ctx context.Context, path string, model string, body any) ([]byte, error) {
	backoff := c.baseBackoff
	start := time.Now()
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		resp, raw, err := c.doOnce(ctx, path, body)
		if err == nil {
			observability.Current().ObserveLLMRequest(model, strconv.Itoa(resp.StatusCode), time.Since(start))
			return raw, nil
		}
		if !httpx.IsRetryableError(err) || attempt >= c.maxRetries {
			observability.Current().ObserveLLMRequest(model, statusLabel(resp, err), time.Since(start))
			return nil, err
		}
		sleepFor := httpx.JitterSleep(httpx.RetryAfterDuration(resp, backoff, 10*time.Second))
		c.log.Warn("OpenAI request retrying",
			"path", path,
			"attempt", attempt+1,
			"max_retries", c.maxRetries,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)
		if err := httpx.SleepContext(ctx, sleepFor); err != nil {
			return nil, err
		}
		backoff *= 2
	}
}

func statusLabel(resp *http.Response, err error) string {
	if resp != nil {
		return strconv.Itoa(resp.StatusCode)
	}
	switch {
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}
