// Package llm talks to an OpenAI-compatible chat endpoint (DeepSeek by
// default) to voice personas, write topics and score sessions.
package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/time/rate"

	"yuzu/discussion/internal/feedback"
	"yuzu/discussion/internal/orchestrator"
)

const (
	DefaultBaseURL = "https://api.deepseek.com/v1"
	DefaultModel   = "deepseek-chat"

	FallbackReply = "时间紧迫，我们必须尽快达成共识。"
	FallbackTopic = "题目生成失败，请手动输入。"

	replyTemperature    = 0.8
	topicTemperature    = 0.7
	feedbackTemperature = 0.3
)

var (
	ErrNoAPIKey        = errors.New("llm: api key not set")
	ErrEmptyCompletion = errors.New("llm: empty completion")
)

// backoffBase is the first retry delay. Later retries double it.
var backoffBase = 200 * time.Millisecond

type Options struct {
	BaseURL       string
	APIKey        string
	Model         string
	Timeout       time.Duration
	RatePerSecond float64
	MaxRetries    int
	// Fallback is returned by Generate when every attempt failed. Empty
	// means the error is returned instead.
	Fallback string
}

// Client implements orchestrator.Generator and orchestrator.Evaluator.
type Client struct {
	model      llms.Model
	limiter    *rate.Limiter
	timeout    time.Duration
	maxRetries int
	fallback   string
}

var (
	_ orchestrator.Generator = (*Client)(nil)
	_ orchestrator.Evaluator = (*Client)(nil)
)

// New builds a client on langchaingo's OpenAI driver.
func New(opts Options) (*Client, error) {
	if opts.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	model, err := openai.New(
		openai.WithModel(opts.Model),
		openai.WithToken(opts.APIKey),
		openai.WithBaseURL(opts.BaseURL),
	)
	if err != nil {
		return nil, fmt.Errorf("llm: create model: %w", err)
	}
	return NewWithModel(model, opts), nil
}

// NewWithModel wraps an existing model.
func NewWithModel(model llms.Model, opts Options) *Client {
	limit, burst := rate.Inf, 1
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
		burst = int(math.Max(1, math.Ceil(opts.RatePerSecond)))
	}
	return &Client{
		model:      model,
		limiter:    rate.NewLimiter(limit, burst),
		timeout:    opts.Timeout,
		maxRetries: max(opts.MaxRetries, 0),
		fallback:   opts.Fallback,
	}
}

// Generate voices one persona turn. Transport failures resolve to the
// fallback line; a cancelled context is returned as is.
func (c *Client) Generate(ctx context.Context, req orchestrator.Request) (string, error) {
	out, err := c.complete(ctx, ReplyPrompt(req), replyTemperature)
	if err == nil {
		if text := CleanReply(req.Persona, out); text != "" {
			return text, nil
		}
		err = ErrEmptyCompletion
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	log.Error().Err(err).Str("persona_id", req.Persona.ID).Msg("persona reply failed")
	if c.fallback == "" {
		return "", err
	}
	return c.fallback, nil
}

// GenerateTopic writes a discussion case. It never fails; on error the
// fixed placeholder text is returned.
func (c *Client) GenerateTopic(ctx context.Context, company, jobTitle string) string {
	out, err := c.complete(ctx, TopicPrompt(company, jobTitle), topicTemperature)
	if err != nil {
		log.Error().Err(err).Str("company", company).Str("job_title", jobTitle).Msg("topic generation failed")
		return FallbackTopic
	}
	if topic := StripMarkdown(out); topic != "" {
		return topic
	}
	return FallbackTopic
}

// Evaluate scores the human participant. Callers fall back on error.
func (c *Client) Evaluate(ctx context.Context, req feedback.Request) (feedback.Report, error) {
	out, err := c.complete(ctx, FeedbackPrompt(req), feedbackTemperature)
	if err != nil {
		return feedback.Report{}, err
	}
	report, err := feedback.Decode(out, req.VoiceShare)
	if err != nil {
		log.Warn().Err(err).Int("bytes", len(out)).Msg("feedback report rejected")
		return feedback.Report{}, err
	}
	return report, nil
}

func (c *Client) complete(ctx context.Context, prompt string, temperature float64) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepBackoff(ctx, attempt); err != nil {
				return "", err
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return "", err
		}
		out, err := c.once(ctx, prompt, temperature)
		if err == nil {
			return out, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		lastErr = err
		log.Warn().Err(err).Int("attempt", attempt+1).Int("max_attempts", c.maxRetries+1).Msg("llm call failed")
	}
	return "", lastErr
}

func (c *Client) once(ctx context.Context, prompt string, temperature float64) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	start := time.Now()
	out, err := llms.GenerateFromSinglePrompt(ctx, c.model, prompt, llms.WithTemperature(temperature))
	log.Debug().Dur("latency", time.Since(start)).Int("prompt_chars", len(prompt)).Err(err).Msg("llm call")
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", ErrEmptyCompletion
	}
	return out, nil
}

// sleepBackoff waits base*2^attempt (capped) plus jitter.
func sleepBackoff(ctx context.Context, attempt int) error {
	pow := 1 << uint(min(attempt, 5))
	sleep := time.Duration(pow) * backoffBase
	jitter := time.Duration(rand.Int63n(int64(backoffBase) + 1))
	timer := time.NewTimer(sleep + jitter)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
