package llm

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"

	"github.com/ledgerlens/ledgerlens/pkg/cache"
	"github.com/ledgerlens/ledgerlens/pkg/logging"
	"github.com/ledgerlens/ledgerlens/pkg/models"
)

const (
	defaultMaxTokens  = 2000
	defaultTimeout    = 60 * time.Second
	defaultRetryDelay = time.Second
	defaultCacheTTL   = 24 * time.Hour
)

// Provider issues a single chat completion. *openai.Client satisfies it.
type Provider interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// UsageRecorder stores token usage for successful calls.
type UsageRecorder interface {
	Record(ctx context.Context, rec models.UsageRecord) error
}

// BudgetChecker refuses a call when a model's token budget is spent.
type BudgetChecker interface {
	Check(ctx context.Context, model string) error
}

// Config captures the provider settings and the model pair.
type Config struct {
	APIKey        string
	BaseURL       string
	PrimaryModel  string
	FallbackModel string
	MaxTokens     int
	Timeout       time.Duration
	RetryDelay    time.Duration
	CacheTTL      time.Duration
}

// Client completes chat prompts through a cache with a sticky fallback model.
type Client struct {
	cfg        Config
	provider   Provider
	cache      cache.Store
	usage      UsageRecorder
	budget     BudgetChecker
	logger     logrus.FieldLogger
	httpClient *http.Client
	sleeper    func(time.Duration)

	mu           sync.Mutex
	currentModel string
}

// Option customizes the client.
type Option func(*Client)

// WithProvider replaces the OpenAI-compatible HTTP provider.
func WithProvider(p Provider) Option {
	return func(c *Client) {
		c.provider = p
	}
}

// WithHTTPClient overrides the HTTP client used by the default provider.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithCache enables the response cache.
func WithCache(store cache.Store) Option {
	return func(c *Client) {
		c.cache = store
	}
}

// WithUsageRecorder records token usage per call.
func WithUsageRecorder(r UsageRecorder) Option {
	return func(c *Client) {
		c.usage = r
	}
}

// WithBudget checks token budgets before each call.
func WithBudget(b BudgetChecker) Option {
	return func(c *Client) {
		c.budget = b
	}
}

// WithLogger sets the logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithSleeper overrides how the fallback delay is performed (useful for tests).
func WithSleeper(sleeper func(time.Duration)) Option {
	return func(c *Client) {
		c.sleeper = sleeper
	}
}

// NewClient constructs a Client. Without WithProvider it talks to the
// OpenAI-compatible endpoint at cfg.BaseURL.
func NewClient(cfg Config, opts ...Option) *Client {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.BaseURL = strings.TrimSpace(cfg.BaseURL)
	cfg.PrimaryModel = strings.TrimSpace(cfg.PrimaryModel)
	cfg.FallbackModel = strings.TrimSpace(cfg.FallbackModel)
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultCacheTTL
	}

	c := &Client{
		cfg:          cfg,
		httpClient:   &http.Client{Timeout: cfg.Timeout},
		currentModel: cfg.PrimaryModel,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.Component(c.logger, "llm")
	if c.provider == nil {
		oc := openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
		}
		oc.HTTPClient = c.httpClient
		c.provider = openai.NewClientWithConfig(oc)
	}
	return c
}

// Model returns the model the next uncached call will use.
func (c *Client) Model() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentModel
}

// switchToFallback moves the client to the fallback model once; concurrent
// callers observing the same primary failure do not switch twice.
func (c *Client) switchToFallback(from string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.currentModel == from {
		c.currentModel = c.cfg.FallbackModel
	}
	return c.cfg.FallbackModel
}

// Complete returns the model's answer for messages, from cache when possible.
func (c *Client) Complete(ctx context.Context, messages []models.ChatMessage, temperature float64) (string, error) {
	log := c.logger.WithField("request_id", uuid.NewString())

	if c.cfg.APIKey == "" {
		return "", &ProviderError{
			Model: c.Model(),
			Kind:  ErrAuthentication,
			Err:   errors.New("api key not configured"),
		}
	}

	fingerprint := cache.Fingerprint(messages)
	if c.cache != nil {
		response, ok, err := c.cache.Get(ctx, fingerprint)
		switch {
		case err != nil:
			log.WithError(err).Warn("cache lookup failed, calling provider")
		case ok:
			log.WithField("fingerprint", fingerprint[:12]).Debug("cache hit")
			c.recordUsage(ctx, log, models.UsageRecord{Model: c.Model(), Cached: true})
			return response, nil
		}
	}

	model := c.Model()
	content, err := c.call(ctx, log, model, messages, temperature)
	if err != nil {
		if !c.canFallback(ctx, model, err) {
			return "", err
		}
		fallback := c.switchToFallback(model)
		log.WithError(err).WithFields(logrus.Fields{
			"from": model,
			"to":   fallback,
		}).Warn("primary model failed, retrying on fallback")
		if err := c.sleep(ctx, c.cfg.RetryDelay); err != nil {
			return "", err
		}
		content, err = c.call(ctx, log, fallback, messages, temperature)
		if err != nil {
			return "", err
		}
	}

	if c.cache != nil {
		if err := c.cache.Put(ctx, fingerprint, cache.Canonical(messages), content, c.cfg.CacheTTL); err != nil {
			log.WithError(err).Warn("cache write failed")
		}
	}
	return content, nil
}

func (c *Client) canFallback(ctx context.Context, model string, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if errors.Is(err, ErrAuthentication) {
		return false
	}
	return model == c.cfg.PrimaryModel &&
		c.cfg.FallbackModel != "" &&
		c.cfg.FallbackModel != c.cfg.PrimaryModel
}

func (c *Client) call(ctx context.Context, log logrus.FieldLogger, model string, messages []models.ChatMessage, temperature float64) (string, error) {
	if c.budget != nil {
		if err := c.budget.Check(ctx, model); err != nil {
			return "", &ProviderError{Model: model, Kind: ErrQuotaExceeded, Err: err}
		}
	}

	req := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    toOpenAIMessages(messages),
		Temperature: float32(temperature),
		MaxTokens:   c.cfg.MaxTokens,
	}

	start := time.Now()
	resp, err := c.provider.CreateChatCompletion(ctx, req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", classify(model, err)
	}

	var content string
	if len(resp.Choices) > 0 {
		content = resp.Choices[0].Message.Content
	}
	if strings.TrimSpace(content) == "" {
		finish := ""
		if len(resp.Choices) > 0 {
			finish = string(resp.Choices[0].FinishReason)
		}
		return "", &ProviderError{
			Model: model,
			Kind:  ErrRejected,
			Err:   errors.New("empty completion (finish_reason=" + finish + ")"),
		}
	}

	log.WithFields(logrus.Fields{
		"model":             model,
		"duration_ms":       time.Since(start).Milliseconds(),
		"prompt_tokens":     resp.Usage.PromptTokens,
		"completion_tokens": resp.Usage.CompletionTokens,
	}).Info("completion")

	c.recordUsage(ctx, log, models.UsageRecord{
		Model:            model,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	})
	return content, nil
}

func (c *Client) recordUsage(ctx context.Context, log logrus.FieldLogger, rec models.UsageRecord) {
	if c.usage == nil {
		return
	}
	rec.CreatedAt = time.Now().UTC()
	if err := c.usage.Record(ctx, rec); err != nil {
		log.WithError(err).Warn("record usage failed")
	}
}

func (c *Client) sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if c.sleeper != nil {
		c.sleeper(delay)
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func toOpenAIMessages(messages []models.ChatMessage) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		out[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}
	return out
}
