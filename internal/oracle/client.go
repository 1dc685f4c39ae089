package oracle

import (
	"context"
	"fmt"
	"log"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/mohammad-safakhou/ideaforge/internal/problem"
)

// Provider base URLs. All three speak the OpenAI chat-completions dialect;
// only the endpoint and key differ.
const (
	groqBaseURL       = "https://api.groq.com/openai/v1"
	openRouterBaseURL = "https://openrouter.ai/api/v1"
)

// Config selects and tunes a provider-backed oracle. Zero values fall back
// to defaults in withDefaults.
type Config struct {
	Provider string // openai | groq | openrouter
	APIKey   string
	BaseURL  string // optional endpoint override

	GenerationModel string
	EvaluationModel string

	Timeout           time.Duration // per-call ceiling, mandatory
	GenerationRetries int           // extra attempts after the first
	EvaluationRetries int
	RetryDelay        time.Duration // first retry delay, doubles per attempt
	RequestsPerMinute float64       // 0 disables client-side rate limiting

	GenerationMaxTokens   int
	EvaluationMaxTokens   int
	GenerationTemperature float32
	EvaluationTemperature float32
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.GenerationRetries <= 0 {
		c.GenerationRetries = 2
	}
	if c.EvaluationRetries <= 0 {
		c.EvaluationRetries = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 2 * time.Second
	}
	if c.GenerationMaxTokens <= 0 {
		c.GenerationMaxTokens = 600
	}
	if c.EvaluationMaxTokens <= 0 {
		c.EvaluationMaxTokens = 300
	}
	if c.GenerationTemperature <= 0 {
		c.GenerationTemperature = 1.0
	}
	if c.EvaluationTemperature <= 0 {
		c.EvaluationTemperature = 0.6
	}
	if c.GenerationModel == "" || c.EvaluationModel == "" {
		gen, eval := defaultModels(c.Provider)
		if c.GenerationModel == "" {
			c.GenerationModel = gen
		}
		if c.EvaluationModel == "" {
			c.EvaluationModel = eval
		}
	}
	return c
}

func defaultModels(provider string) (generation, evaluation string) {
	switch provider {
	case "groq":
		return "llama-3.1-8b-instant", "llama-3.1-8b-instant"
	case "openrouter":
		return "microsoft/wizardlm-2-7b", "meta-llama/llama-3.1-8b-instruct"
	default:
		return "gpt-4o-mini", "gpt-4o-mini"
	}
}

// Usage describes one completed oracle call.
type Usage struct {
	Model            string
	PromptTokens     int
	CompletionTokens int
	Cost             float64
	Duration         time.Duration
}

// Option adjusts a Client beyond its Config.
type Option func(*Client)

// WithLogger replaces the client's logger.
func WithLogger(l *log.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithUsageFunc registers a callback invoked after every successful call,
// kind being "generate" or "evaluate".
func WithUsageFunc(fn func(kind string, u Usage)) Option {
	return func(c *Client) { c.onUsage = fn }
}

// WithFraming sets the problem statement and constraints used to frame
// evaluation prompts. The Evaluate contract takes only the idea text, so the
// framing travels with the client, which is built once per run.
func WithFraming(problemStatement, constraints string) Option {
	return func(c *Client) {
		c.problem = problemStatement
		c.constraints = constraints
	}
}

// Client is the production Oracle: an OpenAI-compatible chat-completions
// client pointed at the configured provider.
type Client struct {
	cfg         Config
	llm         *openai.Client
	limiter     *rate.Limiter
	logger      *log.Logger
	onUsage     func(kind string, u Usage)
	problem     string
	constraints string
}

// New builds a Client for the configured provider. The API key is required;
// a missing key is a configuration error surfaced before any search starts.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("oracle provider %q: api key is not set", cfg.Provider)
	}
	base := cfg.BaseURL
	switch cfg.Provider {
	case "", "openai":
		cfg.Provider = "openai"
	case "groq":
		if base == "" {
			base = groqBaseURL
		}
	case "openrouter":
		if base == "" {
			base = openRouterBaseURL
		}
	default:
		return nil, fmt.Errorf("unknown oracle provider %q (want openai, groq or openrouter)", cfg.Provider)
	}
	cfg = cfg.withDefaults()

	oc := openai.DefaultConfig(cfg.APIKey)
	if base != "" {
		oc.BaseURL = base
	}
	c := &Client{
		cfg:    cfg,
		llm:    openai.NewClientWithConfig(oc),
		logger: log.New(log.Writer(), "[ORACLE] ", log.LstdFlags),
	}
	if cfg.RequestsPerMinute > 0 {
		rps := cfg.RequestsPerMinute / 60.0
		burst := int(rps * 2)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Generate asks the oracle for a new idea. Transient failures are retried
// with a doubling delay; exhaustion returns a GenerationError.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	prompt := generatePrompt(req)
	var lastErr error
	delay := c.cfg.RetryDelay
	for attempt := 0; attempt <= c.cfg.GenerationRetries; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, delay); err != nil {
				return "", &GenerationError{Err: err}
			}
			delay *= 2
		}
		text, err := c.chat(ctx, "generate", c.cfg.GenerationModel, generationSystemPrompt, prompt,
			c.cfg.GenerationMaxTokens, c.cfg.GenerationTemperature)
		if err != nil {
			lastErr = err
			c.logger.Printf("generate attempt %d/%d failed: %v", attempt+1, c.cfg.GenerationRetries+1, err)
			continue
		}
		return text, nil
	}
	return "", &GenerationError{Err: lastErr}
}

// Evaluate asks the oracle to score an idea against the criteria. A response
// missing criterion scores is retried like a transport failure; if retries
// run out but some response arrived, the gaps are filled with the neutral
// score instead of failing the whole iteration.
func (c *Client) Evaluate(ctx context.Context, idea string, criteria []problem.Criterion) (Evaluation, error) {
	if len(criteria) == 0 {
		return Evaluation{}, &EvaluationError{Err: fmt.Errorf("no evaluation criteria configured")}
	}
	system := evaluationSystemPrompt(criteria)
	prompt := evaluatePrompt(c.problem, c.constraints, idea, criteria)
	var (
		lastErr  error
		lastResp string
	)
	delay := c.cfg.RetryDelay
	for attempt := 0; attempt <= c.cfg.EvaluationRetries; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, delay); err != nil {
				return Evaluation{}, &EvaluationError{Err: err}
			}
			delay *= 2
		}
		resp, err := c.chat(ctx, "evaluate", c.cfg.EvaluationModel, system, prompt,
			c.cfg.EvaluationMaxTokens, c.cfg.EvaluationTemperature)
		if err != nil {
			lastErr = err
			c.logger.Printf("evaluate attempt %d/%d failed: %v", attempt+1, c.cfg.EvaluationRetries+1, err)
			continue
		}
		lastResp = resp
		ev, complete := parseEvaluation(resp, criteria)
		if complete {
			return ev, nil
		}
		c.logger.Printf("evaluate attempt %d/%d: scores missing from response, retrying", attempt+1, c.cfg.EvaluationRetries+1)
	}
	if lastResp != "" {
		ev, _ := parseEvaluation(lastResp, criteria)
		c.logger.Printf("evaluation incomplete after %d attempts, filling gaps with %.1f", c.cfg.EvaluationRetries+1, neutralScore)
		return ev, nil
	}
	return Evaluation{}, &EvaluationError{Err: lastErr}
}

// chat performs one rate-limited, timeout-bounded completion call.
func (c *Client) chat(ctx context.Context, kind, model, system, user string, maxTokens int, temperature float32) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.llm.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		MaxTokens:   maxTokens,
		Temperature: temperature,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("provider returned no choices")
	}
	if c.onUsage != nil {
		c.onUsage(kind, Usage{
			Model:            model,
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			Cost:             estimateCost(model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens),
			Duration:         time.Since(start),
		})
	}
	return resp.Choices[0].Message.Content, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// estimateCost prices a call from the published per-token rates. Unknown
// models cost zero; the telemetry still counts their tokens.
func estimateCost(model string, promptTokens, completionTokens int) float64 {
	rates, ok := modelRates[model]
	if !ok {
		return 0
	}
	return float64(promptTokens)/1000*rates[0] + float64(completionTokens)/1000*rates[1]
}

// modelRates maps model name to [input, output] USD per 1K tokens.
var modelRates = map[string][2]float64{
	"gpt-4o":                  {0.0025, 0.01},
	"gpt-4o-mini":             {0.00015, 0.0006},
	"llama-3.1-8b-instant":    {0.00005, 0.00008},
	"llama-3.3-70b-versatile": {0.00059, 0.00079},
}
