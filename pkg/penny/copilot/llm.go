// Package copilot – llm.go implements the generation client on top of the
// OpenAI SDK: free-text completions for replies and thread names, and image
// generation for /imagine.
package copilot

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jholhewres/penny/pkg/penny/media"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"gopkg.in/yaml.v3"
)

// Generator is the generation service a turn talks to.
type Generator interface {
	// Complete continues prompt and returns the trimmed text.
	Complete(ctx context.Context, prompt string, params GenerationParams) (string, error)

	// GenerateImage returns PNG bytes for prompt.
	GenerateImage(ctx context.Context, prompt string) ([]byte, error)
}

// GenerationParams are the sampling knobs of one completion call.
type GenerationParams struct {
	MaxTokens        int           `yaml:"max_tokens"`
	Temperature      float64       `yaml:"temperature"`
	PresencePenalty  float64       `yaml:"presence_penalty"`
	FrequencyPenalty float64       `yaml:"frequency_penalty"`
	Stop             StopSequences `yaml:"stop"`
}

// StopSequences marshal double-quoted so stops made of line breaks survive
// a save and reload of the config file.
type StopSequences []string

// MarshalYAML implements yaml.Marshaler.
func (s StopSequences) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
	for _, stop := range s {
		node.Content = append(node.Content, &yaml.Node{
			Kind:  yaml.ScalarNode,
			Tag:   "!!str",
			Style: yaml.DoubleQuotedStyle,
			Value: stop,
		})
	}
	return node, nil
}

// DefaultReplyParams are the sampling knobs for assistant replies.
func DefaultReplyParams() GenerationParams {
	return GenerationParams{
		MaxTokens:        180,
		Temperature:      0.9,
		PresencePenalty:  0.6,
		FrequencyPenalty: 0.3,
		Stop:             StopSequences{StopSequence},
	}
}

// DefaultNamingParams are the sampling knobs for thread names.
func DefaultNamingParams() GenerationParams {
	return GenerationParams{
		MaxTokens:        15,
		Temperature:      0.8,
		PresencePenalty:  0.6,
		FrequencyPenalty: 0.3,
		Stop:             append(StopSequences(nil), namingStops...),
	}
}

// withStop returns params with stop guaranteed to be among its stop sequences.
func (p GenerationParams) withStop(stop string) GenerationParams {
	for _, s := range p.Stop {
		if s == stop {
			return p
		}
	}
	p.Stop = append(append(StopSequences(nil), p.Stop...), stop)
	return p
}

// LLMClient talks to an OpenAI-compatible endpoint.
type LLMClient struct {
	client     openai.Client
	http       *http.Client
	model      string
	imageModel string
	imageSize  string
	timeout    time.Duration
	logger     *slog.Logger
}

// NewLLMClient creates a generation client from the API configuration.
func NewLLMClient(cfg APIConfig, logger *slog.Logger) *LLMClient {
	if logger == nil {
		logger = slog.Default()
	}
	httpClient := &http.Client{}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Organization != "" {
		opts = append(opts, option.WithOrganization(cfg.Organization))
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &LLMClient{
		client:     openai.NewClient(opts...),
		http:       httpClient,
		model:      cfg.Model,
		imageModel: cfg.ImageModel,
		imageSize:  cfg.ImageSize,
		timeout:    timeout,
		logger:     logger.With("component", "llm"),
	}
}

// Complete requests a text completion bounded by the client timeout.
func (c *LLMClient) Complete(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req := openai.CompletionNewParams{
		Model:            openai.CompletionNewParamsModel(c.model),
		Prompt:           openai.CompletionNewParamsPromptUnion{OfString: openai.String(prompt)},
		MaxTokens:        openai.Int(int64(params.MaxTokens)),
		Temperature:      openai.Float(params.Temperature),
		PresencePenalty:  openai.Float(params.PresencePenalty),
		FrequencyPenalty: openai.Float(params.FrequencyPenalty),
	}
	if len(params.Stop) > 0 {
		req.Stop = openai.CompletionNewParamsStopUnion{OfStringArray: []string(params.Stop)}
	}

	start := time.Now()
	resp, err := c.client.Completions.New(ctx, req)
	if err != nil {
		return "", newLLMError("completion", err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}

	text := strings.TrimSpace(resp.Choices[0].Text)
	c.logger.Debug("completion",
		"model", c.model,
		"duration_ms", time.Since(start).Milliseconds(),
		"prompt", prompt,
		"response", text,
	)
	return text, nil
}

// GenerateImage requests one image and returns its bytes, downloading it
// when the endpoint answers with a URL.
func (c *LLMClient) GenerateImage(ctx context.Context, prompt string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.Images.Generate(ctx, openai.ImageGenerateParams{
		Prompt:         prompt,
		Model:          openai.ImageModel(c.imageModel),
		N:              openai.Int(1),
		Size:           openai.ImageGenerateParamsSize(c.imageSize),
		ResponseFormat: openai.ImageGenerateParamsResponseFormatB64JSON,
	})
	if err != nil {
		return nil, newLLMError("image generation", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("image generation: empty response")
	}

	img := resp.Data[0]
	if img.B64JSON != "" {
		data, err := base64.StdEncoding.DecodeString(img.B64JSON)
		if err != nil {
			return nil, fmt.Errorf("image generation: decoding image: %w", err)
		}
		return data, nil
	}
	if img.URL != "" {
		return c.download(ctx, img.URL)
	}
	return nil, fmt.Errorf("image generation: response has no image")
}

func (c *LLMClient) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("image download: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("image download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("image download: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, media.MaxImageSize+1))
	if err != nil {
		return nil, fmt.Errorf("image download: %w", err)
	}
	return data, nil
}

// ---------- Error Classification ----------

// LLMErrorKind classifies generation errors for logging.
type LLMErrorKind int

const (
	LLMErrorRetryable  LLMErrorKind = iota // generic retryable (transient 5xx)
	LLMErrorRateLimit                      // 429
	LLMErrorOverloaded                     // 529 or "overloaded" in body
	LLMErrorTimeout                        // request timeout / deadline exceeded
	LLMErrorAuth                           // 401, 403
	LLMErrorBilling                        // 402 or quota exhausted
	LLMErrorContext                        // prompt exceeds the context window
	LLMErrorBadRequest                     // 400
	LLMErrorFatal                          // everything else
)

// String returns a label for the error kind.
func (k LLMErrorKind) String() string {
	switch k {
	case LLMErrorRetryable:
		return "retryable"
	case LLMErrorRateLimit:
		return "rate_limit"
	case LLMErrorOverloaded:
		return "overloaded"
	case LLMErrorTimeout:
		return "timeout"
	case LLMErrorAuth:
		return "auth"
	case LLMErrorBilling:
		return "billing"
	case LLMErrorContext:
		return "context"
	case LLMErrorBadRequest:
		return "bad_request"
	case LLMErrorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// LLMError is a classified generation failure.
type LLMError struct {
	Op         string
	Kind       LLMErrorKind
	StatusCode int
	Err        error
}

func (e *LLMError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s failed (%s, status %d): %v", e.Op, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s failed (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *LLMError) Unwrap() error { return e.Err }

// ErrorKind returns the classification of err, LLMErrorFatal when err is not
// a generation error.
func ErrorKind(err error) LLMErrorKind {
	var llmErr *LLMError
	if errors.As(err, &llmErr) {
		return llmErr.Kind
	}
	return LLMErrorFatal
}

func newLLMError(op string, err error) *LLMError {
	out := &LLMError{Op: op, Err: err}

	var apiErr *openai.Error
	switch {
	case errors.As(err, &apiErr):
		out.StatusCode = apiErr.StatusCode
		out.Kind = classifyAPIError(apiErr.StatusCode, apiErr.Error())
	case errors.Is(err, context.DeadlineExceeded):
		out.Kind = LLMErrorTimeout
	default:
		out.Kind = classifyAPIError(0, err.Error())
	}
	return out
}

// classifyAPIError determines the error kind from status code and body.
func classifyAPIError(statusCode int, body string) LLMErrorKind {
	bodyLower := strings.ToLower(body)

	if strings.Contains(bodyLower, "context_length_exceeded") ||
		strings.Contains(bodyLower, "maximum context length") {
		return LLMErrorContext
	}

	if statusCode == 402 ||
		strings.Contains(bodyLower, "billing") ||
		strings.Contains(bodyLower, "insufficient_quota") {
		return LLMErrorBilling
	}

	if statusCode == 429 ||
		strings.Contains(bodyLower, "rate_limit") ||
		strings.Contains(bodyLower, "rate limit") ||
		strings.Contains(bodyLower, "too many requests") {
		return LLMErrorRateLimit
	}

	if statusCode == 529 || strings.Contains(bodyLower, "overloaded") {
		return LLMErrorOverloaded
	}

	if strings.Contains(bodyLower, "timeout") ||
		strings.Contains(bodyLower, "deadline") ||
		strings.Contains(bodyLower, "timed out") {
		return LLMErrorTimeout
	}

	switch {
	case statusCode == 400:
		return LLMErrorBadRequest
	case statusCode == 401 || statusCode == 403:
		return LLMErrorAuth
	case statusCode >= 500:
		return LLMErrorRetryable
	default:
		return LLMErrorFatal
	}
}
