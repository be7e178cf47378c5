// Package llm is the narrow completion interface the summarizer and the
// document router call. [Client] adapts any eino chat model to it, in both
// one-shot and streaming mode.
package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/cograg-go/internal/budget"
	"github.com/54b3r/cograg-go/internal/logging"
)

// ResponseFormat asks the model for a particular output shape.
type ResponseFormat string

const (
	// FormatText is free-form output.
	FormatText ResponseFormat = ""
	// FormatJSON asks for a single JSON object.
	FormatJSON ResponseFormat = "json_object"
)

// ErrEmptyResponse is returned when the model produced no content.
var ErrEmptyResponse = errors.New("llm: empty response")

// ErrContentFiltered is returned when the provider stopped the answer with
// a content-filter finish reason. The message keeps the provider's reason.
var ErrContentFiltered = errors.New("llm: content filtered by provider")

// filterReasons are finish reasons, lowercased, that mean the provider
// withheld or cut the answer on policy grounds.
var filterReasons = map[string]bool{
	"content_filter":     true,
	"safety":             true,
	"prohibited_content": true,
	"blocklist":          true,
	"spii":               true,
}

// Request is one completion call. Nil sampling fields use the model default.
type Request struct {
	Model          string
	Messages       []*schema.Message
	Temperature    *float32
	TopP           *float32
	MaxTokens      int
	ResponseFormat ResponseFormat
	// Stream reads the answer incrementally instead of in one response.
	Stream bool
}

// Usage is the provider-reported token accounting.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Response is the assembled completion.
type Response struct {
	Content string
	Usage   Usage
	// FinishReason is the provider's stop reason, when reported.
	FinishReason string
}

// Completer issues completion calls. Implementations must be safe for
// concurrent use.
type Completer interface {
	Complete(ctx context.Context, req *Request) (*Response, error)
}

// Float32 returns a pointer to v, for Request sampling fields.
func Float32(v float32) *float32 { return &v }

// DefaultTimeout bounds a single completion call.
const DefaultTimeout = 3 * time.Minute

const jsonHint = "Respond with a single valid JSON object and nothing else."

// Client is a [Completer] backed by an eino chat model.
type Client struct {
	model   model.BaseChatModel
	name    string
	timeout time.Duration
}

// Option configures a [Client].
type Option func(*Client)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithName sets the name reported to tracing callbacks.
func WithName(name string) Option {
	return func(c *Client) { c.name = name }
}

// NewClient wraps m.
func NewClient(m model.BaseChatModel, opts ...Option) *Client {
	c := &Client{model: m, name: "cograg-llm", timeout: DefaultTimeout}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Complete implements [Completer]. Provider errors are wrapped, never
// rewritten, so callers can pattern-match their text.
func (c *Client) Complete(ctx context.Context, req *Request) (*Response, error) {
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("llm: request has no messages")
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	ctx = callbacks.InitCallbacks(ctx, &callbacks.RunInfo{
		Name:      c.name,
		Type:      "ChatModel",
		Component: components.ComponentOfChatModel,
	})

	msgs := req.Messages
	if req.ResponseFormat == FormatJSON {
		msgs = append([]*schema.Message{schema.SystemMessage(jsonHint)}, msgs...)
	}

	log := logging.FromContext(ctx)
	log.Debug("llm: completion start",
		slog.String("model", req.Model),
		slog.Int("messages", len(msgs)),
		slog.Int("estimated_prompt_tokens", budget.EstimateMessages(msgs)),
		slog.Bool("stream", req.Stream),
	)

	opts := callOptions(req)
	var (
		resp *Response
		err  error
	)
	if req.Stream {
		resp, err = c.stream(ctx, msgs, opts)
	} else {
		resp, err = c.generate(ctx, msgs, opts)
	}
	if err != nil {
		return nil, err
	}
	if filterReasons[strings.ToLower(resp.FinishReason)] {
		return nil, fmt.Errorf("%w: finish reason %s", ErrContentFiltered, resp.FinishReason)
	}
	if strings.TrimSpace(resp.Content) == "" {
		return nil, ErrEmptyResponse
	}
	log.Debug("llm: completion done",
		slog.Int("prompt_tokens", resp.Usage.PromptTokens),
		slog.Int("completion_tokens", resp.Usage.CompletionTokens),
	)
	return resp, nil
}

func (c *Client) generate(ctx context.Context, msgs []*schema.Message, opts []model.Option) (*Response, error) {
	msg, err := c.model.Generate(ctx, msgs, opts...)
	if err != nil {
		return nil, fmt.Errorf("llm: generate: %w", err)
	}
	if msg == nil {
		return nil, ErrEmptyResponse
	}
	return &Response{Content: msg.Content, Usage: usageOf(msg), FinishReason: finishReason(msg)}, nil
}

func (c *Client) stream(ctx context.Context, msgs []*schema.Message, opts []model.Option) (*Response, error) {
	sr, err := c.model.Stream(ctx, msgs, opts...)
	if err != nil {
		return nil, fmt.Errorf("llm: stream: %w", err)
	}
	defer sr.Close()

	var (
		b      strings.Builder
		usage  Usage
		reason string
	)
	for {
		chunk, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("llm: stream recv: %w", err)
		}
		if chunk == nil {
			continue
		}
		b.WriteString(chunk.Content)
		if u := usageOf(chunk); u.TotalTokens > 0 {
			usage = u
		}
		if r := finishReason(chunk); r != "" {
			reason = r
		}
	}
	return &Response{Content: b.String(), Usage: usage, FinishReason: reason}, nil
}

func callOptions(req *Request) []model.Option {
	var opts []model.Option
	if req.Model != "" {
		opts = append(opts, model.WithModel(req.Model))
	}
	if req.Temperature != nil {
		opts = append(opts, model.WithTemperature(*req.Temperature))
	}
	if req.TopP != nil {
		opts = append(opts, model.WithTopP(*req.TopP))
	}
	if req.MaxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(req.MaxTokens))
	}
	return opts
}

func finishReason(msg *schema.Message) string {
	if msg.ResponseMeta == nil {
		return ""
	}
	return msg.ResponseMeta.FinishReason
}

func usageOf(msg *schema.Message) Usage {
	if msg.ResponseMeta == nil || msg.ResponseMeta.Usage == nil {
		return Usage{}
	}
	u := msg.ResponseMeta.Usage
	return Usage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
}
