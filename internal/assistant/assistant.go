// Package assistant ties retrieval, chat memory and the tool loop into a
// single conversational entry point.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/haasonsaas/ragline/internal/agent"
	"github.com/haasonsaas/ragline/internal/observability"
	"github.com/haasonsaas/ragline/internal/rag/injector"
	"github.com/haasonsaas/ragline/internal/rag/retriever"
	"github.com/haasonsaas/ragline/internal/sessions"
	"github.com/haasonsaas/ragline/pkg/models"
)

// DefaultSessionID is used when a request names no session.
const DefaultSessionID = "default"

// ContentRetriever finds supporting content for a question.
type ContentRetriever interface {
	Retrieve(ctx context.Context, query string) ([]retriever.Content, error)
}

// ChatRequest is one user turn.
type ChatRequest struct {
	SessionID string
	Text      string
	Images    [][]byte

	// Model overrides the assistant's model for this turn.
	Model string
}

// ChatResponse is the assistant's reply to one turn.
type ChatResponse struct {
	Answer    string
	Sources   []retriever.Content
	ToolCalls []models.ToolCall
	Rounds    int
}

// Assistant answers questions with optional retrieval and tools. It is
// safe for concurrent use; turns on the same session are serialized.
type Assistant struct {
	provider      agent.LLMProvider
	model         string
	systemMessage string
	memorySize    int
	temperature   *float64
	retriever     ContentRetriever
	injector      *injector.Injector
	tools         []agent.Tool
	registry      *agent.ToolRegistry
	loopConfig    agent.LoopConfig
	extractPrompt *injector.PromptTemplate
	logger        *slog.Logger
	metrics       *observability.Metrics

	loop     *agent.Loop
	sessions *sessions.Store
}

// Option configures an Assistant.
type Option func(*Assistant) error

// WithModel sets the chat model.
func WithModel(model string) Option {
	return func(a *Assistant) error {
		a.model = strings.TrimSpace(model)
		return nil
	}
}

// WithSystemMessage sets the system message of new sessions.
func WithSystemMessage(text string) Option {
	return func(a *Assistant) error {
		a.systemMessage = text
		return nil
	}
}

// WithMemorySize bounds each session's non-system messages.
func WithMemorySize(n int) Option {
	return func(a *Assistant) error {
		if n <= 0 {
			return fmt.Errorf("memory size must be positive, got %d", n)
		}
		a.memorySize = n
		return nil
	}
}

// WithRetriever enables retrieval augmentation.
func WithRetriever(r ContentRetriever) Option {
	return func(a *Assistant) error {
		a.retriever = r
		return nil
	}
}

// WithInjector sets how retrieved content is merged into the question.
func WithInjector(inj *injector.Injector) Option {
	return func(a *Assistant) error {
		a.injector = inj
		return nil
	}
}

// WithTools makes tools available to the model.
func WithTools(tools ...agent.Tool) Option {
	return func(a *Assistant) error {
		a.tools = append(a.tools, tools...)
		return nil
	}
}

// WithToolRegistry uses an existing registry. Tools from WithTools are
// added to it.
func WithToolRegistry(r *agent.ToolRegistry) Option {
	return func(a *Assistant) error {
		a.registry = r
		return nil
	}
}

// WithLoopConfig configures the tool loop.
func WithLoopConfig(cfg agent.LoopConfig) Option {
	return func(a *Assistant) error {
		a.loopConfig = cfg
		return nil
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(a *Assistant) error {
		a.temperature = &t
		return nil
	}
}

// WithExtractPrompt replaces the extraction prompt. The template must use
// the {{it}} placeholder for the input text.
func WithExtractPrompt(text string) Option {
	return func(a *Assistant) error {
		tmpl, err := injector.ParseTemplate(text)
		if err != nil {
			return err
		}
		if !tmpl.Has(extractPlaceholder) {
			return fmt.Errorf("%w: extraction prompt lacks {{%s}}", injector.ErrInvalidTemplate, extractPlaceholder)
		}
		a.extractPrompt = tmpl
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Assistant) error {
		a.logger = logger
		return nil
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) Option {
	return func(a *Assistant) error {
		a.metrics = m
		return nil
	}
}

// New creates an assistant that dispatches to provider.
func New(provider agent.LLMProvider, opts ...Option) (*Assistant, error) {
	if provider == nil {
		return nil, agent.ErrNoProvider
	}

	a := &Assistant{
		provider:      provider,
		memorySize:    sessions.DefaultWindowSize,
		loopConfig:    agent.DefaultLoopConfig(),
		extractPrompt: injector.MustParseTemplate(DefaultExtractPrompt),
	}
	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, err
		}
	}

	if a.logger == nil {
		a.logger = slog.Default()
	}
	a.logger = a.logger.With("component", "assistant")

	if a.retriever != nil && a.injector == nil {
		inj, err := injector.New(injector.Config{})
		if err != nil {
			return nil, err
		}
		a.injector = inj
	}

	if a.registry == nil {
		a.registry = agent.NewToolRegistry()
	}
	for _, tool := range a.tools {
		if err := a.registry.RegisterTool(tool); err != nil {
			return nil, err
		}
	}

	loopCfg := a.loopConfig
	if loopCfg.Logger == nil {
		loopCfg.Logger = a.logger
	}
	if loopCfg.Metrics == nil {
		loopCfg.Metrics = a.metrics
	}
	a.loop = agent.NewLoop(provider, a.registry, loopCfg)
	a.sessions = sessions.NewStore(a.memorySize)
	return a, nil
}

// Chat is shorthand for Do with text only.
func (a *Assistant) Chat(ctx context.Context, sessionID, text string) (string, error) {
	resp, err := a.Do(ctx, &ChatRequest{SessionID: sessionID, Text: text})
	if err != nil {
		return "", err
	}
	return resp.Answer, nil
}

// Do runs one turn. The session keeps the user's original text; retrieved
// content is injected only into the copy sent to the model.
func (a *Assistant) Do(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	if req == nil {
		return nil, errors.New("chat request is nil")
	}
	if strings.TrimSpace(req.Text) == "" && len(req.Images) == 0 {
		return nil, errors.New("chat request has no text or images")
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = DefaultSessionID
	}
	mode := a.mode()

	ctx, span := observability.StartSpan(ctx, observability.ScopeAssistant, "assistant.chat",
		"session", sessionID, "mode", mode)
	defer span.End()

	resp, err := a.do(ctx, sessionID, req)
	a.metrics.RecordChat(mode, observability.Status(err))
	if err != nil {
		observability.RecordError(span, err)
		a.logger.Error("chat failed", "session", sessionID, "error", err)
		return nil, err
	}
	return resp, nil
}

func (a *Assistant) do(ctx context.Context, sessionID string, req *ChatRequest) (*ChatResponse, error) {
	unlock, err := a.sessions.LockContext(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	sess := a.sessions.GetOrCreate(sessionID, a.systemMessage)
	user := models.ChatMessage{Role: models.RoleUser, Content: req.Text, Images: req.Images}
	sess.Window.Append(user)

	dispatch := user
	var sources []retriever.Content
	if a.retriever != nil && strings.TrimSpace(req.Text) != "" {
		sources, err = a.retriever.Retrieve(ctx, req.Text)
		if err != nil {
			return nil, fmt.Errorf("retrieve: %w", err)
		}
		dispatch.Content, err = a.injector.Inject(req.Text, sources)
		if err != nil {
			return nil, fmt.Errorf("inject: %w", err)
		}
	}

	messages := sess.Window.Messages()
	messages[len(messages)-1] = dispatch

	model := req.Model
	if model == "" {
		model = a.model
	}

	result, err := a.loop.Run(ctx, &agent.LoopRequest{
		Model:       model,
		Messages:    messages,
		Temperature: a.temperature,
	}, sess.Window.Append)
	if err != nil {
		return nil, err
	}

	sess.Window.Append(models.AssistantMessage(result.Answer))
	a.logger.Debug("chat turn complete",
		"session", sessionID,
		"sources", len(sources),
		"tool_calls", len(result.ToolCalls),
		"rounds", result.Rounds,
	)

	return &ChatResponse{
		Answer:    result.Answer,
		Sources:   sources,
		ToolCalls: result.ToolCalls,
		Rounds:    result.Rounds,
	}, nil
}

func (a *Assistant) mode() string {
	switch {
	case a.retriever != nil:
		return "rag"
	case a.registry.Len() > 0:
		return "tools"
	default:
		return "plain"
	}
}

// History returns a copy of a session's messages.
func (a *Assistant) History(sessionID string) []models.ChatMessage {
	sess, ok := a.sessions.Get(sessionID)
	if !ok {
		return nil
	}
	return sess.Window.Messages()
}

// EndSession forgets a session's memory.
func (a *Assistant) EndSession(sessionID string) {
	a.sessions.Delete(sessionID)
}

// Sessions returns the IDs of live sessions.
func (a *Assistant) Sessions() []string {
	return a.sessions.IDs()
}

// Tools returns the registered tool descriptors.
func (a *Assistant) Tools() []agent.ToolDescriptor {
	return a.registry.Descriptors()
}
