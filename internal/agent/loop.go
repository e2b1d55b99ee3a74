package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/ragline/internal/observability"
	"github.com/haasonsaas/ragline/pkg/models"
)

// LoopConfig configures the tool-calling loop.
type LoopConfig struct {
	// MaxRounds is the maximum number of model dispatches per Run.
	// Default: 8.
	MaxRounds int

	// MaxToolFailures stops the loop when one tool fails this many times
	// in a row. Default: 3.
	MaxToolFailures int

	// Exec configures tool execution.
	Exec ToolExecConfig

	Logger  *slog.Logger
	Metrics *observability.Metrics
}

// DefaultLoopConfig returns the default loop settings.
func DefaultLoopConfig() LoopConfig {
	return LoopConfig{
		MaxRounds:       8,
		MaxToolFailures: 3,
		Exec:            DefaultToolExecConfig(),
	}
}

// LoopRequest is the input to one Run.
type LoopRequest struct {
	Model       string
	Messages    []models.ChatMessage
	Temperature *float64
	Format      json.RawMessage
}

// LoopResult is the final answer and the work it took.
type LoopResult struct {
	Answer       string
	ToolCalls    []models.ToolCall
	Rounds       int
	InputTokens  int
	OutputTokens int
}

// Sink receives the tool_call message and its results as soon as a round
// completes.
type Sink func(msgs ...models.ChatMessage)

// Loop drives a model through rounds of tool calls until it answers.
type Loop struct {
	provider LLMProvider
	registry *ToolRegistry
	exec     *Executor
	config   LoopConfig
	logger   *slog.Logger
}

// NewLoop creates a loop. A nil registry disables tools.
func NewLoop(provider LLMProvider, registry *ToolRegistry, config LoopConfig) *Loop {
	if config.MaxRounds <= 0 {
		config.MaxRounds = 8
	}
	if config.MaxToolFailures <= 0 {
		config.MaxToolFailures = 3
	}
	if registry == nil {
		registry = NewToolRegistry()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		provider: provider,
		registry: registry,
		exec:     NewExecutor(registry, config.Exec).WithMetrics(config.Metrics),
		config:   config,
		logger:   logger.With("component", "tool_loop"),
	}
}

// Registry returns the loop's tool registry.
func (l *Loop) Registry() *ToolRegistry {
	return l.registry
}

// Run dispatches req and executes requested tools until the model answers
// without calls. The request messages are not modified.
func (l *Loop) Run(ctx context.Context, req *LoopRequest, sink Sink) (*LoopResult, error) {
	if l.provider == nil {
		return nil, ErrNoProvider
	}
	if req == nil {
		return nil, errors.New("loop request is nil")
	}

	ctx, span := observability.StartSpan(ctx, observability.ScopeAgent, "agent.loop", "model", req.Model)
	defer span.End()

	messages := make([]models.ChatMessage, len(req.Messages))
	copy(messages, req.Messages)

	tools := l.registry.Descriptors()
	result := &LoopResult{}
	failures := make(map[string]int)

	for round := 1; round <= l.config.MaxRounds; round++ {
		resp, err := l.provider.Complete(ctx, &CompletionRequest{
			Model:       req.Model,
			Messages:    messages,
			Tools:       tools,
			Format:      req.Format,
			Temperature: req.Temperature,
		})
		if err != nil {
			observability.RecordError(span, err)
			return nil, fmt.Errorf("round %d: %w", round, err)
		}

		result.Rounds = round
		result.InputTokens += resp.InputTokens
		result.OutputTokens += resp.OutputTokens

		if len(resp.ToolCalls) == 0 {
			result.Answer = resp.Content
			l.config.Metrics.RecordToolRounds(round)
			return result, nil
		}

		if round == l.config.MaxRounds {
			l.config.Metrics.RecordToolRounds(round)
			observability.RecordError(span, ErrToolLoopOverflow)
			return nil, fmt.Errorf("%w (%d)", ErrToolLoopOverflow, l.config.MaxRounds)
		}

		calls := make([]models.ToolCall, len(resp.ToolCalls))
		for i, call := range resp.ToolCalls {
			if call.ID == "" {
				call.ID = uuid.NewString()
			}
			if len(call.Input) == 0 {
				call.Input = json.RawMessage("{}")
			}
			calls[i] = call
		}
		result.ToolCalls = append(result.ToolCalls, calls...)

		start := time.Now()
		results := l.exec.ExecuteBatch(ctx, calls)
		l.logger.Debug("executed tool calls",
			"round", round,
			"calls", len(calls),
			"duration", time.Since(start),
		)

		turn := make([]models.ChatMessage, 0, len(results)+1)
		turn = append(turn, models.ToolCallMessage(resp.Content, calls))
		for _, r := range results {
			turn = append(turn, models.ToolResultMessage(r))
		}
		if sink != nil {
			sink(turn...)
		}
		messages = append(messages, turn...)

		for _, r := range results {
			if !r.IsError {
				failures[r.Name] = 0
				continue
			}
			failures[r.Name]++
			l.logger.Warn("tool call failed",
				"tool", r.Name,
				"consecutive_failures", failures[r.Name],
				"error", r.Content,
			)
			if failures[r.Name] >= l.config.MaxToolFailures {
				err := &ToolError{Name: r.Name, Failures: failures[r.Name], Cause: errors.New(r.Content)}
				observability.RecordError(span, err)
				return nil, err
			}
		}

		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	// Unreachable: the last round either answers or overflows.
	return nil, ErrToolLoopOverflow
}
