package agent

import (
	"context"
	"sync"
	"time"

	"github.com/haasonsaas/ragline/internal/observability"
	"github.com/haasonsaas/ragline/pkg/models"
)

// ToolExecConfig configures tool execution behavior including concurrency
// and timeouts.
type ToolExecConfig struct {
	// Concurrency is the maximum number of concurrent tool executions.
	// Default: 4.
	Concurrency int

	// PerToolTimeout is the timeout for individual tool executions.
	// Default: 30 seconds.
	PerToolTimeout time.Duration
}

// DefaultToolExecConfig returns the defaults: 4 concurrent tools and a
// 30 second timeout.
func DefaultToolExecConfig() ToolExecConfig {
	return ToolExecConfig{
		Concurrency:    4,
		PerToolTimeout: 30 * time.Second,
	}
}

// Executor runs tool calls against a registry.
type Executor struct {
	registry *ToolRegistry
	config   ToolExecConfig
	metrics  *observability.Metrics
}

// NewExecutor creates a new tool executor with the given registry and configuration.
// Default values are applied if config fields are zero.
func NewExecutor(registry *ToolRegistry, config ToolExecConfig) *Executor {
	if config.Concurrency <= 0 {
		config.Concurrency = 4
	}
	if config.PerToolTimeout <= 0 {
		config.PerToolTimeout = 30 * time.Second
	}
	return &Executor{registry: registry, config: config}
}

// WithMetrics sets the metrics sink and returns e.
func (e *Executor) WithMetrics(m *observability.Metrics) *Executor {
	e.metrics = m
	return e
}

// Execute runs a single call under the per-tool timeout.
func (e *Executor) Execute(ctx context.Context, call models.ToolCall) models.ToolResult {
	toolCtx, cancel := context.WithTimeout(ctx, e.config.PerToolTimeout)
	defer cancel()

	start := time.Now()
	result := e.registry.Execute(toolCtx, call)

	status := "success"
	if result.IsError {
		status = "error"
	}
	e.metrics.RecordToolExecution(call.Name, status, time.Since(start).Seconds())
	return result
}

// ExecuteBatch runs calls and returns their results in call order. Calls
// run concurrently only when every requested tool is side-effect free;
// otherwise they run one at a time.
func (e *Executor) ExecuteBatch(ctx context.Context, calls []models.ToolCall) []models.ToolResult {
	results := make([]models.ToolResult, len(calls))
	if len(calls) == 0 {
		return results
	}

	names := make([]string, len(calls))
	for i, c := range calls {
		names[i] = c.Name
	}

	if len(calls) == 1 || !e.registry.SideEffectFree(names...) {
		for i, call := range calls {
			if err := ctx.Err(); err != nil {
				results[i] = canceledResult(call)
				continue
			}
			results[i] = e.Execute(ctx, call)
		}
		return results
	}

	sem := make(chan struct{}, e.config.Concurrency)
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(idx int, call models.ToolCall) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[idx] = canceledResult(call)
				return
			}
			results[idx] = e.Execute(ctx, call)
		}(i, call)
	}
	wg.Wait()
	return results
}

func canceledResult(call models.ToolCall) models.ToolResult {
	return models.ToolResult{
		ToolCallID: call.ID,
		Name:       call.Name,
		Content:    `{"error":"tool execution canceled"}`,
		IsError:    true,
	}
}
