package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/haasonsaas/ragline/pkg/models"
)

func registerSleeper(t *testing.T, r *ToolRegistry, name string, d time.Duration, pure bool, inflight, peak *int32) {
	t.Helper()
	err := r.Register(ToolDescriptor{Name: name, SideEffectFree: pure}, func(ctx context.Context, _ json.RawMessage) (any, error) {
		n := atomic.AddInt32(inflight, 1)
		defer atomic.AddInt32(inflight, -1)
		for {
			p := atomic.LoadInt32(peak)
			if n <= p || atomic.CompareAndSwapInt32(peak, p, n) {
				break
			}
		}
		select {
		case <-time.After(d):
			return name, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestExecutor_ExecuteBatchParallelWhenSideEffectFree(t *testing.T) {
	r := NewToolRegistry()
	var inflight, peak int32
	registerSleeper(t, r, "a", 50*time.Millisecond, true, &inflight, &peak)
	registerSleeper(t, r, "b", 50*time.Millisecond, true, &inflight, &peak)

	exec := NewExecutor(r, DefaultToolExecConfig())
	calls := []models.ToolCall{{ID: "1", Name: "a"}, {ID: "2", Name: "b"}, {ID: "3", Name: "a"}}
	results := exec.ExecuteBatch(context.Background(), calls)

	if len(results) != 3 {
		t.Fatalf("len(results) = %d, want 3", len(results))
	}
	for i, res := range results {
		if res.ToolCallID != calls[i].ID || res.Content != calls[i].Name {
			t.Errorf("results[%d] = %+v, want call %s", i, res, calls[i].ID)
		}
	}
	if atomic.LoadInt32(&peak) < 2 {
		t.Errorf("peak concurrency = %d, want parallel execution", peak)
	}
}

func TestExecutor_ExecuteBatchSequentialWithSideEffects(t *testing.T) {
	r := NewToolRegistry()
	var inflight, peak int32
	registerSleeper(t, r, "read", 20*time.Millisecond, true, &inflight, &peak)
	registerSleeper(t, r, "write", 20*time.Millisecond, false, &inflight, &peak)

	exec := NewExecutor(r, DefaultToolExecConfig())
	calls := []models.ToolCall{{ID: "1", Name: "read"}, {ID: "2", Name: "write"}, {ID: "3", Name: "read"}}
	results := exec.ExecuteBatch(context.Background(), calls)

	for i, res := range results {
		if res.ToolCallID != calls[i].ID {
			t.Errorf("results[%d].ToolCallID = %s, want %s", i, res.ToolCallID, calls[i].ID)
		}
	}
	if atomic.LoadInt32(&peak) != 1 {
		t.Errorf("peak concurrency = %d, want 1", peak)
	}
}

func TestExecutor_ConcurrencyLimit(t *testing.T) {
	r := NewToolRegistry()
	var inflight, peak int32
	registerSleeper(t, r, "slow", 30*time.Millisecond, true, &inflight, &peak)

	exec := NewExecutor(r, ToolExecConfig{Concurrency: 2})
	calls := make([]models.ToolCall, 6)
	for i := range calls {
		calls[i] = models.ToolCall{ID: fmt.Sprint(i), Name: "slow"}
	}
	exec.ExecuteBatch(context.Background(), calls)

	if p := atomic.LoadInt32(&peak); p > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", p)
	}
}

func TestExecutor_PerToolTimeout(t *testing.T) {
	r := NewToolRegistry()
	var inflight, peak int32
	registerSleeper(t, r, "hang", time.Second, false, &inflight, &peak)

	exec := NewExecutor(r, ToolExecConfig{PerToolTimeout: 20 * time.Millisecond})
	start := time.Now()
	res := exec.Execute(context.Background(), models.ToolCall{ID: "1", Name: "hang"})

	if !res.IsError {
		t.Fatalf("expected timeout error, got %s", res.Content)
	}
	if !strings.Contains(res.Content, ErrToolTimeout.Error()) {
		t.Errorf("Content = %s, want timeout", res.Content)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("timeout did not interrupt the tool")
	}
}

func TestExecutor_CanceledContext(t *testing.T) {
	r := NewToolRegistry()
	var inflight, peak int32
	registerSleeper(t, r, "w", time.Millisecond, false, &inflight, &peak)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	exec := NewExecutor(r, DefaultToolExecConfig())
	results := exec.ExecuteBatch(ctx, []models.ToolCall{{ID: "1", Name: "w"}, {ID: "2", Name: "w"}})
	for i, res := range results {
		if !res.IsError {
			t.Errorf("results[%d] should be an error after cancel", i)
		}
	}
}
