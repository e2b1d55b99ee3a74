// Package builtin provides small side-effect free tools that exercise the
// tool-calling loop: integer arithmetic, character counting and the
// kwigglydiggly transform.
package builtin

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/haasonsaas/ragline/internal/agent"
)

// All is the selector that enables every builtin tool.
const All = "all"

// Tool names.
const (
	AddName             = "add"
	MultiplyName        = "multiply"
	CountCharactersName = "count_characters"
	KwigglydigglyName   = "kwigglydiggly"
)

// PairArgs are the operands of a binary integer tool.
type PairArgs struct {
	A int64 `json:"a" jsonschema:"description=First operand"`
	B int64 `json:"b" jsonschema:"description=Second operand"`
}

// CountArgs are the inputs of count_characters.
type CountArgs struct {
	Text      string `json:"text" jsonschema:"description=Text to search in"`
	SearchFor string `json:"searchFor" jsonschema:"description=Character or substring to count"`
}

// KwigglydigglyArgs is the input of kwigglydiggly.
type KwigglydigglyArgs struct {
	A float64 `json:"a" jsonschema:"description=Input value"`
}

type constructor func(logger *slog.Logger) (agent.Tool, error)

var registry = map[string]constructor{
	AddName:             newAdd,
	MultiplyName:        newMultiply,
	CountCharactersName: newCountCharacters,
	KwigglydigglyName:   newKwigglydiggly,
}

// Names returns every builtin tool name in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Select builds the named tools. "all" expands to every builtin; duplicates
// are collapsed. Unknown names are an error.
func Select(names []string, logger *slog.Logger) ([]agent.Tool, error) {
	if logger == nil {
		logger = slog.Default()
	}

	wanted := make(map[string]struct{}, len(names))
	for _, raw := range names {
		name := strings.ToLower(strings.TrimSpace(raw))
		if name == "" {
			continue
		}
		if name == All {
			for n := range registry {
				wanted[n] = struct{}{}
			}
			continue
		}
		if _, ok := registry[name]; !ok {
			return nil, fmt.Errorf("unknown builtin tool %q (available: %s)", raw, strings.Join(Names(), ", "))
		}
		wanted[name] = struct{}{}
	}

	selected := make([]string, 0, len(wanted))
	for name := range wanted {
		selected = append(selected, name)
	}
	sort.Strings(selected)

	tools := make([]agent.Tool, 0, len(selected))
	for _, name := range selected {
		t, err := registry[name](logger)
		if err != nil {
			return nil, err
		}
		tools = append(tools, t)
	}
	return tools, nil
}

func newAdd(logger *slog.Logger) (agent.Tool, error) {
	return agent.NewFuncTool(AddName, "Adds two values, returning the sum",
		func(_ context.Context, args PairArgs) (int64, error) {
			logger.Debug("tool call", "tool", AddName, "a", args.A, "b", args.B)
			return args.A + args.B, nil
		}, agent.SideEffectFree())
}

func newMultiply(logger *slog.Logger) (agent.Tool, error) {
	return agent.NewFuncTool(MultiplyName, "Multiplies two values, returning the product",
		func(_ context.Context, args PairArgs) (int64, error) {
			logger.Debug("tool call", "tool", MultiplyName, "a", args.A, "b", args.B)
			return args.A * args.B, nil
		}, agent.SideEffectFree())
}

func newCountCharacters(logger *slog.Logger) (agent.Tool, error) {
	return agent.NewFuncTool(CountCharactersName, "Counts how often a character or substring occurs in a text",
		func(_ context.Context, args CountArgs) (int, error) {
			n := CountOccurrences(args.Text, args.SearchFor)
			logger.Debug("tool call", "tool", CountCharactersName, "search_for", args.SearchFor, "count", n)
			return n, nil
		}, agent.SideEffectFree())
}

func newKwigglydiggly(logger *slog.Logger) (agent.Tool, error) {
	return agent.NewFuncTool(KwigglydigglyName, "Compute the kwigglydiggly value of a number",
		func(_ context.Context, args KwigglydigglyArgs) (int64, error) {
			logger.Debug("tool call", "tool", KwigglydigglyName, "a", args.A)
			return Kwigglydiggly(args.A), nil
		}, agent.SideEffectFree())
}

// CountOccurrences counts possibly overlapping occurrences of sub in text.
// An empty sub counts as zero.
func CountOccurrences(text, sub string) int {
	if sub == "" {
		return 0
	}
	count := 0
	for i := 0; i <= len(text)-len(sub); {
		j := strings.Index(text[i:], sub)
		if j < 0 {
			break
		}
		count++
		i += j + 1
	}
	return count
}

// Kwigglydiggly returns a*42 rounded half away from zero.
func Kwigglydiggly(a float64) int64 {
	return int64(math.Round(a * 42))
}
