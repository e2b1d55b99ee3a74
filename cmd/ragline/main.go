// Package main provides the ragline CLI: retrieval-augmented chat,
// function calling and structured extraction against a local Ollama server.
//
// # Basic Usage
//
// Ingest documents and ask about them:
//
//	ragline ingest ./docs
//	ragline ask "When was Nelly born?"
//
// Start an interactive session with tools enabled:
//
//	ragline chat --tools all
//
// Extract a person record from free text:
//
//	ragline extract "John Doe was born on 1968-07-04 and lives in Springfield."
//
// # Environment Variables
//
//   - RAGLINE_CONFIG: path to the configuration file
//   - RAGLINE_*: override any configuration key, e.g. RAGLINE_BACKEND_URL
//
// # Exit Codes
//
//	0 ok
//	1 configuration or other error
//	2 backend unavailable or failed with a 5xx status, or a backend or store call timed out
//	3 structured extraction failed
//	4 tool loop exceeded its round limit
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/ragline/internal/agent"
	"github.com/haasonsaas/ragline/internal/assistant"
	"github.com/haasonsaas/ragline/internal/config"
	"github.com/haasonsaas/ragline/internal/ollama"
	"github.com/haasonsaas/ragline/internal/rag/store"
)

// Build information, populated by ldflags:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const configEnv = "RAGLINE_CONFIG"

// Exit codes.
const (
	exitOK = iota
	exitError
	exitBackend
	exitExtraction
	exitToolLoop
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := buildRootCmd()
	err := rootCmd.ExecuteContext(ctx)
	stop()
	os.Exit(reportError(os.Stderr, err))
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	var configPath string
	rootCmd := &cobra.Command{
		Use:   "ragline",
		Short: "ragline - retrieval-augmented chat for Ollama",
		Long: `ragline answers questions over your documents with a local Ollama server.

It ingests text files into an embedding store (memory, sqlite or postgres
with pgvector), injects the most relevant segments into each question, keeps
per-session chat memory, calls tools and extracts structured records.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (or set "+configEnv+")")

	rootCmd.AddCommand(
		buildChatCmd(&configPath),
		buildAskCmd(&configPath),
		buildExtractCmd(&configPath),
		buildIngestCmd(&configPath),
		buildSearchCmd(&configPath),
		buildModelsCmd(&configPath),
		buildConfigCmd(&configPath),
		buildVersionCmd(),
	)
	return rootCmd
}

// exitCode maps an error to the process exit status.
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var backendErr *ollama.BackendError
	switch {
	case config.IsConfigError(err):
		return exitError
	case assistant.IsExtractionError(err):
		return exitExtraction
	case errors.Is(err, agent.ErrToolLoopOverflow):
		return exitToolLoop
	case errors.Is(err, ollama.ErrUnavailable), isTimeout(err):
		return exitBackend
	case errors.As(err, &backendErr) && backendErr.Retryable():
		return exitBackend
	default:
		return exitError
	}
}

// isTimeout reports backend and store timeouts alike.
func isTimeout(err error) bool {
	return ollama.IsTimeout(err) || store.IsTimeout(err)
}

// errorKind names the error class printed before the message.
func errorKind(err error) string {
	var (
		backendErr *ollama.BackendError
		toolErr    *agent.ToolError
	)
	switch {
	case config.IsConfigError(err):
		return "config error"
	case assistant.IsExtractionError(err):
		return "extraction error"
	case errors.Is(err, agent.ErrToolLoopOverflow):
		return "tool loop overflow"
	case errors.As(err, &toolErr):
		return "tool error"
	case errors.Is(err, ollama.ErrUnavailable):
		return "backend unavailable"
	case isTimeout(err):
		return "timeout"
	case errors.As(err, &backendErr):
		return "backend error"
	default:
		return "error"
	}
}

// reportError prints err as one line, logs the chain and returns the exit
// code.
func reportError(w io.Writer, err error) int {
	if err == nil {
		return exitOK
	}
	slog.Debug("command failed", "error", err)
	fmt.Fprintf(w, "%s: %v\n", errorKind(err), err)
	return exitCode(err)
}
