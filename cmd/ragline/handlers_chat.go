package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/haasonsaas/ragline/internal/assistant"
	"github.com/haasonsaas/ragline/pkg/models"
)

var (
	userLabel      = color.New(color.FgGreen, color.Bold).SprintFunc()
	assistantLabel = color.New(color.FgCyan, color.Bold).SprintFunc()
	toolLabel      = color.New(color.FgYellow).SprintFunc()
	dimText        = color.New(color.Faint).SprintFunc()
)

func (f chatFlags) assistantOptions(rt *runtime) assistantOptions {
	tools := f.tools
	if len(tools) == 0 {
		tools = rt.cfg.Tools.Builtin
	}
	return assistantOptions{Model: f.model, RAG: !f.noRAG, Tools: tools}
}

func runChat(cmd *cobra.Command, configPath string, flags chatFlags) error {
	ctx := cmd.Context()
	rt, err := newRuntime(ctx, configPath)
	if err != nil {
		return err
	}
	defer rt.Close()

	a, err := rt.assistant(ctx, flags.assistantOptions(rt))
	if err != nil {
		return err
	}
	return chatLoop(ctx, a, flags.session, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
}

// chatLoop reads one turn per line until EOF, /exit or cancellation. Turn
// errors are reported and the session continues.
func chatLoop(ctx context.Context, a *assistant.Assistant, session string, in io.Reader, out, errOut io.Writer) error {
	if session == "" {
		session = assistant.DefaultSessionID
	}
	interactive := isTerminal(in)
	if interactive {
		fmt.Fprintln(out, userLabel("ragline chat"))
		if names := toolNames(a); len(names) > 0 {
			fmt.Fprintf(out, "Tools: %s\n", assistantLabel(strings.Join(names, ", ")))
		}
		fmt.Fprintln(out, "Type your message and press Enter. Type /exit or press Ctrl+D to quit.")
		fmt.Fprintln(out)
	}

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for {
		if interactive {
			fmt.Fprint(out, userLabel("You: "))
		}
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/exit", "/quit", "exit":
			return nil
		case "/reset":
			a.EndSession(session)
			fmt.Fprintln(out, dimText("(conversation cleared)"))
			continue
		case "/history":
			printHistory(out, a.History(session))
			continue
		}

		resp, err := a.Do(ctx, &assistant.ChatRequest{SessionID: session, Text: line})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(errOut, "%s: %v\n", errorKind(err), err)
			continue
		}
		for _, call := range resp.ToolCalls {
			fmt.Fprintf(out, "%s %s(%s)\n", toolLabel("tool"), call.Name, string(call.Input))
		}
		if interactive {
			fmt.Fprint(out, assistantLabel("Assistant: "))
		}
		fmt.Fprintln(out, resp.Answer)
		if interactive {
			fmt.Fprintln(out)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	return nil
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func toolNames(a *assistant.Assistant) []string {
	descs := a.Tools()
	names := make([]string, len(descs))
	for i, d := range descs {
		names[i] = d.Name
	}
	return names
}

func printHistory(out io.Writer, msgs []models.ChatMessage) {
	for _, m := range msgs {
		switch m.Role {
		case models.RoleToolCall:
			for _, call := range m.ToolCalls {
				fmt.Fprintf(out, "%s %s(%s)\n", toolLabel("tool_call"), call.Name, string(call.Input))
			}
		case models.RoleToolResult:
			fmt.Fprintf(out, "%s %s\n", toolLabel("tool_result"), m.Content)
		default:
			fmt.Fprintf(out, "%s %s\n", dimText(string(m.Role)+":"), m.Content)
		}
	}
}

func runAsk(cmd *cobra.Command, configPath string, flags chatFlags, imagePaths, args []string) error {
	ctx := cmd.Context()
	question := strings.TrimSpace(strings.Join(args, " "))
	if question == "" {
		return errors.New("question is required")
	}

	images := make([][]byte, 0, len(imagePaths))
	for _, path := range imagePaths {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read image: %w", err)
		}
		images = append(images, data)
	}

	rt, err := newRuntime(ctx, configPath)
	if err != nil {
		return err
	}
	defer rt.Close()

	opts := flags.assistantOptions(rt)
	if len(images) > 0 && opts.Model == "" {
		opts.Model = rt.cfg.Backend.Model.Image
	}
	a, err := rt.assistant(ctx, opts)
	if err != nil {
		return err
	}

	resp, err := a.Do(ctx, &assistant.ChatRequest{
		SessionID: flags.session,
		Text:      question,
		Images:    images,
	})
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, call := range resp.ToolCalls {
		fmt.Fprintf(cmd.ErrOrStderr(), "%s %s(%s)\n", toolLabel("tool"), call.Name, string(call.Input))
	}
	fmt.Fprintln(out, resp.Answer)
	return nil
}

func runExtract(cmd *cobra.Command, configPath, model, prompt, text string) error {
	ctx := cmd.Context()
	if text == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}
		text = string(data)
	}
	if strings.TrimSpace(text) == "" {
		return errors.New("text is required")
	}

	rt, err := newRuntime(ctx, configPath)
	if err != nil {
		return err
	}
	defer rt.Close()

	if model == "" {
		model = rt.cfg.Backend.Model.Instruct
	}
	opts := []assistant.Option{
		assistant.WithModel(model),
		assistant.WithLogger(rt.logger),
		assistant.WithMetrics(rt.metrics),
	}
	if prompt != "" {
		opts = append(opts, assistant.WithExtractPrompt(prompt))
	}
	if t := rt.cfg.Backend.Temperature; t != nil {
		opts = append(opts, assistant.WithTemperature(*t))
	}
	a, err := assistant.New(rt.provider(), opts...)
	if err != nil {
		return err
	}

	person, err := assistant.ExtractInto[assistant.Person](ctx, a, text)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(person)
}
