package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// =============================================================================
// Conversation Commands
// =============================================================================

type chatFlags struct {
	session string
	model   string
	noRAG   bool
	tools   []string
}

func (f *chatFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.session, "session", "s", "", "Session ID (default \"default\")")
	cmd.Flags().StringVarP(&f.model, "model", "m", "", "Chat model (defaults to backend.model.chat)")
	cmd.Flags().BoolVar(&f.noRAG, "no-rag", false, "Disable retrieval from the embedding store")
	cmd.Flags().StringSliceVarP(&f.tools, "tools", "t", nil, "Tools to enable (builtin names, document_search or all; defaults to tools.builtin)")
}

// buildChatCmd creates the interactive "chat" command.
func buildChatCmd(configPath *string) *cobra.Command {
	var flags chatFlags
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		Long: `Start an interactive chat session. Each line is one turn.

Commands inside the session:
  /history   show the remembered conversation
  /reset     forget the conversation
  /exit      quit`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, *configPath, flags)
		},
	}
	flags.register(cmd)
	return cmd
}

// buildAskCmd creates the one-shot "ask" command.
func buildAskCmd(configPath *string) *cobra.Command {
	var (
		flags  chatFlags
		images []string
	)
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask one question and print the answer",
		Example: `  ragline ask "When was Nelly born?"
  ragline ask --image photo.png "What is in this picture?"
  ragline ask --no-rag --tools add,multiply "What is 1+2 and 3*4?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd, *configPath, flags, images, args)
		},
	}
	flags.register(cmd)
	cmd.Flags().StringSliceVar(&images, "image", nil, "Image file to attach (selects backend.model.image)")
	return cmd
}

// buildExtractCmd creates the "extract" command.
func buildExtractCmd(configPath *string) *cobra.Command {
	var (
		model  string
		prompt string
	)
	cmd := &cobra.Command{
		Use:   "extract <text>",
		Short: "Extract a person record from text as JSON",
		Example: `  ragline extract "In 1968, amidst the fading echoes of Independence Day, a child named John arrived..."
  echo "..." | ragline extract -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExtract(cmd, *configPath, model, prompt, args[0])
		},
	}
	cmd.Flags().StringVarP(&model, "model", "m", "", "Model (defaults to backend.model.instruct)")
	cmd.Flags().StringVar(&prompt, "prompt", "", "Prompt template; {{it}} receives the text")
	return cmd
}

// =============================================================================
// Document Commands
// =============================================================================

// buildIngestCmd creates the "ingest" command.
func buildIngestCmd(configPath *string) *cobra.Command {
	var (
		recursive bool
		glob      string
		watch     bool
	)
	cmd := &cobra.Command{
		Use:   "ingest <path>...",
		Short: "Load, split, embed and store documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd, *configPath, args, recursive, glob, watch)
		},
	}
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", true, "Descend into subdirectories")
	cmd.Flags().StringVar(&glob, "glob", "", "Only load files whose name matches this pattern")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Keep directories in sync until interrupted")
	return cmd
}

// buildSearchCmd creates the "search" command.
func buildSearchCmd(configPath *string) *cobra.Command {
	var (
		limit     int
		threshold float64
		filter    map[string]string
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search stored segments by similarity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var th *float64
			if cmd.Flags().Changed("threshold") {
				th = &threshold
			}
			return runSearch(cmd, *configPath, args[0], limit, th, filter)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum number of results (default 5)")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "Minimum relevance score from 0 to 1 (defaults to rag.minScore)")
	cmd.Flags().StringToStringVar(&filter, "filter", nil, "Metadata filter, e.g. file_name=nelly.txt")
	return cmd
}

// =============================================================================
// Model Commands
// =============================================================================

// buildModelsCmd creates the "models" command group.
func buildModelsCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "Manage models on the backend",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List installed models",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runModelsList(cmd, *configPath)
			},
		},
		&cobra.Command{
			Use:   "ps",
			Short: "List models loaded in memory",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runModelsPs(cmd, *configPath)
			},
		},
		&cobra.Command{
			Use:   "show <model>",
			Short: "Show model details",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runModelsShow(cmd, *configPath, args[0])
			},
		},
		&cobra.Command{
			Use:   "pull <model>",
			Short: "Download a model",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runModelsPull(cmd, *configPath, args[0])
			},
		},
		&cobra.Command{
			Use:   "push <model>",
			Short: "Upload a model to its registry",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runModelsPush(cmd, *configPath, args[0])
			},
		},
		&cobra.Command{
			Use:   "copy <source> <destination>",
			Short: "Copy a model under a new name",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runModelsCopy(cmd, *configPath, args[0], args[1])
			},
		},
		&cobra.Command{
			Use:     "rm <model>",
			Aliases: []string{"delete"},
			Short:   "Delete a model",
			Args:    cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runModelsDelete(cmd, *configPath, args[0])
			},
		},
	)
	return cmd
}

// =============================================================================
// Configuration Commands
// =============================================================================

// buildConfigCmd creates the "config" command group.
func buildConfigCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "schema",
			Short: "Print the configuration JSON schema",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runConfigSchema(cmd)
			},
		},
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective configuration as YAML",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runConfigShow(cmd, *configPath)
			},
		},
		&cobra.Command{
			Use:   "env",
			Short: "List the environment variables that override configuration keys",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runConfigEnv(cmd)
			},
		},
	)
	return cmd
}

// buildVersionCmd creates the "version" command.
func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "ragline %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}
