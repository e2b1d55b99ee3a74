package main

import (
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/haasonsaas/ragline/internal/ollama"
)

var okLabel = color.New(color.FgGreen).SprintFunc()

// backendClient loads configuration and returns only the backend client.
func backendClient(cmd *cobra.Command, configPath string) (*runtime, *ollama.Client, error) {
	rt, err := newRuntime(cmd.Context(), configPath)
	if err != nil {
		return nil, nil, err
	}
	return rt, rt.client, nil
}

func runModelsList(cmd *cobra.Command, configPath string) error {
	rt, client, err := backendClient(cmd, configPath)
	if err != nil {
		return err
	}
	defer rt.Close()

	list, err := client.ListLocalModels(cmd.Context())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(list) == 0 {
		fmt.Fprintln(out, "No models installed.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSIZE\tMODIFIED")
	for _, m := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\n", m.Name, m.HumanSize, formatAge(m.ModifiedAt))
	}
	return w.Flush()
}

func runModelsPs(cmd *cobra.Command, configPath string) error {
	rt, client, err := backendClient(cmd, configPath)
	if err != nil {
		return err
	}
	defer rt.Close()

	list, err := client.ListRunningModels(cmd.Context())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(list) == 0 {
		fmt.Fprintln(out, "No models loaded.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSIZE\tVRAM\tUNTIL")
	for _, m := range list {
		until := "-"
		if !m.ExpiresAt.IsZero() {
			until = m.ExpiresAt.Local().Format(time.DateTime)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", m.Name, m.HumanSize, ollama.HumanSize(m.SizeVRAM), until)
	}
	return w.Flush()
}

func runModelsShow(cmd *cobra.Command, configPath, name string) error {
	rt, client, err := backendClient(cmd, configPath)
	if err != nil {
		return err
	}
	defer rt.Close()

	details, err := client.ShowModel(cmd.Context(), name)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "Model:\t%s\n", details.Name)
	for _, row := range [][2]string{
		{"Family", details.Family},
		{"Format", details.Format},
		{"Parameters", details.ParameterSize},
		{"Quantization", details.QuantizationLevel},
	} {
		if row[1] != "" {
			fmt.Fprintf(w, "%s:\t%s\n", row[0], row[1])
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if len(details.ModelInfo) > 0 {
		keys := make([]string, 0, len(details.ModelInfo))
		for k := range details.ModelInfo {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintln(out, "\nModel info:")
		for _, k := range keys {
			fmt.Fprintf(out, "  %s: %v\n", k, details.ModelInfo[k])
		}
	}
	if p := strings.TrimSpace(details.Parameters); p != "" {
		fmt.Fprintln(out, "\nParameters:")
		for _, line := range strings.Split(p, "\n") {
			fmt.Fprintf(out, "  %s\n", strings.TrimSpace(line))
		}
	}
	return nil
}

func runModelsPull(cmd *cobra.Command, configPath, name string) error {
	rt, client, err := backendClient(cmd, configPath)
	if err != nil {
		return err
	}
	defer rt.Close()

	fmt.Fprintf(cmd.OutOrStdout(), "Pulling %s...\n", name)
	if err := client.PullModel(cmd.Context(), name); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", okLabel("Pulled"), name)
	return nil
}

func runModelsPush(cmd *cobra.Command, configPath, name string) error {
	rt, client, err := backendClient(cmd, configPath)
	if err != nil {
		return err
	}
	defer rt.Close()

	fmt.Fprintf(cmd.OutOrStdout(), "Pushing %s...\n", name)
	if err := client.PushModel(cmd.Context(), name); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", okLabel("Pushed"), name)
	return nil
}

func runModelsCopy(cmd *cobra.Command, configPath, src, dst string) error {
	rt, client, err := backendClient(cmd, configPath)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := client.CopyModel(cmd.Context(), src, dst); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s to %s\n", okLabel("Copied"), src, dst)
	return nil
}

func runModelsDelete(cmd *cobra.Command, configPath, name string) error {
	rt, client, err := backendClient(cmd, configPath)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := client.DeleteModel(cmd.Context(), name); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", okLabel("Deleted"), name)
	return nil
}

// formatAge renders t relative to now, e.g. "3 days ago".
func formatAge(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return plural(int(d/time.Minute), "minute") + " ago"
	case d < 24*time.Hour:
		return plural(int(d/time.Hour), "hour") + " ago"
	case d < 30*24*time.Hour:
		return plural(int(d/(24*time.Hour)), "day") + " ago"
	default:
		return t.Local().Format(time.DateOnly)
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
