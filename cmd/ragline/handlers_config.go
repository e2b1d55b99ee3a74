package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/haasonsaas/ragline/internal/config"
)

func runConfigSchema(cmd *cobra.Command) error {
	schema, err := config.JSONSchema()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(schema))
	return err
}

func runConfigShow(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(resolveConfigPath(configPath))
	if err != nil {
		return err
	}
	redacted := *cfg
	if redacted.Store.Password != "" {
		redacted.Store.Password = "[REDACTED]"
	}
	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	if err := enc.Encode(&redacted); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return enc.Close()
}

func runConfigEnv(cmd *cobra.Command) error {
	out := cmd.OutOrStdout()
	for _, name := range config.EnvVars() {
		fmt.Fprintln(out, name)
	}
	return nil
}
