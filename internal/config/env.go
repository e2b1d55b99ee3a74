package config

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// EnvPrefix starts every environment override.
const EnvPrefix = "RAGLINE_"

// envKeys maps override variables to config key paths. Variables are the
// upper-cased path joined with underscores, hyphens included.
var envKeys = map[string][]string{}

func init() {
	for _, path := range [][]string{
		{"backend", "url"},
		{"backend", "api"},
		{"backend", "timeout"},
		{"backend", "max-connections"},
		{"backend", "temperature"},
		{"backend", "model", "chat"},
		{"backend", "model", "image"},
		{"backend", "model", "instruct"},
		{"backend", "model", "embedding"},
		{"backend", "model", "embedding-dimension"},
		{"backend", "model", "auto-import"},
		{"store", "type"},
		{"store", "host"},
		{"store", "port"},
		{"store", "database"},
		{"store", "user"},
		{"store", "password"},
		{"store", "sslmode"},
		{"store", "table"},
		{"store", "dimension"},
		{"store", "path"},
		{"rag", "maxResults"},
		{"rag", "minScore"},
		{"rag", "embedder"},
		{"chat", "systemMessage"},
		{"logging", "level"},
		{"logging", "format"},
		{"metrics", "addr"},
		{"tracing", "endpoint"},
	} {
		envKeys[envName(path)] = path
	}
}

func envName(path []string) string {
	name := strings.Join(path, "_")
	name = strings.ReplaceAll(name, "-", "_")
	return EnvPrefix + strings.ToUpper(name)
}

// EnvVars returns the supported override variable names, sorted.
func EnvVars() []string {
	names := make([]string, 0, len(envKeys))
	for name := range envKeys {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// applyEnvOverrides sets raw keys from RAGLINE_* variables in environ.
// Values are parsed as YAML scalars so numbers and booleans keep their type.
func applyEnvOverrides(raw map[string]any, environ []string) error {
	for _, kv := range environ {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, EnvPrefix) {
			continue
		}
		path, known := envKeys[name]
		if !known {
			continue
		}

		var typed any = value
		var parsed any
		if err := yaml.Unmarshal([]byte(value), &parsed); err == nil {
			switch parsed.(type) {
			case int, float64, bool:
				typed = parsed
			}
		}
		if err := setPath(raw, path, typed); err != nil {
			return &ConfigError{Path: strings.Join(path, "."), Err: err}
		}
	}
	return nil
}

func setPath(raw map[string]any, path []string, value any) error {
	node := raw
	for _, key := range path[:len(path)-1] {
		child, ok := node[key]
		if !ok || child == nil {
			next := map[string]any{}
			node[key] = next
			node = next
			continue
		}
		next, ok := child.(map[string]any)
		if !ok {
			return fmt.Errorf("%s is not a mapping", key)
		}
		node = next
	}
	node[path[len(path)-1]] = value
	return nil
}
