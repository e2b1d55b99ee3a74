package ollama

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ollama/ollama/api"
)

const latestTag = ":latest"

// ModelInfo describes a locally installed model.
type ModelInfo struct {
	Name       string    `json:"name"`
	Model      string    `json:"model"`
	Size       int64     `json:"size"`
	HumanSize  string    `json:"human_size"`
	Digest     string    `json:"digest"`
	ModifiedAt time.Time `json:"modified_at"`
}

// RunningModel describes a model currently loaded in memory.
type RunningModel struct {
	Name      string    `json:"name"`
	Model     string    `json:"model"`
	Size      int64     `json:"size"`
	HumanSize string    `json:"human_size"`
	SizeVRAM  int64     `json:"size_vram"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ModelDetails is the subset of /api/show the CLI reports.
type ModelDetails struct {
	Name              string         `json:"name"`
	Family            string         `json:"family,omitempty"`
	Format            string         `json:"format,omitempty"`
	ParameterSize     string         `json:"parameter_size,omitempty"`
	QuantizationLevel string         `json:"quantization_level,omitempty"`
	Parameters        string         `json:"parameters,omitempty"`
	Template          string         `json:"template,omitempty"`
	System            string         `json:"system,omitempty"`
	ModelInfo         map[string]any `json:"model_info,omitempty"`
}

// DisplayName strips the implicit ":latest" tag.
func DisplayName(name string) string {
	return strings.TrimSuffix(name, latestTag)
}

// ListLocalModels returns installed models sorted by display name.
func (c *Client) ListLocalModels(ctx context.Context) ([]ModelInfo, error) {
	start := time.Now()
	resp, err := c.api.List(ctx)
	err = Classify("list", err)
	c.observe("list", "", start, err)
	if err != nil {
		return nil, err
	}

	out := make([]ModelInfo, 0, len(resp.Models))
	for _, m := range resp.Models {
		out = append(out, ModelInfo{
			Name:       DisplayName(m.Name),
			Model:      m.Model,
			Size:       m.Size,
			HumanSize:  HumanSize(m.Size),
			Digest:     m.Digest,
			ModifiedAt: m.ModifiedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ListRunningModels returns models currently loaded by the server.
func (c *Client) ListRunningModels(ctx context.Context) ([]RunningModel, error) {
	start := time.Now()
	resp, err := c.api.ListRunning(ctx)
	err = Classify("ps", err)
	c.observe("ps", "", start, err)
	if err != nil {
		return nil, err
	}

	out := make([]RunningModel, 0, len(resp.Models))
	for _, m := range resp.Models {
		out = append(out, RunningModel{
			Name:      DisplayName(m.Name),
			Model:     m.Model,
			Size:      m.Size,
			HumanSize: HumanSize(m.Size),
			SizeVRAM:  m.SizeVRAM,
			ExpiresAt: m.ExpiresAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ShowModel returns details about one model.
func (c *Client) ShowModel(ctx context.Context, name string) (*ModelDetails, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errors.New("ollama show: model name is required")
	}

	start := time.Now()
	resp, err := c.api.Show(ctx, &api.ShowRequest{Model: name})
	err = Classify("show", err)
	c.observe("show", name, start, err)
	if err != nil {
		return nil, err
	}

	return &ModelDetails{
		Name:              DisplayName(name),
		Family:            resp.Details.Family,
		Format:            resp.Details.Format,
		ParameterSize:     resp.Details.ParameterSize,
		QuantizationLevel: resp.Details.QuantizationLevel,
		Parameters:        resp.Parameters,
		Template:          resp.Template,
		System:            resp.System,
		ModelInfo:         resp.ModelInfo,
	}, nil
}

// PullModel downloads a model and blocks until the server reports success.
func (c *Client) PullModel(ctx context.Context, name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("ollama pull: model name is required")
	}

	stream := false
	start := time.Now()
	c.logger.Info("pulling model", "model", name)
	err := c.api.Pull(ctx, &api.PullRequest{Model: name, Stream: &stream}, func(p api.ProgressResponse) error {
		c.logger.Debug("pull progress", "model", name, "status", p.Status, "completed", p.Completed, "total", p.Total)
		return nil
	})
	err = Classify("pull", err)
	c.observe("pull", name, start, err)
	return err
}

// PushModel uploads a model to its registry and blocks until done.
func (c *Client) PushModel(ctx context.Context, name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("ollama push: model name is required")
	}

	stream := false
	start := time.Now()
	err := c.api.Push(ctx, &api.PushRequest{Model: name, Stream: &stream}, func(p api.ProgressResponse) error {
		c.logger.Debug("push progress", "model", name, "status", p.Status)
		return nil
	})
	err = Classify("push", err)
	c.observe("push", name, start, err)
	return err
}

// CopyModel creates dst as a copy of src.
func (c *Client) CopyModel(ctx context.Context, src, dst string) error {
	if strings.TrimSpace(src) == "" || strings.TrimSpace(dst) == "" {
		return errors.New("ollama copy: source and destination are required")
	}

	start := time.Now()
	err := Classify("copy", c.api.Copy(ctx, &api.CopyRequest{Source: src, Destination: dst}))
	c.observe("copy", src, start, err)
	return err
}

// DeleteModel removes a local model.
func (c *Client) DeleteModel(ctx context.Context, name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("ollama delete: model name is required")
	}

	start := time.Now()
	err := Classify("delete", c.api.Delete(ctx, &api.DeleteRequest{Model: name}))
	c.observe("delete", name, start, err)
	return err
}

// EnsureModelAvailable pulls name unless it is already installed. An empty
// name is ignored. Calls for the same name are serialized, so concurrent
// callers trigger at most one pull.
func (c *Client) EnsureModelAvailable(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}

	mu := c.ensureLock(name)
	mu.Lock()
	defer mu.Unlock()

	installed, err := c.ListLocalModels(ctx)
	if err != nil {
		return err
	}
	if hasModel(installed, name) {
		return nil
	}
	return c.PullModel(ctx, name)
}

// EnsureModels ensures each name in turn, logging failures instead of
// returning them.
func (c *Client) EnsureModels(ctx context.Context, names ...string) {
	for _, name := range names {
		if err := c.EnsureModelAvailable(ctx, name); err != nil {
			c.logger.Error("model import failed", "model", name, "error", err)
		}
	}
}

func (c *Client) ensureLock(name string) *sync.Mutex {
	key := DisplayName(name)
	c.ensureMu.Lock()
	defer c.ensureMu.Unlock()
	mu, ok := c.ensuring[key]
	if !ok {
		mu = &sync.Mutex{}
		c.ensuring[key] = mu
	}
	return mu
}

func hasModel(models []ModelInfo, name string) bool {
	want := DisplayName(name)
	for _, m := range models {
		if m.Name == want || DisplayName(m.Model) == want {
			return true
		}
	}
	return false
}
