package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/ragline/internal/config"
	"github.com/haasonsaas/ragline/internal/rag/loader"
	ragtool "github.com/haasonsaas/ragline/internal/tools/rag"
)

func runIngest(cmd *cobra.Command, configPath string, paths []string, recursive bool, glob string, watch bool) error {
	ctx := cmd.Context()
	rt, err := newRuntime(ctx, configPath)
	if err != nil {
		return err
	}
	defer rt.Close()

	if rt.cfg.Store.Type == config.StoreMemory && strings.TrimSpace(rt.cfg.Store.Path) == "" && !watch {
		rt.logger.Warn("memory store has no store.path; ingested segments are discarded on exit")
	}

	mgr, err := rt.indexManager(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	var dirs []string
	for _, path := range paths {
		docs, err := loader.LoadDocuments(ctx, path, loader.Options{
			Recursive: recursive,
			Glob:      glob,
			Logger:    rt.logger,
		})
		if err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		res, err := mgr.Upsert(ctx, docs...)
		if err != nil {
			return fmt.Errorf("ingest %s: %w", path, err)
		}
		fmt.Fprintf(out, "Ingested %d documents (%d segments) from %s in %s\n",
			res.Documents, res.Segments, path, res.Duration.Round(time.Millisecond))

		if info, err := os.Stat(path); err == nil && info.IsDir() {
			dirs = append(dirs, path)
		}
	}

	if !watch {
		return nil
	}
	if len(dirs) == 0 {
		return errors.New("--watch requires at least one directory")
	}
	fmt.Fprintf(out, "Watching %s (Ctrl+C to stop)\n", strings.Join(dirs, ", "))
	return watchDirs(ctx, dirs, mgr.WatchDir)
}

// watchDirs runs watch for every dir until ctx is done and returns the
// first failure.
func watchDirs(ctx context.Context, dirs []string, watch func(context.Context, string) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	for _, dir := range dirs {
		wg.Add(1)
		go func(dir string) {
			defer wg.Done()
			if err := watch(ctx, dir); err != nil && !errors.Is(err, context.Canceled) {
				once.Do(func() {
					firstErr = fmt.Errorf("watch %s: %w", dir, err)
					cancel()
				})
			}
		}(dir)
	}
	wg.Wait()
	return firstErr
}

func runSearch(cmd *cobra.Command, configPath, query string, limit int, threshold *float64, filter map[string]string) error {
	ctx := cmd.Context()
	rt, err := newRuntime(ctx, configPath)
	if err != nil {
		return err
	}
	defer rt.Close()

	tool, err := rt.searchTool(ctx)
	if err != nil {
		return err
	}
	result, err := tool.Search(ctx, ragtool.SearchArgs{
		Query:     query,
		Limit:     limit,
		Threshold: threshold,
		Filter:    filter,
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), result)
	return nil
}
