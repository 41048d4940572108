package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/nexus/internal/engine"
	"github.com/dshills/nexus/pkg/types"
)

var (
	flagIndexStore string
	flagIndexRoot  string
	flagBatchSize  int
	flagDelete     bool
	flagRoute      bool
)

var indexCmd = &cobra.Command{
	Use:   "index [paths...]",
	Short: "Index files into a store, or a whole registered project",
	Long: `With paths, index (or with --delete, forget) those files into --store.
With --route, send each path to the registered project containing it.
Without paths, run a full pass over the registered project named by --store.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, eng *engine.Engine) error {
			out := cmd.OutOrStdout()
			start := time.Now()

			if len(args) == 0 {
				if flagIndexStore == "" || flagIndexStore == engine.GlobalStore {
					return fmt.Errorf("a project name is required with --store when no paths are given")
				}
				stats, err := eng.IndexProject(ctx, flagIndexStore)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Indexed %s in %s\n", flagIndexStore, stats.Duration.Round(time.Millisecond))
				fmt.Fprintf(out, "  Files:      %d indexed, %d unchanged, %d failed, %d deleted\n",
					stats.FilesIndexed, stats.FilesSkipped, stats.FilesFailed, stats.FilesDeleted)
				fmt.Fprintf(out, "  Chunks:     %d\n", stats.ChunksCreated)
				fmt.Fprintf(out, "  Embeddings: %d\n", stats.EmbeddingsCreated)
				for _, msg := range stats.ErrorMessages {
					fmt.Fprintf(out, "  error: %s\n", msg)
				}
				return nil
			}

			root := flagIndexRoot
			if root == "" {
				root = "."
			}
			if flagRoute {
				routed, err := eng.IndexRouted(ctx, args, root)
				if err != nil {
					return err
				}
				for store, results := range routed {
					fmt.Fprintf(out, "[%s]\n", store)
					printFileResults(out, results)
				}
				return nil
			}

			index := eng.IndexFiles
			if flagDelete {
				index = func(ctx context.Context, store string, paths []string, root string, _ int) ([]types.FileResult, error) {
					return eng.DeleteFiles(ctx, store, paths, root)
				}
			}
			results, err := index(ctx, flagIndexStore, args, root, flagBatchSize)
			if err != nil {
				return err
			}

			failed := printFileResults(out, results)
			fmt.Fprintf(out, "\n%d files, %d failed, %s\n", len(results), failed, time.Since(start).Round(time.Millisecond))
			return nil
		})
	},
}

// printFileResults writes one line per file and returns the failure count
func printFileResults(w io.Writer, results []types.FileResult) int {
	failed := 0
	for _, r := range results {
		switch {
		case !r.Success:
			failed++
			fmt.Fprintf(w, "FAIL  %s: %s\n", r.Path, r.ErrorString())
		case r.Skipped:
			fmt.Fprintf(w, "SKIP  %s\n", r.Path)
		default:
			fmt.Fprintf(w, "OK    %s (%d chunks)\n", r.Path, r.Chunks)
		}
	}
	return failed
}

func init() {
	indexCmd.Flags().StringVar(&flagIndexStore, "store", "", "project name, or global (default global)")
	indexCmd.Flags().StringVar(&flagIndexRoot, "root", "", "root the paths are relative to (default .)")
	indexCmd.Flags().IntVar(&flagBatchSize, "batch-size", 0, "files per transaction (default index.batch_size)")
	indexCmd.Flags().BoolVar(&flagDelete, "delete", false, "remove the paths from the store instead")
	indexCmd.Flags().BoolVar(&flagRoute, "route", false, "index each path into the project containing it")
	rootCmd.AddCommand(indexCmd)
}
