package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/dshills/nexus/internal/engine"
)

var flagStatusStore string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the counters of one store",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, eng *engine.Engine) error {
			stats, err := eng.Stats(ctx, flagStatusStore)
			if err != nil {
				return err
			}
			store := flagStatusStore
			if store == "" {
				store = engine.GlobalStore
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Store:      %s\n", store)
			fmt.Fprintf(out, "Files:      %d\n", stats.Files)
			fmt.Fprintf(out, "Chunks:     %d\n", stats.Chunks)
			fmt.Fprintf(out, "Embeddings: %d\n", stats.Embeddings)
			fmt.Fprintf(out, "Memories:   %d\n", stats.Memories)
			fmt.Fprintf(out, "Patterns:   %d\n", stats.Patterns)
			fmt.Fprintf(out, "Size:       %.2f MB\n", float64(stats.SizeBytes)/(1024*1024))

			langs := make([]string, 0, len(stats.Languages))
			for lang := range stats.Languages {
				langs = append(langs, lang)
			}
			sort.Strings(langs)
			for _, lang := range langs {
				fmt.Fprintf(out, "  %-12s %d\n", lang, stats.Languages[lang])
			}
			return nil
		})
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop the indexed files and chunks of one store, keeping memories",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, eng *engine.Engine) error {
			return eng.ClearIndex(ctx, flagStatusStore)
		})
	},
}

func init() {
	statusCmd.Flags().StringVar(&flagStatusStore, "store", "", "project name or global (default global)")
	clearCmd.Flags().StringVar(&flagStatusStore, "store", "", "project name or global (default global)")
	rootCmd.AddCommand(statusCmd, clearCmd)
}
