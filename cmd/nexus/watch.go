package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/nexus/internal/engine"
)

var (
	flagWatchStore    string
	flagWatchDebounce time.Duration
	flagWatchPatterns []string
)

var watchCmd = &cobra.Command{
	Use:   "watch [root]",
	Short: "Watch a directory and index changes until interrupted",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root := "."
		if len(args) == 1 {
			root = args[0]
		}
		return withEngine(cmd, func(ctx context.Context, eng *engine.Engine) error {
			err := eng.WatcherStart(ctx, engine.WatchOptions{
				Store:    flagWatchStore,
				Root:     root,
				Debounce: flagWatchDebounce,
				Patterns: flagWatchPatterns,
			})
			if err != nil {
				return err
			}
			status := eng.WatcherStatus()
			fmt.Fprintf(cmd.OutOrStdout(), "watching %d directories into %s, press Ctrl-C to stop\n", status.WatchedPaths, status.Store)

			<-ctx.Done()
			if err := eng.WatcherStop(); err != nil {
				return err
			}
			status = eng.WatcherStatus()
			fmt.Fprintf(cmd.OutOrStdout(), "stopped after %d flushes\n", status.FlushCount)
			return nil
		})
	},
}

func init() {
	watchCmd.Flags().StringVar(&flagWatchStore, "store", "", "project name or global (default detected from root)")
	watchCmd.Flags().DurationVar(&flagWatchDebounce, "debounce", 0, "quiet period before a flush (default watch.debounce)")
	watchCmd.Flags().StringSliceVar(&flagWatchPatterns, "ignore", nil, "extra ignore patterns")
	rootCmd.AddCommand(watchCmd)
}
