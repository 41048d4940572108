package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/nexus/internal/engine"
	"github.com/dshills/nexus/internal/storage"
)

var (
	flagMemoryStore  string
	flagMemoryType   string
	flagMemoryTags   []string
	flagMaxTokens    int
	flagMemoryLimit  int
	flagPatternLimit int

	flagPatternDesc    string
	flagPatternExample string
	flagPatternLang    string
)

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Store and recall notes and code patterns",
}

var memoryAddCmd = &cobra.Command{
	Use:   "add <content>",
	Short: "Store a memory, compressed to --max-tokens",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m := &storage.Memory{
			Type:    flagMemoryType,
			Content: strings.Join(args, " "),
			Tags:    flagMemoryTags,
		}
		return withEngine(cmd, func(ctx context.Context, eng *engine.Engine) error {
			if err := eng.AddMemory(ctx, flagMemoryStore, m, flagMaxTokens); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%d tokens)\n", m.ID, m.TokenCount)
			return nil
		})
	},
}

var memorySearchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search memories, most recent first without a query",
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		return withEngine(cmd, func(ctx context.Context, eng *engine.Engine) error {
			memories, err := eng.SearchMemories(ctx, flagMemoryStore, query, flagMemoryLimit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, m := range memories {
				fmt.Fprintf(out, "%s  %s", m.ID, m.CreatedAt.Local().Format(time.DateTime))
				if m.Type != "" {
					fmt.Fprintf(out, "  [%s]", m.Type)
				}
				if len(m.Tags) > 0 {
					fmt.Fprintf(out, "  #%s", strings.Join(m.Tags, " #"))
				}
				fmt.Fprintf(out, "\n    %s\n", m.Content)
			}
			return nil
		})
	},
}

var memoryDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a memory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, eng *engine.Engine) error {
			return eng.DeleteMemory(ctx, flagMemoryStore, args[0])
		})
	},
}

var patternAddCmd = &cobra.Command{
	Use:   "pattern-add <name>",
	Short: "Store a named code pattern",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p := &storage.Pattern{
			Name:        args[0],
			Description: flagPatternDesc,
			Example:     flagPatternExample,
			Language:    flagPatternLang,
		}
		return withEngine(cmd, func(ctx context.Context, eng *engine.Engine) error {
			if err := eng.AddPattern(ctx, flagMemoryStore, p); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), p.ID)
			return nil
		})
	},
}

var patternListCmd = &cobra.Command{
	Use:   "patterns",
	Short: "List stored code patterns",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, eng *engine.Engine) error {
			patterns, err := eng.ListPatterns(ctx, flagMemoryStore, flagPatternLimit)
			if err != nil {
				return err
			}
			for _, p := range patterns {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %s\n", p.ID, p.Name, p.Description)
			}
			return nil
		})
	},
}

func init() {
	memoryCmd.PersistentFlags().StringVar(&flagMemoryStore, "store", "", "project name or global (default global)")
	memoryAddCmd.Flags().StringVar(&flagMemoryType, "type", "", "memory type, e.g. decision or note")
	memoryAddCmd.Flags().StringSliceVar(&flagMemoryTags, "tag", nil, "tags")
	memoryAddCmd.Flags().IntVar(&flagMaxTokens, "max-tokens", 0, "compress content above this many tokens")
	memorySearchCmd.Flags().IntVar(&flagMemoryLimit, "limit", 10, "maximum results")
	patternListCmd.Flags().IntVar(&flagPatternLimit, "limit", 50, "maximum results")
	patternAddCmd.Flags().StringVar(&flagPatternDesc, "description", "", "what the pattern is for")
	patternAddCmd.Flags().StringVar(&flagPatternExample, "example", "", "example code")
	patternAddCmd.Flags().StringVar(&flagPatternLang, "language", "", "language of the example")
	memoryCmd.AddCommand(memoryAddCmd, memorySearchCmd, memoryDeleteCmd, patternAddCmd, patternListCmd)
	rootCmd.AddCommand(memoryCmd)
}
