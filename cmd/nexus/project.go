package main

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/nexus/internal/engine"
	"github.com/dshills/nexus/internal/registry"
)

var (
	flagDescription string
	flagJSON        bool
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage registered projects",
}

var projectRegisterCmd = &cobra.Command{
	Use:   "register <name> <root>",
	Short: "Register a project root and create its store",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, eng *engine.Engine) error {
			p, err := eng.RegisterProject(ctx, args[0], args[1], flagDescription)
			if err != nil {
				return err
			}
			return printProject(cmd, p)
		})
	},
}

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered projects",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, eng *engine.Engine) error {
			projects, err := eng.ListProjects(ctx)
			if err != nil {
				return err
			}
			if flagJSON {
				return writeJSON(cmd, projects)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tFILES\tCHUNKS\tMEMORIES\tLAST INDEXED\tROOT")
			for _, p := range projects {
				last := "never"
				if p.LastIndexedAt != nil {
					last = p.LastIndexedAt.Local().Format(time.DateTime)
				}
				fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%s\t%s\n", p.Name, p.FileCount, p.ChunkCount, p.MemoryCount, last, p.RootPath)
			}
			return tw.Flush()
		})
	},
}

var projectDetectCmd = &cobra.Command{
	Use:   "detect [path]",
	Short: "Show the project containing a path",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "."
		if len(args) == 1 {
			path = args[0]
		}
		return withEngine(cmd, func(ctx context.Context, eng *engine.Engine) error {
			p, err := eng.DetectProject(ctx, path)
			if err != nil {
				return err
			}
			return printProject(cmd, p)
		})
	},
}

var projectStatsCmd = &cobra.Command{
	Use:   "stats <name>",
	Short: "Recount a project's files, chunks, memories and patterns",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, eng *engine.Engine) error {
			p, err := eng.UpdateStats(ctx, args[0])
			if err != nil {
				return err
			}
			return printProject(cmd, p)
		})
	},
}

var projectRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Unregister a project and delete its store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, eng *engine.Engine) error {
			if err := eng.RemoveProject(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
			return nil
		})
	},
}

func printProject(cmd *cobra.Command, p *registry.Project) error {
	if flagJSON {
		return writeJSON(cmd, p)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Name:     %s\n", p.Name)
	fmt.Fprintf(out, "Root:     %s\n", p.RootPath)
	if p.Description != "" {
		fmt.Fprintf(out, "About:    %s\n", p.Description)
	}
	fmt.Fprintf(out, "Store:    %s\n", p.StorePath)
	fmt.Fprintf(out, "Files:    %d\n", p.FileCount)
	fmt.Fprintf(out, "Chunks:   %d\n", p.ChunkCount)
	fmt.Fprintf(out, "Memories: %d\n", p.MemoryCount)
	fmt.Fprintf(out, "Patterns: %d\n", p.PatternCount)
	return nil
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	projectRegisterCmd.Flags().StringVar(&flagDescription, "description", "", "project description")
	projectCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "print JSON")
	projectCmd.AddCommand(projectRegisterCmd, projectListCmd, projectDetectCmd, projectStatsCmd, projectRemoveCmd)
	rootCmd.AddCommand(projectCmd)
}
