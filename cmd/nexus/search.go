package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/nexus/internal/engine"
	"github.com/dshills/nexus/internal/federation"
	"github.com/dshills/nexus/internal/searcher"
	"github.com/dshills/nexus/pkg/types"
)

var (
	flagSearchStore   string
	flagSearchMode    string
	flagSearchLimit   int
	flagSearchOffset  int
	flagSearchScope   string
	flagSearchProject string
	flagSearchLang    string
	flagSearchPattern string
	flagSearchKinds   []string
	flagMinScore      float64
	flagShowContent   bool
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search one store, or several with --scope",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		opts := engine.SearchOptions{
			Limit:       flagSearchLimit,
			Offset:      flagSearchOffset,
			Mode:        searcher.Mode(flagSearchMode),
			Language:    flagSearchLang,
			FilePattern: flagSearchPattern,
			MinScore:    flagMinScore,
		}
		for _, k := range flagSearchKinds {
			opts.Kinds = append(opts.Kinds, types.Kind(k))
		}

		return withEngine(cmd, func(ctx context.Context, eng *engine.Engine) error {
			out := cmd.OutOrStdout()

			if flagSearchScope != "" {
				res, err := eng.FederatedQuery(ctx, query, federation.Request{
					Scope:   federation.Scope(flagSearchScope),
					Project: flagSearchProject,
				}, opts)
				if err != nil {
					return err
				}
				printResults(out, res.Results)
				fmt.Fprintf(out, "\nglobal: %d", res.Sources.Global)
				for _, p := range res.Sources.Projects {
					fmt.Fprintf(out, ", %s: %d", p.Name, p.Count)
				}
				fmt.Fprintln(out)
				for _, s := range res.Skipped {
					fmt.Fprintf(out, "skipped %s\n", s.Error())
				}
				if res.Degraded {
					fmt.Fprintln(out, "semantic search unavailable, keyword results returned")
				}
				return nil
			}

			opts.Project = flagSearchProject
			var (
				resp *searcher.SearchResponse
				err  error
			)
			switch opts.Mode {
			case searcher.ModeSemantic:
				resp, err = eng.SemanticSearch(ctx, flagSearchStore, query, opts)
			case searcher.ModeHybrid:
				resp, err = eng.HybridSearch(ctx, flagSearchStore, query, opts)
			default:
				resp, err = eng.Search(ctx, flagSearchStore, query, opts)
			}
			if err != nil {
				return err
			}
			printResults(out, resp.Results)
			fmt.Fprintf(out, "\n%d of %d results, %s mode, %s\n",
				len(resp.Results), resp.TotalResults, resp.Mode, resp.Duration.Round(time.Microsecond))
			if resp.Degraded {
				fmt.Fprintf(out, "degraded: %s\n", resp.DegradedReason)
			}
			return nil
		})
	},
}

func printResults(w io.Writer, results []types.SearchResult) {
	for _, r := range results {
		loc := ""
		if r.File != nil {
			loc = fmt.Sprintf("%s:%d-%d", r.File.Path, r.File.StartLine, r.File.EndLine)
		}
		source := ""
		if r.Source != "" {
			source = "[" + r.Source + "] "
		}
		fmt.Fprintf(w, "%3d. %s%s  %.4f", r.Rank, source, loc, r.Score)
		if r.Symbol != "" {
			fmt.Fprintf(w, "  %s %s", r.Kind, r.Symbol)
		}
		fmt.Fprintln(w)
		if flagShowContent {
			for _, line := range strings.Split(strings.TrimRight(r.Content, "\n"), "\n") {
				fmt.Fprintf(w, "      %s\n", line)
			}
		}
	}
}

func init() {
	searchCmd.Flags().StringVar(&flagSearchStore, "store", "", "project name, or global (default global)")
	searchCmd.Flags().StringVar(&flagSearchMode, "mode", "", "keyword, semantic, hybrid or smart")
	searchCmd.Flags().IntVar(&flagSearchLimit, "limit", 10, "maximum results")
	searchCmd.Flags().IntVar(&flagSearchOffset, "offset", 0, "results to skip")
	searchCmd.Flags().StringVar(&flagSearchScope, "scope", "", "federate across stores: repo, branch, ticket, feature, global or all")
	searchCmd.Flags().StringVar(&flagSearchProject, "project", "", "restrict to one project")
	searchCmd.Flags().StringVar(&flagSearchLang, "language", "", "filter by language")
	searchCmd.Flags().StringVar(&flagSearchPattern, "file-pattern", "", "filter by file glob")
	searchCmd.Flags().StringSliceVar(&flagSearchKinds, "kind", nil, "filter by symbol kind")
	searchCmd.Flags().Float64Var(&flagMinScore, "min-score", 0, "drop results scoring below this")
	searchCmd.Flags().BoolVar(&flagShowContent, "content", false, "print chunk content")
	rootCmd.AddCommand(searchCmd)
}
