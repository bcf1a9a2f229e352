package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/lazypower/dermagraph/internal/access"
	"github.com/lazypower/dermagraph/internal/atom"
	"github.com/lazypower/dermagraph/internal/engine"
)

const queryTimeout = 30 * time.Second

// withEngine runs fn against a freshly wired engine at the --access level.
func withEngine(cmd *cobra.Command, fn func(ctx context.Context, eng *engine.Engine, level access.Level) error) error {
	level, err := accessLevel()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	eng, err := a.engine(ctx)
	if err != nil {
		return fmt.Errorf("init engine: %w", err)
	}
	return fn(ctx, eng, level)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// --- search command ---

var (
	searchLimit      int
	searchSemantic   float64
	searchTensor     float64
	searchTypes      []string
	searchThresholds []string
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Hybrid semantic and tensor search over atoms",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearch,
}

func init() {
	f := searchCmd.Flags()
	f.IntVarP(&searchLimit, "limit", "n", 0, "Maximum number of results (default from config)")
	f.Float64Var(&searchSemantic, "semantic-weight", -1, "Semantic weight in [0,1] (default from config)")
	f.Float64Var(&searchTensor, "tensor-weight", -1, "Tensor weight in [0,1] (default from config)")
	f.StringSliceVarP(&searchTypes, "type", "t", nil, "Only return atoms of these types")
	f.StringSliceVar(&searchThresholds, "threshold", nil, "Only return atoms at these thresholds (T1..T8)")
}

func runSearch(cmd *cobra.Command, args []string) error {
	req := engine.SearchRequest{
		QueryText: strings.Join(args, " "),
		Limit:     searchLimit,
	}
	if searchSemantic >= 0 || searchTensor >= 0 {
		req.Weights = &engine.Weights{Semantic: max(searchSemantic, 0), Tensor: max(searchTensor, 0)}
	}
	for _, t := range searchTypes {
		typ, err := atom.ParseType(t)
		if err != nil {
			return err
		}
		req.Filters.AtomTypes = append(req.Filters.AtomTypes, typ)
	}
	for _, t := range searchThresholds {
		th, err := access.ParseThreshold(t)
		if err != nil {
			return err
		}
		req.Filters.Thresholds = append(req.Filters.Thresholds, th)
	}

	return withEngine(cmd, func(ctx context.Context, eng *engine.Engine, level access.Level) error {
		if req.Limit == 0 {
			req.Limit = eng.DefaultLimit()
		}
		resp, err := eng.Search(ctx, req, level)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if jsonOutput {
			return printJSON(out, resp)
		}

		if resp.Partial {
			fmt.Fprintf(out, "partial results: %v unavailable\n\n", resp.UnavailableSpaces)
		}
		if len(resp.Results) == 0 {
			fmt.Fprintln(out, "No results found.")
			return nil
		}
		for i, r := range resp.Results {
			fmt.Fprintf(out, "%d. [%.3f] %s (%s, %s)\n", i+1, r.CombinedScore, r.Atom.ID, r.Atom.Type, r.Atom.Threshold)
			fmt.Fprintf(out, "   %s\n", r.Atom.Title)
			fmt.Fprintf(out, "   semantic %.3f  tensor %.3f\n", r.SemanticSim, r.TensorSim)
		}
		return nil
	})
}

// --- atom command ---

var atomCmd = &cobra.Command{
	Use:   "atom [id]",
	Short: "Show an atom with its evidence and relationships",
	Args:  cobra.ExactArgs(1),
	RunE:  runAtom,
}

func runAtom(cmd *cobra.Command, args []string) error {
	return withEngine(cmd, func(ctx context.Context, eng *engine.Engine, level access.Level) error {
		d, err := eng.GetAtom(ctx, args[0], level)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if jsonOutput {
			return printJSON(out, d)
		}

		fmt.Fprintf(out, "## %s (%s)\n\n", d.Atom.Title, d.Atom.ID)
		fmt.Fprintf(out, "  type: %s  threshold: %s\n", d.Atom.Type, d.Atom.Threshold)
		if d.Atom.Summary != "" {
			fmt.Fprintf(out, "  %s\n", d.Atom.Summary)
		}
		if len(d.Evidence) > 0 {
			fmt.Fprintln(out, "\n## Evidence")
			for _, e := range d.Evidence {
				fmt.Fprintf(out, "- [%s] %s", e.Level, e.Claim)
				if e.Source != "" {
					fmt.Fprintf(out, " (%s %d)", e.Source, e.Year)
				}
				fmt.Fprintln(out)
			}
		}
		if len(d.Relationships) > 0 {
			fmt.Fprintln(out, "\n## Relationships")
			for _, r := range d.Relationships {
				fmt.Fprintf(out, "- %s %s %s (%.2f)\n", r.FromID, r.Type, r.ToID, r.Strength)
			}
		}
		return nil
	})
}

// --- chain command ---

var (
	chainDirection string
	chainDepth     int
)

var chainCmd = &cobra.Command{
	Use:   "chain [id]",
	Short: "Walk the causal chain around an atom",
	Args:  cobra.ExactArgs(1),
	RunE:  runChain,
}

func init() {
	chainCmd.Flags().StringVarP(&chainDirection, "direction", "d", string(engine.Both), "upstream, downstream or both")
	chainCmd.Flags().IntVar(&chainDepth, "depth", 3, "Maximum hops (1-5)")
}

func runChain(cmd *cobra.Command, args []string) error {
	dir, err := engine.ParseDirection(chainDirection)
	if err != nil {
		return err
	}
	return withEngine(cmd, func(ctx context.Context, eng *engine.Engine, level access.Level) error {
		chain, err := eng.TraverseCausalChain(ctx, args[0], dir, chainDepth, level)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if jsonOutput {
			return printJSON(out, chain)
		}

		fmt.Fprintf(out, "## %s (max depth %d)\n", chain.Seed.ID, chain.MaxDepth)
		for _, d := range []engine.Direction{engine.Upstream, engine.Downstream} {
			levels := chain.Levels(d)
			if len(levels) == 0 {
				continue
			}
			fmt.Fprintf(out, "\n%s\n", d)
			for i, nodes := range levels {
				for _, n := range nodes {
					fmt.Fprintf(out, "%s%d. %s via %s (%.2f)\n",
						strings.Repeat("  ", i+1), i+1, n.Atom.ID, n.Relationship.Type, n.Relationship.Strength)
				}
			}
		}
		return nil
	})
}

// --- compat command ---

var compatCmd = &cobra.Command{
	Use:   "compat [id] [id]...",
	Short: "Score how well a set of atoms work together",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runCompat,
}

func runCompat(cmd *cobra.Command, args []string) error {
	return withEngine(cmd, func(ctx context.Context, eng *engine.Engine, level access.Level) error {
		res, err := eng.AnalyzeCompatibility(ctx, args, level)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if jsonOutput {
			return printJSON(out, res)
		}

		if res.NotApplicable {
			fmt.Fprintln(out, "Compatibility needs at least two distinct atoms.")
			return nil
		}
		verdict := "compatible"
		if !res.Compatible {
			verdict = "NOT compatible"
		}
		fmt.Fprintf(out, "score %.2f: %s\n", res.OverallScore, verdict)
		for _, w := range res.Warnings {
			fmt.Fprintf(out, "  ! %s\n", w)
		}
		for _, r := range res.Recommendations {
			fmt.Fprintf(out, "  - %s\n", r)
		}
		for _, s := range res.Synergies {
			fmt.Fprintf(out, "  + %s and %s work well together\n", s.AtomA, s.AtomB)
		}
		return nil
	})
}
