package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lazypower/dermagraph/internal/vectorindex"
)

const syncTimeout = 30 * time.Minute

var indexBatch int

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Manage the remote vector index",
}

var indexSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Push every stored embedding to Qdrant",
	RunE:  runIndexSync,
}

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Manage the Neo4j graph mirror",
}

var graphSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Mirror atoms, relationships and evidence into Neo4j",
	RunE:  runGraphSync,
}

func init() {
	indexSyncCmd.Flags().IntVar(&indexBatch, "batch", 128, "Points per upsert request")
	indexCmd.AddCommand(indexSyncCmd)
	graphCmd.AddCommand(graphSyncCmd)
}

func runIndexSync(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), syncTimeout)
	defer cancel()

	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	q, err := a.qdrant()
	if err != nil {
		return err
	}
	if err := q.EnsureCollection(ctx); err != nil {
		return fmt.Errorf("ensure collection: %w", err)
	}
	stats, err := vectorindex.NewSyncer(a.db, q, a.cfg.Dimensions(), indexBatch, a.log).Sync(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "pushed %d atoms, skipped %d\n", stats.Pushed, stats.Skipped)
	return nil
}

func runGraphSync(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), syncTimeout)
	defer cancel()

	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	g, err := a.openGraph(ctx)
	if err != nil {
		return err
	}
	a.graph = g

	stats, err := g.Sync(ctx, a.db)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "mirrored %d atoms, %d relationships, %d evidence records\n",
		stats.Atoms, stats.Relationships, stats.Evidence)
	return nil
}
