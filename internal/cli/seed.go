package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lazypower/dermagraph/internal/embedding"
	"github.com/lazypower/dermagraph/internal/seed"
)

var (
	seedFile        string
	seedConcurrency int
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load a dataset of atoms, relationships and evidence into the store",
	Long: "Embed and upsert a YAML dataset. Without --file the built-in starter catalogue is loaded. " +
		"Records are keyed by id, so seeding the same dataset twice changes nothing.",
	RunE: runSeed,
}

func init() {
	seedCmd.Flags().StringVarP(&seedFile, "file", "f", "", "Dataset YAML file (default: built-in catalogue)")
	seedCmd.Flags().IntVar(&seedConcurrency, "concurrency", 4, "Atoms embedded in parallel")
}

func runSeed(cmd *cobra.Command, args []string) error {
	ds, err := loadDataset()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	docs, err := seedCorpus(ctx, a, ds)
	if err != nil {
		return err
	}
	emb, err := a.embedder(ctx, docs)
	if err != nil {
		return err
	}

	stats, err := seed.NewSeeder(a.db, emb, a.schema, nil, seedConcurrency, a.log).Apply(ctx, ds)
	if err != nil {
		return fmt.Errorf("seed: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "seeded %d atoms, %d relationships, %d evidence records (%s)\n",
		stats.Atoms, stats.Relationships, stats.Evidence, emb.Model())
	return nil
}

func loadDataset() (*seed.Dataset, error) {
	if seedFile == "" {
		return seed.Builtin()
	}
	return seed.LoadFile(seedFile)
}

// seedCorpus is the TF-IDF fitting corpus: atoms already stored plus the
// dataset, each id once. serve refits over the store, which then holds the
// same documents.
func seedCorpus(ctx context.Context, a *app, ds *seed.Dataset) ([]string, error) {
	incoming := make(map[string]bool, len(ds.Atoms))
	for _, s := range ds.Atoms {
		incoming[s.ID] = true
	}
	stored, err := a.db.ListAtoms(ctx)
	if err != nil {
		return nil, fmt.Errorf("list atoms: %w", err)
	}

	docs := ds.Documents()
	var kept int
	for _, at := range stored {
		if !incoming[at.ID] {
			docs = append(docs, embedding.AtomText(at.Title, at.Summary))
			kept++
		}
	}
	if kept > 0 && a.cfg.Embedding.Provider == "tfidf" {
		a.log.Warn("tfidf vocabulary refitted; atoms outside this dataset keep their previous vectors",
			"untouched_atoms", kept)
	}
	return docs, nil
}
