package cli

import (
	"github.com/spf13/cobra"
)

var (
	configPath string
	dbPath     string
	accessFlag string
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "dermagraph",
	Short: "Skincare knowledge graph with hybrid search and compatibility analysis",
	Long: "Dermagraph stores skincare knowledge atoms with semantic and tensor embeddings, " +
		"ranks them with hybrid vector search, walks causal chains and scores ingredient compatibility.",
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "Path to config.yaml (default ~/.dermagraph/config.yaml)")
	pf.StringVar(&dbPath, "db", "", "SQLite database path (overrides config)")
	pf.StringVar(&accessFlag, "access", "PUBLIC", "Access level: PUBLIC, REGISTERED, PROFESSIONAL or EXPERT")
	pf.BoolVar(&jsonOutput, "json", false, "Print results as JSON")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(atomCmd)
	rootCmd.AddCommand(chainCmd)
	rootCmd.AddCommand(compatCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(graphCmd)
}
