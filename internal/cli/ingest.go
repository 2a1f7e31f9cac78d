package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"cogni-rag-go/internal/service"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest all documents into the vector index",
	Long: `Reads every qualifying document from the object store, chunks and embeds it,
and writes the chunks to the vector index. Runs synchronously and prints the chunk count.`,
	Args: cobra.NoArgs,
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, _ []string) error {
	return withServices(cmd, func(ctx context.Context, svc *Services) error {
		run, err := svc.Ingest.Run(ctx, service.TriggerCLI)
		if err != nil {
			if run != nil {
				cmd.PrintErrf("run %s failed after %d chunks\n", run.ID, run.ChunkCount)
			}
			return fmt.Errorf("ingest failed: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Ingested %d chunks from %d documents (run %s)\n", run.ChunkCount, run.DocumentCount, run.ID)
		return nil
	})
}
