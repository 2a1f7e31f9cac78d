package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"cogni-rag-go/internal/service"
)

var (
	queryTopK int
	queryJSON bool
)

var queryCmd = &cobra.Command{
	Use:   "query [question]",
	Short: "Ask a question against the indexed documents",
	Long: `Embeds the question, retrieves the closest chunks from the vector index
and asks the language model to answer from them.`,
	Args: cobra.ExactArgs(1),
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().IntVarP(&queryTopK, "top-k", "k", 0, "number of chunks to retrieve (0 uses rag.top_k)")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "output the result as JSON")
	rootCmd.AddCommand(queryCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	return withServices(cmd, func(ctx context.Context, svc *Services) error {
		res, err := svc.Query.Query(ctx, args[0], queryTopK)
		if err != nil {
			return fmt.Errorf("query failed: %w", err)
		}
		if queryJSON {
			return outputQueryJSON(cmd, res)
		}
		outputQueryText(cmd, res)
		return nil
	})
}

func outputQueryJSON(cmd *cobra.Command, res *service.QueryResult) error {
	data, err := json.MarshalIndent(res.Response(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return err
}

func outputQueryText(cmd *cobra.Command, res *service.QueryResult) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, res.Answer)
	if res.Outcome != service.OutcomeAnswered {
		if res.Reason != "" {
			fmt.Fprintf(out, "\n(%s: %s)\n", res.Outcome, res.Reason)
		} else {
			fmt.Fprintf(out, "\n(%s)\n", res.Outcome)
		}
		return
	}
	if len(res.Sources) == 0 {
		return
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Sources:")
	for i, src := range res.Sources {
		fmt.Fprintf(out, "  [%d] %s\n", i+1, snippet(src, 120))
	}
}

// snippet 截取前 n 个字符并把换行压成空格。
func snippet(s string, n int) string {
	r := []rune(s)
	for i, c := range r {
		if c == '\n' || c == '\r' {
			r[i] = ' '
		}
	}
	if len(r) > n {
		return string(r[:n]) + "..."
	}
	return string(r)
}
