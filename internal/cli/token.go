package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"cogni-rag-go/pkg/token"
)

var (
	tokenSubject string
	tokenRole    string
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a bearer token for the HTTP API",
	Long:  `Signs a JWT with jwt.secret from the config. Use --role ADMIN for ingest and document management.`,
	Args:  cobra.NoArgs,
	RunE:  runToken,
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "", "token subject (required)")
	tokenCmd.Flags().StringVar(&tokenRole, "role", "USER", "token role, ADMIN grants write access")
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, _ []string) error {
	if tokenSubject == "" {
		return fmt.Errorf("--subject: %w", errMissingFlag)
	}
	cfg, err := setup()
	if err != nil {
		return err
	}
	tok, err := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours).GenerateToken(tokenSubject, tokenRole)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), tok)
	return err
}
