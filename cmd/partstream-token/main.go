// Command partstream-token manages the API tokens clients use to call the
// upload API. It reads the same database settings as the server.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/fjmerc/partstream/internal/config"
	"github.com/fjmerc/partstream/internal/models"
	"github.com/fjmerc/partstream/internal/repository"
	"github.com/fjmerc/partstream/internal/repository/postgres"
	"github.com/fjmerc/partstream/internal/repository/sqlite"
	"github.com/fjmerc/partstream/internal/utils"
)

// repoOpener returns the repositories a command runs against
type repoOpener func(ctx context.Context) (*repository.Repositories, error)

func main() {
	if err := newRootCmd(openFromEnv).Execute(); err != nil {
		os.Exit(1)
	}
}

func openFromEnv(ctx context.Context) (*repository.Repositories, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if cfg.DBBackend == "postgres" {
		return postgres.NewRepositories(ctx, cfg.Postgres)
	}
	db, err := sqlite.Open(ctx, cfg.DBPath)
	if err != nil {
		return nil, err
	}
	return sqlite.NewRepositories(db)
}

func newRootCmd(open repoOpener) *cobra.Command {
	root := &cobra.Command{
		Use:          "partstream-token",
		Short:        "Manage partstream API tokens",
		SilenceUsage: true,
	}
	root.AddCommand(newCreateCmd(open), newListCmd(open), newRevokeCmd(open))
	return root
}

func newCreateCmd(open repoOpener) *cobra.Command {
	var (
		owner   string
		name    string
		expires int
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a token for an owner and print it once",
		RunE: func(cmd *cobra.Command, args []string) error {
			repos, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer repos.Close()

			token, rec, err := createToken(cmd.Context(), repos.APITokens, owner, name, time.Duration(expires)*24*time.Hour)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Token for %s (id %d, prefix %s):\n\n  %s\n\n", rec.OwnerID, rec.ID, rec.TokenPrefix, token)
			if rec.ExpiresAt != nil {
				fmt.Fprintf(out, "Expires %s\n", rec.ExpiresAt.Format(time.RFC3339))
			}
			fmt.Fprintln(out, "Store it now; it cannot be shown again.")
			return nil
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "owner ID the token authenticates as (required)")
	cmd.Flags().StringVar(&name, "name", "cli", "label for the token")
	cmd.Flags().IntVar(&expires, "expires-days", 0, "days until the token expires (0 = never)")
	cmd.MarkFlagRequired("owner")
	return cmd
}

// createToken generates and stores a new token, returning the plaintext
func createToken(ctx context.Context, tokens repository.APITokenRepository, owner, name string, ttl time.Duration) (string, *models.APIToken, error) {
	if owner == "" {
		return "", nil, fmt.Errorf("owner is required")
	}
	if ttl < 0 {
		return "", nil, fmt.Errorf("expiry cannot be negative")
	}

	token, prefix, err := utils.GenerateAPIToken()
	if err != nil {
		return "", nil, err
	}

	rec := &models.APIToken{
		OwnerID:     owner,
		Name:        name,
		TokenHash:   utils.HashAPIToken(token),
		TokenPrefix: prefix,
	}
	if ttl > 0 {
		expiresAt := time.Now().UTC().Add(ttl)
		rec.ExpiresAt = &expiresAt
	}

	if err := tokens.Create(ctx, rec); err != nil {
		return "", nil, fmt.Errorf("failed to store token: %w", err)
	}
	return token, rec, nil
}

func newListCmd(open repoOpener) *cobra.Command {
	var owner string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List an owner's tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			repos, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer repos.Close()

			list, err := repos.APITokens.ListByOwner(cmd.Context(), owner)
			if err != nil {
				return err
			}
			printTokens(cmd.OutOrStdout(), list)
			return nil
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "owner ID (required)")
	cmd.MarkFlagRequired("owner")
	return cmd
}

func printTokens(w io.Writer, list []models.APIToken) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tPREFIX\tACTIVE\tEXPIRES\tLAST USED")
	for _, tok := range list {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%t\t%s\t%s\n",
			tok.ID, tok.Name, tok.TokenPrefix, tok.IsActive,
			formatOptionalTime(tok.ExpiresAt, "never"),
			formatOptionalTime(tok.LastUsedAt, "-"),
		)
	}
	tw.Flush()
}

func formatOptionalTime(t *time.Time, fallback string) string {
	if t == nil {
		return fallback
	}
	return t.Format(time.RFC3339)
}

func newRevokeCmd(open repoOpener) *cobra.Command {
	var id int64

	cmd := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke a token by ID",
		RunE: func(cmd *cobra.Command, args []string) error {
			repos, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer repos.Close()

			if err := repos.APITokens.Revoke(cmd.Context(), id); err != nil {
				return fmt.Errorf("failed to revoke token %d: %w", id, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Revoked token %d\n", id)
			return nil
		},
	}

	cmd.Flags().Int64Var(&id, "id", 0, "token ID (required)")
	cmd.MarkFlagRequired("id")
	return cmd
}
