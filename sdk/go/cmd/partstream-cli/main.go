// partstream-cli uploads and manages files on a partstream server.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	partstream "github.com/fjmerc/partstream/sdk/go"
)

var (
	// Global flags
	baseURL  string
	apiToken string
	verbose  bool
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "partstream-cli",
		Short: "partstream CLI - resumable large-file uploads",
		Long: `partstream CLI uploads large files in parts, resumes interrupted uploads,
and manages completed objects.

Configuration:
  Set PARTSTREAM_URL and PARTSTREAM_TOKEN environment variables, or use --url and --token flags.

Examples:
  partstream-cli upload backup.tar --part-size 16
  partstream-cli download files/user-1/1700000000000-ab12cd34.tar ./backup.tar
  partstream-cli list
  partstream-cli status 3f0c9a52-...`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&baseURL, "url", os.Getenv("PARTSTREAM_URL"), "Server URL (or PARTSTREAM_URL env)")
	cmd.PersistentFlags().StringVar(&apiToken, "token", os.Getenv("PARTSTREAM_TOKEN"), "API token (or PARTSTREAM_TOKEN env)")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")

	cmd.AddCommand(uploadCmd())
	cmd.AddCommand(downloadCmd())
	cmd.AddCommand(listCmd())
	cmd.AddCommand(deleteCmd())
	cmd.AddCommand(statusCmd())
	cmd.AddCommand(abortCmd())

	return cmd
}

// checkAuth validates that the server and token are configured.
func checkAuth() error {
	if baseURL == "" {
		return fmt.Errorf("server URL is required (use --url or PARTSTREAM_URL environment variable)")
	}
	if apiToken == "" {
		return fmt.Errorf("API token is required (use --token or PARTSTREAM_TOKEN environment variable)")
	}
	// Security warning if token is passed via command line
	if os.Getenv("PARTSTREAM_TOKEN") == "" {
		fmt.Fprintln(os.Stderr, "[WARNING] Token passed via command line is visible in process list. Use PARTSTREAM_TOKEN environment variable instead.")
	}
	return nil
}

func newClient() (*partstream.Client, error) {
	if err := checkAuth(); err != nil {
		return nil, err
	}
	return partstream.NewClient(partstream.ClientConfig{
		BaseURL:  baseURL,
		APIToken: apiToken,
	})
}

func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}
