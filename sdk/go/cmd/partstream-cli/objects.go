package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	partstream "github.com/fjmerc/partstream/sdk/go"
)

func listCmd() *cobra.Command {
	var (
		limit  int
		offset int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List your completed objects",
		Long: `List completed objects, newest first.

Examples:
  partstream-cli list
  partstream-cli list --limit 50 --offset 50`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}

			objects, err := client.ListObjects(context.Background(), partstream.ListOptions{Limit: limit, Offset: offset})
			if err != nil {
				return err
			}

			if len(objects) == 0 {
				fmt.Println("No objects found.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "KEY\tFILENAME\tSIZE\tUPLOADED")
			for _, o := range objects {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", o.Key, o.Filename, formatBytes(o.Size), o.UploadedAt.Format("2006-01-02 15:04:05"))
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Number of objects to show (max 1000)")
	cmd.Flags().IntVarP(&offset, "offset", "o", 0, "Number of objects to skip")

	return cmd
}

func deleteCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "delete <key>",
		Short: "Delete an object",
		Long: `Delete a completed object by key.

Example:
  partstream-cli delete files/user-1/1700000000000-ab12cd34.tar
  partstream-cli delete files/user-1/1700000000000-ab12cd34.tar --force`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}

			key := args[0]
			if !force {
				fmt.Printf("Delete object: %s?\n", key)
				fmt.Print("Type 'yes' to confirm: ")

				var confirm string
				fmt.Scanln(&confirm)
				if confirm != "yes" {
					fmt.Println("Cancelled.")
					return nil
				}
			}

			if err := client.DeleteObject(context.Background(), key); err != nil {
				return err
			}

			fmt.Println("Object deleted successfully.")
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Skip confirmation")

	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <upload-id>",
		Short: "Show an upload session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}

			st, err := client.Status(context.Background(), args[0])
			if err != nil {
				return err
			}

			var stored int64
			for _, p := range st.Parts {
				stored += p.Size
			}

			fmt.Println(strings.Repeat("─", 50))
			fmt.Printf("%-14s %s\n", "Upload ID:", st.UploadID)
			fmt.Printf("%-14s %s\n", "Key:", st.ObjectKey)
			fmt.Printf("%-14s %s\n", "Filename:", st.Filename)
			fmt.Printf("%-14s %s\n", "State:", st.State)
			fmt.Printf("%-14s %d of %d\n", "Parts:", len(st.Parts), st.TotalParts)
			fmt.Printf("%-14s %s of %s\n", "Stored:", formatBytes(stored), formatBytes(st.ExpectedSize))
			fmt.Printf("%-14s %s\n", "Last activity:", st.LastActivity.Format("2006-01-02 15:04:05"))
			fmt.Println(strings.Repeat("─", 50))
			return nil
		},
	}
}

func abortCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "abort <upload-id>",
		Short: "Abort an upload session and discard its parts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}
			if err := client.Abort(context.Background(), args[0]); err != nil {
				return err
			}
			fmt.Println("Upload aborted.")
			return nil
		},
	}
}
