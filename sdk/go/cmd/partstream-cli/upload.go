package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/vbauerster/mpb/v7"
	"github.com/vbauerster/mpb/v7/decor"

	partstream "github.com/fjmerc/partstream/sdk/go"
)

func uploadCmd() *cobra.Command {
	var (
		partSizeMiB int64
		concurrency int
		retries     int
		contentType string
		resumeID    string
		noProgress  bool
	)

	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a file in parts",
		Long: `Upload a file as a multipart upload.

Interrupted uploads leave a <file>.partstream.json record next to the file;
running the same command again resumes from the parts the server already has.
Press Ctrl-C to stop cleanly.

Examples:
  partstream-cli upload backup.tar
  partstream-cli upload backup.tar --part-size 32 --concurrency 6
  partstream-cli upload backup.tar --resume 3f0c9a52-...`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}

			filePath := args[0]
			info, err := os.Stat(filePath)
			if err != nil {
				return fmt.Errorf("file not found: %s", filePath)
			}

			opts := partstream.UploadOptions{
				ContentType: contentType,
				PartSize:    partSizeMiB << 20,
				Concurrency: concurrency,
				PartRetries: retries,
			}
			if resumeID != "" {
				opts.Resume = &partstream.ResumeState{UploadID: resumeID}
			}
			if verbose {
				opts.OnSession = func(s partstream.ResumeState) {
					fmt.Fprintf(os.Stderr, "upload id: %s\n", s.UploadID)
				}
			}

			finishProgress := func() {}
			if !noProgress {
				p := mpb.New(mpb.WithWidth(60))
				bar := p.AddBar(info.Size(),
					mpb.PrependDecorators(
						decor.CountersKibiByte("% .2f / % .2f "),
					),
					mpb.AppendDecorators(
						decor.Name(filepath.Base(filePath), decor.WC{W: 20, C: decor.DidentRight}),
						decor.Name(" | "),
						decor.AverageSpeed(decor.UnitKiB, "% .2f"),
					),
				)
				opts.OnProgress = func(pr partstream.Progress) {
					bar.SetCurrent(pr.BytesDone)
					if pr.Completed {
						bar.SetTotal(pr.BytesTotal, true)
					}
				}
				finishProgress = func() {
					if !bar.Completed() {
						bar.Abort(false)
					}
					p.Wait()
				}
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			fmt.Printf("Uploading: %s (%s)\n", filePath, formatBytes(info.Size()))

			obj, err := client.UploadFile(ctx, filePath, opts)
			finishProgress()
			if err != nil {
				var uerr *partstream.UploadError
				if errors.As(err, &uerr) && uerr.Resumable() {
					return fmt.Errorf("%w\nrun the same command again to resume (upload id %s)", err, uerr.Resume.UploadID)
				}
				return err
			}

			fmt.Println()
			fmt.Println(strings.Repeat("─", 50))
			fmt.Printf("Upload complete!\n")
			fmt.Println(strings.Repeat("─", 50))
			fmt.Printf("Key:       %s\n", obj.ObjectKey)
			fmt.Printf("Filename:  %s\n", obj.Filename)
			fmt.Printf("Size:      %s\n", formatBytes(obj.TotalSize))
			fmt.Printf("Type:      %s\n", obj.ContentType)
			fmt.Printf("ETag:      %s\n", obj.ETag)
			fmt.Println(strings.Repeat("─", 50))
			fmt.Printf("\nURL: %s\n", obj.URL)

			return nil
		},
	}

	cmd.Flags().Int64Var(&partSizeMiB, "part-size", 0, "Preferred part size in MiB (server default when 0)")
	cmd.Flags().IntVarP(&concurrency, "concurrency", "c", 3, "Parts uploaded in parallel")
	cmd.Flags().IntVar(&retries, "retries", 3, "Retries per part on transient failures")
	cmd.Flags().StringVar(&contentType, "content-type", "", "Content type (detected by the server when empty)")
	cmd.Flags().StringVar(&resumeID, "resume", "", "Resume the given upload id")
	cmd.Flags().BoolVar(&noProgress, "no-progress", false, "Disable progress bar")

	return cmd
}
