package main

import (
	"context"
	"fmt"
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/vbauerster/mpb/v7"
	"github.com/vbauerster/mpb/v7/decor"

	partstream "github.com/fjmerc/partstream/sdk/go"
)

func downloadCmd() *cobra.Command {
	var (
		rangeSpec  string
		noProgress bool
	)

	cmd := &cobra.Command{
		Use:   "download <key> [destination]",
		Short: "Download an object",
		Long: `Download a completed object, or a byte range of it.

If no destination is specified, the object is saved to the current directory
under the last segment of its key.

Examples:
  partstream-cli download files/user-1/1700000000000-ab12cd34.tar
  partstream-cli download files/user-1/1700000000000-ab12cd34.tar ./head.bin --range 0-1048575`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}

			key := args[0]
			destination := path.Base(key)
			if len(args) > 1 {
				destination = args[1]
			}

			opts := partstream.DownloadOptions{}
			if rangeSpec != "" {
				r, err := parseRange(rangeSpec)
				if err != nil {
					return err
				}
				opts.Range = r
			}

			f, err := os.OpenFile(destination, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
			if err != nil {
				return fmt.Errorf("creating destination: %w", err)
			}

			var p *mpb.Progress
			var bar *mpb.Bar
			if !noProgress {
				p = mpb.New(mpb.WithWidth(60))
				opts.OnProgress = func(dp partstream.DownloadProgress) {
					if bar == nil {
						bar = p.AddBar(dp.TotalBytes,
							mpb.PrependDecorators(decor.CountersKibiByte("% .2f / % .2f ")),
							mpb.AppendDecorators(decor.AverageSpeed(decor.UnitKiB, "% .2f")),
						)
					}
					bar.SetCurrent(dp.BytesDownloaded)
				}
			}

			info, err := client.Download(context.Background(), key, f, opts)
			if p != nil {
				if bar != nil && !bar.Completed() {
					bar.Abort(false)
				}
				p.Wait()
			}
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				os.Remove(destination)
				return err
			}

			fmt.Printf("\nSaved %s to %s\n", formatBytes(info.Size), destination)
			if info.ContentRange != "" {
				fmt.Printf("Range: %s\n", info.ContentRange)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&rangeSpec, "range", "r", "", "Byte range START-END or START- (inclusive)")
	cmd.Flags().BoolVar(&noProgress, "no-progress", false, "Disable progress bar")

	return cmd
}

// parseRange parses "START-END" or "START-" into a byte range.
func parseRange(spec string) (*partstream.ByteRange, error) {
	startStr, endStr, ok := strings.Cut(spec, "-")
	if !ok || startStr == "" {
		return nil, fmt.Errorf("invalid range %q: want START-END or START-", spec)
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 {
		return nil, fmt.Errorf("invalid range start %q", startStr)
	}

	r := &partstream.ByteRange{Start: start, End: -1}
	if endStr != "" {
		end, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || end < start {
			return nil, fmt.Errorf("invalid range end %q", endStr)
		}
		r.End = end
	}
	return r, nil
}
