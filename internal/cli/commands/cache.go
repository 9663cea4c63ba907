package commands

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/objectfs/bucketfs/internal/cache"
	"github.com/objectfs/bucketfs/pkg/utils"
)

func newCacheCommand(global *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the on-disk content cache",
		Long: `Operates on the content cache directory directly. The directory is locked
while a mount is using it, so these commands fail against a live mount.`,
	}
	cmd.AddCommand(newCacheStatsCommand(global), newCacheClearCommand(global))
	return cmd
}

// openCacheDir opens the configured content cache without a store. It is
// opened unbounded so that inspecting it never evicts; the configured limit
// is returned alongside.
func openCacheDir(cmd *cobra.Command, global *globalOptions) (*cache.ContentCache, int64, error) {
	cfg, err := layerConfig(cmd.Flags(), global)
	if err != nil {
		return nil, 0, err
	}
	limit, err := cfg.ContentMaxBytes()
	if err != nil {
		return nil, 0, err
	}
	content, err := cache.NewContentCache(cache.ContentConfig{Directory: cfg.Cache.Directory}, nil, nil)
	return content, limit, err
}

func newCacheStatsCommand(global *globalOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show content cache usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			content, limit, err := openCacheDir(cmd, global)
			if err != nil {
				return err
			}
			defer func() { _ = content.Close() }()

			stats := content.Stats()
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(struct {
					Directory string `json:"directory"`
					Files     int    `json:"files"`
					Bytes     int64  `json:"bytes"`
					Limit     int64  `json:"limit"`
				}{content.Directory(), stats.Entries, stats.Size, limit})
			}

			tw := tabwriter.NewWriter(out, 0, 4, 1, ' ', 0)
			fmt.Fprintf(tw, "Directory:\t%s\n", content.Directory())
			fmt.Fprintf(tw, "Files:\t%d\n", stats.Entries)
			fmt.Fprintf(tw, "Size:\t%s\n", utils.FormatBytes(stats.Size))
			if limit > 0 {
				fmt.Fprintf(tw, "Limit:\t%s\n", utils.FormatBytes(limit))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	return cmd
}

func newCacheClearCommand(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete every cached object body",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			content, _, err := openCacheDir(cmd, global)
			if err != nil {
				return err
			}
			defer func() { _ = content.Close() }()

			n := content.Clear()
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d cached files from %s\n", n, content.Directory())
			return nil
		},
	}
}
