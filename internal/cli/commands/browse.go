package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/objectfs/bucketfs/internal/adapter"
	"github.com/objectfs/bucketfs/internal/filesystem"
	"github.com/objectfs/bucketfs/pkg/types"
	"github.com/objectfs/bucketfs/pkg/utils"
)

const catChunk = 128 * 1024

// withAdapter runs fn against a freshly built adapter. Nothing is mounted.
func withAdapter(cmd *cobra.Command, global *globalOptions, fn func(ctx context.Context, fsys *filesystem.FileSystem) error) error {
	cfg, err := loadConfig(cmd.Flags(), global)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx := cmd.Context()
	a, err := adapter.New(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("Failed to close caches", zap.Error(err))
		}
	}()
	return fn(ctx, a.FileSystem())
}

func newLsCommand(global *globalOptions) *cobra.Command {
	var long bool

	cmd := &cobra.Command{
		Use:   "ls [path]",
		Short: "List a directory of the bucket without mounting it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := "/"
			if len(args) == 1 {
				target = args[0]
			}
			return withAdapter(cmd, global, func(ctx context.Context, fsys *filesystem.FileSystem) error {
				return runLs(ctx, cmd.OutOrStdout(), fsys, target, long)
			})
		},
	}
	cmd.Flags().BoolVarP(&long, "long", "l", false, "Show kind, size and modification time")
	return cmd
}

func runLs(ctx context.Context, out io.Writer, fsys *filesystem.FileSystem, target string, long bool) error {
	attr, err := fsys.ResolvePath(ctx, target)
	if err != nil {
		return err
	}
	if !attr.IsDir() {
		if long {
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			printLong(tw, target, attr)
			return tw.Flush()
		}
		_, err := fmt.Fprintln(out, target)
		return err
	}

	entries, err := fsys.ListDirectory(ctx, attr.ID)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, e := range entries {
		if e.Name == "." || e.Name == ".." {
			continue
		}
		name := e.Name
		if e.Kind == types.KindDirectory {
			name += "/"
		}
		if !long {
			fmt.Fprintln(tw, name)
			continue
		}
		child, err := fsys.GetAttributes(ctx, e.ID)
		if err != nil {
			return err
		}
		printLong(tw, name, child)
	}
	return tw.Flush()
}

func printLong(w io.Writer, name string, attr filesystem.Attributes) {
	fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
		attr.Kind,
		utils.FormatBytes(int64(attr.Size)),
		attr.Mtime.UTC().Format(time.RFC3339),
		name)
}

type statOutput struct {
	Path    string    `json:"path"`
	ID      uint64    `json:"id"`
	Kind    string    `json:"kind"`
	Size    uint64    `json:"size"`
	Mode    string    `json:"mode"`
	ModTime time.Time `json:"mod_time"`
	Key     string    `json:"key,omitempty"`
	ETag    string    `json:"etag,omitempty"`
}

func newStatCommand(global *globalOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "stat <path>",
		Short: "Show the attributes bucketfs reports for a path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAdapter(cmd, global, func(ctx context.Context, fsys *filesystem.FileSystem) error {
				return runStat(ctx, cmd.OutOrStdout(), fsys, args[0], asJSON)
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	return cmd
}

func runStat(ctx context.Context, out io.Writer, fsys *filesystem.FileSystem, target string, asJSON bool) error {
	attr, err := fsys.ResolvePath(ctx, target)
	if err != nil {
		return err
	}
	info := statOutput{
		Path:    target,
		ID:      attr.ID,
		Kind:    attr.Kind.String(),
		Size:    attr.Size,
		Mode:    fmt.Sprintf("%#o", attr.Mode),
		ModTime: attr.Mtime.UTC(),
	}
	if key, err := fsys.Getxattr(ctx, attr.ID, filesystem.XattrKey); err == nil {
		info.Key = string(key)
	}
	if etag, err := fsys.Getxattr(ctx, attr.ID, filesystem.XattrETag); err == nil {
		info.ETag = string(etag)
	}

	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 1, ' ', 0)
	fmt.Fprintf(tw, "Path:\t%s\n", info.Path)
	fmt.Fprintf(tw, "Id:\t%d\n", info.ID)
	fmt.Fprintf(tw, "Kind:\t%s\n", info.Kind)
	fmt.Fprintf(tw, "Size:\t%d (%s)\n", info.Size, utils.FormatBytes(int64(info.Size)))
	fmt.Fprintf(tw, "Mode:\t%s\n", info.Mode)
	fmt.Fprintf(tw, "Modified:\t%s\n", info.ModTime.Format(time.RFC3339))
	if info.Key != "" {
		fmt.Fprintf(tw, "Key:\t%s\n", info.Key)
	}
	if info.ETag != "" {
		fmt.Fprintf(tw, "ETag:\t%s\n", info.ETag)
	}
	return tw.Flush()
}

func newCatCommand(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cat <path>...",
		Short: "Print file contents through the content cache",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAdapter(cmd, global, func(ctx context.Context, fsys *filesystem.FileSystem) error {
				for _, target := range args {
					if err := runCat(ctx, cmd.OutOrStdout(), fsys, target); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}

func runCat(ctx context.Context, out io.Writer, fsys *filesystem.FileSystem, target string) error {
	attr, err := fsys.ResolvePath(ctx, target)
	if err != nil {
		return err
	}
	fh, err := fsys.Open(ctx, attr.ID, 0)
	if err != nil {
		return err
	}
	defer fsys.Release(fh)

	var off int64
	for {
		data, err := fsys.Read(ctx, attr.ID, fh, off, catChunk)
		if err != nil {
			return err
		}
		if len(data) == 0 {
			return nil
		}
		if _, err := out.Write(data); err != nil {
			return err
		}
		off += int64(len(data))
	}
}
