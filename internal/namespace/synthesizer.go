package namespace

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/objectfs/bucketfs/pkg/errors"
	"github.com/objectfs/bucketfs/pkg/types"
	"github.com/objectfs/bucketfs/pkg/utils"
)

// MetadataCache is the slice of the metadata cache the synthesizer writes
// listing results into.
type MetadataCache interface {
	Get(path string) (types.Metadata, bool)
	Put(path string, meta types.Metadata)
}

// Config holds synthesizer settings.
type Config struct {
	// Prefix is the bucket prefix mounted as "/". Empty mounts the whole bucket.
	Prefix string

	// Epoch is reported as the modification time of synthesized directories.
	Epoch time.Time
}

// Synthesizer builds directory views from prefix/delimiter listings.
type Synthesizer struct {
	store  types.ObjectStore
	table  *Table
	meta   MetadataCache
	prefix string
	epoch  time.Time
	logger *zap.Logger

	listings singleflight.Group
}

// listed pairs an emitted entry with the metadata the listing carried for it.
type listed struct {
	entry types.DirEntry
	meta  types.Metadata
}

// NewSynthesizer creates a synthesizer over store. meta may be nil.
func NewSynthesizer(store types.ObjectStore, table *Table, meta MetadataCache, cfg Config, logger *zap.Logger) *Synthesizer {
	epoch := cfg.Epoch
	if epoch.IsZero() {
		epoch = time.Now()
	}
	return &Synthesizer{
		store:  store,
		table:  table,
		meta:   meta,
		prefix: utils.NormalizePrefix(cfg.Prefix),
		epoch:  epoch,
		logger: utils.OrNop(logger).With(zap.String("component", "namespace")),
	}
}

// Table returns the identity table the synthesizer registers into.
func (s *Synthesizer) Table() *Table {
	return s.table
}

// Epoch returns the modification time reported for directories.
func (s *Synthesizer) Epoch() time.Time {
	return s.epoch
}

// ObjectKey returns the bucket key backing a file path.
func (s *Synthesizer) ObjectKey(path string) string {
	return utils.ObjectKey(s.prefix, utils.NormalizePath(path))
}

// DirectoryMetadata returns the record reported for every directory.
func (s *Synthesizer) DirectoryMetadata() types.Metadata {
	return types.Metadata{Kind: types.KindDirectory, ModTime: s.epoch}
}

// ListDirectory returns the immediate children of dir in store order,
// registering an identity for each and recording their metadata.
func (s *Synthesizer) ListDirectory(ctx context.Context, dir string) ([]types.DirEntry, error) {
	items, err := s.listDir(ctx, dir)
	if err != nil {
		return nil, err
	}
	out := make([]types.DirEntry, len(items))
	for i, it := range items {
		out[i] = it.entry
	}
	return out, nil
}

// ResolveChild returns the identity of name inside parent. Known paths are
// answered from the identity table without a remote call.
func (s *Synthesizer) ResolveChild(ctx context.Context, parent, name string) (types.DirEntry, error) {
	parent = utils.NormalizePath(parent)
	if err := utils.ValidateName(name); err != nil {
		return types.DirEntry{}, errors.NewNotFound(utils.JoinPath(parent, name)).WithCause(err)
	}

	child := utils.JoinPath(parent, name)
	if e, ok := s.table.Lookup(child); ok {
		return types.DirEntry{Name: name, ID: e.ID, Kind: e.Kind}, nil
	}

	items, err := s.listDir(ctx, parent)
	if err != nil {
		return types.DirEntry{}, err
	}
	for _, it := range items {
		if it.entry.Name == name {
			return it.entry, nil
		}
	}
	return types.DirEntry{}, errors.NewNotFound(child).WithComponent("namespace").WithOperation("resolve_child")
}

// Stat returns the metadata of path by listing its parent and picking the
// entry out of the result. The root is answered locally.
func (s *Synthesizer) Stat(ctx context.Context, path string) (types.Metadata, error) {
	path = utils.NormalizePath(path)
	if path == "/" {
		return s.DirectoryMetadata(), nil
	}

	name := utils.BaseName(path)
	items, err := s.listDir(ctx, utils.ParentPath(path))
	if err != nil {
		return types.Metadata{}, err
	}
	for _, it := range items {
		if it.entry.Name == name {
			if s.meta != nil {
				s.meta.Put(path, it.meta)
			}
			return it.meta, nil
		}
	}
	return types.Metadata{}, errors.NewNotFound(path).WithComponent("namespace").WithOperation("stat")
}

func (s *Synthesizer) listDir(ctx context.Context, dir string) ([]listed, error) {
	dir = utils.NormalizePath(dir)
	parent, err := s.directory(ctx, dir)
	if err != nil {
		return nil, err
	}
	if !parent.IsDir() {
		return nil, errors.NewNotADirectory(dir).WithComponent("namespace").WithOperation("list_directory")
	}

	prefix := utils.ListPrefix(s.prefix, dir)
	listing, err := s.list(ctx, prefix)
	if err != nil {
		return nil, err
	}

	dirs := make(map[string]struct{}, len(listing.Prefixes))
	for _, p := range listing.Prefixes {
		if name, ok := childName(prefix, p, true); ok {
			dirs[name] = struct{}{}
		}
	}

	items := make([]listed, 0, len(listing.Prefixes)+len(listing.Objects))
	// A child whose identity conflicts with what the table holds is left out
	// of this listing; its siblings are unaffected.
	add := func(name string, kind types.Kind, meta types.Metadata) {
		path := utils.JoinPath(dir, name)
		id, err := s.table.AllocateOrGet(path, kind, parent.ID)
		if err != nil {
			s.logger.Error("skipping entry with conflicting identity",
				zap.String("path", path),
				zap.Stringer("kind", kind),
				zap.String("code", string(errors.CodeOf(err))),
				zap.Error(err))
			return
		}
		if s.meta != nil {
			s.meta.Put(path, meta)
		}
		items = append(items, listed{
			entry: types.DirEntry{Name: name, ID: id, Kind: kind},
			meta:  meta,
		})
	}

	// Prefixes and objects arrive as two key-ordered sequences; merge them so
	// entries come out in the store's own key order.
	pi, oi := 0, 0
	for pi < len(listing.Prefixes) || oi < len(listing.Objects) {
		takePrefix := oi >= len(listing.Objects) ||
			(pi < len(listing.Prefixes) && listing.Prefixes[pi] < listing.Objects[oi].Key)

		if takePrefix {
			p := listing.Prefixes[pi]
			pi++
			name, ok := childName(prefix, p, true)
			if !ok {
				s.logger.Debug("skipping unusable prefix", zap.String("prefix", p))
				continue
			}
			add(name, types.KindDirectory, s.DirectoryMetadata())
			continue
		}

		obj := listing.Objects[oi]
		oi++
		name, ok := childName(prefix, obj.Key, false)
		if !ok {
			// Directory marker or a key the delimiter should have folded.
			continue
		}
		if _, shadowed := dirs[name]; shadowed {
			s.logger.Warn("object shadowed by directory of the same name", zap.String("key", obj.Key))
			continue
		}
		meta := types.Metadata{
			Kind:    types.KindFile,
			Size:    obj.Size,
			ModTime: obj.LastModified,
			ETag:    obj.ETag,
		}
		add(name, types.KindFile, meta)
	}

	s.logger.Debug("listed directory",
		zap.String("path", dir),
		zap.Int("entries", len(items)))
	return items, nil
}

// directory returns the table entry for dir. A path not yet observed is
// registered by resolving it from its parent, walking up towards the root
// until a known directory is found.
func (s *Synthesizer) directory(ctx context.Context, dir string) (Entry, error) {
	if e, ok := s.table.Lookup(dir); ok {
		return e, nil
	}
	if _, err := s.ResolveChild(ctx, utils.ParentPath(dir), utils.BaseName(dir)); err != nil {
		return Entry{}, err
	}
	e, ok := s.table.Lookup(dir)
	if !ok {
		return Entry{}, errors.NewNotFound(dir).WithComponent("namespace").WithOperation("list_directory")
	}
	return e, nil
}

// list collapses concurrent listings of the same prefix into one remote call.
// The shared call is detached from the first caller's cancellation.
func (s *Synthesizer) list(ctx context.Context, prefix string) (*types.Listing, error) {
	v, err, _ := s.listings.Do(prefix, func() (interface{}, error) {
		return s.store.List(context.WithoutCancel(ctx), prefix, utils.Delimiter)
	})
	if err != nil {
		s.logger.Warn("listing failed", zap.String("prefix", prefix), zap.Error(err))
		return nil, err
	}
	return v.(*types.Listing), nil
}

// childName strips the listing prefix (and for common prefixes the trailing
// delimiter) from a key, rejecting anything that is not one path segment.
func childName(prefix, key string, isPrefix bool) (string, bool) {
	if !strings.HasPrefix(key, prefix) {
		return "", false
	}
	name := strings.TrimPrefix(key, prefix)
	if isPrefix {
		name = strings.TrimSuffix(name, utils.Delimiter)
	}
	if utils.ValidateName(name) != nil {
		return "", false
	}
	return name, true
}
