// Package namespace turns the flat key space of a bucket into a directory tree
// with stable identity numbers.
package namespace

import (
	"fmt"
	"sync"

	"github.com/objectfs/bucketfs/pkg/errors"
	"github.com/objectfs/bucketfs/pkg/types"
	"github.com/objectfs/bucketfs/pkg/utils"
)

const (
	// RootID is the identity of "/".
	RootID uint64 = 1

	// FirstDynamicID is the first identity handed to a non-root path.
	FirstDynamicID uint64 = 1000
)

// Entry is one row of the identity table.
type Entry struct {
	ID       uint64
	Path     string
	ParentID uint64
	Kind     types.Kind
}

// IsDir reports whether the entry is a directory.
func (e Entry) IsDir() bool {
	return e.Kind == types.KindDirectory
}

// Table is the bidirectional id <-> path mapping for one mount session.
// Identities are never released before the table is dropped.
type Table struct {
	mu     sync.RWMutex
	byID   map[uint64]*Entry
	byPath map[string]*Entry
	next   uint64
}

// NewTable returns a table holding only the root.
func NewTable() *Table {
	root := &Entry{ID: RootID, Path: "/", ParentID: RootID, Kind: types.KindDirectory}
	return &Table{
		byID:   map[uint64]*Entry{RootID: root},
		byPath: map[string]*Entry{"/": root},
		next:   FirstDynamicID,
	}
}

// AllocateOrGet returns the identity of path, allocating the next one if the
// path has not been seen. A known path observed with a different kind or
// parent is a corrupted namespace; the existing entry is left untouched.
func (t *Table) AllocateOrGet(path string, kind types.Kind, parentID uint64) (uint64, error) {
	path = utils.NormalizePath(path)

	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.byPath[path]; ok {
		if existing.Kind != kind {
			return 0, errors.NewCorruptedNamespace(path,
				fmt.Sprintf("path registered as %s, observed as %s", existing.Kind, kind)).
				WithComponent("identity").
				WithOperation("allocate")
		}
		if existing.ID != RootID && existing.ParentID != parentID {
			return 0, errors.NewCorruptedNamespace(path,
				fmt.Sprintf("parent %d does not match registered parent %d", parentID, existing.ParentID)).
				WithComponent("identity").
				WithOperation("allocate")
		}
		return existing.ID, nil
	}

	parent, ok := t.byID[parentID]
	if !ok || !parent.IsDir() || parent.Path != utils.ParentPath(path) {
		return 0, errors.NewCorruptedNamespace(path,
			fmt.Sprintf("parent %d is not the directory containing this path", parentID)).
			WithComponent("identity").
			WithOperation("allocate")
	}

	e := &Entry{ID: t.next, Path: path, ParentID: parentID, Kind: kind}
	t.next++
	t.byID[e.ID] = e
	t.byPath[path] = e
	return e.ID, nil
}

// Resolve returns the entry for id.
func (t *Table) Resolve(id uint64) (Entry, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.byID[id]
	if !ok {
		return Entry{}, errors.NewUnknownIdentity(id).WithComponent("identity").WithOperation("resolve")
	}
	return *e, nil
}

// Lookup returns the entry for a path without allocating.
func (t *Table) Lookup(path string) (Entry, bool) {
	path = utils.NormalizePath(path)

	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.byPath[path]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Len returns the number of live identities, root included.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byID)
}

// Entries returns a copy of every entry, in no particular order.
func (t *Table) Entries() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Entry, 0, len(t.byID))
	for _, e := range t.byID {
		out = append(out, *e)
	}
	return out
}
