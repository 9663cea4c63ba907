// Package memory provides an in-process ObjectStore. It backs the test suites
// and the "memory" store backend used for demos.
package memory

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/objectfs/bucketfs/pkg/errors"
	"github.com/objectfs/bucketfs/pkg/types"
)

type object struct {
	data    []byte
	modTime time.Time
	etag    string
}

// Store is a sorted map of keys to bodies with call counters and failure
// injection.
type Store struct {
	mu      sync.RWMutex
	objects map[string]object

	listCalls  atomic.Int64
	fetchCalls atomic.Int64
	fetchByKey sync.Map // string -> *atomic.Int64

	// BeforeFetch, when set, runs before every fetch returns. Tests use it to
	// hold a fetch open.
	BeforeFetch func(key string)

	// BeforeList is the listing counterpart of BeforeFetch.
	BeforeList func(prefix string)

	failMu sync.RWMutex
	fail   error
}

// New returns an empty store.
func New() *Store {
	return &Store{objects: make(map[string]object)}
}

// Put stores body under key.
func (s *Store) Put(key string, body []byte, modTime time.Time) {
	sum := md5.Sum(body)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = object{
		data:    append([]byte(nil), body...),
		modTime: modTime,
		etag:    hex.EncodeToString(sum[:]),
	}
}

// PutString is Put with a string body and the current time.
func (s *Store) PutString(key, body string) {
	s.Put(key, []byte(body), time.Now())
}

// Delete removes key.
func (s *Store) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
}

// FailWith makes every subsequent call fail with err. nil restores service.
func (s *Store) FailWith(err error) {
	s.failMu.Lock()
	defer s.failMu.Unlock()
	s.fail = err
}

func (s *Store) failure() error {
	s.failMu.RLock()
	defer s.failMu.RUnlock()
	return s.fail
}

// ListCalls returns the number of List calls served.
func (s *Store) ListCalls() int64 {
	return s.listCalls.Load()
}

// FetchCalls returns the number of Fetch calls served.
func (s *Store) FetchCalls() int64 {
	return s.fetchCalls.Load()
}

// FetchCallsFor returns the number of Fetch calls for key.
func (s *Store) FetchCallsFor(key string) int64 {
	if v, ok := s.fetchByKey.Load(key); ok {
		return v.(*atomic.Int64).Load()
	}
	return 0
}

// LoadDir stores every regular file under root, keyed by its slash-separated
// path relative to root with prefix prepended.
func (s *Store) LoadDir(root, prefix string) (int, error) {
	var n int
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		s.Put(prefix+filepath.ToSlash(rel), data, info.ModTime())
		n++
		return nil
	})
	return n, err
}

// List implements types.ObjectStore.
func (s *Store) List(ctx context.Context, prefix, delimiter string) (*types.Listing, error) {
	s.listCalls.Add(1)
	if s.BeforeList != nil {
		s.BeforeList(prefix)
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.NewRemoteTimeout("list", prefix, err)
	}
	if err := s.failure(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	out := &types.Listing{}
	seen := make(map[string]struct{})
	for _, k := range keys {
		rest := strings.TrimPrefix(k, prefix)
		if delimiter != "" {
			if i := strings.Index(rest, delimiter); i >= 0 {
				common := prefix + rest[:i+len(delimiter)]
				if _, dup := seen[common]; !dup {
					seen[common] = struct{}{}
					out.Prefixes = append(out.Prefixes, common)
				}
				continue
			}
		}
		obj := s.objects[k]
		out.Objects = append(out.Objects, types.ObjectInfo{
			Key:          k,
			Size:         int64(len(obj.data)),
			LastModified: obj.modTime,
			ETag:         obj.etag,
		})
	}
	s.mu.RUnlock()

	return out, nil
}

// Fetch implements types.ObjectStore.
func (s *Store) Fetch(ctx context.Context, key string) ([]byte, error) {
	s.fetchCalls.Add(1)
	counter, _ := s.fetchByKey.LoadOrStore(key, new(atomic.Int64))
	counter.(*atomic.Int64).Add(1)

	if s.BeforeFetch != nil {
		s.BeforeFetch(key)
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.NewRemoteTimeout("fetch", key, err)
	}
	if err := s.failure(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	obj, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return nil, errors.NewRemoteNotFound("fetch", key, nil)
	}
	return append([]byte(nil), obj.data...), nil
}

// Head implements types.ObjectHeader.
func (s *Store) Head(ctx context.Context, key string) (*types.ObjectInfo, error) {
	if err := s.failure(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	obj, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return nil, errors.NewRemoteNotFound("head", key, nil)
	}
	return &types.ObjectInfo{
		Key:          key,
		Size:         int64(len(obj.data)),
		LastModified: obj.modTime,
		ETag:         obj.etag,
		ContentType:  "application/octet-stream",
	}, nil
}

// HealthCheck implements types.HealthChecker.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.failure()
}
