package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type doc struct {
	Name  string         `json:"name"`
	Count int            `json:"count"`
	Tags  map[string]int `json:"tags,omitempty"`
}

func stores(t *testing.T) map[string]Store {
	t.Helper()
	b, err := OpenBadger(InMemoryBadgerConfig())
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return map[string]Store{
		"file":   NewFileStore(filepath.Join(t.TempDir(), "state")),
		"badger": b,
		"nats":   &KVStore{bucket: newMemBucket()},
	}
}

func TestStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			var missing doc
			err := s.Load(ctx, "errors", &missing)
			assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)

			in := doc{Name: "errors", Count: 3, Tags: map[string]int{"syntax": 2}}
			require.NoError(t, s.Save(ctx, "errors", in))

			var out doc
			require.NoError(t, s.Load(ctx, "errors", &out))
			assert.Equal(t, in, out)

			in.Count = 4
			require.NoError(t, s.Save(ctx, "errors", in))
			require.NoError(t, s.Load(ctx, "errors", &out))
			assert.Equal(t, 4, out.Count)
		})
	}
}

func TestFileStore_CorruptData(t *testing.T) {
	s := NewFileStore(t.TempDir())
	require.NoError(t, os.WriteFile(s.Path("reasoning"), []byte("{not json"), 0644))

	var out doc
	err := s.Load(context.Background(), "reasoning", &out)
	assert.True(t, errors.Is(err, ErrCorrupt), "got %v", err)
}

func TestFileStore_KeySanitized(t *testing.T) {
	s := NewFileStore(t.TempDir())
	assert.Equal(t, filepath.Dir(s.Path("x")), filepath.Dir(s.Path("../../etc/passwd")))
}

func TestWriteJSONFile_ConcurrentWriters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, WriteJSONFile(path, doc{Name: "w", Count: i}))
		}(i)
	}
	wg.Wait()

	var out doc
	require.NoError(t, ReadJSONFile(path, &out))
	assert.Equal(t, "w", out.Name)

	// No temp files left behind.
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp")
	}
}

func TestBadgerStore_Closed(t *testing.T) {
	b, err := OpenBadger(InMemoryBadgerConfig())
	require.NoError(t, err)
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	err = b.Save(context.Background(), "k", doc{})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestOpen_UnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), Options{Backend: "sqlite", Dir: t.TempDir()})
	assert.Error(t, err)
}

func TestOpen_File(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(context.Background(), Options{Dir: dir})
	require.NoError(t, err)
	fs, ok := s.(*FileStore)
	require.True(t, ok)
	assert.Equal(t, dir, fs.Dir())
}

// memBucket is an in-memory kvBucket.
type memBucket struct {
	mu   sync.Mutex
	data map[string][]byte
	err  error
}

func newMemBucket() *memBucket {
	return &memBucket{data: make(map[string][]byte)}
}

func (b *memBucket) Get(_ context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	v, ok := b.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return v, nil
}

func (b *memBucket) Put(_ context.Context, key string, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.data[key] = value
	return nil
}

func TestKVStore_Errors(t *testing.T) {
	ctx := context.Background()
	bucket := newMemBucket()
	s := &KVStore{bucket: bucket}

	bucket.data["reasoning"] = []byte("{not json")
	var out doc
	assert.ErrorIs(t, s.Load(ctx, "reasoning", &out), ErrCorrupt)

	bucket.err = errors.New("no responders")
	err := s.Save(ctx, "errors", doc{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no responders")

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Load(ctx, "errors", &out), ErrClosed)
}
