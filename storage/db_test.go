package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]Database {
	t.Helper()
	dir := t.TempDir()

	level, err := NewLevelDB(filepath.Join(dir, "level"))
	require.NoError(t, err)
	bolt, err := NewBoltDB(filepath.Join(dir, "ramm.bolt"), nil)
	require.NoError(t, err)
	lite, err := OpenSQLite(filepath.Join(dir, "ramm.sqlite"))
	require.NoError(t, err)

	dbs := map[string]Database{
		"mem":    NewMemDB(),
		"level":  level,
		"bolt":   bolt,
		"sqlite": lite,
	}
	t.Cleanup(func() {
		for _, db := range dbs {
			db.Close()
		}
	})
	return dbs
}

func TestDatabaseBackends(t *testing.T) {
	for name, db := range backends(t) {
		db := db
		t.Run(name, func(t *testing.T) {
			_, err := db.Get([]byte("missing"))
			require.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, db.Put([]byte("k"), []byte("v1")))
			require.NoError(t, db.Put([]byte("k"), []byte("v2")))
			got, err := db.Get([]byte("k"))
			require.NoError(t, err)
			require.Equal(t, []byte("v2"), got)

			require.NoError(t, db.Delete([]byte("k")))
			_, err = db.Get([]byte("k"))
			require.ErrorIs(t, err, ErrNotFound)

			batcher, ok := db.(Batcher)
			require.True(t, ok)
			require.NoError(t, batcher.WriteBatch([]Op{
				{Key: []byte("a"), Value: []byte("1")},
				{Key: []byte("b"), Value: []byte("2")},
				{Key: []byte("a"), Delete: true},
			}))
			_, err = db.Get([]byte("a"))
			require.ErrorIs(t, err, ErrNotFound)
			got, err = db.Get([]byte("b"))
			require.NoError(t, err)
			require.Equal(t, []byte("2"), got)
		})
	}
}

func TestOverlayCommitAndDiscard(t *testing.T) {
	base := NewMemDB()
	require.NoError(t, base.Put([]byte("keep"), []byte("base")))
	require.NoError(t, base.Put([]byte("drop"), []byte("base")))

	overlay := NewOverlay(base)
	require.NoError(t, overlay.Put([]byte("keep"), []byte("overlay")))
	require.NoError(t, overlay.Delete([]byte("drop")))

	got, err := overlay.Get([]byte("keep"))
	require.NoError(t, err)
	require.Equal(t, []byte("overlay"), got)
	_, err = overlay.Get([]byte("drop"))
	require.ErrorIs(t, err, ErrNotFound)

	got, err = base.Get([]byte("keep"))
	require.NoError(t, err)
	require.Equal(t, []byte("base"), got, "base must be untouched before commit")

	overlay.Discard()
	require.Zero(t, overlay.Pending())
	got, err = overlay.Get([]byte("drop"))
	require.NoError(t, err)
	require.Equal(t, []byte("base"), got)

	require.NoError(t, overlay.Put([]byte("keep"), []byte("overlay")))
	require.NoError(t, overlay.Delete([]byte("drop")))
	require.NoError(t, overlay.Commit())
	got, err = base.Get([]byte("keep"))
	require.NoError(t, err)
	require.Equal(t, []byte("overlay"), got)
	_, err = base.Get([]byte("drop"))
	require.ErrorIs(t, err, ErrNotFound)
}

type record struct {
	Name   string
	Amount string
	Height uint64
}

func TestKVRoundTrip(t *testing.T) {
	kv := NewKV(NewMemDB())

	var out record
	ok, err := kv.KVGet([]byte("r"), &out)
	require.NoError(t, err)
	require.False(t, ok)

	in := record{Name: "ACR", Amount: "1000000000", Height: 7}
	require.NoError(t, kv.KVPut([]byte("r"), in))
	ok, err = kv.KVGet([]byte("r"), &out)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, in, out)

	var names []string
	require.NoError(t, kv.KVGetList([]byte("idx"), &names))
	require.Empty(t, names)

	for _, name := range []string{"ACR", "BTC"} {
		require.NoError(t, kv.KVAppend([]byte("idx"), []byte(name)))
	}
	require.NoError(t, kv.KVGetList([]byte("idx"), &names))
	require.Equal(t, []string{"ACR", "BTC"}, names)
}
