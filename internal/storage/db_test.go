package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]Database {
	ldb, err := NewLevelDB(filepath.Join(t.TempDir(), "kv"))
	require.NoError(t, err)
	t.Cleanup(ldb.Close)
	return map[string]Database{"mem": NewMemDB(), "leveldb": ldb}
}

func TestDatabaseGetPut(t *testing.T) {
	for name, db := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := db.Get([]byte("missing"))
			require.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, db.Put([]byte("policy"), []byte("v1")))
			value, err := db.Get([]byte("policy"))
			require.NoError(t, err)
			require.Equal(t, []byte("v1"), value)

			ok, err := db.Has([]byte("policy"))
			require.NoError(t, err)
			require.True(t, ok)
		})
	}
}

func TestDatabaseWriteBatchAndIterate(t *testing.T) {
	for name, db := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, db.Put([]byte("journal/3"), []byte("stale")))
			require.NoError(t, db.WriteBatch(map[string][]byte{
				"journal/2": []byte("b"),
				"journal/1": []byte("a"),
				"journal/3": nil,
				"other":     []byte("x"),
			}))

			var keys []string
			require.NoError(t, db.Iterate([]byte("journal/"), func(key, value []byte) bool {
				keys = append(keys, string(key)+"="+string(value))
				return true
			}))
			require.Equal(t, []string{"journal/1=a", "journal/2=b"}, keys)

			var first []string
			require.NoError(t, db.Iterate([]byte("journal/"), func(key, _ []byte) bool {
				first = append(first, string(key))
				return false
			}))
			require.Equal(t, []string{"journal/1"}, first)
		})
	}
}
