package db

import (
	"errors"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func readKey(store *Store, key string) ([]byte, error) {
	var value []byte
	err := store.View(func(txn *badger.Txn) error {
		v, err := GetValue(txn, key)
		value = v
		return err
	})
	return value, err
}

func TestStore_UpdateAndGet(t *testing.T) {
	store := newTestStore(t)

	err := store.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte("jobs/a"), []byte("value-a"))
	})
	require.NoError(t, err)

	got, err := readKey(store, "jobs/a")
	require.NoError(t, err)
	assert.Equal(t, "value-a", string(got))
}

func TestStore_GetNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := readKey(store, "nonexistent")
	assert.True(t, IsNotFound(err))
}

func TestStore_FailedUpdateWritesNothing(t *testing.T) {
	store := newTestStore(t)
	boom := errors.New("boom")

	err := store.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte("jobs/a"), []byte("half")); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = readKey(store, "jobs/a")
	assert.True(t, IsNotFound(err))
}

func TestStore_Reopen(t *testing.T) {
	dir := t.TempDir()

	store, err := NewStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte("jobs/a"), []byte("kept"))
	}))
	require.NoError(t, store.Close())

	store, err = NewStore(dir)
	require.NoError(t, err)
	defer store.Close()

	got, err := readKey(store, "jobs/a")
	require.NoError(t, err)
	assert.Equal(t, "kept", string(got))
}

func TestStore_SecondOpenFails(t *testing.T) {
	dir := t.TempDir()

	store, err := NewStore(dir)
	require.NoError(t, err)
	defer store.Close()

	_, err = NewStore(dir)
	assert.Error(t, err, "badger directory lock must reject a second open")
}
