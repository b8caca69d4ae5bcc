package jobstore

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

type indexRef struct {
	seq uint64
	id  string
}

// scanIndex reads up to limit entries of a sequence index in key order.
// A limit <= 0 reads all entries.
func scanIndex(txn *badger.Txn, prefix string, limit int) ([]indexRef, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	it := txn.NewIterator(opts)
	defer it.Close()

	var refs []indexRef
	for it.Rewind(); it.Valid() && (limit <= 0 || len(refs) < limit); it.Next() {
		item := it.Item()
		key := string(item.Key())
		seq, err := strconv.ParseUint(strings.TrimPrefix(key, prefix), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid index key %q: %w", key, err)
		}
		id, err := item.ValueCopy(nil)
		if err != nil {
			return nil, err
		}
		refs = append(refs, indexRef{seq: seq, id: string(id)})
	}
	return refs, nil
}

func countPrefix(txn *badger.Txn, prefix string) (int, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = []byte(prefix)
	it := txn.NewIterator(opts)
	defer it.Close()

	n := 0
	for it.Rewind(); it.Valid(); it.Next() {
		n++
	}
	return n, nil
}

func sortRefs(refs []indexRef) {
	slices.SortFunc(refs, func(a, b indexRef) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}
		return 0
	})
}
