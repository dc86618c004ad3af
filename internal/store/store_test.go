package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "svcd.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestOpenCreatesAllTrees(t *testing.T) {
	st := openTemp(t)
	for _, name := range AllTrees {
		tr, err := st.OpenTree(name)
		require.NoError(t, err)
		require.NotNil(t, tr)
	}
}

func TestTreeInsertGetRemove(t *testing.T) {
	st := openTemp(t)
	tr, err := st.OpenTree(TreeUser)
	require.NoError(t, err)

	_, found, err := tr.Get([]byte("k"))
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, tr.Insert([]byte("k"), []byte("v1")))
	v, found, err := tr.Get([]byte("k"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "v1", string(v))

	require.NoError(t, tr.Remove([]byte("k")))
	_, found, err = tr.Get([]byte("k"))
	require.NoError(t, err)
	require.False(t, found)
}

func TestTreeCompareAndSwap(t *testing.T) {
	st := openTemp(t)
	tr, err := st.OpenTree(TreeRelEmailUID)
	require.NoError(t, err)

	swapped, err := tr.CompareAndSwap([]byte("a@b.com"), nil, []byte("uid1"))
	require.NoError(t, err)
	require.True(t, swapped)

	swapped, err = tr.CompareAndSwap([]byte("a@b.com"), nil, []byte("uid2"))
	require.NoError(t, err)
	require.False(t, swapped, "a second claim against an already-set key must fail")

	swapped, err = tr.CompareAndSwap([]byte("a@b.com"), []byte("uid1"), []byte("uid2"))
	require.NoError(t, err)
	require.True(t, swapped)
}

func TestGenerateIDMonotonic(t *testing.T) {
	st := openTemp(t)
	var last uint64
	for i := 0; i < 50; i++ {
		id, err := st.GenerateID()
		require.NoError(t, err)
		require.Greater(t, id, last)
		last = id
	}
}

func TestEnsureSeqAtLeast(t *testing.T) {
	st := openTemp(t)
	require.NoError(t, st.EnsureSeqAtLeast(1000))
	id, err := st.GenerateID()
	require.NoError(t, err)
	require.Greater(t, id, uint64(1000))
}

func TestTransactionAllOrNothing(t *testing.T) {
	st := openTemp(t)
	err := st.Transaction([]string{TreeUser, TreeRelEmailUID}, func(tx *Txn) error {
		require.NoError(t, tx.Tree(TreeUser).Insert([]byte("u1"), []byte("principal")))
		require.NoError(t, tx.Tree(TreeRelEmailUID).Insert([]byte("e1"), []byte("u1")))
		return nil
	})
	require.NoError(t, err)

	userTree, err := st.OpenTree(TreeUser)
	require.NoError(t, err)
	_, found, err := userTree.Get([]byte("u1"))
	require.NoError(t, err)
	require.True(t, found)

	emailTree, err := st.OpenTree(TreeRelEmailUID)
	require.NoError(t, err)
	_, found, err = emailTree.Get([]byte("e1"))
	require.NoError(t, err)
	require.True(t, found)
}

func TestApplyBatchRemovesAcrossTrees(t *testing.T) {
	st := openTemp(t)
	entries, err := st.OpenTree(TreeLogEntries)
	require.NoError(t, err)
	console, err := st.OpenTree(TreeLogConsole)
	require.NoError(t, err)
	require.NoError(t, entries.Insert([]byte("k1"), []byte("entry")))
	require.NoError(t, console.Insert([]byte("k1"), []byte("console")))

	err = st.ApplyBatch(Batch{Removes: []BatchOp{
		{Tree: TreeLogEntries, Key: []byte("k1")},
		{Tree: TreeLogConsole, Key: []byte("k1")},
	}})
	require.NoError(t, err)

	_, found, err := entries.Get([]byte("k1"))
	require.NoError(t, err)
	require.False(t, found)
	_, found, err = console.Get([]byte("k1"))
	require.NoError(t, err)
	require.False(t, found)
}

func TestExportImportRoundTrip(t *testing.T) {
	src := openTemp(t)
	tr, err := src.OpenTree(TreeUser)
	require.NoError(t, err)
	require.NoError(t, tr.Insert([]byte("u1"), []byte("alice")))
	require.NoError(t, tr.Insert([]byte("u2"), []byte("bob")))

	dumpPath := filepath.Join(t.TempDir(), "dump.gz")
	require.NoError(t, src.ExportToFile(dumpPath))

	dst := openTemp(t)
	require.NoError(t, dst.ImportFromFile(dumpPath))

	dstTree, err := dst.OpenTree(TreeUser)
	require.NoError(t, err)
	v, found, err := dstTree.Get([]byte("u1"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "alice", string(v))

	v, found, err = dstTree.Get([]byte("u2"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "bob", string(v))
}
