// Package store implements the embedded, crash-consistent ordered
// key/value engine the rest of the daemon persists through, on top of
// go.etcd.io/bbolt. bbolt buckets are the store's named "trees";
// bbolt's single-writer MVCC transactions give all-or-nothing
// visibility across multiple trees in one Transaction call, without
// any extra locking on our part.
package store

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"go.etcd.io/bbolt"

	"github.com/nullstack/svcd/internal/apperr"
)

// Required trees.
const (
	TreeUser         = "USER"
	TreeRelEmailUID  = "REL_EMAIL_UID"
	TreeMeta         = "META"
	TreePermService  = "PERM_SERVICE"
	TreeLogins       = "LOGINS"
	TreeRelLoginSeen = "REL_LOGIN_SEEN"
	TreeLogEntries   = "LOG_ENTRIES"
	TreeLogConsole   = "LOG_CONSOLE"

	seqBucket = "__seq__"
	seqKeyLog = "log_id"
)

var AllTrees = []string{
	TreeUser, TreeRelEmailUID, TreeMeta, TreePermService,
	TreeLogins, TreeRelLoginSeen, TreeLogEntries, TreeLogConsole,
}

// Store is the process-wide handle onto the embedded database. It is
// meant to be opened once at process start and shared (the handle
// itself is safe for concurrent use; bbolt serializes writers
// internally).
type Store struct {
	db   *bbolt.DB
	lock *flock.Flock
	path string
}

// Open acquires an exclusive file lock beside the database file and
// opens (creating if necessary) the bbolt database. A second Open
// against the same path fails fast rather than blocking, because
// sharing one process's store across two daemon instances would
// silently corrupt the supervisor's view of running children.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil && !os.IsExist(err) {
		return nil, apperr.Internal(err)
	}
	lk := flock.New(path + ".lock")
	ok, err := lk.TryLock()
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if !ok {
		panic(fmt.Sprintf("store: another process already holds the lock on %s", path))
	}
	db, err := bbolt.Open(path, 0640, nil)
	if err != nil {
		lk.Unlock()
		return nil, apperr.Internal(err)
	}
	s := &Store{db: db, lock: lk, path: path}
	if err := s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range AllTrees {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		_, err := tx.CreateBucketIfNotExists([]byte(seqBucket))
		return err
	}); err != nil {
		db.Close()
		lk.Unlock()
		return nil, apperr.Internal(err)
	}
	return s, nil
}

// Close releases the database and the process-wide lock. Disposal is
// at process exit.
func (s *Store) Close() error {
	err := s.db.Close()
	s.lock.Unlock()
	return err
}

// OpenTree returns a handle to a named ordered tree. Unlike sled, bbolt
// buckets must already exist by the time Open() returns (they are all
// created eagerly above), so this call mainly validates the name and
// wraps apperr.TreeOpenFailed on anything unexpected.
func (s *Store) OpenTree(name string) (*Tree, error) {
	var ok bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		ok = tx.Bucket([]byte(name)) != nil
		return nil
	})
	if err != nil {
		return nil, apperr.TreeOpenFailed(name, err)
	}
	if !ok {
		return nil, apperr.TreeOpenFailed(name, fmt.Errorf("tree does not exist"))
	}
	return &Tree{s: s, name: []byte(name)}, nil
}

// GenerateID returns a monotonically increasing id, used for log
// entry keys.
func (s *Store) GenerateID() (id uint64, err error) {
	err = s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(seqBucket))
		n, e := b.NextSequence()
		if e != nil {
			return e
		}
		id = n
		return nil
	})
	if err != nil {
		err = apperr.Internal(err)
	}
	return
}

// EnsureSeqAtLeast advances the id generator's sequence so the next
// GenerateID() call returns at least n+1. Used once at bootstrap so
// generated principal ids never collide with the fixed root id: ids
// are never recycled, and root always holds the smallest valid id.
func (s *Store) EnsureSeqAtLeast(n uint64) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(seqBucket))
		if b.Sequence() < n {
			return b.SetSequence(n)
		}
		return nil
	})
	if err != nil {
		return apperr.Internal(err)
	}
	return nil
}

// Tree is an ordered key/value namespace (a bbolt bucket).
type Tree struct {
	s    *Store
	name []byte
}

func (t *Tree) Get(key []byte) (val []byte, found bool, err error) {
	err = t.s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(t.name).Get(key)
		if v != nil {
			found = true
			val = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		err = apperr.Internal(err)
	}
	return
}

func (t *Tree) ContainsKey(key []byte) (bool, error) {
	_, found, err := t.Get(key)
	return found, err
}

func (t *Tree) Insert(key, val []byte) error {
	err := t.s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(t.name).Put(key, val)
	})
	if err != nil {
		return apperr.Internal(err)
	}
	return nil
}

func (t *Tree) Remove(key []byte) error {
	err := t.s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(t.name).Delete(key)
	})
	if err != nil {
		return apperr.Internal(err)
	}
	return nil
}

// FetchAndUpdate atomically replaces the value at key with fn(old),
// where old is nil if the key is absent; a nil result deletes the key.
func (t *Tree) FetchAndUpdate(key []byte, fn func(old []byte) []byte) (newVal []byte, err error) {
	err = t.s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(t.name)
		old := b.Get(key)
		var oldCopy []byte
		if old != nil {
			oldCopy = append([]byte(nil), old...)
		}
		newVal = fn(oldCopy)
		if newVal == nil {
			return b.Delete(key)
		}
		return b.Put(key, newVal)
	})
	if err != nil {
		err = apperr.Internal(err)
	}
	return
}

// CompareAndSwap sets key to newVal only if its current value equals
// expected (nil expected means "key must be absent"). Used when
// changing a principal's email to claim the new address without
// losing uniqueness.
func (t *Tree) CompareAndSwap(key, expected, newVal []byte) (swapped bool, err error) {
	err = t.s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(t.name)
		cur := b.Get(key)
		if !bytes.Equal(cur, expected) {
			return nil
		}
		swapped = true
		if newVal == nil {
			return b.Delete(key)
		}
		return b.Put(key, newVal)
	})
	if err != nil {
		err = apperr.Internal(err)
	}
	return
}

// KV is one key/value pair returned from a range scan.
type KV struct {
	Key   []byte
	Value []byte
}

// Range returns all entries with lo <= key < hi, in ascending key
// order. A nil hi means "no upper bound".
func (t *Tree) Range(lo, hi []byte) ([]KV, error) {
	var out []KV
	err := t.s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(t.name).Cursor()
		for k, v := c.Seek(lo); k != nil; k, v = c.Next() {
			if hi != nil && bytes.Compare(k, hi) >= 0 {
				break
			}
			out = append(out, KV{Key: append([]byte(nil), k...), Value: append([]byte(nil), v...)})
		}
		return nil
	})
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return out, nil
}

// RangeReverse is Range but walking from the end backward; used by
// action-log "Latest" queries which scan a service's prefix in
// reverse.
func (t *Tree) RangeReverse(lo, hi []byte) ([]KV, error) {
	fwd, err := t.Range(lo, hi)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(fwd)-1; i < j; i, j = i+1, j-1 {
		fwd[i], fwd[j] = fwd[j], fwd[i]
	}
	return fwd, nil
}

// First returns the first entry with lo <= key < hi, without reading
// the rest of the range.
func (t *Tree) First(lo, hi []byte) (kv KV, found bool, err error) {
	err = t.s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(t.name).Cursor()
		k, v := c.Seek(lo)
		if k == nil || (hi != nil && bytes.Compare(k, hi) >= 0) {
			return nil
		}
		found = true
		kv = KV{Key: append([]byte(nil), k...), Value: append([]byte(nil), v...)}
		return nil
	})
	if err != nil {
		return KV{}, false, apperr.Internal(err)
	}
	return kv, found, nil
}

// Last returns the last entry with lo <= key < hi, without reading the
// rest of the range.
func (t *Tree) Last(lo, hi []byte) (kv KV, found bool, err error) {
	err = t.s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(t.name).Cursor()
		var k, v []byte
		if hi != nil {
			k, v = c.Seek(hi)
			if k == nil {
				k, v = c.Last()
			} else {
				k, v = c.Prev()
			}
		} else {
			k, v = c.Last()
		}
		if k == nil || (lo != nil && bytes.Compare(k, lo) < 0) {
			return nil
		}
		found = true
		kv = KV{Key: append([]byte(nil), k...), Value: append([]byte(nil), v...)}
		return nil
	})
	if err != nil {
		return KV{}, false, apperr.Internal(err)
	}
	return kv, found, nil
}

// ScanPrefix returns every key beginning with prefix, in ascending order.
func (t *Tree) ScanPrefix(prefix []byte) ([]KV, error) {
	var out []KV
	err := t.s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(t.name).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			out = append(out, KV{Key: append([]byte(nil), k...), Value: append([]byte(nil), v...)})
		}
		return nil
	})
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return out, nil
}

// Batch is a set of keys queued for a single bulk removal.
type Batch struct {
	Removes []BatchOp
}

type BatchOp struct {
	Tree string
	Key  []byte
}

// ApplyBatch removes every listed key across potentially multiple
// trees in one transaction.
func (s *Store) ApplyBatch(b Batch) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		for _, op := range b.Removes {
			bk := tx.Bucket([]byte(op.Tree))
			if bk == nil {
				return fmt.Errorf("unknown tree %q", op.Tree)
			}
			if err := bk.Delete(op.Key); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return apperr.Internal(err)
	}
	return nil
}

// Txn is a handle to an in-flight multi-tree transaction.
type Txn struct {
	btx *bbolt.Tx
}

func (tx *Txn) Tree(name string) *TxTree {
	return &TxTree{b: tx.btx.Bucket([]byte(name))}
}

type TxTree struct {
	b *bbolt.Bucket
}

func (t *TxTree) Insert(key, val []byte) error { return t.b.Put(key, val) }
func (t *TxTree) Remove(key []byte) error      { return t.b.Delete(key) }

func (t *TxTree) Get(key []byte) (val []byte, found bool) {
	v := t.b.Get(key)
	if v == nil {
		return nil, false
	}
	return append([]byte(nil), v...), true
}

// Transaction runs fn with atomic, all-or-nothing visibility across
// every named tree; used for (a) creating a user (USER + REL_EMAIL_UID
// together) and (b) appending a log entry plus its console snapshot.
func (s *Store) Transaction(names []string, fn func(*Txn) error) error {
	err := s.db.Update(func(btx *bbolt.Tx) error {
		for _, n := range names {
			if btx.Bucket([]byte(n)) == nil {
				return fmt.Errorf("unknown tree %q", n)
			}
		}
		return fn(&Txn{btx: btx})
	})
	if err != nil {
		return apperr.Internal(err)
	}
	return nil
}
