package store

import (
	"bytes"
	"io"
	"os"

	"github.com/google/renameio"
	"github.com/klauspost/compress/gzip"
	"go.etcd.io/bbolt"

	"github.com/nullstack/svcd/internal/apperr"
)

// DumpTree is one tree's worth of exported state: a tree name, an
// opaque config blob, and its key/value pairs. Config is currently
// unused by bbolt (no per-bucket config beyond its name) but is kept
// so the wire format leaves room for future per-tree metadata.
type DumpTree struct {
	Name   string
	Config []byte
	Pairs  []KV
}

// Export walks every known tree and serialises it with the internal
// codec, in a form Import can restore byte-for-byte.
func (s *Store) Export() ([]DumpTree, error) {
	var dumps []DumpTree
	err := s.db.View(func(tx *bbolt.Tx) error {
		for _, name := range AllTrees {
			b := tx.Bucket([]byte(name))
			if b == nil {
				continue
			}
			var pairs []KV
			c := b.Cursor()
			for k, v := c.First(); k != nil; k, v = c.Next() {
				pairs = append(pairs, KV{
					Key:   append([]byte(nil), k...),
					Value: append([]byte(nil), v...),
				})
			}
			dumps = append(dumps, DumpTree{Name: name, Pairs: pairs})
		}
		return nil
	})
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return dumps, nil
}

// Import restores exactly the state described by dumps, recreating
// every tree from scratch. It MUST round-trip Export: import(export(db))
// is equivalent to db up to tree membership and key/value byte
// equality.
func (s *Store) Import(dumps []DumpTree) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, d := range dumps {
			name := []byte(d.Name)
			if err := tx.DeleteBucket(name); err != nil && err != bbolt.ErrBucketNotFound {
				return err
			}
			b, err := tx.CreateBucket(name)
			if err != nil {
				return err
			}
			for _, kv := range d.Pairs {
				if err := b.Put(kv.Key, kv.Value); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// encodeDumps/decodeDumps give Export/Import a stable on-disk
// representation: a length-prefixed record per tree, gzip-compressed,
// written atomically via google/renameio so a crash mid-export never
// leaves a truncated file for a later `import` to misread.
func encodeDumps(dumps []DumpTree) []byte {
	w := NewWriter()
	w.PutUint32(uint32(len(dumps)))
	for _, d := range dumps {
		w.PutString(d.Name)
		w.PutBytes(d.Config)
		w.PutUint32(uint32(len(d.Pairs)))
		for _, kv := range d.Pairs {
			w.PutBytes(kv.Key)
			w.PutBytes(kv.Value)
		}
	}
	return w.Bytes()
}

func decodeDumps(b []byte) ([]DumpTree, error) {
	r := NewReader(b)
	n, err := r.Uint32()
	if err != nil {
		return nil, apperr.Serialization(err)
	}
	dumps := make([]DumpTree, 0, n)
	for i := uint32(0); i < n; i++ {
		name, err := r.String()
		if err != nil {
			return nil, apperr.Serialization(err)
		}
		cfg, err := r.Bytes()
		if err != nil {
			return nil, apperr.Serialization(err)
		}
		npairs, err := r.Uint32()
		if err != nil {
			return nil, apperr.Serialization(err)
		}
		pairs := make([]KV, 0, npairs)
		for j := uint32(0); j < npairs; j++ {
			k, err := r.Bytes()
			if err != nil {
				return nil, apperr.Serialization(err)
			}
			v, err := r.Bytes()
			if err != nil {
				return nil, apperr.Serialization(err)
			}
			pairs = append(pairs, KV{Key: k, Value: v})
		}
		dumps = append(dumps, DumpTree{Name: name, Config: cfg, Pairs: pairs})
	}
	return dumps, nil
}

// ExportToFile writes the current store state to path, gzip-compressed,
// replacing any existing file atomically.
func (s *Store) ExportToFile(path string) error {
	dumps, err := s.Export()
	if err != nil {
		return err
	}
	raw := encodeDumps(dumps)

	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(raw); err != nil {
		return apperr.Internal(err)
	}
	if err := gw.Close(); err != nil {
		return apperr.Internal(err)
	}

	t, err := renameio.TempFile("", path)
	if err != nil {
		return apperr.Internal(err)
	}
	defer t.Cleanup()
	if _, err := t.Write(buf.Bytes()); err != nil {
		return apperr.Internal(err)
	}
	if err := t.CloseAtomicallyReplace(); err != nil {
		return apperr.Internal(err)
	}
	return nil
}

// ImportFromFile reverses ExportToFile and replaces the store's
// current contents.
func (s *Store) ImportFromFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return apperr.Internal(err)
	}
	defer f.Close()
	gr, err := gzip.NewReader(f)
	if err != nil {
		return apperr.Internal(err)
	}
	defer gr.Close()
	raw, err := io.ReadAll(gr)
	if err != nil {
		return apperr.Internal(err)
	}
	dumps, err := decodeDumps(raw)
	if err != nil {
		return err
	}
	return s.Import(dumps)
}
