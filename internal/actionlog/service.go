package actionlog

import (
	"time"

	"github.com/nullstack/svcd/internal/apperr"
	"github.com/nullstack/svcd/internal/identity"
	"github.com/nullstack/svcd/internal/log"
	"github.com/nullstack/svcd/internal/store"
)

// DisplayNamer resolves a principal id to a display name. Implemented
// by *auth.Service; taken as an interface here so the Action Log calls
// into Auth's actor handle rather than holding a direct borrow of its
// principal map.
type DisplayNamer interface {
	DisplayName(identity.PrincipalID) (string, error)
}

// Service is the Action Log component. It has no actor
// loop of its own: the Store already serializes writers, and reads
// involve no mutable shared state beyond the Store.
type Service struct {
	st      *store.Store
	lg      *log.Logger
	entries *store.Tree
	console *store.Tree
	names   DisplayNamer
}

func New(st *store.Store, lg *log.Logger, names DisplayNamer) (*Service, error) {
	entries, err := st.OpenTree(store.TreeLogEntries)
	if err != nil {
		return nil, err
	}
	console, err := st.OpenTree(store.TreeLogConsole)
	if err != nil {
		return nil, err
	}
	return &Service{st: st, lg: lg, entries: entries, console: console, names: names}, nil
}

// InvokerInfo is the resolved {id, name} pair for a log entry's
// invoker.
type InvokerInfo struct {
	ID   uint64
	Name string
}

// Record pairs a decoded Entry with its optionally-resolved invoker.
type Record struct {
	Entry   Entry
	Invoker *InvokerInfo
}

// Append writes entry plus its optional snapshot atomically in a
// single transaction.
func (s *Service) Append(sid uint32, action Action, invoker *identity.PrincipalID, snapshot []SnapshotFrame) (uint64, error) {
	id, err := s.st.GenerateID()
	if err != nil {
		return 0, err
	}
	e := Entry{
		ID:          id,
		ServiceID:   sid,
		TimestampMS: time.Now().UnixMilli(),
		Action:      action,
		HasSnapshot: snapshot != nil,
	}
	if invoker != nil {
		e.HasInvoker = true
		e.Invoker = uint64(*invoker)
	}
	key := store.EncodeKey32_64(sid, id)
	err = s.st.Transaction([]string{store.TreeLogEntries, store.TreeLogConsole}, func(tx *store.Txn) error {
		tx.Tree(store.TreeLogEntries).Insert(key, e.Encode())
		if snapshot != nil {
			tx.Tree(store.TreeLogConsole).Insert(key, encodeSnapshot(snapshot))
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Service) resolve(e *Entry) *InvokerInfo {
	if !e.HasInvoker || s.names == nil {
		return nil
	}
	name, err := s.names.DisplayName(identity.PrincipalID(e.Invoker))
	if err != nil {
		return &InvokerInfo{ID: e.Invoker, Name: "unknown"}
	}
	return &InvokerInfo{ID: e.Invoker, Name: name}
}

// Latest reverse-scans sid's prefix for the n most recent entries,
// resolving invokers via a per-query cache.
func (s *Service) Latest(sid uint32, n int) ([]Record, error) {
	kvs, err := s.entries.RangeReverse(store.PrefixKey32(sid), store.PrefixKey32(sid+1))
	if err != nil {
		return nil, err
	}
	cache := map[uint64]*InvokerInfo{}
	var out []Record
	for _, kv := range kvs {
		if len(out) >= n {
			break
		}
		e, err := DecodeEntry(kv.Value)
		if err != nil {
			s.lg.Warn("skipping corrupt log entry", log.KVErr(err))
			continue
		}
		rec := Record{Entry: *e}
		if e.HasInvoker {
			if info, ok := cache[e.Invoker]; ok {
				rec.Invoker = info
			} else {
				rec.Invoker = s.resolve(e)
				cache[e.Invoker] = rec.Invoker
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

// Range forward-scans sid's prefix, filtering by millisecond timestamp
// bounds [from, to].
func (s *Service) Range(sid uint32, from, to int64) ([]Record, error) {
	kvs, err := s.entries.Range(store.PrefixKey32(sid), store.PrefixKey32(sid+1))
	if err != nil {
		return nil, err
	}
	var out []Record
	for _, kv := range kvs {
		e, err := DecodeEntry(kv.Value)
		if err != nil {
			s.lg.Warn("skipping corrupt log entry", log.KVErr(err))
			continue
		}
		if e.TimestampMS < from || e.TimestampMS > to {
			continue
		}
		out = append(out, Record{Entry: *e, Invoker: s.resolve(e)})
	}
	return out, nil
}

// MinMax returns sid's first and last entry timestamp, via one
// forward and one reverse step.
func (s *Service) MinMax(sid uint32) (minMS, maxMS int64, err error) {
	lo, hi := store.PrefixKey32(sid), store.PrefixKey32(sid+1)
	firstKV, found, err := s.entries.First(lo, hi)
	if err != nil {
		return 0, 0, err
	}
	if !found {
		return 0, 0, nil
	}
	lastKV, _, err := s.entries.Last(lo, hi)
	if err != nil {
		return 0, 0, err
	}
	first, err := DecodeEntry(firstKV.Value)
	if err != nil {
		return 0, 0, apperr.Serialization(err)
	}
	last, err := DecodeEntry(lastKV.Value)
	if err != nil {
		return 0, 0, apperr.Serialization(err)
	}
	return first.TimestampMS, last.TimestampMS, nil
}

// Console is the point lookup for a single entry's snapshot.
func (s *Service) Console(sid uint32, logID uint64) ([]SnapshotFrame, error) {
	v, found, err := s.console.Get(store.EncodeKey32_64(sid, logID))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apperr.InvalidLog(logID)
	}
	return decodeSnapshot(v)
}

// Details is the point lookup for a single entry.
func (s *Service) Details(sid uint32, logID uint64) (*Record, error) {
	v, found, err := s.entries.Get(store.EncodeKey32_64(sid, logID))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apperr.InvalidLog(logID)
	}
	e, err := DecodeEntry(v)
	if err != nil {
		return nil, apperr.Serialization(err)
	}
	return &Record{Entry: *e, Invoker: s.resolve(e)}, nil
}

// Cleanup removes every entry (and its snapshot, if any) older than
// beforeMS from both trees in a single batch, then logs a summary.
func (s *Service) Cleanup(beforeMS int64) error {
	kvs, err := s.entries.ScanPrefix(nil)
	if err != nil {
		return err
	}
	var batch store.Batch
	var removed int
	for _, kv := range kvs {
		e, err := DecodeEntry(kv.Value)
		if err != nil {
			s.lg.Warn("skipping corrupt log entry during cleanup", log.KVErr(err))
			continue
		}
		if e.TimestampMS >= beforeMS {
			continue
		}
		batch.Removes = append(batch.Removes,
			store.BatchOp{Tree: store.TreeLogEntries, Key: kv.Key},
			store.BatchOp{Tree: store.TreeLogConsole, Key: kv.Key},
		)
		removed++
	}
	if len(batch.Removes) == 0 {
		return nil
	}
	if err := s.st.ApplyBatch(batch); err != nil {
		return err
	}
	s.lg.Info("action log cleanup complete",
		log.KV("removed_entries", removed), log.KV("before_ms", beforeMS))
	return nil
}
