package actionlog

import "github.com/nullstack/svcd/internal/store"

// Entry is one append-only record.
type Entry struct {
	ID          uint64
	ServiceID   uint32
	TimestampMS int64
	Action      Action
	HasInvoker  bool
	Invoker     uint64
	HasSnapshot bool
}

func (e *Entry) Encode() []byte {
	w := store.NewWriter()
	w.PutUint64(e.ID)
	w.PutUint32(e.ServiceID)
	w.PutInt64(e.TimestampMS)
	e.Action.encode(w)
	w.PutBool(e.HasInvoker)
	w.PutUint64(e.Invoker)
	w.PutBool(e.HasSnapshot)
	return w.Bytes()
}

func DecodeEntry(b []byte) (*Entry, error) {
	r := store.NewReader(b)
	e := &Entry{}
	var err error
	if e.ID, err = r.Uint64(); err != nil {
		return nil, err
	}
	if e.ServiceID, err = r.Uint32(); err != nil {
		return nil, err
	}
	if e.TimestampMS, err = r.Int64(); err != nil {
		return nil, err
	}
	if e.Action, err = decodeAction(r); err != nil {
		return nil, err
	}
	if e.HasInvoker, err = r.Bool(); err != nil {
		return nil, err
	}
	if e.Invoker, err = r.Uint64(); err != nil {
		return nil, err
	}
	if e.HasSnapshot, err = r.Bool(); err != nil {
		return nil, err
	}
	return e, nil
}

// SnapshotFrame mirrors internal/supervisor's ConsoleFrame without
// importing that package (actionlog is a dependency of supervisor,
// not the reverse), with its bytes lifted to a string for storage.
type SnapshotFrame struct {
	Kind uint8
	Text string
}

func encodeSnapshot(frames []SnapshotFrame) []byte {
	w := store.NewWriter()
	w.PutUint32(uint32(len(frames)))
	for _, f := range frames {
		w.PutUint8(f.Kind)
		w.PutString(f.Text)
	}
	return w.Bytes()
}

func decodeSnapshot(b []byte) ([]SnapshotFrame, error) {
	r := store.NewReader(b)
	n, err := r.Uint32()
	if err != nil {
		return nil, err
	}
	out := make([]SnapshotFrame, 0, n)
	for i := uint32(0); i < n; i++ {
		kind, err := r.Uint8()
		if err != nil {
			return nil, err
		}
		text, err := r.String()
		if err != nil {
			return nil, err
		}
		out = append(out, SnapshotFrame{Kind: kind, Text: text})
	}
	return out, nil
}
