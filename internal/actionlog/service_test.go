package actionlog

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nullstack/svcd/internal/apperr"
	"github.com/nullstack/svcd/internal/identity"
	"github.com/nullstack/svcd/internal/log"
	"github.com/nullstack/svcd/internal/store"
)

type fakeNamer struct{ names map[identity.PrincipalID]string }

func (f *fakeNamer) DisplayName(id identity.PrincipalID) (string, error) {
	if n, ok := f.names[id]; ok {
		return n, nil
	}
	return "", store.ErrShortRecord
}

func newTestLog(t *testing.T, names DisplayNamer) *Service {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "svcd.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	svc, err := New(st, log.NewDiscard(), names)
	require.NoError(t, err)
	return svc
}

func TestAppendAndLatestOrdering(t *testing.T) {
	al := newTestLog(t, nil)

	for i := 0; i < 5; i++ {
		_, err := al.Append(1, ServiceCmdStart(), nil, nil)
		require.NoError(t, err)
	}
	_, err := al.Append(2, ServiceCmdStop(), nil, nil)
	require.NoError(t, err)

	recs, err := al.Latest(1, 3)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	// Latest reverse-scans: first returned record must be the most
	// recently appended one for that service.
	for i := 1; i < len(recs); i++ {
		require.GreaterOrEqual(t, recs[i-1].Entry.ID, recs[i].Entry.ID)
	}
}

func TestAppendWithSnapshotStoresConsoleSeparately(t *testing.T) {
	al := newTestLog(t, nil)
	frames := []SnapshotFrame{{Kind: 1, Text: "boom"}}
	id, err := al.Append(3, ServiceCrashed(9), nil, frames)
	require.NoError(t, err)

	got, err := al.Console(3, id)
	require.NoError(t, err)
	require.Equal(t, frames, got)

	rec, err := al.Details(3, id)
	require.NoError(t, err)
	require.True(t, rec.Entry.HasSnapshot)
	require.Equal(t, int32(9), rec.Entry.Action.Code)
}

func TestConsoleLookupMissingReturnsInvalidLog(t *testing.T) {
	al := newTestLog(t, nil)
	_, err := al.Console(1, 999)
	require.Error(t, err)
	require.True(t, apperr.Is(err, "invalid_log"))
}

func TestAppendResolvesInvoker(t *testing.T) {
	invoker := identity.PrincipalID(5)
	al := newTestLog(t, &fakeNamer{names: map[identity.PrincipalID]string{5: "alice"}})

	id, err := al.Append(1, ServiceCmdStart(), &invoker, nil)
	require.NoError(t, err)

	rec, err := al.Details(1, id)
	require.NoError(t, err)
	require.NotNil(t, rec.Invoker)
	require.Equal(t, "alice", rec.Invoker.Name)
}

func TestRangeFiltersByTimestamp(t *testing.T) {
	al := newTestLog(t, nil)
	id1, err := al.Append(4, ServiceCmdStart(), nil, nil)
	require.NoError(t, err)

	min, max, err := al.MinMax(4)
	require.NoError(t, err)
	require.Equal(t, min, max, "a single entry's min and max timestamps must match")

	recs, err := al.Range(4, min-1, max+1)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, id1, recs[0].Entry.ID)

	recs, err = al.Range(4, max+1000, max+2000)
	require.NoError(t, err)
	require.Len(t, recs, 0)
}

func TestCleanupRemovesOldEntries(t *testing.T) {
	al := newTestLog(t, nil)
	_, err := al.Append(5, ServiceCmdStart(), nil, []SnapshotFrame{{Kind: 0, Text: "x"}})
	require.NoError(t, err)

	require.NoError(t, al.Cleanup(9999999999999))

	_, _, err = al.MinMax(5)
	require.NoError(t, err)
	recs, err := al.Range(5, 0, 9999999999999)
	require.NoError(t, err)
	require.Len(t, recs, 0, "cleanup with a far-future cutoff must remove every entry")
}
