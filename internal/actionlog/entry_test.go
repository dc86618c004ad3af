package actionlog

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEntryEncodeDecodeRoundTrip(t *testing.T) {
	e := &Entry{
		ID:          42,
		ServiceID:   7,
		TimestampMS: 1700000000000,
		Action:      ServiceCrashed(1),
		HasInvoker:  true,
		Invoker:     99,
		HasSnapshot: true,
	}
	got, err := DecodeEntry(e.Encode())
	require.NoError(t, err)
	require.Equal(t, e, got)
}

func TestSnapshotEncodeDecodeRoundTrip(t *testing.T) {
	frames := []SnapshotFrame{
		{Kind: 0, Text: "line one"},
		{Kind: 1, Text: "line two"},
		{Kind: 3, Text: "exited 0"},
	}
	got, err := decodeSnapshot(encodeSnapshot(frames))
	require.NoError(t, err)
	require.Equal(t, frames, got)
}

func TestSnapshotEncodeDecodeEmpty(t *testing.T) {
	got, err := decodeSnapshot(encodeSnapshot(nil))
	require.NoError(t, err)
	require.Len(t, got, 0)
}
