package store

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriterReaderRoundTrip(t *testing.T) {
	w := NewWriter()
	w.PutUint8(7)
	w.PutBool(true)
	w.PutBool(false)
	w.PutUint32(1 << 30)
	w.PutUint64(1 << 62)
	w.PutInt32(-5)
	w.PutInt64(-9000)
	w.PutString("hello, service")
	w.PutBytes([]byte{0xde, 0xad, 0xbe, 0xef})

	r := NewReader(w.Bytes())

	u8, err := r.Uint8()
	require.NoError(t, err)
	require.Equal(t, uint8(7), u8)

	b1, err := r.Bool()
	require.NoError(t, err)
	require.True(t, b1)

	b2, err := r.Bool()
	require.NoError(t, err)
	require.False(t, b2)

	u32, err := r.Uint32()
	require.NoError(t, err)
	require.Equal(t, uint32(1<<30), u32)

	u64, err := r.Uint64()
	require.NoError(t, err)
	require.Equal(t, uint64(1<<62), u64)

	i32, err := r.Int32()
	require.NoError(t, err)
	require.Equal(t, int32(-5), i32)

	i64, err := r.Int64()
	require.NoError(t, err)
	require.Equal(t, int64(-9000), i64)

	s, err := r.String()
	require.NoError(t, err)
	require.Equal(t, "hello, service", s)

	bs, err := r.Bytes()
	require.NoError(t, err)
	require.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, bs)

	require.True(t, r.Done())
}

func TestReaderShortRecord(t *testing.T) {
	r := NewReader([]byte{1, 2})
	_, err := r.Uint32()
	require.ErrorIs(t, err, ErrShortRecord)
}
