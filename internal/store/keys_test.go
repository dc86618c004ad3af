package store

import (
	"bytes"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestCompositeKeyOrdering checks a property the composite-key
// encoding depends on: lexicographic byte order of
// EncodeKey64_32/EncodeKey32_64 output must match numeric order of
// (a, b) pairs, so a bbolt range
// scan returns rows in the same order an ordered (a, b) comparison
// would.
func TestCompositeKeyOrdering(t *testing.T) {
	type pair struct {
		a uint64
		b uint32
	}
	rng := rand.New(rand.NewSource(1))
	pairs := make([]pair, 500)
	for i := range pairs {
		pairs[i] = pair{a: rng.Uint64() % (1 << 40), b: rng.Uint32()}
	}

	numericLess := func(i, j int) bool {
		if pairs[i].a != pairs[j].a {
			return pairs[i].a < pairs[j].a
		}
		return pairs[i].b < pairs[j].b
	}
	sort.Slice(pairs, numericLess)

	keys := make([][]byte, len(pairs))
	for i, p := range pairs {
		keys[i] = EncodeKey64_32(p.a, p.b)
	}

	for i := 1; i < len(keys); i++ {
		require.True(t, bytes.Compare(keys[i-1], keys[i]) <= 0,
			"key %d (%v) must sort <= key %d (%v)", i-1, pairs[i-1], i, pairs[i])
	}
}

func TestKey64_32RoundTrip(t *testing.T) {
	a, b := uint64(0xdeadbeefcafebabe), uint32(0x1234)
	k := EncodeKey64_32(a, b)
	require.Len(t, k, 12)
	gotA, gotB := DecodeKey64_32(k)
	require.Equal(t, a, gotA)
	require.Equal(t, b, gotB)
	require.True(t, bytes.HasPrefix(k, PrefixKey64(a)))
}

func TestKey32_64RoundTrip(t *testing.T) {
	a, b := uint32(77), uint64(0x0102030405060708)
	k := EncodeKey32_64(a, b)
	require.Len(t, k, 12)
	gotA, gotB := DecodeKey32_64(k)
	require.Equal(t, a, gotA)
	require.Equal(t, b, gotB)
	require.True(t, bytes.HasPrefix(k, PrefixKey32(a)))
}

func TestUint64RoundTrip(t *testing.T) {
	v := uint64(123456789)
	require.Equal(t, v, DecodeUint64(EncodeUint64(v)))
}
