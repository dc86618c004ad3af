package log

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLevelFromString(t *testing.T) {
	cases := map[string]Level{
		"debug": DEBUG, "DEBUG": DEBUG,
		"": INFO, "info": INFO,
		"warn": WARN, "warning": WARN,
		"error": ERROR,
		"crit":  CRITICAL, "critical": CRITICAL,
		"off": OFF,
	}
	for in, want := range cases {
		got, err := LevelFromString(in)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}

	_, err := LevelFromString("nonsense")
	require.ErrorIs(t, err, ErrInvalidLevel)
}

type bufCloser struct {
	mtx sync.Mutex
	buf strings.Builder
}

func (b *bufCloser) Write(p []byte) (int, error) {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	return b.buf.Write(p)
}
func (b *bufCloser) Close() error { return nil }
func (b *bufCloser) String() string {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	return b.buf.String()
}

func TestLoggerRespectsLevel(t *testing.T) {
	w := &bufCloser{}
	lg := New(w)
	require.NoError(t, lg.SetLevel(WARN))

	lg.Info("should be suppressed")
	lg.Warn("should appear", KV("k", "v"))

	out := w.String()
	require.NotContains(t, out, "should be suppressed")
	require.Contains(t, out, "should appear")
}

func TestKVErrHandlesNil(t *testing.T) {
	p := KVErr(nil)
	require.Equal(t, "error", p.Name)
	require.Equal(t, "", p.Value)
}

func TestDiscardLoggerNeverPanics(t *testing.T) {
	lg := NewDiscard()
	lg.Info("x")
	lg.Critical("y", KV("a", 1))
	require.NoError(t, lg.Close())
}
