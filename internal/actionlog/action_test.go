package actionlog

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nullstack/svcd/internal/store"
)

func TestActionEncodeDecodeRoundTrip(t *testing.T) {
	cases := []Action{
		SystemStartup(),
		ServiceCmdStart(),
		ServiceStarted(),
		ServiceCrashed(137),
		ServiceMaxRetries(6),
		Stdin("shutdown\n"),
		ServiceStartFailed("exec: not found"),
	}
	for _, a := range cases {
		w := store.NewWriter()
		a.encode(w)
		got, err := decodeAction(store.NewReader(w.Bytes()))
		require.NoError(t, err)
		require.Equal(t, a, got)
	}
}

func TestKindString(t *testing.T) {
	require.Equal(t, "ServiceCrashed", KindServiceCrashed.String())
	require.Equal(t, "Stdin", KindStdin.String())
	require.Equal(t, "Unknown", Kind(255).String())
}
