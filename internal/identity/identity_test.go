package identity

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPermissionBitmask(t *testing.T) {
	require.True(t, PermAll.Has(PermStart))
	require.True(t, PermAll.Has(PermKill))
	require.False(t, PermNone.Has(PermStart))

	mask := PermStart | PermOutput
	require.True(t, mask.Has(PermStart))
	require.True(t, mask.Has(PermOutput))
	require.False(t, mask.Has(PermStop))
	require.False(t, mask.Has(PermKill))
}

func TestPrincipalEncodeDecodeRoundTrip(t *testing.T) {
	p := &Principal{
		ID:            42,
		Email:         "alice@example.com",
		Name:          "alice",
		Admin:         true,
		PasswordHash:  []byte("bcrypt-hash-bytes"),
		PasswordCost:  12,
		TOTPSecret:    []byte("0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcd"),
		TOTPDigits:    8,
		TOTPHashSHA1:  true,
		TOTPSetupDone: true,
	}

	got, err := DecodePrincipal(p.Encode())
	require.NoError(t, err)
	require.Equal(t, p, got)
}

func TestSessionEncodeDecodeRoundTrip(t *testing.T) {
	s := &Session{Token: "tok-abc", PrincipalID: 99, Phase: PhaseAwaitingTOTP}
	got, err := DecodeSession(s.Token, s.Encode())
	require.NoError(t, err)
	require.Equal(t, s, got)
}

func TestLoginPhaseString(t *testing.T) {
	require.Equal(t, "awaiting-totp-setup", PhaseAwaitingTOTPSetup.String())
	require.Equal(t, "awaiting-totp", PhaseAwaitingTOTP.String())
	require.Equal(t, "complete", PhaseComplete.String())
}
