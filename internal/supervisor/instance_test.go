package supervisor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStateTerminalAndRunning(t *testing.T) {
	require.True(t, Stopped.Terminal())
	require.True(t, Ended.Terminal())
	require.True(t, Killed.Terminal())
	require.True(t, ServiceMaxRetries.Terminal())
	require.False(t, Running.Terminal())
	require.False(t, EndedBackoff.Terminal())
	require.False(t, CrashedBackoff.Terminal())

	require.True(t, Running.IsRunning())
	require.True(t, Stopping.IsRunning())
	require.False(t, Stopped.IsRunning())
	require.False(t, CrashedBackoff.IsRunning())
}

func TestKillAlwaysWinsOverStateTransition(t *testing.T) {
	in := newInstance(Model{ID: 1, Name: "svc"})
	in.setState(Running)
	in.forceKilledState()

	// Any attempt to move off Killed other than via forceKilledState
	// must be rejected: kill-switch firing always wins.
	in.setState(Ended)
	require.Equal(t, Killed, in.State())

	in.setState(Stopped)
	require.Equal(t, Killed, in.State())
}

func TestUptimeZeroBeforeStart(t *testing.T) {
	in := newInstance(Model{ID: 1})
	require.Equal(t, time.Duration(0), in.Uptime())
}

func TestUptimeUsesEndTimeWhenSet(t *testing.T) {
	in := newInstance(Model{ID: 1})
	in.startTime = time.Unix(1000, 0)
	in.endTime = time.Unix(1010, 0)
	require.Equal(t, 10*time.Second, in.Uptime())
}
