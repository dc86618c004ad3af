package supervisor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nullstack/svcd/internal/config"
)

func waitForState(t *testing.T, sv *Supervisor, id uint32, want State) {
	t.Helper()
	require.Eventually(t, func() bool {
		st, err := sv.GetServiceState(id)
		return err == nil && st.State == want
	}, 3*time.Second, 10*time.Millisecond, "service %d never reached state %s", id, want)
}

func TestStartStopLifecycle(t *testing.T) {
	sv := newBareSupervisor(t)
	script := `while IFS= read -r line; do if [ "$line" = "quit" ]; then exit 0; fi; done`
	in := installInstance(sv, Model{
		ID: 10, Name: "echoer",
		Command: "/bin/sh", Args: []string{"-c", script},
		SoftStop: "quit",
	})
	_ = in

	require.NoError(t, sv.Start(10, nil))
	waitForState(t, sv, 10, Running)

	require.NoError(t, sv.Stop(10, nil))
	waitForState(t, sv, 10, Stopped)
}

func TestStartTwiceIsRejected(t *testing.T) {
	sv := newBareSupervisor(t)
	installInstance(sv, Model{ID: 11, Name: "sleeper", Command: "/bin/sleep", Args: []string{"2"}})

	require.NoError(t, sv.Start(11, nil))
	waitForState(t, sv, 11, Running)

	err := sv.Start(11, nil)
	require.Error(t, err, "starting an already-running service must be rejected")

	require.NoError(t, sv.Kill(11, nil))
	waitForState(t, sv, 11, Killed)
}

func TestKillAlwaysWinsOverExit(t *testing.T) {
	sv := newBareSupervisor(t)
	installInstance(sv, Model{ID: 12, Name: "sleeper", Command: "/bin/sleep", Args: []string{"5"}})

	require.NoError(t, sv.Start(12, nil))
	waitForState(t, sv, 12, Running)

	require.NoError(t, sv.Kill(12, nil))
	waitForState(t, sv, 12, Killed)
}

func TestSendStdinToStoppedServiceFails(t *testing.T) {
	sv := newBareSupervisor(t)
	installInstance(sv, Model{ID: 13, Name: "idle", Command: "/bin/sleep", Args: []string{"5"}})

	err := sv.SendStdin(13, "hello", nil)
	require.Error(t, err, "a service that was never started is not running")
}

func TestGetOutputReturnsRingSnapshot(t *testing.T) {
	sv := newBareSupervisor(t)
	installInstance(sv, Model{ID: 14, Name: "echoer", Command: "/bin/sh", Args: []string{"-c", "echo hello"}})

	require.NoError(t, sv.Start(14, nil))
	require.Eventually(t, func() bool {
		frames, err := sv.GetOutput(14)
		return err == nil && len(frames) > 0
	}, 3*time.Second, 10*time.Millisecond)
}

func TestLoadAutostartsFlaggedServices(t *testing.T) {
	sv := newBareSupervisor(t)
	err := sv.Load([]config.ServiceConfig{
		{ID: 20, Name: "a", Command: "/bin/sleep", Args: []string{"2"}, Autostart: true},
		{ID: 21, Name: "b", Command: "/bin/sleep", Args: []string{"2"}, Autostart: false},
	})
	require.NoError(t, err)

	waitForState(t, sv, 20, Running)
	st, err := sv.GetServiceState(21)
	require.NoError(t, err)
	require.Equal(t, Stopped, st.State)

	require.NoError(t, sv.Kill(20, nil))
}

func TestLoadCannotBeCalledTwice(t *testing.T) {
	sv := newBareSupervisor(t)
	require.NoError(t, sv.Load(nil))
	err := sv.Load(nil)
	require.Error(t, err)
}
