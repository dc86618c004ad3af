package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "svcd.cfg")
	require.NoError(t, os.WriteFile(p, []byte(body), 0640))
	return p
}

func TestLoadValidConfig(t *testing.T) {
	p := writeConfig(t, fmt.Sprintf(`
[global]
log_file = %s
log_level = INFO

[service "web"]
id = 1
enabled = true
command = /bin/true
directory = /tmp
autostart = true
restart = true
retry_max = 5
soft_stop = shutdown
`, filepath.Join(t.TempDir(), "svcd.log")))

	cfg, err := Load(p)
	require.NoError(t, err)
	require.Len(t, cfg.Services, 1)
	sc := cfg.Services[0]
	require.Equal(t, uint32(1), sc.ID)
	require.Equal(t, "web", sc.Name)
	require.Equal(t, "/bin/true", sc.Command)
	require.True(t, sc.Autostart)
	require.Equal(t, uint64(10000), sc.RetryBackoffMS, "unset retry_backoff_ms must default to 10s")
}

func TestLoadRejectsDuplicateServiceIDs(t *testing.T) {
	p := writeConfig(t, `
[service "a"]
id = 1
enabled = true
command = /bin/true

[service "b"]
id = 1
enabled = true
command = /bin/true
`)
	_, err := Load(p)
	require.Error(t, err)
	require.Contains(t, err.Error(), "duplicate service id")
}

func TestLoadRejectsRelativeCommandWithoutOptIn(t *testing.T) {
	p := writeConfig(t, `
[service "a"]
id = 1
enabled = true
command = true
`)
	_, err := Load(p)
	require.Error(t, err)
	require.Contains(t, err.Error(), "must be absolute")
}

func TestLoadAllowsRelativeCommandWhenOptedIn(t *testing.T) {
	p := writeConfig(t, `
[service "a"]
id = 1
enabled = true
command = true
allow_relative = true
`)
	cfg, err := Load(p)
	require.NoError(t, err)
	require.Len(t, cfg.Services, 1)
}

func TestLoadSkipsDisabledServices(t *testing.T) {
	p := writeConfig(t, `
[service "a"]
id = 1
enabled = false
command = /bin/true

[service "b"]
id = 2
enabled = true
command = /bin/true
`)
	cfg, err := Load(p)
	require.NoError(t, err)
	require.Len(t, cfg.Services, 1)
	require.Equal(t, "b", cfg.Services[0].Name)
}

func TestLoadRejectsEmptyServiceSet(t *testing.T) {
	p := writeConfig(t, `
[global]
log_level = INFO
`)
	_, err := Load(p)
	require.Error(t, err)
	require.Contains(t, err.Error(), "no enabled services")
}

func TestGetLoggerDefaultsToDiscard(t *testing.T) {
	cfg := &Config{}
	lg, err := cfg.GetLogger()
	require.NoError(t, err)
	require.NotNil(t, lg)
}
