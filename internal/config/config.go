// Package config parses the daemon's declarative service policy: one
// [Global] section plus one repeated [Service "name"] section per
// supervised process.
package config

import (
	"errors"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/gcfg.v1"

	"github.com/nullstack/svcd/internal/log"
)

const (
	defaultRetryBackoffMS uint64 = 10000
	maxConfigSize         int64  = 1024 * 1024 * 4
)

// serviceReadCfg is the gcfg-decoded shape of one [Service "name"]
// section. Field names are capitalized per gcfg convention; the
// underscore separates words gcfg's ini-style parser expects.
type serviceReadCfg struct {
	Id                       uint32
	Enabled                  bool
	Command                  string
	Directory                string
	Args                     []string
	Allow_Relative           bool
	Autostart                bool
	Restart                  bool
	Restart_Always           bool
	Retry_Max                int
	Retry_Backoff_Ms         uint64
	Soft_Stop                string
	Snapshot_Console_On_Stop        bool
	Snapshot_Console_On_Crash       bool
	Snapshot_Console_On_Manual_Stop bool
	Snapshot_Console_On_Manual_Kill bool
}

type globalCfg struct {
	Log_File  string
	Log_Level string
}

type fileType struct {
	Global  globalCfg
	Service map[string]*serviceReadCfg
}

// ServiceConfig is one validated, ready-to-load service policy,
// consumed by Supervisor.Load.
type ServiceConfig struct {
	ID             uint32
	Name           string
	Enabled        bool
	Command        string
	Directory      string
	Args           []string
	AllowRelative  bool
	Autostart      bool
	Restart        bool
	RestartAlways  bool
	RetryMax       int  // 0 = unbounded
	RetryBackoffMS uint64
	SoftStop       string

	SnapshotOnStop        bool
	SnapshotOnCrash       bool
	SnapshotOnManualStop  bool
	SnapshotOnManualKill  bool
}

// Config is the fully parsed, validated daemon configuration.
type Config struct {
	LogFile    string
	LogLevel   string
	Services   []ServiceConfig
}

// Load reads and validates path, rejecting duplicate service ids and
// any non-executable command binary.
func Load(path string) (*Config, error) {
	fin, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fin.Close()
	fi, err := fin.Stat()
	if err != nil {
		return nil, err
	}
	if fi.Size() > maxConfigSize {
		return nil, errors.New("config: file far too large")
	}
	data, err := ioutil.ReadAll(fin)
	if err != nil {
		return nil, err
	}

	var raw fileType
	if err := gcfg.ReadStringInto(&raw, string(data)); err != nil {
		return nil, err
	}

	cfg := &Config{LogFile: raw.Global.Log_File, LogLevel: raw.Global.Log_Level}
	seen := make(map[uint32]string)
	for name, v := range raw.Service {
		if v == nil {
			continue
		}
		if !v.Enabled {
			continue
		}
		if other, dup := seen[v.Id]; dup {
			return nil, errors.New("config: duplicate service id " + name + " reuses id from " + other)
		}
		seen[v.Id] = name

		sc := ServiceConfig{
			ID:             v.Id,
			Name:           name,
			Enabled:        v.Enabled,
			Command:        v.Command,
			Directory:      filepath.Clean(v.Directory),
			Args:           v.Args,
			AllowRelative:  v.Allow_Relative,
			Autostart:      v.Autostart,
			Restart:        v.Restart,
			RestartAlways:  v.Restart_Always,
			RetryMax:       v.Retry_Max,
			RetryBackoffMS: v.Retry_Backoff_Ms,
			SoftStop:       v.Soft_Stop,

			SnapshotOnStop:       v.Snapshot_Console_On_Stop,
			SnapshotOnCrash:      v.Snapshot_Console_On_Crash,
			SnapshotOnManualStop: v.Snapshot_Console_On_Manual_Stop,
			SnapshotOnManualKill: v.Snapshot_Console_On_Manual_Kill,
		}
		if sc.RetryBackoffMS == 0 {
			sc.RetryBackoffMS = defaultRetryBackoffMS
		}
		cfg.Services = append(cfg.Services, sc)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the decoded config: every enabled service needs a
// name and a command, retry_max can't be negative, and a non-relative
// command must be an absolute, executable path.
func (c *Config) Validate() error {
	if len(c.Services) == 0 {
		return errors.New("config: no enabled services specified")
	}
	for _, s := range c.Services {
		if strings.TrimSpace(s.Name) == "" {
			return errors.New("config: service block missing name")
		}
		if strings.TrimSpace(s.Command) == "" {
			return errors.New("config: empty command for service " + s.Name)
		}
		if s.RetryMax < 0 {
			return errors.New("config: retry_max must be >= 0 for service " + s.Name)
		}
		if !s.AllowRelative {
			if !filepath.IsAbs(s.Command) {
				return errors.New("config: command must be absolute unless allow_relative is set, service " + s.Name)
			}
			if err := checkExecutable(s.Command); err != nil {
				return err
			}
		}
	}
	return nil
}

func checkExecutable(p string) error {
	fi, err := os.Stat(p)
	if err != nil {
		return err
	}
	if fi.Mode().Perm()&0o111 == 0 {
		return errors.New(p + " is not executable")
	}
	return nil
}

// GetLogger opens the configured log file, or a discard logger if
// none is set.
func (c *Config) GetLogger() (*log.Logger, error) {
	if c.LogFile == "" {
		return log.NewDiscard(), nil
	}
	lg, err := log.NewFile(c.LogFile)
	if err != nil {
		return nil, err
	}
	if c.LogLevel != "" {
		lvl, err := log.LevelFromString(c.LogLevel)
		if err != nil {
			return nil, err
		}
		lg.SetLevel(lvl)
	}
	return lg, nil
}
