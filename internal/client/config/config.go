package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/opensaves/savesync/internal/backend"
	"github.com/opensaves/savesync/internal/utils"
)

var (
	home, _           = os.UserHomeDir()
	DefaultConfigPath = filepath.Join(home, ".savesync", "config.json")
	DefaultInterval   = 15 * time.Minute
)

// Backend names accepted in profile configs.
const (
	BackendRclone = "rclone"
	BackendS3     = "s3"
)

var ErrProfileNotFound = errors.New("profile not found")

// Profile binds one local save directory to one remote path.
type Profile struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	LocalRoot  string `json:"local_root"`
	RemotePath string `json:"remote_path"`
	// Backend selects the transfer implementation, "rclone" by default.
	Backend string `json:"backend,omitempty"`
	// GameProcess enables sync-on-exit when set (e.g. "DarkSoulsII.exe").
	GameProcess string `json:"game_process,omitempty"`
}

func (p *Profile) Validate() error {
	switch {
	case p.ID == "":
		return fmt.Errorf("profile %q: missing id", p.Name)
	case p.Name == "":
		return fmt.Errorf("profile %s: missing name", p.ID)
	case p.LocalRoot == "":
		return fmt.Errorf("profile %q: missing local_root", p.Name)
	case p.RemotePath == "":
		return fmt.Errorf("profile %q: missing remote_path", p.Name)
	}
	switch p.Backend {
	case "", BackendRclone, BackendS3:
	default:
		return fmt.Errorf("profile %q: unknown backend %q", p.Name, p.Backend)
	}
	return nil
}

type Config struct {
	DataDir      string            `json:"data_dir"`
	RclonePath   string            `json:"rclone_path,omitempty"`
	SyncInterval string            `json:"sync_interval,omitempty"`
	S3           *backend.S3Config `json:"s3,omitempty"`
	Profiles     []*Profile        `json:"profiles"`

	Path string `json:"-"`
}

// Default returns a config with sensible paths and no profiles.
func Default() *Config {
	return &Config{
		DataDir:    filepath.Join(home, ".savesync"),
		RclonePath: "rclone",
		Path:       DefaultConfigPath,
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.Path = path
	if cfg.DataDir == "" {
		cfg.DataDir = filepath.Join(home, ".savesync")
	}
	if cfg.RclonePath == "" {
		cfg.RclonePath = "rclone"
	}
	return &cfg, nil
}

func (c *Config) Save(path string) error {
	if err := utils.EnsureParent(path); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (c *Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("config: missing data_dir")
	}
	if c.SyncInterval != "" {
		if _, err := time.ParseDuration(c.SyncInterval); err != nil {
			return fmt.Errorf("config: bad sync_interval %q: %w", c.SyncInterval, err)
		}
	}

	seen := make(map[string]bool, len(c.Profiles))
	for _, p := range c.Profiles {
		if err := p.Validate(); err != nil {
			return err
		}
		if p.Backend == BackendS3 && c.S3 == nil {
			return fmt.Errorf("profile %q: backend s3 requires an s3 section", p.Name)
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate profile name %q", p.Name)
		}
		seen[p.Name] = true
	}
	return nil
}

// Interval returns the parsed sync interval, or the default when unset or
// unparseable.
func (c *Config) Interval() time.Duration {
	if c.SyncInterval == "" {
		return DefaultInterval
	}
	d, err := time.ParseDuration(c.SyncInterval)
	if err != nil || d <= 0 {
		return DefaultInterval
	}
	return d
}

// Profile looks a profile up by name or id.
func (c *Config) Profile(nameOrID string) (*Profile, error) {
	for _, p := range c.Profiles {
		if p.Name == nameOrID || p.ID == nameOrID {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, nameOrID)
}

// AddProfile assigns an id, validates and appends.
func (c *Config) AddProfile(p *Profile) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if err := p.Validate(); err != nil {
		return err
	}
	if existing, _ := c.Profile(p.Name); existing != nil {
		return fmt.Errorf("profile %q already exists", p.Name)
	}
	c.Profiles = append(c.Profiles, p)
	return nil
}

// RemoveProfile drops a profile by name or id.
func (c *Config) RemoveProfile(nameOrID string) error {
	for i, p := range c.Profiles {
		if p.Name == nameOrID || p.ID == nameOrID {
			c.Profiles = append(c.Profiles[:i], c.Profiles[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrProfileNotFound, nameOrID)
}

func (c *Config) RecordsDir() string {
	return filepath.Join(c.DataDir, "records")
}

func (c *Config) JournalPath() string {
	return filepath.Join(c.DataDir, "journal.db")
}

func (c *Config) LockPath() string {
	return filepath.Join(c.DataDir, "daemon.lock")
}
