package profile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
	"github.com/workaholi/focusroom/internal/session"
)

const (
	PathKey         = "profile.path"
	fileMode        = 0o600
	dirMode         = 0o700
	configDir       = "focusroom"
	profileFile     = "profile.toml"
	tempFilePattern = ".profile-*.toml.tmp"
	schemaVersion   = 1
)

type fileSchema struct {
	Version int           `toml:"version"`
	Profile profileSchema `toml:"profile"`
}

type profileSchema struct {
	Name       string           `toml:"name"`
	Avatar     string           `toml:"avatar"`
	Monitoring monitoringSchema `toml:"monitoring"`
}

type monitoringSchema struct {
	Keyboard bool     `toml:"keyboard"`
	Mouse    bool     `toml:"mouse"`
	Presence bool     `toml:"presence"`
	Programs []string `toml:"programs,omitempty"`
}

// Repository persists the profile as TOML.
type Repository struct {
	path string
	mu   sync.RWMutex
}

// DefaultPath is the profile location under the user config directory.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve config directory: %w", err)
	}
	return filepath.Join(dir, configDir, profileFile), nil
}

// NewRepository reads the profile path from cfg, falling back to DefaultPath.
func NewRepository(cfg *viper.Viper) (*Repository, error) {
	if cfg == nil {
		cfg = viper.New()
	}
	path := cfg.GetString(PathKey)
	if path == "" {
		var err error
		if path, err = DefaultPath(); err != nil {
			return nil, err
		}
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve profile path: %w", err)
	}
	return &Repository{path: filepath.Clean(abs)}, nil
}

func (r *Repository) Path() string {
	return r.path
}

// Load returns the stored profile or ErrNotFound.
func (r *Repository) Load(ctx context.Context) (Profile, error) {
	if err := ctx.Err(); err != nil {
		return Profile{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	data, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Profile{}, ErrNotFound
		}
		return Profile{}, fmt.Errorf("read profile: %w", err)
	}

	var file fileSchema
	if err := toml.Unmarshal(data, &file); err != nil {
		return Profile{}, fmt.Errorf("decode profile: %w", err)
	}
	if file.Version > schemaVersion {
		return Profile{}, fmt.Errorf("profile version %d is newer than supported %d", file.Version, schemaVersion)
	}

	s := file.Profile
	return Profile{
		Name:   s.Name,
		Avatar: session.Avatar(s.Avatar),
		Monitoring: Monitoring{
			Keyboard: s.Monitoring.Keyboard,
			Mouse:    s.Monitoring.Mouse,
			Presence: s.Monitoring.Presence,
			Programs: s.Monitoring.Programs,
		},
	}, nil
}

// Save validates p and atomically replaces the stored profile.
func (r *Repository) Save(ctx context.Context, p Profile) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	file := fileSchema{
		Version: schemaVersion,
		Profile: profileSchema{
			Name:   p.Name,
			Avatar: string(p.Avatar),
			Monitoring: monitoringSchema{
				Keyboard: p.Monitoring.Keyboard,
				Mouse:    p.Monitoring.Mouse,
				Presence: p.Monitoring.Presence,
				Programs: p.Monitoring.Programs,
			},
		},
	}
	data, err := toml.Marshal(file)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(r.path), dirMode); err != nil {
		return fmt.Errorf("create profile directory: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(r.path), tempFilePattern)
	if err != nil {
		return fmt.Errorf("create temp profile: %w", err)
	}
	tempName := tempFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tempName)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("write temp profile: %w", err)
	}
	if err := tempFile.Chmod(fileMode); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("chmod temp profile: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close temp profile: %w", err)
	}
	if err := os.Rename(tempName, r.path); err != nil {
		return fmt.Errorf("replace profile: %w", err)
	}
	cleanup = false
	return nil
}
