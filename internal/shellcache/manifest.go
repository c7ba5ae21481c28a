package shellcache

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Default cache names and upstream prefix.
const (
	DefaultVersion    = "stationPWA-pruebas-1-1"
	DefaultDataCache  = "stationData-v1"
	DefaultDataPrefix = "https://api-ratp.pierre-grimaud.fr/v3/schedules"
)

// Manifest describes the application shell: the versioned cache name, the
// data cache name, the schedule API prefix and the asset paths to pre-cache.
type Manifest struct {
	Version    string   `yaml:"version" validate:"required,nefield=DataCache"`
	DataCache  string   `yaml:"data_cache" validate:"required"`
	DataPrefix string   `yaml:"data_prefix" validate:"required,url"`
	Assets     []string `yaml:"assets" validate:"required,min=1,dive,required,startswith=/"`
}

// DefaultManifest returns the built-in shell manifest.
func DefaultManifest() Manifest {
	return Manifest{
		Version:    DefaultVersion,
		DataCache:  DefaultDataCache,
		DataPrefix: DefaultDataPrefix,
		Assets: []string{
			"/",
			"/index.html",
			"/scripts/app.js",
			"/styles/inline.css",
			"/images/ic_add_white_24px.svg",
			"/images/ic_refresh_white_24px.svg",
		},
	}
}

// LoadManifest reads and validates a YAML manifest. Fields left out of the
// file keep their default values.
func LoadManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("reading manifest: %w", err)
	}
	return ParseManifest(data)
}

// ParseManifest decodes and validates a YAML manifest.
func ParseManifest(data []byte) (Manifest, error) {
	m := DefaultManifest()
	m.Assets = nil

	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("%w: %w", ErrInvalidManifest, err)
	}
	if len(m.Assets) == 0 {
		m.Assets = DefaultManifest().Assets
	}

	if err := m.Validate(); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

// Validate checks the manifest.
func (m Manifest) Validate() error {
	if err := validator.New().Struct(m); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidManifest, err)
	}
	if dup := firstDuplicate(m.Assets); dup != "" {
		return fmt.Errorf("%w: duplicate asset %q", ErrInvalidManifest, dup)
	}
	return nil
}

// IsData reports whether url belongs to the schedule API: the data prefix
// itself or a path below it.
func (m Manifest) IsData(url string) bool {
	prefix := strings.TrimSuffix(m.DataPrefix, "/")
	if prefix == "" {
		return false
	}
	return url == prefix || strings.HasPrefix(url, prefix+"/")
}

func firstDuplicate(values []string) string {
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	for i := 1; i < len(sorted); i++ {
		if sorted[i] == sorted[i-1] {
			return sorted[i]
		}
	}
	return ""
}
