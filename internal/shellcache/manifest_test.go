package shellcache_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stationboard/stationboard/internal/shellcache"
)

func TestDefaultManifest(t *testing.T) {
	m := shellcache.DefaultManifest()

	require.NoError(t, m.Validate())
	assert.Equal(t, "stationPWA-pruebas-1-1", m.Version)
	assert.Equal(t, "stationData-v1", m.DataCache)
	assert.Contains(t, m.Assets, "/index.html")
	assert.True(t, m.IsData("https://api-ratp.pierre-grimaud.fr/v3/schedules/metros/1/bastille/A"))
	assert.False(t, m.IsData("https://api-ratp.pierre-grimaud.fr/v3/lines"))
}

func TestManifest_IsData(t *testing.T) {
	m := shellcache.Manifest{DataPrefix: "https://api.test/v3/schedules"}

	tests := map[string]bool{
		"https://api.test/v3/schedules":                        true,
		"https://api.test/v3/schedules/metros/1/bastille/A":    true,
		"https://api.test/v3/schedulesX":                       false,
		"https://api.test/v3/schedules-archive/metros/1/odeon": false,
		"https://api.test/v3/lines":                            false,
	}
	for url, want := range tests {
		t.Run(url, func(t *testing.T) {
			assert.Equal(t, want, m.IsData(url))
		})
	}

	t.Run("trailing slash prefix", func(t *testing.T) {
		m := shellcache.Manifest{DataPrefix: "https://api.test/v3/schedules/"}
		assert.True(t, m.IsData("https://api.test/v3/schedules/metros/1/odeon/A"))
		assert.False(t, m.IsData("https://api.test/v3/schedulesX"))
	})
}

func TestParseManifest(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr bool
		check   func(t *testing.T, m shellcache.Manifest)
	}{
		{
			name: "overrides version and assets",
			yaml: "version: stationPWA-v2\nassets:\n  - /\n  - /index.html\n",
			check: func(t *testing.T, m shellcache.Manifest) {
				assert.Equal(t, "stationPWA-v2", m.Version)
				assert.Equal(t, []string{"/", "/index.html"}, m.Assets)
				assert.Equal(t, shellcache.DefaultDataCache, m.DataCache)
			},
		},
		{
			name: "empty file keeps defaults",
			yaml: "",
			check: func(t *testing.T, m shellcache.Manifest) {
				assert.Equal(t, shellcache.DefaultManifest(), m)
			},
		},
		{name: "relative asset", yaml: "assets: [index.html]", wantErr: true},
		{name: "duplicate asset", yaml: "assets: [/a, /a]", wantErr: true},
		{name: "version equals data cache", yaml: "version: stationData-v1", wantErr: true},
		{name: "bad prefix", yaml: "data_prefix: not a url", wantErr: true},
		{name: "bad yaml", yaml: "assets: [", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := shellcache.ParseManifest([]byte(tt.yaml))
			if tt.wantErr {
				assert.ErrorIs(t, err, shellcache.ErrInvalidManifest)
				return
			}
			require.NoError(t, err)
			tt.check(t, m)
		})
	}
}

func TestLoadManifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shell.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: stationPWA-v3\n"), 0o600))

	m, err := shellcache.LoadManifest(path)
	require.NoError(t, err)
	assert.Equal(t, "stationPWA-v3", m.Version)

	_, err = shellcache.LoadManifest(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
