package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_Format(t *testing.T) {
	cfg := &Config{Format: "json"}
	assert.NoError(t, cfg.Validate())

	cfg = &Config{Format: "xml"}
	assert.Error(t, cfg.Validate())
}

func TestValidate_EngineVersion(t *testing.T) {
	cfg := &Config{EngineVersion: "1.2.3"}
	assert.NoError(t, cfg.Validate())

	cfg = &Config{EngineVersion: "not-a-version"}
	assert.Error(t, cfg.Validate())
}

func TestValidate_Categories(t *testing.T) {
	cfg := &Config{EnableCategories: []string{"Storage", ""}}
	assert.Error(t, cfg.Validate())
}

func TestEngineOptions_Mapping(t *testing.T) {
	cfg := &Config{
		EnableCategories:  []string{"Storage"},
		DisableCategories: []string{"Networking"},
		Verbose:           true,
		EngineVersion:     "2.0.0",
	}
	opts := cfg.EngineOptions()
	assert.Equal(t, []string{"Storage"}, opts.EnableCategories)
	assert.Equal(t, []string{"Networking"}, opts.DisableCategories)
	assert.True(t, opts.Verbose)
	assert.Equal(t, "2.0.0", opts.EngineVersion)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `enableCategories: [Storage, Scheduling]
verbose: true
engineVersion: "1.0.0"
format: json
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"Storage", "Scheduling"}, cfg.EnableCategories)
	assert.True(t, cfg.Verbose)
	assert.Equal(t, "json", cfg.Format)
}

func TestLoadFile_InvalidContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("format: bogus\n"), 0o644))

	_, err := LoadFile(path)
	assert.Error(t, err)
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile("/does/not/exist.yaml")
	assert.Error(t, err)
}
