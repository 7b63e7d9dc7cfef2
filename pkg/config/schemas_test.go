package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSchemaCatalogue(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "calculator_output.json"), []byte(`{
		"type": "object",
		"properties": {"result": {"type": "number"}},
		"required": ["result"]
	}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	cat, err := LoadSchemaCatalogue(dir)
	require.NoError(t, err)
	assert.Equal(t, 1, cat.Len(), "non-JSON files are skipped")
	assert.True(t, cat.Has("calculator_output"))
	assert.False(t, cat.Has("notes"))
}

func TestLoadSchemaCatalogueMissingDir(t *testing.T) {
	cat, err := LoadSchemaCatalogue(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.Equal(t, 0, cat.Len())
}

func TestLoadSchemaCatalogueInvalidJSON(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte(`{"type": `), 0o644))

	_, err := LoadSchemaCatalogue(dir)
	require.Error(t, err)
	var loadErr *LoadError
	assert.ErrorAs(t, err, &loadErr)
}

func TestSchemaCatalogueValidate(t *testing.T) {
	cat, err := NewSchemaCatalogue(map[string]string{
		"calculator_output": `{
			"type": "object",
			"properties": {"result": {"type": "number"}},
			"required": ["result"]
		}`,
	})
	require.NoError(t, err)

	assert.NoError(t, cat.Validate("calculator_output", map[string]any{"result": 42.0}))
	assert.Error(t, cat.Validate("calculator_output", map[string]any{"result": "nope"}))
	assert.Error(t, cat.Validate("calculator_output", map[string]any{}))
	assert.ErrorIs(t, cat.Validate("ghost", map[string]any{}), ErrSchemaNotFound)
}
