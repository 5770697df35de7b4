package checklist

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/nestcheck/internal/model"
)

func TestDefault_IsValid(t *testing.T) {
	tpl, err := Default()
	require.NoError(t, err)
	assert.Equal(t, "1.3", tpl.Version)
	assert.NotEmpty(t, tpl.Blocks)

	critical := 0
	for _, b := range tpl.Blocks {
		for _, it := range b.Items {
			if it.Critical {
				critical++
			}
		}
	}
	assert.Positive(t, critical, "default checklist should contain critical items")
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"no blocks", "version: \"1\"\nblocks: []\n"},
		{"empty block", "blocks:\n  - id: b1\n    title: T\n    items: []\n"},
		{"duplicate id", "blocks:\n  - id: b1\n    items:\n      - id: x\n      - id: x\n"},
		{"missing item id", "blocks:\n  - id: b1\n    items:\n      - text: hello\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.ErrorIs(t, err, ErrInvalidTemplate)
		})
	}

	_, err := Parse([]byte("blocks: [unterminated"))
	assert.Error(t, err)
}

func TestParse_DefaultsVersion(t *testing.T) {
	tpl, err := Parse([]byte("blocks:\n  - id: b1\n    title: One\n    items:\n      - id: i1\n        text: Check\n"))
	require.NoError(t, err)
	assert.Equal(t, model.DefaultChecklistVersion, tpl.Version)
}

func TestInstantiate_FreshItems(t *testing.T) {
	tpl, err := Default()
	require.NoError(t, err)

	blocks := tpl.Instantiate()
	require.Len(t, blocks, len(tpl.Blocks))
	for _, b := range blocks {
		for _, it := range b.Items {
			assert.Equal(t, model.StatusUnset, it.Status)
			assert.Nil(t, it.StartedAt)
			assert.NotNil(t, it.Photos)
		}
	}

	// Mutating an instance never leaks back into the template.
	blocks[0].Items[0].Note = "changed"
	again := tpl.Instantiate()
	assert.Empty(t, again[0].Items[0].Note)
}

func TestFileProvider(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "checklist.yaml")

	tpl, err := FileProvider{Path: path}.Template()
	require.NoError(t, err, "missing file falls back to the embedded template")
	assert.NotEmpty(t, tpl.Blocks)

	custom := "version: \"2.0\"\nblocks:\n  - id: only\n    title: Only\n    items:\n      - id: only_1\n        text: One step\n        critical: true\n"
	require.NoError(t, os.WriteFile(path, []byte(custom), 0644))

	tpl, err = FileProvider{Path: path}.Template()
	require.NoError(t, err)
	assert.Equal(t, "2.0", tpl.Version)
	require.Len(t, tpl.Blocks, 1)
	assert.True(t, tpl.Blocks[0].Items[0].Critical)
}
