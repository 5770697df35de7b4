// Package checklist loads the versioned block/item definitions that new
// sessions are instantiated from.
package checklist

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	yamlv3 "gopkg.in/yaml.v3"

	"github.com/msageha/nestcheck/internal/model"
	"github.com/msageha/nestcheck/templates"
)

const embeddedName = "checklist.yaml"

var ErrInvalidTemplate = errors.New("invalid checklist template")

// Template is the parsed checklist definition.
type Template struct {
	Version string        `yaml:"version"`
	Blocks  []model.Block `yaml:"blocks"`
}

// Provider supplies the template used for a fresh session.
type Provider interface {
	Template() (*Template, error)
}

// Parse decodes and validates a YAML template.
func Parse(data []byte) (*Template, error) {
	var t Template
	if err := yamlv3.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse checklist: %w", err)
	}
	if t.Version == "" {
		t.Version = model.DefaultChecklistVersion
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// Validate requires at least one block, no empty blocks, and unique ids.
func (t *Template) Validate() error {
	if len(t.Blocks) == 0 {
		return fmt.Errorf("%w: no blocks", ErrInvalidTemplate)
	}
	seen := make(map[string]bool)
	for _, b := range t.Blocks {
		if b.ID == "" {
			return fmt.Errorf("%w: block without id", ErrInvalidTemplate)
		}
		if seen[b.ID] {
			return fmt.Errorf("%w: duplicate id %q", ErrInvalidTemplate, b.ID)
		}
		seen[b.ID] = true
		if len(b.Items) == 0 {
			return fmt.Errorf("%w: block %q has no items", ErrInvalidTemplate, b.ID)
		}
		for _, it := range b.Items {
			if it.ID == "" {
				return fmt.Errorf("%w: item without id in block %q", ErrInvalidTemplate, b.ID)
			}
			if seen[it.ID] {
				return fmt.Errorf("%w: duplicate id %q", ErrInvalidTemplate, it.ID)
			}
			seen[it.ID] = true
		}
	}
	return nil
}

// Instantiate returns fresh blocks with every item unset.
func (t *Template) Instantiate() []model.Block {
	blocks := make([]model.Block, len(t.Blocks))
	for i, b := range t.Blocks {
		items := make([]model.Item, len(b.Items))
		for j, it := range b.Items {
			items[j] = model.Item{
				ID:       it.ID,
				Text:     it.Text,
				Hint:     it.Hint,
				Critical: it.Critical,
				Status:   model.StatusUnset,
				Photos:   []string{},
			}
		}
		blocks[i] = model.Block{ID: b.ID, Title: b.Title, Items: items}
	}
	return blocks
}

// Default returns the embedded template.
func Default() (*Template, error) {
	data, err := fs.ReadFile(templates.FS, embeddedName)
	if err != nil {
		return nil, fmt.Errorf("read embedded checklist: %w", err)
	}
	return Parse(data)
}

// FileProvider reads the template from Path on every call, falling back to
// the embedded default when the file does not exist.
type FileProvider struct {
	Path string
}

func (p FileProvider) Template() (*Template, error) {
	if p.Path == "" {
		return Default()
	}
	data, err := os.ReadFile(p.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default()
		}
		return nil, fmt.Errorf("read checklist %s: %w", p.Path, err)
	}
	return Parse(data)
}

// Static serves a fixed template. Used by tests.
type Static struct {
	T *Template
}

func (s Static) Template() (*Template, error) {
	if s.T == nil {
		return nil, fmt.Errorf("%w: no template", ErrInvalidTemplate)
	}
	return s.T, nil
}
