// Package setup initializes and locates the nestcheck data directory.
package setup

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	yamlv3 "gopkg.in/yaml.v3"

	"github.com/msageha/nestcheck/internal/model"
	"github.com/msageha/nestcheck/internal/store"
	"github.com/msageha/nestcheck/templates"
)

// DirName is the data directory created inside a workspace.
const DirName = ".nestcheck"

// EnvHome overrides data directory discovery.
const EnvHome = "NESTCHECK_HOME"

// Subdirectories created by Run.
var dirs = []string{
	"logs",
	"reports",
	"photos",
	"quarantine",
	"diagnostics",
	"audit",
	"assets/fonts",
}

// Run creates <workspace>/.nestcheck with the default config and checklist.
// operator is written into config.yaml when non-empty. It returns the data
// directory path.
func Run(workspace, operator string) (string, error) {
	absDir, err := filepath.Abs(workspace)
	if err != nil {
		return "", fmt.Errorf("resolve workspace: %w", err)
	}
	base := filepath.Join(absDir, DirName)

	if _, err := os.Stat(base); err == nil {
		return "", fmt.Errorf("%s already exists", base)
	}

	// Step 1: directory tree
	for _, d := range dirs {
		if err := os.MkdirAll(filepath.Join(base, d), 0755); err != nil {
			return "", fmt.Errorf("create directory %s: %w", d, err)
		}
	}

	// Step 2: checklist template
	if err := copyTemplateFile("checklist.yaml", filepath.Join(base, "checklist.yaml")); err != nil {
		return "", err
	}

	// Step 3: config.yaml with auto-filled fields
	cfg, err := generateConfig(operator)
	if err != nil {
		return "", fmt.Errorf("generate config: %w", err)
	}
	if err := writeYAMLAtomic(filepath.Join(base, "config.yaml"), cfg); err != nil {
		return "", fmt.Errorf("write config.yaml: %w", err)
	}

	// Step 4: empty instance lock
	if err := os.WriteFile(filepath.Join(base, "nestcheck.lock"), nil, 0600); err != nil {
		return "", fmt.Errorf("create nestcheck.lock: %w", err)
	}

	return base, nil
}

func copyTemplateFile(name, dst string) error {
	data, err := fs.ReadFile(templates.FS, name)
	if err != nil {
		return fmt.Errorf("read template %s: %w", name, err)
	}
	if err := os.WriteFile(dst, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", dst, err)
	}
	return nil
}

func generateConfig(operator string) (*model.Config, error) {
	data, err := fs.ReadFile(templates.FS, "config.yaml")
	if err != nil {
		return nil, fmt.Errorf("read config template: %w", err)
	}

	var cfg model.Config
	if err := yamlv3.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config template: %w", err)
	}
	if operator != "" {
		cfg.Session.Operator = operator
	}
	return &cfg, nil
}

func writeYAMLAtomic(path string, v any) error {
	data, err := yamlv3.Marshal(v)
	if err != nil {
		return fmt.Errorf("yaml marshal: %w", err)
	}
	return store.AtomicWriteRaw(path, data)
}

// LoadConfig reads <dataDir>/config.yaml and applies defaults. A missing
// file yields the defaults.
func LoadConfig(dataDir string) (model.Config, error) {
	data, err := os.ReadFile(filepath.Join(dataDir, "config.yaml"))
	if err != nil {
		if os.IsNotExist(err) {
			return model.Config{}.WithDefaults(), nil
		}
		return model.Config{}, fmt.Errorf("read config.yaml: %w", err)
	}
	var cfg model.Config
	if err := yamlv3.Unmarshal(data, &cfg); err != nil {
		return model.Config{}, fmt.Errorf("parse config.yaml: %w", err)
	}
	return cfg.WithDefaults(), nil
}

// Resolve returns a path from config relative to dataDir unless it is
// already absolute.
func Resolve(dataDir, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dataDir, p)
}

// FindDataDir picks the data directory: explicit flag, then $NESTCHECK_HOME,
// then a .nestcheck directory found walking up from the working directory.
// It returns "" when none exists.
func FindDataDir(flag string) string {
	if flag != "" {
		return flag
	}
	if env := os.Getenv(EnvHome); env != "" {
		return env
	}
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	return findUp(dir)
}

func findUp(dir string) string {
	for {
		candidate := filepath.Join(dir, DirName)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
