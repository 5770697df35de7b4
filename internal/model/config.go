// Package model defines the checklist, session, settings and report
// structures shared by every nestcheck component.
package model

import "time"

type Config struct {
	Logging LoggingConfig `yaml:"logging"`
	Session SessionConfig `yaml:"session"`
	Guard   GuardConfig   `yaml:"guard"`
	Report  ReportConfig  `yaml:"report"`
	Capture CaptureConfig `yaml:"capture"`
	Metrics MetricsConfig `yaml:"metrics"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

type SessionConfig struct {
	AutosaveSec  int    `yaml:"autosave_sec"`
	TemplatePath string `yaml:"template_path"`
	Operator     string `yaml:"operator"`
}

type GuardConfig struct {
	MaxFailures int `yaml:"max_failures"`
	LockoutSec  int `yaml:"lockout_sec"`
}

type ReportConfig struct {
	FontPath    string `yaml:"font_path"`
	OutputDir   string `yaml:"output_dir"`
	MaxImagePx  int    `yaml:"max_image_px"`
	JPEGQuality int    `yaml:"jpeg_quality"`
}

type CaptureConfig struct {
	TimeoutSec int    `yaml:"timeout_sec"`
	PhotosDir  string `yaml:"photos_dir"`
}

type MetricsConfig struct {
	Enabled     bool   `yaml:"enabled"`
	IntervalSec int    `yaml:"interval_sec"`
	DB          string `yaml:"db"`
}

// WithDefaults fills every zero value with the built-in default.
func (c Config) WithDefaults() Config {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.MaxSizeMB <= 0 {
		c.Logging.MaxSizeMB = 10
	}
	if c.Logging.MaxBackups <= 0 {
		c.Logging.MaxBackups = 5
	}
	if c.Session.AutosaveSec <= 0 {
		c.Session.AutosaveSec = 10
	}
	if c.Session.TemplatePath == "" {
		c.Session.TemplatePath = "checklist.yaml"
	}
	if c.Guard.MaxFailures <= 0 {
		c.Guard.MaxFailures = 5
	}
	if c.Guard.LockoutSec <= 0 {
		c.Guard.LockoutSec = 300
	}
	if c.Report.FontPath == "" {
		c.Report.FontPath = "assets/fonts/DejaVuSans.ttf"
	}
	if c.Report.OutputDir == "" {
		c.Report.OutputDir = "reports"
	}
	if c.Report.MaxImagePx <= 0 {
		c.Report.MaxImagePx = 1600
	}
	if c.Report.JPEGQuality <= 0 || c.Report.JPEGQuality > 100 {
		c.Report.JPEGQuality = 80
	}
	if c.Capture.TimeoutSec <= 0 {
		c.Capture.TimeoutSec = 20
	}
	if c.Capture.PhotosDir == "" {
		c.Capture.PhotosDir = "photos"
	}
	if c.Metrics.IntervalSec <= 0 {
		c.Metrics.IntervalSec = 60
	}
	if c.Metrics.DB == "" {
		c.Metrics.DB = "metrics.db"
	}
	return c
}

func (c Config) AutosaveInterval() time.Duration {
	return time.Duration(c.Session.AutosaveSec) * time.Second
}

func (c Config) LockoutDuration() time.Duration {
	return time.Duration(c.Guard.LockoutSec) * time.Second
}

func (c Config) CaptureTimeout() time.Duration {
	return time.Duration(c.Capture.TimeoutSec) * time.Second
}

func (c Config) SampleInterval() time.Duration {
	return time.Duration(c.Metrics.IntervalSec) * time.Second
}
