// Package config provides configuration loading and structs for the torikomi pipeline.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug      bool             `yaml:"debug"`
	Input      InputConfig      `yaml:"input"`
	Processing ProcessingConfig `yaml:"processing"`
	Store      StoreConfig      `yaml:"store"`
	Vision     VisionConfig     `yaml:"vision"`
	Report     ReportConfig     `yaml:"report"`
}

// InputConfig holds input directory and file classification settings.
type InputConfig struct {
	Directory          string   `yaml:"directory"`
	DocumentExtensions []string `yaml:"document_extensions"`
	ImageExtensions    []string `yaml:"image_extensions"`
}

// ProcessingConfig holds chunking, retry, and worker pool settings.
type ProcessingConfig struct {
	ChunkSize         int           `yaml:"chunk_size"`
	ChunkOverlapRatio float64       `yaml:"chunk_overlap_ratio"`
	RetryLimit        int           `yaml:"retry_limit"`
	RetryDelay        time.Duration `yaml:"retry_delay"`
	BatchSize         int           `yaml:"batch_size"`
	PDFImageMinBytes  int64         `yaml:"pdf_image_min_bytes"`
	PDFImageMaxBytes  int64         `yaml:"pdf_image_max_bytes"`
}

// StoreConfig holds the local document store's paths and collection names.
type StoreConfig struct {
	DatabasePath    string `yaml:"database_path"`
	BleveIndexPath  string `yaml:"bleve_index_path"`
	TextCollection  string `yaml:"text_collection"`
	ImageCollection string `yaml:"image_collection"`
}

// VisionConfig holds the image analysis collaborator settings.
// When Endpoint is empty, image analysis is unavailable and image files fail
// with an explicit error rather than being silently dropped.
type VisionConfig struct {
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`
}

// ReportConfig holds report output settings.
type ReportConfig struct {
	CSVFilename     string        `yaml:"csv_filename"`
	MarkerStaleness time.Duration `yaml:"marker_staleness"`
	VerboseSummary  bool          `yaml:"verbose_summary"`
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Input.Directory = expandPath(cfg.Input.Directory, configDir)
	cfg.Store.DatabasePath = expandPath(cfg.Store.DatabasePath, configDir)
	cfg.Store.BleveIndexPath = expandPath(cfg.Store.BleveIndexPath, configDir)

	return &cfg, nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory. Empty paths stay empty.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
