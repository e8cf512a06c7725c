package smartcatalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/brunobiangulo/smartcatalog/raster"
)

// Config holds all configuration for the smartcatalog engine.
type Config struct {
	// DBPath is the full path to the SQLite database file.
	// If empty, defaults to ~/.smartcatalog/<DBName>.db
	DBPath string `json:"db_path" yaml:"db_path"`

	// DBName is the name for the database (used when DBPath is empty).
	// Defaults to "smartcatalog".
	DBName string `json:"db_name" yaml:"db_name"`

	// StorageDir controls where the database is created when DBPath
	// is not explicitly set. Options: "home" (default) uses ~/.smartcatalog/,
	// "local" uses the current working directory.
	StorageDir string `json:"storage_dir" yaml:"storage_dir"`

	// CatalogDir is the root that catalog document references resolve
	// against. Empty means references are plain file paths.
	CatalogDir string `json:"catalog_dir" yaml:"catalog_dir"`

	// Vision is the model that reads cropped price tables.
	Vision LLMConfig `json:"vision" yaml:"vision"`

	Raster     RasterConfig     `json:"raster" yaml:"raster"`
	Extraction ExtractionConfig `json:"extraction" yaml:"extraction"`
	Tables     TableConfig      `json:"tables" yaml:"tables"`

	// MaxConcurrentResolutions bounds parallel price resolutions across
	// products (default 4).
	MaxConcurrentResolutions int `json:"max_concurrent_resolutions" yaml:"max_concurrent_resolutions"`
}

// LLMConfig configures a single LLM provider endpoint.
type LLMConfig struct {
	Provider string `json:"provider" yaml:"provider"` // openai, anthropic, gemini, openrouter, xai, ollama, lmstudio, custom
	Model    string `json:"model" yaml:"model"`
	BaseURL  string `json:"base_url" yaml:"base_url"`
	APIKey   string `json:"api_key" yaml:"api_key"`
}

// RasterConfig controls table cropping.
type RasterConfig struct {
	Padding float64 `json:"padding" yaml:"padding"` // points added around each table box
	Zoom    float64 `json:"zoom" yaml:"zoom"`       // render scale, 72*zoom DPI
}

// ExtractionConfig tunes the vision extractor.
type ExtractionConfig struct {
	Temperature  float64 `json:"temperature" yaml:"temperature"`
	MaxTokens    int     `json:"max_tokens" yaml:"max_tokens"`
	FewShotDir   string  `json:"few_shot_dir" yaml:"few_shot_dir"`
	SystemPrompt string  `json:"system_prompt" yaml:"system_prompt"`
}

// TableConfig tunes geometric table detection. Zero fields keep the
// detector defaults.
type TableConfig struct {
	MinRows       int     `json:"min_rows" yaml:"min_rows"`
	MinCols       int     `json:"min_cols" yaml:"min_cols"`
	MinConfidence float64 `json:"min_confidence" yaml:"min_confidence"`
}

// DefaultConfig returns a Config with sensible defaults.
// Database is stored in ~/.smartcatalog/smartcatalog.db by default.
func DefaultConfig() Config {
	return Config{
		DBName:     "smartcatalog",
		StorageDir: "home",
		Vision: LLMConfig{
			Provider: "gemini",
			Model:    "gemini-2.5-flash",
		},
		Raster: RasterConfig{
			Padding: raster.DefaultPadding,
			Zoom:    raster.DefaultZoom,
		},
		Extraction: ExtractionConfig{
			MaxTokens: 8192,
		},
		MaxConcurrentResolutions: 4,
	}
}

// LoadConfig reads a YAML or JSON file over DefaultConfig. Files with an
// unknown extension are tried as YAML, then JSON.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	case ".json":
		err = json.Unmarshal(data, &cfg)
	default:
		if yerr := yaml.Unmarshal(data, &cfg); yerr != nil {
			cfg = DefaultConfig()
			err = json.Unmarshal(data, &cfg)
		}
	}
	if err != nil {
		return DefaultConfig(), fmt.Errorf("%w: parsing %s: %v", ErrInvalidConfig, path, err)
	}
	return cfg, nil
}

// providerKeyEnv names the conventional API key variable per provider.
var providerKeyEnv = map[string]string{
	"openai":     "OPENAI_API_KEY",
	"anthropic":  "ANTHROPIC_API_KEY",
	"gemini":     "GEMINI_API_KEY",
	"openrouter": "OPENROUTER_API_KEY",
	"xai":        "XAI_API_KEY",
}

// ApplyEnv overrides c from SMARTCATALOG_* environment variables. When no
// API key is configured the provider's conventional variable is used.
func (c *Config) ApplyEnv() error {
	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(name); ok {
			*dst = v
		}
	}
	str("SMARTCATALOG_DB_PATH", &c.DBPath)
	str("SMARTCATALOG_CATALOG_DIR", &c.CatalogDir)
	str("SMARTCATALOG_VISION_PROVIDER", &c.Vision.Provider)
	str("SMARTCATALOG_VISION_MODEL", &c.Vision.Model)
	str("SMARTCATALOG_VISION_BASE_URL", &c.Vision.BaseURL)
	str("SMARTCATALOG_VISION_API_KEY", &c.Vision.APIKey)
	str("SMARTCATALOG_FEW_SHOT_DIR", &c.Extraction.FewShotDir)

	if v, ok := os.LookupEnv("SMARTCATALOG_MAX_CONCURRENT_RESOLUTIONS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: SMARTCATALOG_MAX_CONCURRENT_RESOLUTIONS=%q", ErrInvalidConfig, v)
		}
		c.MaxConcurrentResolutions = n
	}

	if c.Vision.APIKey == "" {
		if name, ok := providerKeyEnv[strings.ToLower(c.Vision.Provider)]; ok {
			c.Vision.APIKey = os.Getenv(name)
		}
	}
	return nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.Raster.Padding < 0:
		return fmt.Errorf("%w: raster padding %v is negative", ErrInvalidConfig, c.Raster.Padding)
	case c.Raster.Zoom < 0:
		return fmt.Errorf("%w: raster zoom %v is negative", ErrInvalidConfig, c.Raster.Zoom)
	case c.Extraction.MaxTokens < 0:
		return fmt.Errorf("%w: max tokens %d is negative", ErrInvalidConfig, c.Extraction.MaxTokens)
	case c.Tables.MinConfidence < 0 || c.Tables.MinConfidence > 1:
		return fmt.Errorf("%w: table min confidence %v outside [0,1]", ErrInvalidConfig, c.Tables.MinConfidence)
	case c.MaxConcurrentResolutions < 0:
		return fmt.Errorf("%w: max concurrent resolutions %d is negative", ErrInvalidConfig, c.MaxConcurrentResolutions)
	}
	return nil
}

// resolveDBPath computes the final database path from config fields.
func (c *Config) resolveDBPath() string {
	if c.DBPath != "" {
		return c.DBPath
	}

	name := c.DBName
	if name == "" {
		name = "smartcatalog"
	}

	switch c.StorageDir {
	case "local", "cwd":
		return name + ".db"
	default: // "home" or empty
		home, err := os.UserHomeDir()
		if err != nil {
			return name + ".db" // fallback to cwd
		}
		return filepath.Join(home, ".smartcatalog", name+".db")
	}
}
