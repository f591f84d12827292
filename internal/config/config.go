// Package config loads and validates the recognition engine configuration.
//
// Configuration is layered with koanf: built-in defaults, then an optional
// YAML file, then MATCHER_* environment variables. The loaded Config is an
// immutable snapshot for the run; nothing re-reads it after startup.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"screen-matcher/internal/logging"
)

// DefaultConfigPaths lists the paths searched for a config file, in order.
var DefaultConfigPaths = []string{
	"matcher.yaml",
	"matcher.yml",
}

// ConfigPathEnvVar overrides the config file search path.
const ConfigPathEnvVar = "MATCHER_CONFIG"

// envPrefix namespaces environment overrides, e.g.
// MATCHER_DETECTOR_FEATURE_BUDGET=1500 -> detector.feature_budget.
const envPrefix = "MATCHER_"

// Strategy tags select the recognition backend. The set is closed; the
// dispatcher refuses unknown tags at construction time.
const (
	StrategyCachedFeatures   = "cached_features"
	StrategyUncachedFeatures = "uncached_features"
	StrategyColorTemplate    = "color_template"
	StrategyPerceptualHash   = "perceptual_hash"
)

// DetectorConfig controls feature extraction.
type DetectorConfig struct {
	// Kind names the keypoint detector. Only "orb" is supported.
	Kind string `koanf:"kind"`

	// TargetWidth and TargetHeight are the normalized size every image is
	// resized to before extraction.
	TargetWidth  int `koanf:"target_width"`
	TargetHeight int `koanf:"target_height"`

	// FeatureBudget caps the number of keypoints per image.
	FeatureBudget int `koanf:"feature_budget"`

	// Equalize applies histogram equalization after grayscale conversion.
	Equalize bool `koanf:"equalize"`

	// Blur applies a light Gaussian blur to stabilize matching under
	// crop-offset and lighting variance.
	Blur bool `koanf:"blur"`
}

// MatchingConfig controls geometric matching and strategy selection.
type MatchingConfig struct {
	// Strategy is one of the Strategy* tags.
	Strategy string `koanf:"strategy"`

	// RatioThreshold is the Lowe ratio-test cutoff.
	RatioThreshold float64 `koanf:"ratio_threshold"`

	// MinMatchCount is the minimum number of ratio-test survivors required
	// before homography estimation is attempted.
	MinMatchCount int `koanf:"min_match_count"`

	// MinInliers is the minimum homography inlier count. Zero means
	// max(MinMatchCount/2, 6).
	MinInliers int `koanf:"min_inliers"`

	// RansacIterations and ReprojThreshold tune homography estimation.
	RansacIterations int     `koanf:"ransac_iterations"`
	ReprojThreshold  float64 `koanf:"reproj_threshold"`

	// Parallel is accepted for forward compatibility but is not wired to
	// any execution path; matching is single-threaded.
	Parallel bool `koanf:"parallel"`
}

// CacheConfig locates the persisted feature cache and freshness index.
type CacheConfig struct {
	Dir string `koanf:"dir"`

	// FeatureFile and IndexFile are filenames inside Dir.
	FeatureFile string `koanf:"feature_file"`
	IndexFile   string `koanf:"index_file"`
}

// PathsConfig locates the image directories.
type PathsConfig struct {
	TemplateDir  string `koanf:"template_dir"`
	CandidateDir string `koanf:"candidate_dir"`
}

// Config is the full engine configuration snapshot.
type Config struct {
	Detector DetectorConfig `koanf:"detector"`
	Matching MatchingConfig `koanf:"matching"`
	Cache    CacheConfig    `koanf:"cache"`
	Paths    PathsConfig    `koanf:"paths"`
	Logging  logging.Config `koanf:"logging"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Detector: DetectorConfig{
			Kind:          "orb",
			TargetWidth:   116,
			TargetHeight:  116,
			FeatureBudget: 2000,
			Equalize:      true,
			Blur:          false,
		},
		Matching: MatchingConfig{
			Strategy:         StrategyCachedFeatures,
			RatioThreshold:   0.75,
			MinMatchCount:    8,
			MinInliers:       0, // derived from MinMatchCount
			RansacIterations: 2000,
			ReprojThreshold:  3.0,
			Parallel:         false,
		},
		Cache: CacheConfig{
			Dir:         "cache",
			FeatureFile: "features.bin",
			IndexFile:   "freshness.json",
		},
		Paths: PathsConfig{
			TemplateDir:  "templates",
			CandidateDir: "candidates",
		},
		Logging: logging.Config{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file, and
// MATCHER_* environment variables, then validates it.
func Load() (*Config, error) {
	return LoadFile(findConfigFile())
}

// LoadFile is Load with an explicit config file path. An empty path skips
// the file layer.
func LoadFile(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the snapshot for values the engine cannot run with.
func (c *Config) Validate() error {
	if c.Detector.Kind != "orb" {
		return fmt.Errorf("detector.kind: unsupported detector %q", c.Detector.Kind)
	}
	if c.Detector.TargetWidth <= 0 || c.Detector.TargetHeight <= 0 {
		return fmt.Errorf("detector: target size must be positive, got %dx%d",
			c.Detector.TargetWidth, c.Detector.TargetHeight)
	}
	if c.Detector.FeatureBudget <= 0 {
		return fmt.Errorf("detector.feature_budget: must be positive, got %d", c.Detector.FeatureBudget)
	}
	switch c.Matching.Strategy {
	case StrategyCachedFeatures, StrategyUncachedFeatures, StrategyColorTemplate, StrategyPerceptualHash:
	default:
		return fmt.Errorf("matching.strategy: unknown strategy %q", c.Matching.Strategy)
	}
	if c.Matching.RatioThreshold <= 0 || c.Matching.RatioThreshold >= 1 {
		return fmt.Errorf("matching.ratio_threshold: must be in (0,1), got %g", c.Matching.RatioThreshold)
	}
	if c.Matching.MinMatchCount < 4 {
		return fmt.Errorf("matching.min_match_count: must be at least 4, got %d", c.Matching.MinMatchCount)
	}
	if c.Matching.RansacIterations <= 0 {
		return fmt.Errorf("matching.ransac_iterations: must be positive, got %d", c.Matching.RansacIterations)
	}
	if c.Matching.ReprojThreshold <= 0 {
		return fmt.Errorf("matching.reproj_threshold: must be positive, got %g", c.Matching.ReprojThreshold)
	}
	if c.Cache.Dir == "" || c.Cache.FeatureFile == "" || c.Cache.IndexFile == "" {
		return fmt.Errorf("cache: dir, feature_file and index_file must be set")
	}
	return nil
}

// EffectiveMinInliers resolves the inlier gate: the configured value, or
// half the match-count gate with a floor of 6.
func (c *Config) EffectiveMinInliers() int {
	if c.Matching.MinInliers > 0 {
		return c.Matching.MinInliers
	}
	n := c.Matching.MinMatchCount / 2
	if n < 6 {
		n = 6
	}
	return n
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envTransform maps MATCHER_DETECTOR_FEATURE_BUDGET to
// detector.feature_budget. The first underscore separates the section;
// the rest of the name keeps its underscores.
func envTransform(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
	return strings.Replace(s, "_", ".", 1)
}
