// Package config loads the point-cloud tuning parameters from JSON or YAML.
//
// Every field is optional. The Get* accessors return the built-in default
// for fields that are not set, so partial files are safe.
package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is the path to the canonical defaults file.
const DefaultConfigPath = "config/densecloud.defaults.json"

const maxFileSize = 1 * 1024 * 1024 // 1MB

// Baseline policies for the motion gate reference pose.
const (
	// BaselineEveryFrame records the camera pose after every frame that
	// passes the motion gate, whether or not any point was admitted.
	BaselineEveryFrame = "every_frame"
	// BaselineNonEmptyAdmission records it only when at least one point
	// was admitted.
	BaselineNonEmptyAdmission = "non_empty_admission"
)

// Defaults.
const (
	DefaultCapacity                   = 3_000_000
	DefaultMaxPointsPerFrame          = 500
	DefaultMinConfidence              = 0.5
	DefaultRotationThresholdDeg       = 2.0
	DefaultTranslationThresholdMeters = 0.02
	DefaultSamplingWorkers            = 1
	DefaultTickInterval               = 16 * time.Millisecond
)

//go:embed schema.json
var schemaJSON string

var schema = jsonschema.MustCompileString("densecloud.schema.json", schemaJSON)

// CloudConfig holds the tuning parameters of one point-cloud manager.
type CloudConfig struct {
	Capacity                   *int     `json:"capacity,omitempty" yaml:"capacity,omitempty"`
	MaxPointsPerFrame          *int     `json:"max_points_per_frame,omitempty" yaml:"max_points_per_frame,omitempty"`
	MinConfidence              *float64 `json:"min_confidence,omitempty" yaml:"min_confidence,omitempty"`
	RotationThresholdDeg       *float64 `json:"rotation_threshold_deg,omitempty" yaml:"rotation_threshold_deg,omitempty"`
	TranslationThresholdMeters *float64 `json:"translation_threshold_meters,omitempty" yaml:"translation_threshold_meters,omitempty"`
	SamplingWorkers            *int     `json:"sampling_workers,omitempty" yaml:"sampling_workers,omitempty"`
	BaselinePolicy             *string  `json:"baseline_policy,omitempty" yaml:"baseline_policy,omitempty"`
	TickInterval               *string  `json:"tick_interval,omitempty" yaml:"tick_interval,omitempty"` // duration string like "16ms"
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// Empty returns a CloudConfig with every field unset.
func Empty() *CloudConfig {
	return &CloudConfig{}
}

// Defaults returns a CloudConfig with every field set to its default.
func Defaults() *CloudConfig {
	return &CloudConfig{
		Capacity:                   ptrInt(DefaultCapacity),
		MaxPointsPerFrame:          ptrInt(DefaultMaxPointsPerFrame),
		MinConfidence:              ptrFloat64(DefaultMinConfidence),
		RotationThresholdDeg:       ptrFloat64(DefaultRotationThresholdDeg),
		TranslationThresholdMeters: ptrFloat64(DefaultTranslationThresholdMeters),
		SamplingWorkers:            ptrInt(DefaultSamplingWorkers),
		BaselinePolicy:             ptrString(BaselineEveryFrame),
		TickInterval:               ptrString(DefaultTickInterval.String()),
	}
}

// Load reads a CloudConfig from a .json, .yaml or .yml file. The document
// is checked against the embedded JSON schema before decoding, then
// validated.
func Load(path string) (*CloudConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if ext != ".json" {
		if data, err = yamlToJSON(data); err != nil {
			return nil, err
		}
	}
	return Parse(data)
}

// Parse decodes and validates a JSON document.
func Parse(data []byte) (*CloudConfig, error) {
	var doc interface{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("config does not match schema: %w", err)
	}

	cfg := Empty()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// yamlToJSON re-encodes a YAML document as JSON so both formats share the
// schema check and decoder.
func yamlToJSON(data []byte) ([]byte, error) {
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}
	if doc == nil {
		doc = map[string]interface{}{}
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to convert config YAML: %w", err)
	}
	return out, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching the current
// directory and its parents up to the repository root. It panics if the
// file cannot be loaded and is intended for tests and the demo binary.
func MustLoadDefaultConfig() *CloudConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := Load(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run from repository root")
}

// Validate checks the set fields.
func (c *CloudConfig) Validate() error {
	if c.Capacity != nil && *c.Capacity < 0 {
		return fmt.Errorf("capacity must be non-negative, got %d", *c.Capacity)
	}
	if c.MaxPointsPerFrame != nil && *c.MaxPointsPerFrame <= 0 {
		return fmt.Errorf("max_points_per_frame must be positive, got %d", *c.MaxPointsPerFrame)
	}
	if c.MinConfidence != nil && (*c.MinConfidence < 0 || *c.MinConfidence > 1) {
		return fmt.Errorf("min_confidence must be between 0 and 1, got %f", *c.MinConfidence)
	}
	if c.RotationThresholdDeg != nil && (*c.RotationThresholdDeg < 0 || *c.RotationThresholdDeg > 180) {
		return fmt.Errorf("rotation_threshold_deg must be between 0 and 180, got %f", *c.RotationThresholdDeg)
	}
	if c.TranslationThresholdMeters != nil && *c.TranslationThresholdMeters < 0 {
		return fmt.Errorf("translation_threshold_meters must be non-negative, got %f", *c.TranslationThresholdMeters)
	}
	if c.SamplingWorkers != nil && *c.SamplingWorkers < 1 {
		return fmt.Errorf("sampling_workers must be at least 1, got %d", *c.SamplingWorkers)
	}
	if c.BaselinePolicy != nil {
		switch *c.BaselinePolicy {
		case BaselineEveryFrame, BaselineNonEmptyAdmission:
		default:
			return fmt.Errorf("unknown baseline_policy %q", *c.BaselinePolicy)
		}
	}
	if c.TickInterval != nil && *c.TickInterval != "" {
		d, err := time.ParseDuration(*c.TickInterval)
		if err != nil {
			return fmt.Errorf("invalid tick_interval '%s': %w", *c.TickInterval, err)
		}
		if d <= 0 {
			return fmt.Errorf("tick_interval must be positive, got %s", d)
		}
	}
	return nil
}

// GetCapacity returns the capacity value or the default.
func (c *CloudConfig) GetCapacity() int {
	if c.Capacity == nil {
		return DefaultCapacity
	}
	return *c.Capacity
}

// GetMaxPointsPerFrame returns the max_points_per_frame value or the default.
func (c *CloudConfig) GetMaxPointsPerFrame() int {
	if c.MaxPointsPerFrame == nil {
		return DefaultMaxPointsPerFrame
	}
	return *c.MaxPointsPerFrame
}

// GetMinConfidence returns the min_confidence value or the default.
func (c *CloudConfig) GetMinConfidence() float64 {
	if c.MinConfidence == nil {
		return DefaultMinConfidence
	}
	return *c.MinConfidence
}

// GetRotationThresholdDeg returns the rotation_threshold_deg value or the default.
func (c *CloudConfig) GetRotationThresholdDeg() float64 {
	if c.RotationThresholdDeg == nil {
		return DefaultRotationThresholdDeg
	}
	return *c.RotationThresholdDeg
}

// GetTranslationThresholdMeters returns the translation_threshold_meters value or the default.
func (c *CloudConfig) GetTranslationThresholdMeters() float64 {
	if c.TranslationThresholdMeters == nil {
		return DefaultTranslationThresholdMeters
	}
	return *c.TranslationThresholdMeters
}

// GetSamplingWorkers returns the sampling_workers value or the default.
func (c *CloudConfig) GetSamplingWorkers() int {
	if c.SamplingWorkers == nil {
		return DefaultSamplingWorkers
	}
	return *c.SamplingWorkers
}

// GetBaselinePolicy returns the baseline_policy value or the default.
func (c *CloudConfig) GetBaselinePolicy() string {
	if c.BaselinePolicy == nil || *c.BaselinePolicy == "" {
		return BaselineEveryFrame
	}
	return *c.BaselinePolicy
}

// GetTickInterval parses and returns the TickInterval as a time.Duration.
func (c *CloudConfig) GetTickInterval() time.Duration {
	if c.TickInterval == nil || *c.TickInterval == "" {
		return DefaultTickInterval
	}
	d, err := time.ParseDuration(*c.TickInterval)
	if err != nil || d <= 0 {
		return DefaultTickInterval // default on parse error
	}
	return d
}
