package archivey

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-yaml"
	"github.com/spf13/afero"

	"github.com/davitf/archivey/internal/textdec"
)

// Content cache modes accepted by CacheConfig.Mode.
const (
	CacheModeMemory = "memory"
	CacheModeDisk   = "disk"
	CacheModeNone   = "none"
)

// Config holds reader settings loadable from YAML or JSON.
//
//	encodings:
//	  zip: [utf-8, cp437]
//	block_size: 65536
//	content_cache:
//	  mode: disk
//	  dir: /var/cache/archivey
//	  max_bytes: 1073741824
type Config struct {
	// Encodings maps a format family ("zip" or "tar") to its filename
	// decoding chain.
	Encodings map[string][]string `yaml:"encodings" json:"encodings" validate:"omitempty,dive,keys,oneof=zip tar,endkeys,min=1,dive,textencoding"`

	BlockSize         int           `yaml:"block_size" json:"block_size" validate:"gte=0"`
	TarCheckIntegrity bool          `yaml:"tar_check_integrity" json:"tar_check_integrity"`
	Stargz            *bool         `yaml:"stargz" json:"stargz"`
	Decoder           DecoderConfig `yaml:"decoder" json:"decoder"`
	ContentCache      CacheConfig   `yaml:"content_cache" json:"content_cache"`
	Extract           ExtractConfig `yaml:"extract" json:"extract"`
}

// DecoderConfig tunes the zstd decoders.
type DecoderConfig struct {
	MaxMemory   uint64 `yaml:"max_memory" json:"max_memory"`
	Concurrency *int   `yaml:"concurrency" json:"concurrency" validate:"omitempty,gte=0"`
}

// CacheConfig selects the content cache for single-pass readers.
type CacheConfig struct {
	// Mode is "memory" (default), "disk" or "none".
	Mode string `yaml:"mode" json:"mode" validate:"omitempty,oneof=memory disk none"`

	// Dir is required for the disk mode.
	Dir string `yaml:"dir" json:"dir" validate:"required_if=Mode disk"`

	// MaxBytes limits the cache size. 0 means unlimited.
	MaxBytes int64 `yaml:"max_bytes" json:"max_bytes" validate:"gte=0"`
}

// ExtractConfig holds ExtractAll defaults.
type ExtractConfig struct {
	// Workers follows ExtractWithWorkers.
	Workers int `yaml:"workers" json:"workers"`
}

var defaultValidator = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.RegisterValidation("textencoding", func(fl validator.FieldLevel) bool {
		_, ok := textdec.Canonical(fl.Field().String())
		return ok
	}); err != nil {
		panic(err)
	}
	return v
}

func validate(cfg Config) error {
	if err := defaultValidator.Struct(cfg); err != nil {
		return fmt.Errorf("failed to validate config: %w", err)
	}
	return nil
}

// LoadConfig parses and validates a YAML or JSON config.
func LoadConfig(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfigFile reads a config file from fsys. A nil fsys reads from the
// OS filesystem.
func LoadConfigFile(fsys afero.Fs, path string) (Config, error) {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}
	return LoadConfig(data)
}
