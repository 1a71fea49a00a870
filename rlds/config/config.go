package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	internal "github.com/ZanzyTHEbar/rlhf-datasets/rlds"
	"github.com/ZanzyTHEbar/rlhf-datasets/rlds/processor"
	"github.com/ZanzyTHEbar/rlhf-datasets/rlds/sequence"

	"github.com/spf13/viper"
)

// Config stores all configuration of the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	Dataset   DatasetConfig   `mapstructure:"dataset"`
	Tokenizer TokenizerConfig `mapstructure:"tokenizer"`
	Processor ProcessorConfig `mapstructure:"processor"`
	Remote    RemoteConfig    `mapstructure:"remote"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Loader    LoaderConfig    `mapstructure:"loader"`
}

// DatasetConfig stores the record source and example transformation options.
type DatasetConfig struct {
	PromptKey             string `mapstructure:"prompt_key"`
	AnswerKey             string `mapstructure:"answer_key"`
	ImageKey              string `mapstructure:"image_key"`
	MaxPromptLength       int    `mapstructure:"max_prompt_length"`
	Truncation            string `mapstructure:"truncation"`
	FormatPrompt          string `mapstructure:"format_prompt"`
	MaxPixels             int    `mapstructure:"max_pixels"`
	MinPixels             int    `mapstructure:"min_pixels"`
	FilterOverlongPrompts bool   `mapstructure:"filter_overlong_prompts"`

	// Annotation switches the source to a JSON annotation file whose images
	// live under ImageRoot.
	Annotation           bool   `mapstructure:"annotation"`
	ImageRoot            string `mapstructure:"image_root"`
	ApplyEXIFOrientation bool   `mapstructure:"apply_exif_orientation"`
}

// TokenizerConfig selects and locates the tokenizer backend.
type TokenizerConfig struct {
	Backend  string `mapstructure:"backend"`
	Path     string `mapstructure:"path"`
	Encoding string `mapstructure:"encoding"`
	PadToken string `mapstructure:"pad_token"`
	PadID    int    `mapstructure:"pad_id"`
}

// ProcessorConfig stores the multimodal processor settings.
type ProcessorConfig struct {
	PositionIDs  string `mapstructure:"position_ids"`
	PatchSize    int    `mapstructure:"patch_size"`
	MergeSize    int    `mapstructure:"merge_size"`
	MinPixels    int    `mapstructure:"min_pixels"`
	MaxPixels    int    `mapstructure:"max_pixels"`
	SystemPrompt string `mapstructure:"system_prompt"`
}

// RemoteConfig stores the remote dataset server settings.
type RemoteConfig struct {
	Endpoint       string `mapstructure:"endpoint"`
	Config         string `mapstructure:"config"`
	PageSize       int    `mapstructure:"page_size"`
	RetryMax       int    `mapstructure:"retry_max"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// StorageConfig stores object storage credentials for s3:// locators.
type StorageConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Region    string `mapstructure:"region"`
	Secure    bool   `mapstructure:"secure"`
	CacheDir  string `mapstructure:"cache_dir"`
}

// LoaderConfig stores batching options.
type LoaderConfig struct {
	BatchSize int   `mapstructure:"batch_size"`
	Workers   int   `mapstructure:"workers"`
	Shuffle   bool  `mapstructure:"shuffle"`
	Seed      int64 `mapstructure:"seed"`
	DropLast  bool  `mapstructure:"drop_last"`
}

var (
	ErrInvalidTruncation     = errors.New("truncation must be one of left, right, error")
	ErrInvalidPromptLength   = errors.New("max_prompt_length must be positive")
	ErrInvalidPositionIDMode = errors.New("position_ids must be one of standard, mrope, multimodal_rotary")
)

var AppConfig Config

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("..")
		v.AddConfigPath(filepath.Join("etc", internal.DefaultAppName))
		v.AddConfigPath(internal.DefaultConfigPath)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	SetDefaults(v)

	v.SetEnvPrefix(internal.DefaultEnvPrefix)
	v.AutomaticEnv()                                   // Read in environment variables that match
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // dataset.max_prompt_length becomes RLDS_DATASET_MAX_PROMPT_LENGTH

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	AppConfig = cfg
	return &cfg, nil
}

// SetDefaults registers every default value on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("dataset.prompt_key", "prompt")
	v.SetDefault("dataset.answer_key", "answer")
	v.SetDefault("dataset.image_key", "images")
	v.SetDefault("dataset.max_prompt_length", 1024)
	v.SetDefault("dataset.truncation", "error")
	v.SetDefault("dataset.format_prompt", "")
	v.SetDefault("dataset.max_pixels", 0)
	v.SetDefault("dataset.min_pixels", 0)
	v.SetDefault("dataset.filter_overlong_prompts", true)
	v.SetDefault("dataset.annotation", false)
	v.SetDefault("dataset.image_root", ".")
	v.SetDefault("dataset.apply_exif_orientation", false)

	v.SetDefault("tokenizer.backend", "hf")
	v.SetDefault("tokenizer.path", "")
	v.SetDefault("tokenizer.encoding", "cl100k_base")
	v.SetDefault("tokenizer.pad_token", "<|endoftext|>")
	v.SetDefault("tokenizer.pad_id", 0)

	v.SetDefault("processor.position_ids", "standard")
	v.SetDefault("processor.patch_size", 14)
	v.SetDefault("processor.merge_size", 2)
	v.SetDefault("processor.min_pixels", 56*56)
	v.SetDefault("processor.max_pixels", 28*28*1280)
	v.SetDefault("processor.system_prompt", "You are a helpful assistant.")

	v.SetDefault("remote.endpoint", internal.DefaultRemoteEndpoint)
	v.SetDefault("remote.config", internal.DefaultRemoteConfig)
	v.SetDefault("remote.page_size", 100)
	v.SetDefault("remote.retry_max", 2)
	v.SetDefault("remote.timeout_seconds", 60)

	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.access_key", "")
	v.SetDefault("storage.secret_key", "")
	v.SetDefault("storage.region", "")
	v.SetDefault("storage.secure", true)
	v.SetDefault("storage.cache_dir", internal.DefaultCacheDir)

	v.SetDefault("loader.batch_size", 8)
	v.SetDefault("loader.workers", 4)
	v.SetDefault("loader.shuffle", false)
	v.SetDefault("loader.seed", 1)
	v.SetDefault("loader.drop_last", false)
}

// Validate checks the options that would otherwise fail late during
// transformation. min_pixels > max_pixels is left to the resize path.
func (c *Config) Validate() error {
	if _, err := sequence.ParseTruncation(c.Dataset.Truncation); err != nil {
		return fmt.Errorf("%w: got %q", ErrInvalidTruncation, c.Dataset.Truncation)
	}
	if c.Dataset.MaxPromptLength <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidPromptLength, c.Dataset.MaxPromptLength)
	}
	if _, err := processor.ParsePositionIDStrategy(c.Processor.PositionIDs); err != nil {
		return fmt.Errorf("%w: got %q", ErrInvalidPositionIDMode, c.Processor.PositionIDs)
	}
	return nil
}
