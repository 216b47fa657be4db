// Package config loads service settings from defaults, an optional JSON file
// and MICROSCAN_* environment variables, in that order of precedence.
package config

import (
	"encoding/json"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/a8m/envsubst"
	"github.com/go-viper/mapstructure/v2"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

const envPrefix = "MICROSCAN_"

type Config struct {
	Addr           string `json:"addr"`
	RuntimeLibrary string `json:"runtime_library"`

	ProposerModel       string  `json:"proposer_model"`
	ProposerInputSize   int     `json:"proposer_input_size"`
	ProposerPredictions int     `json:"proposer_predictions"`
	ProposerClasses     int     `json:"proposer_classes"`
	NormalizedCoords    bool    `json:"normalized_coords"`
	ScoreFloor          float64 `json:"score_floor"`
	IouThreshold        float64 `json:"iou_threshold"`
	MaxDetections       int     `json:"max_detections"`

	ConfidenceThreshold float64 `json:"confidence_threshold"`
	BrightnessCeiling   float64 `json:"brightness_ceiling"`

	ValidatorEnabled     bool    `json:"validator_enabled"`
	ClassifierModel      string  `json:"classifier_model"`
	ClassifierInputSize  int     `json:"classifier_input_size"`
	ValidatorThreshold   float64 `json:"validator_threshold"`
	ValidatorTargetIndex int     `json:"validator_target_index"`

	PoolSize       int           `json:"pool_size"`
	Threads        int           `json:"threads"`
	AcquireTimeout time.Duration `json:"acquire_timeout"`
	RequestTimeout time.Duration `json:"request_timeout"`

	StreamURL           string        `json:"stream_url"`
	StreamRetryAttempts int           `json:"stream_retry_attempts"`
	StreamRetryBackoff  time.Duration `json:"stream_retry_backoff"`
	Stride              int           `json:"stride"`

	StaticDir    string `json:"static_dir"`
	HistoryFile  string `json:"history_file"`
	HistoryLimit int    `json:"history_limit"`
	BoxColor     string `json:"box_color"`

	LogLevel string `json:"log_level"`
	LogFile  string `json:"log_file"`
}

func Default() *Config {
	return &Config{
		Addr: ":5000",

		ProposerModel:       "models/yolo.onnx",
		ProposerInputSize:   640,
		ProposerPredictions: 8400,
		ProposerClasses:     1,
		ScoreFloor:          0.001,
		IouThreshold:        0.45,
		MaxDetections:       300,

		ConfidenceThreshold: 0.02,
		BrightnessCeiling:   150,

		ValidatorEnabled:     true,
		ClassifierModel:      "models/cnn.onnx",
		ClassifierInputSize:  128,
		ValidatorThreshold:   0.5,
		ValidatorTargetIndex: 1,

		PoolSize:       4,
		AcquireTimeout: 5 * time.Second,
		RequestTimeout: 30 * time.Second,

		StreamRetryAttempts: 5,
		StreamRetryBackoff:  100 * time.Millisecond,
		Stride:              10,

		StaticDir:    "static",
		HistoryFile:  "history.json",
		HistoryLimit: 50,
		BoxColor:     "#FF0000",

		LogLevel: "info",
	}
}

// Load builds the configuration. path may be empty.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.mergeEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decode(input map[string]interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           c,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return err
	}
	return decoder.Decode(input)
}

// mergeFile reads a JSON file after expanding ${VAR} references.
func (c *Config) mergeFile(path string) error {
	buf, err := envsubst.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "read config %s", path)
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(buf, &raw); err != nil {
		return errors.Wrapf(err, "parse config %s", path)
	}
	if err := c.decode(raw); err != nil {
		return errors.Wrapf(err, "decode config %s", path)
	}
	return nil
}

// mergeEnv applies MICROSCAN_<KEY> overrides, where KEY is the upper-cased
// JSON key of a field.
func (c *Config) mergeEnv(lookup func(string) (string, bool)) error {
	raw := map[string]interface{}{}
	for _, key := range Keys() {
		if v, ok := lookup(envPrefix + strings.ToUpper(key)); ok && v != "" {
			raw[key] = v
		}
	}
	if len(raw) == 0 {
		return nil
	}
	return errors.Wrap(c.decode(raw), "decode environment")
}

// Keys lists every configuration key.
func Keys() []string {
	t := reflect.TypeOf(Config{})
	keys := make([]string, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		if tag := t.Field(i).Tag.Get("json"); tag != "" && tag != "-" {
			keys = append(keys, strings.Split(tag, ",")[0])
		}
	}
	return keys
}

func unitInterval(name string, v float64) error {
	if v < 0 || v > 1 {
		return errors.Errorf("%s must be within [0, 1], got %v", name, v)
	}
	return nil
}

func positive(name string, v int) error {
	if v <= 0 {
		return errors.Errorf("%s must be positive, got %d", name, v)
	}
	return nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var err error
	if c.ProposerModel == "" {
		err = multierr.Append(err, errors.New("proposer_model is required"))
	}
	if c.ValidatorEnabled && c.ClassifierModel == "" {
		err = multierr.Append(err, errors.New("classifier_model is required when the validator is enabled"))
	}
	err = multierr.Combine(err,
		unitInterval("confidence_threshold", c.ConfidenceThreshold),
		unitInterval("score_floor", c.ScoreFloor),
		unitInterval("iou_threshold", c.IouThreshold),
		unitInterval("validator_threshold", c.ValidatorThreshold),
		positive("proposer_input_size", c.ProposerInputSize),
		positive("proposer_predictions", c.ProposerPredictions),
		positive("proposer_classes", c.ProposerClasses),
		positive("max_detections", c.MaxDetections),
		positive("classifier_input_size", c.ClassifierInputSize),
		positive("pool_size", c.PoolSize),
		positive("stream_retry_attempts", c.StreamRetryAttempts),
		positive("stride", c.Stride),
		positive("history_limit", c.HistoryLimit),
	)
	if c.BrightnessCeiling < 0 || c.BrightnessCeiling > 255 {
		err = multierr.Append(err, errors.Errorf("brightness_ceiling must be within [0, 255], got %v", c.BrightnessCeiling))
	}
	if c.ValidatorTargetIndex < 0 {
		err = multierr.Append(err, errors.Errorf("validator_target_index must not be negative, got %d", c.ValidatorTargetIndex))
	}
	if c.RequestTimeout <= 0 {
		err = multierr.Append(err, errors.New("request_timeout must be positive"))
	}
	if _, cerr := colorful.Hex(c.BoxColor); cerr != nil {
		err = multierr.Append(err, errors.Wrapf(cerr, "box_color %q", c.BoxColor))
	}
	return err
}
