package config

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"digitnet/internal/activation"
	"digitnet/internal/dataset"
	"digitnet/internal/model"
)

// Config captures the runtime knobs for a training run.
type Config struct {
	Manifest    string `yaml:"manifest"`
	DatasetRoot string `yaml:"dataset_root"`
	Shard       string `yaml:"shard"`
	BaseDir     string `yaml:"base_dir"`
	NumWorkers  int    `yaml:"num_workers"`

	ImageWidth   int     `yaml:"image_width"`
	ImageHeight  int     `yaml:"image_height"`
	HiddenSize   int     `yaml:"hidden_size"`
	Classes      int     `yaml:"classes"`
	LearningRate float64 `yaml:"learning_rate"`
	Activation   string  `yaml:"activation"`
	Epochs       int     `yaml:"epochs"`
	Seed         int64   `yaml:"seed"`

	ModelPath string `yaml:"model_path"`
	Resume    bool   `yaml:"resume"`
	LogEvery  int    `yaml:"log_every"`
}

// Overrides captures CLI supplied values.
type Overrides struct {
	Manifest     string
	DatasetRoot  string
	Shard        string
	NumWorkers   int
	HiddenSize   int
	LearningRate float64
	Activation   string
	Epochs       int
	Seed         int64
	ModelPath    string
	Resume       bool
	LogEvery     int
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	mc := model.DefaultConfig()
	return &Config{
		NumWorkers:   4,
		ImageWidth:   dataset.DefaultImageSpec.Width,
		ImageHeight:  dataset.DefaultImageSpec.Height,
		HiddenSize:   mc.HiddenSize,
		Classes:      mc.OutputSize,
		LearningRate: mc.LearningRate,
		Activation:   mc.Activation,
		Epochs:       mc.Epochs,
		Seed:         mc.Seed,
		ModelPath:    "model.json",
		LogEvery:     1,
	}
}

// Load reads a Config from YAML on top of Default. Unknown keys are an error.
// An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open config")
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}
	return cfg, nil
}

// ApplyOverrides updates cfg using any non-zero override. Setting one dataset
// source clears the others.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.Manifest != "" || o.DatasetRoot != "" || o.Shard != "" {
		c.Manifest, c.DatasetRoot, c.Shard = o.Manifest, o.DatasetRoot, o.Shard
	}
	if o.NumWorkers > 0 {
		c.NumWorkers = o.NumWorkers
	}
	if o.HiddenSize > 0 {
		c.HiddenSize = o.HiddenSize
	}
	if o.LearningRate > 0 {
		c.LearningRate = o.LearningRate
	}
	if o.Activation != "" {
		c.Activation = o.Activation
	}
	if o.Epochs > 0 {
		c.Epochs = o.Epochs
	}
	if o.Seed != 0 {
		c.Seed = o.Seed
	}
	if o.ModelPath != "" {
		c.ModelPath = o.ModelPath
	}
	if o.Resume {
		c.Resume = true
	}
	if o.LogEvery > 0 {
		c.LogEvery = o.LogEvery
	}
}

// Validate verifies the config is runnable.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	sources := 0
	for _, s := range []string{c.Manifest, c.DatasetRoot, c.Shard} {
		if s != "" {
			sources++
		}
	}
	if sources != 1 {
		return errors.Errorf("exactly one of manifest, dataset_root or shard must be set (got %d)", sources)
	}
	if c.ImageWidth <= 0 || c.ImageHeight <= 0 {
		return errors.Errorf("image size must be > 0 (got %dx%d)", c.ImageWidth, c.ImageHeight)
	}
	if c.HiddenSize <= 0 {
		return errors.Errorf("hidden_size must be > 0 (got %d)", c.HiddenSize)
	}
	if c.Classes <= 0 {
		return errors.Errorf("classes must be > 0 (got %d)", c.Classes)
	}
	if c.LearningRate <= 0 {
		return errors.Errorf("learning_rate must be > 0 (got %v)", c.LearningRate)
	}
	if _, ok := activation.Lookup(c.Activation); !ok {
		return errors.Errorf("activation %q unknown (want one of %v)", c.Activation, activation.Names())
	}
	if c.Epochs <= 0 {
		return errors.Errorf("epochs must be > 0 (got %d)", c.Epochs)
	}
	if c.NumWorkers <= 0 {
		return errors.Errorf("num_workers must be > 0 (got %d)", c.NumWorkers)
	}
	if c.ModelPath == "" {
		return errors.New("model_path must be set")
	}
	if c.LogEvery <= 0 {
		c.LogEvery = 1
	}
	return nil
}

// ImageSpec is the raster size implied by the config.
func (c *Config) ImageSpec() dataset.ImageSpec {
	return dataset.ImageSpec{Width: c.ImageWidth, Height: c.ImageHeight}
}

// ModelConfig maps the config onto the engine hyperparameters.
func (c *Config) ModelConfig() model.Config {
	return model.Config{
		InputSize:    c.ImageSpec().Size(),
		HiddenSize:   c.HiddenSize,
		OutputSize:   c.Classes,
		LearningRate: c.LearningRate,
		Activation:   c.Activation,
		Epochs:       c.Epochs,
		Seed:         c.Seed,
	}
}
