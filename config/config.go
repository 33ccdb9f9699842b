// Package config loads the service configuration from config.yaml, a .env
// file and CROPREC_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"

	"croprec/pipeline"
)

const envPrefix = "CROPREC_"

type Config struct {
	HTTP      HTTPConfig            `yaml:"http"`
	Artifacts ArtifactsConfig       `yaml:"artifacts"`
	Images    ImagesConfig          `yaml:"images"`
	Database  DatabaseConfig        `yaml:"database"`
	Cache     CacheConfig           `yaml:"cache"`
	MQTT      MQTTConfig            `yaml:"mqtt"`
	Log       LogConfig             `yaml:"log"`
	Fields    map[string]FieldRange `yaml:"fields"`
}

type HTTPConfig struct {
	Port           int           `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxBodyBytes   int64         `yaml:"max_body_bytes"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

// ArtifactsConfig locates the exported model files. Features, when set,
// declares the column order the scaler and classifier were fit on.
type ArtifactsConfig struct {
	Dir          string   `yaml:"dir"`
	Model        string   `yaml:"model"`
	ModelType    string   `yaml:"model_type"`
	Scaler       string   `yaml:"scaler"`
	LabelEncoder string   `yaml:"label_encoder"`
	Features     []string `yaml:"features"`
}

type ImagesConfig struct {
	Dir   string `yaml:"dir"`
	Watch bool   `yaml:"watch"`
}

// DatabaseConfig points at the history database; an empty path disables
// history.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type CacheConfig struct {
	Size int `yaml:"size"`
}

// MQTTConfig enables the sensor bridge when Broker is set.
type MQTTConfig struct {
	Broker        string        `yaml:"broker"`
	ClientID      string        `yaml:"client_id"`
	Username      string        `yaml:"username"`
	Password      string        `yaml:"password"`
	ReadingsTopic string        `yaml:"readings_topic"`
	ReplyTopic    string        `yaml:"reply_topic"`
	QoS           int           `yaml:"qos"`
	Timeout       time.Duration `yaml:"timeout"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// FieldRange overrides the form range of one reading. Nil members keep the
// built-in value.
type FieldRange struct {
	Min     *float64 `yaml:"min"`
	Max     *float64 `yaml:"max"`
	Default *float64 `yaml:"default"`
}

func Default() *Config {
	files := pipeline.DefaultArtifactFiles()
	return &Config{
		HTTP: HTTPConfig{
			Port:           8080,
			ReadTimeout:    15 * time.Second,
			WriteTimeout:   15 * time.Second,
			RequestTimeout: 10 * time.Second,
			MaxBodyBytes:   1 << 20,
		},
		Artifacts: ArtifactsConfig{
			Dir:          files.Dir,
			Model:        files.Model,
			Scaler:       files.Scaler,
			LabelEncoder: files.LabelEncoder,
		},
		Images:   ImagesConfig{Dir: "images", Watch: true},
		Database: DatabaseConfig{Path: "data/history.db"},
		Cache:    CacheConfig{Size: 1024},
		MQTT: MQTTConfig{
			ClientID:      "croprec",
			ReadingsTopic: "crop/+/readings",
			ReplyTopic:    "crop/{device_id}/recommendation",
			QoS:           1,
			Timeout:       5 * time.Second,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
	}
}

// Load reads path over the defaults, then applies .env files and the
// environment. A missing config file or .env file is not an error.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.UnmarshalStrict(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := loadEnvFiles(envFiles); err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadEnvFiles(files []string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load env file %s: %w", f, err)
		}
	}
	return nil
}

func (c *Config) applyEnv() error {
	var errs []error
	setString(&c.Artifacts.Dir, "ARTIFACTS_DIR")
	setString(&c.Artifacts.ModelType, "MODEL_TYPE")
	setString(&c.Images.Dir, "IMAGES_DIR")
	setString(&c.Database.Path, "DB_PATH")
	setString(&c.MQTT.Broker, "MQTT_BROKER")
	setString(&c.MQTT.ClientID, "MQTT_CLIENT_ID")
	setString(&c.MQTT.Username, "MQTT_USERNAME")
	setString(&c.MQTT.Password, "MQTT_PASSWORD")
	setString(&c.Log.Level, "LOG_LEVEL")
	setString(&c.Log.Format, "LOG_FORMAT")
	setString(&c.Log.File, "LOG_FILE")
	if v, ok := lookup("FEATURES"); ok {
		c.Artifacts.Features = splitList(v)
	}
	if v, ok := lookup("ALLOWED_ORIGINS"); ok {
		c.HTTP.AllowedOrigins = splitList(v)
	}
	errs = append(errs, setInt(&c.HTTP.Port, "HTTP_PORT"))
	errs = append(errs, setInt(&c.Cache.Size, "CACHE_SIZE"))
	errs = append(errs, setDuration(&c.HTTP.RequestTimeout, "REQUEST_TIMEOUT"))
	errs = append(errs, setBool(&c.Images.Watch, "IMAGES_WATCH"))
	return errors.Join(errs...)
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
		errs = append(errs, fmt.Errorf("http.port %d out of range", c.HTTP.Port))
	}
	if c.Cache.Size < 0 {
		errs = append(errs, errors.New("cache.size must not be negative"))
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, errors.New("mqtt.qos must be 0, 1 or 2"))
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be json or console", c.Log.Format))
	}
	if _, err := c.Contract(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.FormFields(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (c *Config) ArtifactFiles() pipeline.ArtifactFiles {
	return pipeline.ArtifactFiles{
		Dir:          c.Artifacts.Dir,
		Model:        c.Artifacts.Model,
		ModelType:    c.Artifacts.ModelType,
		Scaler:       c.Artifacts.Scaler,
		LabelEncoder: c.Artifacts.LabelEncoder,
	}
}

// Contract is the declared feature order, or nil to use the default.
func (c *Config) Contract() (pipeline.FeatureContract, error) {
	if len(c.Artifacts.Features) == 0 {
		return nil, nil
	}
	contract, err := pipeline.ParseContract(c.Artifacts.Features)
	if err != nil {
		return nil, fmt.Errorf("artifacts.features: %w", err)
	}
	return contract, nil
}

// FormFields applies the configured range overrides to the default form.
func (c *Config) FormFields() ([]pipeline.FieldSpec, error) {
	fields := pipeline.DefaultFields()
	index := make(map[pipeline.Feature]int, len(fields))
	for i, f := range fields {
		index[f.Feature] = i
	}
	for name, override := range c.Fields {
		feature, err := pipeline.ParseFeature(name)
		if err != nil {
			return nil, fmt.Errorf("fields.%s: %w", name, err)
		}
		f := &fields[index[feature]]
		if override.Min != nil {
			f.Min = *override.Min
		}
		if override.Max != nil {
			f.Max = *override.Max
		}
		if override.Default != nil {
			f.Default = *override.Default
		}
		if f.Min > f.Max {
			return nil, fmt.Errorf("fields.%s: min %g above max %g", name, f.Min, f.Max)
		}
		if f.Default < f.Min || f.Default > f.Max {
			return nil, fmt.Errorf("fields.%s: default %g outside [%g, %g]", name, f.Default, f.Min, f.Max)
		}
	}
	return fields, nil
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(envPrefix + key)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func setString(dst *string, key string) {
	if v, ok := lookup(key); ok {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v, ok := lookup(key)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s%s: %w", envPrefix, key, err)
	}
	*dst = n
	return nil
}

func setBool(dst *bool, key string) error {
	v, ok := lookup(key)
	if !ok {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s%s: %w", envPrefix, key, err)
	}
	*dst = b
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v, ok := lookup(key)
	if !ok {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s%s: %w", envPrefix, key, err)
	}
	*dst = d
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
