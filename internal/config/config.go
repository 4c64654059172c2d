// Package config loads the export configuration and the credentials file.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/Sternrassler/storage-files-export/pkg/export"
	"github.com/Sternrassler/storage-files-export/pkg/logging"
	"github.com/Sternrassler/storage-files-export/pkg/pagination"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// DefaultTarget is the files listing of the EU Central storage stack.
const DefaultTarget = "https://connection.eu-central-1.keboola.com/v2/storage/files"

// Config is the complete export configuration.
type Config struct {
	Target      string `yaml:"target" validate:"required,url"`
	PageSize    int    `yaml:"page_size" validate:"gte=0"`
	Separator   string `yaml:"separator" validate:"len=1"`
	Output      string `yaml:"output" validate:"required"`
	Credentials string `yaml:"credentials" validate:"required"`

	// HTTP
	Insecure          bool          `yaml:"insecure"`
	Silent            bool          `yaml:"silent"`
	Timeout           time.Duration `yaml:"timeout" validate:"gt=0"`
	RequestsPerSecond float64       `yaml:"requests_per_second" validate:"gte=0"`
	UserAgent         string        `yaml:"user_agent" validate:"required"`

	Redis    RedisConfig   `yaml:"redis"`
	CacheTTL time.Duration `yaml:"cache_ttl" validate:"gte=0"`

	PushGateway string `yaml:"push_gateway" validate:"omitempty,url"`

	Log logging.Config `yaml:"log"`
}

// RedisConfig enables the page cache when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr" validate:"omitempty,hostname_port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db" validate:"gte=0"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Target:      DefaultTarget,
		PageSize:    pagination.DefaultPageSize,
		Separator:   export.DefaultSeparator,
		Output:      export.DefaultFilename,
		Credentials: DefaultCredentialsFile,
		Silent:      true,
		Timeout:     30 * time.Second,
		UserAgent:   "storage-files-export/0.1.0",
		CacheTTL:    5 * time.Minute,
		Log:         logging.DefaultConfig(),
	}
}

// Load reads a YAML file over the defaults. Keys missing from the file keep
// their default values.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	return cfg, nil
}

var validate = validator.New()

// Validate checks the configuration and reports every invalid field.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]error, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Errorf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return fmt.Errorf("invalid config: %w", errors.Join(msgs...))
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	if _, err := export.ParseSeparator(c.Separator); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	return nil
}
