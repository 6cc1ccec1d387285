package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultEnvPrefix prefixes every environment variable the loader reads.
const DefaultEnvPrefix = "SDISPATCH_"

// Loader builds a Config from its sources.
type Loader struct {
	yamlFile  string
	dotEnv    string
	envPrefix string
	lookupEnv func(string) (string, bool)
}

// NewLoader creates a loader that reads only defaults and the process environment.
func NewLoader() *Loader {
	return &Loader{
		envPrefix: DefaultEnvPrefix,
		lookupEnv: os.LookupEnv,
	}
}

// WithYAMLFile sets the YAML file. A missing file is skipped.
func (l *Loader) WithYAMLFile(path string) *Loader {
	l.yamlFile = path
	return l
}

// WithDotEnv sets the .env file. A missing file is skipped.
// Variables already present in the process environment take precedence.
func (l *Loader) WithDotEnv(path string) *Loader {
	l.dotEnv = path
	return l
}

// WithEnvPrefix sets the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// Load returns the validated configuration.
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	if l.yamlFile != "" {
		if err := l.loadYAML(cfg); err != nil {
			return nil, fmt.Errorf("loading %s: %w", l.yamlFile, err)
		}
	}

	lookup := l.lookupEnv
	if l.dotEnv != "" {
		vars, err := godotenv.Read(l.dotEnv)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading %s: %w", l.dotEnv, err)
		}
		lookup = func(name string) (string, bool) {
			if v, ok := l.lookupEnv(name); ok {
				return v, true
			}
			v, ok := vars[name]
			return v, ok
		}
	}

	if err := loadStruct(reflect.ValueOf(cfg).Elem(), l.envPrefix, lookup); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Load is shorthand for NewLoader().WithYAMLFile(path).WithDotEnv(".env").Load().
func Load(path string) (*Config, error) {
	return NewLoader().WithYAMLFile(path).WithDotEnv(".env").Load()
}

func (l *Loader) loadYAML(cfg *Config) error {
	data, err := os.ReadFile(l.yamlFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

var durationType = reflect.TypeFor[time.Duration]()

// loadStruct walks v's env-tagged fields; nested structs extend the prefix with their tag.
func loadStruct(v reflect.Value, prefix string, lookup func(string) (string, bool)) error {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		tag := t.Field(i).Tag.Get("env")
		if tag == "" {
			continue
		}
		name := prefix + tag

		if field.Kind() == reflect.Struct {
			if err := loadStruct(field, name+"_", lookup); err != nil {
				return err
			}
			continue
		}

		value, ok := lookup(name)
		if !ok || value == "" {
			continue
		}
		if err := setField(field, value); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

func setField(field reflect.Value, value string) error {
	if field.Type() == durationType {
		d, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int64:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(n)
	case reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type %s", field.Type())
		}
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		field.Set(reflect.ValueOf(parts))
	default:
		return fmt.Errorf("unsupported field type %s", field.Kind())
	}
	return nil
}
