// Package logsetup configures process-wide logging. It is called once at
// process startup, before any component emits log output, and hands back
// the logger.Logger that components should receive by injection.
package logsetup

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	jsonparser "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/spolti/kserve/internal/validation"
	"github.com/spolti/kserve/logger"
)

// Config describes the process-wide logging configuration.
type Config struct {
	Level  string `koanf:"level" validate:"omitempty,oneof=trace debug info warn error fatal panic disabled"`
	Pretty bool   `koanf:"pretty"`
	Output string `koanf:"output" validate:"omitempty,oneof=stderr stdout"`
}

// DefaultConfig returns the built-in logging configuration: info-level
// JSON output to stderr.
func DefaultConfig() *Config {
	return &Config{
		Level:  "info",
		Pretty: false,
		Output: "stderr",
	}
}

var (
	mu      sync.Mutex
	current logger.Logger
)

// Setup configures process-wide logging exactly once and returns the
// resulting logger. Subsequent calls return the already-configured logger
// and ignore their argument. The source argument is one of:
//   - nil: the built-in default configuration is applied;
//   - *Config or Config: applied directly;
//   - map[string]any: applied directly, with defaults for missing keys;
//   - a path ending in ".json": parsed as a JSON config file;
//   - a path ending in ".yaml" or ".yml": parsed as a YAML config file;
//   - any other path string: parsed as a legacy key=value properties file.
func Setup(source any) (logger.Logger, error) {
	mu.Lock()
	defer mu.Unlock()

	if current != nil {
		return current, nil
	}

	cfg, err := resolve(source)
	if err != nil {
		return nil, err
	}
	if err := validation.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid logging configuration: %w", err)
	}

	current = newLogger(cfg)
	return current, nil
}

// Current returns the process logger configured by Setup, or false when
// Setup has not run yet.
func Current() (logger.Logger, bool) {
	mu.Lock()
	defer mu.Unlock()
	return current, current != nil
}

func resolve(source any) (*Config, error) {
	switch src := source.(type) {
	case nil:
		return DefaultConfig(), nil
	case *Config:
		return withDefaults(src), nil
	case Config:
		return withDefaults(&src), nil
	case map[string]any:
		return unmarshalConfig(func(k *koanf.Koanf) error {
			return k.Load(confmap.Provider(src, "."), nil)
		})
	case string:
		return resolvePath(src)
	default:
		return nil, fmt.Errorf("unsupported logging configuration source type %T", source)
	}
}

func resolvePath(path string) (*Config, error) {
	switch {
	case strings.HasSuffix(path, ".json"):
		return unmarshalConfig(func(k *koanf.Koanf) error {
			return k.Load(file.Provider(path), jsonparser.Parser())
		})
	case strings.HasSuffix(path, ".yaml"), strings.HasSuffix(path, ".yml"):
		return unmarshalConfig(func(k *koanf.Koanf) error {
			return k.Load(file.Provider(path), yaml.Parser())
		})
	default:
		values, err := loadProperties(path)
		if err != nil {
			return nil, err
		}
		return unmarshalConfig(func(k *koanf.Koanf) error {
			return k.Load(confmap.Provider(values, "."), nil)
		})
	}
}

// FromBytes parses an in-memory configuration document. Format is "json"
// or "yaml". The result still needs to go through Setup to take effect.
func FromBytes(data []byte, format string) (*Config, error) {
	var parser koanf.Parser
	switch format {
	case "json":
		parser = jsonparser.Parser()
	case "yaml", "yml":
		parser = yaml.Parser()
	default:
		return nil, fmt.Errorf("unsupported logging configuration format %q", format)
	}
	return unmarshalConfig(func(k *koanf.Koanf) error {
		return k.Load(rawbytes.Provider(data), parser)
	})
}

// unmarshalConfig loads defaults, applies the given source over them, and
// unmarshals the result.
func unmarshalConfig(load func(*koanf.Koanf) error) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := k.Load(confmap.Provider(map[string]any{
		"level":  defaults.Level,
		"pretty": defaults.Pretty,
		"output": defaults.Output,
	}, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load logging defaults: %w", err)
	}

	if err := load(k); err != nil {
		return nil, fmt.Errorf("failed to load logging configuration: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal logging configuration: %w", err)
	}
	return &cfg, nil
}

func withDefaults(cfg *Config) *Config {
	out := *cfg
	if out.Level == "" {
		out.Level = DefaultConfig().Level
	}
	if out.Output == "" {
		out.Output = DefaultConfig().Output
	}
	return &out
}

// loadProperties parses a legacy key=value configuration file. Blank
// lines and '#' comments are ignored. No koanf parser covers this format,
// so it is parsed by hand into a confmap source.
func loadProperties(path string) (map[string]any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open logging configuration file: %w", err)
	}
	defer f.Close()
	return parseProperties(f)
}

func parseProperties(r io.Reader) (map[string]any, error) {
	values := make(map[string]any)
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		key, value, found := strings.Cut(text, "=")
		if !found {
			return nil, fmt.Errorf("malformed logging configuration at line %d: %q", line, text)
		}
		key = strings.TrimSpace(key)
		rawValue := strings.TrimSpace(value)
		if key == "pretty" {
			values[key] = rawValue == "true"
			continue
		}
		values[key] = rawValue
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read logging configuration file: %w", err)
	}
	return values, nil
}

func newLogger(cfg *Config) logger.Logger {
	var out io.Writer = os.Stderr
	if cfg.Output == "stdout" {
		out = os.Stdout
	}
	return logger.NewWithOutput(cfg.Level, cfg.Pretty, out)
}

// reset clears the configured logger. Tests only.
func reset() {
	mu.Lock()
	defer mu.Unlock()
	current = nil
}
