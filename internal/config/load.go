package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// EnvPrefix prefixes environment overrides. A double underscore separates
// nesting levels: SMARTETL_STORAGE__DSN sets storage.dsn.
const EnvPrefix = "SMARTETL_"

// FlagKeys maps CLI flag names to config keys. Flags not listed here are
// not config (for example --config or --verbose) and are ignored by Load.
var FlagKeys = map[string]string{
	"job":             "job",
	"data-type":       "data_type",
	"source":          "source.location",
	"parser":          "parser.kind",
	"mapping":         "mapping.file",
	"profile-dir":     "mapping.profile_dir",
	"date-column":     "mapping.date_column",
	"oracle":          "mapping.use_oracle",
	"oracle-model":    "oracle.model",
	"storage":         "storage.kind",
	"dsn":             "storage.dsn",
	"table":           "storage.table",
	"out-dir":         "storage.dir",
	"auto-create":     "storage.auto_create",
	"batch-size":      "runtime.batch_size",
	"progress-every":  "runtime.progress_every",
	"metrics-backend": "metrics.backend",
	"pushgateway-url": "metrics.pushgateway_url",
	"datadog-addr":    "metrics.datadog_addr",
	"addr":            "server.addr",
}

// Load builds a Pipeline from, lowest precedence first: Defaults, the file
// at path (skipped when empty), SMARTETL_* environment variables, and the
// flags in fs that were explicitly set.
func Load(path string, fs *pflag.FlagSet) (*Pipeline, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(Defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	if fs != nil {
		if err := k.Load(posflag.ProviderWithFlag(fs, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := FlagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(fs, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("load flags: %w", err)
		}
	}

	var p Pipeline
	if err := k.Unmarshal("", &p); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if p.Parser.Options == nil {
		p.Parser.Options = Options{}
	}
	if p.Oracle.APIKey == "" {
		p.Oracle.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	return &p, nil
}

// envKey turns SMARTETL_STORAGE__AUTO_CREATE into storage.auto_create.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// getenvInt reads an int from the environment, returning def when unset or
// invalid.
func getenvInt(k string, def int) int {
	if s := os.Getenv(k); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return def
}

// pickInt chooses a when it is positive, otherwise b.
func pickInt(a, b int) int {
	if a > 0 {
		return a
	}
	return b
}

// Resolved returns r with zero knobs filled from SMARTETL_BATCH_SIZE,
// SMARTETL_PROGRESS_EVERY and SMARTETL_CH_BUFFER, then built-in defaults.
func (r RuntimeConfig) Resolved() RuntimeConfig {
	return RuntimeConfig{
		BatchSize:     pickInt(r.BatchSize, getenvInt("SMARTETL_BATCH_SIZE", 2000)),
		ProgressEvery: pickInt(r.ProgressEvery, getenvInt("SMARTETL_PROGRESS_EVERY", 50_000)),
		ChannelBuffer: pickInt(r.ChannelBuffer, getenvInt("SMARTETL_CH_BUFFER", 64)),
	}
}
