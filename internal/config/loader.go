package config

import (
	"fmt"
	"net"
	"os"
	"regexp"
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

// ConfigFileName is the name of the config file.
const ConfigFileName = "fluxgate.yaml"

// ConfigFileNameAlt is the alternate name of the config file.
const ConfigFileNameAlt = "fluxgate.yml"

// Package-level koanf instance and config file tracking
var (
	k              = koanf.New(".")
	configFileUsed string
	currentConfig  *Config // last loaded config, for access by commands
)

// findConfigFile finds the config file to use.
// Priority: explicit path > fluxgate.yaml > fluxgate.yml
func findConfigFile(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if _, err := os.Stat(ConfigFileName); err == nil {
		return ConfigFileName
	}
	if _, err := os.Stat(ConfigFileNameAlt); err == nil {
		return ConfigFileNameAlt
	}
	return ""
}

// ResetConfig resets the koanf instance. Used for testing.
func ResetConfig() {
	k = koanf.New(".")
	configFileUsed = ""
	currentConfig = nil
}

// Load loads configuration from file, environment variables, and flags.
// Precedence (highest to lowest): flags > env vars > config file > defaults
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	// Reset koanf for fresh load
	k = koanf.New(".")

	// 1. Load defaults
	if err := k.Load(confmap.Provider(map[string]interface{}{
		"listen":         DefaultListen,
		"solver_host":    DefaultSolverHost,
		"solver_port":    DefaultSolverPort,
		"solver_timeout": "0s",
		"store.type":     DefaultStoreType,
		"store.path":     DefaultStorePath,
		"users_db":       DefaultUsersDB,
		"auth_enabled":   true,
		"shutdown_grace": DefaultShutdownGrace.String(),
		"verbose":        false,
	}, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Load config file, if one exists
	configFileUsed = findConfigFile(cfgFile)
	if configFileUsed != "" {
		if err := k.Load(file.Provider(configFileUsed), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", configFileUsed, err)
		}
	}

	// 3. Load environment variables (FLUXGATE_ prefix)
	// Transform: FLUXGATE_SOLVER_HOST -> solver_host, and
	// FLUXGATE_STORE_PASSWORD -> store.password for the nested section.
	if err := k.Load(env.Provider("FLUXGATE_", ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, "FLUXGATE_"))
		if after, ok := strings.CutPrefix(key, "store_"); ok {
			return "store." + after
		}
		return key
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Load flags (highest priority - overrides env vars and config file)
	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			// Only load flags that were explicitly set
			if !f.Changed {
				return "", nil
			}
			// Transform kebab-case to snake_case for config keys
			key := strings.ReplaceAll(f.Name, "-", "_")

			switch key {
			case "config":
				// Consumed before loading; not a config key.
				return "", nil
			case "data_db":
				// The CLI flag names the persistence file, which lives
				// in the nested store section.
				return "store.path", posflag.FlagVal(flags, f)
			case "auth":
				return "auth_enabled", posflag.FlagVal(flags, f)
			}

			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	// 5. Unmarshal into Config struct
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	// 6. A combined solver_addr (from --solver-addr or env) expands into
	// the two solver keys.
	if addr := k.String("solver_addr"); addr != "" {
		host, portStr, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, fmt.Errorf("invalid solver address %q: %w", addr, err)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("invalid solver port %q: %w", portStr, err)
		}
		cfg.SolverHost = host
		cfg.SolverPort = port
	}

	// 7. Apply type-specific store defaults and expand ${VAR} references
	// in credential fields
	ApplyStoreDefaults(cfg.Store)
	expandStoreEnvVars(cfg.Store)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	currentConfig = &cfg

	return &cfg, nil
}

// ConfigFileUsed returns the path to the config file being used, if any.
func ConfigFileUsed() string {
	return configFileUsed
}

// CurrentConfig returns the configuration loaded by the most recent
// Load call, or nil before any load.
func CurrentConfig() *Config {
	return currentConfig
}

// expandEnvVars expands ${VAR} patterns in a string with environment
// variable values.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val := os.Getenv(varName); val != "" {
			return val
		}
		return match // Return original if not found
	})
}

// expandStoreEnvVars expands environment variables in sensitive store
// fields.
func expandStoreEnvVars(s *StoreConfig) {
	if s == nil {
		return
	}
	s.Password = expandEnvVars(s.Password)
	s.Username = expandEnvVars(s.Username)
	s.Host = expandEnvVars(s.Host)
	s.Database = expandEnvVars(s.Database)
	s.Path = expandEnvVars(s.Path)
}
