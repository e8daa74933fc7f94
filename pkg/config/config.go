package config

import (
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"os/user"
	"path"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/go-delve/bpengine/pkg/breakpoint"
	"github.com/go-delve/bpengine/pkg/target"
)

const (
	configDir  string = ".bpengine"
	configFile string = "config.yml"
)

// Config defines all configuration options available to be set through the config file.
type Config struct {
	// EvalTimeout is how long a breakpoint condition may run before the
	// evaluator gives up and reports a runtime error.
	EvalTimeout string `yaml:"eval-timeout,omitempty"`
	// EvalTick is the interval at which a running evaluation reports that it
	// is still pending.
	EvalTick string `yaml:"eval-tick,omitempty"`

	// ConditionCacheSize bounds the number of compiled conditions kept
	// across all breakpoints and targets.
	ConditionCacheSize *int `yaml:"condition-cache-size,omitempty"`

	// NestedTypeSearch enables the search of local and anonymous types when
	// a line breakpoint can not be installed in its declared type.
	NestedTypeSearch *bool `yaml:"nested-type-search,omitempty"`

	// DefaultSuspendPolicy is "thread" or "all".
	DefaultSuspendPolicy string `yaml:"default-suspend-policy,omitempty"`

	// SuspendOnConditionError makes a breakpoint suspend when its condition
	// fails to evaluate.
	SuspendOnConditionError *bool `yaml:"suspend-on-condition-error,omitempty"`
}

// EngineConfig converts c into the configuration of a breakpoint engine.
// Missing or malformed values fall back to breakpoint.DefaultConfig.
func (c *Config) EngineConfig() (*breakpoint.Config, error) {
	ec := breakpoint.DefaultConfig()
	if c == nil {
		return ec, nil
	}
	var err error
	if c.EvalTimeout != "" {
		if ec.EvalTimeout, err = time.ParseDuration(c.EvalTimeout); err != nil {
			return nil, fmt.Errorf("eval-timeout: %v", err)
		}
	}
	if c.EvalTick != "" {
		if ec.EvalTick, err = time.ParseDuration(c.EvalTick); err != nil {
			return nil, fmt.Errorf("eval-tick: %v", err)
		}
	}
	if c.ConditionCacheSize != nil {
		if *c.ConditionCacheSize <= 0 {
			return nil, fmt.Errorf("condition-cache-size must be positive")
		}
		ec.ConditionCacheSize = *c.ConditionCacheSize
	}
	if c.NestedTypeSearch != nil {
		ec.NestedTypeSearch = *c.NestedTypeSearch
	}
	if c.DefaultSuspendPolicy != "" {
		if ec.DefaultSuspendPolicy, err = target.ParseSuspendPolicy(c.DefaultSuspendPolicy); err != nil {
			return nil, err
		}
	}
	if c.SuspendOnConditionError != nil {
		ec.SuspendOnConditionError = *c.SuspendOnConditionError
	}
	return ec, nil
}

// LoadConfig attempts to populate a Config object from the config.yml file.
func LoadConfig() *Config {
	err := createConfigPath()
	if err != nil {
		fmt.Printf("Could not create config directory: %v.", err)
		return &Config{}
	}
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		fmt.Printf("Unable to get config file path: %v.", err)
		return &Config{}
	}

	f, err := os.Open(fullConfigFile)
	if err != nil {
		f, err = createDefaultConfig(fullConfigFile)
		if err != nil {
			fmt.Printf("Error creating default config file: %v", err)
			return &Config{}
		}
	}
	defer func() {
		err := f.Close()
		if err != nil {
			fmt.Printf("Closing config file failed: %v.", err)
		}
	}()

	data, err := ioutil.ReadAll(f)
	if err != nil {
		fmt.Printf("Unable to read config data: %v.", err)
		return &Config{}
	}

	c, err := Parse(data)
	if err != nil {
		fmt.Printf("Unable to decode config file: %v.", err)
		return &Config{}
	}
	return c
}

// Parse decodes a configuration file.
func Parse(data []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// SaveConfig will marshal and save the config struct
// to disk.
func SaveConfig(conf *Config) error {
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		return err
	}

	out, err := yaml.Marshal(*conf)
	if err != nil {
		return err
	}

	f, err := os.Create(fullConfigFile)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(out)
	return err
}

func createDefaultConfig(path string) (*os.File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("unable to create config file: %v", err)
	}
	err = writeDefaultConfig(f)
	if err != nil {
		return nil, fmt.Errorf("unable to write default configuration: %v", err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		return nil, err
	}
	return f, nil
}

func writeDefaultConfig(w io.Writer) error {
	_, err := io.WriteString(w,
		`# Configuration file for the breakpoint engine.

# This is the default configuration file. Available options are provided, but disabled.
# Delete the leading hash mark to enable an item.

# How long a breakpoint condition may run before it is reported as failed.
# eval-timeout: 5s

# How often a running condition reports that it is still pending.
# eval-tick: 500ms

# Maximum number of compiled breakpoint conditions kept in memory.
# condition-cache-size: 256

# Search local and anonymous types when a line breakpoint can not be
# installed in the type it names.
# nested-type-search: true

# Suspend policy of new breakpoints, "thread" or "all".
# default-suspend-policy: thread

# Suspend when a breakpoint condition fails to compile or evaluate.
# suspend-on-condition-error: true
`)
	return err
}

// createConfigPath creates the directory structure at which all config files are saved.
func createConfigPath() error {
	path, err := GetConfigFilePath("")
	if err != nil {
		return err
	}
	return os.MkdirAll(path, 0700)
}

// GetConfigFilePath gets the full path to the given config file name.
func GetConfigFilePath(file string) (string, error) {
	userHomeDir := "."
	usr, err := user.Current()
	if err == nil {
		userHomeDir = usr.HomeDir
	}
	return path.Join(userHomeDir, configDir, file), nil
}
