package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// configKey is a setting read by one of the commands.
type configKey struct {
	name  string
	usage string
	// parse converts a command-line value to the stored form.
	parse func(string) (any, error)
}

var configKeys = []configKey{
	{"format.min_bin_width", "narrowest span the tree subdivides", positiveInt},
	{"format.check_interval", "features between cancellation checks", positiveInt},
	{"format.tmp_dir", "directory for spool and build files", anyString},
	{"cache.path", "DuckDB file caching node tables for queries", anyString},
	{"log.level", "debug, info, warn or error", logLevel},
}

func lookupConfigKey(name string) (configKey, bool) {
	for _, k := range configKeys {
		if k.name == name {
			return k, true
		}
	}
	return configKey{}, false
}

func positiveInt(s string) (any, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return nil, fmt.Errorf("want a positive integer, got %q", s)
	}
	return n, nil
}

func anyString(s string) (any, error) {
	return s, nil
}

func logLevel(s string) (any, error) {
	if _, err := zapcore.ParseLevel(s); err != nil {
		return nil, err
	}
	return s, nil
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage genomeidx configuration",
		Long:  "Show, get, or set configuration values. Config is stored in ~/.genomeidx.yaml.",
		Example: `  genomeidx config                              # show settings and known keys
  genomeidx config set format.min_bin_width 4096  # coarser leaf nodes
  genomeidx config set cache.path ~/.genomeidx/cache.duckdb
  genomeidx config get format.min_bin_width       # get a value`,
		Args: withUsage(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow(os.Stdout)
		},
	}

	cmd.AddCommand(newConfigSetCmd())
	cmd.AddCommand(newConfigGetCmd())

	return cmd
}

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Args:  withUsage(cobra.ExactArgs(2)),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigSet(os.Stdout, args[0], args[1])
		},
	}
}

func newConfigGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Get a configuration value",
		Args:  withUsage(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigGet(os.Stdout, args[0])
		},
	}
}

// runConfigShow prints the settings in effect as YAML, then the keys the
// commands read.
func runConfigShow(w io.Writer) error {
	settings := viper.AllSettings()
	if len(settings) == 0 {
		fmt.Fprintln(w, "# No configuration set. Config file: ~/.genomeidx.yaml")
	} else {
		out, err := yaml.Marshal(settings)
		if err != nil {
			return fmt.Errorf("marshaling config: %w", err)
		}
		fmt.Fprint(w, string(out))
	}

	fmt.Fprintln(w, "\n# Known keys:")
	for _, k := range configKeys {
		fmt.Fprintf(w, "#   %-22s %s\n", k.name, k.usage)
	}
	return nil
}

func runConfigSet(w io.Writer, key, value string) error {
	k, ok := lookupConfigKey(key)
	if !ok {
		return usageErrorf("unknown config key %q (run 'genomeidx config' to list keys)", key)
	}
	v, err := k.parse(value)
	if err != nil {
		return usageErrorf("invalid value for %s: %v", key, err)
	}
	viper.Set(key, v)

	cfgFile := viper.ConfigFileUsed()
	if cfgFile == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("cannot determine home directory: %w", err)
		}
		cfgFile = filepath.Join(home, ".genomeidx.yaml")
	}

	if err := viper.WriteConfigAs(cfgFile); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	fmt.Fprintf(w, "Set %s = %v in %s\n", key, v, cfgFile)
	return nil
}

func runConfigGet(w io.Writer, key string) error {
	if _, ok := lookupConfigKey(key); !ok {
		return usageErrorf("unknown config key %q", key)
	}
	val := viper.Get(key)
	if val == nil {
		return fmt.Errorf("key %q is not set", key)
	}
	fmt.Fprintln(w, val)
	return nil
}
